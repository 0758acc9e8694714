package service_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"knightshade/internal/submission/judge"
	"knightshade/internal/submission/repository"
	"knightshade/internal/submission/service"
	pkgerrors "knightshade/pkg/errors"
)

func newSubmissionTestDeps(t *testing.T) (*fakeJudgeClient, *fakeSubmissionRepo, *service.SubmissionService) {
	t.Helper()
	judgeClient := &fakeJudgeClient{}
	repo := newFakeSubmissionRepo()
	reconciler := service.NewReconciler(judgeClient, repo, service.ReconcilerConfig{
		PollInterval: 10 * time.Millisecond,
		PollDeadline: time.Minute,
	})
	t.Cleanup(func() { _ = reconciler.Shutdown(context.Background()) })
	return judgeClient, repo, service.NewSubmissionService(repo, judgeClient, reconciler)
}

func TestSubmitCreatesProcessingRow(t *testing.T) {
	judgeClient, repo, svc := newSubmissionTestDeps(t)

	submission, err := svc.Submit(context.Background(), 7, &service.SubmitRequest{
		SourceCode: "print(1)",
		LanguageID: judge.LanguagePython,
		Stdin:      "5",
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if submission.ID == "" {
		t.Fatalf("expected generated submission id")
	}
	if submission.StatusID != judge.StatusProcessing {
		t.Fatalf("expected processing status, got %d", submission.StatusID)
	}
	if submission.JobToken != "job-token" {
		t.Fatalf("unexpected job token: %s", submission.JobToken)
	}
	if len(judgeClient.enqueued) != 1 {
		t.Fatalf("expected one enqueue call")
	}

	stored, err := repo.GetByID(context.Background(), nil, submission.ID)
	if err != nil {
		t.Fatalf("row not persisted: %v", err)
	}
	if stored.UserID != 7 {
		t.Fatalf("unexpected owner: %d", stored.UserID)
	}
}

func TestSubmitForwardsResourceLimits(t *testing.T) {
	judgeClient, _, svc := newSubmissionTestDeps(t)

	_, err := svc.Submit(context.Background(), 7, &service.SubmitRequest{
		SourceCode:  "print(1)",
		LanguageID:  judge.LanguagePython,
		TimeLimit:   2.5,
		MemoryLimit: 128000,
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if len(judgeClient.enqueued) != 1 {
		t.Fatalf("expected one enqueue call")
	}
	enqueued := judgeClient.enqueued[0]
	if enqueued.CPUTimeLimit != 2.5 {
		t.Fatalf("unexpected cpu time limit: %v", enqueued.CPUTimeLimit)
	}
	if enqueued.MemoryLimit != 128000 {
		t.Fatalf("unexpected memory limit: %d", enqueued.MemoryLimit)
	}
	if !enqueued.RedirectStderrToStdout {
		t.Fatalf("expected stderr redirected to stdout")
	}
}

func TestSubmitValidation(t *testing.T) {
	_, repo, svc := newSubmissionTestDeps(t)

	cases := []struct {
		name string
		req  *service.SubmitRequest
		code pkgerrors.ErrorCode
	}{
		{"empty source", &service.SubmitRequest{SourceCode: "   \n\t", LanguageID: judge.LanguagePython}, pkgerrors.SourceCodeEmpty},
		{"oversized source", &service.SubmitRequest{SourceCode: strings.Repeat("a", 64*1024+1), LanguageID: judge.LanguagePython}, pkgerrors.SourceCodeTooLarge},
		{"unsupported language", &service.SubmitRequest{SourceCode: "print(1)", LanguageID: 99}, pkgerrors.LanguageNotSupported},
		{"negative time limit", &service.SubmitRequest{SourceCode: "print(1)", LanguageID: judge.LanguagePython, TimeLimit: -1}, pkgerrors.InvalidParams},
		{"negative memory limit", &service.SubmitRequest{SourceCode: "print(1)", LanguageID: judge.LanguagePython, MemoryLimit: -1}, pkgerrors.InvalidParams},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Submit(context.Background(), 1, tc.req)
			if err == nil {
				t.Fatalf("expected error")
			}
			if !pkgerrors.Is(err, tc.code) {
				t.Fatalf("unexpected error code: %v", pkgerrors.GetCode(err))
			}
		})
	}
	if len(repo.rows) != 0 {
		t.Fatalf("invalid requests must not create rows")
	}
}

func TestSubmitEnqueueFailureLeavesNoRow(t *testing.T) {
	judgeClient, repo, svc := newSubmissionTestDeps(t)
	judgeClient.enqueueErr = pkgerrors.New(pkgerrors.JudgeUnavailable)

	_, err := svc.Submit(context.Background(), 1, &service.SubmitRequest{
		SourceCode: "print(1)",
		LanguageID: judge.LanguagePython,
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !pkgerrors.Is(err, pkgerrors.JudgeUnavailable) {
		t.Fatalf("unexpected error code: %v", pkgerrors.GetCode(err))
	}
	if len(repo.rows) != 0 {
		t.Fatalf("enqueue failure must not persist a row")
	}
}

func TestSubmitCreateFailure(t *testing.T) {
	_, repo, svc := newSubmissionTestDeps(t)
	repo.createErr = pkgerrors.New(pkgerrors.DatabaseError)

	_, err := svc.Submit(context.Background(), 1, &service.SubmitRequest{
		SourceCode: "print(1)",
		LanguageID: judge.LanguagePython,
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !pkgerrors.Is(err, pkgerrors.SubmissionCreateFailed) {
		t.Fatalf("unexpected error code: %v", pkgerrors.GetCode(err))
	}
}

func TestGetSubmissionOwnership(t *testing.T) {
	_, repo, svc := newSubmissionTestDeps(t)
	repo.rows["sub-1"] = &repository.Submission{ID: "sub-1", UserID: 7, StatusID: judge.StatusAccepted}

	got, err := svc.GetSubmission(context.Background(), 7, "sub-1")
	if err != nil {
		t.Fatalf("owner lookup failed: %v", err)
	}
	if got.ID != "sub-1" {
		t.Fatalf("unexpected submission: %s", got.ID)
	}

	_, err = svc.GetSubmission(context.Background(), 8, "sub-1")
	if !pkgerrors.Is(err, pkgerrors.SubmissionNotFound) {
		t.Fatalf("foreign rows must look like missing rows, got %v", err)
	}

	_, err = svc.GetSubmission(context.Background(), 7, "missing")
	if !pkgerrors.Is(err, pkgerrors.SubmissionNotFound) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestListSubmissionsClampsPaging(t *testing.T) {
	_, repo, svc := newSubmissionTestDeps(t)
	for i := 0; i < 3; i++ {
		id := string(rune('a' + i))
		repo.rows[id] = &repository.Submission{ID: id, UserID: 7, StatusID: judge.StatusAccepted}
	}

	items, total, err := svc.ListSubmissions(context.Background(), 7, 0, -5)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if total != 3 {
		t.Fatalf("unexpected total: %d", total)
	}
	if len(items) != 3 {
		t.Fatalf("unexpected page size: %d", len(items))
	}

	items, total, err = svc.ListSubmissions(context.Background(), 99, 1, 20)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if total != 0 || len(items) != 0 {
		t.Fatalf("expected empty result for unknown user")
	}
}

func TestAnalyticsAggregatesLanguagesAndVerdicts(t *testing.T) {
	_, repo, svc := newSubmissionTestDeps(t)
	seed := []*repository.Submission{
		{ID: "a", UserID: 1, LanguageID: judge.LanguagePython, StatusID: judge.StatusAccepted, StatusDesc: "Accepted"},
		{ID: "b", UserID: 2, LanguageID: judge.LanguagePython, StatusID: judge.StatusWrongAnswer, StatusDesc: "Wrong Answer"},
		{ID: "c", UserID: 1, LanguageID: judge.LanguageCPP, StatusID: judge.StatusAccepted, StatusDesc: "Accepted"},
	}
	for _, row := range seed {
		repo.rows[row.ID] = row
	}

	report, err := svc.Analytics(context.Background())
	if err != nil {
		t.Fatalf("analytics failed: %v", err)
	}
	if len(report.ByLanguage) != 2 {
		t.Fatalf("unexpected language buckets: %d", len(report.ByLanguage))
	}
	if report.ByLanguage[0].LanguageID != judge.LanguageCPP || report.ByLanguage[0].Count != 1 {
		t.Fatalf("unexpected first language bucket: %+v", report.ByLanguage[0])
	}
	if report.ByLanguage[1].LanguageID != judge.LanguagePython || report.ByLanguage[1].Count != 2 {
		t.Fatalf("unexpected second language bucket: %+v", report.ByLanguage[1])
	}
	if len(report.ByVerdict) != 2 {
		t.Fatalf("unexpected verdict buckets: %d", len(report.ByVerdict))
	}
	if report.ByVerdict[0].StatusID != judge.StatusAccepted || report.ByVerdict[0].Count != 2 {
		t.Fatalf("unexpected accepted bucket: %+v", report.ByVerdict[0])
	}
	if report.ByVerdict[1].StatusDesc != "Wrong Answer" || report.ByVerdict[1].Count != 1 {
		t.Fatalf("unexpected wrong answer bucket: %+v", report.ByVerdict[1])
	}
}

func TestAnalyticsRepositoryFailure(t *testing.T) {
	_, repo, svc := newSubmissionTestDeps(t)
	repo.analyticsErr = context.DeadlineExceeded

	if _, err := svc.Analytics(context.Background()); !pkgerrors.Is(err, pkgerrors.DatabaseError) {
		t.Fatalf("expected database error, got %v", err)
	}
}
