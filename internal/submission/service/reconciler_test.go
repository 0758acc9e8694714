package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"knightshade/internal/submission/judge"
	"knightshade/internal/submission/repository"
	"knightshade/internal/submission/service"
)

func terminalResult(statusID int) *judge.Result {
	return &judge.Result{
		Token:      "job-token",
		StatusID:   statusID,
		StatusDesc: judge.StatusDescription(statusID),
		Stdout:     "output",
		Time:       "0.01",
		Memory:     1024,
	}
}

func processingResult() *judge.Result {
	return &judge.Result{Token: "job-token", StatusID: judge.StatusProcessing, StatusDesc: "Processing"}
}

func waitForVerdict(t *testing.T, repo *fakeSubmissionRepo, timeout time.Duration) recordedVerdict {
	t.Helper()
	select {
	case v := <-repo.verdictCh:
		return v
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for verdict")
		return recordedVerdict{}
	}
}

func TestReconcilerRecordsTerminalVerdict(t *testing.T) {
	judgeClient := &fakeJudgeClient{
		fetchResults: []fetchOutcome{
			{result: processingResult()},
			{result: processingResult()},
			{result: terminalResult(judge.StatusAccepted)},
		},
	}
	repo := newFakeSubmissionRepo()
	reconciler := service.NewReconciler(judgeClient, repo, service.ReconcilerConfig{
		PollInterval: 5 * time.Millisecond,
		PollDeadline: 2 * time.Second,
	})
	defer func() { _ = reconciler.Shutdown(context.Background()) }()

	if err := reconciler.Track("sub-1", "job-token"); err != nil {
		t.Fatalf("track failed: %v", err)
	}

	recorded := waitForVerdict(t, repo, time.Second)
	if recorded.id != "sub-1" {
		t.Fatalf("unexpected submission id: %s", recorded.id)
	}
	if recorded.verdict.StatusID != judge.StatusAccepted {
		t.Fatalf("unexpected status: %d", recorded.verdict.StatusID)
	}
	if recorded.verdict.Stdout != "output" {
		t.Fatalf("unexpected stdout: %q", recorded.verdict.Stdout)
	}
	if judgeClient.fetchCount() < 3 {
		t.Fatalf("expected at least 3 polls, got %d", judgeClient.fetchCount())
	}
}

func TestReconcilerDeadlineForcesTimeLimitVerdict(t *testing.T) {
	judgeClient := &fakeJudgeClient{}
	repo := newFakeSubmissionRepo()
	reconciler := service.NewReconciler(judgeClient, repo, service.ReconcilerConfig{
		PollInterval: 5 * time.Millisecond,
		PollDeadline: 40 * time.Millisecond,
	})
	defer func() { _ = reconciler.Shutdown(context.Background()) }()

	if err := reconciler.Track("sub-2", "job-token"); err != nil {
		t.Fatalf("track failed: %v", err)
	}

	recorded := waitForVerdict(t, repo, time.Second)
	if recorded.verdict.StatusID != judge.StatusTimeLimitExceeded {
		t.Fatalf("expected forced time limit verdict, got %d", recorded.verdict.StatusID)
	}
	if recorded.verdict.StatusDesc != "Time Limit Exceeded" {
		t.Fatalf("unexpected description: %s", recorded.verdict.StatusDesc)
	}
}

func TestReconcilerKeepsPollingOnFetchError(t *testing.T) {
	judgeClient := &fakeJudgeClient{
		fetchResults: []fetchOutcome{
			{err: errors.New("connection refused")},
			{err: errors.New("connection refused")},
			{result: terminalResult(judge.StatusWrongAnswer)},
		},
	}
	repo := newFakeSubmissionRepo()
	reconciler := service.NewReconciler(judgeClient, repo, service.ReconcilerConfig{
		PollInterval: 5 * time.Millisecond,
		PollDeadline: 2 * time.Second,
	})
	defer func() { _ = reconciler.Shutdown(context.Background()) }()

	if err := reconciler.Track("sub-3", "job-token"); err != nil {
		t.Fatalf("track failed: %v", err)
	}

	recorded := waitForVerdict(t, repo, time.Second)
	if recorded.verdict.StatusID != judge.StatusWrongAnswer {
		t.Fatalf("unexpected status: %d", recorded.verdict.StatusID)
	}
}

func TestReconcilerRejectsDuplicateTrack(t *testing.T) {
	judgeClient := &fakeJudgeClient{}
	repo := newFakeSubmissionRepo()
	reconciler := service.NewReconciler(judgeClient, repo, service.ReconcilerConfig{
		PollInterval: 50 * time.Millisecond,
		PollDeadline: 2 * time.Second,
	})
	defer func() { _ = reconciler.Shutdown(context.Background()) }()

	if err := reconciler.Track("sub-4", "job-token"); err != nil {
		t.Fatalf("track failed: %v", err)
	}
	if err := reconciler.Track("sub-4", "job-token"); !errors.Is(err, service.ErrAlreadyTracked) {
		t.Fatalf("expected ErrAlreadyTracked, got %v", err)
	}
	if reconciler.ActiveCount() != 1 {
		t.Fatalf("expected one active loop, got %d", reconciler.ActiveCount())
	}
}

func TestReconcilerTrackValidation(t *testing.T) {
	reconciler := service.NewReconciler(&fakeJudgeClient{}, newFakeSubmissionRepo(), service.ReconcilerConfig{})
	defer func() { _ = reconciler.Shutdown(context.Background()) }()

	if err := reconciler.Track("", "job-token"); err == nil {
		t.Fatalf("expected error for empty submission id")
	}
	if err := reconciler.Track("sub-5", ""); err == nil {
		t.Fatalf("expected error for empty job token")
	}
}

func TestReconcilerShutdownStopsLoops(t *testing.T) {
	judgeClient := &fakeJudgeClient{}
	repo := newFakeSubmissionRepo()
	reconciler := service.NewReconciler(judgeClient, repo, service.ReconcilerConfig{
		PollInterval: 5 * time.Millisecond,
		PollDeadline: time.Minute,
	})

	if err := reconciler.Track("sub-6", "job-token"); err != nil {
		t.Fatalf("track failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := reconciler.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
	if reconciler.ActiveCount() != 0 {
		t.Fatalf("expected no active loops after shutdown")
	}
	if repo.verdictCount() != 0 {
		t.Fatalf("cancelled loop must not record a verdict")
	}

	if err := reconciler.Track("sub-7", "job-token"); !errors.Is(err, service.ErrReconcilerClosed) {
		t.Fatalf("expected ErrReconcilerClosed, got %v", err)
	}
}

func TestReconcilerSkipsAlreadyTerminalRows(t *testing.T) {
	judgeClient := &fakeJudgeClient{
		fetchResults: []fetchOutcome{{result: terminalResult(judge.StatusAccepted)}},
	}
	repo := newFakeSubmissionRepo()
	repo.rows["sub-8"] = &repository.Submission{
		ID:       "sub-8",
		UserID:   1,
		StatusID: judge.StatusAccepted,
	}
	reconciler := service.NewReconciler(judgeClient, repo, service.ReconcilerConfig{
		PollInterval: 5 * time.Millisecond,
		PollDeadline: time.Second,
	})
	defer func() { _ = reconciler.Shutdown(context.Background()) }()

	if err := reconciler.Track("sub-8", "job-token"); err != nil {
		t.Fatalf("track failed: %v", err)
	}

	deadline := time.After(500 * time.Millisecond)
	for reconciler.ActiveCount() != 0 {
		select {
		case <-deadline:
			t.Fatalf("loop did not exit")
		case <-time.After(5 * time.Millisecond):
		}
	}
	row, err := repo.GetByID(context.Background(), nil, "sub-8")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if row.StatusID != judge.StatusAccepted {
		t.Fatalf("terminal row must not change, got %d", row.StatusID)
	}
}
