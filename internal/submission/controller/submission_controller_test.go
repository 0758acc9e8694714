package controller_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"knightshade/internal/common/db"
	"knightshade/internal/common/http/middleware"
	"knightshade/internal/submission/controller"
	"knightshade/internal/submission/judge"
	"knightshade/internal/submission/repository"
	"knightshade/internal/submission/service"

	"github.com/gin-gonic/gin"
)

type routeJudge struct{}

func (j *routeJudge) Enqueue(ctx context.Context, req *judge.EnqueueRequest) (string, error) {
	return "job-token", nil
}

func (j *routeJudge) Fetch(ctx context.Context, token string) (*judge.Result, error) {
	return &judge.Result{StatusID: judge.StatusProcessing}, nil
}

type routeRepo struct {
	rows      map[string]*repository.Submission
	listLimit int
}

func newRouteRepo() *routeRepo {
	return &routeRepo{rows: make(map[string]*repository.Submission)}
}

func (r *routeRepo) Create(ctx context.Context, tx db.Transaction, submission *repository.Submission) error {
	copied := *submission
	copied.CreatedAt = time.Now()
	r.rows[submission.ID] = &copied
	return nil
}

func (r *routeRepo) GetByID(ctx context.Context, tx db.Transaction, id string) (*repository.Submission, error) {
	submission, ok := r.rows[id]
	if !ok {
		return nil, repository.ErrSubmissionNotFound
	}
	copied := *submission
	return &copied, nil
}

func (r *routeRepo) RecordVerdict(ctx context.Context, id string, verdict *repository.Verdict) (bool, error) {
	return false, nil
}

func (r *routeRepo) ListByUser(ctx context.Context, userID int64, offset, limit int) ([]*repository.Submission, int64, error) {
	r.listLimit = limit
	return nil, 0, nil
}

func (r *routeRepo) CountByLanguage(ctx context.Context) ([]repository.LanguageCount, error) {
	return nil, nil
}

func (r *routeRepo) CountByVerdict(ctx context.Context) ([]repository.VerdictCount, error) {
	return nil, nil
}

// newSubmissionRouter mirrors the server's submission route table with the
// auth middleware replaced by a fixed user identity.
func newSubmissionRouter(t *testing.T, repo *routeRepo) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	judgeClient := &routeJudge{}
	reconciler := service.NewReconciler(judgeClient, repo, service.ReconcilerConfig{
		PollInterval: time.Minute,
		PollDeadline: time.Hour,
	})
	t.Cleanup(func() { _ = reconciler.Shutdown(context.Background()) })
	ctl := controller.NewSubmissionController(service.NewSubmissionService(repo, judgeClient, reconciler))

	router := gin.New()
	authed := router.Group("/api/v1", func(ctx *gin.Context) {
		ctx.Set(middleware.UserIDContextKey, int64(7))
	})
	authed.POST("/submissions/submit", ctl.Submit)
	authed.GET("/submissions", ctl.List)
	authed.GET("/submissions/result/:submissionId", ctl.Get)
	return router
}

func TestSubmitRoute(t *testing.T) {
	router := newSubmissionRouter(t, newRouteRepo())

	body := `{"source_code":"print(1)","language_id":71}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/submissions/submit", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
}

func TestResultRouteReadsSubmissionIDParam(t *testing.T) {
	repo := newRouteRepo()
	repo.rows["sub-1"] = &repository.Submission{
		ID:         "sub-1",
		UserID:     7,
		StatusID:   judge.StatusProcessing,
		StatusDesc: judge.StatusDescription(judge.StatusProcessing),
	}
	router := newSubmissionRouter(t, repo)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/submissions/result/sub-1", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	var envelope struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.ID != "sub-1" {
		t.Fatalf("unexpected submission id: %q", envelope.Data.ID)
	}
}

func TestListRouteUsesCountParam(t *testing.T) {
	repo := newRouteRepo()
	router := newSubmissionRouter(t, repo)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/submissions?page=1&count=5", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	if repo.listLimit != 5 {
		t.Fatalf("count query must drive the page size, got limit %d", repo.listLimit)
	}
}
