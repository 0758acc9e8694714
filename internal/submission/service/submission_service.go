package service

import (
	"context"
	"errors"
	"strings"

	"knightshade/internal/submission/judge"
	"knightshade/internal/submission/repository"
	pkgerrors "knightshade/pkg/errors"
	"knightshade/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxSourceBytes caps source code size accepted for judging.
const maxSourceBytes = 64 * 1024

// SubmitRequest carries one code submission from the API layer. TimeLimit is
// in seconds and MemoryLimit in KB; zero leaves the engine default in place.
type SubmitRequest struct {
	SourceCode     string  `json:"source_code" binding:"required"`
	LanguageID     int     `json:"language_id" binding:"required"`
	Stdin          string  `json:"stdin"`
	ExpectedOutput string  `json:"expected_output"`
	TimeLimit      float64 `json:"time_limit"`
	MemoryLimit    int     `json:"memory_limit"`
}

// SubmissionService owns the submission lifecycle: validate, enqueue on the
// execution engine, persist, and hand the run to the reconciler.
type SubmissionService struct {
	repo       repository.SubmissionRepository
	judge      judge.Client
	reconciler *Reconciler
}

func NewSubmissionService(repo repository.SubmissionRepository, judgeClient judge.Client, reconciler *Reconciler) *SubmissionService {
	return &SubmissionService{
		repo:       repo,
		judge:      judgeClient,
		reconciler: reconciler,
	}
}

// Submit validates the request, enqueues the run, persists the Processing row
// and starts the poll loop. The engine is called before anything is written,
// so an enqueue failure leaves no row behind.
func (s *SubmissionService) Submit(ctx context.Context, userID int64, req *SubmitRequest) (*repository.Submission, error) {
	if req == nil {
		return nil, pkgerrors.New(pkgerrors.InvalidParams)
	}
	if err := validateSubmitRequest(req); err != nil {
		return nil, err
	}

	token, err := s.judge.Enqueue(ctx, &judge.EnqueueRequest{
		SourceCode:             req.SourceCode,
		LanguageID:             req.LanguageID,
		Stdin:                  req.Stdin,
		ExpectedOutput:         req.ExpectedOutput,
		CPUTimeLimit:           req.TimeLimit,
		MemoryLimit:            req.MemoryLimit,
		RedirectStderrToStdout: true,
	})
	if err != nil {
		return nil, err
	}

	submission := &repository.Submission{
		ID:             uuid.NewString(),
		UserID:         userID,
		SourceCode:     req.SourceCode,
		LanguageID:     req.LanguageID,
		Stdin:          req.Stdin,
		ExpectedOutput: req.ExpectedOutput,
		JobToken:       token,
		StatusID:       judge.StatusProcessing,
		StatusDesc:     judge.StatusDescription(judge.StatusProcessing),
	}
	if err := s.repo.Create(ctx, nil, submission); err != nil {
		// The engine job is already queued; it finishes unobserved.
		logger.Error(ctx, "failed to persist submission after enqueue",
			zap.String("job_token", token), zap.Error(err))
		return nil, pkgerrors.Wrap(err, pkgerrors.SubmissionCreateFailed)
	}

	if err := s.reconciler.Track(submission.ID, token); err != nil {
		logger.Error(ctx, "failed to start submission poll loop",
			zap.String("submission_id", submission.ID), zap.Error(err))
	}
	return submission, nil
}

// GetSubmission returns one submission owned by the user.
func (s *SubmissionService) GetSubmission(ctx context.Context, userID int64, id string) (*repository.Submission, error) {
	if id == "" {
		return nil, pkgerrors.New(pkgerrors.InvalidParams).WithMessage("submission id is required")
	}
	submission, err := s.repo.GetByID(ctx, nil, id)
	if err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			return nil, pkgerrors.New(pkgerrors.SubmissionNotFound)
		}
		return nil, pkgerrors.Wrap(err, pkgerrors.DatabaseError)
	}
	if submission.UserID != userID {
		// ownership is not disclosed, pretend the row does not exist
		return nil, pkgerrors.New(pkgerrors.SubmissionNotFound)
	}
	return submission, nil
}

// ListSubmissions returns a page of the user's submissions, newest first.
func (s *SubmissionService) ListSubmissions(ctx context.Context, userID int64, page, pageSize int) ([]*repository.Submission, int64, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	submissions, total, err := s.repo.ListByUser(ctx, userID, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, 0, pkgerrors.Wrap(err, pkgerrors.DatabaseError)
	}
	return submissions, total, nil
}

// AnalyticsReport aggregates submission counts across all users.
type AnalyticsReport struct {
	ByLanguage []repository.LanguageCount
	ByVerdict  []repository.VerdictCount
}

// Analytics returns platform-wide submission aggregates.
func (s *SubmissionService) Analytics(ctx context.Context) (*AnalyticsReport, error) {
	byLanguage, err := s.repo.CountByLanguage(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.DatabaseError)
	}
	byVerdict, err := s.repo.CountByVerdict(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.DatabaseError)
	}
	return &AnalyticsReport{ByLanguage: byLanguage, ByVerdict: byVerdict}, nil
}

func validateSubmitRequest(req *SubmitRequest) error {
	source := strings.TrimSpace(req.SourceCode)
	if source == "" {
		return pkgerrors.New(pkgerrors.SourceCodeEmpty)
	}
	if len(req.SourceCode) > maxSourceBytes {
		return pkgerrors.New(pkgerrors.SourceCodeTooLarge)
	}
	if !judge.IsLanguageSupported(req.LanguageID) {
		return pkgerrors.New(pkgerrors.LanguageNotSupported)
	}
	if req.TimeLimit < 0 || req.MemoryLimit < 0 {
		return pkgerrors.New(pkgerrors.InvalidParams).WithMessage("resource limits must not be negative")
	}
	return nil
}
