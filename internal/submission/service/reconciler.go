package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"knightshade/internal/submission/judge"
	"knightshade/internal/submission/repository"
	"knightshade/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultPollInterval = 1500 * time.Millisecond
	defaultPollDeadline = 12 * time.Second
)

var (
	// ErrAlreadyTracked is returned when a submission already has a live poll loop.
	ErrAlreadyTracked = errors.New("submission already tracked")

	// ErrReconcilerClosed is returned when tracking is requested after shutdown.
	ErrReconcilerClosed = errors.New("reconciler is closed")
)

// Reconciler drives in-flight submissions to a terminal verdict. Each tracked
// submission gets its own goroutine that polls the execution engine until the
// run finishes or the deadline forces a Time Limit Exceeded verdict.
type Reconciler struct {
	judge        judge.Client
	repo         repository.SubmissionRepository
	pollInterval time.Duration
	deadline     time.Duration

	baseCtx context.Context
	cancel  context.CancelFunc

	mu     sync.Mutex
	active map[string]context.CancelFunc
	closed bool
	wg     sync.WaitGroup
}

// ReconcilerConfig tunes poll cadence and the hard deadline.
type ReconcilerConfig struct {
	PollInterval time.Duration `yaml:"pollInterval"`
	PollDeadline time.Duration `yaml:"pollDeadline"`
}

// NewReconciler creates a reconciler. Poll loops are bound to an internal
// context so Shutdown cancels them all.
func NewReconciler(judgeClient judge.Client, repo repository.SubmissionRepository, cfg ReconcilerConfig) *Reconciler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.PollDeadline <= 0 {
		cfg.PollDeadline = defaultPollDeadline
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Reconciler{
		judge:        judgeClient,
		repo:         repo,
		pollInterval: cfg.PollInterval,
		deadline:     cfg.PollDeadline,
		baseCtx:      ctx,
		cancel:       cancel,
		active:       make(map[string]context.CancelFunc),
	}
}

// Track starts a poll loop for the submission. A submission id can have at
// most one live loop; duplicates are rejected.
func (r *Reconciler) Track(submissionID, jobToken string) error {
	if submissionID == "" || jobToken == "" {
		return errors.New("submission id and job token are required")
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrReconcilerClosed
	}
	if _, ok := r.active[submissionID]; ok {
		r.mu.Unlock()
		return ErrAlreadyTracked
	}
	ctx, cancel := context.WithCancel(r.baseCtx)
	r.active[submissionID] = cancel
	r.wg.Add(1)
	r.mu.Unlock()

	go r.loop(ctx, submissionID, jobToken)
	return nil
}

// ActiveCount returns the number of live poll loops.
func (r *Reconciler) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Shutdown cancels all poll loops and waits for them to exit, or until ctx
// expires.
func (r *Reconciler) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Reconciler) loop(ctx context.Context, submissionID, jobToken string) {
	defer func() {
		r.mu.Lock()
		delete(r.active, submissionID)
		r.mu.Unlock()
		r.wg.Done()
	}()

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(r.deadline)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "submission poll loop cancelled",
				zap.String("submission_id", submissionID))
			return

		case <-deadline.C:
			// The engine never answered in time. Force the verdict so the
			// submission cannot stay in Processing forever.
			verdict := &repository.Verdict{
				StatusID:   judge.StatusTimeLimitExceeded,
				StatusDesc: judge.StatusDescription(judge.StatusTimeLimitExceeded),
			}
			applied, err := r.repo.RecordVerdict(ctx, submissionID, verdict)
			if err != nil {
				logger.Error(ctx, "failed to record deadline verdict",
					zap.String("submission_id", submissionID), zap.Error(err))
				return
			}
			if applied {
				logger.Warn(ctx, "submission deadline exceeded, forced time limit verdict",
					zap.String("submission_id", submissionID))
			}
			return

		case <-ticker.C:
			result, err := r.judge.Fetch(ctx, jobToken)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				// transient engine failure, keep polling until the deadline
				logger.Warn(ctx, "submission poll failed",
					zap.String("submission_id", submissionID), zap.Error(err))
				continue
			}
			if !result.Terminal() {
				continue
			}

			applied, err := r.repo.RecordVerdict(ctx, submissionID, verdictFromResult(result))
			if err != nil {
				logger.Error(ctx, "failed to record verdict",
					zap.String("submission_id", submissionID), zap.Error(err))
				return
			}
			if applied {
				logger.Info(ctx, "submission verdict recorded",
					zap.String("submission_id", submissionID),
					zap.Int("status_id", result.StatusID),
					zap.String("status", result.StatusDesc))
			}
			return
		}
	}
}

func verdictFromResult(result *judge.Result) *repository.Verdict {
	return &repository.Verdict{
		StatusID:      result.StatusID,
		StatusDesc:    result.StatusDesc,
		Stdout:        result.Stdout,
		Stderr:        result.Stderr,
		CompileOutput: result.CompileOutput,
		Time:          result.Time,
		Memory:        result.Memory,
	}
}
