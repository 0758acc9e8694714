package service_test

import (
	"context"
	"sort"
	"sync"

	"knightshade/internal/common/db"
	"knightshade/internal/submission/judge"
	"knightshade/internal/submission/repository"
)

type fakeJudgeClient struct {
	mu         sync.Mutex
	enqueueErr error
	nextToken  string
	enqueued   []*judge.EnqueueRequest

	fetchResults []fetchOutcome
	fetchCalls   int
}

type fetchOutcome struct {
	result *judge.Result
	err    error
}

func (c *fakeJudgeClient) Enqueue(ctx context.Context, req *judge.EnqueueRequest) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enqueueErr != nil {
		return "", c.enqueueErr
	}
	c.enqueued = append(c.enqueued, req)
	if c.nextToken == "" {
		return "job-token", nil
	}
	return c.nextToken, nil
}

// Fetch replays the scripted outcomes in order, holding the last one for
// every later call.
func (c *fakeJudgeClient) Fetch(ctx context.Context, token string) (*judge.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.fetchResults) == 0 {
		return &judge.Result{Token: token, StatusID: judge.StatusProcessing, StatusDesc: "Processing"}, nil
	}
	idx := c.fetchCalls
	if idx >= len(c.fetchResults) {
		idx = len(c.fetchResults) - 1
	}
	c.fetchCalls++
	outcome := c.fetchResults[idx]
	return outcome.result, outcome.err
}

func (c *fakeJudgeClient) fetchCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetchCalls
}

type recordedVerdict struct {
	id      string
	verdict *repository.Verdict
}

type fakeSubmissionRepo struct {
	mu           sync.Mutex
	rows         map[string]*repository.Submission
	verdicts     []recordedVerdict
	createErr    error
	verdictErr   error
	analyticsErr error
	verdictCh    chan recordedVerdict
}

func newFakeSubmissionRepo() *fakeSubmissionRepo {
	return &fakeSubmissionRepo{
		rows:      make(map[string]*repository.Submission),
		verdictCh: make(chan recordedVerdict, 8),
	}
}

func (r *fakeSubmissionRepo) Create(ctx context.Context, tx db.Transaction, submission *repository.Submission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	row := *submission
	r.rows[submission.ID] = &row
	return nil
}

func (r *fakeSubmissionRepo) GetByID(ctx context.Context, tx db.Transaction, id string) (*repository.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, repository.ErrSubmissionNotFound
	}
	copied := *row
	return &copied, nil
}

func (r *fakeSubmissionRepo) RecordVerdict(ctx context.Context, id string, verdict *repository.Verdict) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.verdictErr != nil {
		return false, r.verdictErr
	}
	row, ok := r.rows[id]
	if ok && judge.IsTerminal(row.StatusID) {
		return false, nil
	}
	if ok {
		row.StatusID = verdict.StatusID
		row.StatusDesc = verdict.StatusDesc
		row.Stdout = verdict.Stdout
		row.Stderr = verdict.Stderr
		row.CompileOutput = verdict.CompileOutput
		row.Time = verdict.Time
		row.Memory = verdict.Memory
	}
	recorded := recordedVerdict{id: id, verdict: verdict}
	r.verdicts = append(r.verdicts, recorded)
	select {
	case r.verdictCh <- recorded:
	default:
	}
	return true, nil
}

func (r *fakeSubmissionRepo) ListByUser(ctx context.Context, userID int64, offset, limit int) ([]*repository.Submission, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []*repository.Submission
	for _, row := range r.rows {
		if row.UserID == userID {
			copied := *row
			matched = append(matched, &copied)
		}
	}
	total := int64(len(matched))
	if offset >= len(matched) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

func (r *fakeSubmissionRepo) CountByLanguage(ctx context.Context) ([]repository.LanguageCount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.analyticsErr != nil {
		return nil, r.analyticsErr
	}
	totals := make(map[int]int64)
	for _, row := range r.rows {
		totals[row.LanguageID]++
	}
	languageIDs := make([]int, 0, len(totals))
	for languageID := range totals {
		languageIDs = append(languageIDs, languageID)
	}
	sort.Ints(languageIDs)
	counts := make([]repository.LanguageCount, 0, len(languageIDs))
	for _, languageID := range languageIDs {
		counts = append(counts, repository.LanguageCount{LanguageID: languageID, Count: totals[languageID]})
	}
	return counts, nil
}

func (r *fakeSubmissionRepo) CountByVerdict(ctx context.Context) ([]repository.VerdictCount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.analyticsErr != nil {
		return nil, r.analyticsErr
	}
	totals := make(map[int]*repository.VerdictCount)
	for _, row := range r.rows {
		entry, ok := totals[row.StatusID]
		if !ok {
			entry = &repository.VerdictCount{StatusID: row.StatusID, StatusDesc: row.StatusDesc}
			totals[row.StatusID] = entry
		}
		entry.Count++
	}
	statusIDs := make([]int, 0, len(totals))
	for statusID := range totals {
		statusIDs = append(statusIDs, statusID)
	}
	sort.Ints(statusIDs)
	counts := make([]repository.VerdictCount, 0, len(statusIDs))
	for _, statusID := range statusIDs {
		counts = append(counts, *totals[statusID])
	}
	return counts, nil
}

func (r *fakeSubmissionRepo) verdictCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.verdicts)
}
