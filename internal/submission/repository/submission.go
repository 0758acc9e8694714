package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"knightshade/internal/common/cache"
	"knightshade/internal/common/db"
	"knightshade/internal/submission/judge"
)

const (
	defaultSubmissionCacheTTL      = 10 * time.Minute
	defaultSubmissionCacheEmptyTTL = 1 * time.Minute
	submissionCacheKeyPrefix       = "submission:"
)

var (
	ErrSubmissionNotFound = errors.New("submission not found")
)

// Submission represents one run of user code against the execution engine.
type Submission struct {
	ID             string
	UserID         int64
	SourceCode     string
	LanguageID     int
	Stdin          string
	ExpectedOutput string
	JobToken       string
	StatusID       int
	StatusDesc     string
	Stdout         string
	Stderr         string
	CompileOutput  string
	Time           string
	Memory         float64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Terminal reports whether the submission reached a final verdict.
func (s *Submission) Terminal() bool {
	return judge.IsTerminal(s.StatusID)
}

// Verdict carries the final outcome written when a run finishes.
type Verdict struct {
	StatusID      int
	StatusDesc    string
	Stdout        string
	Stderr        string
	CompileOutput string
	Time          string
	Memory        float64
}

// LanguageCount is the number of submissions made in one language.
type LanguageCount struct {
	LanguageID int
	Count      int64
}

// VerdictCount is the number of submissions that settled on one verdict.
type VerdictCount struct {
	StatusID   int
	StatusDesc string
	Count      int64
}

// SubmissionRepository defines submission persistence interfaces.
type SubmissionRepository interface {
	Create(ctx context.Context, tx db.Transaction, submission *Submission) error
	GetByID(ctx context.Context, tx db.Transaction, id string) (*Submission, error)
	RecordVerdict(ctx context.Context, id string, verdict *Verdict) (bool, error)
	ListByUser(ctx context.Context, userID int64, offset, limit int) ([]*Submission, int64, error)
	CountByLanguage(ctx context.Context) ([]LanguageCount, error)
	CountByVerdict(ctx context.Context) ([]VerdictCount, error)
}

// MySQLSubmissionRepository implements SubmissionRepository with MySQL.
type MySQLSubmissionRepository struct {
	db       db.Database
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

// NewSubmissionRepository creates a submission repository with defaults.
func NewSubmissionRepository(database db.Database, cacheClient cache.Cache) SubmissionRepository {
	return NewSubmissionRepositoryWithTTL(database, cacheClient, defaultSubmissionCacheTTL, defaultSubmissionCacheEmptyTTL)
}

// NewSubmissionRepositoryWithTTL creates a submission repository with custom TTL.
func NewSubmissionRepositoryWithTTL(database db.Database, cacheClient cache.Cache, ttl, emptyTTL time.Duration) SubmissionRepository {
	if ttl <= 0 {
		ttl = defaultSubmissionCacheTTL
	}
	if emptyTTL <= 0 {
		emptyTTL = defaultSubmissionCacheEmptyTTL
	}
	return &MySQLSubmissionRepository{
		db:       database,
		cache:    cacheClient,
		ttl:      ttl,
		emptyTTL: emptyTTL,
	}
}

const submissionColumns = "id, user_id, source_code, language_id, stdin, expected_output, job_token, status_id, status_description, stdout, stderr, compile_output, exec_time, memory, created_at, updated_at"

// Create inserts a submission record.
func (r *MySQLSubmissionRepository) Create(ctx context.Context, tx db.Transaction, submission *Submission) error {
	if submission == nil {
		return errors.New("submission is nil")
	}
	if submission.ID == "" {
		return errors.New("submission id is required")
	}
	if submission.UserID <= 0 {
		return errors.New("userID is required")
	}
	if submission.SourceCode == "" {
		return errors.New("source code is required")
	}
	if submission.JobToken == "" {
		return errors.New("job token is required")
	}

	query := `
		INSERT INTO submissions
		(id, user_id, source_code, language_id, stdin, expected_output, job_token, status_id, status_description)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.GetQuerier(r.db, tx).Exec(
		ctx,
		query,
		submission.ID,
		submission.UserID,
		submission.SourceCode,
		submission.LanguageID,
		submission.Stdin,
		submission.ExpectedOutput,
		submission.JobToken,
		submission.StatusID,
		submission.StatusDesc,
	)
	return err
}

// GetByID retrieves a submission by id.
// Only terminal submissions are served from cache so in-flight polling
// always sees the freshest status.
func (r *MySQLSubmissionRepository) GetByID(ctx context.Context, tx db.Transaction, id string) (*Submission, error) {
	if id == "" {
		return nil, errors.New("submission id is required")
	}
	if r.cache != nil && tx == nil {
		submission, err := cache.GetWithCached[*Submission](
			ctx,
			r.cache,
			submissionCacheKey(id),
			cache.JitterTTL(r.ttl),
			cache.JitterTTL(r.emptyTTL),
			func(submission *Submission) bool { return submission == nil },
			marshalSubmission,
			unmarshalSubmission,
			func(ctx context.Context) (*Submission, error) {
				submission, err := r.getByIDFromDB(ctx, nil, id)
				if err != nil {
					if errors.Is(err, ErrSubmissionNotFound) {
						return nil, nil
					}
					return nil, err
				}
				if !submission.Terminal() {
					// keep non-terminal rows out of the cache
					return nil, errNotCacheable{submission}
				}
				return submission, nil
			},
		)
		if err != nil {
			var nc errNotCacheable
			if errors.As(err, &nc) {
				return nc.submission, nil
			}
			return nil, err
		}
		if submission == nil {
			return nil, ErrSubmissionNotFound
		}
		return submission, nil
	}
	return r.getByIDFromDB(ctx, tx, id)
}

// RecordVerdict writes a terminal verdict. The status guard makes the write
// idempotent: once a submission left Processing, later writers lose.
// Returns true when this call performed the transition.
func (r *MySQLSubmissionRepository) RecordVerdict(ctx context.Context, id string, verdict *Verdict) (bool, error) {
	if id == "" {
		return false, errors.New("submission id is required")
	}
	if verdict == nil {
		return false, errors.New("verdict is nil")
	}

	query := `
		UPDATE submissions
		SET status_id = ?, status_description = ?, stdout = ?, stderr = ?,
		    compile_output = ?, exec_time = ?, memory = ?
		WHERE id = ? AND status_id <= ?
	`
	result, err := r.db.Exec(
		ctx,
		query,
		verdict.StatusID,
		verdict.StatusDesc,
		verdict.Stdout,
		verdict.Stderr,
		verdict.CompileOutput,
		verdict.Time,
		verdict.Memory,
		id,
		judge.StatusProcessing,
	)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if r.cache != nil {
		_ = r.cache.Del(ctx, submissionCacheKey(id))
	}
	return affected > 0, nil
}

// ListByUser returns a page of submissions for a user, newest first.
func (r *MySQLSubmissionRepository) ListByUser(ctx context.Context, userID int64, offset, limit int) ([]*Submission, int64, error) {
	if userID <= 0 {
		return nil, 0, errors.New("userID is required")
	}
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var total int64
	countQuery := "SELECT COUNT(*) FROM submissions WHERE user_id = ?"
	if err := r.db.QueryRow(ctx, countQuery, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := "SELECT " + submissionColumns + " FROM submissions WHERE user_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?"
	rows, err := r.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = rows.Close() }()

	submissions := make([]*Submission, 0, limit)
	for rows.Next() {
		submission, err := scanSubmissionRow(rows)
		if err != nil {
			return nil, 0, err
		}
		submissions = append(submissions, submission)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return submissions, total, nil
}

// CountByLanguage returns per-language submission counts.
func (r *MySQLSubmissionRepository) CountByLanguage(ctx context.Context) ([]LanguageCount, error) {
	query := "SELECT language_id, COUNT(*) FROM submissions GROUP BY language_id ORDER BY language_id"
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	counts := make([]LanguageCount, 0, 8)
	for rows.Next() {
		var entry LanguageCount
		if err := rows.Scan(&entry.LanguageID, &entry.Count); err != nil {
			return nil, err
		}
		counts = append(counts, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return counts, nil
}

// CountByVerdict returns per-verdict submission counts, including rows still
// in flight under the queued and processing ordinals.
func (r *MySQLSubmissionRepository) CountByVerdict(ctx context.Context) ([]VerdictCount, error) {
	query := "SELECT status_id, status_description, COUNT(*) FROM submissions GROUP BY status_id, status_description ORDER BY status_id"
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	counts := make([]VerdictCount, 0, 16)
	for rows.Next() {
		var entry VerdictCount
		if err := rows.Scan(&entry.StatusID, &entry.StatusDesc, &entry.Count); err != nil {
			return nil, err
		}
		counts = append(counts, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return counts, nil
}

func (r *MySQLSubmissionRepository) getByIDFromDB(ctx context.Context, tx db.Transaction, id string) (*Submission, error) {
	query := "SELECT " + submissionColumns + " FROM submissions WHERE id = ? LIMIT 1"
	row := db.GetQuerier(r.db, tx).QueryRow(ctx, query, id)
	submission, err := scanSubmissionRow(row)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}
	return submission, nil
}

func scanSubmissionRow(row db.Scanner) (*Submission, error) {
	submission := &Submission{}
	var stdout, stderr, compileOutput, execTime *string
	var memory *float64
	if err := row.Scan(
		&submission.ID,
		&submission.UserID,
		&submission.SourceCode,
		&submission.LanguageID,
		&submission.Stdin,
		&submission.ExpectedOutput,
		&submission.JobToken,
		&submission.StatusID,
		&submission.StatusDesc,
		&stdout,
		&stderr,
		&compileOutput,
		&execTime,
		&memory,
		&submission.CreatedAt,
		&submission.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if stdout != nil {
		submission.Stdout = *stdout
	}
	if stderr != nil {
		submission.Stderr = *stderr
	}
	if compileOutput != nil {
		submission.CompileOutput = *compileOutput
	}
	if execTime != nil {
		submission.Time = *execTime
	}
	if memory != nil {
		submission.Memory = *memory
	}
	return submission, nil
}

// errNotCacheable smuggles a non-terminal row out of the cache-aside helper
// without writing it to the cache.
type errNotCacheable struct {
	submission *Submission
}

func (e errNotCacheable) Error() string { return "submission not cacheable" }

func submissionCacheKey(id string) string {
	return submissionCacheKeyPrefix + id
}

func marshalSubmission(submission *Submission) string {
	if submission == nil {
		return ""
	}
	data, err := json.Marshal(submission)
	if err != nil {
		return ""
	}
	return string(data)
}

func unmarshalSubmission(data string) (*Submission, error) {
	if data == "" || data == cache.NullCacheValue {
		return nil, nil
	}
	var submission Submission
	if err := json.Unmarshal([]byte(data), &submission); err != nil {
		return nil, err
	}
	return &submission, nil
}
