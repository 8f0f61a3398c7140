package jobqueue

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"curator/internal/config"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema changes.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// Store manages durable job persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// Open initializes or connects to the job database under the configured log
// directory.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(filepath.Join(cfg.Paths.LogDir, "jobs.db"))
}

// OpenPath opens the job database at an explicit path.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the on-disk location of the job database.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	err = s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete the database to rebuild)",
			ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) time.Time {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseNullableTime(value sql.NullString) *time.Time {
	if !value.Valid || value.String == "" {
		return nil
	}
	t := parseTime(value.String)
	if t.IsZero() {
		return nil
	}
	return &t
}

// Ensure enqueues a job for (queue, itemID) unless one is already queued or
// running. Returns true when a new job row was created.
func (s *Store) Ensure(ctx context.Context, queue, itemID, sessionToken string) (bool, error) {
	if strings.TrimSpace(queue) == "" {
		return false, errors.New("jobqueue: queue name required")
	}
	if strings.TrimSpace(itemID) == "" {
		return false, errors.New("jobqueue: item id required")
	}
	now := formatTime(time.Now())
	res, err := s.execWithRetry(ctx, `
		INSERT INTO jobs (id, queue, item_id, session_token, status, attempt, enqueued_at, updated_at)
		VALUES (?, ?, ?, ?, 'queued', 1, ?, ?)
		ON CONFLICT (queue, item_id) WHERE status IN ('queued', 'running') DO NOTHING`,
		uuid.NewString(), queue, itemID, sessionToken, now, now)
	if err != nil {
		return false, fmt.Errorf("ensure job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ensure job rows: %w", err)
	}
	return affected > 0, nil
}

// Claim atomically transitions the oldest queued job in the named queue to
// running and returns it. Returns nil when the queue is empty.
func (s *Store) Claim(ctx context.Context, queue string) (*Job, error) {
	ctx = ensureContext(ctx)
	var claimed *Job
	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin claim tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		row := tx.QueryRowContext(ctx, `
			SELECT id FROM jobs
			WHERE queue = ? AND status = 'queued'
			ORDER BY enqueued_at ASC
			LIMIT 1`, queue)
		var jobID string
		if err := row.Scan(&jobID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				claimed = nil
				return tx.Commit()
			}
			return fmt.Errorf("select queued job: %w", err)
		}

		now := formatTime(time.Now())
		res, err := tx.ExecContext(ctx, `
			UPDATE jobs SET status = 'running', started_at = ?, updated_at = ?
			WHERE id = ? AND status = 'queued'`, now, now, jobID)
		if err != nil {
			return fmt.Errorf("mark running: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("mark running rows: %w", err)
		}
		if affected == 0 {
			claimed = nil
			return tx.Commit()
		}

		job, err := scanJob(tx.QueryRowContext(ctx, selectJobSQL+" WHERE id = ?", jobID))
		if err != nil {
			return fmt.Errorf("load claimed job: %w", err)
		}
		claimed = job
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// MarkDone records successful completion of a running job.
func (s *Store) MarkDone(ctx context.Context, jobID string) error {
	now := formatTime(time.Now())
	res, err := s.execWithRetry(ctx, `
		UPDATE jobs SET status = 'done', error = '', finished_at = ?, updated_at = ?
		WHERE id = ? AND status = 'running'`, now, now, jobID)
	if err != nil {
		return fmt.Errorf("mark done: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark done rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("mark done: job %s not running", jobID)
	}
	return nil
}

// MarkDead parks a running job in the dead-letter registry with the captured
// failure message. Dead jobs are never retried automatically.
func (s *Store) MarkDead(ctx context.Context, jobID, message string) error {
	now := formatTime(time.Now())
	res, err := s.execWithRetry(ctx, `
		UPDATE jobs SET status = 'dead', error = ?, finished_at = ?, updated_at = ?
		WHERE id = ? AND status = 'running'`, message, now, now, jobID)
	if err != nil {
		return fmt.Errorf("mark dead: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark dead rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("mark dead: job %s not running", jobID)
	}
	return nil
}

// Requeue returns a dead job to its queue with an incremented attempt count.
func (s *Store) Requeue(ctx context.Context, jobID string) error {
	now := formatTime(time.Now())
	res, err := s.execWithRetry(ctx, `
		UPDATE jobs SET status = 'queued', error = '', attempt = attempt + 1,
			started_at = NULL, finished_at = NULL, enqueued_at = ?, updated_at = ?
		WHERE id = ? AND status = 'dead'`, now, now, jobID)
	if err != nil {
		return fmt.Errorf("requeue job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("requeue rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("requeue: job %s not in dead-letter registry", jobID)
	}
	return nil
}

// ReleaseStale returns running jobs older than the cutoff to the queued state.
// Used on daemon startup to recover jobs orphaned by a crash.
func (s *Store) ReleaseStale(ctx context.Context, cutoff time.Time) (int, error) {
	now := formatTime(time.Now())
	res, err := s.execWithRetry(ctx, `
		UPDATE jobs SET status = 'queued', started_at = NULL, updated_at = ?
		WHERE status = 'running' AND started_at < ?`, now, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("release stale jobs: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("release stale rows: %w", err)
	}
	return int(affected), nil
}

// ClearDone removes completed job rows finished before the cutoff.
func (s *Store) ClearDone(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.execWithRetry(ctx, `
		DELETE FROM jobs WHERE status = 'done' AND finished_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("clear done jobs: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear done rows: %w", err)
	}
	return int(affected), nil
}

const selectJobSQL = `
	SELECT id, queue, item_id, session_token, status, attempt, error,
		enqueued_at, started_at, finished_at, updated_at
	FROM jobs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job        Job
		status     string
		enqueuedAt string
		updatedAt  string
		startedAt  sql.NullString
		finishedAt sql.NullString
	)
	if err := row.Scan(&job.ID, &job.Queue, &job.ItemID, &job.SessionToken,
		&status, &job.Attempt, &job.Error,
		&enqueuedAt, &startedAt, &finishedAt, &updatedAt); err != nil {
		return nil, err
	}
	parsed, ok := ParseJobStatus(status)
	if !ok {
		return nil, fmt.Errorf("unknown job status %q", status)
	}
	job.Status = parsed
	job.EnqueuedAt = parseTime(enqueuedAt)
	job.UpdatedAt = parseTime(updatedAt)
	job.StartedAt = parseNullableTime(startedAt)
	job.FinishedAt = parseNullableTime(finishedAt)
	return &job, nil
}

// Get returns a single job by ID.
func (s *Store) Get(ctx context.Context, jobID string) (*Job, error) {
	ctx = ensureContext(ctx)
	job, err := scanJob(s.db.QueryRowContext(ctx, selectJobSQL+" WHERE id = ?", jobID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// DeadLetter lists jobs parked in the dead-letter registry, newest first.
func (s *Store) DeadLetter(ctx context.Context) ([]*Job, error) {
	return s.listByStatus(ctx, JobDead)
}

func (s *Store) listByStatus(ctx context.Context, status JobStatus) ([]*Job, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, selectJobSQL+` WHERE status = ? ORDER BY updated_at DESC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

// Depths reports per-queue counts for each job state.
func (s *Store) Depths(ctx context.Context) ([]Depth, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `
		SELECT queue,
			SUM(CASE WHEN status = 'queued' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'running' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'done' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'dead' THEN 1 ELSE 0 END)
		FROM jobs
		GROUP BY queue
		ORDER BY queue`)
	if err != nil {
		return nil, fmt.Errorf("queue depths: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var depths []Depth
	for rows.Next() {
		var d Depth
		if err := rows.Scan(&d.Queue, &d.Queued, &d.Running, &d.Done, &d.Dead); err != nil {
			return nil, fmt.Errorf("scan depth: %w", err)
		}
		depths = append(depths, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate depths: %w", err)
	}
	return depths, nil
}
