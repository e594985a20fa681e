package queue

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/quarrysearch/quarry/internal/errors"
)

// Queue names. Lexical indexing runs one queue per store so that a
// single worker owns each bleve index; embedding shares one global
// queue across stores.
const (
	EmbedQueue       = "embed"
	lexicalPrefix    = "lex:"
	EmbedConcurrency = 2
)

// LexicalQueue returns the per-store lexical queue name.
func LexicalQueue(store string) string {
	return lexicalPrefix + store
}

// Retry backoff bounds. Attempt 1 waits backoffBase; the delay doubles
// per attempt and never exceeds backoffMax. Jobs are never dropped.
const (
	backoffBase = 2 * time.Second
	backoffMax  = 30 * time.Second
)

// Backoff returns the re-enqueue delay for the given attempt count.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := backoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= backoffMax {
			return backoffMax
		}
	}
	if d > backoffMax {
		return backoffMax
	}
	return d
}

// Kind identifies what a job's payload describes.
type Kind string

const (
	KindLexicalIndex Kind = "lexical_index"
	KindEmbed        Kind = "embed"
	KindDelete       Kind = "delete"
)

// Status is a job's lifecycle state. There is no terminal failure
// state: failed jobs go back to pending with a backoff delay.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// Retried jobs are demoted so that newer work can overtake them.
const (
	priorityNormal  = 0
	priorityRetried = 1
)

// DefaultRetainCompleted bounds how many completed jobs are kept per
// queue for observability.
const DefaultRetainCompleted = 100

// Job is one durable unit of work.
type Job struct {
	ID        int64
	Queue     string
	Kind      Kind
	Payload   []byte
	Status    Status
	Priority  int
	Attempt   int
	RunAt     time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
	LastError string
}

// Queue is a durable FIFO job queue over SQLite. Within one queue name,
// jobs accepted in order execute in order; retried jobs re-enter at
// lower priority and may be overtaken by newer work.
type Queue struct {
	db     *sql.DB
	logger *slog.Logger
	retain int

	now func() time.Time
}

// Option configures a Queue.
type Option func(*Queue)

// WithRetainCompleted overrides how many completed jobs are kept.
func WithRetainCompleted(n int) Option {
	return func(q *Queue) { q.retain = n }
}

// WithClock overrides the time source. Tests use it to make backoff
// windows observable without sleeping.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// New wraps an open database as a Queue and ensures the schema exists.
func New(db *sql.DB, logger *slog.Logger, opts ...Option) (*Queue, error) {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		db:     db,
		logger: logger,
		retain: DefaultRetainCompleted,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	if err := q.initSchema(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Queue) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		queue      TEXT NOT NULL,
		kind       TEXT NOT NULL,
		payload    BLOB NOT NULL,
		status     TEXT NOT NULL DEFAULT 'pending',
		priority   INTEGER NOT NULL DEFAULT 0,
		attempt    INTEGER NOT NULL DEFAULT 0,
		run_at     INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		last_error TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_claim
		ON jobs(queue, status, priority, id);
	`
	if _, err := q.db.Exec(schema); err != nil {
		return errors.Internal("queue.initSchema", err)
	}
	return nil
}

// Enqueue appends a job to the named queue and returns its ID.
func (q *Queue) Enqueue(ctx context.Context, queue string, kind Kind, payload []byte) (int64, error) {
	if queue == "" {
		return 0, errors.InvalidArgument("queue.Enqueue", "queue name must not be empty")
	}
	now := q.now().UnixMilli()
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO jobs (queue, kind, payload, status, priority, attempt, run_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)
	`, queue, string(kind), payload, string(StatusPending), priorityNormal, now, now, now)
	if err != nil {
		return 0, errors.Internal("queue.Enqueue", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errors.Internal("queue.Enqueue", err)
	}
	q.logger.Debug("job_enqueued",
		slog.Int64("job_id", id),
		slog.String("queue", queue),
		slog.String("kind", string(kind)))
	return id, nil
}

// Dequeue claims the next runnable job in the named queue, marking it
// active. Returns nil when no job is due.
func (q *Queue) Dequeue(ctx context.Context, queue string) (*Job, error) {
	now := q.now().UnixMilli()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Internal("queue.Dequeue", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT id, queue, kind, payload, status, priority, attempt, run_at, created_at, updated_at, last_error
		FROM jobs
		WHERE queue = ? AND status = ? AND run_at <= ?
		ORDER BY priority ASC, id ASC
		LIMIT 1
	`, queue, string(StatusPending), now)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Internal("queue.Dequeue", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?
	`, string(StatusActive), now, job.ID); err != nil {
		return nil, errors.Internal("queue.Dequeue", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Internal("queue.Dequeue", err)
	}
	job.Status = StatusActive
	return job, nil
}

// Complete marks a job done and prunes old completed jobs in its queue.
func (q *Queue) Complete(ctx context.Context, job *Job) error {
	now := q.now().UnixMilli()
	if _, err := q.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?
	`, string(StatusCompleted), now, job.ID); err != nil {
		return errors.Internal("queue.Complete", err)
	}
	return q.pruneCompleted(ctx, job.Queue)
}

// Fail re-enqueues a job after a worker failure. The attempt counter is
// monotonic, the job is demoted to retry priority, and it becomes
// runnable again after the backoff delay.
func (q *Queue) Fail(ctx context.Context, job *Job, cause error) error {
	attempt := job.Attempt + 1
	delay := Backoff(attempt)
	if cause != nil && !errors.IsRetryable(cause) {
		// Validation and internal faults will not heal on their own;
		// skip straight to the slowest cadence instead of hammering.
		delay = backoffMax
	}
	now := q.now()

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if _, err := q.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?, priority = ?, attempt = ?, run_at = ?, updated_at = ?, last_error = ?
		WHERE id = ?
	`, string(StatusPending), priorityRetried, attempt,
		now.Add(delay).UnixMilli(), now.UnixMilli(), msg, job.ID); err != nil {
		return errors.Internal("queue.Fail", err)
	}

	job.Status = StatusPending
	job.Priority = priorityRetried
	job.Attempt = attempt
	q.logger.Warn("job_retry_scheduled",
		slog.Int64("job_id", job.ID),
		slog.String("queue", job.Queue),
		slog.Int("attempt", attempt),
		slog.Duration("delay", delay),
		slog.String("error", msg))
	return nil
}

// Recover returns active jobs to pending. Called once at startup so
// that jobs interrupted by a crash run again.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	now := q.now().UnixMilli()
	res, err := q.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, run_at = ?, updated_at = ? WHERE status = ?
	`, string(StatusPending), now, now, string(StatusActive))
	if err != nil {
		return 0, errors.Internal("queue.Recover", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Internal("queue.Recover", err)
	}
	if n > 0 {
		q.logger.Info("jobs_recovered", slog.Int64("count", n))
	}
	return int(n), nil
}

// Pending counts runnable and delayed jobs in the named queue.
func (q *Queue) Pending(ctx context.Context, queue string) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM jobs WHERE queue = ? AND status IN (?, ?)
	`, queue, string(StatusPending), string(StatusActive)).Scan(&n)
	if err != nil {
		return 0, errors.Internal("queue.Pending", err)
	}
	return n, nil
}

// Queues lists queue names that currently hold unfinished jobs.
func (q *Queue) Queues(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT DISTINCT queue FROM jobs WHERE status IN (?, ?) ORDER BY queue
	`, string(StatusPending), string(StatusActive))
	if err != nil {
		return nil, errors.Internal("queue.Queues", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Internal("queue.Queues", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Internal("queue.Queues", err)
	}
	return names, nil
}

// Get fetches a job by ID.
func (q *Queue) Get(ctx context.Context, id int64) (*Job, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, queue, kind, payload, status, priority, attempt, run_at, created_at, updated_at, last_error
		FROM jobs WHERE id = ?
	`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("queue.Get", "", fmt.Sprintf("job %d does not exist", id))
	}
	if err != nil {
		return nil, errors.Internal("queue.Get", err)
	}
	return job, nil
}

func (q *Queue) pruneCompleted(ctx context.Context, queue string) error {
	_, err := q.db.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE queue = ? AND status = ? AND id NOT IN (
			SELECT id FROM jobs
			WHERE queue = ? AND status = ?
			ORDER BY id DESC
			LIMIT ?
		)
	`, queue, string(StatusCompleted), queue, string(StatusCompleted), q.retain)
	if err != nil {
		return errors.Internal("queue.pruneCompleted", err)
	}
	return nil
}

// Close closes the underlying database.
func (q *Queue) Close() error {
	return q.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job                         Job
		kind, status                string
		runAt, createdAt, updatedAt int64
	)
	err := row.Scan(&job.ID, &job.Queue, &kind, &job.Payload, &status,
		&job.Priority, &job.Attempt, &runAt, &createdAt, &updatedAt, &job.LastError)
	if err != nil {
		return nil, err
	}
	job.Kind = Kind(kind)
	job.Status = Status(status)
	job.RunAt = time.UnixMilli(runAt)
	job.CreatedAt = time.UnixMilli(createdAt)
	job.UpdatedAt = time.UnixMilli(updatedAt)
	return &job, nil
}
