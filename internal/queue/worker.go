package queue

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// HandlerFunc executes one job. A nil return completes the job; an
// error re-enqueues it with backoff.
type HandlerFunc func(ctx context.Context, job *Job) error

// Worker polls one queue and runs jobs with a fixed concurrency.
// Lexical queues run with concurrency 1 so a single goroutine owns the
// store's bleve index; the embed queue runs with EmbedConcurrency.
type Worker struct {
	queue   *Queue
	logger  *slog.Logger
	poll    time.Duration
	handler HandlerFunc
}

// NewWorker creates a worker over q. pollInterval <= 0 selects the
// default of 250ms.
func NewWorker(q *Queue, handler HandlerFunc, logger *slog.Logger, pollInterval time.Duration) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if pollInterval <= 0 {
		pollInterval = 250 * time.Millisecond
	}
	return &Worker{queue: q, logger: logger, poll: pollInterval, handler: handler}
}

// Run processes the named queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context, queueName string, concurrency int) error {
	if concurrency < 1 {
		concurrency = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		g.Go(func() error {
			return w.loop(ctx, queueName)
		})
	}
	return g.Wait()
}

func (w *Worker) loop(ctx context.Context, queueName string) error {
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		job, err := w.queue.Dequeue(ctx, queueName)
		if err != nil {
			w.logger.Error("job_dequeue_failed",
				slog.String("queue", queueName),
				slog.String("error", err.Error()))
		} else if job != nil {
			w.process(ctx, job)
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *Worker) process(ctx context.Context, job *Job) {
	start := time.Now()
	err := w.handler(ctx, job)
	if err == nil {
		if cerr := w.queue.Complete(ctx, job); cerr != nil {
			w.logger.Error("job_complete_failed",
				slog.Int64("job_id", job.ID),
				slog.String("error", cerr.Error()))
		}
		w.logger.Debug("job_completed",
			slog.Int64("job_id", job.ID),
			slog.String("queue", job.Queue),
			slog.Duration("elapsed", time.Since(start)))
		return
	}

	// The re-enqueue must itself succeed; jobs are never dropped.
	attempt := job.Attempt + 1
	for {
		ferr := w.queue.Fail(ctx, job, err)
		if ferr == nil {
			return
		}
		w.logger.Error("job_requeue_failed",
			slog.Int64("job_id", job.ID),
			slog.String("error", ferr.Error()))
		select {
		case <-ctx.Done():
			return
		case <-time.After(Backoff(attempt)):
		}
	}
}

// Dispatcher keeps one Worker running per live queue. It recovers
// interrupted jobs at startup, then rescans for new per-store lexical
// queues as stores are created.
type Dispatcher struct {
	queue   *Queue
	logger  *slog.Logger
	handler HandlerFunc
	poll    time.Duration

	mu      sync.Mutex
	running map[string]struct{}
}

// NewDispatcher creates a dispatcher over q.
func NewDispatcher(q *Queue, handler HandlerFunc, logger *slog.Logger, pollInterval time.Duration) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		queue:   q,
		logger:  logger,
		handler: handler,
		poll:    pollInterval,
		running: make(map[string]struct{}),
	}
}

// Run blocks until ctx is cancelled, spawning workers for every queue
// that holds work. The embed queue always runs.
func (d *Dispatcher) Run(ctx context.Context) error {
	if _, err := d.queue.Recover(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	d.ensure(ctx, g, EmbedQueue)

	scan := time.NewTicker(time.Second)
	defer scan.Stop()

	g.Go(func() error {
		for {
			names, err := d.queue.Queues(ctx)
			if err != nil {
				d.logger.Error("queue_scan_failed", slog.String("error", err.Error()))
			}
			for _, name := range names {
				d.ensure(ctx, g, name)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-scan.C:
			}
		}
	})
	return g.Wait()
}

func (d *Dispatcher) ensure(ctx context.Context, g *errgroup.Group, name string) {
	d.mu.Lock()
	if _, ok := d.running[name]; ok {
		d.mu.Unlock()
		return
	}
	d.running[name] = struct{}{}
	d.mu.Unlock()

	concurrency := 1
	if name == EmbedQueue {
		concurrency = EmbedConcurrency
	}
	d.logger.Info("queue_worker_started",
		slog.String("queue", name),
		slog.Int("concurrency", concurrency))

	worker := NewWorker(d.queue, d.handler, d.logger, d.poll)
	g.Go(func() error {
		return worker.Run(ctx, name, concurrency)
	})
}

// IsLexicalQueue reports whether name is a per-store lexical queue and
// returns the store name.
func IsLexicalQueue(name string) (string, bool) {
	if strings.HasPrefix(name, lexicalPrefix) {
		return strings.TrimPrefix(name, lexicalPrefix), true
	}
	return "", false
}
