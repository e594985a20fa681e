package queue

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerProcessesJobs(t *testing.T) {
	q := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var processed atomic.Int64
	worker := NewWorker(q, func(_ context.Context, job *Job) error {
		processed.Add(1)
		return nil
	}, slog.Default(), 10*time.Millisecond)

	for i := 0; i < 3; i++ {
		_, err := q.Enqueue(ctx, LexicalQueue("repo"), KindLexicalIndex, []byte{byte(i)})
		require.NoError(t, err)
	}

	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx, LexicalQueue("repo"), 1) }()

	require.Eventually(t, func() bool {
		return processed.Load() == 3
	}, 5*time.Second, 10*time.Millisecond)

	n, err := q.Pending(ctx, LexicalQueue("repo"))
	require.NoError(t, err)
	assert.Zero(t, n)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestWorkerRetriesFailedJob(t *testing.T) {
	clock := newFakeClock()
	q := newTestQueue(t, WithClock(clock.Now))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var attempts atomic.Int64
	worker := NewWorker(q, func(_ context.Context, job *Job) error {
		if attempts.Add(1) == 1 {
			return assert.AnError
		}
		return nil
	}, slog.Default(), 10*time.Millisecond)

	_, err := q.Enqueue(ctx, EmbedQueue, KindEmbed, []byte("x"))
	require.NoError(t, err)

	go func() { _ = worker.Run(ctx, EmbedQueue, 1) }()

	require.Eventually(t, func() bool {
		return attempts.Load() == 1
	}, 5*time.Second, 10*time.Millisecond)

	// Past the retry window the job runs again and completes.
	clock.Advance(3 * time.Second)
	require.Eventually(t, func() bool {
		return attempts.Load() == 2
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		n, err := q.Pending(ctx, EmbedQueue)
		return err == nil && n == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWorkerConcurrencyOneSerializesJobs(t *testing.T) {
	q := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var inFlight, maxInFlight int
	var total atomic.Int64
	worker := NewWorker(q, func(_ context.Context, job *Job) error {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		total.Add(1)
		return nil
	}, slog.Default(), 5*time.Millisecond)

	for i := 0; i < 4; i++ {
		_, err := q.Enqueue(ctx, LexicalQueue("repo"), KindLexicalIndex, []byte{byte(i)})
		require.NoError(t, err)
	}

	go func() { _ = worker.Run(ctx, LexicalQueue("repo"), 1) }()

	require.Eventually(t, func() bool {
		return total.Load() == 4
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, maxInFlight, "lexical queue must have a single writer")
}

func TestDispatcherRecoversAndSpawnsWorkers(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Simulate a crash: a job left active by a previous process.
	db, err := Open(dir + "/jobs.db")
	require.NoError(t, err)
	q, err := New(db, slog.Default())
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, LexicalQueue("repo"), KindLexicalIndex, []byte("orphan"))
	require.NoError(t, err)
	job, err := q.Dequeue(ctx, LexicalQueue("repo"))
	require.NoError(t, err)
	require.NotNil(t, job)
	require.NoError(t, q.Close())

	db, err = Open(dir + "/jobs.db")
	require.NoError(t, err)
	q, err = New(db, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })

	var processed atomic.Int64
	d := NewDispatcher(q, func(_ context.Context, job *Job) error {
		processed.Add(1)
		return nil
	}, slog.Default(), 10*time.Millisecond)

	go func() { _ = d.Run(ctx) }()

	require.Eventually(t, func() bool {
		return processed.Load() == 1
	}, 5*time.Second, 10*time.Millisecond)
}
