package queue

import (
	"context"
	"database/sql"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"
)

// The queue only depends on database/sql semantics, so it must behave
// the same over the CGO sqlite3 driver.
func TestQueueOverCgoDriver(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "jobs.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	q, err := New(db, slog.Default())
	require.NoError(t, err)
	defer q.Close()

	ctx := context.Background()
	id, err := q.Enqueue(ctx, LexicalQueue("repo"), KindLexicalIndex, []byte("x"))
	require.NoError(t, err)

	job, err := q.Dequeue(ctx, LexicalQueue("repo"))
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, id, job.ID)
	require.NoError(t, q.Complete(ctx, job))
}
