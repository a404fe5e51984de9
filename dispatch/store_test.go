package dispatch

import (
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chimeworks/chime/errors"
	chimetest "github.com/chimeworks/chime/internal/testing"
)

func TestCreateAndGetExecution(t *testing.T) {
	db := chimetest.CreateTestDB(t)
	store := NewStore(db)

	exec := NewExecution("mailer", "sync", "mailer.tasks:sync_inbox", []any{"inbox"}, map[string]any{"limit": float64(10)})
	require.NoError(t, store.CreateExecution(exec))

	retrieved, err := store.GetExecution(exec.ID)
	require.NoError(t, err)
	assert.Equal(t, exec.ID, retrieved.ID)
	assert.Equal(t, StatusQueued, retrieved.Status)
	assert.Equal(t, exec.Target, retrieved.Target)
	assert.Equal(t, exec.Args, retrieved.Args)
	assert.Equal(t, exec.Kwargs, retrieved.Kwargs)
	assert.Nil(t, retrieved.StartedAt)
	assert.Nil(t, retrieved.FinishedAt)
	assert.Nil(t, retrieved.Error)
}

func TestGetExecutionNotFound(t *testing.T) {
	db := chimetest.CreateTestDB(t)
	store := NewStore(db)

	_, err := store.GetExecution("no-such-id")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestUpdateExecutionRoundTrip(t *testing.T) {
	db := chimetest.CreateTestDB(t)
	store := NewStore(db)

	exec := NewExecution("mailer", "sync", "t", nil, nil)
	require.NoError(t, store.CreateExecution(exec))

	exec.Start()
	exec.Succeed(map[string]any{"processed": float64(7)})
	require.NoError(t, store.UpdateExecution(exec))

	retrieved, err := store.GetExecution(exec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, retrieved.Status)
	require.NotNil(t, retrieved.StartedAt)
	require.NotNil(t, retrieved.FinishedAt)
	assert.Equal(t, map[string]any{"processed": float64(7)}, retrieved.Result)
}

func TestOldestQueuedOrder(t *testing.T) {
	db := chimetest.CreateTestDB(t)
	store := NewStore(db)

	first := NewExecution("a", "one", "t", nil, nil)
	second := NewExecution("a", "two", "t", nil, nil)
	second.EnqueuedAt = first.EnqueuedAt.Add(time.Second)
	require.NoError(t, store.CreateExecution(first))
	require.NoError(t, store.CreateExecution(second))

	oldest, err := store.OldestQueued()
	require.NoError(t, err)
	assert.Equal(t, first.ID, oldest.ID)

	first.Start()
	require.NoError(t, store.UpdateExecution(first))

	oldest, err = store.OldestQueued()
	require.NoError(t, err)
	assert.Equal(t, second.ID, oldest.ID)

	second.Start()
	require.NoError(t, store.UpdateExecution(second))

	_, err = store.OldestQueued()
	assert.True(t, errors.IsNotFound(err))
}

func TestLatestForJob(t *testing.T) {
	db := chimetest.CreateTestDB(t)
	store := NewStore(db)

	_, err := store.LatestForJob("mailer", "sync")
	assert.True(t, errors.IsNotFound(err))

	older := NewExecution("mailer", "sync", "t", nil, nil)
	older.EnqueuedAt = older.EnqueuedAt.Add(-time.Hour)
	newer := NewExecution("mailer", "sync", "t", nil, nil)
	other := NewExecution("billing", "invoice", "t", nil, nil)
	require.NoError(t, store.CreateExecution(older))
	require.NoError(t, store.CreateExecution(newer))
	require.NoError(t, store.CreateExecution(other))

	latest, err := store.LatestForJob("mailer", "sync")
	require.NoError(t, err)
	assert.Equal(t, newer.ID, latest.ID)
}

func TestStartIfQueued(t *testing.T) {
	db := chimetest.CreateTestDB(t)
	store := NewStore(db)

	exec := NewExecution("mailer", "sync", "t", nil, nil)
	require.NoError(t, store.CreateExecution(exec))

	exec.Start()
	claimed, err := store.StartIfQueued(exec)
	require.NoError(t, err)
	assert.True(t, claimed)

	retrieved, err := store.GetExecution(exec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, retrieved.Status)
	assert.NotNil(t, retrieved.StartedAt)

	// Already running: a competing claim of the same row loses
	competing := *retrieved
	competing.Start()
	claimed, err = store.StartIfQueued(&competing)
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestStartIfQueuedSkipsCancelled(t *testing.T) {
	db := chimetest.CreateTestDB(t)
	store := NewStore(db)

	exec := NewExecution("mailer", "sync", "t", nil, nil)
	require.NoError(t, store.CreateExecution(exec))

	cancelled, err := store.CancelIfQueued(exec.ID)
	require.NoError(t, err)
	require.True(t, cancelled)

	exec.Start()
	claimed, err := store.StartIfQueued(exec)
	require.NoError(t, err)
	assert.False(t, claimed)

	retrieved, err := store.GetExecution(exec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, retrieved.Status)
}

func TestCancelIfQueued(t *testing.T) {
	db := chimetest.CreateTestDB(t)
	store := NewStore(db)

	exec := NewExecution("mailer", "sync", "t", nil, nil)
	require.NoError(t, store.CreateExecution(exec))

	cancelled, err := store.CancelIfQueued(exec.ID)
	require.NoError(t, err)
	assert.True(t, cancelled)

	retrieved, err := store.GetExecution(exec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, retrieved.Status)
	assert.NotNil(t, retrieved.FinishedAt)

	// Terminal: a second cancel is a no-op returning false
	cancelled, err = store.CancelIfQueued(exec.ID)
	require.NoError(t, err)
	assert.False(t, cancelled)
}

func TestCancelIfQueuedSkipsRunning(t *testing.T) {
	db := chimetest.CreateTestDB(t)
	store := NewStore(db)

	exec := NewExecution("mailer", "sync", "t", nil, nil)
	require.NoError(t, store.CreateExecution(exec))
	exec.Start()
	require.NoError(t, store.UpdateExecution(exec))

	cancelled, err := store.CancelIfQueued(exec.ID)
	require.NoError(t, err)
	assert.False(t, cancelled)

	retrieved, err := store.GetExecution(exec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, retrieved.Status)
}

func TestListExecutionsFilter(t *testing.T) {
	db := chimetest.CreateTestDB(t)
	store := NewStore(db)

	queued := NewExecution("mailer", "sync", "t", nil, nil)
	running := NewExecution("mailer", "digest", "t", nil, nil)
	require.NoError(t, store.CreateExecution(queued))
	require.NoError(t, store.CreateExecution(running))
	running.Start()
	require.NoError(t, store.UpdateExecution(running))

	all, err := store.ListExecutions(ExecutionFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	byStatus, err := store.ListExecutions(ExecutionFilter{Status: StatusRunning})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, running.ID, byStatus[0].ID)

	byJob, err := store.ListExecutions(ExecutionFilter{OwnerService: "mailer", JobName: "sync"})
	require.NoError(t, err)
	require.Len(t, byJob, 1)
	assert.Equal(t, queued.ID, byJob[0].ID)

	limited, err := store.ListExecutions(ExecutionFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	// Offset pages past the newest row even without a limit
	offset, err := store.ListExecutions(ExecutionFilter{Offset: 1})
	require.NoError(t, err)
	assert.Len(t, offset, 1)
}

func TestReapStale(t *testing.T) {
	db := chimetest.CreateTestDB(t)
	store := NewStore(db)

	stale := NewExecution("mailer", "sync", "t", nil, nil)
	require.NoError(t, store.CreateExecution(stale))
	stale.Start()
	require.NoError(t, store.UpdateExecution(stale))

	fresh := NewExecution("mailer", "digest", "t", nil, nil)
	require.NoError(t, store.CreateExecution(fresh))

	// Nothing is older than a cutoff in the past
	reaped, err := store.ReapStale(time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, reaped)

	// A future cutoff catches the running execution, not the queued one
	reaped, err = store.ReapStale(time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, reaped, 1)
	assert.Equal(t, stale.ID, reaped[0])

	retrieved, err := store.GetExecution(stale.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, retrieved.Status)
	require.NotNil(t, retrieved.Error)
	assert.Equal(t, "WorkerLost", retrieved.Error.Type)

	queued, err := store.GetExecution(fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, queued.Status)
}

func TestPruneFinished(t *testing.T) {
	db := chimetest.CreateTestDB(t)
	store := NewStore(db)

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		exec := NewExecution("mailer", "sync", "t", nil, nil)
		exec.EnqueuedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.CreateExecution(exec))
		exec.Start()
		exec.Succeed(nil)
		require.NoError(t, store.UpdateExecution(exec))
	}
	inFlight := NewExecution("mailer", "sync", "t", nil, nil)
	require.NoError(t, store.CreateExecution(inFlight))

	pruned, err := store.PruneFinished(2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), pruned)

	remaining, err := store.ListExecutions(ExecutionFilter{OwnerService: "mailer", JobName: "sync"})
	require.NoError(t, err)
	assert.Len(t, remaining, 3) // 2 retained terminal + 1 queued

	// keep <= 0 keeps everything
	pruned, err = store.PruneFinished(0)
	require.NoError(t, err)
	assert.Zero(t, pruned)
}
