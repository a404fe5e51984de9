package schedule

import (
	"context"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chimeworks/chime/dispatch"
	chimetest "github.com/chimeworks/chime/internal/testing"
)

func newTestScheduler(t *testing.T) (*Scheduler, *Store, *dispatch.Dispatcher) {
	t.Helper()
	db := chimetest.CreateTestDB(t)
	store := NewStore(db)
	dispatcher := dispatch.NewDispatcher(db)
	scheduler := NewScheduler(context.Background(), store, dispatcher, DefaultSchedulerConfig(), zap.NewNop().Sugar())
	return scheduler, store, dispatcher
}

func registerIntervalJob(t *testing.T, store *Store, createdAt time.Time) *JobDefinition {
	t.Helper()
	def := testDefinition("mailer", "sync")
	def.CreatedAt = createdAt
	require.NoError(t, store.Register(def))
	return def
}

func listExecutions(t *testing.T, dispatcher *dispatch.Dispatcher) []*dispatch.Execution {
	t.Helper()
	execs, err := dispatcher.Store().ListExecutions(dispatch.ExecutionFilter{})
	require.NoError(t, err)
	return execs
}

func TestTickNotYetDue(t *testing.T) {
	scheduler, store, dispatcher := newTestScheduler(t)
	now := time.Now().UTC()

	// Registered now, 5 minute interval: first fire is one full period
	// after registration, never immediately
	registerIntervalJob(t, store, now)

	require.NoError(t, scheduler.Tick(context.Background(), now))
	assert.Empty(t, listExecutions(t, dispatcher))

	require.NoError(t, scheduler.Tick(context.Background(), now.Add(4*time.Minute)))
	assert.Empty(t, listExecutions(t, dispatcher))
}

func TestTickDispatchesDueJob(t *testing.T) {
	scheduler, store, dispatcher := newTestScheduler(t)
	now := time.Now().UTC()

	def := registerIntervalJob(t, store, now.Add(-6*time.Minute))

	require.NoError(t, scheduler.Tick(context.Background(), now))

	execs := listExecutions(t, dispatcher)
	require.Len(t, execs, 1)
	assert.Equal(t, dispatch.StatusQueued, execs[0].Status)
	assert.Equal(t, def.OwnerService, execs[0].OwnerService)
	assert.Equal(t, def.Name, execs[0].JobName)
	assert.Equal(t, def.Target, execs[0].Target)
}

func TestTickSkipsInFlightJob(t *testing.T) {
	scheduler, store, dispatcher := newTestScheduler(t)
	now := time.Now().UTC()

	registerIntervalJob(t, store, now.Add(-time.Hour))

	require.NoError(t, scheduler.Tick(context.Background(), now))
	require.Len(t, listExecutions(t, dispatcher), 1)

	// Queued execution in flight: ticks far in the future still skip
	require.NoError(t, scheduler.Tick(context.Background(), now.Add(time.Hour)))
	assert.Len(t, listExecutions(t, dispatcher), 1)

	// Running execution in flight: still skipped
	exec, err := dispatcher.Claim()
	require.NoError(t, err)
	require.NotNil(t, exec)
	require.NoError(t, scheduler.Tick(context.Background(), now.Add(2*time.Hour)))
	assert.Len(t, listExecutions(t, dispatcher), 1)
}

func TestTickMeasuresNextPeriodFromLastDispatch(t *testing.T) {
	scheduler, store, dispatcher := newTestScheduler(t)
	now := time.Now().UTC()

	registerIntervalJob(t, store, now.Add(-time.Hour))

	require.NoError(t, scheduler.Tick(context.Background(), now))
	execs := listExecutions(t, dispatcher)
	require.Len(t, execs, 1)
	firstEnqueuedAt := execs[0].EnqueuedAt

	// Finish the first execution
	exec, err := dispatcher.Claim()
	require.NoError(t, err)
	require.NoError(t, dispatcher.Complete(exec, "done"))

	// Next period is measured from the last dispatch, not registration
	require.NoError(t, scheduler.Tick(context.Background(), firstEnqueuedAt.Add(5*time.Minute-time.Second)))
	assert.Len(t, listExecutions(t, dispatcher), 1)

	require.NoError(t, scheduler.Tick(context.Background(), firstEnqueuedAt.Add(5*time.Minute+time.Second)))
	assert.Len(t, listExecutions(t, dispatcher), 2)
}

func TestTickMissedPeriodsDispatchOnce(t *testing.T) {
	scheduler, store, dispatcher := newTestScheduler(t)
	now := time.Now().UTC()

	// Many missed periods collapse into a single dispatch
	registerIntervalJob(t, store, now.Add(-24*time.Hour))

	require.NoError(t, scheduler.Tick(context.Background(), now))
	assert.Len(t, listExecutions(t, dispatcher), 1)
}

func TestTickIgnoresDisabledJobs(t *testing.T) {
	scheduler, store, dispatcher := newTestScheduler(t)
	now := time.Now().UTC()

	registerIntervalJob(t, store, now.Add(-time.Hour))
	require.NoError(t, store.SetEnabled("mailer", "sync", false))

	require.NoError(t, scheduler.Tick(context.Background(), now))
	assert.Empty(t, listExecutions(t, dispatcher))
}

func TestTickAfterCancelledExecution(t *testing.T) {
	scheduler, store, dispatcher := newTestScheduler(t)
	now := time.Now().UTC()

	registerIntervalJob(t, store, now.Add(-time.Hour))

	require.NoError(t, scheduler.Tick(context.Background(), now))
	execs := listExecutions(t, dispatcher)
	require.Len(t, execs, 1)

	// Cancelled is terminal: the job schedules again a period later
	cancelled, err := dispatcher.Cancel(execs[0].ID)
	require.NoError(t, err)
	require.True(t, cancelled)

	require.NoError(t, scheduler.Tick(context.Background(), execs[0].EnqueuedAt.Add(6*time.Minute)))
	assert.Len(t, listExecutions(t, dispatcher), 2)
}

func TestSchedulerStartStop(t *testing.T) {
	db := chimetest.CreateTestDB(t)
	store := NewStore(db)
	dispatcher := dispatch.NewDispatcher(db)

	scheduler := NewScheduler(context.Background(), store, dispatcher, SchedulerConfig{
		Interval: 10 * time.Millisecond,
	}, zap.NewNop().Sugar())

	scheduler.Start()
	time.Sleep(50 * time.Millisecond)
	scheduler.Stop()
}

func TestTickCronJob(t *testing.T) {
	scheduler, store, dispatcher := newTestScheduler(t)
	registeredAt := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

	def := &JobDefinition{
		OwnerService: "reporting",
		Name:         "daily_report",
		Enabled:      true,
		Kind:         KindCron,
		Spec:         "0 9 * * *",
		Target:       "svc.jobs:run_report",
		CreatedAt:    registeredAt,
	}
	require.NoError(t, store.Register(def))

	// Not due before 09:00
	require.NoError(t, scheduler.Tick(context.Background(), registeredAt.Add(30*time.Minute)))
	assert.Empty(t, listExecutions(t, dispatcher))

	// Due just after 09:00
	require.NoError(t, scheduler.Tick(context.Background(), time.Date(2024, 1, 1, 9, 0, 1, 0, time.UTC)))
	require.Len(t, listExecutions(t, dispatcher), 1)

	// Same day, one second later: not re-enqueued
	require.NoError(t, scheduler.Tick(context.Background(), time.Date(2024, 1, 1, 9, 0, 2, 0, time.UTC)))
	assert.Len(t, listExecutions(t, dispatcher), 1)
}
