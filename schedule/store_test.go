package schedule

import (
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chimeworks/chime/errors"
	chimetest "github.com/chimeworks/chime/internal/testing"
)

func testDefinition(owner, name string) *JobDefinition {
	return &JobDefinition{
		OwnerService: owner,
		Name:         name,
		Description:  "test job",
		Enabled:      true,
		Kind:         KindInterval,
		Spec:         "5 minutes",
		Target:       "mailer.tasks:sync_inbox",
		Args:         []any{"inbox", float64(25)},
		Kwargs:       map[string]any{"dry_run": false},
	}
}

func TestRegisterAndGet(t *testing.T) {
	db := chimetest.CreateTestDB(t)
	store := NewStore(db)

	def := testDefinition("mailer", "sync")
	require.NoError(t, store.Register(def))

	retrieved, err := store.Get("mailer", "sync")
	require.NoError(t, err)
	assert.Equal(t, def.OwnerService, retrieved.OwnerService)
	assert.Equal(t, def.Name, retrieved.Name)
	assert.Equal(t, KindInterval, retrieved.Kind)
	assert.Equal(t, "5 minutes", retrieved.Spec)
	assert.Equal(t, def.Target, retrieved.Target)
	assert.Equal(t, def.Args, retrieved.Args)
	assert.Equal(t, def.Kwargs, retrieved.Kwargs)
	assert.True(t, retrieved.Enabled)
	assert.False(t, retrieved.CreatedAt.IsZero())
}

func TestRegisterDuplicate(t *testing.T) {
	db := chimetest.CreateTestDB(t)
	store := NewStore(db)

	first := testDefinition("mailer", "sync")
	require.NoError(t, store.Register(first))

	second := testDefinition("mailer", "sync")
	second.Spec = "10 minutes"
	err := store.Register(second)
	require.Error(t, err)
	assert.True(t, errors.IsDuplicateJob(err))

	// First registration remains intact
	retrieved, err := store.Get("mailer", "sync")
	require.NoError(t, err)
	assert.Equal(t, "5 minutes", retrieved.Spec)
}

func TestRegisterInvalidSchedule(t *testing.T) {
	db := chimetest.CreateTestDB(t)
	store := NewStore(db)

	def := testDefinition("mailer", "sync")
	def.Spec = "whenever"
	err := store.Register(def)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidSchedule(err))

	// Nothing was persisted
	_, err = store.Get("mailer", "sync")
	assert.True(t, errors.IsNotFound(err))
}

func TestGetNotFound(t *testing.T) {
	db := chimetest.CreateTestDB(t)
	store := NewStore(db)

	_, err := store.Get("ghost", "job")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestListFiltersByOwner(t *testing.T) {
	db := chimetest.CreateTestDB(t)
	store := NewStore(db)

	require.NoError(t, store.Register(testDefinition("mailer", "sync")))
	require.NoError(t, store.Register(testDefinition("mailer", "digest")))
	require.NoError(t, store.Register(testDefinition("billing", "invoice")))

	all, err := store.List("")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	mailer, err := store.List("mailer")
	require.NoError(t, err)
	assert.Len(t, mailer, 2)
	for _, def := range mailer {
		assert.Equal(t, "mailer", def.OwnerService)
	}
}

func TestEnableDisable(t *testing.T) {
	db := chimetest.CreateTestDB(t)
	store := NewStore(db)

	require.NoError(t, store.Register(testDefinition("mailer", "sync")))

	require.NoError(t, store.SetEnabled("mailer", "sync", false))
	def, err := store.Get("mailer", "sync")
	require.NoError(t, err)
	assert.False(t, def.Enabled)

	enabled, err := store.ListEnabled()
	require.NoError(t, err)
	assert.Empty(t, enabled)

	require.NoError(t, store.SetEnabled("mailer", "sync", true))
	enabled, err = store.ListEnabled()
	require.NoError(t, err)
	assert.Len(t, enabled, 1)

	err = store.SetEnabled("ghost", "job", true)
	assert.True(t, errors.IsNotFound(err))
}

func TestUpdateSchedule(t *testing.T) {
	db := chimetest.CreateTestDB(t)
	store := NewStore(db)

	require.NoError(t, store.Register(testDefinition("mailer", "sync")))

	require.NoError(t, store.UpdateSchedule("mailer", "sync", KindCron, "0 * * * *"))
	def, err := store.Get("mailer", "sync")
	require.NoError(t, err)
	assert.Equal(t, KindCron, def.Kind)
	assert.Equal(t, "0 * * * *", def.Spec)

	// Invalid spec is rejected without touching the stored schedule
	err = store.UpdateSchedule("mailer", "sync", KindInterval, "sometimes")
	require.Error(t, err)
	assert.True(t, errors.IsInvalidSchedule(err))

	def, err = store.Get("mailer", "sync")
	require.NoError(t, err)
	assert.Equal(t, "0 * * * *", def.Spec)
}

func TestUnregister(t *testing.T) {
	db := chimetest.CreateTestDB(t)
	store := NewStore(db)

	require.NoError(t, store.Register(testDefinition("mailer", "sync")))
	require.NoError(t, store.Unregister("mailer", "sync"))

	_, err := store.Get("mailer", "sync")
	assert.True(t, errors.IsNotFound(err))

	err = store.Unregister("mailer", "sync")
	assert.True(t, errors.IsNotFound(err))
}
