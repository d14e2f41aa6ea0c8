package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/reelforge/transcoder/internal/model"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	return db
}

func TestDurableStoreSaveAndLoad(t *testing.T) {
	db := setupTestDB(t)
	store, err := NewDurableStore(db, nil)
	require.NoError(t, err)

	job := newJob("j1", model.StatusInProgress)
	job.SetProgress(42, "encoding 720p")
	require.NoError(t, store.Save(job))

	snap, ok, err := store.LoadSnapshot("j1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 42, snap.Progress)
	assert.Equal(t, model.StatusInProgress, snap.Status)
}

func TestDurableStoreLoadMissing(t *testing.T) {
	db := setupTestDB(t)
	store, err := NewDurableStore(db, nil)
	require.NoError(t, err)

	_, ok, err := store.LoadSnapshot("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}
