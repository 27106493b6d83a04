package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/aktibguard/aktibguard/internal/db"
	"github.com/aktibguard/aktibguard/internal/db/storetest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "aktibguard.db"), zerolog.Nop())
	require.NoError(t, err)
	return store
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) db.Store {
		return newTestStore(t)
	})
}

func TestOpen_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "aktibguard.db")
	store, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	defer store.Close()

	health := store.Health()
	assert.Equal(t, "sqlite", health["driver"])
	assert.Equal(t, path, health["path"])
}

func TestOpen_ReopenExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aktibguard.db")

	store, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, store.migrate(), "schema must be re-appliable")
	store.Close()

	store, err = Open(path, zerolog.Nop())
	require.NoError(t, err)
	defer store.Close()
}
