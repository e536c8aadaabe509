package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sudo-init-do/channelhub/internal/config"
	"github.com/sudo-init-do/channelhub/internal/logging"
	"github.com/sudo-init-do/channelhub/internal/storage"
)

func TestOpenBackends(t *testing.T) {
	ctx := context.Background()

	mem, err := Open(ctx, config.Config{StoreBackend: config.BackendMemory}, logging.Discard())
	require.NoError(t, err)
	require.NoError(t, mem.Set(ctx, "accounts/a", map[string]any{"email": "ann@x.io"}))
	require.NoError(t, mem.Close())

	dir := filepath.Join(t.TempDir(), "ldb")
	ldb, err := Open(ctx, config.Config{StoreBackend: config.BackendLevelDB, LevelDBPath: dir}, logging.Discard())
	require.NoError(t, err)
	_, err = ldb.Get(ctx, "accounts/missing")
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, ldb.Close())

	_, err = Open(ctx, config.Config{StoreBackend: "cassandra"}, logging.Discard())
	require.ErrorContains(t, err, "cassandra")
}
