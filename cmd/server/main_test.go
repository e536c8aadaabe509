package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sudo-init-do/channelhub/internal/storage/levelstore"
)

func TestRunReleasesStoreOnStartupError(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ldb")
	t.Setenv("STORE_BACKEND", "leveldb")
	t.Setenv("LEVELDB_PATH", dir)
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("LOG_FILE", "")
	t.Setenv("ENGAGEMENT_RANGES_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	err := run()
	require.ErrorContains(t, err, "load engagement ranges")

	// leveldb holds a file lock until closed
	s, err := levelstore.Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}
