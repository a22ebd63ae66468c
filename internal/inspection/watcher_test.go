package inspection

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifestWatcherInvalidatesCacheOnWrite(t *testing.T) {
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "Cargo.toml")
	require.NoError(t, os.WriteFile(manifestPath, []byte("[package]\n"), 0o644))

	toolchainMu.Lock()
	toolchainCached = true
	toolchainDetail = toolchainDetails{channel: Nightly}
	toolchainMu.Unlock()

	w, err := NewManifestWatcher(dir)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(manifestPath, []byte("[package]\nname = \"demo\"\n"), 0o644))

	assert.Eventually(t, func() bool {
		toolchainMu.Lock()
		defer toolchainMu.Unlock()
		return !toolchainCached
	}, time.Second, 10*time.Millisecond)
}

func TestManifestWatcherStopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Cargo.toml"), []byte("[package]\n"), 0o644))

	w, err := NewManifestWatcher(dir)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	require.NoError(t, w.Stop())
	assert.NoError(t, w.Stop())
}
