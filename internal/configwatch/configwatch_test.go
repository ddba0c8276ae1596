package configwatch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/p2pstack/corenet/internal/config"
)

func writeConfig(t *testing.T, path string, cfg config.Config) {
	t.Helper()
	require.NoError(t, config.Save(path, cfg))
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "p2pcore.json")

	initial := config.Default()
	writeConfig(t, path, initial)

	w, err := New(path, initial)
	require.NoError(t, err)
	defer w.Close()

	sub := w.Events()
	defer sub.Close()

	updated := initial
	updated.GossipSub.MeshDegree = 11
	writeConfig(t, path, updated)

	select {
	case ev := <-sub.Out():
		require.Equal(t, EventReloaded, ev.Kind)
		require.Equal(t, 11, ev.Config.GossipSub.MeshDegree)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload event")
	}
	require.Equal(t, 11, w.Current().GossipSub.MeshDegree)
}

func TestWatcherReportsReloadFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "p2pcore.json")

	initial := config.Default()
	writeConfig(t, path, initial)

	w, err := New(path, initial)
	require.NoError(t, err)
	defer w.Close()

	sub := w.Events()
	defer sub.Close()

	require.NoError(t, os.WriteFile(path, []byte("{not valid json"), 0o644))

	select {
	case ev := <-sub.Out():
		require.Equal(t, EventReloadFailed, ev.Kind)
		require.Error(t, ev.Err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload-failed event")
	}
	// last good config is still current
	require.Equal(t, initial.GossipSub.MeshDegree, w.Current().GossipSub.MeshDegree)
}
