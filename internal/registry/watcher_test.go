package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statusOf(reg *Registry, id string) (Status, int) {
	for _, info := range reg.List() {
		if info.ID == id {
			tools := 0
			if info.Schema != nil {
				tools = len(info.Schema.Tools)
			}
			return info.Status, tools
		}
	}
	return "", 0
}

func TestWatcherReactsToDirectoryChanges(t *testing.T) {
	dir := t.TempDir()
	reg, _ := newTestRegistry(t)

	watcher := NewWatcher(reg, dir, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = watcher.Run(ctx)
	}()

	path := filepath.Join(dir, "calc.wasm")

	// Give the watcher goroutine a chance to establish its directory
	// watch; a file created before that is never reported.
	time.Sleep(100 * time.Millisecond)

	// A new binary appearing in the directory loads automatically.
	require.NoError(t, os.WriteFile(path, iface("add"), 0o644))
	require.Eventually(t, func() bool {
		status, tools := statusOf(reg, "calc")
		return status == StatusReady && tools == 1
	}, 3*time.Second, 10*time.Millisecond, "create must trigger a load")

	// Rewriting the binary reloads it in place.
	require.NoError(t, os.WriteFile(path, iface("add", "mul"), 0o644))
	require.Eventually(t, func() bool {
		status, tools := statusOf(reg, "calc")
		return status == StatusReady && tools == 2
	}, 3*time.Second, 10*time.Millisecond, "modification must trigger a reload")

	// Removing the binary unloads the component.
	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool {
		return len(reg.List()) == 0
	}, 3*time.Second, 10*time.Millisecond, "removal must trigger an unload")

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop on cancellation")
	}
}

func TestWatcherKeepsPriorVersionOnBadRewrite(t *testing.T) {
	dir := t.TempDir()
	reg, _ := newTestRegistry(t)

	watcher := NewWatcher(reg, dir, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = watcher.Run(ctx) }()

	path := filepath.Join(dir, "calc.wasm")

	// Give the watcher goroutine a chance to establish its directory
	// watch; a file created before that is never reported.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(path, iface("add", "sub"), 0o644))
	require.Eventually(t, func() bool {
		status, tools := statusOf(reg, "calc")
		return status == StatusReady && tools == 2
	}, 3*time.Second, 10*time.Millisecond)

	// An incompatible rewrite is rejected and the prior record serves on.
	require.NoError(t, os.WriteFile(path, iface("add"), 0o644))
	assert.Never(t, func() bool {
		_, tools := statusOf(reg, "calc")
		return tools != 2
	}, 500*time.Millisecond, 25*time.Millisecond)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "alpha.wasm"), iface("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "beta.wasm"), iface("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.wasm"), []byte("{not json"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	reg, _ := newTestRegistry(t)
	require.NoError(t, reg.LoadDir(context.Background(), dir),
		"individual load failures must not abort the scan")

	infos := reg.List()
	require.Len(t, infos, 3, "non-component files are skipped")
	assert.Equal(t, StatusReady, infos[0].Status) // alpha
	assert.Equal(t, StatusReady, infos[1].Status) // beta
	assert.Equal(t, "broken", infos[2].ID)
	assert.Equal(t, StatusFailed, infos[2].Status)
	assert.Error(t, infos[2].Err)

	require.Error(t, reg.LoadDir(context.Background(), filepath.Join(dir, "missing")))
}
