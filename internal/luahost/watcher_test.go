package luahost

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcherAddMissingFileFails(t *testing.T) {
	t.Parallel()

	h, _ := newTestHost(t)
	defer h.Close()

	w, err := NewWatcher(h, nil)
	require.NoError(t, err)
	defer w.Stop()

	require.Error(t, w.Add(filepath.Join(t.TempDir(), "absent.lua")))
}

func TestWatcherStartStop(t *testing.T) {
	t.Parallel()

	h, _ := newTestHost(t)
	defer h.Close()

	path := filepath.Join(t.TempDir(), "quiet.lua")
	require.NoError(t, os.WriteFile(path, []byte(`room.pluginSpec = {name = "quiet"}`), 0o644))

	w, err := NewWatcher(h, nil)
	require.NoError(t, err)
	require.NoError(t, w.Add(path))
	w.Start()
	require.NoError(t, w.Stop())
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	h, sess := newTestHost(t)
	defer h.Close()

	path := filepath.Join(t.TempDir(), "live.lua")
	require.NoError(t, os.WriteFile(path, []byte(`
		room.pluginSpec = {name = "live"}
		room.tag = "v1"
	`), 0o644))

	_, err := h.LoadFile(path, nil)
	require.NoError(t, err)

	w, err := NewWatcher(h, nil)
	require.NoError(t, err)
	w.debounce = 20 * time.Millisecond
	require.NoError(t, w.Add(path))
	w.Start()
	defer w.Stop()

	// Give the watch a moment to settle before the edit.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`
		room.pluginSpec = {name = "live"}
		room.tag = "v2"
	`), 0o644))

	require.Eventually(t, func() bool {
		id, ok := sess.ResolveName("live")
		if !ok {
			return false
		}
		tag, _ := sess.Scope(id).Get("tag")
		return tag == "v2"
	}, 3*time.Second, 25*time.Millisecond)
}
