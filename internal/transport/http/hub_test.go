package httpserver

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mdview/internal/app"
	"mdview/internal/contracts"
)

func newStallingHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(nil)
	hub.writeTimeout = 200 * time.Millisecond
	go hub.Run()
	t.Cleanup(hub.Stop)
	return hub
}

func floodHub(t *testing.T, hub *Hub) {
	t.Helper()
	large := strings.Repeat("x", 1<<20)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 256; i++ {
			hub.Emit(contracts.Notification{Event: contracts.EventFileChanged, Payload: large})
		}
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Emit blocked behind a window that does not read")
	}
}

func TestStopWatchWithUnreadWindow(t *testing.T) {
	hub := newStallingHub(t)

	viewer, err := app.NewViewer(app.Options{Notifier: hub})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = viewer.Close()
	})

	server := NewServer("127.0.0.1:0", viewer, hub, "", nil)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	_ = dialWindow(t, ts, contracts.PrimaryWindow)
	time.Sleep(100 * time.Millisecond)
	floodHub(t, hub)

	path := filepath.Join(t.TempDir(), "doc.md")
	require.NoError(t, os.WriteFile(path, []byte("# one\n"), 0o600))
	require.NoError(t, viewer.StartWatch(path))
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("# two\n"), 0o600))
	}
	time.Sleep(100 * time.Millisecond)

	stopped := make(chan error, 1)
	go func() {
		stopped <- viewer.StopWatch()
	}()

	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("StopWatch did not return")
	}

	_, active := viewer.WatchedPath()
	assert.False(t, active)
}

func TestUnreadWindowIsDropped(t *testing.T) {
	hub := newStallingHub(t)
	server := NewServer("127.0.0.1:0", &fakeCommands{}, hub, "", nil)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	_ = dialWindow(t, ts, "stalled")
	time.Sleep(100 * time.Millisecond)
	floodHub(t, hub)

	healthy := dialWindow(t, ts, contracts.PrimaryWindow)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				hub.Emit(contracts.Notification{Event: contracts.EventFileChanged, Payload: "small"})
			}
		}
	}()

	require.NoError(t, healthy.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var n contracts.Notification
		require.NoError(t, healthy.ReadJSON(&n))
		if n.Payload == "small" {
			break
		}
	}
}
