package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mdview/internal/app"
	"mdview/internal/contracts"
	"mdview/internal/render"
	"mdview/internal/settings"
)

type fakeCommands struct {
	launchPaths []string
	renderErr   error
	openedPath  string
	watched     string
	stopped     int
}

func (f *fakeCommands) RenderMarkdown(path string) (string, error) {
	if f.renderErr != nil {
		return "", f.renderErr
	}
	return "<p>" + path + "</p>\n", nil
}

func (f *fakeCommands) LaunchPaths() []string {
	return append([]string{}, f.launchPaths...)
}

func (f *fakeCommands) OpenExternally(_ context.Context, path string) error {
	f.openedPath = path
	return nil
}

func (f *fakeCommands) StartWatch(path string) error {
	if strings.Contains(path, "missing") {
		return errors.New("no such file or directory")
	}
	f.watched = path
	return nil
}

func (f *fakeCommands) StopWatch() error {
	f.stopped++
	f.watched = ""
	return nil
}

func (f *fakeCommands) Settings() contracts.Settings {
	return settings.Defaults()
}

func (f *fakeCommands) UpdateSettings(next contracts.Settings) (contracts.Settings, error) {
	if err := settings.Validate(next); err != nil {
		return contracts.Settings{}, err
	}
	return next, nil
}

func (f *fakeCommands) ToggleSetting(name string) (contracts.Settings, error) {
	s := settings.Defaults()
	if name != "minimap" {
		return contracts.Settings{}, settings.ErrUnknownSetting
	}
	s.Minimap = true
	return s, nil
}

type commandResult struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

func invoke(t *testing.T, h http.Handler, name string, body string) (int, commandResult) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/commands/"+name, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var res commandResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res), rec.Body.String())
	return rec.Code, res
}

func newTestServer(t *testing.T, commands Commands) (*Server, *Hub) {
	t.Helper()
	hub := NewHub(nil)
	go hub.Run()
	t.Cleanup(hub.Stop)
	return NewServer("127.0.0.1:0", commands, hub, "<html>shell</html>", nil), hub
}

func TestCommands(t *testing.T) {
	commands := &fakeCommands{launchPaths: []string{"/tmp/doc.md"}}
	server, _ := newTestServer(t, commands)
	h := server.Handler()

	tests := []struct {
		name       string
		command    string
		body       string
		wantStatus int
		wantResult string
		wantError  string
	}{
		{name: "render", command: "render_markdown", body: `{"path":"/tmp/doc.md"}`, wantStatus: http.StatusOK, wantResult: `"<p>/tmp/doc.md</p>\n"`},
		{name: "render without path", command: "render_markdown", body: `{}`, wantStatus: http.StatusUnprocessableEntity, wantError: ErrMissingArgument.Error()},
		{name: "launch paths", command: "get_launch_paths", wantStatus: http.StatusOK, wantResult: `["/tmp/doc.md"]`},
		{name: "open externally", command: "open_externally", body: `{"path":"/tmp/doc.md"}`, wantStatus: http.StatusOK, wantResult: `null`},
		{name: "start watch", command: "start_watch", body: `{"path":"/tmp/doc.md"}`, wantStatus: http.StatusOK, wantResult: `null`},
		{name: "start watch failure", command: "start_watch", body: `{"path":"/tmp/missing.md"}`, wantStatus: http.StatusUnprocessableEntity, wantError: "no such file or directory"},
		{name: "stop watch", command: "stop_watch", wantStatus: http.StatusOK, wantResult: `null`},
		{name: "toggle", command: "toggle_setting", body: `{"name":"minimap"}`, wantStatus: http.StatusOK},
		{name: "toggle unknown", command: "toggle_setting", body: `{"name":"font"}`, wantStatus: http.StatusUnprocessableEntity, wantError: settings.ErrUnknownSetting.Error()},
		{name: "update without settings", command: "update_settings", body: `{}`, wantStatus: http.StatusUnprocessableEntity, wantError: ErrMissingArgument.Error()},
		{name: "update invalid", command: "update_settings", body: `{"settings":{"word_wrap":"maybe","line_numbers":"on"}}`, wantStatus: http.StatusUnprocessableEntity, wantError: settings.ErrInvalidSetting.Error()},
		{name: "unknown command", command: "format_disk", wantStatus: http.StatusNotFound, wantError: ErrUnknownCommand.Error()},
		{name: "malformed body", command: "render_markdown", body: `{"path":`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, res := invoke(t, h, tt.command, tt.body)
			assert.Equal(t, tt.wantStatus, status)
			if tt.wantResult != "" {
				assert.JSONEq(t, tt.wantResult, string(res.Result))
			}
			if tt.wantError != "" {
				assert.Contains(t, res.Error, tt.wantError)
			}
		})
	}

	assert.Equal(t, "/tmp/doc.md", commands.openedPath)
	assert.Equal(t, 1, commands.stopped)
}

func TestRenderFailureCarriesMessage(t *testing.T) {
	commands := &fakeCommands{renderErr: errors.New("open /tmp/gone.md: no such file or directory")}
	server, _ := newTestServer(t, commands)

	status, res := invoke(t, server.Handler(), "render_markdown", `{"path":"/tmp/gone.md"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "open /tmp/gone.md: no such file or directory", res.Error)
}

func TestLaunchPathsEmptyIsArray(t *testing.T) {
	server, _ := newTestServer(t, &fakeCommands{})

	status, res := invoke(t, server.Handler(), "get_launch_paths", "")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `[]`, string(res.Result))
}

func TestIndexAndHealth(t *testing.T) {
	server, _ := newTestServer(t, &fakeCommands{})

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<html>shell</html>", rec.Body.String())

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAssets(t *testing.T) {
	server, _ := newTestServer(t, &fakeCommands{})
	dir := t.TempDir()
	image := filepath.Join(dir, "pic.png")
	require.NoError(t, os.WriteFile(image, []byte("\x89PNG\r\n\x1a\n"), 0o600))
	notes := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(notes, []byte("secret"), 0o600))

	tests := []struct {
		name       string
		url        string
		wantStatus int
	}{
		{name: "image", url: render.EncodeAssetPath(image), wantStatus: http.StatusOK},
		{name: "not an image", url: render.EncodeAssetPath(notes), wantStatus: http.StatusNotFound},
		{name: "missing", url: render.EncodeAssetPath(filepath.Join(dir, "gone.png")), wantStatus: http.StatusNotFound},
		{name: "relative", url: render.EncodeAssetPath("pic.png"), wantStatus: http.StatusNotFound},
		{name: "garbage", url: render.AssetPrefix + "!!", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.url, nil))
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, "\x89PNG\r\n\x1a\n", rec.Body.String())
				assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
			}
		})
	}
}

func dialWindow(t *testing.T, ts *httptest.Server, window string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?window=" + window
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

func readNotification(t *testing.T, conn *websocket.Conn) contracts.Notification {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var n contracts.Notification
	require.NoError(t, conn.ReadJSON(&n))
	return n
}

func TestFilePathGoesToPrimaryWindowOnce(t *testing.T) {
	server, hub := newTestServer(t, &fakeCommands{})
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	other := dialWindow(t, ts, "settings")
	hub.EmitOnce(contracts.PrimaryWindow, contracts.Notification{Event: contracts.EventFilePath, Payload: "/tmp/doc.md"})

	primary := dialWindow(t, ts, contracts.PrimaryWindow)
	n := readNotification(t, primary)
	assert.Equal(t, contracts.EventFilePath, n.Event)
	assert.Equal(t, "/tmp/doc.md", n.Payload)

	second := dialWindow(t, ts, contracts.PrimaryWindow)
	// Give the second registration time to be processed before broadcasting.
	time.Sleep(100 * time.Millisecond)
	hub.Emit(contracts.Notification{Event: contracts.EventFileChanged})

	for _, conn := range []*websocket.Conn{other, primary, second} {
		n := readNotification(t, conn)
		assert.Equal(t, contracts.EventFileChanged, n.Event)
		assert.Nil(t, n.Payload)
	}
}

func TestWatchNotifiesConnectedWindows(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()
	t.Cleanup(hub.Stop)

	viewer, err := app.NewViewer(app.Options{Notifier: hub})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = viewer.Close()
	})

	server := NewServer("127.0.0.1:0", viewer, hub, "", nil)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	path := filepath.Join(t.TempDir(), "doc.md")
	require.NoError(t, os.WriteFile(path, []byte("# one\n"), 0o600))

	conn := dialWindow(t, ts, contracts.PrimaryWindow)
	time.Sleep(100 * time.Millisecond)

	status, res := invoke(t, server.Handler(), "start_watch", `{"path":"`+path+`"}`)
	require.Equal(t, http.StatusOK, status, res.Error)

	require.NoError(t, os.WriteFile(path, []byte("# two\n"), 0o600))
	n := readNotification(t, conn)
	assert.Equal(t, contracts.EventFileChanged, n.Event)

	status, res = invoke(t, server.Handler(), "render_markdown", `{"path":"`+path+`"}`)
	require.Equal(t, http.StatusOK, status, res.Error)
	assert.Contains(t, string(res.Result), "two")
}

func TestServeShutsDownOnCancel(t *testing.T) {
	hub := NewHub(nil)
	server := NewServer("127.0.0.1:0", &fakeCommands{}, hub, "", nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- server.Serve(ctx)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
