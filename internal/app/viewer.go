package app

import (
	"context"
	"log/slog"
	"time"

	"mdview/internal/contracts"
	"mdview/internal/launcher"
	"mdview/internal/logging"
	"mdview/internal/metrics"
	"mdview/internal/render"
	"mdview/internal/settings"
	"mdview/internal/watch"
)

// Notifier pushes notifications to connected windows.
type Notifier interface {
	// Emit delivers n to every connected window. It runs on the watch
	// goroutine and must not block.
	Emit(n contracts.Notification)
	// EmitOnce delivers n to window exactly once, waiting for it to connect.
	EmitOnce(window string, n contracts.Notification)
}

// Options wires a Viewer. Renderer, Launcher and Settings default to a plain
// renderer, a no-op launcher and in-memory settings.
type Options struct {
	Renderer    *render.Renderer
	Launcher    launcher.Launcher
	Settings    *settings.Store
	Notifier    Notifier
	LaunchPaths []string
	Logger      *slog.Logger
}

// Viewer is the coordinator behind every UI command. Apart from the watch
// session it holds no mutable state.
type Viewer struct {
	renderer    *render.Renderer
	launcher    launcher.Launcher
	settings    *settings.Store
	notifier    Notifier
	session     *watch.Session
	launchPaths []string
	logger      *slog.Logger
}

func NewViewer(opts Options) (*Viewer, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	v := &Viewer{
		renderer:    opts.Renderer,
		launcher:    opts.Launcher,
		settings:    opts.Settings,
		notifier:    opts.Notifier,
		launchPaths: append([]string{}, opts.LaunchPaths...),
		logger:      logger.With("component", "viewer"),
	}
	if v.renderer == nil {
		v.renderer = render.NewRenderer(render.Options{})
	}
	if v.launcher == nil {
		v.launcher = launcher.Noop{}
	}
	if v.settings == nil {
		store, err := settings.Open("")
		if err != nil {
			return nil, err
		}
		v.settings = store
	}
	v.session = watch.NewSession(v.onFileEvent, logger)
	return v, nil
}

// RenderMarkdown reads and renders the file at path.
func (v *Viewer) RenderMarkdown(path string) (string, error) {
	start := time.Now()
	html, err := v.renderer.RenderFile(path)
	metrics.ObserveRender(start, err)
	if err != nil {
		v.logger.Debug("render failed", "path", path, logging.Err(err))
	}
	return html, err
}

// LaunchPaths returns the paths given on the command line, in order.
func (v *Viewer) LaunchPaths() []string {
	return append([]string{}, v.launchPaths...)
}

// OpenExternally hands path to the configured editor.
func (v *Viewer) OpenExternally(ctx context.Context, path string) error {
	return v.launcher.Open(ctx, path)
}

// StartWatch replaces the active watch with one on path.
func (v *Viewer) StartWatch(path string) error {
	return v.session.Start(path)
}

// StopWatch drops the active watch, if any.
func (v *Viewer) StopWatch() error {
	v.session.Stop()
	return nil
}

// WatchedPath reports the path currently watched.
func (v *Viewer) WatchedPath() (string, bool) {
	return v.session.Active()
}

func (v *Viewer) Settings() contracts.Settings {
	return v.settings.Get()
}

func (v *Viewer) UpdateSettings(next contracts.Settings) (contracts.Settings, error) {
	return v.settings.Update(next)
}

func (v *Viewer) ToggleSetting(name string) (contracts.Settings, error) {
	return v.settings.Toggle(name)
}

// AnnounceLaunchPath queues the first launch path for the primary window.
func (v *Viewer) AnnounceLaunchPath() {
	if len(v.launchPaths) == 0 || v.notifier == nil {
		return
	}
	v.notifier.EmitOnce(contracts.PrimaryWindow, contracts.Notification{
		Event:   contracts.EventFilePath,
		Payload: v.launchPaths[0],
	})
}

// Close stops the active watch.
func (v *Viewer) Close() error {
	return v.session.Close()
}

func (v *Viewer) onFileEvent(event watch.Event) {
	v.logger.Debug("file changed", "path", event.Path, "op", event.Op.String())
	if v.notifier == nil {
		return
	}
	v.notifier.Emit(contracts.Notification{Event: contracts.EventFileChanged})
}
