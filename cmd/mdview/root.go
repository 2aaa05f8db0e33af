package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"mdview/internal/app"
	"mdview/internal/config"
	"mdview/internal/launcher"
	"mdview/internal/logging"
	"mdview/internal/platform"
	"mdview/internal/render"
	"mdview/internal/settings"
	httpserver "mdview/internal/transport/http"
)

type rootOptions struct {
	configPath  string
	addr        string
	logLevel    string
	logJSON     bool
	openBrowser bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "mdview [flags] [path...]",
		Short: "Render a markdown file and reload it on change",
		Long: "mdview serves a viewer for markdown files on a loopback address. " +
			"The first path argument is opened in the main window.",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts, cmd.Flags())
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, opts.openBrowser, args)
		},
	}

	opts.bind(cmd.Flags())
	return cmd
}

func (o *rootOptions) bind(flags *pflag.FlagSet) {
	flags.StringVar(&o.configPath, "config", "", "config file (default is the per-user config directory)")
	flags.StringVar(&o.addr, "addr", config.DefaultAddr, "address the viewer listens on")
	flags.StringVar(&o.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	flags.BoolVar(&o.logJSON, "log-json", false, "write logs as JSON")
	flags.BoolVar(&o.openBrowser, "open-browser", false, "open the viewer in the default browser")
}

// loadConfig reads the config file and applies the flags that were set
// explicitly on top of it.
func loadConfig(opts *rootOptions, flags *pflag.FlagSet) (config.Config, error) {
	path := opts.configPath
	if path == "" {
		if p, err := config.DefaultPath(); err == nil {
			path = p
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}

	if flags.Changed("addr") {
		cfg.Addr = opts.addr
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = opts.logLevel
	}
	if flags.Changed("log-json") {
		cfg.Log.JSON = opts.logJSON
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func serve(ctx context.Context, cfg config.Config, openBrowser bool, launchPaths []string) error {
	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON})
	if err != nil {
		return err
	}

	caps := platform.Detect()
	if err := caps.ApplyEnvironment(nil); err != nil {
		logger.Warn("failed to set webview environment", logging.Err(err))
	}

	settingsPath := cfg.SettingsPath
	if settingsPath == "" {
		if settingsPath, err = config.DefaultSettingsPath(); err != nil {
			logger.Warn("settings will not persist", logging.Err(err))
		}
	}
	store, err := settings.Open(settingsPath)
	if err != nil {
		return err
	}

	renderer := render.NewRenderer(render.Options{
		UnsafeHTML:    cfg.Render.UnsafeHTML,
		SourceLines:   cfg.Render.SourceLines,
		AlertCallouts: cfg.Render.AlertCallouts,
		LocalImages:   cfg.Render.LocalImages,
	})
	editor := launcher.New(caps, cfg.Editor, logger)
	hub := httpserver.NewHub(logger)

	viewer, err := app.NewViewer(app.Options{
		Renderer:    renderer,
		Launcher:    editor,
		Settings:    store,
		Notifier:    hub,
		LaunchPaths: launchPaths,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := viewer.Close(); err != nil {
			logger.Warn("failed to close viewer", logging.Err(err))
		}
	}()

	server := httpserver.NewServer(cfg.Addr, viewer, hub, renderer.RenderShell(), logger)
	logger.Info("starting viewer", "addr", cfg.Addr, "editor", editor.Name(), "paths", len(launchPaths))
	viewer.AnnounceLaunchPath()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Serve(gctx)
	})
	if openBrowser {
		g.Go(func() error {
			openInBrowser(gctx, caps, server, logger)
			return nil
		})
	}
	return g.Wait()
}

// openInBrowser waits for the listener and opens the viewer URL. Failure is
// logged; the server keeps running.
func openInBrowser(ctx context.Context, caps platform.Capabilities, server *httpserver.Server, logger *slog.Logger) {
	select {
	case <-server.Ready():
	case <-ctx.Done():
		return
	}
	program, args := caps.BrowserCommand()
	if err := launcher.NewProcess(program, args, logger).Open(ctx, server.URL()); err != nil {
		logger.Warn("failed to open browser", "url", server.URL(), logging.Err(err))
	}
}
