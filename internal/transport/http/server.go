// Package httpserver exposes the viewer commands and notifications over
// HTTP and WebSocket.
package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.trai.ch/zerr"

	"mdview/internal/contracts"
	"mdview/internal/logging"
	"mdview/internal/metrics"
	"mdview/internal/render"
)

const shutdownTimeout = 2 * time.Second

var (
	// ErrUnknownCommand is returned for command names with no handler.
	ErrUnknownCommand = zerr.New("unknown command")
	// ErrMissingArgument is returned when a command is called without a required field.
	ErrMissingArgument = zerr.New("missing argument")
)

// Commands is the viewer behaviour reachable from the UI.
type Commands interface {
	RenderMarkdown(path string) (string, error)
	LaunchPaths() []string
	OpenExternally(ctx context.Context, path string) error
	StartWatch(path string) error
	StopWatch() error
	Settings() contracts.Settings
	UpdateSettings(next contracts.Settings) (contracts.Settings, error)
	ToggleSetting(name string) (contracts.Settings, error)
}

type commandHandler func(ctx context.Context, req contracts.CommandRequest) (any, error)

// Server routes UI requests to Commands and notifications through a Hub.
type Server struct {
	addr     string
	shell    string
	echo     *echo.Echo
	hub      *Hub
	commands Commands
	handlers map[string]commandHandler
	ready    chan struct{}
	logger   *slog.Logger
}

func NewServer(addr string, commands Commands, hub *Hub, shell string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		addr:     addr,
		shell:    shell,
		echo:     e,
		hub:      hub,
		commands: commands,
		ready:    make(chan struct{}),
		logger:   logger.With("component", "http"),
	}
	s.handlers = s.commandHandlers()

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(metrics.EchoMiddleware())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Debug("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			)
			return nil
		},
	}))

	e.GET("/", s.handleIndex)
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	e.GET("/ws", func(c echo.Context) error {
		s.hub.ServeWS(c.Response(), c.Request())
		return nil
	})
	e.GET(render.AssetPrefix+":id", s.handleAsset)
	e.POST("/api/commands/:name", s.handleCommand)

	return s
}

// Ready is closed once Serve is listening; URL then reports the bound address.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// URL returns the browser URL for the server.
func (s *Server) URL() string {
	return "http://" + s.addr
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Serve listens on the configured address and blocks until ctx is done,
// then shuts the server and hub down.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return zerr.With(zerr.Wrap(err, "failed to listen"), "addr", s.addr)
	}
	s.addr = listener.Addr().String()
	close(s.ready)

	server := &http.Server{Handler: s.echo}
	go s.hub.Run()
	defer s.hub.Stop()

	errs := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "url", s.URL())
		errs <- server.Serve(listener)
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.hub.Stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return zerr.Wrap(err, "failed to shut down server")
	}
	return nil
}

// handleIndex serves the viewer shell.
func (s *Server) handleIndex(c echo.Context) error {
	return c.HTML(http.StatusOK, s.shell)
}

// handleAsset serves an image referenced by a rendered document. Anything
// that is not an existing image file is a 404.
func (s *Server) handleAsset(c echo.Context) error {
	path, err := render.DecodeAssetPath(c.Param("id"))
	if err != nil {
		return echo.ErrNotFound
	}
	if !strings.HasPrefix(mime.TypeByExtension(strings.ToLower(filepath.Ext(path))), "image/") {
		return echo.ErrNotFound
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return echo.ErrNotFound
	}
	return c.File(path)
}

// handleCommand decodes the request, runs the named command and maps its
// error to a 422 with the error text.
func (s *Server) handleCommand(c echo.Context) error {
	name := c.Param("name")
	handler, ok := s.handlers[name]
	if !ok {
		return c.JSON(http.StatusNotFound, contracts.CommandResponse{
			Error: zerr.With(ErrUnknownCommand, "command", name).Error(),
		})
	}

	var req contracts.CommandRequest
	if err := c.Bind(&req); err != nil {
		metrics.CommandsTotal.WithLabelValues(name, "bad_request").Inc()
		return c.JSON(http.StatusBadRequest, contracts.CommandResponse{Error: err.Error()})
	}

	result, err := handler(c.Request().Context(), req)
	metrics.CommandsTotal.WithLabelValues(name, metrics.Result(err)).Inc()
	if err != nil {
		s.logger.Debug("command failed", "command", name, logging.Err(err))
		return c.JSON(http.StatusUnprocessableEntity, contracts.CommandResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, contracts.CommandResponse{Result: result})
}

func (s *Server) commandHandlers() map[string]commandHandler {
	return map[string]commandHandler{
		contracts.CommandRenderMarkdown: func(_ context.Context, req contracts.CommandRequest) (any, error) {
			if err := requirePath(req); err != nil {
				return nil, err
			}
			return s.commands.RenderMarkdown(req.Path)
		},
		contracts.CommandGetLaunchPaths: func(context.Context, contracts.CommandRequest) (any, error) {
			return s.commands.LaunchPaths(), nil
		},
		contracts.CommandOpenExternally: func(ctx context.Context, req contracts.CommandRequest) (any, error) {
			if err := requirePath(req); err != nil {
				return nil, err
			}
			return nil, s.commands.OpenExternally(ctx, req.Path)
		},
		contracts.CommandStartWatch: func(_ context.Context, req contracts.CommandRequest) (any, error) {
			if err := requirePath(req); err != nil {
				return nil, err
			}
			return nil, s.commands.StartWatch(req.Path)
		},
		contracts.CommandStopWatch: func(context.Context, contracts.CommandRequest) (any, error) {
			return nil, s.commands.StopWatch()
		},
		contracts.CommandGetSettings: func(context.Context, contracts.CommandRequest) (any, error) {
			return s.commands.Settings(), nil
		},
		contracts.CommandUpdateSettings: func(_ context.Context, req contracts.CommandRequest) (any, error) {
			if req.Settings == nil {
				return nil, zerr.With(ErrMissingArgument, "argument", "settings")
			}
			return s.commands.UpdateSettings(*req.Settings)
		},
		contracts.CommandToggleSetting: func(_ context.Context, req contracts.CommandRequest) (any, error) {
			if req.Name == "" {
				return nil, zerr.With(ErrMissingArgument, "argument", "name")
			}
			return s.commands.ToggleSetting(req.Name)
		},
	}
}

func requirePath(req contracts.CommandRequest) error {
	if req.Path == "" {
		return zerr.With(ErrMissingArgument, "argument", "path")
	}
	return nil
}
