// Package launcher opens a markdown file in an external editor.
package launcher

import (
	"context"
	"log/slog"
	"os/exec"

	"github.com/neovim/go-client/nvim"
	"go.trai.ch/zerr"

	"mdview/internal/config"
	"mdview/internal/logging"
	"mdview/internal/platform"
)

var (
	// ErrEditorSpawn is returned when the editor process cannot be started.
	ErrEditorSpawn = zerr.New("failed to start editor")
	// ErrNvimConnect is returned when the Neovim socket cannot be reached.
	ErrNvimConnect = zerr.New("failed to connect to nvim")
	// ErrNvimOpen is returned when a connected Neovim refuses the edit.
	ErrNvimOpen = zerr.New("failed to open file in nvim")
)

// Launcher opens path in an editor without waiting for the editor to exit.
type Launcher interface {
	Open(ctx context.Context, path string) error
	Name() string
}

// New picks the launcher for this process: a configured Neovim socket, a
// configured command, the platform editor, or a no-op.
func New(caps platform.Capabilities, cfg config.Editor, logger *slog.Logger) Launcher {
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.With("component", "launcher")

	switch {
	case cfg.NvimAddress != "":
		return NewNvim(cfg.NvimAddress, logger)
	case cfg.Command != "":
		return NewProcess(cfg.Command, cfg.Args, logger)
	case caps.DefaultEditor() != "":
		return NewProcess(caps.DefaultEditor(), nil, logger)
	default:
		return Noop{}
	}
}

// Noop accepts every request and does nothing. It is used on platforms
// without a default editor so the UI need not special-case them.
type Noop struct{}

func (Noop) Open(context.Context, string) error { return nil }

func (Noop) Name() string { return "none" }

// Process spawns a detached editor process with the path as last argument.
type Process struct {
	program string
	args    []string
	logger  *slog.Logger
}

func NewProcess(program string, args []string, logger *slog.Logger) *Process {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Process{program: program, args: args, logger: logger}
}

func (p *Process) Name() string { return p.program }

// Open starts the editor and returns once it is running. The process is
// reaped in the background; its exit status is only logged. The context is
// not bound to the process so the editor outlives the request.
func (p *Process) Open(_ context.Context, path string) error {
	args := append(append([]string{}, p.args...), path)
	cmd := exec.Command(p.program, args...)
	if err := cmd.Start(); err != nil {
		return zerr.With(zerr.Wrap(err, ErrEditorSpawn.Error()), "program", p.program)
	}

	p.logger.Info("editor started", "program", p.program, "path", path, "pid", cmd.Process.Pid)
	go func() {
		if err := cmd.Wait(); err != nil {
			p.logger.Debug("editor exited", "program", p.program, logging.Err(err))
		}
	}()
	return nil
}

// nvimClient is the subset of *nvim.Nvim the launcher needs.
type nvimClient interface {
	Call(fname string, result any, args ...any) error
	Command(cmd string) error
	Close() error
}

// Nvim opens files in an already running Neovim through its RPC socket.
type Nvim struct {
	address string
	dial    func(address string) (nvimClient, error)
	logger  *slog.Logger
}

func NewNvim(address string, logger *slog.Logger) *Nvim {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Nvim{
		address: address,
		dial: func(address string) (nvimClient, error) {
			return nvim.Dial(address)
		},
		logger: logger,
	}
}

func (n *Nvim) Name() string { return "nvim" }

// Open runs :edit on the escaped path in the remote instance.
func (n *Nvim) Open(_ context.Context, path string) error {
	client, err := n.dial(n.address)
	if err != nil {
		return zerr.With(zerr.Wrap(err, ErrNvimConnect.Error()), "address", n.address)
	}
	defer client.Close()

	var escaped string
	if err := client.Call("fnameescape", &escaped, path); err != nil {
		return zerr.With(zerr.Wrap(err, ErrNvimOpen.Error()), "path", path)
	}
	if err := client.Command("edit " + escaped); err != nil {
		return zerr.With(zerr.Wrap(err, ErrNvimOpen.Error()), "path", path)
	}

	n.logger.Info("opened in nvim", "address", n.address, "path", path)
	return nil
}
