// Package config loads the viewer configuration from a YAML file.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.trai.ch/zerr"
	"gopkg.in/yaml.v3"

	"mdview/internal/logging"
)

const (
	// AppName names the per-user configuration directory.
	AppName = "mdview"
	// DefaultAddr is the loopback address the command server binds to.
	DefaultAddr = "127.0.0.1:7777"

	fileName     = "config.yaml"
	settingsFile = "settings.yaml"
)

var (
	// ErrConfigRead is returned when the config file exists but cannot be read.
	ErrConfigRead = zerr.New("failed to read config file")
	// ErrConfigParse is returned when the config file is not valid YAML.
	ErrConfigParse = zerr.New("failed to parse config file")
	// ErrInvalidConfig is returned when a loaded config fails validation.
	ErrInvalidConfig = zerr.New("invalid config")
)

// Config is the complete viewer configuration.
type Config struct {
	Addr         string `yaml:"addr"`
	Log          Log    `yaml:"log"`
	Render       Render `yaml:"render"`
	Editor       Editor `yaml:"editor"`
	SettingsPath string `yaml:"settings_path"`
}

type Log struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Render holds renderer features. All but LocalImages default to off.
type Render struct {
	UnsafeHTML    bool `yaml:"unsafe_html"`
	SourceLines   bool `yaml:"source_lines"`
	AlertCallouts bool `yaml:"alert_callouts"`
	LocalImages   bool `yaml:"local_images"`
}

// Editor overrides the platform editor used by open_externally.
type Editor struct {
	Command     string   `yaml:"command"`
	Args        []string `yaml:"args"`
	NvimAddress string   `yaml:"nvim_address"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Addr:   DefaultAddr,
		Log:    Log{Level: "info"},
		Render: Render{LocalImages: true},
	}
}

// DefaultPath returns the per-user config file location.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, AppName, fileName), nil
}

// DefaultSettingsPath returns the per-user settings file location.
func DefaultSettingsPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, AppName, settingsFile), nil
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, zerr.With(zerr.Wrap(err, ErrConfigRead.Error()), "path", path)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, zerr.With(zerr.Wrap(err, ErrConfigParse.Error()), "path", path)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return zerr.With(ErrInvalidConfig, "field", "addr")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return zerr.With(zerr.Wrap(err, ErrInvalidConfig.Error()), "field", "log.level")
	}
	if len(c.Editor.Args) > 0 && c.Editor.Command == "" {
		return zerr.With(ErrInvalidConfig, "field", "editor.args")
	}
	return nil
}
