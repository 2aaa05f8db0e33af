// Package settings persists the viewer's display preferences.
package settings

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.trai.ch/zerr"
	"gopkg.in/yaml.v3"

	"mdview/internal/contracts"
)

var (
	// ErrInvalidSetting is returned for values outside a setting's domain.
	ErrInvalidSetting = zerr.New("invalid setting")
	// ErrUnknownSetting is returned when toggling a setting that does not exist.
	ErrUnknownSetting = zerr.New("unknown setting")
	// ErrSettingsRead is returned when the settings file cannot be loaded.
	ErrSettingsRead = zerr.New("failed to read settings")
	// ErrSettingsWrite is returned when the settings file cannot be saved.
	ErrSettingsWrite = zerr.New("failed to write settings")
)

const (
	on  = "on"
	off = "off"
)

// Defaults returns the settings used before the user changes anything.
func Defaults() contracts.Settings {
	return contracts.Settings{
		WordWrap:    on,
		LineNumbers: on,
		StatusBar:   true,
	}
}

// Validate rejects on/off fields holding anything else.
func Validate(s contracts.Settings) error {
	if s.WordWrap != on && s.WordWrap != off {
		return zerr.With(ErrInvalidSetting, "word_wrap", s.WordWrap)
	}
	if s.LineNumbers != on && s.LineNumbers != off {
		return zerr.With(ErrInvalidSetting, "line_numbers", s.LineNumbers)
	}
	return nil
}

// Store holds the current settings and writes every change to path. An empty
// path keeps settings in memory only.
type Store struct {
	mu      sync.Mutex
	path    string
	current contracts.Settings
}

// Open loads path, falling back to defaults when the file does not exist.
// Fields missing from the file keep their default values.
func Open(path string) (*Store, error) {
	store := &Store{path: path, current: Defaults()}
	if path == "" {
		return store, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return store, nil
	}
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, ErrSettingsRead.Error()), "path", path)
	}

	loaded := Defaults()
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, zerr.With(zerr.Wrap(err, ErrSettingsRead.Error()), "path", path)
	}
	if err := Validate(loaded); err != nil {
		return nil, err
	}
	store.current = loaded
	return store, nil
}

// Get returns a copy of the current settings.
func (s *Store) Get() contracts.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Update replaces all settings after validation.
func (s *Store) Update(next contracts.Settings) (contracts.Settings, error) {
	if err := Validate(next); err != nil {
		return contracts.Settings{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.saveLocked(next); err != nil {
		return contracts.Settings{}, err
	}
	s.current = next
	return next, nil
}

// Toggle flips a boolean setting or switches an on/off setting.
func (s *Store) Toggle(name string) (contracts.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current
	switch name {
	case "minimap":
		next.Minimap = !next.Minimap
	case "word_wrap":
		next.WordWrap = flip(next.WordWrap)
	case "line_numbers":
		next.LineNumbers = flip(next.LineNumbers)
	case "vim_mode":
		next.VimMode = !next.VimMode
	case "status_bar":
		next.StatusBar = !next.StatusBar
	case "word_count":
		next.WordCount = !next.WordCount
	default:
		return contracts.Settings{}, zerr.With(ErrUnknownSetting, "name", name)
	}

	if err := s.saveLocked(next); err != nil {
		return contracts.Settings{}, err
	}
	s.current = next
	return next, nil
}

func flip(v string) string {
	if v == on {
		return off
	}
	return on
}

func (s *Store) saveLocked(next contracts.Settings) error {
	if s.path == "" {
		return nil
	}

	data, err := yaml.Marshal(next)
	if err != nil {
		return zerr.Wrap(err, ErrSettingsWrite.Error())
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return zerr.With(zerr.Wrap(err, ErrSettingsWrite.Error()), "path", s.path)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return zerr.With(zerr.Wrap(err, ErrSettingsWrite.Error()), "path", s.path)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return zerr.With(zerr.Wrap(err, ErrSettingsWrite.Error()), "path", s.path)
	}
	return nil
}
