// Package logging builds the process-wide slog logger.
package logging

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"go.trai.ch/zerr"
)

// ErrUnknownLevel is returned for log levels other than debug, info, warn and error.
var ErrUnknownLevel = zerr.New("unknown log level")

// Options controls handler selection.
type Options struct {
	Level  string
	JSON   bool
	Output io.Writer
}

// messager matches zerr errors, which can report their own message without the chain.
type messager interface {
	Message() string
}

// metadataer matches zerr errors carrying key/value context from zerr.With.
type metadataer interface {
	Metadata() map[string]any
}

// New returns a logger writing text (or JSON) records to opts.Output, or
// stderr when unset.
func New(opts Options) (*slog.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	w := opts.Output
	if w == nil {
		w = os.Stderr
	}

	handlerOptions := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(w, handlerOptions)
	} else {
		handler = slog.NewTextHandler(w, handlerOptions)
	}
	return slog.New(handler), nil
}

// ParseLevel maps a config string to a slog level. Empty means info.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, zerr.With(ErrUnknownLevel, "level", level)
	}
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Err renders err as an attribute. zerr chains are flattened into their
// individual messages joined by ": ". Metadata attached anywhere in the chain
// is kept: the attribute then becomes a group holding the message and each
// key, outer values winning.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}

	var messages []string
	fields := map[string]any{}
	for current := err; current != nil; {
		m, ok := current.(messager)
		if !ok {
			messages = append(messages, current.Error())
			break
		}
		messages = append(messages, m.Message())
		if md, ok := current.(metadataer); ok {
			for key, value := range md.Metadata() {
				if _, seen := fields[key]; !seen {
					fields[key] = value
				}
			}
		}
		current = errors.Unwrap(current)
	}

	message := strings.Join(messages, ": ")
	if len(fields) == 0 {
		return slog.String("error", message)
	}

	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	attrs := make([]any, 0, len(keys)+1)
	attrs = append(attrs, slog.String("msg", message))
	for _, key := range keys {
		attrs = append(attrs, slog.Any(key, fields[key]))
	}
	return slog.Group("error", attrs...)
}
