package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/zerr"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{in: "", want: slog.LevelInfo},
		{in: "info", want: slog.LevelInfo},
		{in: "DEBUG", want: slog.LevelDebug},
		{in: " warn ", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "verbose", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorContains(t, err, ErrUnknownLevel.Error())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewJSONHandlerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "warn", JSON: true, Output: &buf})
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "component", "watch")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "shown", record["msg"])
	assert.Equal(t, "watch", record["component"])
	assert.NotContains(t, buf.String(), "hidden")
}

func TestNewTextHandler(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Output: &buf})
	require.NoError(t, err)

	logger.Info("listening", "addr", "127.0.0.1:7777")
	assert.Contains(t, buf.String(), "msg=listening")
	assert.Contains(t, buf.String(), "addr=127.0.0.1:7777")
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Options{Level: "loud"})
	require.Error(t, err)
}

func TestErrFlattensChain(t *testing.T) {
	plain := Err(errors.New("boom"))
	assert.Equal(t, "boom", plain.Value.String())

	wrapped := Err(zerr.Wrap(errors.New("root cause"), "outer layer"))
	assert.Equal(t, "outer layer: root cause", wrapped.Value.String())

	assert.Equal(t, "", Err(nil).Value.String())
}

func TestErrKeepsMetadata(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{JSON: true, Output: &buf})
	require.NoError(t, err)

	inner := zerr.With(zerr.New("watch registration failed"), "path", "/tmp/inner.md")
	outer := zerr.With(zerr.Wrap(inner, "failed to start editor"), "program", "vim")
	outer = zerr.With(outer, "path", "/tmp/doc.md")

	logger.Warn("open failed", Err(outer))

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	fields, ok := record["error"].(map[string]any)
	require.True(t, ok, buf.String())
	assert.Equal(t, "failed to start editor: watch registration failed", fields["msg"])
	assert.Equal(t, "vim", fields["program"])
	assert.Equal(t, "/tmp/doc.md", fields["path"])
}

func TestErrWithoutMetadataIsString(t *testing.T) {
	attr := Err(zerr.New("unknown command"))
	assert.Equal(t, slog.KindString, attr.Value.Kind())
	assert.Equal(t, "unknown command", attr.Value.String())
}
