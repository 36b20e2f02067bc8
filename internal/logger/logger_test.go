package logger

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewWithWriter(buf)

	log.Info().Str("file", "input.xlsx").Msg("converted")

	assert.Contains(t, buf.String(), `"message":"converted"`)
	assert.Contains(t, buf.String(), `"file":"input.xlsx"`)
}

func TestNewLevels(t *testing.T) {
	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"", zerolog.InfoLevel},
		{"WARN", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			log, closer, err := New(Config{Level: tt.level, Output: "discard"})
			require.NoError(t, err)
			defer closer.Close()
			assert.Equal(t, tt.want, log.GetLevel())
		})
	}

	_, _, err := New(Config{Level: "chatty"})
	assert.Error(t, err)
}

func TestNewFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "converter.log")

	log, closer, err := New(Config{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)

	log.Warn().Msg("row skipped")
	log.Debug().Msg("hidden")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "row skipped")
	assert.NotContains(t, string(data), "hidden")
}

func TestContext(t *testing.T) {
	buf := &bytes.Buffer{}
	ctx := WithContext(context.Background(), NewWithWriter(buf))

	log := FromContext(ctx)
	log.Info().Msg("test")
	assert.NotZero(t, buf.Len())

	// Without a logger nothing is written and nothing panics.
	nop := FromContext(context.Background())
	nop.Info().Msg("dropped")
}
