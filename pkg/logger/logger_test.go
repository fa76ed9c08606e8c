package logger

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestContextValues(t *testing.T) {
	ctx := ContextWithTrace(context.Background(), "t-1", "s-1")
	ctx = ContextWithRequestID(ctx, "r-1")
	assert.Equal(t, "t-1", TraceID(ctx))
	assert.Equal(t, "r-1", RequestID(ctx))
	assert.Equal(t, "", TraceID(context.Background()))
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "vault.log")
	l, err := New(Config{Level: "info", Format: "json", Output: "file", FilePath: path, MaxSize: 1})
	require.NoError(t, err)
	l.Info("hello", "epoch", 1)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"epoch":1`)
}
