package db

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestDialector(t *testing.T) {
	d, err := Dialector("mysql", "u:p@tcp(127.0.0.1:3306)/vault")
	require.NoError(t, err)
	assert.Equal(t, "mysql", d.Name())

	d, err = Dialector("postgres", "host=127.0.0.1 dbname=vault")
	require.NoError(t, err)
	assert.Equal(t, "postgres", d.Name())

	_, err = Dialector("sqlite", "")
	require.Error(t, err)
}

func TestGormLogger_Trace(t *testing.T) {
	var buf bytes.Buffer
	l := NewGormLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), false, 100*time.Millisecond)
	fc := func() (string, int64) { return "SELECT 1", 1 }
	ctx := context.Background()

	l.Trace(ctx, time.Now(), fc, nil)
	assert.Zero(t, buf.Len(), "fast queries are silent when logging is disabled")

	l.Trace(ctx, time.Now(), fc, gorm.ErrRecordNotFound)
	assert.Zero(t, buf.Len())

	l.Trace(ctx, time.Now(), fc, errors.New("deadlock"))
	assert.Contains(t, buf.String(), "sql execution failed")

	buf.Reset()
	l.Trace(ctx, time.Now().Add(-time.Second), fc, nil)
	assert.Contains(t, buf.String(), "slow query detected")
}
