package logstream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	err      error
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return nil
}

func (f *fakeConn) published() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subjects)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLogger_PublishesEntry(t *testing.T) {
	conn := &fakeConn{}
	logger := New("engine", quietLogger())
	logger.Attach(conn)

	logger.Info(context.Background(), "pipeline started")

	require.Equal(t, 1, conn.published())
	assert.Equal(t, "logs.pipeline.engine", conn.subjects[0])

	var entry Entry
	require.NoError(t, json.Unmarshal(conn.payloads[0], &entry))
	assert.Equal(t, LevelInfo, entry.Level)
	assert.Equal(t, "engine", entry.Component)
	assert.Equal(t, "pipeline started", entry.Message)
	assert.Empty(t, entry.Error)
	assert.NotEmpty(t, entry.Timestamp)
}

func TestLogger_ErrorFlattened(t *testing.T) {
	conn := &fakeConn{}
	logger := New("breaker", quietLogger())
	logger.Attach(conn)

	logger.Error(context.Background(), "downstream failing", errors.New("boom"))

	var entry Entry
	require.NoError(t, json.Unmarshal(conn.payloads[0], &entry))
	assert.Equal(t, LevelError, entry.Level)
	assert.Equal(t, "boom", entry.Error)
}

func TestLogger_NoConnNoPublish(t *testing.T) {
	logger := New("engine", quietLogger())

	// No panic, nothing published
	logger.Info(context.Background(), "local only")
	logger.Warn(context.Background(), "still local")
}

func TestLogger_CancelledContextSkipsPublish(t *testing.T) {
	conn := &fakeConn{}
	logger := New("engine", quietLogger())
	logger.Attach(conn)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	logger.Info(ctx, "too late")

	assert.Zero(t, conn.published())
}

func TestLogger_ForSharesAttachedConn(t *testing.T) {
	root := New("engine", quietLogger())
	derived := root.For("breaker")

	// Attach on the root after derivation reaches the derived logger
	conn := &fakeConn{}
	root.Attach(conn)

	derived.Warn(context.Background(), "circuit opened")

	require.Equal(t, 1, conn.published())
	assert.Equal(t, "logs.pipeline.breaker", conn.subjects[0])
}

func TestLogger_PublishFailureDoesNotPropagate(t *testing.T) {
	conn := &fakeConn{err: errors.New("connection lost")}
	logger := New("engine", quietLogger())
	logger.Attach(conn)

	// Must not panic or error out
	logger.Info(context.Background(), "best effort")
}
