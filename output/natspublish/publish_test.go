package natspublish

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/streamguard/message"
	"github.com/c360/streamguard/processor"
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

func (f *fakeConn) published() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.payloads...)
}

func completedResult(channel, sender, content, response string) processor.Result {
	msg := message.New(channel, sender, content)
	return processor.Result{
		Channel: channel,
		Message: msg,
		Outcome: processor.Outcome{Kind: processor.OutcomeCompleted, Response: response},
	}
}

func TestPublisher_PublishesEnvelope(t *testing.T) {
	conn := &fakeConn{}
	pub := New(Config{Subject: "messages.results"}, conn, nil, nil)

	results := make(chan processor.Result, 1)
	results <- completedResult("telegram", "alice", "hi", "hello back")
	close(results)

	require.NoError(t, pub.Run(context.Background(), results))

	payloads := conn.published()
	require.Len(t, payloads, 1)
	assert.Equal(t, []string{"messages.results"}, conn.subjects)

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(payloads[0], &envelope))
	assert.Equal(t, "telegram", envelope["channel"])
	assert.Equal(t, "completed", envelope["outcome"])
	assert.Equal(t, "hello back", envelope["response"])
	assert.NotContains(t, envelope, "error")

	assert.Equal(t, int64(1), pub.Stats().Published)
}

func TestPublisher_FlattensErrorOutcome(t *testing.T) {
	conn := &fakeConn{}
	pub := New(Config{Subject: "messages.results"}, conn, nil, nil)

	msg := message.New("telegram", "alice", "boom")
	results := make(chan processor.Result, 1)
	results <- processor.Result{
		Channel: "telegram",
		Message: msg,
		Outcome: processor.Outcome{Kind: processor.OutcomeFailed, Err: stderrors.New("model down")},
	}
	close(results)

	require.NoError(t, pub.Run(context.Background(), results))

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(conn.published()[0], &envelope))
	assert.Equal(t, "failed", envelope["outcome"])
	assert.Equal(t, "model down", envelope["error"])
}

func TestPublisher_CountsPublishFailures(t *testing.T) {
	conn := &fakeConn{err: stderrors.New("connection gone")}
	pub := New(Config{Subject: "messages.results"}, conn, nil, nil)

	results := make(chan processor.Result, 2)
	results <- completedResult("a", "s", "1", "r1")
	results <- completedResult("a", "s", "2", "r2")
	close(results)

	require.NoError(t, pub.Run(context.Background(), results))
	stats := pub.Stats()
	assert.Equal(t, int64(0), stats.Published)
	assert.Equal(t, int64(2), stats.Failed)
}

func TestPublisher_StopsOnContextCancel(t *testing.T) {
	conn := &fakeConn{}
	pub := New(Config{Subject: "messages.results"}, conn, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	results := make(chan processor.Result)

	done := make(chan error, 1)
	go func() { done <- pub.Run(ctx, results) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancellation")
	}
}
