// Package natspublish forwards pipeline results to a NATS subject as JSON
// for downstream consumers.
package natspublish

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"github.com/c360/streamguard/metric"
	"github.com/c360/streamguard/processor"
)

// Conn is the publishing surface the publisher needs from the NATS client
type Conn interface {
	Publish(subject string, data []byte) error
}

// Config holds result publishing settings
type Config struct {
	Subject string
}

// Stats holds publishing counters
type Stats struct {
	Published int64 `json:"published"`
	Failed    int64 `json:"failed"`
}

// resultEnvelope is the wire form of a pipeline result. The error string
// is flattened since error values don't serialize.
type resultEnvelope struct {
	Channel   string `json:"channel"`
	MessageID string `json:"message_id"`
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	Outcome   string `json:"outcome"`
	Response  string `json:"response,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Publisher drains the processor's result stream onto a NATS subject
type Publisher struct {
	cfg    Config
	conn   Conn
	logger *slog.Logger
	m      *metric.Metrics

	published int64
	failed    int64
}

// New creates a Publisher. logger and metrics may be nil.
func New(cfg Config, conn Conn, logger *slog.Logger, m *metric.Metrics) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{cfg: cfg, conn: conn, logger: logger, m: m}
}

// Run consumes results until the channel closes or ctx fires. It returns
// nil on a clean drain.
func (p *Publisher) Run(ctx context.Context, results <-chan processor.Result) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case result, ok := <-results:
			if !ok {
				p.logger.Info("result stream drained",
					"published", atomic.LoadInt64(&p.published))
				return nil
			}
			p.publish(result)
		}
	}
}

func (p *Publisher) publish(result processor.Result) {
	envelope := resultEnvelope{
		Channel:   result.Channel,
		MessageID: result.Message.ID,
		Sender:    result.Message.Sender,
		Content:   result.Message.Content,
		Outcome:   result.Outcome.Kind.String(),
		Response:  result.Outcome.Response,
	}
	if result.Outcome.Err != nil {
		envelope.Error = result.Outcome.Err.Error()
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		atomic.AddInt64(&p.failed, 1)
		p.logger.Error("result marshal failed", "id", result.Message.ID, "error", err)
		return
	}

	if err := p.conn.Publish(p.cfg.Subject, data); err != nil {
		atomic.AddInt64(&p.failed, 1)
		if p.m != nil {
			p.m.RecordError("publish", "publish_failed")
		}
		p.logger.Error("result publish failed", "id", result.Message.ID, "error", err)
		return
	}

	atomic.AddInt64(&p.published, 1)
	if p.m != nil {
		p.m.RecordMessageProcessed("publish", result.Channel, result.Outcome.Kind.String())
	}
}

// Stats returns publishing counters
func (p *Publisher) Stats() Stats {
	return Stats{
		Published: atomic.LoadInt64(&p.published),
		Failed:    atomic.LoadInt64(&p.failed),
	}
}
