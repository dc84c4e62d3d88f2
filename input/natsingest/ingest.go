// Package natsingest feeds the pipeline from a NATS subject. Each
// delivery is decoded into a message and handed to the processor; a queue
// group lets multiple instances share the inbound stream.
package natsingest

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/c360/streamguard/errors"
	"github.com/c360/streamguard/message"
	"github.com/c360/streamguard/metric"
	"github.com/c360/streamguard/processor"
)

// Conn is the subscription surface the ingestor needs from the NATS client
type Conn interface {
	Subscribe(subject, queue string, handler func(data []byte)) (func() error, error)
}

// Config holds ingestion settings
type Config struct {
	Subject    string
	QueueGroup string
}

// Stats holds ingestion counters
type Stats struct {
	Received   int64 `json:"received"`
	Malformed  int64 `json:"malformed"`
	Dispatched int64 `json:"dispatched"`
}

// Ingestor subscribes to the inbound subject and dispatches messages into
// the processor. Each message runs in its own goroutine so a slow pipeline
// never blocks the NATS delivery callback; admission control inside the
// processor bounds the actual concurrency.
type Ingestor struct {
	cfg    Config
	conn   Conn
	proc   *processor.Processor
	logger *slog.Logger
	m      *metric.Metrics

	mu          sync.Mutex
	unsubscribe func() error
	inFlight    sync.WaitGroup

	received   int64
	malformed  int64
	dispatched int64
}

// New creates an Ingestor. logger and metrics may be nil.
func New(cfg Config, conn Conn, proc *processor.Processor, logger *slog.Logger, m *metric.Metrics) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		cfg:    cfg,
		conn:   conn,
		proc:   proc,
		logger: logger,
		m:      m,
	}
}

// Start subscribes to the configured subject. Messages arriving after ctx
// is cancelled resolve with a shutting-down outcome inside the processor.
func (i *Ingestor) Start(ctx context.Context) error {
	if i.cfg.Subject == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Ingestor", "Start",
			"subject is required")
	}

	unsubscribe, err := i.conn.Subscribe(i.cfg.Subject, i.cfg.QueueGroup, func(data []byte) {
		i.handle(ctx, data)
	})
	if err != nil {
		return errors.Wrap(err, "Ingestor", "Start", "subscribe failed")
	}

	i.mu.Lock()
	i.unsubscribe = unsubscribe
	i.mu.Unlock()

	i.logger.Info("ingestion started",
		"subject", i.cfg.Subject, "queue_group", i.cfg.QueueGroup)
	return nil
}

// handle decodes one delivery and dispatches it
func (i *Ingestor) handle(ctx context.Context, data []byte) {
	atomic.AddInt64(&i.received, 1)

	msg, err := message.Unmarshal(data)
	if err != nil {
		atomic.AddInt64(&i.malformed, 1)
		if i.m != nil {
			i.m.RecordError("ingest", "malformed")
		}
		i.logger.Warn("dropping malformed message", "error", err)
		return
	}
	if err := msg.Validate(); err != nil {
		atomic.AddInt64(&i.malformed, 1)
		if i.m != nil {
			i.m.RecordError("ingest", "invalid")
		}
		i.logger.Warn("dropping invalid message", "id", msg.ID, "error", err)
		return
	}

	if i.m != nil {
		i.m.RecordMessageReceived("ingest", msg.Channel)
	}

	atomic.AddInt64(&i.dispatched, 1)
	i.inFlight.Add(1)
	go func() {
		defer i.inFlight.Done()
		i.proc.Process(ctx, msg)
	}()
}

// Stop unsubscribes and waits for dispatched messages to resolve
func (i *Ingestor) Stop() error {
	i.mu.Lock()
	unsubscribe := i.unsubscribe
	i.unsubscribe = nil
	i.mu.Unlock()

	var err error
	if unsubscribe != nil {
		err = unsubscribe()
	}
	i.inFlight.Wait()

	i.logger.Info("ingestion stopped", "received", atomic.LoadInt64(&i.received))
	return err
}

// Stats returns ingestion counters
func (i *Ingestor) Stats() Stats {
	return Stats{
		Received:   atomic.LoadInt64(&i.received),
		Malformed:  atomic.LoadInt64(&i.malformed),
		Dispatched: atomic.LoadInt64(&i.dispatched),
	}
}
