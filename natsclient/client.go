// Package natsclient manages the NATS connection for the pipeline's
// ingestion and result publishing, with reconnect handling and
// connection-status reporting.
package natsclient

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/streamguard/errors"
	"github.com/c360/streamguard/pkg/retry"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int32

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusClosed
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config holds NATS connection settings
type Config struct {
	URL           string
	ClientName    string
	MaxReconnects int
	ReconnectWait time.Duration
	Username      string
	Password      string
	Token         string
}

// Client wraps a NATS connection with lifecycle and status tracking
type Client struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	conn   *nats.Conn
	subs   []*nats.Subscription
	status atomic.Int32

	reconnects atomic.Int64
}

// New creates an unconnected client
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, logger: logger}
}

// Status returns the current connection status
func (c *Client) Status() ConnectionStatus {
	return ConnectionStatus(c.status.Load())
}

// Reconnects returns how many times the connection was re-established
func (c *Client) Reconnects() int64 {
	return c.reconnects.Load()
}

// IsConnected reports whether the underlying connection is up
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && c.conn.IsConnected()
}

func (c *Client) buildOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(c.cfg.MaxReconnects),
		nats.ReconnectWait(c.cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.status.Store(int32(StatusReconnecting))
			c.logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.status.Store(int32(StatusConnected))
			c.reconnects.Add(1)
			c.logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.status.Store(int32(StatusClosed))
			c.logger.Info("nats connection closed")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			c.logger.Error("nats async error", "subject", subject, "error", err)
		}),
	}

	if c.cfg.ClientName != "" {
		opts = append(opts, nats.Name(c.cfg.ClientName))
	}
	if c.cfg.Username != "" && c.cfg.Password != "" {
		opts = append(opts, nats.UserInfo(c.cfg.Username, c.cfg.Password))
	}
	if c.cfg.Token != "" {
		opts = append(opts, nats.Token(c.cfg.Token))
	}
	return opts
}

// Connect establishes the connection, retrying with backoff until ctx is
// cancelled
func (c *Client) Connect(ctx context.Context) error {
	c.status.Store(int32(StatusConnecting))

	err := retry.Do(ctx, retry.Persistent(), func() error {
		conn, err := nats.Connect(c.cfg.URL, c.buildOptions()...)
		if err != nil {
			c.logger.Warn("nats connect failed, retrying", "url", c.cfg.URL, "error", err)
			return err
		}
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		return nil
	})
	if err != nil {
		c.status.Store(int32(StatusDisconnected))
		return errors.WrapTransient(err, "Client", "Connect", "establish connection")
	}

	c.status.Store(int32(StatusConnected))
	c.logger.Info("nats connected", "url", c.cfg.URL)
	return nil
}

// Subscribe registers a handler for subject. A non-empty queue joins a
// queue group so multiple instances share the stream. The returned
// function removes the subscription.
func (c *Client) Subscribe(subject, queue string, handler func(data []byte)) (func() error, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, errors.ErrNoConnection
	}

	cb := func(msg *nats.Msg) { handler(msg.Data) }

	var sub *nats.Subscription
	var err error
	if queue != "" {
		sub, err = conn.QueueSubscribe(subject, queue, cb)
	} else {
		sub, err = conn.Subscribe(subject, cb)
	}
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "Subscribe", "subscribe to subject")
	}

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()

	return sub.Unsubscribe, nil
}

// Publish sends data on subject
func (c *Client) Publish(subject string, data []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.ErrNoConnection
	}

	if err := conn.Publish(subject, data); err != nil {
		return errors.WrapTransient(err, "Client", "Publish", "publish message")
	}
	return nil
}

// Close drains subscriptions and closes the connection. Drain lets
// in-flight deliveries finish before teardown.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.subs = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	if err := conn.Drain(); err != nil {
		conn.Close()
		return errors.WrapTransient(err, "Client", "Close", "drain connection")
	}
	return nil
}
