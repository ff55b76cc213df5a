// Package natsclient manages the node's NATS connection and its JetStream
// resources: the work-queue streams, the outbox KV bucket and the blob
// buckets.
package natsclient

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/trustbridge/intergov/pkg/retry"
)

// ConnectionStatus tracks the lifecycle of the underlying connection.
type ConnectionStatus int32

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusClosed
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Client wraps a NATS connection with reconnect handling and JetStream
// helpers. One Client is shared by every queue and bucket in the process.
type Client struct {
	url    string
	name   string
	logger *slog.Logger

	mu       sync.RWMutex
	conn     *nats.Conn
	js       jetstream.JetStream
	status   atomic.Int32
	failures atomic.Int32

	maxReconnects int
	reconnectWait time.Duration
	timeout       time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithName sets the connection name visible to the server.
func WithName(name string) Option {
	return func(c *Client) { c.name = name }
}

// WithLogger replaces the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithTimeout sets the dial timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithReconnects sets the reconnect policy.
func WithReconnects(max int, wait time.Duration) Option {
	return func(c *Client) {
		c.maxReconnects = max
		c.reconnectWait = wait
	}
}

// New builds a Client for url. Connect must be called before use.
func New(url string, opts ...Option) (*Client, error) {
	if url == "" {
		return nil, fmt.Errorf("natsclient: url cannot be empty")
	}
	c := &Client{
		url:           url,
		name:          "intergov-node",
		logger:        slog.Default(),
		maxReconnects: -1,
		reconnectWait: 2 * time.Second,
		timeout:       5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Connect dials the server and initialises JetStream, retrying while the
// server comes up.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil && c.conn.IsConnected() {
		return nil
	}
	c.status.Store(int32(StatusConnecting))

	conn, err := retry.DoWithResult(ctx, retry.Quick(), func() (*nats.Conn, error) {
		return c.dial()
	})
	if err != nil {
		c.status.Store(int32(StatusDisconnected))
		c.failures.Add(1)
		return fmt.Errorf("natsclient: connect %s: %w", c.url, err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		c.status.Store(int32(StatusDisconnected))
		return fmt.Errorf("natsclient: jetstream init: %w", err)
	}

	c.conn = conn
	c.js = js
	c.status.Store(int32(StatusConnected))
	c.logger.Info("nats connected", "url", conn.ConnectedUrl(), "name", c.name)
	return nil
}

func (c *Client) dial() (*nats.Conn, error) {
	return nats.Connect(c.url,
		nats.Name(c.name),
		nats.Timeout(c.timeout),
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.failures.Add(1)
			c.status.Store(int32(StatusDisconnected))
			c.logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.status.Store(int32(StatusConnected))
			c.logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.status.Store(int32(StatusClosed))
		}),
	)
}

// Close drains the connection, letting in-flight acks finish.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := c.conn.Drain(); err != nil {
			c.logger.Warn("nats drain failed", "error", err)
			c.conn.Close()
		}
	}()
	select {
	case <-done:
	case <-ctx.Done():
		c.conn.Close()
	}
	c.conn = nil
	c.js = nil
	c.status.Store(int32(StatusClosed))
	return nil
}

// JetStream returns the JetStream context.
func (c *Client) JetStream() (jetstream.JetStream, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.js == nil {
		return nil, fmt.Errorf("natsclient: not connected")
	}
	return c.js, nil
}

// Status reports the connection state.
func (c *Client) Status() ConnectionStatus {
	return ConnectionStatus(c.status.Load())
}

// IsHealthy reports whether the connection is up.
func (c *Client) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && c.conn.IsConnected()
}

// Failures reports how many disconnects the client has seen.
func (c *Client) Failures() int32 {
	return c.failures.Load()
}

// CreateKeyValueBucket creates or binds a KV bucket.
func (c *Client) CreateKeyValueBucket(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("natsclient: create kv bucket %s: %w", cfg.Bucket, err)
	}
	return kv, nil
}

// RTT measures the round trip to the server.
func (c *Client) RTT() (time.Duration, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil {
		return 0, fmt.Errorf("natsclient: not connected")
	}
	return c.conn.RTT()
}
