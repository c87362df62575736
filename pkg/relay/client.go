package relay

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/hashicorp/go-metrics"

	"github.com/baaaht/chatmesh/internal/config"
	"github.com/baaaht/chatmesh/internal/deadline"
	"github.com/baaaht/chatmesh/internal/logger"
	"github.com/baaaht/chatmesh/pkg/group"
	"github.com/baaaht/chatmesh/pkg/types"
)

// ClientConfig contains relay client configuration
type ClientConfig struct {
	ChannelPrefix string

	// Redial budget after spawning a broker
	ConnectAttempts int
	ConnectDelay    time.Duration
	ConnectMaxDelay time.Duration

	MetricSink   metrics.MetricSink
	MetricLabels []metrics.Label
}

// NewClientConfig builds a ClientConfig from loaded configuration
func NewClientConfig(cfg *config.Config) ClientConfig {
	return ClientConfig{
		ChannelPrefix:   cfg.Relay.ChannelPrefix,
		ConnectAttempts: cfg.Relay.ConnectAttempts,
		ConnectDelay:    cfg.Relay.ConnectDelay,
		ConnectMaxDelay: cfg.Relay.ConnectMaxDelay,
	}
}

func (c *ClientConfig) applyDefaults() {
	if c.ChannelPrefix == "" {
		c.ChannelPrefix = config.DefaultChannelPrefix
	}
	if c.ConnectAttempts <= 0 {
		c.ConnectAttempts = config.DefaultConnectAttempts
	}
	if c.ConnectDelay <= 0 {
		c.ConnectDelay = config.DefaultConnectDelay
	}
	if c.ConnectMaxDelay < c.ConnectDelay {
		c.ConnectMaxDelay = c.ConnectDelay
	}
	if c.MetricSink == nil {
		c.MetricSink = metrics.Default()
	}
}

// Client is one connection to the relay broker of a group
type Client struct {
	conn    net.Conn
	channel string
	logger  *logger.Logger

	rmu sync.Mutex
	fr  *FrameReader
	wmu sync.Mutex
}

// Dial connects to the broker for addr. When no broker answers it asks
// spawner for one and redials with exponential backoff until the attempt
// budget is spent (TIMEOUT). A failed spawn is CONNECT_FAILED and a done ctx
// is CANCELED.
func Dial(ctx context.Context, addr group.Address, cfg ClientConfig, spawner Spawner, log *logger.Logger) (*Client, error) {
	if err := addr.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Global()
	}
	cfg.applyDefaults()

	channel := addr.ChannelName(cfg.ChannelPrefix)
	log = log.With("component", "relay_client", "channel", channel)
	labels := groupLabels(cfg.MetricLabels, addr.String())

	conn, err := DialChannel(ctx, channel)
	if err == nil {
		cfg.MetricSink.IncrCounterWithLabels(MetricClientConnectCount, 1, labels)
		log.Debug("Connected to relay broker")
		return newClient(conn, channel, log), nil
	}
	if ctx.Err() != nil {
		return nil, types.WrapError(types.ErrCodeCanceled, "relay dial canceled", ctx.Err())
	}

	log.Info("No relay broker answering, spawning one", "error", err)
	if spawner == nil {
		return nil, types.WrapError(types.ErrCodeConnectFailed, "no relay broker and no spawner", err)
	}
	if err := spawner.Spawn(ctx, addr); err != nil {
		cfg.MetricSink.IncrCounterWithLabels(MetricClientConnectErrorCount, 1, withLabel(labels, MLabelError, "spawn"))
		return nil, types.WrapError(types.ErrCodeConnectFailed, "failed to spawn relay broker", err)
	}
	cfg.MetricSink.IncrCounterWithLabels(MetricClientSpawnCount, 1, labels)

	err = retry.Do(
		func() error {
			c, err := DialChannel(ctx, channel)
			if err != nil {
				return err
			}
			conn = c
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(cfg.ConnectAttempts)),
		retry.Delay(cfg.ConnectDelay),
		retry.MaxDelay(cfg.ConnectMaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Debug("Relay broker not ready", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, types.WrapError(types.ErrCodeCanceled, "relay dial canceled", ctx.Err())
		}
		cfg.MetricSink.IncrCounterWithLabels(MetricClientConnectErrorCount, 1, withLabel(labels, MLabelError, "timeout"))
		return nil, types.WrapError(types.ErrCodeTimeout, "relay broker did not come up on "+channel, err)
	}

	cfg.MetricSink.IncrCounterWithLabels(MetricClientConnectCount, 1, labels)
	log.Info("Connected to spawned relay broker")
	return newClient(conn, channel, log), nil
}

func newClient(conn net.Conn, channel string, log *logger.Logger) *Client {
	return &Client{
		conn:    conn,
		channel: channel,
		logger:  log,
		fr:      NewFrameReader(conn),
	}
}

// Channel returns the broker channel name
func (c *Client) Channel() string {
	return c.channel
}

// Send hands b to the broker as one frame; the broker publishes it to the
// group. It reports len(b) on success.
func (c *Client) Send(ctx context.Context, b []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	defer deadline.Interrupt(ctx, c.conn.SetWriteDeadline)()

	if err := WriteFrame(c.conn, b); err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, err
	}
	return len(b), nil
}

// Receive copies the next datagram relayed from the group into buf. A
// Receive cancelled in the middle of a frame leaves the connection unusable.
func (c *Client) Receive(ctx context.Context, buf []byte) (int, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()

	defer deadline.Interrupt(ctx, c.conn.SetReadDeadline)()

	frame, err := c.fr.Next()
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		if errors.Is(err, io.EOF) {
			return 0, types.WrapError(types.ErrCodeUnavailable, "relay broker closed the connection", err)
		}
		return 0, err
	}
	if len(frame) > len(buf) {
		return 0, io.ErrShortBuffer
	}
	return copy(buf, frame), nil
}

// Close closes the connection; the broker then drops this client
func (c *Client) Close() error {
	return c.conn.Close()
}
