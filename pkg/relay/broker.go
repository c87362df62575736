package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-metrics"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/baaaht/chatmesh/internal/config"
	"github.com/baaaht/chatmesh/internal/logger"
	"github.com/baaaht/chatmesh/pkg/group"
	"github.com/baaaht/chatmesh/pkg/message"
	"github.com/baaaht/chatmesh/pkg/multicast"
	"github.com/baaaht/chatmesh/pkg/types"
)

// groupReadSize is large enough for any UDP datagram
const groupReadSize = 64 * 1024

// GroupConn is the broker's socket on the multicast group
type GroupConn interface {
	ReadFrom(b []byte) (int, net.Addr, error)
	WriteToGroup(b []byte) (int, error)
	Close() error
}

// GroupOpener opens the group socket for a broker
type GroupOpener func(ctx context.Context, addr group.Address) (GroupConn, error)

// BrokerConfig contains relay broker configuration
type BrokerConfig struct {
	ChannelPrefix   string
	GraceInterval   time.Duration
	ClientQueueSize int
	WriteTimeout    time.Duration

	// Group socket options used by the default opener
	Group multicast.Options

	// OpenGroup replaces multicast.Join, mainly for tests
	OpenGroup GroupOpener

	// Clock drives the idle watchdog; nil uses the wall clock
	Clock clock.Clock

	// MetricSink to use for emitting metrics; nil uses metrics.Default()
	MetricSink   metrics.MetricSink
	MetricLabels []metrics.Label
}

// NewBrokerConfig builds a BrokerConfig from loaded configuration
func NewBrokerConfig(cfg *config.Config) BrokerConfig {
	return BrokerConfig{
		ChannelPrefix:   cfg.Relay.ChannelPrefix,
		GraceInterval:   cfg.Relay.GraceInterval,
		ClientQueueSize: cfg.Relay.ClientQueueSize,
		WriteTimeout:    cfg.Relay.WriteTimeout,
		Group: multicast.Options{
			TTL:             cfg.Group.TTL,
			DisableLoopback: cfg.Group.DisableLoopback,
			DisableReuse:    cfg.Group.DisableReuse,
		},
	}
}

// Broker owns the multicast socket for one group on behalf of every local
// relay client.
type Broker struct {
	addr    group.Address
	channel string
	cfg     BrokerConfig
	logger  *logger.Logger
	msink   metrics.MetricSink
	mlabels []metrics.Label
	clock   clock.Clock

	live     Counter
	accepted atomic.Uint64 // accept generation, bumped on every accept
	nextID   atomic.Uint64
	clients  sync.Map // uint64 -> *brokerClient
	wg       sync.WaitGroup

	framesIn     atomic.Uint64
	datagramsOut atomic.Uint64
	datagramsIn  atomic.Uint64
	dropped      atomic.Uint64

	gconn   GroupConn
	ready   chan struct{}
	running atomic.Bool
	status  atomic.Value // types.Status

	// gate orders admissions against the idle decision
	gate     sync.Mutex
	draining bool
}

// brokerClient is one accepted relay connection. The read half belongs to
// readLoop and the write half to writeLoop.
type brokerClient struct {
	id        uint64
	conn      net.Conn
	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (c *brokerClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// NewBroker creates a broker for addr. Nothing is opened until Run.
func NewBroker(addr group.Address, cfg BrokerConfig, log *logger.Logger) (*Broker, error) {
	if err := addr.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Global()
	}

	if cfg.ChannelPrefix == "" {
		cfg.ChannelPrefix = config.DefaultChannelPrefix
	}
	if cfg.GraceInterval <= 0 {
		cfg.GraceInterval = config.DefaultGraceInterval
	}
	if cfg.ClientQueueSize <= 0 {
		cfg.ClientQueueSize = config.DefaultClientQueueSize
	}
	if cfg.OpenGroup == nil {
		opts := cfg.Group
		cfg.OpenGroup = func(ctx context.Context, addr group.Address) (GroupConn, error) {
			conn, err := multicast.Join(ctx, addr, opts)
			if err != nil {
				return nil, err
			}
			return conn, nil
		}
	}

	b := &Broker{
		addr:    addr,
		channel: addr.ChannelName(cfg.ChannelPrefix),
		cfg:     cfg,
		msink:   cfg.MetricSink,
		mlabels: groupLabels(cfg.MetricLabels, addr.String()),
		clock:   cfg.Clock,
		ready:   make(chan struct{}),
	}
	b.status.Store(types.StatusUnknown)
	if b.msink == nil {
		b.msink = metrics.Default()
	}
	if b.clock == nil {
		b.clock = clock.New()
	}
	b.logger = log.With("component", "relay_broker", "group", addr.String())

	return b, nil
}

// Channel returns the local channel name the broker listens on
func (b *Broker) Channel() string {
	return b.channel
}

// Ready is closed once the broker is listening and joined to the group
func (b *Broker) Ready() <-chan struct{} {
	return b.ready
}

// Run listens on the channel, joins the group and relays until no client has
// been connected for a full grace interval or ctx is done. A channel name
// already taken fails with ALREADY_EXISTS; a failed group join fails with
// BROKER_FAILED.
func (b *Broker) Run(ctx context.Context) error {
	if !b.running.CompareAndSwap(false, true) {
		return types.NewError(types.ErrCodeFailedPrecondition, "broker already ran")
	}
	b.status.Store(types.StatusStarting)

	ln, err := ListenChannel(b.channel)
	if err != nil {
		b.status.Store(types.StatusError)
		return err
	}

	gconn, err := b.cfg.OpenGroup(ctx, b.addr)
	if err != nil {
		ln.Close()
		b.status.Store(types.StatusError)
		return types.WrapError(types.ErrCodeBrokerFailed, "failed to join multicast group "+b.addr.String(), err)
	}
	b.gconn = gconn

	ticker := b.clock.Ticker(b.cfg.GraceInterval)

	b.logger.Info("Relay broker started",
		"channel", b.channel,
		"pid", os.Getpid(),
		"grace_interval", b.cfg.GraceInterval.String())
	b.status.Store(types.StatusRunning)
	close(b.ready)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return b.acceptLoop(gctx, ln)
	})
	g.Go(func() error {
		return b.groupLoop(gctx, gconn)
	})
	g.Go(func() error {
		defer ticker.Stop()
		if b.watch(gctx, ticker.C) {
			stop()
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return multierr.Combine(ln.Close(), gconn.Close())
	})

	runErr := g.Wait()
	b.status.Store(types.StatusStopping)

	// The accept loop has exited, so no client can register after this.
	b.clients.Range(func(_, v any) bool {
		v.(*brokerClient).close()
		return true
	})
	b.wg.Wait()

	if runErr != nil {
		b.status.Store(types.StatusError)
		b.logger.Error("Relay broker failed", "error", runErr, "stats", b.Stats().String())
		return types.WrapError(types.ErrCodeBrokerFailed, "relay broker failed", runErr)
	}
	b.status.Store(types.StatusStopped)
	b.logger.Info("Relay broker stopped", "stats", b.Stats().String())
	return nil
}

// acceptLoop registers every client connecting on the channel
func (b *Broker) acceptLoop(ctx context.Context, ln net.Listener) error {
	pace := errorPacer{clock: b.clock}
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			b.logger.Warn("Failed to accept relay connection", "error", err, "failures", pace.failures+1)
			if !pace.wait(ctx) {
				return nil
			}
			continue
		}
		pace.reset()
		if ctx.Err() != nil {
			conn.Close()
			return nil
		}
		b.admit(conn)
	}
}

// admit registers conn unless the watchdog has already decided to stop, in
// which case conn is closed and the client sees the broker go away.
func (b *Broker) admit(conn net.Conn) bool {
	b.gate.Lock()
	defer b.gate.Unlock()
	if b.draining {
		conn.Close()
		b.msink.IncrCounterWithLabels(MetricBrokerClientCloseCount, 1, withLabel(b.mlabels, MLabelReason, "draining"))
		b.logger.Debug("Refused relay client, broker is stopping")
		return false
	}
	b.register(conn)
	return true
}

// idleTick feeds one watchdog tick to idle. Admissions wait while it runs, so
// a client accepted before the decision keeps the broker up and one accepted
// after it is refused.
func (b *Broker) idleTick(idle *idleTracker) bool {
	b.gate.Lock()
	defer b.gate.Unlock()
	if !idle.observe(b.live.Load(), b.accepted.Load()) {
		return false
	}
	b.draining = true
	return true
}

func (b *Broker) register(conn net.Conn) {
	c := &brokerClient{
		id:   b.nextID.Add(1),
		conn: conn,
		out:  make(chan []byte, b.cfg.ClientQueueSize),
		done: make(chan struct{}),
	}
	b.clients.Store(c.id, c)
	live := b.live.Inc()
	b.accepted.Add(1)

	b.msink.IncrCounterWithLabels(MetricBrokerClientAcceptCount, 1, b.mlabels)
	b.msink.SetGaugeWithLabels(MetricBrokerClientsLive, float32(live), b.mlabels)
	b.logger.Info("Relay client connected", "client_id", c.id, "live", live)

	b.wg.Add(2)
	go b.readLoop(c)
	go b.writeLoop(c)
}

// deregister removes c exactly once and closes it
func (b *Broker) deregister(c *brokerClient, reason string) {
	if _, loaded := b.clients.LoadAndDelete(c.id); !loaded {
		return
	}
	live := b.live.Dec()
	c.close()

	b.msink.IncrCounterWithLabels(MetricBrokerClientCloseCount, 1, withLabel(b.mlabels, MLabelReason, reason))
	b.msink.SetGaugeWithLabels(MetricBrokerClientsLive, float32(live), b.mlabels)
	b.logger.Info("Relay client disconnected", "client_id", c.id, "reason", reason, "live", live)
}

// readLoop publishes every frame c writes to the group
func (b *Broker) readLoop(c *brokerClient) {
	defer b.wg.Done()

	fr := NewFrameReader(c.conn)
	for {
		frame, err := fr.Next()
		if err != nil {
			b.deregister(c, b.readErrorReason(c, err))
			return
		}

		b.framesIn.Add(1)
		b.msink.IncrCounterWithLabels(MetricBrokerFrameInBytes, float32(len(frame)), b.mlabels)
		b.logFrame(c, frame)
		b.publish(frame)
	}
}

func (b *Broker) readErrorReason(c *brokerClient, err error) string {
	select {
	case <-c.done:
		return "shutdown"
	default:
	}

	switch {
	case errors.Is(err, io.EOF):
		return "closed"
	case types.IsErrCode(err, types.ErrCodeDecoding):
		b.logger.Warn("Dropping relay client after bad frame", "client_id", c.id, "error", err)
		b.msink.IncrCounterWithLabels(MetricBrokerFrameInErrorCount, 1, withLabel(b.mlabels, MLabelError, "bad_frame"))
		return "bad_frame"
	default:
		b.logger.Error("Error reading from relay client", "client_id", c.id, "error", err)
		b.msink.IncrCounterWithLabels(MetricBrokerFrameInErrorCount, 1, withLabel(b.mlabels, MLabelError, "read"))
		return "read_error"
	}
}

func (b *Broker) logFrame(c *brokerClient, frame []byte) {
	if m, err := message.Decode(frame); err == nil {
		b.logger.Info("Received message from relay client", "client_id", c.id, "message", fmt.Sprint(m))
		return
	}
	b.logger.Debug("Received bytes from relay client", "client_id", c.id, "size", len(frame))
}

func (b *Broker) publish(frame []byte) {
	n, err := b.gconn.WriteToGroup(frame)
	if err != nil {
		b.logger.Warn("Failed to publish to group", "error", err)
		b.msink.IncrCounterWithLabels(MetricBrokerDatagramOutErrors, 1, b.mlabels)
		return
	}
	b.datagramsOut.Add(1)
	b.msink.IncrCounterWithLabels(MetricBrokerDatagramOutBytes, float32(n), b.mlabels)
}

// writeLoop pushes fanned-out datagrams to c
func (b *Broker) writeLoop(c *brokerClient) {
	defer b.wg.Done()

	for {
		select {
		case <-c.done:
			return
		case p := <-c.out:
			if b.cfg.WriteTimeout > 0 {
				c.conn.SetWriteDeadline(time.Now().Add(b.cfg.WriteTimeout))
			}
			if err := WriteFrame(c.conn, p); err != nil {
				b.deregister(c, "write_error")
				return
			}
		}
	}
}

// groupLoop fans every datagram received from the group out to all clients
func (b *Broker) groupLoop(ctx context.Context, gconn GroupConn) error {
	buf := make([]byte, groupReadSize)
	pace := errorPacer{clock: b.clock}
	for {
		n, from, err := gconn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			b.logger.Warn("Failed to read from group", "error", err, "failures", pace.failures+1)
			if !pace.wait(ctx) {
				return nil
			}
			continue
		}
		pace.reset()
		if n == 0 {
			continue
		}
		if n > MaxFrameSize {
			b.logger.Debug("Dropping oversized datagram", "from", from, "size", n)
			b.msink.IncrCounterWithLabels(MetricBrokerDatagramDropCount, 1, withLabel(b.mlabels, MLabelReason, "oversized"))
			continue
		}

		b.datagramsIn.Add(1)
		b.msink.IncrCounterWithLabels(MetricBrokerDatagramInBytes, float32(n), b.mlabels)
		b.fanOut(append([]byte(nil), buf[:n]...))
	}
}

// fanOut queues p for every client. A full queue drops p for that client only.
func (b *Broker) fanOut(p []byte) {
	b.clients.Range(func(_, v any) bool {
		c := v.(*brokerClient)
		select {
		case c.out <- p:
		default:
			b.dropped.Add(1)
			b.msink.IncrCounterWithLabels(MetricBrokerDatagramDropCount, 1, withLabel(b.mlabels, MLabelReason, "queue_full"))
		}
		return true
	})
}

// watch returns true when the broker went idle, false when ctx ended first
func (b *Broker) watch(ctx context.Context, tick <-chan time.Time) bool {
	var idle idleTracker
	for {
		select {
		case <-ctx.Done():
			return false
		case <-tick:
			if b.idleTick(&idle) {
				b.logger.Info("No relay clients for a full grace interval, stopping",
					"grace_interval", b.cfg.GraceInterval.String())
				return true
			}
			if idle.pending() {
				b.logger.Debug("Relay broker idle, stopping after next tick")
			}
		}
	}
}

// Status returns the broker lifecycle status
func (b *Broker) Status() types.Status {
	return b.status.Load().(types.Status)
}

// Stats returns broker statistics
func (b *Broker) Stats() BrokerStats {
	return BrokerStats{
		Channel:         b.channel,
		Group:           b.addr.String(),
		Status:          b.Status(),
		LiveConnections: b.live.Load(),
		TotalAccepted:   b.accepted.Load(),
		FramesIn:        b.framesIn.Load(),
		DatagramsOut:    b.datagramsOut.Load(),
		DatagramsIn:     b.datagramsIn.Load(),
		Dropped:         b.dropped.Load(),
	}
}

// String returns a string representation of the broker
func (b *Broker) String() string {
	return fmt.Sprintf("Broker{Channel: %s, Live: %d}", b.channel, b.live.Load())
}

// BrokerStats represents broker statistics
type BrokerStats struct {
	Channel         string       `json:"channel"`
	Group           string       `json:"group"`
	Status          types.Status `json:"status"`
	LiveConnections int64        `json:"live_connections"`
	TotalAccepted   uint64       `json:"total_accepted"`
	FramesIn        uint64       `json:"frames_in"`
	DatagramsOut    uint64       `json:"datagrams_out"`
	DatagramsIn     uint64       `json:"datagrams_in"`
	Dropped         uint64       `json:"dropped"`
}

// String returns a string representation of the stats
func (s BrokerStats) String() string {
	return fmt.Sprintf("BrokerStats{Status: %s, Live: %d, Accepted: %d, FramesIn: %d, Out: %d, In: %d, Dropped: %d}",
		s.Status, s.LiveConnections, s.TotalAccepted, s.FramesIn, s.DatagramsOut, s.DatagramsIn, s.Dropped)
}
