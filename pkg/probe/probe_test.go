package probe

import (
	"context"
	"math/rand"
	"net"
	"net/netip"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baaaht/chatmesh/internal/config"
	"github.com/baaaht/chatmesh/internal/logger"
	"github.com/baaaht/chatmesh/pkg/group"
	"github.com/baaaht/chatmesh/pkg/types"
)

type datagram struct {
	b    []byte
	from net.Addr
}

// echoConn replays what is written to it from a fixed sender, after any
// queued noise.
type echoConn struct {
	mu       sync.Mutex
	from     net.Addr
	noise    []datagram
	echo     bool
	inbox    chan datagram
	deadline time.Time
	changed  chan struct{}
	closed   bool
}

func newEchoConn(from net.Addr, echo bool, noise ...datagram) *echoConn {
	return &echoConn{
		from:    from,
		noise:   noise,
		echo:    echo,
		inbox:   make(chan datagram, 8),
		changed: make(chan struct{}, 1),
	}
}

func (c *echoConn) WriteToGroup(b []byte) (int, error) {
	for _, d := range c.noise {
		c.inbox <- d
	}
	if c.echo {
		c.inbox <- datagram{b: append([]byte(nil), b...), from: c.from}
	}
	return len(b), nil
}

func (c *echoConn) ReadFrom(b []byte) (int, net.Addr, error) {
	for {
		c.mu.Lock()
		wait := time.Until(c.deadline)
		c.mu.Unlock()
		if wait <= 0 {
			return 0, nil, os.ErrDeadlineExceeded
		}

		select {
		case d := <-c.inbox:
			return copy(b, d.b), d.from, nil
		case <-c.changed:
		case <-time.After(wait):
		}
	}
}

func (c *echoConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.deadline = t
	c.mu.Unlock()
	select {
	case c.changed <- struct{}{}:
	default:
	}
	return nil
}

func (c *echoConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *echoConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

var probeGroup = group.MustParse(config.DefaultProbeAddress)

func fakeConfig(conn *echoConn, timeout time.Duration) Config {
	return Config{
		Group:   probeGroup,
		Timeout: timeout,
		Open: func(context.Context, group.Address) (PacketConn, error) {
			return conn, nil
		},
	}
}

func udpFrom(s string) *net.UDPAddr {
	return net.UDPAddrFromAddrPort(netip.MustParseAddrPort(s))
}

func TestMyIPReturnsEchoSender(t *testing.T) {
	conn := newEchoConn(udpFrom("192.168.1.20:28324"), true,
		datagram{b: []byte("someone else's nonce"), from: udpFrom("192.168.1.30:28324")},
		datagram{b: make([]byte, 16), from: udpFrom("192.168.1.31:28324")},
	)

	ip, err := MyIP(context.Background(), fakeConfig(conn, 5*time.Second), logger.NewNop())
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("192.168.1.20"), ip)
	assert.True(t, conn.isClosed())
}

func TestMyIPUnmapsIPv4InIPv6(t *testing.T) {
	conn := newEchoConn(udpFrom("[::ffff:10.0.0.7]:28324"), true)

	ip, err := MyIP(context.Background(), fakeConfig(conn, 5*time.Second), logger.NewNop())
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("10.0.0.7"), ip)
}

func TestMyIPRejectsIPv6Sender(t *testing.T) {
	conn := newEchoConn(udpFrom("[fe80::1]:28324"), true)

	_, err := MyIP(context.Background(), fakeConfig(conn, 5*time.Second), logger.NewNop())
	assert.True(t, types.IsErrCode(err, types.ErrCodeUnsupported), "got %v", err)
}

func TestMyIPTimesOut(t *testing.T) {
	conn := newEchoConn(nil, false)

	start := time.Now()
	_, err := MyIP(context.Background(), fakeConfig(conn, 50*time.Millisecond), logger.NewNop())
	assert.True(t, types.IsErrCode(err, types.ErrCodeTimeout), "got %v", err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestMyIPCanceled(t *testing.T) {
	conn := newEchoConn(nil, false)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := MyIP(ctx, fakeConfig(conn, time.Minute), logger.NewNop())
	assert.True(t, types.IsErrCode(err, types.ErrCodeCanceled), "got %v", err)
}

func TestMyIPRejectsNonMulticastGroup(t *testing.T) {
	cfg := Config{Group: group.MustParse("10.0.0.1:28324")}
	_, err := MyIP(context.Background(), cfg, logger.NewNop())
	assert.True(t, types.IsErrCode(err, types.ErrCodeNotMulticast))
}

func TestNewConfig(t *testing.T) {
	cfg, err := NewConfig(config.DefaultProbeConfig())
	require.NoError(t, err)
	assert.Equal(t, probeGroup, cfg.Group)
	assert.Equal(t, config.DefaultProbeTimeout, cfg.Timeout)

	_, err = NewConfig(config.ProbeConfig{Address: "nope", Timeout: time.Second})
	assert.True(t, types.IsErrCode(err, types.ErrCodeInvalidArgument))

	_, err = NewConfig(config.ProbeConfig{Address: "10.0.0.1:1", Timeout: time.Second})
	assert.True(t, types.IsErrCode(err, types.ErrCodeNotMulticast))
}

func TestMyIPOverLoopback(t *testing.T) {
	port := uint16(20000 + rand.Intn(20000))
	cfg := Config{
		Group:   group.New(netip.AddrFrom4([4]byte{239, 255, 77, 2}), port),
		Timeout: 2 * time.Second,
	}

	ip, err := MyIP(context.Background(), cfg, logger.NewNop())
	if types.IsErrCode(err, types.ErrCodeJoinFailed) || types.IsErrCode(err, types.ErrCodeTimeout) ||
		types.IsErrCode(err, types.ErrCodeUnavailable) {
		t.Skipf("multicast loopback unavailable on this host: %v", err)
	}
	require.NoError(t, err)
	assert.True(t, ip.Is4())
}
