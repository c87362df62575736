package relay

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-metrics"
	"github.com/stretchr/testify/require"

	"github.com/baaaht/chatmesh/internal/logger"
	"github.com/baaaht/chatmesh/pkg/group"
)

var testAddr = group.MustParse("239.255.42.1:4983")

// fakeGroup stands in for the multicast socket. Datagrams pushed on in are
// what the broker "receives"; everything the broker publishes lands in sent.
type fakeGroup struct {
	in     chan []byte
	mu     sync.Mutex
	sent   [][]byte
	closed chan struct{}
	once   sync.Once

	closeErr error
}

func newFakeGroup() *fakeGroup {
	return &fakeGroup{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (f *fakeGroup) ReadFrom(b []byte) (int, net.Addr, error) {
	select {
	case p := <-f.in:
		return copy(b, p), &net.UDPAddr{IP: net.IPv4(10, 0, 0, 7), Port: 4983}, nil
	case <-f.closed:
		return 0, nil, net.ErrClosed
	}
}

func (f *fakeGroup) WriteToGroup(b []byte) (int, error) {
	select {
	case <-f.closed:
		return 0, net.ErrClosed
	default:
	}
	f.mu.Lock()
	f.sent = append(f.sent, append([]byte(nil), b...))
	f.mu.Unlock()
	return len(b), nil
}

func (f *fakeGroup) Close() error {
	f.once.Do(func() { close(f.closed) })
	return f.closeErr
}

func (f *fakeGroup) Sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

func (f *fakeGroup) opener() GroupOpener {
	return func(context.Context, group.Address) (GroupConn, error) {
		return f, nil
	}
}

// uniquePrefix keeps concurrently running tests on separate channels
func uniquePrefix() string {
	return fmt.Sprintf("cmtest%08x", rand.Uint32())
}

func testBrokerConfig(prefix string, fg *fakeGroup, clk clock.Clock) BrokerConfig {
	return BrokerConfig{
		ChannelPrefix:   prefix,
		GraceInterval:   time.Hour,
		ClientQueueSize: 8,
		WriteTimeout:    time.Second,
		OpenGroup:       fg.opener(),
		Clock:           clk,
		MetricSink:      &metrics.BlackholeSink{},
	}
}

func testClientConfig(prefix string) ClientConfig {
	return ClientConfig{
		ChannelPrefix:   prefix,
		ConnectAttempts: 50,
		ConnectDelay:    time.Millisecond,
		ConnectMaxDelay: 20 * time.Millisecond,
		MetricSink:      &metrics.BlackholeSink{},
	}
}

type runningBroker struct {
	*Broker
	cancel context.CancelFunc
	done   chan error
}

// startBroker runs a broker until the test ends
func startBroker(t *testing.T, cfg BrokerConfig) *runningBroker {
	t.Helper()

	b, err := NewBroker(testAddr, cfg, logger.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	rb := &runningBroker{Broker: b, cancel: cancel, done: make(chan error, 1)}
	go func() { rb.done <- b.Run(ctx) }()

	select {
	case <-b.Ready():
	case err := <-rb.done:
		cancel()
		t.Fatalf("broker exited before ready: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("broker not ready")
	}

	t.Cleanup(func() {
		cancel()
		select {
		case <-rb.done:
		case <-time.After(5 * time.Second):
			t.Error("broker did not stop")
		}
	})
	return rb
}

func dialTest(t *testing.T, prefix string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, testAddr, testClientConfig(prefix), nil, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func waitLive(t *testing.T, b *Broker, want int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		return b.Stats().LiveConnections == want
	}, 5*time.Second, 5*time.Millisecond, "live connections never reached %d", want)
}
