package communicator

import (
	"context"
	"sync"

	"github.com/baaaht/chatmesh/internal/deadline"
	"github.com/baaaht/chatmesh/pkg/group"
	"github.com/baaaht/chatmesh/pkg/multicast"
)

// Direct owns a socket joined to the group and sends straight to it
type Direct struct {
	addr group.Address
	conn *multicast.Conn
	rmu  sync.Mutex
}

// NewDirect joins addr's group. A non-multicast addr fails with
// NOT_MULTICAST before any OS call; bind and join failures carry JOIN_FAILED.
func NewDirect(ctx context.Context, addr group.Address, opts multicast.Options) (*Direct, error) {
	if err := addr.Validate(); err != nil {
		return nil, err
	}
	conn, err := multicast.Join(ctx, addr, opts)
	if err != nil {
		return nil, err
	}
	return &Direct{addr: addr, conn: conn}, nil
}

// Send writes b to the group. The count is what the OS reports and is not
// checked against len(b).
func (d *Direct) Send(ctx context.Context, b []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return d.conn.WriteToGroup(b)
}

// Receive reads one datagram from the group into buf
func (d *Direct) Receive(ctx context.Context, buf []byte) (int, error) {
	d.rmu.Lock()
	defer d.rmu.Unlock()

	defer deadline.Interrupt(ctx, d.conn.SetReadDeadline)()

	n, _, err := d.conn.ReadFrom(buf)
	if err != nil && ctx.Err() != nil {
		return 0, ctx.Err()
	}
	return n, err
}

// Close leaves the group and closes the socket
func (d *Direct) Close() error {
	return d.conn.Close()
}
