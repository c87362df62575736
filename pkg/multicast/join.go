// Package multicast opens UDP sockets joined to an IPv4 multicast group.
package multicast

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/net/ipv4"

	"github.com/baaaht/chatmesh/pkg/group"
	"github.com/baaaht/chatmesh/pkg/types"
)

// Options tunes the group socket. The zero value binds with address reuse,
// enables loopback and keeps the OS default TTL.
type Options struct {
	TTL             int
	DisableLoopback bool
	DisableReuse    bool
	// Interface to join on; nil lets the OS pick.
	Interface *net.Interface
}

// Conn is a UDP socket bound to ANY:port and joined to one group
type Conn struct {
	conn  *net.UDPConn
	pc    *ipv4.PacketConn
	group *net.UDPAddr
	ifi   *net.Interface
}

// Join binds 0.0.0.0:<port> and joins addr's group. A non-multicast addr
// fails with NOT_MULTICAST before any socket is created; OS failures carry
// JOIN_FAILED.
func Join(ctx context.Context, addr group.Address, opts Options) (*Conn, error) {
	if err := addr.Validate(); err != nil {
		return nil, err
	}

	lc := net.ListenConfig{}
	if !opts.DisableReuse {
		lc.Control = reuseControl
	}

	pconn, err := lc.ListenPacket(ctx, "udp4", fmt.Sprintf("0.0.0.0:%d", addr.Port()))
	if err != nil {
		return nil, types.WrapError(types.ErrCodeJoinFailed, "failed to bind group port", err)
	}
	udp := pconn.(*net.UDPConn)

	c := &Conn{
		conn:  udp,
		pc:    ipv4.NewPacketConn(udp),
		group: addr.UDPAddr(),
		ifi:   opts.Interface,
	}

	if err := c.pc.JoinGroup(opts.Interface, c.group); err != nil {
		udp.Close()
		return nil, types.WrapError(types.ErrCodeJoinFailed, "failed to join "+addr.String(), err)
	}
	if err := c.pc.SetMulticastLoopback(!opts.DisableLoopback); err != nil {
		c.Close()
		return nil, types.WrapError(types.ErrCodeJoinFailed, "failed to set multicast loopback", err)
	}
	if opts.TTL > 0 {
		if err := c.pc.SetMulticastTTL(opts.TTL); err != nil {
			c.Close()
			return nil, types.WrapError(types.ErrCodeJoinFailed, "failed to set multicast ttl", err)
		}
	}

	return c, nil
}

// WriteToGroup sends one datagram to the group and returns the OS count
func (c *Conn) WriteToGroup(b []byte) (int, error) {
	return c.conn.WriteToUDP(b, c.group)
}

// ReadFrom reads one datagram from the group socket
func (c *Conn) ReadFrom(b []byte) (int, net.Addr, error) {
	return c.conn.ReadFrom(b)
}

// SetReadDeadline sets the deadline for ReadFrom
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// Group returns the destination of WriteToGroup
func (c *Conn) Group() *net.UDPAddr {
	return c.group
}

// LocalAddr returns the bound address
func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// Close leaves the group and closes the socket
func (c *Conn) Close() error {
	return multierr.Append(
		c.pc.LeaveGroup(c.ifi, c.group),
		c.conn.Close(),
	)
}
