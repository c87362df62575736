// Package probe discovers the host's outward-facing IPv4 address by looping
// a nonce through a discovery multicast group and reading the source address
// the kernel stamped on it.
package probe

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/netip"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/baaaht/chatmesh/internal/config"
	"github.com/baaaht/chatmesh/internal/deadline"
	"github.com/baaaht/chatmesh/internal/logger"
	"github.com/baaaht/chatmesh/pkg/group"
	"github.com/baaaht/chatmesh/pkg/multicast"
	"github.com/baaaht/chatmesh/pkg/types"
)

// PacketConn is the slice of a joined group socket the probe uses
type PacketConn interface {
	WriteToGroup(b []byte) (int, error)
	ReadFrom(b []byte) (int, net.Addr, error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// Config contains probe configuration
type Config struct {
	Group   group.Address
	Timeout time.Duration

	// Open joins the discovery group; nil joins it for real with loopback on
	Open func(ctx context.Context, addr group.Address) (PacketConn, error)
}

// NewConfig builds a Config from loaded configuration
func NewConfig(cfg config.ProbeConfig) (Config, error) {
	addr, err := group.Parse(cfg.Address)
	if err != nil {
		return Config{}, err
	}
	if err := addr.Validate(); err != nil {
		return Config{}, err
	}
	return Config{Group: addr, Timeout: cfg.Timeout}, nil
}

func openGroup(ctx context.Context, addr group.Address) (PacketConn, error) {
	c, err := multicast.Join(ctx, addr, multicast.Options{})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// MyIP sends a random 16-byte nonce to the discovery group and waits for it
// to come back. The sender address of the echo is the IPv4 address the host
// uses toward the group. An IPv6 echo is UNSUPPORTED, running out of
// cfg.Timeout is TIMEOUT and a done ctx is CANCELED.
func MyIP(ctx context.Context, cfg Config, log *logger.Logger) (netip.Addr, error) {
	if err := cfg.Group.Validate(); err != nil {
		return netip.Addr{}, err
	}
	if log == nil {
		log = logger.Global()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = config.DefaultProbeTimeout
	}
	if cfg.Open == nil {
		cfg.Open = openGroup
	}
	log = log.With("component", "probe", "group", cfg.Group.String())

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	conn, err := cfg.Open(ctx, cfg.Group)
	if err != nil {
		return netip.Addr{}, err
	}
	defer conn.Close()

	until, _ := ctx.Deadline()
	if err := conn.SetReadDeadline(until); err != nil {
		return netip.Addr{}, types.WrapError(types.ErrCodeInternal, "failed to set probe deadline", err)
	}
	defer deadline.Interrupt(ctx, conn.SetReadDeadline)()

	nonce := uuid.New()
	if _, err := conn.WriteToGroup(nonce[:]); err != nil {
		return netip.Addr{}, types.WrapError(types.ErrCodeUnavailable, "failed to send probe nonce", err)
	}
	log.Debug("Probe nonce sent", "nonce", nonce.String())

	buf := make([]byte, 64)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			return netip.Addr{}, readError(ctx, err)
		}
		if !bytes.Equal(buf[:n], nonce[:]) {
			log.Debug("Ignoring unrelated probe datagram", "from", from, "size", n)
			continue
		}

		ip, err := senderIP(from)
		if err != nil {
			return netip.Addr{}, err
		}
		log.Info("Outward address discovered", "ip", ip.String())
		return ip, nil
	}
}

func readError(ctx context.Context, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return types.WrapError(types.ErrCodeCanceled, "probe canceled", ctx.Err())
	case ctx.Err() != nil, errors.Is(err, os.ErrDeadlineExceeded):
		// The read deadline is the context deadline.
		return types.WrapError(types.ErrCodeTimeout, "no probe echo before deadline", err)
	default:
		return types.WrapError(types.ErrCodeUnavailable, "failed to read probe echo", err)
	}
}

func senderIP(from net.Addr) (netip.Addr, error) {
	udp, ok := from.(*net.UDPAddr)
	if !ok {
		return netip.Addr{}, types.NewError(types.ErrCodeInternal, "unexpected sender address type "+from.Network())
	}
	ip := udp.AddrPort().Addr()
	if ip.Is4In6() {
		ip = ip.Unmap()
	}
	if !ip.Is4() {
		return netip.Addr{}, types.NewError(types.ErrCodeUnsupported, "probe echoed from IPv6 sender "+ip.String())
	}
	return ip, nil
}
