// Package group defines the multicast group address shared by every
// communicator, the relay broker and its local channel name.
package group

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/baaaht/chatmesh/internal/config"
	"github.com/baaaht/chatmesh/pkg/types"
)

// Address is an IPv4 multicast address and port. The zero value is invalid.
type Address struct {
	ap netip.AddrPort
}

// New builds an Address from an IP and a port
func New(ip netip.Addr, port uint16) Address {
	return Address{ap: netip.AddrPortFrom(ip.Unmap(), port)}
}

// Parse parses "a.b.c.d:port". It does not check that the address is multicast;
// use Validate for that.
func Parse(s string) (Address, error) {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return Address{}, types.WrapError(types.ErrCodeInvalidArgument, "invalid group address: "+s, err)
	}
	return New(ap.Addr(), ap.Port()), nil
}

// MustParse is Parse that panics on error, for constants and tests
func MustParse(s string) Address {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// IP returns the group IP
func (a Address) IP() netip.Addr {
	return a.ap.Addr()
}

// Port returns the group port
func (a Address) Port() uint16 {
	return a.ap.Port()
}

// IsMulticast reports whether a is an IPv4 multicast address
func (a Address) IsMulticast() bool {
	ip := a.ap.Addr()
	return ip.Is4() && ip.IsMulticast()
}

// Validate returns a NOT_MULTICAST error unless a is an IPv4 multicast address.
func (a Address) Validate() error {
	if !a.IsMulticast() {
		return types.NewError(types.ErrCodeNotMulticast,
			fmt.Sprintf("address %s must be an IPv4 multicast address", a))
	}
	return nil
}

// UDPAddr returns the send destination for the group
func (a Address) UDPAddr() *net.UDPAddr {
	return net.UDPAddrFromAddrPort(a.ap)
}

// ChannelName derives the relay broker's local channel name. Address and
// port are both part of the name so distinct groups never share a broker.
func (a Address) ChannelName(prefix string) string {
	if prefix == "" {
		prefix = config.DefaultChannelPrefix
	}
	return prefix + ":" + a.String()
}

// String returns "ip:port"
func (a Address) String() string {
	if !a.ap.IsValid() {
		return "invalid"
	}
	return a.ap.String()
}
