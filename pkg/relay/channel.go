package relay

import (
	"context"
	"net"

	"github.com/baaaht/chatmesh/pkg/types"
)

// ListenChannel opens the broker's local listening channel. A name already
// held by a live broker fails with ALREADY_EXISTS.
func ListenChannel(name string) (net.Listener, error) {
	if name == "" {
		return nil, types.NewError(types.ErrCodeInvalidArgument, "channel name cannot be empty")
	}
	return listenChannel(name)
}

// DialChannel connects to the broker listening on name
func DialChannel(ctx context.Context, name string) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", channelAddress(name))
	if err != nil {
		return nil, types.WrapError(types.ErrCodeUnavailable, "no broker on "+name, err)
	}
	return conn, nil
}
