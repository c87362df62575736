package relay

import (
	"errors"
	"net"

	"golang.org/x/sys/unix"

	"github.com/baaaht/chatmesh/pkg/types"
)

// channelAddress places the channel in the abstract namespace, so the kernel
// enforces one listener per name and nothing is left behind on exit.
func channelAddress(name string) string {
	return "@" + name
}

func listenChannel(name string) (net.Listener, error) {
	ln, err := net.Listen("unix", channelAddress(name))
	if err != nil {
		if errors.Is(err, unix.EADDRINUSE) {
			return nil, types.WrapError(types.ErrCodeAlreadyExists, "a broker already holds "+name, err)
		}
		return nil, types.WrapError(types.ErrCodeInternal, "failed to listen on "+name, err)
	}
	return ln, nil
}
