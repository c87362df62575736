//go:build !linux

package relay

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/baaaht/chatmesh/pkg/types"
)

func channelAddress(name string) string {
	return filepath.Join(os.TempDir(), name)
}

// listenChannel binds a socket file. A file nobody answers on is left over
// from a broker that died and is removed before binding.
func listenChannel(name string) (net.Listener, error) {
	path := channelAddress(name)

	if _, err := os.Stat(path); err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		conn, err := DialChannel(ctx, name)
		cancel()
		if err == nil {
			conn.Close()
			return nil, types.NewError(types.ErrCodeAlreadyExists, "a broker already holds "+name)
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, types.WrapError(types.ErrCodeInternal, "failed to remove stale channel "+path, err)
		}
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return nil, types.WrapError(types.ErrCodeAlreadyExists, "a broker already holds "+name, err)
		}
		return nil, types.WrapError(types.ErrCodeInternal, "failed to listen on "+path, err)
	}
	return ln, nil
}
