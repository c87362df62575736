//go:build unix

package multicast

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// reuseControl lets several sockets on the host bind the same group port
func reuseControl(_, _ string, c syscall.RawConn) error {
	var opErr error
	err := c.Control(func(fd uintptr) {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			opErr = err
			return
		}
		// Not every kernel has SO_REUSEPORT; SO_REUSEADDR is enough for multicast there.
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return err
	}
	return opErr
}
