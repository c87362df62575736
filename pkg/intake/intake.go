// Package intake accepts inbound TCP chat connections and hands them to a
// handler through a bounded queue.
package intake

import (
	"context"
	"errors"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/baaaht/chatmesh/internal/config"
	"github.com/baaaht/chatmesh/internal/logger"
	"github.com/baaaht/chatmesh/pkg/types"
)

// Handler serves one accepted connection. The connection is closed when it
// returns.
type Handler func(ctx context.Context, conn net.Conn)

// Listen opens the TCP listener described by cfg
func Listen(ctx context.Context, cfg config.ServerConfig) (net.Listener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", cfg.ListenAddress)
	if err != nil {
		return nil, types.WrapError(types.ErrCodeUnavailable, "failed to listen on "+cfg.ListenAddress, err)
	}
	return ln, nil
}

// Port returns the TCP port ln is bound to, or 0 for non-TCP listeners
func Port(ln net.Listener) uint16 {
	if addr, ok := ln.Addr().(*net.TCPAddr); ok {
		return uint16(addr.Port)
	}
	return 0
}

// Accept forwards every connection accepted on ln into out. It returns nil
// when ctx is done or ln is closed and closes ln on the way out. A
// connection accepted while the consumer is gone is closed, not leaked.
func Accept(ctx context.Context, ln net.Listener, out chan<- net.Conn, log *logger.Logger) error {
	if log == nil {
		log = logger.Global()
	}
	log = log.With("component", "intake", "listen", ln.Addr().String())

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer ln.Close()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				log.Debug("Accept loop stopped")
				return nil
			}
			return types.WrapError(types.ErrCodeUnavailable, "failed to accept connection", err)
		}

		select {
		case out <- conn:
			log.Debug("Connection queued", "remote_addr", conn.RemoteAddr().String())
		case <-ctx.Done():
			conn.Close()
			return nil
		}
	}
}

// Manage takes connections from in and runs handler for each on its own
// goroutine. It returns when in is closed or ctx is done, after every
// handler it started has returned. Connections are closed when ctx is done.
func Manage(ctx context.Context, in <-chan net.Conn, handler Handler, log *logger.Logger) {
	if log == nil {
		log = logger.Global()
	}
	log = log.With("component", "intake")

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case conn, ok := <-in:
			if !ok {
				return
			}
			peer := conn.RemoteAddr().String()
			log.Info("Peer connected", "remote_addr", peer)

			wg.Add(1)
			go func() {
				defer wg.Done()
				stop := context.AfterFunc(ctx, func() { conn.Close() })
				defer stop()
				defer conn.Close()
				handler(ctx, conn)
				log.Info("Peer disconnected", "remote_addr", peer)
			}()
		case <-ctx.Done():
			return
		}
	}
}

// Serve runs Accept and Manage over a queue of queueSize connections until
// ctx is done or ln fails.
func Serve(ctx context.Context, ln net.Listener, queueSize int, handler Handler, log *logger.Logger) error {
	if queueSize < 1 {
		queueSize = config.DefaultServerQueueSize
	}
	queue := make(chan net.Conn, queueSize)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(queue)
		return Accept(gctx, ln, queue, log)
	})
	g.Go(func() error {
		Manage(gctx, queue, handler, log)
		return nil
	})
	err := g.Wait()

	// Connections still queued when Manage stopped.
	for conn := range queue {
		conn.Close()
	}
	return err
}
