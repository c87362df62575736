// Package session is the per-application handle on a multicast group: it
// announces presence on join, sends control messages and delivers the ones
// it receives.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/baaaht/chatmesh/internal/logger"
	"github.com/baaaht/chatmesh/pkg/communicator"
	"github.com/baaaht/chatmesh/pkg/group"
	"github.com/baaaht/chatmesh/pkg/message"
	"github.com/baaaht/chatmesh/pkg/types"
)

// Communicator is what a Session needs from its transport
type Communicator interface {
	Send(ctx context.Context, b []byte) (int, error)
	Receive(ctx context.Context, buf []byte) (int, error)
	Close() error
}

// Opener obtains the Communicator for a group
type Opener func(ctx context.Context, addr group.Address) (Communicator, error)

// OpenWith returns an Opener backed by communicator.Open
func OpenWith(opts communicator.Options) Opener {
	return func(ctx context.Context, addr group.Address) (Communicator, error) {
		c, err := communicator.Open(ctx, addr, opts)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Options configures Join
type Options struct {
	Open   Opener
	Logger *logger.Logger
}

// Session holds one Communicator for its whole life
type Session struct {
	addr   group.Address
	comm   Communicator
	logger *logger.Logger

	smu     sync.Mutex
	scratch [message.ScratchSize]byte

	mu    sync.Mutex
	state *StateMachine

	cancel  context.CancelFunc
	done    chan struct{}
	recvErr error
}

// Join opens a communicator for addr and sends Join through it before
// returning. If sink is non-nil, every control message received from the
// group is delivered to it until Close. The caller owns sink; it is never
// closed here.
func Join(ctx context.Context, addr group.Address, sink chan<- message.Message, opts Options) (*Session, error) {
	if err := addr.Validate(); err != nil {
		return nil, err
	}
	if opts.Open == nil {
		return nil, types.NewError(types.ErrCodeInvalidArgument, "session needs an opener")
	}
	log := opts.Logger
	if log == nil {
		log = logger.Global()
	}

	comm, err := opts.Open(ctx, addr)
	if err != nil {
		return nil, err
	}

	s := &Session{
		addr:   addr,
		comm:   comm,
		logger: log.With("component", "session", "group", addr.String()),
		state:  NewStateMachine(),
		done:   make(chan struct{}),
	}

	if err := s.Send(ctx, message.Join{}); err != nil {
		comm.Close()
		return nil, err
	}

	s.mu.Lock()
	s.state.Transition(StateActive)
	s.mu.Unlock()

	recvCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	if sink != nil {
		go s.receiveLoop(recvCtx, sink)
	} else {
		close(s.done)
	}

	s.logger.Info("Joined multicast group")
	return s, nil
}

// Addr returns the group address
func (s *Session) Addr() group.Address {
	return s.addr
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Current()
}

// Send encodes m into the session's scratch buffer and hands it to the
// communicator. Failures carry ENCODING or TRANSPORT so callers can retry
// transport failures only; a short write counts as TRANSPORT.
func (s *Session) Send(ctx context.Context, m message.Message) error {
	if s.State() == StateClosed {
		return types.NewError(types.ErrCodeTransport, "session is closed")
	}

	s.smu.Lock()
	defer s.smu.Unlock()

	b, err := message.Encode(s.scratch[:], m)
	if err != nil {
		return types.WrapError(types.ErrCodeEncoding, "failed to encode message", err)
	}

	n, err := s.comm.Send(ctx, b)
	if err != nil {
		return types.WrapError(types.ErrCodeTransport, fmt.Sprintf("failed to send %s", m.Kind()), err)
	}
	if n != len(b) {
		return types.NewError(types.ErrCodeTransport,
			fmt.Sprintf("short write of %s: %d of %d bytes", m.Kind(), n, len(b)))
	}

	s.logger.Debug("Message sent", "message", fmt.Sprint(m))
	return nil
}

// AnnounceServer tells the group a chat server is listening on port
func (s *Session) AnnounceServer(ctx context.Context, port uint16) error {
	return s.Send(ctx, message.NewServer{Port: port})
}

// WithdrawServer tells the group the server on port is gone
func (s *Session) WithdrawServer(ctx context.Context, port uint16) error {
	return s.Send(ctx, message.CloseServer{Port: port})
}

func (s *Session) receiveLoop(ctx context.Context, sink chan<- message.Message) {
	defer close(s.done)

	buf := make([]byte, message.ScratchSize)
	for {
		n, err := s.comm.Receive(ctx, buf)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("Receive loop stopped", "error", err)
				s.recvErr = err
			}
			return
		}

		m, err := message.Decode(buf[:n])
		if err != nil {
			s.logger.Debug("Ignoring undecodable datagram", "size", n, "error", err)
			continue
		}

		select {
		case sink <- m:
		case <-ctx.Done():
			return
		}
	}
}

// Done is closed when the receive loop has stopped
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that stopped the receive loop, if it stopped on its
// own. Only valid after Done is closed.
func (s *Session) Err() error {
	return s.recvErr
}

// Close stops the receive loop and closes the communicator
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state.Current() != StateActive {
		s.mu.Unlock()
		return nil
	}
	s.state.Transition(StateClosing)
	s.mu.Unlock()

	s.cancel()
	err := s.comm.Close()
	<-s.done

	s.mu.Lock()
	s.state.Transition(StateClosed)
	s.mu.Unlock()

	s.logger.Info("Left multicast group")
	return err
}

// String returns a string representation of the session
func (s *Session) String() string {
	return fmt.Sprintf("Session{Group: %s, State: %s}", s.addr, s.State())
}
