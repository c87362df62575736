// Package communicator picks how a process reaches its multicast group:
// directly through its own joined socket, or through the host's relay broker.
package communicator

import (
	"context"
	"fmt"

	"github.com/baaaht/chatmesh/internal/config"
	"github.com/baaaht/chatmesh/internal/logger"
	"github.com/baaaht/chatmesh/pkg/group"
	"github.com/baaaht/chatmesh/pkg/multicast"
	"github.com/baaaht/chatmesh/pkg/relay"
	"github.com/baaaht/chatmesh/pkg/types"
)

// Mode selects the communicator variant
type Mode string

const (
	ModeDirect  Mode = config.ModeDirect
	ModeRelayed Mode = config.ModeRelayed
)

// Options configures Open
type Options struct {
	// Mode defaults to ModeRelayed
	Mode Mode

	// Group socket options for ModeDirect
	Group multicast.Options

	// Relay client settings and broker spawner for ModeRelayed
	Relay   relay.ClientConfig
	Spawner relay.Spawner

	Logger *logger.Logger
}

// NewOptions builds Options from loaded configuration
func NewOptions(cfg *config.Config, spawner relay.Spawner, log *logger.Logger) Options {
	return Options{
		Mode: Mode(cfg.Group.Mode),
		Group: multicast.Options{
			TTL:             cfg.Group.TTL,
			DisableLoopback: cfg.Group.DisableLoopback,
			DisableReuse:    cfg.Group.DisableReuse,
		},
		Relay:   relay.NewClientConfig(cfg),
		Spawner: spawner,
		Logger:  log,
	}
}

// Communicator sends bytes to and receives bytes from one group. Exactly one
// of direct and relayed is set, according to mode.
type Communicator struct {
	mode    Mode
	addr    group.Address
	direct  *Direct
	relayed *relay.Client
}

// Open builds the communicator selected by opts.Mode
func Open(ctx context.Context, addr group.Address, opts Options) (*Communicator, error) {
	if opts.Mode == "" {
		opts.Mode = ModeRelayed
	}
	log := opts.Logger
	if log == nil {
		log = logger.Global()
	}

	c := &Communicator{mode: opts.Mode, addr: addr}
	switch opts.Mode {
	case ModeDirect:
		d, err := NewDirect(ctx, addr, opts.Group)
		if err != nil {
			return nil, err
		}
		c.direct = d
	case ModeRelayed:
		r, err := relay.Dial(ctx, addr, opts.Relay, opts.Spawner, log)
		if err != nil {
			return nil, err
		}
		c.relayed = r
	default:
		return nil, types.NewError(types.ErrCodeInvalidArgument,
			fmt.Sprintf("unknown communicator mode %q", opts.Mode))
	}

	log.Debug("Communicator opened", "component", "communicator", "mode", string(c.mode), "group", addr.String())
	return c, nil
}

// Mode returns the variant in use
func (c *Communicator) Mode() Mode {
	return c.mode
}

// Send hands b to the group
func (c *Communicator) Send(ctx context.Context, b []byte) (int, error) {
	if c.mode == ModeDirect {
		return c.direct.Send(ctx, b)
	}
	return c.relayed.Send(ctx, b)
}

// Receive reads the next datagram from the group into buf
func (c *Communicator) Receive(ctx context.Context, buf []byte) (int, error) {
	if c.mode == ModeDirect {
		return c.direct.Receive(ctx, buf)
	}
	return c.relayed.Receive(ctx, buf)
}

// Close releases the socket or the broker connection
func (c *Communicator) Close() error {
	if c.mode == ModeDirect {
		return c.direct.Close()
	}
	return c.relayed.Close()
}

// String returns a string representation of the communicator
func (c *Communicator) String() string {
	return fmt.Sprintf("Communicator{Mode: %s, Group: %s}", c.mode, c.addr)
}
