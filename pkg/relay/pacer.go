package relay

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	minErrorDelay = 5 * time.Millisecond
	maxErrorDelay = time.Second
)

// errorPacer spaces out retries of a socket call that keeps failing, such as
// Accept under EMFILE. The delay doubles from minErrorDelay up to
// maxErrorDelay and starts over after reset.
type errorPacer struct {
	clock    clock.Clock
	delay    time.Duration
	failures int
}

// next returns the delay for the upcoming wait and advances the schedule
func (p *errorPacer) next() time.Duration {
	if p.delay == 0 {
		p.delay = minErrorDelay
	} else {
		p.delay = min(2*p.delay, maxErrorDelay)
	}
	p.failures++
	return p.delay
}

// wait sleeps for the next delay and returns false if ctx ends first
func (p *errorPacer) wait(ctx context.Context) bool {
	t := p.clock.Timer(p.next())
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// reset is called after a successful call
func (p *errorPacer) reset() {
	p.delay = 0
	p.failures = 0
}
