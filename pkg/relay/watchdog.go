package relay

// idleTicks is how many consecutive idle observations stop the broker
const idleTicks = 2

// idleTracker decides, one watchdog tick at a time, whether the broker has
// had no clients for a full grace interval. A tick is idle when no client is
// live and none was accepted since the previous tick, so a client that comes
// and goes between two ticks still postpones shutdown.
type idleTracker struct {
	idle    int
	lastGen uint64
}

// observe records one tick and reports whether the broker should stop
func (t *idleTracker) observe(live int64, gen uint64) bool {
	quiet := live == 0 && gen == t.lastGen
	t.lastGen = gen
	if !quiet {
		t.idle = 0
		return false
	}
	t.idle++
	return t.idle >= idleTicks
}

// pending reports whether a shutdown is armed for the next tick
func (t *idleTracker) pending() bool {
	return t.idle > 0 && t.idle < idleTicks
}
