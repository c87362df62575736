// Package deadline cancels blocking socket I/O with a context.
package deadline

import (
	"context"
	"time"
)

// past is any instant before now; it makes pending I/O fail at once
var past = time.Unix(1, 0)

// Interrupt makes a blocked read or write fail once ctx is done by moving
// the deadline into the past. The returned func must be called when the I/O
// returns; if ctx fired it clears the deadline again, so the connection can
// be used with a later context.
func Interrupt(ctx context.Context, set func(time.Time) error) func() {
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(fired)
		set(past)
	})
	return func() {
		if !stop() {
			<-fired
			set(time.Time{})
		}
	}
}
