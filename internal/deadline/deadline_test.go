package deadline

import (
	"context"
	"errors"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterruptUnblocksRead(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	done := Interrupt(ctx, a.SetReadDeadline)
	_, err := a.Read(make([]byte, 1))
	done()
	assert.True(t, errors.Is(err, os.ErrDeadlineExceeded), "got %v", err)

	// The deadline is cleared, so the next read waits for data again.
	go b.Write([]byte{0x01})
	buf := make([]byte, 1)
	n, err := a.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, buf[:n])
}

func TestInterruptLeavesDeadlineWhenNotFired(t *testing.T) {
	var calls []time.Time
	set := func(d time.Time) error {
		calls = append(calls, d)
		return nil
	}

	done := Interrupt(context.Background(), set)
	done()
	assert.Empty(t, calls)
}

func TestInterruptAlreadyDone(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := Interrupt(ctx, a.SetWriteDeadline)
	_, err := a.Write([]byte{0x01})
	done()
	assert.Error(t, err)
}
