package relay

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func TestErrorPacerSchedule(t *testing.T) {
	p := errorPacer{clock: clock.NewMock()}

	var got []time.Duration
	for i := 0; i < 10; i++ {
		got = append(got, p.next())
	}
	assert.Equal(t, []time.Duration{
		5 * time.Millisecond, 10 * time.Millisecond, 20 * time.Millisecond,
		40 * time.Millisecond, 80 * time.Millisecond, 160 * time.Millisecond,
		320 * time.Millisecond, 640 * time.Millisecond, time.Second, time.Second,
	}, got)
	assert.Equal(t, 10, p.failures)

	p.reset()
	assert.Equal(t, minErrorDelay, p.next())
	assert.Equal(t, 1, p.failures)
}

func TestErrorPacerWait(t *testing.T) {
	mock := clock.NewMock()
	p := errorPacer{clock: mock}

	done := make(chan bool, 1)
	go func() { done <- p.wait(context.Background()) }()

	deadline := time.After(5 * time.Second)
	for {
		mock.Add(minErrorDelay)
		select {
		case ok := <-done:
			assert.True(t, ok)
			return
		case <-time.After(5 * time.Millisecond):
		case <-deadline:
			t.Fatal("wait did not return after its delay")
		}
	}
}

func TestErrorPacerWaitCanceled(t *testing.T) {
	p := errorPacer{clock: clock.NewMock()}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, p.wait(ctx))
}
