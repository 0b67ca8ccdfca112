package chat

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDebouncerCoalescesTriggers(t *testing.T) {
	var runs atomic.Int32
	d := NewDebouncer(40*time.Millisecond, func() { runs.Add(1) })

	for i := 0; i < 5; i++ {
		d.Trigger()
		time.Sleep(5 * time.Millisecond)
	}
	assert.True(t, d.Pending())

	assert.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
	assert.False(t, d.Pending())
}

func TestDebouncerStopCancelsPendingRun(t *testing.T) {
	var runs atomic.Int32
	d := NewDebouncer(20*time.Millisecond, func() { runs.Add(1) })

	d.Trigger()
	d.Stop()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), runs.Load())

	d.Trigger()
	assert.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)
}
