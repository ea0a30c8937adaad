package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestDebouncer(delay time.Duration) (*Debouncer, *ManualClock, *[]func()) {
	clock := NewManualClock(time.Unix(0, 0))
	var queue []func()
	post := func(f func()) { queue = append(queue, f) }
	return NewDebouncer(clock, delay, post), clock, &queue
}

func drain(queue *[]func()) {
	for len(*queue) > 0 {
		f := (*queue)[0]
		*queue = (*queue)[1:]
		f()
	}
}

func TestDebouncerCoalesces(t *testing.T) {
	d, clock, queue := newTestDebouncer(100 * time.Millisecond)
	var got []int
	for i := 1; i <= 3; i++ {
		d.Schedule(func() { got = append(got, i) })
		clock.Advance(40 * time.Millisecond)
		drain(queue)
	}
	assert.Empty(t, got)
	assert.True(t, d.Pending())

	clock.Advance(100 * time.Millisecond)
	drain(queue)
	assert.Equal(t, []int{3}, got)
	assert.False(t, d.Pending())
}

func TestDebouncerCancelDiscards(t *testing.T) {
	d, clock, queue := newTestDebouncer(50 * time.Millisecond)
	ran := false
	d.Schedule(func() { ran = true })
	assert.True(t, d.Cancel())
	assert.False(t, d.Cancel())
	clock.Advance(time.Second)
	drain(queue)
	assert.False(t, ran)
	assert.Equal(t, 0, clock.Pending())
}

func TestDebouncerCancelAfterTimerFired(t *testing.T) {
	// The timer has fired and posted, but the loop has not run the task yet.
	d, clock, queue := newTestDebouncer(50 * time.Millisecond)
	ran := false
	d.Schedule(func() { ran = true })
	clock.Advance(50 * time.Millisecond)
	assert.Len(t, *queue, 1)

	d.Cancel()
	drain(queue)
	assert.False(t, ran)
}

func TestDebouncerFlush(t *testing.T) {
	d, clock, queue := newTestDebouncer(50 * time.Millisecond)
	count := 0
	d.Schedule(func() { count++ })
	assert.True(t, d.Flush())
	assert.False(t, d.Flush())
	clock.Advance(time.Second)
	drain(queue)
	assert.Equal(t, 1, count)
}

func TestDebouncerZeroDelayRunsImmediately(t *testing.T) {
	d, _, _ := newTestDebouncer(0)
	count := 0
	d.Schedule(func() { count++ })
	d.Schedule(func() { count++ })
	assert.Equal(t, 2, count)
	assert.False(t, d.Pending())
}

func TestManualClockOrder(t *testing.T) {
	clock := NewManualClock(time.Unix(0, 0))
	var order []string
	clock.AfterFunc(30*time.Millisecond, func() { order = append(order, "b") })
	clock.AfterFunc(10*time.Millisecond, func() { order = append(order, "a") })
	stopped := clock.AfterFunc(20*time.Millisecond, func() { order = append(order, "x") })
	assert.True(t, stopped.Stop())

	clock.Advance(25 * time.Millisecond)
	assert.Equal(t, []string{"a"}, order)
	clock.Advance(5 * time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, time.Unix(0, 0).Add(30*time.Millisecond), clock.Now())
}
