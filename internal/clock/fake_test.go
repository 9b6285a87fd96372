package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeAfterFuncFiresOnAdvance(t *testing.T) {
	c := NewFake(epoch)
	fired := 0
	c.AfterFunc(time.Second, func() { fired++ })

	c.Advance(999 * time.Millisecond)
	assert.Equal(t, 0, fired)

	c.Advance(time.Millisecond)
	assert.Equal(t, 1, fired)

	c.Advance(time.Hour)
	assert.Equal(t, 1, fired, "one-shot timer fired twice")
}

func TestFakeTimerStop(t *testing.T) {
	c := NewFake(epoch)
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())
	c.Advance(2 * time.Second)
	assert.False(t, fired)
	assert.Equal(t, 0, c.Pending())
}

func TestFakeCallbackCanReschedule(t *testing.T) {
	c := NewFake(epoch)
	var at []time.Duration
	var schedule func()
	schedule = func() {
		at = append(at, c.Now().Sub(epoch))
		if len(at) < 3 {
			c.AfterFunc(time.Second, schedule)
		}
	}
	c.AfterFunc(time.Second, schedule)

	c.Advance(10 * time.Second)
	require.Len(t, at, 3)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, at)
	assert.Equal(t, epoch.Add(10*time.Second), c.Now())
}

func TestFakeTicker(t *testing.T) {
	c := NewFake(epoch)
	tk := c.NewTicker(10 * time.Millisecond)

	c.Advance(10 * time.Millisecond)
	select {
	case <-tk.C:
	default:
		t.Fatal("expected a tick")
	}

	tk.Stop()
	c.Advance(time.Second)
	select {
	case <-tk.C:
		t.Fatal("tick after Stop")
	default:
	}
}

func TestFakeNextDeadline(t *testing.T) {
	c := NewFake(epoch)
	_, ok := c.NextDeadline()
	assert.False(t, ok)

	c.AfterFunc(4*time.Second, func() {})
	c.AfterFunc(2*time.Second, func() {})
	d, ok := c.NextDeadline()
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, d)
}
