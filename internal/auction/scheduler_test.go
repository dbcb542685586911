package auction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skovgaard/auctiond/internal/clock"
)

func TestItemTimer_ExtendAddsToRemaining(t *testing.T) {
	t0 := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	clk := clock.NewMock(t0)
	timer := newItemTimer(clk)
	t.Cleanup(timer.Cancel)

	timer.Schedule(60*time.Second, func() {})
	require.Equal(t, t0.Add(60*time.Second), timer.EndsAt())

	// 45s in, 15s remain. Extending by 15s ends the item at t0+75s, not at
	// now+duration+extra.
	clk.Advance(45 * time.Second)
	before := timer.EndsAt()
	endsAt := timer.Extend(15*time.Second, func() {})

	assert.Equal(t, t0.Add(75*time.Second), endsAt)
	assert.Equal(t, endsAt, timer.EndsAt())
	assert.False(t, endsAt.Before(before), "extension may never move the end time backwards")
	assert.LessOrEqual(t, endsAt.Sub(before), 15*time.Second)
}

func TestItemTimer_ExtendOverdueClampsRemaining(t *testing.T) {
	t0 := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	clk := clock.NewMock(t0)
	timer := newItemTimer(clk)
	t.Cleanup(timer.Cancel)

	timer.Schedule(10*time.Second, func() {})
	clk.Advance(25 * time.Second)

	// Negative remaining time counts as zero.
	endsAt := timer.Extend(15*time.Second, func() {})
	assert.Equal(t, t0.Add(40*time.Second), endsAt)
}

func TestItemTimer_CancelDisarms(t *testing.T) {
	clk := clock.NewMock(time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC))
	timer := newItemTimer(clk)

	timer.Schedule(time.Hour, func() {})
	require.False(t, timer.EndsAt().IsZero())

	timer.Cancel()
	assert.True(t, timer.EndsAt().IsZero())
}

func TestItemTimer_Fires(t *testing.T) {
	clk := clock.NewMock(time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC))
	timer := newItemTimer(clk)
	t.Cleanup(timer.Cancel)

	fired := make(chan struct{})
	timer.Schedule(time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer never fired")
	}
}
