package auction

import (
	"sync"
	"time"

	"github.com/skovgaard/auctiond/internal/clock"
)

// itemTimer is the single-shot expiry timer for the item currently on the
// block. One timer exists per auction; rescheduling replaces the pending
// fire.
type itemTimer struct {
	mu     sync.Mutex
	clk    clock.Clock
	timer  *time.Timer
	endsAt time.Time
}

func newItemTimer(clk clock.Clock) *itemTimer {
	return &itemTimer{clk: clk}
}

// Schedule arms the timer to call fire once after d, replacing any pending
// fire.
func (t *itemTimer) Schedule(d time.Duration, fire func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
	if d < 0 {
		d = 0
	}
	t.endsAt = t.clk.Now().Add(d)
	t.timer = time.AfterFunc(d, fire)
}

// Extend pushes the end time out by extra on top of the time still
// remaining. It never resets to a full window: a bid arriving late buys the
// item extra time, not a fresh countdown. Returns the new end time.
func (t *itemTimer) Extend(extra time.Duration, fire func()) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
	remaining := t.endsAt.Sub(t.clk.Now())
	if remaining < 0 {
		remaining = 0
	}
	d := remaining + extra
	t.endsAt = t.clk.Now().Add(d)
	t.timer = time.AfterFunc(d, fire)
	return t.endsAt
}

// Cancel stops the pending fire, if any. The timer can be re-armed with
// Schedule afterwards.
func (t *itemTimer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.endsAt = time.Time{}
}

// EndsAt returns the absolute end time of the pending fire, or the zero time
// when the timer is not armed.
func (t *itemTimer) EndsAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer == nil {
		return time.Time{}
	}
	return t.endsAt
}
