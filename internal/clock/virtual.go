package clock

import (
	"sync"
	"time"
)

// Virtual is a Clock whose time only moves when Advance is called. Timers
// and tickers fire synchronously inside Advance, which makes engine timing
// tests deterministic.
type Virtual struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*virtualTimer
	tickers []*virtualTicker
}

// NewVirtual creates a virtual clock starting at start.
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{now: start}
}

func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

func (v *Virtual) Since(t time.Time) time.Duration { return v.Now().Sub(t) }

// Advance moves the clock forward by d, firing every timer and ticker whose
// deadline is reached, in deadline order.
func (v *Virtual) Advance(d time.Duration) {
	v.mu.Lock()
	target := v.now.Add(d)
	for {
		next, ok := v.nextDeadlineLocked(target)
		if !ok {
			break
		}
		v.now = next
		v.fireLocked()
	}
	v.now = target
	v.mu.Unlock()
}

// nextDeadlineLocked finds the earliest pending deadline at or before target.
func (v *Virtual) nextDeadlineLocked(target time.Time) (time.Time, bool) {
	var best time.Time
	found := false
	consider := func(dl time.Time) {
		if dl.After(v.now) && !dl.After(target) && (!found || dl.Before(best)) {
			best, found = dl, true
		}
	}
	for _, t := range v.timers {
		if t.active {
			consider(t.deadline)
		}
	}
	for _, t := range v.tickers {
		if !t.stopped {
			consider(t.next)
		}
	}
	return best, found
}

func (v *Virtual) fireLocked() {
	for _, t := range v.timers {
		if t.active && !t.deadline.After(v.now) {
			t.active = false
			select {
			case t.ch <- v.now:
			default:
			}
		}
	}
	for _, t := range v.tickers {
		for !t.stopped && !t.next.After(v.now) {
			select {
			case t.ch <- v.now:
			default:
			}
			t.next = t.next.Add(t.period)
		}
	}
}

func (v *Virtual) NewTimer(d time.Duration) Timer {
	v.mu.Lock()
	defer v.mu.Unlock()
	t := &virtualTimer{clk: v, ch: make(chan time.Time, 1), deadline: v.now.Add(d), active: true}
	if d <= 0 {
		t.active = false
		t.ch <- v.now
	}
	v.timers = append(v.timers, t)
	return t
}

func (v *Virtual) NewTicker(d time.Duration) Ticker {
	v.mu.Lock()
	defer v.mu.Unlock()
	t := &virtualTicker{clk: v, ch: make(chan time.Time, 1), period: d, next: v.now.Add(d)}
	v.tickers = append(v.tickers, t)
	return t
}

type virtualTimer struct {
	clk      *Virtual
	ch       chan time.Time
	deadline time.Time
	active   bool
}

func (t *virtualTimer) C() <-chan time.Time { return t.ch }

func (t *virtualTimer) Stop() bool {
	t.clk.mu.Lock()
	defer t.clk.mu.Unlock()
	was := t.active
	t.active = false
	return was
}

func (t *virtualTimer) Reset(d time.Duration) bool {
	t.clk.mu.Lock()
	defer t.clk.mu.Unlock()
	was := t.active
	select {
	case <-t.ch:
	default:
	}
	t.deadline = t.clk.now.Add(d)
	t.active = true
	if d <= 0 {
		t.active = false
		t.ch <- t.clk.now
	}
	return was
}

type virtualTicker struct {
	clk     *Virtual
	ch      chan time.Time
	period  time.Duration
	next    time.Time
	stopped bool
}

func (t *virtualTicker) C() <-chan time.Time { return t.ch }

func (t *virtualTicker) Stop() {
	t.clk.mu.Lock()
	t.stopped = true
	t.clk.mu.Unlock()
}
