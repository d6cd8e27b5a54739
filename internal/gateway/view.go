package gateway

import "sync"

// View is the consumer side of the protocol: it applies snapshot-bearing
// events in LastUpdate order and discards stale or duplicate deliveries, so
// out-of-order messages never corrupt a display. The last good snapshot per
// timer survives engine malfunction.
type View struct {
	mu   sync.Mutex
	last map[string]Snapshot
}

func NewView() *View {
	return &View{last: make(map[string]Snapshot)}
}

// Apply reports whether ev advanced the view. Events without a snapshot
// never do.
func (v *View) Apply(ev Event) bool {
	if ev.Snapshot == nil {
		return false
	}
	s := *ev.Snapshot
	v.mu.Lock()
	defer v.mu.Unlock()
	if prev, ok := v.last[s.TimerID]; ok && !s.LastUpdate.After(prev.LastUpdate) {
		return false
	}
	v.last[s.TimerID] = s
	return true
}

// Snapshot returns the last applied snapshot for id.
func (v *View) Snapshot(id string) (Snapshot, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	s, ok := v.last[id]
	return s, ok
}
