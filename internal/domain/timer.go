package domain

import (
	"context"
	"time"
)

// Kind is the session type a timer counts down.
type Kind string

const (
	KindFocus      Kind = "focus"
	KindBreak      Kind = "break"
	KindMicroBreak Kind = "micro_break"
)

// Default session lengths exposed to API callers.
const (
	DefaultFocusDuration      = 25 * time.Minute
	DefaultBreakDuration      = 5 * time.Minute
	DefaultMicroBreakDuration = 15 * time.Minute
)

// NextKind returns the session kind that follows k after a completed run.
// An incomplete session keeps its kind.
func NextKind(k Kind, completed bool) Kind {
	if !completed {
		return k
	}
	switch k {
	case KindFocus:
		return KindBreak
	default:
		return KindFocus
	}
}

// Phase is the lifecycle phase of a timer, derived from its state.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseRunning   Phase = "running"
	PhasePaused    Phase = "paused"
	PhaseCompleted Phase = "completed"
)

// TimerState is an immutable snapshot of a countdown at one instant.
// Transitions replace the whole value; nothing mutates a snapshot in place.
type TimerState struct {
	Remaining  time.Duration `json:"remaining_ms"`
	Total      time.Duration `json:"total_ms"`
	Running    bool          `json:"running"`
	Paused     bool          `json:"paused"`
	LastUpdate time.Time     `json:"last_update"`
}

// Phase derives the lifecycle phase. Completed wins over flags so a timer
// that ticked to zero reads completed even before flags are cleared.
func (s TimerState) Phase() Phase {
	switch {
	case s.Total > 0 && s.Remaining == 0 && !s.Paused:
		return PhaseCompleted
	case s.Running:
		return PhaseRunning
	case s.Paused:
		return PhasePaused
	default:
		return PhaseIdle
	}
}

// EventType identifies a domain event recorded by the aggregate.
type EventType string

const (
	EventStarted   EventType = "timer.started"
	EventPaused    EventType = "timer.paused"
	EventResumed   EventType = "timer.resumed"
	EventReset     EventType = "timer.reset"
	EventCompleted EventType = "timer.completed"
)

// Event is a domain event produced by a transition.
type Event struct {
	Type       EventType
	TimerID    string
	OccurredAt time.Time
	State      TimerState
}

// Timer is the aggregate: identity, ownership, current snapshot and a
// pending-events buffer. Events accumulate until drained with ClearEvents.
type Timer struct {
	ID      string
	OwnerID string
	Kind    Kind
	State   TimerState
	Version int64

	pending []Event
}

// NewTimer creates an idle timer owned by ownerID.
func NewTimer(id, ownerID string, kind Kind) *Timer {
	return &Timer{ID: id, OwnerID: ownerID, Kind: kind}
}

// Events returns the pending domain events in order of occurrence.
func (t *Timer) Events() []Event { return t.pending }

// ClearEvents drains the pending buffer, typically after publishing.
func (t *Timer) ClearEvents() { t.pending = nil }

func (t *Timer) record(typ EventType, now time.Time) {
	t.pending = append(t.pending, Event{Type: typ, TimerID: t.ID, OccurredAt: now, State: t.State})
}

// Start begins a countdown of d from an idle or completed timer.
func (t *Timer) Start(d time.Duration, now time.Time) error {
	if d <= 0 {
		return ErrInvalidState
	}
	if p := t.State.Phase(); p != PhaseIdle && p != PhaseCompleted {
		return ErrInvalidState
	}
	t.State = TimerState{Remaining: d, Total: d, Running: true, LastUpdate: now}
	t.record(EventStarted, now)
	return nil
}

// Sync folds the wall-clock time elapsed since the last update into a
// running countdown. Idle, paused and completed timers are unchanged.
func (t *Timer) Sync(now time.Time) {
	if !t.State.Running {
		return
	}
	t.Tick(now.Sub(t.State.LastUpdate), now)
}

// Pause freezes a running countdown. Elapsed time is folded in first, so
// the captured remaining reflects the instant of the pause, not the start.
func (t *Timer) Pause(now time.Time) error {
	if !t.State.Running {
		return ErrInvalidState
	}
	t.Sync(now)
	if !t.State.Running {
		// The countdown ran out before the pause arrived.
		return ErrInvalidState
	}
	s := t.State
	s.Running = false
	s.Paused = true
	s.LastUpdate = now
	t.State = s
	t.record(EventPaused, now)
	return nil
}

// Resume continues a paused countdown. Resuming a timer that is already
// running fails rather than silently succeeding.
func (t *Timer) Resume(now time.Time) error {
	if !t.State.Paused {
		return ErrInvalidState
	}
	s := t.State
	s.Paused = false
	s.Running = true
	s.LastUpdate = now
	t.State = s
	t.record(EventResumed, now)
	return nil
}

// Reset returns the timer to idle with a fresh duration. Allowed from any
// phase.
func (t *Timer) Reset(d time.Duration, now time.Time) error {
	if d <= 0 {
		return ErrInvalidState
	}
	t.State = TimerState{Remaining: d, Total: d, LastUpdate: now}
	t.record(EventReset, now)
	return nil
}

// Tick applies elapsed wall-clock time to a running countdown. Remaining
// never goes negative; reaching zero completes the timer.
func (t *Timer) Tick(elapsed time.Duration, now time.Time) {
	if !t.State.Running || elapsed <= 0 {
		return
	}
	s := t.State
	s.Remaining -= elapsed
	if s.Remaining <= 0 {
		s.Remaining = 0
		s.Running = false
	}
	s.LastUpdate = now
	t.State = s
	if s.Remaining == 0 {
		t.record(EventCompleted, now)
	}
}

// TimerRepository is the persistence port for timer aggregates.
// Update is a compare-and-swap on Version: it increments the version on
// success and returns ErrVersionConflict when a concurrent writer won.
// Re-submitting an already-applied payload is a no-op success, so retried
// deliveries cause no additional side effect.
type TimerRepository interface {
	FindByID(ctx context.Context, id string) (*Timer, error)
	FindByUserID(ctx context.Context, userID string) ([]*Timer, error)
	Create(ctx context.Context, t *Timer) error
	Update(ctx context.Context, t *Timer) error
}

// Schedule is a recurring focus session: at each cron firing a timer of
// Duration is started for the owner.
type Schedule struct {
	ID       string
	OwnerID  string
	Name     string
	CronExpr string
	Kind     Kind
	Duration time.Duration
	Enabled  bool
	LastRun  *time.Time
	NextRun  time.Time
}

// ScheduleRepository is the persistence port for recurring sessions.
type ScheduleRepository interface {
	CreateSchedule(ctx context.Context, s Schedule) (string, error)
	GetSchedule(ctx context.Context, id string) (Schedule, error)
	ListSchedules(ctx context.Context, ownerID string) ([]Schedule, error)
	UpdateSchedule(ctx context.Context, s Schedule) error
	DeleteSchedule(ctx context.Context, id string) error
	DueSchedules(ctx context.Context, now time.Time) ([]Schedule, error)
	MarkScheduleRun(ctx context.Context, id string, lastRun, nextRun time.Time) error
}
