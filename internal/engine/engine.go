// Package engine implements the countdown engine: a single goroutine that
// owns all running-timer bookkeeping and recomputes remaining time from
// wall-clock deltas at every wake. Counting fixed ticks would drift whenever
// the host is throttled or suspended; measuring timestamps does not.
package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"focusflow/internal/clock"
	"focusflow/internal/domain"
	"focusflow/internal/gateway"
)

const (
	defaultRetention  = time.Hour
	defaultSweepEvery = time.Minute
	// parkInterval is the wake period when no timer is active; commands
	// interrupt it immediately.
	parkInterval = time.Minute
)

// entry is the engine's bookkeeping for one timer. Only the engine
// goroutine touches it.
type entry struct {
	id        string
	duration  time.Duration // countdown length, re-seeded on pause/resume
	startedAt time.Time
	active    bool
	completed bool
	lastEmit  int // whole seconds remaining at last CURRENT_TIME emit
	touched   time.Time
}

// Engine runs the tick loop. Construct with New, start with Run, talk to it
// through the gateway. There is no package-level instance.
type Engine struct {
	clk        clock.Clock
	hub        *gateway.Hub
	log        zerolog.Logger
	inbox      chan gateway.Request
	reg        map[string]*entry
	retention  time.Duration
	sweepEvery time.Duration
}

func New(clk clock.Clock, hub *gateway.Hub, log zerolog.Logger) *Engine {
	return &Engine{
		clk:        clk,
		hub:        hub,
		log:        log,
		inbox:      make(chan gateway.Request),
		reg:        make(map[string]*entry),
		retention:  defaultRetention,
		sweepEvery: defaultSweepEvery,
	}
}

// Inbox is the command sink handed to the gateway.
func (e *Engine) Inbox() chan<- gateway.Request { return e.inbox }

// Run executes the tick loop until ctx is cancelled. Commands and ticks are
// serialized here, so a PAUSE acknowledgment strictly precedes any later
// tick for that id, and the registry needs no locks.
func (e *Engine) Run(ctx context.Context) {
	wake := e.clk.NewTimer(parkInterval)
	defer wake.Stop()
	sweep := e.clk.NewTicker(e.sweepEvery)
	defer sweep.Stop()

	e.log.Info().Msg("timer engine started")
	for {
		select {
		case <-ctx.Done():
			e.log.Info().Msg("timer engine stopped")
			return
		case req := <-e.inbox:
			e.handle(req)
			e.rearm(wake)
		case now := <-wake.C():
			e.tick(now)
			e.rearm(wake)
		case <-sweep.C():
			e.sweepInactive(e.clk.Now())
		}
	}
}

func (e *Engine) rearm(wake clock.Timer) {
	if !wake.Stop() {
		select {
		case <-wake.C():
		default:
		}
	}
	wake.Reset(e.nextWake())
}

// nextWake picks the earliest adaptive interval across active timers.
func (e *Engine) nextWake() time.Duration {
	next := parkInterval
	now := e.clk.Now()
	for _, en := range e.reg {
		if !en.active {
			continue
		}
		if d := updateInterval(en.remaining(now)); d < next {
			next = d
		}
	}
	return next
}

// updateInterval scales refresh frequency with urgency: finer near zero,
// coarse for long countdowns.
func updateInterval(remaining time.Duration) time.Duration {
	switch {
	case remaining <= time.Minute:
		return 100 * time.Millisecond
	case remaining <= 5*time.Minute:
		return 500 * time.Millisecond
	case remaining <= 30*time.Minute:
		return time.Second
	default:
		return 2 * time.Second
	}
}

func (en *entry) remaining(now time.Time) time.Duration {
	if en.completed {
		return 0
	}
	if !en.active {
		return en.duration
	}
	rem := en.duration - now.Sub(en.startedAt)
	if rem < 0 {
		rem = 0
	}
	return rem
}

// tick recomputes every active timer from the wall clock. CURRENT_TIME is
// emitted only when the displayed second changed; completion stops the id.
func (e *Engine) tick(now time.Time) {
	for _, en := range e.reg {
		if !en.active {
			continue
		}
		rem := en.remaining(now)
		if rem == 0 {
			en.active = false
			en.completed = true
			en.touched = now
			e.hub.Publish(e.event(gateway.EvtComplete, en, now))
			continue
		}
		if secs := int(rem / time.Second); secs != en.lastEmit {
			en.lastEmit = secs
			en.touched = now
			e.hub.Publish(e.event(gateway.EvtCurrentTime, en, now))
		}
	}
}

// sweepInactive bounds registry memory: inactive entries untouched for
// longer than the retention window are purged.
func (e *Engine) sweepInactive(now time.Time) {
	removed := 0
	for id, en := range e.reg {
		if !en.active && now.Sub(en.touched) > e.retention {
			delete(e.reg, id)
			removed++
		}
	}
	if removed > 0 {
		e.log.Debug().Int("removed", removed).Int("remaining", len(e.reg)).Msg("swept inactive timers")
	}
}

func (e *Engine) handle(req gateway.Request) {
	cmd := req.Cmd
	now := e.clk.Now()
	reply := func(ev gateway.Event) {
		if req.Reply != nil {
			select {
			case req.Reply <- ev:
			default:
			}
		}
		e.hub.Publish(ev)
	}

	switch cmd.Type {
	case gateway.CmdSetDuration:
		en := &entry{id: cmd.TimerID, duration: time.Duration(cmd.Seconds) * time.Second, touched: now}
		en.lastEmit = cmd.Seconds
		e.reg[cmd.TimerID] = en
		reply(e.event(gateway.EvtCurrentTime, en, now))

	case gateway.CmdStart:
		en, ok := e.reg[cmd.TimerID]
		if !ok {
			if cmd.Seconds <= 0 {
				reply(e.notFound(cmd.TimerID, now))
				return
			}
			en = &entry{id: cmd.TimerID}
			e.reg[cmd.TimerID] = en
		}
		if cmd.Seconds > 0 {
			en.duration = time.Duration(cmd.Seconds) * time.Second
		}
		en.startedAt = now
		if cmd.StartedAt != nil {
			en.startedAt = *cmd.StartedAt
		}
		en.active = true
		en.completed = false
		en.lastEmit = int(en.duration / time.Second)
		en.touched = now
		reply(e.event(gateway.EvtStarted, en, now))

	case gateway.CmdPause:
		en, ok := e.reg[cmd.TimerID]
		if !ok {
			reply(e.notFound(cmd.TimerID, now))
			return
		}
		// Capture remaining, then deactivate. Once the ack below is sent
		// no further tick can be emitted for this id.
		en.duration = en.remaining(now)
		en.active = false
		en.touched = now
		reply(e.event(gateway.EvtPaused, en, now))

	case gateway.CmdReset:
		en := &entry{id: cmd.TimerID, duration: time.Duration(cmd.Seconds) * time.Second, touched: now}
		en.lastEmit = cmd.Seconds
		e.reg[cmd.TimerID] = en
		reply(e.event(gateway.EvtReset, en, now))

	case gateway.CmdGetCurrentTime:
		en, ok := e.reg[cmd.TimerID]
		if !ok {
			reply(e.notFound(cmd.TimerID, now))
			return
		}
		reply(e.event(gateway.EvtCurrentTime, en, now))

	case gateway.CmdCalcFormattedTime:
		reply(gateway.Event{
			Type:      gateway.EvtFormattedTime,
			Formatted: domain.FormatSeconds(cmd.Seconds),
			At:        now,
		})

	case gateway.CmdCalcProgress:
		reply(gateway.Event{
			Type:     gateway.EvtProgress,
			Progress: domain.Progress(time.Duration(cmd.Current)*time.Second, time.Duration(cmd.Total)*time.Second),
			At:       now,
		})

	case gateway.CmdBatchCalculate:
		en, ok := e.reg[cmd.TimerID]
		if !ok {
			reply(e.notFound(cmd.TimerID, now))
			return
		}
		results := make([]float64, len(cmd.Times))
		for i, secs := range cmd.Times {
			results[i] = domain.Progress(time.Duration(secs)*time.Second, en.duration)
		}
		reply(gateway.Event{Type: gateway.EvtBatchResults, TimerID: cmd.TimerID, Results: results, At: now})

	default:
		// Protocol errors never take down the loop.
		e.log.Warn().Str("type", string(cmd.Type)).Msg("unrecognized command, ignoring")
	}
}

func (e *Engine) notFound(id string, now time.Time) gateway.Event {
	return gateway.Event{Type: gateway.EvtTimerNotFound, TimerID: id, At: now}
}

func (e *Engine) event(typ gateway.EventType, en *entry, now time.Time) gateway.Event {
	rem := en.remaining(now)
	var elapsed time.Duration
	if en.active {
		elapsed = now.Sub(en.startedAt)
	} else if en.completed {
		elapsed = en.duration
	}
	return gateway.Event{
		Type:    typ,
		TimerID: en.id,
		At:      now,
		Snapshot: &gateway.Snapshot{
			TimerID:    en.id,
			Remaining:  int(rem / time.Second),
			Total:      int(en.duration / time.Second),
			Running:    en.active,
			Formatted:  domain.FormatDuration(rem),
			Progress:   domain.Progress(elapsed, en.duration),
			LastUpdate: now,
		},
	}
}
