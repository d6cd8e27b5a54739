package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"focusflow/internal/clock"
	"focusflow/internal/domain"
)

// Gateway dispatches commands to the engine and fans engine events out to
// subscribers. It is the only way callers talk to the engine; no engine
// state is shared.
type Gateway struct {
	sink    chan<- Request
	hub     *Hub
	clk     clock.Clock
	timeout time.Duration
	log     zerolog.Logger
}

func New(sink chan<- Request, hub *Hub, clk clock.Clock, timeout time.Duration, log zerolog.Logger) *Gateway {
	return &Gateway{sink: sink, hub: hub, clk: clk, timeout: timeout, log: log}
}

// Dispatch sends cmd to the engine and waits for its acknowledgment. The
// wait is bounded: an unresponsive engine surfaces as domain.ErrTimeout, not
// a hang. The acknowledgment for PAUSE and RESET is the cancellation
// barrier: once it arrives, no further tick event is emitted for that id.
func (g *Gateway) Dispatch(ctx context.Context, cmd Command) (Event, error) {
	if !knownCommand(cmd.Type) {
		return Event{}, fmt.Errorf("dispatch %q: %w", cmd.Type, domain.ErrInvalidState)
	}
	req := Request{Cmd: cmd, Reply: make(chan Event, 1)}
	deadline := g.clk.NewTimer(g.timeout)
	defer deadline.Stop()

	select {
	case g.sink <- req:
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case <-deadline.C():
		return Event{}, fmt.Errorf("dispatch %s: %w", cmd.Type, domain.ErrTimeout)
	}
	select {
	case ev := <-req.Reply:
		return ev, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case <-deadline.C():
		g.log.Warn().Str("type", string(cmd.Type)).Str("timer_id", cmd.TimerID).Msg("engine ack timed out")
		return Event{}, fmt.Errorf("await %s: %w", cmd.Type, domain.ErrTimeout)
	}
}

// Subscribe registers an event consumer. Events arrive in emission order;
// when the subscriber falls behind its oldest buffered event is dropped
// rather than blocking the engine. The returned func cancels the
// subscription.
func (g *Gateway) Subscribe(buffer int) (<-chan Event, func()) {
	return g.hub.subscribe(buffer)
}

// Hub is the engine's event broadcast. Publish never blocks.
type Hub struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Publish delivers ev to every subscriber, evicting the oldest buffered
// event of any subscriber that is full. Order per subscriber is preserved.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		for {
			select {
			case ch <- ev:
			default:
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

func (h *Hub) subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	h.mu.Lock()
	id := h.next
	h.next++
	ch := make(chan Event, buffer)
	h.subs[id] = ch
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}
