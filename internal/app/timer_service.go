// Package app holds the use-case layer: ownership and precondition guards,
// aggregate transitions, and persistence. Nothing here touches engine state
// directly; display ticks flow through the gateway.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"focusflow/internal/clock"
	"focusflow/internal/domain"
	"focusflow/internal/gateway"
)

// TransitionRequest identifies the timer and the caller asking to change it.
type TransitionRequest struct {
	TimerID     string
	RequesterID string
	// Duration applies to Reset only.
	Duration time.Duration
}

// TransitionResult reports the outcome of a use case.
type TransitionResult struct {
	Success   bool          `json:"success"`
	TimerID   string        `json:"timer_id"`
	Remaining time.Duration `json:"remaining_ms"`
	Formatted string        `json:"formatted"`
	Phase     domain.Phase  `json:"phase"`
}

// TimerService orchestrates timer use cases against the repository and the
// engine gateway.
type TimerService struct {
	repo domain.TimerRepository
	gw   *gateway.Gateway
	clk  clock.Clock
	log  zerolog.Logger
}

func NewTimerService(repo domain.TimerRepository, gw *gateway.Gateway, clk clock.Clock, log zerolog.Logger) *TimerService {
	return &TimerService{repo: repo, gw: gw, clk: clk, log: log}
}

// Start creates and starts a new timer for ownerID. A zero duration uses
// the default for the session kind.
func (s *TimerService) Start(ctx context.Context, ownerID string, kind domain.Kind, d time.Duration) (*domain.Timer, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("start: owner required: %w", domain.ErrForbidden)
	}
	if d == 0 {
		d = defaultDuration(kind)
	}
	now := s.clk.Now()
	t := domain.NewTimer("tmr_"+uuid.NewString(), ownerID, kind)
	if err := t.Start(d, now); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("create timer: %w", errors.Join(domain.ErrPersistence, err))
	}
	s.command(ctx, gateway.Command{
		Type:      gateway.CmdStart,
		TimerID:   t.ID,
		Seconds:   int(d / time.Second),
		StartedAt: &now,
	})
	s.log.Info().Str("timer_id", t.ID).Str("owner", ownerID).Dur("duration", d).Msg("timer started")
	return t, nil
}

// Pause freezes a running timer, capturing its exact remaining time.
func (s *TimerService) Pause(ctx context.Context, req TransitionRequest) (TransitionResult, error) {
	return s.transition(ctx, req, func(t *domain.Timer, now time.Time) error {
		return t.Pause(now)
	}, gateway.CmdPause)
}

// Resume continues a paused timer. Resume on a timer that is not paused
// fails with InvalidState; of two concurrent resumes exactly one wins.
func (s *TimerService) Resume(ctx context.Context, req TransitionRequest) (TransitionResult, error) {
	return s.transition(ctx, req, func(t *domain.Timer, now time.Time) error {
		return t.Resume(now)
	}, gateway.CmdStart)
}

// Reset returns the timer to idle with a fresh duration.
func (s *TimerService) Reset(ctx context.Context, req TransitionRequest) (TransitionResult, error) {
	if req.Duration <= 0 {
		return TransitionResult{}, fmt.Errorf("reset: duration must be positive: %w", domain.ErrInvalidState)
	}
	return s.transition(ctx, req, func(t *domain.Timer, now time.Time) error {
		return t.Reset(req.Duration, now)
	}, gateway.CmdReset)
}

// transition runs the shared guard-then-write sequence: load, check
// ownership by explicit OwnerID, apply the aggregate transition, persist.
// Persistence happens only after every guard passes, so no partial
// transition is ever recorded. A lost CAS re-reads once and re-checks, so
// the loser of a race observes InvalidState instead of clobbering the
// winner.
func (s *TimerService) transition(ctx context.Context, req TransitionRequest, apply func(*domain.Timer, time.Time) error, cmd gateway.CommandType) (TransitionResult, error) {
	const attempts = 2
	var lastErr error
	for i := 0; i < attempts; i++ {
		t, err := s.load(ctx, req)
		if err != nil {
			return TransitionResult{}, err
		}
		now := s.clk.Now()
		if err := apply(t, now); err != nil {
			return TransitionResult{}, err
		}
		if err := s.repo.Update(ctx, t); err != nil {
			if errors.Is(err, domain.ErrVersionConflict) {
				lastErr = err
				continue
			}
			return TransitionResult{}, fmt.Errorf("persist timer: %w", errors.Join(domain.ErrPersistence, err))
		}
		s.command(ctx, gateway.Command{
			Type:    cmd,
			TimerID: t.ID,
			Seconds: int(t.State.Remaining / time.Second),
		})
		return result(t), nil
	}
	return TransitionResult{}, fmt.Errorf("transition lost to concurrent update: %w", errors.Join(domain.ErrInvalidState, lastErr))
}

// Get returns a timer after an ownership check. The stored snapshot is
// brought up to the current wall clock before it is returned, so a running
// countdown never reads its start-time remaining.
func (s *TimerService) Get(ctx context.Context, timerID, requesterID string) (*domain.Timer, error) {
	t, err := s.load(ctx, TransitionRequest{TimerID: timerID, RequesterID: requesterID})
	if err != nil {
		return nil, err
	}
	t.Sync(s.clk.Now())
	t.ClearEvents()
	return t, nil
}

// List returns the caller's timers, each synced to the current wall clock.
func (s *TimerService) List(ctx context.Context, requesterID string) ([]*domain.Timer, error) {
	timers, err := s.repo.FindByUserID(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	now := s.clk.Now()
	for _, t := range timers {
		t.Sync(now)
		t.ClearEvents()
	}
	return timers, nil
}

// RunCompletions consumes engine completion events and persists the
// terminal transition, so a countdown that ran out reads completed from the
// repository without any caller touching it. Runs until ctx is cancelled.
func (s *TimerService) RunCompletions(ctx context.Context) {
	events, unsub := s.gw.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if ev.Type != gateway.EvtComplete {
				continue
			}
			s.complete(ctx, ev.TimerID)
		}
	}
}

func (s *TimerService) complete(ctx context.Context, id string) {
	t, err := s.repo.FindByID(ctx, id)
	if err != nil {
		s.log.Warn().Err(err).Str("timer_id", id).Msg("completion for unknown timer")
		return
	}
	t.Sync(s.clk.Now())
	if t.State.Phase() != domain.PhaseCompleted {
		// Paused or reset since the engine fired; nothing to record.
		return
	}
	if err := s.repo.Update(ctx, t); err != nil {
		// A conflicting writer already recorded a newer state; nothing lost.
		if !errors.Is(err, domain.ErrVersionConflict) {
			s.log.Warn().Err(err).Str("timer_id", id).Msg("persist completion failed")
		}
		return
	}
	s.log.Info().Str("timer_id", id).Msg("timer completed")
}

func (s *TimerService) load(ctx context.Context, req TransitionRequest) (*domain.Timer, error) {
	t, err := s.repo.FindByID(ctx, req.TimerID)
	if err != nil {
		return nil, err
	}
	if t.OwnerID != req.RequesterID {
		return nil, fmt.Errorf("timer %s: %w", req.TimerID, domain.ErrForbidden)
	}
	return t, nil
}

// command forwards a transition to the engine. The persisted aggregate is
// authoritative; an unresponsive engine only degrades display updates, so
// timeouts are logged rather than failing the use case.
func (s *TimerService) command(ctx context.Context, cmd gateway.Command) {
	if _, err := s.gw.Dispatch(ctx, cmd); err != nil {
		s.log.Warn().Err(err).Str("type", string(cmd.Type)).Str("timer_id", cmd.TimerID).Msg("engine dispatch failed")
	}
}

func result(t *domain.Timer) TransitionResult {
	return TransitionResult{
		Success:   true,
		TimerID:   t.ID,
		Remaining: t.State.Remaining,
		Formatted: domain.FormatDuration(t.State.Remaining),
		Phase:     t.State.Phase(),
	}
}

func defaultDuration(kind domain.Kind) time.Duration {
	switch kind {
	case domain.KindBreak:
		return domain.DefaultBreakDuration
	case domain.KindMicroBreak:
		return domain.DefaultMicroBreakDuration
	default:
		return domain.DefaultFocusDuration
	}
}
