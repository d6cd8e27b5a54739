package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"focusflow/internal/clock"
	"focusflow/internal/domain"
)

// ScheduleService starts recurring focus sessions: on each scan it starts a
// timer for every due schedule and advances the schedule's next run from
// its cron expression.
type ScheduleService struct {
	repo     domain.ScheduleRepository
	timers   *TimerService
	clk      clock.Clock
	log      zerolog.Logger
	interval time.Duration
	stop     chan struct{}
}

func NewScheduleService(repo domain.ScheduleRepository, timers *TimerService, clk clock.Clock, log zerolog.Logger, checkInterval time.Duration) *ScheduleService {
	return &ScheduleService{
		repo:     repo,
		timers:   timers,
		clk:      clk,
		log:      log,
		interval: checkInterval,
		stop:     make(chan struct{}),
	}
}

func (s *ScheduleService) Run(ctx context.Context) {
	ticker := s.clk.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info().Dur("interval", s.interval).Msg("schedule service started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case now := <-ticker.C():
			s.processDue(ctx, now)
		}
	}
}

func (s *ScheduleService) Stop() {
	close(s.stop)
}

func (s *ScheduleService) processDue(ctx context.Context, now time.Time) {
	due, err := s.repo.DueSchedules(ctx, now)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list due schedules")
		return
	}
	for _, sched := range due {
		if err := s.fire(ctx, sched, now); err != nil {
			s.log.Error().Err(err).Str("schedule_id", sched.ID).Msg("failed to fire schedule")
		}
	}
}

func (s *ScheduleService) fire(ctx context.Context, sched domain.Schedule, now time.Time) error {
	spec, err := cron.ParseStandard(sched.CronExpr)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", sched.CronExpr, errors.Join(domain.ErrInvalidState, err))
	}

	t, err := s.timers.Start(ctx, sched.OwnerID, sched.Kind, sched.Duration)
	if err != nil {
		return err
	}

	nextRun := spec.Next(now)
	if err := s.repo.MarkScheduleRun(ctx, sched.ID, now, nextRun); err != nil {
		return err
	}

	s.log.Info().
		Str("schedule_id", sched.ID).
		Str("schedule_name", sched.Name).
		Str("timer_id", t.ID).
		Time("next_run", nextRun).
		Msg("scheduled session started")
	return nil
}

// Create validates the cron expression, computes the first run, and stores
// the schedule.
func (s *ScheduleService) Create(ctx context.Context, sched domain.Schedule) (domain.Schedule, error) {
	spec, err := cron.ParseStandard(sched.CronExpr)
	if err != nil {
		return domain.Schedule{}, fmt.Errorf("invalid cron expression %q: %w", sched.CronExpr, errors.Join(domain.ErrInvalidState, err))
	}
	if sched.Duration <= 0 {
		sched.Duration = defaultDuration(sched.Kind)
	}
	sched.NextRun = spec.Next(s.clk.Now())
	id, err := s.repo.CreateSchedule(ctx, sched)
	if err != nil {
		return domain.Schedule{}, err
	}
	sched.ID = id
	return sched, nil
}

// Update validates and replaces a schedule after an ownership check.
func (s *ScheduleService) Update(ctx context.Context, sched domain.Schedule) error {
	existing, err := s.repo.GetSchedule(ctx, sched.ID)
	if err != nil {
		return err
	}
	if existing.OwnerID != sched.OwnerID {
		return fmt.Errorf("schedule %s: %w", sched.ID, domain.ErrForbidden)
	}
	spec, err := cron.ParseStandard(sched.CronExpr)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", sched.CronExpr, errors.Join(domain.ErrInvalidState, err))
	}
	sched.NextRun = spec.Next(s.clk.Now())
	return s.repo.UpdateSchedule(ctx, sched)
}

// Get returns a schedule after an ownership check.
func (s *ScheduleService) Get(ctx context.Context, id, requesterID string) (domain.Schedule, error) {
	sched, err := s.repo.GetSchedule(ctx, id)
	if err != nil {
		return domain.Schedule{}, err
	}
	if sched.OwnerID != requesterID {
		return domain.Schedule{}, fmt.Errorf("schedule %s: %w", id, domain.ErrForbidden)
	}
	return sched, nil
}

// List returns the caller's schedules.
func (s *ScheduleService) List(ctx context.Context, requesterID string) ([]domain.Schedule, error) {
	return s.repo.ListSchedules(ctx, requesterID)
}

// Delete removes a schedule after an ownership check.
func (s *ScheduleService) Delete(ctx context.Context, id, requesterID string) error {
	if _, err := s.Get(ctx, id, requesterID); err != nil {
		return err
	}
	return s.repo.DeleteSchedule(ctx, id)
}
