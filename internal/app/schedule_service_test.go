package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"focusflow/internal/clock"
	"focusflow/internal/domain"
	"focusflow/internal/gateway"
	"focusflow/internal/store"
)

func newScheduleService(t *testing.T) (*ScheduleService, *store.Memory, *clock.Virtual) {
	t.Helper()
	repo := store.NewMemory()
	clk := clock.NewVirtual(base)
	gw := gateway.New(ackEngine(t), gateway.NewHub(), clk, time.Minute, zerolog.Nop())
	timers := NewTimerService(repo, gw, clk, zerolog.Nop())
	svc := NewScheduleService(repo, timers, clk, zerolog.Nop(), 15*time.Second)
	return svc, repo, clk
}

func TestCreateScheduleValidatesCron(t *testing.T) {
	svc, _, _ := newScheduleService(t)
	_, err := svc.Create(context.Background(), domain.Schedule{
		OwnerID:  "user_1",
		Name:     "morning focus",
		CronExpr: "not a cron",
		Enabled:  true,
	})
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("got %v, want ErrInvalidState", err)
	}
}

func TestCreateScheduleComputesNextRun(t *testing.T) {
	svc, _, _ := newScheduleService(t)
	sc, err := svc.Create(context.Background(), domain.Schedule{
		OwnerID:  "user_1",
		Name:     "morning focus",
		CronExpr: "0 9 * * 1-5",
		Kind:     domain.KindFocus,
		Enabled:  true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sc.ID == "" {
		t.Fatal("no id assigned")
	}
	if !sc.NextRun.After(base) {
		t.Fatalf("next run %v not after %v", sc.NextRun, base)
	}
	if sc.Duration != domain.DefaultFocusDuration {
		t.Fatalf("duration = %v, want default focus", sc.Duration)
	}
}

func TestProcessDueStartsTimerAndAdvances(t *testing.T) {
	svc, repo, clk := newScheduleService(t)
	sc, err := svc.Create(context.Background(), domain.Schedule{
		OwnerID:  "user_1",
		Name:     "hourly stretch",
		CronExpr: "@hourly",
		Kind:     domain.KindMicroBreak,
		Duration: 3 * time.Minute,
		Enabled:  true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	clk.Advance(sc.NextRun.Sub(base) + time.Second)
	svc.processDue(context.Background(), clk.Now())

	timers, err := repo.FindByUserID(context.Background(), "user_1")
	if err != nil {
		t.Fatalf("list timers: %v", err)
	}
	if len(timers) != 1 {
		t.Fatalf("got %d timers, want 1", len(timers))
	}
	tm := timers[0]
	if tm.Kind != domain.KindMicroBreak || tm.State.Total != 3*time.Minute {
		t.Fatalf("timer = %+v", tm)
	}
	if tm.State.Phase() != domain.PhaseRunning {
		t.Fatalf("phase = %v, want running", tm.State.Phase())
	}

	after, err := repo.GetSchedule(context.Background(), sc.ID)
	if err != nil {
		t.Fatalf("get schedule: %v", err)
	}
	if after.LastRun == nil || !after.LastRun.Equal(clk.Now()) {
		t.Fatalf("last run = %v", after.LastRun)
	}
	if !after.NextRun.After(clk.Now()) {
		t.Fatalf("next run %v not advanced past %v", after.NextRun, clk.Now())
	}
}

func TestDisabledSchedulesAreSkipped(t *testing.T) {
	svc, repo, clk := newScheduleService(t)
	if _, err := svc.Create(context.Background(), domain.Schedule{
		OwnerID:  "user_1",
		Name:     "off",
		CronExpr: "@hourly",
		Enabled:  false,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	clk.Advance(2 * time.Hour)
	svc.processDue(context.Background(), clk.Now())

	timers, _ := repo.FindByUserID(context.Background(), "user_1")
	if len(timers) != 0 {
		t.Fatalf("disabled schedule started %d timers", len(timers))
	}
}

func TestScheduleOwnershipGuards(t *testing.T) {
	svc, _, _ := newScheduleService(t)
	sc, err := svc.Create(context.Background(), domain.Schedule{
		OwnerID:  "user_1",
		Name:     "mine",
		CronExpr: "@daily",
		Enabled:  true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.Get(context.Background(), sc.ID, "user_2"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("get by non-owner: %v", err)
	}
	if err := svc.Delete(context.Background(), sc.ID, "user_2"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("delete by non-owner: %v", err)
	}
	sc.OwnerID = "user_2"
	if err := svc.Update(context.Background(), sc); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("update by non-owner: %v", err)
	}
}
