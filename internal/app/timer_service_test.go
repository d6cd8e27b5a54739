package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"focusflow/internal/clock"
	"focusflow/internal/domain"
	"focusflow/internal/engine"
	"focusflow/internal/gateway"
	"focusflow/internal/store"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// ackEngine drains gateway requests and acknowledges each one, standing in
// for a running engine.
func ackEngine(t *testing.T) chan gateway.Request {
	t.Helper()
	sink := make(chan gateway.Request, 64)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case req := <-sink:
				if req.Reply != nil {
					req.Reply <- gateway.Event{}
				}
			case <-done:
				return
			}
		}
	}()
	t.Cleanup(func() { close(done) })
	return sink
}

func newService(t *testing.T, repo domain.TimerRepository) (*TimerService, *clock.Virtual) {
	t.Helper()
	clk := clock.NewVirtual(base)
	gw := gateway.New(ackEngine(t), gateway.NewHub(), clk, time.Minute, zerolog.Nop())
	return NewTimerService(repo, gw, clk, zerolog.Nop()), clk
}

// fullStack wires the service to a real engine over the gateway, backed by
// the in-memory store. No stand-ins anywhere on the path.
func fullStack(t *testing.T) (*TimerService, *clock.Virtual, *store.Memory) {
	t.Helper()
	clk := clock.NewVirtual(base)
	hub := gateway.NewHub()
	eng := engine.New(clk, hub, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go eng.Run(ctx)
	gw := gateway.New(eng.Inbox(), hub, clk, time.Minute, zerolog.Nop())
	repo := store.NewMemory()
	return NewTimerService(repo, gw, clk, zerolog.Nop()), clk, repo
}

type mockTimerRepo struct {
	findByIDFn   func(ctx context.Context, id string) (*domain.Timer, error)
	findByUserFn func(ctx context.Context, userID string) ([]*domain.Timer, error)
	createFn     func(ctx context.Context, tm *domain.Timer) error
	updateFn     func(ctx context.Context, tm *domain.Timer) error
}

func (m *mockTimerRepo) FindByID(ctx context.Context, id string) (*domain.Timer, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (m *mockTimerRepo) FindByUserID(ctx context.Context, userID string) ([]*domain.Timer, error) {
	if m.findByUserFn != nil {
		return m.findByUserFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockTimerRepo) Create(ctx context.Context, tm *domain.Timer) error {
	if m.createFn != nil {
		return m.createFn(ctx, tm)
	}
	return nil
}

func (m *mockTimerRepo) Update(ctx context.Context, tm *domain.Timer) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, tm)
	}
	return nil
}

func TestStartPersistsRunningTimer(t *testing.T) {
	var created *domain.Timer
	repo := &mockTimerRepo{
		createFn: func(_ context.Context, tm *domain.Timer) error {
			created = tm
			return nil
		},
	}
	svc, _ := newService(t, repo)

	tm, err := svc.Start(context.Background(), "user_1", domain.KindFocus, 1500*time.Second)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if created == nil || created.ID != tm.ID {
		t.Fatal("timer was not persisted")
	}
	if tm.OwnerID != "user_1" {
		t.Fatalf("owner = %q", tm.OwnerID)
	}
	if tm.State.Phase() != domain.PhaseRunning || tm.State.Remaining != 1500*time.Second {
		t.Fatalf("state = %+v", tm.State)
	}
}

func TestStartDefaultsDurationByKind(t *testing.T) {
	svc, _ := newService(t, &mockTimerRepo{})
	tm, err := svc.Start(context.Background(), "user_1", domain.KindBreak, 0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if tm.State.Total != domain.DefaultBreakDuration {
		t.Fatalf("total = %v, want %v", tm.State.Total, domain.DefaultBreakDuration)
	}
}

func TestResumeNotFound(t *testing.T) {
	svc, _ := newService(t, &mockTimerRepo{})
	_, err := svc.Resume(context.Background(), TransitionRequest{TimerID: "tmr_x", RequesterID: "user_1"})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestResumeForbiddenForNonOwner(t *testing.T) {
	repo := store.NewMemory()
	svc, clk := newService(t, repo)

	tm, err := svc.Start(context.Background(), "user_1", domain.KindFocus, 1500*time.Second)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	clk.Advance(time.Second)
	if _, err := svc.Pause(context.Background(), TransitionRequest{TimerID: tm.ID, RequesterID: "user_1"}); err != nil {
		t.Fatalf("pause: %v", err)
	}

	// Valid id, wrong caller: ownership is decided by OwnerID alone.
	_, err = svc.Resume(context.Background(), TransitionRequest{TimerID: tm.ID, RequesterID: "user_2"})
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("got %v, want ErrForbidden", err)
	}
}

func TestResumeRequiresPausedState(t *testing.T) {
	repo := store.NewMemory()
	svc, _ := newService(t, repo)

	tm, err := svc.Start(context.Background(), "user_1", domain.KindFocus, 1500*time.Second)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	_, err = svc.Resume(context.Background(), TransitionRequest{TimerID: tm.ID, RequesterID: "user_1"})
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("resume on running timer: got %v, want ErrInvalidState", err)
	}
}

func TestPauseCapturesElapsedWallClock(t *testing.T) {
	svc, clk, _ := fullStack(t)

	tm, err := svc.Start(context.Background(), "user_1", domain.KindFocus, 0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// Pause 10 seconds in: the captured remaining must reflect the elapsed
	// wall clock, not the value frozen at start.
	clk.Advance(10 * time.Second)
	res, err := svc.Pause(context.Background(), TransitionRequest{TimerID: tm.ID, RequesterID: "user_1"})
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if res.Remaining != 1490*time.Second {
		t.Fatalf("remaining at pause = %v, want 1490s", res.Remaining)
	}
	if res.Formatted != "24:50" {
		t.Fatalf("formatted = %q, want 24:50", res.Formatted)
	}

	// 90 seconds pass while paused; resume continues from 1490s exactly.
	clk.Advance(90 * time.Second)
	res, err = svc.Resume(context.Background(), TransitionRequest{TimerID: tm.ID, RequesterID: "user_1"})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if !res.Success {
		t.Fatal("result not successful")
	}
	if res.Remaining != 1490*time.Second {
		t.Fatalf("remaining after resume = %v, want 1490s", res.Remaining)
	}

	// The countdown keeps moving from the captured value.
	clk.Advance(10 * time.Second)
	got, err := svc.Get(context.Background(), tm.ID, "user_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State.Remaining != 1480*time.Second {
		t.Fatalf("remaining after resumed interval = %v, want 1480s", got.State.Remaining)
	}
}

func TestCompletionPersistsTerminalState(t *testing.T) {
	svc, clk, repo := fullStack(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go svc.RunCompletions(ctx)

	tm, err := svc.Start(context.Background(), "user_1", domain.KindFocus, 2*time.Second)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// Step the clock past the countdown and wait for the completion
	// listener to record the terminal state in the repository itself.
	deadline := time.Now().Add(2 * time.Second)
	for {
		clk.Advance(500 * time.Millisecond)
		time.Sleep(5 * time.Millisecond)
		stored, err := repo.FindByID(context.Background(), tm.ID)
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if stored.State.Phase() == domain.PhaseCompleted {
			if stored.State.Remaining != 0 || stored.State.Running {
				t.Fatalf("terminal state = %+v", stored.State)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("completion never persisted, state = %+v", stored.State)
		}
	}
}

func TestConcurrentResumeExactlyOneWins(t *testing.T) {
	repo := store.NewMemory()
	svc, clk := newService(t, repo)

	tm, _ := svc.Start(context.Background(), "user_1", domain.KindFocus, 1500*time.Second)
	clk.Advance(time.Second)
	if _, err := svc.Pause(context.Background(), TransitionRequest{TimerID: tm.ID, RequesterID: "user_1"}); err != nil {
		t.Fatalf("pause: %v", err)
	}

	const callers = 2
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Resume(context.Background(), TransitionRequest{TimerID: tm.ID, RequesterID: "user_1"})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrInvalidState):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("%d resumes succeeded, want exactly 1", succeeded)
	}
}

func TestResetRejectsNonPositiveDuration(t *testing.T) {
	svc, _ := newService(t, &mockTimerRepo{})
	_, err := svc.Reset(context.Background(), TransitionRequest{TimerID: "tmr_x", RequesterID: "user_1"})
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("got %v, want ErrInvalidState", err)
	}
}

func TestResetYieldsIdleWithFreshDuration(t *testing.T) {
	repo := store.NewMemory()
	svc, _ := newService(t, repo)

	tm, _ := svc.Start(context.Background(), "user_1", domain.KindFocus, 1500*time.Second)
	res, err := svc.Reset(context.Background(), TransitionRequest{
		TimerID: tm.ID, RequesterID: "user_1", Duration: 300 * time.Second,
	})
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if res.Remaining != 300*time.Second || res.Phase != domain.PhaseIdle {
		t.Fatalf("result = %+v", res)
	}
}

func TestGuardFailureDoesNotPersist(t *testing.T) {
	updates := 0
	running := domain.NewTimer("tmr_1", "user_1", domain.KindFocus)
	_ = running.Start(time.Minute, base)
	repo := &mockTimerRepo{
		findByIDFn: func(context.Context, string) (*domain.Timer, error) {
			c := *running
			return &c, nil
		},
		updateFn: func(context.Context, *domain.Timer) error {
			updates++
			return nil
		},
	}
	svc, _ := newService(t, repo)

	// Resume on a running timer fails the guard before any write.
	_, err := svc.Resume(context.Background(), TransitionRequest{TimerID: "tmr_1", RequesterID: "user_1"})
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("got %v", err)
	}
	if updates != 0 {
		t.Fatalf("repository written %d times despite guard failure", updates)
	}
}

func TestPersistenceFailureSurfaces(t *testing.T) {
	running := domain.NewTimer("tmr_1", "user_1", domain.KindFocus)
	_ = running.Start(time.Minute, base)
	repo := &mockTimerRepo{
		findByIDFn: func(context.Context, string) (*domain.Timer, error) {
			c := *running
			return &c, nil
		},
		updateFn: func(context.Context, *domain.Timer) error {
			return errors.New("disk full")
		},
	}
	svc, _ := newService(t, repo)

	_, err := svc.Pause(context.Background(), TransitionRequest{TimerID: "tmr_1", RequesterID: "user_1"})
	if !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("got %v, want ErrPersistence", err)
	}
}
