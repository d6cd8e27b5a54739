// Package store persists timers and schedules. The sqlite implementation is
// the production path; Memory backs tests and dev mode.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"focusflow/internal/domain"
)

// Memory is an in-memory repository with the same CAS semantics as the
// sqlite implementation.
type Memory struct {
	mu        sync.Mutex
	timers    map[string]*domain.Timer
	schedules map[string]domain.Schedule
}

var _ domain.TimerRepository = (*Memory)(nil)
var _ domain.ScheduleRepository = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		timers:    make(map[string]*domain.Timer),
		schedules: make(map[string]domain.Schedule),
	}
}

func copyTimer(t *domain.Timer) *domain.Timer {
	c := *t
	c.ClearEvents()
	return &c
}

func (m *Memory) FindByID(ctx context.Context, id string) (*domain.Timer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.timers[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyTimer(t), nil
}

func (m *Memory) FindByUserID(ctx context.Context, userID string) ([]*domain.Timer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Timer
	for _, t := range m.timers {
		if t.OwnerID == userID {
			out = append(out, copyTimer(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Create(ctx context.Context, t *domain.Timer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timers[t.ID] = copyTimer(t)
	return nil
}

// Update mirrors the sqlite CAS: the write succeeds only against the version
// it read; a duplicate of an already-applied payload is a no-op success.
func (m *Memory) Update(ctx context.Context, t *domain.Timer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.timers[t.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.Version != t.Version {
		if stored.Version == t.Version+1 && stored.State == t.State {
			t.Version = stored.Version
			return nil
		}
		return domain.ErrVersionConflict
	}
	c := copyTimer(t)
	c.Version++
	m.timers[t.ID] = c
	t.Version = c.Version
	return nil
}

func (m *Memory) CreateSchedule(ctx context.Context, s domain.Schedule) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = "sch_" + uuid.NewString()
	}
	m.schedules[s.ID] = s
	return s.ID, nil
}

func (m *Memory) GetSchedule(ctx context.Context, id string) (domain.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return domain.Schedule{}, domain.ErrNotFound
	}
	return s, nil
}

func (m *Memory) ListSchedules(ctx context.Context, ownerID string) ([]domain.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Schedule
	for _, s := range m.schedules {
		if s.OwnerID == ownerID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) UpdateSchedule(ctx context.Context, s domain.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schedules[s.ID]; !ok {
		return domain.ErrNotFound
	}
	m.schedules[s.ID] = s
	return nil
}

func (m *Memory) DeleteSchedule(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.schedules, id)
	return nil
}

func (m *Memory) DueSchedules(ctx context.Context, now time.Time) ([]domain.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Schedule
	for _, s := range m.schedules {
		if s.Enabled && !s.NextRun.After(now) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRun.Before(out[j].NextRun) })
	return out, nil
}

func (m *Memory) MarkScheduleRun(ctx context.Context, id string, lastRun, nextRun time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return domain.ErrNotFound
	}
	lr := lastRun
	s.LastRun = &lr
	s.NextRun = nextRun
	m.schedules[id] = s
	return nil
}
