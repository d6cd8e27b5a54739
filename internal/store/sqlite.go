package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"focusflow/internal/domain"
)

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS timers (
  id TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL,
  kind TEXT NOT NULL DEFAULT 'focus',
  remaining_ms INTEGER NOT NULL DEFAULT 0,
  total_ms INTEGER NOT NULL DEFAULT 0,
  running INTEGER NOT NULL DEFAULT 0,
  paused INTEGER NOT NULL DEFAULT 0,
  last_update DATETIME,
  version INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_timers_owner ON timers(owner_id);
CREATE TABLE IF NOT EXISTS schedules (
  id TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL,
  name TEXT NOT NULL,
  cron_expr TEXT NOT NULL,
  kind TEXT NOT NULL DEFAULT 'focus',
  duration_ms INTEGER NOT NULL,
  enabled INTEGER NOT NULL DEFAULT 1,
  last_run DATETIME,
  next_run DATETIME NOT NULL,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_schedules_next_run ON schedules(enabled, next_run);
`
	_, err := db.Exec(schema)
	return err
}

type sqliteRepo struct{ db *sql.DB }

// NewSQLiteRepo returns repositories for timers and schedules backed by db.
func NewSQLiteRepo(db *sql.DB) *SQLite { return &SQLite{sqliteRepo{db: db}} }

// SQLite implements domain.TimerRepository and domain.ScheduleRepository.
type SQLite struct{ sqliteRepo }

var _ domain.TimerRepository = (*SQLite)(nil)
var _ domain.ScheduleRepository = (*SQLite)(nil)

const timerCols = `id,owner_id,kind,remaining_ms,total_ms,running,paused,last_update,version`

func scanTimer(row interface{ Scan(...any) error }) (*domain.Timer, error) {
	var t domain.Timer
	var remaining, total int64
	var lastUpdate sql.NullTime
	err := row.Scan(&t.ID, &t.OwnerID, &t.Kind, &remaining, &total, &t.State.Running, &t.State.Paused, &lastUpdate, &t.Version)
	if err != nil {
		return nil, err
	}
	t.State.Remaining = time.Duration(remaining) * time.Millisecond
	t.State.Total = time.Duration(total) * time.Millisecond
	if lastUpdate.Valid {
		t.State.LastUpdate = lastUpdate.Time
	}
	return &t, nil
}

func (r *sqliteRepo) FindByID(ctx context.Context, id string) (*domain.Timer, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+timerCols+` FROM timers WHERE id=?`, id)
	t, err := scanTimer(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return t, err
}

func (r *sqliteRepo) FindByUserID(ctx context.Context, userID string) ([]*domain.Timer, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+timerCols+` FROM timers WHERE owner_id=? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var timers []*domain.Timer
	for rows.Next() {
		t, err := scanTimer(rows)
		if err != nil {
			return nil, err
		}
		timers = append(timers, t)
	}
	return timers, rows.Err()
}

func (r *sqliteRepo) Create(ctx context.Context, t *domain.Timer) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO timers (id,owner_id,kind,remaining_ms,total_ms,running,paused,last_update,version,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,CURRENT_TIMESTAMP,CURRENT_TIMESTAMP)
`, t.ID, t.OwnerID, t.Kind,
		t.State.Remaining.Milliseconds(), t.State.Total.Milliseconds(),
		t.State.Running, t.State.Paused, t.State.LastUpdate, t.Version)
	return err
}

// Update is a compare-and-swap on version. A lost swap whose payload is
// already stored counts as a duplicate delivery and succeeds as a no-op, so
// retried writes are idempotent.
func (r *sqliteRepo) Update(ctx context.Context, t *domain.Timer) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE timers
SET kind=?, remaining_ms=?, total_ms=?, running=?, paused=?, last_update=?,
    version=version+1, updated_at=CURRENT_TIMESTAMP
WHERE id=? AND version=?
`, t.Kind, t.State.Remaining.Milliseconds(), t.State.Total.Milliseconds(),
		t.State.Running, t.State.Paused, t.State.LastUpdate, t.ID, t.Version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		t.Version++
		return nil
	}

	stored, err := r.FindByID(ctx, t.ID)
	if err != nil {
		return err
	}
	if stored.Version == t.Version+1 && stored.State == t.State {
		t.Version = stored.Version
		return nil
	}
	return domain.ErrVersionConflict
}

const scheduleCols = `id,owner_id,name,cron_expr,kind,duration_ms,enabled,last_run,next_run`

func scanSchedule(row interface{ Scan(...any) error }) (domain.Schedule, error) {
	var s domain.Schedule
	var durationMS int64
	var lastRun sql.NullTime
	err := row.Scan(&s.ID, &s.OwnerID, &s.Name, &s.CronExpr, &s.Kind, &durationMS, &s.Enabled, &lastRun, &s.NextRun)
	if err != nil {
		return domain.Schedule{}, err
	}
	s.Duration = time.Duration(durationMS) * time.Millisecond
	if lastRun.Valid {
		s.LastRun = &lastRun.Time
	}
	return s, nil
}

func (r *sqliteRepo) CreateSchedule(ctx context.Context, s domain.Schedule) (string, error) {
	id := s.ID
	if id == "" {
		id = "sch_" + uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO schedules (id,owner_id,name,cron_expr,kind,duration_ms,enabled,last_run,next_run,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,CURRENT_TIMESTAMP,CURRENT_TIMESTAMP)
`, id, s.OwnerID, s.Name, s.CronExpr, s.Kind, s.Duration.Milliseconds(), s.Enabled, s.LastRun, s.NextRun)
	return id, err
}

func (r *sqliteRepo) GetSchedule(ctx context.Context, id string) (domain.Schedule, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+scheduleCols+` FROM schedules WHERE id=?`, id)
	s, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return domain.Schedule{}, domain.ErrNotFound
	}
	return s, err
}

func (r *sqliteRepo) ListSchedules(ctx context.Context, ownerID string) ([]domain.Schedule, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+scheduleCols+` FROM schedules WHERE owner_id=? ORDER BY name`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []domain.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

func (r *sqliteRepo) UpdateSchedule(ctx context.Context, s domain.Schedule) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE schedules SET name=?,cron_expr=?,kind=?,duration_ms=?,enabled=?,next_run=?,updated_at=CURRENT_TIMESTAMP
WHERE id=?`, s.Name, s.CronExpr, s.Kind, s.Duration.Milliseconds(), s.Enabled, s.NextRun, s.ID)
	return err
}

func (r *sqliteRepo) DeleteSchedule(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM schedules WHERE id=?", id)
	return err
}

func (r *sqliteRepo) DueSchedules(ctx context.Context, now time.Time) ([]domain.Schedule, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+scheduleCols+` FROM schedules WHERE enabled=1 AND next_run <= ? ORDER BY next_run`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []domain.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

func (r *sqliteRepo) MarkScheduleRun(ctx context.Context, id string, lastRun, nextRun time.Time) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE schedules SET last_run=?,next_run=?,updated_at=CURRENT_TIMESTAMP WHERE id=?`, lastRun, nextRun, id)
	return err
}
