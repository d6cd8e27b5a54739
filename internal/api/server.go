package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"focusflow/internal/app"
	"focusflow/internal/domain"
)

type Server struct {
	r         *chi.Mux
	timers    *app.TimerService
	schedules *app.ScheduleService
}

func NewServer(timers *app.TimerService, schedules *app.ScheduleService) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	s := &Server{r: r, timers: timers, schedules: schedules}

	r.Get("/health", s.health)

	r.Route("/api", func(r chi.Router) {
		r.Use(requireOwner)
		r.Post("/timers", s.startTimer)
		r.Get("/timers", s.listTimers)
		r.Get("/timers/{id}", s.getTimer)
		r.Post("/timers/{id}/pause", s.pauseTimer)
		r.Post("/timers/{id}/resume", s.resumeTimer)
		r.Post("/timers/{id}/reset", s.resetTimer)

		r.Post("/schedules", s.createSchedule)
		r.Get("/schedules", s.listSchedules)
		r.Get("/schedules/{id}", s.getSchedule)
		r.Put("/schedules/{id}", s.updateSchedule)
		r.Delete("/schedules/{id}", s.deleteSchedule)
	})

	return r
}

// requireOwner resolves the caller identity from the X-User-ID header.
// Downstream ownership checks compare against this id.
func requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-User-ID") == "" {
			http.Error(w, "X-User-ID header is required", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func owner(r *http.Request) string { return r.Header.Get("X-User-ID") }

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type startTimerReq struct {
	Kind    string `json:"kind"`
	Seconds int    `json:"seconds"`
}

type timerResp struct {
	ID        string       `json:"id"`
	Kind      domain.Kind  `json:"kind"`
	Phase     domain.Phase `json:"phase"`
	Remaining int          `json:"remaining_seconds"`
	Total     int          `json:"total_seconds"`
	Formatted string       `json:"formatted"`
}

func toTimerResp(t *domain.Timer) timerResp {
	return timerResp{
		ID:        t.ID,
		Kind:      t.Kind,
		Phase:     t.State.Phase(),
		Remaining: int(t.State.Remaining / time.Second),
		Total:     int(t.State.Total / time.Second),
		Formatted: domain.FormatDuration(t.State.Remaining),
	}
}

func (s *Server) startTimer(w http.ResponseWriter, r *http.Request) {
	var req startTimerReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	kind := domain.Kind(req.Kind)
	if kind == "" {
		kind = domain.KindFocus
	}
	t, err := s.timers.Start(r.Context(), owner(r), kind, time.Duration(req.Seconds)*time.Second)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTimerResp(t))
}

func (s *Server) listTimers(w http.ResponseWriter, r *http.Request) {
	timers, err := s.timers.List(r.Context(), owner(r))
	if err != nil {
		writeErr(w, err)
		return
	}
	out := make([]timerResp, 0, len(timers))
	for _, t := range timers {
		out = append(out, toTimerResp(t))
	}
	writeJSON(w, 200, out)
}

func (s *Server) getTimer(w http.ResponseWriter, r *http.Request) {
	t, err := s.timers.Get(r.Context(), chi.URLParam(r, "id"), owner(r))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, 200, toTimerResp(t))
}

func (s *Server) pauseTimer(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.timers.Pause, 0)
}

func (s *Server) resumeTimer(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.timers.Resume, 0)
}

type resetReq struct {
	Seconds int `json:"seconds"`
}

func (s *Server) resetTimer(w http.ResponseWriter, r *http.Request) {
	var req resetReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	s.transition(w, r, s.timers.Reset, time.Duration(req.Seconds)*time.Second)
}

func (s *Server) transition(w http.ResponseWriter, r *http.Request, fn func(context.Context, app.TransitionRequest) (app.TransitionResult, error), d time.Duration) {
	res, err := fn(r.Context(), app.TransitionRequest{
		TimerID:     chi.URLParam(r, "id"),
		RequesterID: owner(r),
		Duration:    d,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, 200, res)
}

type scheduleReq struct {
	Name     string `json:"name"`
	CronExpr string `json:"cron_expr"`
	Kind     string `json:"kind"`
	Seconds  int    `json:"seconds"`
	Enabled  bool   `json:"enabled"`
}

type scheduleResp struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	CronExpr string      `json:"cron_expr"`
	Kind     domain.Kind `json:"kind"`
	Seconds  int         `json:"seconds"`
	Enabled  bool        `json:"enabled"`
	NextRun  time.Time   `json:"next_run"`
}

func toScheduleResp(sc domain.Schedule) scheduleResp {
	return scheduleResp{
		ID:       sc.ID,
		Name:     sc.Name,
		CronExpr: sc.CronExpr,
		Kind:     sc.Kind,
		Seconds:  int(sc.Duration / time.Second),
		Enabled:  sc.Enabled,
		NextRun:  sc.NextRun,
	}
}

func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if req.Name == "" {
		http.Error(w, "name is required", 400)
		return
	}
	if req.CronExpr == "" {
		http.Error(w, "cron_expr is required", 400)
		return
	}
	sc, err := s.schedules.Create(r.Context(), domain.Schedule{
		OwnerID:  owner(r),
		Name:     req.Name,
		CronExpr: req.CronExpr,
		Kind:     domain.Kind(req.Kind),
		Duration: time.Duration(req.Seconds) * time.Second,
		Enabled:  req.Enabled,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toScheduleResp(sc))
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	list, err := s.schedules.List(r.Context(), owner(r))
	if err != nil {
		writeErr(w, err)
		return
	}
	out := make([]scheduleResp, 0, len(list))
	for _, sc := range list {
		out = append(out, toScheduleResp(sc))
	}
	writeJSON(w, 200, out)
}

func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request) {
	sc, err := s.schedules.Get(r.Context(), chi.URLParam(r, "id"), owner(r))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, 200, toScheduleResp(sc))
}

func (s *Server) updateSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	err := s.schedules.Update(r.Context(), domain.Schedule{
		ID:       chi.URLParam(r, "id"),
		OwnerID:  owner(r),
		Name:     req.Name,
		CronExpr: req.CronExpr,
		Kind:     domain.Kind(req.Kind),
		Duration: time.Duration(req.Seconds) * time.Second,
		Enabled:  req.Enabled,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.schedules.Delete(r.Context(), chi.URLParam(r, "id"), owner(r)); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrForbidden):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, domain.ErrInvalidState):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrTimeout):
		http.Error(w, err.Error(), http.StatusGatewayTimeout)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
