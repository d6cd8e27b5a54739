package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"focusflow/internal/api"
	"focusflow/internal/app"
	"focusflow/internal/clock"
	"focusflow/internal/engine"
	"focusflow/internal/gateway"
	"focusflow/internal/store"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "HTTP bind address")
		dbPath     = flag.String("db", "focusflow.db", "SQLite DB path (empty for in-memory store)")
		dispatchTO = flag.Duration("dispatch-timeout", 2*time.Second, "engine command timeout")
		schedEvery = flag.Duration("schedule-check", 15*time.Second, "schedule scan interval")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	clk := clock.Real()
	hub := gateway.NewHub()
	eng := engine.New(clk, hub, log.Logger)
	gw := gateway.New(eng.Inbox(), hub, clk, *dispatchTO, log.Logger)

	timers, schedules, closeDB, err := buildServices(*dbPath, gw, clk, *schedEvery)
	if err != nil {
		log.Fatal().Err(err).Msg("setup")
	}
	defer closeDB()

	ctx, cancel := context.WithCancel(context.Background())
	go eng.Run(ctx)
	go timers.RunCompletions(ctx)
	go schedules.Run(ctx)

	srv := &http.Server{Addr: *addr, Handler: api.NewServer(timers, schedules)}
	go func() {
		log.Info().Str("addr", *addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")
	cancel()
	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	_ = srv.Shutdown(ctxTimeout)
}

func buildServices(dbPath string, gw *gateway.Gateway, clk clock.Clock, schedEvery time.Duration) (*app.TimerService, *app.ScheduleService, func(), error) {
	if dbPath == "" {
		mem := store.NewMemory()
		timers := app.NewTimerService(mem, gw, clk, log.Logger)
		schedules := app.NewScheduleService(mem, timers, clk, log.Logger, schedEvery)
		return timers, schedules, func() {}, nil
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, nil, nil, err
	}
	db.SetMaxOpenConns(1) // SQLite single writer

	if err := store.EnsureSchema(db); err != nil {
		db.Close()
		return nil, nil, nil, err
	}

	repo := store.NewSQLiteRepo(db)
	timers := app.NewTimerService(repo, gw, clk, log.Logger)
	schedules := app.NewScheduleService(repo, timers, clk, log.Logger, schedEvery)
	return timers, schedules, func() { db.Close() }, nil
}
