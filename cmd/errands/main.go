package main

import (
	"context"
	"database/sql"
	"errors"
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

	"errands/internal/api"
	"errands/internal/config"
	"errands/internal/discovery"
	"errands/internal/dispatch"
	"errands/internal/domain"
	"errands/internal/history"
	"errands/internal/registry"
	"errands/internal/worker"
)

// journalRetention bounds how long finished runs stay in the journal.
const journalRetention = 30 * 24 * time.Hour

func main() {
	cfg, err := config.Parse(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	setupLogger(cfg)

	loc, _ := cfg.Location()
	reg := registry.Default()

	var repo history.Repository
	if cfg.DB != "" {
		dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)", cfg.DB)
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			log.Fatal().Err(err).Msg("open db")
		}
		defer db.Close()
		db.SetMaxOpenConns(1) // SQLite single writer

		if err := history.EnsureSchema(db); err != nil {
			log.Fatal().Err(err).Msg("ensure schema")
		}
		repo = history.NewSQLiteRepo(db)
		reg.MustRegister("@daily", func(ctx context.Context) error {
			n, err := repo.Prune(ctx, time.Now().Add(-journalRetention))
			if err == nil && n > 0 {
				log.Info().Int("pruned", n).Msg("run journal pruned")
			}
			return err
		}, registry.Name("prune run journal"), registry.Category(string(domain.Long)), registry.Location(loc))
	}

	dispOpts := []dispatch.Option{}
	poolOpts := []worker.Option{worker.WithOnce(cfg.Once)}
	if repo != nil {
		dispOpts = append(dispOpts, dispatch.WithRecorder(repo))
		poolOpts = append(poolOpts, worker.WithRecorder(repo))
	}
	disp := dispatch.New(dispOpts...)
	reg.SetDispatcher(disp)

	if cfg.Definitions != "" {
		loader := discovery.NewLoader(reg, discovery.WithLocation(loc))
		n, err := loader.Discover(cfg.Definitions)
		if err != nil {
			log.Fatal().Err(err).Msg("load definitions")
		}
		log.Info().Int("errands", n).Str("dir", cfg.Definitions).Msg("definitions discovered")
	}
	log.Info().Msg(reg.Summary())

	alloc := worker.DefaultAllocation(cfg.BaseParallelism)
	log.Info().
		Int("short", alloc[domain.Short]).
		Int("medium", alloc[domain.Medium]).
		Int("long", alloc[domain.Long]).
		Msg("worker allocation")
	pools := worker.NewPools(reg, alloc, poolOpts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var srv *http.Server
	if cfg.Addr != "" {
		apiOpts := []api.Option{api.WithPools(pools), api.WithRunRate(cfg.RunRate), api.WithDebug(cfg.Debug)}
		if repo != nil {
			apiOpts = append(apiOpts, api.WithRuns(repo))
		}
		srv = &http.Server{Addr: cfg.Addr, Handler: api.NewServer(reg, disp, apiOpts...)}
		go func() {
			log.Info().Str("addr", cfg.Addr).Msg("HTTP server starting")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatal().Err(err).Msg("http server")
			}
		}()
	}

	done := make(chan error, 1)
	go func() { done <- worker.RunAll(ctx, pools) }()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		<-done
	case err := <-done:
		if err != nil {
			log.Error().Err(err).Msg("worker pools stopped")
		} else {
			log.Info().Msg("single pass finished")
		}
	}
	stop()

	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	if srv != nil {
		_ = srv.Shutdown(ctxTimeout)
	}
	waitDispatches(ctxTimeout, disp)
}

func setupLogger(cfg config.Config) {
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	lvl, _ := cfg.Level()
	zerolog.SetGlobalLevel(lvl)
}

func waitDispatches(ctx context.Context, disp *dispatch.Dispatcher) {
	finished := make(chan struct{})
	go func() {
		disp.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
		log.Warn().Msg("background errands still running at exit")
	}
}
