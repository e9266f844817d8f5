package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lazzyont7t/Data/internal/api/mzplay"
	"github.com/lazzyont7t/Data/internal/api/wingo"
	"github.com/lazzyont7t/Data/internal/bus"
	"github.com/lazzyont7t/Data/internal/config"
	"github.com/lazzyont7t/Data/internal/database"
	"github.com/lazzyont7t/Data/internal/httpapi"
	"github.com/lazzyont7t/Data/internal/predictor"
	"github.com/lazzyont7t/Data/internal/reconcile"
	"github.com/lazzyont7t/Data/internal/scheduler"
	"github.com/lazzyont7t/Data/internal/ws"
	"github.com/lazzyont7t/Data/models"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// 1) Настраиваем логгер и парсим конфиг
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()

	// 2) Хранилище: PostgreSQL если задан DB_HOST, иначе память
	var store models.ResultStore
	if cfg.UseDatabase() {
		db, err := database.New(database.ConnectionParams{
			Host:     cfg.DBHost,
			Port:     cfg.DBPort,
			User:     cfg.DBUser,
			Password: cfg.DBPassword,
			DBName:   cfg.DBName,
			SSLMode:  cfg.DBSSLMode,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("database connection failed")
		}
		defer db.Close()
		store = db
		log.Info().Str("host", cfg.DBHost).Msg("using PostgreSQL store")
	} else {
		store = database.NewMemoryStore()
		log.Warn().Msg("DB_HOST not set, predictions are kept in memory only")
	}

	// 3) Клиенты источников, шина, движок, планировщик и свипер
	clients := buildClients(cfg)
	eventBus := bus.New()
	engine := predictor.New(clients, store, eventBus)
	sched := scheduler.New(engine, store, eventBus)
	sweeper := reconcile.New(clients, store, eventBus, reconcile.Options{
		Interval: time.Duration(cfg.SweepInterval) * time.Second,
		PageSize: cfg.SweepPageSize,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go sweeper.Run(ctx)

	hub := ws.New(eventBus)
	go hub.Run(ctx)

	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	mux.Handle("/api/v1/", httpapi.New(sched, store))

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	sched.StopAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown failed")
	}

	eventBus.Close()
}

// buildClients wires one history client per (source, cadence) pair.
func buildClients(cfg *config.Config) map[models.GameKey]models.SourceClient {
	timeout := time.Duration(cfg.RequestTimeout) * time.Second

	clients := make(map[models.GameKey]models.SourceClient, 4)
	for _, cadence := range []models.Cadence{models.Cadence30s, models.Cadence1m} {
		clients[models.GameKey{Source: models.SourceWingo, Cadence: cadence}] = wingo.NewClient(wingo.ClientOptions{
			BaseURL:        cfg.WingoBaseURL,
			Cadence:        cadence,
			RequestTimeout: timeout,
			RequestsPerSec: cfg.RequestsPerSec,
		})
		clients[models.GameKey{Source: models.SourceMzplay, Cadence: cadence}] = mzplay.NewClient(mzplay.ClientOptions{
			URL:            cfg.MzplayURL,
			Cadence:        cadence,
			Random:         cfg.MzplayRandom,
			Signature:      cfg.MzplaySignature,
			PageSize:       cfg.MzplayPageSize,
			RequestTimeout: timeout,
			RequestsPerSec: cfg.RequestsPerSec,
		})
	}
	return clients
}
