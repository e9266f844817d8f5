package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lazzyont7t/Data/models"
)

// Runner executes one prediction run. Implemented by predictor.Engine.
type Runner interface {
	Run(ctx context.Context, key models.GameKey, principal *int64) (*models.Prediction, error)
}

// Scheduler owns one phase-locked timer per (source, cadence) game. A
// source runs at most one cadence at a time: starting a new cadence
// implicitly stops the other one. Firings of one key never overlap; if a
// boundary arrives while the previous run is still in flight, at most
// one firing is queued behind it.
type Scheduler struct {
	runner Runner
	store  models.ResultStore
	bus    models.Publisher
	logger zerolog.Logger
	now    func() time.Time

	// runCtx gates the runs themselves, not the timers: stopping a key
	// cancels future firings but lets an in-flight run finish.
	runCtx context.Context

	mu     sync.Mutex
	timers map[models.GameKey]*timer
}

// timer is one armed key.
type timer struct {
	key       models.GameKey
	principal *int64
	cancel    context.CancelFunc
	trigger   chan struct{} // capacity 1: at most one queued firing
	runMu     sync.Mutex    // serializes runs of this key
}

// New creates a scheduler with no armed timers.
func New(runner Runner, store models.ResultStore, bus models.Publisher) *Scheduler {
	return &Scheduler{
		runner: runner,
		store:  store,
		bus:    bus,
		logger: log.With().Str("component", "scheduler").Logger(),
		now:    time.Now,
		runCtx: context.Background(),
		timers: make(map[models.GameKey]*timer),
	}
}

// NextBoundary returns the first wall-clock trigger time after now for a
// cadence: the 30-second game fires at every :00 and :30 second mark,
// the 1-minute game at every :00. Independently started timers of the
// same cadence therefore always fire in sync.
func NextBoundary(cadence models.Cadence, now time.Time) time.Time {
	step := time.Minute
	if cadence == models.Cadence30s {
		step = 30 * time.Second
	}
	return now.Truncate(step).Add(step)
}

// Start arms the timer for a game, replacing any other cadence armed for
// the same source, and immediately performs one synchronous run so the
// caller sees a result without waiting for the next boundary. The
// immediate run's outcome is returned; a failed run leaves the timer
// armed.
func (s *Scheduler) Start(key models.GameKey, principal *int64) (*models.Prediction, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	// Only one cadence per source: stop whatever else is armed for it.
	for other := range s.timers {
		if other.Source == key.Source {
			s.stopLocked(other, true)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	tm := &timer{
		key:       key,
		principal: principal,
		cancel:    cancel,
		trigger:   make(chan struct{}, 1),
	}
	s.timers[key] = tm

	go s.tickLoop(ctx, tm)
	go s.runLoop(ctx, tm)
	s.mu.Unlock()

	nextRun := NextBoundary(key.Cadence, s.now())
	active := models.RunActive
	cadence := key.Cadence
	if _, err := s.store.UpsertRunStatus(s.runCtx, key.Source, models.RunStatusUpdate{
		State:      &active,
		Cadence:    &cadence,
		NextRun:    &nextRun,
		ClearError: true,
	}); err != nil {
		s.logger.Error().Err(err).Str("source", string(key.Source)).Msg("Failed to mark source active")
	}

	s.logger.Info().
		Str("source", string(key.Source)).
		Str("cadence", string(key.Cadence)).
		Time("next_run", nextRun).
		Msg("Schedule armed")

	s.bus.Publish(models.Event{
		Kind:    models.EventRunStarted,
		Source:  key.Source,
		Cadence: key.Cadence,
		NextRun: &nextRun,
	})

	// Immediate run, serialized against the run loop.
	tm.runMu.Lock()
	defer tm.runMu.Unlock()
	return s.runner.Run(s.runCtx, key, principal)
}

// Stop disarms the timer for the exact key. Stopping a key that is not
// armed is a no-op. An in-flight run is not aborted; only future
// firings are cancelled.
func (s *Scheduler) Stop(key models.GameKey) error {
	if err := key.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	stopped := s.stopLocked(key, true)
	s.mu.Unlock()

	if stopped {
		s.logger.Info().
			Str("source", string(key.Source)).
			Str("cadence", string(key.Cadence)).
			Msg("Schedule disarmed")
	}
	return nil
}

// StopAll disarms every timer and publishes a single all-stopped event.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	for key := range s.timers {
		s.stopLocked(key, false)
	}
	s.mu.Unlock()

	s.logger.Info().Msg("All schedules disarmed")
	s.bus.Publish(models.Event{Kind: models.EventAllStopped})
}

// RunOnce triggers a single run outside the schedule. Timer state is
// untouched.
func (s *Scheduler) RunOnce(ctx context.Context, key models.GameKey, principal *int64) (*models.Prediction, error) {
	return s.runner.Run(ctx, key, principal)
}

// ListActive returns the currently armed keys, ordered for stable
// display.
func (s *Scheduler) ListActive() []models.GameKey {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]models.GameKey, 0, len(s.timers))
	for key := range s.timers {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Source != keys[j].Source {
			return keys[i].Source < keys[j].Source
		}
		return keys[i].Cadence < keys[j].Cadence
	})
	return keys
}

// stopLocked cancels and discards one timer under the held lock. It
// reports whether a timer was actually armed.
func (s *Scheduler) stopLocked(key models.GameKey, publish bool) bool {
	tm, ok := s.timers[key]
	if !ok {
		return false
	}

	tm.cancel()
	delete(s.timers, key)

	standby := models.RunStandby
	if _, err := s.store.UpsertRunStatus(s.runCtx, key.Source, models.RunStatusUpdate{
		State:        &standby,
		ClearCadence: true,
		ClearNextRun: true,
		ClearError:   true,
	}); err != nil {
		s.logger.Error().Err(err).Str("source", string(key.Source)).Msg("Failed to mark source standby")
	}

	if publish {
		s.bus.Publish(models.Event{
			Kind:    models.EventRunStopped,
			Source:  key.Source,
			Cadence: key.Cadence,
		})
	}
	return true
}

// tickLoop waits for each wall-clock boundary and queues a firing. The
// trigger channel holds at most one pending firing; boundaries that
// arrive while one is already queued are skipped.
func (s *Scheduler) tickLoop(ctx context.Context, tm *timer) {
	for {
		next := NextBoundary(tm.key.Cadence, s.now())
		t := time.NewTimer(next.Sub(s.now()))

		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
			select {
			case tm.trigger <- struct{}{}:
			default:
			}

			upcoming := NextBoundary(tm.key.Cadence, s.now())
			if _, err := s.store.UpsertRunStatus(s.runCtx, tm.key.Source, models.RunStatusUpdate{
				NextRun: &upcoming,
			}); err != nil {
				s.logger.Error().Err(err).Str("source", string(tm.key.Source)).Msg("Failed to stamp next run")
			}
		}
	}
}

// runLoop drains queued firings one at a time, so runs of one key never
// overlap.
func (s *Scheduler) runLoop(ctx context.Context, tm *timer) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-tm.trigger:
			tm.runMu.Lock()
			// Errors are already recorded and broadcast by the engine.
			_, _ = s.runner.Run(s.runCtx, tm.key, tm.principal)
			tm.runMu.Unlock()
		}
	}
}
