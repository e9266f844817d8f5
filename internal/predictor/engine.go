package predictor

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lazzyont7t/Data/internal/calculate"
	"github.com/lazzyont7t/Data/models"
)

// Engine orchestrates one prediction run: fetch the window, derive the
// digit, persist the prediction, broadcast the result.
type Engine struct {
	clients map[models.GameKey]models.SourceClient
	store   models.ResultStore
	bus     models.Publisher
	logger  zerolog.Logger
	now     func() time.Time
}

// New creates an engine over the configured source clients.
func New(clients map[models.GameKey]models.SourceClient, store models.ResultStore, bus models.Publisher) *Engine {
	return &Engine{
		clients: clients,
		store:   store,
		bus:     bus,
		logger:  log.With().Str("component", "engine").Logger(),
		now:     time.Now,
	}
}

// Run executes one prediction for the given game. On fetch failure no
// prediction is created: the run status records the error and a
// run-failed event is published. Either way the source's run status is
// written exactly once.
func (e *Engine) Run(ctx context.Context, key models.GameKey, principal *int64) (*models.Prediction, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	client, ok := e.clients[key]
	if !ok {
		return nil, &models.ValidationError{Field: "game", Value: string(key.Source) + "/" + string(key.Cadence)}
	}

	// Read before the fetch so a success can lift a previous error state
	// back to active while the timer is still armed.
	prev, err := e.store.GetRunStatus(ctx, key.Source)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()

	window, err := client.FetchWindow(ctx)
	if err != nil {
		return nil, e.fail(ctx, key, now, err)
	}

	result, err := calculate.Compute(window.Digits)
	if err != nil {
		fetchErr := &models.FetchError{Source: key.Source, Cadence: key.Cadence, Reason: "unusable window", Err: err}
		return nil, e.fail(ctx, key, now, fetchErr)
	}

	p := &models.Prediction{
		Source:    key.Source,
		Cadence:   key.Cadence,
		Issue:     window.NextIssue,
		Digit:     result.Digit,
		Category:  result.Category,
		Trace:     result.Trace,
		Raw:       window.Raw,
		Principal: principal,
		CreatedAt: now,
		Verdict:   models.VerdictPending,
	}

	p, err = e.store.InsertPrediction(ctx, p)
	if err != nil {
		e.logger.Error().Err(err).Str("source", string(key.Source)).Msg("Failed to persist prediction")
		return nil, e.fail(ctx, key, now, err)
	}

	upd := models.RunStatusUpdate{LastRun: &now, ClearError: true}
	if prev != nil && prev.State == models.RunError && prev.Cadence != nil && *prev.Cadence == key.Cadence {
		active := models.RunActive
		upd.State = &active
	}
	if _, err := e.store.UpsertRunStatus(ctx, key.Source, upd); err != nil {
		e.logger.Error().Err(err).Str("source", string(key.Source)).Msg("Failed to update run status")
	}

	e.logger.Info().
		Str("source", string(key.Source)).
		Str("cadence", string(key.Cadence)).
		Str("issue", p.Issue).
		Int("digit", p.Digit).
		Str("category", string(p.Category)).
		Msg("Prediction computed")

	e.bus.Publish(models.Event{
		Kind:       models.EventResult,
		Source:     key.Source,
		Cadence:    key.Cadence,
		Prediction: p,
	})

	return p, nil
}

// fail records the single run status write for a failed run and
// publishes the run-failed event. It returns runErr unchanged.
func (e *Engine) fail(ctx context.Context, key models.GameKey, now time.Time, runErr error) error {
	e.logger.Error().Err(runErr).
		Str("source", string(key.Source)).
		Str("cadence", string(key.Cadence)).
		Msg("Run failed")

	errState := models.RunError
	msg := runErr.Error()
	if _, err := e.store.UpsertRunStatus(ctx, key.Source, models.RunStatusUpdate{
		State:        &errState,
		LastRun:      &now,
		ErrorMessage: &msg,
	}); err != nil {
		e.logger.Error().Err(err).Str("source", string(key.Source)).Msg("Failed to update run status")
	}

	e.bus.Publish(models.Event{
		Kind:    models.EventRunFailed,
		Source:  key.Source,
		Cadence: key.Cadence,
		Error:   msg,
	})

	return runErr
}
