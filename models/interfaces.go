package models

import "context"

// SourceClient fetches outcomes from one provider endpoint. Four clients
// are configured (two sources x two cadences), all sharing this interface.
type SourceClient interface {
	// FetchWindow returns the recent page of outcomes plus the derived
	// next issue number. Any transport or payload problem comes back as
	// a *FetchError.
	FetchWindow(ctx context.Context) (*Window, error)

	// FetchLatest returns the most recent single outcome (0-9).
	FetchLatest(ctx context.Context) (int, error)
}

// ResultStore is the persistence boundary for predictions, run status
// and accuracy counters.
type ResultStore interface {
	// InsertPrediction stores p, assigning id and creation timestamp if
	// unset, and returns the stored prediction.
	InsertPrediction(ctx context.Context, p *Prediction) (*Prediction, error)

	// ListUnresolved returns up to limit pending predictions, newest
	// first.
	ListUnresolved(ctx context.Context, limit int) ([]*Prediction, error)

	// ListPredictions returns up to limit predictions, newest first,
	// optionally filtered by source and/or owning principal.
	ListPredictions(ctx context.Context, source *Source, limit int, principal *int64) ([]*Prediction, error)

	// FinalizePrediction writes all resolution fields of a pending
	// prediction atomically. It returns false when the id is unknown or
	// the prediction was already resolved; a second finalize never takes
	// effect.
	FinalizePrediction(ctx context.Context, id string, actualDigit int, actualCategory Category, correct bool) (bool, error)

	// GetRunStatus returns the status row for a source, or nil when the
	// source never ran.
	GetRunStatus(ctx context.Context, source Source) (*RunStatus, error)

	// ListRunStatus returns the status rows of every known source.
	ListRunStatus(ctx context.Context) ([]*RunStatus, error)

	// UpsertRunStatus applies a partial update to the source's single
	// status row, creating it on first use.
	UpsertRunStatus(ctx context.Context, source Source, upd RunStatusUpdate) (*RunStatus, error)

	// UpsertAccuracyCounter bumps the (principal, source, cadence)
	// counter by one resolved prediction and recomputes the win rate.
	UpsertAccuracyCounter(ctx context.Context, principal int64, source Source, cadence Cadence, correct bool) error

	// GetAccuracyCounter returns the counter row, or nil when the
	// principal has no resolved predictions for the pair yet.
	GetAccuracyCounter(ctx context.Context, principal int64, source Source, cadence Cadence) (*AccuracyCounter, error)
}

// Publisher is the event fan-out consumed by the engine, scheduler and
// sweeper. Publishing never blocks.
type Publisher interface {
	Publish(ev Event)
}
