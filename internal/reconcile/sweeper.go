package reconcile

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lazzyont7t/Data/models"
)

const (
	// DefaultInterval is how often the sweeper scans for pending
	// predictions.
	DefaultInterval = 2 * time.Minute

	// DefaultPageSize caps how many pending predictions one sweep
	// processes.
	DefaultPageSize = 100
)

// Sweeper periodically resolves pending predictions against the freshly
// drawn outcome. It follows the provider's "latest first" page: every
// pending prediction of a source is settled against the most recent
// outcome, not matched up by issue number.
type Sweeper struct {
	clients  map[models.GameKey]models.SourceClient
	store    models.ResultStore
	bus      models.Publisher
	interval time.Duration
	pageSize int
	logger   zerolog.Logger
	now      func() time.Time
}

// Options holds options for creating a new Sweeper
type Options struct {
	Interval time.Duration
	PageSize int
}

// New creates a sweeper over the configured source clients.
func New(clients map[models.GameKey]models.SourceClient, store models.ResultStore, bus models.Publisher, opts Options) *Sweeper {
	// Apply defaults if not set
	if opts.Interval == 0 {
		opts.Interval = DefaultInterval
	}
	if opts.PageSize == 0 {
		opts.PageSize = DefaultPageSize
	}

	return &Sweeper{
		clients:  clients,
		store:    store,
		bus:      bus,
		interval: opts.Interval,
		pageSize: opts.PageSize,
		logger:   log.With().Str("component", "sweeper").Logger(),
		now:      time.Now,
	}
}

// Run sweeps on a fixed period until ctx is cancelled. The period is
// independent of the per-source schedules.
func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep resolves one page of pending predictions. A failure on one item
// never aborts the rest of the page.
func (s *Sweeper) Sweep(ctx context.Context) {
	pending, err := s.store.ListUnresolved(ctx, s.pageSize)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list pending predictions")
		return
	}
	if len(pending) == 0 {
		return
	}

	s.logger.Debug().Int("pending", len(pending)).Msg("Sweeping")

	for _, p := range pending {
		if err := s.reconcile(ctx, p); err != nil {
			s.logger.Warn().Err(err).
				Str("id", p.ID).
				Str("issue", p.Issue).
				Msg("Skipping prediction this sweep")
		}
	}
}

// reconcile settles one prediction: fetch the latest outcome, write the
// verdict exactly once, bump the owner's accuracy counter, broadcast.
func (s *Sweeper) reconcile(ctx context.Context, p *models.Prediction) error {
	client, ok := s.clients[models.GameKey{Source: p.Source, Cadence: p.Cadence}]
	if !ok {
		return &models.ValidationError{Field: "game", Value: string(p.Source) + "/" + string(p.Cadence)}
	}

	outcome, err := client.FetchLatest(ctx)
	if err != nil {
		return err
	}

	actualCategory := models.CategoryOf(outcome)
	correct := p.Category == actualCategory

	ok, err = s.store.FinalizePrediction(ctx, p.ID, outcome, actualCategory, correct)
	if err != nil {
		return err
	}
	if !ok {
		// Already resolved by a concurrent sweep; nothing to publish.
		return nil
	}

	if p.Principal != nil {
		if err := s.store.UpsertAccuracyCounter(ctx, *p.Principal, p.Source, p.Cadence, correct); err != nil {
			s.logger.Error().Err(err).
				Int64("principal", *p.Principal).
				Msg("Failed to update accuracy counter")
		}
	}

	now := s.now().UTC()
	p.ActualDigit = &outcome
	p.ActualCategory = &actualCategory
	p.Correct = &correct
	p.ResolvedAt = &now
	if correct {
		p.Verdict = models.VerdictWin
	} else {
		p.Verdict = models.VerdictLoss
	}

	s.logger.Info().
		Str("id", p.ID).
		Str("source", string(p.Source)).
		Str("issue", p.Issue).
		Int("outcome", outcome).
		Str("verdict", string(p.Verdict)).
		Msg("Prediction reconciled")

	s.bus.Publish(models.Event{
		Kind:       models.EventReconciled,
		Source:     p.Source,
		Cadence:    p.Cadence,
		Prediction: p,
	})

	return nil
}
