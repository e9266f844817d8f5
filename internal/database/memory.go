package database

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lazzyont7t/Data/models"
)

// MemoryStore is an in-memory ResultStore. It backs tests and DB-less
// runs; the single mutex serializes every write, which also gives the
// per-id finalize guarantee.
type MemoryStore struct {
	mu          sync.RWMutex
	predictions map[string]*models.Prediction
	order       []string // insertion order, oldest first
	statuses    map[models.Source]*models.RunStatus
	counters    map[counterKey]*models.AccuracyCounter
}

type counterKey struct {
	principal int64
	source    models.Source
	cadence   models.Cadence
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		predictions: make(map[string]*models.Prediction),
		statuses:    make(map[models.Source]*models.RunStatus),
		counters:    make(map[counterKey]*models.AccuracyCounter),
	}
}

// InsertPrediction stores a copy of p, assigning id and creation
// timestamp if unset.
func (s *MemoryStore) InsertPrediction(_ context.Context, p *models.Prediction) (*models.Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.Verdict == "" {
		p.Verdict = models.VerdictPending
	}

	stored := clonePrediction(p)
	s.predictions[stored.ID] = stored
	s.order = append(s.order, stored.ID)

	return clonePrediction(stored), nil
}

// ListUnresolved returns up to limit pending predictions, newest first.
func (s *MemoryStore) ListUnresolved(_ context.Context, limit int) ([]*models.Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Prediction
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		p := s.predictions[s.order[i]]
		if p.Verdict == models.VerdictPending {
			out = append(out, clonePrediction(p))
		}
	}
	return out, nil
}

// ListPredictions returns up to limit predictions, newest first,
// optionally filtered by source and/or owning principal.
func (s *MemoryStore) ListPredictions(_ context.Context, source *models.Source, limit int, principal *int64) ([]*models.Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Prediction
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		p := s.predictions[s.order[i]]
		if source != nil && p.Source != *source {
			continue
		}
		if principal != nil && (p.Principal == nil || *p.Principal != *principal) {
			continue
		}
		out = append(out, clonePrediction(p))
	}
	return out, nil
}

// FinalizePrediction writes the resolution fields of a pending
// prediction exactly once.
func (s *MemoryStore) FinalizePrediction(_ context.Context, id string, actualDigit int, actualCategory models.Category, correct bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.predictions[id]
	if !ok || p.Verdict != models.VerdictPending {
		return false, nil
	}

	now := time.Now().UTC()
	p.ActualDigit = &actualDigit
	p.ActualCategory = &actualCategory
	p.Correct = &correct
	p.ResolvedAt = &now
	if correct {
		p.Verdict = models.VerdictWin
	} else {
		p.Verdict = models.VerdictLoss
	}
	return true, nil
}

// GetRunStatus retrieves the status of a source, or nil when unknown.
func (s *MemoryStore) GetRunStatus(_ context.Context, source models.Source) (*models.RunStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status, ok := s.statuses[source]
	if !ok {
		return nil, nil
	}
	clone := *status
	return &clone, nil
}

// ListRunStatus returns the status rows of every known source.
func (s *MemoryStore) ListRunStatus(_ context.Context) ([]*models.RunStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.RunStatus, 0, len(s.statuses))
	for _, status := range s.statuses {
		clone := *status
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out, nil
}

// UpsertRunStatus applies a partial update to the source's status row.
func (s *MemoryStore) UpsertRunStatus(_ context.Context, source models.Source, upd models.RunStatusUpdate) (*models.RunStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status, ok := s.statuses[source]
	if !ok {
		status = &models.RunStatus{Source: source, State: models.RunStandby}
		s.statuses[source] = status
	}
	status.Apply(upd)

	clone := *status
	return &clone, nil
}

// UpsertAccuracyCounter bumps the counter by one resolved prediction.
func (s *MemoryStore) UpsertAccuracyCounter(_ context.Context, principal int64, source models.Source, cadence models.Cadence, correct bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := counterKey{principal: principal, source: source, cadence: cadence}
	c, ok := s.counters[key]
	if !ok {
		c = &models.AccuracyCounter{Principal: principal, Source: source, Cadence: cadence}
		s.counters[key] = c
	}

	c.Total++
	if correct {
		c.Correct++
	}
	c.WinRate = int(math.Round(float64(c.Correct) / float64(c.Total) * 100))
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// GetAccuracyCounter retrieves a counter, or nil when the principal has
// no resolved predictions for the pair yet.
func (s *MemoryStore) GetAccuracyCounter(_ context.Context, principal int64, source models.Source, cadence models.Cadence) (*models.AccuracyCounter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.counters[counterKey{principal: principal, source: source, cadence: cadence}]
	if !ok {
		return nil, nil
	}
	clone := *c
	return &clone, nil
}

func clonePrediction(p *models.Prediction) *models.Prediction {
	clone := *p
	if p.Principal != nil {
		v := *p.Principal
		clone.Principal = &v
	}
	if p.ActualDigit != nil {
		v := *p.ActualDigit
		clone.ActualDigit = &v
	}
	if p.ActualCategory != nil {
		v := *p.ActualCategory
		clone.ActualCategory = &v
	}
	if p.Correct != nil {
		v := *p.Correct
		clone.Correct = &v
	}
	if p.ResolvedAt != nil {
		v := *p.ResolvedAt
		clone.ResolvedAt = &v
	}
	return &clone
}
