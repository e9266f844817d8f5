package models

import (
	"encoding/json"
	"time"
)

// Source identifies an upstream lottery provider.
type Source string

// Cadence identifies how often a game draws a new issue.
type Cadence string

const (
	SourceWingo  Source = "wingo"
	SourceMzplay Source = "mzplay"

	Cadence30s Cadence = "30s"
	Cadence1m  Cadence = "1m"
)

// ValidSource reports whether s is a known provider tag.
func ValidSource(s Source) bool {
	return s == SourceWingo || s == SourceMzplay
}

// ValidCadence reports whether c is a known cadence tag.
func ValidCadence(c Cadence) bool {
	return c == Cadence30s || c == Cadence1m
}

// GameKey addresses one (source, cadence) game. Timers, source clients
// and accuracy counters are all keyed by it.
type GameKey struct {
	Source  Source  `json:"source"`
	Cadence Cadence `json:"cadence"`
}

// Validate rejects unknown source or cadence tags.
func (k GameKey) Validate() error {
	if !ValidSource(k.Source) {
		return &ValidationError{Field: "source", Value: string(k.Source)}
	}
	if !ValidCadence(k.Cadence) {
		return &ValidationError{Field: "cadence", Value: string(k.Cadence)}
	}
	return nil
}

// Category is the Small/Big bucket a digit falls into.
type Category string

const (
	CategorySmall Category = "Small"
	CategoryBig   Category = "Big"
)

// CategoryOf maps a digit to its bucket: 0-4 Small, 5-9 Big.
func CategoryOf(digit int) Category {
	if digit <= 4 {
		return CategorySmall
	}
	return CategoryBig
}

// Verdict is the resolution state of a prediction.
type Verdict string

const (
	VerdictPending Verdict = "pending"
	VerdictWin     Verdict = "win"
	VerdictLoss    Verdict = "loss"
)

// Prediction is one computed forecast for an upcoming issue.
// The resolution fields are nil until the sweeper finalizes the
// prediction, and are written together exactly once.
type Prediction struct {
	ID        string          `json:"id"`
	Source    Source          `json:"source"`
	Cadence   Cadence         `json:"cadence"`
	Issue     string          `json:"issue"` // target issue number
	Digit     int             `json:"digit"`
	Category  Category        `json:"category"`
	Trace     string          `json:"trace"`
	Raw       json.RawMessage `json:"raw,omitempty"` // provider page snapshot, for audit
	Principal *int64          `json:"principal,omitempty"`
	CreatedAt time.Time       `json:"created_at"`

	ActualDigit    *int       `json:"actual_digit,omitempty"`
	ActualCategory *Category  `json:"actual_category,omitempty"`
	Correct        *bool      `json:"correct,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	Verdict        Verdict    `json:"verdict"`
}

// Resolved reports whether the prediction has been finalized.
func (p *Prediction) Resolved() bool {
	return p.Verdict != VerdictPending
}

// RunState is the lifecycle state of a source's schedule.
type RunState string

const (
	RunStandby RunState = "standby"
	RunActive  RunState = "active"
	RunError   RunState = "error"
)

// RunStatus tracks the schedule of one source. A source runs at most one
// cadence at a time, so the status carries a single cadence slot.
type RunStatus struct {
	Source       Source     `json:"source"`
	State        RunState   `json:"state"`
	Cadence      *Cadence   `json:"cadence,omitempty"`
	LastRun      *time.Time `json:"last_run,omitempty"`
	NextRun      *time.Time `json:"next_run,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
}

// IsRunning reports whether a timer is armed for the source.
func (s *RunStatus) IsRunning() bool {
	return s.State == RunActive
}

// RunStatusUpdate is a partial overwrite of a RunStatus row. Nil fields
// are left untouched; Clear* forces the matching nullable column to NULL.
type RunStatusUpdate struct {
	State        *RunState
	Cadence      *Cadence
	ClearCadence bool
	LastRun      *time.Time
	NextRun      *time.Time
	ClearNextRun bool
	ErrorMessage *string
	ClearError   bool
}

// Apply merges a partial update into the status in place.
func (s *RunStatus) Apply(upd RunStatusUpdate) {
	if upd.State != nil {
		s.State = *upd.State
	}
	if upd.Cadence != nil {
		s.Cadence = upd.Cadence
	}
	if upd.ClearCadence {
		s.Cadence = nil
	}
	if upd.LastRun != nil {
		s.LastRun = upd.LastRun
	}
	if upd.NextRun != nil {
		s.NextRun = upd.NextRun
	}
	if upd.ClearNextRun {
		s.NextRun = nil
	}
	if upd.ErrorMessage != nil {
		s.ErrorMessage = upd.ErrorMessage
	}
	if upd.ClearError {
		s.ErrorMessage = nil
	}
}

// AccuracyCounter aggregates resolved predictions for one principal,
// source and cadence.
type AccuracyCounter struct {
	Principal int64     `json:"principal"`
	Source    Source    `json:"source"`
	Cadence   Cadence   `json:"cadence"`
	Total     int       `json:"total"`
	Correct   int       `json:"correct"`
	WinRate   int       `json:"win_rate"` // round(correct/total*100)
	UpdatedAt time.Time `json:"updated_at"`
}

// Window is one fetched page of recent outcomes, oldest last (provider
// order is preserved as delivered).
type Window struct {
	NextIssue string          `json:"next_issue"` // max(issueNumber)+1
	Digits    []int           `json:"digits"`
	Raw       json.RawMessage `json:"raw"`
}

// EventKind enumerates the notifications published on the bus.
type EventKind string

const (
	EventConnected  EventKind = "connected"
	EventRunStarted EventKind = "run-started"
	EventRunStopped EventKind = "run-stopped"
	EventAllStopped EventKind = "all-stopped"
	EventResult     EventKind = "result"
	EventRunFailed  EventKind = "run-failed"
	EventReconciled EventKind = "reconciled"
)

// Event is the envelope broadcast to subscribers. Delivery is
// best-effort: a disconnected subscriber misses events.
type Event struct {
	Kind       EventKind   `json:"event"`
	Source     Source      `json:"source,omitempty"`
	Cadence    Cadence     `json:"cadence,omitempty"`
	NextRun    *time.Time  `json:"next_run,omitempty"`
	Prediction *Prediction `json:"prediction,omitempty"`
	Error      string      `json:"error,omitempty"`
	At         time.Time   `json:"at"`
}
