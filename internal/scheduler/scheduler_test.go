package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lazzyont7t/Data/internal/database"
	"github.com/lazzyont7t/Data/models"
)

type countingRunner struct {
	mu    sync.Mutex
	calls []models.GameKey
}

func (r *countingRunner) Run(_ context.Context, key models.GameKey, _ *int64) (*models.Prediction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, key)
	return &models.Prediction{Source: key.Source, Cadence: key.Cadence, Verdict: models.VerdictPending}, nil
}

func (r *countingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type recordingBus struct {
	mu     sync.Mutex
	events []models.Event
}

func (b *recordingBus) Publish(ev models.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

func (b *recordingBus) kinds() []models.EventKind {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.EventKind, len(b.events))
	for i, ev := range b.events {
		out[i] = ev.Kind
	}
	return out
}

var (
	wingo30s = models.GameKey{Source: models.SourceWingo, Cadence: models.Cadence30s}
	wingo1m  = models.GameKey{Source: models.SourceWingo, Cadence: models.Cadence1m}
	mzplay1m = models.GameKey{Source: models.SourceMzplay, Cadence: models.Cadence1m}
)

func newScheduler() (*Scheduler, *countingRunner, *database.MemoryStore, *recordingBus) {
	runner := &countingRunner{}
	store := database.NewMemoryStore()
	rec := &recordingBus{}
	return New(runner, store, rec), runner, store, rec
}

func TestNextBoundary(t *testing.T) {
	base := time.Date(2025, 8, 16, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		cadence models.Cadence
		now     time.Time
		want    time.Time
	}{
		{"30s до середины минуты", models.Cadence30s, base.Add(10 * time.Second), base.Add(30 * time.Second)},
		{"30s после середины минуты", models.Cadence30s, base.Add(45 * time.Second), base.Add(time.Minute)},
		{"30s ровно на границе", models.Cadence30s, base.Add(30 * time.Second), base.Add(time.Minute)},
		{"30s в начале минуты", models.Cadence30s, base, base.Add(30 * time.Second)},
		{"1m в середине минуты", models.Cadence1m, base.Add(10 * time.Second), base.Add(time.Minute)},
		{"1m ровно на границе", models.Cadence1m, base, base.Add(time.Minute)},
		{"1m с наносекундами", models.Cadence1m, base.Add(59*time.Second + 999*time.Millisecond), base.Add(time.Minute)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextBoundary(tt.cadence, tt.now)
			if !got.Equal(tt.want) {
				t.Errorf("NextBoundary(%s, %s) = %s, want %s", tt.cadence, tt.now, got, tt.want)
			}
		})
	}
}

func TestNextBoundaryPhaseLock(t *testing.T) {
	// Таймеры одной каденции, запущенные в разные моменты, сходятся в
	// одну и ту же границу.
	a := time.Date(2025, 8, 16, 12, 0, 3, 0, time.UTC)
	b := time.Date(2025, 8, 16, 12, 0, 17, 500_000_000, time.UTC)

	if !NextBoundary(models.Cadence30s, a).Equal(NextBoundary(models.Cadence30s, b)) {
		t.Error("independently started 30s timers disagree on the boundary")
	}
}

func TestStartArmsAndRunsImmediately(t *testing.T) {
	s, runner, store, rec := newScheduler()
	defer s.StopAll()

	p, err := s.Start(wingo30s, nil)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if p == nil || p.Verdict != models.VerdictPending {
		t.Fatalf("immediate run result = %+v", p)
	}
	if runner.count() != 1 {
		t.Errorf("runner called %d times, want 1", runner.count())
	}

	active := s.ListActive()
	if len(active) != 1 || active[0] != wingo30s {
		t.Errorf("ListActive() = %v, want [%v]", active, wingo30s)
	}

	status, _ := store.GetRunStatus(context.Background(), models.SourceWingo)
	if status == nil || !status.IsRunning() {
		t.Fatalf("status = %+v, want active", status)
	}
	if status.Cadence == nil || *status.Cadence != models.Cadence30s {
		t.Errorf("Cadence = %v, want 30s", status.Cadence)
	}
	if status.NextRun == nil {
		t.Error("NextRun not stamped")
	}

	kinds := rec.kinds()
	if len(kinds) == 0 || kinds[0] != models.EventRunStarted {
		t.Errorf("events = %v, want run-started first", kinds)
	}
}

func TestStartTwiceLeavesOneTimer(t *testing.T) {
	s, runner, _, _ := newScheduler()
	defer s.StopAll()

	if _, err := s.Start(wingo30s, nil); err != nil {
		t.Fatalf("first Start() error = %v", err)
	}
	if _, err := s.Start(wingo30s, nil); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}

	active := s.ListActive()
	if len(active) != 1 || active[0] != wingo30s {
		t.Errorf("ListActive() = %v, want exactly one armed key", active)
	}
	if runner.count() != 2 {
		t.Errorf("runner called %d times, want 2 immediate runs", runner.count())
	}
}

func TestStartReplacesOtherCadence(t *testing.T) {
	s, _, store, rec := newScheduler()
	defer s.StopAll()

	if _, err := s.Start(wingo30s, nil); err != nil {
		t.Fatalf("Start(30s) error = %v", err)
	}
	if _, err := s.Start(wingo1m, nil); err != nil {
		t.Fatalf("Start(1m) error = %v", err)
	}

	// Для источника может быть вооружена только одна каденция.
	active := s.ListActive()
	if len(active) != 1 || active[0] != wingo1m {
		t.Errorf("ListActive() = %v, want [%v]", active, wingo1m)
	}

	status, _ := store.GetRunStatus(context.Background(), models.SourceWingo)
	if status.Cadence == nil || *status.Cadence != models.Cadence1m {
		t.Errorf("Cadence = %v, want 1m", status.Cadence)
	}

	var sawStopped bool
	for _, kind := range rec.kinds() {
		if kind == models.EventRunStopped {
			sawStopped = true
		}
	}
	if !sawStopped {
		t.Error("run-stopped not published for the replaced cadence")
	}
}

func TestTwoSourcesRunIndependently(t *testing.T) {
	s, _, _, _ := newScheduler()
	defer s.StopAll()

	if _, err := s.Start(wingo30s, nil); err != nil {
		t.Fatalf("Start(wingo) error = %v", err)
	}
	if _, err := s.Start(mzplay1m, nil); err != nil {
		t.Fatalf("Start(mzplay) error = %v", err)
	}

	active := s.ListActive()
	if len(active) != 2 {
		t.Fatalf("ListActive() = %v, want both sources armed", active)
	}
}

func TestStopNeverStartedKey(t *testing.T) {
	s, _, _, rec := newScheduler()

	if err := s.Stop(wingo30s); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if len(rec.kinds()) != 0 {
		t.Errorf("events = %v, want none for no-op stop", rec.kinds())
	}
}

func TestStopDisarms(t *testing.T) {
	s, _, store, rec := newScheduler()

	if _, err := s.Start(wingo30s, nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Stop(wingo30s); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if len(s.ListActive()) != 0 {
		t.Errorf("ListActive() = %v, want empty", s.ListActive())
	}

	status, _ := store.GetRunStatus(context.Background(), models.SourceWingo)
	if status.IsRunning() || status.Cadence != nil || status.NextRun != nil {
		t.Errorf("status not reset: %+v", status)
	}

	kinds := rec.kinds()
	if kinds[len(kinds)-1] != models.EventRunStopped {
		t.Errorf("events = %v, want run-stopped last", kinds)
	}
}

func TestStopAll(t *testing.T) {
	s, _, _, rec := newScheduler()

	if _, err := s.Start(wingo30s, nil); err != nil {
		t.Fatalf("Start(wingo) error = %v", err)
	}
	if _, err := s.Start(mzplay1m, nil); err != nil {
		t.Fatalf("Start(mzplay) error = %v", err)
	}

	s.StopAll()

	if len(s.ListActive()) != 0 {
		t.Errorf("ListActive() = %v, want empty", s.ListActive())
	}

	kinds := rec.kinds()
	last := kinds[len(kinds)-1]
	if last != models.EventAllStopped {
		t.Errorf("last event = %s, want all-stopped", last)
	}
	for _, kind := range kinds {
		if kind == models.EventRunStopped {
			t.Error("StopAll published per-key run-stopped events")
		}
	}
}

func TestRunOnceBypassesTimers(t *testing.T) {
	s, runner, store, _ := newScheduler()

	if _, err := s.RunOnce(context.Background(), wingo30s, nil); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if runner.count() != 1 {
		t.Errorf("runner called %d times, want 1", runner.count())
	}
	if len(s.ListActive()) != 0 {
		t.Errorf("ListActive() = %v, want empty after RunOnce", s.ListActive())
	}

	// RunOnce не трогает машину состояний расписания.
	status, _ := store.GetRunStatus(context.Background(), models.SourceWingo)
	if status != nil && status.IsRunning() {
		t.Errorf("status = %+v, want not running", status)
	}
}

type slowRunner struct {
	delay time.Duration

	mu          sync.Mutex
	inFlight    int
	maxInFlight int
	total       int
}

func (r *slowRunner) Run(_ context.Context, key models.GameKey, _ *int64) (*models.Prediction, error) {
	r.mu.Lock()
	r.inFlight++
	if r.inFlight > r.maxInFlight {
		r.maxInFlight = r.inFlight
	}
	r.mu.Unlock()

	time.Sleep(r.delay)

	r.mu.Lock()
	r.inFlight--
	r.total++
	r.mu.Unlock()
	return &models.Prediction{Source: key.Source, Cadence: key.Cadence, Verdict: models.VerdictPending}, nil
}

func (r *slowRunner) stats() (maxInFlight, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxInFlight, r.total
}

func TestFiringsNeverOverlap(t *testing.T) {
	runner := &slowRunner{delay: 50 * time.Millisecond}
	store := database.NewMemoryStore()
	s := New(runner, store, &recordingBus{})
	defer s.StopAll()

	if _, err := s.Start(wingo30s, nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	s.mu.Lock()
	tm := s.timers[wingo30s]
	s.mu.Unlock()
	if tm == nil {
		t.Fatal("timer not armed")
	}

	// Срабатывания приходят чаще, чем успевает прогон: лишние должны
	// схлопываться в одно отложенное.
	const firings = 10
	for i := 0; i < firings; i++ {
		select {
		case tm.trigger <- struct{}{}:
		default:
		}
		time.Sleep(20 * time.Millisecond)
	}

	// Даём очереди осушиться.
	time.Sleep(3 * runner.delay)

	maxInFlight, total := runner.stats()
	if maxInFlight != 1 {
		t.Errorf("max concurrent runs = %d, want 1", maxInFlight)
	}
	// Немедленный прогон плюс схлопнутые срабатывания: строго меньше,
	// чем один прогон на каждое срабатывание.
	if total < 2 || total >= firings+1 {
		t.Errorf("total runs = %d, want collapsed into [2, %d)", total, firings+1)
	}
}

func TestStartUnknownTags(t *testing.T) {
	s, runner, _, _ := newScheduler()

	if _, err := s.Start(models.GameKey{Source: "lotto", Cadence: models.Cadence30s}, nil); err == nil {
		t.Error("expected validation error for unknown source")
	}
	if err := s.Stop(models.GameKey{Source: models.SourceWingo, Cadence: "2h"}); err == nil {
		t.Error("expected validation error for unknown cadence")
	}
	if runner.count() != 0 {
		t.Errorf("runner called %d times, want 0", runner.count())
	}
}
