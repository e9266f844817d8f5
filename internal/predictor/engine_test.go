package predictor

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/lazzyont7t/Data/internal/database"
	"github.com/lazzyont7t/Data/models"
)

type stubClient struct {
	window   *models.Window
	latest   int
	fetchErr error
}

func (c *stubClient) FetchWindow(context.Context) (*models.Window, error) {
	if c.fetchErr != nil {
		return nil, c.fetchErr
	}
	return c.window, nil
}

func (c *stubClient) FetchLatest(context.Context) (int, error) {
	if c.fetchErr != nil {
		return 0, c.fetchErr
	}
	return c.latest, nil
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

var wingo30s = models.GameKey{Source: models.SourceWingo, Cadence: models.Cadence30s}

func newEngine(client models.SourceClient) (*Engine, *database.MemoryStore, *recordingBus) {
	store := database.NewMemoryStore()
	rec := &recordingBus{}
	clients := map[models.GameKey]models.SourceClient{wingo30s: client}
	return New(clients, store, rec), store, rec
}

func TestRunSuccess(t *testing.T) {
	ctx := context.Background()
	client := &stubClient{window: &models.Window{
		NextIssue: "20250816100054",
		Digits:    []int{5, 7, 2, 9, 3, 1},
		Raw:       []byte(`{}`),
	}}
	engine, store, rec := newEngine(client)

	principal := int64(7)
	p, err := engine.Run(ctx, wingo30s, &principal)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// Формула: (7+5)*1=12 -> 3, Small.
	if p.Digit != 3 || p.Category != models.CategorySmall {
		t.Errorf("prediction = %d %s, want 3 Small", p.Digit, p.Category)
	}
	if p.Issue != "20250816100054" {
		t.Errorf("Issue = %s", p.Issue)
	}
	if p.Verdict != models.VerdictPending {
		t.Errorf("Verdict = %s, want pending", p.Verdict)
	}
	if p.ID == "" {
		t.Error("prediction not assigned an id")
	}
	if p.Principal == nil || *p.Principal != 7 {
		t.Errorf("Principal = %v, want 7", p.Principal)
	}

	stored, err := store.ListPredictions(ctx, nil, 10, nil)
	if err != nil {
		t.Fatalf("ListPredictions() error = %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("stored %d predictions, want 1", len(stored))
	}

	kinds := rec.kinds()
	if len(kinds) != 1 || kinds[0] != models.EventResult {
		t.Errorf("events = %v, want [result]", kinds)
	}

	status, err := store.GetRunStatus(ctx, models.SourceWingo)
	if err != nil {
		t.Fatalf("GetRunStatus() error = %v", err)
	}
	if status == nil || status.LastRun == nil {
		t.Fatal("run status not stamped")
	}
}

func TestRunFetchFailure(t *testing.T) {
	ctx := context.Background()
	fetchErr := &models.FetchError{Source: models.SourceWingo, Cadence: models.Cadence30s, Reason: "HTTP request failed"}
	engine, store, rec := newEngine(&stubClient{fetchErr: fetchErr})

	p, err := engine.Run(ctx, wingo30s, nil)
	if p != nil {
		t.Fatal("prediction created despite fetch failure")
	}
	var fe *models.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("error = %v, want FetchError", err)
	}

	// Запись не создана, статус помечен ошибкой, событие опубликовано.
	stored, _ := store.ListPredictions(ctx, nil, 10, nil)
	if len(stored) != 0 {
		t.Errorf("stored %d predictions, want 0", len(stored))
	}

	status, _ := store.GetRunStatus(ctx, models.SourceWingo)
	if status == nil || status.State != models.RunError {
		t.Fatalf("status = %+v, want error state", status)
	}
	if status.ErrorMessage == nil || *status.ErrorMessage == "" {
		t.Error("error message not recorded")
	}

	kinds := rec.kinds()
	if len(kinds) != 1 || kinds[0] != models.EventRunFailed {
		t.Errorf("events = %v, want [run-failed]", kinds)
	}
}

func TestRunRecoversErrorState(t *testing.T) {
	ctx := context.Background()
	client := &stubClient{fetchErr: &models.FetchError{Source: models.SourceWingo, Cadence: models.Cadence30s, Reason: "down"}}
	engine, store, _ := newEngine(client)

	// Вооружённый таймер: cadence записан, затем сбой.
	active := models.RunActive
	cadence := models.Cadence30s
	if _, err := store.UpsertRunStatus(ctx, models.SourceWingo, models.RunStatusUpdate{State: &active, Cadence: &cadence}); err != nil {
		t.Fatalf("UpsertRunStatus() error = %v", err)
	}
	if _, err := engine.Run(ctx, wingo30s, nil); err == nil {
		t.Fatal("expected fetch error")
	}

	status, _ := store.GetRunStatus(ctx, models.SourceWingo)
	if status.State != models.RunError {
		t.Fatalf("State = %s, want error", status.State)
	}

	// Следующий успешный прогон возвращает статус в active.
	client.fetchErr = nil
	client.window = &models.Window{NextIssue: "101", Digits: []int{1, 2, 3}}
	if _, err := engine.Run(ctx, wingo30s, nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	status, _ = store.GetRunStatus(ctx, models.SourceWingo)
	if status.State != models.RunActive {
		t.Errorf("State = %s, want active", status.State)
	}
	if status.ErrorMessage != nil {
		t.Errorf("ErrorMessage = %v, want cleared", *status.ErrorMessage)
	}
}

func TestRunUnknownGame(t *testing.T) {
	engine, store, rec := newEngine(&stubClient{})

	tests := []struct {
		name string
		key  models.GameKey
	}{
		{"Неизвестный источник", models.GameKey{Source: "lotto", Cadence: models.Cadence30s}},
		{"Неизвестный темп", models.GameKey{Source: models.SourceWingo, Cadence: "5s"}},
		{"Ненастроенная игра", models.GameKey{Source: models.SourceMzplay, Cadence: models.Cadence1m}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Run(context.Background(), tt.key, nil)
			var ve *models.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("error = %v, want ValidationError", err)
			}
		})
	}

	// Отказ до любых изменений состояния.
	statuses, _ := store.ListRunStatus(context.Background())
	if len(statuses) != 0 {
		t.Errorf("run status mutated on validation failure: %+v", statuses)
	}
	if len(rec.kinds()) != 0 {
		t.Errorf("events published on validation failure: %v", rec.kinds())
	}
}
