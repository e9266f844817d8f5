package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lazzyont7t/Data/internal/bus"
	wsHub "github.com/lazzyont7t/Data/internal/ws"
	"github.com/lazzyont7t/Data/models"
)

// startHub starts a test HTTP server with the hub as its handler. The
// hub's Run loop is started with a cancellable context. Returns the
// ws:// URL and the event bus feeding the hub.
func startHub(t *testing.T) (wsURL string, b *bus.Bus) {
	t.Helper()

	b = bus.New()
	hub := wsHub.New(b)
	ctx, cancel := context.WithCancel(context.Background())

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	go hub.Run(ctx)

	// Wait until the hub has subscribed so no published event is lost.
	deadline := time.Now().Add(2 * time.Second)
	for b.Count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("hub never subscribed to the bus")
		}
		time.Sleep(5 * time.Millisecond)
	}

	t.Cleanup(func() {
		cancel()
		srv.Close()
		b.Close()
	})

	return "ws" + strings.TrimPrefix(srv.URL, "http"), b
}

func readEvent(t *testing.T, conn *websocket.Conn) models.Event {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}

	var ev models.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("Unmarshal(%s) error = %v", data, err)
	}
	return ev
}

func TestConnectedHello(t *testing.T) {
	wsURL, _ := startHub(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	ev := readEvent(t, conn)
	if ev.Kind != models.EventConnected {
		t.Errorf("first event = %s, want connected", ev.Kind)
	}
}

func TestBusEventsForwarded(t *testing.T) {
	wsURL, b := startHub(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	if ev := readEvent(t, conn); ev.Kind != models.EventConnected {
		t.Fatalf("first event = %s, want connected", ev.Kind)
	}

	b.Publish(models.Event{
		Kind:    models.EventResult,
		Source:  models.SourceWingo,
		Cadence: models.Cadence30s,
		Prediction: &models.Prediction{
			ID:       "p1",
			Source:   models.SourceWingo,
			Cadence:  models.Cadence30s,
			Issue:    "101",
			Digit:    3,
			Category: models.CategorySmall,
			Verdict:  models.VerdictPending,
		},
	})

	ev := readEvent(t, conn)
	if ev.Kind != models.EventResult {
		t.Fatalf("event = %s, want result", ev.Kind)
	}
	if ev.Prediction == nil || ev.Prediction.ID != "p1" || ev.Prediction.Verdict != models.VerdictPending {
		t.Errorf("prediction = %+v", ev.Prediction)
	}
}
