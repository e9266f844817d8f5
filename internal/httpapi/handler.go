package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lazzyont7t/Data/internal/scheduler"
	"github.com/lazzyont7t/Data/models"
)

const (
	// defaultListLimit caps result listings when the caller does not
	// pass an explicit limit.
	defaultListLimit = 50
	// maxListLimit is the hard ceiling for an explicit limit, so one
	// request cannot pull the whole table.
	maxListLimit = 500
)

// Handler is the HTTP handler for all /api/v1/* endpoints: the command
// surface (start/stop/once) plus read access to results and status.
type Handler struct {
	sched  *scheduler.Scheduler
	store  models.ResultStore
	logger zerolog.Logger
	mux    *http.ServeMux
}

// New creates a Handler wired to the scheduler and store and registers
// all routes.
func New(sched *scheduler.Scheduler, store models.ResultStore) http.Handler {
	h := &Handler{
		sched:  sched,
		store:  store,
		logger: log.With().Str("component", "httpapi").Logger(),
		mux:    http.NewServeMux(),
	}

	h.mux.HandleFunc("/api/v1/start", h.start)
	h.mux.HandleFunc("/api/v1/stop", h.stop)
	h.mux.HandleFunc("/api/v1/stopall", h.stopAll)
	h.mux.HandleFunc("/api/v1/once", h.runOnce)
	h.mux.HandleFunc("/api/v1/active", h.listActive)
	h.mux.HandleFunc("/api/v1/results", h.listResults)
	h.mux.HandleFunc("/api/v1/status", h.listStatus)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// commandRequest is the POST body shared by start/stop/once.
type commandRequest struct {
	Source    string `json:"source"`
	Cadence   string `json:"cadence"`
	Principal *int64 `json:"principal,omitempty"`
}

func (req commandRequest) key() models.GameKey {
	return models.GameKey{Source: models.Source(req.Source), Cadence: models.Cadence(req.Cadence)}
}

// --- route handlers ---------------------------------------------------------

// start arms POST /api/v1/start and returns the immediate run's prediction.
func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	req, ok := h.command(w, r)
	if !ok {
		return
	}

	p, err := h.sched.Start(req.key(), req.Principal)
	if err != nil {
		h.commandErr(w, err)
		return
	}
	jsonResp(w, http.StatusOK, p)
}

// stop disarms POST /api/v1/stop.
func (h *Handler) stop(w http.ResponseWriter, r *http.Request) {
	req, ok := h.command(w, r)
	if !ok {
		return
	}

	if err := h.sched.Stop(req.key()); err != nil {
		h.commandErr(w, err)
		return
	}
	jsonResp(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// stopAll disarms every timer on POST /api/v1/stopall.
func (h *Handler) stopAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	h.sched.StopAll()
	jsonResp(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// runOnce triggers POST /api/v1/once, one run outside the schedule.
func (h *Handler) runOnce(w http.ResponseWriter, r *http.Request) {
	req, ok := h.command(w, r)
	if !ok {
		return
	}

	p, err := h.sched.RunOnce(r.Context(), req.key(), req.Principal)
	if err != nil {
		h.commandErr(w, err)
		return
	}
	jsonResp(w, http.StatusOK, p)
}

// listActive returns GET /api/v1/active, the currently armed keys.
func (h *Handler) listActive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	jsonResp(w, http.StatusOK, h.sched.ListActive())
}

// listResults serves GET /api/v1/results?source=&limit=&principal=:
// recent predictions, newest first.
func (h *Handler) listResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var source *models.Source
	if raw := r.URL.Query().Get("source"); raw != "" {
		s := models.Source(raw)
		if !models.ValidSource(s) {
			jsonErr(w, http.StatusBadRequest, "unknown source")
			return
		}
		source = &s
	}

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			jsonErr(w, http.StatusBadRequest, "invalid limit")
			return
		}
		if v > maxListLimit {
			v = maxListLimit
		}
		limit = v
	}

	var principal *int64
	if raw := r.URL.Query().Get("principal"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			jsonErr(w, http.StatusBadRequest, "invalid principal")
			return
		}
		principal = &v
	}

	results, err := h.store.ListPredictions(r.Context(), source, limit, principal)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list predictions")
		jsonErr(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	if results == nil {
		results = []*models.Prediction{}
	}
	jsonResp(w, http.StatusOK, results)
}

// listStatus returns GET /api/v1/status, run status of every source.
func (h *Handler) listStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	statuses, err := h.store.ListRunStatus(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list run status")
		jsonErr(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	if statuses == nil {
		statuses = []*models.RunStatus{}
	}
	jsonResp(w, http.StatusOK, statuses)
}

// --- helpers ----------------------------------------------------------------

// command decodes the shared POST body, writing the error response
// itself when the request is unusable.
func (h *Handler) command(w http.ResponseWriter, r *http.Request) (commandRequest, bool) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return commandRequest{}, false
	}

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid JSON body")
		return commandRequest{}, false
	}
	return req, true
}

// commandErr maps the error taxonomy onto HTTP status codes.
func (h *Handler) commandErr(w http.ResponseWriter, err error) {
	var ve *models.ValidationError
	var nf *models.NotFoundError
	var fe *models.FetchError

	switch {
	case errors.As(err, &ve):
		jsonErr(w, http.StatusBadRequest, ve.Error())
	case errors.As(err, &nf):
		jsonErr(w, http.StatusNotFound, nf.Error())
	case errors.As(err, &fe):
		jsonErr(w, http.StatusBadGateway, fe.Error())
	default:
		h.logger.Error().Err(err).Msg("Command failed")
		jsonErr(w, http.StatusInternalServerError, err.Error())
	}
}

func jsonResp(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, map[string]string{"error": msg})
}
