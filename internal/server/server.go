// Package server exposes the forecast service over HTTP: scenario-driven
// forecast invocations, the historical gold series, persisted run history
// and a WebSocket stream of forecast lifecycle events.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"goldsight/internal/dataset"
	"goldsight/internal/forecast"
	"goldsight/internal/metrics"
	"goldsight/internal/storage"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

// Config holds the server's runtime parameters.
type Config struct {
	Port           int
	DefaultHorizon int
	WindowLength   int
	RMSE           float64
}

// Server serves the forecast API.
type Server struct {
	cfg        Config
	artifacts  *forecast.ArtifactStore
	forecaster *forecast.Forecaster
	runs       *storage.Store
	metrics    *metrics.Metrics
	hub        *Hub

	server    *http.Server
	mu        sync.Mutex
	isRunning bool
}

// New creates the API server. runs may be nil, in which case completed
// forecasts are not persisted.
func New(cfg Config, artifacts *forecast.ArtifactStore, fc *forecast.Forecaster, runs *storage.Store, m *metrics.Metrics) *Server {
	s := &Server{
		cfg:        cfg,
		artifacts:  artifacts,
		forecaster: fc,
		runs:       runs,
		metrics:    m,
		hub:        newHub(m),
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/forecast", s.handleForecast).Methods("POST")
	r.HandleFunc("/api/history", s.handleHistory).Methods("GET")
	r.HandleFunc("/api/runs", s.handleRuns).Methods("GET")
	r.HandleFunc("/api/model", s.handleModel).Methods("GET")
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/ws", s.handleWebSocket).Methods("GET")

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 120 * time.Second, // forecast invocations run model inference
	}

	return s
}

// Handler exposes the route tree for tests.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Start begins serving in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("server is already running")
	}

	go s.hub.run()

	go func() {
		log.Info().Str("address", s.server.Addr).Msg("starting API server")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("API server failed")
		}
	}()

	s.isRunning = true
	return nil
}

// Stop shuts the server down, closing all websocket clients.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	s.hub.stopAndCloseAll()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown API server: %w", err)
	}

	s.isRunning = false
	return nil
}

type forecastRequest struct {
	Scenario map[string]float64 `json:"scenario"`
	Horizon  int                `json:"horizon"`
}

type forecastResponse struct {
	ID        string             `json:"id"`
	CreatedAt time.Time          `json:"created_at"`
	Horizon   int                `json:"horizon"`
	Scenario  map[string]float64 `json:"scenario"`
	Points    []forecast.Point   `json:"points"`
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	var req forecastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	vector, err := scenarioVector(req.Scenario)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	horizon := req.Horizon
	if horizon == 0 {
		horizon = s.cfg.DefaultHorizon
	}
	if horizon < 1 || horizon > 24 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("horizon must be between 1 and 24, got %d", horizon))
		return
	}

	s.hub.Broadcast(Event{Type: EventForecastStarted, Time: time.Now(), Horizon: horizon})

	points, err := s.forecaster.Forecast(r.Context(), vector, horizon)
	if err != nil {
		s.hub.Broadcast(Event{Type: EventForecastFailed, Time: time.Now(), Error: err.Error()})
		writeError(w, forecastStatusCode(err), err.Error())
		return
	}

	run := storage.ForecastRun{
		CreatedAt: time.Now().UTC(),
		Scenario:  req.Scenario,
		Horizon:   horizon,
		Points:    points,
	}
	run.ID = fmt.Sprintf("run_%d", run.CreatedAt.UnixNano())

	if s.runs != nil {
		if err := s.runs.StoreRun(run); err != nil {
			log.Error().Err(err).Msg("failed to persist forecast run")
		} else if s.metrics != nil {
			s.metrics.RunsStoredInc()
		}
	}

	s.hub.Broadcast(Event{Type: EventForecastCompleted, Time: time.Now(), RunID: run.ID, Points: points})

	writeJSON(w, http.StatusOK, forecastResponse{
		ID:        run.ID,
		CreatedAt: run.CreatedAt,
		Horizon:   horizon,
		Scenario:  req.Scenario,
		Points:    points,
	})
}

// scenarioVector orders the named scenario fields into the feature layout
// the model was trained with. All fields are required; unknown names are
// rejected to catch typos early.
func scenarioVector(scenario map[string]float64) (dataset.FeatureVector, error) {
	if len(scenario) == 0 {
		return nil, fmt.Errorf("scenario is required")
	}

	known := make(map[string]bool, len(dataset.FeatureNames))
	for _, name := range dataset.FeatureNames {
		known[name] = true
	}

	var unknown []string
	for name := range scenario {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown scenario fields: %v", unknown)
	}

	vector := make(dataset.FeatureVector, 0, len(dataset.FeatureNames))
	var missing []string
	for _, name := range dataset.FeatureNames {
		v, ok := scenario[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		vector = append(vector, v)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing scenario fields: %v", missing)
	}

	return vector, nil
}

// forecastStatusCode maps forecast errors to HTTP statuses: bad artifacts are
// a service problem, bad inputs are the caller's.
func forecastStatusCode(err error) int {
	switch {
	case errors.Is(err, forecast.ErrInvalidHorizon):
		return http.StatusBadRequest
	case errors.Is(err, forecast.ErrArtifactsUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, forecast.ErrScenarioShapeMismatch),
		errors.Is(err, forecast.ErrHistoryInsufficient):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

type historyPoint struct {
	Date     time.Time `json:"date"`
	Month    string    `json:"month"`
	GoldSpot float64   `json:"gold_spot"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	series := s.artifacts.Series()
	if series == nil {
		writeError(w, http.StatusServiceUnavailable, "historical series not loaded")
		return
	}

	records := series.Records()
	if months := queryInt(r, "months", 0); months > 0 && months < len(records) {
		records = records[len(records)-months:]
	}

	points := make([]historyPoint, 0, len(records))
	for _, rec := range records {
		points = append(points, historyPoint{
			Date:     rec.Date,
			Month:    rec.Date.Format("Jan 2006"),
			GoldSpot: rec.GoldSpot,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"history": points})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusNotFound, "run history is not enabled")
		return
	}

	limit := queryInt(r, "limit", 20)
	if limit < 1 || limit > 500 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and 500, got %d", limit))
		return
	}

	runs, err := s.runs.RecentRuns(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("read run history: %v", err))
		return
	}
	if runs == nil {
		runs = []storage.ForecastRun{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"state":           s.artifacts.State().String(),
		"window_length":   s.cfg.WindowLength,
		"default_horizon": s.cfg.DefaultHorizon,
		"rmse":            s.cfg.RMSE,
		"features":        dataset.FeatureNames,
	}
	if s.artifacts.State() == forecast.StateLoaded {
		resp["loaded_at"] = s.artifacts.LoadedAt()
		if series := s.artifacts.Series(); series != nil {
			resp["history_rows"] = series.Len()
			if last, ok := series.Last(); ok {
				resp["last_observation"] = last.Date
				resp["last_price"] = last.GoldSpot
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := s.artifacts.State()
	status := http.StatusOK
	health := "ok"
	if state != forecast.StateLoaded {
		status = http.StatusServiceUnavailable
		health = "degraded"
	}

	writeJSON(w, status, map[string]any{
		"status":    health,
		"artifacts": state.String(),
		"timestamp": time.Now().UTC(),
	})
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
