package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"goldsight/internal/dataset"
	"goldsight/internal/forecast"
	"goldsight/internal/metrics"
	"goldsight/internal/scaler"
	"goldsight/internal/storage"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubModel struct {
	output float64
	err    error
}

func (m *stubModel) Predict(_ context.Context, _ [][]float64) (float64, error) {
	if m.err != nil {
		return 0, m.err
	}
	return m.output, nil
}

func identityScaler(width int) *scaler.MinMax {
	s := &scaler.MinMax{
		DataMin: make([]float64, width),
		DataMax: make([]float64, width),
	}
	for i := 0; i < width; i++ {
		s.DataMax[i] = 1
	}
	return s
}

func targetScaler() *scaler.MinMax {
	return &scaler.MinMax{DataMin: []float64{1000}, DataMax: []float64{3000}}
}

func makeSeries(t *testing.T, n int) *dataset.Series {
	t.Helper()
	records := make([]dataset.Record, n)
	base := time.Date(2023, time.June, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		features := make(dataset.FeatureVector, dataset.FeatureWidth)
		for j := range features {
			features[j] = float64(i) / 1000.0
		}
		records[i] = dataset.Record{
			Date:     base.AddDate(0, i, 0),
			Features: features,
			GoldSpot: 3000 + float64(i),
		}
	}
	series, err := dataset.FromRecords(records)
	require.NoError(t, err)
	return series
}

func fullScenario(v float64) map[string]float64 {
	scenario := make(map[string]float64, len(dataset.FeatureNames))
	for _, name := range dataset.FeatureNames {
		scenario[name] = v
	}
	return scenario
}

func newTestServer(t *testing.T, m *stubModel) (*Server, *storage.Store) {
	t.Helper()

	store := forecast.NewLoadedStore(m, identityScaler(dataset.FeatureWidth), targetScaler(), makeSeries(t, 24))
	mets := metrics.NewWithRegistry(prometheus.NewRegistry())
	fc := forecast.New(store, 12, 45.92, mets)

	runs, err := storage.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { runs.Close() })

	cfg := Config{Port: 0, DefaultHorizon: 6, WindowLength: 12, RMSE: 45.92}
	return New(cfg, store, fc, runs, mets), runs
}

func postForecast(t *testing.T, srv *Server, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/forecast", bytes.NewReader(data))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestForecastEndpoint(t *testing.T) {
	srv, runs := newTestServer(t, &stubModel{output: 0.6})

	rec := postForecast(t, srv, forecastRequest{Scenario: fullScenario(0.5), Horizon: 6})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp forecastResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, 6, resp.Horizon)
	require.Len(t, resp.Points, 6)
	// 0.6 inverse-scaled on [1000, 3000].
	assert.Equal(t, 2200.0, resp.Points[0].Price)

	// Run was persisted.
	stored, err := runs.RecentRuns(5)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, resp.ID, stored[0].ID)
}

func TestForecastEndpoint_DefaultHorizon(t *testing.T) {
	srv, _ := newTestServer(t, &stubModel{output: 0.5})

	rec := postForecast(t, srv, forecastRequest{Scenario: fullScenario(0.5)})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp forecastResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Points, 6)
}

func TestForecastEndpoint_BadRequests(t *testing.T) {
	srv, _ := newTestServer(t, &stubModel{output: 0.5})

	tests := []struct {
		name string
		body string
		want int
	}{
		{"not json", "{nope", http.StatusBadRequest},
		{"empty scenario", `{"scenario":{}}`, http.StatusBadRequest},
		{"unknown field", `{"scenario":{"Bitcoin":1.0}}`, http.StatusBadRequest},
		{"horizon out of range", "", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := tt.body
			if body == "" {
				data, err := json.Marshal(forecastRequest{Scenario: fullScenario(0.5), Horizon: 99})
				require.NoError(t, err)
				body = string(data)
			}
			req := httptest.NewRequest(http.MethodPost, "/api/forecast", strings.NewReader(body))
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestForecastEndpoint_MissingField(t *testing.T) {
	srv, _ := newTestServer(t, &stubModel{output: 0.5})

	scenario := fullScenario(0.5)
	delete(scenario, "VIX")

	rec := postForecast(t, srv, forecastRequest{Scenario: scenario, Horizon: 6})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "VIX")
}

func TestForecastEndpoint_InferenceFailure(t *testing.T) {
	srv, runs := newTestServer(t, &stubModel{err: fmt.Errorf("subprocess died")})

	rec := postForecast(t, srv, forecastRequest{Scenario: fullScenario(0.5), Horizon: 6})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	// Failed runs are not persisted.
	stored, err := runs.RecentRuns(5)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestForecastEndpoint_ArtifactsUnavailable(t *testing.T) {
	store := forecast.NewArtifactStore(forecast.ArtifactPaths{
		Model:        "/nonexistent/model.keras",
		InputScaler:  "/nonexistent/x.json",
		TargetScaler: "/nonexistent/y.json",
		Dataset:      "/nonexistent/d.csv",
	}, time.Second)
	require.Error(t, store.Load(context.Background()))

	mets := metrics.NewWithRegistry(prometheus.NewRegistry())
	fc := forecast.New(store, 12, 45.92, mets)
	srv := New(Config{DefaultHorizon: 6, WindowLength: 12, RMSE: 45.92}, store, fc, nil, mets)

	rec := postForecast(t, srv, forecastRequest{Scenario: fullScenario(0.5), Horizon: 6})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHistoryEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &stubModel{output: 0.5})

	req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		History []historyPoint `json:"history"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.History, 24)
	assert.Equal(t, "Jun 2023", resp.History[0].Month)
	assert.Equal(t, 3000.0, resp.History[0].GoldSpot)
}

func TestHistoryEndpoint_Months(t *testing.T) {
	srv, _ := newTestServer(t, &stubModel{output: 0.5})

	req := httptest.NewRequest(http.MethodGet, "/api/history?months=6", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		History []historyPoint `json:"history"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.History, 6)
	assert.Equal(t, 3023.0, resp.History[5].GoldSpot)
}

func TestRunsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &stubModel{output: 0.5})

	// Two forecasts, then read them back.
	require.Equal(t, http.StatusOK, postForecast(t, srv, forecastRequest{Scenario: fullScenario(0.4), Horizon: 3}).Code)
	require.Equal(t, http.StatusOK, postForecast(t, srv, forecastRequest{Scenario: fullScenario(0.6), Horizon: 3}).Code)

	req := httptest.NewRequest(http.MethodGet, "/api/runs?limit=1", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Runs []storage.ForecastRun `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Runs, 1)
	assert.Equal(t, 0.6, resp.Runs[0].Scenario["CPI"])
}

func TestRunsEndpoint_BadLimit(t *testing.T) {
	srv, _ := newTestServer(t, &stubModel{output: 0.5})

	req := httptest.NewRequest(http.MethodGet, "/api/runs?limit=0", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestModelEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &stubModel{output: 0.5})

	req := httptest.NewRequest(http.MethodGet, "/api/model", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "loaded", resp["state"])
	assert.Equal(t, float64(12), resp["window_length"])
	assert.Equal(t, float64(24), resp["history_rows"])
	assert.Equal(t, 3023.0, resp["last_price"])
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &stubModel{output: 0.5})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestWebSocket_ForecastEvents(t *testing.T) {
	srv, _ := newTestServer(t, &stubModel{output: 0.5})
	go srv.hub.run()
	t.Cleanup(srv.hub.stopAndCloseAll)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// Give the hub time to register the client before broadcasting.
	require.Eventually(t, func() bool {
		srv.hub.clientsMu.RLock()
		defer srv.hub.clientsMu.RUnlock()
		return len(srv.hub.clients) == 1
	}, time.Second, 10*time.Millisecond)

	rec := postForecast(t, srv, forecastRequest{Scenario: fullScenario(0.5), Horizon: 2})
	require.Equal(t, http.StatusOK, rec.Code)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var started, completed Event
	require.NoError(t, conn.ReadJSON(&started))
	require.NoError(t, conn.ReadJSON(&completed))

	assert.Equal(t, EventForecastStarted, started.Type)
	assert.Equal(t, 2, started.Horizon)
	assert.Equal(t, EventForecastCompleted, completed.Type)
	assert.NotEmpty(t, completed.RunID)
	assert.Len(t, completed.Points, 2)
}

func TestScenarioVector_Ordering(t *testing.T) {
	scenario := make(map[string]float64, len(dataset.FeatureNames))
	for i, name := range dataset.FeatureNames {
		scenario[name] = float64(i)
	}

	vector, err := scenarioVector(scenario)
	require.NoError(t, err)
	require.Len(t, vector, dataset.FeatureWidth)
	for i := range vector {
		assert.Equal(t, float64(i), vector[i])
	}
}
