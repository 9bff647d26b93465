// Package forecast implements the rolling multi-step gold price forecast.
// Given the trailing window of historical indicator vectors and a
// user-supplied scenario of current conditions, it produces N sequential
// point estimates with static confidence bounds.
package forecast

import (
	"context"
	"fmt"
	"math"
	"time"

	"goldsight/internal/dataset"

	"github.com/rs/zerolog/log"
)

// zScore95 is the normal-approximation multiplier for a 95% interval.
const zScore95 = 1.96

// MetricsInterface defines the metrics hooks used by the forecaster.
type MetricsInterface interface {
	ForecastsInc()
	ForecastFailuresInc()
	ForecastDurationObserve(float64)
	InferenceLatencyObserve(float64)
}

// Point is one forecast step: period label, point estimate, 95% bounds and
// percent change against the last real observation. Values are rounded to
// two decimals for presentation.
type Point struct {
	Month     string    `json:"month"`
	Date      time.Time `json:"date"`
	Price     float64   `json:"price"`
	Lower     float64   `json:"lower"`
	Upper     float64   `json:"upper"`
	ChangePct float64   `json:"change_pct"`
}

// Forecaster produces rolling multi-step forecasts from the loaded
// artifacts. It is stateless per call and safe for concurrent use.
type Forecaster struct {
	store   *ArtifactStore
	window  int
	rmse    float64
	metrics MetricsInterface
}

// New creates a forecaster. window is the fixed sequence length the model
// was trained with; rmse is the validation-set error estimate behind the
// static confidence interval.
func New(store *ArtifactStore, window int, rmse float64, metrics MetricsInterface) *Forecaster {
	return &Forecaster{store: store, window: window, rmse: rmse, metrics: metrics}
}

// Forecast runs the rolling prediction loop for the given horizon.
//
// The initial window is the most recent window-1 historical rows with the
// scenario appended as the final row. Each step scales the window, runs one
// model inference, inverse-scales the output and rolls the window forward by
// dropping the oldest row and re-appending the scenario. The scenario is
// held constant across the whole horizon (stability assumption); the
// model's own predictions are never fed back as features.
//
// The result is all-or-nothing: any failure aborts the invocation with a
// tagged error and no partial points.
func (f *Forecaster) Forecast(ctx context.Context, scenario dataset.FeatureVector, horizon int) ([]Point, error) {
	start := time.Now()
	points, err := f.forecast(ctx, scenario, horizon)
	if f.metrics != nil {
		f.metrics.ForecastDurationObserve(time.Since(start).Seconds())
		if err != nil {
			f.metrics.ForecastFailuresInc()
		} else {
			f.metrics.ForecastsInc()
		}
	}
	return points, err
}

func (f *Forecaster) forecast(ctx context.Context, scenario dataset.FeatureVector, horizon int) ([]Point, error) {
	if horizon <= 0 {
		return nil, fmt.Errorf("%w: must be positive, got %d", ErrInvalidHorizon, horizon)
	}

	provider, scalerX, scalerY, series, err := f.store.Artifacts()
	if err != nil {
		return nil, err
	}

	if len(scenario) != scalerX.Width() {
		return nil, fmt.Errorf("%w: expected %d features, got %d",
			ErrScenarioShapeMismatch, scalerX.Width(), len(scenario))
	}

	histRows, ok := series.TailFeatures(f.window - 1)
	if !ok {
		return nil, fmt.Errorf("%w: need %d rows, have %d",
			ErrHistoryInsufficient, f.window-1, series.Len())
	}

	last, ok := series.Last()
	if !ok {
		return nil, fmt.Errorf("%w: series is empty", ErrHistoryInsufficient)
	}
	referenceActual := last.GoldSpot
	lastDate := last.Date

	scenarioRow := make([]float64, len(scenario))
	copy(scenarioRow, scenario)

	window := make([][]float64, 0, f.window)
	window = append(window, histRows...)
	window = append(window, scenarioRow)

	points := make([]Point, 0, horizon)
	for step := 1; step <= horizon; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		scaled, err := scalerX.Transform(window)
		if err != nil {
			return nil, fmt.Errorf("%w: scale window: %v", ErrInferenceFailure, err)
		}

		inferStart := time.Now()
		predScaled, err := provider.Predict(ctx, scaled)
		if f.metrics != nil {
			f.metrics.InferenceLatencyObserve(time.Since(inferStart).Seconds())
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %v", ErrInferenceFailure, err)
		}

		estimate, err := scalerY.InverseScalar(predScaled)
		if err != nil {
			return nil, fmt.Errorf("%w: inverse scale: %v", ErrInferenceFailure, err)
		}

		date := lastDate.AddDate(0, step, 0)
		points = append(points, Point{
			Month:     date.Format("Jan 2006"),
			Date:      date,
			Price:     round2(estimate),
			Lower:     round2(estimate - zScore95*f.rmse),
			Upper:     round2(estimate + zScore95*f.rmse),
			ChangePct: round2((estimate - referenceActual) / referenceActual * 100),
		})

		// Roll forward: drop the oldest row, repeat the scenario row.
		window = append(window[1:], scenarioRow)
	}

	log.Debug().
		Int("horizon", horizon).
		Float64("reference_price", referenceActual).
		Float64("first_estimate", points[0].Price).
		Msg("forecast completed")

	return points, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
