package forecast

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"goldsight/internal/dataset"
	"goldsight/internal/model"
	"goldsight/internal/scaler"

	"github.com/rs/zerolog/log"
)

// LoadState tracks the one-time artifact load.
type LoadState int32

const (
	StateUnloaded LoadState = iota
	StateLoading
	StateLoaded
	StateFailed
)

func (s LoadState) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// ArtifactPaths names the four artifacts the forecaster depends on.
type ArtifactPaths struct {
	Model        string
	InputScaler  string
	TargetScaler string
	Dataset      string
}

// ArtifactStore holds the loaded model, scalers and historical series.
// Load runs at most once; a failed load is terminal for the process lifetime
// and every later access reports ErrArtifactsUnavailable. After a successful
// load all artifacts are read-only and safe for concurrent use.
type ArtifactStore struct {
	paths            ArtifactPaths
	inferenceTimeout time.Duration

	once    sync.Once
	state   atomic.Int32
	loadErr error

	model    model.Provider
	scalerX  *scaler.MinMax
	scalerY  *scaler.MinMax
	series   *dataset.Series
	loadedAt time.Time
}

// NewArtifactStore creates an unloaded store; call Load before forecasting.
func NewArtifactStore(paths ArtifactPaths, inferenceTimeout time.Duration) *ArtifactStore {
	return &ArtifactStore{paths: paths, inferenceTimeout: inferenceTimeout}
}

// NewLoadedStore returns a store already holding the given artifacts. Used by
// tests and by embedders that manage artifact lifecycle themselves.
func NewLoadedStore(m model.Provider, scalerX, scalerY *scaler.MinMax, series *dataset.Series) *ArtifactStore {
	s := &ArtifactStore{
		model:    m,
		scalerX:  scalerX,
		scalerY:  scalerY,
		series:   series,
		loadedAt: time.Now(),
	}
	s.state.Store(int32(StateLoaded))
	return s
}

// Load performs the one-time artifact load. Safe for concurrent callers; all
// of them observe the same outcome.
func (s *ArtifactStore) Load(ctx context.Context) error {
	s.once.Do(func() {
		s.state.Store(int32(StateLoading))
		if err := s.load(ctx); err != nil {
			s.loadErr = err
			s.state.Store(int32(StateFailed))
			log.Error().Err(err).Msg("artifact load failed")
			return
		}
		s.loadedAt = time.Now()
		s.state.Store(int32(StateLoaded))
	})
	return s.loadErr
}

func (s *ArtifactStore) load(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m, err := model.New(s.paths.Model, s.inferenceTimeout)
	if err != nil {
		return fmt.Errorf("load model: %w", err)
	}

	scalerX, err := scaler.Load(s.paths.InputScaler)
	if err != nil {
		return fmt.Errorf("load input scaler: %w", err)
	}
	if scalerX.Width() != dataset.FeatureWidth {
		return fmt.Errorf("input scaler width %d, expected %d", scalerX.Width(), dataset.FeatureWidth)
	}

	scalerY, err := scaler.Load(s.paths.TargetScaler)
	if err != nil {
		return fmt.Errorf("load target scaler: %w", err)
	}
	if scalerY.Width() != 1 {
		return fmt.Errorf("target scaler width %d, expected 1", scalerY.Width())
	}

	series, err := dataset.Load(s.paths.Dataset)
	if err != nil {
		return fmt.Errorf("load dataset: %w", err)
	}

	s.model = m
	s.scalerX = scalerX
	s.scalerY = scalerY
	s.series = series

	log.Info().
		Str("model", s.paths.Model).
		Int("history_rows", series.Len()).
		Msg("forecast artifacts loaded")

	return nil
}

// State returns the current load state.
func (s *ArtifactStore) State() LoadState {
	return LoadState(s.state.Load())
}

// LoadedAt reports when the artifacts finished loading.
func (s *ArtifactStore) LoadedAt() time.Time { return s.loadedAt }

// Artifacts returns the loaded artifacts, or ErrArtifactsUnavailable if the
// store is not in the Loaded state.
func (s *ArtifactStore) Artifacts() (model.Provider, *scaler.MinMax, *scaler.MinMax, *dataset.Series, error) {
	// loadErr is written before the atomic transition to StateFailed, so it
	// may only be read after observing that state.
	switch state := s.State(); state {
	case StateLoaded:
		return s.model, s.scalerX, s.scalerY, s.series, nil
	case StateFailed:
		return nil, nil, nil, nil, fmt.Errorf("%w: %v", ErrArtifactsUnavailable, s.loadErr)
	default:
		return nil, nil, nil, nil, fmt.Errorf("%w: store is %s", ErrArtifactsUnavailable, state)
	}
}

// Series exposes the historical series for presentation (charting); nil
// until loaded.
func (s *ArtifactStore) Series() *dataset.Series {
	if s.State() != StateLoaded {
		return nil
	}
	return s.series
}
