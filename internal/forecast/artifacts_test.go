package forecast

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"goldsight/internal/dataset"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArtifactStore_FailedLoadIsTerminal(t *testing.T) {
	dir := t.TempDir()
	store := NewArtifactStore(ArtifactPaths{
		Model:        filepath.Join(dir, "missing.keras"),
		InputScaler:  filepath.Join(dir, "scaler_x.json"),
		TargetScaler: filepath.Join(dir, "scaler_y.json"),
		Dataset:      filepath.Join(dir, "data.csv"),
	}, time.Second)

	err := store.Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFailed, store.State())

	// A second Load does not retry.
	err2 := store.Load(context.Background())
	assert.Equal(t, err, err2)

	// Forecast calls short-circuit with the taxonomy error.
	f := New(store, 12, testRMSE, nil)
	_, ferr := f.Forecast(context.Background(), makeScenario(0.1), 6)
	assert.ErrorIs(t, ferr, ErrArtifactsUnavailable)
}

func TestArtifactStore_ConcurrentLoadSingleOutcome(t *testing.T) {
	dir := t.TempDir()
	store := NewArtifactStore(ArtifactPaths{
		Model: filepath.Join(dir, "missing.keras"),
	}, time.Second)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.Load(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(errs); i++ {
		assert.Equal(t, errs[0], errs[i])
	}
	assert.Equal(t, StateFailed, store.State())
}

func TestArtifactStore_AccessDuringLoad(t *testing.T) {
	// Artifacts() calls racing a failing Load must only ever see the
	// taxonomy error, never a torn read of the load error.
	dir := t.TempDir()
	store := NewArtifactStore(ArtifactPaths{
		Model: filepath.Join(dir, "missing.keras"),
	}, time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, _, _, _, err := store.Artifacts()
				assert.ErrorIs(t, err, ErrArtifactsUnavailable)
			}
		}()
	}

	require.Error(t, store.Load(context.Background()))
	wg.Wait()
}

func TestArtifactStore_LoadedStore(t *testing.T) {
	series := makeSeries(t, 24)
	store := NewLoadedStore(&stubModel{}, identityScaler(dataset.FeatureWidth), targetScaler(), series)

	assert.Equal(t, StateLoaded, store.State())
	assert.False(t, store.LoadedAt().IsZero())
	assert.Same(t, series, store.Series())

	m, sx, sy, hist, err := store.Artifacts()
	require.NoError(t, err)
	assert.NotNil(t, m)
	assert.Equal(t, dataset.FeatureWidth, sx.Width())
	assert.Equal(t, 1, sy.Width())
	assert.Equal(t, 24, hist.Len())
}

func TestArtifactStore_UnloadedAccess(t *testing.T) {
	store := NewArtifactStore(ArtifactPaths{}, time.Second)

	assert.Equal(t, StateUnloaded, store.State())
	assert.Nil(t, store.Series())

	_, _, _, _, err := store.Artifacts()
	assert.ErrorIs(t, err, ErrArtifactsUnavailable)
}

func TestLoadState_String(t *testing.T) {
	assert.Equal(t, "unloaded", StateUnloaded.String())
	assert.Equal(t, "loading", StateLoading.String())
	assert.Equal(t, "loaded", StateLoaded.String())
	assert.Equal(t, "failed", StateFailed.String())
}
