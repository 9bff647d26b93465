package forecast

import "errors"

// Failure taxonomy for a forecast invocation. Every error returned by
// Forecaster.Forecast wraps exactly one of these sentinels, so callers can
// map failures to user-visible messages with errors.Is.
var (
	// ErrArtifactsUnavailable: the model or either scaler failed to load.
	ErrArtifactsUnavailable = errors.New("forecast artifacts unavailable")

	// ErrHistoryInsufficient: too few usable historical rows for the window.
	ErrHistoryInsufficient = errors.New("insufficient historical data")

	// ErrScenarioShapeMismatch: the scenario vector width does not match the
	// model's expected input width.
	ErrScenarioShapeMismatch = errors.New("scenario width mismatch")

	// ErrInferenceFailure: the underlying model invocation failed.
	ErrInferenceFailure = errors.New("model inference failed")

	// ErrInvalidHorizon: the requested horizon is not a positive step count.
	ErrInvalidHorizon = errors.New("invalid forecast horizon")
)
