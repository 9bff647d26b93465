package common

// Environment variable keys
const (
	EnvConfigFile       = "CONFIG_FILE"
	EnvDatasetPath      = "DATASET_PATH"
	EnvModelPath        = "MODEL_PATH"
	EnvScalerXPath      = "SCALER_X_PATH"
	EnvScalerYPath      = "SCALER_Y_PATH"
	EnvDataPath         = "DATA_PATH"
	EnvWindowLength     = "WINDOW_LENGTH"
	EnvHorizon          = "FORECAST_HORIZON"
	EnvRMSE             = "MODEL_RMSE"
	EnvInferenceTimeout = "INFERENCE_TIMEOUT"
	EnvListenPort       = "LISTEN_PORT"
	EnvMetricsPort      = "METRICS_PORT"
	EnvDataAPIBaseURL   = "DATA_API_BASE_URL"
	EnvDataAPIKey       = "DATA_API_KEY"
)

// Configuration defaults
const (
	DefaultModelPath        = "models/best_gru_multivariate.keras"
	DefaultScalerXPath      = "models/scaler_x.json"
	DefaultScalerYPath      = "models/scaler_y.json"
	DefaultDatasetPath      = "data/filtered_data.csv"
	DefaultWindowLength     = 12
	DefaultHorizon          = 6
	DefaultRMSE             = 45.92 // validation-set RMSE of the trained model, USD/oz
	DefaultListenPort       = 8090
	DefaultMetricsPort      = 8080
	DefaultDataAPIBaseURL   = "https://api.stlouisfed.org"
	DefaultInferenceTimeout = "30s"
)
