// Package cfg loads service configuration from a YAML file with environment
// variable overrides, falling back to pure environment configuration when no
// config file is set.
package cfg

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"goldsight/internal/common"

	"gopkg.in/yaml.v3"
)

type Settings struct {
	ModelPath        string
	ScalerXPath      string
	ScalerYPath      string
	DatasetPath      string
	DataPath         string
	WindowLength     int
	Horizon          int
	RMSE             float64
	InferenceTimeout time.Duration
	ListenPort       int
	MetricsPort      int
	DataAPIBaseURL   string
	DataAPIKey       string
}

type ConfigFile struct {
	Artifacts struct {
		ModelPath   string `yaml:"modelPath"`
		ScalerXPath string `yaml:"scalerXPath"`
		ScalerYPath string `yaml:"scalerYPath"`
		DatasetPath string `yaml:"datasetPath"`
	} `yaml:"artifacts"`

	Forecast struct {
		WindowLength     int     `yaml:"windowLength"`
		Horizon          int     `yaml:"horizon"`
		RMSE             float64 `yaml:"rmse"`
		InferenceTimeout string  `yaml:"inferenceTimeout"`
	} `yaml:"forecast"`

	System struct {
		DataPath    string `yaml:"dataPath"`
		ListenPort  int    `yaml:"listenPort"`
		MetricsPort int    `yaml:"metricsPort"`
	} `yaml:"system"`

	DataAPI struct {
		BaseURL string `yaml:"baseURL"`
		Key     string `yaml:"key"`
	} `yaml:"dataAPI"`
}

func Load() (Settings, error) {
	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		return loadFromYAML(configPath)
	}
	return loadFromEnv()
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	inferenceTimeout, err := time.ParseDuration(config.Forecast.InferenceTimeout)
	if err != nil {
		inferenceTimeout, _ = time.ParseDuration(common.DefaultInferenceTimeout)
	}

	settings := Settings{
		ModelPath:        getEnvOrDefault(common.EnvModelPath, orDefault(config.Artifacts.ModelPath, common.DefaultModelPath)),
		ScalerXPath:      getEnvOrDefault(common.EnvScalerXPath, orDefault(config.Artifacts.ScalerXPath, common.DefaultScalerXPath)),
		ScalerYPath:      getEnvOrDefault(common.EnvScalerYPath, orDefault(config.Artifacts.ScalerYPath, common.DefaultScalerYPath)),
		DatasetPath:      getEnvOrDefault(common.EnvDatasetPath, orDefault(config.Artifacts.DatasetPath, common.DefaultDatasetPath)),
		DataPath:         getEnvOrDefault(common.EnvDataPath, config.System.DataPath),
		WindowLength:     getIntFromEnvOrConfig(common.EnvWindowLength, config.Forecast.WindowLength, common.DefaultWindowLength),
		Horizon:          getIntFromEnvOrConfig(common.EnvHorizon, config.Forecast.Horizon, common.DefaultHorizon),
		RMSE:             getFloatFromEnvOrConfig(common.EnvRMSE, config.Forecast.RMSE, common.DefaultRMSE),
		InferenceTimeout: getDurationOrDefault(common.EnvInferenceTimeout, inferenceTimeout),
		ListenPort:       getIntFromEnvOrConfig(common.EnvListenPort, config.System.ListenPort, common.DefaultListenPort),
		MetricsPort:      getIntFromEnvOrConfig(common.EnvMetricsPort, config.System.MetricsPort, common.DefaultMetricsPort),
		DataAPIBaseURL:   getEnvOrDefault(common.EnvDataAPIBaseURL, orDefault(config.DataAPI.BaseURL, common.DefaultDataAPIBaseURL)),
		DataAPIKey:       getEnvOrDefault(common.EnvDataAPIKey, config.DataAPI.Key),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func loadFromEnv() (Settings, error) {
	defaultTimeout, _ := time.ParseDuration(common.DefaultInferenceTimeout)

	settings := Settings{
		ModelPath:        getEnvOrDefault(common.EnvModelPath, common.DefaultModelPath),
		ScalerXPath:      getEnvOrDefault(common.EnvScalerXPath, common.DefaultScalerXPath),
		ScalerYPath:      getEnvOrDefault(common.EnvScalerYPath, common.DefaultScalerYPath),
		DatasetPath:      getEnvOrDefault(common.EnvDatasetPath, common.DefaultDatasetPath),
		DataPath:         os.Getenv(common.EnvDataPath), // optional
		WindowLength:     getIntOrDefault(common.EnvWindowLength, common.DefaultWindowLength),
		Horizon:          getIntOrDefault(common.EnvHorizon, common.DefaultHorizon),
		RMSE:             getFloatOrDefault(common.EnvRMSE, common.DefaultRMSE),
		InferenceTimeout: getDurationOrDefault(common.EnvInferenceTimeout, defaultTimeout),
		ListenPort:       getIntOrDefault(common.EnvListenPort, common.DefaultListenPort),
		MetricsPort:      getIntOrDefault(common.EnvMetricsPort, common.DefaultMetricsPort),
		DataAPIBaseURL:   getEnvOrDefault(common.EnvDataAPIBaseURL, common.DefaultDataAPIBaseURL),
		DataAPIKey:       os.Getenv(common.EnvDataAPIKey), // required only by the collector
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getIntFromEnvOrConfig(key string, configValue, defaultValue int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func getFloatFromEnvOrConfig(key string, configValue, defaultValue float64) float64 {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseFloat(env, 64); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

// validateSettings performs range validation of configuration values.
func validateSettings(settings *Settings) error {
	if settings.ModelPath == "" {
		return fmt.Errorf("model path cannot be empty")
	}
	if settings.ScalerXPath == "" || settings.ScalerYPath == "" {
		return fmt.Errorf("scaler paths cannot be empty")
	}
	if settings.DatasetPath == "" {
		return fmt.Errorf("dataset path cannot be empty")
	}

	if settings.WindowLength < 2 || settings.WindowLength > 120 {
		return fmt.Errorf("window length must be between 2 and 120, got %d", settings.WindowLength)
	}
	if settings.Horizon < 1 || settings.Horizon > 24 {
		return fmt.Errorf("forecast horizon must be between 1 and 24, got %d", settings.Horizon)
	}
	if settings.RMSE <= 0 {
		return fmt.Errorf("model RMSE must be positive, got %f", settings.RMSE)
	}
	if settings.InferenceTimeout < time.Second || settings.InferenceTimeout > 5*time.Minute {
		return fmt.Errorf("inference timeout must be between 1s and 5m, got %v", settings.InferenceTimeout)
	}
	if settings.ListenPort < 1024 || settings.ListenPort > 65535 {
		return fmt.Errorf("listen port must be between 1024 and 65535, got %d", settings.ListenPort)
	}
	if settings.MetricsPort < 1024 || settings.MetricsPort > 65535 {
		return fmt.Errorf("metrics port must be between 1024 and 65535, got %d", settings.MetricsPort)
	}
	if settings.ListenPort == settings.MetricsPort {
		return fmt.Errorf("listen port and metrics port must differ, both are %d", settings.ListenPort)
	}

	return nil
}
