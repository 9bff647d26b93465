// Package model wraps the pre-trained gold price sequence model. The model
// artifact is opaque to the rest of the service: inference runs in a Python
// subprocess that loads the Keras artifact and exchanges JSON over
// stdin/stdout, so the Go side only deals with a window of scaled feature
// rows in and a single scaled scalar out.
package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Provider is the inference contract consumed by the forecaster. The window
// must already be scaled; the returned value is in the model's scaled output
// space.
type Provider interface {
	Predict(ctx context.Context, window [][]float64) (float64, error)
}

// KerasModel runs the trained GRU artifact through a Python subprocess.
type KerasModel struct {
	modelPath  string
	pythonPath string
	scriptPath string
	timeout    time.Duration
	mu         sync.Mutex
	createdAt  time.Time
}

type inferenceRequest struct {
	Window [][]float64 `json:"window"`
}

type inferenceResponse struct {
	Prediction float64 `json:"prediction"`
	Error      string  `json:"error,omitempty"`
}

// New loads the model wrapper. The artifact file must exist and a Python 3
// interpreter must be discoverable; both are hard failures here so the
// artifact store can record a terminal load error.
func New(path string, timeout time.Duration) (*KerasModel, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("model artifact %s: %w", path, err)
	}

	pythonPath, err := findPython()
	if err != nil {
		return nil, fmt.Errorf("model runtime: %w", err)
	}

	scriptPath, err := resolveInferenceScript(path)
	if err != nil {
		return nil, err
	}

	m := &KerasModel{
		modelPath:  path,
		pythonPath: pythonPath,
		scriptPath: scriptPath,
		timeout:    timeout,
		createdAt:  info.ModTime(),
	}

	log.Info().
		Str("model_path", path).
		Str("python_path", pythonPath).
		Str("script_path", scriptPath).
		Time("model_created", m.createdAt).
		Msg("sequence model loaded")

	return m, nil
}

// CreatedAt reports the modification time of the model artifact, used for
// the model age gauge.
func (m *KerasModel) CreatedAt() time.Time { return m.createdAt }

// Path returns the model artifact location.
func (m *KerasModel) Path() string { return m.modelPath }

// Predict feeds one scaled window through the model and returns the scaled
// scalar output. Calls are serialized; the subprocess is bounded by the
// configured timeout and the caller's context.
func (m *KerasModel) Predict(ctx context.Context, window [][]float64) (float64, error) {
	if len(window) == 0 {
		return 0, fmt.Errorf("empty window")
	}
	width := len(window[0])
	for i, row := range window {
		if len(row) != width {
			return 0, fmt.Errorf("ragged window: row %d has width %d, expected %d", i, len(row), width)
		}
		for j, v := range row {
			if v != v {
				return 0, fmt.Errorf("window[%d][%d] is NaN", i, j)
			}
		}
	}

	reqJSON, err := json.Marshal(inferenceRequest{Window: window})
	if err != nil {
		return 0, fmt.Errorf("marshal inference request: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, m.pythonPath, m.scriptPath, m.modelPath)
	cmd.Stdin = bytes.NewReader(reqJSON)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return 0, fmt.Errorf("inference timeout after %v", m.timeout)
		}
		if ctx.Err() == context.Canceled {
			return 0, ctx.Err()
		}
		log.Error().
			Err(err).
			Str("stderr", stderr.String()).
			Str("model_path", m.modelPath).
			Msg("inference subprocess failed")
		return 0, fmt.Errorf("inference subprocess: %w, stderr: %s", err, strings.TrimSpace(stderr.String()))
	}

	var resp inferenceResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return 0, fmt.Errorf("parse inference response: %w, stdout: %s", err, strings.TrimSpace(stdout.String()))
	}
	if resp.Error != "" {
		return 0, fmt.Errorf("inference error: %s", resp.Error)
	}
	if resp.Prediction != resp.Prediction {
		return 0, fmt.Errorf("inference produced NaN")
	}

	return resp.Prediction, nil
}

// resolveInferenceScript locates the inference script next to the model,
// falling back to an embedded copy written alongside the artifact.
func resolveInferenceScript(modelPath string) (string, error) {
	scriptDir := filepath.Dir(modelPath)
	scriptPath := filepath.Join(scriptDir, "gru_inference.py")
	if _, err := os.Stat(scriptPath); err == nil {
		return scriptPath, nil
	}

	scriptPath = filepath.Join(scriptDir, "gru_inference_embedded.py")
	if _, err := os.Stat(scriptPath); err == nil {
		return scriptPath, nil
	}
	if err := createInferenceScript(scriptPath); err != nil {
		return "", fmt.Errorf("write inference script: %w", err)
	}
	return scriptPath, nil
}

func findPython() (string, error) {
	if venvPath := os.Getenv("VIRTUAL_ENV"); venvPath != "" {
		candidates := []string{
			filepath.Join(venvPath, "bin", "python3"),
			filepath.Join(venvPath, "bin", "python"),
			filepath.Join(venvPath, "Scripts", "python.exe"),
		}
		for _, candidate := range candidates {
			if _, err := os.Stat(candidate); err == nil {
				log.Info().Str("python_path", candidate).Msg("using virtual environment python")
				return candidate, nil
			}
		}
	}

	for _, candidate := range []string{"python3", "python"} {
		path, err := exec.LookPath(candidate)
		if err != nil {
			continue
		}
		cmd := exec.Command(path, "-c", "import sys; exit(0 if sys.version_info[0] == 3 else 1)")
		if err := cmd.Run(); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no python 3 interpreter found")
}

func createInferenceScript(scriptPath string) error {
	script := `#!/usr/bin/env python3
"""GRU inference shim: reads a scaled feature window from stdin, prints the
scaled prediction as JSON."""
import json
import os
import sys

os.environ.setdefault("TF_CPP_MIN_LOG_LEVEL", "2")

import numpy as np

try:
    import tensorflow as tf
except ImportError:
    print(json.dumps({"error": "tensorflow not installed"}))
    sys.exit(1)


def main():
    if len(sys.argv) != 2:
        print(json.dumps({"error": "usage: gru_inference.py <model_path>"}))
        sys.exit(1)

    try:
        request = json.load(sys.stdin)
        window = np.array(request["window"], dtype=np.float32)
        window = window.reshape(1, window.shape[0], window.shape[1])

        model = tf.keras.models.load_model(sys.argv[1])
        prediction = model.predict(window, verbose=0)

        print(json.dumps({"prediction": float(prediction[0, 0])}))
    except Exception as e:
        print(json.dumps({"error": str(e)}))
        sys.exit(1)


if __name__ == "__main__":
    main()
`

	return os.WriteFile(scriptPath, []byte(script), 0o755)
}
