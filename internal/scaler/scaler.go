// Package scaler applies the min-max normalization fitted during model
// training. Parameters come from JSON artifacts exported alongside the model
// and are never refit at runtime; the scaler only transforms and inverts.
package scaler

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
)

// MinMax is an invertible per-column min-max transform with parameters fixed
// at training time. Transformed values fall in [0, 1] over the training range.
type MinMax struct {
	Columns []string  `json:"columns"`
	DataMin []float64 `json:"data_min"`
	DataMax []float64 `json:"data_max"`
}

// Load reads fitted scaler parameters from a JSON artifact.
func Load(path string) (*MinMax, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scaler artifact: %w", err)
	}

	var m MinMax
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse scaler artifact %s: %w", path, err)
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("scaler artifact %s: %w", path, err)
	}

	log.Debug().Str("path", path).Int("width", m.Width()).Msg("scaler loaded")
	return &m, nil
}

func (m *MinMax) validate() error {
	if len(m.DataMin) == 0 {
		return fmt.Errorf("empty parameters")
	}
	if len(m.DataMin) != len(m.DataMax) {
		return fmt.Errorf("data_min width %d != data_max width %d", len(m.DataMin), len(m.DataMax))
	}
	if len(m.Columns) != 0 && len(m.Columns) != len(m.DataMin) {
		return fmt.Errorf("columns width %d != parameter width %d", len(m.Columns), len(m.DataMin))
	}
	for i := range m.DataMin {
		if m.DataMax[i] < m.DataMin[i] {
			return fmt.Errorf("column %d: data_max %.6f below data_min %.6f", i, m.DataMax[i], m.DataMin[i])
		}
	}
	return nil
}

// Width returns the number of columns the scaler was fitted on.
func (m *MinMax) Width() int { return len(m.DataMin) }

// Transform scales each row column-wise into the training range. The input
// is not mutated.
func (m *MinMax) Transform(rows [][]float64) ([][]float64, error) {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		if len(row) != m.Width() {
			return nil, fmt.Errorf("row %d: expected width %d, got %d", i, m.Width(), len(row))
		}
		scaled := make([]float64, len(row))
		for j, v := range row {
			span := m.DataMax[j] - m.DataMin[j]
			if span == 0 {
				scaled[j] = 0
				continue
			}
			scaled[j] = (v - m.DataMin[j]) / span
		}
		out[i] = scaled
	}
	return out, nil
}

// InverseTransform maps scaled rows back to original units.
func (m *MinMax) InverseTransform(rows [][]float64) ([][]float64, error) {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		if len(row) != m.Width() {
			return nil, fmt.Errorf("row %d: expected width %d, got %d", i, m.Width(), len(row))
		}
		orig := make([]float64, len(row))
		for j, v := range row {
			orig[j] = v*(m.DataMax[j]-m.DataMin[j]) + m.DataMin[j]
		}
		out[i] = orig
	}
	return out, nil
}

// InverseScalar inverts a single value through a one-column scaler. It is the
// convenience path for the target scaler, which is always width 1.
func (m *MinMax) InverseScalar(v float64) (float64, error) {
	if m.Width() != 1 {
		return 0, fmt.Errorf("scalar inverse requires width 1 scaler, got %d", m.Width())
	}
	return v*(m.DataMax[0]-m.DataMin[0]) + m.DataMin[0], nil
}
