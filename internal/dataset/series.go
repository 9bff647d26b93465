// Package dataset loads and serves the historical economic indicator series
// that feeds the gold price forecaster. The series is read once from a CSV
// file exported by the data collection pipeline and is immutable afterwards.
//
// Column order matters: the model and scalers were fitted against the exact
// feature ordering in FeatureNames, so every FeatureVector produced here
// follows that ordering.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// FeatureWidth is the fixed number of indicator columns per timestep.
const FeatureWidth = 12

// FeatureNames lists the indicator columns in the order the model was
// trained with. Do not reorder.
var FeatureNames = []string{
	"CPI",
	"Silver_Futures",
	"S&P_500",
	"USD_Index",
	"Real_Interest_Rate",
	"Unemployment_Rate",
	"VIX",
	"Crude_Oil",
	"Fed_Funds_Rate",
	"10Y_Treasury",
	"GPR",
	"GPRA",
}

// csvToFeature maps raw CSV headers to canonical feature names. Columns not
// listed here are taken verbatim.
var csvToFeature = map[string]string{
	"SP_500":             "S&P_500",
	"Unemployment":       "Unemployment_Rate",
	"^VIX":               "VIX",
	"Treasury_Yield_10Y": "10Y_Treasury",
}

const (
	dateColumn   = "Date"
	targetColumn = "Gold_Spot"

	// Missing geopolitical risk readings default to the index baseline.
	gprBaseline = 100.0
)

// FeatureVector is one timestep of indicator values, ordered by FeatureNames.
type FeatureVector []float64

// Record is a single monthly observation: the indicator vector plus the
// realized gold spot price for that month.
type Record struct {
	Date     time.Time
	Features FeatureVector
	GoldSpot float64
}

// Series is an ordered-by-date, read-only sequence of monthly records.
type Series struct {
	records []Record
}

// Load reads the dataset CSV, renames columns to canonical feature names,
// fills missing values and returns the ordered series.
func Load(path string) (*Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read dataset header: %w", err)
	}

	// Map canonical column name -> CSV index.
	indices := make(map[string]int, len(header))
	for i, col := range header {
		if canonical, ok := csvToFeature[col]; ok {
			col = canonical
		}
		indices[col] = i
	}

	dateIdx, ok := indices[dateColumn]
	if !ok {
		return nil, fmt.Errorf("dataset missing %q column", dateColumn)
	}
	targetIdx, ok := indices[targetColumn]
	if !ok {
		return nil, fmt.Errorf("dataset missing %q column", targetColumn)
	}

	featureIdx := make([]int, FeatureWidth)
	for i, name := range FeatureNames {
		idx, ok := indices[name]
		if !ok {
			return nil, fmt.Errorf("dataset missing feature column %q", name)
		}
		featureIdx[i] = idx
	}

	var records []Record
	skipped := 0
	// NaN marks cells to be filled after the full column is known.
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Malformed rows (ragged, bad quoting) are skipped like any
			// other unusable row; the reader keeps going.
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				skipped++
				continue
			}
			return nil, fmt.Errorf("read dataset: %w", err)
		}

		date, err := parseDate(row[dateIdx])
		if err != nil {
			skipped++
			continue
		}
		goldSpot, err := strconv.ParseFloat(row[targetIdx], 64)
		if err != nil {
			skipped++
			continue
		}

		features := make(FeatureVector, FeatureWidth)
		for i, idx := range featureIdx {
			v, err := strconv.ParseFloat(row[idx], 64)
			if err != nil {
				v = math.NaN()
			}
			features[i] = v
		}

		records = append(records, Record{Date: date, Features: features, GoldSpot: goldSpot})
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("dataset %s contains no usable rows", path)
	}

	fillMissing(records)

	series, err := FromRecords(records)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("path", path).
		Int("rows", series.Len()).
		Int("skipped", skipped).
		Time("first", series.records[0].Date).
		Time("last", series.records[len(series.records)-1].Date).
		Msg("historical dataset loaded")

	return series, nil
}

// FromRecords builds a series from in-memory records, sorting by date and
// rejecting duplicate dates or malformed vectors.
func FromRecords(records []Record) (*Series, error) {
	sorted := make([]Record, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	for i, r := range sorted {
		if len(r.Features) != FeatureWidth {
			return nil, fmt.Errorf("record %s: expected %d features, got %d",
				r.Date.Format("2006-01"), FeatureWidth, len(r.Features))
		}
		if i > 0 && !sorted[i-1].Date.Before(r.Date) {
			return nil, fmt.Errorf("duplicate observation date %s", r.Date.Format("2006-01-02"))
		}
	}

	return &Series{records: sorted}, nil
}

// fillMissing replaces NaN cells: GPR/GPRA fall back to the index baseline,
// every other column falls back to its mean over the present values.
func fillMissing(records []Record) {
	for col, name := range FeatureNames {
		if name == "GPR" || name == "GPRA" {
			for i := range records {
				if math.IsNaN(records[i].Features[col]) {
					records[i].Features[col] = gprBaseline
				}
			}
			continue
		}

		sum, n := 0.0, 0
		for i := range records {
			if v := records[i].Features[col]; !math.IsNaN(v) {
				sum += v
				n++
			}
		}
		mean := 0.0
		if n > 0 {
			mean = sum / float64(n)
		}
		for i := range records {
			if math.IsNaN(records[i].Features[col]) {
				records[i].Features[col] = mean
			}
		}
	}
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", "2006-01", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}

// Len returns the number of observations.
func (s *Series) Len() int { return len(s.records) }

// Records returns the full ordered series.
func (s *Series) Records() []Record { return s.records }

// Tail returns the most recent n records in chronological order. If fewer
// than n exist, all records are returned.
func (s *Series) Tail(n int) []Record {
	if n >= len(s.records) {
		return s.records
	}
	return s.records[len(s.records)-n:]
}

// Last returns the most recent observation.
func (s *Series) Last() (Record, bool) {
	if len(s.records) == 0 {
		return Record{}, false
	}
	return s.records[len(s.records)-1], true
}

// TailFeatures returns the feature rows of the most recent n records in
// chronological order, or false if the series holds fewer than n records.
func (s *Series) TailFeatures(n int) ([][]float64, bool) {
	if len(s.records) < n {
		return nil, false
	}
	rows := make([][]float64, n)
	for i, r := range s.records[len(s.records)-n:] {
		row := make([]float64, FeatureWidth)
		copy(row, r.Features)
		rows[i] = row
	}
	return rows, true
}
