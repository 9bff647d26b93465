// Command collect refreshes the macro indicator dataset from the FRED API.
// It fetches monthly observations for each indicator series and merges them
// into the dataset CSV, preserving columns it does not own (gold spot and
// the market series maintained by other pipelines).
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"
	"time"

	"goldsight/internal/cfg"

	"github.com/go-resty/resty/v2"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// fredSeries maps dataset CSV columns to the FRED series they come from.
// Columns absent here (Gold_Spot, Silver_Futures, SP_500, GPR, GPRA) are
// sourced elsewhere and left untouched by the collector.
var fredSeries = map[string]string{
	"CPI":                "CPIAUCSL",
	"USD_Index":          "DTWEXBGS",
	"Real_Interest_Rate": "REAINTRATREARAT10Y",
	"Unemployment":       "UNRATE",
	"^VIX":               "VIXCLS",
	"Crude_Oil":          "DCOILWTICO",
	"Fed_Funds_Rate":     "FEDFUNDS",
	"Treasury_Yield_10Y": "DGS10",
}

type observation struct {
	Date  string `json:"date"`
	Value string `json:"value"`
}

type observationsResponse struct {
	Observations []observation `json:"observations"`
}

// Collector fetches monthly indicator observations from the FRED API.
type Collector struct {
	client  *resty.Client
	baseURL string
	apiKey  string
}

func NewCollector(baseURL, apiKey string) *Collector {
	client := resty.New()
	client.SetTimeout(30 * time.Second)
	client.SetRetryCount(3)
	client.SetRetryWaitTime(5 * time.Second)

	return &Collector{client: client, baseURL: baseURL, apiKey: apiKey}
}

// FetchSeries returns monthly observations for one series, keyed by
// ISO date. Missing observations (FRED reports them as ".") are skipped.
func (c *Collector) FetchSeries(ctx context.Context, seriesID string, start, end time.Time) (map[string]float64, error) {
	url := fmt.Sprintf("%s/fred/series/observations", c.baseURL)

	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"series_id":          seriesID,
			"api_key":            c.apiKey,
			"file_type":          "json",
			"observation_start":  start.Format("2006-01-02"),
			"observation_end":    end.Format("2006-01-02"),
			"frequency":          "m",
			"aggregation_method": "avg",
		}).
		Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", seriesID, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d for %s: %s", resp.StatusCode(), seriesID, resp.String())
	}

	var parsed observationsResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return nil, fmt.Errorf("parse response for %s: %w", seriesID, err)
	}

	values := make(map[string]float64, len(parsed.Observations))
	for _, obs := range parsed.Observations {
		v, err := strconv.ParseFloat(obs.Value, 64)
		if err != nil {
			continue // "." marks a missing observation
		}
		values[obs.Date] = v
	}
	return values, nil
}

func main() {
	_ = godotenv.Load()

	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	var (
		out     = flag.String("out", c.DatasetPath, "dataset CSV to update")
		start   = flag.String("start", "2010-01-01", "observation start date (YYYY-MM-DD)")
		end     = flag.String("end", time.Now().Format("2006-01-02"), "observation end date (YYYY-MM-DD)")
		baseURL = flag.String("base-url", c.DataAPIBaseURL, "FRED API base URL")
		apiKey  = flag.String("api-key", c.DataAPIKey, "FRED API key")
	)
	flag.Parse()

	if *apiKey == "" {
		log.Fatal().Msg("API key is required (flag -api-key or DATA_API_KEY)")
	}

	startDate, err := time.Parse("2006-01-02", *start)
	if err != nil {
		log.Fatal().Err(err).Str("start", *start).Msg("invalid start date")
	}
	endDate, err := time.Parse("2006-01-02", *end)
	if err != nil {
		log.Fatal().Err(err).Str("end", *end).Msg("invalid end date")
	}

	collector := NewCollector(*baseURL, *apiKey)
	ctx := context.Background()

	columns := make(map[string]map[string]float64, len(fredSeries))
	for column, seriesID := range fredSeries {
		values, err := collector.FetchSeries(ctx, seriesID, startDate, endDate)
		if err != nil {
			log.Fatal().Err(err).Str("series", seriesID).Msg("series fetch failed")
		}
		columns[column] = values
		log.Info().Str("series", seriesID).Str("column", column).Int("observations", len(values)).Msg("series fetched")
	}

	if err := mergeIntoCSV(*out, columns); err != nil {
		log.Fatal().Err(err).Str("path", *out).Msg("dataset merge failed")
	}
	log.Info().Str("path", *out).Msg("dataset updated")
}

// mergeIntoCSV updates the dataset file in place: existing cells for the
// fetched columns are overwritten, new dates are appended, and all other
// columns pass through unchanged. A missing file is created from scratch.
func mergeIntoCSV(path string, columns map[string]map[string]float64) error {
	header, rows, err := readCSV(path)
	if err != nil {
		return err
	}
	if len(header) == 0 {
		header = []string{"Date"}
	}

	colIdx := make(map[string]int, len(header))
	for i, name := range header {
		colIdx[name] = i
	}
	if _, ok := colIdx["Date"]; !ok {
		return fmt.Errorf("dataset %s has no Date column", path)
	}

	// Add columns the file does not have yet.
	names := make([]string, 0, len(columns))
	for name := range columns {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := colIdx[name]; !ok {
			colIdx[name] = len(header)
			header = append(header, name)
		}
	}

	byDate := make(map[string][]string, len(rows))
	for _, row := range rows {
		padded := make([]string, len(header))
		copy(padded, row)
		byDate[padded[colIdx["Date"]]] = padded
	}

	for _, name := range names {
		idx := colIdx[name]
		for date, value := range columns[name] {
			row, ok := byDate[date]
			if !ok {
				row = make([]string, len(header))
				row[colIdx["Date"]] = date
				byDate[date] = row
			}
			row[idx] = strconv.FormatFloat(value, 'f', -1, 64)
		}
	}

	dates := make([]string, 0, len(byDate))
	for date := range byDate {
		dates = append(dates, date)
	}
	sort.Strings(dates) // ISO dates sort chronologically

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create dataset: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, date := range dates {
		if err := w.Write(byDate[date]); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

func readCSV(path string) ([]string, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	all, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("read dataset: %w", err)
	}
	if len(all) == 0 {
		return nil, nil, nil
	}
	return all[0], all[1:], nil
}
