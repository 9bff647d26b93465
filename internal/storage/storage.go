// Package storage persists forecast run history for the service. It uses
// BoltDB as the underlying storage engine and stores one record per
// completed forecast invocation, keyed by creation time for efficient
// range queries. Runs are immutable once stored.
package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"goldsight/internal/forecast"

	"go.etcd.io/bbolt"
)

const runsBucket = "runs"

// ForecastRun is one persisted forecast invocation: the scenario that
// produced it, the horizon and the resulting points.
type ForecastRun struct {
	ID        string             `json:"id"`
	CreatedAt time.Time          `json:"created_at"`
	Scenario  map[string]float64 `json:"scenario"`
	Horizon   int                `json:"horizon"`
	Points    []forecast.Point   `json:"points"`
}

// Store provides persistent storage for forecast runs using BoltDB.
type Store struct {
	db *bbolt.DB
}

// New opens the run database under dataPath and creates the bucket.
func New(dataPath string) (*Store, error) {
	dbPath := filepath.Join(dataPath, "goldsight-runs.db")

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(runsBucket)); err != nil {
			return fmt.Errorf("create runs bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database connection gracefully.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// StoreRun persists a completed forecast run. The key is the run's creation
// timestamp, so iteration order is chronological.
func (s *Store) StoreRun(run ForecastRun) error {
	if run.ID == "" {
		run.ID = fmt.Sprintf("run_%d", run.CreatedAt.UnixNano())
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(runsBucket))

		data, err := json.Marshal(run)
		if err != nil {
			return fmt.Errorf("marshal forecast run: %w", err)
		}

		return b.Put(runKey(run.CreatedAt), data)
	})
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(limit int) ([]ForecastRun, error) {
	var runs []ForecastRun

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(runsBucket)).Cursor()

		for k, v := c.Last(); k != nil && len(runs) < limit; k, v = c.Prev() {
			var run ForecastRun
			if err := json.Unmarshal(v, &run); err != nil {
				continue // Skip malformed records
			}
			runs = append(runs, run)
		}
		return nil
	})

	return runs, err
}

// RunsInRange returns runs created within [start, end], oldest first.
func (s *Store) RunsInRange(start, end time.Time) ([]ForecastRun, error) {
	var runs []ForecastRun

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(runsBucket)).Cursor()

		startKey := runKey(start)
		endKey := runKey(end)

		for k, v := c.Seek(startKey); k != nil && bytes.Compare(k, endKey) <= 0; k, v = c.Next() {
			var run ForecastRun
			if err := json.Unmarshal(v, &run); err != nil {
				continue
			}
			runs = append(runs, run)
		}
		return nil
	})

	return runs, err
}

func runKey(t time.Time) []byte {
	return []byte(fmt.Sprintf("%020d", t.UnixNano()))
}
