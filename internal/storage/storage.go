// Package storage keeps the training run history in a BoltDB file. Every
// run, successful or not, is journalled with its outcome, the artifact it
// produced and the scores that selected the model, so overwriting the single
// served artifact never loses the audit trail.
package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"churn-predictor/internal/ml"

	"go.etcd.io/bbolt"
)

const (
	runsBucket  = "runs"    // time ordered run records
	indexBucket = "run_ids" // run id -> runs key
)

type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// RunRecord is one training run.
type RunRecord struct {
	ID            string        `json:"id"`
	Status        RunStatus     `json:"status"`
	Error         string        `json:"error,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    time.Time     `json:"finished_at"`
	DataPath      string        `json:"data_path"`
	Rows          int           `json:"rows"`
	Seed          int64         `json:"seed"`
	ArtifactPath  string        `json:"artifact_path,omitempty"`
	Checksum      string        `json:"checksum,omitempty"`
	SchemaVersion string        `json:"schema_version,omitempty"`
	Params        ml.TreeParams `json:"params"`
	Scoring       ml.Metric     `json:"scoring"`
	CVScore       float64       `json:"cv_score"`
	Validation    *ml.Report    `json:"validation,omitempty"`
}

// Duration is how long the run took.
func (r RunRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Store provides persistent storage for run history using BoltDB.
type Store struct {
	db *bbolt.DB
}

// New opens (or creates) the history database at path.
func New(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{runsBucket, indexBucket, candidatesBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// runKey sorts by start time; the id suffix keeps concurrent starts apart.
func runKey(r RunRecord) []byte {
	return []byte(fmt.Sprintf("%020d_%s", r.StartedAt.UnixNano(), r.ID))
}

// RecordRun stores r, replacing an earlier record with the same id.
func (s *Store) RecordRun(r RunRecord) error {
	if r.ID == "" {
		return fmt.Errorf("run record without id")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		runs := tx.Bucket([]byte(runsBucket))
		index := tx.Bucket([]byte(indexBucket))

		if old := index.Get([]byte(r.ID)); old != nil {
			if err := runs.Delete(old); err != nil {
				return fmt.Errorf("replace run %s: %w", r.ID, err)
			}
		}

		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal run: %w", err)
		}
		key := runKey(r)
		if err := runs.Put(key, data); err != nil {
			return err
		}
		return index.Put([]byte(r.ID), key)
	})
}

// GetRun looks a run up by id. ok is false when it is unknown.
func (s *Store) GetRun(id string) (run RunRecord, ok bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		key := tx.Bucket([]byte(indexBucket)).Get([]byte(id))
		if key == nil {
			return nil
		}
		data := tx.Bucket([]byte(runsBucket)).Get(key)
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &run); err != nil {
			return fmt.Errorf("unmarshal run %s: %w", id, err)
		}
		ok = true
		return nil
	})
	return run, ok, err
}

// ListRuns returns up to limit runs, newest first. limit <= 0 returns all.
func (s *Store) ListRuns(limit int) ([]RunRecord, error) {
	var runs []RunRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(runsBucket)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var r RunRecord
			if err := json.Unmarshal(v, &r); err != nil {
				continue // Skip malformed records
			}
			runs = append(runs, r)
			if limit > 0 && len(runs) >= limit {
				break
			}
		}
		return nil
	})
	return runs, err
}

// LatestRun returns the most recent run with the given status.
func (s *Store) LatestRun(status RunStatus) (run RunRecord, ok bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(runsBucket)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var r RunRecord
			if err := json.Unmarshal(v, &r); err != nil {
				continue
			}
			if r.Status == status {
				run, ok = r, true
				return nil
			}
		}
		return nil
	})
	return run, ok, err
}

// RunsBetween returns runs started within [start, end], oldest first.
func (s *Store) RunsBetween(start, end time.Time) ([]RunRecord, error) {
	var runs []RunRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(runsBucket)).Cursor()
		startKey := []byte(fmt.Sprintf("%020d", start.UnixNano()))
		endKey := []byte(fmt.Sprintf("%020d~", end.UnixNano()))

		for k, v := c.Seek(startKey); k != nil && bytes.Compare(k, endKey) <= 0; k, v = c.Next() {
			var r RunRecord
			if err := json.Unmarshal(v, &r); err != nil {
				continue
			}
			runs = append(runs, r)
		}
		return nil
	})
	return runs, err
}
