package storage

import (
	"encoding/json"
	"fmt"

	"churn-predictor/internal/ml"

	"go.etcd.io/bbolt"
)

const candidatesBucket = "candidates"

// StoreCandidates keeps the cross-validated grid of one run.
func (s *Store) StoreCandidates(runID string, scores []ml.CandidateScore) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(candidatesBucket))

		data, err := json.Marshal(scores)
		if err != nil {
			return fmt.Errorf("marshal candidate scores: %w", err)
		}
		return b.Put([]byte(runID), data)
	})
}

// GetCandidates returns the grid stored for runID, or nil if none was.
func (s *Store) GetCandidates(runID string) ([]ml.CandidateScore, error) {
	var scores []ml.CandidateScore
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(candidatesBucket)).Get([]byte(runID))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &scores)
	})
	return scores, err
}
