package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"churn-predictor/internal/common"

	"github.com/rs/zerolog/log"
)

// envelope is the file layout. Payload is kept as raw bytes so the checksum
// is computed over exactly what was written.
type envelope struct {
	Format   string          `json:"format"`
	Checksum string          `json:"checksum"`
	Payload  json.RawMessage `json:"payload"`
}

// Save writes a to path and returns the payload checksum. The file is
// written to a temporary sibling, synced and renamed into place, so an
// existing artifact stays intact until the new one is complete.
func Save(path string, a *Artifact) (string, error) {
	fail := func(err error) (string, error) {
		return "", &common.PersistError{Op: "save", Path: path, Err: err}
	}

	payload, err := json.Marshal(a)
	if err != nil {
		return fail(fmt.Errorf("encode: %w", err))
	}
	sum := sha256.Sum256(payload)
	checksum := hex.EncodeToString(sum[:])

	data, err := json.Marshal(envelope{Format: Format, Checksum: checksum, Payload: payload})
	if err != nil {
		return fail(fmt.Errorf("encode envelope: %w", err))
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fail(err)
	}
	tmp, err := os.CreateTemp(dir, ".churn-model-*.tmp")
	if err != nil {
		return fail(err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fail(err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return fail(err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fail(err)
	}

	log.Info().
		Str("path", path).
		Str("checksum", checksum).
		Str("schema_version", a.Schema.Version).
		Int("bytes", len(data)).
		Msg("Artifact saved")
	return checksum, nil
}

// Load reads and verifies an artifact. Any problem, from a missing file to
// a selector that does not fit the schema, is a *common.PersistError.
func Load(path string) (*Artifact, error) {
	fail := func(err error) (*Artifact, error) {
		return nil, &common.PersistError{Op: "load", Path: path, Err: err}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fail(err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fail(fmt.Errorf("decode envelope: %w", err))
	}
	if env.Format != Format {
		return fail(fmt.Errorf("unsupported format %q", env.Format))
	}
	if len(env.Payload) == 0 {
		return fail(errors.New("empty payload"))
	}
	sum := sha256.Sum256(env.Payload)
	if got := hex.EncodeToString(sum[:]); got != env.Checksum {
		return fail(fmt.Errorf("checksum mismatch: file says %s, payload hashes to %s", env.Checksum, got))
	}

	var a Artifact
	if err := json.Unmarshal(env.Payload, &a); err != nil {
		return fail(fmt.Errorf("decode payload: %w", err))
	}
	if err := a.bind(); err != nil {
		return fail(err)
	}

	log.Debug().
		Str("path", path).
		Str("run_id", a.RunID).
		Str("schema_version", a.Schema.Version).
		Msg("Artifact loaded")
	return &a, nil
}
