package common

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorsUnwrapThroughWrapping(t *testing.T) {
	base := &DataLoadError{Path: "hr.csv", Row: 12, Err: os.ErrNotExist}
	wrapped := fmt.Errorf("prepare features: %w", base)

	var dle *DataLoadError
	require.True(t, errors.As(wrapped, &dle))
	assert.Equal(t, 12, dle.Row)
	assert.True(t, errors.Is(wrapped, os.ErrNotExist))
	assert.Contains(t, wrapped.Error(), "row 12")
}

func TestIsValidation(t *testing.T) {
	err := fmt.Errorf("predict: %w", &ValidationError{Field: "city", Reason: "missing"})
	assert.True(t, IsValidation(err))
	assert.False(t, IsValidation(&PersistError{Op: "load", Path: "x", Err: os.ErrNotExist}))
	assert.Equal(t, `validation: field "city": missing`, errors.Unwrap(err).Error())
}

func TestConfigErrorMessage(t *testing.T) {
	err := &ConfigError{Key: "max_depth", Reason: "required key is missing"}
	assert.Equal(t, "config: max_depth: required key is missing", err.Error())

	err = &ConfigError{Key: "csv_path", Reason: "cannot read", Err: os.ErrPermission}
	assert.True(t, errors.Is(err, os.ErrPermission))
}

func TestServiceUnavailableError(t *testing.T) {
	cause := &PersistError{Op: "load", Path: "model.json", Err: errors.New("checksum mismatch")}
	err := &ServiceUnavailableError{State: "failed", Err: cause}

	var pe *PersistError
	require.True(t, errors.As(err, &pe))
	assert.Contains(t, err.Error(), "checksum mismatch")
	assert.Equal(t, "service unavailable (state loading)", (&ServiceUnavailableError{State: "loading"}).Error())
}
