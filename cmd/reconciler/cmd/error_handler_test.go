package cmd

import (
	"bytes"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/multierr"

	"golang-bank-matching-engine/pkg/errors"
)

func TestCLIErrorHandler_ExitCodes(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		exitCode int
		contains []string
	}{
		{name: "no error", err: nil, exitCode: 0},
		{
			name:     "validation",
			err:      errors.ValidationError(errors.CodeMissingField, "actor", "", nil),
			exitCode: 3,
			contains: []string{"Error: ", "Suggestion:", "Validation error help"},
		},
		{
			name:     "configuration",
			err:      errors.ConfigurationError(errors.CodeInvalidConfig, "min_confidence_threshold", 101, nil),
			exitCode: 4,
			contains: []string{"Configuration error help"},
		},
		{
			name:     "matching",
			err:      errors.MatchingError(errors.CodeGroupIncomplete, "G1", nil),
			exitCode: 5,
			contains: []string{"match group G1 is half-applied", "groups check --repair"},
		},
		{
			name:     "persistence wrapped",
			err:      fmt.Errorf("scope ACC-1: %w", errors.PersistenceError(errors.CodeApplyFailed, "apply matches", os.ErrClosed)),
			exitCode: 6,
			contains: []string{"Persistence error help", "Cause: "},
		},
		{
			name:     "missing file",
			err:      fmt.Errorf("open rules.yaml: %w", os.ErrNotExist),
			exitCode: 1,
			contains: []string{"File not found"},
		},
		{
			name:     "generic",
			err:      fmt.Errorf(`required flag(s) "entity" not set`),
			exitCode: 1,
			contains: []string{"reconciler --help"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			h := NewCLIErrorHandler(&out, false)

			assert.Equal(t, tt.exitCode, h.HandleError(tt.err))
			for _, s := range tt.contains {
				assert.Contains(t, out.String(), s)
			}
			if tt.err == nil {
				assert.Empty(t, out.String())
			}
		})
	}
}

func TestCLIErrorHandler_MultipleScopes(t *testing.T) {
	validation := errors.ValidationError(errors.CodeInvalidDate, "period", "x", nil)
	persistence := errors.PersistenceError(errors.CodeLoadFailed, "load records", os.ErrClosed)

	var out bytes.Buffer
	h := NewCLIErrorHandler(&out, false)

	err := multierr.Combine(
		fmt.Errorf("scope A: %w", validation),
		fmt.Errorf("scope B: %w", persistence),
	)
	assert.Equal(t, 6, h.HandleError(err))
	assert.Contains(t, out.String(), "Found 2 errors")
	assert.Contains(t, out.String(), "scope B")

	out.Reset()
	err = multierr.Combine(fmt.Errorf("scope A: %w", validation), fmt.Errorf("plain failure"))
	assert.Equal(t, 1, h.HandleError(err))
}

func TestCLIErrorHandler_VerboseContext(t *testing.T) {
	var out bytes.Buffer
	err := errors.ValidationError(errors.CodeMissingField, "entity", "", nil).WithContext("flag", "entity")

	NewCLIErrorHandler(&out, true).HandleError(err)
	assert.Contains(t, out.String(), "Context:")
	assert.Contains(t, out.String(), "flag: entity")

	out.Reset()
	NewCLIErrorHandler(&out, false).HandleError(err)
	assert.NotContains(t, out.String(), "Context:")
}

func TestFormatErrors(t *testing.T) {
	assert.Empty(t, FormatErrors(nil))
	assert.Equal(t, "Error: boom", FormatErrors([]error{fmt.Errorf("boom")}))

	var errs []error
	for i := 0; i < 12; i++ {
		errs = append(errs, fmt.Errorf("scope %d failed", i))
	}
	formatted := FormatErrors(errs)
	assert.Contains(t, formatted, "Found 12 errors:")
	assert.Contains(t, formatted, "10. scope 9 failed")
	assert.NotContains(t, formatted, "scope 10 failed")
	assert.Contains(t, formatted, "... and 2 more errors")
}
