package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang-bank-matching-engine/internal/matcher"
	"golang-bank-matching-engine/internal/reporter"
	"golang-bank-matching-engine/pkg/errors"
	"golang-bank-matching-engine/pkg/logger"
)

func TestMatchingConfig_Defaults(t *testing.T) {
	cfg, err := MatchingConfig(New())
	require.NoError(t, err)
	assert.Equal(t, matcher.DefaultMatchingConfig(), cfg)
}

func TestMatchingConfig_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reconciler.yaml")
	content := `
database: /var/lib/reconciler/matches.db
concurrency: 8
matching:
  date_tolerance_days: 5
  amount_tolerance_percent: 1.5
  enable_many_to_one: false
  min_confidence_threshold: 80
log:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	v := New()
	require.NoError(t, ReadFile(v, path))

	cfg, err := MatchingConfig(v)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.DateToleranceDays)
	assert.Equal(t, 1.5, cfg.AmountTolerancePercent)
	assert.False(t, cfg.EnableManyToOne)
	assert.True(t, cfg.EnableOneToMany)
	assert.Equal(t, 80.0, cfg.MinConfidenceThreshold)
	assert.Equal(t, 10, cfg.MaxOneToManyCount)

	assert.Equal(t, "/var/lib/reconciler/matches.db", v.GetString(KeyDatabase))
	n, err := Concurrency(v)
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	logCfg, err := LoggerConfig(v, false)
	require.NoError(t, err)
	assert.Equal(t, logger.DebugLevel, logCfg.Level)
	assert.Equal(t, logger.JSONFormat, logCfg.Format)
}

func TestMatchingConfig_Environment(t *testing.T) {
	t.Setenv("RECONCILER_MATCHING_DATE_TOLERANCE_DAYS", "1")
	t.Setenv("RECONCILER_MATCHING_ENABLE_FUZZY_MATCHING", "false")

	cfg, err := MatchingConfig(New())
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.DateToleranceDays)
	assert.False(t, cfg.EnableFuzzyMatching)
}

func TestMatchingConfig_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value interface{}
	}{
		{name: "negative date tolerance", key: KeyDateTolerance, value: -1},
		{name: "date tolerance beyond a year", key: KeyDateTolerance, value: 100000000},
		{name: "amount tolerance above 100", key: KeyAmountTolerance, value: 150.0},
		{name: "threshold above 100", key: KeyMinConfidence, value: 101},
		{name: "one-to-many below 2", key: KeyMaxOneToMany, value: 1},
		{name: "many-to-one below 2", key: KeyMaxManyToOne, value: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New()
			v.Set(tt.key, tt.value)

			_, err := MatchingConfig(v)
			require.Error(t, err)
			assert.True(t, errors.IsConfigurationError(err))
		})
	}
}

func TestReadFile_Missing(t *testing.T) {
	err := ReadFile(New(), filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	rerr, ok := errors.AsReconcilerError(err)
	require.True(t, ok)
	assert.Equal(t, errors.CodeMissingConfig, rerr.Code)
}

func TestLoggerConfig(t *testing.T) {
	v := New()
	cfg, err := LoggerConfig(v, true)
	require.NoError(t, err)
	assert.Equal(t, logger.DebugLevel, cfg.Level)
	assert.Equal(t, logger.StderrOutput, cfg.Output)

	v.Set(KeyLogFile, filepath.Join(t.TempDir(), "reconciler.log"))
	cfg, err = LoggerConfig(v, false)
	require.NoError(t, err)
	assert.Equal(t, logger.InfoLevel, cfg.Level)
	assert.Equal(t, logger.FileOutput, cfg.Output)

	v.Set(KeyLogLevel, "chatty")
	_, err = LoggerConfig(v, false)
	assert.True(t, errors.IsConfigurationError(err))
}

func TestCreateReportConfig(t *testing.T) {
	tests := []struct {
		format        string
		expected      reporter.OutputFormat
		includeSkips  bool
		expectedError bool
	}{
		{format: "console", expected: reporter.FormatConsole, includeSkips: true},
		{format: "JSON", expected: reporter.FormatJSON, includeSkips: true},
		{format: "csv", expected: reporter.FormatCSV, includeSkips: false},
		{format: "xml", expectedError: true},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			cfg, err := CreateReportConfig(tt.format)
			if tt.expectedError {
				assert.True(t, errors.IsConfigurationError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, cfg.Format)
			assert.True(t, cfg.IncludeCandidates)
			assert.Equal(t, tt.includeSkips, cfg.IncludeSkips)
		})
	}
}

func TestConcurrency_Invalid(t *testing.T) {
	v := New()
	v.Set(KeyConcurrency, 0)
	_, err := Concurrency(v)
	assert.True(t, errors.IsConfigurationError(err))
}

func TestBuildScopes(t *testing.T) {
	scopes, err := BuildScopes(" ENT-1 ", []string{"ACC-1", "ACC-2", "ACC-1", " "}, "2024-03-01", "2024-03-31")
	require.NoError(t, err)
	require.Len(t, scopes, 2)

	assert.Equal(t, "ACC-1", scopes[0].BankAccountID)
	assert.Equal(t, "ACC-2", scopes[1].BankAccountID)
	assert.Equal(t, "ENT-1", scopes[1].EntityID)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), scopes[0].PeriodStart)
	assert.Equal(t, time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC), scopes[0].PeriodEnd)
}

func TestBuildScopes_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		entity   string
		accounts []string
		start    string
		end      string
		code     errors.ErrorCode
	}{
		{name: "missing entity", accounts: []string{"ACC-1"}, start: "2024-03-01", end: "2024-03-31", code: errors.CodeMissingField},
		{name: "missing account", entity: "ENT-1", start: "2024-03-01", end: "2024-03-31", code: errors.CodeMissingField},
		{name: "missing start", entity: "ENT-1", accounts: []string{"ACC-1"}, end: "2024-03-31", code: errors.CodeMissingField},
		{name: "bad end", entity: "ENT-1", accounts: []string{"ACC-1"}, start: "2024-03-01", end: "31/03/2024", code: errors.CodeInvalidDate},
		{name: "start after end", entity: "ENT-1", accounts: []string{"ACC-1"}, start: "2024-04-01", end: "2024-03-31", code: errors.CodeInvalidDate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildScopes(tt.entity, tt.accounts, tt.start, tt.end)
			require.Error(t, err)
			rerr, ok := errors.AsReconcilerError(err)
			require.True(t, ok)
			assert.Equal(t, tt.code, rerr.Code)
			assert.Equal(t, errors.CategoryValidation, rerr.Category)
		})
	}
}
