// Package config builds the CLI's runtime configuration from viper.
//
// Settings come, in increasing priority, from defaults, the YAML file given
// with --config, RECONCILER_* environment variables and command-line flags.
// Nested keys map to environment variables with dots replaced by
// underscores, e.g. matching.date_tolerance_days is
// RECONCILER_MATCHING_DATE_TOLERANCE_DAYS.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"golang-bank-matching-engine/internal/matcher"
	"golang-bank-matching-engine/internal/models"
	"golang-bank-matching-engine/internal/reconciler"
	"golang-bank-matching-engine/internal/reporter"
	"golang-bank-matching-engine/pkg/errors"
	"golang-bank-matching-engine/pkg/logger"
)

// EnvPrefix is the prefix of every environment variable the CLI reads
const EnvPrefix = "RECONCILER"

// Configuration keys
const (
	KeyDatabase     = "database"
	KeyActor        = "actor"
	KeyConcurrency  = "concurrency"
	KeyOutputFormat = "output.format"
	KeyLogLevel     = "log.level"
	KeyLogFormat    = "log.format"
	KeyLogFile      = "log.file"

	KeyDateTolerance   = "matching.date_tolerance_days"
	KeyAmountTolerance = "matching.amount_tolerance_percent"
	KeyEnableFuzzy     = "matching.enable_fuzzy_matching"
	KeyEnableOneToMany = "matching.enable_one_to_many"
	KeyEnableManyToOne = "matching.enable_many_to_one"
	KeyEnableRules     = "matching.enable_rule_based"
	KeyMinConfidence   = "matching.min_confidence_threshold"
	KeyMaxOneToMany    = "matching.max_one_to_many_count"
	KeyMaxManyToOne    = "matching.max_many_to_one_count"
)

// DefaultDatabase is the SQLite file used when none is configured
const DefaultDatabase = "reconciler.db"

// New returns a viper instance configured for the CLI
func New() *viper.Viper {
	v := viper.New()
	Configure(v)
	return v
}

// Configure sets the environment binding and defaults on v
func Configure(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
}

// SetDefaults registers the default value of every key
func SetDefaults(v *viper.Viper) {
	m := matcher.DefaultMatchingConfig()

	v.SetDefault(KeyDatabase, DefaultDatabase)
	v.SetDefault(KeyActor, "")
	v.SetDefault(KeyConcurrency, reconciler.DefaultConcurrency)
	v.SetDefault(KeyOutputFormat, string(reporter.FormatConsole))
	v.SetDefault(KeyLogLevel, string(logger.InfoLevel))
	v.SetDefault(KeyLogFormat, string(logger.TextFormat))
	v.SetDefault(KeyLogFile, "")

	v.SetDefault(KeyDateTolerance, m.DateToleranceDays)
	v.SetDefault(KeyAmountTolerance, m.AmountTolerancePercent)
	v.SetDefault(KeyEnableFuzzy, m.EnableFuzzyMatching)
	v.SetDefault(KeyEnableOneToMany, m.EnableOneToMany)
	v.SetDefault(KeyEnableManyToOne, m.EnableManyToOne)
	v.SetDefault(KeyEnableRules, m.EnableRuleBased)
	v.SetDefault(KeyMinConfidence, m.MinConfidenceThreshold)
	v.SetDefault(KeyMaxOneToMany, m.MaxOneToManyCount)
	v.SetDefault(KeyMaxManyToOne, m.MaxManyToOneCount)
}

// ReadFile merges a YAML configuration file into v
func ReadFile(v *viper.Viper, path string) error {
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return errors.ConfigurationError(errors.CodeMissingConfig, "config", path, err).
			WithSuggestion("check the --config path and its YAML syntax")
	}
	return nil
}

// MatchingConfig builds and validates the matching configuration
func MatchingConfig(v *viper.Viper) (*matcher.MatchingConfig, error) {
	cfg := &matcher.MatchingConfig{
		DateToleranceDays:      v.GetInt(KeyDateTolerance),
		AmountTolerancePercent: v.GetFloat64(KeyAmountTolerance),
		EnableFuzzyMatching:    v.GetBool(KeyEnableFuzzy),
		EnableOneToMany:        v.GetBool(KeyEnableOneToMany),
		EnableManyToOne:        v.GetBool(KeyEnableManyToOne),
		EnableRuleBased:        v.GetBool(KeyEnableRules),
		MinConfidenceThreshold: v.GetFloat64(KeyMinConfidence),
		MaxOneToManyCount:      v.GetInt(KeyMaxOneToMany),
		MaxManyToOneCount:      v.GetInt(KeyMaxManyToOne),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoggerConfig builds the logger configuration. A log file switches
// output from stderr to that file.
func LoggerConfig(v *viper.Viper, verbose bool) (*logger.Config, error) {
	cfg := logger.DefaultConfig()
	cfg.Level = logger.Level(strings.ToLower(v.GetString(KeyLogLevel)))
	cfg.Format = logger.Format(strings.ToLower(v.GetString(KeyLogFormat)))
	if verbose {
		cfg.Level = logger.DebugLevel
	}
	if file := v.GetString(KeyLogFile); file != "" {
		cfg.Output = logger.FileOutput
		cfg.File = file
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "log", cfg.Level, err)
	}
	return cfg, nil
}

// CreateReportConfig creates a report configuration for the given output format
func CreateReportConfig(format string) (*reporter.ReportConfig, error) {
	config := reporter.DefaultReportConfig()
	config.Format = reporter.OutputFormat(strings.ToLower(strings.TrimSpace(format)))

	switch config.Format {
	case reporter.FormatJSON:
		// apply --input reads candidates back from the JSON report
		config.IncludeCandidates = true
	case reporter.FormatCSV:
		config.IncludeSkips = false
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Concurrency returns the number of scopes reconciled in parallel
func Concurrency(v *viper.Viper) (int, error) {
	n := v.GetInt(KeyConcurrency)
	if n < 1 {
		return 0, errors.ConfigurationError(errors.CodeInvalidConfig, KeyConcurrency, n, nil).
			WithSuggestion("use a concurrency of at least 1")
	}
	return n, nil
}

// BuildScopes returns one scope per bank account of the entity over the
// inclusive period. Dates use YYYY-MM-DD.
func BuildScopes(entityID string, bankAccounts []string, start, end string) ([]models.Scope, error) {
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return nil, errors.ValidationError(errors.CodeMissingField, "entity", entityID, nil).
			WithSuggestion("pass --entity")
	}

	periodStart, err := parsePeriodDate("start", start)
	if err != nil {
		return nil, err
	}
	periodEnd, err := parsePeriodDate("end", end)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(bankAccounts))
	var scopes []models.Scope
	for _, account := range bankAccounts {
		account = strings.TrimSpace(account)
		if account == "" || seen[account] {
			continue
		}
		seen[account] = true

		scope := models.Scope{
			BankAccountID: account,
			EntityID:      entityID,
			PeriodStart:   periodStart,
			PeriodEnd:     periodEnd,
		}
		if err := scope.Validate(); err != nil {
			return nil, err
		}
		scopes = append(scopes, scope)
	}

	if len(scopes) == 0 {
		return nil, errors.ValidationError(errors.CodeMissingField, "bank-account", strings.Join(bankAccounts, ","), nil).
			WithSuggestion("pass at least one --bank-account")
	}
	return scopes, nil
}

func parsePeriodDate(name, value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, errors.ValidationError(errors.CodeMissingField, name, value, nil).
			WithSuggestion("pass --" + name + " as YYYY-MM-DD")
	}
	t, err := models.ParseDate(value)
	if err != nil {
		if rerr, ok := errors.AsReconcilerError(err); ok {
			return time.Time{}, rerr.WithContext("flag", name)
		}
		return time.Time{}, err
	}
	return t, nil
}
