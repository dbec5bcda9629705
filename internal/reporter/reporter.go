// Package reporter renders match runs for people and for the apply step.
//
// Supported output formats:
//   - Console: tables for terminal review
//   - JSON: the run summary plus the candidate list; this is the file
//     `reconciler apply --input` reads back
//   - CSV: one row per candidate for spreadsheets
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(&reporter.ReportConfig{Format: reporter.FormatJSON, IncludeCandidates: true})
//	if err != nil {
//		return err
//	}
//	err = generator.GenerateReport(scopeResults, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"golang-bank-matching-engine/internal/matcher"
	"golang-bank-matching-engine/internal/models"
	"golang-bank-matching-engine/internal/reconciler"
	"golang-bank-matching-engine/pkg/errors"
)

// OutputFormat represents the supported report output formats
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format"`

	IncludeCandidates bool `json:"include_candidates"`
	IncludeSkips      bool `json:"include_skips"`

	// MaxConsoleRows caps the candidate table of console reports; 0 means no cap
	MaxConsoleRows int `json:"max_console_rows"`

	CSVDelimiter rune `json:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:            FormatConsole,
		IncludeCandidates: true,
		IncludeSkips:      true,
		MaxConsoleRows:    50,
		CSVDelimiter:      ',',
		CSVHeaders:        true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "output.format", c.Format, nil).
			WithSuggestion("use one of console, json, csv")
	}

	if c.MaxConsoleRows < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "max_console_rows", c.MaxConsoleRows, nil)
	}

	if c.Format == FormatCSV && (c.CSVDelimiter == 0 || c.CSVDelimiter == '"' || c.CSVDelimiter == '\n' || c.CSVDelimiter == '\r') {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "csv_delimiter", string(c.CSVDelimiter), nil)
	}

	return nil
}

// Summary aggregates the runs of a report
type Summary struct {
	Scopes       int `json:"scopes"`
	FailedScopes int `json:"failed_scopes"`

	BankLines     int `json:"bank_lines"`
	LedgerEntries int `json:"ledger_entries"`

	Candidates       int             `json:"candidates"`
	MatchedBankLines int             `json:"matched_bank_lines"`
	MatchRate        float64         `json:"match_rate"`
	MatchedAmount    decimal.Decimal `json:"matched_amount"`

	PerStage map[models.MatchType]int       `json:"per_stage"`
	PerLevel map[models.ConfidenceLevel]int `json:"per_level"`

	Discarded              int `json:"discarded"`
	UnmatchedBankLines     int `json:"unmatched_bank_lines"`
	UnmatchedLedgerEntries int `json:"unmatched_ledger_entries"`

	Applied   int `json:"applied"`
	Refreshed int `json:"refreshed"`

	GeneratedAt time.Time `json:"generated_at"`
}

// ScopeSummary is the per-scope line of a report
type ScopeSummary struct {
	Scope      models.Scope             `json:"scope"`
	Candidates int                      `json:"candidates"`
	PerStage   map[models.MatchType]int `json:"per_stage,omitempty"`
	Duration   string                   `json:"duration,omitempty"`
	Applied    *reconciler.ApplySummary `json:"applied,omitempty"`
	Error      string                   `json:"error,omitempty"`
}

// Report is the document written by the JSON format
type Report struct {
	Summary        Summary                 `json:"summary"`
	Scopes         []ScopeSummary          `json:"scopes"`
	Candidates     []models.MatchCandidate `json:"candidates"`
	SkippedRules   []matcher.RuleSkip      `json:"skipped_rules,omitempty"`
	SkippedAnchors []matcher.AnchorSkip    `json:"skipped_anchors,omitempty"`
}

// ReportGenerator generates match reports in various formats
type ReportGenerator struct {
	config *ReportConfig
	now    func() time.Time
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &ReportGenerator{
		config: config,
		now:    time.Now,
	}, nil
}

// BuildReport folds scope results into one report
func (rg *ReportGenerator) BuildReport(results []reconciler.ScopeResult) *Report {
	report := &Report{
		Summary: Summary{
			Scopes:        len(results),
			MatchedAmount: decimal.Zero,
			PerStage:      make(map[models.MatchType]int),
			PerLevel:      make(map[models.ConfidenceLevel]int),
			GeneratedAt:   rg.now().UTC(),
		},
		Candidates: []models.MatchCandidate{},
	}
	s := &report.Summary

	for _, res := range results {
		scope := ScopeSummary{Scope: res.Scope, Applied: res.Applied, Error: res.Error}
		if res.Err != nil && scope.Error == "" {
			scope.Error = res.Err.Error()
		}
		if scope.Error != "" {
			s.FailedScopes++
		}

		if run := res.Result; run != nil {
			scope.Candidates = len(run.Candidates)
			scope.PerStage = run.Stats.PerStage
			scope.Duration = run.Duration.String()

			s.BankLines += run.Stats.BankLines
			s.LedgerEntries += run.Stats.LedgerEntries
			s.Candidates += len(run.Candidates)
			s.Discarded += run.Stats.Discarded
			s.UnmatchedBankLines += run.Stats.UnmatchedBankLines
			s.UnmatchedLedgerEntries += run.Stats.UnmatchedLedgerEntries

			seen := make(map[string]bool)
			for _, c := range run.Candidates {
				s.PerStage[c.MatchType]++
				s.PerLevel[c.ConfidenceLevel]++
				if !seen[c.BankLineID] {
					seen[c.BankLineID] = true
					s.MatchedBankLines++
					s.MatchedAmount = s.MatchedAmount.Add(c.BankAmount)
				}
			}

			report.Candidates = append(report.Candidates, run.Candidates...)
			report.SkippedRules = append(report.SkippedRules, run.SkippedRules...)
			report.SkippedAnchors = append(report.SkippedAnchors, run.SkippedAnchors...)
		}

		if res.Applied != nil {
			s.Applied += res.Applied.Applied
			s.Refreshed += res.Applied.Refreshed
		}

		report.Scopes = append(report.Scopes, scope)
	}

	s.MatchRate = percentage(s.MatchedBankLines, s.BankLines)

	if !rg.config.IncludeCandidates {
		report.Candidates = nil
	}
	if !rg.config.IncludeSkips {
		report.SkippedRules = nil
		report.SkippedAnchors = nil
	}

	return report
}

// GenerateReport writes a report of results in the configured format
func (rg *ReportGenerator) GenerateReport(results []reconciler.ScopeResult, writer io.Writer) error {
	report := rg.BuildReport(results)

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(report, writer)
	case FormatJSON:
		return rg.generateJSONReport(report, writer)
	case FormatCSV:
		return rg.generateCSVReport(report, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// GenerateRunReport writes a report of a single run
func (rg *ReportGenerator) GenerateRunReport(result *matcher.RunResult, applied *reconciler.ApplySummary, writer io.Writer) error {
	if result == nil {
		return errors.ValidationError(errors.CodeMissingField, "result", nil, nil)
	}
	return rg.GenerateReport([]reconciler.ScopeResult{{Scope: result.Scope, Result: result, Applied: applied}}, writer)
}

func (rg *ReportGenerator) generateJSONReport(report *Report, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}

var csvHeaders = []string{
	"bank_line_id",
	"ledger_entry_id",
	"match_type",
	"confidence_score",
	"confidence_level",
	"matching_rule_id",
	"match_group_id",
	"group_size",
	"bank_date",
	"ledger_date",
	"bank_amount",
	"ledger_amount",
	"date_difference_days",
	"reference_matched",
	"narration",
	"ledger_description",
}

func (rg *ReportGenerator) generateCSVReport(report *Report, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		if err := csvWriter.Write(csvHeaders); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	for _, c := range report.Candidates {
		record := []string{
			c.BankLineID,
			c.LedgerEntryID,
			string(c.MatchType),
			strconv.FormatFloat(c.ConfidenceScore, 'f', 2, 64),
			string(c.ConfidenceLevel),
			c.MatchingRuleID,
			c.MatchGroupID,
			strconv.Itoa(c.GroupSize),
			c.BankDate.Format(models.DateLayout),
			c.LedgerDate.Format(models.DateLayout),
			c.BankAmount.StringFixed(2),
			c.LedgerAmount.StringFixed(2),
			strconv.Itoa(c.DateDifferenceDays),
			strconv.FormatBool(c.ReferenceMatched),
			c.Narration,
			c.LedgerDescription,
		}
		if err := csvWriter.Write(record); err != nil {
			return fmt.Errorf("failed to write candidate %s: %w", c.UnitKey(), err)
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

func (rg *ReportGenerator) generateConsoleReport(report *Report, writer io.Writer) error {
	s := report.Summary

	fmt.Fprintf(writer, "MATCH REPORT\n")
	fmt.Fprintf(writer, "Generated: %s\n\n", s.GeneratedAt.Format(time.RFC3339))

	fmt.Fprintf(writer, "=== SUMMARY ===\n")
	tw := tabwriter.NewWriter(writer, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Scopes:\t%d (%d failed)\n", s.Scopes, s.FailedScopes)
	fmt.Fprintf(tw, "Bank lines:\t%d\n", s.BankLines)
	fmt.Fprintf(tw, "Ledger entries:\t%d\n", s.LedgerEntries)
	fmt.Fprintf(tw, "Candidates:\t%d\n", s.Candidates)
	fmt.Fprintf(tw, "Matched bank lines:\t%d (%.1f%%)\n", s.MatchedBankLines, s.MatchRate)
	fmt.Fprintf(tw, "Matched amount:\t%s\n", s.MatchedAmount.StringFixed(2))
	fmt.Fprintf(tw, "Discarded below threshold:\t%d\n", s.Discarded)
	fmt.Fprintf(tw, "Unmatched bank lines:\t%d\n", s.UnmatchedBankLines)
	fmt.Fprintf(tw, "Unmatched ledger entries:\t%d\n", s.UnmatchedLedgerEntries)
	if s.Applied > 0 || s.Refreshed > 0 {
		fmt.Fprintf(tw, "Applied:\t%d (%d refreshed)\n", s.Applied, s.Refreshed)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(writer, "\n=== MATCHES BY STAGE ===\n")
	tw = tabwriter.NewWriter(writer, 0, 0, 2, ' ', 0)
	for _, mt := range stageOrder {
		fmt.Fprintf(tw, "%s\t%d\n", mt, s.PerStage[mt])
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(report.Scopes) > 1 {
		fmt.Fprintf(writer, "\n=== SCOPES ===\n")
		tw = tabwriter.NewWriter(writer, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "SCOPE\tCANDIDATES\tSTATUS")
		for _, sc := range report.Scopes {
			status := "ok"
			if sc.Error != "" {
				status = sc.Error
			}
			fmt.Fprintf(tw, "%s\t%d\t%s\n", sc.Scope, sc.Candidates, status)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	} else if len(report.Scopes) == 1 && report.Scopes[0].Error != "" {
		fmt.Fprintf(writer, "\nFAILED: %s\n", report.Scopes[0].Error)
	}

	if rg.config.IncludeCandidates && len(report.Candidates) > 0 {
		fmt.Fprintf(writer, "\n=== CANDIDATES ===\n")
		if err := rg.printCandidates(report.Candidates, writer); err != nil {
			return err
		}
	}

	if rg.config.IncludeSkips && len(report.SkippedRules) > 0 {
		fmt.Fprintf(writer, "\n=== SKIPPED RULES ===\n")
		for _, skip := range report.SkippedRules {
			fmt.Fprintf(writer, "  - %s (%s): %s\n", skip.RuleID, skip.RuleName, skip.Reason)
		}
	}

	if rg.config.IncludeSkips && len(report.SkippedAnchors) > 0 {
		fmt.Fprintf(writer, "\n=== SKIPPED ANCHORS ===\n")
		for _, skip := range report.SkippedAnchors {
			fmt.Fprintf(writer, "  - %s %s: %d candidates, %s\n", skip.Stage, skip.AnchorID, skip.Candidates, skip.Reason)
		}
	}

	return nil
}

var stageOrder = []models.MatchType{
	models.MatchTypeExact,
	models.MatchTypeRuleBased,
	models.MatchTypeFuzzyDate,
	models.MatchTypeFuzzyAmount,
	models.MatchTypeOneToMany,
	models.MatchTypeManyToOne,
}

func (rg *ReportGenerator) printCandidates(candidates []models.MatchCandidate, writer io.Writer) error {
	rows := make([]models.MatchCandidate, len(candidates))
	copy(rows, candidates)
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].BankDate.Equal(rows[j].BankDate) {
			return rows[i].BankDate.Before(rows[j].BankDate)
		}
		return rows[i].BankLineID < rows[j].BankLineID
	})

	tw := tabwriter.NewWriter(writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "BANK LINE\tLEDGER ENTRY\tTYPE\tSCORE\tLEVEL\tDATE\tAMOUNT\tGROUP")
	for i, c := range rows {
		if rg.config.MaxConsoleRows > 0 && i >= rg.config.MaxConsoleRows {
			fmt.Fprintf(tw, "... and %d more\n", len(rows)-i)
			break
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%s\t%s\t%s\t%s\n",
			c.BankLineID,
			c.LedgerEntryID,
			c.MatchType,
			c.ConfidenceScore,
			c.ConfidenceLevel,
			c.BankDate.Format(models.DateLayout),
			c.BankAmount.StringFixed(2),
			c.MatchGroupID)
	}
	return tw.Flush()
}

func percentage(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}
