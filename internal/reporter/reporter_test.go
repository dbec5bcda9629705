package reporter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"golang-bank-matching-engine/internal/matcher"
	"golang-bank-matching-engine/internal/models"
	"golang-bank-matching-engine/internal/reconciler"
	"golang-bank-matching-engine/pkg/errors"
	"golang-bank-matching-engine/pkg/logger"
)

func day(d int) time.Time {
	return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC)
}

func candidate(bankID, ledgerID string, matchType models.MatchType, score float64, amount string) models.MatchCandidate {
	return models.MatchCandidate{
		BankLineID:        bankID,
		LedgerEntryID:     ledgerID,
		MatchType:         matchType,
		ConfidenceScore:   score,
		ConfidenceLevel:   matcher.LevelForScore(score),
		BankDate:          day(5),
		LedgerDate:        day(5),
		BankAmount:        decimal.RequireFromString(amount),
		LedgerAmount:      decimal.RequireFromString(amount),
		Narration:         "narration " + bankID,
		LedgerDescription: "entry, " + ledgerID,
	}
}

func sampleResults() []reconciler.ScopeResult {
	scope := models.Scope{BankAccountID: "ACC-1", EntityID: "ENT-1", PeriodStart: day(1), PeriodEnd: day(31)}

	g1 := candidate("B2", "L2", models.MatchTypeOneToMany, 75, "300")
	g2 := candidate("B2", "L3", models.MatchTypeOneToMany, 75, "300")
	g1.LedgerAmount = decimal.RequireFromString("100")
	g2.LedgerAmount = decimal.RequireFromString("200")
	for _, c := range []*models.MatchCandidate{&g1, &g2} {
		c.MatchGroupID = "G1"
		c.GroupSize = 2
	}

	run := &matcher.RunResult{
		Scope: scope,
		Candidates: []models.MatchCandidate{
			candidate("B1", "L1", models.MatchTypeExact, 100, "100.50"),
			g1, g2,
		},
		SkippedRules:   []matcher.RuleSkip{{RuleID: "R1", RuleName: "Broken", Reason: "invalid narration pattern"}},
		SkippedAnchors: []matcher.AnchorSkip{{Stage: models.MatchTypeManyToOne, AnchorID: "L9", Candidates: 40, Reason: matcher.ReasonTooManyCandidates}},
		Stats: matcher.RunStats{
			BankLines:              4,
			LedgerEntries:          5,
			PerStage:               map[models.MatchType]int{models.MatchTypeExact: 1, models.MatchTypeOneToMany: 2},
			Discarded:              1,
			UnmatchedBankLines:     2,
			UnmatchedLedgerEntries: 2,
		},
		Duration: 15 * time.Millisecond,
	}

	failed := models.Scope{BankAccountID: "ACC-2", EntityID: "ENT-1", PeriodStart: day(1), PeriodEnd: day(31)}
	return []reconciler.ScopeResult{
		{Scope: scope, Result: run, Applied: &reconciler.ApplySummary{Applied: 2, Refreshed: 1}},
		{Scope: failed, Err: fmt.Errorf("database is locked"), Error: "database is locked"},
	}
}

func newGenerator(t *testing.T, config *ReportConfig) *ReportGenerator {
	t.Helper()
	generator, err := NewReportGenerator(config)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	generator.now = func() time.Time { return time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC) }
	return generator
}

func TestNewReportGenerator(t *testing.T) {
	tests := []struct {
		name        string
		config      *ReportConfig
		expectError bool
	}{
		{name: "default config", config: nil},
		{name: "valid config", config: DefaultReportConfig()},
		{name: "invalid format", config: &ReportConfig{Format: "xml"}, expectError: true},
		{name: "negative row cap", config: &ReportConfig{Format: FormatConsole, MaxConsoleRows: -1}, expectError: true},
		{name: "csv without delimiter", config: &ReportConfig{Format: FormatCSV}, expectError: true},
		{name: "csv with quote delimiter", config: &ReportConfig{Format: FormatCSV, CSVDelimiter: '"'}, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			generator, err := NewReportGenerator(tt.config)
			if tt.expectError {
				if err == nil {
					t.Fatalf("expected error but got none")
				}
				if !errors.IsConfigurationError(err) {
					t.Errorf("expected a configuration error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if generator == nil {
				t.Fatal("expected generator, got nil")
			}
		})
	}
}

func TestBuildReport(t *testing.T) {
	report := newGenerator(t, nil).BuildReport(sampleResults())
	s := report.Summary

	if s.Scopes != 2 || s.FailedScopes != 1 {
		t.Errorf("expected 2 scopes with 1 failed, got %d with %d failed", s.Scopes, s.FailedScopes)
	}
	if s.Candidates != 3 {
		t.Errorf("expected 3 candidates, got %d", s.Candidates)
	}
	if s.MatchedBankLines != 2 {
		t.Errorf("expected 2 matched bank lines, got %d", s.MatchedBankLines)
	}
	if !s.MatchedAmount.Equal(decimal.RequireFromString("400.50")) {
		t.Errorf("expected matched amount 400.50, got %s", s.MatchedAmount)
	}
	if s.MatchRate != 50 {
		t.Errorf("expected match rate 50, got %.2f", s.MatchRate)
	}
	if s.PerStage[models.MatchTypeOneToMany] != 2 || s.PerStage[models.MatchTypeExact] != 1 {
		t.Errorf("unexpected per stage counts: %v", s.PerStage)
	}
	if s.PerLevel[models.ConfidenceHigh] != 1 || s.PerLevel[models.ConfidenceMedium] != 2 {
		t.Errorf("unexpected per level counts: %v", s.PerLevel)
	}
	if s.Applied != 2 || s.Refreshed != 1 {
		t.Errorf("expected 2 applied and 1 refreshed, got %d and %d", s.Applied, s.Refreshed)
	}
	if len(report.Scopes) != 2 || report.Scopes[1].Error != "database is locked" {
		t.Errorf("unexpected scope summaries: %+v", report.Scopes)
	}

	trimmed := newGenerator(t, &ReportConfig{Format: FormatJSON}).BuildReport(sampleResults())
	if trimmed.Candidates != nil || trimmed.SkippedRules != nil || trimmed.SkippedAnchors != nil {
		t.Error("expected candidates and skips to be left out")
	}
}

func TestGenerateJSONReport(t *testing.T) {
	generator := newGenerator(t, &ReportConfig{Format: FormatJSON, IncludeCandidates: true, IncludeSkips: true})

	var buf bytes.Buffer
	if err := generator.GenerateReport(sampleResults(), &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("report is not valid JSON: %v", err)
	}
	for _, key := range []string{"summary", "scopes", "candidates", "skipped_rules", "skipped_anchors"} {
		if _, ok := doc[key]; !ok {
			t.Errorf("expected key %q in report", key)
		}
	}
	if !strings.Contains(string(doc["summary"]), `"matched_amount": "400.5"`) {
		t.Errorf("expected decimal amounts as strings, got %s", doc["summary"])
	}

	// The report is the input of the apply step
	candidates, err := ReadCandidates(&buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candidates) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(candidates))
	}
	if candidates[1].MatchGroupID != "G1" || candidates[1].GroupSize != 2 {
		t.Errorf("group fields lost: %+v", candidates[1])
	}
	if !candidates[0].BankDate.Equal(day(5)) {
		t.Errorf("expected bank date %s, got %s", day(5), candidates[0].BankDate)
	}
}

func TestGenerateCSVReport(t *testing.T) {
	generator := newGenerator(t, &ReportConfig{Format: FormatCSV, IncludeCandidates: true, CSVDelimiter: ';', CSVHeaders: true})

	var buf bytes.Buffer
	if err := generator.GenerateReport(sampleResults(), &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reader := csv.NewReader(&buf)
	reader.Comma = ';'
	records, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("output is not valid CSV: %v", err)
	}

	if len(records) != 4 {
		t.Fatalf("expected header plus 3 rows, got %d", len(records))
	}
	if records[0][0] != "bank_line_id" || len(records[0]) != len(csvHeaders) {
		t.Errorf("unexpected header: %v", records[0])
	}
	if records[1][2] != "exact" || records[1][3] != "100.00" || records[1][10] != "100.50" {
		t.Errorf("unexpected first row: %v", records[1])
	}
	if records[2][6] != "G1" || records[2][7] != "2" {
		t.Errorf("unexpected group row: %v", records[2])
	}
	if records[3][15] != "entry, L3" {
		t.Errorf("expected quoted description to survive, got %q", records[3][15])
	}
}

func TestGenerateConsoleReport(t *testing.T) {
	config := DefaultReportConfig()
	config.MaxConsoleRows = 2
	generator := newGenerator(t, config)

	var buf bytes.Buffer
	if err := generator.GenerateReport(sampleResults(), &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	output := buf.String()

	for _, want := range []string{
		"MATCH REPORT",
		"=== SUMMARY ===",
		"=== MATCHES BY STAGE ===",
		"=== SCOPES ===",
		"database is locked",
		"=== CANDIDATES ===",
		"... and 1 more",
		"=== SKIPPED RULES ===",
		"R1 (Broken)",
		"=== SKIPPED ANCHORS ===",
		"many_to_one L9: 40 candidates, too_many_candidates",
		"400.50",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected console report to contain %q", want)
		}
	}
}

func TestGenerateRunReport(t *testing.T) {
	generator := newGenerator(t, &ReportConfig{Format: FormatConsole})

	if err := generator.GenerateRunReport(nil, nil, &bytes.Buffer{}); err == nil {
		t.Error("expected error for nil result")
	}

	var buf bytes.Buffer
	run := sampleResults()[0].Result
	if err := generator.GenerateRunReport(run, nil, &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(buf.String(), "=== SCOPES ===") {
		t.Error("single run report should not list scopes")
	}
}

func TestReadCandidates(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		errCode errors.ErrorCode
	}{
		{name: "bare array", input: `[{"bank_line_id":"B1","ledger_entry_id":"L1","match_type":"exact","bank_date":"2024-03-05","ledger_date":"2024-03-05","bank_amount":"10","ledger_amount":"10"}]`, want: 1},
		{name: "empty report list", input: `{"summary":{},"candidates":[]}`, want: 0},
		{name: "report without candidates", input: `{"summary":{}}`, errCode: errors.CodeMissingField},
		{name: "null candidates", input: `{"candidates":null}`, errCode: errors.CodeMissingField},
		{name: "empty input", input: "  \n", errCode: errors.CodeMissingField},
		{name: "not json", input: "bank_line_id,ledger_entry_id", errCode: errors.CodeInvalidFormat},
		{name: "bad date", input: `[{"bank_line_id":"B1","bank_date":"05/03/2024"}]`, errCode: errors.CodeInvalidFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			candidates, err := ReadCandidates(strings.NewReader(tt.input))
			if tt.errCode != "" {
				rerr, ok := errors.AsReconcilerError(err)
				if !ok {
					t.Fatalf("expected ReconcilerError, got %v", err)
				}
				if rerr.Code != tt.errCode {
					t.Errorf("expected code %s, got %s", tt.errCode, rerr.Code)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(candidates) != tt.want {
				t.Errorf("expected %d candidates, got %d", tt.want, len(candidates))
			}
		})
	}
}

func TestSafeReportGenerator_WriteReportFile(t *testing.T) {
	srg, err := NewSafeReportGenerator(&ReportConfig{Format: FormatJSON, IncludeCandidates: true}, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	path := filepath.Join(t.TempDir(), "out", "march.json")
	if err := srg.WriteReportFile(sampleResults(), path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("report file missing: %v", err)
	}
	defer f.Close()

	candidates, err := ReadCandidates(f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candidates) != 3 {
		t.Errorf("expected 3 candidates, got %d", len(candidates))
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the report in the directory, found %d entries", len(entries))
	}

	if err := srg.WriteReport(sampleResults(), nil); err == nil {
		t.Error("expected error for nil writer")
	}
}
