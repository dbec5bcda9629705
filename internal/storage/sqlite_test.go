package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang-bank-matching-engine/internal/models"
	"golang-bank-matching-engine/pkg/errors"
)

func day(d int) time.Time {
	return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC)
}

func testScope() models.Scope {
	return models.Scope{BankAccountID: "ACC-1", EntityID: "ENT-1", PeriodStart: day(1), PeriodEnd: day(31)}
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "reconciler.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func bankLine(id string, d int, debit string) *models.BankLine {
	return &models.BankLine{
		ID:              id,
		BankAccountID:   "ACC-1",
		EntityID:        "ENT-1",
		TransactionDate: day(d),
		Debit:           decimal.RequireFromString(debit),
		Credit:          decimal.Zero,
		Narration:       "line " + id,
	}
}

func ledgerEntry(id string, d int, amount string) *models.LedgerEntry {
	return &models.LedgerEntry{
		ID:          id,
		EntityID:    "ENT-1",
		EntryDate:   day(d),
		Amount:      decimal.RequireFromString(amount),
		Description: "entry " + id,
		Category:    "bank",
	}
}

func seed(t *testing.T, store *SQLiteStore) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, store.SaveBankLines(ctx, []*models.BankLine{
		bankLine("B1", 5, "100.00"),
		bankLine("B2", 6, "1500.00"),
		bankLine("B3", 7, "40.00"),
		bankLine("B4", 7, "60.00"),
	}))
	require.NoError(t, store.SaveLedgerEntries(ctx, []*models.LedgerEntry{
		ledgerEntry("L1", 5, "-100.00"),
		ledgerEntry("L2", 6, "-500.00"),
		ledgerEntry("L3", 6, "-1000.00"),
		ledgerEntry("L4", 7, "100.00"),
	}))
}

func exactCandidate(bankID, ledgerID string) models.MatchCandidate {
	return models.MatchCandidate{
		BankLineID:      bankID,
		LedgerEntryID:   ledgerID,
		MatchType:       models.MatchTypeExact,
		ConfidenceScore: 100,
		ConfidenceLevel: models.ConfidenceHigh,
	}
}

func groupCandidates(matchType models.MatchType, groupID string, pairs ...[2]string) []models.MatchCandidate {
	out := make([]models.MatchCandidate, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, models.MatchCandidate{
			BankLineID:      p[0],
			LedgerEntryID:   p[1],
			MatchType:       matchType,
			ConfidenceScore: 75,
			ConfidenceLevel: models.ConfidenceMedium,
			MatchGroupID:    groupID,
			GroupSize:       len(pairs),
		})
	}
	return out
}

func TestSQLiteStore_Migrate(t *testing.T) {
	store := newTestStore(t)

	// Running again is a no-op
	version, err := store.Migrate()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
}

func TestSQLiteStore_UnmatchedRecords(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seed(t, store)

	other := bankLine("B9", 5, "10.00")
	other.BankAccountID = "ACC-2"
	accrual := ledgerEntry("L9", 5, "10.00")
	accrual.Category = "payable"
	require.NoError(t, store.SaveBankLines(ctx, []*models.BankLine{other}))
	require.NoError(t, store.SaveLedgerEntries(ctx, []*models.LedgerEntry{accrual}))

	lines, err := store.UnmatchedBankLines(ctx, testScope())
	require.NoError(t, err)
	assert.Len(t, lines, 4)
	assert.Equal(t, "B1", lines[0].ID)
	assert.True(t, lines[0].Debit.Equal(decimal.RequireFromString("100")))

	entries, err := store.UnmatchedLedgerEntries(ctx, testScope())
	require.NoError(t, err)
	assert.Len(t, entries, 4, "payable entry must be excluded")
}

func TestSQLiteStore_UnmatchedLedgerEntries_CashRelevance(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cash := ledgerEntry("L1", 5, "10.00")
	cash.Category = "CASH"
	transfer := ledgerEntry("L2", 5, "10.00")
	transfer.Category = "expense"
	transfer.EntryType = "Bank_Credit"
	journal := ledgerEntry("L3", 5, "10.00")
	journal.Category = "expense"
	journal.EntryType = "journal"
	all := []*models.LedgerEntry{cash, transfer, journal}
	require.NoError(t, store.SaveLedgerEntries(ctx, all))

	entries, err := store.UnmatchedLedgerEntries(ctx, testScope())
	require.NoError(t, err)

	var got []string
	for _, le := range entries {
		got = append(got, le.ID)
	}
	var want []string
	for _, le := range all {
		if le.IsCashRelevant() {
			want = append(want, le.ID)
		}
	}
	assert.Equal(t, []string{"L1", "L2"}, got)
	assert.Equal(t, want, got)
}

func TestSQLiteStore_ApplyAndUnmatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seed(t, store)
	at := time.Date(2024, 4, 2, 10, 0, 0, 0, time.UTC)

	// Act
	stats, err := store.ApplyMatches(ctx, []models.MatchCandidate{exactCandidate("B1", "L1")}, "alice", at)
	require.NoError(t, err)

	// Assert
	assert.Equal(t, ApplyStats{Applied: 1}, stats)

	bl, err := store.GetBankLine(ctx, "B1")
	require.NoError(t, err)
	require.NotNil(t, bl)
	assert.True(t, bl.Matched)
	assert.Equal(t, []string{"L1"}, bl.MatchedLedgerIDs)
	assert.Equal(t, models.MatchTypeExact, bl.MatchType)
	assert.Equal(t, "alice", bl.MatchedBy)
	require.NotNil(t, bl.MatchedAt)
	assert.True(t, bl.MatchedAt.Equal(at))

	lines, err := store.UnmatchedBankLines(ctx, testScope())
	require.NoError(t, err)
	assert.Len(t, lines, 3)
	entries, err := store.UnmatchedLedgerEntries(ctx, testScope())
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	changed, err := store.UnmatchBankLines(ctx, []string{"B1", "B2", "missing"})
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	bl, err = store.GetBankLine(ctx, "B1")
	require.NoError(t, err)
	assert.False(t, bl.Matched)
	assert.Empty(t, bl.MatchedLedgerIDs)
	assert.Nil(t, bl.MatchedAt)
	assert.Empty(t, bl.MatchType)
}

func TestSQLiteStore_ApplyIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seed(t, store)

	first := time.Date(2024, 4, 2, 10, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)

	_, err := store.ApplyMatches(ctx, []models.MatchCandidate{exactCandidate("B1", "L1")}, "alice", first)
	require.NoError(t, err)

	stats, err := store.ApplyMatches(ctx, []models.MatchCandidate{exactCandidate("B1", "L1")}, "bob", second)
	require.NoError(t, err)
	assert.Equal(t, ApplyStats{Refreshed: 1}, stats)

	bl, err := store.GetBankLine(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, "bob", bl.MatchedBy)
	assert.True(t, bl.MatchedAt.Equal(second))
	assert.Equal(t, []string{"L1"}, bl.MatchedLedgerIDs)
}

func TestSQLiteStore_ApplyConflictRollsBack(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seed(t, store)
	at := time.Now().UTC().Truncate(time.Second)

	_, err := store.ApplyMatches(ctx, []models.MatchCandidate{exactCandidate("B1", "L1")}, "alice", at)
	require.NoError(t, err)

	// B3 would succeed on its own, B1 conflicts
	_, err = store.ApplyMatches(ctx, []models.MatchCandidate{
		exactCandidate("B3", "L4"),
		exactCandidate("B1", "L4"),
	}, "alice", at)
	require.Error(t, err)
	assert.True(t, errors.IsPersistenceError(err))

	bl, err := store.GetBankLine(ctx, "B3")
	require.NoError(t, err)
	assert.False(t, bl.Matched, "failed apply must not leave partial writes")

	// Ledger entry already taken by another line
	_, err = store.ApplyMatches(ctx, []models.MatchCandidate{exactCandidate("B3", "L1")}, "alice", at)
	require.Error(t, err)
}

func TestSQLiteStore_ApplyGroups(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seed(t, store)
	at := time.Now().UTC().Truncate(time.Second)

	candidates := groupCandidates(models.MatchTypeOneToMany, "G1", [2]string{"B2", "L2"}, [2]string{"B2", "L3"})
	candidates = append(candidates, groupCandidates(models.MatchTypeManyToOne, "G2", [2]string{"B3", "L4"}, [2]string{"B4", "L4"})...)

	stats, err := store.ApplyMatches(ctx, candidates, "alice", at)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Applied)
	assert.Equal(t, 2, stats.Groups)

	bl, err := store.GetBankLine(ctx, "B2")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"L2", "L3"}, bl.MatchedLedgerIDs)
	assert.Equal(t, "G1", bl.MatchGroupID)

	incomplete, err := store.IncompleteGroups(ctx)
	require.NoError(t, err)
	assert.Empty(t, incomplete)

	// Simulate a half-written group
	_, err = store.db.ExecContext(ctx, `DELETE FROM bank_line_matches WHERE bank_line_id = 'B4'`)
	require.NoError(t, err)

	incomplete, err = store.IncompleteGroups(ctx)
	require.NoError(t, err)
	require.Len(t, incomplete, 1)
	assert.Equal(t, IncompleteGroup{GroupID: "G2", Expected: 2, Found: 1, BankLineIDs: []string{"B3", "B4"}}, incomplete[0])
}

func TestSQLiteStore_Rules(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seed(t, store)

	floor := decimal.RequireFromString("10")
	rules := []*models.MatchingRule{
		{
			ID: "R2", EntityID: "ENT-1", Name: "Fees", Priority: 2, IsActive: true,
			NarrationKeywords: []string{"fee", "charge"}, AmountMin: &floor, Direction: models.DirectionDebit,
			DateToleranceDays: 2, AmountTolerancePercent: 1.5,
		},
		{ID: "R1", EntityID: "ENT-1", BankAccountID: "ACC-2", Name: "Other account", Priority: 1, IsActive: true},
		{ID: "R3", EntityID: "ENT-1", Name: "Disabled", Priority: 0, IsActive: false},
	}
	require.NoError(t, store.SaveMatchingRules(ctx, rules))

	all, err := store.ListMatchingRules(ctx, "ENT-1")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "R3", all[0].ID)

	active, err := store.ActiveMatchingRules(ctx, "ENT-1", "ACC-1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	fees := active[0]
	assert.Equal(t, []string{"fee", "charge"}, fees.NarrationKeywords)
	require.NotNil(t, fees.AmountMin)
	assert.True(t, fees.AmountMin.Equal(floor))
	assert.Nil(t, fees.AmountMax)
	assert.Equal(t, models.DirectionDebit, fees.Direction)
	assert.Equal(t, 1.5, fees.AmountTolerancePercent)

	// Counters move only on apply
	candidate := exactCandidate("B1", "L1")
	candidate.MatchType = models.MatchTypeRuleBased
	candidate.MatchingRuleID = "R2"
	stats, err := store.ApplyMatches(ctx, []models.MatchCandidate{candidate}, "alice", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.RulesUpdated)

	_, err = store.ApplyMatches(ctx, []models.MatchCandidate{candidate}, "alice", time.Now())
	require.NoError(t, err)

	// Re-saving a rule keeps its counters
	require.NoError(t, store.SaveMatchingRules(ctx, rules[:1]))

	active, err = store.ActiveMatchingRules(ctx, "ENT-1", "ACC-1")
	require.NoError(t, err)
	assert.Equal(t, 1, active[0].TimesUsed)
	assert.Equal(t, 1, active[0].TimesSucceeded)
	assert.NotNil(t, active[0].LastUsedAt)
}

func TestSQLiteStore_GetBankLineMissing(t *testing.T) {
	store := newTestStore(t)

	bl, err := store.GetBankLine(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, bl)
}
