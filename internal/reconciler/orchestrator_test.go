package reconciler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"golang-bank-matching-engine/internal/models"
	"golang-bank-matching-engine/internal/storage"
	"golang-bank-matching-engine/pkg/errors"
)

func TestService_RunScopes(t *testing.T) {
	repo := storage.NewMockRepository()
	seedScope(t, repo, "A-", "ACC-A", "ENT-A")
	seedScope(t, repo, "B-", "ACC-B", "ENT-B")
	seedScope(t, repo, "C-", "ACC-C", "ENT-C")

	svc, err := NewService(repo, nil, WithConcurrency(2), WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)

	scopes := []models.Scope{
		scopeFor("ACC-C", "ENT-C"),
		scopeFor("ACC-A", "ENT-A"),
		scopeFor("ACC-B", "ENT-B"),
	}

	results, err := svc.RunScopes(context.Background(), scopes, true, "alice")
	require.NoError(t, err)
	require.Len(t, results, 3)

	for i, res := range results {
		assert.Equal(t, scopes[i], res.Scope, "results keep input order")
		assert.False(t, res.Failed())
		require.NotNil(t, res.Result)
		assert.Len(t, res.Result.Candidates, 4)
		require.NotNil(t, res.Applied)
		assert.Equal(t, 2, res.Applied.Applied)

		prefix := res.Scope.BankAccountID[len("ACC-"):] + "-"
		for _, c := range res.Result.Candidates {
			assert.Contains(t, c.BankLineID, prefix, "scopes never claim each other's records")
			assert.Contains(t, c.LedgerEntryID, prefix)
		}
	}

	// Group ids differ across scopes
	groupIDs := make(map[string]bool)
	for _, res := range results {
		for _, c := range res.Result.CandidatesByType(models.MatchTypeOneToMany) {
			groupIDs[c.MatchGroupID] = true
		}
	}
	assert.Len(t, groupIDs, 3)
	assert.Equal(t, 3, repo.ApplyCalls)
}

func TestService_RunScopesWithoutApply(t *testing.T) {
	repo := storage.NewMockRepository()
	seedScope(t, repo, "A-", "ACC-A", "ENT-A")
	svc := newTestService(t, repo, nil)

	results, err := svc.RunScopes(context.Background(), []models.Scope{scopeFor("ACC-A", "ENT-A")}, false, "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Nil(t, results[0].Applied)
	assert.Len(t, results[0].Result.Candidates, 4)
	assert.Zero(t, repo.ApplyCalls)
}

func TestService_RunScopesReportsEveryFailure(t *testing.T) {
	repo := storage.NewMockRepository()
	seedScope(t, repo, "A-", "ACC-A", "ENT-A")
	svc := newTestService(t, repo, nil)

	scopes := []models.Scope{
		{BankAccountID: "", EntityID: "ENT-X", PeriodStart: day(1), PeriodEnd: day(31)},
		scopeFor("ACC-A", "ENT-A"),
		{BankAccountID: "ACC-Y", EntityID: "ENT-Y", PeriodStart: day(31), PeriodEnd: day(1)},
	}

	results, err := svc.RunScopes(context.Background(), scopes, true, "alice")
	require.Error(t, err)
	require.Len(t, results, 3)
	assert.Len(t, multierr.Errors(err), 2)

	assert.True(t, results[0].Failed())
	assert.NotEmpty(t, results[0].Error)
	assert.False(t, results[1].Failed())
	assert.Equal(t, 2, results[1].Applied.Applied)
	assert.True(t, results[2].Failed())
}

func TestService_RunScopesArguments(t *testing.T) {
	svc := newTestService(t, storage.NewMockRepository(), nil)
	ctx := context.Background()

	results, err := svc.RunScopes(ctx, nil, false, "")
	require.NoError(t, err)
	assert.Empty(t, results)

	_, err = svc.RunScopes(ctx, []models.Scope{scopeFor("ACC-1", "ENT-1")}, true, "")
	require.Error(t, err)
	assert.Equal(t, errors.CodeMissingField, errorCode(t, err))
}

func TestService_RunScopesCancelled(t *testing.T) {
	repo := storage.NewMockRepository()
	seedScope(t, repo, "A-", "ACC-A", "ENT-A")
	svc := newTestService(t, repo, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := svc.RunScopes(ctx, []models.Scope{scopeFor("ACC-A", "ENT-A")}, true, "alice")
	require.Error(t, err)
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, context.Canceled)
	assert.Zero(t, repo.ApplyCalls)
}

// sharedLedgerRepo wraps the mock so each load is slow and records whether a
// scope loaded while another was between its load and its apply.
type sharedLedgerRepo struct {
	*storage.MockRepository

	mu       sync.Mutex
	active   int
	overlaps int
}

func (r *sharedLedgerRepo) UnmatchedBankLines(ctx context.Context, scope models.Scope) ([]*models.BankLine, error) {
	r.mu.Lock()
	r.active++
	if r.active > 1 {
		r.overlaps++
	}
	r.mu.Unlock()

	time.Sleep(20 * time.Millisecond)
	return r.MockRepository.UnmatchedBankLines(ctx, scope)
}

func (r *sharedLedgerRepo) ApplyMatches(ctx context.Context, candidates []models.MatchCandidate, actor string, at time.Time) (storage.ApplyStats, error) {
	defer func() {
		r.mu.Lock()
		r.active--
		r.mu.Unlock()
	}()
	return r.MockRepository.ApplyMatches(ctx, candidates, actor, at)
}

// seedSharedLedger stores two accounts of ENT-1 that both fit ledger entry L-1
func seedSharedLedger(t *testing.T, repo storage.Repository) {
	t.Helper()
	ctx := context.Background()

	line := func(id, account string, d int, debit string) *models.BankLine {
		return &models.BankLine{
			ID: id, BankAccountID: account, EntityID: "ENT-1", TransactionDate: day(d),
			Debit: decimal.RequireFromString(debit), Narration: "payment " + id,
		}
	}
	require.NoError(t, repo.SaveBankLines(ctx, []*models.BankLine{
		line("A-1", "ACC-1", 5, "100.00"),
		line("B-1", "ACC-2", 5, "100.00"),
		line("B-2", "ACC-2", 6, "42.00"),
	}))

	entry := func(id string, d int, amount string) *models.LedgerEntry {
		return &models.LedgerEntry{
			ID: id, EntityID: "ENT-1", EntryDate: day(d), Amount: decimal.RequireFromString(amount),
			Description: "entry " + id, Category: "bank",
		}
	}
	require.NoError(t, repo.SaveLedgerEntries(ctx, []*models.LedgerEntry{
		entry("L-1", 5, "-100.00"),
		entry("L-2", 6, "-42.00"),
	}))
}

func candidatePairs(res ScopeResult) map[string]string {
	pairs := make(map[string]string)
	for _, c := range res.Result.Candidates {
		pairs[c.BankLineID] = c.LedgerEntryID
	}
	return pairs
}

func TestService_RunScopesSameEntityApply(t *testing.T) {
	repo := &sharedLedgerRepo{MockRepository: storage.NewMockRepository()}
	seedSharedLedger(t, repo)
	svc := newTestService(t, repo, nil, WithConcurrency(4))

	scopes := []models.Scope{scopeFor("ACC-1", "ENT-1"), scopeFor("ACC-2", "ENT-1")}
	results, err := svc.RunScopes(context.Background(), scopes, true, "alice")
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Zero(t, repo.overlaps, "a scope of the entity loaded before the previous one applied")
	assert.Equal(t, map[string]string{"A-1": "L-1"}, candidatePairs(results[0]))
	assert.Equal(t, map[string]string{"B-2": "L-2"}, candidatePairs(results[1]))
	assert.Equal(t, 1, results[1].Applied.Applied)

	b2, err := repo.GetBankLine(context.Background(), "B-2")
	require.NoError(t, err)
	assert.True(t, b2.Matched, "uncontested match of the later scope is kept")

	b1, err := repo.GetBankLine(context.Background(), "B-1")
	require.NoError(t, err)
	assert.False(t, b1.Matched)
}

func TestService_RunScopesSameEntityProposeOnly(t *testing.T) {
	repo := storage.NewMockRepository()
	seedSharedLedger(t, repo)
	svc := newTestService(t, repo, nil, WithConcurrency(4))

	scopes := []models.Scope{scopeFor("ACC-1", "ENT-1"), scopeFor("ACC-2", "ENT-1")}
	results, err := svc.RunScopes(context.Background(), scopes, false, "")
	require.NoError(t, err)
	require.Len(t, results, 2)

	// L-1 is proposed once per call even though nothing is written
	assert.Equal(t, map[string]string{"A-1": "L-1"}, candidatePairs(results[0]))
	assert.Equal(t, map[string]string{"B-2": "L-2"}, candidatePairs(results[1]))
	assert.Zero(t, repo.ApplyCalls)
}

func TestBatchByEntity(t *testing.T) {
	scopes := []models.Scope{
		scopeFor("ACC-1", "ENT-1"),
		scopeFor("ACC-9", "ENT-2"),
		scopeFor("ACC-2", "ENT-1"),
	}

	batches := batchByEntity(scopes)
	require.Len(t, batches, 2)
	require.Len(t, batches[0], 2)
	assert.Equal(t, 0, batches[0][0].index)
	assert.Equal(t, 2, batches[0][1].index)
	assert.Equal(t, "ACC-2", batches[0][1].scope.BankAccountID)
	require.Len(t, batches[1], 1)
	assert.Equal(t, 1, batches[1][0].index)
}

func TestSkippedRules_OncePerRule(t *testing.T) {
	repo := storage.NewMockRepository()
	seedSharedLedger(t, repo)
	require.NoError(t, repo.SaveMatchingRules(context.Background(), []*models.MatchingRule{{
		ID: "R-broken", EntityID: "ENT-1", Name: "broken", Priority: 1, IsActive: true,
		NarrationPattern: `([unclosed`,
	}}))
	svc := newTestService(t, repo, nil)

	scopes := []models.Scope{scopeFor("ACC-1", "ENT-1"), scopeFor("ACC-2", "ENT-1")}
	results, err := svc.RunScopes(context.Background(), scopes, false, "")
	require.NoError(t, err, "a skipped rule does not fail the run")

	skipped := multierr.Errors(SkippedRules(results))
	require.Len(t, skipped, 1)
	assert.True(t, errors.IsCategory(skipped[0], errors.CategoryMatching))
	assert.Contains(t, skipped[0].Error(), "R-broken")

	assert.NoError(t, SkippedRules(nil))
}
