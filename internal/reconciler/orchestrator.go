package reconciler

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/multierr"

	"golang-bank-matching-engine/internal/matcher"
	"golang-bank-matching-engine/internal/models"
	"golang-bank-matching-engine/pkg/errors"
	"golang-bank-matching-engine/pkg/logger"
)

// ScopeResult is the outcome of one scope of a RunScopes call
type ScopeResult struct {
	Scope   models.Scope       `json:"scope"`
	Result  *matcher.RunResult `json:"result,omitempty"`
	Applied *ApplySummary      `json:"applied,omitempty"`
	Err     error              `json:"-"`
	Error   string             `json:"error,omitempty"`

	index int
}

// Failed reports whether the scope could not be reconciled
func (sr *ScopeResult) Failed() bool {
	return sr.Err != nil
}

// RunScopes reconciles scopes concurrently, at most Concurrency entities at a time.
//
// Ledger entries belong to an entity, not to a bank account, so scopes of the
// same entity run one after another in input order and a ledger entry claimed
// by an earlier scope is withheld from the later ones. Scopes of different
// entities share no records and run in parallel. When apply is set the
// candidates of each scope are applied as one unit on behalf of actor. One
// ScopeResult is returned per scope, in input order; the error combines the
// failures of every failed scope.
func (s *Service) RunScopes(ctx context.Context, scopes []models.Scope, apply bool, actor string) ([]ScopeResult, error) {
	if apply && strings.TrimSpace(actor) == "" {
		return nil, errors.ValidationError(errors.CodeMissingField, "actor", actor, nil).
			WithSuggestion("Pass the id of the user applying the matches")
	}
	if len(scopes) == 0 {
		return nil, nil
	}

	tracker := logger.NewProgressTracker(logger.ProgressConfig{
		Operation: "reconcile scopes",
		Stages:    len(scopes),
		Logger:    s.logger,
		Clock:     s.now,
	})

	p := pool.NewWithResults[[]ScopeResult]().
		WithContext(ctx).
		WithMaxGoroutines(s.concurrency)

	for _, batch := range batchByEntity(scopes) {
		p.Go(func(ctx context.Context) ([]ScopeResult, error) {
			claimed := make(map[string]bool)
			out := make([]ScopeResult, 0, len(batch))

			for _, item := range batch {
				res := s.runScope(ctx, item.scope, apply, actor, claimed)
				res.index = item.index

				found := 0
				if res.Result != nil {
					found = len(res.Result.Candidates)
				}
				tracker.Advance(item.scope.String(), found)
				out = append(out, res)
			}

			// failures are carried in the results so every scope is reported
			return out, nil
		})
	}

	batches, _ := p.Wait()
	results := make([]ScopeResult, 0, len(scopes))
	for _, b := range batches {
		results = append(results, b...)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].index < results[j].index })

	var combined error
	for _, res := range results {
		if res.Err != nil {
			combined = multierr.Append(combined, fmt.Errorf("scope %s: %w", res.Scope, res.Err))
		}
	}

	if combined != nil {
		tracker.CompleteWithError(combined)
	} else {
		tracker.Complete()
	}

	return results, combined
}

type indexedScope struct {
	index int
	scope models.Scope
}

// batchByEntity groups scopes per entity, keeping input order within and across batches
func batchByEntity(scopes []models.Scope) [][]indexedScope {
	var batches [][]indexedScope
	pos := make(map[string]int)

	for i, scope := range scopes {
		n, ok := pos[scope.EntityID]
		if !ok {
			n = len(batches)
			pos[scope.EntityID] = n
			batches = append(batches, nil)
		}
		batches[n] = append(batches[n], indexedScope{index: i, scope: scope})
	}
	return batches
}

// runScope matches one scope. Ledger entries in claimed are skipped, and the
// entries this scope keeps are added to it.
func (s *Service) runScope(ctx context.Context, scope models.Scope, apply bool, actor string, claimed map[string]bool) ScopeResult {
	res := ScopeResult{Scope: scope}
	log := s.logger.WithField("scope", scope.String())

	fail := func(err error) ScopeResult {
		log.WithError(err).Error("Scope reconciliation failed")
		res.Err = err
		res.Error = err.Error()
		return res
	}

	result, err := s.engine.AutoMatch(ctx, withoutClaimed(s.repo, claimed), scope)
	if err != nil {
		return fail(err)
	}
	res.Result = result

	if apply {
		applied, err := s.ApplyMatches(ctx, result.Candidates, actor)
		if err != nil {
			return fail(err)
		}
		res.Applied = applied
	}

	for _, c := range result.Candidates {
		claimed[c.LedgerEntryID] = true
	}
	return res
}

// claimFilter hides ledger entries already claimed within the same RunScopes call
type claimFilter struct {
	matcher.RecordSource
	claimed map[string]bool
}

func withoutClaimed(src matcher.RecordSource, claimed map[string]bool) matcher.RecordSource {
	if len(claimed) == 0 {
		return src
	}
	return &claimFilter{RecordSource: src, claimed: claimed}
}

func (f *claimFilter) UnmatchedLedgerEntries(ctx context.Context, scope models.Scope) ([]*models.LedgerEntry, error) {
	entries, err := f.RecordSource.UnmatchedLedgerEntries(ctx, scope)
	if err != nil {
		return nil, err
	}

	out := entries[:0:0]
	for _, le := range entries {
		if le != nil && !f.claimed[le.ID] {
			out = append(out, le)
		}
	}
	return out, nil
}

// SkippedRules combines the rules skipped by every scope, once per rule id
func SkippedRules(results []ScopeResult) error {
	seen := make(map[string]bool)
	var skips []matcher.RuleSkip
	for _, res := range results {
		if res.Result == nil {
			continue
		}
		for _, skip := range res.Result.SkippedRules {
			if !seen[skip.RuleID] {
				seen[skip.RuleID] = true
				skips = append(skips, skip)
			}
		}
	}
	return matcher.SkippedRulesError(skips)
}
