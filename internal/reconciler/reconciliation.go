// Package reconciler is the calling workflow around the matching engine.
//
// A Service proposes matches for a scope (AutoMatch), persists reviewed
// proposals (ApplyMatches), reverts them (Unmatch) and keeps combinatorial
// groups consistent (CheckGroups, RepairGroups). RunScopes reconciles several
// independent (bank account, entity) scopes concurrently.
//
// Example usage:
//
//	svc, err := reconciler.NewService(store, matcher.DefaultMatchingConfig(),
//		reconciler.WithLogger(log))
//	if err != nil {
//		return err
//	}
//
//	result, err := svc.AutoMatch(ctx, scope)
//	if err != nil {
//		return err
//	}
//	summary, err := svc.ApplyMatches(ctx, result.Candidates, "alice")
package reconciler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang-bank-matching-engine/internal/matcher"
	"golang-bank-matching-engine/internal/models"
	"golang-bank-matching-engine/internal/storage"
	"golang-bank-matching-engine/pkg/errors"
	"golang-bank-matching-engine/pkg/logger"
)

// DefaultConcurrency is the number of scopes RunScopes processes at once
const DefaultConcurrency = 4

// Service orchestrates match runs against a repository
type Service struct {
	repo        storage.Repository
	engine      *matcher.MatchingEngine
	logger      logger.Logger
	now         func() time.Time
	newGroupID  func() string
	concurrency int
}

// Option customises a Service
type Option func(*Service)

// WithLogger sets the service logger; the engine logs through it as well
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock sets the clock used for matched_at stamps and run timing
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithConcurrency bounds the number of scopes RunScopes runs at once
func WithConcurrency(n int) Option {
	return func(s *Service) {
		s.concurrency = n
	}
}

// WithGroupIDGenerator replaces the generator of combinatorial group ids
func WithGroupIDGenerator(fn func() string) Option {
	return func(s *Service) {
		s.newGroupID = fn
	}
}

// ApplySummary reports what ApplyMatches changed
type ApplySummary struct {
	Candidates   int       `json:"candidates"`
	Applied      int       `json:"applied"`
	Refreshed    int       `json:"refreshed"`
	Groups       int       `json:"groups"`
	RulesUpdated int       `json:"rules_updated"`
	Actor        string    `json:"actor"`
	AppliedAt    time.Time `json:"applied_at"`
}

// RepairSummary reports what RepairGroups reverted
type RepairSummary struct {
	Groups             []storage.IncompleteGroup `json:"groups"`
	BankLinesUnmatched int                       `json:"bank_lines_unmatched"`
}

// NewService creates a service over repo. A nil cfg means the default
// matching configuration; an invalid one fails here.
func NewService(repo storage.Repository, cfg *matcher.MatchingConfig, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "repository", nil, nil).
			WithSuggestion("Provide a storage.Repository such as the SQLite store")
	}

	s := &Service{
		repo:        repo,
		logger:      logger.NewNopLogger(),
		now:         time.Now,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.concurrency < 1 {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "concurrency", s.concurrency, nil).
			WithSuggestion("concurrency must be at least 1")
	}

	engine, err := s.newEngine(cfg)
	if err != nil {
		return nil, err
	}
	s.engine = engine
	s.logger = s.logger.WithComponent("reconciler")

	return s, nil
}

func (s *Service) newEngine(cfg *matcher.MatchingConfig) (*matcher.MatchingEngine, error) {
	return matcher.NewMatchingEngine(cfg,
		matcher.WithLogger(s.logger),
		matcher.WithClock(s.now),
		matcher.WithGroupIDGenerator(s.newGroupID),
	)
}

// MatchingConfig returns a copy of the service's matching configuration
func (s *Service) MatchingConfig() *matcher.MatchingConfig {
	return s.engine.Config()
}

// AutoMatch proposes candidates for scope. Nothing is persisted.
func (s *Service) AutoMatch(ctx context.Context, scope models.Scope) (*matcher.RunResult, error) {
	return s.engine.AutoMatch(ctx, s.repo, scope)
}

// AutoMatchWithConfig proposes candidates for scope with a one-off configuration
func (s *Service) AutoMatchWithConfig(ctx context.Context, scope models.Scope, cfg *matcher.MatchingConfig) (*matcher.RunResult, error) {
	engine, err := s.newEngine(cfg)
	if err != nil {
		return nil, err
	}
	return engine.AutoMatch(ctx, s.repo, scope)
}

// ApplyMatches validates and persists candidates on behalf of actor.
//
// Either every candidate is written or none is. Re-applying candidates that
// are already applied only refreshes their matched_at and matched_by.
func (s *Service) ApplyMatches(ctx context.Context, candidates []models.MatchCandidate, actor string) (*ApplySummary, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return nil, errors.ValidationError(errors.CodeMissingField, "actor", actor, nil).
			WithSuggestion("Pass the id of the user applying the matches")
	}

	if err := ValidateCandidates(candidates); err != nil {
		return nil, err
	}

	at := s.now().UTC()
	summary := &ApplySummary{Candidates: len(candidates), Actor: actor, AppliedAt: at}
	if len(candidates) == 0 {
		return summary, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stats, err := s.repo.ApplyMatches(ctx, candidates, actor, at)
	if err != nil {
		s.logger.WithError(err).WithField("candidates", len(candidates)).Error("Apply failed, nothing was written")
		return nil, errors.WrapIfNeeded(err, errors.CategoryPersistence, errors.CodeApplyFailed, "failed to apply matches")
	}

	summary.Applied = stats.Applied
	summary.Refreshed = stats.Refreshed
	summary.Groups = stats.Groups
	summary.RulesUpdated = stats.RulesUpdated

	s.logger.WithFields(logger.Fields{
		"actor":         actor,
		"applied":       summary.Applied,
		"refreshed":     summary.Refreshed,
		"groups":        summary.Groups,
		"rules_updated": summary.RulesUpdated,
	}).Info("Matches applied")

	return summary, nil
}

// Unmatch restores the named bank lines to unmatched and returns how many changed.
// Unknown and already unmatched ids are ignored.
func (s *Service) Unmatch(ctx context.Context, bankLineIDs []string) (int, error) {
	ids := normalizeIDs(bankLineIDs)
	if len(ids) == 0 {
		return 0, nil
	}

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	changed, err := s.repo.UnmatchBankLines(ctx, ids)
	if err != nil {
		return 0, errors.WrapIfNeeded(err, errors.CategoryPersistence, errors.CodeUnmatchFailed, "failed to unmatch bank lines")
	}

	s.logger.WithFields(logger.Fields{
		"requested": len(ids),
		"changed":   changed,
	}).Info("Bank lines unmatched")

	return changed, nil
}

// CheckGroups lists combinatorial groups that are only partly stored
func (s *Service) CheckGroups(ctx context.Context) ([]storage.IncompleteGroup, error) {
	groups, err := s.repo.IncompleteGroups(ctx)
	if err != nil {
		return nil, errors.PersistenceError(errors.CodeLoadFailed, "check match groups", err)
	}

	for _, g := range groups {
		s.logger.WithFields(logger.Fields{
			"group_id": g.GroupID,
			"expected": g.Expected,
			"found":    g.Found,
		}).Warn("Match group is half-applied")
	}
	return groups, nil
}

// RepairGroups unmatches every bank line of each incomplete group, so that
// the records return to the pool of the next run.
func (s *Service) RepairGroups(ctx context.Context) (*RepairSummary, error) {
	groups, err := s.CheckGroups(ctx)
	if err != nil {
		return nil, err
	}

	summary := &RepairSummary{Groups: groups}
	if len(groups) == 0 {
		return summary, nil
	}

	var ids []string
	for _, g := range groups {
		ids = append(ids, g.BankLineIDs...)
	}

	changed, err := s.Unmatch(ctx, ids)
	if err != nil {
		return nil, err
	}
	summary.BankLinesUnmatched = changed

	s.logger.WithFields(logger.Fields{
		"groups":     len(groups),
		"bank_lines": changed,
	}).Info("Half-applied match groups repaired")

	return summary, nil
}

func normalizeIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// String describes the service configuration
func (s *Service) String() string {
	return fmt.Sprintf("Service{Concurrency: %d, %s}", s.concurrency, s.engine.Config())
}
