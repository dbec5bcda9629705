package matcher

import (
	"context"
	"time"

	"github.com/google/uuid"

	"golang-bank-matching-engine/internal/models"
	"golang-bank-matching-engine/pkg/logger"
)

// MatchingEngine runs the staged matching pipeline over one scope at a time.
// An engine is immutable after construction and safe for concurrent runs.
type MatchingEngine struct {
	config     *MatchingConfig
	logger     logger.Logger
	newGroupID func() string
	now        func() time.Time
}

// EngineOption customises a MatchingEngine
type EngineOption func(*MatchingEngine)

// WithLogger sets the engine logger
func WithLogger(l logger.Logger) EngineOption {
	return func(me *MatchingEngine) {
		if l != nil {
			me.logger = l
		}
	}
}

// WithGroupIDGenerator replaces the uuid generator used for combinatorial groups
func WithGroupIDGenerator(fn func() string) EngineOption {
	return func(me *MatchingEngine) {
		if fn != nil {
			me.newGroupID = fn
		}
	}
}

// WithClock sets the clock used for run timing
func WithClock(fn func() time.Time) EngineOption {
	return func(me *MatchingEngine) {
		if fn != nil {
			me.now = fn
		}
	}
}

// NewMatchingEngine creates an engine for the given configuration. A nil
// configuration means DefaultMatchingConfig.
func NewMatchingEngine(config *MatchingConfig, opts ...EngineOption) (*MatchingEngine, error) {
	if config == nil {
		config = DefaultMatchingConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	me := &MatchingEngine{
		config:     config.Clone(),
		logger:     logger.NewNopLogger(),
		newGroupID: uuid.NewString,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(me)
	}
	me.logger = me.logger.WithComponent("matcher")

	return me, nil
}

// Config returns a copy of the engine configuration
func (me *MatchingEngine) Config() *MatchingConfig {
	return me.config.Clone()
}

// RunStats summarises one run
type RunStats struct {
	BankLines              int                      `json:"bank_lines"`
	LedgerEntries          int                      `json:"ledger_entries"`
	Rules                  int                      `json:"rules"`
	PerStage               map[models.MatchType]int `json:"per_stage"`
	Discarded              int                      `json:"discarded"`
	UnmatchedBankLines     int                      `json:"unmatched_bank_lines"`
	UnmatchedLedgerEntries int                      `json:"unmatched_ledger_entries"`
}

// RunResult is the proposal produced by a run. Nothing in it has been persisted.
type RunResult struct {
	Scope          models.Scope            `json:"scope"`
	Candidates     []models.MatchCandidate `json:"candidates"`
	SkippedRules   []RuleSkip              `json:"skipped_rules,omitempty"`
	SkippedAnchors []AnchorSkip            `json:"skipped_anchors,omitempty"`
	RuleUsage      map[string]int          `json:"rule_usage,omitempty"`
	Stats          RunStats                `json:"stats"`
	StartedAt      time.Time               `json:"started_at"`
	Duration       time.Duration           `json:"duration"`
}

// CandidatesByType returns the candidates of one match type in proposal order
func (r *RunResult) CandidatesByType(matchType models.MatchType) []models.MatchCandidate {
	var out []models.MatchCandidate
	for _, c := range r.Candidates {
		if c.MatchType == matchType {
			out = append(out, c)
		}
	}
	return out
}

// stageOutput is what a single pipeline stage proposes
type stageOutput struct {
	candidates []models.MatchCandidate
	ruleSkips  []RuleSkip
	anchors    []AnchorSkip
}

type stage struct {
	name    string
	enabled bool
	run     func(ws *WorkingSet) stageOutput
}

func (me *MatchingEngine) stages() []stage {
	cfg := me.config
	groupsPossible := cfg.MinConfidenceThreshold <= CombinatorialScore

	return []stage{
		{
			name:    "exact",
			enabled: true,
			run: func(ws *WorkingSet) stageOutput {
				return stageOutput{candidates: me.matchExact(ws)}
			},
		},
		{
			name:    "rule_based",
			enabled: cfg.EnableRuleBased,
			run: func(ws *WorkingSet) stageOutput {
				candidates, skips := me.matchRules(ws)
				return stageOutput{candidates: candidates, ruleSkips: skips}
			},
		},
		{
			name:    "fuzzy",
			enabled: cfg.EnableFuzzyMatching,
			run: func(ws *WorkingSet) stageOutput {
				return stageOutput{candidates: me.matchFuzzy(ws)}
			},
		},
		{
			name:    "one_to_many",
			enabled: cfg.EnableOneToMany && groupsPossible,
			run: func(ws *WorkingSet) stageOutput {
				candidates, anchors := me.matchOneToMany(ws)
				return stageOutput{candidates: candidates, anchors: anchors}
			},
		},
		{
			name:    "many_to_one",
			enabled: cfg.EnableManyToOne && groupsPossible,
			run: func(ws *WorkingSet) stageOutput {
				candidates, anchors := me.matchManyToOne(ws)
				return stageOutput{candidates: candidates, anchors: anchors}
			},
		},
	}
}

// Match runs the pipeline over an already loaded working set.
// The working set records the claims of the run and must not be reused.
func (me *MatchingEngine) Match(ws *WorkingSet) *RunResult {
	result, _ := me.run(context.Background(), ws)
	return result
}

// AutoMatch loads the unmatched records of scope from src and runs the pipeline.
//
// Cancellation is checked between stages; a cancelled run returns ctx.Err()
// and no result.
func (me *MatchingEngine) AutoMatch(ctx context.Context, src RecordSource, scope models.Scope) (*RunResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ws, err := LoadWorkingSet(ctx, src, scope)
	if err != nil {
		return nil, err
	}

	return me.run(ctx, ws)
}

func (me *MatchingEngine) run(ctx context.Context, ws *WorkingSet) (*RunResult, error) {
	started := me.now()
	loaded := ws.Stats()
	log := me.logger.WithField("scope", ws.Scope.String())

	result := &RunResult{
		Scope:     ws.Scope,
		StartedAt: started,
		Stats: RunStats{
			BankLines:     loaded.BankLines,
			LedgerEntries: loaded.LedgerEntries,
			Rules:         loaded.Rules,
			PerStage:      make(map[models.MatchType]int),
		},
	}

	var enabled []stage
	for _, s := range me.stages() {
		if s.enabled {
			enabled = append(enabled, s)
		} else {
			log.Debugf("stage %s disabled", s.name)
		}
	}

	tracker := logger.NewProgressTracker(logger.ProgressConfig{
		Operation: "match",
		Stages:    len(enabled),
		Logger:    log,
		Clock:     me.now,
	})

	for _, s := range enabled {
		if err := ctx.Err(); err != nil {
			tracker.CompleteWithError(err)
			return nil, err
		}

		out := s.run(ws)

		accepted, discarded := me.applyThreshold(out.candidates)
		for _, c := range accepted {
			ws.Claim(c)
			result.Stats.PerStage[c.MatchType]++
		}
		result.Candidates = append(result.Candidates, accepted...)
		result.Stats.Discarded += discarded

		for _, skip := range out.ruleSkips {
			log.WithFields(logger.Fields{
				"rule_id":   skip.RuleID,
				"rule_name": skip.RuleName,
			}).Warnf("matching rule skipped: %s", skip.Reason)
		}
		result.SkippedRules = append(result.SkippedRules, out.ruleSkips...)
		result.SkippedAnchors = append(result.SkippedAnchors, out.anchors...)

		tracker.Advance(s.name, len(accepted))
	}

	remaining := ws.Stats()
	result.Stats.UnmatchedBankLines = remaining.UnmatchedBankLines
	result.Stats.UnmatchedLedgerEntries = remaining.UnmatchedLedgerEntries
	result.RuleUsage = RuleUsage(result.Candidates)
	result.Duration = me.now().Sub(started)

	tracker.Complete()
	log.WithFields(logger.Fields{
		"candidates":       len(result.Candidates),
		"discarded":        result.Stats.Discarded,
		"skipped_rules":    len(result.SkippedRules),
		"skipped_anchors":  len(result.SkippedAnchors),
		"unmatched_bank":   result.Stats.UnmatchedBankLines,
		"unmatched_ledger": result.Stats.UnmatchedLedgerEntries,
	}).Info("Match run finished")

	return result, nil
}

// applyThreshold drops candidates below MinConfidenceThreshold. Members of a
// group are kept or dropped together.
func (me *MatchingEngine) applyThreshold(candidates []models.MatchCandidate) ([]models.MatchCandidate, int) {
	threshold := me.config.MinConfidenceThreshold

	rejected := make(map[string]bool)
	for _, c := range candidates {
		if c.ConfidenceScore < threshold {
			rejected[c.UnitKey()] = true
		}
	}
	if len(rejected) == 0 {
		return candidates, 0
	}

	accepted := make([]models.MatchCandidate, 0, len(candidates))
	for _, c := range candidates {
		if !rejected[c.UnitKey()] {
			accepted = append(accepted, c)
		}
	}
	return accepted, len(candidates) - len(accepted)
}
