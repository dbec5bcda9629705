package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"golang-bank-matching-engine/cmd/reconciler/config"
	"golang-bank-matching-engine/internal/matcher"
	"golang-bank-matching-engine/internal/reconciler"
	"golang-bank-matching-engine/internal/reporter"
	"golang-bank-matching-engine/pkg/logger"
)

type automatchOptions struct {
	entity       string
	bankAccounts []string
	start        string
	end          string
	apply        bool
	outputFile   string

	disableFuzzy     bool
	disableRules     bool
	disableOneToMany bool
	disableManyToOne bool
}

func newAutomatchCmd(a *app) *cobra.Command {
	o := &automatchOptions{}

	cmd := &cobra.Command{
		Use:   "automatch",
		Short: "Propose matches between bank lines and ledger entries",
		Long: `Automatch runs the matching pipeline over the unmatched bank lines and
ledger entries of an entity's bank accounts for a period, and reports the
proposed matches. Nothing is written unless --apply is given.

Each --bank-account is reconciled as its own scope; scopes run in parallel
up to --concurrency.

Examples:
  # Review proposals on the console
  reconciler automatch --entity ENT-1 --bank-account ACC-1 --start 2024-03-01 --end 2024-03-31

  # Save proposals for a later 'reconciler apply'
  reconciler automatch --entity ENT-1 --bank-account ACC-1,ACC-2 \
    --start 2024-03-01 --end 2024-03-31 --output-format json --output-file proposals.json

  # Apply straight away with tighter settings
  reconciler automatch --entity ENT-1 --bank-account ACC-1 --start 2024-03-01 --end 2024-03-31 \
    --min-confidence 90 --disable-many-to-one --apply --actor jdoe`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAutomatch(cmd, a, o)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&o.entity, "entity", "e", "", "entity id (required)")
	flags.StringSliceVarP(&o.bankAccounts, "bank-account", "b", nil, "bank account ids, comma-separated (required)")
	flags.StringVar(&o.start, "start", "", "period start date (YYYY-MM-DD, required)")
	flags.StringVar(&o.end, "end", "", "period end date (YYYY-MM-DD, required)")
	flags.BoolVar(&o.apply, "apply", false, "write the proposed matches")
	flags.String("actor", "", "user recorded as having applied the matches")
	flags.StringP("output-format", "f", "console", "output format: console, json, csv")
	flags.StringVarP(&o.outputFile, "output-file", "o", "", "output file path (default: stdout)")
	flags.Int("concurrency", 4, "scopes reconciled in parallel")

	flags.IntP("date-tolerance", "d", 3, "date tolerance in days for fuzzy and group matching")
	flags.Float64P("amount-tolerance", "a", 0, "fuzzy amount tolerance percentage (0-100)")
	flags.Float64("min-confidence", 70, "minimum confidence score (0-100)")
	flags.Int("max-one-to-many", 10, "largest ledger group matched to one bank line")
	flags.Int("max-many-to-one", 10, "largest bank line group matched to one ledger entry")
	flags.BoolVar(&o.disableFuzzy, "disable-fuzzy", false, "skip fuzzy matching")
	flags.BoolVar(&o.disableRules, "disable-rules", false, "skip rule-based matching")
	flags.BoolVar(&o.disableOneToMany, "disable-one-to-many", false, "skip one-to-many matching")
	flags.BoolVar(&o.disableManyToOne, "disable-many-to-one", false, "skip many-to-one matching")

	_ = cmd.MarkFlagRequired("entity")
	_ = cmd.MarkFlagRequired("bank-account")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")

	_ = a.v.BindPFlag(config.KeyConcurrency, flags.Lookup("concurrency"))
	_ = a.v.BindPFlag(config.KeyDateTolerance, flags.Lookup("date-tolerance"))
	_ = a.v.BindPFlag(config.KeyAmountTolerance, flags.Lookup("amount-tolerance"))
	_ = a.v.BindPFlag(config.KeyMinConfidence, flags.Lookup("min-confidence"))
	_ = a.v.BindPFlag(config.KeyMaxOneToMany, flags.Lookup("max-one-to-many"))
	_ = a.v.BindPFlag(config.KeyMaxManyToOne, flags.Lookup("max-many-to-one"))

	return cmd
}

func runAutomatch(cmd *cobra.Command, a *app, o *automatchOptions) error {
	scopes, err := config.BuildScopes(o.entity, o.bankAccounts, o.start, o.end)
	if err != nil {
		return err
	}

	cfg, err := o.matchingConfig(a)
	if err != nil {
		return err
	}

	reportCfg, err := config.CreateReportConfig(a.stringSetting(cmd, "output-format", config.KeyOutputFormat))
	if err != nil {
		return err
	}
	generator, err := reporter.NewSafeReportGenerator(reportCfg, a.log)
	if err != nil {
		return err
	}

	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	svc, err := a.newService(store, cfg)
	if err != nil {
		return err
	}

	actor := a.stringSetting(cmd, "actor", config.KeyActor)
	a.log.WithFields(logger.Fields{
		"scopes": len(scopes),
		"apply":  o.apply,
		"config": cfg.String(),
	}).Info("Starting automatch")

	results, runErr := svc.RunScopes(cmd.Context(), scopes, o.apply, actor)
	if len(results) > 0 {
		if o.outputFile == "" {
			err = generator.WriteReport(results, cmd.OutOrStdout())
		} else {
			err = generator.WriteReportFile(results, o.outputFile)
		}
		if err != nil {
			return err
		}
	}

	// skipped rules do not fail the run
	if skipped := multierr.Errors(reconciler.SkippedRules(results)); len(skipped) > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %d matching rules were skipped\n", len(skipped))
		for _, err := range skipped {
			fmt.Fprintf(cmd.ErrOrStderr(), "  %v\n", err)
		}
	}

	return runErr
}

// matchingConfig applies the --disable-* switches to the configured settings
func (o *automatchOptions) matchingConfig(a *app) (*matcher.MatchingConfig, error) {
	cfg, err := config.MatchingConfig(a.v)
	if err != nil {
		return nil, err
	}

	if o.disableFuzzy {
		cfg.EnableFuzzyMatching = false
	}
	if o.disableRules {
		cfg.EnableRuleBased = false
	}
	if o.disableOneToMany {
		cfg.EnableOneToMany = false
	}
	if o.disableManyToOne {
		cfg.EnableManyToOne = false
	}
	return cfg, nil
}
