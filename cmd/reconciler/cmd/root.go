package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"golang-bank-matching-engine/cmd/reconciler/config"
	"golang-bank-matching-engine/internal/matcher"
	"golang-bank-matching-engine/internal/reconciler"
	"golang-bank-matching-engine/internal/storage"
	"golang-bank-matching-engine/pkg/errors"
	"golang-bank-matching-engine/pkg/logger"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// app holds the state shared by every command of one invocation
type app struct {
	v       *viper.Viper
	cfgFile string
	verbose bool
	log     logger.Logger
}

// NewRootCmd builds the command tree around a fresh viper instance
func NewRootCmd() *cobra.Command {
	a := &app{v: config.New(), log: logger.NewNopLogger()}

	rootCmd := &cobra.Command{
		Use:   "reconciler",
		Short: "Bank transaction matching engine",
		Long: `Reconciler matches bank statement lines against ledger entries.

Matching runs in stages: exact, rule-based, fuzzy, one-to-many and
many-to-one. Proposed matches are reported for review and only written
when applied.

Examples:
  reconciler migrate --database books.db
  reconciler automatch --entity ENT-1 --bank-account ACC-1 --start 2024-03-01 --end 2024-03-31
  reconciler automatch --entity ENT-1 --bank-account ACC-1 --start 2024-03-01 --end 2024-03-31 \
    --output-format json --output-file proposals.json
  reconciler apply --input proposals.json --actor jdoe
  reconciler rules import --file rules.yaml --entity ENT-1
  reconciler groups check --repair`,
		Version:           getVersionString(),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.initConfig,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (YAML, optional)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "verbose output")
	flags.String("database", config.DefaultDatabase, "path to the SQLite database")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("log-format", "text", "log format: text, json")

	_ = a.v.BindPFlag(config.KeyDatabase, flags.Lookup("database"))
	_ = a.v.BindPFlag(config.KeyLogLevel, flags.Lookup("log-level"))
	_ = a.v.BindPFlag(config.KeyLogFormat, flags.Lookup("log-format"))

	rootCmd.AddCommand(
		newMigrateCmd(a),
		newAutomatchCmd(a),
		newApplyCmd(a),
		newUnmatchCmd(a),
		newRulesCmd(a),
		newGroupsCmd(a),
		newVersionCmd(),
	)

	return rootCmd
}

// Execute runs the CLI and returns the process exit code
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := NewRootCmd()
	err := rootCmd.ExecuteContext(ctx)

	verbose, _ := rootCmd.PersistentFlags().GetBool("verbose")
	return NewCLIErrorHandler(os.Stderr, verbose).HandleError(err)
}

// initConfig reads the config file and sets up logging
func (a *app) initConfig(cmd *cobra.Command, _ []string) error {
	if a.cfgFile != "" {
		if err := config.ReadFile(a.v, a.cfgFile); err != nil {
			return err
		}
	}

	logCfg, err := config.LoggerConfig(a.v, a.verbose)
	if err != nil {
		return err
	}
	log, err := logger.NewLogger(logCfg)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "log", logCfg.Output, err)
	}
	logger.SetGlobalLogger(log)
	a.log = log

	if a.cfgFile != "" {
		a.log.WithField("file", a.v.ConfigFileUsed()).Debug("Using config file")
	}
	return nil
}

// openStore opens the configured database, applying pending migrations
func (a *app) openStore() (*storage.SQLiteStore, error) {
	path := a.v.GetString(config.KeyDatabase)
	store, err := storage.NewSQLiteStore(path)
	if err != nil {
		return nil, err
	}
	a.log.WithField("database", path).Debug("Database opened")
	return store, nil
}

// newService creates a reconciliation service on store. A nil cfg uses
// the configured matching settings.
func (a *app) newService(store storage.Repository, cfg *matcher.MatchingConfig) (*reconciler.Service, error) {
	if cfg == nil {
		var err error
		if cfg, err = config.MatchingConfig(a.v); err != nil {
			return nil, err
		}
	}

	n, err := config.Concurrency(a.v)
	if err != nil {
		return nil, err
	}

	return reconciler.NewService(store, cfg,
		reconciler.WithLogger(a.log),
		reconciler.WithConcurrency(n),
	)
}

// stringSetting returns the flag value when it was set, else the configured value
func (a *app) stringSetting(cmd *cobra.Command, flag, key string) string {
	if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
		return f.Value.String()
	}
	return a.v.GetString(key)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "reconciler %s\n", getVersionString())
		},
	}
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
