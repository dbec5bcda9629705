package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"golang-bank-matching-engine/cmd/reconciler/config"
	"golang-bank-matching-engine/internal/reporter"
	"golang-bank-matching-engine/pkg/errors"
)

func newApplyCmd(a *app) *cobra.Command {
	var input string

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Write reviewed match proposals",
		Long: `Apply writes the candidates of a JSON automatch report, or a JSON array of
candidates, in one transaction. Either every candidate is applied or none.
Use --input - to read from stdin.

Examples:
  reconciler apply --input proposals.json --actor jdoe
  cat proposals.json | reconciler apply --input - --actor jdoe`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, closeInput, err := openInput(cmd, input)
			if err != nil {
				return err
			}
			defer closeInput()

			candidates, err := reporter.ReadCandidates(r)
			if err != nil {
				return err
			}

			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			svc, err := a.newService(store, nil)
			if err != nil {
				return err
			}

			summary, err := svc.ApplyMatches(cmd.Context(), candidates, a.stringSetting(cmd, "actor", config.KeyActor))
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d bank lines (%d refreshed, %d groups, %d rules updated) as %s\n",
				summary.Applied, summary.Refreshed, summary.Groups, summary.RulesUpdated, summary.Actor)
			return nil
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "JSON report or candidate list to apply (required, - for stdin)")
	cmd.Flags().String("actor", "", "user recorded as having applied the matches")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func newUnmatchCmd(a *app) *cobra.Command {
	var bankLines []string

	cmd := &cobra.Command{
		Use:   "unmatch",
		Short: "Clear the matches of bank lines",
		Long: `Unmatch returns bank lines to the unmatched pool, removing their links to
ledger entries. Unmatching one line of a group does not unmatch the rest;
use 'reconciler groups check --repair' for half-applied groups.

Example:
  reconciler unmatch --bank-lines BL-1001,BL-1002`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			svc, err := a.newService(store, nil)
			if err != nil {
				return err
			}

			n, err := svc.Unmatch(cmd.Context(), bankLines)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Unmatched %d bank lines\n", n)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&bankLines, "bank-lines", nil, "bank line ids, comma-separated (required)")
	_ = cmd.MarkFlagRequired("bank-lines")

	return cmd
}

// openInput opens path for reading, or stdin for "-"
func openInput(cmd *cobra.Command, path string) (io.Reader, func(), error) {
	path = strings.TrimSpace(path)
	if path == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.ValidationError(errors.CodeMissingField, "input", path, err).
			WithSuggestion("check the --input path")
	}
	return f, func() { f.Close() }, nil
}
