package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"golang-bank-matching-engine/internal/storage"
	"golang-bank-matching-engine/pkg/errors"
)

func newGroupsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "groups",
		Short: "Inspect combinatorial match groups",
	}
	cmd.AddCommand(newGroupsCheckCmd(a))
	return cmd
}

func newGroupsCheckCmd(a *app) *cobra.Command {
	var repair bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Find match groups that were only partly stored",
		Long: `Check lists one-to-many and many-to-one groups whose stored links do not
add up to the group size. It exits with a matching error when any are found.
With --repair every bank line of those groups is unmatched instead, so the
next automatch run can propose them again.`,
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

			out := cmd.OutOrStdout()
			if repair {
				summary, err := svc.RepairGroups(cmd.Context())
				if err != nil {
					return err
				}
				if err := printGroups(out, summary.Groups); err != nil {
					return err
				}
				fmt.Fprintf(out, "Repaired %d groups, unmatched %d bank lines\n",
					len(summary.Groups), summary.BankLinesUnmatched)
				return nil
			}

			groups, err := svc.CheckGroups(cmd.Context())
			if err != nil {
				return err
			}
			if err := printGroups(out, groups); err != nil {
				return err
			}
			if len(groups) > 0 {
				ids := make([]string, 0, len(groups))
				for _, g := range groups {
					ids = append(ids, g.GroupID)
				}
				return errors.MatchingError(errors.CodeGroupIncomplete, strings.Join(ids, ", "), nil)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&repair, "repair", false, "unmatch the bank lines of incomplete groups")
	return cmd
}

func printGroups(w io.Writer, groups []storage.IncompleteGroup) error {
	if len(groups) == 0 {
		_, err := fmt.Fprintln(w, "All match groups are complete")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "GROUP\tEXPECTED\tFOUND\tBANK LINES")
	for _, g := range groups {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", g.GroupID, g.Expected, g.Found, strings.Join(g.BankLineIDs, ","))
	}
	return tw.Flush()
}
