package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect or clear saved resume progress",
	}
	cmd.AddCommand(newStateShowCmd(), newStateResetCmd())
	return cmd
}

func newStateShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the saved resume state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			st, ok := a.State().Load()
			if !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "no saved state at %s\n", a.State().Path())
				return nil
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		},
	}
}

func newStateResetCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete the resume state and the record journal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if !yes {
				return fmt.Errorf("refusing to delete %s and the journal without --yes", a.State().Path())
			}
			if err := a.ResetState(); err != nil {
				return fmt.Errorf("reset state: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "resume state and journal cleared")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}
