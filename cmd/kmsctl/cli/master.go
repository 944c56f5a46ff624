package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMasterCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "master",
		Short: "Manage master keys",
		Long:  "Manage the master keys that authorize admin operations.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "count",
		Short: "Show how many master keys are configured",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := a.client().ListMasterKeys(cmd.Context())
			if err != nil {
				return err
			}
			if a.jsonOutput() {
				return writeJSON(cmd.OutOrStdout(), map[string]int{"total_keys": n})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d master key(s) configured\n", n)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add <master-key>",
		Short: "Add a master key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client().AddMasterKey(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Master key added.")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <master-key>",
		Short: "Remove a master key (the last one cannot be removed)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client().RemoveMasterKey(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Master key removed.")
			return nil
		},
	})

	return cmd
}

func newHealthCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := a.client().Health(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if a.jsonOutput() {
				return writeJSON(out, status)
			}
			fmt.Fprintf(out, "Status:      %s\n", status.Status)
			fmt.Fprintf(out, "Service:     %s\n", status.Service)
			fmt.Fprintf(out, "Sub-keys:    %d\n", status.TotalKeys)
			fmt.Fprintf(out, "Master keys: %d\n", status.MasterKeysCount)
			return nil
		},
	}
}
