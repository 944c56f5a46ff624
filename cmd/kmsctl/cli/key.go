package cli

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"keyledger/backend/internal/money"
)

func newKeyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"subkey"},
		Short:   "Manage sub-keys",
		Long:    "Work with the prepaid sub-keys tracked by the ledger.",
	}

	cmd.AddCommand(newKeyCreateCmd(a))
	cmd.AddCommand(newKeyListCmd(a))
	cmd.AddCommand(newKeyBalanceCmd(a))
	cmd.AddCommand(newKeyDeductCmd(a))
	cmd.AddCommand(newKeySetBalanceCmd(a))
	cmd.AddCommand(newKeyDeleteCmd(a))
	cmd.AddCommand(newKeyToggleCmd(a, "activate", "Activate a sub-key", true))
	cmd.AddCommand(newKeyToggleCmd(a, "deactivate", "Deactivate a sub-key", false))

	return cmd
}

// ---------- key create ----------

func newKeyCreateCmd(a *app) *cobra.Command {
	var (
		balance     string
		description string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new sub-key",
		Example: `  kmsctl key create --balance 50 --description "tts team"
  kmsctl key create`,
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := money.Parse(balance)
			if err != nil {
				return fmt.Errorf("invalid --balance: %w", err)
			}

			created, err := a.client().CreateKey(cmd.Context(), amount, description)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if a.jsonOutput() {
				return writeJSON(out, created)
			}
			fmt.Fprintln(out, "Sub-key created:")
			fmt.Fprintf(out, "  Key:     %s\n", created.SubKey)
			fmt.Fprintf(out, "  Balance: %s\n", created.Balance)
			return nil
		},
	}

	cmd.Flags().StringVar(&balance, "balance", "100.00", "initial balance")
	cmd.Flags().StringVar(&description, "description", "", "human-readable description")

	return cmd
}

// ---------- key list ----------

func newKeyListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all sub-keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := a.client().ListKeys(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if a.jsonOutput() {
				return writeJSON(out, keys)
			}
			if len(keys) == 0 {
				fmt.Fprintln(out, "No sub-keys. Use 'kmsctl key create' to create one.")
				return nil
			}

			ids := make([]string, 0, len(keys))
			for id := range keys {
				ids = append(ids, id)
			}
			sort.Strings(ids)

			fmt.Fprintf(out, "%-34s %12s %12s %-7s %-20s %s\n", "KEY", "BALANCE", "USED", "ACTIVE", "LAST USED", "DESCRIPTION")
			for _, id := range ids {
				k := keys[id]
				active := "yes"
				if !k.IsActive {
					active = "no"
				}
				lastUsed := "-"
				if k.LastUsed != nil {
					lastUsed = k.LastUsed.Local().Format(time.DateTime)
				}
				fmt.Fprintf(out, "%-34s %12s %12s %-7s %-20s %s\n", id, k.Balance, k.UsedAmount, active, lastUsed, k.Description)
			}
			return nil
		},
	}
}

// ---------- key balance ----------

func newKeyBalanceCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <sub-key>",
		Short: "Show the balance of an active sub-key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			balance, err := a.client().GetBalance(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if a.jsonOutput() {
				return writeJSON(cmd.OutOrStdout(), map[string]money.Amount{"balance": balance})
			}
			fmt.Fprintln(cmd.OutOrStdout(), balance)
			return nil
		},
	}
}

// ---------- key deduct ----------

func newKeyDeductCmd(a *app) *cobra.Command {
	var amount string

	cmd := &cobra.Command{
		Use:   "deduct <sub-key>",
		Short: "Charge a sub-key; a negative amount refunds",
		Example: `  kmsctl key deduct 3f2a... --amount 2.50
  kmsctl key deduct 3f2a... --amount=-1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := money.Parse(amount)
			if err != nil {
				return fmt.Errorf("invalid --amount: %w", err)
			}

			result, err := a.client().ValidateAndDeduct(cmd.Context(), args[0], value)
			if err != nil {
				return err
			}
			if a.jsonOutput() {
				return writeJSON(cmd.OutOrStdout(), result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s ok, new balance %s\n", result.Action, result.NewBalance)
			return nil
		},
	}

	cmd.Flags().StringVar(&amount, "amount", "1.00", "amount to charge")

	return cmd
}

// ---------- key set-balance ----------

func newKeySetBalanceCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set-balance <sub-key> <amount>",
		Short: "Overwrite the balance of a sub-key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := money.Parse(args[1])
			if err != nil {
				return fmt.Errorf("invalid amount: %w", err)
			}
			if err := a.client().UpdateBalance(cmd.Context(), args[0], value); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Balance of %s set to %s\n", args[0], value)
			return nil
		},
	}
}

// ---------- key delete ----------

func newKeyDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <sub-key>",
		Aliases: []string{"rm"},
		Short:   "Delete a sub-key",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client().DeleteKey(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sub-key %s deleted\n", args[0])
			return nil
		},
	}
}

// ---------- key activate / deactivate ----------

func newKeyToggleCmd(a *app, use, short string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <sub-key>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := a.client()
			var err error
			if active {
				err = c.ActivateKey(cmd.Context(), args[0])
			} else {
				err = c.DeactivateKey(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sub-key %s %sd\n", args[0], use)
			return nil
		},
	}
}
