package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/sells-group/prospect-engine/internal/model"
)

var (
	grantSource    string
	grantReference string
	historyLimit   int
)

var creditsCmd = &cobra.Command{
	Use:   "credits",
	Short: "Inspect and adjust user credit accounts",
}

var creditsBalanceCmd = &cobra.Command{
	Use:   "balance <user-id>",
	Short: "Show a user's balance and remaining free units",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, cfg, "credits")
		if err != nil {
			return err
		}
		defer env.Close()

		acct, err := env.Ledger.GetAccount(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), accountResponse{CreditAccount: acct, FreeUnitsAvailable: env.Ledger.FreeUnitsAvailable(acct)})
	},
}

var creditsGrantCmd = &cobra.Command{
	Use:   "grant <user-id> <amount>",
	Short: "Add credits to a user's balance",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("amount must be an integer: %w", err)
		}

		ctx := cmd.Context()
		env, err := initEnv(ctx, cfg, "credits")
		if err != nil {
			return err
		}
		defer env.Close()

		acct, err := env.Ledger.Grant(ctx, args[0], amount, model.TransactionKind(grantSource), grantReference)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), accountResponse{CreditAccount: acct, FreeUnitsAvailable: env.Ledger.FreeUnitsAvailable(acct)})
	},
}

var creditsHistoryCmd = &cobra.Command{
	Use:   "history <user-id>",
	Short: "List a user's credit transactions, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, cfg, "credits")
		if err != nil {
			return err
		}
		defer env.Close()

		txs, err := env.Ledger.History(ctx, args[0], historyLimit)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), txs)
	},
}

func init() {
	creditsGrantCmd.Flags().StringVar(&grantSource, "source", string(model.TxPurchase), "transaction kind: purchase, grant or refund")
	creditsGrantCmd.Flags().StringVar(&grantReference, "reference", "", "external reference such as a payment ID")
	creditsHistoryCmd.Flags().IntVar(&historyLimit, "limit", defaultHistorySize, "maximum rows to list")

	creditsCmd.AddCommand(creditsBalanceCmd, creditsGrantCmd, creditsHistoryCmd)
	rootCmd.AddCommand(creditsCmd)
}
