package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	reconcileLimit        int
	reconcilePurgeExpired bool
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Retry settlements that failed after leads were saved",
	Long:  "Charges acquisitions whose settlement failed, then optionally purges expired search cache rows. Safe to run repeatedly; a settlement already recorded is dropped from the queue without charging again.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, cfg, "reconcile")
		if err != nil {
			return err
		}
		defer env.Close()

		limit := reconcileLimit
		if limit <= 0 {
			limit = cfg.Reconcile.Batch
		}
		report, err := env.Service.Reconcile(ctx, limit)
		if err != nil {
			return err
		}

		remaining, err := env.Store.CountSettlements(ctx)
		if err != nil {
			return err
		}
		zap.L().Info("reconcile complete",
			zap.Int("processed", report.Processed),
			zap.Int("settled", report.Settled),
			zap.Int("retried", report.Retried),
			zap.Int("exhausted", report.Exhausted),
			zap.Int("held", report.Held),
			zap.Int("queued", remaining),
		)

		if reconcilePurgeExpired {
			n, err := env.Store.DeleteExpired(ctx)
			if err != nil {
				return err
			}
			zap.L().Info("purged expired cache entries", zap.Int("rows", n))
		}

		return printJSON(cmd.OutOrStdout(), report)
	},
}

func init() {
	reconcileCmd.Flags().IntVar(&reconcileLimit, "limit", 0, "max settlements to retry (default from config)")
	reconcileCmd.Flags().BoolVar(&reconcilePurgeExpired, "purge-cache", false, "also delete expired search cache rows")
	rootCmd.AddCommand(reconcileCmd)
}
