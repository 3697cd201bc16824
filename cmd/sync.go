package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/research-agent/internal/crm"
	"github.com/sells-group/research-agent/internal/store"
)

var syncDryRun bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Write stored answers to Salesforce Account fields",
	Long:  "Maps each criterion with a salesforce_field onto the entity's Account and updates it in batches. Entities without a Salesforce ID are matched by website.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initData(ctx, "sync")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := store.ApplyResults(ctx, env.Store, env.Entities); err != nil {
			return eris.Wrap(err, "sync: load results")
		}

		sf, err := initSalesforce()
		if err != nil {
			return err
		}

		opts := []crm.Option{crm.WithDryRun(syncDryRun)}
		if env.Notion != nil {
			opts = append(opts, crm.WithNotion(env.Notion))
		}
		report, err := crm.NewSyncer(sf, env.Criteria, opts...).Sync(ctx, env.Entities)
		if err != nil {
			return eris.Wrap(err, "sync")
		}

		for _, e := range report.Errors {
			zap.L().Warn("sync error", zap.String("detail", e))
		}
		fmt.Fprintf(os.Stdout, "Updated %d, skipped %d, failed %d\n", report.Updated, report.Skipped, report.Failed)
		return nil
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "log the updates without writing to Salesforce")
	rootCmd.AddCommand(syncCmd)
}
