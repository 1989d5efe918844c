package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/territory-intel/internal/store"
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Fetch place details for stored places missing contact data",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		ids, err := env.Store.AllPlaceIDs(ctx)
		if err != nil {
			return err
		}

		var stats store.RunStats
		if err := env.Pipeline.Enrich(ctx, ids, &stats); err != nil {
			return err
		}

		zap.L().Info("enrichment finished",
			zap.Int("scanned", len(ids)),
			zap.Int64("enriched", stats.Enriched),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(enrichCmd)
}
