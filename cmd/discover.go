package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/territory-intel/internal/store"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Run discovery only: text search every plan query and merge results",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		plan, err := loadPlan()
		if err != nil {
			return err
		}

		var stats store.RunStats
		ids, err := env.Pipeline.Discover(ctx, plan, &stats)
		if err != nil {
			return err
		}

		zap.L().Info("discovery finished",
			zap.Int("unique_places", len(ids)),
			zap.Int64("discovered", stats.Discovered),
			zap.Int64("new_places", stats.NewPlaces),
		)
		return nil
	},
}

func init() {
	discoverCmd.Flags().StringVar(&planPath, "plan", "", "query plan YAML (default from config, else built-in NL plan)")
	rootCmd.AddCommand(discoverCmd)
}
