package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/territory-intel/internal/store"
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify unclassified places through Claude, bounded by the run budget",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		var stats store.RunStats
		if err := env.Pipeline.Classify(ctx, &stats); err != nil {
			return err
		}

		zap.L().Info("classification finished",
			zap.Int64("classified", stats.Classified),
			zap.Int64("scored", stats.Scored),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(classifyCmd)
}
