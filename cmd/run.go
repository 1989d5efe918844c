package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var planPath string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline: discover, enrich, classify, export",
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

		stats, err := env.Pipeline.Run(ctx, plan)
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}

		zap.L().Info("territory run finished",
			zap.Int64("discovered", stats.Discovered),
			zap.Int64("new_places", stats.NewPlaces),
			zap.Int64("enriched", stats.Enriched),
			zap.Int64("classified", stats.Classified),
			zap.Int64("scored", stats.Scored),
			zap.Int64("exported", stats.Exported),
		)
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&planPath, "plan", "", "query plan YAML (default from config, else built-in NL plan)")
	rootCmd.AddCommand(runCmd)
}
