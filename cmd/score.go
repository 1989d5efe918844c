package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Recompute total_score for every stored place",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Pipeline.RescoreAll(ctx)
		if err != nil {
			return err
		}

		zap.L().Info("rescore finished", zap.Int64("scored", n))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scoreCmd)
}
