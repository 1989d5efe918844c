package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/territory-intel/internal/export"
	"github.com/sells-group/territory-intel/internal/model"
)

var exportPath string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the ranked CSV from stored places",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		places, err := st.SelectForExport(ctx)
		if err != nil {
			return err
		}

		rows := make([]*model.Place, len(places))
		for i := range places {
			rows[i] = &places[i]
		}

		path := exportPath
		if path == "" {
			path = cfg.Export.Path
		}
		if err := export.WriteFile(path, rows); err != nil {
			return err
		}

		zap.L().Info("export finished", zap.String("path", path), zap.Int("rows", len(rows)))
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportPath, "out", "", "output CSV path (default from config)")
	rootCmd.AddCommand(exportCmd)
}
