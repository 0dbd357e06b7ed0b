package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/xivmarket/internal/catalog"
	"github.com/sells-group/xivmarket/internal/workbook"
)

var (
	importCatalogPath string
	importPricesPath  string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import an item catalog (YAML) and/or restore exported prices (XLSX)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if importCatalogPath == "" && importPricesPath == "" {
			return eris.New("one of --catalog or --prices is required")
		}

		// Parse inputs before touching the store.
		var cat *catalog.Catalog
		if importCatalogPath != "" {
			c, err := catalog.Load(importCatalogPath)
			if err != nil {
				return err
			}
			cat = c
		}
		var rows []workbook.Row
		if importPricesPath != "" {
			r, err := workbook.ReadFile(importPricesPath)
			if err != nil {
				return err
			}
			rows = r
		}

		env, err := initMarket(ctx, cfg, "import")
		if err != nil {
			return err
		}
		defer env.Close()

		if cat != nil {
			res, err := catalog.Import(ctx, env.Service, cat)
			if err != nil {
				return eris.Wrap(err, "import catalog")
			}
			zap.L().Info("catalog imported",
				zap.String("path", importCatalogPath),
				zap.Int64("items", res.Items),
				zap.Int("related", res.Related),
			)
		}

		if rows != nil {
			res, err := workbook.Restore(ctx, env.Store, rows)
			if err != nil {
				return eris.Wrap(err, "restore prices")
			}
			zap.L().Info("prices restored",
				zap.String("path", importPricesPath),
				zap.Int("inserted", res.Inserted),
				zap.Int("skipped", res.Skipped),
			)
		}
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importCatalogPath, "catalog", "", "path to a YAML item catalog")
	importCmd.Flags().StringVar(&importPricesPath, "prices", "", "path to an XLSX workbook written by export")
	rootCmd.AddCommand(importCmd)
}
