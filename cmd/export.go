package main

import (
	"cmp"
	"context"
	"os"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/xivmarket/internal/market"
	"github.com/sells-group/xivmarket/internal/model"
	"github.com/sells-group/xivmarket/internal/workbook"
)

var (
	exportOut   string
	exportDays  int
	exportItems []int64
	exportLang  string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export price history to an XLSX workbook",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		lang, ok := model.ParseLanguage(exportLang)
		if !ok {
			return eris.Errorf("unsupported --lang %q", exportLang)
		}
		if exportDays <= 0 {
			return eris.New("--days must be > 0")
		}

		env, err := initMarket(ctx, cfg, "export")
		if err != nil {
			return err
		}
		defer env.Close()

		histories, err := collectHistories(ctx, env.Service, exportItems, time.Duration(exportDays)*24*time.Hour, cfg.Cache.WarmConcurrency)
		if err != nil {
			return err
		}

		f, err := os.Create(exportOut)
		if err != nil {
			return eris.Wrap(err, "create export file")
		}
		if err := workbook.Write(f, histories, lang); err != nil {
			f.Close() //nolint:errcheck
			return err
		}
		if err := f.Close(); err != nil {
			return eris.Wrap(err, "close export file")
		}

		zap.L().Info("export complete",
			zap.String("out", exportOut),
			zap.Int("items", len(histories)),
			zap.Int("days", exportDays),
		)
		return nil
	},
}

// collectHistories loads the price history of ids (every cached item when
// empty) for the trailing window, in item ID order.
func collectHistories(ctx context.Context, svc *market.Service, ids []int64, window time.Duration, concurrency int) ([]workbook.History, error) {
	var refs []model.ItemRef
	if len(ids) > 0 {
		refs = svc.Items(ids...)
		if len(refs) != len(ids) {
			return nil, eris.Errorf("export: %d of %d items are unknown", len(ids)-len(refs), len(ids))
		}
	} else {
		svc.Cache().Scan(func(all []model.ItemRef) {
			refs = slices.Clone(all)
		})
	}
	slices.SortFunc(refs, func(a, b model.ItemRef) int {
		return cmp.Compare(a.Item.ID, b.Item.ID)
	})

	since := svc.Now().Add(-window)
	histories := make([]workbook.History, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))
	for i, ref := range refs {
		g.Go(func() error {
			prices, err := svc.History(gctx, ref.Item.ID, since)
			if err != nil {
				return err
			}
			histories[i] = workbook.History{Ref: ref, Prices: prices}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "export: load history")
	}
	return histories, nil
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "prices.xlsx", "output workbook path")
	exportCmd.Flags().IntVar(&exportDays, "days", 30, "days of history to export")
	exportCmd.Flags().Int64SliceVar(&exportItems, "items", nil, "item IDs to export (default all)")
	exportCmd.Flags().StringVar(&exportLang, "lang", "en", "language for item names (en, ja, fr, de)")
	rootCmd.AddCommand(exportCmd)
}
