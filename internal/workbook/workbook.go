// Package workbook writes price history to XLSX and reads it back for
// restores.
package workbook

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/xivmarket/internal/model"
	"github.com/sells-group/xivmarket/internal/store"
)

// PricesSheet is the sheet holding one row per price.
const PricesSheet = "prices"

// SummarySheet is the sheet holding one row per item.
const SummarySheet = "summary"

var priceHeader = []string{"item_id", "item", "hq", "timestamp", "value", "submitter", "flagged"}

var summaryHeader = []string{"item_id", "item", "hq", "latest", "latest_at", "average", "prices"}

// History is the exported record of one item.
type History struct {
	Ref    model.ItemRef
	Prices []model.Price
}

// Row is one price read back from a workbook.
type Row struct {
	ItemID int64
	Price  model.Price
}

// Write renders histories into a workbook with a prices sheet and a summary
// sheet. Names are written in lang.
func Write(w io.Writer, histories []History, lang model.Language) error {
	f := xlsx.NewFile()

	prices, err := f.AddSheet(PricesSheet)
	if err != nil {
		return eris.Wrap(err, "xlsx: add prices sheet")
	}
	summary, err := f.AddSheet(SummarySheet)
	if err != nil {
		return eris.Wrap(err, "xlsx: add summary sheet")
	}

	addStrings(prices.AddRow(), priceHeader)
	addStrings(summary.AddRow(), summaryHeader)

	for _, h := range histories {
		item := h.Ref.Item
		for _, p := range h.Prices {
			row := prices.AddRow()
			row.AddCell().SetInt64(item.ID)
			row.AddCell().SetString(item.Name.In(lang))
			row.AddCell().SetBool(item.HQ)
			row.AddCell().SetString(p.Timestamp.UTC().Format(time.RFC3339))
			row.AddCell().SetInt64(p.Value)
			row.AddCell().SetInt64(p.Submitter.ID)
			row.AddCell().SetBool(p.Flagged)
		}

		row := summary.AddRow()
		row.AddCell().SetInt64(item.ID)
		row.AddCell().SetString(item.Name.In(lang))
		row.AddCell().SetBool(item.HQ)
		if p := h.Ref.Price; p != nil {
			row.AddCell().SetInt64(p.Value)
			row.AddCell().SetString(p.Timestamp.UTC().Format(time.RFC3339))
		} else {
			row.AddCell()
			row.AddCell()
		}
		if h.Ref.Average != nil {
			row.AddCell().SetInt64(*h.Ref.Average)
		} else {
			row.AddCell()
		}
		row.AddCell().SetInt(len(h.Prices))
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "xlsx: write")
	}
	return nil
}

func addStrings(row *xlsx.Row, values []string) {
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

// ReadFile reads the prices sheet of a workbook produced by Write.
func ReadFile(path string) ([]Row, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}
	return readPrices(f)
}

// Read parses an in-memory workbook produced by Write.
func Read(data []byte) ([]Row, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open binary")
	}
	return readPrices(f)
}

func readPrices(f *xlsx.File) ([]Row, error) {
	sheet, ok := f.Sheet[PricesSheet]
	if !ok {
		return nil, eris.Errorf("xlsx: sheet %q not found", PricesSheet)
	}

	var rows []Row
	for i, r := range sheet.Rows {
		if i == 0 {
			continue
		}
		cells := rowToStrings(r)
		if len(cells) < len(priceHeader) {
			return nil, eris.Errorf("xlsx: row %d has %d cells, want %d", i+1, len(cells), len(priceHeader))
		}
		row, err := parseRow(cells)
		if err != nil {
			return nil, eris.Wrapf(err, "xlsx: row %d", i+1)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseRow(cells []string) (Row, error) {
	itemID, err := strconv.ParseInt(cells[0], 10, 64)
	if err != nil {
		return Row{}, eris.Wrap(err, "item_id")
	}
	ts, err := time.Parse(time.RFC3339, cells[3])
	if err != nil {
		return Row{}, eris.Wrap(err, "timestamp")
	}
	value, err := strconv.ParseInt(cells[4], 10, 64)
	if err != nil {
		return Row{}, eris.Wrap(err, "value")
	}
	submitter, err := strconv.ParseInt(cells[5], 10, 64)
	if err != nil {
		return Row{}, eris.Wrap(err, "submitter")
	}
	return Row{
		ItemID: itemID,
		Price: model.Price{
			Timestamp: ts.UTC(),
			Value:     value,
			Submitter: model.UserRef{ID: submitter},
			Flagged:   parseBool(cells[6]),
		},
	}, nil
}

// parseBool accepts both the raw and the formatted spelling of a bool cell.
func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true":
		return true
	}
	return false
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}

// PriceWriter receives restored prices.
type PriceWriter interface {
	InsertPrice(ctx context.Context, itemID int64, price model.Price) error
}

// RestoreResult counts what a restore wrote and skipped.
type RestoreResult struct {
	Inserted int `json:"inserted"`
	Skipped  int `json:"skipped"`
}

// Restore inserts rows into dst. Prices that already exist are skipped.
// Flags are not restored.
func Restore(ctx context.Context, dst PriceWriter, rows []Row) (RestoreResult, error) {
	var res RestoreResult
	for _, r := range rows {
		if err := ctx.Err(); err != nil {
			return res, eris.Wrap(err, "xlsx: restore cancelled")
		}
		p := r.Price
		p.Flagged = false
		err := dst.InsertPrice(ctx, r.ItemID, p)
		switch {
		case err == nil:
			res.Inserted++
		case errors.Is(err, store.ErrDuplicatePrice):
			res.Skipped++
		default:
			return res, eris.Wrapf(err, "xlsx: restore item %d at %s", r.ItemID, p.Timestamp.Format(time.RFC3339))
		}
	}
	return res, nil
}
