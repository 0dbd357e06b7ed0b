// Package catalog loads item and crafting definitions from YAML and imports
// them into the market.
package catalog

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/xivmarket/internal/model"
)

// Catalog is the top-level catalog document.
type Catalog struct {
	Items   []model.Item   `yaml:"items"`
	Related []RelatedEntry `yaml:"related"`
}

// RelatedEntry is the crafting adjacency of one item.
type RelatedEntry struct {
	Item          int64 `yaml:"item"`
	model.Related `yaml:",inline"`
}

// Load reads a catalog from a YAML file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: read %s", path)
	}
	return Parse(data)
}

// Parse decodes and validates a catalog document. The document may be
// wrapped in a top-level "catalog" key.
func Parse(data []byte) (*Catalog, error) {
	var wrapper struct {
		Wrapped *Catalog `yaml:"catalog"`
		Bare    Catalog  `yaml:",inline"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "catalog: parse")
	}

	cat := &wrapper.Bare
	if wrapper.Wrapped != nil {
		cat = wrapper.Wrapped
	}
	if err := cat.Validate(); err != nil {
		return nil, err
	}
	return cat, nil
}

// Validate checks item IDs are positive and unique, every item has an
// English name, and related entries only reference catalog items.
func (c *Catalog) Validate() error {
	var errs []string
	seen := make(map[int64]bool, len(c.Items))
	for i, it := range c.Items {
		switch {
		case it.ID <= 0:
			errs = append(errs, fmt.Sprintf("items[%d]: id must be > 0", i))
		case seen[it.ID]:
			errs = append(errs, fmt.Sprintf("items[%d]: duplicate id %d", i, it.ID))
		}
		seen[it.ID] = true
		if strings.TrimSpace(it.Name.EN) == "" {
			errs = append(errs, fmt.Sprintf("items[%d]: name.en is required", i))
		}
	}

	for i, r := range c.Related {
		for _, id := range slices.Concat([]int64{r.Item}, r.CraftedFrom, r.CraftsInto) {
			if !seen[id] {
				errs = append(errs, fmt.Sprintf("related[%d]: unknown item %d", i, id))
			}
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("catalog: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Importer is the write side of the market a catalog is imported into.
type Importer interface {
	ImportItems(ctx context.Context, items []model.Item) (int64, error)
	SetRelated(ctx context.Context, itemID int64, related model.Related) error
}

// Result summarizes an import.
type Result struct {
	Items   int64 `json:"items"`
	Related int   `json:"related"`
}

// Import upserts every item, then replaces the crafting adjacency of each
// related entry.
func Import(ctx context.Context, dst Importer, cat *Catalog) (Result, error) {
	var res Result
	log := zap.L().With(zap.String("component", "catalog"))

	n, err := dst.ImportItems(ctx, cat.Items)
	if err != nil {
		return res, eris.Wrap(err, "catalog: import items")
	}
	res.Items = n

	for _, r := range cat.Related {
		if err := dst.SetRelated(ctx, r.Item, r.Related); err != nil {
			return res, eris.Wrapf(err, "catalog: related of item %d", r.Item)
		}
		res.Related++
	}

	log.Info("catalog imported",
		zap.Int64("items", res.Items),
		zap.Int("related", res.Related),
	)
	return res, nil
}
