// Package store persists items, prices, flags, watchlists and crafting
// relations. PostgresStore is the production backend; SQLiteStore serves
// single-node deployments and tests.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/xivmarket/internal/model"
)

var (
	// ErrDuplicatePrice is returned when a price already exists for the
	// same item and timestamp.
	ErrDuplicatePrice = eris.New("store: duplicate price")
	// ErrDuplicateItem is returned when an item with the same ID exists.
	ErrDuplicateItem = eris.New("store: duplicate item")
	// ErrFlagNotFound is returned when resolving a price that is not flagged.
	ErrFlagNotFound = eris.New("store: flag not found")
	// ErrWatchLimit is returned when adding a watch would exceed the
	// user's watchlist cap.
	ErrWatchLimit = eris.New("store: watch limit reached")
)

// Store defines the persistence interface for the market.
type Store interface {
	// Users
	UpsertUser(ctx context.Context, user model.UserRef) error

	// Items
	CreateItem(ctx context.Context, item model.Item) error
	GetItem(ctx context.Context, id int64) (*model.Item, error)
	UpsertItems(ctx context.Context, items []model.Item) (int64, error)

	// Prices
	LatestPrices(ctx context.Context) ([]model.ItemState, error)
	LatestPrice(ctx context.Context, itemID int64) (*model.Price, error)
	GetPrice(ctx context.Context, itemID int64, ts time.Time) (*model.Price, error)
	InsertPrice(ctx context.Context, itemID int64, price model.Price) error
	DeletePrice(ctx context.Context, itemID int64, ts time.Time, submitter int64) (int64, error)
	PriceHistory(ctx context.Context, itemID int64, since time.Time) ([]model.Price, error)

	// Flags
	CreateFlag(ctx context.Context, itemID int64, ts time.Time, reporter int64) (bool, error)
	ListFlags(ctx context.Context, limit int) ([]model.Flag, error)
	CountFlags(ctx context.Context) (int, error)
	ResolveFlag(ctx context.Context, itemID int64, ts time.Time, deletePrice bool, resolvedAt time.Time) (*model.FlagResolution, error)
	FlagHistory(ctx context.Context, limit int) ([]model.FlagResolution, error)
	ModerationStats(ctx context.Context, userID int64) (model.ModerationStats, error)

	// Watchlist
	// AddWatch checks the cap and inserts atomically. A limit of zero or
	// less leaves the watchlist uncapped.
	AddWatch(ctx context.Context, userID, itemID int64, limit int) (bool, error)
	RemoveWatch(ctx context.Context, userID, itemID int64) (bool, error)
	ListWatched(ctx context.Context, userID int64) ([]int64, error)
	IsWatching(ctx context.Context, userID, itemID int64) (bool, error)
	CountWatched(ctx context.Context, userID int64) (int, error)
	MostWatched(ctx context.Context, limit int) ([]model.WatchCount, error)

	// Crafting
	SetRelated(ctx context.Context, itemID int64, related model.Related) error
	Related(ctx context.Context, itemID int64) (model.Related, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// normalizeTime drops sub-second precision and the location so timestamps
// compare equal after a round trip through either backend.
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// itemColumns is the column order used when scanning items.
const itemColumns = "i.id, i.name_en, i.name_ja, i.name_fr, i.name_de, i.hq"
