package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/xivmarket/internal/db"
	"github.com/sells-group/xivmarket/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for bulk loaders.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS users (
	id        BIGINT PRIMARY KEY,
	name      TEXT NOT NULL DEFAULT '',
	anonymous BOOLEAN NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS items (
	id      BIGINT PRIMARY KEY,
	name_en TEXT NOT NULL,
	name_ja TEXT NOT NULL DEFAULT '',
	name_fr TEXT NOT NULL DEFAULT '',
	name_de TEXT NOT NULL DEFAULT '',
	hq      BOOLEAN NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS prices (
	item_id         BIGINT NOT NULL REFERENCES items(id),
	ts              TIMESTAMPTZ NOT NULL,
	value           BIGINT NOT NULL CHECK (value >= 0),
	submitting_user BIGINT NOT NULL,
	PRIMARY KEY (item_id, ts)
);

CREATE INDEX IF NOT EXISTS idx_prices_submitting_user ON prices(submitting_user);

CREATE TABLE IF NOT EXISTS flags (
	price_item_id BIGINT NOT NULL,
	price_ts      TIMESTAMPTZ NOT NULL,
	reported_by   BIGINT NOT NULL,
	PRIMARY KEY (price_item_id, price_ts),
	FOREIGN KEY (price_item_id, price_ts) REFERENCES prices(item_id, ts) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_flags_reported_by ON flags(reported_by);

CREATE TABLE IF NOT EXISTS flags_history (
	id              UUID PRIMARY KEY,
	item_id         BIGINT NOT NULL,
	price_ts        TIMESTAMPTZ NOT NULL,
	submitting_user BIGINT NOT NULL,
	reported_by     BIGINT NOT NULL,
	deleted         BOOLEAN NOT NULL,
	resolved_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_flags_history_submitting_user ON flags_history(submitting_user);
CREATE INDEX IF NOT EXISTS idx_flags_history_reported_by ON flags_history(reported_by);

CREATE TABLE IF NOT EXISTS watchlist (
	user_id BIGINT NOT NULL,
	item_id BIGINT NOT NULL REFERENCES items(id),
	PRIMARY KEY (user_id, item_id)
);

CREATE INDEX IF NOT EXISTS idx_watchlist_item_id ON watchlist(item_id);

CREATE TABLE IF NOT EXISTS related_crafted_from (
	item_id         BIGINT NOT NULL REFERENCES items(id),
	related_item_id BIGINT NOT NULL,
	PRIMARY KEY (item_id, related_item_id)
);

CREATE TABLE IF NOT EXISTS related_crafts_into (
	item_id         BIGINT NOT NULL REFERENCES items(id),
	related_item_id BIGINT NOT NULL,
	PRIMARY KEY (item_id, related_item_id)
);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Users ---

func (s *PostgresStore) UpsertUser(ctx context.Context, user model.UserRef) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, name, anonymous) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, anonymous = EXCLUDED.anonymous`,
		user.ID, user.Name, user.Anonymous,
	)
	return eris.Wrapf(err, "postgres: upsert user %d", user.ID)
}

// --- Items ---

func (s *PostgresStore) CreateItem(ctx context.Context, item model.Item) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO items (id, name_en, name_ja, name_fr, name_de, hq) VALUES ($1, $2, $3, $4, $5, $6)`,
		item.ID, item.Name.EN, item.Name.JA, item.Name.FR, item.Name.DE, item.HQ,
	)
	if db.IsUniqueViolation(err) {
		return eris.Wrapf(ErrDuplicateItem, "postgres: create item %d", item.ID)
	}
	return eris.Wrapf(err, "postgres: create item %d", item.ID)
}

func (s *PostgresStore) GetItem(ctx context.Context, id int64) (*model.Item, error) {
	var it model.Item
	err := s.pool.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM items i WHERE i.id = $1`, id,
	).Scan(&it.ID, &it.Name.EN, &it.Name.JA, &it.Name.FR, &it.Name.DE, &it.HQ)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get item %d", id)
	}
	return &it, nil
}

func (s *PostgresStore) UpsertItems(ctx context.Context, items []model.Item) (int64, error) {
	rows := make([][]any, len(items))
	for i, it := range items {
		rows[i] = []any{it.ID, it.Name.EN, it.Name.JA, it.Name.FR, it.Name.DE, it.HQ}
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "items",
		Columns:      []string{"id", "name_en", "name_ja", "name_fr", "name_de", "hq"},
		ConflictKeys: []string{"id"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert items")
	}
	return n, nil
}

// --- Prices ---

// priceJoins attaches submitter details and the flag marker to p.
const priceJoins = `
	LEFT JOIN users u ON u.id = p.submitting_user
	LEFT JOIN flags f ON f.price_item_id = p.item_id AND f.price_ts = p.ts`

const priceColumns = `p.ts, p.value, p.submitting_user, COALESCE(u.name, ''), COALESCE(u.anonymous, false), f.price_item_id IS NOT NULL`

func scanPostgresPrice(row pgx.Row) (*model.Price, error) {
	var p model.Price
	if err := row.Scan(&p.Timestamp, &p.Value, &p.Submitter.ID, &p.Submitter.Name, &p.Submitter.Anonymous, &p.Flagged); err != nil {
		return nil, err
	}
	p.Timestamp = normalizeTime(p.Timestamp)
	return &p, nil
}

func (s *PostgresStore) LatestPrices(ctx context.Context) ([]model.ItemState, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+itemColumns+`, p.ts, p.value, p.submitting_user,
			COALESCE(u.name, ''), COALESCE(u.anonymous, false), f.price_item_id IS NOT NULL
		FROM items i
		LEFT JOIN LATERAL (
			SELECT item_id, ts, value, submitting_user FROM prices
			WHERE item_id = i.id ORDER BY ts DESC LIMIT 1
		) p ON true`+priceJoins+`
		ORDER BY i.id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest prices")
	}
	defer rows.Close()

	var out []model.ItemState
	for rows.Next() {
		var st model.ItemState
		var ts *time.Time
		var value, submitter *int64
		var name string
		var anonymous, flagged bool
		if err := rows.Scan(
			&st.Item.ID, &st.Item.Name.EN, &st.Item.Name.JA, &st.Item.Name.FR, &st.Item.Name.DE, &st.Item.HQ,
			&ts, &value, &submitter, &name, &anonymous, &flagged,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan latest price")
		}
		if ts != nil && value != nil && submitter != nil {
			st.Price = &model.Price{
				Timestamp: normalizeTime(*ts),
				Value:     *value,
				Submitter: model.UserRef{ID: *submitter, Name: name, Anonymous: anonymous},
				Flagged:   flagged,
			}
		}
		out = append(out, st)
	}
	return out, eris.Wrap(rows.Err(), "postgres: latest prices iterate")
}

func (s *PostgresStore) LatestPrice(ctx context.Context, itemID int64) (*model.Price, error) {
	p, err := scanPostgresPrice(s.pool.QueryRow(ctx,
		`SELECT `+priceColumns+` FROM prices p`+priceJoins+`
		 WHERE p.item_id = $1 ORDER BY p.ts DESC LIMIT 1`, itemID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: latest price %d", itemID)
	}
	return p, nil
}

func (s *PostgresStore) GetPrice(ctx context.Context, itemID int64, ts time.Time) (*model.Price, error) {
	p, err := scanPostgresPrice(s.pool.QueryRow(ctx,
		`SELECT `+priceColumns+` FROM prices p`+priceJoins+`
		 WHERE p.item_id = $1 AND p.ts = $2`, itemID, normalizeTime(ts)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get price %d", itemID)
	}
	return p, nil
}

func (s *PostgresStore) InsertPrice(ctx context.Context, itemID int64, price model.Price) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO prices (item_id, ts, value, submitting_user) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (item_id, ts) DO NOTHING`,
		itemID, normalizeTime(price.Timestamp), price.Value, price.Submitter.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert price %d", itemID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrDuplicatePrice, "postgres: insert price %d", itemID)
	}
	return nil
}

// DeletePrice removes the price of itemID at ts. A non-zero submitter scopes
// the delete to prices that user submitted.
func (s *PostgresStore) DeletePrice(ctx context.Context, itemID int64, ts time.Time, submitter int64) (int64, error) {
	query := `DELETE FROM prices WHERE item_id = $1 AND ts = $2`
	args := []any{itemID, normalizeTime(ts)}
	if submitter != 0 {
		query += fmt.Sprintf(" AND submitting_user = $%d", len(args)+1)
		args = append(args, submitter)
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: delete price %d", itemID)
	}
	return tag.RowsAffected(), nil
}

// PriceHistory returns the prices of itemID submitted at or after since,
// newest first.
func (s *PostgresStore) PriceHistory(ctx context.Context, itemID int64, since time.Time) ([]model.Price, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+priceColumns+` FROM prices p`+priceJoins+`
		 WHERE p.item_id = $1 AND p.ts >= $2 ORDER BY p.ts DESC`,
		itemID, normalizeTime(since))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: price history %d", itemID)
	}
	defer rows.Close()

	var out []model.Price
	for rows.Next() {
		p, err := scanPostgresPrice(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan price")
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: price history iterate")
}

// --- Flags ---

func (s *PostgresStore) CreateFlag(ctx context.Context, itemID int64, ts time.Time, reporter int64) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO flags (price_item_id, price_ts, reported_by) VALUES ($1, $2, $3)
		 ON CONFLICT (price_item_id, price_ts) DO NOTHING`,
		itemID, normalizeTime(ts), reporter,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: create flag %d", itemID)
	}
	return tag.RowsAffected() > 0, nil
}

// ListFlags returns unresolved flags, oldest disputed price first.
func (s *PostgresStore) ListFlags(ctx context.Context, limit int) ([]model.Flag, error) {
	query := `
		SELECT ` + itemColumns + `, p.ts, p.value, p.submitting_user,
			COALESCE(su.name, ''), COALESCE(su.anonymous, false),
			f.reported_by, COALESCE(ru.name, ''), COALESCE(ru.anonymous, false)
		FROM flags f
		JOIN prices p ON p.item_id = f.price_item_id AND p.ts = f.price_ts
		JOIN items i ON i.id = f.price_item_id
		LEFT JOIN users su ON su.id = p.submitting_user
		LEFT JOIN users ru ON ru.id = f.reported_by
		ORDER BY f.price_ts ASC, f.price_item_id ASC`
	var args []any
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list flags")
	}
	defer rows.Close()

	var out []model.Flag
	for rows.Next() {
		var f model.Flag
		var p model.Price
		if err := rows.Scan(
			&f.State.Item.ID, &f.State.Item.Name.EN, &f.State.Item.Name.JA, &f.State.Item.Name.FR, &f.State.Item.Name.DE, &f.State.Item.HQ,
			&p.Timestamp, &p.Value, &p.Submitter.ID, &p.Submitter.Name, &p.Submitter.Anonymous,
			&f.Reporter.ID, &f.Reporter.Name, &f.Reporter.Anonymous,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan flag")
		}
		p.Timestamp = normalizeTime(p.Timestamp)
		p.Flagged = true
		f.State.Price = &p
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list flags iterate")
}

func (s *PostgresStore) CountFlags(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM flags`).Scan(&n)
	return n, eris.Wrap(err, "postgres: count flags")
}

// ResolveFlag closes the flag on a price, deleting the price itself when
// deletePrice is set, and appends the outcome to flags_history in the same
// transaction.
func (s *PostgresStore) ResolveFlag(ctx context.Context, itemID int64, ts time.Time, deletePrice bool, resolvedAt time.Time) (*model.FlagResolution, error) {
	ts = normalizeTime(ts)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: resolve flag: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	res := model.FlagResolution{
		ID:             uuid.New().String(),
		ItemID:         itemID,
		PriceTimestamp: ts,
		Deleted:        deletePrice,
		ResolvedAt:     normalizeTime(resolvedAt),
	}
	err = tx.QueryRow(ctx,
		`SELECT f.reported_by, p.submitting_user FROM flags f
		 JOIN prices p ON p.item_id = f.price_item_id AND p.ts = f.price_ts
		 WHERE f.price_item_id = $1 AND f.price_ts = $2 FOR UPDATE`,
		itemID, ts,
	).Scan(&res.Reporter, &res.Submitter)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrFlagNotFound, "postgres: resolve flag %d", itemID)
		}
		return nil, eris.Wrapf(err, "postgres: resolve flag %d", itemID)
	}

	remove := `DELETE FROM flags WHERE price_item_id = $1 AND price_ts = $2`
	if deletePrice {
		remove = `DELETE FROM prices WHERE item_id = $1 AND ts = $2`
	}
	if _, err := tx.Exec(ctx, remove, itemID, ts); err != nil {
		return nil, eris.Wrapf(err, "postgres: resolve flag %d: remove", itemID)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO flags_history (id, item_id, price_ts, submitting_user, reported_by, deleted, resolved_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		res.ID, res.ItemID, res.PriceTimestamp, res.Submitter, res.Reporter, res.Deleted, res.ResolvedAt,
	); err != nil {
		return nil, eris.Wrapf(err, "postgres: resolve flag %d: history", itemID)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: resolve flag: commit tx")
	}
	return &res, nil
}

// FlagHistory returns resolved flags, most recent resolution first.
func (s *PostgresStore) FlagHistory(ctx context.Context, limit int) ([]model.FlagResolution, error) {
	query := `SELECT id::text, item_id, price_ts, submitting_user, reported_by, deleted, resolved_at
		FROM flags_history ORDER BY resolved_at DESC, id`
	var args []any
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: flag history")
	}
	defer rows.Close()

	var out []model.FlagResolution
	for rows.Next() {
		var r model.FlagResolution
		if err := rows.Scan(&r.ID, &r.ItemID, &r.PriceTimestamp, &r.Submitter, &r.Reporter, &r.Deleted, &r.ResolvedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan flag history")
		}
		r.PriceTimestamp = normalizeTime(r.PriceTimestamp)
		r.ResolvedAt = normalizeTime(r.ResolvedAt)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: flag history iterate")
}

func (s *PostgresStore) ModerationStats(ctx context.Context, userID int64) (model.ModerationStats, error) {
	var st model.ModerationStats
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM prices WHERE submitting_user = $1),
			(SELECT COUNT(*) FROM flags_history WHERE submitting_user = $1 AND deleted),
			(SELECT COUNT(*) FROM flags WHERE reported_by = $1),
			(SELECT COUNT(*) FROM flags_history WHERE reported_by = $1 AND deleted),
			(SELECT COUNT(*) FROM flags_history WHERE reported_by = $1 AND NOT deleted)`,
		userID,
	).Scan(&st.PricesSubmitted, &st.PricesInvalid, &st.FlagsUnresolved, &st.FlagsValid, &st.FlagsInvalid)
	return st, eris.Wrapf(err, "postgres: moderation stats %d", userID)
}

// --- Watchlist ---

func (s *PostgresStore) AddWatch(ctx context.Context, userID, itemID int64, limit int) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, eris.Wrap(err, "postgres: add watch: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Concurrent watches by one user queue here until this tx ends.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, userID); err != nil {
		return false, eris.Wrapf(err, "postgres: add watch %d: lock user", itemID)
	}

	var watching bool
	var n int
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM watchlist WHERE user_id = $1 AND item_id = $2),
		        (SELECT COUNT(*) FROM watchlist WHERE user_id = $1)`,
		userID, itemID,
	).Scan(&watching, &n)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: add watch %d", itemID)
	}
	if watching {
		return false, nil
	}
	if limit > 0 && n >= limit {
		return false, eris.Wrapf(ErrWatchLimit, "postgres: user %d watches %d items", userID, n)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO watchlist (user_id, item_id) VALUES ($1, $2)`,
		userID, itemID,
	); err != nil {
		return false, eris.Wrapf(err, "postgres: add watch %d", itemID)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, eris.Wrap(err, "postgres: add watch: commit tx")
	}
	return true, nil
}

func (s *PostgresStore) RemoveWatch(ctx context.Context, userID, itemID int64) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM watchlist WHERE user_id = $1 AND item_id = $2`,
		userID, itemID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: remove watch %d", itemID)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ListWatched(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT item_id FROM watchlist WHERE user_id = $1 ORDER BY item_id`, userID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list watched %d", userID)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan watched")
		}
		out = append(out, id)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list watched iterate")
}

func (s *PostgresStore) IsWatching(ctx context.Context, userID, itemID int64) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM watchlist WHERE user_id = $1 AND item_id = $2)`,
		userID, itemID,
	).Scan(&ok)
	return ok, eris.Wrapf(err, "postgres: is watching %d", itemID)
}

func (s *PostgresStore) CountWatched(ctx context.Context, userID int64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM watchlist WHERE user_id = $1`, userID,
	).Scan(&n)
	return n, eris.Wrapf(err, "postgres: count watched %d", userID)
}

func (s *PostgresStore) MostWatched(ctx context.Context, limit int) ([]model.WatchCount, error) {
	query := `SELECT item_id, COUNT(*) AS watchers FROM watchlist
		GROUP BY item_id ORDER BY watchers DESC, item_id ASC`
	var args []any
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: most watched")
	}
	defer rows.Close()

	var out []model.WatchCount
	for rows.Next() {
		var wc model.WatchCount
		if err := rows.Scan(&wc.ItemID, &wc.Watchers); err != nil {
			return nil, eris.Wrap(err, "postgres: scan most watched")
		}
		out = append(out, wc)
	}
	return out, eris.Wrap(rows.Err(), "postgres: most watched iterate")
}

// --- Crafting ---

var relatedColumns = []string{"item_id", "related_item_id"}

func relatedRows(itemID int64, ids []int64) [][]any {
	rows := make([][]any, 0, len(ids))
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		rows = append(rows, []any{itemID, id})
	}
	return rows
}

// SetRelated replaces both adjacency lists of itemID.
func (s *PostgresStore) SetRelated(ctx context.Context, itemID int64, related model.Related) error {
	if _, err := db.ReplaceRows(ctx, s.pool, "related_crafted_from", "item_id", itemID, relatedColumns, relatedRows(itemID, related.CraftedFrom)); err != nil {
		return eris.Wrapf(err, "postgres: set crafted from %d", itemID)
	}
	if _, err := db.ReplaceRows(ctx, s.pool, "related_crafts_into", "item_id", itemID, relatedColumns, relatedRows(itemID, related.CraftsInto)); err != nil {
		return eris.Wrapf(err, "postgres: set crafts into %d", itemID)
	}
	return nil
}

func (s *PostgresStore) Related(ctx context.Context, itemID int64) (model.Related, error) {
	var rel model.Related
	var err error
	if rel.CraftedFrom, err = s.relatedIDs(ctx, "related_crafted_from", itemID); err != nil {
		return rel, err
	}
	if rel.CraftsInto, err = s.relatedIDs(ctx, "related_crafts_into", itemID); err != nil {
		return rel, err
	}
	return rel, nil
}

func (s *PostgresStore) relatedIDs(ctx context.Context, table string, itemID int64) ([]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT related_item_id FROM `+pgx.Identifier{table}.Sanitize()+` WHERE item_id = $1 ORDER BY related_item_id`,
		itemID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: query %s", table)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrapf(err, "postgres: scan %s", table)
		}
		out = append(out, id)
	}
	return out, eris.Wrapf(rows.Err(), "postgres: %s iterate", table)
}
