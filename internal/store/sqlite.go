package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/xivmarket/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Timestamps are
// stored as unix seconds.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
// Foreign keys and the busy timeout are per-connection settings, so they
// travel in the DSN.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", dsn+sep+"_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS users (
	id        INTEGER PRIMARY KEY,
	name      TEXT NOT NULL DEFAULT '',
	anonymous INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS items (
	id      INTEGER PRIMARY KEY,
	name_en TEXT NOT NULL,
	name_ja TEXT NOT NULL DEFAULT '',
	name_fr TEXT NOT NULL DEFAULT '',
	name_de TEXT NOT NULL DEFAULT '',
	hq      INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS prices (
	item_id         INTEGER NOT NULL REFERENCES items(id),
	ts              INTEGER NOT NULL,
	value           INTEGER NOT NULL CHECK (value >= 0),
	submitting_user INTEGER NOT NULL,
	PRIMARY KEY (item_id, ts)
);

CREATE INDEX IF NOT EXISTS idx_prices_submitting_user ON prices(submitting_user);

CREATE TABLE IF NOT EXISTS flags (
	price_item_id INTEGER NOT NULL,
	price_ts      INTEGER NOT NULL,
	reported_by   INTEGER NOT NULL,
	PRIMARY KEY (price_item_id, price_ts),
	FOREIGN KEY (price_item_id, price_ts) REFERENCES prices(item_id, ts) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_flags_reported_by ON flags(reported_by);

CREATE TABLE IF NOT EXISTS flags_history (
	id              TEXT PRIMARY KEY,
	item_id         INTEGER NOT NULL,
	price_ts        INTEGER NOT NULL,
	submitting_user INTEGER NOT NULL,
	reported_by     INTEGER NOT NULL,
	deleted         INTEGER NOT NULL,
	resolved_at     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_flags_history_submitting_user ON flags_history(submitting_user);
CREATE INDEX IF NOT EXISTS idx_flags_history_reported_by ON flags_history(reported_by);

CREATE TABLE IF NOT EXISTS watchlist (
	user_id INTEGER NOT NULL,
	item_id INTEGER NOT NULL REFERENCES items(id),
	PRIMARY KEY (user_id, item_id)
);

CREATE INDEX IF NOT EXISTS idx_watchlist_item_id ON watchlist(item_id);

CREATE TABLE IF NOT EXISTS related_crafted_from (
	item_id         INTEGER NOT NULL REFERENCES items(id),
	related_item_id INTEGER NOT NULL,
	PRIMARY KEY (item_id, related_item_id)
);

CREATE TABLE IF NOT EXISTS related_crafts_into (
	item_id         INTEGER NOT NULL REFERENCES items(id),
	related_item_id INTEGER NOT NULL,
	PRIMARY KEY (item_id, related_item_id)
);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanner is implemented by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func fromUnix(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

func toUnix(t time.Time) int64 {
	return normalizeTime(t).Unix()
}

func isSQLiteUnique(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// --- Users ---

func (s *SQLiteStore) UpsertUser(ctx context.Context, user model.UserRef) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, anonymous) VALUES (?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET name = excluded.name, anonymous = excluded.anonymous`,
		user.ID, user.Name, user.Anonymous,
	)
	return eris.Wrapf(err, "sqlite: upsert user %d", user.ID)
}

// --- Items ---

func (s *SQLiteStore) CreateItem(ctx context.Context, item model.Item) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO items (id, name_en, name_ja, name_fr, name_de, hq) VALUES (?, ?, ?, ?, ?, ?)`,
		item.ID, item.Name.EN, item.Name.JA, item.Name.FR, item.Name.DE, item.HQ,
	)
	if isSQLiteUnique(err) {
		return eris.Wrapf(ErrDuplicateItem, "sqlite: create item %d", item.ID)
	}
	return eris.Wrapf(err, "sqlite: create item %d", item.ID)
}

func (s *SQLiteStore) GetItem(ctx context.Context, id int64) (*model.Item, error) {
	var it model.Item
	err := s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items i WHERE i.id = ?`, id,
	).Scan(&it.ID, &it.Name.EN, &it.Name.JA, &it.Name.FR, &it.Name.DE, &it.HQ)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get item %d", id)
	}
	return &it, nil
}

func (s *SQLiteStore) UpsertItems(ctx context.Context, items []model.Item) (int64, error) {
	if len(items) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert items: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO items (id, name_en, name_ja, name_fr, name_de, hq) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET name_en = excluded.name_en, name_ja = excluded.name_ja,
			name_fr = excluded.name_fr, name_de = excluded.name_de, hq = excluded.hq`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert items: prepare")
	}
	defer stmt.Close()

	var n int64
	for _, it := range items {
		res, err := stmt.ExecContext(ctx, it.ID, it.Name.EN, it.Name.JA, it.Name.FR, it.Name.DE, it.HQ)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert item %d", it.ID)
		}
		affected, _ := res.RowsAffected()
		n += affected
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert items: commit tx")
	}
	return n, nil
}

// --- Prices ---

const sqlitePriceColumns = `p.ts, p.value, p.submitting_user, COALESCE(u.name, ''), COALESCE(u.anonymous, 0), f.price_item_id IS NOT NULL`

func scanSQLitePrice(row scanner) (*model.Price, error) {
	var p model.Price
	var ts int64
	if err := row.Scan(&ts, &p.Value, &p.Submitter.ID, &p.Submitter.Name, &p.Submitter.Anonymous, &p.Flagged); err != nil {
		return nil, err
	}
	p.Timestamp = fromUnix(ts)
	return &p, nil
}

func (s *SQLiteStore) LatestPrices(ctx context.Context) ([]model.ItemState, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+`, p.ts, p.value, p.submitting_user,
			COALESCE(u.name, ''), COALESCE(u.anonymous, 0), f.price_item_id IS NOT NULL
		FROM items i
		LEFT JOIN prices p ON p.item_id = i.id
			AND p.ts = (SELECT MAX(ts) FROM prices WHERE item_id = i.id)`+priceJoins+`
		ORDER BY i.id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest prices")
	}
	defer rows.Close()

	var out []model.ItemState
	for rows.Next() {
		var st model.ItemState
		var ts, value, submitter sql.NullInt64
		var name string
		var anonymous, flagged bool
		if err := rows.Scan(
			&st.Item.ID, &st.Item.Name.EN, &st.Item.Name.JA, &st.Item.Name.FR, &st.Item.Name.DE, &st.Item.HQ,
			&ts, &value, &submitter, &name, &anonymous, &flagged,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan latest price")
		}
		if ts.Valid && value.Valid && submitter.Valid {
			st.Price = &model.Price{
				Timestamp: fromUnix(ts.Int64),
				Value:     value.Int64,
				Submitter: model.UserRef{ID: submitter.Int64, Name: name, Anonymous: anonymous},
				Flagged:   flagged,
			}
		}
		out = append(out, st)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: latest prices iterate")
}

func (s *SQLiteStore) LatestPrice(ctx context.Context, itemID int64) (*model.Price, error) {
	p, err := scanSQLitePrice(s.db.QueryRowContext(ctx,
		`SELECT `+sqlitePriceColumns+` FROM prices p`+priceJoins+`
		 WHERE p.item_id = ? ORDER BY p.ts DESC LIMIT 1`, itemID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: latest price %d", itemID)
	}
	return p, nil
}

func (s *SQLiteStore) GetPrice(ctx context.Context, itemID int64, ts time.Time) (*model.Price, error) {
	p, err := scanSQLitePrice(s.db.QueryRowContext(ctx,
		`SELECT `+sqlitePriceColumns+` FROM prices p`+priceJoins+`
		 WHERE p.item_id = ? AND p.ts = ?`, itemID, toUnix(ts)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get price %d", itemID)
	}
	return p, nil
}

func (s *SQLiteStore) InsertPrice(ctx context.Context, itemID int64, price model.Price) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO prices (item_id, ts, value, submitting_user) VALUES (?, ?, ?, ?)
		 ON CONFLICT (item_id, ts) DO NOTHING`,
		itemID, toUnix(price.Timestamp), price.Value, price.Submitter.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert price %d", itemID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Wrapf(ErrDuplicatePrice, "sqlite: insert price %d", itemID)
	}
	return nil
}

// DeletePrice removes the price of itemID at ts. A non-zero submitter scopes
// the delete to prices that user submitted.
func (s *SQLiteStore) DeletePrice(ctx context.Context, itemID int64, ts time.Time, submitter int64) (int64, error) {
	query := `DELETE FROM prices WHERE item_id = ? AND ts = ?`
	args := []any{itemID, toUnix(ts)}
	if submitter != 0 {
		query += ` AND submitting_user = ?`
		args = append(args, submitter)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: delete price %d", itemID)
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: delete price rows affected")
}

// PriceHistory returns the prices of itemID submitted at or after since,
// newest first.
func (s *SQLiteStore) PriceHistory(ctx context.Context, itemID int64, since time.Time) ([]model.Price, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqlitePriceColumns+` FROM prices p`+priceJoins+`
		 WHERE p.item_id = ? AND p.ts >= ? ORDER BY p.ts DESC`,
		itemID, toUnix(since))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: price history %d", itemID)
	}
	defer rows.Close()

	var out []model.Price
	for rows.Next() {
		p, err := scanSQLitePrice(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan price")
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: price history iterate")
}

// --- Flags ---

func (s *SQLiteStore) CreateFlag(ctx context.Context, itemID int64, ts time.Time, reporter int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO flags (price_item_id, price_ts, reported_by) VALUES (?, ?, ?)
		 ON CONFLICT (price_item_id, price_ts) DO NOTHING`,
		itemID, toUnix(ts), reporter,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: create flag %d", itemID)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListFlags returns unresolved flags, oldest disputed price first.
func (s *SQLiteStore) ListFlags(ctx context.Context, limit int) ([]model.Flag, error) {
	query := `
		SELECT ` + itemColumns + `, p.ts, p.value, p.submitting_user,
			COALESCE(su.name, ''), COALESCE(su.anonymous, 0),
			f.reported_by, COALESCE(ru.name, ''), COALESCE(ru.anonymous, 0)
		FROM flags f
		JOIN prices p ON p.item_id = f.price_item_id AND p.ts = f.price_ts
		JOIN items i ON i.id = f.price_item_id
		LEFT JOIN users su ON su.id = p.submitting_user
		LEFT JOIN users ru ON ru.id = f.reported_by
		ORDER BY f.price_ts ASC, f.price_item_id ASC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list flags")
	}
	defer rows.Close()

	var out []model.Flag
	for rows.Next() {
		var f model.Flag
		var p model.Price
		var ts int64
		if err := rows.Scan(
			&f.State.Item.ID, &f.State.Item.Name.EN, &f.State.Item.Name.JA, &f.State.Item.Name.FR, &f.State.Item.Name.DE, &f.State.Item.HQ,
			&ts, &p.Value, &p.Submitter.ID, &p.Submitter.Name, &p.Submitter.Anonymous,
			&f.Reporter.ID, &f.Reporter.Name, &f.Reporter.Anonymous,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan flag")
		}
		p.Timestamp = fromUnix(ts)
		p.Flagged = true
		f.State.Price = &p
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list flags iterate")
}

func (s *SQLiteStore) CountFlags(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM flags`).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count flags")
}

// ResolveFlag closes the flag on a price, deleting the price itself when
// deletePrice is set, and appends the outcome to flags_history in the same
// transaction.
func (s *SQLiteStore) ResolveFlag(ctx context.Context, itemID int64, ts time.Time, deletePrice bool, resolvedAt time.Time) (*model.FlagResolution, error) {
	sec := toUnix(ts)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: resolve flag: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	res := model.FlagResolution{
		ID:             uuid.New().String(),
		ItemID:         itemID,
		PriceTimestamp: fromUnix(sec),
		Deleted:        deletePrice,
		ResolvedAt:     normalizeTime(resolvedAt),
	}
	err = tx.QueryRowContext(ctx,
		`SELECT f.reported_by, p.submitting_user FROM flags f
		 JOIN prices p ON p.item_id = f.price_item_id AND p.ts = f.price_ts
		 WHERE f.price_item_id = ? AND f.price_ts = ?`,
		itemID, sec,
	).Scan(&res.Reporter, &res.Submitter)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(ErrFlagNotFound, "sqlite: resolve flag %d", itemID)
		}
		return nil, eris.Wrapf(err, "sqlite: resolve flag %d", itemID)
	}

	remove := `DELETE FROM flags WHERE price_item_id = ? AND price_ts = ?`
	if deletePrice {
		remove = `DELETE FROM prices WHERE item_id = ? AND ts = ?`
	}
	if _, err := tx.ExecContext(ctx, remove, itemID, sec); err != nil {
		return nil, eris.Wrapf(err, "sqlite: resolve flag %d: remove", itemID)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO flags_history (id, item_id, price_ts, submitting_user, reported_by, deleted, resolved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		res.ID, res.ItemID, sec, res.Submitter, res.Reporter, res.Deleted, res.ResolvedAt.Unix(),
	); err != nil {
		return nil, eris.Wrapf(err, "sqlite: resolve flag %d: history", itemID)
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: resolve flag: commit tx")
	}
	return &res, nil
}

// FlagHistory returns resolved flags, most recent resolution first.
func (s *SQLiteStore) FlagHistory(ctx context.Context, limit int) ([]model.FlagResolution, error) {
	query := `SELECT id, item_id, price_ts, submitting_user, reported_by, deleted, resolved_at
		FROM flags_history ORDER BY resolved_at DESC, rowid DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: flag history")
	}
	defer rows.Close()

	var out []model.FlagResolution
	for rows.Next() {
		var r model.FlagResolution
		var priceTS, resolvedAt int64
		if err := rows.Scan(&r.ID, &r.ItemID, &priceTS, &r.Submitter, &r.Reporter, &r.Deleted, &resolvedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan flag history")
		}
		r.PriceTimestamp = fromUnix(priceTS)
		r.ResolvedAt = fromUnix(resolvedAt)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: flag history iterate")
}

func (s *SQLiteStore) ModerationStats(ctx context.Context, userID int64) (model.ModerationStats, error) {
	var st model.ModerationStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM prices WHERE submitting_user = ?1),
			(SELECT COUNT(*) FROM flags_history WHERE submitting_user = ?1 AND deleted),
			(SELECT COUNT(*) FROM flags WHERE reported_by = ?1),
			(SELECT COUNT(*) FROM flags_history WHERE reported_by = ?1 AND deleted),
			(SELECT COUNT(*) FROM flags_history WHERE reported_by = ?1 AND NOT deleted)`,
		userID,
	).Scan(&st.PricesSubmitted, &st.PricesInvalid, &st.FlagsUnresolved, &st.FlagsValid, &st.FlagsInvalid)
	return st, eris.Wrapf(err, "sqlite: moderation stats %d", userID)
}

// --- Watchlist ---

func (s *SQLiteStore) AddWatch(ctx context.Context, userID, itemID int64, limit int) (bool, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: add watch: conn")
	}
	defer conn.Close()

	// IMMEDIATE takes the write lock before the count is read.
	if _, err := conn.ExecContext(ctx, `BEGIN IMMEDIATE`); err != nil {
		return false, eris.Wrap(err, "sqlite: add watch: begin")
	}
	committed := false
	defer func() {
		if !committed {
			conn.ExecContext(context.WithoutCancel(ctx), `ROLLBACK`) //nolint:errcheck
		}
	}()

	var watching bool
	var n int
	err = conn.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM watchlist WHERE user_id = ? AND item_id = ?),
		        (SELECT COUNT(*) FROM watchlist WHERE user_id = ?)`,
		userID, itemID, userID,
	).Scan(&watching, &n)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: add watch %d", itemID)
	}
	if watching {
		return false, nil
	}
	if limit > 0 && n >= limit {
		return false, eris.Wrapf(ErrWatchLimit, "sqlite: user %d watches %d items", userID, n)
	}

	if _, err := conn.ExecContext(ctx,
		`INSERT INTO watchlist (user_id, item_id) VALUES (?, ?)`,
		userID, itemID,
	); err != nil {
		return false, eris.Wrapf(err, "sqlite: add watch %d", itemID)
	}
	if _, err := conn.ExecContext(ctx, `COMMIT`); err != nil {
		return false, eris.Wrap(err, "sqlite: add watch: commit")
	}
	committed = true
	return true, nil
}

func (s *SQLiteStore) RemoveWatch(ctx context.Context, userID, itemID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM watchlist WHERE user_id = ? AND item_id = ?`,
		userID, itemID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: remove watch %d", itemID)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLiteStore) ListWatched(ctx context.Context, userID int64) ([]int64, error) {
	return s.queryIDs(ctx, "list watched",
		`SELECT item_id FROM watchlist WHERE user_id = ? ORDER BY item_id`, userID)
}

func (s *SQLiteStore) IsWatching(ctx context.Context, userID, itemID int64) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM watchlist WHERE user_id = ? AND item_id = ?)`,
		userID, itemID,
	).Scan(&ok)
	return ok, eris.Wrapf(err, "sqlite: is watching %d", itemID)
}

func (s *SQLiteStore) CountWatched(ctx context.Context, userID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM watchlist WHERE user_id = ?`, userID,
	).Scan(&n)
	return n, eris.Wrapf(err, "sqlite: count watched %d", userID)
}

func (s *SQLiteStore) MostWatched(ctx context.Context, limit int) ([]model.WatchCount, error) {
	query := `SELECT item_id, COUNT(*) AS watchers FROM watchlist
		GROUP BY item_id ORDER BY watchers DESC, item_id ASC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: most watched")
	}
	defer rows.Close()

	var out []model.WatchCount
	for rows.Next() {
		var wc model.WatchCount
		if err := rows.Scan(&wc.ItemID, &wc.Watchers); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan most watched")
		}
		out = append(out, wc)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: most watched iterate")
}

// --- Crafting ---

// SetRelated replaces both adjacency lists of itemID in one transaction.
func (s *SQLiteStore) SetRelated(ctx context.Context, itemID int64, related model.Related) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: set related: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	for table, ids := range map[string][]int64{
		"related_crafted_from": related.CraftedFrom,
		"related_crafts_into":  related.CraftsInto,
	} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE item_id = ?`, itemID); err != nil {
			return eris.Wrapf(err, "sqlite: clear %s", table)
		}
		for _, row := range relatedRows(itemID, ids) {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO `+table+` (item_id, related_item_id) VALUES (?, ?)`, row...,
			); err != nil {
				return eris.Wrapf(err, "sqlite: insert %s", table)
			}
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: set related: commit tx")
}

func (s *SQLiteStore) Related(ctx context.Context, itemID int64) (model.Related, error) {
	var rel model.Related
	var err error
	if rel.CraftedFrom, err = s.queryIDs(ctx, "crafted from",
		`SELECT related_item_id FROM related_crafted_from WHERE item_id = ? ORDER BY related_item_id`, itemID); err != nil {
		return rel, err
	}
	if rel.CraftsInto, err = s.queryIDs(ctx, "crafts into",
		`SELECT related_item_id FROM related_crafts_into WHERE item_id = ? ORDER BY related_item_id`, itemID); err != nil {
		return rel, err
	}
	return rel, nil
}

func (s *SQLiteStore) queryIDs(ctx context.Context, what, query string, args ...any) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: %s", what)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrapf(err, "sqlite: scan %s", what)
		}
		out = append(out, id)
	}
	return out, eris.Wrapf(rows.Err(), "sqlite: %s iterate", what)
}
