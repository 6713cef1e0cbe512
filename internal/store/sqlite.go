package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite implements Store on a single SQLite file. Writes go through a
// one-connection pool so mutations queue in-process instead of spinning on
// SQLITE_BUSY.
type SQLite struct {
	db *sql.DB
	ro *sql.DB
}

// NewSQLite opens (or creates) the database at dbPath and applies the schema.
func NewSQLite(ctx context.Context, dbPath string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn(dbPath, "immediate"))
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Verify connectivity
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to sqlite: %w", err)
	}

	// Create schema
	for _, stmt := range allSchemaStatements() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}

	ro, err := sql.Open("sqlite", dsn(dbPath, "deferred"))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("opening sqlite read pool: %w", err)
	}

	return &SQLite{db: db, ro: ro}, nil
}

// Close closes both connection pools
func (s *SQLite) Close(ctx context.Context) error {
	return errors.Join(s.ro.Close(), s.db.Close())
}

// Update runs fn in a write transaction
func (s *SQLite) Update(ctx context.Context, fn func(tx Tx) error) error {
	return s.run(ctx, s.db, fn, true)
}

// View runs fn in a read transaction. Changes made by fn are rolled back.
func (s *SQLite) View(ctx context.Context, fn func(tx Tx) error) error {
	return s.run(ctx, s.ro, fn, false)
}

func (s *SQLite) run(ctx context.Context, db *sql.DB, fn func(tx Tx) error, commit bool) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqliteTx{tx: tx}); err != nil {
		return err
	}
	if !commit {
		return nil
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) InsertCategory(ctx context.Context, c *Category) error {
	if c.Created.IsZero() {
		c.Created = time.Now().UTC()
	}
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO categories (name, slug, created_at) VALUES (?, ?, ?)`,
		c.Name, c.Slug, c.Created.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting category: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading category id: %w", err)
	}
	c.ID = id
	return nil
}

func (t *sqliteTx) GetCategory(ctx context.Context, id int64) (*Category, error) {
	cats, err := t.Categories(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	if len(cats) == 0 {
		return nil, fmt.Errorf("category %d: %w", id, ErrNotFound)
	}
	return &cats[0], nil
}

// categoryBatch bounds the parameters of one lookup, well under SQLite's
// bound-variable limit.
const categoryBatch = 500

func (t *sqliteTx) Categories(ctx context.Context, ids []int64) ([]Category, error) {
	if ids == nil {
		return t.categories(ctx, nil)
	}

	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	var cats []Category
	for batch := range slices.Chunk(sorted, categoryBatch) {
		found, err := t.categories(ctx, batch)
		if err != nil {
			return nil, err
		}
		cats = append(cats, found...)
	}
	return cats, nil
}

func (t *sqliteTx) categories(ctx context.Context, ids []int64) ([]Category, error) {
	query := `SELECT id, name, slug, created_at FROM categories`
	var args []any
	if ids != nil {
		cond, err := render(sqlDialect{}, Where{In(FieldID, ids)}, &args)
		if err != nil {
			return nil, err
		}
		query += " WHERE " + cond
	}
	query += " ORDER BY id"

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("selecting categories: %w", err)
	}
	defer rows.Close()

	var cats []Category
	for rows.Next() {
		var c Category
		var created string
		if err := rows.Scan(&c.ID, &c.Name, &c.Slug, &created); err != nil {
			return nil, fmt.Errorf("scanning category: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339, created); err == nil {
			c.Created = ts
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

func (t *sqliteTx) DeleteCategory(ctx context.Context, id int64) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM categories WHERE id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("deleting category: %w", err)
	}
	return res.RowsAffected()
}

func (t *sqliteTx) SelectEdges(ctx context.Context, where Where) ([]Edge, error) {
	query, args, err := selectSQL("category_closure", "ancestor_id, descendant_id, next_hop_id", edgeFields, where, "ancestor_id, descendant_id")
	if err != nil {
		return nil, err
	}

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("selecting edges: %w", err)
	}
	defer rows.Close()

	var edges []Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.Ancestor, &e.Descendant, &e.NextHop); err != nil {
			return nil, fmt.Errorf("scanning edge: %w", err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

func (t *sqliteTx) InsertEdges(ctx context.Context, edges ...Edge) error {
	if len(edges) == 0 {
		return nil
	}
	stmt, err := t.tx.PrepareContext(ctx,
		`INSERT INTO category_closure (ancestor_id, descendant_id, next_hop_id) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing edge insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range edges {
		if _, err := stmt.ExecContext(ctx, e.Ancestor, e.Descendant, e.NextHop); err != nil {
			return fmt.Errorf("inserting edge (%d,%d): %w", e.Ancestor, e.Descendant, err)
		}
	}
	return nil
}

func (t *sqliteTx) UpdateEdges(ctx context.Context, where Where, set ...Assign) (int64, error) {
	return t.update(ctx, "category_closure", edgeFields, where, set)
}

func (t *sqliteTx) DeleteEdges(ctx context.Context, where Where) (int64, error) {
	return t.delete(ctx, "category_closure", edgeFields, where)
}

func (t *sqliteTx) SelectIntervals(ctx context.Context, where Where) ([]Interval, error) {
	query, args, err := selectSQL("category_intervals", "id, parent_id, depth, lft, rgt", intervalFields, where, "lft")
	if err != nil {
		return nil, err
	}

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("selecting intervals: %w", err)
	}
	defer rows.Close()

	var out []Interval
	for rows.Next() {
		var iv Interval
		var parent sql.NullInt64
		if err := rows.Scan(&iv.ID, &parent, &iv.Depth, &iv.Left, &iv.Right); err != nil {
			return nil, fmt.Errorf("scanning interval: %w", err)
		}
		if parent.Valid {
			p := parent.Int64
			iv.ParentID = &p
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}

func (t *sqliteTx) GetInterval(ctx context.Context, id int64) (*Interval, error) {
	ivs, err := t.SelectIntervals(ctx, Where{Eq(FieldID, id)})
	if err != nil {
		return nil, err
	}
	if len(ivs) == 0 {
		return nil, fmt.Errorf("interval %d: %w", id, ErrNotFound)
	}
	return &ivs[0], nil
}

func (t *sqliteTx) MaxRight(ctx context.Context) (int64, error) {
	var max sql.NullInt64
	if err := t.tx.QueryRowContext(ctx, `SELECT MAX(rgt) FROM category_intervals`).Scan(&max); err != nil {
		return 0, fmt.Errorf("selecting max rgt: %w", err)
	}
	return max.Int64, nil
}

func (t *sqliteTx) InsertInterval(ctx context.Context, iv Interval) error {
	var parent any
	if iv.ParentID != nil {
		parent = *iv.ParentID
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO category_intervals (id, parent_id, depth, lft, rgt) VALUES (?, ?, ?, ?, ?)`,
		iv.ID, parent, iv.Depth, iv.Left, iv.Right,
	)
	if err != nil {
		return fmt.Errorf("inserting interval %d: %w", iv.ID, err)
	}
	return nil
}

func (t *sqliteTx) UpdateIntervals(ctx context.Context, where Where, set ...Assign) (int64, error) {
	return t.update(ctx, "category_intervals", intervalFields, where, set)
}

func (t *sqliteTx) DeleteIntervals(ctx context.Context, where Where) (int64, error) {
	return t.delete(ctx, "category_intervals", intervalFields, where)
}

func (t *sqliteTx) update(ctx context.Context, table string, allowed map[Field]bool, where Where, set []Assign) (int64, error) {
	if err := validate(allowed, where, set); err != nil {
		return 0, err
	}
	var args []any
	assignments, err := renderSet(sqlDialect{}, set, &args)
	if err != nil {
		return 0, err
	}
	cond, err := render(sqlDialect{}, where, &args)
	if err != nil {
		return 0, err
	}

	var b strings.Builder
	b.WriteString("UPDATE " + table + " SET " + assignments)
	if cond != "" {
		b.WriteString(" WHERE " + cond)
	}

	res, err := t.tx.ExecContext(ctx, b.String(), args...)
	if err != nil {
		return 0, fmt.Errorf("updating %s: %w", table, err)
	}
	return res.RowsAffected()
}

func (t *sqliteTx) delete(ctx context.Context, table string, allowed map[Field]bool, where Where) (int64, error) {
	if err := validate(allowed, where, nil); err != nil {
		return 0, err
	}
	var args []any
	cond, err := render(sqlDialect{}, where, &args)
	if err != nil {
		return 0, err
	}

	query := "DELETE FROM " + table
	if cond != "" {
		query += " WHERE " + cond
	}

	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("deleting from %s: %w", table, err)
	}
	return res.RowsAffected()
}

func selectSQL(table, columns string, allowed map[Field]bool, where Where, order string) (string, []any, error) {
	if err := validate(allowed, where, nil); err != nil {
		return "", nil, err
	}
	var args []any
	cond, err := render(sqlDialect{}, where, &args)
	if err != nil {
		return "", nil, err
	}

	query := "SELECT " + columns + " FROM " + table
	if cond != "" {
		query += " WHERE " + cond
	}
	query += " ORDER BY " + order
	return query, args, nil
}
