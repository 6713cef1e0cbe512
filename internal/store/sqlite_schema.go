package store

import (
	"net/url"
	"strings"
)

// SQLite schema DDL constants

const schemaCategories = `
CREATE TABLE IF NOT EXISTS categories (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    slug TEXT NOT NULL,
    created_at DATETIME NOT NULL
)`

// Self-edges carry the real parent in next_hop_id, or the node itself for
// a root.
const schemaClosure = `
CREATE TABLE IF NOT EXISTS category_closure (
    ancestor_id INTEGER NOT NULL,
    descendant_id INTEGER NOT NULL,
    next_hop_id INTEGER NOT NULL,
    PRIMARY KEY (ancestor_id, descendant_id)
)`

// No UNIQUE or CHECK on lft/rgt: SQLite checks constraints row by row, and
// the shifting UPDATEs pass through transient collisions and inversions.
const schemaIntervals = `
CREATE TABLE IF NOT EXISTS category_intervals (
    id INTEGER PRIMARY KEY,
    parent_id INTEGER,
    depth INTEGER NOT NULL,
    lft INTEGER NOT NULL,
    rgt INTEGER NOT NULL
)`

// Index definitions
const indexCategoriesSlug = `CREATE INDEX IF NOT EXISTS idx_categories_slug ON categories(slug)`
const indexClosureDescendant = `CREATE INDEX IF NOT EXISTS idx_closure_descendant ON category_closure(descendant_id)`
const indexClosureNextHop = `CREATE INDEX IF NOT EXISTS idx_closure_next_hop ON category_closure(next_hop_id)`
const indexIntervalsLeft = `CREATE INDEX IF NOT EXISTS idx_intervals_lft ON category_intervals(lft)`
const indexIntervalsRight = `CREATE INDEX IF NOT EXISTS idx_intervals_rgt ON category_intervals(rgt)`
const indexIntervalsParent = `CREATE INDEX IF NOT EXISTS idx_intervals_parent ON category_intervals(parent_id)`

// SQLite pragmas, applied to every pooled connection through the DSN
const pragmaWAL = `journal_mode(WAL)`
const pragmaFK = `foreign_keys(1)`
const pragmaBusyTimeout = `busy_timeout(5000)`
const pragmaSynchronous = `synchronous(NORMAL)`

// allSchemaStatements returns all schema DDL in order
func allSchemaStatements() []string {
	return []string{
		schemaCategories,
		schemaClosure,
		schemaIntervals,
		indexCategoriesSlug,
		indexClosureDescendant,
		indexClosureNextHop,
		indexIntervalsLeft,
		indexIntervalsRight,
		indexIntervalsParent,
	}
}

// allPragmas returns all pragma settings
func allPragmas() []string {
	return []string{
		pragmaWAL,
		pragmaFK,
		pragmaBusyTimeout,
		pragmaSynchronous,
	}
}

// dsn builds a modernc.org/sqlite connection string. The write pool uses
// txlock "immediate" so a mutation holds the write lock from its first read;
// the read pool uses "deferred" so readers share a WAL snapshot.
func dsn(path, txlock string) string {
	q := url.Values{}
	for _, p := range allPragmas() {
		q.Add("_pragma", p)
	}
	q.Set("_txlock", txlock)
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return "file:" + path + sep + q.Encode()
}
