package store

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4jConfig holds Neo4j connection configuration
type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

// Neo4j implements Store on a Neo4j database. Rows are stored as
// unconnected nodes labelled Category, ClosureEdge and CategoryInterval.
type Neo4j struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewNeo4j connects to Neo4j and ensures constraints and indexes exist.
func NewNeo4j(ctx context.Context, cfg Neo4jConfig) (*Neo4j, error) {
	driver, err := neo4j.NewDriverWithContext(
		cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}

	// Verify connectivity
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("connecting to neo4j: %w", err)
	}

	database := cfg.Database
	if database == "" {
		database = "neo4j"
	}
	n := &Neo4j{driver: driver, database: database}

	if err := n.EnsureIndexes(ctx); err != nil {
		driver.Close(ctx)
		return nil, err
	}
	return n, nil
}

// EnsureIndexes creates the constraints and lookup indexes used by the
// index queries.
func (n *Neo4j) EnsureIndexes(ctx context.Context) error {
	statements := []string{
		`CREATE CONSTRAINT category_id IF NOT EXISTS FOR (c:Category) REQUIRE c.id IS UNIQUE`,
		`CREATE CONSTRAINT interval_id IF NOT EXISTS FOR (i:CategoryInterval) REQUIRE i.id IS UNIQUE`,
		`CREATE INDEX closure_ancestor IF NOT EXISTS FOR (e:ClosureEdge) ON (e.ancestor_id)`,
		`CREATE INDEX closure_descendant IF NOT EXISTS FOR (e:ClosureEdge) ON (e.descendant_id)`,
		`CREATE INDEX interval_lft IF NOT EXISTS FOR (i:CategoryInterval) ON (i.lft)`,
		`CREATE INDEX interval_rgt IF NOT EXISTS FOR (i:CategoryInterval) ON (i.rgt)`,
	}

	session := n.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: n.database})
	defer session.Close(ctx)

	for _, stmt := range statements {
		result, err := session.Run(ctx, stmt, nil)
		if err != nil {
			return fmt.Errorf("creating index: %w", err)
		}
		if _, err := result.Consume(ctx); err != nil {
			return fmt.Errorf("creating index: %w", err)
		}
	}
	return nil
}

// Close closes the Neo4j connection
func (n *Neo4j) Close(ctx context.Context) error {
	return n.driver.Close(ctx)
}

// Update runs fn in a managed write transaction. The driver may retry fn on
// transient failures.
func (n *Neo4j) Update(ctx context.Context, fn func(tx Tx) error) error {
	session := n.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: n.database})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, fn(&neo4jTx{tx: tx})
	})
	return err
}

// View runs fn in a managed read transaction.
func (n *Neo4j) View(ctx context.Context, fn func(tx Tx) error) error {
	session := n.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: n.database,
		AccessMode:   neo4j.AccessModeRead,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, fn(&neo4jTx{tx: tx})
	})
	return err
}

type neo4jTx struct {
	tx neo4j.ManagedTransaction
}

// params turns positional dialect arguments into named Cypher parameters.
func params(args []any) map[string]any {
	m := make(map[string]any, len(args))
	for i, a := range args {
		m[fmt.Sprintf("p%d", i)] = a
	}
	return m
}

func (t *neo4jTx) collect(ctx context.Context, query string, p map[string]any) ([]*neo4j.Record, error) {
	result, err := t.tx.Run(ctx, query, p)
	if err != nil {
		return nil, err
	}
	return result.Collect(ctx)
}

func (t *neo4jTx) count(ctx context.Context, query string, p map[string]any) (int64, error) {
	result, err := t.tx.Run(ctx, query, p)
	if err != nil {
		return 0, err
	}
	record, err := result.Single(ctx)
	if err != nil {
		return 0, err
	}
	c, _, err := neo4j.GetRecordValue[int64](record, "c")
	return c, err
}

func (t *neo4jTx) InsertCategory(ctx context.Context, c *Category) error {
	if c.Created.IsZero() {
		c.Created = time.Now().UTC()
	}

	id, err := t.count(ctx, `
		MERGE (s:Sequence {name: 'category'})
		ON CREATE SET s.value = 0
		SET s.value = s.value + 1
		RETURN s.value AS c
	`, nil)
	if err != nil {
		return fmt.Errorf("allocating category id: %w", err)
	}

	query := `
		CREATE (n:Category {
			id: $id,
			name: $name,
			slug: $slug,
			created: $created
		})
	`
	p := map[string]any{
		"id":      id,
		"name":    c.Name,
		"slug":    c.Slug,
		"created": c.Created.Format(time.RFC3339),
	}
	if _, err := t.tx.Run(ctx, query, p); err != nil {
		return fmt.Errorf("inserting category: %w", err)
	}
	c.ID = id
	return nil
}

func (t *neo4jTx) GetCategory(ctx context.Context, id int64) (*Category, error) {
	cats, err := t.Categories(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	if len(cats) == 0 {
		return nil, fmt.Errorf("category %d: %w", id, ErrNotFound)
	}
	return &cats[0], nil
}

func (t *neo4jTx) Categories(ctx context.Context, ids []int64) ([]Category, error) {
	query := `MATCH (n:Category)`
	var args []any
	if ids != nil {
		if len(ids) == 0 {
			return nil, nil
		}
		cond, err := render(cypherDialect{}, Where{In(FieldID, ids)}, &args)
		if err != nil {
			return nil, err
		}
		query += " WHERE " + cond
	}
	query += ` RETURN n.id AS id, n.name AS name, n.slug AS slug, n.created AS created ORDER BY n.id`

	records, err := t.collect(ctx, query, params(args))
	if err != nil {
		return nil, fmt.Errorf("selecting categories: %w", err)
	}

	cats := make([]Category, 0, len(records))
	for _, record := range records {
		var c Category
		if c.ID, _, err = neo4j.GetRecordValue[int64](record, "id"); err != nil {
			return nil, fmt.Errorf("reading category: %w", err)
		}
		if c.Name, _, err = neo4j.GetRecordValue[string](record, "name"); err != nil {
			return nil, fmt.Errorf("reading category: %w", err)
		}
		if c.Slug, _, err = neo4j.GetRecordValue[string](record, "slug"); err != nil {
			return nil, fmt.Errorf("reading category: %w", err)
		}
		if created, _, err := neo4j.GetRecordValue[string](record, "created"); err == nil {
			if ts, err := time.Parse(time.RFC3339, created); err == nil {
				c.Created = ts
			}
		}
		cats = append(cats, c)
	}
	return cats, nil
}

func (t *neo4jTx) DeleteCategory(ctx context.Context, id int64) (int64, error) {
	c, err := t.count(ctx, `MATCH (n:Category {id: $id}) DETACH DELETE n RETURN count(*) AS c`, map[string]any{"id": id})
	if err != nil {
		return 0, fmt.Errorf("deleting category: %w", err)
	}
	return c, nil
}

func (t *neo4jTx) SelectEdges(ctx context.Context, where Where) ([]Edge, error) {
	query, p, err := matchCypher("ClosureEdge", edgeFields, where)
	if err != nil {
		return nil, err
	}
	query += ` RETURN n.ancestor_id AS a, n.descendant_id AS d, n.next_hop_id AS h ORDER BY a, d`

	records, err := t.collect(ctx, query, p)
	if err != nil {
		return nil, fmt.Errorf("selecting edges: %w", err)
	}

	edges := make([]Edge, 0, len(records))
	for _, record := range records {
		var e Edge
		if e.Ancestor, _, err = neo4j.GetRecordValue[int64](record, "a"); err != nil {
			return nil, fmt.Errorf("reading edge: %w", err)
		}
		if e.Descendant, _, err = neo4j.GetRecordValue[int64](record, "d"); err != nil {
			return nil, fmt.Errorf("reading edge: %w", err)
		}
		if e.NextHop, _, err = neo4j.GetRecordValue[int64](record, "h"); err != nil {
			return nil, fmt.Errorf("reading edge: %w", err)
		}
		edges = append(edges, e)
	}
	return edges, nil
}

func (t *neo4jTx) InsertEdges(ctx context.Context, edges ...Edge) error {
	if len(edges) == 0 {
		return nil
	}
	rows := make([]map[string]any, len(edges))
	for i, e := range edges {
		rows[i] = map[string]any{"a": e.Ancestor, "d": e.Descendant, "h": e.NextHop}
	}

	query := `
		UNWIND $rows AS r
		CREATE (:ClosureEdge {ancestor_id: r.a, descendant_id: r.d, next_hop_id: r.h})
	`
	if _, err := t.tx.Run(ctx, query, map[string]any{"rows": rows}); err != nil {
		return fmt.Errorf("inserting edges: %w", err)
	}
	return nil
}

func (t *neo4jTx) UpdateEdges(ctx context.Context, where Where, set ...Assign) (int64, error) {
	return t.update(ctx, "ClosureEdge", edgeFields, where, set)
}

func (t *neo4jTx) DeleteEdges(ctx context.Context, where Where) (int64, error) {
	return t.delete(ctx, "ClosureEdge", edgeFields, where)
}

func (t *neo4jTx) SelectIntervals(ctx context.Context, where Where) ([]Interval, error) {
	query, p, err := matchCypher("CategoryInterval", intervalFields, where)
	if err != nil {
		return nil, err
	}
	query += ` RETURN n.id AS id, n.parent_id AS parent, n.depth AS depth, n.lft AS lft, n.rgt AS rgt ORDER BY lft`

	records, err := t.collect(ctx, query, p)
	if err != nil {
		return nil, fmt.Errorf("selecting intervals: %w", err)
	}

	out := make([]Interval, 0, len(records))
	for _, record := range records {
		var iv Interval
		if iv.ID, _, err = neo4j.GetRecordValue[int64](record, "id"); err != nil {
			return nil, fmt.Errorf("reading interval: %w", err)
		}
		parent, isNil, err := neo4j.GetRecordValue[int64](record, "parent")
		if err != nil && !isNil {
			return nil, fmt.Errorf("reading interval: %w", err)
		}
		if !isNil {
			iv.ParentID = &parent
		}
		if iv.Depth, _, err = neo4j.GetRecordValue[int64](record, "depth"); err != nil {
			return nil, fmt.Errorf("reading interval: %w", err)
		}
		if iv.Left, _, err = neo4j.GetRecordValue[int64](record, "lft"); err != nil {
			return nil, fmt.Errorf("reading interval: %w", err)
		}
		if iv.Right, _, err = neo4j.GetRecordValue[int64](record, "rgt"); err != nil {
			return nil, fmt.Errorf("reading interval: %w", err)
		}
		out = append(out, iv)
	}
	return out, nil
}

func (t *neo4jTx) GetInterval(ctx context.Context, id int64) (*Interval, error) {
	ivs, err := t.SelectIntervals(ctx, Where{Eq(FieldID, id)})
	if err != nil {
		return nil, err
	}
	if len(ivs) == 0 {
		return nil, fmt.Errorf("interval %d: %w", id, ErrNotFound)
	}
	return &ivs[0], nil
}

func (t *neo4jTx) MaxRight(ctx context.Context) (int64, error) {
	max, err := t.count(ctx, `MATCH (n:CategoryInterval) RETURN coalesce(max(n.rgt), 0) AS c`, nil)
	if err != nil {
		return 0, fmt.Errorf("selecting max rgt: %w", err)
	}
	return max, nil
}

func (t *neo4jTx) InsertInterval(ctx context.Context, iv Interval) error {
	var parent any
	if iv.ParentID != nil {
		parent = *iv.ParentID
	}
	query := `
		CREATE (:CategoryInterval {
			id: $id,
			parent_id: $parent,
			depth: $depth,
			lft: $lft,
			rgt: $rgt
		})
	`
	p := map[string]any{
		"id":     iv.ID,
		"parent": parent,
		"depth":  iv.Depth,
		"lft":    iv.Left,
		"rgt":    iv.Right,
	}
	if _, err := t.tx.Run(ctx, query, p); err != nil {
		return fmt.Errorf("inserting interval %d: %w", iv.ID, err)
	}
	return nil
}

func (t *neo4jTx) UpdateIntervals(ctx context.Context, where Where, set ...Assign) (int64, error) {
	return t.update(ctx, "CategoryInterval", intervalFields, where, set)
}

func (t *neo4jTx) DeleteIntervals(ctx context.Context, where Where) (int64, error) {
	return t.delete(ctx, "CategoryInterval", intervalFields, where)
}

func (t *neo4jTx) update(ctx context.Context, label string, allowed map[Field]bool, where Where, set []Assign) (int64, error) {
	if err := validate(allowed, where, set); err != nil {
		return 0, err
	}
	var args []any
	cond, err := render(cypherDialect{}, where, &args)
	if err != nil {
		return 0, err
	}
	assignments, err := renderSet(cypherDialect{}, set, &args)
	if err != nil {
		return 0, err
	}

	query := "MATCH (n:" + label + ")"
	if cond != "" {
		query += " WHERE " + cond
	}
	query += " SET " + assignments + " RETURN count(n) AS c"

	c, err := t.count(ctx, query, params(args))
	if err != nil {
		return 0, fmt.Errorf("updating %s: %w", label, err)
	}
	return c, nil
}

func (t *neo4jTx) delete(ctx context.Context, label string, allowed map[Field]bool, where Where) (int64, error) {
	query, p, err := matchCypher(label, allowed, where)
	if err != nil {
		return 0, err
	}
	query += " DETACH DELETE n RETURN count(*) AS c"

	c, err := t.count(ctx, query, p)
	if err != nil {
		return 0, fmt.Errorf("deleting %s: %w", label, err)
	}
	return c, nil
}

func matchCypher(label string, allowed map[Field]bool, where Where) (string, map[string]any, error) {
	if err := validate(allowed, where, nil); err != nil {
		return "", nil, err
	}
	var args []any
	cond, err := render(cypherDialect{}, where, &args)
	if err != nil {
		return "", nil, err
	}

	query := "MATCH (n:" + label + ")"
	if cond != "" {
		query += " WHERE " + cond
	}
	return query, params(args), nil
}
