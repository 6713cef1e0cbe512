package store

import (
	"fmt"
	"strings"
)

// Field names a column of an index row. The same names are used as SQL
// columns and as Neo4j property keys.
type Field string

const (
	FieldID       Field = "id"
	FieldParentID Field = "parent_id"
	FieldDepth    Field = "depth"
	FieldLeft     Field = "lft"
	FieldRight    Field = "rgt"
	// FieldSpan is the derived value rgt - lft. It can be filtered on but
	// not assigned.
	FieldSpan Field = "span"

	FieldAncestor   Field = "ancestor_id"
	FieldDescendant Field = "descendant_id"
	FieldNextHop    Field = "next_hop_id"
)

var (
	edgeFields     = map[Field]bool{FieldAncestor: true, FieldDescendant: true, FieldNextHop: true}
	intervalFields = map[Field]bool{FieldID: true, FieldParentID: true, FieldDepth: true, FieldLeft: true, FieldRight: true, FieldSpan: true}
)

// Op is a comparison operator.
type Op string

const (
	OpEq     Op = "="
	OpNe     Op = "!="
	OpLt     Op = "<"
	OpLe     Op = "<="
	OpGt     Op = ">"
	OpGe     Op = ">="
	OpIn     Op = "IN"
	OpNotIn  Op = "NOT IN"
	OpIsNull Op = "IS NULL"
)

// Cond compares a field against a value. Value is an int64, a []int64 or
// an EdgeQuery for IN and NOT IN, another Field for column-to-column
// comparison, or nil for IS NULL.
type Cond struct {
	Field Field
	Op    Op
	Value any
}

// Where is a conjunction of conditions. An empty Where matches every row.
type Where []Cond

func Eq(f Field, v int64) Cond { return Cond{Field: f, Op: OpEq, Value: v} }
func Ne(f Field, v int64) Cond { return Cond{Field: f, Op: OpNe, Value: v} }
func Lt(f Field, v int64) Cond { return Cond{Field: f, Op: OpLt, Value: v} }
func Le(f Field, v int64) Cond { return Cond{Field: f, Op: OpLe, Value: v} }
func Gt(f Field, v int64) Cond { return Cond{Field: f, Op: OpGt, Value: v} }
func Ge(f Field, v int64) Cond { return Cond{Field: f, Op: OpGe, Value: v} }
func In(f Field, v []int64) Cond { return Cond{Field: f, Op: OpIn, Value: v} }
func NotIn(f Field, v []int64) Cond { return Cond{Field: f, Op: OpNotIn, Value: v} }
func IsNull(f Field) Cond { return Cond{Field: f, Op: OpIsNull} }
func EqField(f Field, o Field) Cond { return Cond{Field: f, Op: OpEq, Value: o} }

// EdgeQuery selects one column of the closure edges matching Where. Used as
// the value of IN, it runs inside the store, so set size is not bounded by
// the parameter limit.
type EdgeQuery struct {
	Column Field
	Where  Where
}

// InEdges matches rows whose f is among the values q selects.
func InEdges(f Field, q EdgeQuery) Cond {
	return Cond{Field: f, Op: OpIn, Value: q}
}

// Descendants selects id and every node below it.
func Descendants(id int64) EdgeQuery {
	return EdgeQuery{Column: FieldDescendant, Where: Where{Eq(FieldAncestor, id)}}
}

// Ancestors selects id and every node above it.
func Ancestors(id int64) EdgeQuery {
	return EdgeQuery{Column: FieldAncestor, Where: Where{Eq(FieldDescendant, id)}}
}

// StrictAncestors selects every node above id.
func StrictAncestors(id int64) EdgeQuery {
	return EdgeQuery{Column: FieldAncestor, Where: Where{Eq(FieldDescendant, id), Ne(FieldAncestor, id)}}
}

// EqOrNull matches f = *v, or f IS NULL when v is nil.
func EqOrNull(f Field, v *int64) Cond {
	if v == nil {
		return IsNull(f)
	}
	return Eq(f, *v)
}

type assignKind int

const (
	assignDelta assignKind = iota
	assignValue
	assignField
)

// Assign is one column update in a bulk update.
type Assign struct {
	Field Field
	kind  assignKind
	delta int64
	value *int64
	from  Field
}

// Add shifts f by delta.
func Add(f Field, delta int64) Assign {
	return Assign{Field: f, kind: assignDelta, delta: delta}
}

// Set stores v in f. A nil v stores NULL.
func Set(f Field, v *int64) Assign {
	return Assign{Field: f, kind: assignValue, value: v}
}

// SetInt stores v in f.
func SetInt(f Field, v int64) Assign {
	return Set(f, &v)
}

// SetField copies column from into f.
func SetField(f Field, from Field) Assign {
	return Assign{Field: f, kind: assignField, from: from}
}

// dialect renders fields and parameters for one backend.
type dialect interface {
	column(f Field) string
	param(args *[]any, v any) string
	inList(col string, op Op, ids []int64, args *[]any) string
	inEdges(col string, op Op, q EdgeQuery, args *[]any) (string, error)
}

func validate(allowed map[Field]bool, w Where, set []Assign) error {
	for _, c := range w {
		if !allowed[c.Field] {
			return fmt.Errorf("unknown field %q", c.Field)
		}
		switch v := c.Value.(type) {
		case Field:
			if !allowed[v] {
				return fmt.Errorf("unknown field %q", v)
			}
		case EdgeQuery:
			if !edgeFields[v.Column] {
				return fmt.Errorf("unknown edge field %q", v.Column)
			}
			for _, inner := range v.Where {
				if _, nested := inner.Value.(EdgeQuery); nested {
					return fmt.Errorf("edge queries cannot be nested")
				}
			}
			if err := validate(edgeFields, v.Where, nil); err != nil {
				return err
			}
		}
	}
	for _, a := range set {
		if !allowed[a.Field] || a.Field == FieldSpan {
			return fmt.Errorf("field %q cannot be assigned", a.Field)
		}
		if a.kind == assignField && !allowed[a.from] {
			return fmt.Errorf("unknown field %q", a.from)
		}
	}
	return nil
}

// render builds a boolean expression for w, appending parameters to args.
func render(d dialect, w Where, args *[]any) (string, error) {
	if len(w) == 0 {
		return "", nil
	}
	parts := make([]string, 0, len(w))
	for _, c := range w {
		col := d.column(c.Field)
		switch c.Op {
		case OpIsNull:
			parts = append(parts, col+" IS NULL")
		case OpIn, OpNotIn:
			if q, ok := c.Value.(EdgeQuery); ok {
				sub, err := d.inEdges(col, c.Op, q, args)
				if err != nil {
					return "", err
				}
				parts = append(parts, sub)
				continue
			}
			ids, ok := c.Value.([]int64)
			if !ok {
				return "", fmt.Errorf("%s on %s needs []int64, got %T", c.Op, c.Field, c.Value)
			}
			if len(ids) == 0 {
				if c.Op == OpIn {
					parts = append(parts, "1 = 0")
				}
				continue
			}
			parts = append(parts, d.inList(col, c.Op, ids, args))
		case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
			switch v := c.Value.(type) {
			case Field:
				parts = append(parts, fmt.Sprintf("%s %s %s", col, c.Op.symbol(d), d.column(v)))
			case int64:
				parts = append(parts, fmt.Sprintf("%s %s %s", col, c.Op.symbol(d), d.param(args, v)))
			default:
				return "", fmt.Errorf("%s on %s needs int64 or Field, got %T", c.Op, c.Field, c.Value)
			}
		default:
			return "", fmt.Errorf("unsupported operator %q", c.Op)
		}
	}
	if len(parts) == 0 {
		return "", nil
	}
	return strings.Join(parts, " AND "), nil
}

// renderSet builds the assignment list for a bulk update.
func renderSet(d dialect, set []Assign, args *[]any) (string, error) {
	if len(set) == 0 {
		return "", fmt.Errorf("empty assignment list")
	}
	parts := make([]string, 0, len(set))
	for _, a := range set {
		col := d.column(a.Field)
		switch a.kind {
		case assignDelta:
			parts = append(parts, fmt.Sprintf("%s = %s + %s", col, col, d.param(args, a.delta)))
		case assignValue:
			if a.value == nil {
				parts = append(parts, col+" = NULL")
			} else {
				parts = append(parts, fmt.Sprintf("%s = %s", col, d.param(args, *a.value)))
			}
		case assignField:
			parts = append(parts, fmt.Sprintf("%s = %s", col, d.column(a.from)))
		}
	}
	return strings.Join(parts, ", "), nil
}

// symbol maps operators that differ between SQL and Cypher.
func (o Op) symbol(d dialect) string {
	if o == OpNe {
		if _, ok := d.(cypherDialect); ok {
			return "<>"
		}
	}
	return string(o)
}

type sqlDialect struct{}

func (sqlDialect) column(f Field) string {
	if f == FieldSpan {
		return "(rgt - lft)"
	}
	return string(f)
}

func (sqlDialect) param(args *[]any, v any) string {
	*args = append(*args, v)
	return "?"
}

func (d sqlDialect) inList(col string, op Op, ids []int64, args *[]any) string {
	marks := make([]string, len(ids))
	for i, id := range ids {
		marks[i] = d.param(args, id)
	}
	return fmt.Sprintf("%s %s (%s)", col, op, strings.Join(marks, ", "))
}

func (d sqlDialect) inEdges(col string, op Op, q EdgeQuery, args *[]any) (string, error) {
	query := "SELECT " + d.column(q.Column) + " FROM category_closure"
	cond, err := render(d, q.Where, args)
	if err != nil {
		return "", err
	}
	if cond != "" {
		query += " WHERE " + cond
	}
	return fmt.Sprintf("%s %s (%s)", col, op, query), nil
}

// cypherDialect qualifies properties with the node variable v, "n" when
// empty.
type cypherDialect struct {
	v string
}

func (d cypherDialect) node() string {
	if d.v == "" {
		return "n"
	}
	return d.v
}

func (d cypherDialect) column(f Field) string {
	if f == FieldSpan {
		return "(" + d.node() + ".rgt - " + d.node() + ".lft)"
	}
	return d.node() + "." + string(f)
}

func (cypherDialect) param(args *[]any, v any) string {
	*args = append(*args, v)
	return fmt.Sprintf("$p%d", len(*args)-1)
}

func (d cypherDialect) inList(col string, op Op, ids []int64, args *[]any) string {
	p := d.param(args, ids)
	if op == OpNotIn {
		return fmt.Sprintf("NOT %s IN %s", col, p)
	}
	return fmt.Sprintf("%s IN %s", col, p)
}

// inEdges renders a correlated EXISTS over :ClosureEdge nodes bound to m.
func (d cypherDialect) inEdges(col string, op Op, q EdgeQuery, args *[]any) (string, error) {
	inner := cypherDialect{v: "m"}
	cond := inner.column(q.Column) + " = " + col
	rest, err := render(inner, q.Where, args)
	if err != nil {
		return "", err
	}
	if rest != "" {
		cond += " AND " + rest
	}
	exists := "EXISTS { MATCH (m:ClosureEdge) WHERE " + cond + " }"
	if op == OpNotIn {
		return "NOT " + exists, nil
	}
	return exists, nil
}
