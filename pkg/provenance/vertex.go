package provenance

import (
	"fmt"

	"github.com/l7mp/dexplain/pkg/dbsp"
)

// Ref identifies a record of a collection by the canonical key of the record.
type Ref struct {
	Collection string
	Key        string
}

// String renders a ref as collection{...}.
func (r Ref) String() string { return r.Collection + r.Key }

// NewRef returns the ref of a record.
func NewRef(collection string, record dbsp.Document) (Ref, error) {
	key, err := dbsp.Key(record)
	if err != nil {
		return Ref{}, err
	}
	return Ref{Collection: collection, Key: key}, nil
}

// Vertex is a record of a collection at a logical time.
type Vertex struct {
	Ref
	Record dbsp.Document
	Time   dbsp.Time
}

// NewVertex creates a vertex.
func NewVertex(collection string, record dbsp.Document, t dbsp.Time) (Vertex, error) {
	ref, err := NewRef(collection, record)
	if err != nil {
		return Vertex{}, err
	}
	return Vertex{Ref: ref, Record: record, Time: t}, nil
}

// MustVertex is like NewVertex but panics on error.
func MustVertex(collection string, record dbsp.Document, t dbsp.Time) Vertex {
	v, err := NewVertex(collection, record, t)
	if err != nil {
		panic(err)
	}
	return v
}

// String renders a vertex as collection{...}@time.
func (v Vertex) String() string { return fmt.Sprintf("%s@%s", v.Ref, v.Time) }

// Document returns the vertex as a document.
func (v Vertex) Document() dbsp.Document {
	return dbsp.Document{
		"collection": v.Collection,
		"record":     v.Record,
		"time":       TimeDocument(v.Time),
	}
}

// Edge records that the presence of Produced at its time depended on the presence of Required at
// its time.
type Edge struct {
	Produced Vertex
	Required Vertex
}

// NewEdge creates a derivation edge.
func NewEdge(produced, required Vertex) Edge {
	return Edge{Produced: produced, Required: required}
}

// NewFactEdge creates the edge that marks a record produced without predecessors. It points from
// the vertex to itself.
func NewFactEdge(v Vertex) Edge {
	return Edge{Produced: v, Required: v}
}

// Fact reports whether the edge marks a record produced without predecessors. Fact edges count as
// derivations of their record but are never expanded.
func (e Edge) Fact() bool {
	return e.Produced.Ref == e.Required.Ref && e.Produced.Time == e.Required.Time
}

// ID returns a string that identifies the edge.
func (e Edge) ID() string {
	return fmt.Sprintf("%s@%d.%d<-%s@%d.%d",
		e.Produced.Ref, e.Produced.Time.Outer, e.Produced.Time.Inner,
		e.Required.Ref, e.Required.Time.Outer, e.Required.Time.Inner)
}

// String renders an edge for logging.
func (e Edge) String() string { return fmt.Sprintf("%s <- %s", e.Produced, e.Required) }

// Document returns the edge as a document so that edges can be collected into Z-sets.
func (e Edge) Document() dbsp.Document {
	return dbsp.Document{"produced": e.Produced.Document(), "required": e.Required.Document()}
}

// EdgeFromDocument restores an edge from its document form.
func EdgeFromDocument(doc dbsp.Document) (Edge, error) {
	produced, err := vertexFromDocument(doc["produced"])
	if err != nil {
		return Edge{}, fmt.Errorf("invalid produced vertex: %w", err)
	}
	required, err := vertexFromDocument(doc["required"])
	if err != nil {
		return Edge{}, fmt.Errorf("invalid required vertex: %w", err)
	}
	return Edge{Produced: produced, Required: required}, nil
}

func vertexFromDocument(val any) (Vertex, error) {
	doc, ok := val.(dbsp.Document)
	if !ok {
		return Vertex{}, fmt.Errorf("expected object, got %T", val)
	}
	coll, ok := doc["collection"].(string)
	if !ok {
		return Vertex{}, fmt.Errorf("missing collection")
	}
	rec, ok := doc["record"].(dbsp.Document)
	if !ok {
		return Vertex{}, fmt.Errorf("missing record")
	}
	t, err := TimeFromDocument(doc["time"])
	if err != nil {
		return Vertex{}, err
	}
	return NewVertex(coll, rec, t)
}

// TimeDocument returns the document form of a time.
func TimeDocument(t dbsp.Time) dbsp.Document {
	return dbsp.Document{"outer": int64(t.Outer), "inner": int64(t.Inner)}
}

// TimeFromDocument parses a time from its document form.
func TimeFromDocument(val any) (dbsp.Time, error) {
	doc, ok := val.(dbsp.Document)
	if !ok {
		return dbsp.Time{}, fmt.Errorf("invalid time: expected object, got %T", val)
	}
	outer, ok := dbsp.Int(doc, "outer")
	if !ok || outer < 0 || outer > int64(dbsp.Top.Outer) {
		return dbsp.Time{}, fmt.Errorf("invalid time: bad outer field")
	}
	inner, ok := dbsp.Int(doc, "inner")
	if !ok || inner < 0 || inner > int64(dbsp.Top.Inner) {
		return dbsp.Time{}, fmt.Errorf("invalid time: bad inner field")
	}
	return dbsp.Time{Outer: uint32(outer), Inner: uint32(inner)}, nil
}

// Node is a requirement vertex of the closure: the record is required to be present at some time
// <= Bound.
type Node struct {
	Ref
	Bound dbsp.Time
}

// String renders a node as collection{...}<=bound.
func (n Node) String() string { return fmt.Sprintf("%s<=%s", n.Ref, n.Bound) }

// requiredNode returns the closure node an edge contributes.
func requiredNode(e *Edge) Node { return Node{Ref: e.Required.Ref, Bound: e.Required.Time} }

// covers reports whether expanding the node follows the edge.
func (n Node) covers(e *Edge) bool {
	return n.Ref == e.Produced.Ref && e.Produced.Time.LessEqual(n.Bound)
}
