package provenance

import (
	"fmt"

	"github.com/l7mp/dexplain/pkg/dbsp"
)

// Query asks why Record is present in Collection over its history up to Target.
type Query struct {
	Collection string
	Record     dbsp.Document
	Target     dbsp.Time
}

// NewQuery creates a query over the full history of a record.
func NewQuery(collection string, record dbsp.Document) Query {
	return Query{Collection: collection, Record: record, Target: dbsp.Top}
}

// Document returns the query in the document form used in the query collection.
func (q Query) Document() dbsp.Document {
	return dbsp.Document{
		"collection": q.Collection,
		"record":     q.Record,
		"target":     TimeDocument(q.Target),
	}
}

// Key returns the canonical key of the query.
func (q Query) Key() (string, error) { return dbsp.Key(q.Document()) }

// String renders the query for logging.
func (q Query) String() string {
	key, err := dbsp.Key(q.Record)
	if err != nil {
		key = fmt.Sprintf("%v", q.Record)
	}
	return fmt.Sprintf("%s%s<=%s", q.Collection, key, q.Target)
}

// Root returns the closure root of the query.
func (q Query) Root() (Root, error) {
	ref, err := NewRef(q.Collection, q.Record)
	if err != nil {
		return Root{}, err
	}
	return Root{Node: Node{Ref: ref, Bound: q.Target}, Record: q.Record}, nil
}

// QueryFromDocument parses a query record. The target is optional and defaults to the top time.
func QueryFromDocument(doc dbsp.Document) (Query, error) {
	coll, ok := doc["collection"].(string)
	if !ok || coll == "" {
		return Query{}, fmt.Errorf("invalid query %v: missing collection", doc)
	}
	rec, ok := doc["record"].(dbsp.Document)
	if !ok {
		return Query{}, fmt.Errorf("invalid query %v: missing record", doc)
	}
	q := NewQuery(coll, rec)
	if t, ok := doc["target"]; ok {
		target, err := TimeFromDocument(t)
		if err != nil {
			return Query{}, fmt.Errorf("invalid query %v: %w", doc, err)
		}
		q.Target = target
	}
	return q, nil
}
