package engine

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/l7mp/dexplain/pkg/dbsp"
	"github.com/l7mp/dexplain/pkg/provenance"
)

// QueryState is the lifecycle state of a query.
type QueryState int

const (
	Unissued QueryState = iota
	Active
	Withdrawn
)

func (s QueryState) String() string {
	switch s {
	case Unissued:
		return "unissued"
	case Active:
		return "active"
	case Withdrawn:
		return "withdrawn"
	}
	return fmt.Sprintf("<unknown:%d>", int(s))
}

// QueryStatus reports the state of a query after an epoch.
type QueryStatus struct {
	Query    provenance.Query
	Key      string
	Instance string
	State    QueryState
	Vacuous  bool
	MustSet  int
	Closure  int
}

// query is the per-query state owned by a single worker during an epoch.
type query struct {
	key      string
	instance string
	state    QueryState
	worker   int

	maintainer *provenance.Maintainer
	overlay    *provenance.Graph
	overlaid   *dbsp.DocumentZSet // current overlay edges
}

func (q *query) status(vacuous bool) QueryStatus {
	ret := QueryStatus{Key: q.key, Instance: q.instance, State: q.state, Vacuous: vacuous}
	if q.maintainer != nil {
		ret.Query = q.maintainer.Query()
		ret.MustSet = q.maintainer.MustSet().Len()
		ret.Closure = len(q.maintainer.Nodes())
	}
	return ret
}

// activate starts a fresh instance of the query with an empty mandatory set.
func (q *query) activate(m *provenance.Maintainer, overlay *provenance.Graph) {
	q.instance = uuid.NewString()
	q.state = Active
	q.maintainer = m
	q.overlay = overlay
	q.overlaid = dbsp.NewDocumentZSet()
}

// withdraw ends the instance and returns the changes that empty its must-set.
func (q *query) withdraw() []provenance.Change {
	ret := q.maintainer.Withdraw()
	q.state = Withdrawn
	q.maintainer = nil
	q.overlay = nil
	q.overlaid = nil
	return ret
}

// mandatory is a parsed edit of the mandatory collection.
type mandatory struct {
	query  provenance.Query
	key    string
	vertex provenance.Vertex
	diff   int
}

func parseQuery(doc dbsp.Document) (provenance.Query, string, error) {
	q, err := provenance.QueryFromDocument(doc)
	if err != nil {
		return provenance.Query{}, "", err
	}
	key, err := q.Key()
	if err != nil {
		return provenance.Query{}, "", err
	}
	return q, key, nil
}

func parseMandatory(doc dbsp.Document, diff int) (*mandatory, error) {
	qdoc, ok := doc["query"].(dbsp.Document)
	if !ok {
		return nil, fmt.Errorf("invalid mandatory record %v: missing query", doc)
	}
	q, key, err := parseQuery(qdoc)
	if err != nil {
		return nil, err
	}
	coll, ok := doc["collection"].(string)
	if !ok || coll == "" {
		return nil, fmt.Errorf("invalid mandatory record %v: missing collection", doc)
	}
	rec, ok := doc["record"].(dbsp.Document)
	if !ok {
		return nil, fmt.Errorf("invalid mandatory record %v: missing record", doc)
	}
	v, err := provenance.NewVertex(coll, rec, dbsp.Zero)
	if err != nil {
		return nil, err
	}
	return &mandatory{query: q, key: key, vertex: v, diff: diff}, nil
}

// QueryRecord returns the record of a query edit.
func QueryRecord(q provenance.Query) dbsp.Document { return q.Document() }

// MandatoryRecord returns the record of a mandatory edit that forces an input record for a query.
func MandatoryRecord(q provenance.Query, collection string, record dbsp.Document) dbsp.Document {
	return dbsp.Document{"query": q.Document(), "collection": collection, "record": record}
}
