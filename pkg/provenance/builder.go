package provenance

import (
	"sort"

	"github.com/l7mp/dexplain/pkg/dbsp"
)

// Derivation is one observed justification of an output update: the produced record at its time
// and the direct predecessors it required. All predecessors of a derivation are required together;
// several derivations of the same record are alternatives. A derivation without predecessors
// produces its record unconditionally.
type Derivation struct {
	Produced Vertex
	Requires []Vertex
}

// Explainer is implemented by instrumented computations: it returns the derivations observed
// while producing the outputs.
type Explainer interface {
	Derivations() []Derivation
}

// BuildEdges collects the derivation edges of a trace into a Z-set of edge documents. Edges that
// fail schema validation are dropped and returned separately.
func BuildEdges(schema *Schema, ex Explainer) (*dbsp.DocumentZSet, []error, error) {
	ret := dbsp.NewDocumentZSet()
	malformed := []error{}
	for _, d := range ex.Derivations() {
		edges := make([]Edge, 0, len(d.Requires))
		for _, req := range d.Requires {
			edges = append(edges, NewEdge(d.Produced, req))
		}
		if len(edges) == 0 {
			edges = append(edges, NewFactEdge(d.Produced))
		}
		for _, e := range edges {
			if err := schema.ValidateEdge(e); err != nil {
				malformed = append(malformed, err)
				continue
			}
			if err := ret.AddDocumentMutate(e.Document(), 1); err != nil {
				return nil, nil, err
			}
		}
	}
	return ret, malformed, nil
}

// EdgeChanges converts a Z-set of edge documents into edge changes, ordered by edge ID.
func EdgeChanges(delta *dbsp.DocumentZSet) ([]EdgeChange, error) {
	ret := make([]EdgeChange, 0, delta.UniqueCount())
	for _, entry := range delta.List() {
		e, err := EdgeFromDocument(entry.Document)
		if err != nil {
			return nil, err
		}
		ret = append(ret, EdgeChange{Edge: e, Diff: entry.Multiplicity})
	}
	sort.SliceStable(ret, func(i, j int) bool { return ret[i].Edge.ID() < ret[j].Edge.ID() })
	return ret, nil
}
