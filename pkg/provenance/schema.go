package provenance

import (
	"fmt"

	"github.com/l7mp/dexplain/internal/dag"
)

// Schema declares the collections of a computation. Input collections are never produced;
// derived collections list the collections they read within one logical time.
type Schema struct {
	dag    *dag.Graph
	inputs map[string]bool
}

// NewSchema creates an empty schema.
func NewSchema() *Schema {
	return &Schema{dag: dag.New(), inputs: map[string]bool{}}
}

// AddInput declares input collections.
func (s *Schema) AddInput(names ...string) error {
	for _, name := range names {
		if !s.dag.AddNode(name) {
			return fmt.Errorf("collection %q already declared", name)
		}
		s.inputs[name] = true
	}
	return nil
}

// AddDerived declares a derived collection and the collections it reads at the same time. The
// read collections must already be declared, which keeps the schema acyclic. Feedback from a
// later collection is expressed through strictly decreasing times and is not declared here.
func (s *Schema) AddDerived(name string, reads ...string) error {
	if !s.dag.AddNode(name) {
		return fmt.Errorf("collection %q already declared", name)
	}
	for _, r := range reads {
		if err := s.dag.AddEdge(name, r); err != nil {
			return fmt.Errorf("collection %q: %w", name, err)
		}
	}
	return nil
}

// Has reports whether the collection is declared.
func (s *Schema) Has(name string) bool { return s.dag.HasNode(name) }

// IsInput reports whether the collection is an input collection.
func (s *Schema) IsInput(name string) bool { return s.inputs[name] }

// Inputs returns the input collections in declaration order.
func (s *Schema) Inputs() []string {
	ret := []string{}
	for _, n := range s.dag.Nodes {
		if s.inputs[n] {
			ret = append(ret, n)
		}
	}
	return ret
}

// Collections returns all collections so that every collection comes after the ones it reads.
func (s *Schema) Collections() []string { return s.dag.TopoSort() }

// Upstream reports whether the required collection is strictly upstream of the produced one.
func (s *Schema) Upstream(required, produced string) bool {
	return s.dag.Reachable(produced, required)
}

// ValidateEdge checks a derivation edge. The required vertex must not lie in the future of the
// produced one. Equal times are allowed only along the schema, every other dependency (a
// collection on itself or feedback) must strictly decrease time. This makes every backward
// expansion well-founded.
func (s *Schema) ValidateEdge(e Edge) error {
	p, r := e.Produced, e.Required
	switch {
	case !s.Has(p.Collection):
		return NewMalformedEdgeError(e, fmt.Sprintf("%s %q", ErrUnknownCollection, p.Collection))
	case !s.Has(r.Collection):
		return NewMalformedEdgeError(e, fmt.Sprintf("%s %q", ErrUnknownCollection, r.Collection))
	case s.IsInput(p.Collection):
		return NewMalformedEdgeError(e, "input records cannot be produced")
	case e.Fact():
		return nil
	case !r.Time.LessEqual(p.Time):
		return NewMalformedEdgeError(e, "required time is not before produced time")
	case r.Time == p.Time && !s.Upstream(r.Collection, p.Collection):
		return NewMalformedEdgeError(e, "dependency at equal time is not upstream")
	}
	return nil
}
