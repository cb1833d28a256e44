package provenance

import (
	"sort"

	"github.com/l7mp/dexplain/pkg/dbsp"
)

// Root is a closure root: a node together with its record.
type Root struct {
	Node
	Record dbsp.Document
}

// NodeSet is a set of closure nodes with their records.
type NodeSet map[Node]dbsp.Document

// Nodes returns the nodes ordered by collection, key and bound.
func (s NodeSet) Nodes() []Node {
	ret := make([]Node, 0, len(s))
	for n := range s {
		ret = append(ret, n)
	}
	sort.Slice(ret, func(i, j int) bool {
		a, b := ret[i], ret[j]
		if a.Collection != b.Collection {
			return a.Collection < b.Collection
		}
		if a.Key != b.Key {
			return a.Key < b.Key
		}
		return a.Bound.Compare(b.Bound) < 0
	})
	return ret
}

// Closure computes the least set of nodes that contains the roots and, for every node and every
// edge that produced the node's record at a time <= its bound, the node of the required vertex.
// Every alternative derivation is followed.
func Closure(view View, roots ...Root) NodeSet {
	ret := NodeSet{}
	work := make([]Node, 0, len(roots))
	for _, r := range roots {
		if _, ok := ret[r.Node]; !ok {
			ret[r.Node] = r.Record
			work = append(work, r.Node)
		}
	}
	for len(work) > 0 {
		n := work[len(work)-1]
		work = work[:len(work)-1]
		view.Derivations(n.Ref, n.Bound, func(e *Edge) bool {
			if e.Fact() {
				return true
			}
			c := requiredNode(e)
			if _, ok := ret[c]; !ok {
				ret[c] = e.Required.Record
				work = append(work, c)
			}
			return true
		})
	}
	return ret
}

// HasDerivation reports whether the record was produced at some time <= bound, with or without
// predecessors.
func HasDerivation(view View, r Ref, bound dbsp.Time) bool {
	found := false
	view.Derivations(r, bound, func(*Edge) bool {
		found = true
		return false
	})
	return found
}

// ComputeMustSet computes the must-set of a query from scratch: the input records of the closure
// that are present in the current input, plus the forced records. The second return value is
// true if the query is vacuous: its record was never produced up to the target time and is not a
// present input record.
func ComputeMustSet(view View, schema *Schema, inputs InputState, q Query, forced ...Vertex) (*MustSet, bool, error) {
	root, err := q.Root()
	if err != nil {
		return nil, false, err
	}
	roots := []Root{root}
	for _, v := range forced {
		roots = append(roots, Root{Node: Node{Ref: v.Ref, Bound: v.Time}, Record: v.Record})
	}

	must := NewMustSet()
	for n, rec := range Closure(view, roots...) {
		if schema.IsInput(n.Collection) && inputs.Contains(n.Ref) {
			must.insert(n.Ref, rec)
		}
	}
	for _, v := range forced {
		must.insert(v.Ref, v.Record)
	}

	vacuous := !HasDerivation(view, root.Ref, root.Bound) &&
		!(schema.IsInput(root.Collection) && inputs.Contains(root.Ref))
	return must, vacuous, nil
}
