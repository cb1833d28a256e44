package computation

import (
	"context"

	"github.com/go-logr/logr"

	"github.com/l7mp/dexplain/pkg/dbsp"
	"github.com/l7mp/dexplain/pkg/provenance"
)

// State returns the set of present input records.
func (in Inputs) State() (provenance.InputSet, error) {
	ret := provenance.InputSet{}
	for coll, z := range in {
		for _, doc := range z.GetUniqueDocuments() {
			r, err := provenance.NewRef(coll, doc)
			if err != nil {
				return nil, err
			}
			ret[r] = struct{}{}
		}
	}
	return ret, nil
}

// Explanation is the result of a one-shot explanation.
type Explanation struct {
	Query     provenance.Query
	MustSet   *provenance.MustSet
	Vacuous   bool
	Graph     *provenance.Graph
	Closure   provenance.NodeSet
	Malformed []error
}

// Explain runs the computation once and explains a query from scratch.
func Explain(ctx context.Context, c Computation, inputs Inputs, q provenance.Query, forced ...provenance.Vertex) (*Explanation, error) {
	trace, err := c.Run(ctx, inputs)
	if err != nil {
		return nil, err
	}
	edges, malformed, err := provenance.BuildEdges(c.Schema(), trace)
	if err != nil {
		return nil, err
	}
	changes, err := provenance.EdgeChanges(edges.Distinct())
	if err != nil {
		return nil, err
	}
	g := provenance.NewGraph(1, logr.Discard())
	if _, _, err := g.Apply(ctx, changes); err != nil {
		return nil, err
	}
	state, err := inputs.State()
	if err != nil {
		return nil, err
	}
	must, vacuous, err := provenance.ComputeMustSet(g, c.Schema(), state, q, forced...)
	if err != nil {
		return nil, err
	}
	root, err := q.Root()
	if err != nil {
		return nil, err
	}
	roots := []provenance.Root{root}
	for _, v := range forced {
		roots = append(roots, provenance.Root{Node: provenance.Node{Ref: v.Ref, Bound: v.Time}, Record: v.Record})
	}
	return &Explanation{
		Query:     q,
		MustSet:   must,
		Vacuous:   vacuous,
		Graph:     g,
		Closure:   provenance.Closure(g, roots...),
		Malformed: malformed,
	}, nil
}

// Verify re-runs the computation on exactly the must-set and reports whether the queried record
// is produced at some time up to the query target.
func Verify(ctx context.Context, c Computation, must *provenance.MustSet, q provenance.Query) (bool, error) {
	restricted, err := must.Inputs()
	if err != nil {
		return false, err
	}
	if c.Schema().IsInput(q.Collection) {
		return must.Contains(q.Collection, q.Record), nil
	}
	trace, err := c.Run(ctx, Inputs(restricted))
	if err != nil {
		return false, err
	}
	return trace.Produced(q.Collection, q.Record, q.Target)
}

// Restrict returns the inputs keeping only the records of the must-set, i.e., the semijoin of the
// inputs with the must-set.
func Restrict(inputs Inputs, must *provenance.MustSet) (Inputs, error) {
	restricted, err := must.Inputs()
	if err != nil {
		return nil, err
	}
	ret := Inputs{}
	sj := dbsp.NewSemijoin()
	for coll, z := range inputs {
		m, ok := restricted[coll]
		if !ok {
			continue
		}
		out, err := sj.Process(z, m)
		if err != nil {
			return nil, err
		}
		ret[coll] = out
	}
	return ret, nil
}
