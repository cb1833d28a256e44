// Package cc implements connected components by label propagation as an instrumented
// computation.
//
// Every node starts from the smallest of its initial labels and in each iteration takes the
// smallest label among its initial labels and the labels of its neighbors in the previous
// iteration. Edges are undirected. A node's label at iteration i is justified by every option
// that attains the minimum: its initial label, or a neighbor's label at iteration i-1 together
// with the edge to that neighbor.
package cc

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-logr/logr"

	"github.com/l7mp/dexplain/pkg/computation"
	"github.com/l7mp/dexplain/pkg/dbsp"
	"github.com/l7mp/dexplain/pkg/provenance"
)

const (
	// Edge is the input collection of {"src", "dst"} records.
	Edge = "edge"
	// Label is the input collection of initial {"node", "label"} records.
	Label = "label"
	// Output is the derived collection of {"node", "label"} records.
	Output = "cc_label"
)

var _ computation.Computation = &CC{}

// CC is the label propagation computation.
type CC struct {
	schema *provenance.Schema
	log    logr.Logger
}

// New creates a label propagation computation.
func New(log logr.Logger) *CC {
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	s := provenance.NewSchema()
	if err := s.AddInput(Edge, Label); err != nil {
		panic(err)
	}
	if err := s.AddDerived(Output, Edge, Label); err != nil {
		panic(err)
	}
	return &CC{schema: s, log: log.WithName("cc")}
}

func (c *CC) Name() string                 { return "cc" }
func (c *CC) Schema() *provenance.Schema   { return c.schema }
func (c *CC) Grammar() computation.Grammar { return grammar }

var grammar = computation.Grammar{
	Inputs: []computation.Verb{
		{Name: "graph", Aliases: []string{"edge"}, Collection: Edge, Fields: []string{"src", "dst"}},
		{Name: "label", Collection: Label, Fields: []string{"node", "label"}},
	},
	Query: computation.Verb{Name: "cc_label", Collection: Output, Fields: []string{"node", "label"}},
}

// EdgeRecord returns the record of an edge.
func EdgeRecord(src, dst int64) dbsp.Document {
	return dbsp.Document{"src": src, "dst": dst}
}

// LabelRecord returns a label record, used both for initial and computed labels.
func LabelRecord(node, label int64) dbsp.Document {
	return dbsp.Document{"node": node, "label": label}
}

type neighbor struct {
	node   int64
	record dbsp.Document
}

type option struct {
	label int64
	from  *neighbor // nil for an initial label
}

// Run implements computation.Computation.
func (c *CC) Run(ctx context.Context, inputs computation.Inputs) (*computation.Trace, error) {
	adj := map[int64][]neighbor{}
	for _, doc := range inputs.Documents(Edge) {
		src, ok1 := dbsp.Int(doc, "src")
		dst, ok2 := dbsp.Int(doc, "dst")
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("invalid edge record %v", doc)
		}
		adj[src] = append(adj[src], neighbor{node: dst, record: doc})
		if src != dst {
			adj[dst] = append(adj[dst], neighbor{node: src, record: doc})
		}
	}

	initial := map[int64]int64{}
	for _, doc := range inputs.Documents(Label) {
		node, ok1 := dbsp.Int(doc, "node")
		label, ok2 := dbsp.Int(doc, "label")
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("invalid label record %v", doc)
		}
		if l, ok := initial[node]; !ok || label < l {
			initial[node] = label
		}
	}

	nodes := map[int64]bool{}
	for n := range adj {
		nodes[n] = true
	}
	for n := range initial {
		nodes[n] = true
	}
	order := make([]int64, 0, len(nodes))
	for n := range nodes {
		order = append(order, n)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	rec := computation.NewRecorder()
	cur := map[int64]int64{}
	for i := uint32(0); ; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if int(i) > len(order)+1 {
			return nil, fmt.Errorf("cc: %w after %d iterations", computation.ErrIterationLimit, i)
		}

		next := map[int64]int64{}
		changed := 0
		for _, y := range order {
			opts := []option{}
			if l, ok := initial[y]; ok {
				opts = append(opts, option{label: l})
			}
			if i > 0 {
				for k := range adj[y] {
					nb := &adj[y][k]
					if l, ok := cur[nb.node]; ok {
						opts = append(opts, option{label: l, from: nb})
					}
				}
			}
			if len(opts) == 0 {
				continue
			}

			best := opts[0].label
			for _, o := range opts[1:] {
				if o.label < best {
					best = o.label
				}
			}
			next[y] = best
			if old, ok := cur[y]; ok && old == best {
				continue
			}

			changed++
			t := dbsp.At(i)
			if old, ok := cur[y]; ok {
				rec.Emit(Output, LabelRecord(y, old), t, -1)
			}
			out := LabelRecord(y, best)
			first := true
			for _, o := range opts {
				if o.label != best {
					continue
				}
				var requires []provenance.Vertex
				if o.from == nil {
					requires = []provenance.Vertex{rec.Vertex(Label, LabelRecord(y, best), dbsp.Zero)}
				} else {
					requires = []provenance.Vertex{
						rec.Vertex(Output, LabelRecord(o.from.node, best), dbsp.At(i-1)),
						rec.Vertex(Edge, o.from.record, dbsp.Zero),
					}
				}
				if first {
					rec.Emit(Output, out, t, 1, requires...)
					first = false
				} else {
					rec.Derive(Output, out, t, requires...)
				}
			}
		}

		c.log.V(2).Info("iteration", "round", i, "changed", changed)
		cur = next
		if changed == 0 {
			break
		}
	}

	return rec.Trace()
}
