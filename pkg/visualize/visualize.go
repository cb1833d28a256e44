// Package visualize renders explanation graphs as diagrams.
package visualize

import (
	"fmt"

	"github.com/emicklei/dot"

	"github.com/l7mp/dexplain/pkg/computation"
	"github.com/l7mp/dexplain/pkg/dbsp"
	"github.com/l7mp/dexplain/pkg/provenance"
	"github.com/l7mp/dexplain/pkg/util"
)

// NodeKind classifies the nodes of an explanation graph.
type NodeKind string

const (
	// KindQuery is the queried record.
	KindQuery NodeKind = "query"
	// KindDerived is a derived record on a derivation path.
	KindDerived NodeKind = "derived"
	// KindMust is an input record of the must-set.
	KindMust NodeKind = "must"
	// KindAbsent is an input record on a derivation path that is not in the must-set.
	KindAbsent NodeKind = "absent"
)

// Graph is the closure of a query: nodes are records with a time bound, links point from a
// required record to the record it helped produce.
type Graph struct {
	Title string
	Nodes []Node
	Links []Link
}

// Node is a record of the closure.
type Node struct {
	ID    string
	Label string
	Kind  NodeKind
}

// Link is a derivation between two closure nodes.
type Link struct {
	From, To string
	Label    string
}

// BuildGraph constructs the explanation graph of a query. The grammar is used to render records
// as tuples, records of collections it does not know are rendered as JSON.
func BuildGraph(ex *computation.Explanation, g computation.Grammar) *Graph {
	ret := &Graph{Title: title(ex, g)}
	root, _ := ex.Query.Root()

	nodes := ex.Closure.Nodes()
	for _, n := range nodes {
		kind := KindDerived
		switch {
		case n == root.Node:
			kind = KindQuery
		case ex.MustSet != nil && ex.MustSet.Has(n.Ref):
			kind = KindMust
		case ex.Graph != nil && !hasDerivation(ex.Graph, n):
			kind = KindAbsent
		}
		ret.Nodes = append(ret.Nodes, Node{
			ID:    n.String(),
			Label: fmt.Sprintf("%s@%s", record(g, n.Collection, ex.Closure[n]), n.Bound),
			Kind:  kind,
		})
	}

	if ex.Graph == nil {
		return ret
	}
	seen := map[[2]string]bool{}
	for _, n := range nodes {
		ex.Graph.Derivations(n.Ref, n.Bound, func(e *provenance.Edge) bool {
			if e.Fact() {
				return true
			}
			req := provenance.Node{Ref: e.Required.Ref, Bound: e.Required.Time}
			if _, ok := ex.Closure[req]; !ok {
				return true
			}
			key := [2]string{req.String(), n.String()}
			if seen[key] {
				return true
			}
			seen[key] = true
			ret.Links = append(ret.Links, Link{From: key[0], To: key[1], Label: e.Produced.Time.String()})
			return true
		})
	}
	return ret
}

func title(ex *computation.Explanation, g computation.Grammar) string {
	t := "why " + record(g, ex.Query.Collection, ex.Query.Record)
	if ex.Vacuous {
		t += " (vacuous)"
	}
	return t
}

func record(g computation.Grammar, collection string, rec dbsp.Document) string {
	if v, ok := g.ByCollection(collection); ok {
		if args, err := v.Args(rec); err == nil {
			return util.Tuple(v.Name, args)
		}
	}
	return collection + util.Stringify(rec)
}

func hasDerivation(view provenance.View, n provenance.Node) bool {
	return provenance.HasDerivation(view, n.Ref, n.Bound)
}

// BuildDotGraph creates a dot.Graph from the explanation graph, styled for Graphviz.
func BuildDotGraph(g *Graph) *dot.Graph {
	return buildGraph(g, dotStyle)
}

func dotStyle(node dot.Node, kind NodeKind) {
	switch kind {
	case KindQuery:
		node.Attr("shape", "box").
			Attr("style", "filled,rounded").
			Attr("fillcolor", "lightblue").
			Attr("color", "darkblue").
			Attr("penwidth", "2")
	case KindMust:
		node.Attr("shape", "ellipse").
			Attr("style", "filled").
			Attr("fillcolor", "lightgreen")
	case KindAbsent:
		node.Attr("shape", "ellipse").
			Attr("style", "dashed")
	default:
		node.Attr("shape", "box").
			Attr("style", "rounded")
	}
}

func buildGraph(g *Graph, style func(dot.Node, NodeKind)) *dot.Graph {
	graph := dot.NewGraph(dot.Directed)
	graph.Attr("rankdir", "LR")
	graph.Attr("newrank", "true")
	graph.Attr("label", g.Title)
	graph.Attr("labelloc", "t")
	graph.Attr("fontsize", "16")

	nodes := make(map[string]dot.Node, len(g.Nodes))
	for _, n := range g.Nodes {
		node := graph.Node(n.ID).
			Attr("label", n.Label).
			Attr("fontname", "helvetica")
		style(node, n.Kind)
		nodes[n.ID] = node
	}

	for _, l := range g.Links {
		from, ok1 := nodes[l.From]
		to, ok2 := nodes[l.To]
		if !ok1 || !ok2 {
			continue
		}
		graph.Edge(from, to).
			Attr("label", l.Label).
			Attr("fontname", "helvetica").
			Attr("fontsize", "10")
	}

	return graph
}
