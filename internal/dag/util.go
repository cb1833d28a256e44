// Copyright 2024 rg0now. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dag

// New creates an empty graph.
func New() *Graph {
	return &Graph{byLabel: map[string]int{}, edges: map[string]map[string]bool{}}
}

// TopoSort returns the nodes so that every node comes after the nodes it has an edge to.
func (g *Graph) TopoSort() []string {
	ret := make([]string, 0, len(g.Nodes))
	done := map[string]bool{}
	var visit func(n string)
	visit = func(n string) {
		if done[n] {
			return
		}
		done[n] = true
		for _, m := range g.Edges(n) {
			visit(m)
		}
		ret = append(ret, n)
	}
	for _, n := range g.Nodes {
		visit(n)
	}
	return ret
}
