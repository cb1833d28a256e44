// Copyright 2022 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dag implements the collection dependency DAG used to order the collections of a
// dataflow computation.
//
// An edge from c to a means c is computed from a within one logical time, i.e., a comes before c
// in the partial order. Edges may only be added between known nodes and never close a cycle, so
// the graph is a DAG by construction.
package dag

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrUnknownNode is returned when an edge references an undeclared node.
	ErrUnknownNode = errors.New("unknown node")
	// ErrCycle is returned when an edge would close a cycle.
	ErrCycle = errors.New("cycle")
)

type Graph struct {
	Nodes   []string
	byLabel map[string]int
	edges   map[string]map[string]bool
}

func (g *Graph) AddNode(label string) bool {
	if _, ok := g.byLabel[label]; ok {
		return false
	}
	g.byLabel[label] = len(g.Nodes)
	g.Nodes = append(g.Nodes, label)
	g.edges[label] = map[string]bool{}
	return true
}

func (g *Graph) HasNode(label string) bool {
	_, ok := g.byLabel[label]
	return ok
}

// AddEdge records that from comes after to.
func (g *Graph) AddEdge(from, to string) error {
	if !g.HasNode(from) {
		return fmt.Errorf("%w: %q", ErrUnknownNode, from)
	}
	if !g.HasNode(to) {
		return fmt.Errorf("%w: %q", ErrUnknownNode, to)
	}
	if from == to || g.Reachable(to, from) {
		return fmt.Errorf("%w: %s -> %s", ErrCycle, from, to)
	}
	g.edges[from][to] = true
	return nil
}

func (g *Graph) HasEdge(from, to string) bool {
	return g.edges[from] != nil && g.edges[from][to]
}

// Edges returns the direct successors of a node in insertion order.
func (g *Graph) Edges(from string) []string {
	edges := make([]string, 0, 16)
	for k := range g.edges[from] {
		edges = append(edges, k)
	}
	sort.Slice(edges, func(i, j int) bool { return g.byLabel[edges[i]] < g.byLabel[edges[j]] })
	return edges
}

// Reachable reports whether there is a non-empty path from one node to another.
func (g *Graph) Reachable(from, to string) bool {
	seen := map[string]bool{}
	stack := g.Edges(from)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == to {
			return true
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		stack = append(stack, g.Edges(n)...)
	}
	return false
}
