package provenance

import (
	"context"
	"errors"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/go-logr/logr"
	"github.com/l7mp/dexplain/pkg/dbsp"
	"github.com/tidwall/btree"
	"golang.org/x/sync/errgroup"
)

// View is read access to a derivation graph.
type View interface {
	// Derivations calls fn for every edge that produced the record at a time <= bound, until fn
	// returns false.
	Derivations(r Ref, bound dbsp.Time, fn func(*Edge) bool)
	// Dependents calls fn for every edge that requires the record, until fn returns false.
	Dependents(r Ref, fn func(*Edge) bool)
}

// EdgeChange is a signed change to the multiplicity of a derivation edge.
type EdgeChange struct {
	Edge Edge
	Diff int
}

type entry struct {
	id    string
	edge  *Edge
	count int
}

func entryLess(a, b *entry) bool {
	if c := a.edge.Produced.Time.Compare(b.edge.Produced.Time); c != 0 {
		return c < 0
	}
	return a.id < b.id
}

// shard owns the forward index of the records that hash to it and the reverse index of the
// required records that hash to it.
type shard struct {
	forward map[Ref]*btree.BTreeG[*entry]
	byID    map[string]*entry
	reverse map[Ref]map[string]*entry
}

func newShard() *shard {
	return &shard{
		forward: map[Ref]*btree.BTreeG[*entry]{},
		byID:    map[string]*entry{},
		reverse: map[Ref]map[string]*entry{},
	}
}

// Graph is the derivation graph, sharded by record hash. Each edge is indexed forward in the
// shard of its produced record, ordered by time, and backward in the shard of its required record.
// Edges are kept with Z-set counts and are present while their count is positive.
type Graph struct {
	shards []*shard
	log    logr.Logger
}

// NewGraph creates an empty derivation graph with the given number of shards.
func NewGraph(shards int, log logr.Logger) *Graph {
	if shards < 1 {
		shards = 1
	}
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	g := &Graph{shards: make([]*shard, shards), log: log.WithName("graph")}
	for i := range g.shards {
		g.shards[i] = newShard()
	}
	return g
}

// Shards returns the number of shards.
func (g *Graph) Shards() int { return len(g.shards) }

func (g *Graph) shardOf(r Ref) int {
	return ShardOf(r.Collection+r.Key, len(g.shards))
}

// ShardOf maps a key to one of n partitions.
func ShardOf(key string, n int) int {
	return int(xxhash.Sum64String(key) % uint64(n))
}

// Derivations implements View.
func (g *Graph) Derivations(r Ref, bound dbsp.Time, fn func(*Edge) bool) {
	tree, ok := g.shards[g.shardOf(r)].forward[r]
	if !ok {
		return
	}
	tree.Scan(func(item *entry) bool {
		t := item.edge.Produced.Time
		if t.Outer > bound.Outer {
			// times are ordered lexicographically, nothing later can be <= bound
			return false
		}
		if !t.LessEqual(bound) {
			return true
		}
		return fn(item.edge)
	})
}

// Dependents implements View.
func (g *Graph) Dependents(r Ref, fn func(*Edge) bool) {
	for _, item := range g.shards[g.shardOf(r)].reverse[r] {
		if !fn(item.edge) {
			return
		}
	}
}

// Has reports whether the edge is present.
func (g *Graph) Has(e Edge) bool {
	item, ok := g.shards[g.shardOf(e.Produced.Ref)].byID[e.ID()]
	return ok && item.count > 0
}

// Len returns the number of edges present.
func (g *Graph) Len() int {
	n := 0
	for _, sh := range g.shards {
		n += len(sh.byID)
	}
	return n
}

// Edges returns all edges, ordered by ID.
func (g *Graph) Edges() []Edge {
	ret := []*entry{}
	for _, sh := range g.shards {
		for _, item := range sh.byID {
			ret = append(ret, item)
		}
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].id < ret[j].id })
	edges := make([]Edge, len(ret))
	for i, item := range ret {
		edges[i] = *item.edge
	}
	return edges
}

type change struct {
	id   string
	edge *Edge
	diff int
}

// Apply applies a batch of edge changes and returns the edges that became present and the edges
// that disappeared, both ordered by ID. Each shard is updated by its own goroutine. Retracting an
// edge that is not present fails the whole batch with ErrUnknownEdge and leaves the graph
// unchanged.
func (g *Graph) Apply(ctx context.Context, changes []EdgeChange) ([]*Edge, []*Edge, error) {
	// consolidate
	byID := map[string]*change{}
	for i := range changes {
		c := changes[i]
		id := c.Edge.ID()
		if ch, ok := byID[id]; ok {
			ch.diff += c.Diff
			continue
		}
		e := c.Edge
		byID[id] = &change{id: id, edge: &e, diff: c.Diff}
	}
	batch := make([]*change, 0, len(byID))
	for _, ch := range byID {
		if ch.diff != 0 {
			batch = append(batch, ch)
		}
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].id < batch[j].id })

	errs := []error{}
	for _, ch := range batch {
		if ch.diff > 0 {
			continue
		}
		count := 0
		if item, ok := g.shards[g.shardOf(ch.edge.Produced.Ref)].byID[ch.id]; ok {
			count = item.count
		}
		if count+ch.diff < 0 {
			errs = append(errs, NewUnknownEdgeError(*ch.edge))
		}
	}
	if len(errs) > 0 {
		return nil, nil, errors.Join(errs...)
	}

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	// shards are disjoint, a started batch is always applied in full
	inserted := make([][]*Edge, len(g.shards))
	retracted := make([][]*Edge, len(g.shards))
	var eg errgroup.Group
	for i := range g.shards {
		eg.Go(func() error {
			inserted[i], retracted[i] = g.applyShard(i, batch)
			return nil
		})
	}
	_ = eg.Wait()

	ins, ret := mergeEdges(inserted), mergeEdges(retracted)
	g.log.V(2).Info("applied edge delta", "changes", len(batch), "inserted", len(ins),
		"retracted", len(ret), "edges", g.Len())
	return ins, ret, nil
}

func (g *Graph) applyShard(i int, batch []*change) ([]*Edge, []*Edge) {
	sh := g.shards[i]
	inserted, retracted := []*Edge{}, []*Edge{}
	for _, ch := range batch {
		if g.shardOf(ch.edge.Produced.Ref) == i {
			switch sh.applyForward(ch) {
			case 1:
				inserted = append(inserted, ch.edge)
			case -1:
				retracted = append(retracted, ch.edge)
			}
		}
		if g.shardOf(ch.edge.Required.Ref) == i {
			sh.applyReverse(ch)
		}
	}
	return inserted, retracted
}

// applyForward returns 1 if the edge appeared, -1 if it disappeared and 0 otherwise.
func (sh *shard) applyForward(ch *change) int {
	ref := ch.edge.Produced.Ref
	item, ok := sh.byID[ch.id]
	if !ok {
		item = &entry{id: ch.id, edge: ch.edge}
	}
	before := item.count
	item.count += ch.diff

	switch {
	case before <= 0 && item.count > 0:
		sh.byID[ch.id] = item
		tree, ok := sh.forward[ref]
		if !ok {
			tree = btree.NewBTreeG[*entry](entryLess)
			sh.forward[ref] = tree
		}
		tree.Set(item)
		return 1
	case before > 0 && item.count <= 0:
		delete(sh.byID, ch.id)
		if tree, ok := sh.forward[ref]; ok {
			tree.Delete(item)
			if tree.Len() == 0 {
				delete(sh.forward, ref)
			}
		}
		return -1
	}
	return 0
}

func (sh *shard) applyReverse(ch *change) {
	ref := ch.edge.Required.Ref
	items, ok := sh.reverse[ref]
	if !ok {
		items = map[string]*entry{}
		sh.reverse[ref] = items
	}
	item, ok := items[ch.id]
	if !ok {
		item = &entry{id: ch.id, edge: ch.edge}
		items[ch.id] = item
	}
	item.count += ch.diff
	if item.count <= 0 {
		delete(items, ch.id)
		if len(items) == 0 {
			delete(sh.reverse, ref)
		}
	}
}

func mergeEdges(parts [][]*Edge) []*Edge {
	ret := []*Edge{}
	for _, p := range parts {
		ret = append(ret, p...)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].ID() < ret[j].ID() })
	return ret
}

// Layered is the union of several views.
type Layered []View

// Derivations implements View.
func (l Layered) Derivations(r Ref, bound dbsp.Time, fn func(*Edge) bool) {
	stop := false
	for _, v := range l {
		v.Derivations(r, bound, func(e *Edge) bool {
			if !fn(e) {
				stop = true
				return false
			}
			return true
		})
		if stop {
			return
		}
	}
}

// Dependents implements View.
func (l Layered) Dependents(r Ref, fn func(*Edge) bool) {
	stop := false
	for _, v := range l {
		v.Dependents(r, func(e *Edge) bool {
			if !fn(e) {
				stop = true
				return false
			}
			return true
		})
		if stop {
			return
		}
	}
}
