package provenance

import (
	"fmt"
	"sort"

	"github.com/go-logr/logr"
	"github.com/l7mp/dexplain/pkg/dbsp"
)

// Maintainer keeps the closure and the must-set of a single query up to date as the derivation
// graph changes. Insertions are propagated eagerly. Retractions use delete-and-rederive: the nodes
// reachable from the targets of retracted edges are marked suspect, suspects that are still
// supported by a surviving edge from a non-suspect node are restored, and the rest is removed.
// The query root and the forced records are never removed by retraction.
//
// A Maintainer is not safe for concurrent use. It only reads its view.
type Maintainer struct {
	schema *Schema
	view   View
	query  Query
	root   Root
	forced map[Ref]Root

	nodes  NodeSet
	byRef  map[Ref]map[dbsp.Time]struct{}
	inputs map[Ref]int // number of nodes per input record

	must  *MustSet
	dirty map[Ref]struct{}
	log   logr.Logger
}

// NewMaintainer creates a maintainer for a query and computes its initial closure. The must-set
// is empty until the first Flush.
func NewMaintainer(schema *Schema, view View, q Query, log logr.Logger) (*Maintainer, error) {
	if !schema.Has(q.Collection) {
		return nil, fmt.Errorf("query %s: %w %q", q, ErrUnknownCollection, q.Collection)
	}
	root, err := q.Root()
	if err != nil {
		return nil, err
	}
	if log.GetSink() == nil {
		log = logr.Discard()
	}

	m := &Maintainer{
		schema: schema,
		view:   view,
		query:  q,
		root:   root,
		forced: map[Ref]Root{},
		nodes:  NodeSet{},
		byRef:  map[Ref]map[dbsp.Time]struct{}{},
		inputs: map[Ref]int{},
		must:   NewMustSet(),
		dirty:  map[Ref]struct{}{},
		log:    log.WithValues("query", q.String()),
	}
	m.addNode(root.Node, root.Record)
	m.expand([]Node{root.Node})
	return m, nil
}

// Query returns the maintained query.
func (m *Maintainer) Query() Query { return m.query }

// MustSet returns the current must-set as of the last Flush. The caller must not modify it.
func (m *Maintainer) MustSet() *MustSet { return m.must }

// Nodes returns a copy of the current closure.
func (m *Maintainer) Nodes() NodeSet {
	ret := make(NodeSet, len(m.nodes))
	for n, rec := range m.nodes {
		ret[n] = rec
	}
	return ret
}

// Forced returns the forced records ordered by collection and key.
func (m *Maintainer) Forced() []Vertex {
	refs := make([]Ref, 0, len(m.forced))
	for r := range m.forced {
		refs = append(refs, r)
	}
	sortRefs(refs)
	ret := make([]Vertex, len(refs))
	for i, r := range refs {
		root := m.forced[r]
		ret[i] = Vertex{Ref: r, Record: root.Record, Time: root.Bound}
	}
	return ret
}

// Vacuous reports whether the queried record was never produced up to the target time and is not
// a present input record.
func (m *Maintainer) Vacuous(inputs InputState) bool {
	if HasDerivation(m.view, m.root.Ref, m.root.Bound) {
		return false
	}
	return !(m.schema.IsInput(m.root.Collection) && inputs.Contains(m.root.Ref))
}

// Force adds input records to the must-set unconditionally and expands them like any closure node.
func (m *Maintainer) Force(records ...Vertex) error {
	work := []Node{}
	for _, v := range records {
		if !m.schema.IsInput(v.Collection) {
			return fmt.Errorf("cannot force record %s: %q is not an input collection", v, v.Collection)
		}
		if _, ok := m.forced[v.Ref]; ok {
			continue
		}
		root := Root{Node: Node{Ref: v.Ref, Bound: v.Time}, Record: v.Record}
		m.forced[v.Ref] = root
		m.dirty[v.Ref] = struct{}{}
		if m.addNode(root.Node, root.Record) {
			work = append(work, root.Node)
		}
		m.log.V(2).Info("forced input", "record", v.String())
	}
	m.expand(work)
	return nil
}

// Unforce removes forced records. Their nodes stay in the closure if they are still derived.
func (m *Maintainer) Unforce(refs ...Ref) {
	seeds := []Node{}
	for _, r := range refs {
		root, ok := m.forced[r]
		if !ok {
			continue
		}
		delete(m.forced, r)
		m.dirty[r] = struct{}{}
		seeds = append(seeds, root.Node)
		m.log.V(2).Info("unforced input", "record", r.String())
	}
	m.rederive(seeds)
}

// Clear removes all forced records.
func (m *Maintainer) Clear() {
	refs := make([]Ref, 0, len(m.forced))
	for r := range m.forced {
		refs = append(refs, r)
	}
	m.Unforce(refs...)
}

// Update propagates a batch of graph changes into the closure. The view must already reflect the
// changes.
func (m *Maintainer) Update(inserted, retracted []*Edge) {
	if len(retracted) > 0 {
		seeds := []Node{}
		for _, e := range retracted {
			if e.Fact() {
				continue
			}
			n := requiredNode(e)
			if _, ok := m.nodes[n]; ok {
				seeds = append(seeds, n)
			}
		}
		m.rederive(seeds)
	}

	work := []Node{}
	for _, e := range inserted {
		if e.Fact() || !m.covered(e, nil) {
			continue
		}
		c := requiredNode(e)
		if m.addNode(c, e.Required.Record) {
			work = append(work, c)
		}
	}
	m.expand(work)

	m.log.V(2).Info("closure updated", "inserted", len(inserted), "retracted", len(retracted),
		"nodes", len(m.nodes))
}

// Flush recomputes the must-set membership of the records touched since the last Flush and of the
// given input records whose presence changed, and returns the resulting must-set changes ordered
// by collection and key.
func (m *Maintainer) Flush(inputs InputState, changed ...Ref) []Change {
	for _, r := range changed {
		m.dirty[r] = struct{}{}
	}

	ret := []Change{}
	for r := range m.dirty {
		want, rec := m.member(r, inputs)
		switch have := m.must.Has(r); {
		case want && !have:
			m.must.insert(r, rec)
			ret = append(ret, Change{Ref: r, Record: rec, Diff: 1})
		case !want && have:
			ret = append(ret, Change{Ref: r, Record: m.must.members[r], Diff: -1})
			m.must.delete(r)
		}
	}
	m.dirty = map[Ref]struct{}{}

	sortChanges(ret)
	return ret
}

// Withdraw drops the whole state and returns the changes that empty the must-set.
func (m *Maintainer) Withdraw() []Change {
	ret := make([]Change, 0, m.must.Len())
	for _, r := range m.must.Refs() {
		ret = append(ret, Change{Ref: r, Record: m.must.members[r], Diff: -1})
	}
	m.must = NewMustSet()
	m.forced = map[Ref]Root{}
	m.nodes = NodeSet{}
	m.byRef = map[Ref]map[dbsp.Time]struct{}{}
	m.inputs = map[Ref]int{}
	m.dirty = map[Ref]struct{}{}
	return ret
}

func (m *Maintainer) member(r Ref, inputs InputState) (bool, dbsp.Document) {
	if root, ok := m.forced[r]; ok {
		return true, root.Record
	}
	if m.inputs[r] == 0 || !inputs.Contains(r) {
		return false, nil
	}
	for b := range m.byRef[r] {
		return true, m.nodes[Node{Ref: r, Bound: b}]
	}
	return false, nil
}

func (m *Maintainer) isRoot(n Node) bool {
	if n == m.root.Node {
		return true
	}
	root, ok := m.forced[n.Ref]
	return ok && root.Node == n
}

func (m *Maintainer) addNode(n Node, rec dbsp.Document) bool {
	if _, ok := m.nodes[n]; ok {
		return false
	}
	m.nodes[n] = rec
	bounds, ok := m.byRef[n.Ref]
	if !ok {
		bounds = map[dbsp.Time]struct{}{}
		m.byRef[n.Ref] = bounds
	}
	bounds[n.Bound] = struct{}{}
	if m.schema.IsInput(n.Collection) {
		m.inputs[n.Ref]++
		if m.inputs[n.Ref] == 1 {
			m.dirty[n.Ref] = struct{}{}
		}
	}
	return true
}

func (m *Maintainer) removeNode(n Node) {
	if _, ok := m.nodes[n]; !ok {
		return
	}
	delete(m.nodes, n)
	if bounds, ok := m.byRef[n.Ref]; ok {
		delete(bounds, n.Bound)
		if len(bounds) == 0 {
			delete(m.byRef, n.Ref)
		}
	}
	if m.schema.IsInput(n.Collection) {
		m.inputs[n.Ref]--
		if m.inputs[n.Ref] <= 0 {
			delete(m.inputs, n.Ref)
			m.dirty[n.Ref] = struct{}{}
		}
	}
}

func (m *Maintainer) expand(work []Node) {
	for len(work) > 0 {
		n := work[len(work)-1]
		work = work[:len(work)-1]
		m.view.Derivations(n.Ref, n.Bound, func(e *Edge) bool {
			if e.Fact() {
				return true
			}
			c := requiredNode(e)
			if m.addNode(c, e.Required.Record) {
				work = append(work, c)
			}
			return true
		})
	}
}

// covered reports whether some node outside the excluded set follows the edge.
func (m *Maintainer) covered(e *Edge, exclude map[Node]bool) bool {
	for b := range m.byRef[e.Produced.Ref] {
		p := Node{Ref: e.Produced.Ref, Bound: b}
		if !exclude[p] && p.covers(e) {
			return true
		}
	}
	return false
}

func (m *Maintainer) rederive(seeds []Node) {
	// over-delete
	suspect := map[Node]bool{}
	stack := append([]Node{}, seeds...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if suspect[n] || m.isRoot(n) {
			continue
		}
		if _, ok := m.nodes[n]; !ok {
			continue
		}
		suspect[n] = true
		m.view.Derivations(n.Ref, n.Bound, func(e *Edge) bool {
			if e.Fact() {
				return true
			}
			c := requiredNode(e)
			if _, ok := m.nodes[c]; ok && !suspect[c] {
				stack = append(stack, c)
			}
			return true
		})
	}
	if len(suspect) == 0 {
		return
	}

	// re-derive
	restore := []Node{}
	for n := range suspect {
		if m.supported(n, suspect) {
			restore = append(restore, n)
		}
	}
	restored := 0
	for len(restore) > 0 {
		n := restore[len(restore)-1]
		restore = restore[:len(restore)-1]
		if !suspect[n] {
			continue
		}
		delete(suspect, n)
		restored++
		m.view.Derivations(n.Ref, n.Bound, func(e *Edge) bool {
			if c := requiredNode(e); !e.Fact() && suspect[c] {
				restore = append(restore, c)
			}
			return true
		})
	}

	for n := range suspect {
		m.removeNode(n)
	}
	m.log.V(2).Info("retraction processed", "seeds", len(seeds), "restored", restored,
		"removed", len(suspect))
}

// supported reports whether a surviving edge from a non-suspect node derives the node.
func (m *Maintainer) supported(n Node, suspect map[Node]bool) bool {
	found := false
	m.view.Dependents(n.Ref, func(e *Edge) bool {
		if e.Fact() || e.Required.Time != n.Bound {
			return true
		}
		if m.covered(e, suspect) {
			found = true
			return false
		}
		return true
	})
	return found
}

func sortChanges(changes []Change) {
	sort.Slice(changes, func(i, j int) bool {
		a, b := changes[i], changes[j]
		if a.Collection != b.Collection {
			return a.Collection < b.Collection
		}
		return a.Key < b.Key
	})
}
