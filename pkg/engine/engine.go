// Package engine drives an instrumented computation over a sequence of epochs and maintains the
// must-sets of the registered queries.
//
// Each epoch is processed in three phases separated by barriers. First the computation is re-run
// on the updated inputs and the resulting change of the derivation graph is applied by per-shard
// workers. Then the queries, partitioned across the workers by the hash of their key, propagate the
// graph change into their closures and recompute their must-sets. Finally the per-query must-set
// changes are merged in query key order into a single output Z-set.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/l7mp/dexplain/pkg/computation"
	"github.com/l7mp/dexplain/pkg/dbsp"
	"github.com/l7mp/dexplain/pkg/provenance"
)

const (
	// QueryCollection is the reserved collection of queries.
	QueryCollection = "query"
	// MandatoryCollection is the reserved collection of forced input records.
	MandatoryCollection = "mandatory"
)

var (
	// ErrNegativeMultiplicity is returned for an epoch that would leave an input record with a
	// negative multiplicity.
	ErrNegativeMultiplicity = errors.New("negative multiplicity")
	// ErrEpochOrder is returned when epochs do not strictly increase.
	ErrEpochOrder = errors.New("epochs must strictly increase")
	// ErrDerivedCollection is returned for an edit to a collection the computation produces.
	ErrDerivedCollection = errors.New("derived collections cannot be edited")
)

// Edit is a signed change of a record in an input collection or in one of the reserved
// collections.
type Edit struct {
	Collection string
	Record     dbsp.Document
	Diff       int
}

// Options configure an engine.
type Options struct {
	// Workers is the number of query workers. Default is 1.
	Workers int
	// Shards is the number of derivation graph shards. Default is 1.
	Shards int
	// CorrectionRounds bounds the re-runs of the computation on the must-set of each query per
	// epoch. Zero disables the correction loop.
	CorrectionRounds int
	// DisableMetrics turns off metric collection.
	DisableMetrics bool
	// Logger is the engine logger.
	Logger logr.Logger
}

// Result is the outcome of an epoch.
type Result struct {
	Epoch uint64
	// Changes holds the must-set changes of the epoch as {"query", "collection", "record"}
	// documents with multiplicity +1 or -1.
	Changes *dbsp.DocumentZSet
	// Vacuous lists the active queries whose record was never produced.
	Vacuous []provenance.Query
	// Malformed holds the derivation edges rejected in this epoch.
	Malformed []error
	// Queries reports the active queries and the queries withdrawn in this epoch.
	Queries []QueryStatus
}

// Engine maintains the derivation graph of a computation and the must-sets of its queries.
type Engine struct {
	comp   computation.Computation
	schema *provenance.Schema
	opts   Options

	inputs   map[string]*dbsp.IntegratorOp
	edges    *dbsp.Chain
	graph    *provenance.Graph
	queries  map[string]*query
	mustsets *dbsp.IntegratorOp

	epoch   uint64
	started bool
	mu      sync.Mutex
	log     logr.Logger
}

// New creates an engine for a computation.
func New(c computation.Computation, opts Options) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Shards <= 0 {
		opts.Shards = 1
	}
	if opts.Logger.GetSink() == nil {
		opts.Logger = logr.Discard()
	}
	log := opts.Logger.WithName("engine")

	inputs := map[string]*dbsp.IntegratorOp{}
	for _, coll := range c.Schema().Inputs() {
		inputs[coll] = dbsp.NewIntegrator()
	}

	return &Engine{
		comp:     c,
		schema:   c.Schema(),
		opts:     opts,
		inputs:   inputs,
		edges:    dbsp.NewChain("edges", dbsp.NewDistinct(), dbsp.NewDifferentiator()),
		graph:    provenance.NewGraph(opts.Shards, log.WithName("graph")),
		queries:  map[string]*query{},
		mustsets: dbsp.NewIntegrator(),
		log:      log,
	}
}

// Computation returns the computation driven by the engine.
func (e *Engine) Computation() computation.Computation { return e.comp }

// Graph returns the derivation graph. It must not be modified and it may only be read between
// epochs.
func (e *Engine) Graph() *provenance.Graph { return e.graph }

// Epoch returns the last processed epoch.
func (e *Engine) Epoch() (uint64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.epoch, e.started
}

// Inputs returns a copy of the current input snapshots.
func (e *Engine) Inputs() computation.Inputs {
	e.mu.Lock()
	defer e.mu.Unlock()
	ret := computation.Inputs{}
	for coll, i := range e.inputs {
		ret[coll] = i.State().ShallowCopy()
	}
	return ret
}

// Query returns the status of a query.
func (e *Engine) Query(q provenance.Query) (QueryStatus, error) {
	key, err := q.Key()
	if err != nil {
		return QueryStatus{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.queries[key]
	if !ok {
		return QueryStatus{Query: q, Key: key, State: Unissued}, nil
	}
	ret := s.status(false)
	if s.maintainer != nil {
		ret.Vacuous = s.maintainer.Vacuous(e.state())
	} else {
		ret.Query = q
	}
	return ret, nil
}

// MustSet returns the integrated must-set of an active query as a Z-set of {"collection",
// "record"} documents.
func (e *Engine) MustSet(q provenance.Query) (*dbsp.DocumentZSet, error) {
	key, err := q.Key()
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.queries[key]; !ok || s.state != Active {
		return nil, provenance.NewUnknownQueryError(key)
	}
	ret := dbsp.NewDocumentZSet()
	for _, entry := range e.mustsets.State().List() {
		if entry.Document["query"] != key {
			continue
		}
		doc := dbsp.Document{"collection": entry.Document["collection"], "record": entry.Document["record"]}
		if err := ret.AddDocumentMutate(doc, entry.Multiplicity); err != nil {
			return nil, err
		}
	}
	return ret, nil
}

// Explanation returns the closure and the must-set of an active query.
func (e *Engine) Explanation(q provenance.Query) (*computation.Explanation, error) {
	key, err := q.Key()
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.queries[key]
	if !ok || s.state != Active {
		return nil, provenance.NewUnknownQueryError(key)
	}
	return &computation.Explanation{
		Query:   q,
		MustSet: s.maintainer.MustSet(),
		Vacuous: s.maintainer.Vacuous(e.state()),
		Graph:   e.graph,
		Closure: s.maintainer.Nodes(),
	}, nil
}

// Step processes the edits of an epoch. An epoch is either applied in full or rejected with an
// error, in which case the engine state is unchanged. The context is observed until the derivation
// graph is updated; after that the epoch runs to completion.
func (e *Engine) Step(ctx context.Context, epoch uint64, edits []Edit) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx, span := tracer.Start(ctx, "engine.Step", trace.WithAttributes(
		attribute.Int64("epoch", int64(epoch)),
		attribute.Int("edits", len(edits)),
	))
	defer span.End()

	start := time.Now()
	res, err := e.step(ctx, epoch, edits)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.countError(err)
		e.log.V(1).Info("epoch rejected", "epoch", epoch, "error", err.Error())
		return nil, err
	}

	if !e.opts.DisableMetrics {
		epochsTotal.Inc()
		stepDuration.WithLabelValues("total").Observe(time.Since(start).Seconds())
	}
	span.SetAttributes(attribute.Int("changes", len(res.Changes.Keys())),
		attribute.Int("queries", len(res.Queries)))
	e.log.V(1).Info("epoch processed", "epoch", epoch, "changes", len(res.Changes.Keys()),
		"vacuous", len(res.Vacuous), "malformed", len(res.Malformed))
	return res, nil
}

// batch is the validated content of an epoch.
type batch struct {
	deltas    map[string]*dbsp.DocumentZSet
	next      map[string]*dbsp.DocumentZSet
	changed   []provenance.Ref
	issue     []provenance.Query
	withdraw  []string
	mandatory map[string][]*mandatory
}

func (e *Engine) step(ctx context.Context, epoch uint64, edits []Edit) (*Result, error) {
	if e.started && epoch <= e.epoch {
		return nil, fmt.Errorf("epoch %d after %d: %w", epoch, e.epoch, ErrEpochOrder)
	}

	b, err := e.collect(edits)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// phase 1: derivation graph
	t := time.Now()
	inserted, retracted, malformed, err := e.updateGraph(ctx, b)
	if err != nil {
		return nil, err
	}
	// the graph is committed, the rest of the epoch runs to completion
	ctx = context.WithoutCancel(ctx)
	e.observe("graph", t)
	for coll, delta := range b.deltas {
		if _, err := e.inputs[coll].Process(delta); err != nil {
			return nil, err
		}
	}

	// phase 2: queries
	t = time.Now()
	changes, withdrawn, err := e.updateQueries(ctx, b, inserted, retracted)
	if err != nil {
		return nil, err
	}
	e.observe("queries", t)

	// phase 3: output
	t = time.Now()
	if _, err := e.mustsets.Process(changes); err != nil {
		return nil, err
	}

	res := &Result{Epoch: epoch, Changes: changes, Malformed: malformed, Queries: withdrawn}
	state := e.state()
	keys := make([]string, 0, len(e.queries))
	for key, s := range e.queries {
		if s.state == Active {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		s := e.queries[key]
		vacuous := s.maintainer.Vacuous(state)
		if vacuous {
			res.Vacuous = append(res.Vacuous, s.maintainer.Query())
		}
		res.Queries = append(res.Queries, s.status(vacuous))
		if !e.opts.DisableMetrics {
			closureSize.Observe(float64(len(s.maintainer.Nodes())))
		}
	}
	sort.SliceStable(res.Queries, func(i, j int) bool { return res.Queries[i].Key < res.Queries[j].Key })
	e.observe("output", t)

	if !e.opts.DisableMetrics {
		edgeDeltas.WithLabelValues("insert").Add(float64(len(inserted)))
		edgeDeltas.WithLabelValues("retract").Add(float64(len(retracted)))
		malformedEdges.Add(float64(len(malformed)))
		activeQueries.Set(float64(len(keys)))
	}

	e.epoch, e.started = epoch, true
	return res, nil
}

// collect sorts the edits by collection and validates them against the current state.
func (e *Engine) collect(edits []Edit) (*batch, error) {
	b := &batch{
		deltas:    map[string]*dbsp.DocumentZSet{},
		next:      map[string]*dbsp.DocumentZSet{},
		mandatory: map[string][]*mandatory{},
	}
	queries := map[string]provenance.Query{}
	queryDiffs := map[string]int{}
	forced := map[string]*mandatory{}

	errs := []error{}
	for _, ed := range edits {
		if ed.Diff == 0 {
			continue
		}
		switch {
		case ed.Collection == QueryCollection:
			q, key, err := parseQuery(ed.Record)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if !e.schema.Has(q.Collection) {
				errs = append(errs, fmt.Errorf("query %s: %w %q", q, provenance.ErrUnknownCollection, q.Collection))
				continue
			}
			queries[key] = q
			queryDiffs[key] += ed.Diff

		case ed.Collection == MandatoryCollection:
			m, err := parseMandatory(ed.Record, ed.Diff)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if !e.schema.IsInput(m.vertex.Collection) {
				errs = append(errs, fmt.Errorf("cannot force record %s: %q is not an input collection",
					m.vertex, m.vertex.Collection))
				continue
			}
			id := m.key + "/" + m.vertex.Ref.String()
			if prev, ok := forced[id]; ok {
				prev.diff += m.diff
				continue
			}
			forced[id] = m

		case e.schema.IsInput(ed.Collection):
			delta, ok := b.deltas[ed.Collection]
			if !ok {
				delta = dbsp.NewDocumentZSet()
				b.deltas[ed.Collection] = delta
			}
			if err := delta.AddDocumentMutate(ed.Record, ed.Diff); err != nil {
				errs = append(errs, err)
			}

		case e.schema.Has(ed.Collection):
			errs = append(errs, fmt.Errorf("%w: %q", ErrDerivedCollection, ed.Collection))

		default:
			errs = append(errs, fmt.Errorf("edit: %w %q", provenance.ErrUnknownCollection, ed.Collection))
		}
	}

	// inputs
	for coll, delta := range b.deltas {
		cur := e.inputs[coll].State()
		next := e.inputs[coll].Peek(delta)
		if next.HasNegative() {
			errs = append(errs, fmt.Errorf("collection %q: %w", coll, ErrNegativeMultiplicity))
			continue
		}
		b.next[coll] = next
		for _, key := range delta.Keys() {
			if cur.ContainsKey(key) != next.ContainsKey(key) {
				b.changed = append(b.changed, provenance.Ref{Collection: coll, Key: key})
			}
		}
	}

	// queries
	active := map[string]bool{}
	for key, s := range e.queries {
		active[key] = s.state == Active
	}
	keys := make([]string, 0, len(queryDiffs))
	for key := range queryDiffs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		switch diff := queryDiffs[key]; {
		case diff > 0 && !active[key]:
			b.issue = append(b.issue, queries[key])
			active[key] = true
		case diff > 0:
			e.log.V(1).Info("query already active", "query", queries[key].String())
		case diff < 0 && active[key]:
			b.withdraw = append(b.withdraw, key)
			active[key] = false
		case diff < 0:
			errs = append(errs, provenance.NewUnknownQueryError(key))
		}
	}

	// mandatory inputs
	ids := make([]string, 0, len(forced))
	for id := range forced {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		m := forced[id]
		if m.diff == 0 {
			continue
		}
		if !active[m.key] {
			errs = append(errs, fmt.Errorf("mandatory record %s: %w", m.vertex,
				provenance.NewUnknownQueryError(m.key)))
			continue
		}
		b.mandatory[m.key] = append(b.mandatory[m.key], m)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return b, nil
}

// updateGraph re-runs the computation on the next input snapshots and applies the change of the
// derivation edges to the graph.
func (e *Engine) updateGraph(ctx context.Context, b *batch) ([]*provenance.Edge, []*provenance.Edge, []error, error) {
	ctx, span := tracer.Start(ctx, "engine.graph")
	defer span.End()

	inputs := computation.Inputs{}
	for coll, i := range e.inputs {
		inputs[coll] = i.State()
		if next, ok := b.next[coll]; ok {
			inputs[coll] = next
		}
	}

	tr, err := e.comp.Run(ctx, inputs)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%s: %w", e.comp.Name(), err)
	}
	edges, malformed, err := provenance.BuildEdges(e.schema, tr)
	if err != nil {
		return nil, nil, nil, err
	}
	for _, err := range malformed {
		e.log.V(1).Info("dropping malformed derivation", "error", err.Error())
	}

	delta, err := e.edges.Peek(edges)
	if err != nil {
		return nil, nil, nil, err
	}
	changes, err := provenance.EdgeChanges(delta)
	if err != nil {
		return nil, nil, nil, err
	}
	// last cancellation point: Apply is atomic and nothing is committed before it
	inserted, retracted, err := e.graph.Apply(ctx, changes)
	if err != nil {
		return nil, nil, nil, err
	}
	if _, err := e.edges.Process(edges); err != nil {
		return nil, nil, nil, err
	}

	span.SetAttributes(attribute.Int("inserted", len(inserted)), attribute.Int("retracted", len(retracted)),
		attribute.Int("malformed", len(malformed)))
	return inserted, retracted, malformed, nil
}

type queryResult struct {
	key     string
	changes []provenance.Change
}

// updateQueries runs the query phase and returns the merged must-set changes together with the
// status of the withdrawn queries.
func (e *Engine) updateQueries(ctx context.Context, b *batch, inserted, retracted []*provenance.Edge) (*dbsp.DocumentZSet, []QueryStatus, error) {
	ctx, span := tracer.Start(ctx, "engine.queries")
	defer span.End()

	results := []queryResult{}
	withdrawn := []QueryStatus{}
	for _, key := range b.withdraw {
		s := e.queries[key]
		q := s.maintainer.Query()
		results = append(results, queryResult{key: key, changes: s.withdraw()})
		st := s.status(false)
		st.Query = q
		withdrawn = append(withdrawn, st)
		e.log.V(1).Info("query withdrawn", "query", q.String(), "instance", s.instance)
	}

	fresh := map[string]bool{}
	for _, q := range b.issue {
		key, _ := q.Key()
		s, ok := e.queries[key]
		if !ok {
			s = &query{key: key, worker: provenance.ShardOf(key, e.opts.Workers)}
			e.queries[key] = s
		}
		var view provenance.View = e.graph
		var overlay *provenance.Graph
		if e.opts.CorrectionRounds > 0 {
			overlay = provenance.NewGraph(1, e.log.WithName("overlay"))
			view = provenance.Layered{e.graph, overlay}
		}
		m, err := provenance.NewMaintainer(e.schema, view, q, e.log)
		if err != nil {
			return nil, nil, err
		}
		s.activate(m, overlay)
		fresh[key] = true
		e.log.V(1).Info("query issued", "query", q.String(), "instance", s.instance)
	}

	workers := make([][]*query, e.opts.Workers)
	for _, s := range e.queries {
		if s.state == Active {
			workers[s.worker] = append(workers[s.worker], s)
		}
	}

	state := e.stateWith(b.next)
	parts := make([][]queryResult, e.opts.Workers)
	var eg errgroup.Group
	for w := range workers {
		qs := workers[w]
		if len(qs) == 0 {
			continue
		}
		sort.Slice(qs, func(i, j int) bool { return qs[i].key < qs[j].key })
		eg.Go(func() error {
			for _, s := range qs {
				changes, err := e.updateQuery(ctx, s, fresh[s.key], b, inserted, retracted, state)
				if err != nil {
					return err
				}
				parts[w] = append(parts[w], queryResult{key: s.key, changes: changes})
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, nil, err
	}

	for _, p := range parts {
		results = append(results, p...)
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].key < results[j].key })

	ret := dbsp.NewDocumentZSet()
	for _, r := range results {
		for _, c := range r.changes {
			doc := dbsp.Document{"query": r.key, "collection": c.Collection, "record": c.Record}
			if err := ret.AddDocumentMutate(doc, c.Diff); err != nil {
				return nil, nil, err
			}
		}
	}

	span.SetAttributes(attribute.Int("changes", len(ret.Keys())))
	return ret, withdrawn, nil
}

// updateQuery runs on the worker owning the query.
func (e *Engine) updateQuery(ctx context.Context, s *query, fresh bool, b *batch, inserted, retracted []*provenance.Edge, state provenance.InputState) ([]provenance.Change, error) {
	m := s.maintainer
	if !fresh {
		m.Update(inserted, retracted)
	}

	unforce := []provenance.Ref{}
	force := []provenance.Vertex{}
	for _, f := range b.mandatory[s.key] {
		if f.diff > 0 {
			force = append(force, f.vertex)
		} else {
			unforce = append(unforce, f.vertex.Ref)
		}
	}
	m.Unforce(unforce...)
	if err := m.Force(force...); err != nil {
		return nil, err
	}

	changes := m.Flush(state, b.changed...)
	if s.overlay == nil {
		return changes, nil
	}

	more, err := e.correct(ctx, s, state)
	if err != nil {
		return nil, err
	}
	return append(changes, more...), nil
}

// correct re-runs the computation on the must-set of the query and closes the query over the
// derivations of these working runs until the must-set stops growing. The overlay graph holds the
// working-run derivations of the current epoch only.
func (e *Engine) correct(ctx context.Context, s *query, state provenance.InputState) ([]provenance.Change, error) {
	m := s.maintainer
	target := dbsp.NewDocumentZSet()
	ret := []provenance.Change{}
	for round := 0; round < e.opts.CorrectionRounds; round++ {
		restricted, err := m.MustSet().Inputs()
		if err != nil {
			return nil, err
		}
		tr, err := e.comp.Run(ctx, computation.Inputs(restricted))
		failed := err != nil
		if failed {
			// the must-set need not be a valid input on its own, the overlay keeps the edges of
			// the rounds run so far in this epoch
			e.log.V(1).Info("working run failed", "query", m.Query().String(), "error", err.Error())
		} else {
			edges, _, err := provenance.BuildEdges(e.schema, tr)
			if err != nil {
				return nil, err
			}
			target = target.Add(edges).Distinct()
		}
		changes, err := provenance.EdgeChanges(target.Subtract(s.overlaid))
		if err != nil {
			return nil, err
		}
		inserted, retracted, err := s.overlay.Apply(ctx, changes)
		if err != nil {
			return nil, err
		}
		s.overlaid = target
		m.Update(inserted, retracted)

		flushed := m.Flush(state)
		ret = append(ret, flushed...)
		grew := false
		for _, c := range flushed {
			if c.Diff > 0 {
				grew = true
			}
		}
		e.log.V(2).Info("correction round", "query", m.Query().String(), "round", round,
			"changes", len(flushed))
		if failed || !grew {
			break
		}
	}
	return ret, nil
}

// snapshotState answers input presence from input snapshots.
type snapshotState map[string]*dbsp.DocumentZSet

func (s snapshotState) Contains(r provenance.Ref) bool {
	z, ok := s[r.Collection]
	return ok && z.ContainsKey(r.Key)
}

func (e *Engine) state() snapshotState { return e.stateWith(nil) }

func (e *Engine) stateWith(next map[string]*dbsp.DocumentZSet) snapshotState {
	ret := snapshotState{}
	for coll, i := range e.inputs {
		ret[coll] = i.State()
		if z, ok := next[coll]; ok {
			ret[coll] = z
		}
	}
	return ret
}

func (e *Engine) observe(phase string, since time.Time) {
	if !e.opts.DisableMetrics {
		stepDuration.WithLabelValues(phase).Observe(time.Since(since).Seconds())
	}
}

func (e *Engine) countError(err error) {
	if e.opts.DisableMetrics {
		return
	}
	reason := "other"
	switch {
	case errors.Is(err, ErrEpochOrder):
		reason = "epoch_order"
	case errors.Is(err, ErrNegativeMultiplicity):
		reason = "negative_multiplicity"
	case errors.Is(err, provenance.ErrUnknownQuery):
		reason = "unknown_query"
	case errors.Is(err, provenance.ErrUnknownCollection):
		reason = "unknown_collection"
	case errors.Is(err, computation.ErrIterationLimit):
		reason = "iteration_limit"
	}
	stepErrors.WithLabelValues(reason).Inc()
}
