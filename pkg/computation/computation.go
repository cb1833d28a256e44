// Package computation defines the contract of instrumented dataflow computations: iterative
// programs that, next to their timed output updates, report the direct predecessors of every
// record they produce.
package computation

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/l7mp/dexplain/pkg/dbsp"
	"github.com/l7mp/dexplain/pkg/provenance"
)

// ErrIterationLimit is returned when a computation does not converge.
var ErrIterationLimit = errors.New("iteration limit reached")

// Computation is an instrumented iterative dataflow program.
type Computation interface {
	// Name returns the name of the computation.
	Name() string
	// Schema declares the input and derived collections.
	Schema() *provenance.Schema
	// Grammar returns the edit-script verbs of the computation.
	Grammar() Grammar
	// Run evaluates the computation on distinct input snapshots and returns the full update
	// history together with the derivations of every produced record.
	Run(ctx context.Context, inputs Inputs) (*Trace, error)
}

// Inputs maps input collections to their current snapshot.
type Inputs map[string]*dbsp.DocumentZSet

// Get returns the snapshot of a collection, or an empty Z-set.
func (in Inputs) Get(collection string) *dbsp.DocumentZSet {
	if z, ok := in[collection]; ok && z != nil {
		return z
	}
	return dbsp.NewDocumentZSet()
}

// Documents returns the records of a collection with positive multiplicity, in key order.
func (in Inputs) Documents(collection string) []dbsp.Document {
	return in.Get(collection).GetUniqueDocuments()
}

// Recorder collects the updates and derivations of a run.
type Recorder struct {
	updates     dbsp.UpdateStream
	derivations []provenance.Derivation
	err         error
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder { return &Recorder{} }

// Vertex builds a predecessor vertex. Errors are kept until Trace is called.
func (r *Recorder) Vertex(collection string, record dbsp.Document, t dbsp.Time) provenance.Vertex {
	v, err := provenance.NewVertex(collection, record, t)
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("invalid record in %s: %w", collection, err)
	}
	return v
}

// Emit records an output update. Positive updates are justified by the given predecessors, which
// are all required together. A positive update without predecessors is produced unconditionally.
func (r *Recorder) Emit(collection string, record dbsp.Document, t dbsp.Time, diff int, requires ...provenance.Vertex) {
	r.updates = append(r.updates, dbsp.Update{Collection: collection, Document: record, Time: t, Diff: diff})
	if diff <= 0 {
		return
	}
	r.derivations = append(r.derivations, provenance.Derivation{
		Produced: r.Vertex(collection, record, t),
		Requires: requires,
	})
}

// Derive records an alternative derivation of a record already emitted at the given time.
func (r *Recorder) Derive(collection string, record dbsp.Document, t dbsp.Time, requires ...provenance.Vertex) {
	r.derivations = append(r.derivations, provenance.Derivation{
		Produced: r.Vertex(collection, record, t),
		Requires: requires,
	})
}

// Trace finalizes the run.
func (r *Recorder) Trace() (*Trace, error) {
	if r.err != nil {
		return nil, r.err
	}
	updates, err := r.updates.Consolidate()
	if err != nil {
		return nil, err
	}
	if err := updates.Validate(); err != nil {
		return nil, err
	}
	return &Trace{Updates: updates, derivations: r.derivations}, nil
}

// Trace is the observed history of a run. It implements provenance.Explainer.
type Trace struct {
	Updates     dbsp.UpdateStream
	derivations []provenance.Derivation
}

// Derivations implements provenance.Explainer.
func (t *Trace) Derivations() []provenance.Derivation { return t.derivations }

// Output returns the final contents of a collection.
func (t *Trace) Output(collection string) (*dbsp.DocumentZSet, error) {
	return t.Updates.Snapshot(collection, dbsp.Top)
}

// Produced reports whether the record was present in the collection at some time <= target.
func (t *Trace) Produced(collection string, record dbsp.Document, target dbsp.Time) (bool, error) {
	key, err := dbsp.Key(record)
	if err != nil {
		return false, err
	}
	times := []dbsp.Time{}
	for _, u := range t.Updates {
		if u.Collection != collection || !u.Time.LessEqual(target) {
			continue
		}
		k, err := dbsp.Key(u.Document)
		if err != nil {
			return false, err
		}
		if k == key {
			times = append(times, u.Time)
		}
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Compare(times[j]) < 0 })
	for _, at := range times {
		n, err := t.Updates.MultiplicityAt(collection, record, at)
		if err != nil {
			return false, err
		}
		if n > 0 {
			return true, nil
		}
	}
	return false, nil
}
