// Package dbsp implements the data model shared by the explanation engine: Z-sets of documents
// (multisets with integer multiplicities), logical times for nested iteration, timed update
// streams, and the handful of DBSP operators (integration, differentiation, distinct, semijoin)
// needed to move between snapshots and deltas. See
// https://mihaibudiu.github.io/work/dbsp-spec.pdf for the theory.
//
// Records are unstructured documents identified by their canonical JSON form. Collections evolve
// only through signed-multiplicity updates: the multiplicity of a record at time t is the sum of
// the diffs of all its updates at times <= t in the partial order on Time.
//
// Key components:
//   - DocumentZSet: Z-set of documents with Add/Subtract/Distinct.
//   - Time: product-ordered (outer, inner) timestamps; Top is the greatest time.
//   - Update/UpdateStream: timed changes with consolidation and snapshots.
//   - IntegratorOp/DifferentiatorOp: the I and D operators turning deltas into snapshots and back.
//
// Example usage:
//
//	zset := dbsp.NewDocumentZSet()
//	zset.AddDocumentMutate(doc, 1) // Insert with multiplicity 1
//	d := dbsp.NewDifferentiator()
//	delta, err := d.Process(zset)
package dbsp
