// Package provenance computes and incrementally maintains explanations of the outputs of
// iterative dataflow computations.
//
// An instrumented computation reports, for every output update, the direct predecessor records
// that justified it (a Derivation). BuildEdges turns these into derivation edges, validated
// against the collection Schema, and the sharded Graph indexes the edges forward by produced
// record and time, and backward by required record.
//
// The explanation of a Query is the backward least fixpoint over the graph (Closure): starting
// from the queried record, follow every edge that produced a record at a time up to the bound of
// the requirement, across the full history of the record. The input records reached this way
// that are present in the current input form the must-set: re-running the computation on exactly
// these records reproduces the queried record. The must-set is sufficient but not minimal, since
// every alternative derivation is followed.
//
// A Maintainer keeps one query's closure and must-set up to date as edges are inserted and
// retracted, and lets callers force input records into the must-set. Forcing records does not
// re-check that the computation would still produce the same outputs with them present, so a
// forced record that changes the result of the computation is not detected.
package provenance
