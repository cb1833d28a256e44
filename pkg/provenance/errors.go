package provenance

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedEdge is returned for derivation edges that violate the time or schema rules.
	ErrMalformedEdge = errors.New("malformed derivation edge")
	// ErrUnknownEdge is returned when retracting an edge that is not in the graph.
	ErrUnknownEdge = errors.New("unknown derivation edge")
	// ErrUnknownQuery is returned for operations on a query that is not active.
	ErrUnknownQuery = errors.New("unknown query")
	// ErrUnknownCollection is returned for collections missing from the schema.
	ErrUnknownCollection = errors.New("unknown collection")
)

// ErrMalformed wraps ErrMalformedEdge.
type ErrMalformed = error

// NewMalformedEdgeError reports a rejected edge.
func NewMalformedEdgeError(e Edge, reason string) ErrMalformed {
	return fmt.Errorf("%w %s: %s", ErrMalformedEdge, e, reason)
}

// NewUnknownEdgeError reports the retraction of an edge that is not present.
func NewUnknownEdgeError(e Edge) error {
	return fmt.Errorf("%w: %s", ErrUnknownEdge, e)
}

// NewUnknownQueryError reports an inactive query.
func NewUnknownQueryError(key string) error {
	return fmt.Errorf("%w: %s", ErrUnknownQuery, key)
}
