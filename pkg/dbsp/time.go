package dbsp

import (
	"fmt"
	"math"
)

// Time is a logical timestamp for nested iteration: Outer counts the rounds of an enclosing loop and
// Inner the iterations of the innermost loop. Times are ordered by the product partial order, so
// two times may be incomparable.
type Time struct {
	Outer uint32 `json:"outer"`
	Inner uint32 `json:"inner"`
}

var (
	// Zero is the least time. Input records live at Zero.
	Zero = Time{}
	// Top is the greatest time, used as the default query target.
	Top = Time{Outer: math.MaxUint32, Inner: math.MaxUint32}
)

// At returns the time of the given inner iteration in the first outer round.
func At(inner uint32) Time { return Time{Inner: inner} }

// LessEqual is the partial order on times.
func (t Time) LessEqual(o Time) bool {
	return t.Outer <= o.Outer && t.Inner <= o.Inner
}

// Join returns the least upper bound of two times.
func (t Time) Join(o Time) Time {
	return Time{Outer: max(t.Outer, o.Outer), Inner: max(t.Inner, o.Inner)}
}

// Compare is a total lexicographic order that extends the partial order. It is used for ordering
// indexes only: Compare(t, o) < 0 does not imply t <= o.
func (t Time) Compare(o Time) int {
	switch {
	case t.Outer < o.Outer:
		return -1
	case t.Outer > o.Outer:
		return 1
	case t.Inner < o.Inner:
		return -1
	case t.Inner > o.Inner:
		return 1
	default:
		return 0
	}
}

// String renders a time as (outer,inner), with Top shown as ⊤.
func (t Time) String() string {
	if t == Top {
		return "⊤"
	}
	return fmt.Sprintf("(%d,%d)", t.Outer, t.Inner)
}
