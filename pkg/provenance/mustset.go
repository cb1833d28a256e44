package provenance

import (
	"sort"

	"github.com/l7mp/dexplain/pkg/dbsp"
)

// InputState tells whether an input record is currently present.
type InputState interface {
	Contains(r Ref) bool
}

// InputSet is a set of present input records.
type InputSet map[Ref]struct{}

// Contains implements InputState.
func (s InputSet) Contains(r Ref) bool {
	_, ok := s[r]
	return ok
}

// Change is a signed change of a must-set.
type Change struct {
	Ref
	Record dbsp.Document
	Diff   int
}

// Document returns the changed member as a {"collection", "record"} document.
func (c Change) Document() dbsp.Document {
	return dbsp.Document{"collection": c.Collection, "record": c.Record}
}

// MustSet is a set of input records sufficient to reproduce a queried record.
type MustSet struct {
	members map[Ref]dbsp.Document
}

// NewMustSet creates an empty must-set.
func NewMustSet() *MustSet {
	return &MustSet{members: map[Ref]dbsp.Document{}}
}

func (m *MustSet) insert(r Ref, record dbsp.Document) { m.members[r] = record }
func (m *MustSet) delete(r Ref)                       { delete(m.members, r) }

// Has reports whether the record is a member.
func (m *MustSet) Has(r Ref) bool {
	_, ok := m.members[r]
	return ok
}

// Contains reports whether a record of a collection is a member.
func (m *MustSet) Contains(collection string, record dbsp.Document) bool {
	r, err := NewRef(collection, record)
	if err != nil {
		return false
	}
	return m.Has(r)
}

// Len returns the number of members.
func (m *MustSet) Len() int { return len(m.members) }

// Refs returns the members ordered by collection and key.
func (m *MustSet) Refs() []Ref {
	ret := make([]Ref, 0, len(m.members))
	for r := range m.members {
		ret = append(ret, r)
	}
	sortRefs(ret)
	return ret
}

// Records returns the members of a collection in key order.
func (m *MustSet) Records(collection string) []dbsp.Document {
	ret := []dbsp.Document{}
	for _, r := range m.Refs() {
		if r.Collection == collection {
			ret = append(ret, m.members[r])
		}
	}
	return ret
}

// Inputs returns the members grouped by collection as Z-sets, the form in which a computation
// can be re-run on the must-set.
func (m *MustSet) Inputs() (map[string]*dbsp.DocumentZSet, error) {
	ret := map[string]*dbsp.DocumentZSet{}
	for r, rec := range m.members {
		z, ok := ret[r.Collection]
		if !ok {
			z = dbsp.NewDocumentZSet()
			ret[r.Collection] = z
		}
		if err := z.AddDocumentMutate(rec, 1); err != nil {
			return nil, err
		}
	}
	return ret, nil
}

// Equal reports whether two must-sets have the same members.
func (m *MustSet) Equal(o *MustSet) bool {
	if m.Len() != o.Len() {
		return false
	}
	for r := range m.members {
		if !o.Has(r) {
			return false
		}
	}
	return true
}

// String renders the members.
func (m *MustSet) String() string {
	refs := m.Refs()
	s := "{"
	for i, r := range refs {
		if i > 0 {
			s += ", "
		}
		s += r.String()
	}
	return s + "}"
}

func sortRefs(refs []Ref) {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Collection != refs[j].Collection {
			return refs[i].Collection < refs[j].Collection
		}
		return refs[i].Key < refs[j].Key
	})
}
