package computation

import (
	"fmt"

	"github.com/l7mp/dexplain/pkg/dbsp"
)

// Verb maps an edit-script verb to a collection whose records are tuples of integers.
type Verb struct {
	Name       string
	Aliases    []string
	Collection string
	Fields     []string
}

// Matches reports whether the word names the verb.
func (v Verb) Matches(word string) bool {
	if word == v.Name {
		return true
	}
	for _, a := range v.Aliases {
		if word == a {
			return true
		}
	}
	return false
}

// Record builds a record from positional integer arguments.
func (v Verb) Record(args []int64) (dbsp.Document, error) {
	if len(args) != len(v.Fields) {
		return nil, fmt.Errorf("%s expects %d arguments, got %d", v.Name, len(v.Fields), len(args))
	}
	doc := make(dbsp.Document, len(args))
	for i, f := range v.Fields {
		doc[f] = args[i]
	}
	return doc, nil
}

// Args returns the positional arguments of a record, the inverse of Record.
func (v Verb) Args(doc dbsp.Document) ([]int64, error) {
	ret := make([]int64, len(v.Fields))
	for i, f := range v.Fields {
		n, ok := dbsp.Int(doc, f)
		if !ok {
			return nil, fmt.Errorf("record %v: missing integer field %q", doc, f)
		}
		ret[i] = n
	}
	return ret, nil
}

// Grammar lists the input verbs of a computation and the verb that names queried records.
type Grammar struct {
	Inputs []Verb
	Query  Verb
}

// Lookup finds an input verb.
func (g Grammar) Lookup(word string) (Verb, bool) {
	for _, v := range g.Inputs {
		if v.Matches(word) {
			return v, true
		}
	}
	return Verb{}, false
}

// ByCollection finds the verb of a collection, including the query verb.
func (g Grammar) ByCollection(collection string) (Verb, bool) {
	for _, v := range append(append([]Verb{}, g.Inputs...), g.Query) {
		if v.Collection == collection {
			return v, true
		}
	}
	return Verb{}, false
}
