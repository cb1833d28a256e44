package dbsp

import (
	"fmt"
	"sort"
)

// Update is a timed change to a collection: Diff copies of Document are added to (or removed from,
// if negative) Collection at Time.
type Update struct {
	Collection string
	Document   Document
	Time       Time
	Diff       int
}

// String renders an update for logging.
func (u Update) String() string {
	key, err := Key(u.Document)
	if err != nil {
		key = fmt.Sprintf("%v", u.Document)
	}
	return fmt.Sprintf("%s%s@%s%+d", u.Collection, key, u.Time, u.Diff)
}

// UpdateStream is a sequence of timed updates. The multiplicity of a record at time t is the sum
// of the diffs of all its updates at times <= t.
type UpdateStream []Update

// MultiplicityAt returns the multiplicity of a record at the given time.
func (s UpdateStream) MultiplicityAt(collection string, doc Document, t Time) (int, error) {
	key, err := Key(doc)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, u := range s {
		if u.Collection != collection || !u.Time.LessEqual(t) {
			continue
		}
		k, err := Key(u.Document)
		if err != nil {
			return 0, err
		}
		if k == key {
			n += u.Diff
		}
	}
	return n, nil
}

// Snapshot accumulates the updates of a collection at times <= t into a Z-set.
func (s UpdateStream) Snapshot(collection string, t Time) (*DocumentZSet, error) {
	ret := NewDocumentZSet()
	for _, u := range s {
		if u.Collection != collection || !u.Time.LessEqual(t) {
			continue
		}
		if err := ret.AddDocumentMutate(u.Document, u.Diff); err != nil {
			return nil, err
		}
	}
	return ret, nil
}

// Consolidate merges updates to the same record at the same time, drops zero diffs, and orders
// the result by time, collection and record.
func (s UpdateStream) Consolidate() (UpdateStream, error) {
	type slot struct {
		update Update
		key    string
	}
	slots := map[string]*slot{}
	for _, u := range s {
		key, err := Key(u.Document)
		if err != nil {
			return nil, err
		}
		id := fmt.Sprintf("%s/%s/%d/%d", u.Collection, key, u.Time.Outer, u.Time.Inner)
		if sl, ok := slots[id]; ok {
			sl.update.Diff += u.Diff
			continue
		}
		slots[id] = &slot{update: u, key: key}
	}

	ret := make([]*slot, 0, len(slots))
	for _, sl := range slots {
		if sl.update.Diff != 0 {
			ret = append(ret, sl)
		}
	}
	sort.Slice(ret, func(i, j int) bool {
		a, b := ret[i], ret[j]
		if c := a.update.Time.Compare(b.update.Time); c != 0 {
			return c < 0
		}
		if a.update.Collection != b.update.Collection {
			return a.update.Collection < b.update.Collection
		}
		return a.key < b.key
	})

	out := make(UpdateStream, len(ret))
	for i, sl := range ret {
		out[i] = sl.update
	}
	return out, nil
}

// Validate checks that no record ends up with a negative multiplicity once all updates are
// accumulated. Transient negative multiplicities at intermediate times are allowed.
func (s UpdateStream) Validate() error {
	totals := map[string]int{}
	for _, u := range s {
		key, err := Key(u.Document)
		if err != nil {
			return err
		}
		totals[u.Collection+"/"+key] += u.Diff
	}
	for id, n := range totals {
		if n < 0 {
			return fmt.Errorf("record %s has negative multiplicity %d", id, n)
		}
	}
	return nil
}
