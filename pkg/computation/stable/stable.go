// Package stable implements iterative stable matching as an instrumented computation.
//
// In every round each proposer proposes to its most preferred recipient that has not rejected
// it yet, each recipient accepts its most preferred proposal, and the other proposals become
// rejections that persist for the rest of the run. The run stops when a round produces no new
// rejection; the accepted proposals of the last round are the matching. Lower ranks are preferred.
//
// All four collections carry the same {"proposer", "proposerRank", "recipient", "recipientRank"}
// tuples. A proposal at round i requires its preference tuple and the rejections, as of round
// i-1, of every better option of the proposer. An accepted proposal requires the proposal. A
// rejection requires the rejected proposal and the proposal accepted by the same recipient.
package stable

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-logr/logr"

	"github.com/l7mp/dexplain/pkg/computation"
	"github.com/l7mp/dexplain/pkg/dbsp"
	"github.com/l7mp/dexplain/pkg/provenance"
)

const (
	// Prefs is the input collection of preference tuples.
	Prefs = "prefs"
	// Proposal is the derived collection of current proposals.
	Proposal = "proposal"
	// Match is the derived collection of accepted proposals.
	Match = "match"
	// Rejection is the derived collection of rejected proposals.
	Rejection = "rejection"
)

var _ computation.Computation = &Stable{}

// Stable is the stable matching computation.
type Stable struct {
	schema *provenance.Schema
	log    logr.Logger
}

// New creates a stable matching computation.
func New(log logr.Logger) *Stable {
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	s := provenance.NewSchema()
	for _, err := range []error{
		s.AddInput(Prefs),
		s.AddDerived(Proposal, Prefs),
		s.AddDerived(Match, Proposal),
		s.AddDerived(Rejection, Proposal, Match),
	} {
		if err != nil {
			panic(err)
		}
	}
	return &Stable{schema: s, log: log.WithName("stable")}
}

func (s *Stable) Name() string                 { return "stable" }
func (s *Stable) Schema() *provenance.Schema   { return s.schema }
func (s *Stable) Grammar() computation.Grammar { return grammar }

var fields = []string{"proposer", "proposerRank", "recipient", "recipientRank"}

var grammar = computation.Grammar{
	Inputs: []computation.Verb{{Name: "prefs", Collection: Prefs, Fields: fields}},
	Query:  computation.Verb{Name: "match", Collection: Match, Fields: fields},
}

// Pref is a preference tuple: the proposer ranks the recipient and the recipient ranks the
// proposer.
type Pref struct {
	Proposer, ProposerRank, Recipient, RecipientRank int64
}

// Record returns the document form of the tuple.
func (p Pref) Record() dbsp.Document {
	return dbsp.Document{
		"proposer":      p.Proposer,
		"proposerRank":  p.ProposerRank,
		"recipient":     p.Recipient,
		"recipientRank": p.RecipientRank,
	}
}

// PrefFromRecord parses a preference tuple.
func PrefFromRecord(doc dbsp.Document) (Pref, error) {
	vals := make([]int64, len(fields))
	for i, f := range fields {
		n, ok := dbsp.Int(doc, f)
		if !ok {
			return Pref{}, fmt.Errorf("invalid preference record %v: missing %q", doc, f)
		}
		vals[i] = n
	}
	return Pref{Proposer: vals[0], ProposerRank: vals[1], Recipient: vals[2], RecipientRank: vals[3]}, nil
}

// proposerLess orders the options of a proposer.
func proposerLess(a, b Pref) bool {
	if a.ProposerRank != b.ProposerRank {
		return a.ProposerRank < b.ProposerRank
	}
	if a.Recipient != b.Recipient {
		return a.Recipient < b.Recipient
	}
	return a.RecipientRank < b.RecipientRank
}

// recipientLess orders the proposals received by a recipient.
func recipientLess(a, b Pref) bool {
	if a.RecipientRank != b.RecipientRank {
		return a.RecipientRank < b.RecipientRank
	}
	if a.Proposer != b.Proposer {
		return a.Proposer < b.Proposer
	}
	return a.ProposerRank < b.ProposerRank
}

// Run implements computation.Computation.
func (s *Stable) Run(ctx context.Context, inputs computation.Inputs) (*computation.Trace, error) {
	options := map[int64][]Pref{}
	total := 0
	for _, doc := range inputs.Documents(Prefs) {
		p, err := PrefFromRecord(doc)
		if err != nil {
			return nil, err
		}
		options[p.Proposer] = append(options[p.Proposer], p)
		total++
	}
	proposers := make([]int64, 0, len(options))
	for a, opts := range options {
		sort.Slice(opts, func(i, j int) bool { return proposerLess(opts[i], opts[j]) })
		proposers = append(proposers, a)
	}
	sort.Slice(proposers, func(i, j int) bool { return proposers[i] < proposers[j] })

	rec := computation.NewRecorder()
	rejected := map[Pref]bool{}
	proposals := map[Pref]bool{}
	matches := map[Pref]bool{}

	for i := uint32(0); ; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if int(i) > total+1 {
			return nil, fmt.Errorf("stable: %w after %d rounds", computation.ErrIterationLimit, i)
		}
		t := dbsp.At(i)

		// proposals
		next := map[Pref]bool{}
		for _, a := range proposers {
			var better []Pref
			for _, p := range options[a] {
				if rejected[p] {
					better = append(better, p)
					continue
				}
				next[p] = true
				if !proposals[p] {
					requires := []provenance.Vertex{rec.Vertex(Prefs, p.Record(), dbsp.Zero)}
					for _, b := range better {
						requires = append(requires, rec.Vertex(Rejection, b.Record(), dbsp.At(i-1)))
					}
					rec.Emit(Proposal, p.Record(), t, 1, requires...)
				}
				break
			}
		}
		emitRetractions(rec, Proposal, proposals, next, t)
		proposals = next

		// acceptances
		best := map[int64]Pref{}
		for p := range proposals {
			if b, ok := best[p.Recipient]; !ok || recipientLess(p, b) {
				best[p.Recipient] = p
			}
		}
		accepted := map[Pref]bool{}
		for _, p := range best {
			accepted[p] = true
			if !matches[p] {
				rec.Emit(Match, p.Record(), t, 1, rec.Vertex(Proposal, p.Record(), t))
			}
		}
		emitRetractions(rec, Match, matches, accepted, t)
		matches = accepted

		// rejections
		fresh := 0
		for _, p := range sortedPrefs(proposals) {
			winner := best[p.Recipient]
			if winner == p {
				continue
			}
			rejected[p] = true
			fresh++
			rec.Emit(Rejection, p.Record(), t, 1,
				rec.Vertex(Proposal, p.Record(), t),
				rec.Vertex(Match, winner.Record(), t))
		}

		s.log.V(2).Info("round", "round", i, "proposals", len(proposals), "matches", len(matches),
			"rejections", fresh)
		if fresh == 0 {
			break
		}
	}

	return rec.Trace()
}

func emitRetractions(rec *computation.Recorder, collection string, prev, next map[Pref]bool, t dbsp.Time) {
	for _, p := range sortedPrefs(prev) {
		if !next[p] {
			rec.Emit(collection, p.Record(), t, -1)
		}
	}
}

func sortedPrefs(set map[Pref]bool) []Pref {
	ret := make([]Pref, 0, len(set))
	for p := range set {
		ret = append(ret, p)
	}
	sort.Slice(ret, func(i, j int) bool {
		if ret[i].Proposer != ret[j].Proposer {
			return ret[i].Proposer < ret[j].Proposer
		}
		return proposerLess(ret[i], ret[j])
	})
	return ret
}
