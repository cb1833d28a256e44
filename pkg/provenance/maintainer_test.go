package provenance

import (
	"context"
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/dexplain/pkg/dbsp"
)

func refsOf(vs ...Vertex) []Ref {
	ret := make([]Ref, len(vs))
	for i, v := range vs {
		ret[i] = v.Ref
	}
	sortRefs(ret)
	return ret
}

var _ = Describe("Closure", func() {
	var (
		schema *Schema
		g      *Graph
		ctx    context.Context
		inputs InputSet
		// reach(3) has two alternate derivations at time 2, both rooted in label(0)
		viaOne, viaTwo, oneEdge, twoEdge, oneLabel, twoLabel, other Edge
	)

	BeforeEach(func() {
		schema = testSchema()
		g = NewGraph(3, logger)
		ctx = context.Background()
		viaOne = NewEdge(reach(3, 2), reach(1, 1))
		oneEdge = NewEdge(reach(3, 2), edge(1, 3))
		viaTwo = NewEdge(reach(3, 2), reach(2, 1))
		twoEdge = NewEdge(reach(3, 2), edge(2, 3))
		oneLabel = NewEdge(reach(1, 1), label(0))
		twoLabel = NewEdge(reach(2, 1), label(0))
		other = NewEdge(reach(4, 1), label(4))
		_, _, err := g.Apply(ctx, ins(viaOne, oneEdge, viaTwo, twoEdge, oneLabel, twoLabel, other))
		Expect(err).NotTo(HaveOccurred())
		inputs = allInputs(edge(1, 3), edge(2, 3), label(0), label(4))
	})

	It("should follow every alternative derivation", func() {
		q := NewQuery("reach", dbsp.Document{"n": int64(3)})
		must, vacuous, err := ComputeMustSet(g, schema, inputs, q)
		Expect(err).NotTo(HaveOccurred())
		Expect(vacuous).To(BeFalse())
		Expect(must.Refs()).To(Equal(refsOf(edge(1, 3), edge(2, 3), label(0))))
	})

	It("should restrict the closure to the target time", func() {
		q := NewQuery("reach", dbsp.Document{"n": int64(3)})
		q.Target = dbsp.At(1)
		must, vacuous, err := ComputeMustSet(g, schema, inputs, q)
		Expect(err).NotTo(HaveOccurred())
		Expect(vacuous).To(BeTrue())
		Expect(must.Len()).To(Equal(0))
	})

	It("should report never produced records as vacuous", func() {
		q := NewQuery("reach", dbsp.Document{"n": int64(9)})
		must, vacuous, err := ComputeMustSet(g, schema, inputs, q)
		Expect(err).NotTo(HaveOccurred())
		Expect(vacuous).To(BeTrue())
		Expect(must.Len()).To(Equal(0))
	})

	It("should explain present input records by themselves", func() {
		q := NewQuery("label", dbsp.Document{"n": int64(0)})
		must, vacuous, err := ComputeMustSet(g, schema, inputs, q)
		Expect(err).NotTo(HaveOccurred())
		Expect(vacuous).To(BeFalse())
		Expect(must.Refs()).To(Equal(refsOf(label(0))))

		q = NewQuery("label", dbsp.Document{"n": int64(7)})
		_, vacuous, err = ComputeMustSet(g, schema, inputs, q)
		Expect(err).NotTo(HaveOccurred())
		Expect(vacuous).To(BeTrue())
	})

	It("should include forced records unconditionally", func() {
		q := NewQuery("reach", dbsp.Document{"n": int64(3)})
		must, _, err := ComputeMustSet(g, schema, inputs, q, label(4), label(8))
		Expect(err).NotTo(HaveOccurred())
		Expect(must.Refs()).To(Equal(refsOf(edge(1, 3), edge(2, 3), label(0), label(4), label(8))))
	})

	It("should not report records produced without predecessors as vacuous", func() {
		fact := NewFactEdge(reach(9, 1))
		_, _, err := g.Apply(ctx, ins(fact))
		Expect(err).NotTo(HaveOccurred())

		q := NewQuery("reach", dbsp.Document{"n": int64(9)})
		must, vacuous, err := ComputeMustSet(g, schema, inputs, q)
		Expect(err).NotTo(HaveOccurred())
		Expect(vacuous).To(BeFalse())
		Expect(must.Len()).To(Equal(0))
		root, err := q.Root()
		Expect(err).NotTo(HaveOccurred())
		Expect(Closure(g, root)).To(HaveLen(1))

		mt, err := NewMaintainer(schema, g, q, logger)
		Expect(err).NotTo(HaveOccurred())
		Expect(mt.Flush(inputs)).To(BeEmpty())
		Expect(mt.Vacuous(inputs)).To(BeFalse())

		added, removed, err := g.Apply(ctx, del(fact))
		Expect(err).NotTo(HaveOccurred())
		mt.Update(added, removed)
		Expect(mt.Flush(inputs)).To(BeEmpty())
		Expect(mt.Vacuous(inputs)).To(BeTrue())
		Expect(mt.Nodes()).To(HaveLen(1))
	})

	Context("with a maintainer", func() {
		var (
			mt *Maintainer
			q  Query
		)

		BeforeEach(func() {
			var err error
			q = NewQuery("reach", dbsp.Document{"n": int64(3)})
			mt, err = NewMaintainer(schema, g, q, logger)
			Expect(err).NotTo(HaveOccurred())
			changes := mt.Flush(inputs)
			Expect(changes).To(HaveLen(3))
			for _, c := range changes {
				Expect(c.Diff).To(Equal(1))
			}
		})

		update := func(changes []EdgeChange) []Change {
			added, removed, err := g.Apply(ctx, changes)
			Expect(err).NotTo(HaveOccurred())
			mt.Update(added, removed)
			return mt.Flush(inputs)
		}

		It("should keep a record reachable through a surviving derivation", func() {
			changes := update(del(viaOne))
			Expect(changes).To(BeEmpty())
			Expect(mt.MustSet().Refs()).To(Equal(refsOf(edge(1, 3), edge(2, 3), label(0))))
			Expect(mt.Nodes()).NotTo(HaveKey(Node{Ref: reach(1, 0).Ref, Bound: dbsp.At(1)}))
			Expect(mt.Nodes().Nodes()).To(Equal(Closure(g, Root{Node: Node{Ref: reach(3, 0).Ref, Bound: dbsp.Top}}).Nodes()))
		})

		It("should drop records whose every derivation was retracted", func() {
			changes := update(del(viaOne, oneEdge))
			Expect(changes).To(HaveLen(1))
			Expect(changes[0].Ref).To(Equal(edge(1, 3).Ref))
			Expect(changes[0].Diff).To(Equal(-1))
			Expect(mt.MustSet().Refs()).To(Equal(refsOf(edge(2, 3), label(0))))

			changes = update(del(viaTwo, twoEdge))
			Expect(changes).To(HaveLen(2))
			Expect(mt.MustSet().Len()).To(Equal(0))
			Expect(mt.Vacuous(inputs)).To(BeTrue())
		})

		It("should propagate insertions eagerly", func() {
			changes := update(ins(NewEdge(reach(2, 1), label(4))))
			Expect(changes).To(HaveLen(1))
			Expect(changes[0].Ref).To(Equal(label(4).Ref))
			Expect(changes[0].Diff).To(Equal(1))
		})

		It("should handle mixed batches", func() {
			changes := update(append(del(twoLabel), ins(NewEdge(reach(2, 1), label(4)))...))
			Expect(changes).To(HaveLen(1))
			Expect(mt.MustSet().Refs()).To(Equal(refsOf(edge(1, 3), edge(2, 3), label(0), label(4))))
		})

		It("should track input presence", func() {
			delete(inputs, edge(2, 3).Ref)
			changes := mt.Flush(inputs, edge(2, 3).Ref)
			Expect(changes).To(HaveLen(1))
			Expect(changes[0].Diff).To(Equal(-1))
		})

		It("should never shrink under forced records", func() {
			before := mt.MustSet().Len()
			Expect(mt.Force(label(8))).To(Succeed())
			changes := mt.Flush(inputs)
			Expect(changes).To(HaveLen(1))
			Expect(mt.MustSet().Len()).To(Equal(before + 1))
			Expect(mt.Forced()).To(HaveLen(1))

			// forcing a record that is already required changes nothing
			Expect(mt.Force(label(0))).To(Succeed())
			Expect(mt.Flush(inputs)).To(BeEmpty())

			mt.Unforce(label(0).Ref)
			Expect(mt.Flush(inputs)).To(BeEmpty())
			Expect(mt.MustSet().Has(label(0).Ref)).To(BeTrue())

			mt.Clear()
			changes = mt.Flush(inputs)
			Expect(changes).To(HaveLen(1))
			Expect(changes[0].Ref).To(Equal(label(8).Ref))
			Expect(changes[0].Diff).To(Equal(-1))
		})

		It("should keep forced records through retraction", func() {
			Expect(mt.Force(label(0))).To(Succeed())
			mt.Flush(inputs)
			update(del(oneLabel, twoLabel))
			Expect(mt.MustSet().Has(label(0).Ref)).To(BeTrue())
		})

		It("should refuse to force derived records", func() {
			Expect(mt.Force(reach(1, 1))).NotTo(Succeed())
		})

		It("should empty the must-set on withdrawal", func() {
			changes := mt.Withdraw()
			Expect(changes).To(HaveLen(3))
			Expect(mt.MustSet().Len()).To(Equal(0))
		})
	})
})

var _ = Describe("Maintainer", func() {
	It("should agree with the batch closure on random edit sequences", func() {
		schema := testSchema()
		g := NewGraph(4, logger)
		ctx := context.Background()
		rng := rand.New(rand.NewSource(7))

		cands := []Edge{}
		universe := []Vertex{}
		for n := 0; n < 5; n++ {
			universe = append(universe, label(n))
			for i := uint32(1); i <= 3; i++ {
				cands = append(cands, NewEdge(reach(n, i), label(n)))
				for m := 0; m < 5; m++ {
					if i > 1 {
						cands = append(cands, NewEdge(reach(n, i), reach(m, i-1)))
					}
					cands = append(cands, NewEdge(reach(n, i), edge(m, n)))
				}
			}
			for m := 0; m < 5; m++ {
				universe = append(universe, edge(m, n))
			}
		}
		inputs := allInputs(universe...)

		queries := []Query{
			NewQuery("reach", dbsp.Document{"n": int64(4)}),
			{Collection: "reach", Record: dbsp.Document{"n": int64(2)}, Target: dbsp.At(2)},
			NewQuery("label", dbsp.Document{"n": int64(1)}),
		}
		mts := make([]*Maintainer, len(queries))
		seen := make([]map[Ref]int, len(queries))
		for i, q := range queries {
			mt, err := NewMaintainer(schema, g, q, logger)
			Expect(err).NotTo(HaveOccurred())
			mts[i] = mt
			seen[i] = map[Ref]int{}
		}

		present := map[int]bool{}
		for step := 0; step < 200; step++ {
			batch := []EdgeChange{}
			picked := map[int]bool{}
			for k := rng.Intn(6) + 1; k > 0; k-- {
				idx := rng.Intn(len(cands))
				if picked[idx] {
					continue
				}
				picked[idx] = true
				if present[idx] {
					batch = append(batch, del(cands[idx])...)
				} else {
					batch = append(batch, ins(cands[idx])...)
				}
				present[idx] = !present[idx]
			}
			added, removed, err := g.Apply(ctx, batch)
			Expect(err).NotTo(HaveOccurred())

			for i, mt := range mts {
				mt.Update(added, removed)
				switch rng.Intn(10) {
				case 0:
					Expect(mt.Force(universe[rng.Intn(len(universe))])).To(Succeed())
				case 1:
					if forced := mt.Forced(); len(forced) > 0 {
						mt.Unforce(forced[rng.Intn(len(forced))].Ref)
					}
				}
				for _, c := range mt.Flush(inputs) {
					seen[i][c.Ref] += c.Diff
				}

				root, err := queries[i].Root()
				Expect(err).NotTo(HaveOccurred())
				roots := []Root{root}
				for _, v := range mt.Forced() {
					roots = append(roots, Root{Node: Node{Ref: v.Ref, Bound: v.Time}, Record: v.Record})
				}
				Expect(mt.Nodes().Nodes()).To(Equal(Closure(g, roots...).Nodes()),
					"closure mismatch at step %d for query %s", step, queries[i])

				must, vacuous, err := ComputeMustSet(g, schema, inputs, queries[i], mt.Forced()...)
				Expect(err).NotTo(HaveOccurred())
				Expect(mt.MustSet().Equal(must)).To(BeTrue(),
					"must-set mismatch at step %d: %s vs %s", step, mt.MustSet(), must)
				Expect(mt.Vacuous(inputs)).To(Equal(vacuous))

				for r, n := range seen[i] {
					if must.Has(r) {
						Expect(n).To(Equal(1))
					} else {
						Expect(n).To(Equal(0))
					}
				}
			}
		}
	})
})
