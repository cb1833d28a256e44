package cc_test

import (
	"context"
	"math/rand"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/dexplain/internal/testutils"
	"github.com/l7mp/dexplain/pkg/computation"
	"github.com/l7mp/dexplain/pkg/computation/cc"
	"github.com/l7mp/dexplain/pkg/dbsp"
	"github.com/l7mp/dexplain/pkg/provenance"
)

var (
	loglevel = -10
	logger   = testutils.NewLogger(loglevel)
)

func TestCC(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "CC")
}

func inputs(edges [][2]int64, labels [][2]int64) computation.Inputs {
	e, l := dbsp.NewDocumentZSet(), dbsp.NewDocumentZSet()
	for _, x := range edges {
		Expect(e.AddDocumentMutate(cc.EdgeRecord(x[0], x[1]), 1)).To(Succeed())
	}
	for _, x := range labels {
		Expect(l.AddDocumentMutate(cc.LabelRecord(x[0], x[1]), 1)).To(Succeed())
	}
	return computation.Inputs{cc.Edge: e, cc.Label: l}
}

func refs(pairs ...any) []provenance.Ref {
	ret := []provenance.Ref{}
	for i := 0; i < len(pairs); i += 2 {
		r, err := provenance.NewRef(pairs[i].(string), pairs[i+1].(dbsp.Document))
		Expect(err).NotTo(HaveOccurred())
		ret = append(ret, r)
	}
	return ret
}

var _ = Describe("Label propagation", func() {
	var (
		c   *cc.CC
		ctx context.Context
	)

	BeforeEach(func() {
		c = cc.New(logger)
		ctx = context.Background()
	})

	It("should compute components", func() {
		trace, err := c.Run(ctx, inputs(
			[][2]int64{{0, 1}, {1, 2}, {3, 4}},
			[][2]int64{{0, 0}, {1, 1}, {2, 2}, {3, 3}, {4, 4}}))
		Expect(err).NotTo(HaveOccurred())
		out, err := trace.Output(cc.Output)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.UniqueCount()).To(Equal(5))
		for _, l := range [][2]int64{{0, 0}, {1, 0}, {2, 0}, {3, 3}, {4, 3}} {
			ok, err := out.Contains(cc.LabelRecord(l[0], l[1]))
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
		}
		Expect(trace.Updates.Validate()).To(Succeed())
	})

	It("should keep the history of replaced labels", func() {
		trace, err := c.Run(ctx, inputs([][2]int64{{0, 1}}, [][2]int64{{0, 0}, {1, 1}}))
		Expect(err).NotTo(HaveOccurred())
		ok, err := trace.Produced(cc.Output, cc.LabelRecord(1, 1), dbsp.Top)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		n, err := trace.Updates.MultiplicityAt(cc.Output, cc.LabelRecord(1, 1), dbsp.Top)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(0))
	})

	It("should emit well-formed derivations", func() {
		trace, err := c.Run(ctx, inputs([][2]int64{{0, 1}, {1, 2}, {2, 0}}, [][2]int64{{0, 0}, {2, 0}}))
		Expect(err).NotTo(HaveOccurred())
		_, malformed, err := provenance.BuildEdges(c.Schema(), trace)
		Expect(err).NotTo(HaveOccurred())
		Expect(malformed).To(BeEmpty())
	})

	It("should explain a label by the path it travelled", func() {
		in := inputs([][2]int64{{0, 1}, {1, 2}}, [][2]int64{{0, 0}})
		q := provenance.NewQuery(cc.Output, cc.LabelRecord(2, 0))
		ex, err := computation.Explain(ctx, c, in, q)
		Expect(err).NotTo(HaveOccurred())
		Expect(ex.Vacuous).To(BeFalse())
		Expect(ex.MustSet.Refs()).To(ConsistOf(refs(
			cc.Label, cc.LabelRecord(0, 0),
			cc.Edge, cc.EdgeRecord(0, 1),
			cc.Edge, cc.EdgeRecord(1, 2))))

		ok, err := computation.Verify(ctx, c, ex.MustSet, q)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())

		restricted, err := computation.Restrict(in, ex.MustSet)
		Expect(err).NotTo(HaveOccurred())
		Expect(restricted.Get(cc.Edge).UniqueCount()).To(Equal(2))
		Expect(restricted.Get(cc.Label).UniqueCount()).To(Equal(1))
	})

	It("should exclude unrelated components", func() {
		in := inputs([][2]int64{{0, 1}, {5, 6}}, [][2]int64{{0, 0}, {5, 5}})
		ex, err := computation.Explain(ctx, c, in, provenance.NewQuery(cc.Output, cc.LabelRecord(1, 0)))
		Expect(err).NotTo(HaveOccurred())
		Expect(ex.MustSet.Refs()).To(ConsistOf(refs(cc.Label, cc.LabelRecord(0, 0), cc.Edge, cc.EdgeRecord(0, 1))))
	})

	It("should report absent labels as vacuous", func() {
		in := inputs([][2]int64{{0, 1}, {2, 3}}, [][2]int64{{0, 0}})
		ex, err := computation.Explain(ctx, c, in, provenance.NewQuery(cc.Output, cc.LabelRecord(2, 0)))
		Expect(err).NotTo(HaveOccurred())
		Expect(ex.Vacuous).To(BeTrue())
		Expect(ex.MustSet.Len()).To(Equal(0))
	})

	It("should produce sound explanations on random graphs", func() {
		rng := rand.New(rand.NewSource(11))
		for round := 0; round < 20; round++ {
			edges := testutils.RandomEdges(rng, 10, 12)
			labels := testutils.RandomLabels(rng, 10, 3, 5)
			in := inputs(edges, labels)
			trace, err := c.Run(ctx, in)
			Expect(err).NotTo(HaveOccurred())
			out, err := trace.Output(cc.Output)
			Expect(err).NotTo(HaveOccurred())

			for _, doc := range out.GetUniqueDocuments() {
				q := provenance.NewQuery(cc.Output, doc)
				ex, err := computation.Explain(ctx, c, in, q)
				Expect(err).NotTo(HaveOccurred())
				Expect(ex.Vacuous).To(BeFalse())
				ok, err := computation.Verify(ctx, c, ex.MustSet, q)
				Expect(err).NotTo(HaveOccurred())
				Expect(ok).To(BeTrue(), "unsound explanation for %v: %s", doc, ex.MustSet)

				// forcing extra inputs keeps a monotone computation's output
				forced := provenance.MustVertex(cc.Label, cc.LabelRecord(rng.Int63n(10), 9), dbsp.Zero)
				fx, err := computation.Explain(ctx, c, in, q, forced)
				Expect(err).NotTo(HaveOccurred())
				Expect(fx.MustSet.Len()).To(BeNumerically(">=", ex.MustSet.Len()))
				ok, err = computation.Verify(ctx, c, fx.MustSet, q)
				Expect(err).NotTo(HaveOccurred())
				Expect(ok).To(BeTrue())
			}
		}
	})
})
