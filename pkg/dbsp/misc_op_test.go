package dbsp

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Operators", func() {
	var a, b, c Document

	BeforeEach(func() {
		a = Document{"src": int64(0), "dst": int64(1)}
		b = Document{"src": int64(1), "dst": int64(2)}
		c = Document{"src": int64(2), "dst": int64(3)}
	})

	mk := func(docs ...Document) *DocumentZSet {
		z, err := FromDocuments(docs)
		Expect(err).NotTo(HaveOccurred())
		return z
	}

	neg := func(docs ...Document) *DocumentZSet {
		return NewDocumentZSet().Subtract(mk(docs...))
	}

	It("should integrate deltas into snapshots", func() {
		i := NewIntegrator()
		s, err := i.Process(mk(a, b))
		Expect(err).NotTo(HaveOccurred())
		Expect(s.UniqueCount()).To(Equal(2))

		peek := i.Peek(mk(c))
		Expect(peek.UniqueCount()).To(Equal(3))
		Expect(i.State().UniqueCount()).To(Equal(2))

		s, err = i.Process(neg(a))
		Expect(err).NotTo(HaveOccurred())
		Expect(s.UniqueCount()).To(Equal(1))
		Expect(s.ContainsKey(MustKey(b))).To(BeTrue())

		i.Reset()
		Expect(i.State().IsZero()).To(BeTrue())
	})

	It("should differentiate snapshots into deltas", func() {
		d := NewDifferentiator()
		delta, err := d.Process(mk(a, b))
		Expect(err).NotTo(HaveOccurred())
		Expect(delta.Size()).To(Equal(2))

		delta, err = d.Process(mk(b, c))
		Expect(err).NotTo(HaveOccurred())
		Expect(delta.MultiplicityOfKey(MustKey(a))).To(Equal(-1))
		Expect(delta.MultiplicityOfKey(MustKey(b))).To(Equal(0))
		Expect(delta.MultiplicityOfKey(MustKey(c))).To(Equal(1))
	})

	It("should invert integration with differentiation", func() {
		chain := NewChain("I→D", NewIntegrator(), NewDifferentiator())
		Expect(chain.OpType()).To(Equal(OpTypeLinear))
		for _, in := range []*DocumentZSet{mk(a), mk(b, c), neg(a)} {
			out, err := chain.Process(in)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Subtract(in).IsZero()).To(BeTrue())
		}
	})

	It("should compute distinct deltas of multiset snapshots", func() {
		chain := NewChain("distinct→D", NewDistinct(), NewDifferentiator())
		Expect(chain.OpType()).To(Equal(OpTypeNonLinear))

		snap := mk(a, a, b)
		delta, err := chain.Process(snap)
		Expect(err).NotTo(HaveOccurred())
		Expect(delta.MultiplicityOfKey(MustKey(a))).To(Equal(1))

		delta, err = chain.Process(mk(a, b))
		Expect(err).NotTo(HaveOccurred())
		Expect(delta.IsZero()).To(BeTrue())

		chain.Reset()
		delta, err = chain.Process(mk(a))
		Expect(err).NotTo(HaveOccurred())
		Expect(delta.Size()).To(Equal(1))
	})

	It("should peek without committing", func() {
		chain := NewChain("distinct→D", NewDistinct(), NewDifferentiator())
		_, err := chain.Process(mk(a, b))
		Expect(err).NotTo(HaveOccurred())

		delta, err := chain.Peek(mk(b, c, c))
		Expect(err).NotTo(HaveOccurred())
		Expect(delta.MultiplicityOfKey(MustKey(a))).To(Equal(-1))
		Expect(delta.MultiplicityOfKey(MustKey(c))).To(Equal(1))

		// the previous snapshot is still {a, b}
		delta, err = chain.Process(mk(a, b))
		Expect(err).NotTo(HaveOccurred())
		Expect(delta.IsZero()).To(BeTrue())
	})

	It("should semijoin", func() {
		sj := NewSemijoin()
		out, err := sj.Process(mk(a, b, c), mk(b, c))
		Expect(err).NotTo(HaveOccurred())
		Expect(out.UniqueCount()).To(Equal(2))
		Expect(out.ContainsKey(MustKey(a))).To(BeFalse())
	})

	It("should validate arity", func() {
		_, err := NewSemijoin().Process(mk(a))
		Expect(err).To(HaveOccurred())
		_, err = NewDistinct().Process(nil)
		Expect(err).To(HaveOccurred())
	})
})
