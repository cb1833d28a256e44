package dbsp

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Time", func() {
	It("should order times by the product order", func() {
		a := Time{Outer: 0, Inner: 1}
		b := Time{Outer: 1, Inner: 2}
		c := Time{Outer: 2, Inner: 0}

		Expect(a.LessEqual(b)).To(BeTrue())
		Expect(a.LessEqual(a)).To(BeTrue())
		Expect(b.LessEqual(a)).To(BeFalse())

		// incomparable
		Expect(b.LessEqual(c)).To(BeFalse())
		Expect(c.LessEqual(b)).To(BeFalse())
		Expect(b.Join(c)).To(Equal(Time{Outer: 2, Inner: 2}))
	})

	It("should extend the partial order with a total one", func() {
		b := Time{Outer: 1, Inner: 2}
		c := Time{Outer: 2, Inner: 0}
		Expect(b.Compare(c)).To(Equal(-1))
		Expect(c.Compare(b)).To(Equal(1))
		Expect(b.Compare(b)).To(Equal(0))
	})

	It("should have bottom and top", func() {
		t := At(17)
		Expect(Zero.LessEqual(t)).To(BeTrue())
		Expect(t.LessEqual(Top)).To(BeTrue())
		Expect(Top.String()).To(Equal("⊤"))
		Expect(t.String()).To(Equal("(0,17)"))
	})
})

var _ = Describe("UpdateStream", func() {
	var (
		label0 Document
		label1 Document
		s      UpdateStream
	)

	BeforeEach(func() {
		label0 = Document{"node": int64(2), "label": int64(1)}
		label1 = Document{"node": int64(2), "label": int64(0)}
		s = UpdateStream{
			{Collection: "cc_label", Document: label0, Time: At(1), Diff: 1},
			{Collection: "cc_label", Document: label0, Time: At(3), Diff: -1},
			{Collection: "cc_label", Document: label1, Time: At(3), Diff: 1},
		}
	})

	It("should accumulate multiplicities up to a time", func() {
		n, err := s.MultiplicityAt("cc_label", label0, At(2))
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))

		n, err = s.MultiplicityAt("cc_label", label0, Top)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(0))

		n, err = s.MultiplicityAt("cc_label", label1, At(0))
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(0))
	})

	It("should snapshot a collection", func() {
		snap, err := s.Snapshot("cc_label", Top)
		Expect(err).NotTo(HaveOccurred())
		Expect(snap.UniqueCount()).To(Equal(1))
		Expect(snap.ContainsKey(MustKey(label1))).To(BeTrue())
	})

	It("should consolidate", func() {
		s = append(s, Update{Collection: "cc_label", Document: label1, Time: At(3), Diff: -1})
		c, err := s.Consolidate()
		Expect(err).NotTo(HaveOccurred())
		Expect(c).To(HaveLen(2))
		Expect(c[0].Time).To(Equal(At(1)))
		Expect(c[1].Diff).To(Equal(-1))
	})

	It("should validate final multiplicities", func() {
		Expect(s.Validate()).To(Succeed())
		s = append(s, Update{Collection: "cc_label", Document: label0, Time: At(4), Diff: -1})
		Expect(s.Validate()).To(HaveOccurred())
	})
})
