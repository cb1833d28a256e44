package visualize

import (
	"context"
	"testing"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/dexplain/pkg/computation"
	"github.com/l7mp/dexplain/pkg/computation/cc"
	"github.com/l7mp/dexplain/pkg/dbsp"
	"github.com/l7mp/dexplain/pkg/provenance"
)

func TestVisualize(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Visualize")
}

var _ = Describe("Explanation graph", func() {
	var (
		c  *cc.CC
		ex *computation.Explanation
	)

	BeforeEach(func() {
		c = cc.New(logr.Discard())
		edges, err := dbsp.FromDocuments([]dbsp.Document{cc.EdgeRecord(0, 1), cc.EdgeRecord(1, 2)})
		Expect(err).NotTo(HaveOccurred())
		labels, err := dbsp.FromDocuments([]dbsp.Document{cc.LabelRecord(0, 0)})
		Expect(err).NotTo(HaveOccurred())
		ex, err = computation.Explain(context.Background(), c, computation.Inputs{cc.Edge: edges, cc.Label: labels},
			provenance.NewQuery(cc.Output, cc.LabelRecord(2, 0)))
		Expect(err).NotTo(HaveOccurred())
	})

	It("should classify the closure nodes", func() {
		g := BuildGraph(ex, c.Grammar())
		Expect(g.Title).To(Equal("why cc_label(2, 0)"))

		kinds := map[NodeKind]int{}
		for _, n := range g.Nodes {
			kinds[n.Kind]++
		}
		Expect(kinds[KindQuery]).To(Equal(1))
		Expect(kinds[KindMust]).To(Equal(3))
		Expect(kinds[KindDerived]).To(Equal(2))

		// every derivation of the three labels along the path
		Expect(g.Links).To(HaveLen(5))
	})

	It("should render DOT", func() {
		gen, ok := NewGenerator("dot")
		Expect(ok).To(BeTrue())
		out := gen.Generate(BuildGraph(ex, c.Grammar()))
		Expect(out).To(ContainSubstring("digraph"))
		Expect(out).To(ContainSubstring("graph(0, 1)@"))
		Expect(out).To(ContainSubstring("lightgreen"))
	})

	It("should render Mermaid", func() {
		gen, ok := NewGenerator("mermaid")
		Expect(ok).To(BeTrue())
		out := gen.Generate(BuildGraph(ex, c.Grammar()))
		Expect(out).To(HavePrefix("```mermaid\n"))
		Expect(out).To(ContainSubstring("flowchart LR"))

		_, ok = NewGenerator("svg")
		Expect(ok).To(BeFalse())
	})
})
