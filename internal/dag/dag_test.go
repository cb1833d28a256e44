package dag

import (
	"errors"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestDAG(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "DAG Suite")
}

var _ = Describe("Graph", func() {
	var g *Graph

	BeforeEach(func() {
		g = New()
		for _, n := range []string{"prefs", "proposal", "match", "rejection"} {
			Expect(g.AddNode(n)).To(BeTrue())
		}
		Expect(g.AddEdge("proposal", "prefs")).To(Succeed())
		Expect(g.AddEdge("match", "proposal")).To(Succeed())
		Expect(g.AddEdge("rejection", "proposal")).To(Succeed())
		Expect(g.AddEdge("rejection", "match")).To(Succeed())
	})

	It("should refuse duplicate nodes", func() {
		Expect(g.AddNode("prefs")).To(BeFalse())
	})

	It("should compute reachability", func() {
		Expect(g.Reachable("rejection", "prefs")).To(BeTrue())
		Expect(g.Reachable("prefs", "rejection")).To(BeFalse())
		Expect(g.Reachable("match", "match")).To(BeFalse())
	})

	It("should reject cycles", func() {
		err := g.AddEdge("proposal", "rejection")
		Expect(errors.Is(err, ErrCycle)).To(BeTrue())
		err = g.AddEdge("match", "match")
		Expect(errors.Is(err, ErrCycle)).To(BeTrue())
	})

	It("should reject unknown nodes", func() {
		err := g.AddEdge("proposal", "edge")
		Expect(errors.Is(err, ErrUnknownNode)).To(BeTrue())
	})

	It("should sort topologically", func() {
		order := g.TopoSort()
		pos := map[string]int{}
		for i, n := range order {
			pos[n] = i
		}
		Expect(order).To(HaveLen(4))
		Expect(pos["prefs"]).To(BeNumerically("<", pos["proposal"]))
		Expect(pos["proposal"]).To(BeNumerically("<", pos["match"]))
		Expect(pos["match"]).To(BeNumerically("<", pos["rejection"]))
	})

	It("should list edges in insertion order", func() {
		Expect(g.HasEdge("rejection", "match")).To(BeTrue())
		Expect(g.HasEdge("match", "rejection")).To(BeFalse())
		Expect(g.Edges("rejection")).To(Equal([]string{"proposal", "match"}))
	})
})
