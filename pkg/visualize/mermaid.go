package visualize

import (
	"fmt"

	"github.com/emicklei/dot"
)

// MermaidGenerator generates Mermaid flowchart diagrams.
type MermaidGenerator struct{}

// Generate creates a Mermaid flowchart from the graph, wrapped in a markdown code block.
func (m *MermaidGenerator) Generate(g *Graph) string {
	mermaid := dot.MermaidFlowchart(buildGraph(g, mermaidStyle), dot.MermaidLeftToRight)
	return fmt.Sprintf("```mermaid\n%s\n```\n", mermaid)
}

// mermaidStyle uses the Mermaid shapes of the dot library, styles are CSS.
func mermaidStyle(node dot.Node, kind NodeKind) {
	switch kind {
	case KindQuery:
		node.Attr("shape", dot.MermaidShapeStadium).
			Attr("style", "fill:#add8e6,stroke:#00008b,stroke-width:2px")
	case KindMust:
		node.Attr("shape", dot.MermaidShapeCircle).
			Attr("style", "fill:#90ee90")
	case KindAbsent:
		node.Attr("shape", dot.MermaidShapeRound).
			Attr("style", "stroke-dasharray:4")
	default:
		node.Attr("shape", dot.MermaidShapeRound)
	}
}
