package visualize

// Generator renders an explanation graph.
type Generator interface {
	Generate(g *Graph) string
}

// DotGenerator generates Graphviz DOT diagrams.
type DotGenerator struct{}

// Generate creates a Graphviz DOT diagram from the graph.
func (d *DotGenerator) Generate(g *Graph) string {
	return BuildDotGraph(g).String()
}

// NewGenerator returns the generator of a format, "dot" or "mermaid".
func NewGenerator(format string) (Generator, bool) {
	switch format {
	case "dot", "":
		return &DotGenerator{}, true
	case "mermaid":
		return &MermaidGenerator{}, true
	}
	return nil, false
}
