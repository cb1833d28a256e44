package script

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/l7mp/dexplain/pkg/computation/cc"
	"github.com/l7mp/dexplain/pkg/engine"
)

// LoadEdgeList reads "src dst" pairs, separated by whitespace or a comma, one per line, and
// returns the edge insertions for the label propagation computation. With labels set, every node
// with an out-edge is also labelled by its own id.
func LoadEdgeList(r io.Reader, labels bool) ([]engine.Edit, error) {
	ret := []engine.Edit{}
	sources := map[int64]bool{}
	scanner := bufio.NewScanner(r)
	n := 0
	for scanner.Scan() {
		n++
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.FieldsFunc(line, func(r rune) bool {
			return r == ',' || unicode.IsSpace(r)
		})
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 2 {
			return nil, fmt.Errorf("line %d: expected a src dst pair, got %q", n, strings.TrimSpace(line))
		}
		src, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid node %q", n, fields[0])
		}
		dst, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid node %q", n, fields[1])
		}
		ret = append(ret, engine.Edit{Collection: cc.Edge, Record: cc.EdgeRecord(src, dst), Diff: 1})
		sources[src] = true
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if labels {
		nodes := make([]int64, 0, len(sources))
		for n := range sources {
			nodes = append(nodes, n)
		}
		sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })
		for _, n := range nodes {
			ret = append(ret, engine.Edit{Collection: cc.Label, Record: cc.LabelRecord(n, n), Diff: 1})
		}
	}
	return ret, nil
}
