// Package script parses edit scripts and edge lists into engine edits.
//
// An edit script holds one epoch per line, the edits of an epoch are separated by ';' and '#'
// starts a comment:
//
//	<verb> <+|-> <ints...>                          edit an input record
//	query <+|-> <ints...>                           issue or withdraw a query
//	force <+|-> <query ints...> : <verb> <ints...>  force an input record for a query
//
// The verbs and their arities come from the grammar of the computation.
package script

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/l7mp/dexplain/pkg/computation"
	"github.com/l7mp/dexplain/pkg/engine"
	"github.com/l7mp/dexplain/pkg/provenance"
)

const (
	// QueryVerb issues and withdraws queries.
	QueryVerb = "query"
	// ForceVerb forces input records for a query.
	ForceVerb = "force"
)

// Parser converts edit-script lines into edits.
type Parser struct {
	grammar computation.Grammar
}

// NewParser creates a parser for a grammar.
func NewParser(g computation.Grammar) *Parser {
	return &Parser{grammar: g}
}

// Epoch is the content of a script line.
type Epoch struct {
	Line  int
	Edits []engine.Edit
}

// Parse reads a whole script. Lines holding only comments or whitespace are skipped.
func (p *Parser) Parse(r io.Reader) ([]Epoch, error) {
	ret := []Epoch{}
	err := p.Scan(r, func(e Epoch) error {
		ret = append(ret, e)
		return nil
	})
	return ret, err
}

// Scan reads a script line by line and calls fn for every epoch.
func (p *Parser) Scan(r io.Reader, fn func(Epoch) error) error {
	scanner := bufio.NewScanner(r)
	n := 0
	for scanner.Scan() {
		n++
		edits, err := p.ParseLine(scanner.Text())
		if err != nil {
			return fmt.Errorf("line %d: %w", n, err)
		}
		if edits == nil {
			continue
		}
		if err := fn(Epoch{Line: n, Edits: edits}); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// ParseLine parses the edits of a line. It returns nil for empty lines.
func (p *Parser) ParseLine(line string) ([]engine.Edit, error) {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}
	if strings.TrimSpace(line) == "" {
		return nil, nil
	}

	ret := []engine.Edit{}
	for _, part := range strings.Split(line, ";") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		e, err := p.parseEdit(part)
		if err != nil {
			return nil, err
		}
		ret = append(ret, e)
	}
	return ret, nil
}

func (p *Parser) parseEdit(s string) (engine.Edit, error) {
	fields := strings.Fields(s)
	if len(fields) < 2 {
		return engine.Edit{}, fmt.Errorf("invalid edit %q: expected <verb> <+|-> <args...>", strings.TrimSpace(s))
	}
	verb := fields[0]
	diff, err := parseSign(fields[1])
	if err != nil {
		return engine.Edit{}, err
	}

	switch verb {
	case QueryVerb:
		q, err := p.query(fields[2:])
		if err != nil {
			return engine.Edit{}, err
		}
		return engine.Edit{Collection: engine.QueryCollection, Record: engine.QueryRecord(q), Diff: diff}, nil

	case ForceVerb:
		rest := strings.Join(fields[2:], " ")
		qpart, rpart, ok := strings.Cut(rest, ":")
		if !ok {
			return engine.Edit{}, fmt.Errorf("invalid force edit %q: missing ':'", strings.TrimSpace(s))
		}
		q, err := p.query(strings.Fields(qpart))
		if err != nil {
			return engine.Edit{}, err
		}
		rfields := strings.Fields(rpart)
		if len(rfields) == 0 {
			return engine.Edit{}, fmt.Errorf("invalid force edit %q: missing record", strings.TrimSpace(s))
		}
		v, args, err := p.input(rfields[0], rfields[1:])
		if err != nil {
			return engine.Edit{}, err
		}
		rec, err := v.Record(args)
		if err != nil {
			return engine.Edit{}, err
		}
		return engine.Edit{
			Collection: engine.MandatoryCollection,
			Record:     engine.MandatoryRecord(q, v.Collection, rec),
			Diff:       diff,
		}, nil
	}

	v, args, err := p.input(verb, fields[2:])
	if err != nil {
		return engine.Edit{}, err
	}
	rec, err := v.Record(args)
	if err != nil {
		return engine.Edit{}, err
	}
	return engine.Edit{Collection: v.Collection, Record: rec, Diff: diff}, nil
}

func (p *Parser) query(fields []string) (provenance.Query, error) {
	args, err := parseInts(fields)
	if err != nil {
		return provenance.Query{}, err
	}
	rec, err := p.grammar.Query.Record(args)
	if err != nil {
		return provenance.Query{}, fmt.Errorf("query: %w", err)
	}
	return provenance.NewQuery(p.grammar.Query.Collection, rec), nil
}

func (p *Parser) input(verb string, fields []string) (computation.Verb, []int64, error) {
	v, ok := p.grammar.Lookup(verb)
	if !ok {
		return computation.Verb{}, nil, fmt.Errorf("unknown verb %q", verb)
	}
	args, err := parseInts(fields)
	if err != nil {
		return computation.Verb{}, nil, err
	}
	return v, args, nil
}

func parseSign(s string) (int, error) {
	switch s {
	case "+":
		return 1, nil
	case "-":
		return -1, nil
	}
	return 0, fmt.Errorf("invalid sign %q: expected + or -", s)
}

func parseInts(fields []string) ([]int64, error) {
	ret := make([]int64, len(fields))
	for i, f := range fields {
		n, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", f)
		}
		ret[i] = n
	}
	return ret, nil
}
