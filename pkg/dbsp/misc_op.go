package dbsp

import "fmt"

// DistinctOp converts its input to set semantics.
type DistinctOp struct {
	BaseOp
}

func NewDistinct() *DistinctOp {
	return &DistinctOp{BaseOp: NewBaseOp("distinct", 1)}
}

func (n *DistinctOp) OpType() OperatorType { return OpTypeNonLinear }

func (n *DistinctOp) Process(inputs ...*DocumentZSet) (*DocumentZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}
	return inputs[0].Distinct(), nil
}

// IntegratorOp implements the I operator: converts deltas to snapshots.
// I(s)[t] = Σ(i=0 to t) s[i]
type IntegratorOp struct {
	BaseOp
	state *DocumentZSet
}

func NewIntegrator() *IntegratorOp {
	return &IntegratorOp{
		BaseOp: NewBaseOp("I", 1),
		state:  NewDocumentZSet(),
	}
}

func (n *IntegratorOp) OpType() OperatorType { return OpTypeLinear }

// Process adds the delta to the accumulated state and returns a copy of the new state.
func (n *IntegratorOp) Process(inputs ...*DocumentZSet) (*DocumentZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}
	n.state.AddMutate(inputs[0])
	return n.state.ShallowCopy(), nil
}

// Peek returns the state that would result from integrating the delta, without committing it.
func (n *IntegratorOp) Peek(delta *DocumentZSet) *DocumentZSet {
	return n.state.Add(delta)
}

// State returns the current accumulated state. The returned Z-set must not be modified.
func (n *IntegratorOp) State() *DocumentZSet { return n.state }

// Reset clears the accumulated state.
func (n *IntegratorOp) Reset() {
	n.state = NewDocumentZSet()
}

// DifferentiatorOp implements the D operator: converts snapshots to deltas.
// D(s)[t] = s[t] - s[t-1]
type DifferentiatorOp struct {
	BaseOp
	prevState *DocumentZSet
}

func NewDifferentiator() *DifferentiatorOp {
	return &DifferentiatorOp{
		BaseOp:    NewBaseOp("D", 1),
		prevState: NewDocumentZSet(),
	}
}

func (n *DifferentiatorOp) OpType() OperatorType { return OpTypeLinear }

func (n *DifferentiatorOp) Process(inputs ...*DocumentZSet) (*DocumentZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}
	snapshot := inputs[0]
	delta := snapshot.Subtract(n.prevState)
	n.prevState = snapshot.ShallowCopy()
	return delta, nil
}

// Peek returns the delta of a snapshot against the previous one, without committing it.
func (n *DifferentiatorOp) Peek(snapshot *DocumentZSet) *DocumentZSet {
	return snapshot.Subtract(n.prevState)
}

// Reset forgets the previous snapshot.
func (n *DifferentiatorOp) Reset() {
	n.prevState = NewDocumentZSet()
}

// SemijoinOp keeps the entries of its first input whose record has positive multiplicity in the
// second input.
type SemijoinOp struct {
	BaseOp
}

func NewSemijoin() *SemijoinOp {
	return &SemijoinOp{BaseOp: NewBaseOp("⋉", 2)}
}

func (n *SemijoinOp) OpType() OperatorType { return OpTypeBilinear }

func (n *SemijoinOp) Process(inputs ...*DocumentZSet) (*DocumentZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}
	left, right := inputs[0], inputs[1]
	ret := NewDocumentZSet()
	for key, count := range left.counts {
		if right.ContainsKey(key) {
			ret.addKeyed(key, left.docs[key], count)
		}
	}
	return ret, nil
}

// Chain runs unary operators one after the other.
type Chain struct {
	BaseOp
	ops []Operator
}

// NewChain composes unary operators into a single operator.
func NewChain(name string, ops ...Operator) *Chain {
	return &Chain{BaseOp: NewBaseOp(name, 1), ops: ops}
}

func (c *Chain) OpType() OperatorType {
	for _, op := range c.ops {
		if op.OpType() != OpTypeLinear {
			return OpTypeNonLinear
		}
	}
	return OpTypeLinear
}

func (c *Chain) Process(inputs ...*DocumentZSet) (*DocumentZSet, error) {
	if err := c.validateInputs(inputs); err != nil {
		return nil, err
	}
	ret := inputs[0]
	for i, op := range c.ops {
		var err error
		ret, err = op.Process(ret)
		if err != nil {
			return nil, newZSetError(fmt.Sprintf("chain %s failed at step %d (%s)", c.Name(), i, op.Name()), err)
		}
	}
	return ret, nil
}

// Peeker is a stateful operator that can evaluate an input without committing it.
type Peeker interface {
	Peek(input *DocumentZSet) *DocumentZSet
}

// Peek evaluates the chain without committing the state of its operators. Stateless operators are
// processed as usual.
func (c *Chain) Peek(input *DocumentZSet) (*DocumentZSet, error) {
	ret := input
	for i, op := range c.ops {
		if p, ok := op.(Peeker); ok {
			ret = p.Peek(ret)
			continue
		}
		var err error
		if ret, err = op.Process(ret); err != nil {
			return nil, newZSetError(fmt.Sprintf("chain %s failed at step %d (%s)", c.Name(), i, op.Name()), err)
		}
	}
	return ret, nil
}

// Reset resets every stateful operator in the chain.
func (c *Chain) Reset() {
	for _, op := range c.ops {
		if r, ok := op.(Resetter); ok {
			r.Reset()
		}
	}
}
