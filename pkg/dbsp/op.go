package dbsp

import (
	"fmt"
)

// OperatorType classifies operators.
type OperatorType int

const (
	OpTypeLinear    OperatorType = iota // Op^Δ = Op
	OpTypeBilinear                      // Op^Δ needs expansion (like joins)
	OpTypeNonLinear                     // Op^Δ needs special handling (like distinct)
)

func (t OperatorType) String() string {
	switch t {
	case OpTypeLinear:
		return "Linear"
	case OpTypeBilinear:
		return "Bilinear"
	case OpTypeNonLinear:
		return "NonLinear"
	default:
		return "Unknown"
	}
}

// Operator represents a computation node processing Z-sets.
type Operator interface {
	// Process input ZSets and produce output ZSet.
	Process(inputs ...*DocumentZSet) (*DocumentZSet, error)
	// Name returns the node name for debugging.
	Name() string
	// Arity returns the number of inputs expected.
	Arity() int
	// OpType classifies the operator.
	OpType() OperatorType
}

// Resetter is implemented by stateful operators.
type Resetter interface {
	Reset()
}

// BaseOp is embedded by operators for naming and input validation.
type BaseOp struct {
	arity int
	name  string
}

func NewBaseOp(name string, arity int) BaseOp {
	return BaseOp{arity: arity, name: name}
}

func (n *BaseOp) Name() string { return n.name }
func (n *BaseOp) Arity() int   { return n.arity }

func (n *BaseOp) validateInputs(inputs []*DocumentZSet) error {
	if len(inputs) != n.arity {
		return fmt.Errorf("node %s expects %d inputs, got %d", n.name, n.arity, len(inputs))
	}
	for i, in := range inputs {
		if in == nil {
			return fmt.Errorf("node %s: input %d is nil", n.name, i)
		}
	}
	return nil
}
