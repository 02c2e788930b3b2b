// Package graph implements the lazy-tensor tracing engine: tensor
// operations append nodes to a per-device Trace instead of executing; when a
// value is observed (or a barrier hits) the trace is finalized, lowered to a
// backend Computation (or fetched from the structural-signature cache) and
// dispatched to the device asynchronously.
//
// The public surface is the LazyTensor handle plus the op constructors
// (Add, BitwiseAnd, ...), the Engine and the barrier entry points.
package graph

import (
	"fmt"
	"slices"
	"strings"

	"github.com/pkg/errors"

	"github.com/lazygraph/lazygraph/backends"
	"github.com/lazygraph/lazygraph/types/shapes"
)

var (
	// ErrExecution tags backend failures surfaced through an
	// ExecutionHandle. Executions are never retried internally.
	ErrExecution = errors.New("execution failed")

	// ErrConsistency tags misuse of the tracing layer: mixing engines or
	// devices in one op, or an illegal trace state transition.
	ErrConsistency = errors.New("trace consistency")
)

// Node is one recorded operation in a Trace. Nodes are immutable once
// created and only referenced by later nodes of the same trace.
//
// Behavior is never attached to the node: shape inference runs eagerly at
// construction (backends/shapeinference) and lowering dispatches through
// loweringTable keyed on the opType tag.
type Node struct {
	trace  *Trace
	id     int // index in trace.nodes
	opType backends.OpType
	inputs []*Node
	shape  shapes.Shape

	// intArgs are the static op parameters (e.g. the iota axis). They are
	// part of the structural signature.
	intArgs []int

	// source binds a parameter node to the tensor whose device buffer is
	// fed at execution time. Only set when opType == OpTypeParameter; it is
	// excluded from the structural signature.
	source *LazyTensor

	// paramIdx is the position among the trace's parameter nodes.
	paramIdx int
}

// OpType tag of the operation.
func (n *Node) OpType() backends.OpType { return n.opType }

// Shape of the node output, inferred at construction.
func (n *Node) Shape() shapes.Shape { return n.shape }

// Inputs returns the operand nodes. The returned slice is a copy.
func (n *Node) Inputs() []*Node { return slices.Clone(n.inputs) }

// String pretty-prints one node, e.g. "#2 = BitwiseAnd(#0, #1) :: (Uint8)[4]".
func (n *Node) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d = %s(", n.id, n.opType)
	for ii, input := range n.inputs {
		if ii > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "#%d", input.id)
	}
	for _, arg := range n.intArgs {
		if len(n.inputs) > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%d", arg)
	}
	fmt.Fprintf(&b, ") :: %s", n.shape)
	return b.String()
}
