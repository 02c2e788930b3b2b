package graph

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/lazygraph/lazygraph/backends"
)

// loweringContext carries the builder and the node -> backend op mapping
// during one lowering pass.
type loweringContext struct {
	builder backends.Builder
	ops     []backends.Op // indexed by node id
}

// input returns the already-lowered backend op for an operand node. Creation
// order guarantees it exists.
func (ctx *loweringContext) input(n *Node) backends.Op {
	return ctx.ops[n.id]
}

// lowerFn translates one node into backend builder calls.
type lowerFn func(ctx *loweringContext, n *Node) (backends.Op, error)

// loweringTable dispatches lowering by op kind. Every OpType recordable in a
// trace has an entry.
var loweringTable = map[backends.OpType]lowerFn{
	backends.OpTypeParameter: lowerParameter,
	backends.OpTypeIota:      lowerIota,

	backends.OpTypeAdd: lowerBinary,
	backends.OpTypeSub: lowerBinary,
	backends.OpTypeMul: lowerBinary,
	backends.OpTypeNeg: lowerUnary,

	backends.OpTypeBitwiseAnd: lowerBinary,
	backends.OpTypeBitwiseOr:  lowerBinary,
	backends.OpTypeBitwiseXor: lowerBinary,
	backends.OpTypeBitwiseNot: lowerUnary,

	backends.OpTypeShiftLeft:            lowerBinary,
	backends.OpTypeShiftRightArithmetic: lowerBinary,
	backends.OpTypeShiftRightLogical:    lowerBinary,

	backends.OpTypeLogicalAnd: lowerBinary,
	backends.OpTypeLogicalOr:  lowerBinary,
	backends.OpTypeLogicalXor: lowerBinary,
	backends.OpTypeLogicalNot: lowerUnary,
}

// Parameter nodes bind tensor data positionally at execution time, keeping
// the data itself out of the lowered computation and out of the signature.
func lowerParameter(ctx *loweringContext, n *Node) (backends.Op, error) {
	return ctx.builder.Parameter(fmt.Sprintf("p%d", n.paramIdx), n.shape)
}

func lowerIota(ctx *loweringContext, n *Node) (backends.Op, error) {
	return ctx.builder.Iota(n.shape, n.intArgs[0])
}

func lowerUnary(ctx *loweringContext, n *Node) (backends.Op, error) {
	return ctx.builder.UnaryOp(n.opType, ctx.input(n.inputs[0]))
}

func lowerBinary(ctx *loweringContext, n *Node) (backends.Op, error) {
	return ctx.builder.BinaryOp(n.opType, ctx.input(n.inputs[0]), ctx.input(n.inputs[1]))
}

// lowerTrace walks the finalized trace in creation order (already
// topological) and emits one builder call per node, then compiles the
// requested outputs into a Computation.
func lowerTrace(finalized *FinalizedTrace, backend backends.Backend) (*Computation, error) {
	t := finalized.trace
	name := fmt.Sprintf("trace_%016x", finalized.signature)
	klog.V(1).Infof("lowering %s: %d nodes, %d parameters, %d outputs on %s",
		name, len(t.nodes), len(t.params), len(finalized.outputs), t.device)

	ctx := &loweringContext{
		builder: backend.Builder(name),
		ops:     make([]backends.Op, len(t.nodes)),
	}
	for _, n := range t.nodes {
		fn, found := loweringTable[n.opType]
		if !found {
			return nil, errors.Wrapf(ErrConsistency, "no lowering rule for op %s (node %s)", n.opType, n)
		}
		op, err := fn(ctx, n)
		if err != nil {
			return nil, errors.WithMessagef(err, "lowering node %s of %s", n, name)
		}
		ctx.ops[n.id] = op
	}

	outputOps := make([]backends.Op, len(finalized.outputs))
	for ii, out := range finalized.outputs {
		outputOps[ii] = ctx.ops[out.id]
	}
	executable, err := ctx.builder.Compile(outputOps...)
	if err != nil {
		return nil, errors.WithMessagef(err, "compiling %s", name)
	}

	comp := &Computation{
		id:         uuid.New(),
		name:       name,
		signature:  finalized.signature,
		executable: executable,
		outShapes:  executable.Outputs(),
	}
	_, comp.paramShapes = executable.Inputs()
	return comp, nil
}
