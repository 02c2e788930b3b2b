package goeval

import (
	"github.com/pkg/errors"

	"github.com/lazygraph/lazygraph/backends"
	"github.com/lazygraph/lazygraph/backends/shapeinference"
	"github.com/lazygraph/lazygraph/types/shapes"
)

// node is one operation of the computation being built. Nodes are stored in
// creation order, which is also a valid evaluation order since inputs always
// precede their consumers.
type node struct {
	builder *Builder
	idx     int
	opType  backends.OpType
	shape   shapes.Shape
	inputs  []*node

	// Parameter only:
	paramName string
	paramIdx  int

	// Iota only:
	iotaAxis int
}

// Builder accumulates nodes for a computation and compiles them to an
// interpreted Executable.
type Builder struct {
	backend  *Backend
	name     string
	nodes    []*node
	params   []*node
	compiled bool
}

var _ backends.Builder = &Builder{}

func newBuilder(backend *Backend, name string) *Builder {
	return &Builder{backend: backend, name: name}
}

// Name of the computation being built.
func (b *Builder) Name() string { return b.name }

func (b *Builder) checkValid() error {
	if err := b.backend.checkValid(); err != nil {
		return err
	}
	if b.compiled {
		return errors.Errorf("computation %q was already compiled, builder is invalid", b.name)
	}
	return nil
}

// castNode validates that the opaque op came from this builder.
func (b *Builder) castNode(op backends.Op) (*node, error) {
	n, ok := op.(*node)
	if !ok || n.builder != b {
		return nil, errors.Errorf("op %v was not created by builder %q", op, b.name)
	}
	return n, nil
}

func (b *Builder) newNode(opType backends.OpType, shape shapes.Shape, inputs ...*node) *node {
	n := &node{
		builder: b,
		idx:     len(b.nodes),
		opType:  opType,
		shape:   shape,
		inputs:  inputs,
	}
	b.nodes = append(b.nodes, n)
	return n
}

// OpShape returns the shape of a computation Op.
func (b *Builder) OpShape(op backends.Op) (shapes.Shape, error) {
	n, err := b.castNode(op)
	if err != nil {
		return shapes.Invalid(), err
	}
	return n.shape, nil
}

// Parameter creates an input parameter for the computation. Execution feeds
// values in creation order.
func (b *Builder) Parameter(name string, shape shapes.Shape) (backends.Op, error) {
	if err := b.checkValid(); err != nil {
		return nil, err
	}
	if !shape.Ok() {
		return nil, errors.Errorf("invalid shape for parameter %q", name)
	}
	n := b.newNode(backends.OpTypeParameter, shape)
	n.paramName = name
	n.paramIdx = len(b.params)
	b.params = append(b.params, n)
	return n, nil
}

// Iota creates the given shape with values 0, 1, 2, ... along the iotaAxis.
func (b *Builder) Iota(shape shapes.Shape, iotaAxis int) (backends.Op, error) {
	if err := b.checkValid(); err != nil {
		return nil, err
	}
	outShape, err := shapeinference.IotaOp(shape, iotaAxis)
	if err != nil {
		return nil, err
	}
	n := b.newNode(backends.OpTypeIota, outShape)
	n.iotaAxis = iotaAxis
	return n, nil
}

// UnaryOp emits the unary operation opType on x.
func (b *Builder) UnaryOp(opType backends.OpType, x backends.Op) (backends.Op, error) {
	if err := b.checkValid(); err != nil {
		return nil, err
	}
	xNode, err := b.castNode(x)
	if err != nil {
		return nil, err
	}
	outShape, err := shapeinference.UnaryOp(opType, xNode.shape)
	if err != nil {
		return nil, err
	}
	return b.newNode(opType, outShape, xNode), nil
}

// BinaryOp emits the binary operation opType on lhs and rhs, with standard
// broadcasting.
func (b *Builder) BinaryOp(opType backends.OpType, lhs, rhs backends.Op) (backends.Op, error) {
	if err := b.checkValid(); err != nil {
		return nil, err
	}
	lhsNode, err := b.castNode(lhs)
	if err != nil {
		return nil, err
	}
	rhsNode, err := b.castNode(rhs)
	if err != nil {
		return nil, err
	}
	outShape, err := shapeinference.BinaryOp(opType, lhsNode.shape, rhsNode.shape)
	if err != nil {
		return nil, err
	}
	return b.newNode(opType, outShape, lhsNode, rhsNode), nil
}

// Compile the computation with the given outputs. It invalidates the
// Builder.
func (b *Builder) Compile(outputs ...backends.Op) (backends.Executable, error) {
	if err := b.checkValid(); err != nil {
		return nil, err
	}
	if len(outputs) == 0 {
		return nil, errors.Errorf("computation %q must have at least one output", b.name)
	}
	outputNodes := make([]*node, len(outputs))
	for ii, op := range outputs {
		n, err := b.castNode(op)
		if err != nil {
			return nil, err
		}
		outputNodes[ii] = n
	}
	b.compiled = true
	return &Executable{
		backend: b.backend,
		name:    b.name,
		nodes:   b.nodes,
		params:  b.params,
		outputs: outputNodes,
	}, nil
}
