package backends

import "github.com/lazygraph/lazygraph/types/shapes"

// Op represents the output of an operation during computation building time.
//
// It is opaque to the tracing layer: it is only ever passed back as input to
// other methods of the Builder that created it.
type Op any

// Builder defines the set of ops a backend supports when building a
// computation. It is the lowering target: the graph layer walks a finalized
// trace and emits one Builder call per node.
type Builder interface {
	// Name of the computation being built.
	Name() string

	// OpShape returns the shape of a computation Op. This is not an
	// operation and doesn't change the computation being built.
	OpShape(op Op) (shapes.Shape, error)

	// Parameter creates an input parameter for the computation. During
	// execution of the compiled computation, values are fed in the same
	// order the parameters were created.
	Parameter(name string, shape shapes.Shape) (Op, error)

	// Iota creates the given shape with values 0, 1, 2, ... along the
	// iotaAxis, repeated across the other axes.
	Iota(shape shapes.Shape, iotaAxis int) (Op, error)

	// UnaryOp emits the unary operation opType on x. Supported opTypes:
	// Neg, BitwiseNot, LogicalNot.
	UnaryOp(opType OpType, x Op) (Op, error)

	// BinaryOp emits the binary operation opType on lhs and rhs, with
	// standard broadcasting. Supported opTypes: Add, Sub, Mul, BitwiseAnd,
	// BitwiseOr, BitwiseXor, ShiftLeft, ShiftRightArithmetic,
	// ShiftRightLogical, LogicalAnd, LogicalOr, LogicalXor.
	BinaryOp(opType OpType, lhs, rhs Op) (Op, error)

	// Compile the computation built with the given outputs. It invalidates
	// the Builder and returns an Executable.
	Compile(outputs ...Op) (Executable, error)
}
