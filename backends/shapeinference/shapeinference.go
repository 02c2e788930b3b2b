// Package shapeinference calculates the shape resulting from operations and
// validates their inputs.
//
// All functions here are pure: the output shape/dtype is fully determined by
// the operand shapes and the op parameters, never by runtime data. They are
// called eagerly at node construction time, so downstream consumers (the
// structural signature and the lowering pass) never re-derive shapes.
//
// BinaryOp covers the binary operations, using the standard broadcasting
// rule. Unary operations never change the shape. Errors wrap ErrShape or
// ErrUnsupportedDType, so callers can classify with errors.Is.
package shapeinference

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/lazygraph/lazygraph/backends"
	"github.com/lazygraph/lazygraph/types"
	"github.com/lazygraph/lazygraph/types/shapes"
)

var (
	// ErrShape tags incompatible operand shapes or illegal op parameters.
	ErrShape = errors.New("incompatible shapes")

	// ErrUnsupportedDType tags element types not accepted by an operation or
	// not present in the type-mapping tables.
	ErrUnsupportedDType = errors.New("unsupported dtype")
)

var (
	// BooleanOperations take booleans as input, aka. logical operations.
	BooleanOperations = types.SetWith(
		backends.OpTypeLogicalAnd,
		backends.OpTypeLogicalOr,
		backends.OpTypeLogicalXor,
		backends.OpTypeLogicalNot,
	)

	// BitwiseOperations operate only on integer numbers and won't work on
	// floats, complex numbers or booleans.
	BitwiseOperations = types.SetWith(
		backends.OpTypeBitwiseAnd,
		backends.OpTypeBitwiseOr,
		backends.OpTypeBitwiseXor,
		backends.OpTypeBitwiseNot,
		backends.OpTypeShiftLeft,
		backends.OpTypeShiftRightArithmetic,
		backends.OpTypeShiftRightLogical,
	)

	// NumberOperations take any type of number as input: integers or floats.
	NumberOperations = types.SetWith(
		backends.OpTypeAdd,
		backends.OpTypeSub,
		backends.OpTypeMul,
		backends.OpTypeNeg,
	)

	// StandardBinaryOperations have two operands (lhs, rhs) with identical
	// dtypes and follow the standard broadcasting rule.
	StandardBinaryOperations = types.SetWith(
		backends.OpTypeAdd,
		backends.OpTypeSub,
		backends.OpTypeMul,
		backends.OpTypeBitwiseAnd,
		backends.OpTypeBitwiseOr,
		backends.OpTypeBitwiseXor,
		backends.OpTypeShiftLeft,
		backends.OpTypeShiftRightArithmetic,
		backends.OpTypeShiftRightLogical,
		backends.OpTypeLogicalAnd,
		backends.OpTypeLogicalOr,
		backends.OpTypeLogicalXor,
	)

	// StandardUnaryOperations have a single operand and return its shape
	// unchanged.
	StandardUnaryOperations = types.SetWith(
		backends.OpTypeNeg,
		backends.OpTypeBitwiseNot,
		backends.OpTypeLogicalNot,
	)
)

// checkOperandDType validates the dtype against the dtype class required by
// opType.
func checkOperandDType(opType backends.OpType, shape shapes.Shape) error {
	if shape.DType == dtypes.InvalidDType {
		return errors.Wrapf(ErrUnsupportedDType, "invalid shape %s for op %s", shape, opType)
	}
	if BooleanOperations.Has(opType) && shape.DType != dtypes.Bool {
		return errors.Wrapf(ErrUnsupportedDType, "logical op %s requires boolean (Bool) operands, got %s", opType, shape)
	}
	if BitwiseOperations.Has(opType) && !shape.DType.IsInt() {
		return errors.Wrapf(ErrUnsupportedDType, "bitwise op %s requires an integer (Int8, UInt8, Int32, ...) operand, got %s", opType, shape)
	}
	if NumberOperations.Has(opType) && !(shape.DType.IsInt() || shape.DType.IsFloat()) {
		return errors.Wrapf(ErrUnsupportedDType, "numeric op %s requires a number (Int32, Float32, ...) operand, got %s", opType, shape)
	}
	return nil
}

// BinaryOp returns the expected output shape for ops in the
// StandardBinaryOperations set.
//
// Both operands must have identical dtypes, and the dimensions must follow
// the standard broadcasting rule: a scalar broadcasts against anything,
// otherwise ranks must match and each axis dimension must be equal or 1.
func BinaryOp(opType backends.OpType, lhsShape, rhsShape shapes.Shape) (output shapes.Shape, err error) {
	if !StandardBinaryOperations.Has(opType) {
		err = errors.Wrapf(ErrShape, "op %s is not in the StandardBinaryOperations set, cannot process it with BinaryOp", opType)
		return
	}
	if lhsShape.DType != rhsShape.DType {
		err = errors.Wrapf(ErrShape, "operand dtypes for binary op %s must match, got %s and %s", opType, lhsShape, rhsShape)
		return
	}
	if err = checkOperandDType(opType, lhsShape); err != nil {
		return
	}
	return broadcastShapes(opType, lhsShape, rhsShape)
}

func broadcastShapes(opType backends.OpType, lhsShape, rhsShape shapes.Shape) (output shapes.Shape, err error) {
	// Trivial cases: if one of the sides is a scalar, return the other side.
	if lhsShape.IsScalar() {
		return rhsShape.Clone(), nil
	}
	if rhsShape.IsScalar() {
		return lhsShape.Clone(), nil
	}

	if lhsShape.Rank() != rhsShape.Rank() {
		err = errors.Wrapf(ErrShape, "if operands are not scalars, their rank must match for binary op %s, got shapes %s and %s",
			opType, lhsShape, rhsShape)
		return
	}
	output = lhsShape.Clone()
	for axis := range output.Rank() {
		lhsDim := lhsShape.Dimensions[axis]
		rhsDim := rhsShape.Dimensions[axis]
		if lhsDim != 1 && rhsDim != 1 && lhsDim != rhsDim {
			err = errors.Wrapf(ErrShape, "dimension of axis #%d doesn't match and cannot be broadcast for binary op %s, got shapes %s and %s",
				axis, opType, lhsShape, rhsShape)
			output = shapes.Invalid()
			return
		}
		output.Dimensions[axis] = max(lhsDim, rhsDim)
	}
	return
}

// UnaryOp checks the operand dtype and returns the output shape for ops in
// the StandardUnaryOperations set: the same shape as the operand.
func UnaryOp(opType backends.OpType, operand shapes.Shape) (output shapes.Shape, err error) {
	if !StandardUnaryOperations.Has(opType) {
		err = errors.Wrapf(ErrShape, "op %s is not in the StandardUnaryOperations set, cannot process it with UnaryOp", opType)
		return
	}
	if err = checkOperandDType(opType, operand); err != nil {
		return
	}
	return operand.Clone(), nil
}

// IotaOp validates the shape and axis parameter of an Iota op and returns
// the output shape. The iotaAxis must be in range for the shape rank and the
// dtype must be a number.
func IotaOp(shape shapes.Shape, iotaAxis int) (output shapes.Shape, err error) {
	if !shape.Ok() || shape.IsScalar() {
		err = errors.Wrapf(ErrShape, "Iota requires a non-scalar valid shape, got %s", shape)
		return
	}
	if !(shape.DType.IsInt() || shape.DType.IsFloat()) {
		err = errors.Wrapf(ErrUnsupportedDType, "Iota requires a number dtype, got %s", shape)
		return
	}
	if iotaAxis < 0 || iotaAxis >= shape.Rank() {
		err = errors.Wrapf(ErrShape, "Iota axis %d out-of-range for shape %s (rank %d)", iotaAxis, shape, shape.Rank())
		return
	}
	return shape.Clone(), nil
}
