package graph

import (
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/lazygraph/lazygraph/backends"
	"github.com/lazygraph/lazygraph/backends/shapeinference"
	"github.com/lazygraph/lazygraph/devices"
	"github.com/lazygraph/lazygraph/types/shapes"
)

// Op constructors never execute: they validate operands, run shape
// inference and append one node to the device's open trace. Invalid
// operands (shape/dtype mismatches, cross-device or cross-engine mixes) are
// hard precondition failures and panic with a wrapped error before anything
// is appended.

// registerPending appends the node's result tensor to the trace outputs.
// Caller holds ds.mu.
func (ds *deviceState) registerPending(e *Engine, node *Node) *LazyTensor {
	lt := &LazyTensor{
		engine: e,
		device: ds.device,
		shape:  node.shape,
		node:   node,
	}
	ds.pending = append(ds.pending, lt)
	return lt
}

func checkSameEngineAndDevice(opType backends.OpType, lhs, rhs *LazyTensor) {
	if lhs.engine != rhs.engine {
		exceptions.Panicf("%+v",
			errors.Wrapf(ErrConsistency, "op %s: operands belong to different engines", opType))
	}
	if lhs.device != rhs.device {
		exceptions.Panicf("%+v",
			errors.Wrapf(ErrConsistency, "op %s: operands live on different devices (%s and %s)",
				opType, lhs.device, rhs.device))
	}
}

func binaryOp(opType backends.OpType, lhs, rhs *LazyTensor) *LazyTensor {
	checkSameEngineAndDevice(opType, lhs, rhs)
	outShape, err := shapeinference.BinaryOp(opType, lhs.shape, rhs.shape)
	if err != nil {
		exceptions.Panicf("%+v", err)
	}
	e := lhs.engine
	ds := e.deviceState(lhs.device)
	ds.mu.Lock()
	defer ds.mu.Unlock()
	inputs := []*Node{lhs.operandNode(ds), rhs.operandNode(ds)}
	return ds.registerPending(e, ds.trace.newNode(opType, outShape, inputs))
}

func unaryOp(opType backends.OpType, x *LazyTensor) *LazyTensor {
	outShape, err := shapeinference.UnaryOp(opType, x.shape)
	if err != nil {
		exceptions.Panicf("%+v", err)
	}
	e := x.engine
	ds := e.deviceState(x.device)
	ds.mu.Lock()
	defer ds.mu.Unlock()
	inputs := []*Node{x.operandNode(ds)}
	return ds.registerPending(e, ds.trace.newNode(opType, outShape, inputs))
}

// Add returns lhs+rhs elementwise, with standard broadcasting. Operands
// must share the dtype (a number type).
func Add(lhs, rhs *LazyTensor) *LazyTensor { return binaryOp(backends.OpTypeAdd, lhs, rhs) }

// Sub returns lhs-rhs elementwise, with standard broadcasting.
func Sub(lhs, rhs *LazyTensor) *LazyTensor { return binaryOp(backends.OpTypeSub, lhs, rhs) }

// Mul returns lhs*rhs elementwise, with standard broadcasting.
func Mul(lhs, rhs *LazyTensor) *LazyTensor { return binaryOp(backends.OpTypeMul, lhs, rhs) }

// Neg returns -x elementwise.
func Neg(x *LazyTensor) *LazyTensor { return unaryOp(backends.OpTypeNeg, x) }

// BitwiseAnd returns lhs&rhs elementwise. Operands must share an integer
// dtype.
func BitwiseAnd(lhs, rhs *LazyTensor) *LazyTensor {
	return binaryOp(backends.OpTypeBitwiseAnd, lhs, rhs)
}

// BitwiseOr returns lhs|rhs elementwise. Operands must share an integer
// dtype.
func BitwiseOr(lhs, rhs *LazyTensor) *LazyTensor {
	return binaryOp(backends.OpTypeBitwiseOr, lhs, rhs)
}

// BitwiseXor returns lhs^rhs elementwise. Operands must share an integer
// dtype.
func BitwiseXor(lhs, rhs *LazyTensor) *LazyTensor {
	return binaryOp(backends.OpTypeBitwiseXor, lhs, rhs)
}

// BitwiseNot returns ^x elementwise, for integer dtypes.
func BitwiseNot(x *LazyTensor) *LazyTensor { return unaryOp(backends.OpTypeBitwiseNot, x) }

// ShiftLeft returns lhs shifted left by rhs bits, elementwise. The behavior
// for negative or overlong shift counts is backend-defined.
func ShiftLeft(lhs, rhs *LazyTensor) *LazyTensor {
	return binaryOp(backends.OpTypeShiftLeft, lhs, rhs)
}

// ShiftRightArithmetic shifts right preserving the sign bit.
func ShiftRightArithmetic(lhs, rhs *LazyTensor) *LazyTensor {
	return binaryOp(backends.OpTypeShiftRightArithmetic, lhs, rhs)
}

// ShiftRightLogical shifts right filling with zeros.
func ShiftRightLogical(lhs, rhs *LazyTensor) *LazyTensor {
	return binaryOp(backends.OpTypeShiftRightLogical, lhs, rhs)
}

// LogicalAnd returns lhs&&rhs elementwise, for Bool operands.
func LogicalAnd(lhs, rhs *LazyTensor) *LazyTensor {
	return binaryOp(backends.OpTypeLogicalAnd, lhs, rhs)
}

// LogicalOr returns lhs||rhs elementwise, for Bool operands.
func LogicalOr(lhs, rhs *LazyTensor) *LazyTensor {
	return binaryOp(backends.OpTypeLogicalOr, lhs, rhs)
}

// LogicalXor returns lhs!=rhs elementwise, for Bool operands.
func LogicalXor(lhs, rhs *LazyTensor) *LazyTensor {
	return binaryOp(backends.OpTypeLogicalXor, lhs, rhs)
}

// LogicalNot returns !x elementwise, for Bool operands.
func LogicalNot(x *LazyTensor) *LazyTensor { return unaryOp(backends.OpTypeLogicalNot, x) }

// Iota records a generated tensor of the given shape with values
// 0, 1, 2, ... along iotaAxis, repeated across the other axes.
func Iota(e *Engine, device devices.Device, shape shapes.Shape, iotaAxis int) *LazyTensor {
	outShape, err := shapeinference.IotaOp(shape, iotaAxis)
	if err != nil {
		exceptions.Panicf("%+v", err)
	}
	ds := e.deviceState(device)
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.registerPending(e, ds.trace.newNode(backends.OpTypeIota, outShape, nil, iotaAxis))
}
