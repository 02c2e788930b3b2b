package goeval

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"

	"github.com/lazygraph/lazygraph/backends"
	"github.com/lazygraph/lazygraph/types/shapes"
	"github.com/lazygraph/lazygraph/types/tensors"
)

// Device buffers are always row-major, so kernels only deal in flat slices
// plus the implicit broadcasting of dim-1 axes.

// broadcastIterator yields, per output element in row-major order, the flat
// index into an operand whose dim-1 axes (or scalar shape) broadcast against
// the output dimensions.
type broadcastIterator struct {
	dims    []int
	strides []int // 0 on broadcast axes
	indices []int
	flatIdx int
}

func newBroadcastIterator(operandDims, outDims []int) *broadcastIterator {
	bi := &broadcastIterator{
		dims:    outDims,
		strides: make([]int, len(outDims)),
		indices: make([]int, len(outDims)),
	}
	if len(operandDims) == 0 {
		// Scalar operand: all strides stay 0.
		return bi
	}
	stride := 1
	for axis := len(outDims) - 1; axis >= 0; axis-- {
		if operandDims[axis] == outDims[axis] {
			bi.strides[axis] = stride
		}
		stride *= operandDims[axis]
	}
	return bi
}

func (bi *broadcastIterator) next() int {
	idx := bi.flatIdx
	for axis := len(bi.dims) - 1; axis >= 0; axis-- {
		bi.indices[axis]++
		bi.flatIdx += bi.strides[axis]
		if bi.indices[axis] < bi.dims[axis] {
			break
		}
		bi.indices[axis] = 0
		bi.flatIdx -= bi.strides[axis] * bi.dims[axis]
	}
	return idx
}

// binaryKernel evaluates fn elementwise with broadcasting, writing into out.
func binaryKernel[T any](fn func(a, b T) T, lhs, rhs, out *tensors.Buffer) {
	lhsFlat := lhs.Flat().([]T)
	rhsFlat := rhs.Flat().([]T)
	outFlat := out.Flat().([]T)
	if lhs.Shape().EqualDimensions(out.Shape()) && rhs.Shape().EqualDimensions(out.Shape()) {
		for ii := range outFlat {
			outFlat[ii] = fn(lhsFlat[ii], rhsFlat[ii])
		}
		return
	}
	outDims := out.Shape().Dimensions
	lhsIt := newBroadcastIterator(lhs.Shape().Dimensions, outDims)
	rhsIt := newBroadcastIterator(rhs.Shape().Dimensions, outDims)
	for ii := range outFlat {
		outFlat[ii] = fn(lhsFlat[lhsIt.next()], rhsFlat[rhsIt.next()])
	}
}

func unaryKernel[T any](fn func(T) T, x, out *tensors.Buffer) {
	xFlat := x.Flat().([]T)
	outFlat := out.Flat().([]T)
	for ii := range outFlat {
		outFlat[ii] = fn(xFlat[ii])
	}
}

// intBinaryFn returns the elementwise function for opType on an integer
// type, or nil if the op doesn't apply. U is the same-width unsigned type,
// used for the logical right shift and to sanitize shift counts.
func intBinaryFn[T constraints.Integer, U constraints.Unsigned](opType backends.OpType) func(a, b T) T {
	switch opType {
	case backends.OpTypeAdd:
		return func(a, b T) T { return a + b }
	case backends.OpTypeSub:
		return func(a, b T) T { return a - b }
	case backends.OpTypeMul:
		return func(a, b T) T { return a * b }
	case backends.OpTypeBitwiseAnd:
		return func(a, b T) T { return a & b }
	case backends.OpTypeBitwiseOr:
		return func(a, b T) T { return a | b }
	case backends.OpTypeBitwiseXor:
		return func(a, b T) T { return a ^ b }
	case backends.OpTypeShiftLeft:
		return func(a, b T) T { return a << U(b) }
	case backends.OpTypeShiftRightArithmetic:
		return func(a, b T) T { return a >> U(b) }
	case backends.OpTypeShiftRightLogical:
		return func(a, b T) T { return T(U(a) >> U(b)) }
	}
	return nil
}

func floatBinaryFn[T constraints.Float](opType backends.OpType) func(a, b T) T {
	switch opType {
	case backends.OpTypeAdd:
		return func(a, b T) T { return a + b }
	case backends.OpTypeSub:
		return func(a, b T) T { return a - b }
	case backends.OpTypeMul:
		return func(a, b T) T { return a * b }
	}
	return nil
}

func boolBinaryFn(opType backends.OpType) func(a, b bool) bool {
	switch opType {
	case backends.OpTypeLogicalAnd:
		return func(a, b bool) bool { return a && b }
	case backends.OpTypeLogicalOr:
		return func(a, b bool) bool { return a || b }
	case backends.OpTypeLogicalXor:
		return func(a, b bool) bool { return a != b }
	}
	return nil
}

func float16BinaryFn(opType backends.OpType) func(a, b float16.Float16) float16.Float16 {
	fn := floatBinaryFn[float32](opType)
	if fn == nil {
		return nil
	}
	return func(a, b float16.Float16) float16.Float16 {
		return float16.Fromfloat32(fn(a.Float32(), b.Float32()))
	}
}

func bfloat16BinaryFn(opType backends.OpType) func(a, b bfloat16.BFloat16) bfloat16.BFloat16 {
	fn := floatBinaryFn[float32](opType)
	if fn == nil {
		return nil
	}
	return func(a, b bfloat16.BFloat16) bfloat16.BFloat16 {
		return bfloat16.FromFloat32(fn(a.Float32(), b.Float32()))
	}
}

func errNotImplemented(opType backends.OpType, dtype dtypes.DType) error {
	return errors.Errorf("op %s not implemented by the goeval backend for dtype %s", opType, dtype)
}

// binaryDispatch applies the kernel if the op/dtype combination is
// supported.
func binaryDispatch[T any](fn func(a, b T) T, opType backends.OpType, lhs, rhs, out *tensors.Buffer) error {
	if fn == nil {
		return errNotImplemented(opType, out.DType())
	}
	binaryKernel(fn, lhs, rhs, out)
	return nil
}

func execBinary(opType backends.OpType, lhs, rhs *tensors.Buffer, outShape shapes.Shape) (*tensors.Buffer, error) {
	out := tensors.NewBuffer(outShape)
	var err error
	switch outShape.DType {
	case dtypes.Bool:
		err = binaryDispatch(boolBinaryFn(opType), opType, lhs, rhs, out)
	case dtypes.Int8:
		err = binaryDispatch(intBinaryFn[int8, uint8](opType), opType, lhs, rhs, out)
	case dtypes.Int16:
		err = binaryDispatch(intBinaryFn[int16, uint16](opType), opType, lhs, rhs, out)
	case dtypes.Int32:
		err = binaryDispatch(intBinaryFn[int32, uint32](opType), opType, lhs, rhs, out)
	case dtypes.Int64:
		err = binaryDispatch(intBinaryFn[int64, uint64](opType), opType, lhs, rhs, out)
	case dtypes.Uint8:
		err = binaryDispatch(intBinaryFn[uint8, uint8](opType), opType, lhs, rhs, out)
	case dtypes.Uint16:
		err = binaryDispatch(intBinaryFn[uint16, uint16](opType), opType, lhs, rhs, out)
	case dtypes.Uint32:
		err = binaryDispatch(intBinaryFn[uint32, uint32](opType), opType, lhs, rhs, out)
	case dtypes.Uint64:
		err = binaryDispatch(intBinaryFn[uint64, uint64](opType), opType, lhs, rhs, out)
	case dtypes.Float32:
		err = binaryDispatch(floatBinaryFn[float32](opType), opType, lhs, rhs, out)
	case dtypes.Float64:
		err = binaryDispatch(floatBinaryFn[float64](opType), opType, lhs, rhs, out)
	case dtypes.Float16:
		err = binaryDispatch(float16BinaryFn(opType), opType, lhs, rhs, out)
	case dtypes.BFloat16:
		err = binaryDispatch(bfloat16BinaryFn(opType), opType, lhs, rhs, out)
	default:
		err = errNotImplemented(opType, outShape.DType)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func intUnaryFn[T constraints.Integer](opType backends.OpType) func(T) T {
	switch opType {
	case backends.OpTypeNeg:
		return func(a T) T { return -a }
	case backends.OpTypeBitwiseNot:
		return func(a T) T { return ^a }
	}
	return nil
}

func floatUnaryFn[T constraints.Float](opType backends.OpType) func(T) T {
	if opType == backends.OpTypeNeg {
		return func(a T) T { return -a }
	}
	return nil
}

func boolUnaryFn(opType backends.OpType) func(bool) bool {
	if opType == backends.OpTypeLogicalNot {
		return func(a bool) bool { return !a }
	}
	return nil
}

func float16UnaryFn(opType backends.OpType) func(float16.Float16) float16.Float16 {
	fn := floatUnaryFn[float32](opType)
	if fn == nil {
		return nil
	}
	return func(a float16.Float16) float16.Float16 {
		return float16.Fromfloat32(fn(a.Float32()))
	}
}

func bfloat16UnaryFn(opType backends.OpType) func(bfloat16.BFloat16) bfloat16.BFloat16 {
	fn := floatUnaryFn[float32](opType)
	if fn == nil {
		return nil
	}
	return func(a bfloat16.BFloat16) bfloat16.BFloat16 {
		return bfloat16.FromFloat32(fn(a.Float32()))
	}
}

func unaryDispatch[T any](fn func(T) T, opType backends.OpType, x, out *tensors.Buffer) error {
	if fn == nil {
		return errNotImplemented(opType, out.DType())
	}
	unaryKernel(fn, x, out)
	return nil
}

func execUnary(opType backends.OpType, x *tensors.Buffer) (*tensors.Buffer, error) {
	out := tensors.NewBuffer(x.Shape())
	var err error
	switch x.DType() {
	case dtypes.Bool:
		err = unaryDispatch(boolUnaryFn(opType), opType, x, out)
	case dtypes.Int8:
		err = unaryDispatch(intUnaryFn[int8](opType), opType, x, out)
	case dtypes.Int16:
		err = unaryDispatch(intUnaryFn[int16](opType), opType, x, out)
	case dtypes.Int32:
		err = unaryDispatch(intUnaryFn[int32](opType), opType, x, out)
	case dtypes.Int64:
		err = unaryDispatch(intUnaryFn[int64](opType), opType, x, out)
	case dtypes.Uint8:
		err = unaryDispatch(intUnaryFn[uint8](opType), opType, x, out)
	case dtypes.Uint16:
		err = unaryDispatch(intUnaryFn[uint16](opType), opType, x, out)
	case dtypes.Uint32:
		err = unaryDispatch(intUnaryFn[uint32](opType), opType, x, out)
	case dtypes.Uint64:
		err = unaryDispatch(intUnaryFn[uint64](opType), opType, x, out)
	case dtypes.Float32:
		err = unaryDispatch(floatUnaryFn[float32](opType), opType, x, out)
	case dtypes.Float64:
		err = unaryDispatch(floatUnaryFn[float64](opType), opType, x, out)
	case dtypes.Float16:
		err = unaryDispatch(float16UnaryFn(opType), opType, x, out)
	case dtypes.BFloat16:
		err = unaryDispatch(bfloat16UnaryFn(opType), opType, x, out)
	default:
		err = errNotImplemented(opType, x.DType())
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func iotaFill[T constraints.Integer | constraints.Float](flat []T, stride, dim int) {
	for ii := range flat {
		flat[ii] = T((ii / stride) % dim)
	}
}

func execIota(shape shapes.Shape, iotaAxis int) (*tensors.Buffer, error) {
	out := tensors.NewBuffer(shape)
	// Row-major stride of the iota axis.
	stride := 1
	for axis := shape.Rank() - 1; axis > iotaAxis; axis-- {
		stride *= shape.Dimensions[axis]
	}
	dim := shape.Dimensions[iotaAxis]
	switch flat := out.Flat().(type) {
	case []int8:
		iotaFill(flat, stride, dim)
	case []int16:
		iotaFill(flat, stride, dim)
	case []int32:
		iotaFill(flat, stride, dim)
	case []int64:
		iotaFill(flat, stride, dim)
	case []uint8:
		iotaFill(flat, stride, dim)
	case []uint16:
		iotaFill(flat, stride, dim)
	case []uint32:
		iotaFill(flat, stride, dim)
	case []uint64:
		iotaFill(flat, stride, dim)
	case []float32:
		iotaFill(flat, stride, dim)
	case []float64:
		iotaFill(flat, stride, dim)
	case []float16.Float16:
		for ii := range flat {
			flat[ii] = float16.Fromfloat32(float32((ii / stride) % dim))
		}
	case []bfloat16.BFloat16:
		for ii := range flat {
			flat[ii] = bfloat16.FromFloat32(float32((ii / stride) % dim))
		}
	default:
		return nil, errNotImplemented(backends.OpTypeIota, shape.DType)
	}
	return out, nil
}
