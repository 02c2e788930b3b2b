package goeval

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazygraph/lazygraph/backends"
	"github.com/lazygraph/lazygraph/types/shapes"
	"github.com/lazygraph/lazygraph/types/tensors"
)

func newTestBackend(t *testing.T, config string) *Backend {
	t.Helper()
	backend, err := New(config)
	require.NoError(t, err)
	t.Cleanup(backend.Finalize)
	return backend.(*Backend)
}

func TestNewConfig(t *testing.T) {
	backend := newTestBackend(t, "")
	assert.Equal(t, backends.DeviceNum(1), backend.NumDevices())

	backend = newTestBackend(t, "4")
	assert.Equal(t, backends.DeviceNum(4), backend.NumDevices())

	_, err := New("zero")
	require.Error(t, err)
	_, err = New("0")
	require.Error(t, err)
}

func TestDataTransfer(t *testing.T) {
	backend := newTestBackend(t, "2")
	host := tensors.FromFlat([]int32{1, 2, 3, 4, 5, 6}, 2, 3)
	buf := must.M1(backend.FromHost(1, host))

	shape := must.M1(backend.BufferShape(buf))
	assert.True(t, shape.Equal(host.Shape()))

	// The device copy must not alias the host buffer.
	host.Flat().([]int32)[0] = 99
	back := must.M1(backend.ToHost(buf))
	assert.Equal(t, []int32{1, 2, 3, 4, 5, 6}, back.Flat().([]int32))

	// Non-row-major host buffers are normalized on upload.
	colMajor := tensors.NewBufferWithLayout(shapes.Make(dtypes.Int32, 2, 3), []int{0, 1})
	copy(colMajor.Flat().([]int32), []int32{1, 4, 2, 5, 3, 6})
	buf2 := must.M1(backend.FromHost(0, colMajor))
	back2 := must.M1(backend.ToHost(buf2))
	assert.Equal(t, []int32{1, 2, 3, 4, 5, 6}, back2.Flat().([]int32))

	// Out-of-range device.
	_, err := backend.FromHost(2, host)
	require.Error(t, err)

	// Finalized buffers are not usable.
	require.NoError(t, backend.BufferFinalize(buf))
	_, err = backend.ToHost(buf)
	require.Error(t, err)
}

// compile builds a single-output computation with the given body.
func compile(t *testing.T, backend *Backend, body func(b backends.Builder) backends.Op) backends.Executable {
	t.Helper()
	builder := backend.Builder(t.Name())
	out := body(builder)
	return must.M1(builder.Compile(out))
}

// run executes a single-output executable feeding the given host inputs.
func run(t *testing.T, backend *Backend, exec backends.Executable, inputs ...*tensors.Buffer) *tensors.Buffer {
	t.Helper()
	deviceInputs := make([]backends.Buffer, len(inputs))
	for ii, input := range inputs {
		deviceInputs[ii] = must.M1(backend.FromHost(0, input))
	}
	outputs := must.M1(exec.Execute(0, deviceInputs...))
	require.Len(t, outputs, 1)
	return must.M1(backend.ToHost(outputs[0]))
}

func TestExecuteBitwise(t *testing.T) {
	backend := newTestBackend(t, "")
	exec := compile(t, backend, func(b backends.Builder) backends.Op {
		lhs := must.M1(b.Parameter("lhs", shapes.Make(dtypes.Uint8, 4)))
		rhs := must.M1(b.Parameter("rhs", shapes.Make(dtypes.Uint8, 4)))
		return must.M1(b.BinaryOp(backends.OpTypeBitwiseXor, lhs, rhs))
	})
	names, inputShapes := exec.Inputs()
	assert.Equal(t, []string{"lhs", "rhs"}, names)
	require.Len(t, inputShapes, 2)

	got := run(t, backend, exec,
		tensors.FromFlat([]uint8{0b1010, 0xFF, 0, 7}, 4),
		tensors.FromFlat([]uint8{0b0110, 0x0F, 0, 1}, 4))
	assert.Equal(t, []uint8{0b1100, 0xF0, 0, 6}, got.Flat().([]uint8))
}

func TestExecuteShifts(t *testing.T) {
	backend := newTestBackend(t, "")
	for _, test := range []struct {
		opType backends.OpType
		want   []int32
	}{
		{backends.OpTypeShiftLeft, []int32{4, -4, 16}},
		{backends.OpTypeShiftRightArithmetic, []int32{0, -1, 1}},
		{backends.OpTypeShiftRightLogical, []int32{0, 2147483647, 1}},
	} {
		t.Run(test.opType.String(), func(t *testing.T) {
			exec := compile(t, backend, func(b backends.Builder) backends.Op {
				x := must.M1(b.Parameter("x", shapes.Make(dtypes.Int32, 3)))
				n := must.M1(b.Parameter("n", shapes.Make(dtypes.Int32, 3)))
				return must.M1(b.BinaryOp(test.opType, x, n))
			})
			got := run(t, backend, exec,
				tensors.FromFlat([]int32{1, -2, 4}, 3),
				tensors.FromFlat([]int32{2, 1, 2}, 3))
			assert.Equal(t, test.want, got.Flat().([]int32))
		})
	}
}

func TestExecuteBroadcast(t *testing.T) {
	backend := newTestBackend(t, "")
	exec := compile(t, backend, func(b backends.Builder) backends.Op {
		matrix := must.M1(b.Parameter("matrix", shapes.Make(dtypes.Float32, 2, 3)))
		row := must.M1(b.Parameter("row", shapes.Make(dtypes.Float32, 1, 3)))
		scalar := must.M1(b.Parameter("scalar", shapes.Make(dtypes.Float32)))
		sum := must.M1(b.BinaryOp(backends.OpTypeAdd, matrix, row))
		return must.M1(b.BinaryOp(backends.OpTypeMul, sum, scalar))
	})
	got := run(t, backend, exec,
		tensors.FromFlat([]float32{1, 2, 3, 4, 5, 6}, 2, 3),
		tensors.FromFlat([]float32{10, 20, 30}, 1, 3),
		tensors.FromScalar[float32](2))
	assert.Equal(t, []float32{22, 44, 66, 28, 50, 72}, got.Flat().([]float32))
}

func TestExecuteUnaryAndLogical(t *testing.T) {
	backend := newTestBackend(t, "")

	exec := compile(t, backend, func(b backends.Builder) backends.Op {
		x := must.M1(b.Parameter("x", shapes.Make(dtypes.Int16, 3)))
		return must.M1(b.UnaryOp(backends.OpTypeBitwiseNot, x))
	})
	got := run(t, backend, exec, tensors.FromFlat([]int16{0, -1, 5}, 3))
	assert.Equal(t, []int16{-1, 0, -6}, got.Flat().([]int16))

	exec = compile(t, backend, func(b backends.Builder) backends.Op {
		x := must.M1(b.Parameter("x", shapes.Make(dtypes.Bool, 4)))
		y := must.M1(b.Parameter("y", shapes.Make(dtypes.Bool, 4)))
		xor := must.M1(b.BinaryOp(backends.OpTypeLogicalXor, x, y))
		return must.M1(b.UnaryOp(backends.OpTypeLogicalNot, xor))
	})
	got = run(t, backend, exec,
		tensors.FromFlat([]bool{true, true, false, false}, 4),
		tensors.FromFlat([]bool{true, false, true, false}, 4))
	assert.Equal(t, []bool{true, false, false, true}, got.Flat().([]bool))
}

func TestExecuteIota(t *testing.T) {
	backend := newTestBackend(t, "")
	exec := compile(t, backend, func(b backends.Builder) backends.Op {
		return must.M1(b.Iota(shapes.Make(dtypes.Int64, 2, 3), 1))
	})
	got := run(t, backend, exec)
	assert.Equal(t, []int64{0, 1, 2, 0, 1, 2}, got.Flat().([]int64))

	exec = compile(t, backend, func(b backends.Builder) backends.Op {
		return must.M1(b.Iota(shapes.Make(dtypes.Float32, 3, 2), 0))
	})
	got = run(t, backend, exec)
	assert.Equal(t, []float32{0, 0, 1, 1, 2, 2}, got.Flat().([]float32))
}

func TestBuilderValidation(t *testing.T) {
	backend := newTestBackend(t, "")
	builder := backend.Builder("validation")
	x := must.M1(builder.Parameter("x", shapes.Make(dtypes.Float32, 2)))

	// Dtype class mismatch surfaces at build time.
	_, err := builder.UnaryOp(backends.OpTypeBitwiseNot, x)
	require.Error(t, err)

	// Ops from another builder are rejected.
	other := backend.Builder("other")
	_, err = other.UnaryOp(backends.OpTypeNeg, x)
	require.Error(t, err)

	// The builder is invalid after Compile.
	_ = must.M1(builder.Compile(x))
	_, err = builder.UnaryOp(backends.OpTypeNeg, x)
	require.Error(t, err)
}

func TestExecuteInputValidation(t *testing.T) {
	backend := newTestBackend(t, "")
	exec := compile(t, backend, func(b backends.Builder) backends.Op {
		x := must.M1(b.Parameter("x", shapes.Make(dtypes.Int32, 2)))
		return must.M1(b.UnaryOp(backends.OpTypeNeg, x))
	})

	_, err := exec.Execute(0)
	require.Error(t, err)

	buf := must.M1(backend.FromHost(0, tensors.FromFlat([]int32{1, 2, 3}, 3)))
	_, err = exec.Execute(0, buf)
	require.Error(t, err)
}
