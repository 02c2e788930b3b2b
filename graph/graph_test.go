package graph

import (
	"strconv"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazygraph/lazygraph/backends"
	"github.com/lazygraph/lazygraph/backends/goeval"
	"github.com/lazygraph/lazygraph/devices"
	"github.com/lazygraph/lazygraph/types/shapes"
)

// newTestEngine builds an engine on a goeval backend with the given number
// of virtual devices.
func newTestEngine(t *testing.T, numDevices int) *Engine {
	t.Helper()
	backend := must.M1(goeval.New(strconv.Itoa(numDevices)))
	t.Cleanup(backend.Finalize)
	return NewEngine(backend)
}

func cpu(ordinal int) devices.Device {
	return devices.New(devices.CPU, ordinal)
}

func TestBitwiseIdentity(t *testing.T) {
	// a ^ b == (a | b) & ^(a & b), elementwise.
	e := newTestEngine(t, 1)
	dev := cpu(0)
	a := FromFlat(e, dev, []uint8{0b1010, 0xFF, 0b0011, 0})
	b := FromFlat(e, dev, []uint8{0b0110, 0x0F, 0b0101, 0})

	and := BitwiseAnd(a, b)
	or := BitwiseOr(a, b)
	xor := BitwiseXor(a, b)
	identity := BitwiseAnd(or, BitwiseNot(and))

	assert.Equal(t, []uint8{0b0010, 0x0F, 0b0001, 0}, and.MaterializeOrPanic().Flat().([]uint8))
	assert.Equal(t, []uint8{0b1110, 0xFF, 0b0111, 0}, or.MaterializeOrPanic().Flat().([]uint8))
	xorValues := xor.MaterializeOrPanic().Flat().([]uint8)
	assert.Equal(t, []uint8{0b1100, 0xF0, 0b0110, 0}, xorValues)
	assert.Equal(t, xorValues, identity.MaterializeOrPanic().Flat().([]uint8))
}

func TestArithmeticAndIota(t *testing.T) {
	e := newTestEngine(t, 1)
	dev := cpu(0)

	iota := Iota(e, dev, shapes.Make(dtypes.Int32, 2, 3), 1)
	offset := FromScalar(e, dev, int32(10))
	sum := Add(iota, offset)
	assert.Equal(t, []int32{10, 11, 12, 10, 11, 12}, sum.MaterializeOrPanic().Flat().([]int32))

	neg := Neg(Sub(sum, Mul(offset, FromScalar(e, dev, int32(2)))))
	assert.Equal(t, []int32{10, 9, 8, 10, 9, 8}, neg.MaterializeOrPanic().Flat().([]int32))
}

func TestCrossTraceChaining(t *testing.T) {
	// A tensor computed by one trace is usable as an operand in the next:
	// it binds as a positional parameter.
	e := newTestEngine(t, 1)
	dev := cpu(0)

	x := Add(FromFlat(e, dev, []int64{1, 2}), FromFlat(e, dev, []int64{10, 20}))
	require.NoError(t, e.LazyTensorBarrier(&dev, nil, true))
	assert.True(t, x.handle == nil || x.handle.Done())

	y := Mul(x, FromScalar(e, dev, int64(3)))
	assert.Equal(t, []int64{33, 66}, y.MaterializeOrPanic().Flat().([]int64))
	// And the first result is still intact after being consumed.
	assert.Equal(t, []int64{11, 22}, x.MaterializeOrPanic().Flat().([]int64))
}

func TestSignature(t *testing.T) {
	build := func(dtype dtypes.DType, dims []int, opType backends.OpType, iotaAxis int) uint64 {
		trace := newTrace(cpu(0))
		shape := shapes.Make(dtype, dims...)
		lhs := trace.newParamNode(nil, shape)
		rhs := trace.newNode(backends.OpTypeIota, shape, nil, iotaAxis)
		out := trace.newNode(opType, shape, []*Node{lhs, rhs})
		return trace.Finalize([]*Node{out}).Signature()
	}

	base := build(dtypes.Int32, []int{2, 3}, backends.OpTypeAdd, 0)

	// Identical structure, identical signature, regardless of node identity.
	assert.Equal(t, base, build(dtypes.Int32, []int{2, 3}, backends.OpTypeAdd, 0))

	// Any structural difference changes it.
	assert.NotEqual(t, base, build(dtypes.Int64, []int{2, 3}, backends.OpTypeAdd, 0), "dtype")
	assert.NotEqual(t, base, build(dtypes.Int32, []int{3, 2}, backends.OpTypeAdd, 0), "dims")
	assert.NotEqual(t, base, build(dtypes.Int32, []int{2, 3}, backends.OpTypeMul, 0), "op kind")
	assert.NotEqual(t, base, build(dtypes.Int32, []int{2, 3}, backends.OpTypeAdd, 1), "op parameter")
}

func TestSignatureTopology(t *testing.T) {
	// Same multiset of ops, different operand wiring: signatures differ.
	build := func(swap bool) uint64 {
		trace := newTrace(cpu(0))
		shape := shapes.Make(dtypes.Int32, 2)
		p0 := trace.newParamNode(nil, shape)
		p1 := trace.newParamNode(nil, shape)
		var out *Node
		if swap {
			out = trace.newNode(backends.OpTypeSub, shape, []*Node{p1, p0})
		} else {
			out = trace.newNode(backends.OpTypeSub, shape, []*Node{p0, p1})
		}
		return trace.Finalize([]*Node{out}).Signature()
	}
	assert.NotEqual(t, build(false), build(true))
}

func TestCacheRoundTrip(t *testing.T) {
	e := newTestEngine(t, 1)
	dev := cpu(0)

	step := func(a, b []int32) []int32 {
		sum := Add(FromFlat(e, dev, a, 3), FromFlat(e, dev, b, 3))
		return sum.MaterializeOrPanic().Flat().([]int32)
	}

	// First step lowers; structurally identical steps with fresh data reuse
	// the cached Computation without re-lowering.
	assert.Equal(t, []int32{5, 7, 9}, step([]int32{1, 2, 3}, []int32{4, 5, 6}))
	require.EqualValues(t, 1, e.LoweringCalls())
	assert.Equal(t, []int32{11, 22, 33}, step([]int32{10, 20, 30}, []int32{1, 2, 3}))
	assert.Equal(t, []int32{0, 0, 0}, step([]int32{0, 0, 0}, []int32{0, 0, 0}))
	assert.EqualValues(t, 1, e.LoweringCalls())

	stats := e.CacheStats()
	assert.Equal(t, 1, stats.Size)
	assert.EqualValues(t, 2, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)

	// A structurally different trace misses.
	diff := Sub(FromFlat(e, dev, []int32{1, 2, 3}, 3), FromFlat(e, dev, []int32{4, 5, 6}, 3))
	assert.Equal(t, []int32{-3, -3, -3}, diff.MaterializeOrPanic().Flat().([]int32))
	assert.EqualValues(t, 2, e.LoweringCalls())
}

func TestTraceStateMachine(t *testing.T) {
	trace := newTrace(cpu(0))
	assert.Equal(t, TraceRecording, trace.State())

	shape := shapes.Make(dtypes.Int32, 2)
	n := trace.newNode(backends.OpTypeIota, shape, nil, 0)
	finalized := trace.Finalize([]*Node{n})
	assert.Equal(t, TraceFinalized, finalized.State())

	// No appends after finalize.
	assert.Panics(t, func() { trace.newNode(backends.OpTypeNeg, shape, []*Node{n}) })
	// No double finalize.
	assert.Panics(t, func() { trace.Finalize([]*Node{n}) })

	finalized.beginLowering()
	assert.Equal(t, TraceLowering, finalized.State())
	finalized.markCached()
	assert.Equal(t, TraceCached, finalized.State())
}

func TestConstructionFailuresAppendNothing(t *testing.T) {
	e := newTestEngine(t, 1)
	dev := cpu(0)
	a := FromFlat(e, dev, []int32{1, 2, 3})
	b := FromFlat(e, dev, []int64{1, 2, 3})
	bools := FromFlat(e, dev, []bool{true, false, true})

	ds := e.deviceState(dev)
	before := ds.trace.Len()

	assert.Panics(t, func() { BitwiseAnd(a, b) }, "dtype mismatch")
	assert.Panics(t, func() { BitwiseNot(bools) }, "bitwise on bool")
	assert.Panics(t, func() { Add(a, FromFlat(e, dev, []int32{1, 2})) }, "broadcast mismatch")
	assert.Panics(t, func() { Iota(e, dev, shapes.Make(dtypes.Float32, 2), 5) }, "axis out of range")

	// Failing constructors never leave partial nodes behind.
	assert.Equal(t, before, ds.trace.Len())
	assert.Equal(t, TraceRecording, ds.trace.State())
}

func TestCrossDeviceOperandsPanic(t *testing.T) {
	e := newTestEngine(t, 2)
	a := FromFlat(e, cpu(0), []int32{1})
	b := FromFlat(e, cpu(1), []int32{2})
	assert.Panics(t, func() { Add(a, b) })

	other := newTestEngine(t, 1)
	c := FromFlat(other, cpu(0), []int32{3})
	assert.Panics(t, func() { Add(a, c) })
}

func TestBarrier(t *testing.T) {
	e := newTestEngine(t, 2)
	dev0, dev1 := cpu(0), cpu(1)

	x := Add(FromFlat(e, dev0, []int32{1, 2}), FromFlat(e, dev0, []int32{3, 4}))
	y := Neg(FromFlat(e, dev1, []int32{5, 6}))

	ds0, ds1 := e.deviceState(dev0), e.deviceState(dev1)
	require.Greater(t, ds0.trace.Len(), 0)
	require.Greater(t, ds1.trace.Len(), 0)

	require.NoError(t, e.LazyTensorBarrier(nil, nil, true))

	// Every trace open before the barrier is finalized and a fresh one is
	// recording; every submitted execution has completed.
	assert.Equal(t, 0, ds0.trace.Len())
	assert.Equal(t, 0, ds1.trace.Len())
	assert.Equal(t, TraceRecording, ds0.trace.State())
	assert.Empty(t, ds0.inFlight)
	assert.Empty(t, ds1.inFlight)
	assert.True(t, x.handle == nil || x.handle.Done())
	assert.True(t, y.handle == nil || y.handle.Done())

	// Results are observable after the barrier without new submissions.
	lowered := e.LoweringCalls()
	assert.Equal(t, []int32{4, 6}, x.MaterializeOrPanic().Flat().([]int32))
	assert.Equal(t, []int32{-5, -6}, y.MaterializeOrPanic().Flat().([]int32))
	assert.Equal(t, lowered, e.LoweringCalls())

	// An append after the barrier starts over on the new trace.
	z := Add(x, x)
	assert.Equal(t, []int32{8, 12}, z.MaterializeOrPanic().Flat().([]int32))
}

func TestBarrierWithReplicationDevices(t *testing.T) {
	e := newTestEngine(t, 2)
	dev0, dev1 := cpu(0), cpu(1)

	list := devices.NewList(dev0, dev1)
	defer list.Release()
	e.SetReplicationDevices(list)

	got := e.GetReplicationDevices()
	require.NotNil(t, got)
	assert.Equal(t, 2, got.Len())
	got.Release()

	// The barrier reads the replication set when not given devices, even
	// for devices that never traced.
	x := Neg(FromFlat(e, dev0, []int32{7}))
	require.NoError(t, e.LazyTensorBarrier(nil, nil, true))
	assert.True(t, x.handle == nil || x.handle.Done())

	e.SetReplicationDevices(nil)
	assert.Nil(t, e.GetReplicationDevices())
}

func TestSyncLiveTensors(t *testing.T) {
	e := newTestEngine(t, 1)
	dev := cpu(0)
	x := Add(FromFlat(e, dev, []int32{1}), FromFlat(e, dev, []int32{2}))

	ds := e.deviceState(dev)
	require.Greater(t, ds.trace.Len(), 0)
	e.SyncLiveTensors(nil)
	assert.Equal(t, 0, ds.trace.Len())

	// Submitted without waiting; the value is still observable.
	assert.Equal(t, []int32{3}, x.MaterializeOrPanic().Flat().([]int32))
}

func TestExecutionErrorAttachesToHandle(t *testing.T) {
	e := newTestEngine(t, 1)
	dev := cpu(0)

	// Finalize the backend under the engine: execution fails, construction
	// already succeeded.
	x := Neg(FromFlat(e, dev, []int32{1, 2}))
	e.backend.Finalize()

	_, err := x.Materialize()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExecution))

	// A fresh trace on the device is unaffected by the failed one.
	ds := e.deviceState(dev)
	assert.Equal(t, TraceRecording, ds.trace.State())
}

func TestEngineDevices(t *testing.T) {
	e := newTestEngine(t, 3)
	list := e.Devices()
	defer list.Release()
	assert.Equal(t, 3, list.Len())
	assert.Equal(t, cpu(1), list.At(1))

	assert.Panics(t, func() { e.deviceState(cpu(7)) })
	assert.Panics(t, func() { e.deviceState(devices.New(devices.TPU, 0)) })
}

func TestNodeString(t *testing.T) {
	trace := newTrace(cpu(0))
	shape := shapes.Make(dtypes.Uint8, 4)
	p := trace.newParamNode(nil, shape)
	n := trace.newNode(backends.OpTypeBitwiseAnd, shape, []*Node{p, p})
	assert.Contains(t, n.String(), "BitwiseAnd(#0, #0)")
}
