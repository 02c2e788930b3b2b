package graph

import (
	"fmt"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"

	"github.com/lazygraph/lazygraph/backends"
	"github.com/lazygraph/lazygraph/devices"
	"github.com/lazygraph/lazygraph/types/shapes"
	"github.com/lazygraph/lazygraph/types/tensors"
)

// LazyTensor is a handle to a device tensor value that may not have been
// computed yet. Its shape and dtype are always known (shape inference runs
// at construction); the data exists only after the recording trace is
// executed.
//
// A LazyTensor moves through three states: recorded (its node sits in the
// device's open trace), scheduled (its trace was finalized and submitted, an
// ExecutionHandle will deliver the buffer) and materialized (the device
// buffer is available). Materialize and use as an operand are valid in any
// state.
type LazyTensor struct {
	engine *Engine
	device devices.Device
	shape  shapes.Shape

	mu        sync.Mutex
	node      *Node
	handle    *ExecutionHandle
	outputIdx int
	buffer    backends.Buffer
}

// Shape of the tensor, known at construction time.
func (lt *LazyTensor) Shape() shapes.Shape { return lt.shape }

// DType of the tensor elements.
func (lt *LazyTensor) DType() dtypes.DType { return lt.shape.DType }

// Device holding (or to hold) the tensor value.
func (lt *LazyTensor) Device() devices.Device { return lt.device }

// Engine the tensor belongs to.
func (lt *LazyTensor) Engine() *Engine { return lt.engine }

// IsMaterialized reports whether the device buffer is already available,
// without forcing execution.
func (lt *LazyTensor) IsMaterialized() bool {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return lt.buffer != nil
}

// String implements fmt.Stringer.
func (lt *LazyTensor) String() string {
	state := "recorded"
	lt.mu.Lock()
	if lt.buffer != nil {
		state = "materialized"
	} else if lt.handle != nil {
		state = "scheduled"
	}
	lt.mu.Unlock()
	return fmt.Sprintf("LazyTensor(%s on %s, %s)", lt.shape, lt.device, state)
}

// FromBuffer uploads a host buffer to the device and returns the handle to
// the device-resident copy. The upload is eager; the host buffer can be
// reused immediately.
func (e *Engine) FromBuffer(device devices.Device, host *tensors.Buffer) (*LazyTensor, error) {
	deviceNum := e.deviceNum(device)
	buffer, err := e.backend.FromHost(deviceNum, host)
	if err != nil {
		return nil, errors.WithMessagef(err, "uploading %s to %s", host.Shape(), device)
	}
	return &LazyTensor{
		engine: e,
		device: device,
		shape:  host.Shape(),
		buffer: buffer,
	}, nil
}

// FromFlat uploads a row-major tensor with the given dimensions to the
// device of the engine. It panics on upload failure (construction-time
// errors are synchronous).
func FromFlat[T dtypes.Supported](e *Engine, device devices.Device, flat []T, dims ...int) *LazyTensor {
	lt, err := e.FromBuffer(device, tensors.FromFlat(flat, dims...))
	if err != nil {
		exceptions.Panicf("%+v", err)
	}
	return lt
}

// FromScalar uploads a scalar value to the device.
func FromScalar[T dtypes.Supported](e *Engine, device devices.Device, value T) *LazyTensor {
	return FromFlat(e, device, []T{value})
}

// Materialize forces the tensor's value: it finalizes and submits the open
// trace if the tensor is still being recorded, waits for the execution and
// downloads the result into a fresh host buffer.
func (lt *LazyTensor) Materialize() (*tensors.Buffer, error) {
	buffer, err := lt.deviceBuffer()
	if err != nil {
		return nil, err
	}
	host, err := lt.engine.backend.ToHost(buffer)
	if err != nil {
		return nil, errors.Wrapf(ErrExecution, "downloading %s from %s: %v", lt.shape, lt.device, err)
	}
	return host, nil
}

// MaterializeOrPanic is Materialize for contexts where errors are
// exceptional, e.g. examples and tests.
func (lt *LazyTensor) MaterializeOrPanic() *tensors.Buffer {
	host, err := lt.Materialize()
	if err != nil {
		exceptions.Panicf("%+v", err)
	}
	return host
}

// deviceBuffer returns the device buffer of the tensor, forcing trace
// submission and waiting for execution as needed.
func (lt *LazyTensor) deviceBuffer() (backends.Buffer, error) {
	lt.mu.Lock()
	if lt.buffer != nil {
		defer lt.mu.Unlock()
		return lt.buffer, nil
	}
	handle := lt.handle
	lt.mu.Unlock()

	if handle == nil {
		// Still recorded: force the open trace of its device.
		lt.engine.flush(lt.engine.deviceState(lt.device))
		lt.mu.Lock()
		handle = lt.handle
		lt.mu.Unlock()
		if handle == nil {
			return nil, errors.Wrapf(ErrConsistency, "tensor %s was never scheduled", lt)
		}
	}

	result := handle.wait()
	if result.err != nil {
		return nil, result.err
	}
	lt.mu.Lock()
	defer lt.mu.Unlock()
	if lt.buffer == nil {
		lt.buffer = result.outputs[lt.outputIdx]
		lt.node = nil
		lt.handle = nil
	}
	return lt.buffer, nil
}

// operandNode returns, under the device lock, the node representing this
// tensor inside the open trace: the tensor's own node when it is being
// recorded there, otherwise a parameter node binding the tensor's (current
// or future) device buffer. The binding is memoized per open trace.
func (lt *LazyTensor) operandNode(ds *deviceState) *Node {
	lt.mu.Lock()
	node := lt.node
	lt.mu.Unlock()
	if node != nil && node.trace == ds.trace {
		return node
	}
	if bound, found := ds.bindings[lt]; found {
		return bound
	}
	bound := ds.trace.newParamNode(lt, lt.shape)
	ds.bindings[lt] = bound
	return bound
}
