// Package goeval implements a pure-Go interpreter backend.
//
// It is slow but has no external dependencies, so it serves as the default
// backend and as the reference implementation the others are checked
// against. It supports any number of virtual devices, each holding its own
// buffers; they all execute on the host CPU.
package goeval

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"

	"github.com/lazygraph/lazygraph/backends"
	"github.com/lazygraph/lazygraph/types/shapes"
	"github.com/lazygraph/lazygraph/types/tensors"
)

// BackendName to be used in LAZYGRAPH_BACKEND to select this backend.
const BackendName = "goeval"

func init() {
	backends.Register(BackendName, New)
}

// New constructs a goeval Backend. The configuration, if not empty, is the
// number of virtual devices to expose (default 1).
func New(config string) (backends.Backend, error) {
	numDevices := 1
	if config != "" {
		var err error
		numDevices, err = strconv.Atoi(config)
		if err != nil || numDevices < 1 {
			return nil, errors.Errorf("goeval configuration must be a positive number of virtual devices, got %q", config)
		}
	}
	return &Backend{numDevices: backends.DeviceNum(numDevices)}, nil
}

// Backend implements the backends.Backend interface by interpreting the
// computation on the host.
type Backend struct {
	numDevices backends.DeviceNum
	finalized  bool
}

// Compile-time check.
var _ backends.Backend = &Backend{}

// Name of the backend.
func (b *Backend) Name() string { return BackendName }

// Description of the Backend for pretty-printing.
func (b *Backend) Description() string {
	return fmt.Sprintf("Pure Go interpreter (%d virtual devices)", b.numDevices)
}

// NumDevices returns the number of virtual devices configured.
func (b *Backend) NumDevices() backends.DeviceNum { return b.numDevices }

// Builder creates a new builder used to define a new named computation.
func (b *Backend) Builder(name string) backends.Builder {
	return newBuilder(b, name)
}

// Finalize makes the backend invalid. goeval holds no off-heap resources, so
// this only flips the flag checked by later calls.
func (b *Backend) Finalize() { b.finalized = true }

// deviceBuffer is goeval's backends.Buffer: host memory tagged with the
// virtual device that owns it. Kept in row-major layout.
type deviceBuffer struct {
	backend   *Backend
	deviceNum backends.DeviceNum
	data      *tensors.Buffer
	finalized bool
}

func (b *Backend) checkValid() error {
	if b.finalized {
		return errors.Errorf("goeval backend already finalized")
	}
	return nil
}

func (b *Backend) checkDeviceNum(deviceNum backends.DeviceNum) error {
	if deviceNum < 0 || deviceNum >= b.numDevices {
		return errors.Errorf("deviceNum %d out-of-range, goeval backend has %d devices", deviceNum, b.numDevices)
	}
	return nil
}

// castBuffer validates that the opaque buffer came from this backend and is
// still alive.
func (b *Backend) castBuffer(buffer backends.Buffer) (*deviceBuffer, error) {
	buf, ok := buffer.(*deviceBuffer)
	if !ok || buf.backend != b {
		return nil, errors.Errorf("buffer %v was not created by this goeval backend", buffer)
	}
	if buf.finalized {
		return nil, errors.Errorf("buffer was already finalized")
	}
	return buf, nil
}

// FromHost uploads a host buffer to the given virtual device. The data is
// copied and normalized to row-major layout, whatever the host layout was.
func (b *Backend) FromHost(deviceNum backends.DeviceNum, host *tensors.Buffer) (backends.Buffer, error) {
	if err := b.checkValid(); err != nil {
		return nil, err
	}
	if err := b.checkDeviceNum(deviceNum); err != nil {
		return nil, err
	}
	data, err := tensors.MaterializeWithLayout(host, tensors.RowMajorLayout(host.Rank()))
	if err != nil {
		return nil, errors.WithMessage(err, "goeval.FromHost")
	}
	return &deviceBuffer{backend: b, deviceNum: deviceNum, data: data}, nil
}

// ToHost downloads a device buffer into a newly allocated host buffer.
func (b *Backend) ToHost(buffer backends.Buffer) (*tensors.Buffer, error) {
	if err := b.checkValid(); err != nil {
		return nil, err
	}
	buf, err := b.castBuffer(buffer)
	if err != nil {
		return nil, err
	}
	return buf.data.Clone(), nil
}

// BufferShape returns the shape of the given device buffer.
func (b *Backend) BufferShape(buffer backends.Buffer) (shapes.Shape, error) {
	buf, err := b.castBuffer(buffer)
	if err != nil {
		return shapes.Invalid(), err
	}
	return buf.data.Shape(), nil
}

// BufferFinalize releases the buffer. Using it afterwards is an error.
func (b *Backend) BufferFinalize(buffer backends.Buffer) error {
	buf, err := b.castBuffer(buffer)
	if err != nil {
		return err
	}
	buf.finalized = true
	buf.data = nil
	return nil
}
