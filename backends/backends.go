// Package backends defines the interface a computation building and
// execution system needs to implement to execute lowered traces.
//
// The backend is treated as opaque by the tracing layer: it receives a
// lowered computation (built through Builder) and returns device buffers.
// A backend that doesn't implement every operation can simply return a
// "not implemented" error for that op.
//
// Builder ops return errors; the graph layer converts construction errors to
// panics with stack traces (see package github.com/gomlx/exceptions).
package backends

import (
	"os"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/lazygraph/lazygraph/types/shapes"
	"github.com/lazygraph/lazygraph/types/tensors"
)

// DeviceNum represents which device of a backend holds a buffer, or should
// execute a computation. It must be between 0 and Backend.NumDevices()-1.
type DeviceNum int

// Buffer represents data (a tensor) resident on the device that executes the
// computation. It is opaque to the tracing layer: it is only ever passed
// back into the methods of the backend that created it.
type Buffer any

// Backend is the API that needs to be implemented by a lazygraph backend.
type Backend interface {
	// Name returns the short name of the backend, e.g. "goeval".
	Name() string

	// Description is a longer description of the Backend for pretty-printing.
	Description() string

	// NumDevices returns the number of devices available for this Backend.
	NumDevices() DeviceNum

	// Builder creates a new builder used to define a new named computation.
	Builder(name string) Builder

	// DataInterface transfers buffers to/from the backend devices.
	DataInterface

	// Finalize releases all associated resources immediately and makes the
	// backend invalid.
	Finalize()
}

// DataInterface is the Backend sub-interface that moves tensor data across
// the host/device boundary. Transfers copy, never alias.
type DataInterface interface {
	// FromHost uploads a host buffer to the given device and returns the
	// corresponding device Buffer.
	FromHost(deviceNum DeviceNum, host *tensors.Buffer) (Buffer, error)

	// ToHost downloads a device buffer into a newly allocated host buffer.
	ToHost(buffer Buffer) (*tensors.Buffer, error)

	// BufferShape returns the shape of the given device buffer.
	BufferShape(buffer Buffer) (shapes.Shape, error)

	// BufferFinalize informs the backend the buffer is no longer needed, so
	// associated resources can be freed immediately. A finalized buffer must
	// never be used again.
	BufferFinalize(buffer Buffer) error
}

// Executable is the API for lowered computations ready to execute.
type Executable interface {
	// Finalize immediately frees the resources associated to the executable.
	Finalize()

	// Inputs returns the names and shapes of the parameters, in the order
	// they were created by Builder.Parameter.
	Inputs() (names []string, inputShapes []shapes.Shape)

	// Outputs returns the shapes of the computation outputs, in the order
	// given to Builder.Compile.
	Outputs() (outputShapes []shapes.Shape)

	// Execute the computation on the given device. The number and shapes of
	// the inputs must match those returned by Inputs. Backend failures are
	// returned as errors, never panics.
	Execute(deviceNum DeviceNum, inputs ...Buffer) ([]Buffer, error)
}

// Constructor takes a config string (possibly empty) and returns a Backend.
type Constructor func(config string) (Backend, error)

var (
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register a backend constructor under the given name.
//
// To be safe, call Register during package initialization.
func Register(name string, constructor Constructor) {
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// DefaultConfig is the backend configuration to use if the environment
// variable is not set. See NewWithConfig for the format.
var DefaultConfig string

// ConfigEnvVar is the environment variable with the default backend
// configuration, formatted as "<backend_name>:<backend_configuration>".
const ConfigEnvVar = "LAZYGRAPH_BACKEND"

// New returns a new Backend using the default configuration:
//
//  1. The environment variable LAZYGRAPH_BACKEND, if set.
//  2. The DefaultConfig variable, if set.
//  3. The first registered backend with an empty configuration.
//
// It panics if no backend was registered.
func New() Backend {
	if config, found := os.LookupEnv(ConfigEnvVar); found {
		return NewWithConfig(config)
	}
	if DefaultConfig != "" {
		return NewWithConfig(DefaultConfig)
	}
	return NewWithConfig("")
}

// NewWithConfig creates a Backend from a configuration string formatted as
// "<backend_name>:<backend_configuration>": "<backend_name>" is the name of
// a registered backend and "<backend_configuration>" is backend specific.
func NewWithConfig(config string) Backend {
	if len(registeredConstructors) == 0 {
		exceptions.Panicf(`no registered backends for lazygraph -- maybe import the default one with import _ "github.com/lazygraph/lazygraph/backends/goeval"?`)
	}
	backendName := firstRegistered
	backendConfig := config
	if idx := strings.Index(config, ":"); idx != -1 {
		backendName = config[:idx]
		backendConfig = config[idx+1:]
	}
	constructor, found := registeredConstructors[backendName]
	if !found {
		exceptions.Panicf("can't find backend %q for configuration %q given", backendName, config)
	}
	backend, err := constructor(backendConfig)
	if err != nil {
		panic(err)
	}
	return backend
}
