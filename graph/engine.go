package graph

import (
	"sync"
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/lazygraph/lazygraph/backends"
	"github.com/lazygraph/lazygraph/devices"
	"github.com/lazygraph/lazygraph/types/xsync"
)

// Engine owns a backend, the trace cache and the per-device tracing state:
// the open (recording) trace, the pending lazy tensors and the in-flight
// executions. It also holds the replication device set read by barriers.
//
// Engines are independent: two engines never share traces, caches or
// replication state, so concurrent barriers on different engines are
// isolated. Package-level entry points delegate to the process default
// engine (see DefaultEngine).
type Engine struct {
	backend    backends.Backend
	deviceType devices.Type
	cache      *traceCache

	deviceStates xsync.SyncMap[devices.Device, *deviceState]

	mu          sync.Mutex
	replication *devices.List

	// loweringCalls counts lowering passes, i.e. cache misses that reached
	// lowerTrace.
	loweringCalls atomic.Int64
}

// deviceState is the per-device mutable tracing state, guarded by its own
// lock so devices trace independently.
type deviceState struct {
	device devices.Device

	mu    sync.Mutex
	trace *Trace

	// bindings memoizes, for the open trace only, the parameter node bound
	// to each external tensor, so a tensor used twice binds once.
	bindings map[*LazyTensor]*Node

	// pending are the unmaterialized tensors whose nodes live in the open
	// trace, in creation order. They become the outputs at finalize.
	pending []*LazyTensor

	inFlight map[*ExecutionHandle]struct{}
}

// NewEngine creates an Engine on the given backend with the default cache
// size. The engine's devices take the CPU device type; use
// NewEngineForDeviceType for accelerator backends.
func NewEngine(backend backends.Backend) *Engine {
	return NewEngineForDeviceType(backend, devices.CPU, DefaultCacheSize)
}

// NewEngineForDeviceType creates an Engine whose devices carry the given
// device type, with the given trace cache capacity.
func NewEngineForDeviceType(backend backends.Backend, deviceType devices.Type, cacheSize int) *Engine {
	e := &Engine{
		backend:    backend,
		deviceType: deviceType,
		cache:      newTraceCache(cacheSize),
	}
	klog.V(1).Infof("lazygraph engine created on backend %q (%s), %d devices",
		backend.Name(), backend.Description(), backend.NumDevices())
	return e
}

// Backend the engine executes on.
func (e *Engine) Backend() backends.Backend { return e.backend }

// Devices returns the list of devices the engine can trace and execute on.
// The caller owns the returned list.
func (e *Engine) Devices() *devices.List {
	all := make([]devices.Device, e.backend.NumDevices())
	for ii := range all {
		all[ii] = devices.New(e.deviceType, ii)
	}
	return devices.NewList(all...)
}

// CacheStats snapshots the trace cache counters.
func (e *Engine) CacheStats() CacheStats { return e.cache.Stats() }

// LoweringCalls is the total number of lowering passes run, i.e. trace
// cache misses.
func (e *Engine) LoweringCalls() int64 { return e.loweringCalls.Load() }

// deviceNum maps an engine device to the backend device number.
func (e *Engine) deviceNum(device devices.Device) backends.DeviceNum {
	num := backends.DeviceNum(device.Ordinal)
	if device.Type != e.deviceType || num < 0 || num >= e.backend.NumDevices() {
		exceptions.Panicf("%+v",
			errors.Wrapf(ErrConsistency, "device %s is not served by this engine (%d %s devices)",
				device, e.backend.NumDevices(), e.deviceType))
	}
	return num
}

// deviceState returns the tracing state for the device, creating it with a
// fresh recording trace on first use.
func (e *Engine) deviceState(device devices.Device) *deviceState {
	e.deviceNum(device) // Validates.
	ds, found := e.deviceStates.Load(device)
	if !found {
		ds, _ = e.deviceStates.LoadOrStore(device, &deviceState{
			device:   device,
			trace:    newTrace(device),
			bindings: make(map[*LazyTensor]*Node),
			inFlight: make(map[*ExecutionHandle]struct{}),
		})
	}
	return ds
}

// knownDeviceStates snapshots the states created so far.
func (e *Engine) knownDeviceStates() []*deviceState {
	var states []*deviceState
	e.deviceStates.Range(func(_ devices.Device, ds *deviceState) bool {
		states = append(states, ds)
		return true
	})
	return states
}

// SetReplicationDevices registers the device set that participates in
// barrier calls that don't name devices explicitly. The engine keeps its own
// copy; it persists until replaced.
func (e *Engine) SetReplicationDevices(list *devices.List) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if list == nil {
		e.replication = nil
		return
	}
	e.replication = list.Clone()
}

// GetReplicationDevices returns a copy of the registered replication device
// set, or nil if none was set. The caller owns the returned list.
func (e *Engine) GetReplicationDevices() *devices.List {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.replication == nil {
		return nil
	}
	return e.replication.Clone()
}

var (
	defaultEngine     *Engine
	defaultEngineOnce sync.Once
)

// DefaultEngine returns the lazily created process-wide engine, built on the
// default backend (see backends.New). The package-level barrier and
// replication entry points operate on it.
func DefaultEngine() *Engine {
	defaultEngineOnce.Do(func() {
		defaultEngine = NewEngine(backends.New())
	})
	return defaultEngine
}
