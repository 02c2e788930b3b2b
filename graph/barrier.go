package graph

import (
	"k8s.io/klog/v2"

	"github.com/lazygraph/lazygraph/devices"
)

// barrierStates resolves which device states a barrier call covers: an
// explicit device wins, then an explicit list, then the registered
// replication devices, then every device the engine has traced on.
func (e *Engine) barrierStates(device *devices.Device, list *devices.List) []*deviceState {
	if device != nil {
		return []*deviceState{e.deviceState(*device)}
	}
	if list == nil {
		list = e.GetReplicationDevices()
		if list != nil {
			defer list.Release()
		}
	}
	if list == nil {
		return e.knownDeviceStates()
	}
	states := make([]*deviceState, 0, list.Len())
	for _, dev := range list.Devices() {
		states = append(states, e.deviceState(dev))
	}
	return states
}

// LazyTensorBarrier establishes a step boundary: it finalizes and submits
// the open trace of every covered device (even idle ones) and, if wait is
// set, blocks until every execution previously or newly in flight on those
// devices completes.
//
// Coverage: device, if non-nil; else list, if non-nil; else the engine's
// replication devices; else every device the engine has traced on. The
// first execution error, if any, is returned; it does not stop the barrier
// from draining the remaining devices.
func (e *Engine) LazyTensorBarrier(device *devices.Device, list *devices.List, wait bool) error {
	states := e.barrierStates(device, list)
	klog.V(2).Infof("barrier over %d devices (wait=%v)", len(states), wait)
	var handles []*ExecutionHandle
	for _, ds := range states {
		e.flush(ds)
		if !wait {
			continue
		}
		ds.mu.Lock()
		for handle := range ds.inFlight {
			handles = append(handles, handle)
		}
		ds.mu.Unlock()
	}
	var firstErr error
	for _, handle := range handles {
		if err := handle.Wait(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SyncLiveTensors finalizes and submits the open traces of the given
// devices without waiting for completion. It bounds memory growth from an
// ever-lengthening trace. A nil list covers the replication devices (or all
// traced devices).
func (e *Engine) SyncLiveTensors(list *devices.List) {
	for _, ds := range e.barrierStates(nil, list) {
		e.flush(ds)
	}
}

// Package-level entry points delegate to the default engine.

// LazyTensorBarrier calls Engine.LazyTensorBarrier on the default engine.
func LazyTensorBarrier(device *devices.Device, list *devices.List, wait bool) error {
	return DefaultEngine().LazyTensorBarrier(device, list, wait)
}

// SyncLiveTensorsForDevices calls Engine.SyncLiveTensors on the default
// engine.
func SyncLiveTensorsForDevices(list *devices.List) {
	DefaultEngine().SyncLiveTensors(list)
}

// SetReplicationDevices registers the replication device set on the default
// engine.
func SetReplicationDevices(list *devices.List) {
	DefaultEngine().SetReplicationDevices(list)
}

// GetReplicationDevices returns a copy of the default engine's replication
// device set, or nil.
func GetReplicationDevices() *devices.List {
	return DefaultEngine().GetReplicationDevices()
}
