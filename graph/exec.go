package graph

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/lazygraph/lazygraph/backends"
	"github.com/lazygraph/lazygraph/devices"
	"github.com/lazygraph/lazygraph/types/xsync"
)

// executionResult is what an ExecutionHandle resolves to: one device buffer
// per trace output, or an error.
type executionResult struct {
	outputs []backends.Buffer
	err     error
}

// ExecutionHandle is the async handle for one submitted trace execution.
// Backend failures attach to the handle as ErrExecution-tagged errors and
// are returned by Wait; they are never retried internally.
type ExecutionHandle struct {
	device devices.Device
	comp   *Computation // set before submission, nil if lowering failed
	latch  *xsync.LatchWithValue[*executionResult]
}

func newExecutionHandle(device devices.Device) *ExecutionHandle {
	return &ExecutionHandle{
		device: device,
		latch:  xsync.NewLatchWithValue[*executionResult](),
	}
}

// Device the execution was submitted to.
func (h *ExecutionHandle) Device() devices.Device { return h.device }

// Done reports whether the execution finished (successfully or not) without
// blocking.
func (h *ExecutionHandle) Done() bool { return h.latch.Test() }

// Wait blocks until the execution completes and returns its error, if any.
func (h *ExecutionHandle) Wait() error {
	return h.latch.Wait().err
}

// wait returns the full result, blocking.
func (h *ExecutionHandle) wait() *executionResult {
	return h.latch.Wait()
}

// flush finalizes the open trace of the device state and submits it
// asynchronously. It returns nil if there was nothing to execute. The
// finalize+swap happens under the device lock, the lowering and execution
// happen on a separate goroutine.
func (e *Engine) flush(ds *deviceState) *ExecutionHandle {
	ds.mu.Lock()
	if ds.trace.Len() == 0 {
		ds.mu.Unlock()
		return nil
	}
	if len(ds.pending) == 0 {
		// Nodes exist but no tensor can observe them: discard the trace.
		klog.V(2).Infof("discarding unobservable trace with %d nodes on %s", ds.trace.Len(), ds.device)
		ds.reset()
		ds.mu.Unlock()
		return nil
	}

	outputs := make([]*Node, len(ds.pending))
	for ii, lt := range ds.pending {
		outputs[ii] = lt.node
	}
	finalized := ds.trace.Finalize(outputs)
	handle := newExecutionHandle(ds.device)
	for ii, lt := range ds.pending {
		lt.mu.Lock()
		lt.handle = handle
		lt.outputIdx = ii
		lt.mu.Unlock()
	}
	params := finalized.trace.params
	ds.reset()
	ds.inFlight[handle] = struct{}{}
	ds.mu.Unlock()

	go e.run(ds, finalized, params, handle)
	return handle
}

// reset opens a fresh recording trace. Caller holds ds.mu.
func (ds *deviceState) reset() {
	ds.trace = newTrace(ds.device)
	ds.bindings = make(map[*LazyTensor]*Node)
	ds.pending = nil
}

// run executes one finalized trace: cache lookup or lowering, positional
// input binding, backend execution, and handle resolution.
func (e *Engine) run(ds *deviceState, finalized *FinalizedTrace, params []*Node, handle *ExecutionHandle) {
	result := &executionResult{}
	defer func() {
		ds.mu.Lock()
		delete(ds.inFlight, handle)
		ds.mu.Unlock()
		handle.latch.Trigger(result)
	}()

	comp, err := e.computationFor(finalized)
	if err != nil {
		result.err = errors.Wrapf(ErrExecution, "lowering trace %016x on %s: %v",
			finalized.Signature(), ds.device, err)
		return
	}
	handle.comp = comp

	inputs := make([]backends.Buffer, len(params))
	for ii, param := range params {
		buffer, err := param.source.deviceBuffer()
		if err != nil {
			result.err = errors.WithMessagef(err, "resolving input p%d of %s", ii, comp.name)
			return
		}
		inputs[ii] = buffer
	}

	outputs, err := comp.executable.Execute(e.deviceNum(ds.device), inputs...)
	if err != nil {
		result.err = errors.Wrapf(ErrExecution, "executing %s on %s: %v", comp.name, ds.device, err)
		return
	}
	result.outputs = outputs
	klog.V(2).Infof("executed %s on %s: %d inputs, %d outputs",
		comp.name, ds.device, len(inputs), len(outputs))
}

// computationFor returns the Computation for the finalized trace: a cache
// hit reuses the lowered artifact, a miss runs the lowering pass and inserts
// the result.
func (e *Engine) computationFor(finalized *FinalizedTrace) (*Computation, error) {
	if comp := e.cache.Lookup(finalized.Signature(), finalized.Device()); comp != nil {
		finalized.markCached()
		return comp, nil
	}
	finalized.beginLowering()
	e.loweringCalls.Add(1)
	comp, err := lowerTrace(finalized, e.backend)
	if err != nil {
		return nil, err
	}
	comp = e.cache.Insert(finalized.Signature(), finalized.Device(), comp)
	finalized.markCached()
	return comp, nil
}
