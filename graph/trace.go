package graph

import (
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"

	"github.com/lazygraph/lazygraph/backends"
	"github.com/lazygraph/lazygraph/devices"
	"github.com/lazygraph/lazygraph/types/shapes"
)

// TraceState is the explicit lifecycle of a trace. Transitions:
//
//	Recording -> Finalized            (Finalize)
//	Finalized -> Lowering -> Cached   (cache miss: lowering pass)
//	Finalized -> Cached               (cache hit)
type TraceState int

const (
	// TraceRecording accepts appends. Every trace starts here.
	TraceRecording TraceState = iota

	// TraceFinalized is an immutable snapshot with a computed signature,
	// not yet bound to a Computation.
	TraceFinalized

	// TraceLowering marks the lowering pass in progress after a cache miss.
	TraceLowering

	// TraceCached means a Computation exists for the trace signature.
	TraceCached
)

var traceStateNames = [...]string{"Recording", "Finalized", "Lowering", "Cached"}

// String implements fmt.Stringer.
func (s TraceState) String() string {
	if s < 0 || int(s) >= len(traceStateNames) {
		return "InvalidTraceState"
	}
	return traceStateNames[s]
}

// Trace is the per-device, append-only operation graph. Creation order is
// topological order by construction: an operand node always exists before
// any node referencing it.
//
// A Trace is not safe for concurrent use; the owning Engine serializes
// access through its per-device lock.
type Trace struct {
	device devices.Device
	state  TraceState
	nodes  []*Node
	params []*Node
}

func newTrace(device devices.Device) *Trace {
	return &Trace{device: device}
}

// Device the trace records for.
func (t *Trace) Device() devices.Device { return t.device }

// State of the trace.
func (t *Trace) State() TraceState { return t.state }

// Len is the number of recorded nodes.
func (t *Trace) Len() int { return len(t.nodes) }

// transition enforces the state machine; illegal transitions are programming
// errors and panic.
func (t *Trace) transition(from, to TraceState) {
	if t.state != from {
		exceptions.Panicf("%+v",
			errors.Wrapf(ErrConsistency, "trace on %s: illegal transition %s -> %s (current state %s)",
				t.device, from, to, t.state))
	}
	t.state = to
}

// newNode validates nothing: callers run shape inference first. It creates
// the node, appends it and returns it. O(1) amortized.
func (t *Trace) newNode(opType backends.OpType, shape shapes.Shape, inputs []*Node, intArgs ...int) *Node {
	if t.state != TraceRecording {
		exceptions.Panicf("%+v",
			errors.Wrapf(ErrConsistency, "cannot append to a trace in state %s (device %s)", t.state, t.device))
	}
	n := &Node{
		trace:   t,
		id:      len(t.nodes),
		opType:  opType,
		inputs:  inputs,
		shape:   shape,
		intArgs: intArgs,
	}
	t.nodes = append(t.nodes, n)
	return n
}

// newParamNode appends a parameter node bound to the given source tensor.
// The binding is positional: signature-equal traces bind their sources in
// the same parameter order.
func (t *Trace) newParamNode(source *LazyTensor, shape shapes.Shape) *Node {
	n := t.newNode(backends.OpTypeParameter, shape, nil)
	n.source = source
	n.paramIdx = len(t.params)
	t.params = append(t.params, n)
	return n
}

// Finalize snapshots the node sequence and the requested outputs, computes
// the structural signature and transitions to Finalized. The trace accepts
// no further appends; the Engine opens a fresh trace for the device.
func (t *Trace) Finalize(outputs []*Node) *FinalizedTrace {
	t.transition(TraceRecording, TraceFinalized)
	for _, out := range outputs {
		if out.trace != t {
			exceptions.Panicf("%+v",
				errors.Wrapf(ErrConsistency, "output node %s does not belong to the finalized trace (device %s)",
					out, t.device))
		}
	}
	return &FinalizedTrace{
		trace:     t,
		outputs:   outputs,
		signature: traceSignature(t.nodes, outputs),
	}
}

// FinalizedTrace is the immutable snapshot handed to the cache lookup and
// the lowering pass.
type FinalizedTrace struct {
	trace     *Trace
	outputs   []*Node
	signature uint64

	mu sync.Mutex
}

// Device the trace was recorded on.
func (f *FinalizedTrace) Device() devices.Device { return f.trace.device }

// Signature is the structural hash used as the cache key. It covers the
// ordered op kinds, operand topology, shapes, dtypes and op parameters, and
// excludes node identities and data values.
func (f *FinalizedTrace) Signature() uint64 { return f.signature }

// State of the underlying trace.
func (f *FinalizedTrace) State() TraceState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.trace.state
}

// Outputs returns the output nodes, in the order requested at Finalize.
func (f *FinalizedTrace) Outputs() []*Node { return f.outputs }

func (f *FinalizedTrace) beginLowering() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trace.transition(TraceFinalized, TraceLowering)
}

func (f *FinalizedTrace) markCached() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.trace.state == TraceLowering {
		f.trace.transition(TraceLowering, TraceCached)
	} else {
		f.trace.transition(TraceFinalized, TraceCached)
	}
}
