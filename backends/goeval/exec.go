package goeval

import (
	"github.com/pkg/errors"

	"github.com/lazygraph/lazygraph/backends"
	"github.com/lazygraph/lazygraph/types/shapes"
	"github.com/lazygraph/lazygraph/types/tensors"
)

// Executable interprets a compiled computation. It is stateless across calls
// and safe for concurrent Execute.
type Executable struct {
	backend   *Backend
	name      string
	nodes     []*node
	params    []*node
	outputs   []*node
	finalized bool
}

var _ backends.Executable = &Executable{}

// Finalize makes the executable invalid.
func (e *Executable) Finalize() {
	e.finalized = true
	e.nodes = nil
	e.params = nil
	e.outputs = nil
}

// Inputs returns the names and shapes of the parameters, in the order they
// were created.
func (e *Executable) Inputs() (names []string, inputShapes []shapes.Shape) {
	names = make([]string, len(e.params))
	inputShapes = make([]shapes.Shape, len(e.params))
	for ii, p := range e.params {
		names[ii] = p.paramName
		inputShapes[ii] = p.shape
	}
	return
}

// Outputs returns the shapes of the computation outputs.
func (e *Executable) Outputs() (outputShapes []shapes.Shape) {
	outputShapes = make([]shapes.Shape, len(e.outputs))
	for ii, n := range e.outputs {
		outputShapes[ii] = n.shape
	}
	return
}

// Execute interprets the computation node-by-node: nodes are stored in
// creation order, so each node's inputs are already evaluated when it is
// reached.
func (e *Executable) Execute(deviceNum backends.DeviceNum, inputs ...backends.Buffer) ([]backends.Buffer, error) {
	if e.finalized {
		return nil, errors.Errorf("executable %q was finalized", e.name)
	}
	if err := e.backend.checkValid(); err != nil {
		return nil, err
	}
	if err := e.backend.checkDeviceNum(deviceNum); err != nil {
		return nil, err
	}
	if len(inputs) != len(e.params) {
		return nil, errors.Errorf("executable %q takes %d inputs, got %d", e.name, len(e.params), len(inputs))
	}
	inputData := make([]*tensors.Buffer, len(inputs))
	for ii, input := range inputs {
		buf, err := e.backend.castBuffer(input)
		if err != nil {
			return nil, errors.WithMessagef(err, "executable %q input #%d", e.name, ii)
		}
		if !buf.data.Shape().Equal(e.params[ii].shape) {
			return nil, errors.Errorf("executable %q input #%d (%q) must have shape %s, got %s",
				e.name, ii, e.params[ii].paramName, e.params[ii].shape, buf.data.Shape())
		}
		inputData[ii] = buf.data
	}

	results := make([]*tensors.Buffer, len(e.nodes))
	for ii, n := range e.nodes {
		out, err := e.evalNode(n, inputData, results)
		if err != nil {
			return nil, errors.WithMessagef(err, "executable %q evaluating node #%d (%s)", e.name, ii, n.opType)
		}
		results[ii] = out
	}

	outputs := make([]backends.Buffer, len(e.outputs))
	for ii, n := range e.outputs {
		// Clone so outputs never alias input buffers or each other.
		outputs[ii] = &deviceBuffer{
			backend:   e.backend,
			deviceNum: deviceNum,
			data:      results[n.idx].Clone(),
		}
	}
	return outputs, nil
}

func (e *Executable) evalNode(n *node, inputData, results []*tensors.Buffer) (*tensors.Buffer, error) {
	switch n.opType {
	case backends.OpTypeParameter:
		return inputData[n.paramIdx], nil
	case backends.OpTypeIota:
		return execIota(n.shape, n.iotaAxis)
	default:
		switch len(n.inputs) {
		case 1:
			return execUnary(n.opType, results[n.inputs[0].idx])
		case 2:
			return execBinary(n.opType, results[n.inputs[0].idx], results[n.inputs[1].idx], n.shape)
		}
		return nil, errors.Errorf("op %s not implemented by the goeval backend", n.opType)
	}
}
