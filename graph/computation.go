package graph

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/lazygraph/lazygraph/backends"
	"github.com/lazygraph/lazygraph/types/shapes"
)

// Computation is a lowered, backend-executable artifact. It is shared
// read-only: the cache, in-flight executions and callers may all hold
// references concurrently, and it stays alive as long as any of them does
// (cache eviction only drops the cache's reference).
type Computation struct {
	id         uuid.UUID
	name       string
	signature  uint64
	executable backends.Executable

	// paramShapes are the parameter shapes in binding order, used to
	// sanity-check input binding before submission.
	paramShapes []shapes.Shape
	outShapes   []shapes.Shape
}

// ID is the unique identity of this lowered computation. Distinct from the
// signature: re-lowering after an eviction yields a new ID for the same
// signature.
func (c *Computation) ID() uuid.UUID { return c.id }

// Name of the computation, derived from the trace signature.
func (c *Computation) Name() string { return c.name }

// Signature of the trace this computation was lowered from.
func (c *Computation) Signature() uint64 { return c.signature }

// NumParameters is the number of data bindings the computation takes.
func (c *Computation) NumParameters() int { return len(c.paramShapes) }

// NumOutputs is the number of result buffers the computation produces.
func (c *Computation) NumOutputs() int { return len(c.outShapes) }

// String implements fmt.Stringer.
func (c *Computation) String() string {
	return fmt.Sprintf("Computation(%s, signature=%016x, %d params, %d outputs)",
		c.name, c.signature, len(c.paramShapes), len(c.outShapes))
}
