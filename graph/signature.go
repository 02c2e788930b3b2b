package graph

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// traceSignature computes the structural hash of a node sequence plus its
// output selection.
//
// It streams, in creation order, each node's op kind, operand topology (as
// node indices, never node identities), dtype, dimensions and static op
// parameters, followed by the output node indices. Data values (parameter
// bindings) are excluded on purpose: two traces with equal signatures must
// be interchangeable for lowering, and lowering binds data positionally.
func traceSignature(nodes []*Node, outputs []*Node) uint64 {
	digest := xxhash.New()
	var scratch [8]byte
	writeInt := func(v int) {
		binary.LittleEndian.PutUint64(scratch[:], uint64(v))
		_, _ = digest.Write(scratch[:])
	}
	for _, n := range nodes {
		writeInt(int(n.opType))
		writeInt(len(n.inputs))
		for _, input := range n.inputs {
			writeInt(input.id)
		}
		writeInt(int(n.shape.DType))
		writeInt(n.shape.Rank())
		for _, dim := range n.shape.Dimensions {
			writeInt(dim)
		}
		writeInt(len(n.intArgs))
		for _, arg := range n.intArgs {
			writeInt(arg)
		}
	}
	writeInt(len(outputs))
	for _, out := range outputs {
		writeInt(out.id)
	}
	return digest.Sum64()
}
