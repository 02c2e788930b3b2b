package tensors

import (
	"reflect"
	"runtime"
	"slices"
	"sync"

	"github.com/pkg/errors"

	"github.com/lazygraph/lazygraph/types/xsync"
)

// Tunables for the concurrent copy path. They trade per-task overhead for
// parallelism and are performance knobs only: any values produce identical
// results.
var (
	// MinorDimScale: the iteration dimension favors the smallest-stride
	// (most minor) axis, unless another axis is more than MinorDimScale
	// times larger, in which case that axis is preferred to reduce the
	// number of strided-copy calls.
	MinorDimScale = 8

	// MinElementsPerTask is the minimum number of elements a copy task can
	// be assigned, to keep per-task overhead from dominating.
	MinElementsPerTask = 100_000

	// MaxCopyParallelism caps the number of concurrent copy tasks. It
	// defaults to half the available hardware threads.
	MaxCopyParallelism = max(runtime.NumCPU()/2, 1)
)

// copyWorkers bounds copy goroutines across concurrent PopulateBuffer calls.
var copyWorkers = xsync.NewSemaphore(MaxCopyParallelism)

// PopulateBuffer copies the src buffer data into dst, which may have a
// different element type and/or memory layout. The dimensions must match.
//
// If source and destination share the same minor-to-major ordering this is a
// single contiguous (optionally type-casting) copy. Otherwise it is a
// strided copy, partitioned across a bounded set of goroutines. Parallelism
// and dimension reordering are optimizations only: the result is
// bit-identical to a naive elementwise copy.
func PopulateBuffer(src, dst *Buffer) error {
	if !src.shape.EqualDimensions(dst.shape) {
		return errors.Wrapf(ErrIncompatible, "PopulateBuffer: dimensions must match, got %s vs %s", src.shape, dst.shape)
	}
	if slices.Equal(src.minorToMajor, dst.minorToMajor) {
		return contiguousCopy(src, dst)
	}

	// Ranks >= 2 from here on: with rank < 2 there is only one possible
	// layout, handled by the contiguous path above.
	copier := newElemCopier(dst, src)
	if copier == nil {
		return errors.Wrapf(ErrUnsupportedDType, "PopulateBuffer: no copy mapping from %s to %s", src.DType(), dst.DType())
	}
	srcStrides := src.Strides()
	dstStrides := dst.Strides()
	iterDims := iterationDimensions(dst)
	parts := createCopyPartitions(dst.shape.Dimensions, iterDims[0])

	// Slice the largest non-inner dimension and copy each partition on its
	// own worker, then join.
	var wg sync.WaitGroup
	for _, part := range parts {
		wg.Add(1)
		copyWorkers.Acquire()
		go func(part copyPartition) {
			defer wg.Done()
			defer copyWorkers.Release()
			slicedCopy(copier, dst.shape.Dimensions, dstStrides, srcStrides, iterDims, part)
		}(part)
	}
	wg.Wait()
	return nil
}

// MaterializeWithLayout returns a copy of src converted to the given
// minor-to-major layout (same shape and dtype). Used to bring
// device-returned buffers into the host-native row-major ordering.
func MaterializeWithLayout(src *Buffer, minorToMajor []int) (*Buffer, error) {
	dst := NewBufferWithLayout(src.shape, minorToMajor)
	if err := PopulateBuffer(src, dst); err != nil {
		return nil, err
	}
	return dst, nil
}

// contiguousCopy handles buffers with identical layouts: a flat copy, with
// element casting if the dtypes differ.
func contiguousCopy(src, dst *Buffer) error {
	if src.DType() == dst.DType() {
		reflect.Copy(reflect.ValueOf(dst.flat), reflect.ValueOf(src.flat))
		return nil
	}
	copier := newElemCopier(dst, src)
	if copier == nil {
		return errors.Wrapf(ErrUnsupportedDType, "PopulateBuffer: no copy mapping from %s to %s", src.DType(), dst.DType())
	}
	stridedCopy(copier, 0, 1, 0, 1, src.Size())
	return nil
}

// stridedCopy copies n elements with independent destination and source
// strides, casting as the copier dictates.
func stridedCopy(copier elemCopier, dstBase, dstStride, srcBase, srcStride, n int) {
	for ii := 0; ii < n; ii++ {
		copier(dstBase+ii*dstStride, srcBase+ii*srcStride)
	}
}

// iterationDimensions chooses the ordering of the axes to iterate over.
//
// The most minor axis of the destination walks one of the two buffers in a
// cache friendly fashion, so it is favored as the core (innermost) iteration
// axis. But if it is too small, the copy degenerates into many tiny
// stridedCopy calls, so a different axis is picked when it is more than
// MinorDimScale times larger.
func iterationDimensions(b *Buffer) []int {
	iterDims := slices.Clone(b.minorToMajor)
	dims := b.shape.Dimensions
	index := 0
	scaledDimSize := MinorDimScale * dims[iterDims[0]]
	for ii := 1; ii < len(iterDims); ii++ {
		axis := iterDims[ii]
		if dims[axis] > scaledDimSize {
			index = ii
			scaledDimSize = dims[axis]
		}
	}
	iterDims[0], iterDims[index] = iterDims[index], iterDims[0]
	return iterDims
}

// copyPartition is a contiguous range [base, limit) per axis.
type copyPartition struct {
	base, limit []int
}

// createCopyPartitions partitions the largest dimension that is not the
// strided-copy (innermost) dimension into ranges sized to balance the
// task count (at most MaxCopyParallelism) against MinElementsPerTask.
func createCopyPartitions(dimensions []int, stridedCopyDim int) []copyPartition {
	maxDim := -1
	for axis := range dimensions {
		if axis != stridedCopyDim && (maxDim < 0 || dimensions[axis] > dimensions[maxDim]) {
			maxDim = axis
		}
	}

	numElements := 1
	for _, dim := range dimensions {
		numElements *= dim
	}
	maxDimUnitElements := numElements / dimensions[maxDim]
	maxDimSize := dimensions[maxDim]
	partSize := max(
		max(maxDimSize/MaxCopyParallelism, 1),
		MinElementsPerTask/maxDimUnitElements)

	var parts []copyPartition
	for current := 0; current < maxDimSize; {
		n := min(partSize, maxDimSize-current)
		part := copyPartition{
			base:  make([]int, len(dimensions)),
			limit: slices.Clone(dimensions),
		}
		part.base[maxDim] = current
		part.limit[maxDim] = current + n
		current += n
		parts = append(parts, part)
	}
	return parts
}

// slicedCopy copies one partition: an odometer walk over the non-inner
// iteration axes, with a stridedCopy of the full inner axis at each step.
func slicedCopy(copier elemCopier, dimensions []int, dstStrides, srcStrides, iterDims []int, part copyPartition) {
	indices := slices.Clone(part.base)
	innerDim := iterDims[0]
	innerSrcStride := srcStrides[innerDim]
	innerDstStride := dstStrides[innerDim]
	n := 0
	for n < len(indices) {
		stridedCopy(copier,
			flatOffset(dstStrides, indices), innerDstStride,
			flatOffset(srcStrides, indices), innerSrcStride,
			dimensions[innerDim])
		for n = 1; n < len(indices); n++ {
			axis := iterDims[n]
			indices[axis]++
			if indices[axis] < part.limit[axis] {
				break
			}
			indices[axis] = part.base[axis]
		}
	}
}

// flatOffset is the offset of the value at the given indices in a flat
// buffer with the given strides.
func flatOffset(strides, indices []int) int {
	offset := 0
	for axis, idx := range indices {
		offset += idx * strides[axis]
	}
	return offset
}
