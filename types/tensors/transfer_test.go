package tensors

import (
	"fmt"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

// incrementIndices advances a multi-index odometer in row-major order.
// Returns false after the last index.
func incrementIndices(indices, dims []int) bool {
	for axis := len(indices) - 1; axis >= 0; axis-- {
		indices[axis]++
		if indices[axis] < dims[axis] {
			return true
		}
		indices[axis] = 0
	}
	return false
}

// requireSameValues checks element-by-element (by multi-index, independent of
// layout) that dst holds the same values as src.
func requireSameValues(t *testing.T, src, dst *Buffer) {
	t.Helper()
	require.True(t, src.Shape().EqualDimensions(dst.Shape()))
	srcValues, err := src.FlatFloat64()
	require.NoError(t, err)
	dstValues, err := dst.FlatFloat64()
	require.NoError(t, err)
	srcStrides, dstStrides := src.Strides(), dst.Strides()
	dims := src.Shape().Dimensions
	indices := make([]int, src.Rank())
	for {
		srcIdx := flatOffset(srcStrides, indices)
		dstIdx := flatOffset(dstStrides, indices)
		require.Equalf(t, srcValues[srcIdx], dstValues[dstIdx],
			"value mismatch at indices %v", indices)
		if !incrementIndices(indices, dims) {
			return
		}
	}
}

func TestPopulateBufferTransposedLayout(t *testing.T) {
	// [[1, 2, 3], [4, 5, 6]] row-major into a column-major destination.
	src := FromFlat([]int32{1, 2, 3, 4, 5, 6}, 2, 3)
	dst := NewBufferWithLayout(src.Shape(), []int{0, 1})
	require.NoError(t, PopulateBuffer(src, dst))
	assert.Equal(t, []int32{1, 4, 2, 5, 3, 6}, dst.Flat().([]int32))
	requireSameValues(t, src, dst)

	// And back to row-major: a full round-trip recovers the original.
	back := NewBuffer(src.Shape())
	require.NoError(t, PopulateBuffer(dst, back))
	assert.True(t, src.Equal(back))
}

func TestPopulateBufferContiguous(t *testing.T) {
	src := FromFlat([]float32{1.5, -2, 3, 0.25}, 2, 2)

	// Same dtype, same layout: flat copy.
	dst := NewBuffer(src.Shape())
	require.NoError(t, PopulateBuffer(src, dst))
	assert.True(t, src.Equal(dst))

	// Casting, same layout.
	dstF64 := NewBuffer(shapesWithDType(src, dtypes.Float64))
	require.NoError(t, PopulateBuffer(src, dstF64))
	assert.Equal(t, []float64{1.5, -2, 3, 0.25}, dstF64.Flat().([]float64))
}

func TestPopulateBufferCasts(t *testing.T) {
	srcValues := []float32{0, 1, -1, 2.5, -2.5, 100}
	src := FromFlat(srcValues, 2, 3)

	for _, dtype := range []dtypes.DType{
		dtypes.Float64, dtypes.Float16, dtypes.BFloat16,
		dtypes.Int32, dtypes.Int64, dtypes.Int8,
	} {
		t.Run(dtype.String(), func(t *testing.T) {
			// Use a transposed layout to also exercise the strided path.
			dst := NewBufferWithLayout(shapesWithDType(src, dtype), []int{0, 1})
			require.NoError(t, PopulateBuffer(src, dst))
			got, err := dst.FlatFloat64()
			require.NoError(t, err)
			dstStrides := dst.Strides()
			for ii, want := range srcValues {
				dstIdx := flatOffset(dstStrides, []int{ii / 3, ii % 3})
				if dtype.IsInt() {
					want = float32(int64(want))
				}
				assert.InDeltaf(t, want, got[dstIdx], 1e-2, "element %d as %s", ii, dtype)
			}
		})
	}
}

func TestPopulateBufferHalfPrecision(t *testing.T) {
	f16 := []float16.Float16{
		float16.Fromfloat32(1), float16.Fromfloat32(-0.5),
		float16.Fromfloat32(8), float16.Fromfloat32(0),
	}
	src := FromFlat(f16, 2, 2)

	dst := NewBufferWithLayout(shapesWithDType(src, dtypes.BFloat16), []int{0, 1})
	require.NoError(t, PopulateBuffer(src, dst))
	flat := dst.Flat().([]bfloat16.BFloat16)
	assert.Equal(t, float32(1), flat[0].Float32())
	assert.Equal(t, float32(8), flat[1].Float32())
	assert.Equal(t, float32(-0.5), flat[2].Float32())
	assert.Equal(t, float32(0), flat[3].Float32())
}

func TestPopulateBufferDimensionsMismatch(t *testing.T) {
	src := FromFlat([]int32{1, 2, 3, 4, 5, 6}, 2, 3)
	dst := FromFlat([]int32{0, 0, 0, 0, 0, 0}, 3, 2)
	err := PopulateBuffer(src, dst)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIncompatible))
}

// TestPopulateBufferPartitioned exercises the partitioned concurrent path
// with shapes/layouts large enough to split into multiple tasks, comparing
// against the trivially correct elementwise walk in requireSameValues.
func TestPopulateBufferPartitioned(t *testing.T) {
	// Force many small partitions regardless of how many CPUs the test
	// machine has.
	oldMinElements, oldParallelism := MinElementsPerTask, MaxCopyParallelism
	MinElementsPerTask, MaxCopyParallelism = 64, 7
	defer func() { MinElementsPerTask, MaxCopyParallelism = oldMinElements, oldParallelism }()

	testLayouts := [][]int{
		{0, 1, 2}, {2, 1, 0}, {1, 0, 2}, {0, 2, 1}, {2, 0, 1},
	}
	dims := []int{11, 31, 17}
	size := dims[0] * dims[1] * dims[2]
	flat := make([]float32, size)
	for ii := range flat {
		flat[ii] = float32(ii) * 0.5
	}
	src := FromFlat(flat, dims...)
	for _, srcLayout := range testLayouts {
		srcStrided := NewBufferWithLayout(src.Shape(), srcLayout)
		require.NoError(t, PopulateBuffer(src, srcStrided))
		for _, dstLayout := range testLayouts {
			t.Run(fmt.Sprintf("src=%v/dst=%v", srcLayout, dstLayout), func(t *testing.T) {
				dst := NewBufferWithLayout(src.Shape(), dstLayout)
				require.NoError(t, PopulateBuffer(srcStrided, dst))
				requireSameValues(t, src, dst)
			})
		}
	}
}

func TestIterationDimensions(t *testing.T) {
	// Minor axis is kept when no other axis is MinorDimScale times larger.
	b := NewBuffer(makeShape(dtypes.Float32, 7, 5, 10))
	assert.Equal(t, []int{2, 1, 0}, iterationDimensions(b))

	// A much larger axis takes over as the inner iteration axis.
	b = NewBuffer(makeShape(dtypes.Float32, 100, 5, 3))
	assert.Equal(t, []int{0, 1, 2}, iterationDimensions(b))
}

func TestCreateCopyPartitions(t *testing.T) {
	oldMinElements, oldParallelism := MinElementsPerTask, MaxCopyParallelism
	MinElementsPerTask, MaxCopyParallelism = 10, 4
	defer func() { MinElementsPerTask, MaxCopyParallelism = oldMinElements, oldParallelism }()

	parts := createCopyPartitions([]int{8, 5}, 1)
	require.Len(t, parts, 4)
	covered := 0
	for _, part := range parts {
		assert.Equal(t, 0, part.base[1])
		assert.Equal(t, 5, part.limit[1])
		covered += part.limit[0] - part.base[0]
	}
	assert.Equal(t, 8, covered)
}

func TestBufferStrides(t *testing.T) {
	b := NewBuffer(makeShape(dtypes.Int32, 2, 3, 4))
	assert.Equal(t, []int{12, 4, 1}, b.Strides())

	b = NewBufferWithLayout(makeShape(dtypes.Int32, 2, 3, 4), []int{0, 1, 2})
	assert.Equal(t, []int{1, 2, 6}, b.Strides())
}

func TestMaterializeWithLayout(t *testing.T) {
	src := NewBufferWithLayout(makeShape(dtypes.Int64, 2, 2), []int{0, 1})
	copy(src.Flat().([]int64), []int64{1, 3, 2, 4})
	dst, err := MaterializeWithLayout(src, RowMajorLayout(2))
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4}, dst.Flat().([]int64))
}
