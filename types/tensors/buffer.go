// Package tensors implements the host-resident tensor Buffer and the
// layout- and dtype-aware copy machinery that moves data across the
// host/device boundary.
//
// A Buffer is a typed, strided array: a shape, a minor-to-major axis
// ordering (the memory layout) and a flat slice of the Go type corresponding
// to the shape's DType. Transfer functions copy, never alias.
package tensors

import (
	"reflect"
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"

	"github.com/lazygraph/lazygraph/types/shapes"
)

var (
	// ErrUnsupportedDType tags element types not present in the copy
	// type-mapping tables.
	ErrUnsupportedDType = errors.New("unsupported dtype")

	// ErrIncompatible tags buffers whose dimensions don't match for a copy.
	ErrIncompatible = errors.New("incompatible buffers")
)

// Buffer is a host-resident typed, strided array backing a tensor value
// before upload or after download.
type Buffer struct {
	shape shapes.Shape

	// minorToMajor lists the axes from the fastest varying (stride 1) to the
	// slowest. Row-major (the Go native nesting) is [rank-1, ..., 1, 0].
	minorToMajor []int

	// flat is always a slice of shape.DType.GoType(), of length shape.Size().
	flat any
}

// RowMajorLayout returns the minor-to-major ordering of the native Go
// nesting of slices for the given rank: the last axis is the fastest varying.
func RowMajorLayout(rank int) []int {
	layout := make([]int, rank)
	for axis := range layout {
		layout[axis] = rank - 1 - axis
	}
	return layout
}

// NewBuffer allocates a Buffer of the given shape with a row-major layout.
// The data is zero-initialized.
func NewBuffer(shape shapes.Shape) *Buffer {
	return NewBufferWithLayout(shape, RowMajorLayout(shape.Rank()))
}

// NewBufferWithLayout allocates a zero-initialized Buffer of the given shape
// with the given minor-to-major layout, which must be a permutation of the
// shape's axes.
func NewBufferWithLayout(shape shapes.Shape, minorToMajor []int) *Buffer {
	if shape.DType.GoType() == nil {
		panic(errors.Wrapf(ErrUnsupportedDType, "tensors.NewBuffer: no Go type for dtype %s", shape.DType))
	}
	if !isPermutation(minorToMajor, shape.Rank()) {
		panic(errors.Wrapf(ErrIncompatible, "tensors.NewBuffer: layout %v is not a permutation of the %d axes of %s",
			minorToMajor, shape.Rank(), shape))
	}
	size := shape.Size()
	flat := reflect.MakeSlice(reflect.SliceOf(shape.DType.GoType()), size, size).Interface()
	return &Buffer{
		shape:        shape.Clone(),
		minorToMajor: slices.Clone(minorToMajor),
		flat:         flat,
	}
}

// FromFlat creates a row-major Buffer with the given dimensions from a flat
// slice of values, which must have exactly the number of elements implied by
// dims. The data is copied, the buffer doesn't alias flat.
func FromFlat[T dtypes.Supported](flat []T, dims ...int) *Buffer {
	shape := shapes.Make(dtypes.FromGenericsType[T](), dims...)
	if shape.Size() != len(flat) {
		panic(errors.Wrapf(ErrIncompatible, "tensors.FromFlat: shape %s requires %d elements, got %d",
			shape, shape.Size(), len(flat)))
	}
	return &Buffer{
		shape:        shape,
		minorToMajor: RowMajorLayout(shape.Rank()),
		flat:         slices.Clone(flat),
	}
}

// FromScalar creates a scalar Buffer holding the given value.
func FromScalar[T dtypes.Supported](value T) *Buffer {
	return FromFlat([]T{value})
}

// Shape of the buffer.
func (b *Buffer) Shape() shapes.Shape { return b.shape }

// DType of the buffer elements.
func (b *Buffer) DType() dtypes.DType { return b.shape.DType }

// Rank of the buffer's shape.
func (b *Buffer) Rank() int { return b.shape.Rank() }

// Size is the number of elements in the buffer.
func (b *Buffer) Size() int { return b.shape.Size() }

// Memory is the number of bytes backing the buffer.
func (b *Buffer) Memory() uintptr { return b.shape.Memory() }

// MinorToMajor returns the layout: axes ordered from fastest varying to
// slowest. The returned slice is owned by the Buffer.
func (b *Buffer) MinorToMajor() []int { return b.minorToMajor }

// Flat returns the underlying flat slice (a []T for the Go type of the
// dtype). It aliases the buffer storage: mutations are visible.
func (b *Buffer) Flat() any { return b.flat }

// Strides returns the per-axis element strides implied by the layout.
func (b *Buffer) Strides() []int {
	strides := make([]int, b.Rank())
	stride := 1
	for _, axis := range b.minorToMajor {
		strides[axis] = stride
		stride *= b.shape.Dimensions[axis]
	}
	return strides
}

// Clone returns a deep copy of the buffer, same shape and layout.
func (b *Buffer) Clone() *Buffer {
	newB := NewBufferWithLayout(b.shape, b.minorToMajor)
	reflect.Copy(reflect.ValueOf(newB.flat), reflect.ValueOf(b.flat))
	return newB
}

// Equal reports whether the two buffers have the same shape, layout and
// bit-identical contents.
func (b *Buffer) Equal(other *Buffer) bool {
	if b == nil || other == nil {
		return b == other
	}
	return b.shape.Equal(other.shape) &&
		slices.Equal(b.minorToMajor, other.minorToMajor) &&
		reflect.DeepEqual(b.flat, other.flat)
}

// FlatFloat64 returns the buffer contents converted to float64, in flat
// (layout) order. Handy for tests and debugging; it fails with
// ErrUnsupportedDType for non-numeric dtypes.
func (b *Buffer) FlatFloat64() ([]float64, error) {
	out := make([]float64, b.Size())
	switch flat := b.flat.(type) {
	case []float64:
		copy(out, flat)
	case []float32:
		for ii, v := range flat {
			out[ii] = float64(v)
		}
	case []float16.Float16:
		for ii, v := range flat {
			out[ii] = float64(v.Float32())
		}
	case []bfloat16.BFloat16:
		for ii, v := range flat {
			out[ii] = float64(v.Float32())
		}
	case []int8:
		for ii, v := range flat {
			out[ii] = float64(v)
		}
	case []int16:
		for ii, v := range flat {
			out[ii] = float64(v)
		}
	case []int32:
		for ii, v := range flat {
			out[ii] = float64(v)
		}
	case []int64:
		for ii, v := range flat {
			out[ii] = float64(v)
		}
	case []uint8:
		for ii, v := range flat {
			out[ii] = float64(v)
		}
	case []uint16:
		for ii, v := range flat {
			out[ii] = float64(v)
		}
	case []uint32:
		for ii, v := range flat {
			out[ii] = float64(v)
		}
	case []uint64:
		for ii, v := range flat {
			out[ii] = float64(v)
		}
	default:
		return nil, errors.Wrapf(ErrUnsupportedDType, "FlatFloat64 of %s buffer", b.shape)
	}
	return out, nil
}

func isPermutation(layout []int, rank int) bool {
	if len(layout) != rank {
		return false
	}
	seen := make([]bool, rank)
	for _, axis := range layout {
		if axis < 0 || axis >= rank || seen[axis] {
			return false
		}
		seen[axis] = true
	}
	return true
}
