package tensors

import (
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
)

// elemCopier copies (and casts, if needed) one element from a source flat
// slice position to a destination flat slice position. The typed slices are
// captured in the closure; the strided copy loops only do index arithmetic.
type elemCopier func(dstIdx, srcIdx int)

// newElemCopier builds the element copier for the (source dtype,
// destination dtype) pair. It returns nil if the pair is not in the
// type-mapping tables.
//
// Numeric conversions use the plain Go conversion; the narrow float formats
// (Float16, BFloat16) bridge through float32; booleans convert to/from
// numbers as 0/1 and v != 0.
func newElemCopier(dst, src *Buffer) elemCopier {
	switch srcFlat := src.flat.(type) {
	case []int8:
		return copierFromNumeric(dst, srcFlat)
	case []int16:
		return copierFromNumeric(dst, srcFlat)
	case []int32:
		return copierFromNumeric(dst, srcFlat)
	case []int64:
		return copierFromNumeric(dst, srcFlat)
	case []uint8:
		return copierFromNumeric(dst, srcFlat)
	case []uint16:
		return copierFromNumeric(dst, srcFlat)
	case []uint32:
		return copierFromNumeric(dst, srcFlat)
	case []uint64:
		return copierFromNumeric(dst, srcFlat)
	case []float32:
		return copierFromNumeric(dst, srcFlat)
	case []float64:
		return copierFromNumeric(dst, srcFlat)
	case []float16.Float16:
		if dstFlat, ok := dst.flat.([]float16.Float16); ok {
			return func(dstIdx, srcIdx int) { dstFlat[dstIdx] = srcFlat[srcIdx] }
		}
		return copierFromFloat32Getter(dst, func(idx int) float32 { return srcFlat[idx].Float32() })
	case []bfloat16.BFloat16:
		if dstFlat, ok := dst.flat.([]bfloat16.BFloat16); ok {
			return func(dstIdx, srcIdx int) { dstFlat[dstIdx] = srcFlat[srcIdx] }
		}
		return copierFromFloat32Getter(dst, func(idx int) float32 { return srcFlat[idx].Float32() })
	case []bool:
		return copierFromBool(dst, srcFlat)
	}
	return nil
}

// copierFromNumeric covers source slices of the plain Go number types.
func copierFromNumeric[S constraints.Integer | constraints.Float](dst *Buffer, src []S) elemCopier {
	switch dstFlat := dst.flat.(type) {
	case []int8:
		return func(dstIdx, srcIdx int) { dstFlat[dstIdx] = int8(src[srcIdx]) }
	case []int16:
		return func(dstIdx, srcIdx int) { dstFlat[dstIdx] = int16(src[srcIdx]) }
	case []int32:
		return func(dstIdx, srcIdx int) { dstFlat[dstIdx] = int32(src[srcIdx]) }
	case []int64:
		return func(dstIdx, srcIdx int) { dstFlat[dstIdx] = int64(src[srcIdx]) }
	case []uint8:
		return func(dstIdx, srcIdx int) { dstFlat[dstIdx] = uint8(src[srcIdx]) }
	case []uint16:
		return func(dstIdx, srcIdx int) { dstFlat[dstIdx] = uint16(src[srcIdx]) }
	case []uint32:
		return func(dstIdx, srcIdx int) { dstFlat[dstIdx] = uint32(src[srcIdx]) }
	case []uint64:
		return func(dstIdx, srcIdx int) { dstFlat[dstIdx] = uint64(src[srcIdx]) }
	case []float32:
		return func(dstIdx, srcIdx int) { dstFlat[dstIdx] = float32(src[srcIdx]) }
	case []float64:
		return func(dstIdx, srcIdx int) { dstFlat[dstIdx] = float64(src[srcIdx]) }
	case []float16.Float16:
		return func(dstIdx, srcIdx int) { dstFlat[dstIdx] = float16.Fromfloat32(float32(src[srcIdx])) }
	case []bfloat16.BFloat16:
		return func(dstIdx, srcIdx int) { dstFlat[dstIdx] = bfloat16.FromFloat32(float32(src[srcIdx])) }
	case []bool:
		return func(dstIdx, srcIdx int) { dstFlat[dstIdx] = src[srcIdx] != 0 }
	}
	return nil
}

// copierFromFloat32Getter covers the narrow float sources: the getter hides
// the source representation behind a float32 read.
func copierFromFloat32Getter(dst *Buffer, get func(idx int) float32) elemCopier {
	switch dstFlat := dst.flat.(type) {
	case []int8:
		return func(dstIdx, srcIdx int) { dstFlat[dstIdx] = int8(get(srcIdx)) }
	case []int16:
		return func(dstIdx, srcIdx int) { dstFlat[dstIdx] = int16(get(srcIdx)) }
	case []int32:
		return func(dstIdx, srcIdx int) { dstFlat[dstIdx] = int32(get(srcIdx)) }
	case []int64:
		return func(dstIdx, srcIdx int) { dstFlat[dstIdx] = int64(get(srcIdx)) }
	case []uint8:
		return func(dstIdx, srcIdx int) { dstFlat[dstIdx] = uint8(get(srcIdx)) }
	case []uint16:
		return func(dstIdx, srcIdx int) { dstFlat[dstIdx] = uint16(get(srcIdx)) }
	case []uint32:
		return func(dstIdx, srcIdx int) { dstFlat[dstIdx] = uint32(get(srcIdx)) }
	case []uint64:
		return func(dstIdx, srcIdx int) { dstFlat[dstIdx] = uint64(get(srcIdx)) }
	case []float32:
		return func(dstIdx, srcIdx int) { dstFlat[dstIdx] = get(srcIdx) }
	case []float64:
		return func(dstIdx, srcIdx int) { dstFlat[dstIdx] = float64(get(srcIdx)) }
	case []float16.Float16:
		return func(dstIdx, srcIdx int) { dstFlat[dstIdx] = float16.Fromfloat32(get(srcIdx)) }
	case []bfloat16.BFloat16:
		return func(dstIdx, srcIdx int) { dstFlat[dstIdx] = bfloat16.FromFloat32(get(srcIdx)) }
	case []bool:
		return func(dstIdx, srcIdx int) { dstFlat[dstIdx] = get(srcIdx) != 0 }
	}
	return nil
}

func copierFromBool(dst *Buffer, src []bool) elemCopier {
	switch dstFlat := dst.flat.(type) {
	case []bool:
		return func(dstIdx, srcIdx int) { dstFlat[dstIdx] = src[srcIdx] }
	case []int8:
		return func(dstIdx, srcIdx int) { dstFlat[dstIdx] = boolToNumber[int8](src[srcIdx]) }
	case []int16:
		return func(dstIdx, srcIdx int) { dstFlat[dstIdx] = boolToNumber[int16](src[srcIdx]) }
	case []int32:
		return func(dstIdx, srcIdx int) { dstFlat[dstIdx] = boolToNumber[int32](src[srcIdx]) }
	case []int64:
		return func(dstIdx, srcIdx int) { dstFlat[dstIdx] = boolToNumber[int64](src[srcIdx]) }
	case []uint8:
		return func(dstIdx, srcIdx int) { dstFlat[dstIdx] = boolToNumber[uint8](src[srcIdx]) }
	case []uint16:
		return func(dstIdx, srcIdx int) { dstFlat[dstIdx] = boolToNumber[uint16](src[srcIdx]) }
	case []uint32:
		return func(dstIdx, srcIdx int) { dstFlat[dstIdx] = boolToNumber[uint32](src[srcIdx]) }
	case []uint64:
		return func(dstIdx, srcIdx int) { dstFlat[dstIdx] = boolToNumber[uint64](src[srcIdx]) }
	case []float32:
		return func(dstIdx, srcIdx int) { dstFlat[dstIdx] = boolToNumber[float32](src[srcIdx]) }
	case []float64:
		return func(dstIdx, srcIdx int) { dstFlat[dstIdx] = boolToNumber[float64](src[srcIdx]) }
	case []float16.Float16:
		return func(dstIdx, srcIdx int) { dstFlat[dstIdx] = float16.Fromfloat32(boolToNumber[float32](src[srcIdx])) }
	case []bfloat16.BFloat16:
		return func(dstIdx, srcIdx int) { dstFlat[dstIdx] = bfloat16.FromFloat32(boolToNumber[float32](src[srcIdx])) }
	}
	return nil
}

func boolToNumber[T constraints.Integer | constraints.Float](b bool) T {
	if b {
		return T(1)
	}
	return T(0)
}
