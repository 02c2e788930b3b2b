package shapes

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
)

func TestMake(t *testing.T) {
	s := Make(dtypes.Float32, 2, 3)
	assert.Equal(t, 2, s.Rank())
	assert.Equal(t, 6, s.Size())
	assert.Equal(t, uintptr(24), s.Memory())
	assert.False(t, s.IsScalar())
	assert.Equal(t, "(Float32)[2 3]", s.String())

	scalar := Make(dtypes.Int64)
	assert.True(t, scalar.IsScalar())
	assert.Equal(t, 1, scalar.Size())

	assert.Panics(t, func() { Make(dtypes.Float32, 2, 0) })
	assert.Panics(t, func() { Make(dtypes.Float32, -1) })
}

func TestScalar(t *testing.T) {
	s := Scalar[float64]()
	assert.Equal(t, dtypes.Float64, s.DType)
	assert.True(t, s.IsScalar())
}

func TestDim(t *testing.T) {
	s := Make(dtypes.Int8, 4, 5, 6)
	assert.Equal(t, 4, s.Dim(0))
	assert.Equal(t, 6, s.Dim(2))
	assert.Equal(t, 6, s.Dim(-1))
	assert.Equal(t, 4, s.Dim(-3))
	assert.Panics(t, func() { s.Dim(3) })
}

func TestEqual(t *testing.T) {
	a := Make(dtypes.Int32, 2, 3)
	assert.True(t, a.Equal(Make(dtypes.Int32, 2, 3)))
	assert.False(t, a.Equal(Make(dtypes.Int64, 2, 3)))
	assert.False(t, a.Equal(Make(dtypes.Int32, 3, 2)))
	assert.True(t, a.EqualDimensions(Make(dtypes.Int64, 2, 3)))

	assert.False(t, Invalid().Ok())
	assert.True(t, a.Ok())
}

func TestClone(t *testing.T) {
	a := Make(dtypes.Int32, 2, 3)
	b := a.Clone()
	b.Dimensions[0] = 7
	assert.Equal(t, 2, a.Dimensions[0])
}
