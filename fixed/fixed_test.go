package fixed

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMulDivRoundTrip(t *testing.T) {
	a := FromInt(6)
	b := FromInt(3)
	assert.Equal(t, FromInt(18), a.Mul(b))
	assert.Equal(t, FromInt(2), a.Div(b))
	assert.Equal(t, Fixed(0), a.Div(0))
}

func TestNegativeMulTruncatesTowardZero(t *testing.T) {
	half := -Half
	assert.Equal(t, -FromInt(1), half.MulInt(2))
	assert.Equal(t, Fixed(-1), Fixed(-3).Mul(Half))
}

func TestFromFloatIsSymmetric(t *testing.T) {
	assert.Equal(t, -FromFloat(1.25), FromFloat(-1.25))
	assert.InDelta(t, 1.25, FromFloat(1.25).Float(), 1e-9)
}

func TestLerpAndClamp(t *testing.T) {
	a := VInt(0, 0)
	b := VInt(10, -10)
	assert.Equal(t, VInt(5, -5), a.Lerp(b, 1, 2))
	assert.Equal(t, b, a.Lerp(b, 3, 0))
	assert.Equal(t, VInt(10, 0), VInt(12, -4).Clamp(VInt(0, 0), VInt(10, 10)))
}

func TestWithinUsesInclusiveRadius(t *testing.T) {
	p := VInt(0, 0)
	assert.True(t, p.Within(VInt(3, 4), FromInt(5)))
	assert.False(t, p.Within(VInt(3, 4), FromInt(5)-1))
	assert.Equal(t, FromInt(4), p.Chebyshev(VInt(3, -4)))
}
