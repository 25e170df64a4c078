package imu

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVec3Arithmetic(t *testing.T) {
	a := Vec3{1, 2, 3}
	b := Vec3{4, -5, 6}

	assert.Equal(t, Vec3{5, -3, 9}, a.Add(b))
	assert.Equal(t, Vec3{-3, 7, -3}, a.Sub(b))
	assert.Equal(t, Vec3{2, 4, 6}, a.Scale(2))
	assert.Equal(t, Vec3{4, -10, 18}, a.Mul(b))
	assert.Equal(t, 12.0, a.Dot(b))
	assert.Equal(t, Vec3{27, 6, -13}, a.Cross(b))
	assert.InDelta(t, math.Sqrt(14), a.Norm(), 1e-12)
}

func TestVec3CrossIsOrthogonal(t *testing.T) {
	a := Vec3{0.3, -1.2, 2.5}
	b := Vec3{-0.7, 0.1, 0.4}
	c := a.Cross(b)
	assert.InDelta(t, 0, c.Dot(a), 1e-12)
	assert.InDelta(t, 0, c.Dot(b), 1e-12)
}

func TestVec3Unit(t *testing.T) {
	assert.InDelta(t, 1, Vec3{3, 4, 12}.Unit().Norm(), 1e-12)
	assert.Equal(t, Vec3{}, Vec3{}.Unit())
}

func TestVec3IsFinite(t *testing.T) {
	assert.True(t, Vec3{1, 2, 3}.IsFinite())
	assert.False(t, Vec3{math.NaN(), 0, 0}.IsFinite())
	assert.False(t, Vec3{0, math.Inf(1), 0}.IsFinite())
	assert.False(t, Vec3{0, 0, math.Inf(-1)}.IsFinite())
}

func TestVec3ArrayRoundTrip(t *testing.T) {
	v := Vec3{1.5, -2, 0.25}
	assert.Equal(t, v, FromArray(v.Array()))
}
