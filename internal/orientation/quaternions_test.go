package orientation

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/westphae/quaternion"

	"github.com/relabs-tech/position_estimator/internal/imu"
)

const tolerance = 1e-9

func assertVecNear(t *testing.T, want, got imu.Vec3) {
	t.Helper()
	assert.InDelta(t, want.X, got.X, tolerance, "x")
	assert.InDelta(t, want.Y, got.Y, tolerance, "y")
	assert.InDelta(t, want.Z, got.Z, tolerance, "z")
}

func TestExpAboutZ(t *testing.T) {
	q := Exp(imu.Vec3{Z: math.Pi / 2})
	assertVecNear(t, imu.Vec3{Y: 1}, Rotate(q, imu.Vec3{X: 1}))
	assert.InDelta(t, math.Pi/2, Yaw(q), tolerance)
}

func TestExpSmallAngleIsUnit(t *testing.T) {
	q := Exp(imu.Vec3{X: 1e-12, Y: -2e-12})
	assert.InDelta(t, 1, q.Norm(), 1e-15)
}

func TestRotMatMatchesRotate(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		q := Normalize(quaternion.Quaternion{W: r.NormFloat64(), X: r.NormFloat64(), Y: r.NormFloat64(), Z: r.NormFloat64()})
		v := imu.Vec3{X: r.NormFloat64(), Y: r.NormFloat64(), Z: r.NormFloat64()}
		m := q.RotMat()
		want := imu.Vec3{
			X: m[0][0]*v.X + m[0][1]*v.Y + m[0][2]*v.Z,
			Y: m[1][0]*v.X + m[1][1]*v.Y + m[1][2]*v.Z,
			Z: m[2][0]*v.X + m[2][1]*v.Y + m[2][2]*v.Z,
		}
		assertVecNear(t, want, Rotate(q, v))
		assertVecNear(t, v, RotateInverse(q, Rotate(q, v)))
	}
}

func TestNormalize(t *testing.T) {
	q := Normalize(quaternion.Quaternion{W: -2, X: 0, Y: 0, Z: 2})
	assert.InDelta(t, 1, q.Norm(), tolerance)
	assert.GreaterOrEqual(t, q.W, 0.0)
	assert.Equal(t, Identity, Normalize(quaternion.Quaternion{}))
}

func TestPoseRoundTrip(t *testing.T) {
	poses := []Pose{
		{Roll: 0, Pitch: 0, Yaw: 0},
		{Roll: 30, Pitch: -20, Yaw: 45},
		{Roll: -120, Pitch: 60, Yaw: -170},
		{Roll: 5, Pitch: 85, Yaw: 90},
	}
	for _, p := range poses {
		got := PoseFromQuaternion(FromPose(p))
		assert.InDelta(t, p.Roll, got.Roll, 1e-6)
		assert.InDelta(t, p.Pitch, got.Pitch, 1e-6)
		assert.InDelta(t, p.Yaw, got.Yaw, 1e-6)
	}
}

func TestFromPoseComposesYawPitchRoll(t *testing.T) {
	p := Pose{Roll: 30, Pitch: -20, Yaw: 45}
	want := quaternion.Prod(
		Exp(imu.Vec3{Z: p.Yaw * math.Pi / 180}),
		Exp(imu.Vec3{Y: p.Pitch * math.Pi / 180}),
		Exp(imu.Vec3{X: p.Roll * math.Pi / 180}),
	)
	assert.True(t, want.ApproxEqual(FromPose(p), 1e-12), "got %v want %v", FromPose(p), want)
}

func TestPoseAtGimbalLock(t *testing.T) {
	got := PoseFromQuaternion(FromPose(Pose{Pitch: 90}))
	assert.False(t, math.IsNaN(got.Pitch))
	assert.InDelta(t, 90, got.Pitch, 1e-3)
}

func TestComputePoseFromAccelMatchesGravity(t *testing.T) {
	p := Pose{Roll: 25, Pitch: -35}
	q := FromPose(p)
	// An accelerometer at rest reads the world up-vector expressed in the body frame.
	a := RotateInverse(q, imu.Vec3{Z: imu.StandardGravity})

	got := ComputePoseFromAccel(a.X, a.Y, a.Z)
	assert.InDelta(t, p.Roll, got.Roll, 1e-6)
	assert.InDelta(t, p.Pitch, got.Pitch, 1e-6)
	assert.Equal(t, 0.0, got.Yaw)
}

func TestAngle(t *testing.T) {
	q := Exp(imu.Vec3{X: 0.3})
	assert.InDelta(t, 0.3, Angle(Identity, q), 1e-9)
	assert.InDelta(t, 0, Angle(q, q), 1e-6)
}

func TestWrapAngle(t *testing.T) {
	assert.InDelta(t, 0, WrapAngle(2*math.Pi), tolerance)
	assert.InDelta(t, math.Pi, WrapAngle(-math.Pi), tolerance)
	assert.InDelta(t, math.Pi/2, WrapAngle(-3*math.Pi/2), tolerance)
	assert.InDelta(t, -0.5, WrapAngle(-0.5), tolerance)
}
