package orientation

import (
	"math"

	"github.com/westphae/quaternion"

	"github.com/relabs-tech/position_estimator/internal/imu"
)

// Identity is the zero rotation.
var Identity = quaternion.Identity()

// Below this rotation angle Exp switches to its small-angle form.
const smallAngle = 1e-9

// Exp maps a rotation vector (axis × angle, radians) to a unit quaternion.
func Exp(rv imu.Vec3) quaternion.Quaternion {
	angle := rv.Norm()
	if angle < smallAngle {
		return Normalize(quaternion.Quaternion{W: 1, X: rv.X / 2, Y: rv.Y / 2, Z: rv.Z / 2})
	}
	return quaternion.FromAxisAngle(quaternion.Vec3(rv), angle)
}

// Normalize rescales q to unit norm, keeping the scalar part non-negative so
// equal rotations share one representation. A zero quaternion becomes Identity.
func Normalize(q quaternion.Quaternion) quaternion.Quaternion {
	if q.Norm2() == 0 {
		return Identity
	}
	q = q.Unit()
	if q.W < 0 {
		q = q.Neg()
	}
	return q
}

// Rotate applies q to v: q·v·q*.
func Rotate(q quaternion.Quaternion, v imu.Vec3) imu.Vec3 {
	return imu.Vec3(q.RotateVec3(quaternion.Vec3(v)))
}

// RotateInverse applies the inverse rotation of q to v: q*·v·q.
func RotateInverse(q quaternion.Quaternion, v imu.Vec3) imu.Vec3 {
	return Rotate(q.Conj(), v)
}

// Yaw returns the heading of q about the world Z axis, in radians.
func Yaw(q quaternion.Quaternion) float64 {
	_, _, psi := q.Euler()
	return psi
}

// Angle returns the rotation angle between q and p, in radians, in [0, π].
func Angle(q, p quaternion.Quaternion) float64 {
	d := math.Abs(q.Dot(p))
	if d > 1 {
		d = 1
	}
	return 2 * math.Acos(d)
}

// WrapAngle maps an angle in radians onto (-π, π].
func WrapAngle(a float64) float64 {
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a <= 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}
