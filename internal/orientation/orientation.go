// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"math"

	"github.com/westphae/quaternion"
)

// Pose is the roll/pitch/yaw view of an orientation, in degrees.
// It is for display only; the estimator keeps quaternions.
type Pose struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// ComputePoseFromAccel computes roll and pitch from accelerometer data only.
// Yaw is unobservable from gravity and is set to 0.
//
// Uses simple tilt formulas:
//
//	roll  = atan2(ay, az)
//	pitch = atan2(-ax, sqrt(ay² + az²))
func ComputePoseFromAccel(ax, ay, az float64) Pose {
	rollRad := math.Atan2(ay, az)
	pitchRad := math.Atan2(-ax, math.Sqrt(ay*ay+az*az))

	return Pose{
		Roll:  rollRad * 180.0 / math.Pi,
		Pitch: pitchRad * 180.0 / math.Pi,
		Yaw:   0,
	}
}

// PoseFromQuaternion returns the Z-Y-X (yaw, pitch, roll) angles of the
// body-to-world rotation q, in degrees.
func PoseFromQuaternion(q quaternion.Quaternion) Pose {
	roll, pitch, yaw := q.Euler()
	if math.IsNaN(pitch) {
		// Rounding can push the asin argument just past ±1 at gimbal lock.
		u := q.Unit()
		pitch = math.Copysign(math.Pi/2, u.W*u.Y-u.Z*u.X)
	}

	return Pose{
		Roll:  roll * 180.0 / math.Pi,
		Pitch: pitch * 180.0 / math.Pi,
		Yaw:   yaw * 180.0 / math.Pi,
	}
}

// FromPose builds the body-to-world quaternion for a pose given in degrees,
// composing yaw about Z, then pitch about Y, then roll about X.
func FromPose(p Pose) quaternion.Quaternion {
	const rad = math.Pi / 180
	return quaternion.FromEuler(p.Roll*rad, p.Pitch*rad, p.Yaw*rad)
}
