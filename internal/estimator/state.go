// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package estimator

import (
	"math"

	"github.com/westphae/quaternion"
	"gonum.org/v1/gonum/mat"

	"github.com/relabs-tech/position_estimator/internal/calibration"
	"github.com/relabs-tech/position_estimator/internal/imu"
	"github.com/relabs-tech/position_estimator/internal/orientation"
)

// StateDim is the size of the error state: attitude error (world frame),
// velocity and position, three components each.
const StateDim = 9

// Offsets of each block in the error state.
const (
	idxAtt = 0
	idxVel = 3
	idxPos = 6
)

// Covariance is the row-major 9×9 error-state covariance. It is a value type
// so copying a MotionState copies its uncertainty.
type Covariance [StateDim * StateDim]float64

// DiagonalCovariance builds a covariance from per-block standard deviations.
func DiagonalCovariance(attSigma, velSigma, posSigma float64) Covariance {
	var c Covariance
	for i := 0; i < 3; i++ {
		c[(idxAtt+i)*StateDim+idxAtt+i] = attSigma * attSigma
		c[(idxVel+i)*StateDim+idxVel+i] = velSigma * velSigma
		c[(idxPos+i)*StateDim+idxPos+i] = posSigma * posSigma
	}
	return c
}

// At returns element (i, j).
func (c Covariance) At(i, j int) float64 { return c[i*StateDim+j] }

// Sym returns a gonum copy of c.
func (c Covariance) Sym() *mat.SymDense {
	data := make([]float64, len(c))
	copy(data, c[:])
	return mat.NewSymDense(StateDim, data)
}

// CovarianceFrom copies a 9×9 matrix, averaging it with its transpose.
func CovarianceFrom(m mat.Matrix) Covariance {
	var c Covariance
	for i := 0; i < StateDim; i++ {
		for j := 0; j < StateDim; j++ {
			c[i*StateDim+j] = 0.5 * (m.At(i, j) + m.At(j, i))
		}
	}
	return c
}

// Trace returns the sum of the variances.
func (c Covariance) Trace() float64 {
	var t float64
	for i := 0; i < StateDim; i++ {
		t += c[i*StateDim+i]
	}
	return t
}

func (c Covariance) sigma(offset int) imu.Vec3 {
	return imu.Vec3{
		X: math.Sqrt(math.Max(c.At(offset, offset), 0)),
		Y: math.Sqrt(math.Max(c.At(offset+1, offset+1), 0)),
		Z: math.Sqrt(math.Max(c.At(offset+2, offset+2), 0)),
	}
}

// Finite reports whether every element is a finite number.
func (c Covariance) Finite() bool {
	for _, v := range c {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// PositiveDefinite reports whether c admits a Cholesky factorization.
func (c Covariance) PositiveDefinite() bool {
	if !c.Finite() {
		return false
	}
	var chol mat.Cholesky
	return chol.Factorize(c.Sym())
}

// MotionState is the estimate owned by the filter. Orientation rotates body
// vectors into the world frame (Z up).
type MotionState struct {
	Orientation quaternion.Quaternion
	Velocity    imu.Vec3
	Position    imu.Vec3
	// Acceleration is the last net world-frame acceleration (gravity removed).
	Acceleration imu.Vec3
	Covariance   Covariance
	// Timestamp is the sensor time of the last prediction, in nanoseconds.
	Timestamp int64
}

func (s *MotionState) finite() bool {
	q := s.Orientation
	for _, v := range [4]float64{q.W, q.X, q.Y, q.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return s.Velocity.IsFinite() && s.Position.IsFinite() && s.Acceleration.IsFinite()
}

// Quaternion is the JSON form of an orientation.
type Quaternion struct {
	W float64 `json:"w"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Snapshot is an immutable copy of the estimate for readers outside the
// estimator goroutine.
type Snapshot struct {
	Seq       uint64 `json:"seq"`
	Timestamp int64  `json:"t"`

	Orientation  Quaternion       `json:"orientation"`
	Pose         orientation.Pose `json:"pose"`
	Velocity     imu.Vec3         `json:"velocity"`
	Position     imu.Vec3         `json:"position"`
	Acceleration imu.Vec3         `json:"acceleration"`

	AttitudeSigma imu.Vec3 `json:"attitude_sigma"`
	VelocitySigma imu.Vec3 `json:"velocity_sigma"`
	PositionSigma imu.Vec3 `json:"position_sigma"`

	Calibrated  bool              `json:"calibrated"`
	Stationary  bool              `json:"stationary"`
	Degraded    bool              `json:"degraded"`
	Calibration calibration.State `json:"calibration"`
	Stats       Stats             `json:"stats"`

	State MotionState `json:"-"`
}

func newSnapshot(st MotionState) Snapshot {
	q := st.Orientation
	return Snapshot{
		Timestamp:     st.Timestamp,
		Orientation:   Quaternion{W: q.W, X: q.X, Y: q.Y, Z: q.Z},
		Pose:          orientation.PoseFromQuaternion(q),
		Velocity:      st.Velocity,
		Position:      st.Position,
		Acceleration:  st.Acceleration,
		AttitudeSigma: st.Covariance.sigma(idxAtt),
		VelocitySigma: st.Covariance.sigma(idxVel),
		PositionSigma: st.Covariance.sigma(idxPos),
		State:         st,
	}
}

// skew returns the cross-product matrix [v]× so that skew(v)·u == v × u.
func skew(v imu.Vec3) [3][3]float64 {
	return [3][3]float64{
		{0, -v.Z, v.Y},
		{v.Z, 0, -v.X},
		{-v.Y, v.X, 0},
	}
}

func mul3(a, b [3][3]float64) [3][3]float64 {
	var out [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				out[i][j] += a[i][k] * b[k][j]
			}
		}
	}
	return out
}

func transpose3(a [3][3]float64) [3][3]float64 {
	var out [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = a[j][i]
		}
	}
	return out
}

// setBlock writes a 3×3 block into m at (row, col).
func setBlock(m *mat.Dense, row, col int, b [3][3]float64) {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m.Set(row+i, col+j, b[i][j])
		}
	}
}
