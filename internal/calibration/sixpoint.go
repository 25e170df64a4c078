package calibration

import (
	"errors"
	"fmt"
	"math"

	"github.com/relabs-tech/position_estimator/internal/imu"
)

var (
	// ErrMissingPose is returned when a six-point solve lacks one of ±X ±Y ±Z.
	ErrMissingPose = errors.New("calibration: six-point solve needs all of +X -X +Y -Y +Z -Z")
	// ErrInsufficientExcitation is returned when the magnetometer was not
	// rotated enough to see both extremes of every axis.
	ErrInsufficientExcitation = errors.New("calibration: insufficient magnetometer excitation, rotate more in 3D")
)

// Minimum half-range of the magnetometer per axis, in µT.
const minMagHalfRange = 5.0

// Pose is an axis pointing up during a stationary capture.
type Pose struct {
	Axis int // 0=X 1=Y 2=Z
	Up   bool
}

// ParsePose parses "+X", "-z" and the like.
func ParsePose(s string) (Pose, error) {
	if len(s) != 2 || (s[0] != '+' && s[0] != '-') {
		return Pose{}, fmt.Errorf("invalid pose %q", s)
	}
	p := Pose{Up: s[0] == '+'}
	switch s[1] {
	case 'X', 'x':
		p.Axis = 0
	case 'Y', 'y':
		p.Axis = 1
	case 'Z', 'z':
		p.Axis = 2
	default:
		return Pose{}, fmt.Errorf("invalid pose %q", s)
	}
	return p, nil
}

func (p Pose) String() string {
	sign := "-"
	if p.Up {
		sign = "+"
	}
	return sign + string("XYZ"[p.Axis])
}

// AccelSixPoint averages raw accelerometer readings per pose and solves
// per-axis bias and scale from opposite pose pairs:
//
//	plus  = +g/s + b
//	minus = -g/s + b
//	=> b = (plus + minus)/2, s = g / ((plus - minus)/2)
type AccelSixPoint struct {
	sum   map[Pose]imu.Vec3
	count map[Pose]int
}

// NewAccelSixPoint returns an empty accumulator.
func NewAccelSixPoint() *AccelSixPoint {
	return &AccelSixPoint{sum: map[Pose]imu.Vec3{}, count: map[Pose]int{}}
}

// Add records one raw reading taken in pose p.
func (a *AccelSixPoint) Add(p Pose, v imu.Vec3) {
	a.sum[p] = a.sum[p].Add(v)
	a.count[p]++
}

// Samples returns how many readings were recorded for p.
func (a *AccelSixPoint) Samples(p Pose) int { return a.count[p] }

// Mean returns the mean reading for p.
func (a *AccelSixPoint) Mean(p Pose) (imu.Vec3, bool) {
	n := a.count[p]
	if n == 0 {
		return imu.Vec3{}, false
	}
	return a.sum[p].Scale(1 / float64(n)), true
}

// Complete reports whether every pose has at least one reading.
func (a *AccelSixPoint) Complete() bool {
	for axis := 0; axis < 3; axis++ {
		if a.count[Pose{axis, true}] == 0 || a.count[Pose{axis, false}] == 0 {
			return false
		}
	}
	return true
}

// Solve returns the per-axis accelerometer calibration.
func (a *AccelSixPoint) Solve() (SensorCalibration, error) {
	if !a.Complete() {
		return Identity, ErrMissingPose
	}
	var bias, scale [3]float64
	for axis := 0; axis < 3; axis++ {
		up, _ := a.Mean(Pose{axis, true})
		down, _ := a.Mean(Pose{axis, false})
		plus, minus := up.Array()[axis], down.Array()[axis]

		half := (plus - minus) / 2
		if half < imu.StandardGravity/2 {
			return Identity, fmt.Errorf("calibration: axis %c gravity separation %.3f m/s² too small",
				"XYZ"[axis], half)
		}
		bias[axis] = (plus + minus) / 2
		scale[axis] = imu.StandardGravity / half
	}
	return SensorCalibration{Bias: imu.FromArray(bias), Scale: imu.FromArray(scale)}, nil
}

// MagSphere tracks per-axis extremes of the magnetometer while the device is
// rotated, and solves hard-iron offset and diagonal soft-iron scale.
type MagSphere struct {
	min, max imu.Vec3
	n        int
}

// Add records one raw reading.
func (m *MagSphere) Add(v imu.Vec3) {
	if m.n == 0 {
		m.min, m.max = v, v
	} else {
		m.min = imu.Vec3{X: math.Min(m.min.X, v.X), Y: math.Min(m.min.Y, v.Y), Z: math.Min(m.min.Z, v.Z)}
		m.max = imu.Vec3{X: math.Max(m.max.X, v.X), Y: math.Max(m.max.Y, v.Y), Z: math.Max(m.max.Z, v.Z)}
	}
	m.n++
}

// Samples returns how many readings were recorded.
func (m *MagSphere) Samples() int { return m.n }

// Solve returns the magnetometer calibration. Axes are rescaled to the mean
// half-range so the corrected field keeps its strength in µT.
func (m *MagSphere) Solve() (SensorCalibration, error) {
	half := m.max.Sub(m.min).Scale(0.5)
	if m.n == 0 || half.X < minMagHalfRange || half.Y < minMagHalfRange || half.Z < minMagHalfRange {
		return Identity, ErrInsufficientExcitation
	}
	ref := (half.X + half.Y + half.Z) / 3
	return SensorCalibration{
		Bias:  m.max.Add(m.min).Scale(0.5),
		Scale: imu.Vec3{X: ref / half.X, Y: ref / half.Y, Z: ref / half.Z},
	}, nil
}
