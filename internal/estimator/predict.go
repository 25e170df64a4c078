package estimator

import (
	"math"
	"time"

	"github.com/westphae/quaternion"
	"gonum.org/v1/gonum/mat"

	"github.com/relabs-tech/position_estimator/internal/imu"
	"github.com/relabs-tech/position_estimator/internal/monitoring"
	"github.com/relabs-tech/position_estimator/internal/orientation"
)

// gravityWorld is what an accelerometer at rest reads, in the Z-up world frame.
var gravityWorld = imu.Vec3{Z: imu.StandardGravity}

// ProcessNoise holds the noise densities of one propagation step.
type ProcessNoise struct {
	Gyro  float64 // rad/s/√Hz
	Accel float64 // m/s²/√Hz
}

// Propagate advances st by dt seconds (dt > 0) using calibrated body-frame
// angular rate and specific force. The timestamp is left to the caller.
func Propagate(st MotionState, gyro, accel imu.Vec3, dt float64, noise ProcessNoise) MotionState {
	next := st

	next.Orientation = orientation.Normalize(
		quaternion.Prod(st.Orientation, orientation.Exp(gyro.Scale(dt))))

	specific := orientation.Rotate(next.Orientation, accel)
	next.Acceleration = specific.Sub(gravityWorld)

	// Trapezoidal integration of acceleration and velocity.
	next.Velocity = st.Velocity.Add(st.Acceleration.Add(next.Acceleration).Scale(0.5 * dt))
	next.Position = st.Position.Add(st.Velocity.Add(next.Velocity).Scale(0.5 * dt))

	next.Covariance = propagateCovariance(st.Covariance, specific, dt, noise)
	return next
}

// propagateCovariance computes Φ P Φᵀ + Q for the error state.
func propagateCovariance(c Covariance, specific imu.Vec3, dt float64, noise ProcessNoise) Covariance {
	phi := identity(StateDim)
	fx := skew(specific)
	var velAtt, posAtt [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			velAtt[i][j] = -fx[i][j] * dt
			posAtt[i][j] = -fx[i][j] * dt * dt / 2
		}
	}
	setBlock(phi, idxVel, idxAtt, velAtt)
	setBlock(phi, idxPos, idxAtt, posAtt)
	for i := 0; i < 3; i++ {
		phi.Set(idxPos+i, idxVel+i, dt)
	}

	var tmp, p mat.Dense
	tmp.Mul(phi, c.Sym())
	p.Mul(&tmp, phi.T())

	qAtt := noise.Gyro * noise.Gyro * dt
	qVel := noise.Accel * noise.Accel * dt
	qPos := noise.Accel * noise.Accel * dt * dt * dt / 3
	for i := 0; i < 3; i++ {
		p.Set(idxAtt+i, idxAtt+i, p.At(idxAtt+i, idxAtt+i)+qAtt)
		p.Set(idxVel+i, idxVel+i, p.At(idxVel+i, idxVel+i)+qVel)
		p.Set(idxPos+i, idxPos+i, p.At(idxPos+i, idxPos+i)+qPos)
	}
	return CovarianceFrom(&p)
}

func identity(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// predict integrates one inertial pair up to ts. A non-positive elapsed time
// leaves the state untouched and returns false.
func (f *Filter) predict(gyro, accel imu.Vec3, ts int64, degraded bool) bool {
	dtNs := ts - f.state.Timestamp
	if dtNs <= 0 {
		return false
	}
	start := time.Now()

	clamped := false
	if limit := f.cfg.MaxTimeDelta.Nanoseconds(); dtNs > limit {
		monitoring.Debugf("estimator: gap of %v clamped to %v", time.Duration(dtNs), f.cfg.MaxTimeDelta)
		dtNs = limit
		clamped = true
		f.stats.ClampedGaps++
	}
	dt := float64(dtNs) / 1e9

	noise := ProcessNoise{Gyro: f.cfg.GyroNoise, Accel: f.cfg.AccelNoise}
	if !f.cal.Calibrated() {
		// Variances scale by the factor, so densities scale by its root.
		s := math.Sqrt(f.cfg.UncalibratedNoiseScale)
		noise.Gyro *= s
		noise.Accel *= s
	}

	next := Propagate(f.state, gyro, accel, dt, noise)
	next.Timestamp = ts
	f.stats.Predictions++
	if degraded {
		f.stats.DegradedPredictions++
	}
	f.degraded = degraded

	if !next.finite() || !next.Covariance.PositiveDefinite() {
		f.state.Timestamp = ts
		f.reset("prediction produced an invalid state")
	} else {
		f.commit(next)
	}
	f.observer.PredictionDone(time.Duration(dtNs), clamped, degraded, time.Since(start))
	return true
}
