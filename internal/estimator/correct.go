package estimator

import (
	"math"

	"github.com/westphae/quaternion"
	"gonum.org/v1/gonum/mat"

	"github.com/relabs-tech/position_estimator/internal/imu"
	"github.com/relabs-tech/position_estimator/internal/monitoring"
	"github.com/relabs-tech/position_estimator/internal/orientation"
)

// observation is a linearized measurement of the error state.
type observation struct {
	kind     ObservationKind
	residual []float64
	h        *mat.Dense // len(residual) × StateDim
	noise    []float64  // variances, one per residual component
}

// fuse runs a bounded-gain Kalman update. The gain is scaled down so the
// attitude correction never exceeds MaxAttitudeCorrection, and the covariance
// is updated in Joseph form, which stays valid for the scaled gain.
func (f *Filter) fuse(ts int64, obs observation) (FusionUpdate, bool) {
	m := len(obs.residual)
	p := f.state.Covariance.Sym()

	var hp mat.Dense
	hp.Mul(obs.h, p)
	var s mat.Dense
	s.Mul(&hp, obs.h.T())
	sData := make([]float64, m*m)
	for i := 0; i < m; i++ {
		for j := 0; j < m; j++ {
			sData[i*m+j] = 0.5 * (s.At(i, j) + s.At(j, i))
		}
		sData[i*m+i] += obs.noise[i]
	}

	var chol mat.Cholesky
	if !chol.Factorize(mat.NewSymDense(m, sData)) {
		f.reject(Rejection{Timestamp: ts, Kind: obs.kind, Reason: RejectNumeric})
		return FusionUpdate{}, false
	}
	// Kᵀ = S⁻¹ H P, since both S and P are symmetric.
	var kt mat.Dense
	if err := chol.SolveTo(&kt, &hp); err != nil {
		f.reject(Rejection{Timestamp: ts, Kind: obs.kind, Reason: RejectNumeric})
		return FusionUpdate{}, false
	}
	k := mat.DenseCopyOf(kt.T())

	var dx mat.VecDense
	dx.MulVec(k, mat.NewVecDense(m, append([]float64(nil), obs.residual...)))

	alpha := 1.0
	dTheta := imu.Vec3{X: dx.AtVec(idxAtt), Y: dx.AtVec(idxAtt + 1), Z: dx.AtVec(idxAtt + 2)}
	if n := dTheta.Norm(); n > f.cfg.MaxAttitudeCorrection {
		alpha = f.cfg.MaxAttitudeCorrection / n
		dx.ScaleVec(alpha, &dx)
		k.Scale(alpha, k)
	}

	// P' = (I - KH) P (I - KH)ᵀ + K R Kᵀ
	ikh := identity(StateDim)
	var kh mat.Dense
	kh.Mul(k, obs.h)
	ikh.Sub(ikh, &kh)

	var left, joseph mat.Dense
	left.Mul(ikh, p)
	joseph.Mul(&left, ikh.T())

	var kr, krk mat.Dense
	kr.Mul(k, mat.NewDiagDense(m, append([]float64(nil), obs.noise...)))
	krk.Mul(&kr, k.T())
	joseph.Add(&joseph, &krk)

	next := f.state
	next.Orientation = orientation.Normalize(quaternion.Prod(
		orientation.Exp(imu.Vec3{X: dx.AtVec(idxAtt), Y: dx.AtVec(idxAtt + 1), Z: dx.AtVec(idxAtt + 2)}),
		f.state.Orientation))
	next.Velocity = next.Velocity.Add(imu.Vec3{X: dx.AtVec(idxVel), Y: dx.AtVec(idxVel + 1), Z: dx.AtVec(idxVel + 2)})
	next.Position = next.Position.Add(imu.Vec3{X: dx.AtVec(idxPos), Y: dx.AtVec(idxPos + 1), Z: dx.AtVec(idxPos + 2)})
	next.Covariance = CovarianceFrom(&joseph)

	upd := FusionUpdate{
		Kind:        obs.kind,
		Timestamp:   ts,
		Residual:    append([]float64(nil), obs.residual...),
		GainScale:   alpha,
		TraceBefore: f.state.Covariance.Trace(),
		TraceAfter:  next.Covariance.Trace(),
	}

	if !next.finite() || !next.Covariance.PositiveDefinite() {
		f.reset("correction produced an invalid state")
		return upd, false
	}
	f.commit(next)
	f.stats.Corrections++
	f.last = upd
	f.observer.CorrectionApplied(obs.kind)
	return upd, true
}

// correctStationary fuses the gravity direction and zero velocity while the
// device is at rest. accel is the calibrated specific force in body frame.
func (f *Filter) correctStationary(accel imu.Vec3, ts int64) bool {
	q := f.state.Orientation
	expected := orientation.RotateInverse(q, gravityWorld)
	ra := accel.Sub(expected)
	if n := ra.Norm(); n > f.cfg.AccelOutlierThreshold {
		f.reject(Rejection{Timestamp: ts, Kind: ObservationGravity, Reason: RejectResidual,
			Magnitude: n, Threshold: f.cfg.AccelOutlierThreshold})
		return false
	}
	if f.lastStationaryUpdate != 0 && ts-f.lastStationaryUpdate < f.cfg.StationaryUpdateInterval.Nanoseconds() {
		return false
	}
	f.lastStationaryUpdate = ts

	h := mat.NewDense(6, StateDim, nil)
	setBlock(h, 0, idxAtt, gravityJacobian(q))
	for i := 0; i < 3; i++ {
		h.Set(3+i, idxVel+i, 1)
	}

	va := f.cfg.AccelObservationNoise * f.cfg.AccelObservationNoise
	vz := f.cfg.ZeroVelocityNoise * f.cfg.ZeroVelocityNoise
	v := f.state.Velocity
	_, ok := f.fuse(ts, observation{
		kind:     ObservationGravity,
		residual: []float64{ra.X, ra.Y, ra.Z, -v.X, -v.Y, -v.Z},
		h:        h,
		noise:    []float64{va, va, va, vz, vz, vz},
	})
	return ok
}

// gravityJacobian is d(Rᵀ g)/dδθ = Rᵀ [g]× for q_true = Exp(δθ) ⊗ q.
func gravityJacobian(q quaternion.Quaternion) [3][3]float64 {
	return mul3(transpose3(q.RotMat()), skew(gravityWorld))
}

// correctGravitySensor fuses a body-frame gravity vector reported by the
// platform. Linear acceleration is already removed, so unlike
// correctStationary it applies while moving, and it carries no velocity
// information.
func (f *Filter) correctGravitySensor(gravity imu.Vec3, ts int64) bool {
	n := gravity.Norm()
	if !f.initialized || n == 0 {
		return false
	}
	// Only the direction is observed.
	gravity = gravity.Scale(imu.StandardGravity / n)
	expected := orientation.RotateInverse(f.state.Orientation, gravityWorld)
	r := gravity.Sub(expected)
	if n := r.Norm(); n > f.cfg.AccelOutlierThreshold {
		f.reject(Rejection{Timestamp: ts, Kind: ObservationGravitySensor, Reason: RejectResidual,
			Magnitude: n, Threshold: f.cfg.AccelOutlierThreshold})
		return false
	}
	if f.lastGravitySensor != 0 && ts-f.lastGravitySensor < f.cfg.GravitySensorInterval.Nanoseconds() {
		return false
	}
	f.lastGravitySensor = ts

	h := mat.NewDense(3, StateDim, nil)
	setBlock(h, 0, idxAtt, gravityJacobian(f.state.Orientation))
	vg := f.cfg.GravitySensorNoise * f.cfg.GravitySensorNoise
	_, ok := f.fuse(ts, observation{
		kind:     ObservationGravitySensor,
		residual: []float64{r.X, r.Y, r.Z},
		h:        h,
		noise:    []float64{vg, vg, vg},
	})
	return ok
}

// magReference is the world-frame field direction fixed by the first
// qualifying magnetometer sample.
type magReference struct {
	set         bool
	heading     float64
	inclination float64
}

// correctMag fuses the magnetometer heading. mag is calibrated, in µT.
func (f *Filter) correctMag(mag imu.Vec3, ts int64) bool {
	if !f.initialized {
		return false
	}
	n := mag.Norm()
	if n < f.cfg.MagFieldMin || n > f.cfg.MagFieldMax {
		thr := f.cfg.MagFieldMin
		if n > f.cfg.MagFieldMax {
			thr = f.cfg.MagFieldMax
		}
		f.reject(Rejection{Timestamp: ts, Kind: ObservationMagHeading, Reason: RejectFieldStrength,
			Magnitude: n, Threshold: thr})
		return false
	}

	world := orientation.Rotate(f.state.Orientation, mag)
	heading := math.Atan2(world.Y, world.X)
	inclination := math.Asin(clamp(world.Z/n, -1, 1))
	horizontal := math.Hypot(world.X, world.Y)

	if !f.magRef.set {
		if horizontal < 0.1*n {
			return false
		}
		f.magRef = magReference{set: true, heading: heading, inclination: inclination}
		monitoring.Infof("estimator: magnetic reference set, heading %.3f rad inclination %.3f rad", heading, inclination)
		return false
	}

	if d := math.Abs(inclination - f.magRef.inclination); d > f.cfg.MagInclinationTolerance || horizontal < 0.1*n {
		f.reject(Rejection{Timestamp: ts, Kind: ObservationMagHeading, Reason: RejectInclination,
			Magnitude: d, Threshold: f.cfg.MagInclinationTolerance})
		return false
	}

	r := orientation.WrapAngle(f.magRef.heading - heading)
	if math.Abs(r) > f.cfg.MagOutlierThreshold {
		f.reject(Rejection{Timestamp: ts, Kind: ObservationMagHeading, Reason: RejectResidual,
			Magnitude: math.Abs(r), Threshold: f.cfg.MagOutlierThreshold})
		return false
	}

	h := mat.NewDense(1, StateDim, nil)
	h.Set(0, idxAtt+2, 1)
	_, ok := f.fuse(ts, observation{
		kind:     ObservationMagHeading,
		residual: []float64{r},
		h:        h,
		noise:    []float64{f.cfg.MagObservationNoise * f.cfg.MagObservationNoise},
	})
	return ok
}

// reject records r. The state is not touched.
func (f *Filter) reject(r Rejection) {
	f.rejections.Add(r)
	f.stats.Rejections++
	f.observer.ObservationRejected(r.Kind, r.Reason)
	if r.Reason == RejectResidual || r.Reason == RejectNumeric {
		monitoring.Warnf("estimator: %s", r)
	} else {
		monitoring.Debugf("estimator: %s", r)
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
