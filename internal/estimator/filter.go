// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package estimator

import (
	"time"

	"github.com/relabs-tech/position_estimator/internal/calibration"
	"github.com/relabs-tech/position_estimator/internal/imu"
	"github.com/relabs-tech/position_estimator/internal/monitoring"
	"github.com/relabs-tech/position_estimator/internal/orientation"
)

// Observer receives filter outcomes, typically to export metrics. Calls
// happen on the estimator goroutine and must not block.
type Observer interface {
	PredictionDone(dt time.Duration, clamped, degraded bool, took time.Duration)
	CorrectionApplied(kind ObservationKind)
	ObservationRejected(kind ObservationKind, reason RejectReason)
	FilterReset()
	QueueDepth(n int)
}

type nopObserver struct{}

func (nopObserver) PredictionDone(time.Duration, bool, bool, time.Duration) {}
func (nopObserver) CorrectionApplied(ObservationKind)                       {}
func (nopObserver) ObservationRejected(ObservationKind, RejectReason)       {}
func (nopObserver) FilterReset()                                            {}
func (nopObserver) QueueDepth(int)                                          {}

// Stats counts what the filter has done since it was created.
type Stats struct {
	Predictions         uint64 `json:"predictions"`
	DegradedPredictions uint64 `json:"degraded_predictions"`
	ClampedGaps         uint64 `json:"clamped_gaps"`
	Corrections         uint64 `json:"corrections"`
	Rejections          uint64 `json:"rejections"`
	Resets              uint64 `json:"resets"`
	StaleSamples        uint64 `json:"stale_samples"`
}

// Filter is the synchronous estimation engine: calibration, pairing,
// prediction and correction. Samples must be fed in timestamp order from a
// single goroutine. Estimator wraps it with a queue and lifecycle.
type Filter struct {
	cfg      Config
	cal      *calibration.Calibrator
	observer Observer

	state       MotionState
	initialized bool
	aligned     bool
	degraded    bool

	pairs     pairer
	lastGyro  imu.Vec3
	lastAccel imu.Vec3
	haveGyro  bool
	haveAccel bool

	magRef               magReference
	lastStationaryUpdate int64
	lastGravitySensor    int64
	lastFinitePosition   imu.Vec3

	rejections *RejectionLog
	last       FusionUpdate
	stats      Stats
}

// NewFilter returns a filter at the origin with identity orientation and the
// configured initial uncertainty. observer may be nil.
func NewFilter(cfg Config, observer Observer) *Filter {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Filter{
		cfg:      cfg,
		cal:      calibration.New(cfg.Calibration()),
		observer: observer,
		state: MotionState{
			Orientation: orientation.Identity,
			Covariance:  DiagonalCovariance(cfg.InitialAttitudeSigma, cfg.InitialVelocitySigma, cfg.InitialPositionSigma),
		},
		pairs:      pairer{tolerance: cfg.PairingTolerance.Nanoseconds()},
		rejections: NewRejectionLog(cfg.RejectionLogSize),
	}
}

// RestoreCalibration seeds the calibration layer, for example from a file.
func (f *Filter) RestoreCalibration(s calibration.State) { f.cal.Restore(s) }

// State returns a copy of the motion state.
func (f *Filter) State() MotionState { return f.state }

// Stats returns the filter counters.
func (f *Filter) Stats() Stats { return f.stats }

// Rejections returns the bounded rejection log.
func (f *Filter) Rejections() *RejectionLog { return f.rejections }

// LastUpdate returns the most recent applied correction.
func (f *Filter) LastUpdate() FusionUpdate { return f.last }

// Calibration returns a copy of the calibration state.
func (f *Filter) Calibration() calibration.State { return f.cal.State() }

// Snapshot returns the current estimate as an immutable copy.
func (f *Filter) Snapshot() Snapshot {
	snap := newSnapshot(f.state)
	snap.Calibrated = f.cal.Calibrated()
	snap.Stationary = f.cal.Stationary()
	snap.Degraded = f.degraded
	snap.Calibration = f.cal.State()
	snap.Stats = f.stats
	return snap
}

// Process consumes one raw sample and reports whether the state changed.
func (f *Filter) Process(raw imu.Sample) bool {
	s, ev := f.cal.Process(raw)
	if ev.StationaryChanged {
		monitoring.Debugf("estimator: stationary=%t at %d", ev.Stationary, s.Timestamp)
	}

	changed := false
	for _, st := range f.pairs.expire(s.Timestamp) {
		changed = f.step(st) || changed
	}

	switch s.Type {
	case imu.Gyroscope, imu.Accelerometer:
		for _, st := range f.pairs.push(s) {
			changed = f.step(st) || changed
		}
	case imu.Magnetometer:
		changed = f.correctMag(s.Value, s.Timestamp) || changed
	case imu.Gravity, imu.RotationVector:
		changed = f.correctGravitySensor(s.Value, s.Timestamp) || changed
	}
	return changed
}

// Flush integrates a sample still waiting for its partner.
func (f *Filter) Flush() bool {
	changed := false
	for _, st := range f.pairs.flush() {
		changed = f.step(st) || changed
	}
	return changed
}

// Pending reports whether a sample is waiting for its partner.
func (f *Filter) Pending() bool { return f.pairs.waiting }

func (f *Filter) step(st inertialStep) bool {
	if st.hasGyro {
		f.lastGyro, f.haveGyro = st.gyro, true
	} else if f.haveGyro {
		st.gyro = f.lastGyro
	}
	if st.hasAccel {
		f.lastAccel, f.haveAccel = st.accel, true
	} else if f.haveAccel {
		st.accel = f.lastAccel
	} else {
		// Nothing known yet: assume the device only feels gravity.
		st.accel = orientation.RotateInverse(f.state.Orientation, gravityWorld)
	}

	if !f.initialized {
		f.initialized = true
		f.state.Timestamp = st.ts
		if st.hasAccel {
			f.align(st.accel)
		}
		return true
	}
	if st.hasAccel && !f.aligned {
		f.align(st.accel)
	}

	changed := f.predict(st.gyro, st.accel, st.ts, st.degraded())
	if st.hasAccel && f.cal.Stationary() {
		changed = f.correctStationary(st.accel, st.ts) || changed
	}
	return changed
}

// align levels the orientation from a specific force reading.
func (f *Filter) align(accel imu.Vec3) {
	f.aligned = true
	if !f.cfg.AlignOnFirstSample || accel.Norm() == 0 {
		return
	}
	pose := orientation.ComputePoseFromAccel(accel.X, accel.Y, accel.Z)
	f.state.Orientation = orientation.Normalize(orientation.FromPose(pose))
	monitoring.Infof("estimator: aligned to roll %.1f° pitch %.1f°", pose.Roll, pose.Pitch)
}

func (f *Filter) commit(next MotionState) {
	f.state = next
	f.lastFinitePosition = next.Position
}

// reset puts the filter in its safe default: identity orientation, zero
// velocity, the last finite position and maximal uncertainty.
func (f *Filter) reset(reason string) {
	f.state = MotionState{
		Orientation: orientation.Identity,
		Position:    f.lastFinitePosition,
		Covariance:  DiagonalCovariance(f.cfg.ResetAttitudeSigma, f.cfg.ResetVelocitySigma, f.cfg.ResetPositionSigma),
		Timestamp:   f.state.Timestamp,
	}
	f.magRef = magReference{}
	f.aligned = false
	f.stats.Resets++
	f.observer.FilterReset()
	monitoring.Errorf("estimator: %s, state reset", reason)
}
