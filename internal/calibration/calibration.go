// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package calibration removes per-sensor bias and scale from raw samples and
// learns gyroscope bias and accelerometer scale while the device is at rest.
// Per-axis accelerometer and magnetometer corrections come from guided
// captures (AccelSixPoint, MagSphere).
package calibration

import (
	"math"
	"time"

	"github.com/relabs-tech/position_estimator/internal/imu"
	"github.com/relabs-tech/position_estimator/internal/monitoring"
)

// SensorCalibration is the correction applied to one sensor:
// calibrated = (raw - Bias) ⊙ Scale.
type SensorCalibration struct {
	Bias  imu.Vec3 `json:"bias"`
	Scale imu.Vec3 `json:"scale"`
}

// Identity leaves samples untouched.
var Identity = SensorCalibration{Scale: imu.Vec3{X: 1, Y: 1, Z: 1}}

// Apply corrects v.
func (c SensorCalibration) Apply(v imu.Vec3) imu.Vec3 {
	return v.Sub(c.Bias).Mul(c.Scale)
}

// State is the full calibration of the device.
type State struct {
	Gyro  SensorCalibration `json:"gyro"`
	Accel SensorCalibration `json:"accel"`
	Mag   SensorCalibration `json:"mag"`

	// Intervals counts completed stationary intervals.
	Intervals  int  `json:"intervals"`
	Calibrated bool `json:"calibrated"`
}

// NewState returns the passthrough calibration.
func NewState() State {
	return State{Gyro: Identity, Accel: Identity, Mag: Identity}
}

// For returns the calibration of sensor type t.
func (s *State) For(t imu.SensorType) *SensorCalibration {
	switch t {
	case imu.Gyroscope:
		return &s.Gyro
	case imu.Accelerometer:
		return &s.Accel
	case imu.Magnetometer:
		return &s.Mag
	}
	return nil
}

// Config tunes the stationary detector and the learning rates.
type Config struct {
	// StationaryGyroThreshold is the calibrated angular rate, in rad/s, below
	// which the device may be at rest.
	StationaryGyroThreshold float64
	// StationaryMinDuration is how long the rate must stay below the threshold.
	StationaryMinDuration time.Duration
	// BiasLearningRate is the EMA weight of each stationary sample.
	BiasLearningRate float64
	// AccelStationaryTolerance bounds | |a| - g | for samples used to learn
	// the accelerometer scale, in m/s².
	AccelStationaryTolerance float64
}

// Event reports what a single Observe call changed.
type Event struct {
	StationaryChanged bool
	Stationary        bool
	IntervalCompleted bool
	// BecameCalibrated is set on the observation that completed the first
	// stationary interval.
	BecameCalibrated bool
}

// Calibrator owns the calibration state. It is not safe for concurrent use;
// the estimator goroutine is its only caller.
type Calibrator struct {
	cfg      Config
	state    State
	detector *Detector

	// Mean of raw gyro over the current quiet stretch, used to seed the bias
	// before the first interval completes.
	quietSum   imu.Vec3
	quietCount int

	// Whether the current stationary stretch was already counted.
	counted bool
}

// New returns a calibrator in the uncalibrated passthrough state.
func New(cfg Config) *Calibrator {
	return &Calibrator{
		cfg:      cfg,
		state:    NewState(),
		detector: NewDetector(cfg.StationaryGyroThreshold, cfg.StationaryMinDuration.Nanoseconds()),
	}
}

// Restore replaces the state, typically with one loaded from disk. A restored
// state with at least one interval counts as calibrated.
func (c *Calibrator) Restore(s State) {
	if s.Intervals > 0 {
		s.Calibrated = true
	}
	c.state = s
}

// State returns a copy of the current calibration.
func (c *Calibrator) State() State { return c.state }

// Calibrated reports whether the first stationary interval has completed.
func (c *Calibrator) Calibrated() bool { return c.state.Calibrated }

// Stationary reports the detector's current decision.
func (c *Calibrator) Stationary() bool { return c.detector.Stationary() }

// Apply returns s corrected with the current calibration. Unknown sensor
// types pass through.
func (c *Calibrator) Apply(s imu.Sample) imu.Sample {
	if cal := c.state.For(s.Type); cal != nil {
		s.Value = cal.Apply(s.Value)
	}
	return s
}

// Process observes raw and returns it calibrated with the updated state.
func (c *Calibrator) Process(raw imu.Sample) (imu.Sample, Event) {
	ev := c.Observe(raw)
	return c.Apply(raw), ev
}

// Observe feeds a raw sample to the detector and the learners.
func (c *Calibrator) Observe(raw imu.Sample) Event {
	switch raw.Type {
	case imu.Gyroscope:
		return c.observeGyro(raw)
	case imu.Accelerometer:
		c.observeAccel(raw)
	}
	return Event{Stationary: c.detector.Stationary()}
}

func (c *Calibrator) observeGyro(raw imu.Sample) Event {
	rate := c.state.Gyro.Apply(raw.Value).Norm()
	ev := Event{StationaryChanged: c.detector.Update(raw.Timestamp, rate)}
	ev.Stationary = c.detector.Stationary()

	if _, quiet := c.detector.QuietSince(); !quiet {
		c.quietSum, c.quietCount = imu.Vec3{}, 0
		c.counted = false
		return ev
	}
	c.quietSum = c.quietSum.Add(raw.Value)
	c.quietCount++

	if !ev.Stationary {
		return ev
	}

	if ev.StationaryChanged && !c.state.Calibrated {
		c.state.Gyro.Bias = c.quietSum.Scale(1 / float64(c.quietCount))
	} else {
		a := c.cfg.BiasLearningRate
		c.state.Gyro.Bias = c.state.Gyro.Bias.Scale(1 - a).Add(raw.Value.Scale(a))
	}

	// An interval completes after it has been learned from for the minimum
	// stationary duration.
	if !c.counted && raw.Timestamp-c.detector.StationarySince() >= c.cfg.StationaryMinDuration.Nanoseconds() {
		c.counted = true
		c.state.Intervals++
		ev.IntervalCompleted = true
		if !c.state.Calibrated {
			c.state.Calibrated = true
			ev.BecameCalibrated = true
			monitoring.Infof("calibration: first stationary interval complete, gyro bias %v", c.state.Gyro.Bias)
		}
	}
	return ev
}

func (c *Calibrator) observeAccel(raw imu.Sample) {
	if !c.detector.Stationary() {
		return
	}
	calibrated := c.state.Accel.Apply(raw.Value).Norm()
	if calibrated == 0 || math.Abs(calibrated-imu.StandardGravity) > c.cfg.AccelStationaryTolerance {
		return
	}
	// Rescale all axes by the same factor so per-axis ratios from a six-point
	// solve survive online refinement.
	a := c.cfg.BiasLearningRate
	k := (1 - a) + a*imu.StandardGravity/calibrated
	c.state.Accel.Scale = c.state.Accel.Scale.Scale(k)
}
