// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"math"
	"time"

	"github.com/relabs-tech/position_estimator/internal/imu"
)

// Mock motion profile: the device rests level for MockSettleTime, then yaws
// back and forth about the vertical axis without translating.
const (
	MockSettleTime = 3 * time.Second
	mockYawRate    = 0.5 // rad/s peak
)

// Local field in the world frame (x north-ish, z up), µT.
var mockField = imu.Vec3{X: 20, Y: 0, Z: -40}

// MockSource synthesizes raw counts for a level device with known motion.
type MockSource struct {
	scale   imu.RawScale
	start   time.Time
	elapsed func() time.Duration
}

// NewMockSource creates a mock IMU whose counts decode to SI values
// through scale.
func NewMockSource(scale imu.RawScale) *MockSource {
	m := &MockSource{scale: scale, start: time.Now()}
	m.elapsed = func() time.Duration { return time.Since(m.start) }
	return m
}

// Yaw returns the true heading of the mock device after d.
func (m *MockSource) Yaw(d time.Duration) float64 {
	t := (d - MockSettleTime).Seconds()
	if t <= 0 {
		return 0
	}
	return mockYawRate * (1 - math.Cos(t))
}

// TrueYaw returns the heading the source is currently simulating.
func (m *MockSource) TrueYaw() float64 { return m.Yaw(m.elapsed()) }

func (m *MockSource) yawRate(d time.Duration) float64 {
	t := (d - MockSettleTime).Seconds()
	if t <= 0 {
		return 0
	}
	return mockYawRate * math.Sin(t)
}

func (m *MockSource) NextRaw() (imu.IMURaw, error) {
	d := m.elapsed()
	psi := m.Yaw(d)
	c, s := math.Cos(psi), math.Sin(psi)

	accel := imu.Vec3{Z: imu.StandardGravity}
	gyro := imu.Vec3{Z: m.yawRate(d)}
	mag := imu.Vec3{
		X: c*mockField.X + s*mockField.Y,
		Y: -s*mockField.X + c*mockField.Y,
		Z: mockField.Z,
	}

	ka := m.scale.Accel(imu.IMURaw{Ax: 1}).X
	kg := m.scale.Gyro(imu.IMURaw{Gx: 1}).X
	return imu.IMURaw{
		Source: "mock",
		Ax:     counts(accel.X, ka), Ay: counts(accel.Y, ka), Az: counts(accel.Z, ka),
		Gx: counts(gyro.X, kg), Gy: counts(gyro.Y, kg), Gz: counts(gyro.Z, kg),
		Mx: counts(mag.X, 0.1), My: counts(mag.Y, 0.1), Mz: counts(mag.Z, 0.1),
	}, nil
}

// counts converts v back to sensor counts at k units per count, saturating.
func counts(v, k float64) int16 {
	n := math.Round(v / k)
	if n > math.MaxInt16 {
		return math.MaxInt16
	}
	if n < math.MinInt16 {
		return math.MinInt16
	}
	return int16(n)
}
