// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import "math"

// IMURaw represents a single raw IMU+mag sample in sensor counts.
type IMURaw struct {
	Source string `json:"source"`

	Ax int16 `json:"ax"` // accel
	Ay int16 `json:"ay"`
	Az int16 `json:"az"`

	Gx int16 `json:"gx"` // gyro
	Gy int16 `json:"gy"`
	Gz int16 `json:"gz"`

	Mx int16 `json:"mx"` // magnetometer, µT×10
	My int16 `json:"my"`
	Mz int16 `json:"mz"`
}

type IMURawSource interface {
	NextRaw() (IMURaw, error)
}

// Accelerometer full-scale sensitivities in LSB/g, indexed by range code
// (0=±2g, 1=±4g, 2=±8g, 3=±16g).
var accelLSBPerG = [4]float64{16384, 8192, 4096, 2048}

// Gyroscope full-scale sensitivities in LSB/(°/s), indexed by range code
// (0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s).
var gyroLSBPerDPS = [4]float64{131, 65.5, 32.8, 16.4}

// RawScale converts raw counts into SI units for one configured device.
type RawScale struct {
	AccelRange byte
	GyroRange  byte
	HasMag     bool
}

// Accel returns the accelerometer reading in m/s².
func (s RawScale) Accel(r IMURaw) Vec3 {
	k := StandardGravity / accelLSBPerG[s.AccelRange&3]
	return Vec3{X: float64(r.Ax) * k, Y: float64(r.Ay) * k, Z: float64(r.Az) * k}
}

// Gyro returns the gyroscope reading in rad/s.
func (s RawScale) Gyro(r IMURaw) Vec3 {
	k := math.Pi / 180 / gyroLSBPerDPS[s.GyroRange&3]
	return Vec3{X: float64(r.Gx) * k, Y: float64(r.Gy) * k, Z: float64(r.Gz) * k}
}

// Mag returns the magnetometer reading in µT.
func (s RawScale) Mag(r IMURaw) Vec3 {
	return Vec3{X: float64(r.Mx) / 10, Y: float64(r.My) / 10, Z: float64(r.Mz) / 10}
}

// ToSamples splits one raw reading into typed samples stamped with ts.
// The magnetometer sample is only produced when the device has one.
func (s RawScale) ToSamples(r IMURaw, ts int64) []Sample {
	out := []Sample{
		{Type: Gyroscope, Value: s.Gyro(r), Timestamp: ts, Valid: true},
		{Type: Accelerometer, Value: s.Accel(r), Timestamp: ts, Valid: true},
	}
	if s.HasMag {
		out = append(out, Sample{Type: Magnetometer, Value: s.Mag(r), Timestamp: ts, Valid: true})
	}
	return out
}
