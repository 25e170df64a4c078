// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import "fmt"

// StandardGravity is the conventional gravity magnitude in m/s².
const StandardGravity = 9.80665

// SensorType tags the kind of reading a Sample carries.
type SensorType uint8

const (
	Accelerometer SensorType = iota + 1
	Gyroscope
	Magnetometer
	// Gravity is the platform's gravity estimate in body frame, already
	// separated from linear acceleration.
	Gravity
	// RotationVector carries the body-frame gravity implied by the platform
	// attitude sensor. The platform heading is not used.
	RotationVector
)

// NumSensorTypes is the number of distinct sensor types, usable as an array
// size when indexing by SensorType.
const NumSensorTypes = 6

func (t SensorType) String() string {
	switch t {
	case Accelerometer:
		return "accelerometer"
	case Gyroscope:
		return "gyroscope"
	case Magnetometer:
		return "magnetometer"
	case Gravity:
		return "gravity"
	case RotationVector:
		return "rotation_vector"
	default:
		return fmt.Sprintf("sensor(%d)", uint8(t))
	}
}

// Unit returns the SI unit of the sensor's values.
func (t SensorType) Unit() string {
	switch t {
	case Accelerometer, Gravity, RotationVector:
		return "m/s²"
	case Gyroscope:
		return "rad/s"
	case Magnetometer:
		return "µT"
	default:
		return ""
	}
}

// Sample is a single normalized sensor reading. Timestamp is in nanoseconds
// on the platform's monotonic clock.
type Sample struct {
	Type      SensorType `json:"type"`
	Value     Vec3       `json:"value"`
	Timestamp int64      `json:"t"`
	Valid     bool       `json:"valid"`
}

func (s Sample) String() string {
	return fmt.Sprintf("%s t=%d %v valid=%t", s.Type, s.Timestamp, s.Value, s.Valid)
}
