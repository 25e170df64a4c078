package imu

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawScaleAccel(t *testing.T) {
	raw := IMURaw{Az: 16384}
	got := RawScale{AccelRange: 0}.Accel(raw)
	assert.InDelta(t, StandardGravity, got.Z, 1e-9)

	raw = IMURaw{Ax: -2048}
	got = RawScale{AccelRange: 3}.Accel(raw)
	assert.InDelta(t, -StandardGravity, got.X, 1e-9)
}

func TestRawScaleGyro(t *testing.T) {
	raw := IMURaw{Gz: 131}
	got := RawScale{GyroRange: 0}.Gyro(raw)
	assert.InDelta(t, math.Pi/180, got.Z, 1e-12)
}

func TestRawScaleMag(t *testing.T) {
	raw := IMURaw{Mx: 215, My: -50, Mz: 431}
	got := RawScale{}.Mag(raw)
	assert.InDelta(t, 21.5, got.X, 1e-12)
	assert.InDelta(t, -5.0, got.Y, 1e-12)
	assert.InDelta(t, 43.1, got.Z, 1e-12)
}

func TestToSamples(t *testing.T) {
	raw := IMURaw{Source: "left", Az: 16384, Gx: 131, Mx: 100}

	samples := RawScale{}.ToSamples(raw, 42)
	require.Len(t, samples, 2)
	assert.Equal(t, Gyroscope, samples[0].Type)
	assert.Equal(t, Accelerometer, samples[1].Type)
	for _, s := range samples {
		assert.Equal(t, int64(42), s.Timestamp)
		assert.True(t, s.Valid)
	}

	samples = RawScale{HasMag: true}.ToSamples(raw, 42)
	require.Len(t, samples, 3)
	assert.Equal(t, Magnetometer, samples[2].Type)
	assert.InDelta(t, 10.0, samples[2].Value.X, 1e-12)
}

func TestSensorTypeString(t *testing.T) {
	assert.Equal(t, "accelerometer", Accelerometer.String())
	assert.Equal(t, "gyroscope", Gyroscope.String())
	assert.Equal(t, "magnetometer", Magnetometer.String())
	assert.Equal(t, "gravity", Gravity.String())
	assert.Equal(t, "rotation_vector", RotationVector.String())
	assert.Equal(t, "sensor(9)", SensorType(9).String())
	assert.Equal(t, "m/s²", Gravity.Unit())
	assert.Equal(t, "rad/s", Gyroscope.Unit())
}
