package estimator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/position_estimator/internal/imu"
)

func timestamps(samples []imu.Sample) []int64 {
	out := make([]int64, len(samples))
	for i, s := range samples {
		out[i] = s.Timestamp
	}
	return out
}

func TestReorderBufferReleasesOutsideWindow(t *testing.T) {
	b := newReorderBuffer(20)

	for _, ts := range []int64{10, 5, 25, 18} {
		require.True(t, b.push(imu.Sample{Type: imu.Gyroscope, Timestamp: ts}))
	}
	assert.Equal(t, []int64{5}, timestamps(b.ready()))

	require.True(t, b.push(imu.Sample{Type: imu.Accelerometer, Timestamp: 40}))
	assert.Equal(t, []int64{10, 18}, timestamps(b.ready()))

	assert.False(t, b.push(imu.Sample{Type: imu.Magnetometer, Timestamp: 12}), "older than a released sample")
	assert.True(t, b.push(imu.Sample{Type: imu.Magnetometer, Timestamp: 18}), "equal to the released timestamp is fine")

	assert.Equal(t, []int64{18, 25, 40}, timestamps(b.drain()))
	assert.Zero(t, b.len())
}

func TestReorderBufferKeepsArrivalOrderForTies(t *testing.T) {
	b := newReorderBuffer(0)
	b.push(imu.Sample{Type: imu.Gyroscope, Timestamp: 7})
	b.push(imu.Sample{Type: imu.Accelerometer, Timestamp: 7})
	b.push(imu.Sample{Type: imu.Magnetometer, Timestamp: 7})

	got := b.drain()
	require.Len(t, got, 3)
	assert.Equal(t, imu.Gyroscope, got[0].Type)
	assert.Equal(t, imu.Accelerometer, got[1].Type)
	assert.Equal(t, imu.Magnetometer, got[2].Type)
}
