package calibration

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/position_estimator/internal/imu"
	"github.com/relabs-tech/position_estimator/internal/monitoring"
)

const step = int64(10 * time.Millisecond)

func testConfig() Config {
	return Config{
		StationaryGyroThreshold:  0.05,
		StationaryMinDuration:    500 * time.Millisecond,
		BiasLearningRate:         0.02,
		AccelStationaryTolerance: 1.0,
	}
}

func gyro(ts int64, v imu.Vec3) imu.Sample {
	return imu.Sample{Type: imu.Gyroscope, Value: v, Timestamp: ts, Valid: true}
}

func accel(ts int64, v imu.Vec3) imu.Sample {
	return imu.Sample{Type: imu.Accelerometer, Value: v, Timestamp: ts, Valid: true}
}

func init() {
	monitoring.SetLogger(nil)
}

func TestPassthroughUntilCalibrated(t *testing.T) {
	c := New(testConfig())
	raw := accel(step, imu.Vec3{X: 1, Y: 2, Z: 3})

	got, ev := c.Process(raw)
	assert.Equal(t, raw, got)
	assert.False(t, ev.Stationary)
	assert.False(t, c.Calibrated())
	assert.Equal(t, NewState(), c.State())
}

func TestDetectorNeedsMinimumDuration(t *testing.T) {
	d := NewDetector(0.05, int64(500*time.Millisecond))

	for ts := step; ts < step+int64(500*time.Millisecond); ts += step {
		assert.False(t, d.Update(ts, 0.01), "ts=%d", ts)
		assert.False(t, d.Stationary())
	}
	assert.True(t, d.Update(step+int64(500*time.Millisecond), 0.01))
	assert.True(t, d.Stationary())

	assert.True(t, d.Update(step+int64(600*time.Millisecond), 0.05), "threshold itself counts as motion")
	assert.False(t, d.Stationary())
	_, quiet := d.QuietSince()
	assert.False(t, quiet)
}

func TestDetectorTreatsNaNAsMotion(t *testing.T) {
	d := NewDetector(0.05, 0)
	d.Update(1, 0)
	require.True(t, d.Stationary())
	d.Update(2, math.NaN())
	assert.False(t, d.Stationary())
}

func TestGyroBiasLearnedWhileStationary(t *testing.T) {
	c := New(testConfig())
	bias := imu.Vec3{X: 0.01, Y: -0.02, Z: 0.005}

	var completed, became int
	for ts := step; ts <= int64(2*time.Second); ts += step {
		_, ev := c.Process(gyro(ts, bias))
		if ev.IntervalCompleted {
			completed++
		}
		if ev.BecameCalibrated {
			became++
			assert.GreaterOrEqual(t, ts, int64(time.Second), "interval needs a full learning period")
		}
	}

	require.True(t, c.Calibrated())
	assert.Equal(t, 1, completed)
	assert.Equal(t, 1, became)
	assert.Equal(t, 1, c.State().Intervals)
	got := c.State().Gyro.Bias
	assert.InDelta(t, bias.X, got.X, 1e-9)
	assert.InDelta(t, bias.Y, got.Y, 1e-9)
	assert.InDelta(t, bias.Z, got.Z, 1e-9)

	out := c.Apply(gyro(3*int64(time.Second), bias.Add(imu.Vec3{Z: 1})))
	assert.InDelta(t, 0, out.Value.X, 1e-9)
	assert.InDelta(t, 1, out.Value.Z, 1e-9)
}

func TestMotionStopsLearning(t *testing.T) {
	c := New(testConfig())
	ts := step
	for ; ts <= int64(1500*time.Millisecond); ts += step {
		c.Process(gyro(ts, imu.Vec3{X: 0.01}))
	}
	require.True(t, c.Stationary())
	before := c.State().Gyro.Bias

	_, ev := c.Process(gyro(ts, imu.Vec3{Z: 2}))
	assert.True(t, ev.StationaryChanged)
	assert.False(t, ev.Stationary)
	assert.Equal(t, before, c.State().Gyro.Bias)

	// A second interval is counted after another full quiet and learning period.
	for ts += step; ts <= int64(4*time.Second); ts += step {
		c.Process(gyro(ts, imu.Vec3{X: 0.01}))
	}
	assert.Equal(t, 2, c.State().Intervals)
}

func TestAccelScaleLearningIgnoresSpikes(t *testing.T) {
	c := New(testConfig())
	ts := step
	for ; ts <= int64(600*time.Millisecond); ts += step {
		c.Process(gyro(ts, imu.Vec3{}))
	}
	require.True(t, c.Stationary())

	c.Process(accel(ts, imu.Vec3{Z: 50}))
	assert.Equal(t, Identity.Scale, c.State().Accel.Scale, "spike outside tolerance is ignored")

	measured := 9.70665
	for i := 0; i < 1000; i++ {
		ts += step
		c.Process(accel(ts, imu.Vec3{Z: measured}))
	}
	want := imu.StandardGravity / measured
	s := c.State().Accel.Scale
	assert.InDelta(t, want, s.X, 1e-6)
	assert.InDelta(t, want, s.Z, 1e-6)

	out := c.Apply(accel(ts, imu.Vec3{Z: measured}))
	assert.InDelta(t, imu.StandardGravity, out.Value.Z, 1e-5)
}

func TestAccelScaleLearningKeepsAxisRatios(t *testing.T) {
	c := New(testConfig())
	st := NewState()
	st.Accel = SensorCalibration{Bias: imu.Vec3{X: 0.3}, Scale: imu.Vec3{X: 1, Y: 1, Z: 0.98}}
	c.Restore(st)

	ts := step
	for ; ts <= int64(600*time.Millisecond); ts += step {
		c.Process(gyro(ts, imu.Vec3{}))
	}
	require.True(t, c.Stationary())

	// the sensor has drifted 0.5% since the six-point solve
	raw := imu.Vec3{X: 0.3, Z: imu.StandardGravity / 0.98 * 1.005}
	for i := 0; i < 1000; i++ {
		ts += step
		c.Process(accel(ts, raw))
	}
	s := c.State().Accel
	assert.InDelta(t, 0.98, s.Scale.Z/s.Scale.X, 1e-12)
	assert.Equal(t, s.Scale.X, s.Scale.Y)
	assert.Equal(t, 0.3, s.Bias.X)
	assert.InDelta(t, imu.StandardGravity, c.Apply(accel(ts, raw)).Value.Norm(), 1e-5)
}

func TestAccelIgnoredWhileMoving(t *testing.T) {
	c := New(testConfig())
	c.Process(gyro(step, imu.Vec3{Z: 1}))
	c.Process(accel(step, imu.Vec3{Z: 9.5}))
	assert.Equal(t, Identity.Scale, c.State().Accel.Scale)
}

func TestRestoreMarksCalibrated(t *testing.T) {
	c := New(testConfig())
	s := NewState()
	s.Gyro.Bias = imu.Vec3{X: 0.1}
	s.Intervals = 3
	c.Restore(s)

	assert.True(t, c.Calibrated())
	out := c.Apply(gyro(1, imu.Vec3{X: 0.1}))
	assert.Equal(t, imu.Vec3{}, out.Value)
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calibration.json")
	s := NewState()
	s.Gyro.Bias = imu.Vec3{X: 0.01, Y: 0.02, Z: 0.03}
	s.Accel.Scale = imu.Vec3{X: 1.01, Y: 0.99, Z: 1.0}
	s.Intervals = 2
	s.Calibrated = true

	require.NoError(t, Save(path, s, "test", "bench"))
	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestLoadFillsMissingScale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calibration.json")
	body := `{"schema_version":1,"state":{"gyro":{"bias":{"x":0.5,"y":0,"z":0}}}}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Identity.Scale, got.Gyro.Scale)
	assert.Equal(t, Identity.Scale, got.Mag.Scale)
	assert.True(t, got.Calibrated)
	assert.Equal(t, 1, got.Intervals)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "v9.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"schema_version":9}`), 0o644))
	_, err = Load(path)
	assert.ErrorContains(t, err, "schema version")
}
