package sensors

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/position_estimator/internal/imu"
	"github.com/relabs-tech/position_estimator/internal/monitoring"
)

func init() { monitoring.SetLogger(nil) }

func mockAt(d time.Duration, scale imu.RawScale) *MockSource {
	m := NewMockSource(scale)
	m.elapsed = func() time.Duration { return d }
	return m
}

func TestMockSourceAtRest(t *testing.T) {
	scale := imu.RawScale{AccelRange: 1, GyroRange: 1, HasMag: true}
	raw, err := mockAt(time.Second, scale).NextRaw()
	require.NoError(t, err)

	a := scale.Accel(raw)
	assert.InDelta(t, imu.StandardGravity, a.Z, 0.01)
	assert.InDelta(t, 0, a.X, 1e-9)
	assert.InDelta(t, 0, scale.Gyro(raw).Norm(), 1e-9)

	m := scale.Mag(raw)
	assert.InDelta(t, 20, m.X, 0.1)
	assert.InDelta(t, -40, m.Z, 0.1)
}

func TestMockSourceYaws(t *testing.T) {
	scale := imu.RawScale{AccelRange: 0, GyroRange: 0, HasMag: true}
	quarter := math.Pi / 2 * float64(time.Second)
	d := MockSettleTime + time.Duration(quarter)
	src := mockAt(d, scale)
	raw, err := src.NextRaw()
	require.NoError(t, err)

	assert.InDelta(t, mockYawRate, scale.Gyro(raw).Z, 1e-3)
	psi := src.Yaw(d)
	assert.InDelta(t, mockYawRate, psi, 1e-9)

	// heading seen by the magnetometer matches the true yaw
	m := scale.Mag(raw)
	assert.InDelta(t, psi, -math.Atan2(m.Y, m.X), 0.01)
}

func TestCountsSaturate(t *testing.T) {
	assert.Equal(t, int16(math.MaxInt16), counts(1e9, 1))
	assert.Equal(t, int16(math.MinInt16), counts(-1e9, 1))
	assert.Equal(t, int16(3), counts(0.3, 0.1))
}

type fakeSource struct {
	mu    sync.Mutex
	calls int
	fail  map[int]bool
}

func (f *fakeSource) NextRaw() (imu.IMURaw, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail[f.calls] {
		return imu.IMURaw{}, errors.New("spi timeout")
	}
	return imu.IMURaw{Ax: 100, Gz: int16(f.calls)}, nil
}

type sliceSink struct {
	mu  sync.Mutex
	out []imu.Sample
}

func (s *sliceSink) Submit(x imu.Sample) {
	s.mu.Lock()
	s.out = append(s.out, x)
	s.mu.Unlock()
}

func (s *sliceSink) samples() []imu.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]imu.Sample(nil), s.out...)
}

func TestPump(t *testing.T) {
	src := &fakeSource{fail: map[int]bool{2: true}}
	sink := &sliceSink{}
	var tick int64
	clock := func() int64 { tick += 1_000_000; return tick }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Pump(ctx, src, imu.RawScale{}, time.Millisecond, clock, sink)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(sink.samples()) >= 6 }, 2*time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pump did not stop on cancel")
	}

	got := sink.samples()
	// gyro and accel per successful read, same timestamp, increasing ts
	for i := 0; i+1 < len(got); i += 2 {
		assert.Equal(t, imu.Gyroscope, got[i].Type)
		assert.Equal(t, imu.Accelerometer, got[i+1].Type)
		assert.Equal(t, got[i].Timestamp, got[i+1].Timestamp)
		if i >= 2 {
			assert.Greater(t, got[i].Timestamp, got[i-2].Timestamp)
		}
	}
	// the failed second read produced nothing
	assert.InDelta(t, imu.RawScale{}.Gyro(imu.IMURaw{Gz: 1}).Z, got[0].Value.Z, 1e-12)
	assert.InDelta(t, imu.RawScale{}.Gyro(imu.IMURaw{Gz: 3}).Z, got[2].Value.Z, 1e-12)
}

func TestMonotonicClock(t *testing.T) {
	c := MonotonicClock()
	a := c()
	time.Sleep(time.Millisecond)
	assert.Greater(t, c(), a)
}
