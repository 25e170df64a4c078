package sensors

import (
	"context"
	"time"

	"github.com/relabs-tech/position_estimator/internal/imu"
	"github.com/relabs-tech/position_estimator/internal/monitoring"
)

// Sink receives normalized samples. The estimator satisfies it.
type Sink interface {
	Submit(imu.Sample)
}

// Clock returns a monotonic timestamp in nanoseconds.
type Clock func() int64

// MonotonicClock returns a Clock counting from the moment it was created.
// time.Since uses the monotonic reading, so wall clock steps do not leak in.
func MonotonicClock() Clock {
	epoch := time.Now()
	return func() int64 { return time.Since(epoch).Nanoseconds() }
}

// Pump polls src every interval and forwards its readings to sink until ctx
// is cancelled. Read errors are logged and the tick is skipped.
func Pump(ctx context.Context, src imu.IMURawSource, scale imu.RawScale, interval time.Duration, clock Clock, sink Sink) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var failures int
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		raw, err := src.NextRaw()
		ts := clock()
		if err != nil {
			failures++
			// One line per second of failures at most.
			if failures == 1 || failures%int(max(1, time.Second/interval)) == 0 {
				monitoring.Warnf("IMU read error (%d consecutive): %v", failures, err)
			}
			continue
		}
		if failures > 0 {
			monitoring.Infof("IMU reads recovered after %d failures", failures)
			failures = 0
		}
		for _, s := range scale.ToSamples(raw, ts) {
			sink.Submit(s)
		}
	}
}
