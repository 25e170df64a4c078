// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package ingress accepts raw sensor callbacks from any goroutine, validates
// them and hands normalized samples to the estimator through a FIFO.
package ingress

import (
	"context"
	"math"
	"sync"

	"github.com/westphae/quaternion"

	"github.com/relabs-tech/position_estimator/internal/imu"
	"github.com/relabs-tech/position_estimator/internal/monitoring"
	"github.com/relabs-tech/position_estimator/internal/orientation"
)

// Platform sensor type codes, as numbered by the native sensor service.
const (
	PlatformAccelerometer             int32 = 1
	PlatformMagneticField             int32 = 2
	PlatformGyroscope                 int32 = 4
	PlatformGravity                   int32 = 9
	PlatformRotationVector            int32 = 11
	PlatformGeomagneticRotationVector int32 = 20
)

// Platform accuracy status codes.
const (
	StatusNoContact  int32 = -1
	StatusUnreliable int32 = 0
	StatusLow        int32 = 1
	StatusMedium     int32 = 2
	StatusHigh       int32 = 3
)

// DropReason says why a sample never reached the queue.
type DropReason int

const (
	DropShortValues DropReason = iota
	DropNonFinite
	DropBadTimestamp
	DropOutOfOrder
	DropUnreliable
	DropUnknownSensor
	DropPaused
	DropClosed
	DropOverflow
	DropDecimated
	numDropReasons
)

var dropReasonNames = [numDropReasons]string{
	"short_values",
	"non_finite",
	"bad_timestamp",
	"out_of_order",
	"unreliable",
	"unknown_sensor",
	"paused",
	"closed",
	"queue_overflow",
	"decimated",
}

func (r DropReason) String() string {
	if r >= 0 && r < numDropReasons {
		return dropReasonNames[r]
	}
	return "unknown"
}

// DropReasons lists every reason, in declaration order.
func DropReasons() []DropReason {
	out := make([]DropReason, numDropReasons)
	for i := range out {
		out[i] = DropReason(i)
	}
	return out
}

// Observer is notified of every ingress outcome. Calls happen on the
// producer's goroutine and must not block.
type Observer interface {
	SampleAccepted(t imu.SensorType)
	SampleDropped(t imu.SensorType, reason DropReason)
}

// Stats is a point-in-time copy of the ingress counters.
type Stats struct {
	Accepted uint64
	Dropped  map[DropReason]uint64
	Queued   int
}

// TotalDropped sums drops over all reasons.
func (s Stats) TotalDropped() uint64 {
	var n uint64
	for _, c := range s.Dropped {
		n += c
	}
	return n
}

// Prefilter is an optional per-sensor stage ahead of the queue: samples
// closer than MinInterval to the last accepted one of the same sensor are
// decimated, and accepted values are smoothed with a first-order low-pass,
// y = (1-Alpha)·y + Alpha·x. Alpha 0 or 1 disables smoothing.
type Prefilter struct {
	Alpha       float64
	MinInterval int64 // nanoseconds
}

func (p Prefilter) enabled() bool {
	return p.MinInterval > 0 || (p.Alpha > 0 && p.Alpha < 1)
}

// Ingress is the sensor callback surface. All methods are safe for
// concurrent use.
type Ingress struct {
	queue    *Queue
	observer Observer

	mu         sync.Mutex
	prefilter  Prefilter
	smoothed   [imu.NumSensorTypes]imu.Vec3
	lastTs     [imu.NumSensorTypes]int64
	unreliable [imu.NumSensorTypes]bool
	paused     bool
	accepted   uint64
	dropped    [numDropReasons]uint64
}

// New creates an ingress with a queue of the given capacity (0 = unbounded).
// observer may be nil.
func New(capacity int, observer Observer) *Ingress {
	return &Ingress{
		queue:    NewQueue(capacity),
		observer: observer,
	}
}

// SetPrefilter installs p for samples submitted from now on.
func (in *Ingress) SetPrefilter(p Prefilter) {
	in.mu.Lock()
	in.prefilter = p
	in.mu.Unlock()
	if p.enabled() {
		monitoring.Infof("ingress: prefilter alpha=%.4f min interval=%dns", p.Alpha, p.MinInterval)
	}
}

func sensorFromPlatform(code int32) (imu.SensorType, bool) {
	switch code {
	case PlatformAccelerometer:
		return imu.Accelerometer, true
	case PlatformMagneticField:
		return imu.Magnetometer, true
	case PlatformGyroscope:
		return imu.Gyroscope, true
	case PlatformGravity:
		return imu.Gravity, true
	case PlatformRotationVector, PlatformGeomagneticRotationVector:
		return imu.RotationVector, true
	}
	return 0, false
}

// gravityFromRotationVector returns the body-frame gravity implied by a
// platform rotation vector (x, y, z[, w]) = axis·sin(θ/2)[, cos(θ/2)].
func gravityFromRotationVector(values []float32) imu.Vec3 {
	x, y, z := float64(values[0]), float64(values[1]), float64(values[2])
	var w float64
	if len(values) >= 4 {
		w = float64(values[3])
	} else {
		w = math.Sqrt(math.Max(0, 1-x*x-y*y-z*z))
	}
	q := quaternion.Quaternion{W: w, X: x, Y: y, Z: z}
	return orientation.RotateInverse(q, imu.Vec3{Z: imu.StandardGravity})
}

// OnSensorChanged is the platform callback. Values are in SI units (m/s²,
// rad/s, µT) and timestampNs is on the monotonic clock. It never blocks.
func (in *Ingress) OnSensorChanged(sensorType int32, values []float32, timestampNs int64) {
	t, ok := sensorFromPlatform(sensorType)
	if !ok {
		in.drop(0, DropUnknownSensor, "ingress: ignoring sensor type %d", sensorType)
		return
	}
	if len(values) < 3 {
		in.drop(t, DropShortValues, "ingress: %s sample has %d values", t, len(values))
		return
	}
	var v imu.Vec3
	if t == imu.RotationVector {
		v = gravityFromRotationVector(values)
	} else {
		v = imu.Vec3{X: float64(values[0]), Y: float64(values[1]), Z: float64(values[2])}
	}
	in.Submit(imu.Sample{Type: t, Value: v, Timestamp: timestampNs, Valid: true})
}

// OnAccuracyChanged records the platform accuracy status for a sensor.
// Samples from a sensor reporting no-contact or unreliable are dropped until
// its status improves.
func (in *Ingress) OnAccuracyChanged(sensorType int32, status int32) {
	t, ok := sensorFromPlatform(sensorType)
	if !ok {
		return
	}
	bad := status <= StatusUnreliable
	in.mu.Lock()
	changed := in.unreliable[t] != bad
	in.unreliable[t] = bad
	in.mu.Unlock()
	if changed {
		monitoring.Infof("ingress: %s accuracy status %d", t, status)
	}
}

// Submit validates an already normalized sample and enqueues it. Hardware
// sources that do not go through the platform callback use it directly.
func (in *Ingress) Submit(s imu.Sample) {
	if s.Type == 0 || int(s.Type) >= imu.NumSensorTypes {
		in.drop(0, DropUnknownSensor, "ingress: ignoring sensor type %d", s.Type)
		return
	}
	if !s.Value.IsFinite() {
		in.drop(s.Type, DropNonFinite, "ingress: %s sample at %d is not finite", s.Type, s.Timestamp)
		return
	}
	if s.Timestamp <= 0 {
		in.drop(s.Type, DropBadTimestamp, "ingress: %s sample has timestamp %d", s.Type, s.Timestamp)
		return
	}

	in.mu.Lock()
	switch {
	case in.queue.Closed():
		in.mu.Unlock()
		in.drop(s.Type, DropClosed, "ingress: closed, dropping %s sample", s.Type)
		return
	case in.paused:
		in.mu.Unlock()
		in.drop(s.Type, DropPaused, "ingress: paused, dropping %s sample", s.Type)
		return
	case !s.Valid || in.unreliable[s.Type]:
		in.mu.Unlock()
		in.drop(s.Type, DropUnreliable, "ingress: %s sample at %d is unreliable", s.Type, s.Timestamp)
		return
	case s.Timestamp < in.lastTs[s.Type]:
		last := in.lastTs[s.Type]
		in.mu.Unlock()
		in.drop(s.Type, DropOutOfOrder, "ingress: %s sample at %d older than %d", s.Type, s.Timestamp, last)
		return
	case in.prefilter.MinInterval > 0 && in.lastTs[s.Type] > 0 && s.Timestamp-in.lastTs[s.Type] < in.prefilter.MinInterval:
		in.mu.Unlock()
		in.drop(s.Type, DropDecimated, "ingress: %s sample at %d decimated", s.Type, s.Timestamp)
		return
	}
	if a := in.prefilter.Alpha; a > 0 && a < 1 && in.lastTs[s.Type] > 0 {
		s.Value = in.smoothed[s.Type].Scale(1 - a).Add(s.Value.Scale(a))
	}
	evicted, ok := in.queue.Push(s)
	if ok {
		in.lastTs[s.Type] = s.Timestamp
		in.smoothed[s.Type] = s.Value
		in.accepted++
	}
	in.mu.Unlock()

	if !ok {
		in.drop(s.Type, DropClosed, "ingress: closed, dropping %s sample", s.Type)
		return
	}
	if in.observer != nil {
		in.observer.SampleAccepted(s.Type)
	}
	if evicted {
		in.drop(0, DropOverflow, "ingress: queue full, evicted oldest sample")
	}
}

func (in *Ingress) drop(t imu.SensorType, reason DropReason, format string, args ...interface{}) {
	in.mu.Lock()
	in.dropped[reason]++
	in.mu.Unlock()
	monitoring.Debugf(format, args...)
	if in.observer != nil {
		in.observer.SampleDropped(t, reason)
	}
}

// Pause stops accepting samples until Resume. Queued samples stay queued.
func (in *Ingress) Pause() {
	in.mu.Lock()
	in.paused = true
	in.mu.Unlock()
}

// Resume accepts samples again after Pause.
func (in *Ingress) Resume() {
	in.mu.Lock()
	in.paused = false
	in.mu.Unlock()
}

// Paused reports whether the ingress is paused.
func (in *Ingress) Paused() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.paused
}

// Next blocks for the next accepted sample. See Queue.Next.
func (in *Ingress) Next(ctx context.Context) (imu.Sample, bool) { return in.queue.Next(ctx) }

// TryNext returns the next accepted sample without blocking.
func (in *Ingress) TryNext() (imu.Sample, bool) { return in.queue.TryNext() }

// Ready is signalled when a sample may be available. See Queue.Ready.
func (in *Ingress) Ready() <-chan struct{} { return in.queue.Ready() }

// Len returns the number of queued samples.
func (in *Ingress) Len() int { return in.queue.Len() }

// Drain returns every sample still queued.
func (in *Ingress) Drain() []imu.Sample { return in.queue.Drain() }

// Close ends the sample sequence. Later callbacks are dropped.
func (in *Ingress) Close() { in.queue.Close() }

// Stats returns a copy of the counters.
func (in *Ingress) Stats() Stats {
	in.mu.Lock()
	defer in.mu.Unlock()
	st := Stats{
		Accepted: in.accepted,
		Dropped:  make(map[DropReason]uint64, numDropReasons),
		Queued:   in.queue.Len(),
	}
	for i, c := range in.dropped {
		if c > 0 {
			st.Dropped[DropReason(i)] = c
		}
	}
	return st
}
