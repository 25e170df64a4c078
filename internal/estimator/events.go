package estimator

import (
	"fmt"
	"sync"
)

// ObservationKind names an absolute reference used by a correction.
type ObservationKind int

const (
	// ObservationGravity is the stationary gravity direction plus
	// zero-velocity observation.
	ObservationGravity ObservationKind = iota
	// ObservationMagHeading is the magnetometer heading observation.
	ObservationMagHeading
	// ObservationGravitySensor is the tilt observation from a platform
	// gravity or rotation vector sensor.
	ObservationGravitySensor
)

func (k ObservationKind) String() string {
	switch k {
	case ObservationGravity:
		return "gravity_zupt"
	case ObservationMagHeading:
		return "mag_heading"
	case ObservationGravitySensor:
		return "gravity_sensor"
	}
	return fmt.Sprintf("observation(%d)", int(k))
}

// MarshalText lets kinds appear as names in JSON.
func (k ObservationKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// RejectReason says why an observation was not fused.
type RejectReason int

const (
	// RejectResidual: the residual exceeded the outlier threshold.
	RejectResidual RejectReason = iota
	// RejectFieldStrength: magnetic field magnitude out of range.
	RejectFieldStrength
	// RejectInclination: magnetic inclination moved away from the reference.
	RejectInclination
	// RejectNumeric: the innovation covariance could not be inverted.
	RejectNumeric
)

func (r RejectReason) String() string {
	switch r {
	case RejectResidual:
		return "residual"
	case RejectFieldStrength:
		return "field_strength"
	case RejectInclination:
		return "inclination"
	case RejectNumeric:
		return "numeric"
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

func (r RejectReason) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// Rejection records one observation that was not fused.
type Rejection struct {
	Timestamp int64           `json:"t"`
	Kind      ObservationKind `json:"kind"`
	Reason    RejectReason    `json:"reason"`
	Magnitude float64         `json:"magnitude"`
	Threshold float64         `json:"threshold"`
}

func (r Rejection) String() string {
	return fmt.Sprintf("%s rejected at %d: %s %.4f (threshold %.4f)", r.Kind, r.Timestamp, r.Reason, r.Magnitude, r.Threshold)
}

// FusionUpdate describes one applied correction.
type FusionUpdate struct {
	Kind        ObservationKind `json:"kind"`
	Timestamp   int64           `json:"t"`
	Residual    []float64       `json:"residual"`
	GainScale   float64         `json:"gain_scale"`
	TraceBefore float64         `json:"trace_before"`
	TraceAfter  float64         `json:"trace_after"`
}

// RejectionLog keeps the most recent rejections. It is safe for concurrent
// use so readers can inspect it while the estimator runs.
type RejectionLog struct {
	mu    sync.Mutex
	buf   []Rejection
	next  int
	full  bool
	total uint64
}

// NewRejectionLog returns a log holding up to size entries.
func NewRejectionLog(size int) *RejectionLog {
	if size < 1 {
		size = 1
	}
	return &RejectionLog{buf: make([]Rejection, size)}
}

// Add appends r, overwriting the oldest entry when full.
func (l *RejectionLog) Add(r Rejection) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf[l.next] = r
	l.next = (l.next + 1) % len(l.buf)
	if l.next == 0 {
		l.full = true
	}
	l.total++
}

// Events returns the retained rejections, oldest first.
func (l *RejectionLog) Events() []Rejection {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.full {
		return append([]Rejection(nil), l.buf[:l.next]...)
	}
	out := make([]Rejection, 0, len(l.buf))
	out = append(out, l.buf[l.next:]...)
	return append(out, l.buf[:l.next]...)
}

// Total counts every rejection ever added, including overwritten ones.
func (l *RejectionLog) Total() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}
