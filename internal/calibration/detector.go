package calibration

// Detector decides whether the device is at rest from the calibrated angular
// rate. The device is stationary once the rate has stayed below the threshold
// for at least minDuration; a single sample at or above it ends the stretch.
type Detector struct {
	threshold   float64
	minDuration int64

	quiet       bool
	quietSince  int64
	stationary  bool
	stillSince  int64
	transitions int
}

// NewDetector returns a detector for a rate threshold in rad/s and a minimum
// quiet duration in nanoseconds.
func NewDetector(threshold float64, minDurationNs int64) *Detector {
	return &Detector{threshold: threshold, minDuration: minDurationNs}
}

// Update feeds one angular rate magnitude observed at ts and reports whether
// the stationary state changed.
func (d *Detector) Update(ts int64, rate float64) (changed bool) {
	if !(rate < d.threshold) {
		d.quiet = false
		if d.stationary {
			d.stationary = false
			d.transitions++
			return true
		}
		return false
	}
	if !d.quiet {
		d.quiet = true
		d.quietSince = ts
	}
	if !d.stationary && ts-d.quietSince >= d.minDuration {
		d.stationary = true
		d.stillSince = ts
		d.transitions++
		return true
	}
	return false
}

// Stationary reports the current decision.
func (d *Detector) Stationary() bool { return d.stationary }

// QuietSince returns the timestamp at which the current below-threshold
// stretch began, and false when the last rate was above the threshold.
func (d *Detector) QuietSince() (int64, bool) { return d.quietSince, d.quiet }

// StationarySince returns when the device was last declared stationary.
func (d *Detector) StationarySince() int64 { return d.stillSince }

// Reset forgets the current stretch.
func (d *Detector) Reset() {
	d.quiet = false
	d.stationary = false
}
