package calibration

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// SchemaVersion is written to every calibration file.
const SchemaVersion = 1

// File is the on-disk form of a calibration.
type File struct {
	SchemaVersion int      `json:"schema_version"`
	CalibrationAt string   `json:"calibration_at"` // RFC3339
	Source        string   `json:"source,omitempty"`
	State         State    `json:"state"`
	Notes         []string `json:"notes,omitempty"`
}

// Save writes s to path as indented JSON.
func Save(path string, s State, source string, notes ...string) error {
	f := File{
		SchemaVersion: SchemaVersion,
		CalibrationAt: time.Now().UTC().Format(time.RFC3339),
		Source:        source,
		State:         s,
		Notes:         notes,
	}
	b, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode calibration: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write calibration %s: %w", path, err)
	}
	return nil
}

// Load reads a calibration written by Save. Zero scale vectors (missing
// fields) are replaced by one.
func Load(path string) (State, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return State{}, fmt.Errorf("read calibration %s: %w", path, err)
	}
	var f File
	if err := json.Unmarshal(b, &f); err != nil {
		return State{}, fmt.Errorf("decode calibration %s: %w", path, err)
	}
	if f.SchemaVersion != SchemaVersion {
		return State{}, fmt.Errorf("calibration %s: unsupported schema version %d", path, f.SchemaVersion)
	}
	s := f.State
	for _, c := range []*SensorCalibration{&s.Gyro, &s.Accel, &s.Mag} {
		if c.Scale == (SensorCalibration{}).Scale {
			c.Scale = Identity.Scale
		}
	}
	if s.Intervals == 0 {
		s.Intervals = 1
	}
	s.Calibrated = true
	return s, nil
}
