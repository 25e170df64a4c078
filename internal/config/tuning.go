package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/relabs-tech/position_estimator/internal/estimator"
)

// LoadTuning overlays the YAML tuning file at path onto base. Keys missing
// from the file keep their base value; unknown keys are an error. Durations
// use Go syntax ("500ms"). An empty path returns base unchanged.
func LoadTuning(path string, base estimator.Config) (estimator.Config, error) {
	if path == "" {
		return base, base.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("failed to read tuning file: %w", err)
	}
	return ParseTuning(data, base)
}

// ParseTuning is LoadTuning for an in-memory document.
func ParseTuning(data []byte, base estimator.Config) (estimator.Config, error) {
	cfg := base
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return base, fmt.Errorf("invalid tuning file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return base, err
	}
	return cfg, nil
}
