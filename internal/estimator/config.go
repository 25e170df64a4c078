package estimator

import (
	"errors"
	"fmt"
	"time"

	"github.com/relabs-tech/position_estimator/internal/calibration"
	"github.com/relabs-tech/position_estimator/internal/ingress"
)

// Config tunes the estimator. Zero values are not meaningful; start from
// DefaultConfig and override. The yaml tags are the keys of the tuning file.
type Config struct {
	// Stationary detection and calibration learning.
	StationaryGyroThreshold  float64       `yaml:"stationary_gyro_threshold"`  // rad/s
	StationaryMinDuration    time.Duration `yaml:"stationary_min_duration"`
	BiasLearningRate         float64       `yaml:"bias_learning_rate"`         // EMA weight, (0,1]
	AccelStationaryTolerance float64       `yaml:"accel_stationary_tolerance"` // m/s²

	// Process noise densities and the inflation applied while uncalibrated.
	GyroNoise              float64 `yaml:"gyro_noise"`  // rad/s/√Hz
	AccelNoise             float64 `yaml:"accel_noise"` // m/s²/√Hz
	UncalibratedNoiseScale float64 `yaml:"uncalibrated_noise_scale"`

	// Observation noise.
	AccelObservationNoise float64 `yaml:"accel_observation_noise"` // m/s²
	ZeroVelocityNoise     float64 `yaml:"zero_velocity_noise"`     // m/s
	MagObservationNoise   float64 `yaml:"mag_observation_noise"`   // rad

	// Platform gravity and rotation vector observations: noise, and the
	// minimum spacing between corrections.
	GravitySensorNoise    float64       `yaml:"gravity_sensor_noise"` // m/s²
	GravitySensorInterval time.Duration `yaml:"gravity_sensor_interval"`

	// StationaryUpdateInterval is the minimum spacing between gravity and
	// zero-velocity corrections. Zero corrects on every stationary pair.
	StationaryUpdateInterval time.Duration `yaml:"stationary_update_interval"`

	// MaxAttitudeCorrection bounds the rotation a single correction may apply.
	MaxAttitudeCorrection float64 `yaml:"max_attitude_correction"` // rad

	// Outlier gates on the residual magnitude.
	AccelOutlierThreshold float64 `yaml:"accel_outlier_threshold"` // m/s²
	MagOutlierThreshold   float64 `yaml:"mag_outlier_threshold"`   // rad

	// Magnetometer qualification.
	MagFieldMin             float64 `yaml:"mag_field_min"`             // µT
	MagFieldMax             float64 `yaml:"mag_field_max"`             // µT
	MagInclinationTolerance float64 `yaml:"mag_inclination_tolerance"` // rad

	// Timing.
	MaxTimeDelta     time.Duration `yaml:"max_time_delta"`
	PairingTolerance time.Duration `yaml:"pairing_tolerance"`
	ReorderWindow    time.Duration `yaml:"reorder_window"`

	// Ingress prefilter: per-sensor decimation and first-order low-pass.
	// Zero values disable it.
	PrefilterAlpha       float64       `yaml:"prefilter_alpha"` // [0,1]
	PrefilterMinInterval time.Duration `yaml:"prefilter_min_interval"`

	// Loop.
	QueueCapacity    int  `yaml:"queue_capacity"` // 0 = unbounded
	DrainOnStop      bool `yaml:"drain_on_stop"`
	RejectionLogSize int  `yaml:"rejection_log_size"`

	// AlignOnFirstSample levels the initial orientation from the first
	// accelerometer reading instead of starting at identity.
	AlignOnFirstSample bool `yaml:"align_on_first_sample"`

	// Initial and post-reset standard deviations.
	InitialAttitudeSigma float64 `yaml:"initial_attitude_sigma"` // rad
	InitialVelocitySigma float64 `yaml:"initial_velocity_sigma"` // m/s
	InitialPositionSigma float64 `yaml:"initial_position_sigma"` // m
	ResetAttitudeSigma   float64 `yaml:"reset_attitude_sigma"`   // rad
	ResetVelocitySigma   float64 `yaml:"reset_velocity_sigma"`   // m/s
	ResetPositionSigma   float64 `yaml:"reset_position_sigma"`   // m
}

// DefaultConfig returns the tuning used for a phone-class or MPU9250-class
// IMU sampled at around 50 Hz.
func DefaultConfig() Config {
	return Config{
		StationaryGyroThreshold:  0.05,
		StationaryMinDuration:    500 * time.Millisecond,
		BiasLearningRate:         0.02,
		AccelStationaryTolerance: 1.0,

		GyroNoise:              0.01,
		AccelNoise:             0.1,
		UncalibratedNoiseScale: 10,

		AccelObservationNoise: 0.5,
		ZeroVelocityNoise:     0.01,
		MagObservationNoise:   0.1,
		GravitySensorNoise:    0.3,
		GravitySensorInterval: 100 * time.Millisecond,

		StationaryUpdateInterval: 0,
		MaxAttitudeCorrection:    0.2,

		AccelOutlierThreshold: 2.0,
		MagOutlierThreshold:   0.5,

		MagFieldMin:             20,
		MagFieldMax:             70,
		MagInclinationTolerance: 0.35,

		MaxTimeDelta:     200 * time.Millisecond,
		PairingTolerance: 5 * time.Millisecond,
		ReorderWindow:    20 * time.Millisecond,

		QueueCapacity:    4096,
		DrainOnStop:      true,
		RejectionLogSize: 64,

		AlignOnFirstSample: true,

		InitialAttitudeSigma: 0.1,
		InitialVelocitySigma: 0.1,
		InitialPositionSigma: 0.1,
		ResetAttitudeSigma:   3.14159,
		ResetVelocitySigma:   10,
		ResetPositionSigma:   100,
	}
}

// Prefilter returns the ingress prefilter slice of the config.
func (c Config) Prefilter() ingress.Prefilter {
	return ingress.Prefilter{Alpha: c.PrefilterAlpha, MinInterval: c.PrefilterMinInterval.Nanoseconds()}
}

// Calibration returns the calibration layer's slice of the config.
func (c Config) Calibration() calibration.Config {
	return calibration.Config{
		StationaryGyroThreshold:  c.StationaryGyroThreshold,
		StationaryMinDuration:    c.StationaryMinDuration,
		BiasLearningRate:         c.BiasLearningRate,
		AccelStationaryTolerance: c.AccelStationaryTolerance,
	}
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	positive := func(name string, v float64) {
		if !(v > 0) {
			errs = append(errs, fmt.Errorf("%s must be > 0 (got %v)", name, v))
		}
	}
	positiveDur := func(name string, d time.Duration) {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0 (got %v)", name, d))
		}
	}
	nonNegativeDur := func(name string, d time.Duration) {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must be >= 0 (got %v)", name, d))
		}
	}

	positive("stationary_gyro_threshold", c.StationaryGyroThreshold)
	nonNegativeDur("stationary_min_duration", c.StationaryMinDuration)
	if !(c.BiasLearningRate > 0 && c.BiasLearningRate <= 1) {
		errs = append(errs, fmt.Errorf("bias_learning_rate must be in (0, 1] (got %v)", c.BiasLearningRate))
	}
	positive("accel_stationary_tolerance", c.AccelStationaryTolerance)
	positive("gyro_noise", c.GyroNoise)
	positive("accel_noise", c.AccelNoise)
	if !(c.UncalibratedNoiseScale >= 1) {
		errs = append(errs, fmt.Errorf("uncalibrated_noise_scale must be >= 1 (got %v)", c.UncalibratedNoiseScale))
	}
	positive("accel_observation_noise", c.AccelObservationNoise)
	positive("zero_velocity_noise", c.ZeroVelocityNoise)
	positive("mag_observation_noise", c.MagObservationNoise)
	positive("gravity_sensor_noise", c.GravitySensorNoise)
	nonNegativeDur("gravity_sensor_interval", c.GravitySensorInterval)
	nonNegativeDur("stationary_update_interval", c.StationaryUpdateInterval)
	positive("max_attitude_correction", c.MaxAttitudeCorrection)
	positive("accel_outlier_threshold", c.AccelOutlierThreshold)
	positive("mag_outlier_threshold", c.MagOutlierThreshold)
	positive("mag_field_min", c.MagFieldMin)
	if !(c.MagFieldMax > c.MagFieldMin) {
		errs = append(errs, fmt.Errorf("mag_field_max must be > mag_field_min (got %v <= %v)", c.MagFieldMax, c.MagFieldMin))
	}
	positive("mag_inclination_tolerance", c.MagInclinationTolerance)
	positiveDur("max_time_delta", c.MaxTimeDelta)
	nonNegativeDur("pairing_tolerance", c.PairingTolerance)
	nonNegativeDur("reorder_window", c.ReorderWindow)
	if !(c.PrefilterAlpha >= 0 && c.PrefilterAlpha <= 1) {
		errs = append(errs, fmt.Errorf("prefilter_alpha must be in [0, 1] (got %v)", c.PrefilterAlpha))
	}
	nonNegativeDur("prefilter_min_interval", c.PrefilterMinInterval)
	if c.QueueCapacity < 0 {
		errs = append(errs, fmt.Errorf("queue_capacity must be >= 0 (got %d)", c.QueueCapacity))
	}
	if c.RejectionLogSize <= 0 {
		errs = append(errs, fmt.Errorf("rejection_log_size must be > 0 (got %d)", c.RejectionLogSize))
	}
	positive("initial_attitude_sigma", c.InitialAttitudeSigma)
	positive("initial_velocity_sigma", c.InitialVelocitySigma)
	positive("initial_position_sigma", c.InitialPositionSigma)
	positive("reset_attitude_sigma", c.ResetAttitudeSigma)
	positive("reset_velocity_sigma", c.ResetVelocitySigma)
	positive("reset_position_sigma", c.ResetPositionSigma)

	if len(errs) > 0 {
		return fmt.Errorf("invalid estimator config: %w", errors.Join(errs...))
	}
	return nil
}
