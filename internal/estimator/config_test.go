package estimator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GyroNoise = 0
	cfg.BiasLearningRate = 1.5
	cfg.MagFieldMax = cfg.MagFieldMin
	cfg.PairingTolerance = -time.Millisecond
	cfg.UncalibratedNoiseScale = 0.5

	err := cfg.Validate()
	require.Error(t, err)
	for _, field := range []string{"gyro_noise", "bias_learning_rate", "mag_field_max", "pairing_tolerance", "uncalibrated_noise_scale"} {
		assert.ErrorContains(t, err, field)
	}
}

func TestCalibrationSliceOfConfig(t *testing.T) {
	cfg := DefaultConfig()
	c := cfg.Calibration()
	assert.Equal(t, cfg.StationaryGyroThreshold, c.StationaryGyroThreshold)
	assert.Equal(t, cfg.StationaryMinDuration, c.StationaryMinDuration)
	assert.Equal(t, cfg.BiasLearningRate, c.BiasLearningRate)
	assert.Equal(t, cfg.AccelStationaryTolerance, c.AccelStationaryTolerance)
}
