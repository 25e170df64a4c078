package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/position_estimator/internal/estimator"
	"github.com/relabs-tech/position_estimator/internal/monitoring"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

const sampleConfig = `
# broker
MQTT_BROKER=tcp://localhost:1883
MQTT_CLIENT_ID_ESTIMATOR=estimator-1
TOPIC_ESTIMATE=inertial/estimate

IMU_SOURCE=mpu9250
IMU_SPI_DEVICE=/dev/spidev0.0
IMU_CS_PIN=8
IMU_ACCEL_RANGE=1
IMU_GYRO_RANGE=2
IMU_SAMPLE_INTERVAL=20
PUBLISH_INTERVAL=50
CONSOLE_LOG_INTERVAL=1000
WEB_SERVER_PORT=8080
METRICS_ADDR=:9100
DISPLAY_I2C_ADDR=0x3C
DISPLAY_UPDATE_INTERVAL=250
ESTIMATOR_TUNING_FILE=config/tuning.yaml
CALIBRATION_FILE=calibration.json
LOG_LEVEL=debug
`

func TestLoad(t *testing.T) {
	cfg, err := Load(writeFile(t, "config.txt", sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "tcp://localhost:1883", cfg.MQTTBroker)
	assert.Equal(t, "estimator-1", cfg.MQTTClientIDEstimator)
	assert.Equal(t, IMUSourceMPU9250, cfg.IMUSource)
	assert.Equal(t, "/dev/spidev0.0", cfg.IMUSPIDevice)
	assert.Equal(t, byte(1), cfg.IMUAccelRange)
	assert.Equal(t, byte(2), cfg.IMUGyroRange)
	assert.Equal(t, 20, cfg.IMUSampleInterval)
	assert.Equal(t, 50, cfg.PublishInterval)
	assert.Equal(t, 8080, cfg.WebServerPort)
	assert.Equal(t, ":9100", cfg.MetricsAddr)
	assert.Equal(t, uint16(0x3C), cfg.DisplayI2CAddr)
	assert.Equal(t, "config/tuning.yaml", cfg.EstimatorTuningFile)
	assert.Equal(t, "calibration.json", cfg.CalibrationFile)
	assert.Equal(t, monitoring.LevelDebug, cfg.LogLevel)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeFile(t, "config.txt", `
MQTT_BROKER=tcp://broker:1883
IMU_SOURCE=mock
IMU_SAMPLE_INTERVAL=20
CONSOLE_LOG_INTERVAL=500
`))
	require.NoError(t, err)
	assert.Equal(t, IMUSourceMock, cfg.IMUSource)
	assert.Equal(t, "inertial/estimate", cfg.TopicEstimate)
	assert.Equal(t, 100, cfg.PublishInterval)
	assert.Equal(t, uint16(0x3C), cfg.DisplayI2CAddr)
	assert.Equal(t, 250, cfg.DisplayUpdateInterval)
	assert.Equal(t, monitoring.LevelInfo, cfg.LogLevel)
}

func TestLoadErrors(t *testing.T) {
	base := "MQTT_BROKER=tcp://b:1883\nIMU_SOURCE=mock\nIMU_SAMPLE_INTERVAL=20\nCONSOLE_LOG_INTERVAL=500\n"
	cases := map[string]struct {
		content string
		want    string
	}{
		"malformed line": {base + "NOPE\n", "invalid config line 5"},
		"unknown key":    {base + "FOO=1\n", `unknown config key: "FOO"`},
		"accel range":    {base + "IMU_ACCEL_RANGE=7\n", "IMU_ACCEL_RANGE must be 0-3"},
		"gyro range nan": {base + "IMU_GYRO_RANGE=x\n", "invalid IMU_GYRO_RANGE"},
		"source":         {base + "IMU_SOURCE=bno055\n", "IMU_SOURCE must be"},
		"negative":       {base + "PUBLISH_INTERVAL=-5\n", "PUBLISH_INTERVAL must not be negative"},
		"zero publish":   {base + "PUBLISH_INTERVAL=0\n", "PUBLISH_INTERVAL must be positive"},
		"zero display":   {base + "DISPLAY_UPDATE_INTERVAL=0\n", "DISPLAY_UPDATE_INTERVAL must be positive"},
		"port":           {base + "WEB_SERVER_PORT=70000\n", "WEB_SERVER_PORT out of range"},
		"log level":      {base + "LOG_LEVEL=loud\n", "invalid LOG_LEVEL"},
		"missing broker": {"IMU_SOURCE=mock\nIMU_SAMPLE_INTERVAL=20\nCONSOLE_LOG_INTERVAL=500\n", "MQTT_BROKER is required"},
		"missing spi":    {"MQTT_BROKER=tcp://b:1883\nIMU_SAMPLE_INTERVAL=20\nCONSOLE_LOG_INTERVAL=500\n", "IMU_SPI_DEVICE is required"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, "config.txt", tc.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.txt"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadTuningOverlay(t *testing.T) {
	path := writeFile(t, "tuning.yaml", `
gyro_noise: 0.02
stationary_min_duration: 750ms
reorder_window: 40ms
drain_on_stop: false
`)
	base := estimator.DefaultConfig()
	cfg, err := LoadTuning(path, base)
	require.NoError(t, err)

	assert.Equal(t, 0.02, cfg.GyroNoise)
	assert.Equal(t, 750*time.Millisecond, cfg.StationaryMinDuration)
	assert.Equal(t, 40*time.Millisecond, cfg.ReorderWindow)
	assert.False(t, cfg.DrainOnStop)
	// untouched keys keep defaults
	assert.Equal(t, base.AccelNoise, cfg.AccelNoise)
	assert.Equal(t, base.MaxTimeDelta, cfg.MaxTimeDelta)
}

func TestLoadTuningEmpty(t *testing.T) {
	base := estimator.DefaultConfig()
	cfg, err := LoadTuning("", base)
	require.NoError(t, err)
	assert.Equal(t, base, cfg)

	cfg, err = ParseTuning(nil, base)
	require.NoError(t, err)
	assert.Equal(t, base, cfg)
}

func TestLoadTuningRejects(t *testing.T) {
	base := estimator.DefaultConfig()

	_, err := ParseTuning([]byte("gyro_nosie: 0.1\n"), base)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid tuning file")

	_, err = ParseTuning([]byte("gyro_noise: -1\n"), base)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gyro_noise")

	_, err = LoadTuning(filepath.Join(t.TempDir(), "nope.yaml"), base)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
