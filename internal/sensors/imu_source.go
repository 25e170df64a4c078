// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"

	"github.com/relabs-tech/position_estimator/internal/imu"
	"github.com/relabs-tech/position_estimator/internal/monitoring"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/devices/v3/mpu9250"
	"periph.io/x/host/v3"
)

var (
	accelRangeG  = [4]int{2, 4, 8, 16}
	gyroRangeDPS = [4]int{250, 500, 1000, 2000}
)

// MPU9250Options selects the SPI wiring and full-scale ranges of the IMU.
type MPU9250Options struct {
	SPIDevice  string
	CSPin      string
	AccelRange byte // 0=±2g, 1=±4g, 2=±8g, 3=±16g
	GyroRange  byte // 0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s
	SelfTest   bool
}

// Scale returns the count-to-SI conversion matching the configured ranges.
// The upstream driver does not expose the AK8963, so no magnetometer
// samples are produced.
func (o MPU9250Options) Scale() imu.RawScale {
	return imu.RawScale{AccelRange: o.AccelRange & 3, GyroRange: o.GyroRange & 3}
}

// MPU9250Source reads accelerometer and gyroscope counts over SPI.
type MPU9250Source struct {
	dev *mpu9250.MPU9250
}

// NewMPU9250Source initializes the MPU9250 over SPI.
func NewMPU9250Source(opts MPU9250Options) (*MPU9250Source, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("IMU: periph host init: %w", err)
	}

	cs := gpioreg.ByName(opts.CSPin)
	if cs == nil {
		return nil, fmt.Errorf("IMU: CS pin %q not found", opts.CSPin)
	}

	tr, err := mpu9250.NewSpiTransport(opts.SPIDevice, cs)
	if err != nil {
		return nil, fmt.Errorf("IMU: SPI transport (%s): %w", opts.SPIDevice, err)
	}

	dev, err := mpu9250.New(*tr)
	if err != nil {
		return nil, fmt.Errorf("IMU: device creation: %w", err)
	}

	if err := dev.Init(); err != nil {
		return nil, fmt.Errorf("IMU: initialization: %w", err)
	}

	ar, gr := opts.AccelRange&3, opts.GyroRange&3
	if err := dev.SetAccelRange(ar); err != nil {
		return nil, fmt.Errorf("IMU: set accel range: %w", err)
	}
	monitoring.Infof("IMU: accelerometer range set to %d (±%dg)", ar, accelRangeG[ar])

	if err := dev.SetGyroRange(gr); err != nil {
		return nil, fmt.Errorf("IMU: set gyro range: %w", err)
	}
	monitoring.Infof("IMU: gyroscope range set to %d (±%d°/s)", gr, gyroRangeDPS[gr])

	if opts.SelfTest {
		res, err := dev.SelfTest()
		if err != nil {
			monitoring.Warnf("IMU self-test failed: %v", err)
		} else {
			monitoring.Infof("IMU self-test passed: accel dev X=%.2f%% Y=%.2f%% Z=%.2f%%, gyro dev X=%.2f%% Y=%.2f%% Z=%.2f%%",
				res.AccelDeviation.X, res.AccelDeviation.Y, res.AccelDeviation.Z,
				res.GyroDeviation.X, res.GyroDeviation.Y, res.GyroDeviation.Z)
		}
	}

	return &MPU9250Source{dev: dev}, nil
}

// NextRaw reads one accelerometer and gyroscope triple.
func (s *MPU9250Source) NextRaw() (imu.IMURaw, error) {
	ax, err := s.dev.GetAccelerationX()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("IMU accel X: %w", err)
	}
	ay, err := s.dev.GetAccelerationY()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("IMU accel Y: %w", err)
	}
	az, err := s.dev.GetAccelerationZ()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("IMU accel Z: %w", err)
	}

	gx, err := s.dev.GetRotationX()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("IMU gyro X: %w", err)
	}
	gy, err := s.dev.GetRotationY()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("IMU gyro Y: %w", err)
	}
	gz, err := s.dev.GetRotationZ()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("IMU gyro Z: %w", err)
	}

	return imu.IMURaw{
		Source: "mpu9250",
		Ax:     ax, Ay: ay, Az: az,
		Gx: gx, Gy: gy, Gz: gz,
	}, nil
}
