// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/relabs-tech/position_estimator/internal/calibration"
	"github.com/relabs-tech/position_estimator/internal/config"
	"github.com/relabs-tech/position_estimator/internal/estimator"
	"github.com/relabs-tech/position_estimator/internal/imu"
	"github.com/relabs-tech/position_estimator/internal/monitoring"
	"github.com/relabs-tech/position_estimator/internal/observability"
	"github.com/relabs-tech/position_estimator/internal/sensors"
)

const stopTimeout = 5 * time.Second

// openSource returns the configured raw IMU source and its scale.
func openSource(cfg *config.Config) (imu.IMURawSource, imu.RawScale, error) {
	switch cfg.IMUSource {
	case config.IMUSourceMock:
		scale := imu.RawScale{AccelRange: cfg.IMUAccelRange, GyroRange: cfg.IMUGyroRange, HasMag: true}
		monitoring.Infof("estimator: using mock IMU source")
		return sensors.NewMockSource(scale), scale, nil
	default:
		opts := sensors.MPU9250Options{
			SPIDevice:  cfg.IMUSPIDevice,
			CSPin:      cfg.IMUCSPin,
			AccelRange: cfg.IMUAccelRange,
			GyroRange:  cfg.IMUGyroRange,
			SelfTest:   true,
		}
		src, err := sensors.NewMPU9250Source(opts)
		if err != nil {
			return nil, imu.RawScale{}, err
		}
		return src, opts.Scale(), nil
	}
}

// buildEstimator assembles the estimator from the tuning file and any
// persisted calibration.
func buildEstimator(cfg *config.Config, collector *observability.EstimatorCollector) (*estimator.Estimator, error) {
	tuning, err := config.LoadTuning(cfg.EstimatorTuningFile, estimator.DefaultConfig())
	if err != nil {
		return nil, err
	}

	opts := []estimator.Option{
		estimator.WithObserver(collector),
		estimator.WithIngressObserver(collector),
	}
	if cfg.CalibrationFile != "" {
		state, err := calibration.Load(cfg.CalibrationFile)
		switch {
		case err == nil:
			monitoring.Infof("estimator: loaded calibration from %s (%d intervals)", cfg.CalibrationFile, state.Intervals)
			opts = append(opts, estimator.WithCalibration(state))
		case errors.Is(err, os.ErrNotExist):
			monitoring.Infof("estimator: no calibration at %s, learning from scratch", cfg.CalibrationFile)
		default:
			return nil, err
		}
	}
	return estimator.New(tuning, opts...)
}

// RunEstimator reads the IMU, runs the estimator and publishes estimates
// until ctx is cancelled.
func RunEstimator(ctx context.Context) error {
	monitoring.Infof("starting position estimator")
	cfg := config.Get()

	collector, err := observability.NewEstimatorCollector(prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	est, err := buildEstimator(cfg, collector)
	if err != nil {
		return err
	}

	src, scale, err := openSource(cfg)
	if err != nil {
		return err
	}

	// --- connect to MQTT ---
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDEstimator).
		SetAutoReconnect(true)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect error: %w", token.Error())
	}
	defer client.Disconnect(250)
	monitoring.Infof("estimator: connected to MQTT broker at %s", cfg.MQTTBroker)

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			monitoring.Infof("estimator: metrics on %s/metrics", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				monitoring.Errorf("estimator: metrics server: %v", err)
			}
		}()
		defer srv.Close()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := est.Start(runCtx); err != nil {
		return err
	}

	interval := time.Duration(cfg.IMUSampleInterval) * time.Millisecond
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		sensors.Pump(runCtx, src, scale, interval, sensors.MonotonicClock(), est)
	}()

	pub := NewSnapshotPublisher(client, cfg.TopicEstimate)
	pubDone := make(chan struct{})
	go func() {
		defer close(pubDone)
		pub.Run(runCtx, est, time.Duration(cfg.PublishInterval)*time.Millisecond)
	}()

	logTicker := time.NewTicker(time.Duration(cfg.ConsoleLogInterval) * time.Millisecond)
	defer logTicker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-est.Done():
			break loop
		case <-logTicker.C:
			if snap, ok := est.Latest(); ok {
				collector.ObserveSnapshot(snap)
				monitoring.Infof("estimator: %s", formatEstimate(snap))
			}
		}
	}

	monitoring.Infof("estimator: shutting down")
	cancel()
	<-pumpDone
	<-pubDone

	stopEstimator(est, "estimator")
	if _, err := pub.PublishLatest(est); err != nil {
		monitoring.Warnf("publisher: final estimate: %v", err)
	}

	return saveCalibration(cfg.CalibrationFile, est)
}

type estimatorStopper interface {
	Stop(ctx context.Context) error
}

// stopEstimator stops est within stopTimeout. An estimator that already
// stopped on its own is not an error.
func stopEstimator(est estimatorStopper, component string) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := est.Stop(ctx); err != nil && !errors.Is(err, estimator.ErrStopped) {
		monitoring.Warnf("%s: stop: %v", component, err)
	}
}

// saveCalibration persists the learned calibration for the next run.
func saveCalibration(path string, est *estimator.Estimator) error {
	if path == "" {
		return nil
	}
	snap, ok := est.Latest()
	if !ok || !snap.Calibration.Calibrated {
		return nil
	}
	if err := calibration.Save(path, snap.Calibration, "estimator"); err != nil {
		return err
	}
	monitoring.Infof("estimator: calibration saved to %s", path)
	return nil
}
