// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/relabs-tech/position_estimator/internal/estimator"
	"github.com/relabs-tech/position_estimator/internal/imu"
	"github.com/relabs-tech/position_estimator/internal/sensors"
)

// RunMockConsole runs the estimator on the synthetic IMU and prints the
// estimate every 100ms. It needs no broker and no hardware.
func RunMockConsole(ctx context.Context) error {
	est, err := estimator.New(estimator.DefaultConfig())
	if err != nil {
		return err
	}
	if err := est.Start(ctx); err != nil {
		return err
	}

	scale := imu.RawScale{AccelRange: 1, GyroRange: 1, HasMag: true}
	src := sensors.NewMockSource(scale)
	go sensors.Pump(ctx, src, scale, 20*time.Millisecond, sensors.MonotonicClock(), est)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			stopEstimator(est, "console")
			return nil
		case <-ticker.C:
			snap, ok := est.Latest()
			if !ok {
				continue
			}
			fmt.Printf("%s  true yaw=%6.2f\n", formatEstimate(snap), src.TrueYaw()*180/math.Pi)
		}
	}
}
