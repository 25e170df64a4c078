// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Guided calibration for the position estimator.
//
// For each requested pose the device is held still until the estimator
// completes a stationary interval; gyroscope bias is refined on every pose.
// The six-pose sweep (-poses six) solves per-axis accelerometer bias and
// scale from the ±X ±Y ±Z means. With a magnetometer, a final rotation
// phase solves hard-iron offset and per-axis soft-iron scale.
//
// Output:
//
//	Writes the calibration JSON later loaded through CALIBRATION_FILE.
//
// Run:
//
//	go run ./cmd/calibration -poses six
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/relabs-tech/position_estimator/internal/app"
	"github.com/relabs-tech/position_estimator/internal/config"
)

func main() {
	configPath := flag.String("config", "estimator_config.txt", "Path to configuration file")
	output := flag.String("out", "", "Output file (default: CALIBRATION_FILE, else ./estimator_calibration.json)")
	poses := flag.String("poses", "flat", `"flat" for one level capture, "six" for ±X ±Y ±Z, or a comma list like "+Z,-Z"`)
	timeout := flag.Duration("timeout", 60*time.Second, "Maximum time per pose")
	mag := flag.Bool("mag", true, "Run the magnetometer rotation phase when the IMU has one")
	magTime := flag.Duration("mag-time", 60*time.Second, "Maximum magnetometer rotation time")
	flag.Parse()

	fmt.Println("=== Guided Calibration (stationary capture) ===")

	if err := config.InitGlobal(*configPath); err != nil {
		fatal(fmt.Errorf("failed to load config from %s: %w", *configPath, err))
	}

	path := *output
	if path == "" {
		path = config.Get().CalibrationFile
	}
	if path == "" {
		path = "estimator_calibration.json"
	}

	var list []string
	switch *poses {
	case "flat":
		list = []string{"+Z"}
	case "six":
		list = app.SixPoses
	default:
		for _, p := range strings.Split(*poses, ",") {
			if p = strings.TrimSpace(p); p != "" {
				list = append(list, p)
			}
		}
	}
	if len(list) == 0 {
		fatal(fmt.Errorf("no poses given"))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := app.RunCalibration(ctx, os.Stdin, os.Stdout, app.CalibrationOptions{
		Output:      path,
		Poses:       list,
		Timeout:     *timeout,
		Mag:         *mag,
		MagDuration: *magTime,
	})
	if err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
	os.Exit(1)
}
