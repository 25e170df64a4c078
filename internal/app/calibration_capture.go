// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/relabs-tech/position_estimator/internal/calibration"
	"github.com/relabs-tech/position_estimator/internal/config"
	"github.com/relabs-tech/position_estimator/internal/estimator"
	"github.com/relabs-tech/position_estimator/internal/imu"
	"github.com/relabs-tech/position_estimator/internal/sensors"
)

// Poses for a full accelerometer sweep, axis pointing up.
var SixPoses = []string{"+Z", "-Z", "+X", "-X", "+Y", "-Y"}

// ErrCaptureTimeout is returned when a pose does not complete a stationary
// interval in time, usually because the device was not kept still.
var ErrCaptureTimeout = errors.New("calibration: no stationary interval completed")

// CalibrationOptions drives RunCalibration.
type CalibrationOptions struct {
	Output  string
	Poses   []string
	Timeout time.Duration // per pose

	// Mag adds a rotation phase for magnetometer hard/soft iron, when the
	// source has a magnetometer.
	Mag         bool
	MagDuration time.Duration
}

// captureSink forwards samples to the estimator and records raw readings
// for the guided solves: accelerometer while a pose is held still, and
// magnetometer during the rotation phase.
type captureSink struct {
	next sensors.Sink

	mu        sync.Mutex
	pose      *calibration.Pose
	recordMag bool
	accel     *calibration.AccelSixPoint
	mag       calibration.MagSphere
}

func newCaptureSink(next sensors.Sink) *captureSink {
	return &captureSink{next: next, accel: calibration.NewAccelSixPoint()}
}

func (c *captureSink) Submit(s imu.Sample) {
	c.next.Submit(s)
	if !s.Valid {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch s.Type {
	case imu.Accelerometer:
		if c.pose != nil {
			c.accel.Add(*c.pose, s.Value)
		}
	case imu.Magnetometer:
		if c.recordMag {
			c.mag.Add(s.Value)
		}
	}
}

// recordPose starts recording accelerometer readings for p; nil stops.
func (c *captureSink) recordPose(p *calibration.Pose) {
	c.mu.Lock()
	c.pose = p
	c.mu.Unlock()
}

func (c *captureSink) poseSamples(p calibration.Pose) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accel.Samples(p)
}

func (c *captureSink) setMagRecording(on bool) {
	c.mu.Lock()
	c.recordMag = on
	c.mu.Unlock()
}

// poseRecorder records pose p only while the estimator reports the device
// stationary.
func (c *captureSink) poseRecorder(p calibration.Pose, progress func(estimator.Snapshot)) func(estimator.Snapshot) {
	return func(s estimator.Snapshot) {
		if s.Stationary {
			c.recordPose(&p)
		} else {
			c.recordPose(nil)
		}
		if progress != nil {
			progress(s)
		}
	}
}

// applyCaptures folds the guided solves into st. Fewer than six poses keep
// the online accelerometer estimate; a magnetometer phase without enough
// rotation keeps the previous magnetometer calibration.
func (c *captureSink) applyCaptures(st calibration.State, magPhase bool, out io.Writer) (calibration.State, []string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var notes []string
	if c.accel.Complete() {
		cal, err := c.accel.Solve()
		if err != nil {
			return st, nil, err
		}
		st.Accel = cal
		notes = append(notes, "accel: six-point per-axis bias and scale")
	} else {
		fmt.Fprintln(out, "Accel: fewer than six poses, keeping the stationary scale estimate")
	}

	if magPhase {
		cal, err := c.mag.Solve()
		switch {
		case errors.Is(err, calibration.ErrInsufficientExcitation):
			fmt.Fprintf(out, "Mag: %v (%d samples); keeping previous calibration\n", err, c.mag.Samples())
			notes = append(notes, "mag: insufficient excitation")
		case err != nil:
			return st, nil, err
		default:
			st.Mag = cal
			notes = append(notes, fmt.Sprintf("mag: hard/soft iron from %d samples", c.mag.Samples()))
		}
	}
	return st, notes, nil
}

// waitForIntervals consumes snapshots until the calibration reports at
// least target completed intervals.
func waitForIntervals(ctx context.Context, updates <-chan estimator.Snapshot, target int, timeout time.Duration, progress func(estimator.Snapshot)) (estimator.Snapshot, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return estimator.Snapshot{}, ctx.Err()
		case <-deadline.C:
			return estimator.Snapshot{}, ErrCaptureTimeout
		case s, ok := <-updates:
			if !ok {
				return estimator.Snapshot{}, estimator.ErrStopped
			}
			if progress != nil {
				progress(s)
			}
			if s.Calibration.Intervals >= target {
				return s, nil
			}
		}
	}
}

// progressPrinter reports stationary transitions as they happen.
func progressPrinter(out io.Writer) func(estimator.Snapshot) {
	still := false
	return func(s estimator.Snapshot) {
		if s.Stationary == still {
			return
		}
		still = s.Stationary
		if still {
			fmt.Fprintln(out, "  device still, learning biases...")
		} else {
			fmt.Fprintln(out, "  motion detected, keep the device still")
		}
	}
}

func waitEnter(in *bufio.Reader, out io.Writer, prompt string) {
	fmt.Fprint(out, prompt)
	_, _ = in.ReadString('\n')
}

// waitEnterOrTimeout returns on ENTER, after d, or when ctx is done.
func waitEnterOrTimeout(ctx context.Context, in *bufio.Reader, out io.Writer, prompt string, d time.Duration) {
	fmt.Fprint(out, prompt)
	line := make(chan struct{}, 1)
	go func() {
		_, _ = in.ReadString('\n')
		line <- struct{}{}
	}()
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-line:
	case <-timer.C:
		fmt.Fprintln(out)
	case <-ctx.Done():
	}
}

// RunCalibration guides the user through stationary captures, one per pose,
// and an optional magnetometer rotation, then writes the calibration to
// opts.Output.
func RunCalibration(ctx context.Context, in io.Reader, out io.Writer, opts CalibrationOptions) error {
	poses := make([]calibration.Pose, 0, len(opts.Poses))
	for _, p := range opts.Poses {
		pose, err := calibration.ParsePose(p)
		if err != nil {
			return err
		}
		poses = append(poses, pose)
	}

	cfg := config.Get()
	tuning, err := config.LoadTuning(cfg.EstimatorTuningFile, estimator.DefaultConfig())
	if err != nil {
		return err
	}
	est, err := estimator.New(tuning)
	if err != nil {
		return err
	}
	src, scale, err := openSource(cfg)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := est.Start(runCtx); err != nil {
		return err
	}
	updates, unsubscribe := est.Subscribe(64)
	defer unsubscribe()

	sink := newCaptureSink(est)
	interval := time.Duration(cfg.IMUSampleInterval) * time.Millisecond
	go sensors.Pump(runCtx, src, scale, interval, sensors.MonotonicClock(), sink)

	reader := bufio.NewReader(in)
	var notes []string
	var last estimator.Snapshot
	for i, pose := range poses {
		fmt.Fprintf(out, "\nPose %d/%d (%s UP): place the device so %s axis points upward, then keep it still.\n",
			i+1, len(poses), pose, pose)
		waitEnter(reader, out, "Press ENTER to start capture...")

		done := 0
		if s, ok := est.Latest(); ok {
			done = s.Calibration.Intervals
		}
		s, err := waitForIntervals(runCtx, updates, done+1, opts.Timeout, sink.poseRecorder(pose, progressPrinter(out)))
		sink.recordPose(nil)
		if err != nil {
			return fmt.Errorf("pose %s: %w", pose, err)
		}
		g := s.Calibration.Gyro.Bias
		fmt.Fprintf(out, "  captured %d accel samples, gyro bias X=%.5f Y=%.5f Z=%.5f rad/s\n",
			sink.poseSamples(pose), g.X, g.Y, g.Z)
		notes = append(notes, fmt.Sprintf("pose %s: interval %d", pose, s.Calibration.Intervals))
		last = s
	}

	magPhase := opts.Mag && scale.HasMag
	if magPhase {
		fmt.Fprintln(out, "\nMagnetometer: rotate the device slowly through all orientations, away from metal.")
		waitEnter(reader, out, "Press ENTER to start...")
		sink.setMagRecording(true)
		waitEnterOrTimeout(runCtx, reader, out,
			fmt.Sprintf("Press ENTER when done (max %s)...", opts.MagDuration), opts.MagDuration)
		sink.setMagRecording(false)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	if err := est.Stop(stopCtx); err != nil && !errors.Is(err, estimator.ErrStopped) {
		return err
	}
	if final, ok := est.Latest(); ok {
		last = final
	}

	st, solved, err := sink.applyCaptures(last.Calibration, magPhase, out)
	if err != nil {
		return err
	}
	notes = append(notes, solved...)

	if err := calibration.Save(opts.Output, st, "calibration-cli", notes...); err != nil {
		return err
	}
	a, m := st.Accel, st.Mag
	fmt.Fprintf(out, "\nAccel bias:  X=%.4f Y=%.4f Z=%.4f m/s²\n", a.Bias.X, a.Bias.Y, a.Bias.Z)
	fmt.Fprintf(out, "Accel scale: X=%.4f Y=%.4f Z=%.4f\n", a.Scale.X, a.Scale.Y, a.Scale.Z)
	if magPhase {
		fmt.Fprintf(out, "Mag offset:  X=%.2f Y=%.2f Z=%.2f µT\n", m.Bias.X, m.Bias.Y, m.Bias.Z)
		fmt.Fprintf(out, "Mag scale:   X=%.4f Y=%.4f Z=%.4f\n", m.Scale.X, m.Scale.Y, m.Scale.Z)
	}
	fmt.Fprintf(out, "Calibration complete (%d intervals). Saved to %s\n", st.Intervals, opts.Output)
	return nil
}
