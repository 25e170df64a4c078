// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package estimator fuses calibrated inertial samples into an estimate of
// orientation, velocity and position with an error-state Kalman filter.
//
// Producers hand samples to an Estimator from any goroutine through
// OnSensorChanged; a single estimator goroutine owns the motion state and
// publishes immutable snapshots that readers fetch with Latest or Subscribe.
package estimator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relabs-tech/position_estimator/internal/calibration"
	"github.com/relabs-tech/position_estimator/internal/imu"
	"github.com/relabs-tech/position_estimator/internal/ingress"
	"github.com/relabs-tech/position_estimator/internal/monitoring"
)

var (
	ErrAlreadyStarted = errors.New("estimator: already started")
	ErrNotStarted     = errors.New("estimator: not started")
	ErrStopped        = errors.New("estimator: stopped")
)

type phase int

const (
	phaseIdle phase = iota
	phaseRunning
	phaseStopped
)

// Option customizes an Estimator.
type Option func(*Estimator)

// WithObserver receives filter outcomes.
func WithObserver(o Observer) Option { return func(e *Estimator) { e.observer = o } }

// WithIngressObserver receives ingress accept/drop outcomes.
func WithIngressObserver(o ingress.Observer) Option {
	return func(e *Estimator) { e.ingressObserver = o }
}

// WithCalibration starts from a known calibration instead of passthrough.
func WithCalibration(s calibration.State) Option {
	return func(e *Estimator) { e.calibration = &s }
}

// Estimator runs a Filter on its own goroutine behind an ingress queue.
type Estimator struct {
	cfg             Config
	in              *ingress.Ingress
	filter          *Filter
	reorder         *reorderBuffer
	observer        Observer
	ingressObserver ingress.Observer
	calibration     *calibration.State

	latest atomic.Pointer[Snapshot]
	seq    uint64

	mu     sync.Mutex
	phase  phase
	cancel context.CancelFunc
	done   chan struct{}

	subMu      sync.Mutex
	subs       map[int]chan Snapshot
	nextSub    int
	subsClosed bool
}

// New validates cfg and builds an idle estimator.
func New(cfg Config, opts ...Option) (*Estimator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Estimator{
		cfg:     cfg,
		reorder: newReorderBuffer(cfg.ReorderWindow.Nanoseconds()),
		subs:    make(map[int]chan Snapshot),
	}
	for _, o := range opts {
		o(e)
	}
	if e.observer == nil {
		e.observer = nopObserver{}
	}
	e.in = ingress.New(cfg.QueueCapacity, e.ingressObserver)
	e.in.SetPrefilter(cfg.Prefilter())
	e.filter = NewFilter(cfg, e.observer)
	if e.calibration != nil {
		e.filter.RestoreCalibration(*e.calibration)
	}
	return e, nil
}

// OnSensorChanged is the platform sensor callback. It never blocks.
func (e *Estimator) OnSensorChanged(sensorType int32, values []float32, timestampNs int64) {
	e.in.OnSensorChanged(sensorType, values, timestampNs)
}

// OnAccuracyChanged is the platform accuracy callback.
func (e *Estimator) OnAccuracyChanged(sensorType int32, status int32) {
	e.in.OnAccuracyChanged(sensorType, status)
}

// Submit enqueues an already normalized sample. It never blocks.
func (e *Estimator) Submit(s imu.Sample) { e.in.Submit(s) }

// Start launches the estimator goroutine. The goroutine also ends when ctx
// is cancelled. An estimator runs at most once.
func (e *Estimator) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.phase {
	case phaseRunning:
		return ErrAlreadyStarted
	case phaseStopped:
		return ErrStopped
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.phase = phaseRunning
	go e.run(runCtx)
	monitoring.Infof("estimator: started")
	return nil
}

// Pause stops accepting samples; the estimate is kept. The first prediction
// after Resume sees the pause as a clamped gap.
func (e *Estimator) Pause() error {
	if err := e.requireRunning(); err != nil {
		return err
	}
	e.in.Pause()
	monitoring.Infof("estimator: paused")
	return nil
}

// Resume accepts samples again.
func (e *Estimator) Resume() error {
	if err := e.requireRunning(); err != nil {
		return err
	}
	e.in.Resume()
	monitoring.Infof("estimator: resumed")
	return nil
}

func (e *Estimator) requireRunning() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.phase {
	case phaseIdle:
		return ErrNotStarted
	case phaseStopped:
		return ErrStopped
	}
	return nil
}

// Stop ends the estimator goroutine and waits for it, or for ctx. With
// DrainOnStop the samples still queued are processed first. A final snapshot
// is published before Stop returns.
func (e *Estimator) Stop(ctx context.Context) error {
	e.mu.Lock()
	switch e.phase {
	case phaseIdle:
		e.mu.Unlock()
		return ErrNotStarted
	case phaseStopped:
		e.mu.Unlock()
		return ErrStopped
	}
	e.phase = phaseStopped
	cancel, done := e.cancel, e.done
	e.mu.Unlock()

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the estimator goroutine has exited. It is nil before
// Start.
func (e *Estimator) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}

// Latest returns the most recent snapshot without blocking. The boolean is
// false until the first sample has been processed.
func (e *Estimator) Latest() (Snapshot, bool) {
	p := e.latest.Load()
	if p == nil {
		return Snapshot{}, false
	}
	return *p, true
}

// Subscribe returns a channel receiving snapshots as they are published.
// Sends never block: a full channel misses intermediate snapshots. The
// channel is closed by the returned cancel func or when the estimator stops.
func (e *Estimator) Subscribe(buffer int) (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, buffer)
	e.subMu.Lock()
	defer e.subMu.Unlock()
	if e.subsClosed {
		close(ch)
		return ch, func() {}
	}
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	return ch, func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		if c, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(c)
		}
	}
}

// Rejections returns the retained rejection events, oldest first.
func (e *Estimator) Rejections() []Rejection { return e.filter.Rejections().Events() }

// IngressStats returns the ingress counters.
func (e *Estimator) IngressStats() ingress.Stats { return e.in.Stats() }

// Config returns the configuration the estimator was built with.
func (e *Estimator) Config() Config { return e.cfg }

func (e *Estimator) run(ctx context.Context) {
	defer close(e.done)

	idle := time.NewTimer(time.Hour)
	idle.Stop()
	defer idle.Stop()

	for {
		if ctx.Err() != nil {
			e.shutdown()
			return
		}
		if s, ok := e.in.TryNext(); ok {
			e.accept(s)
			continue
		}

		// Nothing queued: release held samples if the stream goes quiet.
		var flush <-chan time.Time
		if e.reorder.len() > 0 || e.filter.Pending() {
			idle.Reset(e.idleFlushAfter())
			flush = idle.C
		}
		select {
		case <-ctx.Done():
		case <-e.in.Ready():
		case <-flush:
			e.process(e.reorder.drain())
			if e.filter.Flush() {
				e.publish()
			}
		}
		idle.Stop()
	}
}

func (e *Estimator) idleFlushAfter() time.Duration {
	d := e.cfg.ReorderWindow
	if p := 2 * e.cfg.PairingTolerance; p > d {
		d = p
	}
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}

func (e *Estimator) accept(s imu.Sample) {
	e.observer.QueueDepth(e.in.Len())
	if !e.reorder.push(s) {
		e.filter.stats.StaleSamples++
		monitoring.Debugf("estimator: stale %s sample at %d", s.Type, s.Timestamp)
		if e.ingressObserver != nil {
			e.ingressObserver.SampleDropped(s.Type, ingress.DropOutOfOrder)
		}
		return
	}
	e.process(e.reorder.ready())
}

func (e *Estimator) process(samples []imu.Sample) {
	for _, s := range samples {
		if e.filter.Process(s) {
			e.publish()
		}
	}
}

func (e *Estimator) shutdown() {
	e.in.Close()
	rest := e.in.Drain()
	if e.cfg.DrainOnStop {
		for _, s := range rest {
			e.accept(s)
		}
		e.process(e.reorder.drain())
		e.filter.Flush()
	} else if n := len(rest) + e.reorder.len(); n > 0 {
		monitoring.Infof("estimator: discarding %d queued samples", n)
	}
	e.publish()
	e.closeSubscribers()

	st := e.filter.Stats()
	monitoring.Infof("estimator: stopped after %d predictions, %d corrections, %d rejections",
		st.Predictions, st.Corrections, st.Rejections)
}

func (e *Estimator) publish() {
	e.seq++
	snap := e.filter.Snapshot()
	snap.Seq = e.seq
	e.latest.Store(&snap)

	e.subMu.Lock()
	for _, ch := range e.subs {
		select {
		case ch <- snap:
		default:
		}
	}
	e.subMu.Unlock()
}

func (e *Estimator) closeSubscribers() {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for id, ch := range e.subs {
		close(ch)
		delete(e.subs, id)
	}
	e.subsClosed = true
}
