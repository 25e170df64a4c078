package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relabs-tech/position_estimator/internal/estimator"
	"github.com/relabs-tech/position_estimator/internal/imu"
	"github.com/relabs-tech/position_estimator/internal/ingress"
)

// EstimatorCollector exposes ingress and filter outcomes as Prometheus
// metrics. It satisfies both ingress.Observer and estimator.Observer, and
// every method is safe on a nil receiver.
type EstimatorCollector struct {
	gatherer prometheus.Gatherer

	SamplesAccepted    *prometheus.CounterVec
	SamplesDropped     *prometheus.CounterVec
	Predictions        *prometheus.CounterVec
	ClampedGaps        prometheus.Counter
	Corrections        *prometheus.CounterVec
	Rejections         *prometheus.CounterVec
	Resets             prometheus.Counter
	QueueDepthGauge    prometheus.Gauge
	PredictionDuration prometheus.Histogram

	Calibrated    prometheus.Gauge
	Stationary    prometheus.Gauge
	PositionSigma *prometheus.GaugeVec
}

var (
	_ ingress.Observer   = (*EstimatorCollector)(nil)
	_ estimator.Observer = (*EstimatorCollector)(nil)
)

// NewEstimatorCollector registers the estimator metrics against reg,
// defaulting to the global registry when nil. Registering twice against the
// same registry reuses the existing collectors.
func NewEstimatorCollector(reg prometheus.Registerer) (*EstimatorCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	c := &EstimatorCollector{gatherer: gatherer}

	var err error
	if c.SamplesAccepted, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "estimator_samples_accepted_total",
		Help: "Sensor samples accepted by ingress, labeled by sensor.",
	}, []string{"sensor"}), "estimator_samples_accepted_total"); err != nil {
		return nil, err
	}
	if c.SamplesDropped, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "estimator_samples_dropped_total",
		Help: "Sensor samples dropped before reaching the filter, labeled by sensor and reason.",
	}, []string{"sensor", "reason"}), "estimator_samples_dropped_total"); err != nil {
		return nil, err
	}
	if c.Predictions, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "estimator_predictions_total",
		Help: "Prediction steps, labeled by whether an unpaired sample was integrated.",
	}, []string{"degraded"}), "estimator_predictions_total"); err != nil {
		return nil, err
	}
	if c.ClampedGaps, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "estimator_clamped_gaps_total",
		Help: "Prediction steps whose elapsed time was clamped to the maximum delta.",
	}), "estimator_clamped_gaps_total"); err != nil {
		return nil, err
	}
	if c.Corrections, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "estimator_corrections_total",
		Help: "Applied corrections, labeled by observation kind.",
	}, []string{"kind"}), "estimator_corrections_total"); err != nil {
		return nil, err
	}
	if c.Rejections, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "estimator_rejections_total",
		Help: "Rejected observations, labeled by observation kind and reason.",
	}, []string{"kind", "reason"}), "estimator_rejections_total"); err != nil {
		return nil, err
	}
	if c.Resets, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "estimator_resets_total",
		Help: "Safe-default resets after a numeric failure.",
	}), "estimator_resets_total"); err != nil {
		return nil, err
	}
	if c.QueueDepthGauge, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "estimator_queue_depth",
		Help: "Samples waiting in the ingress queue.",
	}), "estimator_queue_depth"); err != nil {
		return nil, err
	}
	if c.PredictionDuration, err = registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "estimator_prediction_duration_seconds",
		Help:    "Wall time spent in one prediction step.",
		Buckets: []float64{1e-6, 5e-6, 1e-5, 2.5e-5, 5e-5, 1e-4, 2.5e-4, 5e-4, 1e-3, 5e-3},
	}), "estimator_prediction_duration_seconds"); err != nil {
		return nil, err
	}
	if c.Calibrated, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "estimator_calibrated",
		Help: "1 once the first stationary interval has completed.",
	}), "estimator_calibrated"); err != nil {
		return nil, err
	}
	if c.Stationary, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "estimator_stationary",
		Help: "1 while the device is detected at rest.",
	}), "estimator_stationary"); err != nil {
		return nil, err
	}
	if c.PositionSigma, err = registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "estimator_position_sigma_meters",
		Help: "Published position standard deviation per world axis.",
	}, []string{"axis"}), "estimator_position_sigma_meters"); err != nil {
		return nil, err
	}
	return c, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *EstimatorCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func sensorLabel(t imu.SensorType) string {
	switch t {
	case imu.Accelerometer, imu.Gyroscope, imu.Magnetometer, imu.Gravity, imu.RotationVector:
		return t.String()
	}
	return "unknown"
}

func (c *EstimatorCollector) SampleAccepted(t imu.SensorType) {
	if c == nil || c.SamplesAccepted == nil {
		return
	}
	c.SamplesAccepted.WithLabelValues(sensorLabel(t)).Inc()
}

func (c *EstimatorCollector) SampleDropped(t imu.SensorType, reason ingress.DropReason) {
	if c == nil || c.SamplesDropped == nil {
		return
	}
	c.SamplesDropped.WithLabelValues(sensorLabel(t), reason.String()).Inc()
}

func (c *EstimatorCollector) PredictionDone(_ time.Duration, clamped, degraded bool, took time.Duration) {
	if c == nil {
		return
	}
	if c.Predictions != nil {
		c.Predictions.WithLabelValues(strconv.FormatBool(degraded)).Inc()
	}
	if clamped && c.ClampedGaps != nil {
		c.ClampedGaps.Inc()
	}
	if c.PredictionDuration != nil {
		c.PredictionDuration.Observe(took.Seconds())
	}
}

func (c *EstimatorCollector) CorrectionApplied(kind estimator.ObservationKind) {
	if c == nil || c.Corrections == nil {
		return
	}
	c.Corrections.WithLabelValues(kind.String()).Inc()
}

func (c *EstimatorCollector) ObservationRejected(kind estimator.ObservationKind, reason estimator.RejectReason) {
	if c == nil || c.Rejections == nil {
		return
	}
	c.Rejections.WithLabelValues(kind.String(), reason.String()).Inc()
}

func (c *EstimatorCollector) FilterReset() {
	if c == nil || c.Resets == nil {
		return
	}
	c.Resets.Inc()
}

func (c *EstimatorCollector) QueueDepth(n int) {
	if c == nil || c.QueueDepthGauge == nil {
		return
	}
	c.QueueDepthGauge.Set(float64(n))
}

// ObserveSnapshot updates the gauges that mirror the published estimate.
func (c *EstimatorCollector) ObserveSnapshot(s estimator.Snapshot) {
	if c == nil {
		return
	}
	if c.Calibrated != nil {
		c.Calibrated.Set(boolGauge(s.Calibrated))
	}
	if c.Stationary != nil {
		c.Stationary.Set(boolGauge(s.Stationary))
	}
	if c.PositionSigma != nil {
		c.PositionSigma.WithLabelValues("x").Set(s.PositionSigma.X)
		c.PositionSigma.WithLabelValues("y").Set(s.PositionSigma.Y)
		c.PositionSigma.WithLabelValues("z").Set(s.PositionSigma.Z)
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
