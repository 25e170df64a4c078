package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/position_estimator/internal/estimator"
	"github.com/relabs-tech/position_estimator/internal/imu"
	"github.com/relabs-tech/position_estimator/internal/ingress"
	"github.com/relabs-tech/position_estimator/internal/monitoring"
)

func TestCollectorCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewEstimatorCollector(reg)
	require.NoError(t, err)

	c.SampleAccepted(imu.Gyroscope)
	c.SampleAccepted(imu.Gyroscope)
	c.SampleDropped(0, ingress.DropUnknownSensor)
	c.PredictionDone(10*time.Millisecond, true, false, 20*time.Microsecond)
	c.PredictionDone(10*time.Millisecond, false, true, 20*time.Microsecond)
	c.CorrectionApplied(estimator.ObservationGravity)
	c.ObservationRejected(estimator.ObservationMagHeading, estimator.RejectResidual)
	c.FilterReset()
	c.QueueDepth(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.SamplesAccepted.WithLabelValues("gyroscope")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.SamplesDropped.WithLabelValues("unknown", "unknown_sensor")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Predictions.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Predictions.WithLabelValues("false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ClampedGaps))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Corrections.WithLabelValues("gravity_zupt")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Rejections.WithLabelValues("mag_heading", "residual")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Resets))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.QueueDepthGauge))
}

func TestCollectorReregistersOnSameRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewEstimatorCollector(reg)
	require.NoError(t, err)
	second, err := NewEstimatorCollector(reg)
	require.NoError(t, err)

	second.FilterReset()
	assert.Equal(t, 1.0, testutil.ToFloat64(first.Resets))
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *EstimatorCollector
	c.SampleAccepted(imu.Accelerometer)
	c.PredictionDone(0, true, true, 0)
	c.ObserveSnapshot(estimator.Snapshot{})
	c.QueueDepth(1)
}

func TestCollectorWiredIntoEstimator(t *testing.T) {
	prev := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(prev) })

	reg := prometheus.NewRegistry()
	c, err := NewEstimatorCollector(reg)
	require.NoError(t, err)

	cfg := estimator.DefaultConfig()
	cfg.ReorderWindow = 500 * time.Millisecond
	e, err := estimator.New(cfg,
		estimator.WithObserver(c), estimator.WithIngressObserver(c))
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))

	ms := int64(time.Millisecond)
	for ts := ms; ts <= 200*ms; ts += 10 * ms {
		e.OnSensorChanged(ingress.PlatformGyroscope, []float32{0, 0, 0.5}, ts)
		e.OnSensorChanged(ingress.PlatformAccelerometer, []float32{0, 0, 9.80665}, ts)
	}
	e.OnSensorChanged(ingress.PlatformGyroscope, []float32{1, 2}, 300*ms)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Stop(ctx))
	snap, _ := e.Latest()
	c.ObserveSnapshot(snap)

	assert.Equal(t, 20.0, testutil.ToFloat64(c.SamplesAccepted.WithLabelValues("gyroscope")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.SamplesDropped.WithLabelValues("gyroscope", "short_values")))
	assert.Equal(t, 19.0, testutil.ToFloat64(c.Predictions.WithLabelValues("false")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.Calibrated))
	assert.Greater(t, testutil.ToFloat64(c.PositionSigma.WithLabelValues("x")), 0.0)

	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	for _, name := range []string{"estimator_predictions_total", "estimator_prediction_duration_seconds", "estimator_queue_depth"} {
		assert.True(t, strings.Contains(body, name), name)
	}
}
