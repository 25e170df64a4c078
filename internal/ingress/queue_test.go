package ingress

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/position_estimator/internal/imu"
)

func sampleAt(ts int64) imu.Sample {
	return imu.Sample{Type: imu.Gyroscope, Timestamp: ts, Valid: true}
}

func TestQueueFIFO(t *testing.T) {
	q := NewQueue(0)
	for ts := int64(1); ts <= 100; ts++ {
		_, ok := q.Push(sampleAt(ts))
		require.True(t, ok)
	}
	for ts := int64(1); ts <= 50; ts++ {
		s, ok := q.TryNext()
		require.True(t, ok)
		require.Equal(t, ts, s.Timestamp)
	}
	q.Push(sampleAt(101))
	assert.Equal(t, 51, q.Len())

	rest := q.Drain()
	require.Len(t, rest, 51)
	assert.Equal(t, int64(51), rest[0].Timestamp)
	assert.Equal(t, int64(101), rest[50].Timestamp)
	assert.Zero(t, q.Len())
}

func TestQueueNextWakesOnPush(t *testing.T) {
	q := NewQueue(0)
	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Push(sampleAt(7))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s, ok := q.Next(ctx)
	require.True(t, ok)
	assert.Equal(t, int64(7), s.Timestamp)
}

func TestQueueCloseKeepsQueuedSamples(t *testing.T) {
	q := NewQueue(0)
	q.Push(sampleAt(1))
	q.Close()

	_, ok := q.Push(sampleAt(2))
	assert.False(t, ok)

	s, ok := q.Next(context.Background())
	require.True(t, ok)
	assert.Equal(t, int64(1), s.Timestamp)
	_, ok = q.Next(context.Background())
	assert.False(t, ok)
}
