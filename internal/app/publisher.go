package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/position_estimator/internal/estimator"
	"github.com/relabs-tech/position_estimator/internal/monitoring"
)

// mqttPublisher is the slice of mqtt.Client the publisher needs.
type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// snapshotSource is satisfied by *estimator.Estimator.
type snapshotSource interface {
	Latest() (estimator.Snapshot, bool)
}

// SnapshotPublisher pushes estimator snapshots to an MQTT topic as
// retained JSON, so late subscribers see the last estimate immediately.
type SnapshotPublisher struct {
	client  mqttPublisher
	topic   string
	timeout time.Duration

	lastSeq   uint64
	published uint64
	failures  uint64
}

// NewSnapshotPublisher creates a publisher for topic.
func NewSnapshotPublisher(client mqttPublisher, topic string) *SnapshotPublisher {
	return &SnapshotPublisher{client: client, topic: topic, timeout: 2 * time.Second}
}

// Publish sends one snapshot and waits for the broker acknowledgement.
func (p *SnapshotPublisher) Publish(s estimator.Snapshot) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("json marshal error (estimate): %w", err)
	}
	token := p.client.Publish(p.topic, 0, true, payload)
	if !token.WaitTimeout(p.timeout) {
		p.failures++
		return fmt.Errorf("MQTT publish timeout (%s)", p.topic)
	}
	if err := token.Error(); err != nil {
		p.failures++
		return fmt.Errorf("MQTT publish error (%s): %w", p.topic, err)
	}
	p.lastSeq = s.Seq
	p.published++
	return nil
}

// PublishLatest publishes src's latest snapshot if it is newer than the
// last one sent. It reports whether anything was sent.
func (p *SnapshotPublisher) PublishLatest(src snapshotSource) (bool, error) {
	snap, ok := src.Latest()
	if !ok || (p.published > 0 && snap.Seq == p.lastSeq) {
		return false, nil
	}
	return true, p.Publish(snap)
}

// Run publishes at most once per interval until ctx is done.
func (p *SnapshotPublisher) Run(ctx context.Context, src snapshotSource, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.PublishLatest(src); err != nil {
				monitoring.Warnf("publisher: %v", err)
			}
		}
	}
}

// Published returns the number of snapshots acknowledged by the broker.
func (p *SnapshotPublisher) Published() uint64 { return p.published }
