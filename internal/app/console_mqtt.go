package app

import (
	"context"
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/position_estimator/internal/config"
	"github.com/relabs-tech/position_estimator/internal/estimator"
	"github.com/relabs-tech/position_estimator/internal/monitoring"
)

// formatEstimate renders a snapshot as one console line.
func formatEstimate(s estimator.Snapshot) string {
	flags := ""
	if !s.Calibrated {
		flags += " UNCAL"
	}
	if s.Stationary {
		flags += " STILL"
	}
	if s.Degraded {
		flags += " DEGRADED"
	}
	return fmt.Sprintf(
		"[EST #%d] ROLL=%6.2f PITCH=%6.2f YAW=%7.2f | POS=(%7.3f %7.3f %7.3f)m ±%.3f | VEL=(%6.3f %6.3f %6.3f)m/s%s",
		s.Seq, s.Pose.Roll, s.Pose.Pitch, s.Pose.Yaw,
		s.Position.X, s.Position.Y, s.Position.Z, s.PositionSigma.Norm(),
		s.Velocity.X, s.Velocity.Y, s.Velocity.Z,
		flags,
	)
}

// decodeEstimate parses a published snapshot.
func decodeEstimate(payload []byte) (estimator.Snapshot, error) {
	var s estimator.Snapshot
	if err := json.Unmarshal(payload, &s); err != nil {
		return estimator.Snapshot{}, fmt.Errorf("estimate unmarshal error: %w", err)
	}
	return s, nil
}

// subscribeEstimates connects a client and calls fn for each decoded
// snapshot on the estimate topic.
func subscribeEstimates(cfg *config.Config, clientID, component string, fn func(estimator.Snapshot)) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(clientID)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	monitoring.Infof("%s: connected to MQTT broker at %s", component, cfg.MQTTBroker)

	token := client.Subscribe(cfg.TopicEstimate, 0, func(_ mqtt.Client, msg mqtt.Message) {
		s, err := decodeEstimate(msg.Payload())
		if err != nil {
			monitoring.Warnf("%s: %v", component, err)
			return
		}
		fn(s)
	})
	token.Wait()
	if token.Error() != nil {
		client.Disconnect(250)
		return nil, token.Error()
	}
	monitoring.Infof("%s: subscribed to %s", component, cfg.TopicEstimate)
	return client, nil
}

// RunConsoleMQTT prints every estimate published on the broker.
func RunConsoleMQTT(ctx context.Context) error {
	cfg := config.Get()
	client, err := subscribeEstimates(cfg, cfg.MQTTClientIDConsole, "console", func(s estimator.Snapshot) {
		fmt.Println(formatEstimate(s))
	})
	if err != nil {
		return err
	}

	<-ctx.Done()
	monitoring.Infof("console: shutting down")
	client.Disconnect(250)
	return nil
}
