// SPDX-License-Identifier: MIT

package emit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/hue2lan/hue2lan/internal/gate"
	"github.com/hue2lan/hue2lan/internal/metrics"
	"github.com/hue2lan/hue2lan/internal/state"
)

// Publisher is the slice of the MQTT client the emitter needs; satisfied by
// pahoPublisher in production and a recording fake in tests.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// MQTT drives zigbee2mqtt-style lights: one JSON set message per light per
// frame, suppressed by the frame-diff gate. Cells commit per light once the
// publish succeeded.
type MQTT struct {
	Client Publisher
	Gate   *gate.Gate
}

func (m *MQTT) Protocol() state.Protocol { return state.ProtocolMQTT }

func (m *MQTT) Emit(ctx context.Context, updates []Update) error {
	var firstErr error

	for _, u := range updates {
		if u.Decision == gate.Noop {
			continue
		}
		topic := u.Light.CfgString("command_topic")
		if topic == "" {
			continue
		}

		var msg any
		switch u.Decision {
		case gate.Bri:
			msg = map[string]any{"brightness": u.Bri, "transition": 0.2}
		default:
			msg = map[string]any{
				"color":      map[string]float64{"x": u.X, "y": u.Y},
				"transition": 0.15,
			}
		}
		payload, err := json.Marshal(msg)
		if err == nil {
			err = m.Client.Publish(topic, payload)
		}
		metrics.IncEmitterSend(string(state.ProtocolMQTT), err == nil)
		if err == nil && m.Gate != nil {
			m.Gate.Commit(u.Light.ID, gate.Sample{X: u.X, Y: u.Y, Bri: u.Bri}, u.Decision)
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// pahoPublisher adapts the paho client to the Publisher interface. Publishes
// are QoS 0, unretained; a stale lighting command has no value.
type pahoPublisher struct {
	client paho.Client
}

// NewMQTTPublisher connects to the broker and returns a Publisher.
func NewMQTTPublisher(broker, clientID, username, password string) (Publisher, error) {
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetConnectTimeout(5 * time.Second).
		SetAutoReconnect(true)
	if username != "" {
		opts.SetUsername(username)
		opts.SetPassword(password)
	}

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect to %s timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", broker, err)
	}
	return &pahoPublisher{client: client}, nil
}

func (p *pahoPublisher) Publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(time.Second) {
		return fmt.Errorf("mqtt publish to %s timed out", topic)
	}
	return token.Error()
}
