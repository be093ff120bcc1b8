package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// ErrPublishTimeout is returned when the broker does not acknowledge a
// publish within the configured timeout.
var ErrPublishTimeout = errors.New("mqtt publish timed out")

// Publisher is the part of mqtt.Client used for outgoing events.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

var _ Publisher = mqtt.Client(nil)

// Event is the payload published for every fired gate.
type Event struct {
	EventID string    `json:"event_id"`
	Kind    string    `json:"kind"`
	Tick    int64     `json:"tick"`
	SimNow  time.Time `json:"sim_now"`
}

// MQTTPublisher announces gate firings on <prefix>/<kind>.
type MQTTPublisher struct {
	client  Publisher
	prefix  string
	kind    string
	qos     byte
	timeout time.Duration
}

// NewMQTTPublisher returns a trigger publishing kind events through client.
func NewMQTTPublisher(client Publisher, prefix, kind string, timeout time.Duration) *MQTTPublisher {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &MQTTPublisher{
		client:  client,
		prefix:  strings.TrimSuffix(prefix, "/"),
		kind:    kind,
		qos:     1,
		timeout: timeout,
	}
}

// Topic is the topic this publisher writes to.
func (p *MQTTPublisher) Topic() string {
	if p.prefix == "" {
		return p.kind
	}
	return p.prefix + "/" + p.kind
}

func (p *MQTTPublisher) Fire(ctx context.Context, tick int64, simNow time.Time) error {
	payload, err := json.Marshal(Event{
		EventID: uuid.NewString(),
		Kind:    p.kind,
		Tick:    tick,
		SimNow:  simNow.UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode %s event: %w", p.kind, err)
	}

	timeout := p.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}

	token := p.client.Publish(p.Topic(), p.qos, false, payload)
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%s: %w", p.Topic(), ErrPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", p.Topic(), err)
	}

	log.WithFields(log.Fields{
		"topic": p.Topic(),
		"tick":  tick,
	}).Debug("Published simulation event")
	return nil
}

// ConnectMQTT opens a client connection to broker.
func ConnectMQTT(broker, clientID string, timeout time.Duration) (mqtt.Client, error) {
	if clientID == "" {
		clientID = "fleet-simulation-" + uuid.NewString()[:8]
	}
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(timeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.WithError(err).Warn("MQTT connection lost")
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("connect to %s: timed out after %s", broker, timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", broker, err)
	}
	log.WithFields(log.Fields{
		"broker":    broker,
		"client_id": clientID,
	}).Info("Connected to MQTT broker")
	return client, nil
}
