// Package telemetry mirrors issued joint commands to an MQTT broker.
package telemetry

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.viam.com/rdk/logging"

	"braccio/joints"
)

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "braccio"

const publishTimeout = 2 * time.Second

// Client is the subset of mqtt.Client the publisher needs.
type Client interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// JointState is the JSON payload published for every command.
type JointState struct {
	Angles    []int `json:"angles"`
	Speed     int   `json:"speed"`
	Timestamp int64 `json:"timestamp"`
}

// Publisher publishes joint commands to <prefix>/<name>/joints.
type Publisher struct {
	client Client
	topic  string
	qos    byte
	retain bool
	logger logging.Logger

	mu      sync.RWMutex
	last    *JointState
	now     func() time.Time
	timeout time.Duration
}

// NewPublisher creates a publisher for the component called name.
func NewPublisher(client Client, prefix, name string, logger logging.Logger) *Publisher {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return &Publisher{
		client: client,
		topic:  fmt.Sprintf("%s/%s/joints", prefix, name),
		qos:    0,
		retain: true,
		logger:  logger,
		now:     time.Now,
		timeout: publishTimeout,
	}
}

// Topic returns the topic commands are published to.
func (p *Publisher) Topic() string {
	return p.topic
}

// Publish sends cmd to the broker and waits for the client to finish with it. A
// broker that does not complete the publish in time is an error. Failures are
// returned and never retried.
func (p *Publisher) Publish(cmd joints.Command) error {
	state := &JointState{
		Angles:    append([]int(nil), cmd.Angles[:]...),
		Speed:     cmd.Speed,
		Timestamp: p.now().Unix(),
	}

	p.mu.Lock()
	p.last = state
	p.mu.Unlock()

	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshaling joint state: %w", err)
	}

	token := p.client.Publish(p.topic, p.qos, p.retain, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("publishing to %s: timed out after %s", p.topic, p.timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing to %s: %w", p.topic, err)
	}
	p.logger.Debugf("published %v to %s", cmd.Angles, p.topic)
	return nil
}

// Observe is a pipeline observer: it publishes cmd and logs any failure.
func (p *Publisher) Observe(cmd joints.Command) {
	if err := p.Publish(cmd); err != nil {
		p.logger.Warnf("telemetry: %v", err)
	}
}

// Last returns the most recent state handed to Publish, if any.
func (p *Publisher) Last() (JointState, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil {
		return JointState{}, false
	}
	return *p.last, true
}

// Close disconnects the underlying client.
func (p *Publisher) Close() {
	if p.client != nil {
		p.client.Disconnect(250)
	}
}
