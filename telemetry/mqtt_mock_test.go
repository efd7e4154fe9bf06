package telemetry

import (
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// mockToken completes immediately unless stalled, in which case it never does.
type mockToken struct {
	err     error
	stalled bool
}

func (t *mockToken) Wait() bool                     { return !t.stalled }
func (t *mockToken) WaitTimeout(time.Duration) bool { return !t.stalled }
func (t *mockToken) Error() error                   { return t.err }

func (t *mockToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if !t.stalled {
		close(ch)
	}
	return ch
}

type mockMessage struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

type mockClient struct {
	mu           sync.Mutex
	connected    bool
	publishError error
	stalled      bool
	published    []mockMessage
	disconnected bool
}

func (c *mockClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *mockClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return &mockToken{err: mqtt.ErrNotConnected}
	}
	if c.publishError != nil {
		return &mockToken{err: c.publishError}
	}
	b, _ := payload.([]byte)
	c.published = append(c.published, mockMessage{Topic: topic, Payload: b, QoS: qos, Retain: retained})
	return &mockToken{stalled: c.stalled}
}

func (c *mockClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.disconnected = true
}

func (c *mockClient) messages() []mockMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]mockMessage(nil), c.published...)
}
