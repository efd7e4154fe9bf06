package telemetry

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.viam.com/rdk/logging"
)

const connectTimeout = 10 * time.Second

// NewClient connects to broker. The client keeps retrying in the background, so a
// broker that is down at startup only produces a warning.
func NewClient(broker, clientID string, logger logging.Logger) (mqtt.Client, error) {
	if broker == "" {
		return nil, fmt.Errorf("no MQTT broker configured")
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Infof("connected to MQTT broker %s", broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warnf("lost MQTT connection to %s: %v", broker, err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		logger.Warnf("MQTT broker %s not reachable yet, retrying in background", broker)
		return client, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", broker, err)
	}
	return client, nil
}
