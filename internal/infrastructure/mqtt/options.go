package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-blemulator/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPublishTimeout = 5 * time.Second

	// disconnectQuiesce is in milliseconds, as paho expects.
	disconnectQuiesce = 1000

	defaultKeepAlive = 60 * time.Second
	maxQoS           = 2
	tlsMinVersion    = tls.VersionTLS12

	// maxPayloadSize bounds one message. Discovery replies for large GATT
	// trees are the biggest payloads on the channel.
	maxPayloadSize = 1 << 20
)

// buildClientOptions maps the MQTT section of the config onto paho options.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(defaultConnectTimeout).
		SetKeepAlive(defaultKeepAlive).
		// Replies and events must reach the adapter in the order the engine
		// sent them. Handlers then run on the goroutine that also reads
		// acknowledgements, so they must hand work off rather than block.
		SetOrderMatters(true)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}
	return opts
}

// ConnectOption customises Connect.
type ConnectOption func(*connectSettings)

type connectSettings struct {
	willTopic   string
	willPayload []byte
}

// WithWill registers a retained last will on topic instead of the default
// service status will. serve uses it to flip an adapter's health topic to
// offline when the process dies.
func WithWill(topic string, payload []byte) ConnectOption {
	return func(s *connectSettings) {
		s.willTopic = topic
		s.willPayload = payload
	}
}

// serviceStatus is the retained payload on blemulator/service/{client}/status.
type serviceStatus struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func statusPayload(clientID, status, reason string) []byte {
	// Marshalling a struct of strings cannot fail.
	payload, _ := json.Marshal(serviceStatus{ //nolint:errchkjson // string-only struct
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return payload
}

// configureWill sets the last will. Without WithWill the broker marks the
// process offline on its service status topic.
func configureWill(opts *pahomqtt.ClientOptions, clientID string, s connectSettings) {
	if s.willTopic != "" {
		opts.SetBinaryWill(s.willTopic, s.willPayload, 1, true)
		return
	}
	opts.SetBinaryWill(Topics{}.ServiceStatus(clientID), statusPayload(clientID, "offline", "unexpected_disconnect"), 1, true)
}
