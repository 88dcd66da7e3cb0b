//go:build integration

package mqtt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-blemulator/internal/infrastructure/config"
)

// Integration tests against a live broker.
// These tests require a running MQTT broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

func integrationConfig(clientID string) config.MQTTConfig {
	cfg := testConfig()
	cfg.Broker.ClientID = clientID
	return cfg
}

func TestIntegration_ConnectClose(t *testing.T) {
	client, err := Connect(integrationConfig("blemulator-int-connect"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v, want nil", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close(), want false")
	}
	if err := client.Publish("blemulator/int/after-close", []byte("x"), 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() after Close error = %v, want ErrNotConnected", err)
	}
}

func TestIntegration_BrokerRefused(t *testing.T) {
	cfg := integrationConfig("blemulator-int-refused")
	cfg.Broker.Port = 19998

	_, err := Connect(cfg)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestIntegration_ConnectWithWill(t *testing.T) {
	client, err := Connect(integrationConfig("blemulator-int-will"),
		WithWill(Topics{}.AdapterHealth("int-will"), []byte(`{"status":"offline"}`)))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
}

// TestIntegration_ResubscribeReplacesHandler verifies a second Subscribe on
// the same pattern takes over delivery.
func TestIntegration_ResubscribeReplacesHandler(t *testing.T) {
	client, err := Connect(integrationConfig("blemulator-int-resub"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	topic := Topics{}.AdapterReply("int-resub")
	first := make(chan struct{}, 1)
	second := make(chan struct{}, 1)
	if err := client.Subscribe(topic, 1, func(string, []byte) error { first <- struct{}{}; return nil }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := client.Subscribe(topic, 1, func(string, []byte) error { second <- struct{}{}; return nil }); err != nil {
		t.Fatalf("Subscribe() again error = %v", err)
	}
	if got := len(client.subs); got != 1 {
		t.Errorf("remembered subscriptions = %d, want 1", got)
	}

	if err := client.Publish(topic, []byte(`{}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	select {
	case <-second:
	case <-first:
		t.Error("replaced handler received the message")
	case <-time.After(5 * time.Second):
		t.Error("timeout waiting for message")
	}
}

// TestIntegration_CallReplyRoundtrip plays the engine: one client publishes
// a call, the other answers it on the reply topic.
func TestIntegration_CallReplyRoundtrip(t *testing.T) {
	adapterClient, err := Connect(integrationConfig("blemulator-int-adapter"))
	if err != nil {
		t.Fatalf("Connect() adapter error = %v", err)
	}
	defer adapterClient.Close()

	engineClient, err := Connect(integrationConfig("blemulator-int-engine"))
	if err != nil {
		t.Fatalf("Connect() engine error = %v", err)
	}
	defer engineClient.Close()

	topics := Topics{}
	err = engineClient.Subscribe(topics.AdapterCall("int-rt"), 1, func(_ string, payload []byte) error {
		return engineClient.Publish(topics.AdapterReply("int-rt"), payload, 1, false)
	})
	if err != nil {
		t.Fatalf("Subscribe(call) error = %v", err)
	}

	received := make(chan string, 1)
	var once sync.Once
	err = adapterClient.Subscribe(topics.AdapterReply("int-rt"), 1, func(_ string, payload []byte) error {
		once.Do(func() { received <- string(payload) })
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe(reply) error = %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	call := `{"correlationId":"0","operation":"enable"}`
	if err := adapterClient.Publish(topics.AdapterCall("int-rt"), []byte(call), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case msg := <-received:
		if msg != call {
			t.Errorf("Received = %q, want %q", msg, call)
		}
	case <-time.After(5 * time.Second):
		t.Error("Timeout waiting for reply")
	}
}

func TestIntegration_EventWildcard(t *testing.T) {
	pubClient, err := Connect(integrationConfig("blemulator-int-wild-pub"))
	if err != nil {
		t.Fatalf("Connect() publisher error = %v", err)
	}
	defer pubClient.Close()

	subClient, err := Connect(integrationConfig("blemulator-int-wild-sub"))
	if err != nil {
		t.Fatalf("Connect() subscriber error = %v", err)
	}
	defer subClient.Close()

	var receivedMu sync.Mutex
	receivedTopics := make(map[string]bool)

	err = subClient.Subscribe(Topics{}.AllAdapterEvents("int-wild"), 1, func(topic string, payload []byte) error {
		receivedMu.Lock()
		receivedTopics[topic] = true
		receivedMu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	events := []string{"scanResult", "connectionStateChange", "notification"}
	for _, event := range events {
		if err := pubClient.Publish(Topics{}.AdapterEvent("int-wild", event), []byte(`{}`), 1, false); err != nil {
			t.Fatalf("Publish(%s) error = %v", event, err)
		}
	}

	time.Sleep(500 * time.Millisecond)

	receivedMu.Lock()
	defer receivedMu.Unlock()
	for _, event := range events {
		if topic := Topics{}.AdapterEvent("int-wild", event); !receivedTopics[topic] {
			t.Errorf("Did not receive message for topic %s", topic)
		}
	}
}
