// Package mqtt is the broker connection behind the simulation channel.
//
// Calls flow out on blemulator/{adapter}/call; replies and publish events
// flow back on blemulator/{adapter}/reply and blemulator/{adapter}/event/{type}.
// The adapter health topic and the per-process service status topic are
// retained.
//
//	blesim.Adapter <-> MQTT broker <-> simulation engine
//
// Handlers run one at a time in arrival order. Consumers that may block
// (the adapter loop does, while it waits for a publish acknowledgement)
// must queue work instead of doing it in the handler.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT,
//	    mqtt.WithWill(mqtt.Topics{}.AdapterHealth("sim-01"), lwtPayload))
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
package mqtt
