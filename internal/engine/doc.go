// Package engine supervises a local simulation engine process.
//
// blemulator normally talks to an engine that some test rig already runs.
// For a self-contained bench, serve can launch the engine itself: the
// Supervisor starts the configured command, forwards its output to the
// log line by line, and restarts it with exponential backoff when it exits
// unexpectedly. The engine learns where to connect from its environment
// (BLEMULATOR_ADAPTER_ID, BLEMULATOR_MQTT_HOST, BLEMULATOR_MQTT_PORT).
//
// Example usage:
//
//	sup := engine.NewSupervisor(engine.Config{
//	    Command: "/opt/sim/engine",
//	    Args:    []string{"--scenario", "heart-rate"},
//	    Env:     []string{"BLEMULATOR_ADAPTER_ID=sim-01"},
//	})
//	if err := sup.Start(ctx); err != nil {
//	    return err
//	}
//	defer sup.Stop()
package engine
