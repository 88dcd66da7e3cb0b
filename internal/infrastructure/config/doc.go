// Package config handles loading and validating blemulator configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with BLEMULATOR_* environment variables
//   - Validation of required fields (all problems are reported at once)
//   - Default value handling
//
// Security Considerations:
//   - MQTT passwords and InfluxDB tokens should be set via environment variables
//   - The API binds to loopback by default; it has no authentication
//
// Usage:
//
//	cfg, err := config.Load("configs/blemulator.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Adapter.ID)
package config
