// blemulator - simulated BLE adapter bridge
//
// blemulator exposes a central-role BLE adapter whose radio is a simulation
// engine reached over MQTT. Test rigs drive the engine; applications and
// the bundled HTTP API drive the adapter.
//
// Commands:
//
//	blemulator serve           run the adapter, health reporter and HTTP API
//	blemulator sessions        list recorded traffic sessions
//	blemulator sessions prune  delete sessions idle for longer than --older-than
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}
