package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// defaultConfigPath is used when neither --config nor BLEMULATOR_CONFIG is set.
const defaultConfigPath = "configs/config.yaml"

// globalOptions are the flags shared by every subcommand.
type globalOptions struct {
	ConfigPath string
}

// newRootCommand builds the command tree.
func newRootCommand() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:     "blemulator",
		Short:   "Simulated BLE adapter bridge",
		Long:    `blemulator runs a BLE adapter whose radio is a simulation engine reached over MQTT.`,
		Version: fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
	}
	root.SilenceUsage = true
	root.SilenceErrors = true

	root.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "",
		"configuration file (default $BLEMULATOR_CONFIG or "+defaultConfigPath+")")

	root.AddCommand(newServeCommand(opts))
	root.AddCommand(newSessionsCommand(opts))

	return root
}

// configPath resolves the configuration file path.
// The flag wins, then BLEMULATOR_CONFIG, then the default.
func (o *globalOptions) configPath() string {
	if o.ConfigPath != "" {
		return o.ConfigPath
	}
	if path := os.Getenv("BLEMULATOR_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
