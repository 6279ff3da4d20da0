package main

import (
	"github.com/spf13/cobra"

	log "github.com/sirupsen/logrus"

	"github.com/dennispg/wlddc/agent"
	"github.com/dennispg/wlddc/config"
)

var runOpts struct {
	configPath string
	broker     string
	verbose    bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the MQTT agent",
	Long: `Run the MQTT agent.

Discovers displays once at startup, announces them to Home Assistant
and serves power and brightness commands until interrupted. Lost broker
connections are reopened with exponential backoff.`,
	Args: cobra.NoArgs,
	RunE: runAgent,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runOpts.configPath, "config", "c", "",
		"Path to YAML config file (default: ~/.config/wlddc/config.yaml)")
	runCmd.Flags().StringVarP(&runOpts.broker, "broker", "b", "",
		"MQTT broker hostname (overrides config)")
	runCmd.Flags().BoolVarP(&runOpts.verbose, "verbose", "v", false,
		"Enable debug logging")
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(runOpts.configPath)
	if err != nil {
		return err
	}

	if runOpts.broker != "" {
		cfg.MQTT.Broker = runOpts.broker
	}
	if runOpts.verbose {
		cfg.Agent.LogLevel = "debug"
	}

	level, err := log.ParseLevel(cfg.Agent.LogLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)

	return agent.New(cfg, version).Run(cmd.Context())
}
