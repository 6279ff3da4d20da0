// Command wlddc exposes Wayland displays to Home Assistant over MQTT.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Build-time variables (set via ldflags)
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "wlddc",
	Short: "Wayland monitor control MQTT agent for Home Assistant",
	Long: `wlddc exposes Wayland displays to Home Assistant over MQTT.

Outputs are discovered through wlr-randr and matched with their DDC/CI
bus via ddcutil, giving Home Assistant a power switch, a brightness
slider and a resolution sensor per display.

Besides the agent itself it ships one-shot commands for controlling
displays from the shell, and generators for config and service files.`,
	Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime),
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// one-shot commands only report problems, run raises this
		// again from its config
		log.SetLevel(log.WarnLevel)
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
