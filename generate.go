package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var generateOpts struct {
	output         string
	configPath     string
	waylandDisplay string
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate configuration and service files",
}

var generateSystemdCmd = &cobra.Command{
	Use:   "systemd",
	Short: "Generate a systemd user unit file",
	Long: `Generate a systemd user unit file.

The generated unit is intended for use with 'systemctl --user'.

Examples:
  wlddc generate systemd > ~/.config/systemd/user/wlddc.service
  systemctl --user daemon-reload
  systemctl --user enable --now wlddc`,
	Args: cobra.NoArgs,
	RunE: runGenerateSystemd,
}

var generateConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate an example YAML configuration file",
	Long: `Generate an example YAML configuration file.

Examples:
  wlddc generate config > ~/.config/wlddc/config.yaml`,
	Args: cobra.NoArgs,
	RunE: runGenerateConfig,
}

var generateEnvCmd = &cobra.Command{
	Use:   "env",
	Short: "Generate an example .env file",
	Long: `Generate an example .env file for configuration.

Environment variables can be used instead of or alongside a YAML config
file and take precedence over config file values.`,
	Args: cobra.NoArgs,
	RunE: runGenerateEnv,
}

func init() {
	rootCmd.AddCommand(generateCmd)
	generateCmd.AddCommand(generateSystemdCmd, generateConfigCmd, generateEnvCmd)

	for _, cmd := range []*cobra.Command{generateSystemdCmd, generateConfigCmd, generateEnvCmd} {
		cmd.Flags().StringVarP(&generateOpts.output, "output", "o", "",
			"Write to file instead of stdout")
	}

	generateSystemdCmd.Flags().StringVarP(&generateOpts.configPath, "config", "c", "",
		"Path to config file to use in the unit")
	generateSystemdCmd.Flags().StringVar(&generateOpts.waylandDisplay, "wayland-display", "",
		"WAYLAND_DISPLAY value (defaults to current env)")
}

const systemdUnit = `[Unit]
Description=Wayland Monitor Control MQTT Agent
After=network-online.target graphical-session.target
Wants=network-online.target
PartOf=graphical-session.target

[Service]
Type=simple
ExecStart=%s run%s
Restart=on-failure
RestartSec=10

# Wayland environment
Environment=WAYLAND_DISPLAY=%s
Environment=XDG_RUNTIME_DIR=%s

# Security hardening (optional, comment out if causing issues)
NoNewPrivileges=true
ProtectSystem=strict
ProtectHome=read-only
PrivateTmp=true

[Install]
WantedBy=default.target
`

const envTemplate = `# wlddc environment configuration
# Copy to .env and customize values
# Environment variables override config file values

# MQTT Settings
WLDDC_MQTT__BROKER=homeassistant.local
WLDDC_MQTT__PORT=1883
WLDDC_MQTT__USERNAME=mqtt-user
WLDDC_MQTT__PASSWORD=your-password-here
WLDDC_MQTT__CLIENT_ID=wlddc

# Home Assistant Settings
WLDDC_HOMEASSISTANT__DISCOVERY_PREFIX=homeassistant
WLDDC_HOMEASSISTANT__DEVICE_ID=%s
WLDDC_HOMEASSISTANT__DEVICE_NAME=%s

# Agent Settings
WLDDC_AGENT__POLL_INTERVAL=30
WLDDC_AGENT__LOG_LEVEL=info
`

const configTemplate = `# wlddc configuration
# Save to ~/.config/wlddc/config.yaml or use --config flag

mqtt:
  broker: homeassistant.local
  port: 1883
  username: mqtt-user
  password: your-password-here
  client_id: wlddc
  keepalive: 60
  reconnect_interval: 5
  reconnect_max_interval: 120

homeassistant:
  discovery_prefix: homeassistant
  device_id: %s
  device_name: "%s"

agent:
  poll_interval: 30
  command_timeout: 10
  ddcutil_retries: 2
  log_level: info

# Optional: manual display-to-DDC bus mappings
# Use this if auto-detection fails to correlate displays correctly
# Run 'wlddc detect' to see available displays and their info
#
# display_overrides:
#   - output_name: HDMI-A-1
#     ddc_bus: 7
`

func runGenerateSystemd(cmd *cobra.Command, args []string) error {
	exe, err := os.Executable()
	if err != nil {
		exe = "wlddc"
	}

	waylandDisplay, runtimeDir := waylandEnv()
	if generateOpts.waylandDisplay != "" {
		waylandDisplay = generateOpts.waylandDisplay
	}

	configArg := ""
	if generateOpts.configPath != "" {
		configArg = " --config " + generateOpts.configPath
	}

	unit := fmt.Sprintf(systemdUnit, exe, configArg, waylandDisplay, runtimeDir)
	if err := writeOut(generateOpts.output, unit); err != nil {
		return err
	}

	fmt.Println()
	if generateOpts.output != "" {
		fmt.Println("To install:")
		fmt.Printf("  cp %s ~/.config/systemd/user/\n", generateOpts.output)
		fmt.Println("  systemctl --user daemon-reload")
		fmt.Println("  systemctl --user enable --now wlddc")
	} else {
		fmt.Println("# Save to: ~/.config/systemd/user/wlddc.service")
		fmt.Println("# Then run:")
		fmt.Println("#   systemctl --user daemon-reload")
		fmt.Println("#   systemctl --user enable --now wlddc")
	}

	return nil
}

func runGenerateConfig(cmd *cobra.Command, args []string) error {
	deviceID, deviceName := deviceDefaults()
	content := fmt.Sprintf(configTemplate, deviceID, deviceName)

	if generateOpts.output != "" {
		if dir := filepath.Dir(generateOpts.output); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("unable to create %s: %w", dir, err)
			}
		}
	}

	return writeOut(generateOpts.output, content)
}

func runGenerateEnv(cmd *cobra.Command, args []string) error {
	deviceID, deviceName := deviceDefaults()

	return writeOut(generateOpts.output, fmt.Sprintf(envTemplate, deviceID, deviceName))
}

// writeOut writes content to path, or to stdout when path is empty.
func writeOut(path, content string) error {
	if path == "" {
		fmt.Print(content)
		return nil
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("unable to write %s: %w", path, err)
	}

	fmt.Printf("Written to %s\n", path)

	return nil
}

// deviceDefaults derives the example device identity from the hostname,
// "office-pc" becoming id "office_pc" and name "office-pc Monitors".
func deviceDefaults() (id, name string) {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "wlddc"
	}
	short, _, _ := strings.Cut(hostname, ".")

	return strings.ReplaceAll(strings.ToLower(short), "-", "_"), short + " Monitors"
}

// waylandEnv returns the Wayland session variables to bake into service
// files, falling back to common defaults when unset.
func waylandEnv() (display, runtimeDir string) {
	display = os.Getenv("WAYLAND_DISPLAY")
	if display == "" {
		display = "wayland-1"
	}

	runtimeDir = os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		runtimeDir = fmt.Sprintf("/run/user/%d", os.Getuid())
	}

	return display, runtimeDir
}
