// Package config loads the wlddc configuration from YAML and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for all environment overrides, with "__"
// separating the section from the key (e.g. WLDDC_MQTT__BROKER).
const EnvPrefix = "WLDDC_"

// Duration accepts YAML values given either as bare seconds (30, 2.5) or as
// Go duration strings ("30s", "2m").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var f float64
	if err := value.Decode(&f); err == nil {
		*d = Duration(time.Duration(f * float64(time.Second)))
		return nil
	}

	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration %q", value.Value)
	}

	parsed, err := parseDuration(s)
	if err != nil {
		return err
	}
	*d = parsed

	return nil
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func parseDuration(s string) (Duration, error) {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return Duration(time.Duration(f * float64(time.Second))), nil
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}

	return Duration(parsed), nil
}

// MQTTConfig holds broker connection settings.
type MQTTConfig struct {
	Broker               string   `yaml:"broker"`
	Port                 int      `yaml:"port"`
	Username             string   `yaml:"username"`
	Password             string   `yaml:"password"`
	ClientID             string   `yaml:"client_id"`
	Keepalive            Duration `yaml:"keepalive"`
	ReconnectInterval    Duration `yaml:"reconnect_interval"`
	ReconnectMaxInterval Duration `yaml:"reconnect_max_interval"`
}

// BrokerURL returns the tcp:// URL paho expects.
func (m MQTTConfig) BrokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", m.Broker, m.Port)
}

// HomeAssistantConfig holds the discovery namespace settings.
type HomeAssistantConfig struct {
	DiscoveryPrefix string `yaml:"discovery_prefix"`
	DeviceID        string `yaml:"device_id"`
	DeviceName      string `yaml:"device_name"`
}

// AgentConfig holds runtime behavior settings.
type AgentConfig struct {
	PollInterval   Duration `yaml:"poll_interval"`
	CommandTimeout Duration `yaml:"command_timeout"`
	DDCUtilRetries int      `yaml:"ddcutil_retries"`
	LogLevel       string   `yaml:"log_level"`
}

// DisplayOverride pins an output name to a specific I2C bus, consulted
// before any heuristic matching.
type DisplayOverride struct {
	OutputName string `yaml:"output_name"`
	DDCBus     *int   `yaml:"ddc_bus"`
}

// Config is the root configuration.
type Config struct {
	MQTT             MQTTConfig          `yaml:"mqtt"`
	HomeAssistant    HomeAssistantConfig `yaml:"homeassistant"`
	Agent            AgentConfig         `yaml:"agent"`
	DisplayOverrides []DisplayOverride   `yaml:"display_overrides"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker:               "localhost",
			Port:                 1883,
			ClientID:             "wlddc",
			Keepalive:            Duration(60 * time.Second),
			ReconnectInterval:    Duration(5 * time.Second),
			ReconnectMaxInterval: Duration(120 * time.Second),
		},
		HomeAssistant: HomeAssistantConfig{
			DiscoveryPrefix: "homeassistant",
			DeviceID:        "wlddc",
			DeviceName:      "Wayland Monitor Controller",
		},
		Agent: AgentConfig{
			PollInterval:   Duration(30 * time.Second),
			CommandTimeout: Duration(10 * time.Second),
			DDCUtilRetries: 2,
			LogLevel:       "info",
		},
	}
}

// Path returns the default config file path, honoring XDG_CONFIG_HOME.
func Path() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configHome = filepath.Join(home, ".config")
	}

	return filepath.Join(configHome, "wlddc", "config.yaml")
}

// searchPaths are the locations probed when no explicit path is given.
func searchPaths() []string {
	paths := []string{}
	if p := Path(); p != "" {
		paths = append(paths, p, p[:len(p)-len("yaml")]+"yml")
	}

	return append(paths, "config.yaml", "config.yml")
}

// Load reads the configuration: defaults, overlaid by the YAML file (an
// explicit path must exist; default locations are probed and skipped when
// absent), overlaid by WLDDC_* environment variables, then validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}

	if data != nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("unable to parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func readConfigFile(path string) ([]byte, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("unable to read config %s: %w", path, err)
		}

		return data, nil
	}

	for _, p := range searchPaths() {
		data, err := os.ReadFile(p)
		if err == nil {
			log.WithField("path", p).Debug("loaded config file")
			return data, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("unable to read config %s: %w", p, err)
		}
	}

	return nil, nil
}

// applyEnv overlays WLDDC_* environment variables onto the config.
func (c *Config) applyEnv() error {
	overrides := []struct {
		key string
		set func(string) error
	}{
		{"MQTT__BROKER", setString(&c.MQTT.Broker)},
		{"MQTT__PORT", setInt(&c.MQTT.Port)},
		{"MQTT__USERNAME", setString(&c.MQTT.Username)},
		{"MQTT__PASSWORD", setString(&c.MQTT.Password)},
		{"MQTT__CLIENT_ID", setString(&c.MQTT.ClientID)},
		{"MQTT__KEEPALIVE", setDuration(&c.MQTT.Keepalive)},
		{"MQTT__RECONNECT_INTERVAL", setDuration(&c.MQTT.ReconnectInterval)},
		{"MQTT__RECONNECT_MAX_INTERVAL", setDuration(&c.MQTT.ReconnectMaxInterval)},
		{"HOMEASSISTANT__DISCOVERY_PREFIX", setString(&c.HomeAssistant.DiscoveryPrefix)},
		{"HOMEASSISTANT__DEVICE_ID", setString(&c.HomeAssistant.DeviceID)},
		{"HOMEASSISTANT__DEVICE_NAME", setString(&c.HomeAssistant.DeviceName)},
		{"AGENT__POLL_INTERVAL", setDuration(&c.Agent.PollInterval)},
		{"AGENT__COMMAND_TIMEOUT", setDuration(&c.Agent.CommandTimeout)},
		{"AGENT__DDCUTIL_RETRIES", setInt(&c.Agent.DDCUtilRetries)},
		{"AGENT__LOG_LEVEL", setString(&c.Agent.LogLevel)},
	}

	for _, o := range overrides {
		value, ok := os.LookupEnv(EnvPrefix + o.key)
		if !ok {
			continue
		}
		if err := o.set(value); err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, o.key, err)
		}
	}

	return nil
}

func setString(dst *string) func(string) error {
	return func(s string) error {
		*dst = s
		return nil
	}
}

func setInt(dst *int) func(string) error {
	return func(s string) error {
		v, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("invalid integer %q", s)
		}
		*dst = v

		return nil
	}
}

func setDuration(dst *Duration) func(string) error {
	return func(s string) error {
		v, err := parseDuration(s)
		if err != nil {
			return err
		}
		*dst = v

		return nil
	}
}

// Validate checks every field against its documented bounds.
func (c *Config) Validate() error {
	var errs []error

	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.MQTT.Broker != "", "mqtt.broker must not be empty")
	check(c.MQTT.Port >= 1 && c.MQTT.Port <= 65535, "mqtt.port must be in [1, 65535], got %d", c.MQTT.Port)
	check(c.MQTT.ClientID != "", "mqtt.client_id must not be empty")
	check(inRange(c.MQTT.Keepalive, 10*time.Second, 3600*time.Second), "mqtt.keepalive must be in [10s, 1h], got %v", c.MQTT.Keepalive.Duration())
	check(inRange(c.MQTT.ReconnectInterval, 1*time.Second, 300*time.Second), "mqtt.reconnect_interval must be in [1s, 5m], got %v", c.MQTT.ReconnectInterval.Duration())
	check(inRange(c.MQTT.ReconnectMaxInterval, 5*time.Second, 600*time.Second), "mqtt.reconnect_max_interval must be in [5s, 10m], got %v", c.MQTT.ReconnectMaxInterval.Duration())
	check(c.MQTT.ReconnectMaxInterval >= c.MQTT.ReconnectInterval, "mqtt.reconnect_max_interval must not be below mqtt.reconnect_interval")
	check(c.HomeAssistant.DiscoveryPrefix != "", "homeassistant.discovery_prefix must not be empty")
	check(c.HomeAssistant.DeviceID != "", "homeassistant.device_id must not be empty")
	check(inRange(c.Agent.PollInterval, 5*time.Second, 300*time.Second), "agent.poll_interval must be in [5s, 5m], got %v", c.Agent.PollInterval.Duration())
	check(inRange(c.Agent.CommandTimeout, 1*time.Second, 60*time.Second), "agent.command_timeout must be in [1s, 1m], got %v", c.Agent.CommandTimeout.Duration())
	check(c.Agent.DDCUtilRetries >= 0 && c.Agent.DDCUtilRetries <= 5, "agent.ddcutil_retries must be in [0, 5], got %d", c.Agent.DDCUtilRetries)

	if _, err := log.ParseLevel(c.Agent.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("agent.log_level: %w", err))
	}

	for i, o := range c.DisplayOverrides {
		check(o.OutputName != "", "display_overrides[%d].output_name must not be empty", i)
		check(o.DDCBus == nil || *o.DDCBus >= 0, "display_overrides[%d].ddc_bus must not be negative", i)
	}

	return errors.Join(errs...)
}

func inRange(d Duration, lo, hi time.Duration) bool {
	return d.Duration() >= lo && d.Duration() <= hi
}
