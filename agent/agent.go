// Package agent runs the MQTT agent: discovery publication, command
// dispatch, periodic state polling and the reconnect loop.
package agent

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/daemon"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dennispg/wlddc/config"
	"github.com/dennispg/wlddc/ddc"
	"github.com/dennispg/wlddc/displays"
	"github.com/dennispg/wlddc/mqtt"
	"github.com/dennispg/wlddc/outputs"
)

// how long to wait after a command before reading state back
const defaultSettleDelay = 500 * time.Millisecond

// ErrNoDisplays is returned when startup discovery finds nothing to
// serve.
var ErrNoDisplays = errors.New("no displays found")

// Bus is one connected broker session as the runtime sees it.
type Bus interface {
	Publish(topic string, qos byte, retained bool, value interface{}) error
	Subscribe(topic string, qos byte, handler mqtt.Handler) error
	Lost() <-chan error
	Disconnect()
}

// PowerController switches outputs and reads their state back.
type PowerController interface {
	SetPower(ctx context.Context, name string, on bool) error
	Lookup(ctx context.Context, name string) (outputs.Output, bool)
}

// BrightnessController reads and writes brightness on a DDC bus address.
type BrightnessController interface {
	Get(ctx context.Context, bus int) (int, error)
	Set(ctx context.Context, bus, value int) error
}

type message struct {
	topic   string
	payload string
}

// Agent owns the display registry and drives the broker connection
// lifecycle around it.
type Agent struct {
	cfg     *config.Config
	version string
	topics  topics

	connect    func() (Bus, error)
	discover   func(ctx context.Context) []*displays.Display
	power      PowerController
	brightness BrightnessController
	notify     func(state string)

	settle  time.Duration
	backoff *backoff

	// registry and publish caches, guarded by mu
	mu             sync.Mutex
	displays       map[string]*displays.Display
	ids            []string
	lastPower      map[string]bool
	lastBrightness map[string]int

	readyOnce sync.Once
}

func New(cfg *config.Config, version string) *Agent {
	manager := outputs.NewManager(cfg.Agent.CommandTimeout.Duration())
	controller := ddc.NewController(cfg.Agent.DDCUtilRetries, cfg.Agent.CommandTimeout.Duration())

	overrides := make([]displays.Override, 0, len(cfg.DisplayOverrides))
	for _, o := range cfg.DisplayOverrides {
		if o.DDCBus == nil {
			continue
		}
		overrides = append(overrides, displays.Override{
			OutputName: o.OutputName,
			Bus:        *o.DDCBus,
		})
	}

	a := &Agent{
		cfg:     cfg,
		version: version,
		topics: topics{
			prefix:   cfg.HomeAssistant.DiscoveryPrefix,
			deviceID: cfg.HomeAssistant.DeviceID,
		},
		power:      manager,
		brightness: controller,
		settle:     defaultSettleDelay,
		backoff: newBackoff(
			cfg.MQTT.ReconnectInterval.Duration(),
			cfg.MQTT.ReconnectMaxInterval.Duration(),
		),
		notify: func(state string) {
			daemon.SdNotify(false, state)
		},
		displays:       map[string]*displays.Display{},
		lastPower:      map[string]bool{},
		lastBrightness: map[string]int{},
	}

	a.discover = func(ctx context.Context) []*displays.Display {
		return displays.Correlate(manager.Discover(ctx), controller.Detect(ctx), overrides)
	}
	a.connect = func() (Bus, error) {
		client, err := mqtt.Connect(mqtt.Options{
			BrokerURL: cfg.MQTT.BrokerURL(),
			ClientID:  cfg.MQTT.ClientID,
			Username:  cfg.MQTT.Username,
			Password:  cfg.MQTT.Password,
			Keepalive: cfg.MQTT.Keepalive.Duration(),
		})
		if err != nil {
			return nil, err
		}

		return client, nil
	}

	return a
}

// Run discovers displays once, then serves the broker until the context
// ends. Lost connections are reopened with exponential backoff, only an
// empty discovery result is fatal.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.discoverDisplays(ctx); err != nil {
		return err
	}

	for ctx.Err() == nil {
		err := a.session(ctx)
		if err == nil || ctx.Err() != nil {
			break
		}

		delay := a.backoff.Next()
		log.WithError(err).WithField("delay", delay.Round(time.Millisecond)).
			Error("mqtt session ended, reconnecting")

		if sleep(ctx, delay) != nil {
			break
		}
	}

	log.Info("agent shut down")

	return nil
}

// discoverDisplays runs the discovery pipeline and rebuilds the registry
// wholesale. The publish caches are left alone, identifiers that persist
// across rebuilds keep their dedup state.
func (a *Agent) discoverDisplays(ctx context.Context) error {
	log.Info("discovering displays")

	found := a.discover(ctx)

	reg := make(map[string]*displays.Display, len(found))
	ids := make([]string, 0, len(found))
	for _, d := range found {
		id := d.UniqueID()
		if _, ok := reg[id]; !ok {
			ids = append(ids, id)
		}
		reg[id] = d

		log.WithFields(log.Fields{
			"display_id": id,
			"name":       d.DisplayName(),
			"brightness": d.SupportsBrightness(),
		}).Info("discovered display")
	}

	a.mu.Lock()
	a.displays = reg
	a.ids = ids
	a.mu.Unlock()

	if len(reg) == 0 {
		return ErrNoDisplays
	}

	return nil
}

// session runs one broker connection from connect to teardown: publish
// discovery, subscribe, one full state publish, then the command and poll
// loops until either sees the connection fail.
func (a *Agent) session(ctx context.Context) error {
	bus, err := a.connect()
	if err != nil {
		return fmt.Errorf("unable to connect to mqtt: %w", err)
	}
	defer bus.Disconnect()

	a.backoff.Reset()

	if err := a.publishDiscovery(bus); err != nil {
		return fmt.Errorf("unable to publish discovery: %w", err)
	}

	msgs := make(chan message, 16)
	if err := a.subscribeCommands(bus, msgs); err != nil {
		return fmt.Errorf("unable to subscribe to commands: %w", err)
	}

	if err := a.publishAll(ctx, bus); err != nil {
		return err
	}

	a.readyOnce.Do(func() {
		a.notify(daemon.SdNotifyReady)
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.commandLoop(gctx, bus, msgs)
	})
	g.Go(func() error {
		return a.pollLoop(gctx, bus)
	})

	return g.Wait()
}

// subscribeCommands registers for the power and brightness set topics.
// The paho callback only enqueues, dispatch happens on the command loop.
func (a *Agent) subscribeCommands(bus Bus, msgs chan message) error {
	enqueue := func(topic string, payload []byte) {
		select {
		case msgs <- message{topic: topic, payload: string(payload)}:
		default:
			log.WithField("topic", topic).Warn("command queue full, dropping message")
		}
	}

	for _, filter := range []string{
		a.topics.commandFilter("switch", "power"),
		a.topics.commandFilter("number", "brightness"),
	} {
		if err := bus.Subscribe(filter, 0, enqueue); err != nil {
			return fmt.Errorf("unable to subscribe to %v: %w", filter, err)
		}
	}

	return nil
}

// commandLoop dispatches inbound commands until the connection drops or
// shutdown is requested. Malformed commands are dropped, only publish
// failures end the session.
func (a *Agent) commandLoop(ctx context.Context, bus Bus, msgs <-chan message) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-bus.Lost():
			return fmt.Errorf("connection lost: %w", err)
		case m := <-msgs:
			if err := a.handleCommand(ctx, bus, m); err != nil {
				return err
			}
		}
	}
}

func (a *Agent) handleCommand(ctx context.Context, bus Bus, m message) error {
	l := log.WithFields(log.Fields{
		"topic":   m.topic,
		"payload": m.payload,
	})
	l.Debug("received command")

	cmd, ok := a.topics.parseCommand(m.topic)
	if !ok {
		l.Debug("ignoring malformed command topic")
		return nil
	}

	a.mu.Lock()
	d, ok := a.displays[cmd.displayID]
	a.mu.Unlock()
	if !ok {
		l.WithField("display_id", cmd.displayID).Warn("unknown display")
		return nil
	}

	switch {
	case cmd.component == "switch" && cmd.entity == "power":
		on := strings.EqualFold(m.payload, "ON")
		if err := a.power.SetPower(ctx, d.Output.Name, on); err != nil {
			log.WithError(err).WithField("output", d.Output.Name).Error("unable to set power")
			return nil
		}

	case cmd.component == "number" && cmd.entity == "brightness":
		if !d.SupportsBrightness() {
			l.WithField("display_id", cmd.displayID).Warn("display does not support brightness")
			return nil
		}

		value, err := parseBrightness(m.payload)
		if err != nil {
			l.Warn("invalid brightness value")
			return nil
		}

		if err := a.brightness.Set(ctx, d.DDC.Bus, value); err != nil {
			log.WithError(err).WithField("bus", d.DDC.Bus).Error("unable to set brightness")
			return nil
		}

	default:
		l.Debug("ignoring unknown command entity")
		return nil
	}

	// let the hardware settle before reading state back
	if sleep(ctx, a.settle) != nil {
		return nil
	}

	return a.publishDisplayState(ctx, bus, cmd.displayID, d)
}

// parseBrightness accepts any numeric string, truncating a fractional
// part.
func parseBrightness(payload string) (int, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(payload), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("non-finite brightness %q", payload)
	}

	return int(f), nil
}

// pollLoop republishes every display's state at the poll interval.
func (a *Agent) pollLoop(ctx context.Context, bus Bus) error {
	ticker := time.NewTicker(a.cfg.Agent.PollInterval.Duration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := a.publishAll(ctx, bus); err != nil {
				return err
			}
		}
	}
}

// publishAll publishes state for every display and pets the systemd
// watchdog after a full successful pass.
func (a *Agent) publishAll(ctx context.Context, bus Bus) error {
	a.mu.Lock()
	ids := make([]string, len(a.ids))
	copy(ids, a.ids)
	a.mu.Unlock()

	for _, id := range ids {
		a.mu.Lock()
		d, ok := a.displays[id]
		a.mu.Unlock()
		if !ok {
			continue
		}

		if err := a.publishDisplayState(ctx, bus, id, d); err != nil {
			return err
		}
	}

	a.notify("WATCHDOG=1")

	return nil
}

// publishDisplayState publishes power, brightness and resolution for a
// single display. Power and brightness are deduplicated against the last
// successfully published value, resolution goes out on every pass.
func (a *Agent) publishDisplayState(ctx context.Context, bus Bus, id string, d *displays.Display) error {
	out, found := a.power.Lookup(ctx, d.Output.Name)

	if found {
		a.mu.Lock()
		last, seen := a.lastPower[id]
		changed := !seen || last != out.Enabled
		if changed {
			a.lastPower[id] = out.Enabled
		}
		a.mu.Unlock()

		if changed {
			state := "OFF"
			if out.Enabled {
				state = "ON"
			}

			if err := bus.Publish(a.topics.state("switch", id, "power"), 0, true, state); err != nil {
				// roll the claim back so the value goes out on the
				// next session's full publish
				a.mu.Lock()
				if seen {
					a.lastPower[id] = last
				} else {
					delete(a.lastPower, id)
				}
				a.mu.Unlock()

				return err
			}

			log.WithFields(log.Fields{
				"display_id": id,
				"power":      state,
			}).Debug("published power state")
		}
	} else {
		log.WithField("output", d.Output.Name).Debug("output gone, skipping power state")
	}

	if d.SupportsBrightness() {
		if value, err := a.brightness.Get(ctx, d.DDC.Bus); err != nil {
			log.WithError(err).WithField("display_id", id).Debug("unable to read brightness")
		} else {
			a.mu.Lock()
			last, seen := a.lastBrightness[id]
			changed := !seen || last != value
			if changed {
				a.lastBrightness[id] = value
			}
			a.mu.Unlock()

			if changed {
				if err := bus.Publish(a.topics.state("number", id, "brightness"), 0, true, value); err != nil {
					a.mu.Lock()
					if seen {
						a.lastBrightness[id] = last
					} else {
						delete(a.lastBrightness, id)
					}
					a.mu.Unlock()

					return err
				}

				log.WithFields(log.Fields{
					"display_id": id,
					"brightness": value,
				}).Debug("published brightness state")
			}
		}
	}

	if found && out.CurrentMode != "" {
		if err := bus.Publish(a.topics.state("sensor", id, "resolution"), 0, true, out.CurrentMode); err != nil {
			return err
		}
	}

	return nil
}

// sleep waits for d unless the context ends first.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
