package agent

import (
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Discovery descriptors follow the Home Assistant MQTT discovery
// convention: one retained JSON config per entity, all entities of a
// display sharing the same device block.

type deviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Model        string   `json:"model"`
	Manufacturer string   `json:"manufacturer"`
	SWVersion    string   `json:"sw_version"`
}

type switchDiscovery struct {
	Name         string     `json:"name"`
	UniqueID     string     `json:"unique_id"`
	Device       deviceInfo `json:"device"`
	StateTopic   string     `json:"state_topic"`
	CommandTopic string     `json:"command_topic"`
	PayloadOn    string     `json:"payload_on"`
	PayloadOff   string     `json:"payload_off"`
	Icon         string     `json:"icon"`
}

type numberDiscovery struct {
	Name         string     `json:"name"`
	UniqueID     string     `json:"unique_id"`
	Device       deviceInfo `json:"device"`
	StateTopic   string     `json:"state_topic"`
	CommandTopic string     `json:"command_topic"`
	Min          int        `json:"min"`
	Max          int        `json:"max"`
	Step         int        `json:"step"`
	Mode         string     `json:"mode"`
	Unit         string     `json:"unit_of_measurement"`
	Icon         string     `json:"icon"`
}

type sensorDiscovery struct {
	Name       string     `json:"name"`
	UniqueID   string     `json:"unique_id"`
	Device     deviceInfo `json:"device"`
	StateTopic string     `json:"state_topic"`
	Icon       string     `json:"icon"`
}

// publishDiscovery announces every display's entities: a power switch and
// a resolution sensor always, a brightness number when the display has a
// DDC pairing.
func (a *Agent) publishDiscovery(bus Bus) error {
	ha := a.cfg.HomeAssistant

	info := deviceInfo{
		Identifiers:  []string{ha.DeviceID},
		Name:         ha.DeviceName,
		Model:        "Wayland Monitor Controller",
		Manufacturer: "wlddc",
		SWVersion:    a.version,
	}

	publish := func(topic string, v interface{}) error {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("unable to marshal discovery config: %w", err)
		}

		return bus.Publish(topic, 0, true, string(b))
	}

	a.mu.Lock()
	ids := make([]string, len(a.ids))
	copy(ids, a.ids)
	a.mu.Unlock()

	for _, id := range ids {
		a.mu.Lock()
		d := a.displays[id]
		a.mu.Unlock()

		namePrefix := d.Output.Model
		if namePrefix == "" {
			namePrefix = d.Output.Name
		}

		err := publish(a.topics.config("switch", id, "power"), switchDiscovery{
			Name:         namePrefix + " Power",
			UniqueID:     ha.DeviceID + "_" + id + "_power",
			Device:       info,
			StateTopic:   a.topics.state("switch", id, "power"),
			CommandTopic: a.topics.command("switch", id, "power"),
			PayloadOn:    "ON",
			PayloadOff:   "OFF",
			Icon:         "mdi:monitor",
		})
		if err != nil {
			return err
		}

		if d.SupportsBrightness() {
			err := publish(a.topics.config("number", id, "brightness"), numberDiscovery{
				Name:         namePrefix + " Brightness",
				UniqueID:     ha.DeviceID + "_" + id + "_brightness",
				Device:       info,
				StateTopic:   a.topics.state("number", id, "brightness"),
				CommandTopic: a.topics.command("number", id, "brightness"),
				Min:          0,
				Max:          100,
				Step:         5,
				Mode:         "slider",
				Unit:         "%",
				Icon:         "mdi:brightness-6",
			})
			if err != nil {
				return err
			}
		}

		err = publish(a.topics.config("sensor", id, "resolution"), sensorDiscovery{
			Name:       namePrefix + " Resolution",
			UniqueID:   ha.DeviceID + "_" + id + "_resolution",
			Device:     info,
			StateTopic: a.topics.state("sensor", id, "resolution"),
			Icon:       "mdi:monitor-screenshot",
		})
		if err != nil {
			return err
		}

		log.WithField("display_id", id).Debug("published discovery configs")
	}

	log.WithField("count", len(ids)).Info("published mqtt discovery")

	return nil
}
