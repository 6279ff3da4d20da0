package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDiscoveryPayloads(t *testing.T) {
	a, _, _, _, _ := testAgent(t)
	require.NoError(t, a.discoverDisplays(context.Background()))

	bus := newFakeBus()
	require.NoError(t, a.publishDiscovery(bus))

	wantDevice := deviceInfo{
		Identifiers:  []string{"wlddc"},
		Name:         "Wayland Monitor Controller",
		Model:        "Wayland Monitor Controller",
		Manufacturer: "wlddc",
		SWVersion:    "1.2.3-test",
	}

	t.Run("switch", func(t *testing.T) {
		p, ok := bus.find("homeassistant/switch/wlddc/abc123_power/config")
		require.True(t, ok)
		assert.True(t, p.retained)

		var cfg switchDiscovery
		require.NoError(t, json.Unmarshal([]byte(p.payload), &cfg))
		assert.Equal(t, switchDiscovery{
			Name:         "LU28R55 Power",
			UniqueID:     "wlddc_abc123_power",
			Device:       wantDevice,
			StateTopic:   "homeassistant/switch/wlddc/abc123/power/state",
			CommandTopic: "homeassistant/switch/wlddc/abc123/power/set",
			PayloadOn:    "ON",
			PayloadOff:   "OFF",
			Icon:         "mdi:monitor",
		}, cfg)
	})

	t.Run("number", func(t *testing.T) {
		p, ok := bus.find("homeassistant/number/wlddc/abc123_brightness/config")
		require.True(t, ok)
		assert.True(t, p.retained)

		var cfg numberDiscovery
		require.NoError(t, json.Unmarshal([]byte(p.payload), &cfg))
		assert.Equal(t, numberDiscovery{
			Name:         "LU28R55 Brightness",
			UniqueID:     "wlddc_abc123_brightness",
			Device:       wantDevice,
			StateTopic:   "homeassistant/number/wlddc/abc123/brightness/state",
			CommandTopic: "homeassistant/number/wlddc/abc123/brightness/set",
			Min:          0,
			Max:          100,
			Step:         5,
			Mode:         "slider",
			Unit:         "%",
			Icon:         "mdi:brightness-6",
		}, cfg)
	})

	t.Run("sensor", func(t *testing.T) {
		p, ok := bus.find("homeassistant/sensor/wlddc/abc123_resolution/config")
		require.True(t, ok)

		var cfg sensorDiscovery
		require.NoError(t, json.Unmarshal([]byte(p.payload), &cfg))
		assert.Equal(t, sensorDiscovery{
			Name:       "LU28R55 Resolution",
			UniqueID:   "wlddc_abc123_resolution",
			Device:     wantDevice,
			StateTopic: "homeassistant/sensor/wlddc/abc123/resolution/state",
			Icon:       "mdi:monitor-screenshot",
		}, cfg)
	})

	t.Run("power-only display", func(t *testing.T) {
		p, ok := bus.find("homeassistant/switch/wlddc/dp_3_dp_3_power/config")
		require.True(t, ok)

		var cfg switchDiscovery
		require.NoError(t, json.Unmarshal([]byte(p.payload), &cfg))
		// no model, the output name is used for the entity names
		assert.Equal(t, "DP-3 Power", cfg.Name)

		_, ok = bus.find("homeassistant/number/wlddc/dp_3_dp_3_brightness/config")
		assert.False(t, ok, "power-only display must not announce brightness")
	})
}
