package agent

import "strings"

// topics builds and parses the discovery topic layout under a fixed
// prefix and device group id.
type topics struct {
	prefix   string
	deviceID string
}

// config returns the retained descriptor topic for one entity, e.g.
// "homeassistant/switch/wlddc/<display>_power/config".
func (t topics) config(component, displayID, entity string) string {
	return t.prefix + "/" + component + "/" + t.deviceID + "/" + displayID + "_" + entity + "/config"
}

func (t topics) state(component, displayID, entity string) string {
	return t.prefix + "/" + component + "/" + t.deviceID + "/" + displayID + "/" + entity + "/state"
}

func (t topics) command(component, displayID, entity string) string {
	return t.prefix + "/" + component + "/" + t.deviceID + "/" + displayID + "/" + entity + "/set"
}

// commandFilter returns the subscription wildcard matching the command
// topic for every display.
func (t topics) commandFilter(component, entity string) string {
	return t.prefix + "/" + component + "/" + t.deviceID + "/+/" + entity + "/set"
}

// commandTopic is the decomposed form of an inbound command topic.
type commandTopic struct {
	component string // "switch" or "number"
	displayID string
	entity    string // "power" or "brightness"
}

// parseCommand decomposes an inbound topic. It anchors on the trailing
// "set" segment so discovery prefixes containing slashes still parse.
// Topics addressed to another device group are rejected.
func (t topics) parseCommand(topic string) (commandTopic, bool) {
	parts := strings.Split(topic, "/")
	n := len(parts)
	if n < 6 || parts[n-1] != "set" {
		return commandTopic{}, false
	}

	if parts[n-4] != t.deviceID {
		return commandTopic{}, false
	}

	return commandTopic{
		component: parts[n-5],
		displayID: parts[n-3],
		entity:    parts[n-2],
	}, true
}
