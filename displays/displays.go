// Package displays fuses compositor outputs and DDC devices into unified
// display records.
package displays

import (
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/dennispg/wlddc/ddc"
	"github.com/dennispg/wlddc/outputs"
)

// Display pairs a compositor output with the DDC device driving it, when
// one could be correlated. Brightness control needs the DDC side.
type Display struct {
	Output outputs.Output
	DDC    *ddc.Device
}

func (d *Display) SupportsBrightness() bool {
	return d.DDC != nil
}

var idReplacer = strings.NewReplacer(" ", "_", "-", "_")

// UniqueID returns a stable identifier for this display, preferring the
// serial and falling back to model plus output name. The result is
// deterministic across runs for the same hardware and safe to embed in a
// topic segment.
func (d *Display) UniqueID() string {
	if d.Output.Serial != "" {
		return normalizeID(d.Output.Serial)
	}

	base := d.Output.Model
	if base == "" {
		base = d.Output.Name
	}

	return normalizeID(base + "_" + d.Output.Name)
}

// DisplayName returns a human-readable name like "LU28R55 (HDMI-A-1)".
func (d *Display) DisplayName() string {
	if d.Output.Model != "" {
		return d.Output.Model + " (" + d.Output.Name + ")"
	}

	return d.Output.Name
}

func normalizeID(s string) string {
	return idReplacer.Replace(strings.ToLower(s))
}

// Override pins an output name to a DDC bus address ahead of heuristic
// matching.
type Override struct {
	OutputName string
	Bus        int
}

// Correlate pairs every output with at most one DDC device: an override
// naming the output wins, then an exact serial match, then an exact model
// match. Each device is claimed at most once, in detection order. Outputs
// without a match still yield a power-only record.
func Correlate(outs []outputs.Output, devs []ddc.Device, overrides []Override) []*Display {
	log.WithFields(log.Fields{
		"outputs": len(outs),
		"ddc":     len(devs),
	}).Info("correlating displays")

	byOutput := make(map[string]Override, len(overrides))
	for _, o := range overrides {
		byOutput[o.OutputName] = o
	}

	used := make(map[int]bool, len(devs))
	claim := func(match func(ddc.Device) bool) *ddc.Device {
		for i := range devs {
			dev := devs[i]
			if used[dev.Number] || !match(dev) {
				continue
			}
			used[dev.Number] = true

			return &dev
		}

		return nil
	}

	correlated := make([]*Display, 0, len(outs))
	for _, out := range outs {
		var dev *ddc.Device
		how := ""

		if o, ok := byOutput[out.Name]; ok {
			dev = claim(func(d ddc.Device) bool { return d.Bus == o.Bus })
			how = "override"
		}
		if dev == nil && out.Serial != "" {
			dev = claim(func(d ddc.Device) bool { return d.Serial == out.Serial })
			how = "serial"
		}
		if dev == nil && out.Model != "" {
			dev = claim(func(d ddc.Device) bool { return d.Model == out.Model })
			how = "model"
		}

		if dev != nil {
			log.WithFields(log.Fields{
				"output": out.Name,
				"bus":    dev.Bus,
				"match":  how,
			}).Info("display matched")
		} else {
			log.WithField("output", out.Name).Warn("no ddc match, brightness control disabled")
		}

		correlated = append(correlated, &Display{Output: out, DDC: dev})
	}

	return correlated
}
