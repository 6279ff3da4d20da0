package outputs

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// SetPower enables or disables the named output. A single attempt is made,
// failures are returned to the caller.
func (m *Manager) SetPower(ctx context.Context, name string, on bool) error {
	arg := "--off"
	if on {
		arg = "--on"
	}

	out, err := m.run(ctx, "--output", name, arg)
	if err != nil {
		return fmt.Errorf("unable to set power on %v: %w (%s)", name, err, out)
	}

	log.WithFields(log.Fields{
		"output": name,
		"on":     on,
	}).Info("set output power")

	return nil
}

// Lookup re-runs discovery and returns the current record for the named
// output, or false when the output is gone.
func (m *Manager) Lookup(ctx context.Context, name string) (Output, bool) {
	for _, o := range m.Discover(ctx) {
		if o.Name == name {
			return o, true
		}
	}

	return Output{}, false
}

// Enabled reports whether the named output is currently enabled. The second
// return is false when the output can't be found at all.
func (m *Manager) Enabled(ctx context.Context, name string) (bool, bool) {
	o, ok := m.Lookup(ctx, name)
	if !ok {
		return false, false
	}

	return o.Enabled, true
}
