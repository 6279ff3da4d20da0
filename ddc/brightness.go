package ddc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// Get reads the current brightness in [0,100] for the display on the
// given bus. Timeouts and non-zero exits are retried up to the configured
// count, a missing tool or an unparseable report fail immediately.
func (c *Controller) Get(ctx context.Context, bus int) (int, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		out, err := c.run(ctx, "getvcp", vcpBrightness, "--bus", strconv.Itoa(bus), "--brief")
		if err == nil {
			return parseVCP(string(out))
		}

		lastErr = err
		switch {
		case errors.Is(err, exec.ErrNotFound), errors.Is(err, os.ErrNotExist):
			return 0, fmt.Errorf("unable to run %v: %w", c.tool, err)
		case ctx.Err() != nil:
			return 0, ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			log.WithField("bus", bus).Warn("ddcutil getvcp timed out")
		default:
			log.WithError(err).WithField("bus", bus).Debug("ddcutil getvcp failed")
			if attempt < c.retries {
				if err := sleep(ctx, c.retryDelay); err != nil {
					return 0, err
				}
			}
		}
	}

	return 0, fmt.Errorf("unable to get brightness on bus %v: %w", bus, lastErr)
}

// Set writes a brightness value for the display on the given bus. The
// value is clamped into [0,100] before anything is issued, out-of-range
// input is not an error. Retry behavior matches Get.
func (c *Controller) Set(ctx context.Context, bus, value int) error {
	value = clamp(value)

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		_, err := c.run(ctx, "setvcp", vcpBrightness, strconv.Itoa(value), "--bus", strconv.Itoa(bus))
		if err == nil {
			log.WithFields(log.Fields{
				"bus":   bus,
				"value": value,
			}).Info("set brightness")

			return nil
		}

		lastErr = err
		switch {
		case errors.Is(err, exec.ErrNotFound), errors.Is(err, os.ErrNotExist):
			return fmt.Errorf("unable to run %v: %w", c.tool, err)
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			log.WithField("bus", bus).Warn("ddcutil setvcp timed out")
		default:
			log.WithError(err).WithField("bus", bus).Debug("ddcutil setvcp failed")
			if attempt < c.retries {
				if err := sleep(ctx, c.retryDelay); err != nil {
					return err
				}
			}
		}
	}

	return fmt.Errorf("unable to set brightness on bus %v: %w", bus, lastErr)
}

// parseVCP extracts the current value from a brief VCP report like
// "VCP 10 C 60 100" (code, type, current, max). Some monitors drop the
// max column, then the value is the token following "C".
func parseVCP(report string) (int, error) {
	parts := strings.Fields(report)

	if len(parts) >= 4 && parts[0] == "VCP" {
		v, err := strconv.Atoi(parts[3])
		if err != nil {
			return 0, fmt.Errorf("unexpected vcp report %q: %w", report, err)
		}

		return v, nil
	}

	if len(parts) >= 3 {
		for i, p := range parts {
			if p == "C" && i+1 < len(parts) {
				v, err := strconv.Atoi(parts[i+1])
				if err != nil {
					return 0, fmt.Errorf("unexpected vcp report %q: %w", report, err)
				}

				return v, nil
			}
		}
	}

	return 0, fmt.Errorf("unexpected vcp report %q", report)
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}

	return v
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
