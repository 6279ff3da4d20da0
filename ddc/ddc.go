// Package ddc talks to monitor hardware over the DDC/CI control bus
// through ddcutil.
package ddc

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const defaultTool = "ddcutil"

// VCP feature code for brightness (0x0A).
const vcpBrightness = "10"

// Device is one display found on the control bus by ddcutil detect.
type Device struct {
	Number int    // 1-based ddcutil display number
	Bus    int    // I2C bus number, e.g. 7 for /dev/i2c-7
	MfgID  string // 3-letter manufacturer code, e.g. "SAM"
	Model  string
	Serial string
}

// Controller issues ddcutil commands with a per-attempt timeout and a
// bounded number of retries.
type Controller struct {
	tool       string
	retries    int
	timeout    time.Duration
	retryDelay time.Duration
}

func NewController(retries int, commandTimeout time.Duration) *Controller {
	return &Controller{
		tool:       defaultTool,
		retries:    retries,
		timeout:    commandTimeout,
		retryDelay: 500 * time.Millisecond,
	}
}

// run invokes the tool with the given args under the per-attempt timeout.
// A hit on that timeout is reported as context.DeadlineExceeded so callers
// can tell it apart from the parent context going away.
func (c *Controller) run(ctx context.Context, args ...string) ([]byte, error) {
	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := exec.CommandContext(runCtx, c.tool, args...).Output()
	l := log.WithFields(log.Fields{
		"name": c.tool,
		"args": args,
	})
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			err = context.DeadlineExceeded
		}
		l.WithError(err).Debug("failed running ddcutil")
		return out, err
	}
	l.Trace("ran ddcutil")

	return out, nil
}

// Detect lists the displays reachable over DDC. ddcutil exits non-zero
// when no display responds, so any failure degrades to an empty list.
func (c *Controller) Detect(ctx context.Context) []Device {
	out, err := c.run(ctx, "detect")
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			log.WithError(err).Error("ddcutil not found, is it installed?")
		} else {
			log.WithError(err).Warn("ddcutil detect failed, assuming no displays")
		}

		return nil
	}

	return ParseDetect(string(out))
}

var (
	busRe = regexp.MustCompile(`/dev/i2c-(\d+)`)
	mfgRe = regexp.MustCompile(`^Mfg id:\s*(\w+)`)
)

// ParseDetect turns a ddcutil detect report into device records. A record
// begins at a "Display N" header line; keyed lines below it fill in the
// fields. Records that never acquire a bus address are dropped, as are
// sections whose header index doesn't parse.
func ParseDetect(report string) []Device {
	var devs []Device
	var cur *Device

	flush := func() {
		if cur != nil && cur.Bus >= 0 {
			devs = append(devs, *cur)
		}
		cur = nil
	}

	for _, line := range strings.Split(report, "\n") {
		line = strings.TrimSpace(line)

		if strings.HasPrefix(line, "Display ") {
			flush()
			if fields := strings.Fields(line); len(fields) >= 2 {
				if num, err := strconv.Atoi(fields[1]); err == nil {
					cur = &Device{Number: num, Bus: -1}
				}
			}
			continue
		}

		if cur == nil {
			continue
		}

		switch {
		case strings.HasPrefix(line, "I2C bus:"):
			if m := busRe.FindStringSubmatch(line); m != nil {
				cur.Bus, _ = strconv.Atoi(m[1])
			}
		case strings.HasPrefix(line, "Mfg id:"):
			if m := mfgRe.FindStringSubmatch(line); m != nil {
				cur.MfgID = m[1]
			}
		case strings.HasPrefix(line, "Model:"):
			cur.Model = valueAfterColon(line)
		case strings.HasPrefix(line, "Serial number:"):
			cur.Serial = valueAfterColon(line)
		}
	}
	flush()

	return devs
}

func valueAfterColon(line string) string {
	_, after, _ := strings.Cut(line, ":")
	return strings.TrimSpace(after)
}
