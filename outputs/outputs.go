// Package outputs discovers and controls compositor outputs through
// wlr-randr.
package outputs

import (
	"context"
	"errors"
	"os/exec"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"
)

const defaultTool = "wlr-randr"

// Output is the state of one compositor output as reported by wlr-randr.
// A fresh value is produced on every discovery call.
type Output struct {
	Name        string // connector label, e.g. "HDMI-A-1"
	Enabled     bool
	Make        string
	Model       string
	Serial      string
	CurrentMode string // e.g. "1920x1080@60Hz", empty when unknown
}

// Manager invokes wlr-randr for discovery and power control.
type Manager struct {
	tool    string
	timeout time.Duration
}

func NewManager(commandTimeout time.Duration) *Manager {
	return &Manager{
		tool:    defaultTool,
		timeout: commandTimeout,
	}
}

// run invokes the tool with the given args under the command timeout,
// returning its combined output.
func (m *Manager) run(ctx context.Context, args ...string) ([]byte, error) {
	runCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	out, err := exec.CommandContext(runCtx, m.tool, args...).CombinedOutput()
	l := log.WithFields(log.Fields{
		"name": m.tool,
		"args": args,
	})
	if err != nil {
		l.WithField("out", string(out)).Debug("failed running wlr-randr")
		return out, err
	}
	l.Trace("ran wlr-randr")

	return out, nil
}

// Discover runs output discovery and parses the report. Any tool failure is
// logged and yields an empty list, never an error.
func (m *Manager) Discover(ctx context.Context) []Output {
	out, err := m.run(ctx)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			log.WithError(err).Error("wlr-randr not found, is it installed?")
		} else {
			log.WithError(err).WithField("out", string(out)).Error("unable to discover outputs")
		}

		return nil
	}

	return Parse(string(out))
}

// currentModeRe matches mode report lines like
// "3840x2160@59.997002 Hz (preferred, current)".
var currentModeRe = regexp.MustCompile(`(\d+x\d+@[\d.]+)\s*Hz`)

// Parse turns a wlr-randr report into output records. A record starts at
// every unindented line; indented lines update the current record by key
// prefix. An output is always kept once started.
func Parse(report string) []Output {
	var outs []Output
	var cur *Output

	for _, line := range strings.Split(report, "\n") {
		if line != "" && !startsWithSpace(line) {
			if cur != nil {
				outs = append(outs, *cur)
			}

			cur = &Output{Name: strings.Fields(line)[0]}
			continue
		}

		if cur == nil {
			continue
		}

		line = strings.TrimSpace(line)
		switch {
		case line == "":
		case strings.HasPrefix(line, "Enabled:"):
			cur.Enabled = strings.Contains(strings.ToLower(line), "yes")
		case strings.HasPrefix(line, "Make:"):
			cur.Make = valueAfterColon(line)
		case strings.HasPrefix(line, "Model:"):
			cur.Model = valueAfterColon(line)
		case strings.HasPrefix(line, "Serial:"):
			cur.Serial = valueAfterColon(line)
		case strings.Contains(strings.ToLower(line), "current") && strings.Contains(line, "x"):
			if match := currentModeRe.FindStringSubmatch(line); match != nil {
				cur.CurrentMode = match[1] + "Hz"
			}
		}
	}

	if cur != nil {
		outs = append(outs, *cur)
	}

	return outs
}

func startsWithSpace(line string) bool {
	r, _ := utf8.DecodeRuneInString(line)
	return unicode.IsSpace(r)
}

func valueAfterColon(line string) string {
	_, after, _ := strings.Cut(line, ":")
	return strings.TrimSpace(after)
}
