package ddc

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const detectReport = `Display 1
   I2C bus:  /dev/i2c-7
   DRM connector:           card1-HDMI-A-1
   EDID synopsis:
      Mfg id:               SAM - Samsung Electric Company
      Model:                LU28R55
      Product code:         29022
      Serial number:        HNMNB00590
      Manufacture year:     2019,  Week: 16
   VCP version:         2.1

Display 2
   I2C bus:  /dev/i2c-9
   EDID synopsis:
      Mfg id:               DEL - Dell Inc.
      Model:                DELL U2720Q
      Serial number:        ABCDEF
   VCP version:         2.1
`

func TestParseDetect(t *testing.T) {
	t.Run("two displays", func(t *testing.T) {
		devs := ParseDetect(detectReport)
		require.Len(t, devs, 2)

		assert.Equal(t, Device{
			Number: 1,
			Bus:    7,
			MfgID:  "SAM",
			Model:  "LU28R55",
			Serial: "HNMNB00590",
		}, devs[0])

		assert.Equal(t, Device{
			Number: 2,
			Bus:    9,
			MfgID:  "DEL",
			Model:  "DELL U2720Q",
			Serial: "ABCDEF",
		}, devs[1])
	})

	t.Run("empty report", func(t *testing.T) {
		assert.Empty(t, ParseDetect(""))
	})

	t.Run("invalid section before first display is skipped", func(t *testing.T) {
		report := `Invalid display
   I2C bus:  /dev/i2c-4
   DDC communication failed

Display 1
   I2C bus:  /dev/i2c-7
   EDID synopsis:
      Serial number:        HNMNB00590
`
		devs := ParseDetect(report)
		require.Len(t, devs, 1)
		assert.Equal(t, 7, devs[0].Bus)
	})

	t.Run("display without bus address is dropped", func(t *testing.T) {
		report := `Display 1
   EDID synopsis:
      Model:                LU28R55

Display 2
   I2C bus:  /dev/i2c-9
`
		devs := ParseDetect(report)
		require.Len(t, devs, 1)
		assert.Equal(t, 2, devs[0].Number)

		assert.Empty(t, ParseDetect("Display 1\n   Model: X\n"))
	})

	t.Run("unparseable display index is skipped", func(t *testing.T) {
		assert.Empty(t, ParseDetect("Display one\n   I2C bus: /dev/i2c-3\n"))
	})
}

func TestParseVCP(t *testing.T) {
	for _, tc := range []struct {
		report string
		value  int
		fails  bool
	}{
		{report: "VCP 10 C 60 100", value: 60},
		{report: "VCP 10 C 0 100", value: 0},
		{report: "VCP 10 C 60", value: 60},
		{report: "10 C 42", value: 42},
		{report: "VCP 10 C banana 100", fails: true},
		{report: "ERR something", fails: true},
		{report: "", fails: true},
	} {
		v, err := parseVCP(tc.report)
		if tc.fails {
			assert.Error(t, err, tc.report)
		} else {
			assert.NoError(t, err, tc.report)
			assert.Equal(t, tc.value, v, tc.report)
		}
	}
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0, clamp(-5))
	assert.Equal(t, 0, clamp(0))
	assert.Equal(t, 42, clamp(42))
	assert.Equal(t, 100, clamp(100))
	assert.Equal(t, 100, clamp(150))
}

// fakeDDC writes a shell script standing in for ddcutil. Every invocation
// appends its arguments to an args file so tests can count attempts.
func fakeDDC(t *testing.T, body string) (tool, argsFile string) {
	t.Helper()

	dir := t.TempDir()
	tool = filepath.Join(dir, "ddcutil")
	argsFile = filepath.Join(dir, "args")

	script := "#!/bin/sh\necho \"$@\" >> \"" + argsFile + "\"\n" + body + "\n"
	require.NoError(t, os.WriteFile(tool, []byte(script), 0o755))

	return tool, argsFile
}

func attempts(t *testing.T, argsFile string) []string {
	t.Helper()

	data, err := os.ReadFile(argsFile)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)

	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func testController(tool string) *Controller {
	c := NewController(2, 5*time.Second)
	c.tool = tool
	c.retryDelay = time.Millisecond

	return c
}

func TestControllerGet(t *testing.T) {
	tool, argsFile := fakeDDC(t, `echo "VCP 10 C 60 100"`)
	c := testController(tool)

	v, err := c.Get(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 60, v)

	calls := attempts(t, argsFile)
	require.Len(t, calls, 1)
	assert.Equal(t, "getvcp 10 --bus 7 --brief", calls[0])
}

func TestControllerGetToolMissing(t *testing.T) {
	c := testController("ddcutil-does-not-exist")
	c.retryDelay = time.Hour // a retry would hang the test

	_, err := c.Get(context.Background(), 7)
	require.Error(t, err)
	assert.ErrorIs(t, err, exec.ErrNotFound)
}

func TestControllerGetRetriesOnExitError(t *testing.T) {
	tool, argsFile := fakeDDC(t, "exit 1")
	c := testController(tool)

	_, err := c.Get(context.Background(), 7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unable to get brightness on bus 7")
	assert.Len(t, attempts(t, argsFile), 3) // initial try plus two retries
}

func TestControllerGetRetriesOnTimeout(t *testing.T) {
	tool, argsFile := fakeDDC(t, "exec sleep 5")
	c := testController(tool)
	c.retries = 1
	c.timeout = 50 * time.Millisecond

	start := time.Now()
	_, err := c.Get(context.Background(), 7)
	require.Error(t, err)
	assert.Len(t, attempts(t, argsFile), 2)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestControllerGetUnparseableIsTerminal(t *testing.T) {
	tool, argsFile := fakeDDC(t, `echo "something went sideways"`)
	c := testController(tool)

	_, err := c.Get(context.Background(), 7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected vcp report")
	assert.Len(t, attempts(t, argsFile), 1)
}

func TestControllerSet(t *testing.T) {
	tool, argsFile := fakeDDC(t, "")
	c := testController(tool)

	require.NoError(t, c.Set(context.Background(), 7, 42))

	calls := attempts(t, argsFile)
	require.Len(t, calls, 1)
	assert.Equal(t, "setvcp 10 42 --bus 7", calls[0])
}

func TestControllerSetClampsValue(t *testing.T) {
	tool, argsFile := fakeDDC(t, "")
	c := testController(tool)

	require.NoError(t, c.Set(context.Background(), 7, 150))
	require.NoError(t, c.Set(context.Background(), 7, -5))

	calls := attempts(t, argsFile)
	require.Len(t, calls, 2)
	assert.Equal(t, "setvcp 10 100 --bus 7", calls[0])
	assert.Equal(t, "setvcp 10 0 --bus 7", calls[1])
}

func TestControllerSetExhaustsRetries(t *testing.T) {
	tool, argsFile := fakeDDC(t, "exit 1")
	c := testController(tool)

	err := c.Set(context.Background(), 7, 50)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unable to set brightness on bus 7")
	assert.Len(t, attempts(t, argsFile), 3)
}

func TestControllerDetect(t *testing.T) {
	tool, _ := fakeDDC(t, `cat <<'EOF'
`+detectReport+`EOF`)
	c := testController(tool)

	devs := c.Detect(context.Background())
	require.Len(t, devs, 2)
	assert.Equal(t, 7, devs[0].Bus)
}

func TestControllerDetectNonZeroExit(t *testing.T) {
	tool, _ := fakeDDC(t, "exit 1")
	c := testController(tool)

	assert.Empty(t, c.Detect(context.Background()))
}
