package displays

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dennispg/wlddc/ddc"
	"github.com/dennispg/wlddc/outputs"
)

func TestUniqueID(t *testing.T) {
	d := &Display{Output: outputs.Output{Name: "HDMI-A-1", Serial: "HNMNB 00-590"}}
	assert.Equal(t, "hnmnb_00_590", d.UniqueID())

	d = &Display{Output: outputs.Output{Name: "HDMI-A-1", Model: "LU28R55"}}
	assert.Equal(t, "lu28r55_hdmi_a_1", d.UniqueID())

	d = &Display{Output: outputs.Output{Name: "DP-3"}}
	assert.Equal(t, "dp_3_dp_3", d.UniqueID())
}

func TestDisplayName(t *testing.T) {
	d := &Display{Output: outputs.Output{Name: "HDMI-A-1", Model: "LU28R55"}}
	assert.Equal(t, "LU28R55 (HDMI-A-1)", d.DisplayName())

	d = &Display{Output: outputs.Output{Name: "DP-3"}}
	assert.Equal(t, "DP-3", d.DisplayName())
}

func TestSupportsBrightness(t *testing.T) {
	assert.False(t, (&Display{}).SupportsBrightness())
	assert.True(t, (&Display{DDC: &ddc.Device{Bus: 7}}).SupportsBrightness())
}

func TestCorrelateBySerial(t *testing.T) {
	outs := []outputs.Output{
		{Name: "HDMI-A-1", Serial: "ABC123"},
	}
	devs := []ddc.Device{
		{Number: 1, Bus: 7, Serial: "ABC123"},
		{Number: 2, Bus: 9, Serial: "XYZ"},
	}

	got := Correlate(outs, devs, nil)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].DDC)
	assert.Equal(t, 7, got[0].DDC.Bus)
}

func TestCorrelateSerialWinsOverModel(t *testing.T) {
	// The device matches the first output by serial and the second by
	// model. The serial match, evaluated first, must claim it for good.
	outs := []outputs.Output{
		{Name: "HDMI-A-1", Serial: "ABC123", Model: "OTHER"},
		{Name: "DP-1", Model: "LU28R55"},
	}
	devs := []ddc.Device{
		{Number: 1, Bus: 7, Serial: "ABC123", Model: "LU28R55"},
	}

	got := Correlate(outs, devs, nil)
	require.Len(t, got, 2)
	require.NotNil(t, got[0].DDC)
	assert.Equal(t, 7, got[0].DDC.Bus)
	assert.Nil(t, got[1].DDC)
}

func TestCorrelateDeviceClaimedOnce(t *testing.T) {
	outs := []outputs.Output{
		{Name: "HDMI-A-1", Model: "LU28R55"},
		{Name: "DP-1", Model: "LU28R55"},
		{Name: "DP-2", Model: "LU28R55"},
	}
	devs := []ddc.Device{
		{Number: 1, Bus: 7, Model: "LU28R55"},
		{Number: 2, Bus: 9, Model: "LU28R55"},
	}

	got := Correlate(outs, devs, nil)
	require.Len(t, got, 3)

	seen := map[int]bool{}
	for _, d := range got[:2] {
		require.NotNil(t, d.DDC)
		assert.False(t, seen[d.DDC.Number], "device claimed twice")
		seen[d.DDC.Number] = true
	}
	assert.Nil(t, got[2].DDC)
}

func TestCorrelateOverrideWins(t *testing.T) {
	outs := []outputs.Output{
		{Name: "HDMI-A-1", Serial: "ABC123"},
	}
	devs := []ddc.Device{
		{Number: 1, Bus: 7, Serial: "ABC123"},
		{Number: 2, Bus: 9, Serial: "XYZ"},
	}
	overrides := []Override{{OutputName: "HDMI-A-1", Bus: 9}}

	got := Correlate(outs, devs, overrides)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].DDC)
	assert.Equal(t, 9, got[0].DDC.Bus)
}

func TestCorrelateOverrideBusMissingFallsThrough(t *testing.T) {
	outs := []outputs.Output{
		{Name: "HDMI-A-1", Serial: "ABC123"},
	}
	devs := []ddc.Device{
		{Number: 1, Bus: 7, Serial: "ABC123"},
	}
	overrides := []Override{{OutputName: "HDMI-A-1", Bus: 4}}

	got := Correlate(outs, devs, overrides)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].DDC)
	assert.Equal(t, 7, got[0].DDC.Bus)
}

func TestCorrelateOverrideBusAlreadyClaimed(t *testing.T) {
	outs := []outputs.Output{
		{Name: "HDMI-A-1", Serial: "ABC123"},
		{Name: "DP-1"},
	}
	devs := []ddc.Device{
		{Number: 1, Bus: 7, Serial: "ABC123"},
	}
	overrides := []Override{{OutputName: "DP-1", Bus: 7}}

	got := Correlate(outs, devs, overrides)
	require.Len(t, got, 2)
	require.NotNil(t, got[0].DDC)
	assert.Nil(t, got[1].DDC, "claimed device must not be handed out again")
}

func TestCorrelateUnmatchedOutputKept(t *testing.T) {
	outs := []outputs.Output{
		{Name: "eDP-1", Enabled: true},
	}

	got := Correlate(outs, nil, nil)
	require.Len(t, got, 1)
	assert.Equal(t, "eDP-1", got[0].Output.Name)
	assert.False(t, got[0].SupportsBrightness())
}

func TestCorrelateNoOutputs(t *testing.T) {
	assert.Empty(t, Correlate(nil, []ddc.Device{{Number: 1, Bus: 7}}, nil))
}
