package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dennispg/wlddc/config"
	"github.com/dennispg/wlddc/ddc"
	"github.com/dennispg/wlddc/displays"
	"github.com/dennispg/wlddc/outputs"
)

var ctlOpts struct {
	display string
}

var setCmd = &cobra.Command{
	Use:   "set <value>",
	Short: "Set display brightness",
	Long: `Set display brightness over DDC/CI.

The value is a percentage between 0 and 100, with an optional % suffix.
Without --display, all DDC-capable displays are set.

Examples:
  wlddc set 50
  wlddc set 75%
  wlddc set 30 --display HDMI-A-1`,
	Args: cobra.ExactArgs(1),
	RunE: runSet,
}

var onCmd = &cobra.Command{
	Use:   "on",
	Short: "Turn display(s) on",
	Long: `Turn display(s) on.

Examples:
  wlddc on
  wlddc on --display HDMI-A-1`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPower(cmd.Context(), true)
	},
}

var offCmd = &cobra.Command{
	Use:   "off",
	Short: "Turn display(s) off",
	Long: `Turn display(s) off.

Examples:
  wlddc off
  wlddc off --display HDMI-A-1`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPower(cmd.Context(), false)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List connected displays",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Detect displays and show detailed correlation info",
	Args:  cobra.NoArgs,
	RunE:  runDetect,
}

func init() {
	rootCmd.AddCommand(setCmd, onCmd, offCmd, listCmd, detectCmd)

	for _, cmd := range []*cobra.Command{setCmd, onCmd, offCmd} {
		cmd.Flags().StringVarP(&ctlOpts.display, "display", "d", "",
			"Target specific display (output name or unique ID)")
	}
}

// pipeline bundles the tools the one-shot commands drive. They run with
// default settings, through the same discovery path the agent takes at
// startup.
type pipeline struct {
	outputs  *outputs.Manager
	ddc      *ddc.Controller
	displays []*displays.Display
}

func discoverAll(ctx context.Context) *pipeline {
	cfg := config.Default()

	p := &pipeline{
		outputs: outputs.NewManager(cfg.Agent.CommandTimeout.Duration()),
		ddc:     ddc.NewController(cfg.Agent.DDCUtilRetries, cfg.Agent.CommandTimeout.Duration()),
	}
	p.displays = displays.Correlate(p.outputs.Discover(ctx), p.ddc.Detect(ctx), nil)

	return p
}

// selectDisplays picks the targets for a one-shot command: all displays
// when target is empty, otherwise the first one whose output name or
// unique ID matches.
func selectDisplays(all []*displays.Display, target string) []*displays.Display {
	if target == "" {
		return all
	}

	for _, d := range all {
		if d.Output.Name == target || d.UniqueID() == target {
			return []*displays.Display{d}
		}
	}

	return nil
}

func runSet(cmd *cobra.Command, args []string) error {
	value, err := strconv.Atoi(strings.TrimSuffix(args[0], "%"))
	if err != nil {
		return fmt.Errorf("invalid brightness value: %s", args[0])
	}
	if value < 0 || value > 100 {
		return errors.New("brightness must be between 0 and 100")
	}

	p := discoverAll(cmd.Context())
	if len(p.displays) == 0 {
		return errors.New("no displays found")
	}

	var targets []*displays.Display
	if ctlOpts.display == "" {
		for _, d := range p.displays {
			if d.SupportsBrightness() {
				targets = append(targets, d)
			}
		}
		if len(targets) == 0 {
			return errors.New("no displays with brightness control found")
		}
	} else {
		targets = selectDisplays(p.displays, ctlOpts.display)
		if len(targets) == 0 {
			return fmt.Errorf("display not found: %s", ctlOpts.display)
		}
	}

	for _, d := range targets {
		if !d.SupportsBrightness() {
			fmt.Printf("%s: no DDC support, skipping\n", d.Output.Name)
			continue
		}

		if err := p.ddc.Set(cmd.Context(), d.DDC.Bus, value); err != nil {
			fmt.Fprintln(os.Stderr, err)
			continue
		}

		fmt.Printf("%s: set brightness to %d%%\n", d.Output.Name, value)
	}

	return nil
}

func runPower(ctx context.Context, on bool) error {
	p := discoverAll(ctx)
	if len(p.displays) == 0 {
		return errors.New("no displays found")
	}

	targets := selectDisplays(p.displays, ctlOpts.display)
	if len(targets) == 0 {
		return fmt.Errorf("display not found: %s", ctlOpts.display)
	}

	verb := "on"
	if !on {
		verb = "off"
	}

	for _, d := range targets {
		if err := p.outputs.SetPower(ctx, d.Output.Name, on); err != nil {
			fmt.Fprintln(os.Stderr, err)
			continue
		}

		fmt.Printf("%s: turned %s\n", d.Output.Name, verb)
	}

	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	p := discoverAll(cmd.Context())
	if len(p.displays) == 0 {
		return errors.New("no displays found")
	}

	for _, d := range p.displays {
		status := "off"
		if d.Output.Enabled {
			status = "on"
		}

		brightness := "no-ddc"
		if d.SupportsBrightness() {
			brightness = "ddc"
		}

		name := d.Output.Model
		if name == "" {
			name = d.Output.Name
		}

		fmt.Printf("%s  %s  %s  %s\n", d.Output.Name, status, brightness, name)
	}

	return nil
}

func runDetect(cmd *cobra.Command, args []string) error {
	p := discoverAll(cmd.Context())
	if len(p.displays) == 0 {
		fmt.Println("No displays found.")
		fmt.Println()
		fmt.Println("Troubleshooting:")
		fmt.Println("  - Ensure wlr-randr is installed")
		fmt.Println("  - Ensure you're running under a Wayland compositor")
		fmt.Println("  - Check WAYLAND_DISPLAY environment variable")

		os.Exit(1)
	}

	fmt.Printf("\nFound %d display(s):\n\n", len(p.displays))

	for _, d := range p.displays {
		fmt.Printf("%s:\n", d.Output.Name)
		fmt.Printf("  Make:    %s\n", orUnknown(d.Output.Make))
		fmt.Printf("  Model:   %s\n", orUnknown(d.Output.Model))
		fmt.Printf("  Serial:  %s\n", orUnknown(d.Output.Serial))
		fmt.Printf("  Enabled: %v\n", d.Output.Enabled)
		fmt.Printf("  Mode:    %s\n", orUnknown(d.Output.CurrentMode))

		if d.DDC != nil {
			fmt.Printf("  DDC Bus: /dev/i2c-%d\n", d.DDC.Bus)
			fmt.Println("  Brightness: supported")
		} else {
			fmt.Println("  DDC Bus: Not found")
			fmt.Println("  Brightness: NOT supported (no DDC)")
		}

		fmt.Printf("  Unique ID: %s\n", d.UniqueID())
		fmt.Println()
	}

	fmt.Println("Use these unique IDs in your Home Assistant configuration.")

	return nil
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}

	return s
}
