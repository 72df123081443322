package main

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"cmdime/internal/config"
	"cmdime/internal/focus"
	"cmdime/internal/inputsource"
	"cmdime/internal/settings"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that monitoring and switching can work here",
	Long: `Report whether the keyboard tap can be engaged, which input source
backend is in use, the current and installed input sources, the frontmost
app, and where cmd-ime keeps its files.`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctl, err := openController(controllerOptions(), false)
	if err != nil {
		return err
	}
	defer ctl.Shutdown()

	ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
	defer cancel()

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Platform:        %s/%s\n", runtime.GOOS, runtime.GOARCH)

	if ok, reason := ctl.Tap().Available(); ok {
		check(w, "Keyboard tap", true, "available")
	} else {
		check(w, "Keyboard tap", false, reason)
	}

	fmt.Fprintf(w, "Backend:         %s\n", cfg.Switch.Backend)
	sw := ctl.Switcher()
	current, err := sw.Current(ctx)
	if err != nil {
		check(w, "Input source", false, err.Error())
	} else {
		check(w, "Input source", true, current)
	}
	if lister, ok := sw.(inputsource.Lister); ok {
		if ids, err := lister.List(ctx); err == nil {
			fmt.Fprintf(w, "Installed:       %d source(s)\n", len(ids))
			for _, id := range ids {
				fmt.Fprintf(w, "                 %s\n", id)
			}
		}
	}

	fp := controllerOptions().Focus
	if fp == nil {
		fp = focus.New()
	}
	if app, err := fp.Frontmost(ctx); err != nil {
		check(w, "Frontmost app", false, err.Error())
	} else {
		check(w, "Frontmost app", true, fmt.Sprintf("%s (%s)", app.Name, app.BundleID))
	}

	doc, err := ctl.Settings()
	if err == nil {
		v := doc.View()
		for _, m := range v.Mappings {
			state := "on"
			if !m.Enabled {
				state = "off"
			}
			fmt.Fprintf(w, "Mapping:         %s -> %s [%s]\n", m.InputKey, m.OutputSource, state)
		}
		if n := countEnabled(v.ExcludedApps); n > 0 {
			fmt.Fprintf(w, "Excluded apps:   %d\n", n)
		}
	}

	configFile := configPath
	if configFile == "" {
		configFile = config.ConfigPath()
	}
	fmt.Fprintf(w, "Config:          %s\n", configFile)
	fmt.Fprintf(w, "Settings:        %s\n", settings.NewStore(cfg.SettingsDir()).Path())
	if cfg.Journal.Enabled {
		fmt.Fprintf(w, "Journal:         %s\n", cfg.JournalPath())
	} else {
		fmt.Fprintln(w, "Journal:         disabled")
	}
	fmt.Fprintf(w, "Log:             %s\n", cfg.LogPath())
	return nil
}

func check(w io.Writer, label string, ok bool, detail string) {
	mark := "ok"
	if !ok {
		mark = "FAIL"
	}
	fmt.Fprintf(w, "%-16s %-4s %s\n", label+":", mark, detail)
}

func countEnabled(apps []settings.AppInfo) int {
	n := 0
	for _, a := range apps {
		if a.Enabled {
			n++
		}
	}
	return n
}
