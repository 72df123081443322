// cmdimectl inspects and drives the cmd-ime runtime from a terminal.
//
// It runs the same controller the host app links, in-process, against the
// same settings file. Edits made here reach a running host through its
// settings watcher.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"cmdime/internal/config"
	"cmdime/internal/logging"
	"cmdime/internal/runtime"
)

var (
	configPath string
	logLevel   string

	cfg *config.Config
	log *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "cmdimectl",
	Short: "Control utility for the cmd-ime runtime",
	Long: `cmdimectl reads and edits cmd-ime settings, runs the keyboard monitor in
the foreground, and shows the switch journal.

The config file defaults to ~/.config/cmd-ime/config.toml, or
$CMD_IME_CONFIG_DIR/config.toml when that variable is set.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			log.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")
}

func setup(cmd *cobra.Command, args []string) error {
	c, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg = c

	lc := cfg.LoggerConfig()
	// The CLI always logs to stderr so output stays pipeable.
	lc.Output = "stderr"
	if logLevel != "" {
		level, err := logging.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		lc.Level = level
	}
	l, err := logging.New(lc)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	log = l
	logging.SetDefault(l)
	return nil
}

// openController builds and initializes a controller for one command.
// Only long-running commands watch the settings file.
func openController(opts runtime.Options, watch bool) (*runtime.Controller, error) {
	c := cfg.Clone()
	c.Settings.Watch = c.Settings.Watch && watch
	opts.Config = c
	if opts.Logger == nil {
		opts.Logger = log
	}
	ctl := runtime.New(opts)
	if err := ctl.InitializeE(); err != nil {
		return nil, fmt.Errorf("initializing runtime: %w", err)
	}
	return ctl, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
