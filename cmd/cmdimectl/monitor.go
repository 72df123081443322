package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"cmdime/internal/config"
	"cmdime/internal/eventtap"
	"cmdime/internal/logging"
)

var monitorMetricsAddr string

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the keyboard monitor in the foreground",
	Long: `Initialize the runtime, start monitoring and switch input sources until
interrupted.

Settings edits made while it runs are picked up when settings.watch is on.
Edits to monitor.max_tap_ms in the config file apply without a restart.
With --metrics-addr, Prometheus metrics are served on /metrics.`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().StringVar(&monitorMetricsAddr, "metrics-addr", "", "serve /metrics on this address (overrides metrics.addr)")
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return monitor(ctx, cmd)
}

// monitor runs until ctx is done.
func monitor(ctx context.Context, cmd *cobra.Command) error {
	ctl, err := openController(controllerOptions(), true)
	if err != nil {
		return err
	}
	defer ctl.Shutdown()

	if err := ctl.StartMonitoringE(); err != nil {
		if errors.Is(err, eventtap.ErrPermissionDenied) {
			return fmt.Errorf("%w (grant Accessibility or input group access, then retry)", err)
		}
		return err
	}
	fmt.Fprintln(cmd.ErrOrStderr(), "Monitoring; press Ctrl-C to stop.")

	addr := monitorMetricsAddr
	if addr == "" {
		addr = cfg.Metrics.Addr
	}
	if addr != "" {
		go func() {
			defer logging.Recover(log, "metrics", nil)
			if err := ctl.Metrics().Serve(ctx, addr); err != nil {
				log.Warn("metrics endpoint stopped", "addr", addr, "error", err)
			}
		}()
		log.Info("serving metrics", "addr", addr)
	}

	path := configPath
	if path == "" {
		path = config.ConfigPath()
	}
	loader := config.NewLoader(path)
	if _, err := loader.Load(); err == nil {
		loader.OnChange(ctl.ApplyConfig)
		loader.OnError(func(err error) {
			log.Warn("config reload failed, keeping previous", "path", path, "error", err)
		})
		if err := loader.Watch(); err != nil {
			log.Debug("config watch disabled", "error", err)
		}
	}
	defer loader.Close()

	<-ctx.Done()
	return nil
}
