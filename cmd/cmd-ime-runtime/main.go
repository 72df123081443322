// cmd-ime-runtime is the runtime library linked into the cmd-ime host app.
//
// The host calls the cmd_ime_* functions declared in cmd_ime.h. One
// controller serves the whole process and is created on first use.
//
// Build the archive the Swift target links against:
//
//	go build -buildmode=c-archive -o libcmd_ime.a ./cmd/cmd-ime-runtime
//
// Or run it standalone, which initializes, starts monitoring and waits for
// SIGINT or SIGTERM:
//
//	go run ./cmd/cmd-ime-runtime
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"cmdime/internal/config"
	"cmdime/internal/logging"
	"cmdime/internal/runtime"
)

var (
	ctl     *runtime.Controller
	ctlOnce sync.Once

	// newController builds the process controller. Tests replace it.
	newController = defaultController
)

func controller() *runtime.Controller {
	ctlOnce.Do(func() {
		ctl = newController()
	})
	return ctl
}

func defaultController() *runtime.Controller {
	cfg, cfgErr := config.Load("")
	if cfgErr != nil {
		cfg = config.DefaultConfig()
		cfg.ApplyEnvOverrides()
	}

	log, err := logging.New(cfg.LoggerConfig())
	if err != nil {
		log = logging.Default()
		log.Warn("log file unavailable, logging to stderr", "error", err)
	} else {
		logging.SetDefault(log)
	}
	if cfgErr != nil {
		log.Warn("config unreadable, using defaults", "path", config.ConfigPath(), "error", cfgErr)
	}

	c := runtime.New(runtime.Options{Config: cfg, Logger: log})

	if cfg.Metrics.Addr != "" {
		go func() {
			defer logging.Recover(log, "metrics", nil)
			if err := c.Metrics().Serve(context.Background(), cfg.Metrics.Addr); err != nil {
				log.Warn("metrics endpoint stopped", "addr", cfg.Metrics.Addr, "error", err)
			}
		}()
	}
	return c
}

func initialize() bool {
	return controller().Initialize()
}

func startMonitoring() bool {
	return controller().StartMonitoring()
}

func stopMonitoring() {
	controller().StopMonitoring()
}

// settingsJSON returns the document text. ok is false before a successful
// initialize.
func settingsJSON() (string, bool) {
	s, err := controller().SettingsJSON()
	if err != nil {
		return "", false
	}
	return s, true
}

func updateSettingsJSON(raw string) bool {
	return controller().UpdateSettingsJSON(raw)
}

func reloadSettingsFromDisk() bool {
	return controller().ReloadSettingsFromDisk()
}

func main() {
	if !initialize() {
		fmt.Fprintln(os.Stderr, "cmd-ime-runtime: initialize failed, see", config.DefaultConfig().LogPath())
		os.Exit(1)
	}
	if !startMonitoring() {
		fmt.Fprintln(os.Stderr, "cmd-ime-runtime: monitoring unavailable, settings calls still served")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logging.Default().Info("shutting down", "signal", sig.String())
	controller().Shutdown()
	logging.Default().Close()
}
