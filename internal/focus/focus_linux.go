//go:build linux

package focus

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// xpropProvider queries the X server through xprop. Wayland sessions
// without XWayland focus information report ErrUnknown.
type xpropProvider struct {
	run func(ctx context.Context, args ...string) (string, error)
}

func newPlatformProvider() Provider {
	return &xpropProvider{run: runXprop}
}

func runXprop(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, "xprop", args...).Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Frontmost implements Provider.
func (p *xpropProvider) Frontmost(ctx context.Context) (App, error) {
	if os.Getenv("DISPLAY") == "" {
		return App{}, fmt.Errorf("%w: no X display", ErrUnknown)
	}

	out, err := p.run(ctx, "-root", "_NET_ACTIVE_WINDOW")
	if err != nil {
		return App{}, fmt.Errorf("%w: xprop: %v", ErrUnknown, err)
	}
	fields := strings.Fields(out)
	if len(fields) < 5 {
		return App{}, fmt.Errorf("%w: could not parse window id", ErrUnknown)
	}
	windowID := strings.TrimSuffix(fields[len(fields)-1], ",")
	if windowID == "0x0" {
		return App{}, ErrUnknown
	}

	out, err = p.run(ctx, "-id", windowID, "WM_CLASS", "_NET_WM_PID")
	if err != nil {
		return App{}, fmt.Errorf("%w: xprop: %v", ErrUnknown, err)
	}
	return parseWindowProps(out), nil
}

// parseWindowProps reads WM_CLASS ("instance", "class") and _NET_WM_PID
// lines from xprop output.
func parseWindowProps(out string) App {
	var app App
	for _, line := range strings.Split(out, "\n") {
		name, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)
		switch {
		case strings.HasPrefix(name, "WM_CLASS"):
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.Trim(strings.TrimSpace(parts[i]), `"`)
			}
			app.Name = parts[0]
			app.BundleID = parts[len(parts)-1]
		case strings.HasPrefix(name, "_NET_WM_PID"):
			app.PID, _ = strconv.Atoi(value)
		}
	}
	return app
}
