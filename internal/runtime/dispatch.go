package runtime

import (
	"context"
	"time"

	"cmdime/internal/eventtap"
	"cmdime/internal/journal"
	"cmdime/internal/logging"
	"cmdime/internal/settings"
)

// switchTimeout bounds one Select call including retries.
const switchTimeout = 2 * time.Second

var inputKeyCodes = map[string]uint16{
	settings.InputKeyCommandLeft:  eventtap.KeyCommandLeft,
	settings.InputKeyCommandRight: eventtap.KeyCommandRight,
}

func inputKeyName(code uint16) string {
	switch code {
	case eventtap.KeyCommandLeft:
		return settings.InputKeyCommandLeft
	case eventtap.KeyCommandRight:
		return settings.InputKeyCommandRight
	default:
		return "unknown"
	}
}

// dispatchTable is the compiled form of the settings that the event path
// reads. It is immutable once built.
type dispatchTable struct {
	sources  map[uint16]string
	excluded map[string]bool
}

// compileTable builds the table from v. The first enabled mapping for a key
// wins. Unknown input keys fall back to Command_L.
func compileTable(v settings.View, log *logging.Logger) *dispatchTable {
	t := &dispatchTable{
		sources:  make(map[uint16]string, len(v.Mappings)),
		excluded: make(map[string]bool, len(v.ExcludedApps)),
	}

	for _, m := range v.Mappings {
		code, ok := inputKeyCodes[m.InputKey]
		if !ok {
			code = eventtap.KeyCommandLeft
			if log != nil {
				log.Warn("unknown input key, using Command_L", "input_key", m.InputKey)
			}
		}
		if !m.Enabled {
			continue
		}
		if _, taken := t.sources[code]; !taken {
			t.sources[code] = m.OutputSource
		}
	}

	for _, app := range v.ExcludedApps {
		if app.Enabled {
			t.excluded[app.BundleID] = true
		}
	}
	return t
}

// dispatch is the single worker between the tap and the switcher.
func (c *Controller) dispatch(ctx context.Context, events <-chan eventtap.Event) {
	defer c.wg.Done()
	defer logging.Recover(c.log, "dispatch", nil)

	maxTap := c.MaxTapDuration()
	detector := eventtap.NewSoloDetector(maxTap, eventtap.KeyCommandLeft, eventtap.KeyCommandRight)
	lastDropped := c.tap.Dropped()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				// Not holding monitorMu here: StopMonitoring holds it while
				// waiting for this goroutine.
				if ctx.Err() == nil {
					go c.tapClosed(ctx)
				}
				return
			}
			if d := c.MaxTapDuration(); d != maxTap {
				maxTap = d
				detector = eventtap.NewSoloDetector(maxTap, eventtap.KeyCommandLeft, eventtap.KeyCommandRight)
			}
			if d := c.tap.Dropped(); d > lastDropped {
				c.metrics.RecordDropped(d - lastDropped)
				c.log.Debug("keyboard events dropped", "count", d-lastDropped)
				lastDropped = d
				// The sequence has a gap, so a pending tap is not trustworthy.
				detector.Reset()
			}
			if key, fired := detector.Feed(ev); fired {
				c.trigger(ctx, key)
			}
		}
	}
}

// trigger handles one recognised tap.
func (c *Controller) trigger(ctx context.Context, key uint16) {
	table := c.table.Load()
	source, ok := table.sources[key]
	if !ok {
		return
	}

	inputKey := inputKeyName(key)
	c.metrics.RecordTrigger(inputKey)
	rec := journal.Switch{KeyCode: key, InputKey: inputKey, Source: source}

	if len(table.excluded) > 0 {
		app, err := c.focus.Frontmost(ctx)
		if err != nil {
			c.log.Debug("frontmost app unknown", "error", err)
		} else {
			rec.App = app.BundleID
			if table.excluded[app.BundleID] {
				rec.Result = journal.ResultExcluded
				c.metrics.RecordSwitch(rec.Result, 0)
				c.log.Debug("switch suppressed in excluded app", "app", app.BundleID)
				c.recordSwitch(rec)
				return
			}
		}
	}

	sctx, cancel := context.WithTimeout(ctx, switchTimeout)
	defer cancel()

	start := time.Now()
	err := c.switcher.Select(sctx, source)
	elapsed := time.Since(start)

	if err != nil {
		rec.Result = journal.ResultFailed
		rec.Error = err.Error()
		c.metrics.RecordSwitch(rec.Result, 0)
		c.log.Warn("input source switch failed", "input_key", inputKey, "source", source, "error", err)
	} else {
		rec.Result = journal.ResultSwitched
		c.metrics.RecordSwitch(rec.Result, elapsed)
		c.log.Debug("input source switched", "input_key", inputKey, "source", source, "elapsed", elapsed)
	}
	c.recordSwitch(rec)
}

func (c *Controller) recordSwitch(rec journal.Switch) {
	j := c.journal.Load()
	if j == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := j.RecordSwitch(ctx, rec); err != nil {
		c.log.Warn("journal switch failed", "error", err)
	}
}
