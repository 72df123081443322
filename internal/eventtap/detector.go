package eventtap

import "time"

// DefaultMaxTapDuration is how long a modifier may be held and still count
// as a tap.
const DefaultMaxTapDuration = 500 * time.Millisecond

// SoloDetector recognises a modifier pressed and released on its own.
//
// A trigger fires for key K when K goes down and then up with no other
// event in between, within the hold limit. Any intervening key (⌘C) or
// modifier (⌘⇧) cancels it, so ordinary shortcuts keep working.
//
// SoloDetector is not safe for concurrent use; the dispatcher owns one.
type SoloDetector struct {
	maxHold time.Duration
	watched map[uint16]bool

	armed     bool
	pending   uint16
	pressedAt time.Time
}

// NewSoloDetector watches the given key codes.
func NewSoloDetector(maxHold time.Duration, keys ...uint16) *SoloDetector {
	if maxHold <= 0 {
		maxHold = DefaultMaxTapDuration
	}
	watched := make(map[uint16]bool, len(keys))
	for _, k := range keys {
		watched[k] = true
	}
	return &SoloDetector{maxHold: maxHold, watched: watched}
}

// Feed consumes one event and returns the key code of a completed tap.
func (d *SoloDetector) Feed(ev Event) (uint16, bool) {
	if ev.Kind == KindFlagsChanged && d.watched[ev.KeyCode] {
		if ev.Down {
			d.armed = true
			d.pending = ev.KeyCode
			d.pressedAt = ev.Time
			return 0, false
		}
		if d.armed && ev.KeyCode == d.pending {
			d.armed = false
			if ev.Time.Sub(d.pressedAt) <= d.maxHold {
				return ev.KeyCode, true
			}
			return 0, false
		}
	}

	d.armed = false
	return 0, false
}

// Reset forgets any half-seen tap.
func (d *SoloDetector) Reset() {
	d.armed = false
}
