//go:build darwin

package eventtap

import "C"

//export cmdimeTapEvent
func cmdimeTapEvent(kind, keycode C.int, flags C.ulonglong) {
	code := uint16(keycode)
	if kind == 0 {
		deliver(KindFlagsChanged, code, modifierDown(code, uint64(flags)))
		return
	}
	deliver(KindKeyDown, code, true)
}
