package eventtap

// Device-dependent modifier bits of CGEventFlags (IOLLEvent.h). The
// device-independent masks are shared by the left and right keys, so they
// cannot tell which side was released while the other is held.
const (
	flagLeftControl  = 0x00000001
	flagLeftShift    = 0x00000002
	flagRightShift   = 0x00000004
	flagLeftCommand  = 0x00000008
	flagRightCommand = 0x00000010
	flagLeftOption   = 0x00000020
	flagRightOption  = 0x00000040
	flagRightControl = 0x00002000
)

var sideFlags = map[uint16]uint64{
	KeyControlLeft:  flagLeftControl,
	KeyShiftLeft:    flagLeftShift,
	KeyShiftRight:   flagRightShift,
	KeyCommandLeft:  flagLeftCommand,
	KeyCommandRight: flagRightCommand,
	KeyOptionLeft:   flagLeftOption,
	KeyOptionRight:  flagRightOption,
	KeyControlRight: flagRightControl,
}

// modifierDown reports whether the flags-changed event for keycode is a
// press, using the bit for that physical key.
func modifierDown(keycode uint16, flags uint64) bool {
	mask, ok := sideFlags[keycode]
	return ok && flags&mask != 0
}
