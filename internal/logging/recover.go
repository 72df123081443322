package logging

import (
	"fmt"
	"runtime/debug"
)

// Recover logs a recovered panic with its stack. It must be deferred directly:
//
//	defer logging.Recover(log, "cmd_ime_initialize", func() { ok = false })
//
// onPanic runs after logging and may set the caller's failure result.
// A panic must never unwind through a cgo export into the host process.
func Recover(l *Logger, where string, onPanic func()) {
	v := recover()
	if v == nil {
		return
	}
	if l == nil {
		l = Default()
	}
	l.Error("panic recovered",
		"where", where,
		"panic", fmt.Sprint(v),
		"stack", string(debug.Stack()),
	)
	if onPanic != nil {
		onPanic()
	}
}
