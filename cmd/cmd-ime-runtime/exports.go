package main

/*
#include <stdbool.h>
#include <stdlib.h>
*/
import "C"

import "cmdime/internal/logging"

//export cmd_ime_initialize
func cmd_ime_initialize() (ok C.bool) {
	defer logging.Recover(nil, "cmd_ime_initialize", func() { ok = false })
	return C.bool(initialize())
}

//export cmd_ime_start_monitoring
func cmd_ime_start_monitoring() (ok C.bool) {
	defer logging.Recover(nil, "cmd_ime_start_monitoring", func() { ok = false })
	return C.bool(startMonitoring())
}

//export cmd_ime_stop_monitoring
func cmd_ime_stop_monitoring() {
	defer logging.Recover(nil, "cmd_ime_stop_monitoring", nil)
	stopMonitoring()
}

// cmd_ime_get_settings_json returns a string the caller owns and must pass
// to cmd_ime_free_c_string. NULL means the runtime is not initialized.
//
//export cmd_ime_get_settings_json
func cmd_ime_get_settings_json() (out *C.char) {
	defer logging.Recover(nil, "cmd_ime_get_settings_json", func() { out = nil })
	s, ok := settingsJSON()
	if !ok {
		return nil
	}
	cs := newOwnedCString(s)
	return cs.detach()
}

// cmd_ime_update_settings_json borrows json for the duration of the call.
//
//export cmd_ime_update_settings_json
func cmd_ime_update_settings_json(json *C.char) (ok C.bool) {
	defer logging.Recover(nil, "cmd_ime_update_settings_json", func() { ok = false })
	raw, present := goStringArg(json)
	if !present {
		logging.Default().WithComponent("boundary").Warn("update_settings_json called with NULL")
		return false
	}
	return C.bool(updateSettingsJSON(raw))
}

//export cmd_ime_reload_settings_from_disk
func cmd_ime_reload_settings_from_disk() (ok C.bool) {
	defer logging.Recover(nil, "cmd_ime_reload_settings_from_disk", func() { ok = false })
	return C.bool(reloadSettingsFromDisk())
}

// cmd_ime_free_c_string releases a string from cmd_ime_get_settings_json.
// NULL is a no-op. Freeing twice is undefined.
//
//export cmd_ime_free_c_string
func cmd_ime_free_c_string(ptr *C.char) {
	freeCString(ptr)
}
