package main

/*
#include <stdlib.h>
*/
import "C"

import "unsafe"

// ownedCString is a malloc'd, NUL-terminated copy of a Go string. Whoever
// holds it must either release it or hand it across the boundary with
// detach, after which the host frees it with cmd_ime_free_c_string.
type ownedCString struct {
	p *C.char
}

func newOwnedCString(s string) ownedCString {
	return ownedCString{p: C.CString(s)}
}

// detach gives up ownership and returns the raw pointer.
func (o *ownedCString) detach() *C.char {
	p := o.p
	o.p = nil
	return p
}

// release frees the buffer. It is safe to call after detach.
func (o *ownedCString) release() {
	freeCString(o.p)
	o.p = nil
}

func freeCString(p *C.char) {
	if p == nil {
		return
	}
	C.free(unsafe.Pointer(p))
}

// goStringArg copies a borrowed C string. ok is false for NULL.
func goStringArg(p *C.char) (s string, ok bool) {
	if p == nil {
		return "", false
	}
	return C.GoString(p), true
}
