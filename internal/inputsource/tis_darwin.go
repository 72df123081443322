//go:build darwin

package inputsource

/*
#cgo LDFLAGS: -framework Carbon -framework CoreFoundation

#include <Carbon/Carbon.h>
#include <stdlib.h>
#include <string.h>

static char* copyCString(CFStringRef s) {
    if (s == NULL) {
        return NULL;
    }
    CFIndex size = CFStringGetMaximumSizeForEncoding(CFStringGetLength(s), kCFStringEncodingUTF8) + 1;
    char *buf = malloc(size);
    if (buf == NULL) {
        return NULL;
    }
    if (!CFStringGetCString(s, buf, size, kCFStringEncodingUTF8)) {
        free(buf);
        return NULL;
    }
    return buf;
}

// Returns 0 on success, -1 if no source has the id, -2 if the source list
// is unavailable, or the OSStatus of a failed select.
static int selectSourceByID(const char *id) {
    CFStringRef target = CFStringCreateWithCString(kCFAllocatorDefault, id, kCFStringEncodingUTF8);
    if (target == NULL) {
        return -2;
    }

    const void *keys[] = { kTISPropertyInputSourceID };
    const void *values[] = { target };
    CFDictionaryRef props = CFDictionaryCreate(kCFAllocatorDefault, keys, values, 1,
        &kCFTypeDictionaryKeyCallBacks, &kCFTypeDictionaryValueCallBacks);
    CFRelease(target);
    if (props == NULL) {
        return -2;
    }

    CFArrayRef list = TISCreateInputSourceList(props, true);
    CFRelease(props);
    if (list == NULL) {
        return -2;
    }
    if (CFArrayGetCount(list) == 0) {
        CFRelease(list);
        return -1;
    }

    TISInputSourceRef source = (TISInputSourceRef)CFArrayGetValueAtIndex(list, 0);
    OSStatus status = TISSelectInputSource(source);
    CFRelease(list);
    return status == noErr ? 0 : (int)status;
}

static char* currentSourceID(void) {
    TISInputSourceRef source = TISCopyCurrentKeyboardInputSource();
    if (source == NULL) {
        return NULL;
    }
    CFStringRef id = (CFStringRef)TISGetInputSourceProperty(source, kTISPropertyInputSourceID);
    char *out = copyCString(id);
    CFRelease(source);
    return out;
}

// Newline-separated ids of enabled sources that can be selected.
static char* enabledSourceIDs(void) {
    CFArrayRef list = TISCreateInputSourceList(NULL, false);
    if (list == NULL) {
        return NULL;
    }

    CFMutableStringRef joined = CFStringCreateMutable(kCFAllocatorDefault, 0);
    CFIndex n = CFArrayGetCount(list);
    for (CFIndex i = 0; i < n; i++) {
        TISInputSourceRef source = (TISInputSourceRef)CFArrayGetValueAtIndex(list, i);
        CFBooleanRef selectable = (CFBooleanRef)TISGetInputSourceProperty(source, kTISPropertyInputSourceIsSelectCapable);
        if (selectable == NULL || !CFBooleanGetValue(selectable)) {
            continue;
        }
        CFStringRef id = (CFStringRef)TISGetInputSourceProperty(source, kTISPropertyInputSourceID);
        if (id == NULL) {
            continue;
        }
        CFStringAppend(joined, id);
        CFStringAppend(joined, CFSTR("\n"));
    }
    CFRelease(list);

    char *out = copyCString(joined);
    CFRelease(joined);
    return out;
}
*/
import "C"

import (
	"context"
	"fmt"
	"strings"
	"unsafe"
)

// tisSwitcher drives Carbon Text Input Sources.
type tisSwitcher struct{}

func newTIS() (Switcher, error) {
	return tisSwitcher{}, nil
}

// Select implements Switcher.
func (tisSwitcher) Select(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cid := C.CString(id)
	defer C.free(unsafe.Pointer(cid))

	switch rc := C.selectSourceByID(cid); rc {
	case 0:
		return nil
	case -1:
		return fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	case -2:
		return fmt.Errorf("%w: input source list unavailable", ErrNotAvailable)
	default:
		return fmt.Errorf("TISSelectInputSource(%s): OSStatus %d", id, int(rc))
	}
}

// Current implements Switcher.
func (tisSwitcher) Current(ctx context.Context) (string, error) {
	cs := C.currentSourceID()
	if cs == nil {
		return "", fmt.Errorf("%w: no current keyboard input source", ErrNotAvailable)
	}
	defer C.free(unsafe.Pointer(cs))
	return C.GoString(cs), nil
}

// List implements Lister.
func (tisSwitcher) List(ctx context.Context) ([]string, error) {
	cs := C.enabledSourceIDs()
	if cs == nil {
		return nil, fmt.Errorf("%w: input source list unavailable", ErrNotAvailable)
	}
	defer C.free(unsafe.Pointer(cs))
	return strings.Fields(C.GoString(cs)), nil
}
