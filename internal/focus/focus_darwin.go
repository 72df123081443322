//go:build darwin

package focus

/*
#cgo CFLAGS: -x objective-c
#cgo LDFLAGS: -framework AppKit -framework Foundation

#import <AppKit/AppKit.h>
#include <stdlib.h>
#include <string.h>

typedef struct {
    char *name;
    char *bundleID;
    int pid;
} frontApp;

static char* dupNSString(NSString *s) {
    if (s == nil) {
        return NULL;
    }
    return strdup([s UTF8String]);
}

static int frontmostApplication(frontApp *out) {
    @autoreleasepool {
        NSRunningApplication *app = [[NSWorkspace sharedWorkspace] frontmostApplication];
        if (app == nil) {
            return -1;
        }
        out->name = dupNSString([app localizedName]);
        out->bundleID = dupNSString([app bundleIdentifier]);
        out->pid = (int)[app processIdentifier];
        return 0;
    }
}
*/
import "C"

import (
	"context"
	"unsafe"
)

type workspaceProvider struct{}

func newPlatformProvider() Provider {
	return workspaceProvider{}
}

// Frontmost asks NSWorkspace for the frontmost application.
func (workspaceProvider) Frontmost(ctx context.Context) (App, error) {
	var fa C.frontApp
	if C.frontmostApplication(&fa) != 0 {
		return App{}, ErrUnknown
	}
	defer C.free(unsafe.Pointer(fa.name))
	defer C.free(unsafe.Pointer(fa.bundleID))

	app := App{PID: int(fa.pid)}
	if fa.name != nil {
		app.Name = C.GoString(fa.name)
	}
	if fa.bundleID != nil {
		app.BundleID = C.GoString(fa.bundleID)
	}
	return app, nil
}
