//go:build darwin

package eventtap

/*
#cgo LDFLAGS: -framework ApplicationServices -framework CoreFoundation

#include <ApplicationServices/ApplicationServices.h>
#include <pthread.h>
#include <unistd.h>

// Implemented in Go (tap_darwin_export.go).
extern void cmdimeTapEvent(int kind, int keycode, unsigned long long flags);

static CFMachPortRef eventTap = NULL;
static CFRunLoopSourceRef runLoopSource = NULL;
static CFRunLoopRef tapRunLoop = NULL;
static volatile int tapEnabled = 0;
static volatile int tapDisabledBySystem = 0;
static pthread_t runLoopThreadHandle;
static volatile int threadRunning = 0;

static CGEventRef tapCallback(CGEventTapProxy proxy, CGEventType type, CGEventRef event, void *refcon) {
    (void)proxy;
    (void)refcon;

    if (type == kCGEventTapDisabledByUserInput || type == kCGEventTapDisabledByTimeout) {
        tapDisabledBySystem = 1;
        if (eventTap != NULL) {
            CGEventTapEnable(eventTap, true);
        }
        return event;
    }

    int keycode = (int)CGEventGetIntegerValueField(event, kCGKeyboardEventKeycode);
    if (type == kCGEventFlagsChanged) {
        cmdimeTapEvent(0, keycode, (unsigned long long)CGEventGetFlags(event));
    } else if (type == kCGEventKeyDown) {
        cmdimeTapEvent(1, keycode, 0);
    }
    return event;
}

static void* runLoopThread(void* arg) {
    (void)arg;
    tapRunLoop = CFRunLoopGetCurrent();
    CFRunLoopAddSource(tapRunLoop, runLoopSource, kCFRunLoopCommonModes);
    CGEventTapEnable(eventTap, true);
    tapEnabled = 1;

    CFRunLoopRun();

    tapEnabled = 0;
    tapRunLoop = NULL;
    return NULL;
}

static void stopTap(void) {
    if (eventTap == NULL) {
        return;
    }
    CGEventTapEnable(eventTap, false);
    tapEnabled = 0;
    if (tapRunLoop != NULL) {
        CFRunLoopStop(tapRunLoop);
    }
    if (threadRunning) {
        pthread_join(runLoopThreadHandle, NULL);
        threadRunning = 0;
    }
    if (runLoopSource != NULL) {
        CFRelease(runLoopSource);
        runLoopSource = NULL;
    }
    CFRelease(eventTap);
    eventTap = NULL;
    tapRunLoop = NULL;
}

static int startTap(void) {
    if (eventTap != NULL) {
        return 1;
    }

    CGEventMask mask = CGEventMaskBit(kCGEventKeyDown) | CGEventMaskBit(kCGEventFlagsChanged);
    eventTap = CGEventTapCreate(
        kCGSessionEventTap,
        kCGHeadInsertEventTap,
        kCGEventTapOptionListenOnly,
        mask,
        tapCallback,
        NULL
    );
    if (eventTap == NULL) {
        return -1;
    }

    runLoopSource = CFMachPortCreateRunLoopSource(kCFAllocatorDefault, eventTap, 0);
    if (runLoopSource == NULL) {
        CFRelease(eventTap);
        eventTap = NULL;
        return -2;
    }

    threadRunning = 1;
    if (pthread_create(&runLoopThreadHandle, NULL, runLoopThread, NULL) != 0) {
        CFRelease(runLoopSource);
        CFRelease(eventTap);
        runLoopSource = NULL;
        eventTap = NULL;
        threadRunning = 0;
        return -3;
    }

    for (int i = 0; i < 100 && !tapEnabled; i++) {
        usleep(10000);
    }
    if (!tapEnabled) {
        stopTap();
        return -4;
    }
    return 0;
}

static int tapIsEnabled(void) {
    return tapEnabled;
}

static int takeTapDisabledBySystem(void) {
    int v = tapDisabledBySystem;
    tapDisabledBySystem = 0;
    return v;
}

static int isTrusted(void) {
    return AXIsProcessTrusted() ? 1 : 0;
}
*/
import "C"

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// The C tap is process-global, so only one darwinTap may be engaged.
var (
	activeMu  sync.RWMutex
	activeTap *darwinTap
)

// darwinTap uses CGEventTap in listen-only mode.
type darwinTap struct {
	stream

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	resets atomic.Int64
}

func newPlatformTap(bufferSize int) Tap {
	t := &darwinTap{}
	t.size = bufferSize
	return t
}

// Available reports whether the process is trusted for accessibility.
func (t *darwinTap) Available() (bool, string) {
	if C.isTrusted() == 1 {
		return true, "CGEventTap available"
	}
	return false, "Accessibility permission required. Open System Settings > Privacy & Security > Accessibility and enable this application."
}

// Start creates the tap and its run loop thread.
func (t *darwinTap) Start(ctx context.Context) (<-chan Event, error) {
	if C.isTrusted() != 1 {
		return nil, ErrPermissionDenied
	}

	activeMu.Lock()
	if activeTap != nil {
		activeMu.Unlock()
		return nil, ErrAlreadyRunning
	}
	ch, err := t.open()
	if err != nil {
		activeMu.Unlock()
		return nil, err
	}
	activeTap = t
	activeMu.Unlock()

	if err := startResult(C.startTap()); err != nil {
		activeMu.Lock()
		activeTap = nil
		activeMu.Unlock()
		t.close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	t.mu.Lock()
	t.cancel = cancel
	t.done = done
	t.mu.Unlock()

	go t.supervise(ctx, done)
	return ch, nil
}

func startResult(rc C.int) error {
	switch rc {
	case 0:
		return nil
	case 1:
		return ErrAlreadyRunning
	case -1:
		return ErrPermissionDenied
	case -2:
		return errors.New("create run loop source failed")
	case -3:
		return errors.New("create run loop thread failed")
	case -4:
		return errors.New("timed out waiting for event tap")
	default:
		return errors.New("event tap failed to start")
	}
}

// supervise tears the tap down when ctx ends, and notices when the
// system disables the tap for good (e.g. permission revoked).
func (t *darwinTap) supervise(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.teardown()
			return
		case <-ticker.C:
			if C.takeTapDisabledBySystem() == 1 {
				t.resets.Add(1)
			}
			if C.tapIsEnabled() != 1 {
				t.teardown()
				return
			}
		}
	}
}

func (t *darwinTap) teardown() {
	C.stopTap()

	activeMu.Lock()
	if activeTap == t {
		activeTap = nil
	}
	activeMu.Unlock()

	t.close()
}

// Stop removes the tap and waits for the run loop thread to exit.
func (t *darwinTap) Stop() error {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// deliver is called from the run loop thread.
func deliver(kind Kind, keycode uint16, down bool) {
	activeMu.RLock()
	t := activeTap
	activeMu.RUnlock()
	if t == nil {
		return
	}

	switch keycode {
	case KeyCommandLeft, KeyCommandRight,
		KeyShiftLeft, KeyShiftRight,
		KeyOptionLeft, KeyOptionRight,
		KeyControlLeft, KeyControlRight:
	default:
		keycode = KeyOther
	}
	t.emit(Event{Kind: kind, KeyCode: keycode, Down: down, Time: time.Now()})
}

var _ Tap = (*darwinTap)(nil)
