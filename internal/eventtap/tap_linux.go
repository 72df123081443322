//go:build linux

package eventtap

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// evdev constants from linux/input-event-codes.h.
const (
	evKey = 0x01

	keyLeftCtrl   = 29
	keyLeftShift  = 42
	keyRightShift = 54
	keyLeftAlt    = 56
	keyRightCtrl  = 97
	keyRightAlt   = 100
	keyLeftMeta   = 125
	keyRightMeta  = 126

	valueRelease = 0
	valuePress   = 1
)

// evdevToMac maps modifier scancodes into the macOS key code space.
// Super stands in for Command.
var evdevToMac = map[uint16]uint16{
	keyLeftMeta:   KeyCommandLeft,
	keyRightMeta:  KeyCommandRight,
	keyLeftShift:  KeyShiftLeft,
	keyRightShift: KeyShiftRight,
	keyLeftAlt:    KeyOptionLeft,
	keyRightAlt:   KeyOptionRight,
	keyLeftCtrl:   KeyControlLeft,
	keyRightCtrl:  KeyControlRight,
}

// inputEventSize is sizeof(struct input_event) for this architecture.
var (
	timevalSize    = int(unsafe.Sizeof(unix.Timeval{}))
	inputEventSize = timevalSize + 8
)

// linuxTap reads keyboard devices under /dev/input.
type linuxTap struct {
	stream

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func newPlatformTap(bufferSize int) Tap {
	t := &linuxTap{}
	t.size = bufferSize
	return t
}

// Available checks whether a keyboard device can be read.
func (t *linuxTap) Available() (bool, string) {
	devices, err := findKeyboardDevices()
	if err != nil {
		return false, fmt.Sprintf("cannot find keyboard devices: %v", err)
	}
	if len(devices) == 0 {
		return false, "no keyboard devices found"
	}
	for _, dev := range devices {
		f, err := os.OpenFile(dev, os.O_RDONLY, 0)
		if err == nil {
			f.Close()
			return true, fmt.Sprintf("found keyboard device: %s", dev)
		}
	}
	return false, "cannot read keyboard devices (need to be in 'input' group or run as root)"
}

// findKeyboardDevices lists event devices with key capabilities.
func findKeyboardDevices() ([]string, error) {
	f, err := os.Open("/proc/bus/input/devices")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	seen := make(map[string]bool)
	var devices []string
	add := func(dev string) {
		if dev != "" && !seen[dev] {
			seen[dev] = true
			devices = append(devices, dev)
		}
	}

	var handler string
	keyboard := false
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "H: Handlers="):
			for _, part := range strings.Fields(line) {
				if strings.HasPrefix(part, "event") {
					handler = "/dev/input/" + part
				}
			}
		case strings.HasPrefix(line, "B: KEY="):
			// Power buttons and lid switches report a short KEY bitmap.
			keyboard = len(line) > 10
		case line == "":
			if keyboard {
				add(handler)
			}
			handler = ""
			keyboard = false
		}
	}
	if keyboard {
		add(handler)
	}

	matches, _ := filepath.Glob("/dev/input/by-id/*-kbd")
	for _, m := range matches {
		if resolved, err := filepath.EvalSymlinks(m); err == nil {
			add(resolved)
		}
	}
	return devices, scanner.Err()
}

// Start opens every readable keyboard and begins polling them.
func (t *linuxTap) Start(ctx context.Context) (<-chan Event, error) {
	devices, err := findKeyboardDevices()
	if err != nil || len(devices) == 0 {
		return nil, ErrNotAvailable
	}

	var fds []int
	denied := false
	for _, dev := range devices {
		fd, err := unix.Open(dev, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
		if err != nil {
			if errors.Is(err, unix.EACCES) || errors.Is(err, unix.EPERM) {
				denied = true
			}
			continue
		}
		fds = append(fds, fd)
	}
	if len(fds) == 0 {
		if denied {
			return nil, ErrPermissionDenied
		}
		return nil, ErrNotAvailable
	}

	ch, err := t.open()
	if err != nil {
		closeAll(fds)
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	t.mu.Lock()
	t.cancel = cancel
	t.done = done
	t.mu.Unlock()

	go t.readLoop(ctx, fds, done)
	return ch, nil
}

func closeAll(fds []int) {
	for _, fd := range fds {
		unix.Close(fd)
	}
}

// pollSet owns the open device fds once the read loop starts. Every close
// goes through drop, so an fd number is closed at most once even after the
// kernel hands it out again.
type pollSet []unix.PollFd

func newPollSet(fds []int) pollSet {
	p := make(pollSet, len(fds))
	for i, fd := range fds {
		p[i] = unix.PollFd{Fd: int32(fd), Events: unix.POLLIN}
	}
	return p
}

func (p pollSet) drop(i int) {
	if p[i].Fd < 0 {
		return
	}
	unix.Close(int(p[i].Fd))
	p[i].Fd = -1
}

func (p pollSet) closeAll() {
	for i := range p {
		p.drop(i)
	}
}

func (t *linuxTap) readLoop(ctx context.Context, fds []int, done chan struct{}) {
	defer close(done)
	defer t.close()

	pfds := newPollSet(fds)
	defer pfds.closeAll()
	buf := make([]byte, inputEventSize*64)

	for {
		if ctx.Err() != nil {
			return
		}

		n, err := unix.Poll(pfds, 200)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return
		}
		if n == 0 {
			continue
		}

		live := 0
		for i := range pfds {
			if pfds[i].Fd < 0 {
				continue
			}
			if pfds[i].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
				// Device unplugged.
				pfds.drop(i)
				continue
			}
			live++
			if pfds[i].Revents&unix.POLLIN == 0 {
				continue
			}
			nr, err := unix.Read(int(pfds[i].Fd), buf)
			if err != nil || nr < inputEventSize {
				continue
			}
			for off := 0; off+inputEventSize <= nr; off += inputEventSize {
				if ev, ok := decodeInputEvent(buf[off:off+inputEventSize], time.Now()); ok {
					t.emit(ev)
				}
			}
		}
		if live == 0 {
			return
		}
	}
}

// decodeInputEvent turns one struct input_event into an Event. Auto-repeat,
// releases of ordinary keys, and non-key events are ignored.
func decodeInputEvent(raw []byte, now time.Time) (Event, bool) {
	typ := binary.LittleEndian.Uint16(raw[timevalSize : timevalSize+2])
	code := binary.LittleEndian.Uint16(raw[timevalSize+2 : timevalSize+4])
	value := int32(binary.LittleEndian.Uint32(raw[timevalSize+4 : timevalSize+8]))

	if typ != evKey {
		return Event{}, false
	}

	if mac, ok := evdevToMac[code]; ok {
		switch value {
		case valuePress:
			return Event{Kind: KindFlagsChanged, KeyCode: mac, Down: true, Time: now}, true
		case valueRelease:
			return Event{Kind: KindFlagsChanged, KeyCode: mac, Down: false, Time: now}, true
		}
		return Event{}, false
	}

	if value == valuePress {
		return Event{Kind: KindKeyDown, KeyCode: KeyOther, Down: true, Time: now}, true
	}
	return Event{}, false
}

// Stop closes the devices and waits for the read loop.
func (t *linuxTap) Stop() error {
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

var _ Tap = (*linuxTap)(nil)
