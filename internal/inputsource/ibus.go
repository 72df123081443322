package inputsource

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
)

const (
	ibusBusName    = "org.freedesktop.IBus"
	ibusObjectPath = dbus.ObjectPath("/org/freedesktop/IBus")
	ibusInterface  = "org.freedesktop.IBus"
)

// ibusSwitcher sets the IBus global engine. IBus runs its own bus, whose
// address comes from IBUS_ADDRESS or `ibus address`.
type ibusSwitcher struct {
	mu      sync.Mutex
	conn    *dbus.Conn
	address func() (string, error)
}

func newIBus() (Switcher, error) {
	return &ibusSwitcher{address: ibusAddress}, nil
}

func ibusAddress() (string, error) {
	if addr := os.Getenv("IBUS_ADDRESS"); addr != "" {
		return addr, nil
	}
	out, err := exec.Command("ibus", "address").Output()
	if err != nil {
		return "", fmt.Errorf("%w: ibus address: %v", ErrNotAvailable, err)
	}
	addr := strings.TrimSpace(string(out))
	if addr == "" || addr == "(null)" {
		return "", fmt.Errorf("%w: ibus-daemon is not running", ErrNotAvailable)
	}
	return addr, nil
}

// object returns the IBus object, connecting on first use.
func (s *ibusSwitcher) object() (dbus.BusObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil || !s.conn.Connected() {
		addr, err := s.address()
		if err != nil {
			return nil, err
		}
		conn, err := dbus.Connect(addr)
		if err != nil {
			return nil, fmt.Errorf("%w: connect to ibus: %v", ErrNotAvailable, err)
		}
		s.conn = conn
	}
	return s.conn.Object(ibusBusName, ibusObjectPath), nil
}

// drop forgets a connection that failed at the transport level.
func (s *ibusSwitcher) drop(err error) {
	var dbusErr dbus.Error
	var dbusErrPtr *dbus.Error
	if errors.As(err, &dbusErr) || errors.As(err, &dbusErrPtr) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

// Select implements Switcher.
func (s *ibusSwitcher) Select(ctx context.Context, id string) error {
	obj, err := s.object()
	if err != nil {
		return err
	}
	call := obj.CallWithContext(ctx, ibusInterface+".SetGlobalEngine", 0, id)
	if call.Err != nil {
		s.drop(call.Err)
		if isEngineNotFound(call.Err) {
			return fmt.Errorf("%w: %s", ErrSourceNotFound, id)
		}
		return fmt.Errorf("ibus SetGlobalEngine(%s): %w", id, call.Err)
	}
	return nil
}

// Current implements Switcher.
func (s *ibusSwitcher) Current(ctx context.Context) (string, error) {
	obj, err := s.object()
	if err != nil {
		return "", err
	}
	var desc dbus.Variant
	if err := obj.CallWithContext(ctx, ibusInterface+".GetGlobalEngine", 0).Store(&desc); err != nil {
		s.drop(err)
		return "", fmt.Errorf("ibus GetGlobalEngine: %w", err)
	}
	return engineName(desc)
}

// List implements Lister.
func (s *ibusSwitcher) List(ctx context.Context) ([]string, error) {
	obj, err := s.object()
	if err != nil {
		return nil, err
	}
	var descs []dbus.Variant
	if err := obj.CallWithContext(ctx, ibusInterface+".ListEngines", 0).Store(&descs); err != nil {
		s.drop(err)
		return nil, fmt.Errorf("ibus ListEngines: %w", err)
	}
	names := make([]string, 0, len(descs))
	for _, d := range descs {
		name, err := engineName(d)
		if err != nil {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// engineName extracts the name from a serialized IBusEngineDesc, which is
// a struct of (type name, attachments, name, longname, ...).
func engineName(v dbus.Variant) (string, error) {
	fields, ok := v.Value().([]interface{})
	if !ok || len(fields) < 3 {
		return "", fmt.Errorf("unexpected engine description %s", v.Signature())
	}
	if typeName, _ := fields[0].(string); typeName != "IBusEngineDesc" {
		return "", fmt.Errorf("unexpected serialized type %q", typeName)
	}
	name, ok := fields[2].(string)
	if !ok {
		return "", errors.New("engine description has no name")
	}
	return name, nil
}

func isEngineNotFound(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "find engine") || strings.Contains(msg, "no engine")
}
