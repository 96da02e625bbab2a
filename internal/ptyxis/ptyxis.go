// Package ptyxis registers a terminal profile for a freshly created
// container with the Ptyxis collaborator, when present. This is
// deliberately best-effort: profile creation must never fail
// CreateContainer.
//
// Grounded on compose-v2's pkg/compose/desktop.go pattern of an optional
// integration that no-ops when its counterpart isn't present; the D-Bus
// call itself uses the same conn.Object(dest, path).Call(...).Store(...)
// idiom github.com/godbus/dbus/v5 callers use elsewhere (vendored into
// jesseduffield-lazydocker via containers/podman/v5/pkg/systemd).
package ptyxis

import (
	"github.com/godbus/dbus/v5"
)

const (
	busName    = "org.gnome.Ptyxis"
	objectPath = "/org/gnome/Ptyxis"
	iface      = "org.gnome.Ptyxis"
)

// Registrar creates and removes terminal profiles for containers. NoOp
// satisfies it when Ptyxis isn't available.
type Registrar interface {
	// CreateProfile returns an opaque profile identifier for containerName,
	// or an error if Ptyxis isn't reachable.
	CreateProfile(containerName string) (string, error)
	// RemoveProfile deletes a previously created profile. Errors are
	// logged by the caller, never propagated as a container-delete
	// failure.
	RemoveProfile(profileID string) error
}

// busRegistrar talks to a live Ptyxis over the session bus.
type busRegistrar struct {
	conn *dbus.Conn
}

// Connect dials the session bus and returns a Registrar that calls Ptyxis
// over it. A nil Registrar with a non-nil error means the session bus
// could not be reached; callers should fall back to NoOp rather than fail.
// Connect does not check that Ptyxis itself is on the bus: when it is
// absent, CreateProfile and RemoveProfile return the call's error.
func Connect() (Registrar, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, err
	}
	return &busRegistrar{conn: conn}, nil
}

func (b *busRegistrar) CreateProfile(containerName string) (string, error) {
	obj := b.conn.Object(busName, dbus.ObjectPath(objectPath))
	var profileID string
	call := obj.Call(iface+".CreateProfile", 0, containerName)
	if call.Err != nil {
		return "", call.Err
	}
	if err := call.Store(&profileID); err != nil {
		return "", err
	}
	return profileID, nil
}

func (b *busRegistrar) RemoveProfile(profileID string) error {
	obj := b.conn.Object(busName, dbus.ObjectPath(objectPath))
	return obj.Call(iface+".RemoveProfile", 0, profileID).Err
}

// NoOp is the Registrar used when Ptyxis could not be reached.
type NoOp struct{}

func (NoOp) CreateProfile(string) (string, error) { return "", nil }
func (NoOp) RemoveProfile(string) error           { return nil }
