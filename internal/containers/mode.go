package containers

import "github.com/frostyard/kapsule/pkg/kapsuleerrors"

// Mode is a container's kapsule mode, stored as the `user.kapsule.mode`
// config key. The set is closed: Default, Session, DbusMux. The daemon
// does not branch on mode in the core paths today — it is stored metadata
// a future client-side integration can read back.
type Mode string

const (
	ModeDefault Mode = "default"
	ModeSession Mode = "session"
	ModeDbusMux Mode = "dbus-mux"
)

// ResolveMode maps the CreateContainer booleans to a Mode, rejecting the
// combination where both are set.
func ResolveMode(sessionMode, dbusMux bool) (Mode, error) {
	switch {
	case sessionMode && dbusMux:
		return "", kapsuleerrors.New(kapsuleerrors.InvalidArgument,
			"session_mode and dbus_mux cannot both be set")
	case sessionMode:
		return ModeSession, nil
	case dbusMux:
		return ModeDbusMux, nil
	default:
		return ModeDefault, nil
	}
}
