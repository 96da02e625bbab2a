package facade

import "github.com/godbus/dbus/v5"

// busQuerier satisfies identity.BusQuerier over a live system bus
// connection: it asks org.freedesktop.DBus itself who a unique connection
// name belongs to.
type busQuerier struct {
	conn *dbus.Conn
}

func (b busQuerier) ConnectionUnixUser(sender string) (uint32, error) {
	var uid uint32
	err := b.conn.BusObject().Call("org.freedesktop.DBus.GetConnectionUnixUser", 0, sender).Store(&uid)
	return uid, err
}

func (b busQuerier) ConnectionUnixProcessID(sender string) (uint32, error) {
	var pid uint32
	err := b.conn.BusObject().Call("org.freedesktop.DBus.GetConnectionUnixProcessID", 0, sender).Store(&pid)
	return pid, err
}
