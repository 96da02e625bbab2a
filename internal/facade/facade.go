// Package facade implements the Service Facade: it owns the well-known
// bus name, exports the Manager object and one Operation object per live
// Operation, and translates inbound method calls into Container Service
// calls, splitting them into the synchronous and asynchronous halves
// §4.5 of the specification describes.
//
// Grounded on cmd/compose/compose.go's AdaptCmd/Adapt pattern of wrapping
// a typed service call behind a thin transport-facing layer; here the
// transport is github.com/godbus/dbus/v5 exported objects rather than
// Cobra subcommands.
package facade

import (
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"
	"github.com/sirupsen/logrus"

	"github.com/frostyard/kapsule/internal/config"
	"github.com/frostyard/kapsule/internal/containers"
	"github.com/frostyard/kapsule/internal/engine"
	"github.com/frostyard/kapsule/internal/identity"
)

// shutdownDeadline bounds how long Close waits for live Operations to
// reach a terminal state once cancelled.
const shutdownDeadline = 5 * time.Second

// BusName is the well-known name the daemon owns on the system bus.
const BusName = "org.frostyard.Kapsule"

// ManagerPath is the fixed object path of the Manager interface.
const ManagerPath = dbus.ObjectPath("/org/frostyard/Kapsule")

// ManagerIface is the Manager interface name.
const ManagerIface = "org.frostyard.Kapsule.Manager"

// OperationIface is the Operation interface name.
const OperationIface = "org.frostyard.Kapsule.Operation"

// Version is reported through the Manager's read-only Version property.
var Version = "0.1.0"

// Facade owns the bus connection and every exported object's lifetime.
type Facade struct {
	conn     *dbus.Conn
	svc      *containers.Service
	eng      *engine.Engine
	cfg      *config.Config
	resolver *identity.Resolver

	mu    sync.Mutex
	props map[string]*prop.Properties
}

// New constructs a Facade. Connect must be called before it does anything
// on the bus.
func New(svc *containers.Service, cfg *config.Config) *Facade {
	f := &Facade{
		svc:   svc,
		cfg:   cfg,
		props: make(map[string]*prop.Properties),
	}
	f.eng = engine.New(f.sinkFor)
	return f
}

// Connect dials the system bus, requests BusName, and exports the Manager
// object. It fails if the name is already owned by another process.
func (f *Facade) Connect() error {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return fmt.Errorf("connect to system bus: %w", err)
	}
	f.conn = conn
	f.resolver = identity.New(busQuerier{conn})

	reply, err := conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("request bus name %s: %w", BusName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("bus name %s is already owned", BusName)
	}

	if err := conn.Export(managerAdapter{f}, ManagerPath, ManagerIface); err != nil {
		return fmt.Errorf("export Manager: %w", err)
	}
	versionProps, err := prop.Export(conn, ManagerPath, prop.Map{
		ManagerIface: {
			"Version": {
				Value:    Version,
				Writable: false,
				Emit:     prop.EmitFalse,
				Callback: nil,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("export Manager properties: %w", err)
	}
	f.props[string(ManagerPath)] = versionProps

	node := &introspect.Node{
		Name: string(ManagerPath),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			prop.IntrospectData,
			managerIntrospection(),
		},
	}
	if err := conn.Export(introspect.NewIntrospectable(node), ManagerPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("export Manager introspection: %w", err)
	}

	logrus.WithField("bus_name", BusName).Info("kapsule daemon owns bus name")
	return nil
}

// Close cancels every live Operation, gives them a short deadline to reach
// a terminal state, then releases the bus name and closes the connection.
func (f *Facade) Close() error {
	f.eng.Shutdown(shutdownDeadline)
	if f.conn == nil {
		return nil
	}
	if _, err := f.conn.ReleaseName(BusName); err != nil {
		logrus.WithError(err).Warn("release bus name failed")
	}
	return f.conn.Close()
}

// operationPath returns the exported path for Operation id.
func operationPath(id string) dbus.ObjectPath {
	return dbus.ObjectPath(fmt.Sprintf("%s/operations/%s", ManagerPath, id))
}

// submit wraps svc work in an engine.WorkFunc, exports the resulting
// Operation on the bus before returning, and reports its path. Per §4.5/§5
// the Operation object is published before the caller ever sees the path.
func (f *Facade) submit(opType, target string, work engine.WorkFunc) dbus.ObjectPath {
	op := f.eng.Submit(opType, target, work)
	f.exportOperation(op)
	return operationPath(op.ID)
}

