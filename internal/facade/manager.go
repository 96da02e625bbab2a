package facade

import (
	"context"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/frostyard/kapsule/internal/progress"
	"github.com/frostyard/kapsule/pkg/kapsuleerrors"
)

// ContainerTuple is the `(sssss)` struct ListContainers returns one of per
// container: name, status, image, creation timestamp (RFC3339), mode.
type ContainerTuple struct {
	Name      string
	Status    string
	Image     string
	CreatedAt string
	Mode      string
}

// managerAdapter is the object exported at ManagerPath under ManagerIface.
// Every method here is a thin translation from a bus call shape into a
// Container Service call — the facade's whole job per §4.5.
type managerAdapter struct {
	f *Facade
}

// CreateContainer starts an asynchronous create and returns its Operation
// path immediately.
func (m managerAdapter) CreateContainer(name, image string, sessionMode, dbusMux bool) (dbus.ObjectPath, *dbus.Error) {
	path := m.f.submit("create", name, func(ctx context.Context, r progress.Reporter) error {
		return m.f.svc.CreateContainer(ctx, r, name, image, sessionMode, dbusMux, m.f.cfg.DefaultImage)
	})
	return path, nil
}

// DeleteContainer starts an asynchronous delete.
func (m managerAdapter) DeleteContainer(name string, force bool) (dbus.ObjectPath, *dbus.Error) {
	path := m.f.submit("delete", name, func(ctx context.Context, r progress.Reporter) error {
		return m.f.svc.DeleteContainer(ctx, r, name, force)
	})
	return path, nil
}

// StartContainer starts an asynchronous start.
func (m managerAdapter) StartContainer(name string) (dbus.ObjectPath, *dbus.Error) {
	path := m.f.submit("start", name, func(ctx context.Context, r progress.Reporter) error {
		return m.f.svc.StartContainer(ctx, r, name)
	})
	return path, nil
}

// StopContainer starts an asynchronous stop.
func (m managerAdapter) StopContainer(name string, force bool) (dbus.ObjectPath, *dbus.Error) {
	path := m.f.submit("stop", name, func(ctx context.Context, r progress.Reporter) error {
		return m.f.svc.StopContainer(ctx, r, name, force)
	})
	return path, nil
}

// PrepareEnter is synchronous: no Operation is created, since the client
// must be able to replace its own process with the returned exec_args the
// instant the reply arrives. sender is filled by godbus from the message
// header, not by the remote caller, and never appears in introspection.
func (m managerAdapter) PrepareEnter(container string, command []string, sender dbus.Sender) (bool, string, []string, *dbus.Error) {
	ctx, cancel := context.WithTimeout(context.Background(), prepareEnterTimeout)
	defer cancel()

	creds, err := m.f.resolver.Resolve(ctx, string(sender))
	if err != nil {
		return false, err.Error(), nil, nil
	}

	reporter := progress.NewReporter(discardSink{})
	result := m.f.svc.PrepareEnter(ctx, reporter, container, command, creds, m.f.cfg.DefaultContainer)
	return result.Success, result.Message, result.ExecArgs, nil
}

// ListContainers is synchronous.
func (m managerAdapter) ListContainers() ([]ContainerTuple, *dbus.Error) {
	descs, err := m.f.svc.ListContainers(context.Background())
	if err != nil {
		return nil, toDBusError(err)
	}
	out := make([]ContainerTuple, 0, len(descs))
	for _, d := range descs {
		out = append(out, ContainerTuple{
			Name:      d.Name,
			Status:    string(d.Status),
			Image:     d.Image,
			CreatedAt: d.CreatedAt.Format(time.RFC3339),
			Mode:      d.Config["user.kapsule.mode"],
		})
	}
	return out, nil
}

// GetContainerInfo is synchronous.
func (m managerAdapter) GetContainerInfo(name string) (string, string, string, string, string, *dbus.Error) {
	d, err := m.f.svc.GetContainerInfo(context.Background(), name)
	if err != nil {
		return "", "", "", "", "", toDBusError(err)
	}
	return d.Name, string(d.Status), d.Image, d.CreatedAt.Format(time.RFC3339), d.Config["user.kapsule.mode"], nil
}

// GetConfig is synchronous.
func (m managerAdapter) GetConfig() (map[string]string, *dbus.Error) {
	return m.f.cfg.AsMap(), nil
}

// prepareEnterTimeout bounds the synchronous PrepareEnter call. There is
// no implicit timeout per §5 for user-facing methods in general, but
// PrepareEnter has no Operation object a client could use to cancel it, so
// the wait-ceiling family of bounds (§4.3.3 step 1, §5) applies directly
// here as the outer bound too.
const prepareEnterTimeout = 125 * time.Second

// discardSink backs PrepareEnter's reporter: the method is synchronous and
// has no subscriber, so its progress events have nowhere to go. The
// algorithm still reports through the same Reporter contract every other
// operation uses, keeping PrepareEnter's steps exercised the same way.
type discardSink struct{}

func (discardSink) Message(progress.Message)     {}
func (discardSink) Started(progress.Started)     {}
func (discardSink) Updated(progress.Updated)     {}
func (discardSink) Completed(progress.Completed) {}

// toDBusError maps a *kapsuleerrors.Error onto
// org.frostyard.Kapsule.Error.<Kind>; any other error, including one that
// merely wraps a *kapsuleerrors.Error, maps to
// org.frostyard.Kapsule.Error.Unknown.
func toDBusError(err error) *dbus.Error {
	if err == nil {
		return nil
	}
	kind := kapsuleerrors.Unknown
	if kerr, ok := err.(*kapsuleerrors.Error); ok {
		kind = kerr.Kind
	}
	return dbus.NewError("org.frostyard.Kapsule.Error."+kind.String(), []interface{}{err.Error()})
}

// managerIntrospection describes ManagerIface's methods for the
// Introspectable interface exported alongside it.
func managerIntrospection() introspect.Interface {
	return introspect.Interface{
		Name: ManagerIface,
		Methods: []introspect.Method{
			{Name: "CreateContainer", Args: []introspect.Arg{
				{Name: "name", Type: "s", Direction: "in"},
				{Name: "image", Type: "s", Direction: "in"},
				{Name: "session_mode", Type: "b", Direction: "in"},
				{Name: "dbus_mux", Type: "b", Direction: "in"},
				{Name: "operation", Type: "o", Direction: "out"},
			}},
			{Name: "DeleteContainer", Args: []introspect.Arg{
				{Name: "name", Type: "s", Direction: "in"},
				{Name: "force", Type: "b", Direction: "in"},
				{Name: "operation", Type: "o", Direction: "out"},
			}},
			{Name: "StartContainer", Args: []introspect.Arg{
				{Name: "name", Type: "s", Direction: "in"},
				{Name: "operation", Type: "o", Direction: "out"},
			}},
			{Name: "StopContainer", Args: []introspect.Arg{
				{Name: "name", Type: "s", Direction: "in"},
				{Name: "force", Type: "b", Direction: "in"},
				{Name: "operation", Type: "o", Direction: "out"},
			}},
			{Name: "PrepareEnter", Args: []introspect.Arg{
				{Name: "container", Type: "s", Direction: "in"},
				{Name: "command", Type: "as", Direction: "in"},
				{Name: "success", Type: "b", Direction: "out"},
				{Name: "message", Type: "s", Direction: "out"},
				{Name: "exec_args", Type: "as", Direction: "out"},
			}},
			{Name: "ListContainers", Args: []introspect.Arg{
				{Name: "containers", Type: "a(sssss)", Direction: "out"},
			}},
			{Name: "GetContainerInfo", Args: []introspect.Arg{
				{Name: "name", Type: "s", Direction: "in"},
				{Name: "info", Type: "sssss", Direction: "out"},
			}},
			{Name: "GetConfig", Args: []introspect.Arg{
				{Name: "config", Type: "a{ss}", Direction: "out"},
			}},
		},
		Properties: []introspect.Property{
			{Name: "Version", Type: "s", Access: "read"},
		},
	}
}
