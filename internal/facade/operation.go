package facade

import (
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"

	"github.com/frostyard/kapsule/internal/engine"
	"github.com/frostyard/kapsule/internal/logging"
	"github.com/frostyard/kapsule/internal/progress"
)

// operationAdapter is the object exported per live Operation under
// OperationIface; its only method is Cancel.
type operationAdapter struct {
	op *engine.Operation
}

// Cancel arms the Operation's cancellation token. A no-op past terminal
// state, per §4.2.
func (a operationAdapter) Cancel() *dbus.Error {
	a.op.Cancel()
	return nil
}

// sinkFor is the engine.SinkFactory bound to this Facade's connection: it
// fans an Operation's progress events out as bus signals on its path.
func (f *Facade) sinkFor(op *engine.Operation) progress.Sink {
	return busSink{conn: f.conn, path: operationPath(op.ID)}
}

// busSink emits one Operation's progress events as Message/ProgressStarted/
// ProgressUpdate/ProgressCompleted signals, per §6.
type busSink struct {
	conn *dbus.Conn
	path dbus.ObjectPath
}

func (s busSink) Message(m progress.Message) {
	_ = s.conn.Emit(s.path, OperationIface+".Message", int32(m.Kind), m.Text, int32(m.Indent))
}

func (s busSink) Started(e progress.Started) {
	_ = s.conn.Emit(s.path, OperationIface+".ProgressStarted", e.ID, e.Description, e.Total, int32(e.Indent))
}

func (s busSink) Updated(e progress.Updated) {
	_ = s.conn.Emit(s.path, OperationIface+".ProgressUpdate", e.ID, e.Current, e.Rate)
}

func (s busSink) Completed(e progress.Completed) {
	_ = s.conn.Emit(s.path, OperationIface+".ProgressCompleted", e.ID, e.Success, e.Message)
}

// exportOperation publishes op's object on the bus — before Submit's
// caller ever sees the path, satisfying §4.5/§5's no-race guarantee — and
// arranges for it to unpublish itself one linger past terminal state.
func (f *Facade) exportOperation(op *engine.Operation) {
	path := operationPath(op.ID)

	log := logging.ForOperation(op.ID, op.Type, op.Target)

	if err := f.conn.Export(operationAdapter{op: op}, path, OperationIface); err != nil {
		log.WithError(err).Error("export operation object")
		return
	}

	props, err := prop.Export(f.conn, path, prop.Map{
		OperationIface: {
			"Id":     {Value: op.ID, Writable: false, Emit: prop.EmitFalse},
			"Type":   {Value: op.Type, Writable: false, Emit: prop.EmitFalse},
			"Target": {Value: op.Target, Writable: false, Emit: prop.EmitFalse},
			"Status": {Value: op.Status().String(), Writable: false, Emit: prop.EmitTrue},
		},
	})
	if err != nil {
		log.WithError(err).Error("export operation properties")
		return
	}

	node := &introspect.Node{
		Name: string(path),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			prop.IntrospectData,
			operationIntrospection(),
		},
	}
	_ = f.conn.Export(introspect.NewIntrospectable(node), path, "org.freedesktop.DBus.Introspectable")

	f.mu.Lock()
	f.props[string(path)] = props
	f.mu.Unlock()

	log.Info("operation published")
	go f.awaitTerminal(op, path, props)
}

// awaitTerminal blocks until op finishes, emits the Completed signal
// exactly once, and unpublishes the object after LingerDuration so slow
// subscribers can still observe the final Status (§4.2, §7).
func (f *Facade) awaitTerminal(op *engine.Operation, path dbus.ObjectPath, props *prop.Properties) {
	<-op.Done()

	status := op.Status()
	props.SetMust(OperationIface, "Status", status.String())

	success := status == engine.Completed
	errMsg := ""
	if resultErr := op.Err(); resultErr != nil {
		errMsg = resultErr.Error()
	}
	log := logging.ForOperation(op.ID, op.Type, op.Target).WithField("status", status.String())
	if success {
		log.Info("operation completed")
	} else {
		log.WithField("error", errMsg).Warn("operation did not complete successfully")
	}
	_ = f.conn.Emit(path, OperationIface+".Completed", success, errMsg)

	time.AfterFunc(engine.LingerDuration, func() {
		f.conn.Export(nil, path, OperationIface)
		f.conn.Export(nil, path, "org.freedesktop.DBus.Properties")
		f.conn.Export(nil, path, "org.freedesktop.DBus.Introspectable")
		f.mu.Lock()
		delete(f.props, string(path))
		f.mu.Unlock()
	})
}

func operationIntrospection() introspect.Interface {
	return introspect.Interface{
		Name: OperationIface,
		Methods: []introspect.Method{
			{Name: "Cancel"},
		},
		Properties: []introspect.Property{
			{Name: "Id", Type: "s", Access: "read"},
			{Name: "Type", Type: "s", Access: "read"},
			{Name: "Target", Type: "s", Access: "read"},
			{Name: "Status", Type: "s", Access: "read"},
		},
		Signals: []introspect.Signal{
			{Name: "Message", Args: []introspect.Arg{
				{Name: "type", Type: "i"}, {Name: "text", Type: "s"}, {Name: "indent", Type: "i"},
			}},
			{Name: "ProgressStarted", Args: []introspect.Arg{
				{Name: "id", Type: "s"}, {Name: "description", Type: "s"}, {Name: "total", Type: "t"}, {Name: "indent", Type: "i"},
			}},
			{Name: "ProgressUpdate", Args: []introspect.Arg{
				{Name: "id", Type: "s"}, {Name: "current", Type: "t"}, {Name: "rate", Type: "d"},
			}},
			{Name: "ProgressCompleted", Args: []introspect.Arg{
				{Name: "id", Type: "s"}, {Name: "success", Type: "b"}, {Name: "message", Type: "s"},
			}},
			{Name: "Completed", Args: []introspect.Arg{
				{Name: "success", Type: "b"}, {Name: "error", Type: "s"},
			}},
		},
	}
}
