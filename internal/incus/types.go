package incus

import "time"

// InstanceStatus mirrors Incus's own status strings, narrowed to the set
// Kapsule's descriptor model recognizes.
type InstanceStatus string

const (
	StatusRunning  InstanceStatus = "Running"
	StatusStopped  InstanceStatus = "Stopped"
	StatusStarting InstanceStatus = "Starting"
	StatusStopping InstanceStatus = "Stopping"
	StatusError    InstanceStatus = "Error"
	StatusUnknown  InstanceStatus = "Unknown"
)

// StateAction is one of the instance state-change actions accepted by
// UpdateInstanceState.
type StateAction string

const (
	ActionStart    StateAction = "start"
	ActionStop     StateAction = "stop"
	ActionRestart  StateAction = "restart"
	ActionFreeze   StateAction = "freeze"
	ActionUnfreeze StateAction = "unfreeze"
)

// Device is one entry of an instance's device map, e.g. a disk or gpu
// passthrough device. Fields beyond Type are free-form key/value pairs, the
// same shape Incus itself uses.
type Device map[string]string

// InstanceSource describes where an instance's root filesystem comes from.
type InstanceSource struct {
	Type     string `json:"type"`
	Protocol string `json:"protocol,omitempty"`
	Server   string `json:"server,omitempty"`
	Alias    string `json:"alias,omitempty"`
}

// InstancePost is the body of a CreateInstance request.
type InstancePost struct {
	Name    string            `json:"name"`
	Source  InstanceSource    `json:"source"`
	Config  map[string]string `json:"config,omitempty"`
	Devices map[string]Device `json:"devices,omitempty"`
}

// InstanceStatePut is the body of an UpdateInstanceState request.
type InstanceStatePut struct {
	Action  StateAction `json:"action"`
	Timeout int         `json:"timeout"`
	Force   bool        `json:"force"`
}

// InstancePut is a partial update to an instance's config/devices.
type InstancePut struct {
	Config  map[string]string  `json:"config,omitempty"`
	Devices map[string]Device  `json:"devices,omitempty"`
}

// Descriptor is Kapsule's view of a backend instance, the analogue of the
// Container descriptor entity in the data model.
type Descriptor struct {
	Name      string            `json:"name"`
	Status    InstanceStatus    `json:"status"`
	Image     string            `json:"-"`
	CreatedAt time.Time         `json:"created_at"`
	Config    map[string]string `json:"config"`
	Devices   map[string]Device `json:"devices"`
}

// execRequest is the body of an ExecInstance request.
type execRequest struct {
	Command          []string `json:"command"`
	Environment      map[string]string `json:"environment,omitempty"`
	WaitForWebsocket bool     `json:"wait-for-websocket"`
	Interactive      bool     `json:"interactive"`
	User             int      `json:"user,omitempty"`
	Group            int      `json:"group,omitempty"`
}

