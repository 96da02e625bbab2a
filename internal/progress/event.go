// Package progress defines the Operation Engine's progress-event model:
// the six observable Message kinds and the three progress-phase events.
// Grounded on compose-v2's pkg/progress/event.go Event/EventStatus pair,
// generalized from a single renderer-facing Event into the richer
// Message/ProgressStarted/ProgressUpdate/ProgressCompleted split the bus
// interface requires.
package progress

// MessageKind is the `type` field of the Message signal.
type MessageKind int

const (
	Info MessageKind = iota
	Success
	Warning
	Error
	Dim
	Hint
)

func (k MessageKind) String() string {
	switch k {
	case Info:
		return "Info"
	case Success:
		return "Success"
	case Warning:
		return "Warning"
	case Error:
		return "Error"
	case Dim:
		return "Dim"
	case Hint:
		return "Hint"
	default:
		return "Unknown"
	}
}

// Message is one Info/Success/Warning/Error/Dim/Hint event.
type Message struct {
	Kind   MessageKind
	Text   string
	Indent int
}

// Started is a ProgressStarted event; Total == 0 means indeterminate.
type Started struct {
	ID          string
	Description string
	Total       uint64
	Indent      int
}

// Updated is a ProgressUpdate event.
type Updated struct {
	ID      string
	Current uint64
	Rate    float64
}

// Completed is a ProgressCompleted event for one named sub-progress (not to
// be confused with the Operation-level Completed signal exported on the
// bus).
type Completed struct {
	ID      string
	Success bool
	Message string
}
