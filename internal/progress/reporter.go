package progress

// Reporter is the progress reporter contract work items see. The reporter
// holds no state of its own: each call is forwarded to its Sink
// synchronously on the calling goroutine, so events from one goroutine
// reach the Sink in call order. Neither the reporter nor the engine
// serializes calls made from several goroutines at once; such use is safe
// only as far as the Sink itself is safe for concurrent use.
type Reporter interface {
	Info(message string, indent ...int)
	Success(message string, indent ...int)
	Warning(message string, indent ...int)
	Error(message string, indent ...int)
	Dim(message string, indent ...int)
	Hint(message string, indent ...int)

	ProgressStart(id, description string, total uint64, indent ...int)
	ProgressUpdate(id string, current uint64, rate ...float64)
	ProgressEnd(id string, success bool, message ...string)
}

// Sink receives the events a Reporter produces. The engine obtains one
// Sink per Operation from its SinkFactory; internal/facade's busSink fans
// events out as bus signals, and tests implement Sink to assert on event
// order.
type Sink interface {
	Message(Message)
	Started(Started)
	Updated(Updated)
	Completed(Completed)
}

// reporter is the concrete Reporter bound to one Sink.
type reporter struct {
	sink Sink
}

// NewReporter returns a Reporter that forwards every event to sink.
func NewReporter(sink Sink) Reporter {
	return &reporter{sink: sink}
}

func firstIndent(indent []int) int {
	if len(indent) > 0 {
		return indent[0]
	}
	return 0
}

func firstString(s []string) string {
	if len(s) > 0 {
		return s[0]
	}
	return ""
}

func firstFloat(f []float64) float64 {
	if len(f) > 0 {
		return f[0]
	}
	return 0
}

func (r *reporter) emit(kind MessageKind, message string, indent []int) {
	r.sink.Message(Message{Kind: kind, Text: message, Indent: firstIndent(indent)})
}

func (r *reporter) Info(message string, indent ...int)    { r.emit(Info, message, indent) }
func (r *reporter) Success(message string, indent ...int) { r.emit(Success, message, indent) }
func (r *reporter) Warning(message string, indent ...int) { r.emit(Warning, message, indent) }
func (r *reporter) Error(message string, indent ...int)   { r.emit(Error, message, indent) }
func (r *reporter) Dim(message string, indent ...int)     { r.emit(Dim, message, indent) }
func (r *reporter) Hint(message string, indent ...int)    { r.emit(Hint, message, indent) }

func (r *reporter) ProgressStart(id, description string, total uint64, indent ...int) {
	r.sink.Started(Started{ID: id, Description: description, Total: total, Indent: firstIndent(indent)})
}

func (r *reporter) ProgressUpdate(id string, current uint64, rate ...float64) {
	r.sink.Updated(Updated{ID: id, Current: current, Rate: firstFloat(rate)})
}

func (r *reporter) ProgressEnd(id string, success bool, message ...string) {
	r.sink.Completed(Completed{ID: id, Success: success, Message: firstString(message)})
}
