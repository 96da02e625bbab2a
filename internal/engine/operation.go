// Package engine implements the Operation Engine: it accepts a
// user-facing work item, assigns it an id, runs it concurrently, streams
// its progress, accepts cancellation, and cleans up after a linger past
// terminal state.
//
// Grounded on the tagged-task/single-dispatch shape of compose-v2's
// vendored api/grpc/server/server.go (apiServer methods build a task
// struct, call sv.SendTask(task), then block on <-task.ErrorCh()) —
// generalized here to one goroutine per Operation rather than one
// supervisor loop, since operations here must run concurrently and
// independently rather than being serialized through a single
// dispatcher.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/frostyard/kapsule/internal/progress"
	"github.com/frostyard/kapsule/pkg/kapsuleerrors"
)

// Status is the Operation's lifecycle state.
type Status int

const (
	Pending Status = iota
	Running
	Completed
	Failed
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Running:
		return "Running"
	case Completed:
		return "Completed"
	case Failed:
		return "Failed"
	case Cancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// terminal reports whether s is one of the three terminal states.
func (s Status) terminal() bool {
	return s == Completed || s == Failed || s == Cancelled
}

// WorkFunc is the unit of work an Operation runs. It must poll ctx at its
// natural suspension points and report progress through reporter.
type WorkFunc func(ctx context.Context, reporter progress.Reporter) error

// Operation is one user-facing unit of work, exported on the bus for its
// lifetime plus a linger.
type Operation struct {
	ID        string
	Type      string
	Target    string
	CreatedAt time.Time

	mu        sync.Mutex
	status    Status
	resultErr error

	cancel context.CancelFunc
	done   chan struct{}
}

// Status returns the Operation's current lifecycle state.
func (o *Operation) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Err returns the terminal error, if any (nil on Completed or for
// non-terminal states).
func (o *Operation) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.resultErr
}

// Cancel arms the Operation's cancellation token. A no-op once the
// Operation has reached a terminal state.
func (o *Operation) Cancel() {
	o.mu.Lock()
	terminal := o.status.terminal()
	o.mu.Unlock()
	if terminal {
		return
	}
	o.cancel()
}

// Done returns a channel closed once the Operation reaches a terminal
// state, for callers that want to block on it.
func (o *Operation) Done() <-chan struct{} {
	return o.done
}

// transition moves the Operation out of Running exactly once; later calls
// are no-ops — transitions out of Running are exclusive and monotone,
// only the first one wins.
func (o *Operation) transition(status Status, err error) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status.terminal() {
		return false
	}
	o.status = status
	o.resultErr = err
	return true
}

// classifyErr turns a cancelled context into a Cancelled status rather
// than a Failed one.
func classifyErr(ctxErr, workErr error) (Status, error) {
	if workErr == nil {
		return Completed, nil
	}
	if kapsuleerrors.IsCancelled(workErr) || ctxErr == context.Canceled {
		return Cancelled, workErr
	}
	return Failed, workErr
}
