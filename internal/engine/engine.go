package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/frostyard/kapsule/internal/progress"
)

// LingerDuration is how long a terminal Operation stays in the arena
// (and, for the facade, exported on the bus) before being removed.
var LingerDuration = 5 * time.Second

// SinkFactory builds the progress.Sink an Operation's events are delivered
// to — in production this wires to bus signal emission on the Operation's
// exported path; tests supply an in-memory recorder.
type SinkFactory func(op *Operation) progress.Sink

// Engine owns the arena of live Operations: the one piece of shared
// mutable state besides the backend HTTP client.
type Engine struct {
	mu      sync.Mutex
	ops     map[string]*Operation
	nextID  uint64
	sinkFor SinkFactory
	now     func() time.Time
}

// New returns an Engine that builds per-Operation sinks with sinkFor. A nil
// sinkFor yields a no-op sink, useful for callers that only care about the
// terminal result.
func New(sinkFor SinkFactory) *Engine {
	if sinkFor == nil {
		sinkFor = func(*Operation) progress.Sink { return noopSink{} }
	}
	return &Engine{
		ops:     make(map[string]*Operation),
		sinkFor: sinkFor,
		now:     time.Now,
	}
}

// Submit assigns an id, publishes the Operation into the arena, and starts
// work on its own goroutine. The Operation is visible via Get before
// Submit returns, so a caller can never race its own Submit call and find
// the Operation missing.
func (e *Engine) Submit(opType, target string, work WorkFunc) *Operation {
	e.mu.Lock()
	e.nextID++
	id := fmt.Sprintf("%d", e.nextID)
	ctx, cancel := context.WithCancel(context.Background())
	op := &Operation{
		ID:        id,
		Type:      opType,
		Target:    target,
		CreatedAt: e.now(),
		status:    Running,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	e.ops[id] = op
	e.mu.Unlock()

	sink := e.sinkFor(op)
	reporter := progress.NewReporter(sink)

	go func() {
		err := work(ctx, reporter)
		status, resultErr := classifyErr(ctx.Err(), err)
		if op.transition(status, resultErr) {
			close(op.done)
			e.scheduleRemoval(id)
		}
	}()

	return op
}

// Get returns the live Operation for id, or nil if it is unknown (already
// lingered out, or never existed).
func (e *Engine) Get(id string) *Operation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ops[id]
}

// List returns every Operation still in the arena.
func (e *Engine) List() []*Operation {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Operation, 0, len(e.ops))
	for _, op := range e.ops {
		out = append(out, op)
	}
	return out
}

// Shutdown cancels every live Operation and waits up to deadline for them
// to reach a terminal state. The per-Operation waits run concurrently
// through an errgroup bounded by a shared deadline context, rather than
// serially summing each Operation's own wind-down time.
func (e *Engine) Shutdown(deadline time.Duration) {
	e.mu.Lock()
	ops := make([]*Operation, 0, len(e.ops))
	for _, op := range e.ops {
		ops = append(ops, op)
	}
	e.mu.Unlock()

	for _, op := range ops {
		op.Cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for _, op := range ops {
		op := op
		g.Go(func() error {
			select {
			case <-op.Done():
			case <-ctx.Done():
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (e *Engine) scheduleRemoval(id string) {
	time.AfterFunc(LingerDuration, func() {
		e.mu.Lock()
		delete(e.ops, id)
		e.mu.Unlock()
	})
}

type noopSink struct{}

func (noopSink) Message(progress.Message)     {}
func (noopSink) Started(progress.Started)     {}
func (noopSink) Updated(progress.Updated)     {}
func (noopSink) Completed(progress.Completed) {}
