package incus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/frostyard/kapsule/pkg/kapsuleerrors"
)

// ProgressFunc receives out-of-band progress metadata while a backend
// operation is in flight.
type ProgressFunc func(metadata map[string]interface{})

// OpHandle is a backend operation handle: created when a request is
// asynchronous, destroyed once its wait endpoint reports terminal status.
type OpHandle struct {
	client *Client
	id     string
}

// ID returns the backend-assigned operation id.
func (h *OpHandle) ID() string { return h.id }

// pollInterval is how often Wait polls when the backend's long-poll wait
// endpoint itself returns without a terminal status (e.g. a bounded
// per-request timeout on the wait endpoint).
const pollInterval = 500 * time.Millisecond

// Wait blocks until the backend operation reaches a terminal state,
// forwarding intermediate metadata to progress (which may be nil). It is
// idempotent: calling Wait twice on the same handle is safe and returns the
// same terminal outcome both times.
func (h *OpHandle) Wait(ctx context.Context, timeout time.Duration, progress ProgressFunc) error {
	deadline := time.Now().Add(timeout)
	for {
		waitCtx := ctx
		var cancel context.CancelFunc
		if timeout > 0 {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return kapsuleerrors.New(kapsuleerrors.Timeout, "backend operation wait exceeded its ceiling")
			}
			waitCtx, cancel = context.WithTimeout(ctx, minDuration(remaining, pollInterval))
		} else {
			waitCtx, cancel = context.WithTimeout(ctx, pollInterval)
		}

		path := fmt.Sprintf("/operations/%s/wait?timeout=%d", h.id, int(pollInterval.Seconds()))
		env, err := h.client.do(waitCtx, http.MethodGet, path, nil)
		cancel()
		if err != nil {
			if waitCtx.Err() != nil && ctx.Err() == nil {
				// Our own poll-slice timeout, not a real failure; loop.
				continue
			}
			return err
		}

		var meta operationMetadata
		if err := json.Unmarshal(env.Metadata, &meta); err != nil {
			return kapsuleerrors.Wrap(kapsuleerrors.Internal, err, "decode operation metadata")
		}
		if progress != nil && meta.Metadata != nil {
			progress(meta.Metadata)
		}

		switch meta.Status {
		case "Success":
			return nil
		case "Failure":
			return kapsuleerrors.New(kapsuleerrors.BackendError, meta.Err)
		case "Cancelled":
			return kapsuleerrors.New(kapsuleerrors.Cancelled, "backend operation cancelled")
		default:
			// Running/Pending: keep polling.
		}

		select {
		case <-ctx.Done():
			return kapsuleerrors.Wrap(kapsuleerrors.Cancelled, ctx.Err(), "operation wait cancelled")
		default:
		}
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
