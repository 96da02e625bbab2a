package incus

import (
	"context"
	"net/http"

	"github.com/frostyard/kapsule/pkg/kapsuleerrors"
)

// ExecResult carries the backend operation handle and the exit code of a
// finished exec. It holds no I/O: ExecInstance captures neither stdout nor
// stderr and opens none of the control/stdio channels Incus offers for
// interactive sessions. Interactive entry goes through PrepareEnter's
// returned exec_args instead, which replace the caller's whole process
// rather than being proxied through the daemon.
type ExecResult struct {
	Handle   *OpHandle
	ExitCode int
}

// ExecInstance runs command inside instance name as uid:gid, waiting for
// completion (non-interactive, non-websocket use — the shape every
// prepare-enter provisioning step needs).
func (c *Client) ExecInstance(ctx context.Context, name string, command []string, env map[string]string, uid, gid int) (*ExecResult, error) {
	req := execRequest{
		Command:          command,
		Environment:      env,
		WaitForWebsocket: false,
		Interactive:      false,
		User:             uid,
		Group:            gid,
	}
	envelope, err := c.do(ctx, http.MethodPost, "/instances/"+name+"/exec", req)
	if err != nil {
		return nil, err
	}
	handle, err := c.handleFromEnvelope(envelope)
	if err != nil {
		return nil, err
	}
	var exitCode int
	if err := handle.Wait(ctx, 0, func(metadata map[string]interface{}) {
		if rc, ok := metadata["return"].(float64); ok {
			exitCode = int(rc)
		}
	}); err != nil {
		return nil, err
	}
	if exitCode != 0 {
		return &ExecResult{Handle: handle, ExitCode: exitCode}, kapsuleerrors.New(
			kapsuleerrors.BackendError, "command exited non-zero inside container")
	}
	return &ExecResult{Handle: handle, ExitCode: exitCode}, nil
}
