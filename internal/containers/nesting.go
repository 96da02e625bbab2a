package containers

import (
	"context"
	"strings"

	"github.com/frostyard/kapsule/pkg/kapsuleerrors"
)

// nestedRuntimeProbes are the commands VerifyNesting tries, in order,
// stopping at the first one that exits successfully inside the target
// container.
var nestedRuntimeProbes = [][]string{
	{"docker", "info"},
	{"podman", "info"},
}

// VerifyNesting execs a nested-runtime info command inside a running
// container to confirm the security.nesting/security.privileged
// configuration actually allows Docker or Podman to run inside it
// (scenario S4). It is not on any critical path: CreateContainer and
// PrepareEnter never call it, and a failure here never fails them — it
// exists for callers (the CLI front end, test harnesses) that want an
// explicit smoke check, the Kapsule analogue of api_versions.go probing a
// backend for a capability before relying on it.
func (s *Service) VerifyNesting(ctx context.Context, container string) (string, error) {
	var lastErr error
	for _, cmd := range nestedRuntimeProbes {
		result, err := s.backend.ExecInstance(ctx, container, cmd, nil, 0, 0)
		if err == nil {
			return cmd[0] + " nesting verified", nil
		}
		if result != nil && result.ExitCode != 0 {
			lastErr = err
			continue
		}
		lastErr = err
	}
	return "", kapsuleerrors.Wrap(kapsuleerrors.Internal, lastErr,
		"neither docker nor podman reported a working nested runtime in "+strings.TrimSpace(container))
}
