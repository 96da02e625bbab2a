package containers

import (
	"context"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frostyard/kapsule/internal/identity"
	"github.com/frostyard/kapsule/internal/incus"
	"github.com/frostyard/kapsule/internal/progress"
)

// TestPrepareEnterMaterializesSession covers scenario S3: provisioning a
// fresh user account and the session-socket symlinks on first entry.
func TestPrepareEnterMaterializesSession(t *testing.T) {
	svc, fb := newTestService(t)
	fb.seed("test-enter", incus.StatusRunning, map[string]string{
		"/etc/passwd":     "root:x:0:0::/root:/bin/bash\n",
		"/etc/os-release": "ID=arch\n",
	})

	creds := &identity.Credentials{
		UID:     1000,
		GID:     1000,
		PID:     4242,
		HomeDir: "/home/alice",
		Env: map[string]string{
			"DISPLAY":         ":0",
			"WAYLAND_DISPLAY": "wayland-0",
			"XAUTHORITY":      "/run/user/1000/xauth_abc",
		},
	}

	r := progress.NewReporter(discardSink{})
	result := svc.PrepareEnter(context.Background(), r, "test-enter", nil, creds, "")

	require.True(t, result.Success, result.Message)
	assert.Equal(t, IncusCLI, result.ExecArgs[0])
	assert.Contains(t, result.ExecArgs, "1000")
	assert.Contains(t, result.ExecArgs, "XDG_RUNTIME_DIR=/run/user/1000")

	inst := fb.instances["test-enter"]
	require.NotNil(t, inst)
	assert.Contains(t, inst.files["/etc/passwd"], ":1000:1000:")
	assert.Equal(t, "/.kapsule/host/run/user/1000/wayland-0", inst.files["symlink:/run/user/1000/wayland-0"])
	assert.Equal(t, "/.kapsule/host/run/user/1000/xauth_abc", inst.files["symlink:/run/user/1000/xauth_abc"])
	assert.Equal(t, "/.kapsule/host/tmp/.X11-unix/X0", inst.files["symlink:/tmp/.X11-unix/X0"])

	_, hasHomeDevice := inst.devices["home"]
	assert.True(t, hasHomeDevice)
	assert.Equal(t, creds.HomeDir, inst.devices["home"]["path"])
	assert.Equal(t, creds.HomeDir, inst.devices["home"]["source"])
	cwdIdx := slices.Index(result.ExecArgs, "--cwd")
	require.GreaterOrEqual(t, cwdIdx, 0)
	assert.Equal(t, creds.HomeDir, result.ExecArgs[cwdIdx+1])
}

// TestPrepareEnterNoContainerAndNoDefaultFails covers the empty-name /
// empty-default-container failure path.
func TestPrepareEnterNoContainerAndNoDefaultFails(t *testing.T) {
	svc, _ := newTestService(t)
	creds := &identity.Credentials{UID: 1000, GID: 1000, Env: map[string]string{}}
	r := progress.NewReporter(discardSink{})

	result := svc.PrepareEnter(context.Background(), r, "", nil, creds, "")
	assert.False(t, result.Success)
	assert.Empty(t, result.ExecArgs)
}

// TestPrepareEnterUsesDefaultContainer covers the empty-name /
// configured-default-container substitution.
func TestPrepareEnterUsesDefaultContainer(t *testing.T) {
	svc, fb := newTestService(t)
	fb.seed("primary", incus.StatusRunning, map[string]string{
		"/etc/passwd":     "root:x:0:0::/root:/bin/bash\n",
		"/etc/os-release": "ID=ubuntu\n",
	})
	creds := &identity.Credentials{UID: 2000, GID: 2000, Env: map[string]string{}}
	r := progress.NewReporter(discardSink{})

	result := svc.PrepareEnter(context.Background(), r, "", nil, creds, "primary")
	require.True(t, result.Success, result.Message)
	assert.Contains(t, result.ExecArgs, "primary")
}

// TestPrepareEnterMissingContainerFails covers the ContainerNotFound path.
func TestPrepareEnterMissingContainerFails(t *testing.T) {
	svc, _ := newTestService(t)
	creds := &identity.Credentials{UID: 1000, GID: 1000, Env: map[string]string{}}
	r := progress.NewReporter(discardSink{})

	result := svc.PrepareEnter(context.Background(), r, "ghost", nil, creds, "")
	assert.False(t, result.Success)
}

// TestPrepareEnterCustomCommand covers the optional command argument
// replacing the default login shell.
func TestPrepareEnterCustomCommand(t *testing.T) {
	svc, fb := newTestService(t)
	fb.seed("test-cmd", incus.StatusRunning, map[string]string{
		"/etc/passwd":     "u1000:x:1000:1000::/home/u1000:/bin/bash\n",
		"/etc/os-release": "ID=debian\n",
	})
	creds := &identity.Credentials{UID: 1000, GID: 1000, Env: map[string]string{}}
	r := progress.NewReporter(discardSink{})

	result := svc.PrepareEnter(context.Background(), r, "test-cmd", []string{"echo", "hi"}, creds, "")
	require.True(t, result.Success, result.Message)
	assert.Equal(t, []string{"echo", "hi"}, result.ExecArgs[len(result.ExecArgs)-2:])
}
