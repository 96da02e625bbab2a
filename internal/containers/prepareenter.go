package containers

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/frostyard/kapsule/internal/identity"
	"github.com/frostyard/kapsule/internal/incus"
	"github.com/frostyard/kapsule/internal/progress"
	"github.com/frostyard/kapsule/pkg/kapsuleerrors"
)

// IncusCLI is the binary PrepareEnter's returned exec_args invoke.
var IncusCLI = "incus"

// distro identifies the provisioning commands one Linux distribution
// needs inside a kapsule container.
type distro struct {
	id             string
	userAddCommand func(uid, gid int, username string) []string
	adminGroup     string
	sudoPackage    string
	installCommand []string
}

var distros = map[string]distro{
	"arch": {
		id:         "arch",
		adminGroup: "wheel",
		userAddCommand: func(uid, gid int, username string) []string {
			return []string{"useradd", "-u", strconv.Itoa(uid), "-g", strconv.Itoa(gid), "-m", "-s", "/bin/bash", username}
		},
		sudoPackage:    "sudo",
		installCommand: []string{"pacman", "-Sy", "--noconfirm", "sudo"},
	},
	"fedora": {
		id:         "fedora",
		adminGroup: "wheel",
		userAddCommand: func(uid, gid int, username string) []string {
			return []string{"useradd", "-u", strconv.Itoa(uid), "-g", strconv.Itoa(gid), "-m", "-s", "/bin/bash", username}
		},
		sudoPackage:    "sudo",
		installCommand: []string{"dnf", "install", "-y", "sudo"},
	},
	"debian": {
		id:         "debian",
		adminGroup: "sudo",
		userAddCommand: func(uid, gid int, username string) []string {
			return []string{"useradd", "-u", strconv.Itoa(uid), "-g", strconv.Itoa(gid), "-m", "-s", "/bin/bash", username}
		},
		sudoPackage:    "sudo",
		installCommand: []string{"apt-get", "install", "-y", "sudo"},
	},
	"ubuntu": {
		id:         "ubuntu",
		adminGroup: "sudo",
		userAddCommand: func(uid, gid int, username string) []string {
			return []string{"useradd", "-u", strconv.Itoa(uid), "-g", strconv.Itoa(gid), "-m", "-s", "/bin/bash", username}
		},
		sudoPackage:    "sudo",
		installCommand: []string{"apt-get", "install", "-y", "sudo"},
	},
	"alpine": {
		id:         "alpine",
		adminGroup: "adm",
		userAddCommand: func(uid, gid int, username string) []string {
			return []string{"adduser", "-u", strconv.Itoa(uid), "-D", username}
		},
		sudoPackage:    "sudo",
		installCommand: []string{"apk", "add", "sudo"},
	},
}

// PrepareEnterResult is the (success, message, exec_args) triple returned
// to the caller.
type PrepareEnterResult struct {
	Success  bool
	Message  string
	ExecArgs []string
}

// PrepareEnter resolves, provisions, and prepares a container for a
// caller to enter. It is synchronous from the caller's point of view — no
// Operation object is created — so the client can replace its own process
// with ExecArgs immediately.
func (s *Service) PrepareEnter(ctx context.Context, r progress.Reporter, containerName string, command []string, creds *identity.Credentials, defaultContainer string) PrepareEnterResult {
	name := containerName
	if name == "" {
		name = defaultContainer
	}
	if name == "" {
		return fail("no container specified and no default_container configured")
	}

	r.Info(fmt.Sprintf("resolving target container %q", name))
	d, err := s.backend.GetInstance(ctx, name)
	if err != nil {
		return fail(fmt.Sprintf("container %q not found", name))
	}

	if d.Status != incus.StatusRunning {
		r.Info(fmt.Sprintf("starting container %q", name))
		if d.Status == incus.StatusStopped {
			handle, err := s.backend.UpdateInstanceState(ctx, name, incus.ActionStart, false, waitCeiling)
			if err != nil {
				return fail(err.Error())
			}
			if err := handle.Wait(ctx, waitCeiling, nil); err != nil {
				return fail(err.Error())
			}
		} else {
			if err := s.waitUntilRunning(ctx, name); err != nil {
				return fail(err.Error())
			}
		}
	}

	r.Info("probing container identity state")
	username, err := s.resolveUsername(ctx, name, creds.UID)
	if err != nil {
		return fail(err.Error())
	}
	if username == "" {
		r.Info("provisioning user account")
		if err := s.provisionUser(ctx, name, creds); err != nil {
			return fail(err.Error())
		}
	}

	r.Info("establishing home mount")
	if err := s.ensureHomeMount(ctx, name, creds.HomeDir, creds); err != nil {
		return fail(err.Error())
	}

	r.Info("materializing runtime symlinks")
	if err := s.materializeSymlinks(ctx, name, creds); err != nil {
		return fail(err.Error())
	}

	args := composeExecArgs(name, creds, command)
	r.Success("prepared " + name + " for entry")
	return PrepareEnterResult{Success: true, ExecArgs: args}
}

func fail(message string) PrepareEnterResult {
	return PrepareEnterResult{Success: false, Message: message}
}

func (s *Service) waitUntilRunning(ctx context.Context, name string) error {
	deadline := time.Now().Add(waitCeiling)
	for time.Now().Before(deadline) {
		d, err := s.backend.GetInstance(ctx, name)
		if err != nil {
			return err
		}
		if d.Status == incus.StatusRunning {
			return nil
		}
		select {
		case <-ctx.Done():
			return kapsuleerrors.Wrap(kapsuleerrors.Cancelled, ctx.Err(), "wait for running cancelled")
		case <-time.After(500 * time.Millisecond):
		}
	}
	return kapsuleerrors.New(kapsuleerrors.Timeout, "container did not reach Running before the wait ceiling")
}

// resolveUsername searches /etc/passwd for a line with uid, returning its
// username, or "" if no such line exists.
func (s *Service) resolveUsername(ctx context.Context, container string, uid int) (string, error) {
	content, err := s.backend.PullFile(ctx, container, "/etc/passwd")
	if err != nil {
		return "", err
	}
	target := ":" + strconv.Itoa(uid) + ":"
	for _, line := range strings.Split(string(content), "\n") {
		fields := strings.Split(line, ":")
		if len(fields) < 3 {
			continue
		}
		if ":"+fields[2]+":" == target {
			return fields[0], nil
		}
	}
	return "", nil
}

func defaultUsername(uid int) string {
	return "u" + strconv.Itoa(uid)
}

// detectDistro reads /etc/os-release and maps its ID to a known distro.
func (s *Service) detectDistro(ctx context.Context, container string) (distro, error) {
	content, err := s.backend.PullFile(ctx, container, "/etc/os-release")
	if err != nil {
		return distro{}, err
	}
	var id string
	for _, line := range strings.Split(string(content), "\n") {
		if strings.HasPrefix(line, "ID=") {
			id = strings.Trim(strings.TrimPrefix(line, "ID="), `"`)
			break
		}
	}
	if d, ok := distros[id]; ok {
		return d, nil
	}
	return distro{}, kapsuleerrors.New(kapsuleerrors.Internal, "unrecognized distribution: "+id)
}

// provisionUser creates the caller's account inside the container, adds it
// to the distro's admin group, and ensures passwordless sudo for that
// group.
func (s *Service) provisionUser(ctx context.Context, container string, creds *identity.Credentials) error {
	d, err := s.detectDistro(ctx, container)
	if err != nil {
		return err
	}
	username := defaultUsername(creds.UID)

	cmd := d.userAddCommand(creds.UID, creds.GID, username)
	if _, err := s.backend.ExecInstance(ctx, container, cmd, nil, 0, 0); err != nil {
		return kapsuleerrors.Wrap(kapsuleerrors.Internal, err, "create user account")
	}

	addGroup := []string{"usermod", "-aG", d.adminGroup, username}
	if d.id == "alpine" {
		addGroup = []string{"addgroup", username, d.adminGroup}
	}
	if _, err := s.backend.ExecInstance(ctx, container, addGroup, nil, 0, 0); err != nil {
		return kapsuleerrors.Wrap(kapsuleerrors.Internal, err, "add user to admin group")
	}

	if _, err := s.backend.ExecInstance(ctx, container, d.installCommand, nil, 0, 0); err != nil {
		return kapsuleerrors.Wrap(kapsuleerrors.Internal, err, "ensure sudo is installed")
	}

	sudoersLine := fmt.Sprintf("%%%s ALL=(ALL) NOPASSWD: ALL\n", d.adminGroup)
	if err := s.backend.PushFile(ctx, container, "/etc/sudoers.d/kapsule", []byte(sudoersLine), 0o440, 0, 0); err != nil {
		return kapsuleerrors.Wrap(kapsuleerrors.Internal, err, "configure passwordless sudo")
	}
	return nil
}

// ensureHomeMount attaches the caller's host home directory as a bind-mount
// device if it isn't already present.
func (s *Service) ensureHomeMount(ctx context.Context, container, home string, creds *identity.Credentials) error {
	d, err := s.backend.GetInstance(ctx, container)
	if err != nil {
		return err
	}
	for _, dev := range d.Devices {
		if dev["type"] == "disk" && dev["path"] == home {
			return nil
		}
	}
	patch := incus.InstancePut{
		Devices: map[string]incus.Device{
			"home": {
				"type":   "disk",
				"source": home,
				"path":   home,
				"uid":    strconv.Itoa(creds.UID),
				"gid":    strconv.Itoa(creds.GID),
			},
		},
	}
	return s.backend.UpdateInstanceConfig(ctx, container, patch)
}

// materializeSymlinks creates the runtime socket symlinks prepare-enter
// needs under /run/user/<uid> and /tmp/.X11-unix. Each ln -sfn invocation
// is naturally idempotent.
func (s *Service) materializeSymlinks(ctx context.Context, container string, creds *identity.Credentials) error {
	runDir := fmt.Sprintf("/run/user/%d", creds.UID)
	hostRunDir := HostfsPath + runDir

	mkdir := []string{"mkdir", "-p", runDir, "/tmp/.X11-unix"}
	if _, err := s.backend.ExecInstance(ctx, container, mkdir, nil, 0, 0); err != nil {
		return kapsuleerrors.Wrap(kapsuleerrors.Internal, err, "create runtime directories")
	}

	links := map[string]string{}
	if wd := creds.Env["WAYLAND_DISPLAY"]; wd != "" {
		links[filepath.Join(runDir, wd)] = filepath.Join(hostRunDir, wd)
	}
	if xauth := creds.Env["XAUTHORITY"]; xauth != "" {
		base := filepath.Base(xauth)
		links[filepath.Join(runDir, base)] = filepath.Join(hostRunDir, base)
	}
	links[filepath.Join(runDir, "pipewire-0")] = filepath.Join(hostRunDir, "pipewire-0")
	links[filepath.Join(runDir, "pulse", "native")] = filepath.Join(hostRunDir, "pulse", "native")
	links[filepath.Join(runDir, "bus")] = filepath.Join(hostRunDir, "bus")

	if display := creds.Env["DISPLAY"]; display != "" {
		num := strings.TrimPrefix(display, ":")
		num = strings.SplitN(num, ".", 2)[0]
		x11 := "X" + num
		links[filepath.Join("/tmp/.X11-unix", x11)] = filepath.Join(HostfsPath, "/tmp/.X11-unix", x11)
	}

	for target, source := range links {
		cmd := []string{"ln", "-sfn", source, target}
		if _, err := s.backend.ExecInstance(ctx, container, cmd, nil, 0, 0); err != nil {
			return kapsuleerrors.Wrap(kapsuleerrors.Internal, err, "create symlink "+target)
		}
	}
	return nil
}

// composeExecArgs builds the exec_args vector returned to the caller.
func composeExecArgs(container string, creds *identity.Credentials, command []string) []string {
	args := []string{
		IncusCLI, "exec", container,
		"--user", strconv.Itoa(creds.UID),
		"--group", strconv.Itoa(creds.GID),
		"--cwd", creds.HomeDir,
		"--env", "TERM=" + orDefault(creds.Env["TERM"], "xterm-256color"),
		"--env", "DISPLAY=" + creds.Env["DISPLAY"],
		"--env", "WAYLAND_DISPLAY=" + creds.Env["WAYLAND_DISPLAY"],
		"--env", "XAUTHORITY=" + creds.Env["XAUTHORITY"],
		"--env", fmt.Sprintf("XDG_RUNTIME_DIR=/run/user/%d", creds.UID),
		"--",
	}
	if len(command) > 0 {
		args = append(args, command...)
	} else {
		args = append(args, "/bin/bash", "-l")
	}
	return args
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
