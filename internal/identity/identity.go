// Package identity implements the Caller Identity Resolver: given a bus
// caller's unique connection name, resolve its uid, primary gid, pid, home
// directory, and a fixed slice of environment variables.
//
// The D-Bus peer-credential query is grounded on
// github.com/godbus/dbus/v5's call idiom (seen vendored via podman's
// systemd/dbus.go in jesseduffield-lazydocker's dependency tree); the
// /proc parsing below is plain stdlib since no ecosystem /proc-parsing
// library fits and the formats involved are simple; the home-directory
// lookup uses the standard os/user package against the host's own user
// database, the same source a login shell consults.
package identity

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/user"
	"strconv"
	"strings"

	"github.com/frostyard/kapsule/pkg/kapsuleerrors"
)

// CapturedEnvVars is the fixed slice of environment variables captured
// from the caller's process.
var CapturedEnvVars = []string{
	"DISPLAY", "WAYLAND_DISPLAY", "XAUTHORITY", "XDG_RUNTIME_DIR",
	"TERM", "LANG", "SHELL", "PATH",
}

// Credentials is the resolved identity of one bus caller, immutable for the
// life of the Operation it seeds.
type Credentials struct {
	UID     int
	GID     int
	PID     int
	HomeDir string
	Env     map[string]string
}

// BusQuerier is the small message-bus capability the resolver needs:
// mapping a caller's unique connection name to its unix uid and pid.
// Implemented in production by internal/facade's godbus.Conn wrapper;
// faked in tests.
type BusQuerier interface {
	ConnectionUnixUser(sender string) (uint32, error)
	ConnectionUnixProcessID(sender string) (uint32, error)
}

// HomeLookup resolves the host home directory for a uid. Defaults to
// os/user.LookupId and is overridable for tests.
type HomeLookup func(uid int) (string, error)

// Resolver resolves Credentials for a bus caller. ProcRoot defaults to
// "/proc" and is overridable for tests.
type Resolver struct {
	Bus        BusQuerier
	ProcRoot   string
	HomeLookup HomeLookup
}

// New returns a Resolver reading process state under /proc and host user
// records via os/user.
func New(bus BusQuerier) *Resolver {
	return &Resolver{Bus: bus, ProcRoot: "/proc", HomeLookup: lookupHomeDir}
}

// lookupHomeDir resolves uid's home directory from the host's user
// database, the same one `getent passwd` or a login shell consults.
func lookupHomeDir(uid int) (string, error) {
	u, err := user.LookupId(strconv.Itoa(uid))
	if err != nil {
		return "", err
	}
	return u.HomeDir, nil
}

// Resolve handles three failure modes: UnknownCaller when the bus can no
// longer answer for sender, CallerGone when the process has exited by
// the time /proc is read, and a best-effort empty environment when
// /proc/<pid>/environ is unreadable.
func (r *Resolver) Resolve(ctx context.Context, sender string) (*Credentials, error) {
	uid, err := r.Bus.ConnectionUnixUser(sender)
	if err != nil {
		return nil, kapsuleerrors.Wrap(kapsuleerrors.UnknownCaller, err, "resolve caller uid")
	}
	pid, err := r.Bus.ConnectionUnixProcessID(sender)
	if err != nil {
		return nil, kapsuleerrors.Wrap(kapsuleerrors.UnknownCaller, err, "resolve caller pid")
	}

	procRoot := r.ProcRoot
	if procRoot == "" {
		procRoot = "/proc"
	}

	gid, err := r.primaryGID(procRoot, int(pid))
	if err != nil {
		return nil, err
	}

	homeLookup := r.HomeLookup
	if homeLookup == nil {
		homeLookup = lookupHomeDir
	}
	home, err := homeLookup(int(uid))
	if err != nil {
		return nil, kapsuleerrors.Wrap(kapsuleerrors.Internal, err, "resolve caller home directory")
	}

	env := r.captureEnv(procRoot, int(pid))

	return &Credentials{UID: int(uid), GID: gid, PID: int(pid), HomeDir: home, Env: env}, nil
}

func (r *Resolver) primaryGID(procRoot string, pid int) (int, error) {
	path := fmt.Sprintf("%s/%d/status", procRoot, pid)
	f, err := os.Open(path)
	if err != nil {
		return 0, kapsuleerrors.Wrap(kapsuleerrors.CallerGone, err, "caller process has exited")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "Gid:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		gid, err := strconv.Atoi(fields[1])
		if err != nil {
			return 0, kapsuleerrors.Wrap(kapsuleerrors.Internal, err, "parse Gid line")
		}
		return gid, nil
	}
	return 0, kapsuleerrors.New(kapsuleerrors.Internal, "no Gid line in "+path)
}

// captureEnv reads /proc/<pid>/environ (NUL-separated KEY=VALUE entries)
// and keeps only CapturedEnvVars. An unreadable environ file is not an
// error: the caller proceeds with an empty map.
func (r *Resolver) captureEnv(procRoot string, pid int) map[string]string {
	path := fmt.Sprintf("%s/%d/environ", procRoot, pid)
	raw, err := os.ReadFile(path)
	if err != nil {
		return map[string]string{}
	}

	wanted := make(map[string]bool, len(CapturedEnvVars))
	for _, k := range CapturedEnvVars {
		wanted[k] = true
	}

	env := map[string]string{}
	for _, entry := range strings.Split(string(raw), "\x00") {
		if entry == "" {
			continue
		}
		k, v, ok := strings.Cut(entry, "=")
		if !ok || !wanted[k] {
			continue
		}
		env[k] = v
	}
	return env
}
