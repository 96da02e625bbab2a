package containers

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/frostyard/kapsule/internal/incus"
)

// fakeBackend is a hand-written in-process stand-in for the Incus API,
// mirroring internal/incus's own client_test.go newTestServer pattern
// (an httptest server over a Unix socket) rather than a generated mock,
// per compose-v2's pkg/compose/*_test.go style.
type fakeBackend struct {
	mu        sync.Mutex
	instances map[string]*fakeInstance
	opKind    map[string]string
	opSeq     int

	// nestedRuntimeExitCode, when non-nil, is returned by every
	// docker/podman probe exec instead of the default success.
	nestedRuntimeExitCode *int
}

type fakeInstance struct {
	status  incus.InstanceStatus
	config  map[string]string
	devices map[string]incus.Device
	files   map[string]string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		instances: map[string]*fakeInstance{},
		opKind:    map[string]string{},
	}
}

// newFakeClient starts the fake backend behind an httptest server bound to
// a Unix socket and returns an *incus.Client dialed to it.
func newFakeClient(t *testing.T, b *fakeBackend) *incus.Client {
	t.Helper()
	dir := t.TempDir()
	sock := filepath.Join(dir, "incus.socket")
	l, err := net.Listen("unix", sock)
	require.NoError(t, err)

	srv := httptest.NewUnstartedServer(b)
	srv.Listener.Close()
	srv.Listener = l
	srv.Start()
	t.Cleanup(srv.Close)

	return incus.New(sock)
}

// seed registers an instance directly, bypassing CreateInstance, for tests
// that want to start from an already-provisioned container.
func (b *fakeBackend) seed(name string, status incus.InstanceStatus, files map[string]string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.instances[name] = &fakeInstance{
		status:  status,
		config:  map[string]string{},
		devices: map[string]incus.Device{},
		files:   files,
	}
}

func (b *fakeBackend) newOp(kind string) string {
	b.opSeq++
	id := fmt.Sprintf("op%d", b.opSeq)
	b.opKind[id] = kind
	return id
}

func instanceName(path string) string {
	rest := strings.TrimPrefix(path, "/1.0/instances/")
	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		return rest[:idx]
	}
	return rest
}

func writeEnvelope(w http.ResponseWriter, typ string, status int, metadata interface{}) {
	raw, _ := json.Marshal(metadata)
	env := map[string]interface{}{
		"type":        typ,
		"status_code": status,
		"metadata":    json.RawMessage(raw),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(env)
}

func writeError(w http.ResponseWriter, httpStatus int, message string) {
	w.WriteHeader(httpStatus)
	env := map[string]interface{}{
		"type":        "error",
		"status_code": httpStatus,
		"error":       message,
	}
	_ = json.NewEncoder(w).Encode(env)
}

func (b *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	path := r.URL.Path
	switch {
	case r.Method == http.MethodGet && path == "/1.0/instances":
		b.handleList(w)
	case r.Method == http.MethodPost && path == "/1.0/instances":
		b.handleCreate(w, r)
	case r.Method == http.MethodGet && strings.HasSuffix(path, "/files"):
		b.handlePullFile(w, r)
	case r.Method == http.MethodPost && strings.HasSuffix(path, "/files"):
		b.handlePushFile(w, r)
	case r.Method == http.MethodPost && strings.HasSuffix(path, "/exec"):
		b.handleExec(w, r)
	case r.Method == http.MethodPut && strings.HasSuffix(path, "/state"):
		b.handleState(w, r)
	case r.Method == http.MethodPatch && strings.HasPrefix(path, "/1.0/instances/"):
		b.handlePatch(w, r)
	case r.Method == http.MethodDelete && strings.HasPrefix(path, "/1.0/instances/"):
		b.handleDelete(w, r)
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/1.0/operations/"):
		b.handleWait(w, r)
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/1.0/instances/"):
		b.handleGet(w, r)
	default:
		writeError(w, http.StatusNotFound, "no handler for "+r.Method+" "+path)
	}
}

func (b *fakeBackend) descriptor(name string, inst *fakeInstance) incus.Descriptor {
	return incus.Descriptor{
		Name:    name,
		Status:  inst.status,
		Config:  inst.config,
		Devices: inst.devices,
	}
}

func (b *fakeBackend) handleList(w http.ResponseWriter) {
	out := make([]incus.Descriptor, 0, len(b.instances))
	for name, inst := range b.instances {
		out = append(out, b.descriptor(name, inst))
	}
	writeEnvelope(w, "sync", 200, out)
}

func (b *fakeBackend) handleGet(w http.ResponseWriter, r *http.Request) {
	name := instanceName(r.URL.Path)
	inst, ok := b.instances[name]
	if !ok {
		writeError(w, http.StatusNotFound, "no such instance "+name)
		return
	}
	writeEnvelope(w, "sync", 200, b.descriptor(name, inst))
}

func (b *fakeBackend) handleCreate(w http.ResponseWriter, r *http.Request) {
	var spec incus.InstancePost
	_ = json.NewDecoder(r.Body).Decode(&spec)
	if _, exists := b.instances[spec.Name]; exists {
		writeError(w, http.StatusConflict, "instance already exists")
		return
	}
	cfg := map[string]string{}
	for k, v := range spec.Config {
		cfg[k] = v
	}
	devs := map[string]incus.Device{}
	for k, v := range spec.Devices {
		devs[k] = v
	}
	b.instances[spec.Name] = &fakeInstance{
		status:  incus.StatusStopped,
		config:  cfg,
		devices: devs,
		files:   map[string]string{},
	}
	id := b.newOp("create")
	writeEnvelope(w, "async", 202, map[string]interface{}{"id": id, "status": "Running"})
}

func (b *fakeBackend) handleState(w http.ResponseWriter, r *http.Request) {
	name := instanceName(r.URL.Path)
	inst, ok := b.instances[name]
	if !ok {
		writeError(w, http.StatusNotFound, "no such instance "+name)
		return
	}
	var put incus.InstanceStatePut
	_ = json.NewDecoder(r.Body).Decode(&put)
	switch put.Action {
	case incus.ActionStart:
		inst.status = incus.StatusRunning
	case incus.ActionStop:
		inst.status = incus.StatusStopped
	}
	id := b.newOp("state")
	writeEnvelope(w, "async", 202, map[string]interface{}{"id": id, "status": "Running"})
}

func (b *fakeBackend) handlePatch(w http.ResponseWriter, r *http.Request) {
	name := instanceName(r.URL.Path)
	inst, ok := b.instances[name]
	if !ok {
		writeError(w, http.StatusNotFound, "no such instance "+name)
		return
	}
	var put incus.InstancePut
	_ = json.NewDecoder(r.Body).Decode(&put)
	for k, v := range put.Config {
		inst.config[k] = v
	}
	for k, v := range put.Devices {
		inst.devices[k] = v
	}
	writeEnvelope(w, "sync", 200, nil)
}

func (b *fakeBackend) handleDelete(w http.ResponseWriter, r *http.Request) {
	name := instanceName(r.URL.Path)
	if _, ok := b.instances[name]; !ok {
		writeError(w, http.StatusNotFound, "no such instance "+name)
		return
	}
	delete(b.instances, name)
	id := b.newOp("delete")
	writeEnvelope(w, "async", 202, map[string]interface{}{"id": id, "status": "Running"})
}

func (b *fakeBackend) handlePullFile(w http.ResponseWriter, r *http.Request) {
	name := instanceName(r.URL.Path)
	inst, ok := b.instances[name]
	if !ok {
		writeError(w, http.StatusNotFound, "no such instance "+name)
		return
	}
	path := r.URL.Query().Get("path")
	content, ok := inst.files[path]
	if !ok {
		writeError(w, http.StatusNotFound, "no such file "+path)
		return
	}
	writeEnvelope(w, "sync", 200, content)
}

type pushFileBody struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (b *fakeBackend) handlePushFile(w http.ResponseWriter, r *http.Request) {
	name := instanceName(r.URL.Path)
	inst, ok := b.instances[name]
	if !ok {
		writeError(w, http.StatusNotFound, "no such instance "+name)
		return
	}
	var body pushFileBody
	_ = json.NewDecoder(r.Body).Decode(&body)
	inst.files[body.Path] = body.Content
	writeEnvelope(w, "sync", 200, nil)
}

type execBody struct {
	Command []string `json:"command"`
}

// handleExec simulates just enough of the provisioning commands
// PrepareEnter issues (useradd/adduser, ln -sfn) to let prepareenter_test.go
// assert on resulting container filesystem state, plus a configurable
// nested-runtime probe outcome for nesting_test.go.
func (b *fakeBackend) handleExec(w http.ResponseWriter, r *http.Request) {
	name := instanceName(r.URL.Path)
	var body execBody
	_ = json.NewDecoder(r.Body).Decode(&body)

	inst := b.instances[name]
	exitCode := 0
	if inst != nil && len(body.Command) > 0 {
		exitCode = b.applyExec(inst, body.Command)
	}

	id := b.newOp("exec:" + strconv.Itoa(exitCode))
	writeEnvelope(w, "async", 202, map[string]interface{}{"id": id, "status": "Running"})
}

// applyExec applies one exec'd command to inst and returns its exit code.
// A docker or podman probe returns *nestedRuntimeExitCode when that field
// is set and 0 when it is nil; every other command exits 0.
func (b *fakeBackend) applyExec(inst *fakeInstance, command []string) int {
	switch command[0] {
	case "useradd":
		uid, gid, username := command[2], command[4], command[len(command)-1]
		inst.files["/etc/passwd"] += fmt.Sprintf("%s:x:%s:%s::/home/%s:/bin/bash\n", username, uid, gid, username)
		return 0
	case "adduser":
		uid, username := command[2], command[len(command)-1]
		inst.files["/etc/passwd"] += fmt.Sprintf("%s:x:%s:%s::/home/%s:/bin/sh\n", username, uid, uid, username)
		return 0
	case "usermod", "addgroup", "apt-get", "dnf", "pacman", "apk", "mkdir":
		return 0
	case "ln":
		target, source := command[len(command)-1], command[len(command)-2]
		inst.files["symlink:"+target] = source
		return 0
	case "docker", "podman":
		if b.nestedRuntimeExitCode != nil {
			return *b.nestedRuntimeExitCode
		}
		return 0
	default:
		return 0
	}
}

func (b *fakeBackend) handleWait(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/1.0/operations/"), "/wait")
	kind := b.opKind[id]
	meta := map[string]interface{}{"id": id, "status": "Success"}
	if strings.HasPrefix(kind, "exec:") {
		code, _ := strconv.Atoi(strings.TrimPrefix(kind, "exec:"))
		meta["metadata"] = map[string]interface{}{"return": float64(code)}
	}
	writeEnvelope(w, "sync", 200, meta)
}
