package facade

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frostyard/kapsule/internal/config"
	"github.com/frostyard/kapsule/internal/containers"
	"github.com/frostyard/kapsule/internal/incus"
	"github.com/frostyard/kapsule/internal/ptyxis"
	"github.com/frostyard/kapsule/pkg/kapsuleerrors"
)

// newFakeIncusClient starts a tiny Incus stand-in serving a fixed set of
// instances, mirroring internal/incus's own client_test.go pattern, so
// managerAdapter's synchronous methods can be exercised without a live bus
// connection (Connect dials the real system bus and is out of scope for a
// unit test).
func newFakeIncusClient(t *testing.T, instances []incus.Descriptor) *incus.Client {
	t.Helper()
	dir := t.TempDir()
	sock := filepath.Join(dir, "incus.socket")
	l, err := net.Listen("unix", sock)
	require.NoError(t, err)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/1.0/instances":
			raw, _ := json.Marshal(instances)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"type": "sync", "status_code": 200, "metadata": json.RawMessage(raw),
			})
		default:
			name := r.URL.Path[len("/1.0/instances/"):]
			for _, d := range instances {
				if d.Name == name {
					raw, _ := json.Marshal(d)
					_ = json.NewEncoder(w).Encode(map[string]interface{}{
						"type": "sync", "status_code": 200, "metadata": json.RawMessage(raw),
					})
					return
				}
			}
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"type": "error", "status_code": 404, "error": "not found",
			})
		}
	})

	srv := httptest.NewUnstartedServer(handler)
	srv.Listener.Close()
	srv.Listener = l
	srv.Start()
	t.Cleanup(srv.Close)

	return incus.New(sock)
}

func newTestFacade(t *testing.T, instances []incus.Descriptor) *Facade {
	client := newFakeIncusClient(t, instances)
	svc := containers.New(client, ptyxis.NoOp{})
	cfg := &config.Config{DefaultContainer: "primary", DefaultImage: "images:alpine/edge"}
	return New(svc, cfg)
}

func TestListContainersMapsDescriptorsToTuples(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	f := newTestFacade(t, []incus.Descriptor{
		{Name: "dev", Status: incus.StatusRunning, CreatedAt: created, Config: map[string]string{"user.kapsule.mode": "session"}},
	})

	tuples, derr := managerAdapter{f}.ListContainers()
	require.Nil(t, derr)
	require.Len(t, tuples, 1)
	assert.Equal(t, "dev", tuples[0].Name)
	assert.Equal(t, "Running", tuples[0].Status)
	assert.Equal(t, "session", tuples[0].Mode)
	assert.Equal(t, created.Format(time.RFC3339), tuples[0].CreatedAt)
}

func TestGetContainerInfoNotFoundMapsToDBusError(t *testing.T) {
	f := newTestFacade(t, nil)

	_, _, _, _, _, derr := managerAdapter{f}.GetContainerInfo("ghost")
	require.NotNil(t, derr)
	assert.Contains(t, derr.Name, "ContainerNotFound")
}

func TestGetConfigReturnsRecognizedKeys(t *testing.T) {
	f := newTestFacade(t, nil)

	cfg, derr := managerAdapter{f}.GetConfig()
	require.Nil(t, derr)
	assert.Equal(t, "primary", cfg["default_container"])
	assert.Equal(t, "images:alpine/edge", cfg["default_image"])
}

func TestToDBusErrorFallsBackToKindUnknown(t *testing.T) {
	derr := toDBusError(assertionError{})
	require.NotNil(t, derr)
	assert.Contains(t, derr.Name, "Unknown")
}

func TestToDBusErrorNilIsNil(t *testing.T) {
	assert.Nil(t, toDBusError(nil))
}

type assertionError struct{}

func (assertionError) Error() string { return "boom" }

var _ = context.Background
var _ = kapsuleerrors.Internal
