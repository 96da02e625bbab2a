// Package containers implements the Container Service: the policy layer
// translating each user-facing method into a composition of Backend
// Client calls, the kapsule container profile, and the prepare-enter
// algorithm.
//
// Grounded on compose-v2's composeService (pkg/compose/compose.go): a
// struct holding the backend API client plus whatever small config it
// needs, with one method per user-facing operation.
package containers

import (
	"context"
	"fmt"
	"time"

	"github.com/frostyard/kapsule/internal/images"
	"github.com/frostyard/kapsule/internal/incus"
	"github.com/frostyard/kapsule/internal/progress"
	"github.com/frostyard/kapsule/internal/ptyxis"
	"github.com/frostyard/kapsule/pkg/kapsuleerrors"
)

// stopTimeout is the grace period for a backend stop request.
const stopTimeout = 30 * time.Second

// waitCeiling bounds a wait on a backend state transition.
const waitCeiling = 120 * time.Second

// Service implements the Container Service.
type Service struct {
	backend   *incus.Client
	registrar ptyxis.Registrar
}

// New returns a Service bound to backend. registrar may be ptyxis.NoOp{}
// when Ptyxis is unavailable.
func New(backend *incus.Client, registrar ptyxis.Registrar) *Service {
	if registrar == nil {
		registrar = ptyxis.NoOp{}
	}
	return &Service{backend: backend, registrar: registrar}
}

// CreateContainer provisions a new kapsule container from an image,
// brings it up, and best-effort registers a terminal profile for it.
func (s *Service) CreateContainer(ctx context.Context, r progress.Reporter, name, image string, sessionMode, dbusMux bool, defaultImage string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if _, err := s.backend.GetInstance(ctx, name); err == nil {
		return kapsuleerrors.New(kapsuleerrors.ContainerAlreadyExists, fmt.Sprintf("container %q already exists", name))
	} else if !kapsuleerrors.IsNotFound(err) {
		return err
	}

	if image == "" {
		image = defaultImage
	}
	source, err := images.Parse(image)
	if err != nil {
		return err
	}
	mode, err := ResolveMode(sessionMode, dbusMux)
	if err != nil {
		return err
	}

	spec := buildSpec(name, source, mode)

	r.Info(fmt.Sprintf("creating container %q from %s", name, image))
	r.ProgressStart("create", "Creating", 0)
	handle, err := s.backend.CreateInstance(ctx, spec)
	if err != nil {
		r.ProgressEnd("create", false, err.Error())
		return err
	}
	if err := handle.Wait(ctx, waitCeiling, func(meta map[string]interface{}) {
		if msg, ok := meta["download_progress"].(string); ok {
			r.Info(msg, 1)
		}
	}); err != nil {
		r.ProgressEnd("create", false, err.Error())
		return err
	}
	r.ProgressEnd("create", true)

	r.Info("starting container")
	startHandle, err := s.backend.UpdateInstanceState(ctx, name, incus.ActionStart, false, waitCeiling)
	if err != nil {
		return err
	}
	if err := startHandle.Wait(ctx, waitCeiling, nil); err != nil {
		return err
	}

	if profileID, err := s.registrar.CreateProfile(name); err != nil {
		// Best-effort: a missing terminal integration never fails create.
		r.Warning("could not register a terminal profile: " + err.Error())
	} else if profileID != "" {
		_ = s.backend.UpdateInstanceConfig(ctx, name, incus.InstancePut{
			Config: map[string]string{"user.kapsule.ptyxis-profile": profileID},
		})
	}

	r.Success(fmt.Sprintf("container %q is ready", name))
	return nil
}

// StartContainer starts a stopped container. It is idempotent on an
// already running container.
func (s *Service) StartContainer(ctx context.Context, r progress.Reporter, name string) error {
	d, err := s.backend.GetInstance(ctx, name)
	if err != nil {
		return err
	}
	if d.Status == incus.StatusRunning {
		r.Success(fmt.Sprintf("container %q is already running", name))
		return nil
	}
	r.Info(fmt.Sprintf("starting container %q", name))
	handle, err := s.backend.UpdateInstanceState(ctx, name, incus.ActionStart, false, waitCeiling)
	if err != nil {
		return err
	}
	if err := handle.Wait(ctx, waitCeiling, nil); err != nil {
		return err
	}
	r.Success(fmt.Sprintf("container %q is running", name))
	return nil
}

// StopContainer stops a running container. It is idempotent on an
// already stopped container.
func (s *Service) StopContainer(ctx context.Context, r progress.Reporter, name string, force bool) error {
	d, err := s.backend.GetInstance(ctx, name)
	if err != nil {
		return err
	}
	if d.Status == incus.StatusStopped {
		r.Success(fmt.Sprintf("container %q is already stopped", name))
		return nil
	}
	r.Info(fmt.Sprintf("stopping container %q", name))
	handle, err := s.backend.UpdateInstanceState(ctx, name, incus.ActionStop, force, stopTimeout)
	if err != nil {
		return err
	}
	if err := handle.Wait(ctx, waitCeiling, nil); err != nil {
		return err
	}
	r.Success(fmt.Sprintf("container %q is stopped", name))
	return nil
}

// DeleteContainer removes a container, stopping it first when force is
// set and it is still running.
func (s *Service) DeleteContainer(ctx context.Context, r progress.Reporter, name string, force bool) error {
	d, err := s.backend.GetInstance(ctx, name)
	if err != nil {
		return err
	}
	if d.Status == incus.StatusRunning {
		if !force {
			return kapsuleerrors.New(kapsuleerrors.ContainerRunning,
				fmt.Sprintf("container %q is running; pass force to delete it", name))
		}
		r.Info(fmt.Sprintf("stopping container %q before delete", name))
		stopHandle, err := s.backend.UpdateInstanceState(ctx, name, incus.ActionStop, true, stopTimeout)
		if err != nil {
			return err
		}
		if err := stopHandle.Wait(ctx, waitCeiling, nil); err != nil {
			return err
		}
	}

	if profileID := d.Config["user.kapsule.ptyxis-profile"]; profileID != "" {
		if err := s.registrar.RemoveProfile(profileID); err != nil {
			r.Warning("could not remove terminal profile: " + err.Error())
		}
	}

	r.Info(fmt.Sprintf("deleting container %q", name))
	handle, err := s.backend.DeleteInstance(ctx, name)
	if err != nil {
		return err
	}
	if err := handle.Wait(ctx, waitCeiling, nil); err != nil {
		return err
	}
	r.Success(fmt.Sprintf("container %q deleted", name))
	return nil
}

// ListContainers implements the synchronous ListContainers bus method.
func (s *Service) ListContainers(ctx context.Context) ([]incus.Descriptor, error) {
	return s.backend.ListInstances(ctx)
}

// GetContainerInfo implements the synchronous GetContainerInfo bus method.
func (s *Service) GetContainerInfo(ctx context.Context, name string) (*incus.Descriptor, error) {
	return s.backend.GetInstance(ctx, name)
}

