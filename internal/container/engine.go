// SPDX-License-Identifier: MPL-2.0

// Package container provides an abstraction layer for container runtimes
// (Docker/Podman) driven through their CLIs.
package container

import (
	"context"
	"fmt"
)

// Engine defines the container operations the provisioner needs.
type Engine interface {
	// Name returns the engine name (docker or podman).
	Name() string
	// Available checks if the engine is usable on this host.
	Available() bool
	// Pull pulls an image by reference.
	Pull(ctx context.Context, image ImageRef) error
	// RunDetached starts a long-lived container and returns its ID.
	RunDetached(ctx context.Context, opts RunOptions) (string, error)
	// Exec runs a command inside a running container and returns its
	// combined output. A non-zero exit code is reported in the result,
	// not as an error.
	Exec(ctx context.Context, name ContainerName, command []string, opts ExecOptions) (*ExecResult, error)
	// Remove removes a container. Removing a container that does not
	// exist is success.
	Remove(ctx context.Context, name ContainerName, force bool) error
	// Logs returns up to tail lines of the container's log output
	// (0 means everything).
	Logs(ctx context.Context, name ContainerName, tail int) (string, error)
	// State inspects the container's process state.
	State(ctx context.Context, name ContainerName) (State, error)
}

// EngineType identifies the container engine type.
type EngineType string

const (
	EngineTypePodman EngineType = "podman"
	EngineTypeDocker EngineType = "docker"
)

// ErrEngineNotAvailable is returned when a container engine is not available.
type ErrEngineNotAvailable struct {
	Engine string
	Reason string
}

func (e *ErrEngineNotAvailable) Error() string {
	return fmt.Sprintf("container engine '%s' is not available: %s", e.Engine, e.Reason)
}

// NewEngine creates a container engine of the preferred type, falling back
// to the other CLI when the preferred one is not installed.
func NewEngine(preferredType EngineType) (Engine, error) {
	switch preferredType {
	case EngineTypePodman:
		engine := NewPodmanEngine()
		if engine.Available() {
			return engine, nil
		}
		docker := NewDockerEngine()
		if docker.Available() {
			return docker, nil
		}
		return nil, &ErrEngineNotAvailable{
			Engine: "podman",
			Reason: "podman is not installed or not accessible, and docker fallback is also not available",
		}

	case EngineTypeDocker:
		engine := NewDockerEngine()
		if engine.Available() {
			return engine, nil
		}
		podman := NewPodmanEngine()
		if podman.Available() {
			return podman, nil
		}
		return nil, &ErrEngineNotAvailable{
			Engine: "docker",
			Reason: "docker is not installed or not accessible, and podman fallback is also not available",
		}

	default:
		return nil, fmt.Errorf("unknown container engine type: %s", preferredType)
	}
}
