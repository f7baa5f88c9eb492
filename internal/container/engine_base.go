// SPDX-License-Identifier: MPL-2.0

package container

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
)

var (
	// ErrInvalidContainerName is the sentinel error wrapped by InvalidContainerNameError.
	ErrInvalidContainerName = errors.New("invalid container name")

	// ErrInvalidImageRef is the sentinel error wrapped by InvalidImageRefError.
	ErrInvalidImageRef = errors.New("invalid image reference")
)

type (
	// ExecCommandFunc is the function signature for creating exec.Cmd.
	// This allows injection of mock implementations for testing.
	ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// BaseCLIEngineOption configures a BaseCLIEngine.
	BaseCLIEngineOption func(*BaseCLIEngine)

	// BaseCLIEngine provides the common implementation for CLI-based
	// container engines. Docker and Podman engines embed this struct;
	// everything except Available() is shared.
	BaseCLIEngine struct {
		name        string
		binaryPath  string
		execCommand ExecCommandFunc
	}

	// ContainerName identifies a named container instance.
	ContainerName string

	// InvalidContainerNameError is returned when a ContainerName is empty.
	InvalidContainerNameError struct {
		Value ContainerName
	}

	// ImageRef is a container image reference.
	ImageRef string

	// InvalidImageRefError is returned when an ImageRef is empty.
	InvalidImageRefError struct {
		Value ImageRef
	}

	// VolumeMount is a bind mount in host:container form.
	VolumeMount struct {
		HostPath      string
		ContainerPath string
	}

	// RunOptions describes a detached container launch.
	RunOptions struct {
		Image   ImageRef
		Name    ContainerName
		Env     map[string]string
		Volumes []VolumeMount
		// Ports are host:container TCP mappings.
		Ports []string
	}

	// ExecOptions customizes an in-container command.
	ExecOptions struct {
		// Stdin is piped to the command when non-empty (SQL scripts).
		Stdin string
		// User runs the command as a specific in-container user.
		User string
	}

	// ExecResult is the outcome of an in-container command.
	ExecResult struct {
		ExitCode int
		Output   string
	}

	// State is a container's process state as reported by inspect.
	State struct {
		Exists   bool
		Running  bool
		Status   string
		ExitCode int
	}
)

// Error implements the error interface.
func (e *InvalidContainerNameError) Error() string {
	return fmt.Sprintf("invalid container name %q: must be non-empty", e.Value)
}

// Unwrap returns ErrInvalidContainerName for errors.Is compatibility.
func (e *InvalidContainerNameError) Unwrap() error { return ErrInvalidContainerName }

// String returns the string representation of the ContainerName.
func (n ContainerName) String() string { return string(n) }

// Validate returns an error if the ContainerName is empty or whitespace-only.
func (n ContainerName) Validate() error {
	if strings.TrimSpace(string(n)) == "" {
		return &InvalidContainerNameError{Value: n}
	}
	return nil
}

// Error implements the error interface.
func (e *InvalidImageRefError) Error() string {
	return fmt.Sprintf("invalid image reference %q: must be non-empty", e.Value)
}

// Unwrap returns ErrInvalidImageRef for errors.Is compatibility.
func (e *InvalidImageRefError) Unwrap() error { return ErrInvalidImageRef }

// String returns the string representation of the ImageRef.
func (r ImageRef) String() string { return string(r) }

// Validate returns an error if the ImageRef is empty or whitespace-only.
func (r ImageRef) Validate() error {
	if strings.TrimSpace(string(r)) == "" {
		return &InvalidImageRefError{Value: r}
	}
	return nil
}

// String returns the mount in "host:container" format.
func (v VolumeMount) String() string {
	return v.HostPath + ":" + v.ContainerPath
}

// Validate returns an error if either side of the RunOptions is unusable.
func (o RunOptions) Validate() error {
	var errs []error
	if err := o.Image.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := o.Name.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// --- Option Functions ---

// WithExecCommand sets a custom exec command function for testing.
func WithExecCommand(fn ExecCommandFunc) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.execCommand = fn
	}
}

// NewBaseCLIEngine creates a new base engine with the given binary path.
func NewBaseCLIEngine(name, binaryPath string, opts ...BaseCLIEngineOption) *BaseCLIEngine {
	e := &BaseCLIEngine{
		name:        name,
		binaryPath:  binaryPath,
		execCommand: exec.CommandContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name returns the engine name.
func (e *BaseCLIEngine) Name() string { return e.name }

// BinaryPath returns the path to the container engine binary.
func (e *BaseCLIEngine) BinaryPath() string { return e.binaryPath }

// --- Argument Builders ---

// PullArgs constructs arguments for an image pull.
func (e *BaseCLIEngine) PullArgs(image ImageRef) []string {
	return []string{"pull", string(image)}
}

// RunDetachedArgs constructs arguments for a detached run.
// Env vars are emitted in sorted key order so commands are reproducible.
//
// Generated command: <binary> run -d --name <name> [options] <image>
func (e *BaseCLIEngine) RunDetachedArgs(opts RunOptions) []string {
	args := []string{"run", "-d", "--name", string(opts.Name)}

	keys := make([]string, 0, len(opts.Env))
	for k := range opts.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, opts.Env[k]))
	}

	for _, v := range opts.Volumes {
		args = append(args, "-v", v.String())
	}

	for _, p := range opts.Ports {
		args = append(args, "-p", p)
	}

	args = append(args, string(opts.Image))
	return args
}

// ExecArgs constructs arguments for an in-container command.
func (e *BaseCLIEngine) ExecArgs(name ContainerName, command []string, opts ExecOptions) []string {
	args := []string{"exec"}
	if opts.Stdin != "" {
		args = append(args, "-i")
	}
	if opts.User != "" {
		args = append(args, "-u", opts.User)
	}
	args = append(args, string(name))
	args = append(args, command...)
	return args
}

// RemoveArgs constructs arguments for a container remove.
func (e *BaseCLIEngine) RemoveArgs(name ContainerName, force bool) []string {
	args := []string{"rm"}
	if force {
		args = append(args, "-f")
	}
	args = append(args, string(name))
	return args
}

// LogsArgs constructs arguments for a log fetch.
func (e *BaseCLIEngine) LogsArgs(name ContainerName, tail int) []string {
	args := []string{"logs"}
	if tail > 0 {
		args = append(args, "--tail", strconv.Itoa(tail))
	}
	args = append(args, string(name))
	return args
}

// StateArgs constructs arguments for a state inspect.
func (e *BaseCLIEngine) StateArgs(name ContainerName) []string {
	return []string{"inspect", "--format", "{{.State.Status}} {{.State.ExitCode}}", string(name)}
}

// --- Engine Operations (shared by Docker and Podman) ---

// Pull pulls an image by reference.
func (e *BaseCLIEngine) Pull(ctx context.Context, image ImageRef) error {
	if err := image.Validate(); err != nil {
		return err
	}
	out, err := e.runCombined(ctx, e.PullArgs(image)...)
	if err != nil {
		return fmt.Errorf("pull %s: %w: %s", image, err, lastLine(out))
	}
	return nil
}

// RunDetached starts a long-lived container and returns its ID.
func (e *BaseCLIEngine) RunDetached(ctx context.Context, opts RunOptions) (string, error) {
	if err := opts.Validate(); err != nil {
		return "", err
	}
	out, err := e.runCombined(ctx, e.RunDetachedArgs(opts)...)
	if err != nil {
		return "", fmt.Errorf("run %s: %w: %s", opts.Name, err, lastLine(out))
	}
	return strings.TrimSpace(out), nil
}

// Exec runs a command inside a running container. A non-zero exit code is
// captured in the result, not returned as an error; only infrastructure
// failures (binary missing, context cancelled) produce an error.
func (e *BaseCLIEngine) Exec(ctx context.Context, name ContainerName, command []string, opts ExecOptions) (*ExecResult, error) {
	if err := name.Validate(); err != nil {
		return nil, err
	}

	cmd := e.createCommand(ctx, e.ExecArgs(name, command, opts)...)
	if opts.Stdin != "" {
		cmd.Stdin = strings.NewReader(opts.Stdin)
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	result := &ExecResult{Output: out.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("exec in %s: %w", name, err)
		}
		result.ExitCode = exitErr.ExitCode()
	}
	return result, nil
}

// Remove removes a container. Removing an absent container is success:
// re-runs must be able to clear a stale instance unconditionally.
func (e *BaseCLIEngine) Remove(ctx context.Context, name ContainerName, force bool) error {
	if err := name.Validate(); err != nil {
		return err
	}
	out, err := e.runCombined(ctx, e.RemoveArgs(name, force)...)
	if err != nil {
		if isNoSuchContainer(out) {
			return nil
		}
		return fmt.Errorf("remove %s: %w: %s", name, err, lastLine(out))
	}
	return nil
}

// Logs returns up to tail lines of the container's combined log output.
func (e *BaseCLIEngine) Logs(ctx context.Context, name ContainerName, tail int) (string, error) {
	if err := name.Validate(); err != nil {
		return "", err
	}
	out, err := e.runCombined(ctx, e.LogsArgs(name, tail)...)
	if err != nil {
		return "", fmt.Errorf("logs %s: %w: %s", name, err, lastLine(out))
	}
	return out, nil
}

// State inspects the container's process state. A container that does not
// exist yields State{Exists: false} without error.
func (e *BaseCLIEngine) State(ctx context.Context, name ContainerName) (State, error) {
	if err := name.Validate(); err != nil {
		return State{}, err
	}
	out, err := e.runCombined(ctx, e.StateArgs(name)...)
	if err != nil {
		if isNoSuchContainer(out) {
			return State{Exists: false}, nil
		}
		return State{}, fmt.Errorf("inspect %s: %w: %s", name, err, lastLine(out))
	}

	fields := strings.Fields(strings.TrimSpace(out))
	st := State{Exists: true}
	if len(fields) > 0 {
		st.Status = fields[0]
		st.Running = fields[0] == "running"
	}
	if len(fields) > 1 {
		if code, err := strconv.Atoi(fields[1]); err == nil {
			st.ExitCode = code
		}
	}
	return st, nil
}

// --- Command Execution ---

// createCommand creates an exec.Cmd for the given arguments.
func (e *BaseCLIEngine) createCommand(ctx context.Context, args ...string) *exec.Cmd {
	return e.execCommand(ctx, e.binaryPath, args...)
}

// runCombined executes a command and returns combined stdout/stderr.
func (e *BaseCLIEngine) runCombined(ctx context.Context, args ...string) (string, error) {
	cmd := e.createCommand(ctx, args...)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// isNoSuchContainer matches the docker and podman "container not found"
// messages ("No such container", "no container with name or ID").
func isNoSuchContainer(output string) bool {
	lower := strings.ToLower(output)
	return strings.Contains(lower, "no such container") ||
		strings.Contains(lower, "no container with name")
}

// lastLine returns the last non-empty line of command output for error
// messages, keeping multi-screen CLI output out of wrapped errors.
func lastLine(output string) string {
	lines := strings.Split(strings.TrimRight(output, "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if trimmed := strings.TrimSpace(lines[i]); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
