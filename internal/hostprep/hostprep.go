// SPDX-License-Identifier: MPL-2.0

// Package hostprep brings the host to a state where the container runtime
// and the scripting runtime are available, tolerating transient network and
// package-mirror unavailability.
package hostprep

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"firstboot-cli/internal/issue"
	"firstboot-cli/internal/retry"
)

// ErrEssentialPackage is the sentinel error wrapped by EssentialPackageError.
var ErrEssentialPackage = errors.New("essential package install failed")

type (
	// ExecCommandFunc is the function signature for creating exec.Cmd.
	// This allows injection of mock implementations for testing.
	ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// LookPathFunc resolves a binary on PATH.
	LookPathFunc func(name string) (string, error)

	// LookupHostFunc resolves a hostname.
	LookupHostFunc func(ctx context.Context, host string) ([]string, error)

	// Option configures a Manager.
	Option func(*Manager)

	// Manager executes the host preparation phase.
	Manager struct {
		logger      *log.Logger
		execCommand ExecCommandFunc
		lookPath    LookPathFunc
		lookupHost  LookupHostFunc
		pkgTool     string
		attempts    int
		baseDelay   time.Duration
	}

	// EssentialPackageError is returned when an essential package cannot be
	// installed after all retries.
	EssentialPackageError struct {
		Package string
		Cause   error
	}
)

// Error implements the error interface.
func (e *EssentialPackageError) Error() string {
	return fmt.Sprintf("essential package %q could not be installed: %v", e.Package, e.Cause)
}

// Unwrap returns the chain for errors.Is compatibility.
func (e *EssentialPackageError) Unwrap() []error {
	return []error{ErrEssentialPackage, e.Cause}
}

// WithExecCommand sets a custom exec command function for testing.
func WithExecCommand(fn ExecCommandFunc) Option {
	return func(m *Manager) { m.execCommand = fn }
}

// WithLookPath sets a custom PATH resolver for testing.
func WithLookPath(fn LookPathFunc) Option {
	return func(m *Manager) { m.lookPath = fn }
}

// WithLookupHost sets a custom host resolver for testing.
func WithLookupHost(fn LookupHostFunc) Option {
	return func(m *Manager) { m.lookupHost = fn }
}

// WithRetryPolicy overrides attempts and base delay for package installs.
func WithRetryPolicy(attempts int, baseDelay time.Duration) Option {
	return func(m *Manager) {
		m.attempts = attempts
		m.baseDelay = baseDelay
	}
}

// NewManager creates a host preparation manager.
func NewManager(logger *log.Logger, opts ...Option) *Manager {
	m := &Manager{
		logger:      logger,
		execCommand: exec.CommandContext,
		lookPath:    exec.LookPath,
		pkgTool:     "dnf",
		attempts:    3,
		baseDelay:   10 * time.Second,
	}
	m.lookupHost = func(ctx context.Context, host string) ([]string, error) {
		return net.DefaultResolver.LookupHost(ctx, host)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// WaitForNetwork polls name resolution for probeHost until it succeeds or
// the timeout elapses. This is a best-effort gate: the caller logs the
// timeout and proceeds anyway.
func (m *Manager) WaitForNetwork(ctx context.Context, probeHost string, timeout time.Duration) error {
	m.logger.Info("waiting for network", "probe", probeHost, "timeout", timeout)
	return retry.Poll(ctx, 5*time.Second, timeout, func(ctx context.Context) (bool, error) {
		if _, err := m.lookupHost(ctx, probeHost); err != nil {
			return false, nil
		}
		return true, nil
	})
}

// DisableRepos disables known-problematic package repositories before any
// index refresh. Failures are logged, never fatal: a repo that cannot be
// disabled at worst slows the following installs down.
func (m *Manager) DisableRepos(ctx context.Context, repos []string) {
	for _, repo := range repos {
		out, err := m.run(ctx, m.pkgTool, "config-manager", "--set-disabled", repo)
		if err != nil {
			m.logger.Warn("could not disable repo", "repo", repo, "err", err, "output", strings.TrimSpace(out))
			continue
		}
		m.logger.Debug("disabled repo", "repo", repo)
	}
}

// GrowFilesystem expands the root partition and filesystem to fill the boot
// volume. Best effort: cloud images that are already full-size fail the
// growpart step with "NOCHANGE", which is fine.
func (m *Manager) GrowFilesystem(ctx context.Context, device string, partition string, mountpoint string) {
	out, err := m.run(ctx, "growpart", device, partition)
	if err != nil && !strings.Contains(out, "NOCHANGE") {
		m.logger.Warn("growpart failed", "device", device, "err", err, "output", strings.TrimSpace(out))
		return
	}
	if out, err := m.run(ctx, "xfs_growfs", mountpoint); err != nil {
		m.logger.Warn("xfs_growfs failed", "mountpoint", mountpoint, "err", err, "output", strings.TrimSpace(out))
	}
}

// InstallPackages installs the essential and optional package sets. Every
// install is independently retried with linear backoff. An optional package
// that still fails is a logged warning; an essential one aborts the phase.
func (m *Manager) InstallPackages(ctx context.Context, essential, optional []string) error {
	for _, pkg := range essential {
		if err := m.installOne(ctx, pkg); err != nil {
			return &EssentialPackageError{Package: pkg, Cause: err}
		}
	}
	for _, pkg := range optional {
		if err := m.installOne(ctx, pkg); err != nil {
			m.logger.Warn("optional package install failed, continuing", "package", pkg, "err", err)
		}
	}
	return nil
}

// VerifyTool confirms a binary is on PATH after installation. Missing at
// this point is fatal with no further retry: the install attempts have
// already been exhausted.
func (m *Manager) VerifyTool(name string) error {
	if _, err := m.lookPath(name); err != nil {
		return issue.NewContext().
			WithOperation("verify essential tool").
			WithResource(name).
			WithSuggestion(fmt.Sprintf("Install %s manually and re-run provisioning", name)).
			WithSuggestion("Check the package install errors earlier in this log").
			Wrap(err).
			Err()
	}
	return nil
}

func (m *Manager) installOne(ctx context.Context, pkg string) error {
	m.logger.Info("installing package", "package", pkg)
	return retry.Do(ctx, m.attempts, m.baseDelay, func(attempt int) error {
		if attempt > 0 {
			m.logger.Warn("retrying package install", "package", pkg, "attempt", attempt+1)
		}
		out, err := m.run(ctx, m.pkgTool, "install", "-y", pkg)
		if err != nil {
			// "already installed" can surface as a failure on some
			// dnf configurations; it is success for our purposes.
			if strings.Contains(out, "is already installed") || strings.Contains(out, "Nothing to do") {
				return nil
			}
			return fmt.Errorf("install %s: %w: %s", pkg, err, lastLine(out))
		}
		return nil
	})
}

func (m *Manager) run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := m.execCommand(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

func lastLine(output string) string {
	lines := strings.Split(strings.TrimRight(output, "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if trimmed := strings.TrimSpace(lines[i]); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
