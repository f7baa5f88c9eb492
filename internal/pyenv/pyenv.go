// SPDX-License-Identifier: MPL-2.0

// Package pyenv builds the application's Python virtual environment and
// installs its package set with the interpreter pinned at creation time.
package pyenv

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"firstboot-cli/internal/issue"
	"firstboot-cli/internal/retry"
)

// ErrEssentialPackage is the sentinel error wrapped by InstallError when a
// required package cannot be installed.
var ErrEssentialPackage = errors.New("essential python package install failed")

type (
	// ExecCommandFunc is the function signature for creating exec.Cmd.
	// This allows injection of mock implementations for testing.
	ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// Settings describes the environment to build.
	Settings struct {
		// Interpreter is the host interpreter used to create the venv.
		Interpreter string
		// VenvDir is where the environment lives.
		VenvDir string
		// Essential packages abort provisioning when they cannot be
		// installed; Optional ones only log a warning.
		Essential []string
		Optional  []string
	}

	// InstallError reports a required package that could not be installed.
	InstallError struct {
		Package string
		Cause   error
	}

	// Option configures a Builder.
	Option func(*Builder)

	// Builder creates the venv and installs packages into it.
	Builder struct {
		settings    Settings
		logger      *log.Logger
		execCommand ExecCommandFunc
		attempts    int
		baseDelay   time.Duration
	}
)

// Error implements the error interface.
func (e *InstallError) Error() string {
	return fmt.Sprintf("install python package %q: %v", e.Package, e.Cause)
}

// Unwrap returns the wrapped errors for errors.Is/As matching.
func (e *InstallError) Unwrap() []error { return []error{ErrEssentialPackage, e.Cause} }

// WithExecCommand sets a custom exec command function for testing.
func WithExecCommand(fn ExecCommandFunc) Option {
	return func(b *Builder) { b.execCommand = fn }
}

// WithRetryPolicy overrides install retry attempts and base delay.
func WithRetryPolicy(attempts int, baseDelay time.Duration) Option {
	return func(b *Builder) {
		b.attempts = attempts
		b.baseDelay = baseDelay
	}
}

// NewBuilder creates a venv builder.
func NewBuilder(settings Settings, logger *log.Logger, opts ...Option) *Builder {
	b := &Builder{
		settings:    settings,
		logger:      logger,
		execCommand: exec.CommandContext,
		attempts:    3,
		baseDelay:   10 * time.Second,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Ensure creates the virtual environment if missing and installs the
// package set. An existing environment is reused as-is; pip itself makes
// repeated installs no-ops, so a rerun converges without touching anything
// already satisfied.
func (b *Builder) Ensure(ctx context.Context) error {
	if err := b.createVenv(ctx); err != nil {
		return err
	}
	if err := b.upgradePip(ctx); err != nil {
		b.logger.Warn("pip self-upgrade failed, continuing with bundled pip", "err", err)
	}
	return b.installPackages(ctx)
}

func (b *Builder) createVenv(ctx context.Context) error {
	if _, err := os.Stat(b.pythonPath()); err == nil {
		b.logger.Info("virtual environment already exists", "dir", b.settings.VenvDir)
		return nil
	}
	b.logger.Info("creating virtual environment",
		"interpreter", b.settings.Interpreter, "dir", b.settings.VenvDir)
	out, err := b.run(ctx, b.settings.Interpreter, "-m", "venv", b.settings.VenvDir)
	if err != nil {
		return issue.NewContext().
			WithOperation("create python virtual environment").
			WithResource(b.settings.VenvDir).
			WithSuggestion(fmt.Sprintf("Check that %s is installed and on PATH", b.settings.Interpreter)).
			WithDetail(strings.TrimSpace(out)).
			Wrap(err).
			Err()
	}
	return nil
}

func (b *Builder) upgradePip(ctx context.Context) error {
	out, err := b.run(ctx, b.pipPath(), "install", "--upgrade", "pip")
	if err != nil {
		return fmt.Errorf("%w: %s", err, lastLine(out))
	}
	return nil
}

// installPackages installs each package with retries. Essential failures
// abort; optional failures log and continue.
func (b *Builder) installPackages(ctx context.Context) error {
	for _, pkg := range b.settings.Essential {
		if err := b.installOne(ctx, pkg); err != nil {
			return issue.NewContext().
				WithOperation("install python packages").
				WithResource(pkg).
				WithSuggestion("Check network reachability to the package index").
				WithSuggestion(fmt.Sprintf("Try manually: %s install %s", b.pipPath(), pkg)).
				Wrap(&InstallError{Package: pkg, Cause: err}).
				Err()
		}
	}
	for _, pkg := range b.settings.Optional {
		if err := b.installOne(ctx, pkg); err != nil {
			b.logger.Warn("optional python package skipped", "package", pkg, "err", err)
		}
	}
	return nil
}

func (b *Builder) installOne(ctx context.Context, pkg string) error {
	return retry.Do(ctx, b.attempts, b.baseDelay, func(attempt int) error {
		if attempt > 0 {
			b.logger.Warn("retrying python package install", "package", pkg, "attempt", attempt+1)
		}
		out, err := b.run(ctx, b.pipPath(), "install", pkg)
		if err != nil {
			return fmt.Errorf("pip install %s: %w: %s", pkg, err, lastLine(out))
		}
		b.logger.Info("python package installed", "package", pkg)
		return nil
	})
}

func (b *Builder) run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := b.execCommand(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

func (b *Builder) pythonPath() string {
	return filepath.Join(b.settings.VenvDir, "bin", "python")
}

func (b *Builder) pipPath() string {
	return filepath.Join(b.settings.VenvDir, "bin", "pip")
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return lines[len(lines)-1]
}
