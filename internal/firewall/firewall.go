// SPDX-License-Identifier: MPL-2.0

// Package firewall opens inbound ports through the host firewall CLI.
// Rule installation is order-independent and idempotent; a single reload
// commits all pending changes.
package firewall

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/charmbracelet/log"
)

type (
	// ExecCommandFunc is the function signature for creating exec.Cmd.
	// This allows injection of mock implementations for testing.
	ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// Option configures a Firewalld.
	Option func(*Firewalld)

	// Firewalld drives the firewall-cmd CLI.
	Firewalld struct {
		logger      *log.Logger
		execCommand ExecCommandFunc
		binary      string
	}
)

// WithExecCommand sets a custom exec command function for testing.
func WithExecCommand(fn ExecCommandFunc) Option {
	return func(f *Firewalld) { f.execCommand = fn }
}

// New creates a firewall manager.
func New(logger *log.Logger, opts ...Option) *Firewalld {
	f := &Firewalld{
		logger:      logger,
		execCommand: exec.CommandContext,
		binary:      "firewall-cmd",
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// AddPort adds a permanent TCP port rule. Adding a port that is already open
// is success: firewall-cmd reports ALREADY_ENABLED, which must not fail the
// phase or change the rule set.
func (f *Firewalld) AddPort(ctx context.Context, port int) error {
	out, err := f.run(ctx, "--permanent", fmt.Sprintf("--add-port=%d/tcp", port))
	if err != nil {
		if isAlreadyEnabled(out) {
			f.logger.Debug("port already open", "port", port)
			return nil
		}
		return fmt.Errorf("add port %d/tcp: %w: %s", port, err, strings.TrimSpace(out))
	}
	if isAlreadyEnabled(out) {
		f.logger.Debug("port already open", "port", port)
	}
	return nil
}

// OpenPorts adds every port then commits with a single reload.
func (f *Firewalld) OpenPorts(ctx context.Context, ports []int) error {
	for _, port := range ports {
		if err := f.AddPort(ctx, port); err != nil {
			return err
		}
		f.logger.Info("opened firewall port", "port", port)
	}
	return f.Reload(ctx)
}

// Reload applies all pending permanent rules.
func (f *Firewalld) Reload(ctx context.Context) error {
	out, err := f.run(ctx, "--reload")
	if err != nil {
		return fmt.Errorf("reload firewall: %w: %s", err, strings.TrimSpace(out))
	}
	return nil
}

func (f *Firewalld) run(ctx context.Context, args ...string) (string, error) {
	cmd := f.execCommand(ctx, f.binary, args...)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// isAlreadyEnabled matches firewall-cmd's duplicate-rule warning, which some
// versions print on stdout with exit 0 and others report as an error.
func isAlreadyEnabled(output string) bool {
	return strings.Contains(output, "ALREADY_ENABLED")
}
