// SPDX-License-Identifier: MPL-2.0

package sysunits

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/coreos/go-systemd/v22/dbus"

	"firstboot-cli/internal/issue"
)

type (
	// Conn is the slice of the systemd D-Bus API the manager uses.
	Conn interface {
		ReloadContext(ctx context.Context) error
		EnableUnitFilesContext(ctx context.Context, files []string, runtime, force bool) (bool, []dbus.EnableUnitFileChange, error)
		StartUnitContext(ctx context.Context, name, mode string, ch chan<- string) (int, error)
		Close()
	}

	// ConnFactory opens a systemd connection. Injected for tests, which have
	// no system bus.
	ConnFactory func(ctx context.Context) (Conn, error)

	// Option configures a Manager.
	Option func(*Manager)

	// Manager writes unit files and registers them with systemd.
	Manager struct {
		unitDir string
		logger  *log.Logger
		newConn ConnFactory
	}
)

// WithConnFactory sets a custom systemd connection factory for testing.
func WithConnFactory(fn ConnFactory) Option {
	return func(m *Manager) { m.newConn = fn }
}

// NewManager creates a unit manager writing into unitDir.
func NewManager(unitDir string, logger *log.Logger, opts ...Option) *Manager {
	m := &Manager{
		unitDir: unitDir,
		logger:  logger,
		newConn: func(ctx context.Context) (Conn, error) {
			return dbus.NewSystemConnectionContext(ctx)
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Install renders and writes every unit, reloads the daemon when any file
// changed, then enables and starts each service. Writes compare against the
// on-disk content first, so a rerun with unchanged definitions performs no
// reload and the enable/start calls are no-ops systemd absorbs.
func (m *Manager) Install(ctx context.Context, units []Unit) error {
	changed := false
	for _, u := range units {
		wrote, err := m.writeUnit(u)
		if err != nil {
			return err
		}
		changed = changed || wrote
	}

	conn, err := m.newConn(ctx)
	if err != nil {
		return issue.NewContext().
			WithOperation("register services").
			WithResource(m.unitDir).
			WithSuggestion("Check that systemd is running and D-Bus is reachable").
			Wrap(err).
			Err()
	}
	defer conn.Close()

	if changed {
		if err := conn.ReloadContext(ctx); err != nil {
			return fmt.Errorf("systemd daemon-reload: %w", err)
		}
	}

	for _, u := range units {
		if err := m.enableAndStart(ctx, conn, u.Name); err != nil {
			return err
		}
	}
	return nil
}

// writeUnit writes the rendered unit file, reporting whether the on-disk
// content changed.
func (m *Manager) writeUnit(u Unit) (bool, error) {
	content, err := u.Render()
	if err != nil {
		return false, err
	}
	path := filepath.Join(m.unitDir, u.Name)

	existing, err := os.ReadFile(path)
	if err == nil && bytes.Equal(existing, []byte(content)) {
		m.logger.Debug("unit unchanged", "unit", u.Name)
		return false, nil
	}

	if err := os.MkdirAll(m.unitDir, 0o755); err != nil {
		return false, fmt.Errorf("create unit directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("write unit %s: %w", u.Name, err)
	}
	m.logger.Info("unit written", "unit", u.Name, "path", path)
	return true, nil
}

func (m *Manager) enableAndStart(ctx context.Context, conn Conn, name string) error {
	if _, _, err := conn.EnableUnitFilesContext(ctx, []string{name}, false, true); err != nil {
		return fmt.Errorf("enable %s: %w", name, err)
	}

	done := make(chan string, 1)
	if _, err := conn.StartUnitContext(ctx, name, "replace", done); err != nil {
		return fmt.Errorf("start %s: %w", name, err)
	}
	select {
	case result := <-done:
		if result != "done" {
			return issue.NewContext().
				WithOperation("start service").
				WithResource(name).
				WithSuggestion(fmt.Sprintf("journalctl -u %s for the failure detail", name)).
				Wrap(fmt.Errorf("start job finished with %q", result)).
				Err()
		}
	case <-ctx.Done():
		return ctx.Err()
	}
	m.logger.Info("service enabled and started", "unit", name)
	return nil
}
