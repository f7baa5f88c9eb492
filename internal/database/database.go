// SPDX-License-Identifier: MPL-2.0

// Package database runs the long-lived database container and brings the
// engine to an application-usable state: launch, readiness wait, and the
// idempotent SQL bootstrap.
package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"firstboot-cli/internal/container"
	"firstboot-cli/internal/issue"
	"firstboot-cli/internal/retry"
)

const (
	// ReadyMarker is the literal line the database engine prints when its
	// asynchronous initialization has finished. Its appearance in the
	// container log is the readiness signal.
	ReadyMarker = "DATABASE IS READY TO USE!"

	// dataDirUID and dataDirGID are the fixed numeric IDs of the database
	// process inside the container. The bind-mounted data directory must be
	// owned by them or the engine fails to start.
	dataDirUID = 54321
	dataDirGID = 54321

	// logTailLines is how much log output is attached to failure reports.
	logTailLines = 40
)

// ErrExitedBeforeReady is the sentinel error for a container that died
// during initialization.
var ErrExitedBeforeReady = errors.New("database container exited before readiness")

type (
	// ContainerEngine is the subset of container operations the database
	// manager needs.
	ContainerEngine interface {
		Pull(ctx context.Context, image container.ImageRef) error
		RunDetached(ctx context.Context, opts container.RunOptions) (string, error)
		Exec(ctx context.Context, name container.ContainerName, command []string, opts container.ExecOptions) (*container.ExecResult, error)
		Remove(ctx context.Context, name container.ContainerName, force bool) error
		Logs(ctx context.Context, name container.ContainerName, tail int) (string, error)
		State(ctx context.Context, name container.ContainerName) (container.State, error)
	}

	// Settings describes the database container and bootstrap parameters.
	Settings struct {
		Image         container.ImageRef
		ContainerName container.ContainerName
		PDBName       string
		AppUser       string
		Tablespace    string
		Password      string
		DataDir       string
		MemoryLimitGB int
		ListenerPort  int
		ReadyTimeout  time.Duration
		ListenerWait  time.Duration
	}

	// ChownFunc changes file ownership. Injected for tests, which cannot
	// chown to arbitrary IDs without privileges.
	ChownFunc func(path string, uid, gid int) error

	// Option configures a Manager.
	Option func(*Manager)

	// Manager owns the database container lifecycle.
	Manager struct {
		engine       ContainerEngine
		settings     Settings
		logger       *log.Logger
		chown        ChownFunc
		pollInterval time.Duration
		pullAttempts int
		pullDelay    time.Duration
	}
)

// WithChown sets a custom chown function for testing.
func WithChown(fn ChownFunc) Option {
	return func(m *Manager) { m.chown = fn }
}

// WithPollInterval overrides the readiness sampling interval.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) { m.pollInterval = d }
}

// WithPullPolicy overrides image pull retry attempts and base delay.
func WithPullPolicy(attempts int, baseDelay time.Duration) Option {
	return func(m *Manager) {
		m.pullAttempts = attempts
		m.pullDelay = baseDelay
	}
}

// NewManager creates a database manager.
func NewManager(engine ContainerEngine, settings Settings, logger *log.Logger, opts ...Option) *Manager {
	m := &Manager{
		engine:       engine,
		settings:     settings,
		logger:       logger,
		chown:        os.Chown,
		pollInterval: 10 * time.Second,
		pullAttempts: 3,
		pullDelay:    15 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// PrepareDataDir creates the bind-mounted data directory with the ownership
// the in-container database process requires.
func (m *Manager) PrepareDataDir() error {
	if err := os.MkdirAll(m.settings.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	if err := m.chown(m.settings.DataDir, dataDirUID, dataDirGID); err != nil {
		return issue.NewContext().
			WithOperation("prepare database data directory").
			WithResource(m.settings.DataDir).
			WithSuggestion(fmt.Sprintf("chown %d:%d %s and re-run provisioning", dataDirUID, dataDirGID, m.settings.DataDir)).
			Wrap(err).
			Err()
	}
	return nil
}

// Start pulls the image (retried on transient registry failures), removes
// any stale container of the same name, then launches a fresh detached
// instance with the fixed environment and the bind-mounted data directory.
func (m *Manager) Start(ctx context.Context) error {
	m.logger.Info("pulling database image", "image", m.settings.Image)
	err := retry.Do(ctx, m.pullAttempts, m.pullDelay, func(attempt int) error {
		if attempt > 0 {
			m.logger.Warn("retrying image pull", "attempt", attempt+1)
		}
		if err := m.engine.Pull(ctx, m.settings.Image); err != nil {
			if !container.IsTransientError(err) {
				return retry.Permanent(err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("pull database image: %w", err)
	}

	// At most one instance with this name: clear any stale one first.
	if err := m.engine.Remove(ctx, m.settings.ContainerName, true); err != nil {
		return fmt.Errorf("remove stale container: %w", err)
	}

	m.logger.Info("starting database container", "name", m.settings.ContainerName)
	id, err := m.engine.RunDetached(ctx, container.RunOptions{
		Image: m.settings.Image,
		Name:  m.settings.ContainerName,
		Env:   m.containerEnv(),
		Volumes: []container.VolumeMount{
			{HostPath: m.settings.DataDir, ContainerPath: "/opt/oracle/oradata"},
		},
		Ports: []string{fmt.Sprintf("%d:1521", m.settings.ListenerPort)},
	})
	if err != nil {
		return issue.NewContext().
			WithOperation("start database container").
			WithResource(m.settings.ContainerName.String()).
			WithSuggestion("Check that the listener port is not already bound").
			WithSuggestion("Check the data directory ownership").
			Wrap(err).
			Err()
	}
	m.logger.Info("database container started", "id", shortID(id))
	return nil
}

// WaitReady polls the container log for the readiness marker. Engine
// initialization is asynchronous and unbounded in the container's own
// output, so the wait is bounded by settings.ReadyTimeout; exceeding it is
// fatal. A container that exits before the marker appears is detected per
// sample and surfaced immediately with the last log lines.
func (m *Manager) WaitReady(ctx context.Context) error {
	m.logger.Info("waiting for database readiness", "timeout", m.settings.ReadyTimeout)
	start := time.Now()

	err := retry.Poll(ctx, m.pollInterval, m.settings.ReadyTimeout, func(ctx context.Context) (bool, error) {
		st, err := m.engine.State(ctx, m.settings.ContainerName)
		if err != nil {
			m.logger.Debug("state inspect failed, will resample", "err", err)
			return false, nil
		}
		if st.Exists && !st.Running {
			tail, _ := m.engine.Logs(ctx, m.settings.ContainerName, logTailLines)
			return false, issue.NewContext().
				WithOperation("wait for database readiness").
				WithResource(m.settings.ContainerName.String()).
				WithSuggestion("Inspect the log tail below for the first ORA- error").
				WithSuggestion("Verify the data directory is owned by the database user").
				WithDetail(tail).
				Wrap(fmt.Errorf("%w (status %s, exit code %d)", ErrExitedBeforeReady, st.Status, st.ExitCode)).
				Err()
		}

		logs, err := m.engine.Logs(ctx, m.settings.ContainerName, 0)
		if err != nil {
			m.logger.Debug("log fetch failed, will resample", "err", err)
			return false, nil
		}
		return strings.Contains(logs, ReadyMarker), nil
	})
	if err != nil {
		var te *retry.TimeoutError
		if errors.As(err, &te) {
			return issue.NewContext().
				WithOperation("wait for database readiness").
				WithResource(m.settings.ContainerName.String()).
				WithSuggestion("The instance may need more memory; check the memory budget").
				WithSuggestion("Re-run provisioning after fixing the cause; completed steps are skipped").
				Wrap(err).
				Err()
		}
		return err
	}

	m.logger.Info("database is ready", "elapsed", time.Since(start).Round(time.Second))
	return nil
}

// containerEnv builds the fixed launch environment: credentials, pluggable
// database name, and the memory budget split between SGA and PGA.
func (m *Manager) containerEnv() map[string]string {
	memMB := m.settings.MemoryLimitGB * 1024
	return map[string]string{
		"ORACLE_PWD":    m.settings.Password,
		"ORACLE_PDB":    m.settings.PDBName,
		"INIT_SGA_SIZE": fmt.Sprintf("%d", memMB*3/4),
		"INIT_PGA_SIZE": fmt.Sprintf("%d", memMB/4),
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
