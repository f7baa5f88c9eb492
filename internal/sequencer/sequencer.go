// SPDX-License-Identifier: MPL-2.0

// Package sequencer drives the one-time provisioning run: host
// preconditions, database container, application environment, service
// registration, and the completion marker. Every phase is idempotent, so an
// interrupted run is finished by running the sequence again.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"firstboot-cli/internal/assets"
	"firstboot-cli/internal/config"
	"firstboot-cli/internal/state"
	"firstboot-cli/internal/sysunits"
)

// ErrAlreadyProvisioned is returned by Run when the completion marker is
// already present and --force was not given.
var ErrAlreadyProvisioned = errors.New("host is already provisioned")

type (
	// HostPreparer covers host package and filesystem preconditions.
	HostPreparer interface {
		WaitForNetwork(ctx context.Context, probeHost string, timeout time.Duration) error
		DisableRepos(ctx context.Context, repos []string)
		GrowFilesystem(ctx context.Context, device, partition, mountpoint string)
		InstallPackages(ctx context.Context, essential, optional []string) error
		VerifyTool(name string) error
	}

	// DatabaseManager covers the database container lifecycle.
	DatabaseManager interface {
		PrepareDataDir() error
		Start(ctx context.Context) error
		WaitReady(ctx context.Context) error
		Bootstrap(ctx context.Context) error
	}

	// DatabaseFactory builds the database manager on demand. On a fresh
	// host the container runtime is installed by the host-preparation
	// phase, so the engine binary can only be resolved after it.
	DatabaseFactory func() (DatabaseManager, error)

	// AssetFetcher retrieves the demo application content.
	AssetFetcher interface {
		Fetch(ctx context.Context) (assets.Source, error)
	}

	// PythonBuilder constructs the application's Python environment.
	PythonBuilder interface {
		Ensure(ctx context.Context) error
	}

	// UnitInstaller registers and starts systemd services.
	UnitInstaller interface {
		Install(ctx context.Context, units []sysunits.Unit) error
	}

	// FirewallManager opens inbound ports.
	FirewallManager interface {
		OpenPorts(ctx context.Context, ports []int) error
	}

	// Sequencer runs the provisioning phases in order.
	Sequencer struct {
		cfg         *config.Config
		store       *state.Store
		logger      *log.Logger
		host        HostPreparer
		newDatabase DatabaseFactory
		assets      AssetFetcher
		python      PythonBuilder
		units       UnitInstaller
		firewall    FirewallManager

		writeAppConfig func(path string) (bool, error)
	}
)

// New wires a sequencer from its collaborators.
func New(
	cfg *config.Config,
	store *state.Store,
	logger *log.Logger,
	host HostPreparer,
	newDatabase DatabaseFactory,
	assetFetcher AssetFetcher,
	python PythonBuilder,
	units UnitInstaller,
	firewall FirewallManager,
) *Sequencer {
	return &Sequencer{
		cfg:            cfg,
		store:          store,
		logger:         logger,
		host:           host,
		newDatabase:    newDatabase,
		assets:         assetFetcher,
		python:         python,
		units:          units,
		firewall:       firewall,
		writeAppConfig: config.WriteAppConfig,
	}
}

// Run executes the full provisioning sequence. With force, any existing
// completion marker is cleared first; without it, a completed host is a
// no-op returning ErrAlreadyProvisioned.
//
// Database initialization dominates wall-clock time, so once the container
// is launched its readiness wait and SQL bootstrap run concurrently with
// the application setup (assets, Python environment). Both tracks are
// joined before services are registered: the units depend on both.
func (s *Sequencer) Run(ctx context.Context, force bool) error {
	if force {
		s.logger.Warn("forcing re-provisioning, clearing completion marker")
		if err := s.store.Reset(); err != nil {
			return err
		}
	}

	rec, err := s.store.Load()
	if err != nil {
		return err
	}
	if rec.Phase == state.PhaseComplete {
		s.logger.Info("completion marker present, nothing to do", "marker", s.store.Path())
		return ErrAlreadyProvisioned
	}
	if _, err := s.store.Begin(); err != nil {
		return err
	}
	started := time.Now()

	if err := s.prepareHost(ctx); err != nil {
		return err
	}

	// Resolved only now: on a fresh host the engine binary did not exist
	// before the host-preparation phase installed it.
	db, err := s.newDatabase()
	if err != nil {
		return err
	}
	if err := s.launchDatabase(ctx, db); err != nil {
		return err
	}

	dbErr := make(chan error, 1)
	appErr := make(chan error, 1)
	go func() { dbErr <- s.finishDatabase(ctx, db) }()
	go func() { appErr <- s.setupApplication(ctx) }()
	if err := errors.Join(<-dbErr, <-appErr); err != nil {
		return err
	}

	if err := s.registerServices(ctx); err != nil {
		return err
	}

	if err := s.firewall.OpenPorts(ctx, s.cfg.Firewall.Ports); err != nil {
		// The services are up and reachable locally; an unreachable
		// firewall daemon should not fail the whole run.
		s.logger.Warn("firewall configuration failed", "err", err)
	}

	if _, err := s.store.Complete(); err != nil {
		return err
	}
	s.logger.Info("provisioning complete", "elapsed", time.Since(started).Round(time.Second))
	return nil
}

// Status returns the current provisioning record.
func (s *Sequencer) Status() (state.Record, error) {
	return s.store.Load()
}

func (s *Sequencer) prepareHost(ctx context.Context) error {
	s.logger.Info("phase: host preparation")
	if err := s.host.WaitForNetwork(ctx, s.cfg.Packages.NetworkProbeHost, s.cfg.Packages.NetworkTimeout); err != nil {
		// Package installs carry their own retries; proceed and let them
		// decide whether the network is really down.
		s.logger.Warn("network probe failed, continuing", "err", err)
	}
	s.host.DisableRepos(ctx, s.cfg.Packages.DisabledRepos)
	if fs := s.cfg.Filesystem; fs.Device != "" {
		s.host.GrowFilesystem(ctx, fs.Device, fs.Partition, fs.Mountpoint)
	}
	if err := s.host.InstallPackages(ctx, s.cfg.Packages.Essential, s.cfg.Packages.Optional); err != nil {
		return err
	}
	return s.host.VerifyTool(s.cfg.ContainerEngine)
}

func (s *Sequencer) launchDatabase(ctx context.Context, db DatabaseManager) error {
	s.logger.Info("phase: database launch")
	if err := db.PrepareDataDir(); err != nil {
		return err
	}
	return db.Start(ctx)
}

func (s *Sequencer) finishDatabase(ctx context.Context, db DatabaseManager) error {
	if err := db.WaitReady(ctx); err != nil {
		return err
	}
	return db.Bootstrap(ctx)
}

func (s *Sequencer) setupApplication(ctx context.Context) error {
	s.logger.Info("phase: application setup")
	source, err := s.assets.Fetch(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("assets in place", "source", source)

	if err := s.python.Ensure(ctx); err != nil {
		return err
	}

	created, err := s.writeAppConfig(s.cfg.AppConfigPath)
	if err != nil {
		return fmt.Errorf("write application config: %w", err)
	}
	if created {
		s.logger.Info("application config template written", "path", s.cfg.AppConfigPath)
	}
	return nil
}

func (s *Sequencer) registerServices(ctx context.Context) error {
	s.logger.Info("phase: service registration")
	return s.units.Install(ctx, s.serviceUnits())
}

// serviceUnits builds the service definitions from the resolved
// configuration. The notebook unit orders itself after the database unit,
// so a reboot restarts the detached container before anything that needs
// the listener.
func (s *Sequencer) serviceUnits() []sysunits.Unit {
	dbUnit := fmt.Sprintf("demo-%s.service", s.cfg.Database.ContainerName)
	return []sysunits.Unit{
		{
			Name:        dbUnit,
			Description: "Demo environment database container",
			After:       []string{"network-online.target"},
			// start -a keeps the unit's process attached to the
			// container, so Restart= supervises the database itself.
			ExecStart: []string{
				s.cfg.ContainerEngine, "start", "-a", s.cfg.Database.ContainerName,
			},
			Restart:    "on-failure",
			RestartSec: 10,
		},
		{
			Name:             "demo-jupyter.service",
			Description:      "Demo environment notebook server",
			After:            []string{"network-online.target", dbUnit},
			Requires:         []string{dbUnit},
			WorkingDirectory: s.cfg.Assets.TargetDir,
			Environment: map[string]string{
				"APP_CONFIG": s.cfg.AppConfigPath,
			},
			ExecStart: []string{
				s.cfg.Python.VenvDir + "/bin/jupyter", "lab",
				"--no-browser",
				"--ip=0.0.0.0",
				"--port=8888",
				"--notebook-dir=" + s.cfg.Assets.TargetDir,
			},
			Restart:    "on-failure",
			RestartSec: 10,
		},
	}
}
