// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"firstboot-cli/internal/assets"
	"firstboot-cli/internal/config"
	"firstboot-cli/internal/container"
	"firstboot-cli/internal/database"
	"firstboot-cli/internal/firewall"
	"firstboot-cli/internal/hostprep"
	"firstboot-cli/internal/logging"
	"firstboot-cli/internal/pyenv"
	"firstboot-cli/internal/sequencer"
	"firstboot-cli/internal/state"
	"firstboot-cli/internal/sysunits"
)

var (
	// force clears an existing completion marker before running.
	force bool
	// logFile overrides the configured log file path.
	logFile string

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Provision this host",
		Long: `Run the full provisioning sequence: host packages, database
container with SQL bootstrap, demo assets, Python environment, systemd
services, and firewall ports.

A host with the completion marker present exits immediately with success.
Use --force to clear the marker and provision again.`,
		RunE: runProvisioning,
	}
)

func init() {
	runCmd.Flags().BoolVar(&force, "force", false, "clear the completion marker and re-provision")
	runCmd.Flags().StringVar(&logFile, "log-file", "", "override the provisioning log file path")
}

func runProvisioning(cobraCmd *cobra.Command, _ []string) error {
	cfg, cfgPath, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	if logFile != "" {
		cfg.LogFile = logFile
	}
	logger, closeLog, err := logging.Open(logging.Options{
		FilePath: cfg.LogFile,
		Verbose:  verbose,
		Quiet:    quiet,
	})
	if err != nil {
		return err
	}
	defer closeLog()
	if cfgPath != "" {
		logger.Info("configuration loaded", "path", cfgPath)
	}

	// The engine binary may not exist yet on a fresh host; host preparation
	// installs it, so the sequencer resolves the engine via this factory
	// only after that phase.
	newDatabase := func() (sequencer.DatabaseManager, error) {
		engine, err := container.NewEngine(container.EngineType(cfg.ContainerEngine))
		if err != nil {
			return nil, err
		}
		return database.NewManager(engine, databaseSettings(cfg), logger), nil
	}

	seq := sequencer.New(
		cfg,
		state.NewStore(cfg.StateFile),
		logger,
		hostprep.NewManager(logger),
		newDatabase,
		assets.NewFetcher(assetSettings(cfg), logger),
		pyenv.NewBuilder(pythonSettings(cfg), logger),
		sysunits.NewManager(cfg.Units.Dir, logger),
		firewall.New(logger),
	)

	err = seq.Run(cobraCmd.Context(), force)
	switch {
	case err == nil:
		fmt.Println(SuccessStyle.Render("✓ ") + "Provisioning complete")
		return nil
	case errors.Is(err, sequencer.ErrAlreadyProvisioned):
		fmt.Println(SuccessStyle.Render("✓ ") + "Already provisioned; use " + CmdStyle.Render("firstboot run --force") + " to redo")
		return nil
	default:
		logger.Error("provisioning failed", "err", err)
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error: ")+formatErrorForDisplay(err, verbose))
		return &ExitError{Code: 1, Err: err}
	}
}

func databaseSettings(cfg *config.Config) database.Settings {
	return database.Settings{
		Image:         container.ImageRef(cfg.Database.Image),
		ContainerName: container.ContainerName(cfg.Database.ContainerName),
		PDBName:       cfg.Database.PDBName,
		AppUser:       cfg.Database.AppUser,
		Tablespace:    cfg.Database.Tablespace,
		Password:      cfg.Database.Password,
		DataDir:       cfg.Database.DataDir,
		MemoryLimitGB: cfg.Database.MemoryLimitGB,
		ListenerPort:  cfg.Database.ListenerPort,
		ReadyTimeout:  cfg.Database.ReadyTimeout,
		ListenerWait:  cfg.Database.ListenerWait,
	}
}

func assetSettings(cfg *config.Config) assets.Settings {
	return assets.Settings{
		RepoURL:    cfg.Assets.RepoURL,
		Branch:     cfg.Assets.Branch,
		Subdir:     cfg.Assets.Subdir,
		ArchiveURL: cfg.Assets.ArchiveURL,
		TargetDir:  cfg.Assets.TargetDir,
	}
}

func pythonSettings(cfg *config.Config) pyenv.Settings {
	return pyenv.Settings{
		Interpreter: cfg.Python.Interpreter,
		VenvDir:     cfg.Python.VenvDir,
		Essential:   cfg.Python.Essential,
		Optional:    cfg.Python.Optional,
	}
}
