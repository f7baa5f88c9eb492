// SPDX-License-Identifier: MPL-2.0

// Package config loads the provisioner configuration and manages the small
// application config document consumed by the notebook stack.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

const (
	// DefaultConfigPath is where the provisioner looks for its config file
	// when no --config flag is given.
	DefaultConfigPath = "/etc/firstboot/config.yaml"

	// EnvPrefix is the prefix for environment variable overrides
	// (e.g. FIRSTBOOT_DATABASE_PASSWORD).
	EnvPrefix = "FIRSTBOOT"
)

type (
	// Config is the full provisioner configuration.
	Config struct {
		// StateFile is the completion marker path.
		StateFile string `mapstructure:"state_file"`
		// LogFile is the append-only provisioning log.
		LogFile string `mapstructure:"log_file"`
		// ContainerEngine selects the container runtime ("podman" or "docker").
		ContainerEngine string `mapstructure:"container_engine"`

		Database   DatabaseConfig   `mapstructure:"database"`
		Packages   PackagesConfig   `mapstructure:"packages"`
		Filesystem FilesystemConfig `mapstructure:"filesystem"`
		Assets     AssetsConfig     `mapstructure:"assets"`
		Python     PythonConfig     `mapstructure:"python"`
		Firewall   FirewallConfig   `mapstructure:"firewall"`
		Units      UnitsConfig      `mapstructure:"units"`

		// AppConfigPath is where the application JSON document is written.
		AppConfigPath string `mapstructure:"app_config_path"`
	}

	// DatabaseConfig describes the database container and its bootstrap.
	DatabaseConfig struct {
		Image         string        `mapstructure:"image"`
		ContainerName string        `mapstructure:"container_name"`
		PDBName       string        `mapstructure:"pdb_name"`
		AppUser       string        `mapstructure:"app_user"`
		Tablespace    string        `mapstructure:"tablespace"`
		Password      string        `mapstructure:"password"`
		DataDir       string        `mapstructure:"data_dir"`
		MemoryLimitGB int           `mapstructure:"memory_limit_gb"`
		ListenerPort  int           `mapstructure:"listener_port"`
		ReadyTimeout  time.Duration `mapstructure:"ready_timeout"`
		ListenerWait  time.Duration `mapstructure:"listener_wait"`
	}

	// PackagesConfig describes host package preconditions.
	PackagesConfig struct {
		// DisabledRepos are disabled before any index refresh to avoid
		// hangs on slow mirrors.
		DisabledRepos []string `mapstructure:"disabled_repos"`
		// Essential packages abort provisioning when they cannot be
		// installed (the container runtime lives here).
		Essential []string `mapstructure:"essential"`
		// Optional packages log a warning and continue on failure.
		Optional []string `mapstructure:"optional"`
		// NetworkProbeHost is resolved to detect basic egress.
		NetworkProbeHost string        `mapstructure:"network_probe_host"`
		NetworkTimeout   time.Duration `mapstructure:"network_timeout"`
	}

	// FilesystemConfig identifies the root partition to grow to the full
	// disk on first boot. Empty Device disables the step.
	FilesystemConfig struct {
		Device     string `mapstructure:"device"`
		Partition  string `mapstructure:"partition"`
		Mountpoint string `mapstructure:"mountpoint"`
	}

	// AssetsConfig describes the application code bundle retrieval.
	AssetsConfig struct {
		RepoURL    string `mapstructure:"repo_url"`
		Branch     string `mapstructure:"branch"`
		Subdir     string `mapstructure:"subdir"`
		ArchiveURL string `mapstructure:"archive_url"`
		TargetDir  string `mapstructure:"target_dir"`
	}

	// PythonConfig describes the notebook environment.
	PythonConfig struct {
		Interpreter string   `mapstructure:"interpreter"`
		VenvDir     string   `mapstructure:"venv_dir"`
		Essential   []string `mapstructure:"essential"`
		Optional    []string `mapstructure:"optional"`
	}

	// FirewallConfig lists inbound TCP ports to open.
	FirewallConfig struct {
		Ports []int `mapstructure:"ports"`
	}

	// UnitsConfig describes systemd unit registration.
	UnitsConfig struct {
		Dir string `mapstructure:"dir"`
	}
)

// Default returns the built-in configuration for the demo VM.
func Default() *Config {
	return &Config{
		StateFile:       "/var/lib/firstboot/provisioned.json",
		LogFile:         "/var/log/firstboot.log",
		ContainerEngine: "podman",
		Database: DatabaseConfig{
			Image:         "container-registry.oracle.com/database/free:latest",
			ContainerName: "oradb",
			PDBName:       "FREEPDB1",
			AppUser:       "demouser",
			Tablespace:    "demo_tbs",
			Password:      "ChangeMe_0nBoot",
			DataDir:       "/opt/oradata",
			MemoryLimitGB: 8,
			ListenerPort:  1521,
			ReadyTimeout:  30 * time.Minute,
			ListenerWait:  2 * time.Minute,
		},
		Packages: PackagesConfig{
			DisabledRepos:    []string{"ol8_developer_EPEL", "ol8_ksplice"},
			Essential:        []string{"podman", "python3.11"},
			Optional:         []string{"git", "jq", "tmux"},
			NetworkProbeHost: "yum.oracle.com",
			NetworkTimeout:   2 * time.Minute,
		},
		Filesystem: FilesystemConfig{
			Device:     "/dev/sda",
			Partition:  "3",
			Mountpoint: "/",
		},
		Assets: AssetsConfig{
			RepoURL:    "https://github.com/oracle-samples/db-demo-notebooks.git",
			Branch:     "main",
			Subdir:     "notebooks",
			ArchiveURL: "https://github.com/oracle-samples/db-demo-notebooks/archive/refs/heads/main.tar.gz",
			TargetDir:  "/opt/demo/app",
		},
		Python: PythonConfig{
			Interpreter: "python3.11",
			VenvDir:     "/opt/demo/venv",
			Essential:   []string{"pip", "wheel", "oracledb", "jupyterlab"},
			Optional:    []string{"matplotlib", "pandas", "sentence-transformers"},
		},
		Firewall: FirewallConfig{
			Ports: []int{1521, 8888},
		},
		Units: UnitsConfig{
			Dir: "/etc/systemd/system",
		},
		AppConfigPath: "/opt/demo/app/config.json",
	}
}

// Load reads the provisioner configuration. It starts from Default, merges
// the config file when present (the explicit path must exist; the default
// path is optional), then applies FIRSTBOOT_* environment overrides.
// The second return value is the resolved config file path ("" when running
// on pure defaults).
func Load(configFile string) (*Config, string, error) {
	v := viper.New()

	d := Default()
	v.SetDefault("state_file", d.StateFile)
	v.SetDefault("log_file", d.LogFile)
	v.SetDefault("container_engine", d.ContainerEngine)
	v.SetDefault("database.image", d.Database.Image)
	v.SetDefault("database.container_name", d.Database.ContainerName)
	v.SetDefault("database.pdb_name", d.Database.PDBName)
	v.SetDefault("database.app_user", d.Database.AppUser)
	v.SetDefault("database.tablespace", d.Database.Tablespace)
	v.SetDefault("database.password", d.Database.Password)
	v.SetDefault("database.data_dir", d.Database.DataDir)
	v.SetDefault("database.memory_limit_gb", d.Database.MemoryLimitGB)
	v.SetDefault("database.listener_port", d.Database.ListenerPort)
	v.SetDefault("database.ready_timeout", d.Database.ReadyTimeout)
	v.SetDefault("database.listener_wait", d.Database.ListenerWait)
	v.SetDefault("packages.disabled_repos", d.Packages.DisabledRepos)
	v.SetDefault("packages.essential", d.Packages.Essential)
	v.SetDefault("packages.optional", d.Packages.Optional)
	v.SetDefault("packages.network_probe_host", d.Packages.NetworkProbeHost)
	v.SetDefault("packages.network_timeout", d.Packages.NetworkTimeout)
	v.SetDefault("filesystem.device", d.Filesystem.Device)
	v.SetDefault("filesystem.partition", d.Filesystem.Partition)
	v.SetDefault("filesystem.mountpoint", d.Filesystem.Mountpoint)
	v.SetDefault("assets.repo_url", d.Assets.RepoURL)
	v.SetDefault("assets.branch", d.Assets.Branch)
	v.SetDefault("assets.subdir", d.Assets.Subdir)
	v.SetDefault("assets.archive_url", d.Assets.ArchiveURL)
	v.SetDefault("assets.target_dir", d.Assets.TargetDir)
	v.SetDefault("python.interpreter", d.Python.Interpreter)
	v.SetDefault("python.venv_dir", d.Python.VenvDir)
	v.SetDefault("python.essential", d.Python.Essential)
	v.SetDefault("python.optional", d.Python.Optional)
	v.SetDefault("firewall.ports", d.Firewall.Ports)
	v.SetDefault("units.dir", d.Units.Dir)
	v.SetDefault("app_config_path", d.AppConfigPath)

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	resolvedPath := ""
	switch {
	case configFile != "":
		if !fileExists(configFile) {
			return nil, "", fmt.Errorf("config file not found: %s", configFile)
		}
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, "", fmt.Errorf("read config %s: %w", configFile, err)
		}
		resolvedPath = configFile
	case fileExists(DefaultConfigPath):
		v.SetConfigFile(DefaultConfigPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, "", fmt.Errorf("read config %s: %w", DefaultConfigPath, err)
		}
		resolvedPath = DefaultConfigPath
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("parse config: %w", err)
	}
	return &cfg, resolvedPath, nil
}

// WriteDefault writes the built-in defaults as a YAML config file at path
// for operators to edit before the first run. Refuses to overwrite an
// existing file.
func WriteDefault(path string) error {
	if fileExists(path) {
		return fmt.Errorf("config file already exists: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	d := Default()
	v.Set("state_file", d.StateFile)
	v.Set("log_file", d.LogFile)
	v.Set("container_engine", d.ContainerEngine)
	v.Set("database.image", d.Database.Image)
	v.Set("database.container_name", d.Database.ContainerName)
	v.Set("database.pdb_name", d.Database.PDBName)
	v.Set("database.app_user", d.Database.AppUser)
	v.Set("database.tablespace", d.Database.Tablespace)
	v.Set("database.password", d.Database.Password)
	v.Set("database.data_dir", d.Database.DataDir)
	v.Set("database.memory_limit_gb", d.Database.MemoryLimitGB)
	v.Set("database.listener_port", d.Database.ListenerPort)
	v.Set("database.ready_timeout", d.Database.ReadyTimeout.String())
	v.Set("database.listener_wait", d.Database.ListenerWait.String())
	v.Set("packages.disabled_repos", d.Packages.DisabledRepos)
	v.Set("packages.essential", d.Packages.Essential)
	v.Set("packages.optional", d.Packages.Optional)
	v.Set("packages.network_probe_host", d.Packages.NetworkProbeHost)
	v.Set("packages.network_timeout", d.Packages.NetworkTimeout.String())
	v.Set("filesystem.device", d.Filesystem.Device)
	v.Set("filesystem.partition", d.Filesystem.Partition)
	v.Set("filesystem.mountpoint", d.Filesystem.Mountpoint)
	v.Set("assets.repo_url", d.Assets.RepoURL)
	v.Set("assets.branch", d.Assets.Branch)
	v.Set("assets.subdir", d.Assets.Subdir)
	v.Set("assets.archive_url", d.Assets.ArchiveURL)
	v.Set("assets.target_dir", d.Assets.TargetDir)
	v.Set("python.interpreter", d.Python.Interpreter)
	v.Set("python.venv_dir", d.Python.VenvDir)
	v.Set("python.essential", d.Python.Essential)
	v.Set("python.optional", d.Python.Optional)
	v.Set("firewall.ports", d.Firewall.Ports)
	v.Set("units.dir", d.Units.Dir)
	v.Set("app_config_path", d.AppConfigPath)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
