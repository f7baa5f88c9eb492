// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"firstboot-cli/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the provisioner configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the resolved configuration",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, cfgPath, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		fmt.Println(TitleStyle.Render("Configuration"))
		if cfgPath != "" {
			fmt.Println(SubtitleStyle.Render("  (from " + cfgPath + ")"))
		} else {
			fmt.Println(SubtitleStyle.Render("  (built-in defaults)"))
		}
		fmt.Printf("  State file:        %s\n", cfg.StateFile)
		fmt.Printf("  Log file:          %s\n", cfg.LogFile)
		fmt.Printf("  Container engine:  %s\n", cfg.ContainerEngine)
		fmt.Printf("  Database image:    %s\n", cfg.Database.Image)
		fmt.Printf("  Database name:     %s (PDB %s)\n", cfg.Database.ContainerName, cfg.Database.PDBName)
		fmt.Printf("  Data directory:    %s\n", cfg.Database.DataDir)
		fmt.Printf("  Ready timeout:     %s\n", cfg.Database.ReadyTimeout)
		fmt.Printf("  Asset repository:  %s\n", cfg.Assets.RepoURL)
		fmt.Printf("  Asset target:      %s\n", cfg.Assets.TargetDir)
		fmt.Printf("  Python venv:       %s\n", cfg.Python.VenvDir)
		fmt.Printf("  Firewall ports:    %s\n", joinPorts(cfg.Firewall.Ports))
		fmt.Printf("  Unit directory:    %s\n", cfg.Units.Dir)
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration file for editing",
	RunE: func(_ *cobra.Command, _ []string) error {
		path := cfgFile
		if path == "" {
			path = config.DefaultConfigPath
		}
		if err := config.WriteDefault(path); err != nil {
			return err
		}
		fmt.Println(SuccessStyle.Render("✓ ") + "Wrote " + CmdStyle.Render(path))
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}

func joinPorts(ports []int) string {
	parts := make([]string, len(ports))
	for i, p := range ports {
		parts[i] = fmt.Sprintf("%d", p)
	}
	return strings.Join(parts, ", ")
}
