// SPDX-License-Identifier: MPL-2.0

// Package cmd contains all CLI commands for firstboot.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"firstboot-cli/internal/issue"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"

	// verbose enables verbose output
	verbose bool
	// quiet suppresses the stderr mirror (log file only)
	quiet bool
	// cfgFile allows specifying a custom config file
	cfgFile string

	// rootCmd represents the base command when called without any subcommands
	rootCmd = &cobra.Command{
		Use:   "firstboot",
		Short: "One-time provisioning for the demo database VM",
		Long: TitleStyle.Render("firstboot") + SubtitleStyle.Render(" - one-time provisioning for the demo database VM") + `

firstboot turns a freshly booted VM into a working demo environment:
host packages, the containerized database with its SQL bootstrap, the
notebook content and Python environment, and the systemd services that
tie them together.

Every phase is idempotent. A completed host is a no-op; an interrupted
run is finished by running firstboot again.

` + SubtitleStyle.Render("Examples:") + `
  firstboot run             Provision this host
  firstboot run --force     Re-provision, clearing the completion marker
  firstboot status          Show the provisioning state
  firstboot config show     Show the resolved configuration`,
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "log to file only (for service invocation)")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/firstboot/config.yaml)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

// formatErrorForDisplay renders provisioning errors with their suggestions;
// other errors fall back to the plain message.
func formatErrorForDisplay(err error, verbose bool) string {
	var pe *issue.ProvisionError
	if errors.As(err, &pe) {
		return pe.Format(verbose)
	}
	return err.Error()
}
