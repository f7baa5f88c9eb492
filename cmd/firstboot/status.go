// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firstboot-cli/internal/config"
	"firstboot-cli/internal/state"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the provisioning state",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, _, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		store := state.NewStore(cfg.StateFile)
		rec, err := store.Load()
		if err != nil {
			return err
		}

		fmt.Println(TitleStyle.Render("Provisioning status"))
		fmt.Printf("  Marker: %s\n", store.Path())
		switch rec.Phase {
		case state.PhaseComplete:
			fmt.Println("  Phase:  " + SuccessStyle.Render(string(rec.Phase)))
		case state.PhaseInProgress:
			fmt.Println("  Phase:  " + WarningStyle.Render(string(rec.Phase)))
		default:
			fmt.Println("  Phase:  " + SubtitleStyle.Render(string(rec.Phase)))
		}
		if !rec.StartedAt.IsZero() {
			fmt.Printf("  Started:   %s\n", rec.StartedAt.Local())
		}
		if !rec.CompletedAt.IsZero() {
			fmt.Printf("  Completed: %s\n", rec.CompletedAt.Local())
		}
		return nil
	},
}
