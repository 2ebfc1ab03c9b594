package cli

import (
	"github.com/spf13/cobra"

	"spotwatcher/internal/app"
)

var showArea string

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the latest persisted snapshot per area",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Show(cmd.Context(), app.ShowOptions{Area: showArea})
	},
}

func init() {
	showCmd.Flags().StringVar(&showArea, "area", "", "Limit output to one bidding area")
}
