package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"spotwatcher/internal/app"
)

var checkArea string

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Fetch prices once for an area and print the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		if checkArea == "" {
			return errors.New("--area is required")
		}

		return getApp().Check(cmd.Context(), app.CheckOptions{Area: checkArea})
	},
}

func init() {
	checkCmd.Flags().StringVar(&checkArea, "area", "", "Bidding area to check")
}
