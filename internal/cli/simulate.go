package cli

import (
	"github.com/spf13/cobra"
)

var simulateArea string

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "发送一条合成告警以验证通知链路",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SimulateAlert(cmd.Context(), simulateArea)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateArea, "area", "", "告警中显示的区域名称")
}
