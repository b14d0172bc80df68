package cli

import (
	"github.com/spf13/cobra"
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run only the store-and-forward relay",
	Run: func(cmd *cobra.Command, args []string) {
		runBridge(true, false)
	},
}

var realtimeCmd = &cobra.Command{
	Use:   "realtime",
	Short: "Run only the realtime event wait service",
	Run: func(cmd *cobra.Command, args []string) {
		runBridge(false, true)
	},
}

func init() {
	rootCmd.AddCommand(relayCmd, realtimeCmd)
}
