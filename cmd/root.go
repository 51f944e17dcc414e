package cmd

import (
	"github.com/spf13/cobra"

	"github.com/AleeDevp/italihub-moderation/internal/config"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "italihub-moderation",
	Short: "Moderation and notification service for the italihub marketplace",
	Long: `italihub-moderation runs the moderation backend for the italihub
classifieds platform: ad and identity-verification review, an append-only
audit trail, and live user notifications over SSE and WebSocket.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", config.DefaultFileName, "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
