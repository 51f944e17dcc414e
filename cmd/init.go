package cmd

import (
	"github.com/spf13/cobra"

	"github.com/AleeDevp/italihub-moderation/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the service configuration with an interactive wizard",
	Long:  `Runs an interactive wizard to configure the moderation service and writes a ` + config.DefaultFileName + ` file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := config.RunWizard()
		return err
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
