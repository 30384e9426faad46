package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/templui/mediapipe/cmd/mediactl/cmd"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "mediactl",
		Short:        "Operations tools for the media pipeline",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(cmd.DevCmd())
	rootCmd.AddCommand(cmd.MigrateCmd())
	rootCmd.AddCommand(cmd.TokenCmd())
	rootCmd.AddCommand(cmd.RederiveCmd())
	rootCmd.AddCommand(cmd.CleanupCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
