package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/templui/mediapipe/internal/app"
	"github.com/templui/mediapipe/internal/config"
)

func CleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove abandoned chunk sessions and partial uploads now",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()

			ctx := cmd.Context()
			a, err := app.New(ctx, cfg, app.WithoutRecovery())
			if err != nil {
				return err
			}
			defer a.Shutdown(context.WithoutCancel(ctx))

			removed, err := a.Janitor.Run(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("removed %d stale session(s) and partial file(s)\n", removed)
			return nil
		},
	}
}
