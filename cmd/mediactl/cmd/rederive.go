package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/templui/mediapipe/internal/app"
	"github.com/templui/mediapipe/internal/config"
	"github.com/templui/mediapipe/internal/logger"
	"github.com/templui/mediapipe/internal/model"
	"github.com/templui/mediapipe/internal/worker"
)

// RederiveCmd requeues derivation for images in one processing status and
// waits for the queue to drain.
func RederiveCmd() *cobra.Command {
	var status string
	var limit int

	c := &cobra.Command{
		Use:   "rederive",
		Short: "Derive thumbnails again for images in a given status",
		RunE: func(cmd *cobra.Command, args []string) error {
			st := model.ProcessingStatus(status)
			if !st.Valid() {
				return fmt.Errorf("unknown status %q", status)
			}

			cfg := config.Load()
			flush := logger.Init(cfg.IsDevelopment(), cfg.SentryDSN, cfg.AppEnv)
			defer flush()

			ctx := cmd.Context()
			a, err := app.New(ctx, cfg, app.WithoutRecovery())
			if err != nil {
				return err
			}

			if limit <= 0 || limit > cfg.DeriveQueueSize {
				limit = cfg.DeriveQueueSize
			}
			n, err := a.Scheduler.Requeue(st, limit)
			if errors.Is(err, worker.ErrQueueFull) {
				fmt.Println("queue full, run again for the rest")
				err = nil
			}

			// Shutdown drains the queue before returning
			drainErr := a.Shutdown(context.WithoutCancel(ctx))
			if err != nil {
				return err
			}
			if drainErr != nil {
				return drainErr
			}
			fmt.Printf("requeued %d %s file(s)\n", n, st)
			return nil
		},
	}
	c.Flags().StringVar(&status, "status", string(model.StatusFailed), "processing status to requeue (pending, processing, completed, failed)")
	c.Flags().IntVar(&limit, "limit", 0, "max files to requeue (default DERIVE_QUEUE_SIZE)")
	return c
}
