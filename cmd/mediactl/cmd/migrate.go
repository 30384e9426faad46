package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/templui/mediapipe/internal/config"
	"github.com/templui/mediapipe/internal/db"
)

func MigrateCmd() *cobra.Command {
	var down bool

	c := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()

			database, err := db.Init(cfg.DBDriver, cfg.DBConnection)
			if err != nil {
				return err
			}
			defer db.Close(database)

			if down {
				if err := db.MigrateDown(database.DB, cfg.DBDriver); err != nil {
					return err
				}
				fmt.Println("rolled back one migration")
				return nil
			}

			if err := db.RunMigrations(database.DB, cfg.DBDriver); err != nil {
				return err
			}
			fmt.Println("migrations applied")
			return nil
		},
	}
	c.Flags().BoolVar(&down, "down", false, "roll back the most recent migration")
	return c
}
