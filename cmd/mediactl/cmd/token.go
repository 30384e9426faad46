package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/templui/mediapipe/internal/config"
	"github.com/templui/mediapipe/internal/service"
)

// TokenCmd mints an upload token for local testing, signed with JWT_SECRET.
func TokenCmd() *cobra.Command {
	var ttl time.Duration

	c := &cobra.Command{
		Use:   "token <uploader-id>",
		Short: "Print a signed upload token for an uploader",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if ttl == 0 {
				ttl = cfg.JWTExpiry
			}

			token, err := service.NewAuthService(cfg.JWTSecret, ttl).GenerateJWT(args[0])
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	c.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default JWT_EXPIRY)")
	return c
}
