package cli

import (
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/rideshare/internal/auth"
	"github.com/example/rideshare/internal/models"
)

// NewTokenCommand mints a development token signed with the shared secret.
func NewTokenCommand(opts *RootOptions) *cobra.Command {
	var (
		secret string
		user   models.UserRef
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development bearer token",
		Long:  "Signs an HS256 token for local use. Production tokens come from the identity provider.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return errors.New("--secret or AUTH_JWT_SECRET is required")
			}
			if user.ID == "" {
				return errors.New("--user is required")
			}
			tok, err := auth.Issue(secret, user, ttl)
			if err != nil {
				return err
			}
			return opts.formatter(cmd).Success(map[string]string{"token": tok}, tok)
		},
	}
	cmd.Flags().StringVar(&secret, "secret", os.Getenv("AUTH_JWT_SECRET"), "HS256 signing secret")
	cmd.Flags().StringVar(&user.ID, "user", "", "user id (token subject)")
	cmd.Flags().StringVar(&user.Name, "name", "", "display name")
	cmd.Flags().StringVar(&user.Email, "email", "", "email")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
