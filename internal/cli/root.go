// Package cli implements the rider command: one-shot ride commands plus a
// watch loop that runs the polling session.
package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/rideshare/internal/client"
	"github.com/example/rideshare/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	API          string
	Token        string
	PollInterval time.Duration
	Timeout      time.Duration
	Format       string // "json" | "text"
	Verbose      bool
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command. Flag defaults come from the
// RIDESHARE_* environment.
func NewRootCommand() *cobra.Command {
	cfg, cfgErr := config.LoadClientConfig()
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "rider",
		Short: "rider - offer, book and follow shared rides",
		Long:  "Command line client for the rideshare service. Each command acts as the user named by the bearer token.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cfgErr != nil {
				return cfgErr
			}
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if opts.PollInterval <= 0 {
				return fmt.Errorf("poll interval must be > 0")
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.API, "api", cfg.APIBaseURL, "rideshare API base URL")
	cmd.PersistentFlags().StringVar(&opts.Token, "token", cfg.Token, "bearer token")
	cmd.PersistentFlags().DurationVar(&opts.PollInterval, "poll-interval", cfg.PollInterval, "polling cadence for watch")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", cfg.Timeout, "per-request timeout")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewRidesCommand(opts))
	cmd.AddCommand(NewActiveCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewTimelineCommand(opts))
	cmd.AddCommand(NewOfferCommand(opts))
	cmd.AddCommand(NewBookCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts, "accept", "Accept the booking request on your ride", "ongoing"))
	cmd.AddCommand(NewStatusCommand(opts, "complete", "Mark your ongoing ride completed", "completed"))
	cmd.AddCommand(NewRejectCommand(opts))
	cmd.AddCommand(NewWithdrawCommand(opts))
	cmd.AddCommand(NewRateCommand(opts))
	cmd.AddCommand(NewMeCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))

	return cmd
}

func (o *RootOptions) client() *client.API {
	return client.NewAPI(o.API, o.Token, o.Timeout)
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
