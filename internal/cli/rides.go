package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/rideshare/internal/models"
)

func (o *RootOptions) ctx(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), o.Timeout)
}

// NewRidesCommand lists open rides.
func NewRidesCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rides",
		Short: "List open rides, soonest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.ctx(cmd)
			defer cancel()
			rides, err := opts.client().ListOpen(ctx)
			if err != nil {
				return err
			}
			if rides == nil {
				rides = []*models.Ride{}
			}
			return opts.formatter(cmd).Success(rides, formatRides(rides))
		},
	}
}

// NewActiveCommand shows the ride the caller takes part in.
func NewActiveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "active",
		Short: "Show your active ride",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.ctx(cmd)
			defer cancel()
			r, err := opts.client().ActiveRide(ctx)
			if err != nil {
				return err
			}
			return opts.formatter(cmd).Success(r, formatRide(r))
		},
	}
}

func NewShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <ride-id>",
		Short: "Show one ride",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.ctx(cmd)
			defer cancel()
			r, err := opts.client().Ride(ctx, args[0])
			if err != nil {
				return err
			}
			return opts.formatter(cmd).Success(r, formatRide(r))
		},
	}
}

func NewTimelineCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "timeline <ride-id>",
		Short: "Show when a ride reached each step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.ctx(cmd)
			defer cancel()
			tl, err := opts.client().Timeline(ctx, args[0])
			if err != nil {
				return err
			}
			return opts.formatter(cmd).Success(tl, formatTimeline(tl))
		},
	}
}

// NewOfferCommand creates an open ride driven by the caller.
func NewOfferCommand(opts *RootOptions) *cobra.Command {
	var from, to, start string
	cmd := &cobra.Command{
		Use:   "offer",
		Short: "Offer a ride",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			startTime, err := parseStart(start, time.Now())
			if err != nil {
				return err
			}
			ctx, cancel := opts.ctx(cmd)
			defer cancel()
			r, err := opts.client().Offer(ctx, models.OfferRequest{From: from, To: to, StartTime: startTime})
			if err != nil {
				return err
			}
			return opts.formatter(cmd).Success(r, formatRide(r))
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "pickup point")
	cmd.Flags().StringVar(&to, "to", "", "destination")
	cmd.Flags().StringVar(&start, "start", "15m", "start time: RFC3339 or an offset from now such as 30m")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

// parseStart accepts an absolute RFC3339 time or a duration from now.
func parseStart(v string, now time.Time) (time.Time, error) {
	v = strings.TrimSpace(v)
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	d, err := time.ParseDuration(strings.TrimPrefix(v, "+"))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --start %q: want RFC3339 or a duration", v)
	}
	return now.Add(d), nil
}

func NewBookCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "book <ride-id>",
		Short: "Book a seat on an open ride",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.ctx(cmd)
			defer cancel()
			r, err := opts.client().Book(ctx, args[0])
			if err != nil {
				return err
			}
			return opts.formatter(cmd).Success(r, formatRide(r))
		},
	}
}

// NewStatusCommand advances the caller's ride to status.
func NewStatusCommand(opts *RootOptions, use, short string, status models.RideStatus) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <ride-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.ctx(cmd)
			defer cancel()
			r, err := opts.client().SetStatus(ctx, args[0], status)
			if err != nil {
				return err
			}
			return opts.formatter(cmd).Success(r, formatRide(r))
		},
	}
}

func NewRejectCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reject <ride-id>",
		Short: "Turn down the passenger who booked your ride",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.ctx(cmd)
			defer cancel()
			r, err := opts.client().Reject(ctx, args[0])
			if err != nil {
				return err
			}
			return opts.formatter(cmd).Success(r, formatRide(r))
		},
	}
}

func NewWithdrawCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "withdraw <ride-id>",
		Short: "Withdraw your pending booking",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.ctx(cmd)
			defer cancel()
			r, err := opts.client().Withdraw(ctx, args[0])
			if err != nil {
				return err
			}
			return opts.formatter(cmd).Success(r, formatRide(r))
		},
	}
}

func NewRateCommand(opts *RootOptions) *cobra.Command {
	var score int
	cmd := &cobra.Command{
		Use:   "rate <user-id>",
		Short: "Rate a user from 1 to 5",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.ctx(cmd)
			defer cancel()
			u, err := opts.client().Rate(ctx, args[0], score)
			if err != nil {
				return err
			}
			return opts.formatter(cmd).Success(u, formatUser(u))
		},
	}
	cmd.Flags().IntVarP(&score, "score", "s", 5, "rating between 1 and 5")
	return cmd
}

func NewMeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "me",
		Short: "Show your profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.ctx(cmd)
			defer cancel()
			u, err := opts.client().Me(ctx)
			if err != nil {
				return err
			}
			return opts.formatter(cmd).Success(u, formatUser(u))
		},
	}
}
