package cli

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/spf13/cobra"

	"github.com/example/rideshare/internal/client"
	"github.com/example/rideshare/internal/clock"
)

// NewWatchCommand runs the polling session and prints each view change.
func NewWatchCommand(opts *RootOptions) *cobra.Command {
	var board bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow your ride, printing the screen the app would show",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api := opts.client()
			ctx, cancel := opts.ctx(cmd)
			me, err := api.Me(ctx)
			cancel()
			if err != nil {
				return err
			}
			return runWatch(cmd.Context(), opts, api, me.ID, board, clock.Real(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().BoolVar(&board, "board", false, "also print the open rides list on every poll")
	return cmd
}

// runWatch blocks until ctx is done.
func runWatch(ctx context.Context, opts *RootOptions, api client.RideAPI, viewerID string, board bool, c clock.Clock, out, errOut io.Writer) error {
	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: level}))
	f := &OutputFormatter{Format: opts.Format, Writer: out, ErrWriter: errOut, Verbose: opts.Verbose}

	var mu sync.Mutex
	var last client.Screen
	s := client.NewSession(api, viewerID, opts.PollInterval, c, logger)
	s.OnChange = func(st client.ViewState) {
		mu.Lock()
		defer mu.Unlock()
		if st.Screen == last {
			return
		}
		last = st.Screen
		_ = f.Success(st, formatView(st))
	}
	if board {
		s.OnBoard = func(b client.BoardState) {
			mu.Lock()
			defer mu.Unlock()
			_ = f.Success(b, formatRides(b.Rides))
		}
	}
	s.Start(ctx)
	<-ctx.Done()
	s.Stop()
	return nil
}
