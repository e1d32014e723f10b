package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pilacorp/go-savings-sdk/tracker"
)

// maxConcurrentResume bounds how many journaled transactions resume polls at once.
const maxConcurrentResume = 8

// NewTrackCommand creates the track command.
func NewTrackCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "track <tx-id>",
		Short: "Track an already submitted transaction until it resolves",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := rootOpts.newRuntime(ctx, cmd, false)
			if err != nil {
				return err
			}
			defer rt.close()

			f := rootOpts.formatter(cmd)
			t := rt.newTracker(progress(f))
			t.TrackTransaction(ctx, args[0])
			return rt.track(ctx, f, t, nil)
		},
	}
	return cmd
}

// NewResumeCommand creates the resume command.
func NewResumeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume tracking of every unresolved journaled transaction",
		Long: `Resume reads the journal for transactions that were still pending when the
previous run stopped and tracks each of them, one tracker per transaction.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := rootOpts.newRuntime(ctx, cmd, false)
			if err != nil {
				return err
			}
			defer rt.close()

			if err := rt.requireJournal(); err != nil {
				return err
			}

			records, err := rt.journal.Unresolved(ctx)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read journal", err)
			}
			f := rootOpts.formatter(cmd)
			f.VerboseLog("resuming %d transaction(s)", len(records))

			views := make([]StateView, len(records))

			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(maxConcurrentResume)
			for i, rec := range records {
				g.Go(func() error {
					t := rt.newTracker(progress(f))
					t.TrackTransaction(gctx, rec.TxID)
					st, err := t.Wait(gctx)
					if err != nil {
						return fmt.Errorf("wait for %s: %w", rec.TxID, err)
					}
					views[i] = newStateView(st)
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return WrapExitError(ExitFailure, "resume interrupted", err)
			}

			failed := 0
			for _, v := range views {
				if v.Status != tracker.Success.String() {
					failed++
				}
			}

			out := func(w io.Writer) {
				if len(views) == 0 {
					fmt.Fprintln(w, "nothing to resume")
					return
				}
				for _, v := range views {
					writeStateText(w, v)
				}
			}
			if failed > 0 {
				if err := f.Failure(fmt.Sprintf("%d of %d transaction(s) failed", failed, len(views)), views, out); err != nil {
					return err
				}
				return NewExitError(ExitFailure, fmt.Sprintf("%d transaction(s) failed", failed))
			}
			return f.Success(views, out)
		},
	}
	return cmd
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List journaled transactions, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := rootOpts.newRuntime(ctx, cmd, false)
			if err != nil {
				return err
			}
			defer rt.close()

			if err := rt.requireJournal(); err != nil {
				return err
			}

			records, err := rt.journal.List(ctx, limit)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read journal", err)
			}

			return rootOpts.formatter(cmd).Success(records, func(w io.Writer) {
				if len(records) == 0 {
					fmt.Fprintln(w, "no journaled transactions")
					return
				}
				for _, rec := range records {
					writeStateText(w, StateView{Status: rec.Status, TxID: rec.TxID, Detail: rec.Detail})
					fmt.Fprintf(w, "  Updated:    %s\n", rec.UpdatedAt.Format(time.RFC3339))
				}
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of transactions to list")
	return cmd
}
