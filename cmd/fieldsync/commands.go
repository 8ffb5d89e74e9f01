package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/yanizio/fieldsync/internal/app"
	"github.com/yanizio/fieldsync/internal/fieldsync"
	"github.com/yanizio/fieldsync/internal/logger"
	"github.com/yanizio/fieldsync/internal/schedule"
	"github.com/yanizio/fieldsync/internal/server"
)

// withApp boots the App around fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	a, err := app.New(ctx, runningInTTY())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

//
// sweep
//

func newSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Sync every active list once",
		Long: `Sync every active list in turn.  A failing list is logged and the sweep
moves on.  The command always exits 0, startup failures included; they are
reported on stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := withApp(cmd, func(ctx context.Context, a *app.App) error {
				out := logger.Progress(a.Log, cmd.OutOrStdout())
				rep, err := fieldsync.Sweep(ctx, a.Repo, a.Runner, out, a.Log)
				if err != nil {
					a.Log.Errorw("sweep aborted", "err", err)
					out("Sweep aborted: " + err.Error())
					return nil
				}
				out(fmt.Sprintf("Sweep done: %d lists, %d synced, %d busy, %d failed",
					rep.Lists, rep.Synced, rep.Busy, rep.Failed))
				return nil
			})
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "Sweep not started:", err)
			}
			return nil
		},
	}
}

//
// sync
//

func newSyncCommand() *cobra.Command {
	var listIDs []int64
	cmd := &cobra.Command{
		Use:   "sync --list-id ID [--list-id ID ...]",
		Short: "Sync the given lists once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				out := logger.Progress(a.Log, cmd.OutOrStdout())
				var errs []error
				for _, id := range listIDs {
					ok, err := a.Runner.Run(ctx, id, out)
					if err != nil {
						errs = append(errs, fmt.Errorf("list %d: %w", id, err))
						continue
					}
					if !ok {
						out(fmt.Sprintf("List %d is being synced by another process", id))
					}
				}
				return errors.Join(errs...)
			})
		},
	}
	cmd.Flags().Int64SliceVar(&listIDs, "list-id", nil, "list to sync (repeatable)")
	_ = cmd.MarkFlagRequired("list-id")
	return cmd
}

//
// worker
//

func newWorkerCommand() *cobra.Command {
	var schedOverride string
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume queued sync requests",
		Long: `Consume the sync queue until interrupted.  When sync.schedule is set the
worker also runs a cron-scheduled sweep, and metrics.listen_addr exposes
/metrics and /healthz.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				return runWorker(ctx, a, schedOverride)
			})
		},
	}
	cmd.Flags().StringVar(&schedOverride, "schedule", "", "cron spec for the in-worker sweep (overrides sync.schedule)")
	return cmd
}

func runWorker(ctx context.Context, a *app.App, schedOverride string) error {
	cfg := a.Config
	spec := cfg.Sync.Schedule
	if schedOverride != "" {
		spec = schedOverride
	}

	g, ctx := errgroup.WithContext(ctx)

	if spec != "" {
		sched := schedule.New(ctx, a.Log)
		if _, err := sched.Add(spec, func(ctx context.Context) {
			if _, err := fieldsync.Sweep(ctx, a.Repo, a.Runner, logger.Progress(a.Log, nil), a.Log); err != nil {
				a.Log.Errorw("scheduled sweep aborted", "err", err)
			}
		}); err != nil {
			return fmt.Errorf("sweep schedule %q: %w", spec, err)
		}
		sched.Start()
		defer sched.Stop()
	}

	if addr := cfg.Metrics.ListenAddr; addr != "" {
		srv := server.New(addr, server.Router(a.HealthChecks()))
		g.Go(func() error {
			a.Log.Infow("metrics listener up", "addr", addr)
			return server.Serve(ctx, srv)
		})
	}

	proc := a.Processor()
	g.Go(func() error {
		return a.Broker.Consume(ctx, cfg.Queue.Name, proc.Process)
	})
	return g.Wait()
}

//
// enqueue
//

func newEnqueueCommand() *cobra.Command {
	var listIDs []int64
	cmd := &cobra.Command{
		Use:   "enqueue --list-id ID [--list-id ID ...]",
		Short: "Request a queued sync of the given lists",
		Long: `Publish one sync request per list.  A newer request for the same list
supersedes any older one still waiting in the queue.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				enq := a.Enqueuer()
				for _, id := range listIDs {
					m, err := enq.Enqueue(ctx, id)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "queued list %d on %s (request %s)\n", id, m.QueueName, m.RequestValue)
				}
				return nil
			})
		},
	}
	cmd.Flags().Int64SliceVar(&listIDs, "list-id", nil, "list to enqueue (repeatable)")
	_ = cmd.MarkFlagRequired("list-id")
	return cmd
}
