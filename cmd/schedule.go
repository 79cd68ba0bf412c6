package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/clusterx/voicesync/internal/scheduler"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the ingestion loop for all configured users",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("schedule"); err != nil {
			return err
		}
		if len(cfg.Scheduler.Users) == 0 {
			return eris.New("scheduler.users is empty, nothing to do")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		runner := buildRunner(st)
		sched := scheduler.New(
			runner.Sync,
			cfg.Scheduler.Users,
			time.Duration(cfg.Scheduler.IntervalSecs)*time.Second,
			cfg.Scheduler.MaxConcurrentUsers,
		)

		if err := sched.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
}
