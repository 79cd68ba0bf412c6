package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var syncUserID string

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one ingestion pass for a single user",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("sync"); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		runner := buildRunner(st)
		result, err := runner.Sync(ctx, syncUserID)
		if err != nil {
			return eris.Wrap(err, "sync run")
		}

		zap.L().Info("sync complete",
			zap.String("user_id", syncUserID),
			zap.Int("total", result.Total),
			zap.Int("synced", result.Synced),
			zap.Int("processed", result.Processed),
			zap.Int("failed", result.Failed),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	syncCmd.Flags().StringVar(&syncUserID, "user", "", "user ID to sync (required)")
	_ = syncCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(syncCmd)
}
