package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/clusterx/voicesync/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "voicesync",
	Short: "Voice agent call ingestion and CRM sync",
	Long:  "Pulls call recordings from the voice agent platform, analyzes transcripts with Claude, and keeps call and contact records in sync.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
