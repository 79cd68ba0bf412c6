package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/clusterx/voicesync/internal/ingest"
	"github.com/clusterx/voicesync/internal/store"
	"github.com/clusterx/voicesync/pkg/llm"
	"github.com/clusterx/voicesync/pkg/voice"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.Path
		if path == "" {
			path = "voicesync.db"
		}
		return store.NewSQLite(path)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// buildRunner assembles the full ingestion pipeline on top of an open
// store.
func buildRunner(st store.Store) *ingest.Runner {
	voiceClient := voice.NewClient(cfg.Voice.Key,
		voice.WithBaseURL(cfg.Voice.BaseURL),
		voice.WithRateLimit(cfg.Voice.RateLimitRPS),
		voice.WithTimeout(time.Duration(cfg.Voice.TimeoutSecs)*time.Second),
	)
	poller := ingest.NewVoicePoller(voiceClient, cfg.Voice.PageSize, cfg.Voice.MaxPages)

	analyzer := llm.NewAnalyzer(
		llm.NewClient(cfg.Anthropic.Key),
		cfg.Anthropic.Model,
		int64(cfg.Anthropic.MaxTokens),
	)

	return ingest.NewRunner(st, poller, analyzer, ingest.Config{
		BatchSize:          cfg.Ingest.BatchSize,
		CallDelay:          time.Duration(cfg.Ingest.CallDelaySecs) * time.Second,
		MinTranscriptChars: cfg.Ingest.MinTranscriptChars,
		RetryAttempts:      cfg.Ingest.RetryAttempts,
		RetryBackoff:       time.Duration(cfg.Ingest.RetryBackoffSecs) * time.Second,
		ClaimLease:         time.Duration(cfg.Ingest.ClaimLeaseMins) * time.Minute,
	})
}
