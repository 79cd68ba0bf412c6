package ingest

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/clusterx/voicesync/internal/model"
	"github.com/clusterx/voicesync/internal/resilience"
	"github.com/clusterx/voicesync/internal/store"
	"github.com/clusterx/voicesync/pkg/llm"
)

// Config tunes one ingestion run.
type Config struct {
	// BatchSize caps analyzer invocations per run. Calls skipped for
	// short transcripts do not consume a slot.
	BatchSize int

	// CallDelay is the pause inserted before every analysis after the
	// first one actually performed in a run.
	CallDelay time.Duration

	// MinTranscriptChars is the shortest transcript worth analyzing.
	// Anything below is marked processed without an LLM call.
	MinTranscriptChars int

	// RetryAttempts and RetryBackoff configure the rate-limit retry
	// around each analyzer invocation.
	RetryAttempts int
	RetryBackoff  time.Duration

	// ClaimLease bounds how long a call stays claimed by a run that
	// never finished it.
	ClaimLease time.Duration
}

// DefaultConfig returns the runner defaults: 20 analyses per run, 10s
// between calls, 15-char transcript floor, 3 attempts at 35s linear
// backoff, 10-minute claim lease.
func DefaultConfig() Config {
	return Config{
		BatchSize:          20,
		CallDelay:          10 * time.Second,
		MinTranscriptChars: 15,
		RetryAttempts:      3,
		RetryBackoff:       35 * time.Second,
		ClaimLease:         10 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.MinTranscriptChars <= 0 {
		c.MinTranscriptChars = d.MinTranscriptChars
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = d.RetryAttempts
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	if c.ClaimLease <= 0 {
		c.ClaimLease = d.ClaimLease
	}
	return c
}

// Runner drives one ingestion run for a user: Phase 1 persists every
// fetched call and ensures a contact per caller, Phase 2 analyzes
// unprocessed calls one at a time under the batch cap and inter-call
// delay.
type Runner struct {
	store    store.Store
	source   Source
	analyzer llm.Analyzer
	cfg      Config

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRunner assembles a runner from its collaborators.
func NewRunner(st store.Store, source Source, analyzer llm.Analyzer, cfg Config) *Runner {
	return &Runner{
		store:    st,
		source:   source,
		analyzer: analyzer,
		cfg:      cfg.withDefaults(),
		sleep:    resilience.SleepContext,
	}
}

// Sync executes one full ingestion run for userID. A fetch failure
// aborts the run; per-call failures are counted and contained. Safe to
// call repeatedly: already-processed calls are never re-analyzed.
func (r *Runner) Sync(ctx context.Context, userID string) (*model.SyncResult, error) {
	log := zap.L().With(zap.String("user_id", userID))

	calls, err := r.source.FetchCalls(ctx, userID)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: fetch calls")
	}

	result := &model.SyncResult{Total: len(calls)}
	log.Info("fetched calls", zap.Int("total", result.Total))
	if len(calls) == 0 {
		return result, nil
	}

	r.syncCalls(ctx, log, calls, result)
	if err := r.analyzeCalls(ctx, log, calls, result); err != nil {
		return result, err
	}

	log.Info("run complete",
		zap.Int("total", result.Total),
		zap.Int("synced", result.Synced),
		zap.Int("processed", result.Processed),
		zap.Int("failed", result.Failed))
	return result, nil
}

// syncCalls is Phase 1: bulk-upsert every fetched call, then ensure one
// contact per distinct caller number.
func (r *Runner) syncCalls(ctx context.Context, log *zap.Logger, calls []model.Call, result *model.SyncResult) {
	synced, err := r.store.UpsertCalls(ctx, calls)
	result.Synced = synced
	if err != nil {
		log.Error("call upsert failed", zap.Error(err))
	}
	if dropped := len(calls) - synced; dropped > 0 {
		result.Failed += dropped
		log.Warn("some calls failed to persist", zap.Int("dropped", dropped))
	}

	seen := make(map[string]bool)
	for _, call := range calls {
		phone := model.NormalizePhone(call.CallerNumber)
		if phone == "" || seen[phone] {
			continue
		}
		seen[phone] = true

		contact := model.Contact{
			UserID: call.UserID,
			Phone:  phone,
			Name:   model.DefaultContactName(phone),
			Source: SourceForDirection(call.Direction),
			Tag:    model.StatusFresh,
		}
		if err := r.store.EnsureContact(ctx, contact); err != nil {
			log.Warn("contact ensure failed",
				zap.String("phone", phone),
				zap.Error(err))
		}
	}
}

// analyzeCalls is Phase 2: walk the fetched calls in order, claim each
// unprocessed one, and analyze up to the batch cap with the configured
// inter-call delay.
func (r *Runner) analyzeCalls(ctx context.Context, log *zap.Logger, calls []model.Call, result *model.SyncResult) error {
	analyzed := 0
	for _, call := range calls {
		if analyzed >= r.cfg.BatchSize {
			log.Info("batch cap reached, leaving remaining calls for the next run",
				zap.Int("cap", r.cfg.BatchSize))
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		claimed, err := r.store.ClaimCall(ctx, call.CallID, r.cfg.ClaimLease)
		if err != nil {
			log.Warn("claim failed",
				zap.String("call_id", call.CallID),
				zap.Error(err))
			result.Failed++
			continue
		}
		if !claimed {
			// Already processed, or another run holds the claim.
			continue
		}

		if len(strings.TrimSpace(call.Transcript)) < r.cfg.MinTranscriptChars {
			if err := r.store.MarkCallProcessed(ctx, call.CallID, nil, ""); err != nil {
				log.Warn("mark short call failed",
					zap.String("call_id", call.CallID),
					zap.Error(err))
				result.Failed++
				continue
			}
			result.Processed++
			continue
		}

		if analyzed > 0 && r.cfg.CallDelay > 0 {
			if err := r.sleep(ctx, r.cfg.CallDelay); err != nil {
				return err
			}
		}
		analyzed++

		r.analyzeCall(ctx, log, call, result)
	}
	return nil
}

// analyzeCall runs one analyzer invocation with rate-limit retries and
// persists the outcome. Failures land in the call record as raw output
// and never update the contact.
func (r *Runner) analyzeCall(ctx context.Context, log *zap.Logger, call model.Call, result *model.SyncResult) {
	retryCfg := resilience.RetryConfig{
		MaxAttempts: r.cfg.RetryAttempts,
		BackoffUnit: r.cfg.RetryBackoff,
		OnRetry:     resilience.RetryLogger("analyzer", "analyze"),
		Sleep:       r.sleep,
	}

	// lastRaw carries the model's last response across attempts so a
	// failed call still records what the model said, if anything.
	var lastRaw string
	res, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*llm.Result, error) {
		res, err := r.analyzer.Analyze(ctx, call.Transcript)
		if res != nil {
			lastRaw = res.Raw
		}
		return res, err
	})
	if err != nil {
		log.Warn("analysis failed",
			zap.String("call_id", call.CallID),
			zap.Error(err))
		if merr := r.store.MarkCallProcessed(ctx, call.CallID, nil, lastRaw); merr != nil {
			log.Warn("mark failed call failed",
				zap.String("call_id", call.CallID),
				zap.Error(merr))
		}
		result.Failed++
		return
	}

	if res.Analysis == nil {
		// Model responded but the output was not parseable; keep the
		// raw text for inspection.
		if merr := r.store.MarkCallProcessed(ctx, call.CallID, nil, res.Raw); merr != nil {
			log.Warn("mark unparsed call failed",
				zap.String("call_id", call.CallID),
				zap.Error(merr))
		}
		result.Failed++
		return
	}

	if err := r.store.MarkCallProcessed(ctx, call.CallID, res.Analysis, ""); err != nil {
		log.Warn("persist analysis failed",
			zap.String("call_id", call.CallID),
			zap.Error(err))
		result.Failed++
		return
	}
	result.Processed++

	r.updateContact(ctx, log, call, res.Analysis)
}

// updateContact propagates a successful analysis to the contact record.
// Errors here are logged only; the call itself is already processed.
func (r *Runner) updateContact(ctx context.Context, log *zap.Logger, call model.Call, analysis *model.Analysis) {
	phone := model.NormalizePhone(call.CallerNumber)
	if phone == "" {
		return
	}

	outcome := model.CallOutcome{
		Duration:    call.Duration,
		CallDate:    call.Timestamp,
		CallSummary: analysis.Summary,
		AgentName:   call.AgentName,
		Source:      SourceForDirection(call.Direction),
	}
	if tag, ok := MapStatus(analysis.Intent); ok {
		outcome.Tag = tag
	}
	if analysis.Booking.IsBooked {
		outcome.Tag = model.StatusPurchased
	}

	if err := r.store.ApplyCallOutcome(ctx, call.UserID, phone, outcome); err != nil {
		log.Warn("contact update failed",
			zap.String("call_id", call.CallID),
			zap.String("phone", phone),
			zap.Error(err))
	}
}
