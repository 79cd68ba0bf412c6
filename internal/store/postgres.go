package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/clusterx/voicesync/internal/db"
	"github.com/clusterx/voicesync/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot-path store operations.
var preparedStatements = map[string]string{
	"get_call":       pgSelectCall + ` WHERE call_id = $1`,
	"claim_call":     pgClaimCall,
	"mark_processed": pgMarkProcessed,
	"ensure_contact": pgEnsureContact,
	"get_contact":    pgSelectContact + ` WHERE user_id = $1 AND phone = $2`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need direct
// query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS calls (
	call_id        TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL,
	agent_id       TEXT,
	agent_name     TEXT,
	caller_number  TEXT,
	direction      TEXT NOT NULL DEFAULT 'unknown',
	duration       INTEGER NOT NULL DEFAULT 0,
	call_timestamp TEXT,
	transcript     TEXT,
	recording_url  TEXT,
	total_cost     DOUBLE PRECISION NOT NULL DEFAULT 0,
	cost_breakdown JSONB,
	extracted_data JSONB,
	analysis       JSONB,
	processed      BOOLEAN NOT NULL DEFAULT false,
	raw_llm_output TEXT,
	claimed_at     TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS contacts (
	id                  TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	user_id             TEXT NOT NULL,
	phone               TEXT NOT NULL,
	name                TEXT NOT NULL,
	source              TEXT,
	tag                 TEXT NOT NULL DEFAULT 'fresh',
	call_count          INTEGER NOT NULL DEFAULT 0,
	total_call_duration INTEGER NOT NULL DEFAULT 0,
	last_call_date      TEXT,
	last_call_summary   TEXT,
	last_call_agent     TEXT,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (user_id, phone)
);

CREATE INDEX IF NOT EXISTS idx_calls_user_processed ON calls(user_id, processed);
CREATE INDEX IF NOT EXISTS idx_calls_user_timestamp ON calls(user_id, call_timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_calls_claimed_at ON calls(claimed_at) WHERE claimed_at IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_contacts_user_tag ON contacts(user_id, tag);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const pgUpsertCall = `
INSERT INTO calls (
	call_id, user_id, agent_id, agent_name, caller_number, direction,
	duration, call_timestamp, transcript, recording_url, total_cost,
	cost_breakdown, extracted_data, analysis, processed, raw_llm_output,
	created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
ON CONFLICT (call_id) DO UPDATE SET
	user_id        = EXCLUDED.user_id,
	agent_id       = EXCLUDED.agent_id,
	agent_name     = EXCLUDED.agent_name,
	caller_number  = EXCLUDED.caller_number,
	direction      = EXCLUDED.direction,
	duration       = EXCLUDED.duration,
	call_timestamp = EXCLUDED.call_timestamp,
	transcript     = EXCLUDED.transcript,
	recording_url  = EXCLUDED.recording_url,
	total_cost     = EXCLUDED.total_cost,
	cost_breakdown = EXCLUDED.cost_breakdown,
	extracted_data = EXCLUDED.extracted_data,
	updated_at     = EXCLUDED.updated_at`

// UpsertCall inserts or refreshes one call. Processing state columns are set
// only on first insert; conflicts leave them untouched.
func (s *PostgresStore) UpsertCall(ctx context.Context, call model.Call) error {
	costJSON, extractedJSON, analysisJSON, err := marshalCallJSON(call)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err = s.pool.Exec(ctx, pgUpsertCall,
		call.CallID, call.UserID, call.AgentID, call.AgentName,
		call.CallerNumber, call.Direction, call.Duration, call.Timestamp,
		call.Transcript, call.RecordingURL, call.TotalCost,
		costJSON, extractedJSON, analysisJSON, call.Processed,
		call.RawLLMOutput, now, now,
	)
	return eris.Wrapf(err, "postgres: upsert call %s", call.CallID)
}

var callUpsertColumns = []string{
	"call_id", "user_id", "agent_id", "agent_name", "caller_number",
	"direction", "duration", "call_timestamp", "transcript", "recording_url",
	"total_cost", "cost_breakdown", "extracted_data", "analysis", "processed",
	"raw_llm_output", "created_at", "updated_at",
}

// callRefreshColumns are the provider-owned columns refreshed on conflict.
// Processing state and created_at survive re-ingestion.
var callRefreshColumns = []string{
	"user_id", "agent_id", "agent_name", "caller_number", "direction",
	"duration", "call_timestamp", "transcript", "recording_url", "total_cost",
	"cost_breakdown", "extracted_data", "updated_at",
}

// UpsertCalls bulk-persists a page of calls via COPY plus ON CONFLICT. A call
// that fails to marshal is logged and skipped, and if the bulk path fails the
// page is retried record by record so one bad row cannot sink its siblings.
func (s *PostgresStore) UpsertCalls(ctx context.Context, calls []model.Call) (int, error) {
	if len(calls) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(calls))
	bulkable := make([]model.Call, 0, len(calls))
	for _, call := range calls {
		costJSON, extractedJSON, analysisJSON, err := marshalCallJSON(call)
		if err != nil {
			zap.L().Warn("skipping call that failed to persist",
				zap.String("call_id", call.CallID), zap.Error(err))
			continue
		}
		rows = append(rows, []any{
			call.CallID, call.UserID, call.AgentID, call.AgentName,
			call.CallerNumber, call.Direction, call.Duration, call.Timestamp,
			call.Transcript, call.RecordingURL, call.TotalCost,
			costJSON, extractedJSON, analysisJSON, call.Processed,
			call.RawLLMOutput, now, now,
		})
		bulkable = append(bulkable, call)
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "calls",
		Columns:      callUpsertColumns,
		ConflictKeys: []string{"call_id"},
		UpdateCols:   callRefreshColumns,
	}, rows)
	if err == nil {
		return int(n), nil
	}

	zap.L().Warn("bulk upsert failed, retrying per record", zap.Error(err))
	synced := 0
	for _, call := range bulkable {
		if err := ctx.Err(); err != nil {
			return synced, eris.Wrap(err, "postgres: upsert calls")
		}
		if err := s.UpsertCall(ctx, call); err != nil {
			zap.L().Warn("skipping call that failed to persist",
				zap.String("call_id", call.CallID), zap.Error(err))
			continue
		}
		synced++
	}
	return synced, nil
}

const pgSelectCall = `
SELECT call_id, user_id, agent_id, agent_name, caller_number, direction,
       duration, call_timestamp, transcript, recording_url, total_cost,
       cost_breakdown, extracted_data, analysis, processed, raw_llm_output,
       created_at, updated_at
FROM calls`

func (s *PostgresStore) GetCall(ctx context.Context, callID string) (*model.Call, error) {
	row := s.pool.QueryRow(ctx, pgSelectCall+` WHERE call_id = $1`, callID)
	c, err := scanPgCall(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Errorf("call not found: %s", callID)
		}
		return nil, eris.Wrapf(err, "postgres: get call %s", callID)
	}
	return c, nil
}

func (s *PostgresStore) ListCalls(ctx context.Context, filter CallFilter) ([]model.Call, error) {
	query := pgSelectCall + ` WHERE true`
	args := []any{}
	argIdx := 1

	if filter.UserID != "" {
		query += fmt.Sprintf(` AND user_id = $%d`, argIdx)
		args = append(args, filter.UserID)
		argIdx++
	}
	if filter.AgentID != "" {
		query += fmt.Sprintf(` AND agent_id = $%d`, argIdx)
		args = append(args, filter.AgentID)
		argIdx++
	}
	if filter.Direction != "" {
		query += fmt.Sprintf(` AND direction = $%d`, argIdx)
		args = append(args, filter.Direction)
		argIdx++
	}
	if filter.Intent != "" {
		query += fmt.Sprintf(` AND analysis->>'intent' = $%d`, argIdx)
		args = append(args, filter.Intent)
		argIdx++
	}
	if filter.Processed != nil {
		query += fmt.Sprintf(` AND processed = $%d`, argIdx)
		args = append(args, *filter.Processed)
		argIdx++
	}
	if filter.Booked {
		query += ` AND (analysis->'booking'->>'is_booked')::boolean = true`
	}
	query += ` ORDER BY call_timestamp DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list calls")
	}
	defer rows.Close()

	var calls []model.Call
	for rows.Next() {
		c, err := scanPgCall(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan call")
		}
		calls = append(calls, *c)
	}
	return calls, eris.Wrap(rows.Err(), "postgres: list calls iterate")
}

const pgClaimCall = `
UPDATE calls SET claimed_at = now(), updated_at = now()
WHERE call_id = $1 AND processed = false
  AND (claimed_at IS NULL OR claimed_at <= now() - make_interval(secs => $2))`

// ClaimCall takes the analysis lease on an unprocessed call. Returns false
// when the call is already processed or another run holds an unexpired claim.
func (s *PostgresStore) ClaimCall(ctx context.Context, callID string, lease time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx, pgClaimCall, callID, lease.Seconds())
	if err != nil {
		return false, eris.Wrapf(err, "postgres: claim call %s", callID)
	}
	return tag.RowsAffected() > 0, nil
}

const pgMarkProcessed = `
UPDATE calls SET processed = true, analysis = $1, raw_llm_output = $2, claimed_at = NULL, updated_at = now()
WHERE call_id = $3`

func (s *PostgresStore) MarkCallProcessed(ctx context.Context, callID string, analysis *model.Analysis, rawOutput string) error {
	var analysisJSON []byte
	if analysis != nil {
		b, err := json.Marshal(analysis)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal analysis")
		}
		analysisJSON = b
	}

	tag, err := s.pool.Exec(ctx, pgMarkProcessed, analysisJSON, rawOutput, callID)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark call processed %s", callID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("call not found: %s", callID)
	}
	return nil
}

const pgEnsureContact = `
INSERT INTO contacts (id, user_id, phone, name, source, tag, call_count, total_call_duration, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, 0, 0, now(), now())
ON CONFLICT (user_id, phone) DO UPDATE SET updated_at = now()`

// EnsureContact inserts the contact if it does not exist. On conflict only
// updated_at is touched; aggregates and tags are owned by ApplyCallOutcome.
func (s *PostgresStore) EnsureContact(ctx context.Context, contact model.Contact) error {
	phone := model.NormalizePhone(contact.Phone)
	name := contact.Name
	if name == "" {
		name = model.DefaultContactName(phone)
	}
	tag := contact.Tag
	if tag == "" {
		tag = model.StatusFresh
	}

	_, err := s.pool.Exec(ctx, pgEnsureContact,
		uuid.New().String(), contact.UserID, phone, name, contact.Source, string(tag),
	)
	return eris.Wrapf(err, "postgres: ensure contact %s/%s", contact.UserID, phone)
}

const pgApplyOutcome = `
UPDATE contacts SET
	call_count          = call_count + 1,
	total_call_duration = total_call_duration + $1,
	last_call_date      = $2,
	last_call_summary   = $3,
	last_call_agent     = $4,
	tag                 = CASE WHEN $5 != '' THEN $5 ELSE tag END,
	updated_at          = now()
WHERE user_id = $6 AND phone = $7`

// ApplyCallOutcome folds one analyzed call into the contact aggregates. An
// empty outcome tag keeps the stored tag.
func (s *PostgresStore) ApplyCallOutcome(ctx context.Context, userID, phone string, outcome model.CallOutcome) error {
	normalized := model.NormalizePhone(phone)

	tag, err := s.pool.Exec(ctx, pgApplyOutcome,
		outcome.Duration, outcome.CallDate, outcome.CallSummary, outcome.AgentName,
		string(outcome.Tag), userID, normalized,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: apply call outcome %s/%s", userID, normalized)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// First sighting of this number.
	newTag := outcome.Tag
	if newTag == "" {
		newTag = model.StatusFresh
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO contacts (id, user_id, phone, name, source, tag, call_count, total_call_duration,
			last_call_date, last_call_summary, last_call_agent, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $8, $9, $10, now(), now())`,
		uuid.New().String(), userID, normalized, model.DefaultContactName(normalized),
		outcome.Source, string(newTag), outcome.Duration,
		outcome.CallDate, outcome.CallSummary, outcome.AgentName,
	)
	return eris.Wrapf(err, "postgres: insert contact %s/%s", userID, normalized)
}

const pgSelectContact = `
SELECT id, user_id, phone, name, source, tag, call_count, total_call_duration,
       last_call_date, last_call_summary, last_call_agent, created_at, updated_at
FROM contacts`

func (s *PostgresStore) GetContact(ctx context.Context, userID, phone string) (*model.Contact, error) {
	row := s.pool.QueryRow(ctx, pgSelectContact+` WHERE user_id = $1 AND phone = $2`,
		userID, model.NormalizePhone(phone))
	c, err := scanPgContact(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get contact")
	}
	return c, nil
}

func (s *PostgresStore) ListContacts(ctx context.Context, filter ContactFilter) ([]model.Contact, error) {
	query := pgSelectContact + ` WHERE true`
	args := []any{}
	argIdx := 1

	if filter.UserID != "" {
		query += fmt.Sprintf(` AND user_id = $%d`, argIdx)
		args = append(args, filter.UserID)
		argIdx++
	}
	if filter.Tag != "" {
		query += fmt.Sprintf(` AND tag = $%d`, argIdx)
		args = append(args, string(filter.Tag))
		argIdx++
	}
	if filter.Search != "" {
		query += fmt.Sprintf(` AND (name ILIKE $%d OR phone ILIKE $%d)`, argIdx, argIdx+1)
		like := "%" + filter.Search + "%"
		args = append(args, like, like)
		argIdx += 2
	}
	query += ` ORDER BY updated_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list contacts")
	}
	defer rows.Close()

	var contacts []model.Contact
	for rows.Next() {
		c, err := scanPgContact(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan contact")
		}
		contacts = append(contacts, *c)
	}
	return contacts, eris.Wrap(rows.Err(), "postgres: list contacts iterate")
}

// pg scan helpers

func scanPgCall(row pgx.Row) (*model.Call, error) {
	var c model.Call
	var agentID, agentName, callerNumber, timestamp, transcript, recordingURL, rawOutput *string
	var costJSON, extractedJSON, analysisJSON []byte

	err := row.Scan(&c.CallID, &c.UserID, &agentID, &agentName, &callerNumber,
		&c.Direction, &c.Duration, &timestamp, &transcript, &recordingURL,
		&c.TotalCost, &costJSON, &extractedJSON, &analysisJSON, &c.Processed,
		&rawOutput, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}

	c.AgentID = deref(agentID)
	c.AgentName = deref(agentName)
	c.CallerNumber = deref(callerNumber)
	c.Timestamp = deref(timestamp)
	c.Transcript = deref(transcript)
	c.RecordingURL = deref(recordingURL)
	c.RawLLMOutput = deref(rawOutput)

	if len(costJSON) > 0 {
		if err := json.Unmarshal(costJSON, &c.CostBreakdown); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal cost breakdown")
		}
	}
	if len(extractedJSON) > 0 {
		if err := json.Unmarshal(extractedJSON, &c.ExtractedData); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal extracted data")
		}
	}
	if len(analysisJSON) > 0 {
		c.Analysis = &model.Analysis{}
		if err := json.Unmarshal(analysisJSON, c.Analysis); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal analysis")
		}
	}
	return &c, nil
}

func scanPgContact(row pgx.Row) (*model.Contact, error) {
	var c model.Contact
	var source, lastDate, lastSummary, lastAgent *string
	var tag string

	err := row.Scan(&c.ID, &c.UserID, &c.Phone, &c.Name, &source, &tag,
		&c.CallCount, &c.TotalCallDuration, &lastDate, &lastSummary, &lastAgent,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}

	c.Source = deref(source)
	c.Tag = model.ContactStatus(tag)
	c.LastCallDate = deref(lastDate)
	c.LastCallSummary = deref(lastSummary)
	c.LastCallAgent = deref(lastAgent)
	return &c, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
