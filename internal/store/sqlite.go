package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/clusterx/voicesync/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
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
	total_cost     REAL NOT NULL DEFAULT 0,
	cost_breakdown TEXT,
	extracted_data TEXT,
	analysis       TEXT,
	processed      INTEGER NOT NULL DEFAULT 0,
	raw_llm_output TEXT,
	claimed_at     DATETIME,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS contacts (
	id                  TEXT PRIMARY KEY,
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
	created_at          DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at          DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (user_id, phone)
);

CREATE INDEX IF NOT EXISTS idx_calls_user_processed ON calls(user_id, processed);
CREATE INDEX IF NOT EXISTS idx_calls_user_timestamp ON calls(user_id, call_timestamp);
CREATE INDEX IF NOT EXISTS idx_contacts_user_tag ON contacts(user_id, tag);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteUpsertCall = `
INSERT INTO calls (
	call_id, user_id, agent_id, agent_name, caller_number, direction,
	duration, call_timestamp, transcript, recording_url, total_cost,
	cost_breakdown, extracted_data, analysis, processed, raw_llm_output,
	created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(call_id) DO UPDATE SET
	user_id        = excluded.user_id,
	agent_id       = excluded.agent_id,
	agent_name     = excluded.agent_name,
	caller_number  = excluded.caller_number,
	direction      = excluded.direction,
	duration       = excluded.duration,
	call_timestamp = excluded.call_timestamp,
	transcript     = excluded.transcript,
	recording_url  = excluded.recording_url,
	total_cost     = excluded.total_cost,
	cost_breakdown = excluded.cost_breakdown,
	extracted_data = excluded.extracted_data,
	updated_at     = excluded.updated_at`

// UpsertCall inserts or refreshes one call. Processing state columns are set
// only on first insert; conflicts leave them untouched.
func (s *SQLiteStore) UpsertCall(ctx context.Context, call model.Call) error {
	costJSON, extractedJSON, analysisJSON, err := marshalCallJSON(call)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, sqliteUpsertCall,
		call.CallID, call.UserID, call.AgentID, call.AgentName,
		call.CallerNumber, call.Direction, call.Duration, call.Timestamp,
		call.Transcript, call.RecordingURL, call.TotalCost,
		costJSON, extractedJSON, analysisJSON, call.Processed,
		call.RawLLMOutput, now, now,
	)
	return eris.Wrapf(err, "sqlite: upsert call %s", call.CallID)
}

// UpsertCalls persists a page of calls record by record. A record that fails
// to persist is logged and skipped so the rest of the page still lands.
func (s *SQLiteStore) UpsertCalls(ctx context.Context, calls []model.Call) (int, error) {
	synced := 0
	for _, call := range calls {
		if err := ctx.Err(); err != nil {
			return synced, eris.Wrap(err, "sqlite: upsert calls")
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

const sqliteSelectCall = `
SELECT call_id, user_id, agent_id, agent_name, caller_number, direction,
       duration, call_timestamp, transcript, recording_url, total_cost,
       cost_breakdown, extracted_data, analysis, processed, raw_llm_output,
       created_at, updated_at
FROM calls`

func (s *SQLiteStore) GetCall(ctx context.Context, callID string) (*model.Call, error) {
	row := s.db.QueryRowContext(ctx, sqliteSelectCall+` WHERE call_id = ?`, callID)
	c, err := scanCall(row)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("call not found: %s", callID)
	}
	return c, err
}

func (s *SQLiteStore) ListCalls(ctx context.Context, filter CallFilter) ([]model.Call, error) {
	query := sqliteSelectCall + ` WHERE 1=1`
	var args []any

	if filter.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	if filter.AgentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, filter.AgentID)
	}
	if filter.Direction != "" {
		query += ` AND direction = ?`
		args = append(args, filter.Direction)
	}
	if filter.Intent != "" {
		query += ` AND json_extract(analysis, '$.intent') = ?`
		args = append(args, filter.Intent)
	}
	if filter.Processed != nil {
		query += ` AND processed = ?`
		args = append(args, *filter.Processed)
	}
	if filter.Booked {
		query += ` AND json_extract(analysis, '$.booking.is_booked') = 1`
	}
	query += ` ORDER BY call_timestamp DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list calls")
	}
	defer rows.Close()

	var calls []model.Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, *c)
	}
	return calls, eris.Wrap(rows.Err(), "sqlite: list calls iterate")
}

// ClaimCall takes the analysis lease on an unprocessed call. Returns false
// when the call is already processed or another run holds an unexpired claim.
func (s *SQLiteStore) ClaimCall(ctx context.Context, callID string, lease time.Duration) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE calls SET claimed_at = ?, updated_at = ?
		 WHERE call_id = ? AND processed = 0 AND (claimed_at IS NULL OR claimed_at <= ?)`,
		now, now, callID, now.Add(-lease),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: claim call %s", callID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) MarkCallProcessed(ctx context.Context, callID string, analysis *model.Analysis, rawOutput string) error {
	var analysisJSON any
	if analysis != nil {
		b, err := json.Marshal(analysis)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal analysis")
		}
		analysisJSON = string(b)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE calls SET processed = 1, analysis = ?, raw_llm_output = ?, claimed_at = NULL, updated_at = ?
		 WHERE call_id = ?`,
		analysisJSON, rawOutput, time.Now().UTC(), callID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark call processed %s", callID)
	}
	return checkRowsAffected(res, "call", callID)
}

// EnsureContact inserts the contact if it does not exist. On conflict only
// updated_at is touched; aggregates and tags are owned by ApplyCallOutcome.
func (s *SQLiteStore) EnsureContact(ctx context.Context, contact model.Contact) error {
	phone := model.NormalizePhone(contact.Phone)
	name := contact.Name
	if name == "" {
		name = model.DefaultContactName(phone)
	}
	tag := contact.Tag
	if tag == "" {
		tag = model.StatusFresh
	}

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contacts (id, user_id, phone, name, source, tag, call_count, total_call_duration, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, 0, ?, ?)
		 ON CONFLICT(user_id, phone) DO UPDATE SET updated_at = excluded.updated_at`,
		uuid.New().String(), contact.UserID, phone, name, contact.Source, string(tag), now, now,
	)
	return eris.Wrapf(err, "sqlite: ensure contact %s/%s", contact.UserID, phone)
}

// ApplyCallOutcome folds one analyzed call into the contact aggregates. An
// empty outcome tag keeps the stored tag.
func (s *SQLiteStore) ApplyCallOutcome(ctx context.Context, userID, phone string, outcome model.CallOutcome) error {
	normalized := model.NormalizePhone(phone)
	now := time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		`UPDATE contacts SET
			call_count          = call_count + 1,
			total_call_duration = total_call_duration + ?,
			last_call_date      = ?,
			last_call_summary   = ?,
			last_call_agent     = ?,
			tag                 = CASE WHEN ? != '' THEN ? ELSE tag END,
			updated_at          = ?
		 WHERE user_id = ? AND phone = ?`,
		outcome.Duration, outcome.CallDate, outcome.CallSummary, outcome.AgentName,
		string(outcome.Tag), string(outcome.Tag), now, userID, normalized,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: apply call outcome %s/%s", userID, normalized)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n > 0 {
		return nil
	}

	// First sighting of this number.
	tag := outcome.Tag
	if tag == "" {
		tag = model.StatusFresh
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO contacts (id, user_id, phone, name, source, tag, call_count, total_call_duration,
			last_call_date, last_call_summary, last_call_agent, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), userID, normalized, model.DefaultContactName(normalized),
		outcome.Source, string(tag), outcome.Duration,
		outcome.CallDate, outcome.CallSummary, outcome.AgentName, now, now,
	)
	return eris.Wrapf(err, "sqlite: insert contact %s/%s", userID, normalized)
}

const sqliteSelectContact = `
SELECT id, user_id, phone, name, source, tag, call_count, total_call_duration,
       last_call_date, last_call_summary, last_call_agent, created_at, updated_at
FROM contacts`

func (s *SQLiteStore) GetContact(ctx context.Context, userID, phone string) (*model.Contact, error) {
	row := s.db.QueryRowContext(ctx,
		sqliteSelectContact+` WHERE user_id = ? AND phone = ?`,
		userID, model.NormalizePhone(phone),
	)
	c, err := scanContact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (s *SQLiteStore) ListContacts(ctx context.Context, filter ContactFilter) ([]model.Contact, error) {
	query := sqliteSelectContact + ` WHERE 1=1`
	var args []any

	if filter.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	if filter.Tag != "" {
		query += ` AND tag = ?`
		args = append(args, string(filter.Tag))
	}
	if filter.Search != "" {
		query += ` AND (name LIKE ? OR phone LIKE ?)`
		like := "%" + filter.Search + "%"
		args = append(args, like, like)
	}
	query += ` ORDER BY updated_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list contacts")
	}
	defer rows.Close()

	var contacts []model.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, *c)
	}
	return contacts, eris.Wrap(rows.Err(), "sqlite: list contacts iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func marshalCallJSON(call model.Call) (cost, extracted, analysis any, err error) {
	if call.CostBreakdown != nil {
		b, err := json.Marshal(call.CostBreakdown)
		if err != nil {
			return nil, nil, nil, eris.Wrap(err, "store: marshal cost breakdown")
		}
		cost = string(b)
	}
	if call.ExtractedData != nil {
		b, err := json.Marshal(call.ExtractedData)
		if err != nil {
			return nil, nil, nil, eris.Wrap(err, "store: marshal extracted data")
		}
		extracted = string(b)
	}
	if call.Analysis != nil {
		b, err := json.Marshal(call.Analysis)
		if err != nil {
			return nil, nil, nil, eris.Wrap(err, "store: marshal analysis")
		}
		analysis = string(b)
	}
	return cost, extracted, analysis, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanCall(row scannable) (*model.Call, error) {
	var c model.Call
	var agentID, agentName, callerNumber, timestamp, transcript, recordingURL sql.NullString
	var costJSON, extractedJSON, analysisJSON, rawOutput sql.NullString

	err := row.Scan(&c.CallID, &c.UserID, &agentID, &agentName, &callerNumber,
		&c.Direction, &c.Duration, &timestamp, &transcript, &recordingURL,
		&c.TotalCost, &costJSON, &extractedJSON, &analysisJSON, &c.Processed,
		&rawOutput, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: scan call")
	}

	c.AgentID = agentID.String
	c.AgentName = agentName.String
	c.CallerNumber = callerNumber.String
	c.Timestamp = timestamp.String
	c.Transcript = transcript.String
	c.RecordingURL = recordingURL.String
	c.RawLLMOutput = rawOutput.String

	if costJSON.Valid && costJSON.String != "" {
		if err := json.Unmarshal([]byte(costJSON.String), &c.CostBreakdown); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal cost breakdown")
		}
	}
	if extractedJSON.Valid && extractedJSON.String != "" {
		if err := json.Unmarshal([]byte(extractedJSON.String), &c.ExtractedData); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal extracted data")
		}
	}
	if analysisJSON.Valid && analysisJSON.String != "" {
		c.Analysis = &model.Analysis{}
		if err := json.Unmarshal([]byte(analysisJSON.String), c.Analysis); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal analysis")
		}
	}
	return &c, nil
}

func scanContact(row scannable) (*model.Contact, error) {
	var c model.Contact
	var source, lastDate, lastSummary, lastAgent sql.NullString
	var tag string

	err := row.Scan(&c.ID, &c.UserID, &c.Phone, &c.Name, &source, &tag,
		&c.CallCount, &c.TotalCallDuration, &lastDate, &lastSummary, &lastAgent,
		&c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: scan contact")
	}

	c.Source = source.String
	c.Tag = model.ContactStatus(tag)
	c.LastCallDate = lastDate.String
	c.LastCallSummary = lastSummary.String
	c.LastCallAgent = lastAgent.String
	return &c, nil
}
