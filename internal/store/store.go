package store

import (
	"context"
	"time"

	"github.com/clusterx/voicesync/internal/model"
)

// CallFilter specifies criteria for listing calls.
type CallFilter struct {
	UserID    string `json:"user_id,omitempty"`
	AgentID   string `json:"agent_id,omitempty"`
	Direction string `json:"direction,omitempty"`
	Intent    string `json:"intent,omitempty"`
	Processed *bool  `json:"processed,omitempty"`
	Booked    bool   `json:"booked,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
}

// ContactFilter specifies criteria for listing contacts.
type ContactFilter struct {
	UserID string              `json:"user_id,omitempty"`
	Tag    model.ContactStatus `json:"tag,omitempty"`
	Search string              `json:"search,omitempty"` // matches name or phone
	Limit  int                 `json:"limit,omitempty"`
	Offset int                 `json:"offset,omitempty"`
}

// Store defines the persistence interface for the call ingestion pipeline.
//
// UpsertCall and UpsertCalls refresh provider-owned fields on conflict but
// never touch processing state (processed, analysis, raw_llm_output,
// claimed_at), so re-ingesting a page cannot undo an analysis. ClaimCall is
// the concurrency gate for Phase 2: it atomically marks a call as being
// analyzed and fails when another run holds an unexpired claim.
type Store interface {
	// Calls
	UpsertCall(ctx context.Context, call model.Call) error
	UpsertCalls(ctx context.Context, calls []model.Call) (int, error)
	GetCall(ctx context.Context, callID string) (*model.Call, error)
	ListCalls(ctx context.Context, filter CallFilter) ([]model.Call, error)
	ClaimCall(ctx context.Context, callID string, lease time.Duration) (bool, error)
	MarkCallProcessed(ctx context.Context, callID string, analysis *model.Analysis, rawOutput string) error

	// Contacts
	EnsureContact(ctx context.Context, contact model.Contact) error
	ApplyCallOutcome(ctx context.Context, userID, phone string, outcome model.CallOutcome) error
	GetContact(ctx context.Context, userID, phone string) (*model.Contact, error)
	ListContacts(ctx context.Context, filter ContactFilter) ([]model.Contact, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
