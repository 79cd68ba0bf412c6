package store

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clusterx/voicesync/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func testCall(id string) model.Call {
	return model.Call{
		CallID:       id,
		UserID:       "user-1",
		AgentID:      "agent-1",
		AgentName:    "Receptionist",
		CallerNumber: "+919876543210",
		Direction:    model.DirectionInbound,
		Duration:     95,
		Timestamp:    "2026-08-30T10:15:00Z",
		Transcript:   "Hello, I would like to book an appointment for tomorrow.",
		TotalCost:    0.042,
		CostBreakdown: map[string]float64{
			"llm":       0.01,
			"telephony": 0.032,
		},
	}
}

func TestSQLiteStore_UpsertAndGetCall(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertCall(ctx, testCall("call-1")))

	got, err := s.GetCall(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, "Receptionist", got.AgentName)
	assert.Equal(t, 95, got.Duration)
	assert.False(t, got.Processed)
	assert.Nil(t, got.Analysis)
	assert.InDelta(t, 0.032, got.CostBreakdown["telephony"], 0.0001)
}

func TestSQLiteStore_GetCall_NotFound(t *testing.T) {
	s := newTestSQLiteStore(t)

	_, err := s.GetCall(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "call not found")
}

func TestSQLiteStore_UpsertCall_PreservesProcessingState(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertCall(ctx, testCall("call-1")))

	analysis := &model.Analysis{
		Summary: "Caller booked a slot.",
		Intent:  model.IntentBooked,
		Booking: model.Booking{IsBooked: true, Date: "2026-08-31", Time: "10:00"},
	}
	require.NoError(t, s.MarkCallProcessed(ctx, "call-1", analysis, ""))

	// Re-ingesting the same call refreshes provider fields but must not
	// reset the analysis.
	updated := testCall("call-1")
	updated.Duration = 120
	updated.Transcript = "Hello, I would like to book an appointment for tomorrow. Thanks, bye."
	require.NoError(t, s.UpsertCall(ctx, updated))

	got, err := s.GetCall(ctx, "call-1")
	require.NoError(t, err)
	assert.True(t, got.Processed)
	require.NotNil(t, got.Analysis)
	assert.Equal(t, model.IntentBooked, got.Analysis.Intent)
	assert.Equal(t, 120, got.Duration)
}

func TestSQLiteStore_UpsertCalls_Bulk(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	calls := []model.Call{testCall("call-1"), testCall("call-2"), testCall("call-3")}
	n, err := s.UpsertCalls(ctx, calls)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Second pass is idempotent.
	n, err = s.UpsertCalls(ctx, calls)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	listed, err := s.ListCalls(ctx, CallFilter{UserID: "user-1"})
	require.NoError(t, err)
	assert.Len(t, listed, 3)
}

func TestSQLiteStore_UpsertCalls_BadRecordDoesNotSinkSiblings(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	bad := testCall("call-bad")
	bad.CostBreakdown = map[string]float64{"llm": math.NaN()}

	n, err := s.UpsertCalls(ctx, []model.Call{testCall("call-1"), bad, testCall("call-2")})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := s.GetCall(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)

	_, err = s.GetCall(ctx, "call-bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "call not found")
}

func TestSQLiteStore_ListCalls_Filters(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	c1 := testCall("call-1")
	c2 := testCall("call-2")
	c2.AgentID = "agent-2"
	c3 := testCall("call-3")
	c3.UserID = "user-2"
	_, err := s.UpsertCalls(ctx, []model.Call{c1, c2, c3})
	require.NoError(t, err)

	require.NoError(t, s.MarkCallProcessed(ctx, "call-1", &model.Analysis{
		Summary: "Booked.",
		Intent:  model.IntentBooked,
		Booking: model.Booking{IsBooked: true},
	}, ""))

	byUser, err := s.ListCalls(ctx, CallFilter{UserID: "user-1"})
	require.NoError(t, err)
	assert.Len(t, byUser, 2)

	byAgent, err := s.ListCalls(ctx, CallFilter{UserID: "user-1", AgentID: "agent-2"})
	require.NoError(t, err)
	require.Len(t, byAgent, 1)
	assert.Equal(t, "call-2", byAgent[0].CallID)

	unprocessed := false
	pending, err := s.ListCalls(ctx, CallFilter{UserID: "user-1", Processed: &unprocessed})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "call-2", pending[0].CallID)

	booked, err := s.ListCalls(ctx, CallFilter{Booked: true})
	require.NoError(t, err)
	require.Len(t, booked, 1)
	assert.Equal(t, "call-1", booked[0].CallID)

	byIntent, err := s.ListCalls(ctx, CallFilter{Intent: model.IntentBooked})
	require.NoError(t, err)
	require.Len(t, byIntent, 1)
	assert.Equal(t, "call-1", byIntent[0].CallID)

	inbound, err := s.ListCalls(ctx, CallFilter{Direction: model.DirectionInbound})
	require.NoError(t, err)
	assert.Len(t, inbound, 3)

	outbound, err := s.ListCalls(ctx, CallFilter{Direction: model.DirectionOutbound})
	require.NoError(t, err)
	assert.Empty(t, outbound)
}

func TestSQLiteStore_ClaimCall(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertCall(ctx, testCall("call-1")))

	claimed, err := s.ClaimCall(ctx, "call-1", 10*time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)

	// A second claimant loses while the lease is live.
	claimed, err = s.ClaimCall(ctx, "call-1", 10*time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed)

	// A zero lease treats any existing claim as expired.
	claimed, err = s.ClaimCall(ctx, "call-1", 0)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestSQLiteStore_ClaimCall_ProcessedNotClaimable(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertCall(ctx, testCall("call-1")))
	require.NoError(t, s.MarkCallProcessed(ctx, "call-1", nil, "not json"))

	claimed, err := s.ClaimCall(ctx, "call-1", 10*time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestSQLiteStore_ClaimCall_MissingCall(t *testing.T) {
	s := newTestSQLiteStore(t)

	claimed, err := s.ClaimCall(context.Background(), "missing", time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestSQLiteStore_MarkCallProcessed_WithoutAnalysis(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertCall(ctx, testCall("call-1")))
	require.NoError(t, s.MarkCallProcessed(ctx, "call-1", nil, "```json not parseable"))

	got, err := s.GetCall(ctx, "call-1")
	require.NoError(t, err)
	assert.True(t, got.Processed)
	assert.Nil(t, got.Analysis)
	assert.Equal(t, "```json not parseable", got.RawLLMOutput)
}

func TestSQLiteStore_MarkCallProcessed_NotFound(t *testing.T) {
	s := newTestSQLiteStore(t)

	err := s.MarkCallProcessed(context.Background(), "missing", nil, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "call not found")
}

func TestSQLiteStore_EnsureContact(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureContact(ctx, model.Contact{
		UserID: "user-1",
		Phone:  "9876543210",
		Source: model.SourceVoiceInbound,
	}))

	got, err := s.GetContact(ctx, "user-1", "+91 98765 43210")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "+919876543210", got.Phone)
	assert.Equal(t, "Contact 3210", got.Name)
	assert.Equal(t, model.StatusFresh, got.Tag)
	assert.Equal(t, 0, got.CallCount)

	// Re-ensuring the same number keeps the row intact.
	require.NoError(t, s.EnsureContact(ctx, model.Contact{
		UserID: "user-1",
		Phone:  "09876543210",
		Name:   "Should Not Replace",
	}))

	again, err := s.GetContact(ctx, "user-1", "9876543210")
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, got.ID, again.ID)
	assert.Equal(t, "Contact 3210", again.Name)
}

func TestSQLiteStore_GetContact_Unknown(t *testing.T) {
	s := newTestSQLiteStore(t)

	got, err := s.GetContact(context.Background(), "user-1", "9876543210")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteStore_ApplyCallOutcome_Aggregates(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureContact(ctx, model.Contact{
		UserID: "user-1",
		Phone:  "9876543210",
	}))

	require.NoError(t, s.ApplyCallOutcome(ctx, "user-1", "9876543210", model.CallOutcome{
		Duration:    90,
		CallDate:    "2026-08-30T10:15:00Z",
		CallSummary: "Asked about pricing.",
		AgentName:   "Receptionist",
		Tag:         model.StatusInterested,
	}))
	require.NoError(t, s.ApplyCallOutcome(ctx, "user-1", "09876543210", model.CallOutcome{
		Duration:    45,
		CallDate:    "2026-08-30T11:00:00Z",
		CallSummary: "Confirmed the booking.",
		AgentName:   "Receptionist",
		Tag:         model.StatusPurchased,
	}))

	got, err := s.GetContact(ctx, "user-1", "9876543210")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2, got.CallCount)
	assert.Equal(t, 135, got.TotalCallDuration)
	assert.Equal(t, model.StatusPurchased, got.Tag)
	assert.Equal(t, "Confirmed the booking.", got.LastCallSummary)
	assert.Equal(t, "2026-08-30T11:00:00Z", got.LastCallDate)
}

func TestSQLiteStore_ApplyCallOutcome_EmptyTagKeepsExisting(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.ApplyCallOutcome(ctx, "user-1", "9876543210", model.CallOutcome{
		Duration: 30,
		Tag:      model.StatusFollowUp,
	}))
	require.NoError(t, s.ApplyCallOutcome(ctx, "user-1", "9876543210", model.CallOutcome{
		Duration: 20,
		Tag:      "",
	}))

	got, err := s.GetContact(ctx, "user-1", "9876543210")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.StatusFollowUp, got.Tag)
	assert.Equal(t, 2, got.CallCount)
	assert.Equal(t, 50, got.TotalCallDuration)
}

func TestSQLiteStore_ApplyCallOutcome_CreatesContact(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.ApplyCallOutcome(ctx, "user-1", "9876543210", model.CallOutcome{
		Duration:    60,
		CallDate:    "2026-08-30T09:00:00Z",
		CallSummary: "New caller.",
		AgentName:   "Receptionist",
		Source:      model.SourceVoiceInbound,
	}))

	got, err := s.GetContact(ctx, "user-1", "9876543210")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 1, got.CallCount)
	assert.Equal(t, model.StatusFresh, got.Tag)
	assert.Equal(t, model.SourceVoiceInbound, got.Source)
	assert.Equal(t, "Contact 3210", got.Name)
}

func TestSQLiteStore_ListContacts(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.ApplyCallOutcome(ctx, "user-1", "9876543210", model.CallOutcome{Tag: model.StatusInterested}))
	require.NoError(t, s.ApplyCallOutcome(ctx, "user-1", "9876543211", model.CallOutcome{Tag: model.StatusPurchased}))
	require.NoError(t, s.ApplyCallOutcome(ctx, "user-2", "9876543212", model.CallOutcome{Tag: model.StatusInterested}))

	all, err := s.ListContacts(ctx, ContactFilter{UserID: "user-1"})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	interested, err := s.ListContacts(ctx, ContactFilter{UserID: "user-1", Tag: model.StatusInterested})
	require.NoError(t, err)
	require.Len(t, interested, 1)
	assert.Equal(t, "+919876543210", interested[0].Phone)

	bySuffix, err := s.ListContacts(ctx, ContactFilter{UserID: "user-1", Search: "3211"})
	require.NoError(t, err)
	require.Len(t, bySuffix, 1)
	assert.Equal(t, "+919876543211", bySuffix[0].Phone)

	byName, err := s.ListContacts(ctx, ContactFilter{UserID: "user-1", Search: "Contact 3210"})
	require.NoError(t, err)
	require.Len(t, byName, 1)
	assert.Equal(t, "+919876543210", byName[0].Phone)
}

func TestSQLiteStore_ContactsScopedPerUser(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.ApplyCallOutcome(ctx, "user-1", "9876543210", model.CallOutcome{Duration: 10}))
	require.NoError(t, s.ApplyCallOutcome(ctx, "user-2", "9876543210", model.CallOutcome{Duration: 20}))

	c1, err := s.GetContact(ctx, "user-1", "9876543210")
	require.NoError(t, err)
	c2, err := s.GetContact(ctx, "user-2", "9876543210")
	require.NoError(t, err)

	require.NotNil(t, c1)
	require.NotNil(t, c2)
	assert.NotEqual(t, c1.ID, c2.ID)
	assert.Equal(t, 10, c1.TotalCallDuration)
	assert.Equal(t, 20, c2.TotalCallDuration)
}
