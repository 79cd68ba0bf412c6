package model

import "time"

// Direction describes who initiated a call.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
	DirectionUnknown  = "unknown"
)

// Call is one ingested conversation event from the voice platform.
// CallID is the provider-assigned identifier and never changes; the
// analysis fields are mutated at most once, when an analysis attempt
// concludes.
type Call struct {
	CallID        string             `json:"call_id"`
	UserID        string             `json:"user_id"`
	AgentID       string             `json:"agent_id"`
	AgentName     string             `json:"agent_name"`
	CallerNumber  string             `json:"caller_number"`
	Direction     string             `json:"direction"`
	Duration      int                `json:"duration"`
	Timestamp     string             `json:"timestamp"`
	Transcript    string             `json:"transcript"`
	RecordingURL  string             `json:"recording_url,omitempty"`
	TotalCost     float64            `json:"total_cost"`
	CostBreakdown map[string]float64 `json:"cost_breakdown,omitempty"`
	ExtractedData map[string]any     `json:"extracted_data,omitempty"`

	// Processed means an analysis attempt has concluded, successfully or
	// not. Analysis is non-nil only on success; RawLLMOutput is kept only
	// when parsing the model output failed, for forensic inspection.
	Analysis     *Analysis `json:"analysis,omitempty"`
	Processed    bool      `json:"processed"`
	RawLLMOutput string    `json:"raw_llm_output,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Intent values produced by the analyzer.
const (
	IntentQueries       = "queries"
	IntentBooked        = "booked"
	IntentInterested    = "interested"
	IntentFollowUp      = "follow_up"
	IntentNotInterested = "not_interested"
)

// Analysis is the structured result extracted from a call transcript.
type Analysis struct {
	Summary       string  `json:"summary"`
	Intent        string  `json:"intent"`
	CallDirection string  `json:"call_direction,omitempty"`
	Booking       Booking `json:"booking"`
}

// Booking holds appointment details when the caller scheduled something.
type Booking struct {
	IsBooked    bool   `json:"is_booked"`
	Date        string `json:"date,omitempty"`
	Time        string `json:"time,omitempty"`
	RawDatetime string `json:"raw_datetime_string,omitempty"`
}

// SyncResult aggregates the outcome of one ingestion run.
type SyncResult struct {
	Total     int `json:"total"`     // calls fetched from the platform
	Synced    int `json:"synced"`    // calls persisted in Phase 1
	Processed int `json:"processed"` // calls marked processed this run (analyzed or skipped short)
	Failed    int `json:"failed"`    // calls whose analysis or persistence failed
}
