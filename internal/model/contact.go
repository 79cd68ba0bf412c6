package model

import (
	"fmt"
	"time"
)

// ContactStatus is the CRM tag derived from call outcomes.
type ContactStatus string

const (
	StatusFresh         ContactStatus = "fresh"
	StatusInterested    ContactStatus = "interested"
	StatusNotInterested ContactStatus = "not_interested"
	StatusFollowUp      ContactStatus = "follow_up"
	StatusPurchased     ContactStatus = "purchased"
)

// AllContactStatuses lists the valid status tags.
func AllContactStatuses() []ContactStatus {
	return []ContactStatus{
		StatusFresh,
		StatusInterested,
		StatusNotInterested,
		StatusFollowUp,
		StatusPurchased,
	}
}

// Contact source tags.
const (
	SourceVoiceInbound  = "voice_inbound"
	SourceVoiceOutbound = "voice_outbound"
)

// Contact is a CRM lead keyed by (UserID, Phone). Phone is stored in
// normalized form; NormalizePhone must be applied before every lookup.
// CallCount and TotalCallDuration only ever grow, incremented once per
// successfully analyzed call.
type Contact struct {
	ID                string        `json:"id"`
	UserID            string        `json:"user_id"`
	Phone             string        `json:"phone"`
	Name              string        `json:"name"`
	Source            string        `json:"source"`
	Tag               ContactStatus `json:"tag"`
	CallCount         int           `json:"call_count"`
	TotalCallDuration int           `json:"total_call_duration"`
	LastCallDate      string        `json:"last_call_date,omitempty"`
	LastCallSummary   string        `json:"last_call_summary,omitempty"`
	LastCallAgent     string        `json:"last_call_agent,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// DefaultContactName derives a display name from the phone suffix when the
// platform gave us nothing better.
func DefaultContactName(phone string) string {
	suffix := phone
	if len(suffix) > 4 {
		suffix = suffix[len(suffix)-4:]
	}
	return fmt.Sprintf("Contact %s", suffix)
}

// CallOutcome carries the per-call contact update applied after a
// successful analysis. Tag is empty when the status mapping produced no
// explicit status, in which case the existing tag is left untouched.
type CallOutcome struct {
	Duration    int
	CallDate    string
	CallSummary string
	AgentName   string
	Source      string
	Tag         ContactStatus
}
