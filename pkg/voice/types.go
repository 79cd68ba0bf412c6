package voice

// Agent is a configured voice agent on the platform.
type Agent struct {
	ID   string `json:"id"`
	Name string `json:"agent_name"`
}

// TelephonyData carries the phone-leg details of an execution.
type TelephonyData struct {
	FromNumber   string `json:"from_number"`
	ToNumber     string `json:"to_number"`
	CallType     string `json:"call_type"`
	RecordingURL string `json:"recording_url"`
	HangupBy     string `json:"hangup_by"`
}

// Execution is one completed agent conversation as reported by the platform.
type Execution struct {
	ID               string             `json:"id"`
	AgentID          string             `json:"agent_id"`
	Status           string             `json:"status"`
	ConversationTime float64            `json:"conversation_time"`
	TotalCost        float64            `json:"total_cost"`
	Transcript       string             `json:"transcript"`
	CreatedAt        string             `json:"created_at"`
	UpdatedAt        string             `json:"updated_at"`
	Telephony        *TelephonyData     `json:"telephony_data"`
	ExtractedData    map[string]any     `json:"extracted_data"`
	CostBreakdown    map[string]float64 `json:"cost_breakdown"`
}

// ExecutionsPage is one page of an agent's execution history.
type ExecutionsPage struct {
	Data       []Execution `json:"data"`
	Total      int         `json:"total"`
	More       bool        `json:"has_more"`
	PageNumber int         `json:"page_number"`
	PageSize   int         `json:"page_size"`
}

// HasMore reports whether another page follows this one. An empty page
// stops pagination regardless of what the API claims.
func (p *ExecutionsPage) HasMore() bool {
	return p.More && len(p.Data) > 0
}
