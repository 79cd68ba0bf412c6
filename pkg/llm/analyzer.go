package llm

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/clusterx/voicesync/internal/model"
)

// systemPrompt instructs the model to return strict JSON for a single call
// transcript. The intent vocabulary feeds the contact status mapping, so any
// change here must be reflected there.
const systemPrompt = `You analyze transcripts of phone calls between an AI voice agent and a caller.

Respond with a single JSON object and nothing else, using exactly this shape:
{
  "summary": "2-3 sentence summary of the call",
  "intent": "one of: booked, interested, follow_up, not_interested, queries",
  "call_direction": "inbound or outbound",
  "booking": {
    "is_booked": true or false,
    "date": "YYYY-MM-DD or empty string",
    "time": "HH:MM in 24h or empty string",
    "raw_datetime_string": "the caller's own words about the date/time, or empty string"
  }
}

Rules:
- "booked" only when the caller explicitly confirmed an appointment or purchase on this call.
- "interested" when the caller showed buying interest without committing.
- "follow_up" when the caller asked to be contacted again or the agent promised a callback.
- "not_interested" when the caller declined.
- "queries" for everything else, including unclear or informational calls.
- booking.is_booked must agree with the intent.
- Do not wrap the JSON in markdown fences.`

// Result is one analyzer outcome. Analysis is nil when the model responded
// but its output could not be parsed; Raw always carries the verbatim model
// text so callers can persist it for inspection.
type Result struct {
	Analysis *model.Analysis
	Raw      string
}

// Analyzer produces a structured analysis of a call transcript.
type Analyzer interface {
	Analyze(ctx context.Context, transcript string) (*Result, error)
}

// anthropicAnalyzer implements Analyzer on top of a Messenger.
type anthropicAnalyzer struct {
	client    Messenger
	model     string
	maxTokens int64
}

var _ Analyzer = (*anthropicAnalyzer)(nil)

// NewAnalyzer creates a transcript analyzer using the given model.
func NewAnalyzer(client Messenger, modelID string, maxTokens int64) Analyzer {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &anthropicAnalyzer{client: client, model: modelID, maxTokens: maxTokens}
}

// Analyze sends the transcript to the model. API failures propagate as
// errors (rate limits as transient ones); an unparseable model response is
// not an error and yields a Result with nil Analysis.
func (a *anthropicAnalyzer) Analyze(ctx context.Context, transcript string) (*Result, error) {
	resp, err := a.client.CreateMessage(ctx, MessageRequest{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		System:    systemPrompt,
		Messages: []Message{
			{Role: "user", Content: "Analyze this call transcript:\n\n" + transcript},
		},
	})
	if err != nil {
		return nil, err
	}

	raw := extractText(resp)
	resp.Usage.LogCost(a.model, resp.ID)

	var analysis model.Analysis
	if err := json.Unmarshal([]byte(cleanJSON(raw)), &analysis); err != nil {
		zap.L().Warn("analyzer output not parseable",
			zap.String("model", a.model),
			zap.Error(err),
		)
		return &Result{Raw: raw}, nil
	}

	normalizeAnalysis(&analysis)
	return &Result{Analysis: &analysis, Raw: raw}, nil
}

// normalizeAnalysis lowercases enums and keeps booking consistent with intent.
func normalizeAnalysis(a *model.Analysis) {
	a.Intent = strings.ToLower(strings.TrimSpace(a.Intent))
	a.CallDirection = strings.ToLower(strings.TrimSpace(a.CallDirection))
	if a.Intent == model.IntentBooked {
		a.Booking.IsBooked = true
	}
}

// extractText concatenates all text content blocks from a message response.
func extractText(resp *MessageResponse) string {
	if resp == nil {
		return ""
	}
	var parts []string
	for _, block := range resp.Content {
		if block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// cleanJSON attempts to extract a JSON object from text that may contain
// markdown code fences or other wrapping.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	// Strip markdown code fences.
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	// Find first { and last }.
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
