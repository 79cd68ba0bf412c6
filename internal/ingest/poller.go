// Package ingest implements the two-phase call ingestion pipeline:
// fast persistence of raw platform calls followed by rate-limited
// LLM analysis and CRM contact updates.
package ingest

import (
	"context"
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/clusterx/voicesync/internal/model"
	"github.com/clusterx/voicesync/pkg/voice"
)

// Source fetches calls for a user from an upstream platform.
type Source interface {
	FetchCalls(ctx context.Context, userID string) ([]model.Call, error)
}

// VoicePoller pulls executions from the voice platform and converts
// them into calls. It walks every agent on the account; an agent whose
// history cannot be fetched is logged and skipped so one bad agent does
// not block the rest.
type VoicePoller struct {
	client   voice.Client
	pageSize int
	maxPages int
}

// NewVoicePoller creates a poller over the given client. pageSize and
// maxPages guard against unbounded histories; zero values fall back to
// 50 and 100.
func NewVoicePoller(client voice.Client, pageSize, maxPages int) *VoicePoller {
	if pageSize <= 0 {
		pageSize = 50
	}
	if maxPages <= 0 {
		maxPages = 100
	}
	return &VoicePoller{client: client, pageSize: pageSize, maxPages: maxPages}
}

func (p *VoicePoller) FetchCalls(ctx context.Context, userID string) ([]model.Call, error) {
	agents, err := p.client.ListAgents(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: list agents")
	}

	var calls []model.Call
	for _, agent := range agents {
		agentCalls, err := p.fetchAgent(ctx, userID, agent)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			zap.L().Warn("skipping agent after fetch failure",
				zap.String("agent_id", agent.ID),
				zap.String("agent_name", agent.Name),
				zap.Error(err))
			continue
		}
		calls = append(calls, agentCalls...)
	}
	return calls, nil
}

func (p *VoicePoller) fetchAgent(ctx context.Context, userID string, agent voice.Agent) ([]model.Call, error) {
	var calls []model.Call
	for page := 1; page <= p.maxPages; page++ {
		resp, err := p.client.ListExecutions(ctx, agent.ID, page, p.pageSize)
		if err != nil {
			return nil, err
		}
		for _, exec := range resp.Data {
			calls = append(calls, executionToCall(userID, agent, exec))
		}
		if !resp.HasMore() {
			break
		}
	}
	return calls, nil
}

// executionToCall maps one platform execution onto the internal call
// shape. The caller number depends on direction: inbound calls come
// from the remote party, outbound calls go to it.
func executionToCall(userID string, agent voice.Agent, exec voice.Execution) model.Call {
	call := model.Call{
		CallID:        exec.ID,
		UserID:        userID,
		AgentID:       agent.ID,
		AgentName:     agent.Name,
		Direction:     model.DirectionUnknown,
		Duration:      int(math.Round(exec.ConversationTime)),
		Timestamp:     exec.CreatedAt,
		Transcript:    exec.Transcript,
		TotalCost:     exec.TotalCost,
		CostBreakdown: exec.CostBreakdown,
		ExtractedData: exec.ExtractedData,
	}

	if tel := exec.Telephony; tel != nil {
		call.RecordingURL = tel.RecordingURL
		switch strings.ToLower(tel.CallType) {
		case "inbound":
			call.Direction = model.DirectionInbound
			call.CallerNumber = model.NormalizePhone(tel.FromNumber)
		case "outbound":
			call.Direction = model.DirectionOutbound
			call.CallerNumber = model.NormalizePhone(tel.ToNumber)
		default:
			if tel.FromNumber != "" {
				call.CallerNumber = model.NormalizePhone(tel.FromNumber)
			} else {
				call.CallerNumber = model.NormalizePhone(tel.ToNumber)
			}
		}
	}
	return call
}
