package ingest

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/clusterx/voicesync/internal/model"
	"github.com/clusterx/voicesync/internal/store"
	"github.com/clusterx/voicesync/pkg/llm"
	"github.com/clusterx/voicesync/pkg/voice"
)

type mockSource struct {
	mock.Mock
}

func (m *mockSource) FetchCalls(ctx context.Context, userID string) ([]model.Call, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Call), args.Error(1)
}

type mockAnalyzer struct {
	mock.Mock
}

func (m *mockAnalyzer) Analyze(ctx context.Context, transcript string) (*llm.Result, error) {
	args := m.Called(ctx, transcript)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*llm.Result), args.Error(1)
}

type mockVoiceClient struct {
	mock.Mock
}

func (m *mockVoiceClient) ListAgents(ctx context.Context) ([]voice.Agent, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]voice.Agent), args.Error(1)
}

func (m *mockVoiceClient) ListExecutions(ctx context.Context, agentID string, page, pageSize int) (*voice.ExecutionsPage, error) {
	args := m.Called(ctx, agentID, page, pageSize)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*voice.ExecutionsPage), args.Error(1)
}

type mockStore struct {
	mock.Mock
}

var _ store.Store = (*mockStore)(nil)

func (m *mockStore) UpsertCall(ctx context.Context, call model.Call) error {
	return m.Called(ctx, call).Error(0)
}

func (m *mockStore) UpsertCalls(ctx context.Context, calls []model.Call) (int, error) {
	args := m.Called(ctx, calls)
	return args.Int(0), args.Error(1)
}

func (m *mockStore) GetCall(ctx context.Context, callID string) (*model.Call, error) {
	args := m.Called(ctx, callID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Call), args.Error(1)
}

func (m *mockStore) ListCalls(ctx context.Context, filter store.CallFilter) ([]model.Call, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Call), args.Error(1)
}

func (m *mockStore) ClaimCall(ctx context.Context, callID string, lease time.Duration) (bool, error) {
	args := m.Called(ctx, callID, lease)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) MarkCallProcessed(ctx context.Context, callID string, analysis *model.Analysis, rawOutput string) error {
	return m.Called(ctx, callID, analysis, rawOutput).Error(0)
}

func (m *mockStore) EnsureContact(ctx context.Context, contact model.Contact) error {
	return m.Called(ctx, contact).Error(0)
}

func (m *mockStore) ApplyCallOutcome(ctx context.Context, userID, phone string, outcome model.CallOutcome) error {
	return m.Called(ctx, userID, phone, outcome).Error(0)
}

func (m *mockStore) GetContact(ctx context.Context, userID, phone string) (*model.Contact, error) {
	args := m.Called(ctx, userID, phone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Contact), args.Error(1)
}

func (m *mockStore) ListContacts(ctx context.Context, filter store.ContactFilter) ([]model.Contact, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Contact), args.Error(1)
}

func (m *mockStore) Migrate(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockStore) Close() error {
	return m.Called().Error(0)
}
