package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"satcontracts/internal/catalogue"
	"satcontracts/internal/config"
	"satcontracts/internal/llm"
	"satcontracts/pkg/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(&strings.Builder{})
	return logger
}

// scriptedServer 按顺序返回预设回复的假模型服务
// 管线一次请求会发起多个模型调用，回复按调用次序弹出
func scriptedServer(t *testing.T, replies ...string) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	calls := 0

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		reply := replies[len(replies)-1]
		if calls < len(replies) {
			reply = replies[calls]
		}
		calls++
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		resp := map[string]interface{}{
			"id":     "chatcmpl-test",
			"object": "chat.completion",
			"model":  "gpt-4o-mini",
			"choices": []map[string]interface{}{
				{
					"index":         0,
					"message":       map[string]string{"role": "assistant", "content": reply},
					"finish_reason": "stop",
				},
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

type memorySink struct {
	mu      sync.Mutex
	records []*models.Contribution
	err     error
}

func (s *memorySink) WriteContribution(record *models.Contribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, record)
	return nil
}

func newTestPipeline(t *testing.T, sink ContributionSink, replies ...string) *Pipeline {
	t.Helper()
	server := scriptedServer(t, replies...)
	t.Cleanup(server.Close)

	logger := quietLogger()
	client, err := llm.NewClient(&config.LLMConfig{
		BaseURL: server.URL,
		APIKey:  "sk-test",
		Model:   "gpt-4o-mini",
		Timeout: "5s",
	}, logger)
	require.NoError(t, err)

	cat, err := catalogue.New(logger)
	require.NoError(t, err)

	return NewPipeline(
		llm.NewRouter(client, logger),
		llm.NewSelector(client, cat, logger),
		llm.NewContributionExtractor(client, logger),
		client,
		sink,
		logger,
	)
}

func TestPipelineEscrowFlow(t *testing.T) {
	// 第一次调用路由，第二次调用模板选择
	pipeline := newTestPipeline(t, nil, "escrow", "0")

	result, err := pipeline.Handle(context.Background(), &models.ChatRequest{
		Message: "I want to escrow some ETH with my seller",
	})
	require.NoError(t, err)

	assert.Equal(t, models.OperationEscrow, result.Operation)
	require.NotNil(t, result.Template)
	assert.Equal(t, "EthEscrow", result.Template.Name)
	assert.Empty(t, result.AdaptedSource)
	assert.Contains(t, result.Reply, "EthEscrow")
}

func TestPipelineEscrowWithAdaptation(t *testing.T) {
	adapted := "pragma solidity ^0.8.19;\ncontract EthEscrow { /* timeout */ }"
	pipeline := newTestPipeline(t, nil, "escrow", "0", adapted)

	result, err := pipeline.Handle(context.Background(), &models.ChatRequest{
		Message: "I want an ETH escrow but add a 7 day refund timeout",
	})
	require.NoError(t, err)

	assert.Equal(t, models.OperationEscrow, result.Operation)
	require.NotNil(t, result.Template)
	assert.Equal(t, adapted, result.AdaptedSource)
}

func TestPipelineEscrowUnknownTemplateDegrades(t *testing.T) {
	pipeline := newTestPipeline(t, nil, "escrow", "unknown")

	result, err := pipeline.Handle(context.Background(), &models.ChatRequest{
		Message: "I want to escrow my house",
	})
	require.NoError(t, err)

	assert.Equal(t, models.OperationEscrow, result.Operation)
	assert.Nil(t, result.Template)
	assert.Contains(t, result.Reply, "couldn't match")
}

func TestPipelineEscrowOutOfRangeDegrades(t *testing.T) {
	pipeline := newTestPipeline(t, nil, "escrow", "99")

	result, err := pipeline.Handle(context.Background(), &models.ChatRequest{
		Message: "escrow please",
	})
	require.NoError(t, err)

	assert.Nil(t, result.Template)
	assert.NotEmpty(t, result.Reply)
}

func TestPipelineContributeFlow(t *testing.T) {
	sink := &memorySink{}
	contribution := `{"contributor":"alice","kind":"code","summary":"gas fix","details":"cheaper deploys"}`
	pipeline := newTestPipeline(t, sink, "contribute", contribution)

	result, err := pipeline.Handle(context.Background(), &models.ChatRequest{
		Message: "I'd like to contribute a gas optimization",
	})
	require.NoError(t, err)

	assert.Equal(t, models.OperationContribute, result.Operation)
	require.NotNil(t, result.Contribution)
	assert.True(t, result.Contribution.ParseOK)
	assert.Contains(t, result.Reply, "gas fix")

	require.Len(t, sink.records, 1)
	assert.Equal(t, "alice", sink.records[0].Contributor)
}

func TestPipelineContributeSinkFailureNotFatal(t *testing.T) {
	sink := &memorySink{err: assert.AnError}
	contribution := `{"contributor":"bob","kind":"docs","summary":"notes","details":"x"}`
	pipeline := newTestPipeline(t, sink, "contribute", contribution)

	result, err := pipeline.Handle(context.Background(), &models.ChatRequest{
		Message: "logging my contribution",
	})
	require.NoError(t, err)
	assert.Equal(t, models.OperationContribute, result.Operation)
}

func TestPipelineGeneralFlow(t *testing.T) {
	pipeline := newTestPipeline(t, nil, "general", "An escrow holds funds until both parties agree.")

	result, err := pipeline.Handle(context.Background(), &models.ChatRequest{
		Message: "what is an escrow?",
		History: []models.Message{
			{Role: models.RoleUser, Content: "hi"},
			{Role: models.RoleAssistant, Content: "hello!"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, models.OperationGeneral, result.Operation)
	assert.Contains(t, result.Reply, "escrow holds funds")
}

func TestPipelineEmptyMessage(t *testing.T) {
	pipeline := newTestPipeline(t, nil, "general")

	_, err := pipeline.Handle(context.Background(), &models.ChatRequest{Message: "   "})
	assert.Error(t, err)

	_, err = pipeline.Handle(context.Background(), nil)
	assert.Error(t, err)
}

func TestWantsAdaptation(t *testing.T) {
	assert.True(t, wantsAdaptation("escrow but with a timeout"))
	assert.True(t, wantsAdaptation("请帮我修改这个合约"))
	assert.False(t, wantsAdaptation("I need an ETH escrow"))
}
