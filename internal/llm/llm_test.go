package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"satcontracts/internal/catalogue"
	"satcontracts/internal/config"
	"satcontracts/internal/errors"
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

// newFakeServer 模拟OpenAI兼容的chat completions接口，固定返回reply
func newFakeServer(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
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

func newFakeClient(t *testing.T, reply string) *Client {
	t.Helper()
	server := newFakeServer(t, reply)
	t.Cleanup(server.Close)

	client, err := NewClient(&config.LLMConfig{
		BaseURL: server.URL,
		APIKey:  "sk-test",
		Model:   "gpt-4o-mini",
		Timeout: "5s",
	}, quietLogger())
	require.NoError(t, err)
	return client
}

func TestClientGenerate(t *testing.T) {
	client := newFakeClient(t, "  hello world  ")

	reply, err := client.Generate(context.Background(), "general", "say hello")
	require.NoError(t, err)
	assert.Equal(t, "hello world", reply)
}

func TestClientGenerateServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(&config.LLMConfig{
		BaseURL: server.URL,
		APIKey:  "sk-test",
		Model:   "gpt-4o-mini",
		Timeout: "5s",
	}, quietLogger())
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), "general", "say hello")
	require.Error(t, err)

	var contractErr *errors.ContractError
	require.ErrorAs(t, err, &contractErr)
	assert.Equal(t, errors.ErrorTypeLLM, contractErr.Type)
}

func TestNewClientMissingConfig(t *testing.T) {
	_, err := NewClient(nil, quietLogger())
	assert.Error(t, err)
}

func TestRouterRoute(t *testing.T) {
	tests := []struct {
		name      string
		reply     string
		operation string
	}{
		{name: "escrow keyword", reply: "escrow", operation: models.OperationEscrow},
		{name: "escrow in sentence", reply: "The intent is Escrow.", operation: models.OperationEscrow},
		{name: "contribute keyword", reply: "CONTRIBUTE", operation: models.OperationContribute},
		{name: "general keyword", reply: "general", operation: models.OperationGeneral},
		{name: "unknown reply falls back to general", reply: "I am not sure", operation: models.OperationGeneral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := NewRouter(newFakeClient(t, tt.reply), quietLogger())

			operation, err := router.Route(context.Background(), "帮我起草一份托管合约", nil)
			require.NoError(t, err)
			assert.Equal(t, tt.operation, operation)
		})
	}
}

func TestSelectorSelect(t *testing.T) {
	cat, err := catalogue.New(quietLogger())
	require.NoError(t, err)

	tests := []struct {
		name     string
		reply    string
		wantName string
		wantErr  bool
	}{
		{name: "bare index", reply: "1", wantName: "Erc20Escrow"},
		{name: "index in sentence", reply: "Template 2 fits best", wantName: "NftEscrow"},
		{name: "unknown", reply: "unknown", wantErr: true},
		{name: "out of range", reply: "42", wantErr: true},
		{name: "negative", reply: "-1", wantErr: true},
		{name: "no number", reply: "maybe the eth one", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			selector := NewSelector(newFakeClient(t, tt.reply), cat, quietLogger())

			tmpl, err := selector.Select(context.Background(), "I need an escrow", nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, tmpl.Name)
		})
	}
}

func TestSelectorAdapt(t *testing.T) {
	cat, err := catalogue.New(quietLogger())
	require.NoError(t, err)
	tmpl, err := cat.Get(0)
	require.NoError(t, err)

	adapted := "```solidity\npragma solidity ^0.8.19;\ncontract EthEscrow {}\n```"
	selector := NewSelector(newFakeClient(t, adapted), cat, quietLogger())

	source, err := selector.Adapt(context.Background(), tmpl, "add a 7 day timeout")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(source, "pragma solidity"))
	assert.False(t, strings.Contains(source, "```"))
}

func TestContributionExtract(t *testing.T) {
	reply := "Here is the record:\n```json\n{\"contributor\":\"alice\",\"kind\":\"code\",\"summary\":\"gas fix\",\"details\":\"reduced deploy cost\"}\n```"
	extractor := NewContributionExtractor(newFakeClient(t, reply), quietLogger())

	record, err := extractor.Extract(context.Background(), "I fixed the gas issue", nil)
	require.NoError(t, err)
	assert.True(t, record.ParseOK)
	assert.Equal(t, "alice", record.Contributor)
	assert.Equal(t, "code", record.Kind)
	assert.Equal(t, "gas fix", record.Summary)
	assert.NotEmpty(t, record.RawText)
}

func TestParseContribution(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		parseOK     bool
		wantSum     string
		wantDetails map[string]interface{}
	}{
		{
			name:        "bare json with scalar details",
			raw:         `{"contributor":"bob","kind":"docs","summary":"readme","details":"rewrote intro"}`,
			parseOK:     true,
			wantSum:     "readme",
			wantDetails: map[string]interface{}{"text": "rewrote intro"},
		},
		{
			name:        "object details kept as map",
			raw:         `{"contributor":"bob","kind":"funds","summary":"donation","details":{"amount":"0.5","token":"ETH"}}`,
			parseOK:     true,
			wantSum:     "donation",
			wantDetails: map[string]interface{}{"amount": "0.5", "token": "ETH"},
		},
		{
			name:    "missing details stays nil",
			raw:     `{"contributor":"bob","kind":"docs","summary":"typo fix"}`,
			parseOK: true,
			wantSum: "typo fix",
		},
		{
			name:    "fenced json with prose",
			raw:     "sure!\n```json\n{\"contributor\":\"bob\",\"kind\":\"docs\",\"summary\":\"readme\",\"details\":\"x\"}\n```",
			parseOK: true,
			wantSum: "readme",
		},
		{
			name:    "json embedded in sentence",
			raw:     `the record is {"contributor":"eve","kind":"funds","summary":"donation","details":"0.5 eth"} thanks`,
			parseOK: true,
			wantSum: "donation",
		},
		{
			name:    "nested braces in string",
			raw:     `{"contributor":"eve","kind":"code","summary":"parser {fix}","details":"handles { and }"}`,
			parseOK: true,
			wantSum: "parser {fix}",
		},
		{
			name:    "malformed json keeps raw text",
			raw:     `{"contributor": "broken`,
			parseOK: false,
		},
		{
			name:    "no json at all",
			raw:     "thanks for contributing!",
			parseOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record := ParseContribution(tt.raw)
			require.NotNil(t, record)
			assert.Equal(t, tt.parseOK, record.ParseOK)
			assert.Equal(t, tt.raw, record.RawText)
			if tt.parseOK {
				assert.Equal(t, tt.wantSum, record.Summary)
			}
			if tt.wantDetails != nil {
				assert.Equal(t, tt.wantDetails, record.Details)
			}
			assert.False(t, record.ReceivedAt.IsZero())
		})
	}
}

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "no fence", in: "plain text", want: "plain text"},
		{name: "fence with language", in: "```solidity\ncontract A {}\n```", want: "contract A {}"},
		{name: "fence without language", in: "```\ncontract A {}\n```", want: "contract A {}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stripCodeFence(tt.in))
		})
	}
}
