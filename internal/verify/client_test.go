package verify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"satcontracts/internal/config"
	"satcontracts/internal/errors"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	client, err := NewClient(&config.VerifierConfig{
		URL:     server.URL,
		APIKey:  "test-key",
		Timeout: "5s",
	}, logger)
	require.NoError(t, err)
	return client, server
}

func writeEtherscan(w http.ResponseWriter, status, result string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  status,
		"message": "OK",
		"result":  result,
	})
}

func TestSubmit(t *testing.T) {
	var gotAction, gotAddress, gotKey string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotAction = r.Form.Get("action")
		gotAddress = r.Form.Get("contractaddress")
		gotKey = r.Form.Get("apikey")
		writeEtherscan(w, "1", "guid-abc123")
	})

	sub, err := client.Submit(context.Background(), &Request{
		ContractAddress: "0x1111111111111111111111111111111111111111",
		Source:          "pragma solidity ^0.8.19; contract EthEscrow {}",
		ContractName:    "EthEscrow",
		CompilerVersion: "v0.8.19+commit.7dd6d404",
		OptimizerRuns:   200,
	})
	require.NoError(t, err)

	assert.Equal(t, "guid-abc123", sub.GUID)
	assert.Equal(t, "verifysourcecode", gotAction)
	assert.Equal(t, "0x1111111111111111111111111111111111111111", gotAddress)
	assert.Equal(t, "test-key", gotKey)
}

func TestSubmitRejected(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEtherscan(w, "0", "Unable to locate ContractCode")
	})

	sub, err := client.Submit(context.Background(), &Request{
		ContractAddress: "0x1111111111111111111111111111111111111111",
		Source:          "contract X {}",
		ContractName:    "X",
		CompilerVersion: "v0.8.19",
	})
	require.Error(t, err)
	assert.Nil(t, sub)

	var contractErr *errors.ContractError
	require.True(t, errors.AsContractError(err, &contractErr))
	assert.Equal(t, "VERIFY_SUBMIT_REJECTED", contractErr.Code)
	assert.False(t, contractErr.Retryable)
}

func TestSubmitInvalidRequest(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("不应该发起远程请求")
	})

	_, err := client.Submit(context.Background(), nil)
	assert.Error(t, err)

	_, err = client.Submit(context.Background(), &Request{Source: "contract X {}"})
	assert.Error(t, err)
}

func TestCheckStatus(t *testing.T) {
	tests := []struct {
		name        string
		status      string
		result      string
		wantPending bool
		wantPassed  bool
	}{
		{"通过", "1", "Pass - Verified", false, true},
		{"排队中", "0", "Pending in queue", true, false},
		{"失败", "0", "Fail - Unable to verify", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				require.NoError(t, r.ParseForm())
				assert.Equal(t, "checkverifystatus", r.Form.Get("action"))
				assert.Equal(t, "guid-abc123", r.Form.Get("guid"))
				writeEtherscan(w, tt.status, tt.result)
			})

			status, err := client.CheckStatus(context.Background(), "guid-abc123")
			require.NoError(t, err)

			assert.Equal(t, tt.wantPending, status.Pending)
			assert.Equal(t, tt.wantPassed, status.Passed)
			assert.Equal(t, tt.result, status.Message)
		})
	}
}

func TestCheckStatusEmptyGUID(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("不应该发起远程请求")
	})

	_, err := client.CheckStatus(context.Background(), "")
	assert.Error(t, err)
}

func TestNewClientMissingConfig(t *testing.T) {
	_, err := NewClient(nil, nil)
	assert.Error(t, err)

	_, err = NewClient(&config.VerifierConfig{}, nil)
	assert.Error(t, err)
}
