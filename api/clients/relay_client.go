// Package clients provides HTTP clients for the relay service API.
package clients

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/stretchr/testify/mock"

	"github.com/oblink/outbound-relay/api"
)

// RelayProvider abstracts the relay service API for callers that should
// not depend on the HTTP client directly.
type RelayProvider interface {
	// Relay forwards one request description and returns the normalized
	// result.
	Relay(req *api.RelayRequest, followRedirects bool) (*api.RelayResult, error)

	// Sign requests a detached signature over the request payload.
	Sign(req *api.SignRequest) (*api.SignResponse, error)
}

// RelayClient implements RelayProvider against a running relay server.
type RelayClient struct {
	// ServerAddr is the base URL of the relay server
	ServerAddr string

	// HTTPClient overrides the client used for API calls, mainly for
	// tests. Nil means http.DefaultClient.
	HTTPClient *http.Client
}

// Relay posts the request description to the relay endpoint.
func (c *RelayClient) Relay(req *api.RelayRequest, followRedirects bool) (*api.RelayResult, error) {
	url := fmt.Sprintf("%s/api/relay?follow_redirects=%t", c.ServerAddr, followRedirects)

	var result api.RelayResult
	if err := c.post(url, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Sign posts the signing request to the sign endpoint.
func (c *RelayClient) Sign(req *api.SignRequest) (*api.SignResponse, error) {
	var resp api.SignResponse
	if err := c.post(c.ServerAddr+"/api/sign", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *RelayClient) post(url string, payload, result any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("could not request relay endpoint: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		bodyBytes, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return fmt.Errorf("relay endpoint returned non-200 response: %d", httpResp.StatusCode)
		}
		return fmt.Errorf("relay endpoint returned error %d: %s", httpResp.StatusCode, string(bodyBytes))
	}

	if err := json.NewDecoder(httpResp.Body).Decode(result); err != nil {
		return fmt.Errorf("could not parse relay response: %w", err)
	}
	return nil
}

// MockRelayProvider implements a mock RelayProvider for testing.
type MockRelayProvider struct {
	mock.Mock
}

// Relay implements the RelayProvider interface for testing.
// The behavior is determined by how the mock is configured in tests.
func (m *MockRelayProvider) Relay(req *api.RelayRequest, followRedirects bool) (*api.RelayResult, error) {
	args := m.Called(req, followRedirects)
	return args.Get(0).(*api.RelayResult), args.Error(1)
}

// Sign implements the RelayProvider interface for testing.
func (m *MockRelayProvider) Sign(req *api.SignRequest) (*api.SignResponse, error) {
	args := m.Called(req)
	return args.Get(0).(*api.SignResponse), args.Error(1)
}
