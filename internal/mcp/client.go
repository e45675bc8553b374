package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/phildougherty/medic/internal/constants"
	"github.com/phildougherty/medic/internal/protocol"
)

// HTTPClient calls the tool server's JSON-RPC endpoint.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	apiKey     string
	retryCount int
	retryDelay time.Duration
	nextID     int64
}

func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = constants.DefaultToolTimeout
	}
	return &HTTPClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		apiKey:     apiKey,
		retryCount: constants.DefaultRetryAttempts,
		retryDelay: constants.DefaultRetryDelay,
	}
}

type rpcResponse struct {
	JSONRPC string             `json:"jsonrpc"`
	ID      interface{}        `json:"id"`
	Result  json.RawMessage    `json:"result,omitempty"`
	Error   *protocol.MCPError `json:"error,omitempty"`
}

// ListTools returns the server's tool catalogue.
func (c *HTTPClient) ListTools(ctx context.Context) ([]protocol.Tool, error) {
	resp, err := c.call(ctx, protocol.MethodToolsList, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	var result struct {
		Tools []protocol.Tool `json:"tools"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("failed to parse tools response: %w", err)
	}
	return result.Tools, nil
}

func (c *HTTPClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (map[string]interface{}, error) {
	resp, err := c.call(ctx, protocol.MethodToolsCall, protocol.ToolCallParams{Name: name, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("failed to call tool %s: %w", name, err)
	}

	var result protocol.ToolResult
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("failed to parse tool result: %w", err)
	}

	items := make([]content, 0, len(result.Content))
	for _, c := range result.Content {
		items = append(items, content{Type: c.Type, Text: c.Text})
	}
	return decodeToolResult(name, items)
}

func (c *HTTPClient) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	req := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      atomic.AddInt64(&c.nextID, 1),
		"method":  method,
	}
	if params != nil {
		req["params"] = params
	}

	resp, err := c.makeRequest(ctx, "/mcp", req)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

// makeRequest posts to the tool server, retrying transport failures and 5xx.
func (c *HTTPClient) makeRequest(ctx context.Context, endpoint string, req interface{}) (*rpcResponse, error) {
	reqBytes, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.retryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * c.retryDelay):
			}
		}

		resp, retry, err := c.doRequest(ctx, endpoint, reqBytes)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retry {
			return nil, err
		}
	}
	return nil, fmt.Errorf("failed to make request after %d attempts: %w", c.retryCount, lastErr)
}

func (c *HTTPClient) doRequest(ctx context.Context, endpoint string, body []byte) (*rpcResponse, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, ctx.Err() == nil, err
	}
	defer httpResp.Body.Close()

	respBytes, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("failed to read response: %w", err)
	}

	// JSON-RPC errors may arrive with a 4xx status; decode those too.
	var resp rpcResponse
	if jsonErr := json.Unmarshal(respBytes, &resp); jsonErr == nil && (resp.Error != nil || resp.Result != nil) {
		return &resp, false, nil
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, httpResp.StatusCode >= 500, fmt.Errorf("HTTP error %d: %s", httpResp.StatusCode, strings.TrimSpace(string(respBytes)))
	}
	return nil, false, fmt.Errorf("failed to unmarshal response: %s", strings.TrimSpace(string(respBytes)))
}
