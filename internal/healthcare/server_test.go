package healthcare

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phildougherty/medic/internal/constants"
	"github.com/phildougherty/medic/internal/metrics"
	"github.com/phildougherty/medic/internal/protocol"
	"github.com/phildougherty/medic/internal/store"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(newTestTools(nil, store.NewMemoryStore()), metrics.NewCollector("test"), logr.Discard())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func postRPC(t *testing.T, url, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.Post(url+"/mcp", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	if resp.StatusCode != http.StatusAccepted {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func TestServer_JSONRPC(t *testing.T) {
	_, ts := newTestServer(t)

	t.Run("initialize", func(t *testing.T) {
		_, out := postRPC(t, ts.URL, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)
		result := out["result"].(map[string]interface{})
		assert.Equal(t, protocol.MCPVersion, result["protocolVersion"])
		assert.Equal(t, "healthcare-mcp-server", result["serverInfo"].(map[string]interface{})["name"])
	})

	t.Run("initialized notification", func(t *testing.T) {
		resp, _ := postRPC(t, ts.URL, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	})

	t.Run("tools/list", func(t *testing.T) {
		_, out := postRPC(t, ts.URL, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
		tools := out["result"].(map[string]interface{})["tools"].([]interface{})
		assert.Len(t, tools, 3)
	})

	t.Run("tools/call", func(t *testing.T) {
		_, out := postRPC(t, ts.URL, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"schedule_appointment","arguments":{"urgency_level":"critical"}}}`)
		content := out["result"].(map[string]interface{})["content"].([]interface{})
		require.Len(t, content, 1)
		item := content[0].(map[string]interface{})
		assert.Equal(t, "text", item["type"])

		var envelope map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(item["text"].(string)), &envelope))
		assert.Equal(t, true, envelope["ok"])
		assert.Equal(t, "IMMEDIATE (emergency department recommended)", envelope["selected_slot"])
	})

	t.Run("errors", func(t *testing.T) {
		tests := []struct {
			name     string
			body     string
			status   int
			wantCode float64
		}{
			{"parse error", `{not json`, http.StatusBadRequest, protocol.ParseError},
			{"wrong version", `{"jsonrpc":"1.0","id":4,"method":"ping"}`, http.StatusOK, protocol.InvalidRequest},
			{"unknown method", `{"jsonrpc":"2.0","id":5,"method":"resources/list"}`, http.StatusOK, protocol.MethodNotFound},
			{"missing params", `{"jsonrpc":"2.0","id":6,"method":"tools/call"}`, http.StatusOK, protocol.InvalidParams},
			{"missing tool name", `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"arguments":{}}}`, http.StatusOK, protocol.InvalidParams},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				resp, out := postRPC(t, ts.URL, tt.body)
				assert.Equal(t, tt.status, resp.StatusCode)
				assert.Equal(t, tt.wantCode, out["error"].(map[string]interface{})["code"])
			})
		}
	})
}

func TestServer_RESTEndpoints(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/mcp/tools")
	require.NoError(t, err)
	var list ToolsListResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	assert.Len(t, list.Tools, 3)

	body, _ := json.Marshal(protocol.ToolCallParams{Name: "nope"})
	resp, err = http.Post(ts.URL+"/mcp/tools/call", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	var result protocol.ToolResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	resp.Body.Close()
	require.Len(t, result.Content, 1)
	assert.JSONEq(t, `{"ok":false,"error":"Unknown tool: nope"}`, result.Content[0].Text)

	resp, err = http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_RejectsOversizedBodies(t *testing.T) {
	_, ts := newTestServer(t)
	notes := strings.Repeat("a", constants.MaxRequestBodySize)

	tests := []struct {
		name string
		path string
		body string
	}{
		{"json-rpc", "/mcp", `{"jsonrpc":"2.0","id":1,"method":"ping","params":{"notes":"` + notes + `"}}`},
		{"tool call", "/mcp/tools/call", `{"name":"send_team_notification","arguments":{"message":"` + notes + `"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+tt.path, "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
		})
	}

	// Bodies under the cap still go through.
	resp, out := postRPC(t, ts.URL, `{"jsonrpc":"2.0","id":2,"method":"ping","params":{"notes":"`+notes[:1024]+`"}}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotNil(t, out["result"])
}

func TestServer_Auth(t *testing.T) {
	s := NewServer(newTestTools(nil, nil), nil, logr.Discard())
	s.SetAuth(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer secret" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/mcp/tools")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest("GET", ts.URL+"/mcp/tools", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode, "health stays public")
}

func TestServer_WebSocketBroadcastsNotifications(t *testing.T) {
	s, ts := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/mcp/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var welcome map[string]interface{}
	require.NoError(t, conn.ReadJSON(&welcome))
	assert.Equal(t, "connection", welcome["type"])
	assert.Eventually(t, func() bool { return s.GetServerInfo()["clients"] == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      9,
		"method":  "tools/call",
		"params": map[string]interface{}{
			"name":      "notify_team",
			"arguments": map[string]interface{}{"urgency_level": "high", "patient_summary": "fever"},
		},
	}))

	var broadcast map[string]interface{}
	require.NoError(t, conn.ReadJSON(&broadcast))
	assert.Equal(t, "team_notification", broadcast["type"])
	notification := broadcast["notification"].(map[string]interface{})
	assert.Equal(t, "high", notification["urgency_level"])

	var resp map[string]interface{}
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, float64(9), resp["id"])
	assert.NotNil(t, resp["result"])
}
