package healthcare

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// roundTrip feeds one JSON-RPC message to the mcp-go server and returns the
// response decoded generically.
func roundTrip(t *testing.T, tools *Tools, msg string) map[string]interface{} {
	t.Helper()
	s, err := NewStdioServer(tools)
	require.NoError(t, err)

	resp := s.HandleMessage(context.Background(), json.RawMessage(msg))
	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestStdioServer_ListTools(t *testing.T) {
	out := roundTrip(t, newTestTools(nil, nil), `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)

	tools := out["result"].(map[string]interface{})["tools"].([]interface{})
	var names []string
	for _, tool := range tools {
		names = append(names, tool.(map[string]interface{})["name"].(string))
	}
	assert.ElementsMatch(t, []string{ToolTriagePatient, ToolScheduleAppointment, ToolNotifyTeam}, names)
}

func TestStdioServer_CallToolReturnsEnvelope(t *testing.T) {
	out := roundTrip(t, newTestTools(nil, nil),
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"schedule_appointment","arguments":{"urgency_level":"critical","speciality":"cardiology"}}}`)

	content := out["result"].(map[string]interface{})["content"].([]interface{})
	require.Len(t, content, 1)
	text := content[0].(map[string]interface{})["text"].(string)
	assert.JSONEq(t, `{"ok":true,"selected_slot":"IMMEDIATE (emergency department recommended)","speciality":"cardiology","note":"Simulated appointment slot for demo purposes."}`, text)
}
