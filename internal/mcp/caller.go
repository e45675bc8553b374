// Package mcp calls the healthcare tools over stdio, HTTP or in process.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ToolCaller invokes one healthcare tool and returns its decoded JSON
// payload. A payload reporting a failure is returned as a *CallError.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]interface{}) (map[string]interface{}, error)
}

// CallError describes a tool call that produced no usable result.
type CallError struct {
	Tool    string
	Reason  string
	Payload map[string]interface{}
}

func (e *CallError) Error() string {
	if details, ok := e.Payload["details"].(string); ok && details != "" {
		return fmt.Sprintf("MCP error (%s): %s: %s", e.Tool, e.Reason, details)
	}
	return fmt.Sprintf("MCP error (%s): %s", e.Tool, e.Reason)
}

// PayloadJSON renders the payload for reports and logs.
func (e *CallError) PayloadJSON() string {
	data, err := json.MarshalIndent(e.Payload, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// content is the transport-neutral shape of one result content item.
type content struct {
	Type string
	Text string
}

// decodeToolResult takes the first text content as the JSON payload.
func decodeToolResult(tool string, items []content) (map[string]interface{}, error) {
	if len(items) == 0 {
		return nil, &CallError{Tool: tool, Reason: "MCP tool returned no content",
			Payload: map[string]interface{}{"tool_name": tool}}
	}

	for _, item := range items {
		if item.Type != "text" {
			continue
		}
		raw := strings.TrimSpace(item.Text)
		if raw == "" {
			return nil, &CallError{Tool: tool, Reason: "MCP tool returned empty text content",
				Payload: map[string]interface{}{"tool_name": tool}}
		}

		var payload map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return nil, &CallError{Tool: tool, Reason: "Invalid JSON from MCP tool",
				Payload: map[string]interface{}{"tool_name": tool, "raw_text": raw, "json_error": err.Error()}}
		}
		if failed(payload) {
			reason, _ := payload["error"].(string)
			if reason == "" {
				reason = "tool reported failure"
			}
			return nil, &CallError{Tool: tool, Reason: reason, Payload: payload}
		}
		return payload, nil
	}

	types := make([]string, 0, len(items))
	for _, item := range items {
		types = append(types, item.Type)
	}
	sort.Strings(types)
	return nil, &CallError{Tool: tool, Reason: "No TextContent from MCP tool",
		Payload: map[string]interface{}{"tool_name": tool, "content": types}}
}

func failed(payload map[string]interface{}) bool {
	if ok, present := payload["ok"].(bool); present && !ok {
		return true
	}
	_, hasError := payload["error"]
	return hasError
}
