package mcp

import (
	"context"

	"github.com/phildougherty/medic/internal/healthcare"
)

// LocalClient dispatches into an in-process tool executor. The payload goes
// through the same JSON envelope as the remote transports.
type LocalClient struct {
	tools *healthcare.Tools
}

func NewLocalClient(tools *healthcare.Tools) *LocalClient {
	return &LocalClient{tools: tools}
}

func (c *LocalClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (map[string]interface{}, error) {
	text := c.tools.ExecuteMCPToolJSON(ctx, name, args)
	return decodeToolResult(name, []content{{Type: "text", Text: text}})
}
