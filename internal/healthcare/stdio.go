package healthcare

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewStdioServer registers the tools on an mcp-go server. Every call
// returns the JSON envelope as a single text content, matching the HTTP
// transport.
func NewStdioServer(tools *Tools) (*server.MCPServer, error) {
	s := server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	for _, def := range tools.GetMCPTools() {
		schema, err := json.Marshal(def.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("failed to encode schema for %s: %w", def.Name, err)
		}
		name := def.Name
		s.AddTool(mcp.NewToolWithRawSchema(name, def.Description, schema),
			func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				return mcp.NewToolResultText(tools.ExecuteMCPToolJSON(ctx, name, req.GetArguments())), nil
			})
	}
	return s, nil
}

// ServeStdio blocks serving JSON-RPC on the given streams until ctx is done
// or stdin closes. Logging must not go to out.
func ServeStdio(ctx context.Context, tools *Tools, in io.Reader, out io.Writer) error {
	s, err := NewStdioServer(tools)
	if err != nil {
		return err
	}
	return server.NewStdioServer(s).Listen(ctx, in, out)
}
