package mcp

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

const (
	clientName    = "medic-intake"
	clientVersion = "0.1.0"
)

// StdioClient spawns the tool server as a subprocess. By default each call
// gets a fresh process; with Persistent set one initialized session is kept
// and replaced after a failure.
type StdioClient struct {
	Command    string
	Args       []string
	Env        []string
	Persistent bool

	logger  logr.Logger
	mu      sync.Mutex
	session *client.Client
}

func NewStdioClient(command string, args, env []string, logger logr.Logger) *StdioClient {
	return &StdioClient{
		Command: command,
		Args:    args,
		Env:     env,
		logger:  logger.WithName("mcp-stdio"),
	}
}

func (c *StdioClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (map[string]interface{}, error) {
	if !c.Persistent {
		session, err := c.start(ctx)
		if err != nil {
			return nil, err
		}
		defer session.Close()
		return callTool(ctx, session, name, args)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		session, err := c.start(ctx)
		if err != nil {
			return nil, err
		}
		c.session = session
	}

	result, err := callTool(ctx, c.session, name, args)
	if err != nil {
		if _, isCallErr := err.(*CallError); !isCallErr {
			c.logger.Info("Dropping MCP session after transport error", "tool", name, "error", err.Error())
			c.session.Close()
			c.session = nil
		}
	}
	return result, err
}

// Close stops a persistent session.
func (c *StdioClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	return err
}

func (c *StdioClient) start(ctx context.Context) (*client.Client, error) {
	session, err := client.NewStdioMCPClient(c.Command, c.Env, c.Args...)
	if err != nil {
		return nil, fmt.Errorf("failed to start MCP server %q: %w", c.Command, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: clientName, Version: clientVersion}
	if _, err := session.Initialize(ctx, initReq); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to initialize MCP session: %w", err)
	}
	c.logger.V(1).Info("MCP session initialized", "command", c.Command)
	return session, nil
}

func callTool(ctx context.Context, session *client.Client, name string, args map[string]interface{}) (map[string]interface{}, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := session.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to call tool %s: %w", name, err)
	}

	items := make([]content, 0, len(result.Content))
	for _, c := range result.Content {
		if text, ok := mcp.AsTextContent(c); ok {
			items = append(items, content{Type: "text", Text: text.Text})
			continue
		}
		items = append(items, content{Type: fmt.Sprintf("%T", c)})
	}
	return decodeToolResult(name, items)
}
