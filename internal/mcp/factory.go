package mcp

import (
	"fmt"
	"os"

	"github.com/go-logr/logr"

	"github.com/phildougherty/medic/internal/config"
	"github.com/phildougherty/medic/internal/healthcare"
)

// New builds the caller selected by cfg.Transport. tools is required for
// the local transport only. An empty stdio command re-executes the running
// binary as "mcp-server --stdio".
func New(cfg config.MCPConfig, timeouts config.TimeoutConfig, tools *healthcare.Tools, logger logr.Logger) (ToolCaller, error) {
	switch cfg.Transport {
	case "local":
		if tools == nil {
			return nil, fmt.Errorf("local MCP transport needs an in-process tool executor")
		}
		return NewLocalClient(tools), nil

	case "http":
		if cfg.URL == "" {
			return nil, fmt.Errorf("http MCP transport needs a url")
		}
		return NewHTTPClient(cfg.URL, cfg.APIKey, timeouts.GetToolTimeout()), nil

	case "stdio", "":
		command, args := cfg.Command, cfg.Args
		if command == "" {
			self, err := os.Executable()
			if err != nil {
				return nil, fmt.Errorf("failed to locate executable for stdio MCP server: %w", err)
			}
			command, args = self, []string{"mcp-server", "--stdio"}
		}
		return NewStdioClient(command, args, config.ConvertToEnvList(cfg.Env), logger), nil

	default:
		return nil, fmt.Errorf("unsupported MCP transport: %s", cfg.Transport)
	}
}
