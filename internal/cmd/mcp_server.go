package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/phildougherty/medic/internal/healthcare"
)

// NewMCPServerCommand creates the mcp-server command
func NewMCPServerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp-server",
		Short: "Serve the healthcare MCP tools",
		Long: `Start the healthcare MCP server that exposes the triage tools:

- triage_patient: rule and guideline based urgency assessment
- schedule_appointment: simulated booking for an urgency level
- notify_team: alert the care team

With --stdio the server speaks MCP over stdin/stdout, which is how the intake
agent launches it by default. Otherwise it listens over HTTP with JSON-RPC,
SSE and WebSocket transports.`,
		RunE: runMCPServer,
	}

	cmd.Flags().Bool("stdio", false, "Serve over stdin/stdout instead of HTTP")
	cmd.Flags().String("host", "", "Host to bind (defaults to mcp.host)")
	cmd.Flags().IntP("port", "p", 0, "Port to listen on (defaults to mcp.port)")

	return cmd
}

func runMCPServer(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tools, _, _, err := a.toolStack(ctx, a.aiManager())
	if err != nil {
		return err
	}

	if stdio, _ := cmd.Flags().GetBool("stdio"); stdio {
		a.logger.Debug("Serving healthcare tools over stdio")
		return healthcare.ServeStdio(ctx, tools, os.Stdin, os.Stdout)
	}

	host, _ := cmd.Flags().GetString("host")
	if host == "" {
		host = a.cfg.MCP.Host
	}
	port, _ := cmd.Flags().GetInt("port")
	if port == 0 {
		port = a.cfg.MCP.Port
	}

	server := healthcare.NewServer(tools, a.metrics, a.log())
	if authn := a.authenticator(); authn != nil {
		server.SetAuth(authn.Middleware())
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(host, port)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down healthcare MCP server...")
	shutdownCtx, cancel := a.shutdownContext()
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil && err != context.Canceled {
		a.logger.Error("Server shutdown error: %v", err)
	}
	return nil
}
