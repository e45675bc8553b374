package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/phildougherty/medic/internal/config"
	"github.com/phildougherty/medic/internal/healthcare"
	"github.com/phildougherty/medic/internal/intake"
	"github.com/phildougherty/medic/internal/scheduler"
	"github.com/phildougherty/medic/internal/server"
)

func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the intake web server and care team hub",
		Long: `Serve the browser intake UI and API, the care team notification stream and
the background jobs (idle session reaping, guideline re-indexing and the daily
notification digest).

With --with-mcp the healthcare MCP server also listens on mcp.port, sharing
the report store with the intake agent.`,
		RunE: runServe,
	}

	cmd.Flags().Bool("with-mcp", false, "Also serve the healthcare MCP tools over HTTP")
	cmd.Flags().IntP("port", "p", 0, "Port for the intake server (defaults to server.port)")

	return cmd
}

// sessionReaper drops idle sessions together with their rate limit buckets.
type sessionReaper struct {
	service *intake.Service
	server  *server.IntakeServer
}

func (r sessionReaper) Reap(ctx context.Context, idle time.Duration) (int, error) {
	n, err := r.service.Reap(ctx, idle)
	r.server.PruneLimiters(idle)
	return n, err
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		a.cfg.Server.Port = port
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	llm := a.aiManager()
	tools, guidelines, reports, err := a.toolStack(ctx, llm)
	if err != nil {
		return err
	}
	caller, err := a.toolCaller(tools)
	if err != nil {
		return err
	}
	if a.cfg.MCP.Transport == "stdio" && a.cfg.Storage.DatabaseURL == "" {
		a.logger.Warning("Tool server runs in a separate process with its own in-memory store; " +
			"team notifications reach this hub only with a shared database or mcp.transport: local")
	}

	sessions, err := a.sessionStore(ctx)
	if err != nil {
		return err
	}
	audio, err := a.audioStore(ctx)
	if err != nil {
		return err
	}

	agent := a.agent(llm, caller, reports, audio, a.speechClient())
	service := intake.NewService(agent, sessions, a.metrics, a.log())

	opts := []server.Option{
		server.WithAudioStore(audio),
		server.WithMetrics(a.metrics),
	}
	authn := a.authenticator()
	if authn != nil {
		opts = append(opts, server.WithAuth(authn.Middleware()))
	}
	intakeServer := server.NewIntakeServer(a.cfg.Server, service, reports, a.logger, opts...)

	engine := scheduler.NewCronEngine(loadLocation(a.cfg.Scheduler.Timezone), a.log())
	if err := engine.AddJob(scheduler.ReaperJob(a.cfg.Sessions.ReapSchedule,
		sessionReaper{service: service, server: intakeServer}, a.cfg.Sessions.GetIdleTimeout(), a.log())); err != nil {
		return err
	}
	if guidelines != nil && a.cfg.Knowledge.ReindexSchedule != "" {
		reindex := func(ctx context.Context) error {
			_, err := guidelines.Reindex(ctx)
			return err
		}
		if err := engine.AddJob(scheduler.ReindexJob(a.cfg.Knowledge.ReindexSchedule, reindex)); err != nil {
			return err
		}
	}
	if a.cfg.Scheduler.Enabled {
		if err := engine.AddJob(scheduler.DigestJob(a.cfg.Scheduler.DigestSchedule, reports, a.log())); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(intakeServer.Start)
	g.Go(func() error {
		return intakeServer.Hub().Run(gctx)
	})

	var mcpServer *healthcare.Server
	if withMCP, _ := cmd.Flags().GetBool("with-mcp"); withMCP {
		mcpServer = healthcare.NewServer(tools, a.metrics, a.log())
		if authn != nil {
			mcpServer.SetAuth(authn.Middleware())
		}
		g.Go(func() error {
			return mcpServer.Start(a.cfg.MCP.Host, a.cfg.MCP.Port)
		})
	}

	engine.Start()
	for _, job := range engine.Status() {
		a.logger.Info("Job %s (%s) next run %s", job.ID, job.Schedule, job.NextRun.Format(time.RFC3339))
	}
	g.Go(func() error {
		<-gctx.Done()
		engine.Stop()
		return nil
	})

	if guidelines != nil && a.cfg.Knowledge.Watch {
		g.Go(func() error {
			return guidelines.Watch(gctx)
		})
	}

	if _, err := os.Stat(a.configPath); err == nil {
		watcher := config.NewWatcher(a.configPath, a.log(), func(c *config.Config) {
			a.logger.SetLevel(c.LogLevel)
			a.logger.Info("Log level now %s; other changes apply on restart", c.LogLevel)
		})
		g.Go(func() error {
			return watcher.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := a.shutdownContext()
		defer cancel()
		err := intakeServer.Stop(shutdownCtx)
		if mcpServer != nil {
			err = errors.Join(err, mcpServer.Stop(shutdownCtx))
		}
		return err
	})

	a.logger.Info("Medic is running, press Ctrl+C to stop")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.logger.Info("Medic stopped")
	return nil
}
