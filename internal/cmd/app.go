package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/phildougherty/medic/internal/ai"
	"github.com/phildougherty/medic/internal/audiostore"
	"github.com/phildougherty/medic/internal/auth"
	"github.com/phildougherty/medic/internal/config"
	"github.com/phildougherty/medic/internal/healthcare"
	"github.com/phildougherty/medic/internal/intake"
	"github.com/phildougherty/medic/internal/kb"
	"github.com/phildougherty/medic/internal/logging"
	"github.com/phildougherty/medic/internal/mcp"
	"github.com/phildougherty/medic/internal/metrics"
	"github.com/phildougherty/medic/internal/speech"
	"github.com/phildougherty/medic/internal/store"
	"github.com/phildougherty/medic/internal/triage"
)

// app holds what every command builds from the config file. Resources
// opened through it are released by close.
type app struct {
	cfg        *config.Config
	configPath string
	logger     *logging.Logger
	metrics    *metrics.Collector
	closers    []func() error
}

func newApp(cmd *cobra.Command) (*app, error) {
	configPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")
	logFormat, _ := cmd.Flags().GetString("log-format")

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	logger := logging.NewLogger(level)
	// stdout belongs to the MCP stdio transport and to command output.
	logger.SetOutput(os.Stderr)
	if logFormat == "" {
		logFormat = cfg.LogFormat
	}
	logger.SetJSONFormat(logFormat == "json")

	return &app{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		metrics:    metrics.NewCollector("medic"),
	}, nil
}

func (a *app) log() logr.Logger {
	return a.logger.GetLogr()
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warning("Error during shutdown: %v", err)
		}
	}
	a.closers = nil
}

func (a *app) aiManager() *ai.Manager {
	manager := ai.NewManager(a.cfg.AI)
	for _, st := range manager.Status() {
		if st.Available {
			a.logger.Debug("LLM provider %s ready (model %s, current=%t)", st.Name, st.Model, st.Current)
		} else {
			a.logger.Warning("LLM provider %s unavailable: %s", st.Name, st.Error)
		}
	}
	a.onClose(func() error {
		manager.Close()
		return nil
	})
	return manager
}

func (a *app) reportStore(ctx context.Context) (store.Store, error) {
	reports, err := store.Open(ctx, a.cfg.Storage.DatabaseURL, a.log())
	if err != nil {
		return nil, fmt.Errorf("failed to open report store: %w", err)
	}
	a.onClose(reports.Close)
	return reports, nil
}

func (a *app) triageEngine() (*triage.Engine, error) {
	if a.cfg.Triage.RulesFile == "" {
		return triage.DefaultEngine(), nil
	}
	rules, err := triage.LoadRuleSet(a.cfg.Triage.RulesFile)
	if err != nil {
		return nil, err
	}
	a.logger.Info("Loaded %d triage rules from %s", len(rules.Rules), a.cfg.Triage.RulesFile)
	return triage.NewEngine(rules), nil
}

// knowledgeBase returns nil when the guidelines index is disabled.
func (a *app) knowledgeBase(ctx context.Context, llm kb.Completer) (*kb.KnowledgeBase, error) {
	kc := a.cfg.Knowledge
	if kc.Disabled {
		a.logger.Info("Guidelines knowledge base disabled, triage uses rules only")
		return nil, nil
	}

	var embedder kb.Embedder
	dimensions := 1536
	switch kc.Embedder {
	case "ollama":
		e, err := kb.NewOllamaEmbedder(kc.OllamaURL, kc.EmbeddingModel)
		if err != nil {
			return nil, err
		}
		embedder = e
		dimensions = 768
	default:
		key := a.cfg.AI.Providers[string(ai.ProviderTypeOpenAI)].APIKey
		embedder = kb.NewOpenAIEmbedder(key, kc.OpenAIURL, kc.EmbeddingModel)
	}

	var vectors kb.VectorStore
	if kc.VectorStore == "pgvector" {
		if a.cfg.Storage.DatabaseURL == "" {
			return nil, fmt.Errorf("pgvector store needs storage.database_url")
		}
		pg, err := kb.NewPgVectorStore(ctx, a.cfg.Storage.DatabaseURL, dimensions)
		if err != nil {
			return nil, err
		}
		a.onClose(func() error {
			pg.Close()
			return nil
		})
		vectors = pg
	}

	return kb.New(kb.Options{
		Dir:          kc.Dir,
		TopK:         kc.TopK,
		ChunkSize:    kc.ChunkSize,
		ChunkOverlap: kc.ChunkOverlap,
		Model:        kc.AnswerModel,
	}, embedder, vectors, llm, a.log()), nil
}

// tools builds the in-process healthcare tool executor.
func (a *app) tools(engine *triage.Engine, guidelines *kb.KnowledgeBase, reports store.Store) *healthcare.Tools {
	var answerer healthcare.GuidelinesAnswerer
	if guidelines != nil {
		answerer = guidelines
	}
	t := healthcare.NewTools(engine, answerer, reports, a.log())
	t.SetMetrics(a.metrics)
	return t
}

// toolStack builds the engine, knowledge base, report store and tools
// that both the tool server and the in-process agent need.
func (a *app) toolStack(ctx context.Context, llm kb.Completer) (*healthcare.Tools, *kb.KnowledgeBase, store.Store, error) {
	engine, err := a.triageEngine()
	if err != nil {
		return nil, nil, nil, err
	}
	guidelines, err := a.knowledgeBase(ctx, llm)
	if err != nil {
		return nil, nil, nil, err
	}
	reports, err := a.reportStore(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	return a.tools(engine, guidelines, reports), guidelines, reports, nil
}

func (a *app) toolCaller(tools *healthcare.Tools) (mcp.ToolCaller, error) {
	caller, err := mcp.New(a.cfg.MCP, a.cfg.Timeouts, tools, a.log())
	if err != nil {
		return nil, err
	}
	if c, ok := caller.(interface{ Close() error }); ok {
		a.onClose(c.Close)
	}
	a.logger.Info("Healthcare tools reached over %s transport", a.cfg.MCP.Transport)
	return caller, nil
}

func (a *app) sessionStore(ctx context.Context) (intake.SessionStore, error) {
	if a.cfg.Sessions.Backend != "redis" {
		return intake.NewMemorySessionStore(), nil
	}
	rs, err := intake.NewRedisSessionStore(ctx, a.cfg.Sessions.RedisURL, a.cfg.Sessions.GetIdleTimeout())
	if err != nil {
		return nil, fmt.Errorf("failed to open redis session store: %w", err)
	}
	a.onClose(rs.Close)
	a.logger.Info("Sessions stored in redis")
	return rs, nil
}

func (a *app) audioStore(ctx context.Context) (audiostore.Store, error) {
	return audiostore.New(ctx, a.cfg.Storage.Audio)
}

func (a *app) speechClient() *speech.Client {
	client := speech.NewClient(a.cfg.Speech, a.cfg.Timeouts.GetSpeechTimeout(), a.metrics)
	if !client.Configured() {
		a.logger.Warning("ELEVENLABS_API_KEY not set, voice turns will not be transcribed or voiced")
		return nil
	}
	return client
}

// agent wires the intake agent to the LLM, the tools and the optional
// speech and audio backends.
func (a *app) agent(llm intake.Completer, caller mcp.ToolCaller, reports store.Store, audio audiostore.Store, sc *speech.Client) *intake.Agent {
	opts := []intake.AgentOption{intake.WithReportStore(reports)}
	if audio != nil {
		opts = append(opts, intake.WithAudioStore(audio))
	}
	if sc != nil {
		opts = append(opts, intake.WithSpeech(sc, sc))
	}
	return intake.NewAgent(llm, caller, a.log(), opts...)
}

// authenticator returns nil when neither a JWT secret nor an API key is set.
func (a *app) authenticator() *auth.Authenticator {
	var tokens *auth.TokenService
	if a.cfg.Auth.JWTSecret != "" {
		tokens = auth.NewTokenService(a.cfg.Auth.JWTSecret, a.cfg.Auth.Issuer, a.cfg.Auth.GetTokenTTL())
	}
	authn := auth.NewAuthenticator(tokens, a.cfg.Auth.APIKey, a.log())
	if !authn.Enabled() {
		a.logger.Warning("No auth configured, team endpoints are open")
		return nil
	}
	return authn
}

func (a *app) shutdownContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), a.cfg.Timeouts.GetShutdownTimeout())
}

func loadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
