package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/phildougherty/medic/internal/ai"
	"github.com/phildougherty/medic/internal/constants"
)

var (
	providerOpenAI = string(ai.ProviderTypeOpenAI)
	providerOllama = string(ai.ProviderTypeOllama)
)

// Config is the medic.yaml document.
type Config struct {
	Version   string          `yaml:"version"`
	LogLevel  string          `yaml:"log_level,omitempty"`
	LogFormat string          `yaml:"log_format,omitempty"`
	Server    ServerConfig    `yaml:"server"`
	MCP       MCPConfig       `yaml:"mcp"`
	AI        ai.Config       `yaml:"ai"`
	Speech    SpeechConfig    `yaml:"speech"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Triage    TriageConfig    `yaml:"triage"`
	Storage   StorageConfig   `yaml:"storage"`
	Sessions  SessionConfig   `yaml:"sessions"`
	Auth      AuthConfig      `yaml:"auth"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Timeouts  TimeoutConfig   `yaml:"timeouts,omitempty"`
}

// ServerConfig is the browser-facing intake server.
type ServerConfig struct {
	Host              string  `yaml:"host"`
	Port              int     `yaml:"port"`
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"`
	Burst             int     `yaml:"burst,omitempty"`
	Language          string  `yaml:"language,omitempty"`
}

// MCPConfig covers both the healthcare tool server and how the intake agent
// reaches it. Transport is one of stdio, http or local.
type MCPConfig struct {
	Host         string            `yaml:"host"`
	Port         int               `yaml:"port"`
	Transport    string            `yaml:"transport"`
	URL          string            `yaml:"url,omitempty"`
	Command      string            `yaml:"command,omitempty"`
	Args         []string          `yaml:"args,omitempty"`
	Env          map[string]string `yaml:"env,omitempty"`
	Capabilities []string          `yaml:"capabilities,omitempty"`
	APIKey       string            `yaml:"api_key,omitempty"`
}

// SpeechConfig is the ElevenLabs account used for STT and TTS.
type SpeechConfig struct {
	APIKey            string  `yaml:"api_key,omitempty"`
	BaseURL           string  `yaml:"base_url,omitempty"`
	VoiceID           string  `yaml:"voice_id,omitempty"`
	STTModel          string  `yaml:"stt_model,omitempty"`
	TTSModel          string  `yaml:"tts_model,omitempty"`
	Language          string  `yaml:"language,omitempty"`
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"`
}

// KnowledgeConfig configures the guidelines index.
type KnowledgeConfig struct {
	Dir             string `yaml:"dir"`
	Embedder        string `yaml:"embedder"`
	EmbeddingModel  string `yaml:"embedding_model,omitempty"`
	OpenAIURL       string `yaml:"openai_url,omitempty"`
	OllamaURL       string `yaml:"ollama_url,omitempty"`
	AnswerModel     string `yaml:"answer_model,omitempty"`
	VectorStore     string `yaml:"vector_store"`
	TopK            int    `yaml:"top_k,omitempty"`
	ChunkSize       int    `yaml:"chunk_size,omitempty"`
	ChunkOverlap    int    `yaml:"chunk_overlap,omitempty"`
	Concurrency     int    `yaml:"concurrency,omitempty"`
	Watch           bool   `yaml:"watch,omitempty"`
	ReindexSchedule string `yaml:"reindex_schedule,omitempty"`
	Disabled        bool   `yaml:"disabled,omitempty"`
}

type TriageConfig struct {
	RulesFile string `yaml:"rules_file,omitempty"`
}

// StorageConfig holds persistence settings. An empty DatabaseURL selects the
// in-memory store.
type StorageConfig struct {
	DatabaseURL string             `yaml:"database_url,omitempty"`
	Audio       AudioStorageConfig `yaml:"audio"`
}

// AudioStorageConfig selects where recorded and synthesized audio lives.
type AudioStorageConfig struct {
	Backend   string `yaml:"backend"`
	Dir       string `yaml:"dir,omitempty"`
	Endpoint  string `yaml:"endpoint,omitempty"`
	AccessKey string `yaml:"access_key,omitempty"`
	SecretKey string `yaml:"secret_key,omitempty"`
	Bucket    string `yaml:"bucket,omitempty"`
	UseSSL    bool   `yaml:"use_ssl,omitempty"`
}

type SessionConfig struct {
	Backend      string `yaml:"backend"`
	RedisURL     string `yaml:"redis_url,omitempty"`
	IdleTimeout  string `yaml:"idle_timeout,omitempty"`
	ReapSchedule string `yaml:"reap_schedule,omitempty"`
}

// AuthConfig protects the team endpoints.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret,omitempty"`
	APIKey    string `yaml:"api_key,omitempty"`
	Issuer    string `yaml:"issuer,omitempty"`
	TokenTTL  string `yaml:"token_ttl,omitempty"`
}

type SchedulerConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Timezone       string `yaml:"timezone,omitempty"`
	DigestSchedule string `yaml:"digest_schedule,omitempty"`
}

// TimeoutConfig holds duration strings; each getter falls back to the
// package constant when the value is empty or unparseable.
type TimeoutConfig struct {
	Connect     string `yaml:"connect,omitempty"`
	Read        string `yaml:"read,omitempty"`
	Write       string `yaml:"write,omitempty"`
	Idle        string `yaml:"idle,omitempty"`
	HealthCheck string `yaml:"health_check,omitempty"`
	Shutdown    string `yaml:"shutdown,omitempty"`
	LLM         string `yaml:"llm,omitempty"`
	Speech      string `yaml:"speech,omitempty"`
	Tool        string `yaml:"tool,omitempty"`
}

func parseTimeout(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func (t TimeoutConfig) GetConnectTimeout() time.Duration {
	return parseTimeout(t.Connect, constants.DefaultConnectTimeout)
}

func (t TimeoutConfig) GetReadTimeout() time.Duration {
	return parseTimeout(t.Read, constants.DefaultReadTimeout)
}

func (t TimeoutConfig) GetWriteTimeout() time.Duration {
	return parseTimeout(t.Write, constants.DefaultWriteTimeout)
}

func (t TimeoutConfig) GetIdleTimeout() time.Duration {
	return parseTimeout(t.Idle, constants.DefaultIdleTimeout)
}

func (t TimeoutConfig) GetHealthCheckTimeout() time.Duration {
	return parseTimeout(t.HealthCheck, constants.DefaultHealthTimeout)
}

func (t TimeoutConfig) GetShutdownTimeout() time.Duration {
	return parseTimeout(t.Shutdown, constants.DefaultShutdownTimeout)
}

func (t TimeoutConfig) GetLLMTimeout() time.Duration {
	return parseTimeout(t.LLM, constants.DefaultLLMTimeout)
}

func (t TimeoutConfig) GetSpeechTimeout() time.Duration {
	return parseTimeout(t.Speech, constants.DefaultSpeechTimeout)
}

func (t TimeoutConfig) GetToolTimeout() time.Duration {
	return parseTimeout(t.Tool, constants.DefaultToolTimeout)
}

// GetIdleTimeout is how long a session may sit untouched before it is reaped.
func (s SessionConfig) GetIdleTimeout() time.Duration {
	return parseTimeout(s.IdleTimeout, constants.DefaultSessionIdleTimeout)
}

// GetTokenTTL is the lifetime of issued team tokens.
func (a AuthConfig) GetTokenTTL() time.Duration {
	return parseTimeout(a.TokenTTL, 12*time.Hour)
}

// Default returns a configuration that runs with no external services
// beyond the LLM and speech APIs.
func Default() *Config {
	cfg := &Config{Version: "1"}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Version == "" {
		c.Version = "1"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}

	if c.Server.Host == "" {
		c.Server.Host = constants.DefaultHTTPHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = constants.DefaultHTTPPort
	}
	if c.Server.RequestsPerSecond == 0 {
		c.Server.RequestsPerSecond = constants.DefaultRequestsPerSecond
	}
	if c.Server.Burst == 0 {
		c.Server.Burst = constants.DefaultRequestBurst
	}

	if c.MCP.Host == "" {
		c.MCP.Host = constants.DefaultMCPHost
	}
	if c.MCP.Port == 0 {
		c.MCP.Port = constants.DefaultMCPPort
	}
	if c.MCP.Transport == "" {
		c.MCP.Transport = "stdio"
	}
	if len(c.MCP.Capabilities) == 0 {
		c.MCP.Capabilities = []string{"tools"}
	}

	if c.AI.DefaultProvider == "" {
		c.AI.DefaultProvider = providerOpenAI
	}
	if c.AI.Providers == nil {
		c.AI.Providers = make(map[string]ai.ProviderConfig)
	}
	if _, ok := c.AI.Providers[providerOpenAI]; !ok {
		c.AI.Providers[providerOpenAI] = ai.ProviderConfig{
			DefaultModel: constants.DefaultChatModel,
		}
	}

	if c.Speech.VoiceID == "" {
		c.Speech.VoiceID = constants.DefaultVoiceID
	}
	if c.Speech.STTModel == "" {
		c.Speech.STTModel = constants.DefaultSTTModel
	}
	if c.Speech.TTSModel == "" {
		c.Speech.TTSModel = constants.DefaultTTSModel
	}
	if c.Speech.Language == "" {
		c.Speech.Language = "en"
	}

	if c.Knowledge.Dir == "" {
		c.Knowledge.Dir = constants.DefaultGuidelinesDir
	}
	if c.Knowledge.Embedder == "" {
		c.Knowledge.Embedder = providerOpenAI
	}
	if c.Knowledge.VectorStore == "" {
		c.Knowledge.VectorStore = "memory"
	}
	if c.Knowledge.AnswerModel == "" {
		c.Knowledge.AnswerModel = constants.DefaultGuidelinesModel
	}
	if c.Knowledge.TopK == 0 {
		c.Knowledge.TopK = constants.DefaultTopK
	}
	if c.Knowledge.ChunkSize == 0 {
		c.Knowledge.ChunkSize = constants.DefaultChunkSize
	}
	if c.Knowledge.ChunkOverlap == 0 {
		c.Knowledge.ChunkOverlap = constants.DefaultChunkOverlap
	}

	if c.Storage.Audio.Backend == "" {
		c.Storage.Audio.Backend = "local"
	}
	if c.Storage.Audio.Dir == "" {
		c.Storage.Audio.Dir = constants.DefaultAudioDir
	}
	if c.Storage.Audio.Bucket == "" {
		c.Storage.Audio.Bucket = "medic-audio"
	}

	if c.Sessions.Backend == "" {
		c.Sessions.Backend = "memory"
	}
	if c.Sessions.ReapSchedule == "" {
		c.Sessions.ReapSchedule = constants.DefaultSessionReapSchedule
	}

	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "medic"
	}

	if c.Scheduler.Timezone == "" {
		c.Scheduler.Timezone = "UTC"
	}
	if c.Scheduler.DigestSchedule == "" {
		c.Scheduler.DigestSchedule = constants.DefaultDigestSchedule
	}
}

// applyEnv overlays environment variables on top of the file.
func (c *Config) applyEnv() {
	setString := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				*dst = v
				return
			}
		}
	}

	setString(&c.LogLevel, "MEDIC_LOG_LEVEL")
	setString(&c.Speech.APIKey, "ELEVENLABS_API_KEY", "ELEVEN_API_KEY")
	setString(&c.Speech.VoiceID, "ELEVEN_VOICE_ID")
	setString(&c.Speech.STTModel, "ELEVEN_STT_MODEL")
	setString(&c.Storage.DatabaseURL, "DATABASE_URL")
	setString(&c.Sessions.RedisURL, "REDIS_URL")
	setString(&c.Storage.Audio.Endpoint, "MINIO_ENDPOINT")
	setString(&c.Storage.Audio.AccessKey, "MINIO_ACCESS_KEY")
	setString(&c.Storage.Audio.SecretKey, "MINIO_SECRET_KEY")
	setString(&c.Storage.Audio.Bucket, "MINIO_BUCKET")
	setString(&c.Auth.JWTSecret, "MEDIC_JWT_SECRET")
	setString(&c.Auth.APIKey, "MEDIC_API_KEY")
	setString(&c.MCP.URL, "MEDIC_MCP_URL")

	if v := os.Getenv("MEDIC_HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		pc := c.AI.Providers[providerOpenAI]
		if pc.APIKey == "" {
			pc.APIKey = key
		}
		c.AI.Providers[providerOpenAI] = pc
	}
	if url := os.Getenv("OLLAMA_HOST"); url != "" {
		if c.Knowledge.OllamaURL == "" {
			c.Knowledge.OllamaURL = url
		}
		if pc, ok := c.AI.Providers[providerOllama]; ok && pc.Endpoint == "" {
			pc.Endpoint = url
			c.AI.Providers[providerOllama] = pc
		}
	}

	// A Redis URL in the environment only switches the backend when the file
	// left it at the default.
	if c.Sessions.RedisURL != "" && c.Sessions.Backend == "memory" && os.Getenv("REDIS_URL") != "" {
		c.Sessions.Backend = "redis"
	}
	if c.Storage.Audio.Endpoint != "" && os.Getenv("MINIO_ENDPOINT") != "" {
		c.Storage.Audio.Backend = "minio"
	}
}

// Validate rejects settings that cannot work at runtime.
func (c *Config) Validate() error {
	switch c.MCP.Transport {
	case "stdio", "http", "local":
	default:
		return fmt.Errorf("unsupported mcp transport %q", c.MCP.Transport)
	}
	if c.MCP.Transport == "http" && c.MCP.URL == "" {
		return errors.New("mcp.url is required for the http transport")
	}
	switch c.Knowledge.Embedder {
	case providerOpenAI, providerOllama:
	default:
		return fmt.Errorf("unsupported embedder %q", c.Knowledge.Embedder)
	}
	switch c.Knowledge.VectorStore {
	case "memory":
	case "pgvector":
		if c.Storage.DatabaseURL == "" {
			return errors.New("the pgvector store needs storage.database_url")
		}
	default:
		return fmt.Errorf("unsupported vector store %q", c.Knowledge.VectorStore)
	}
	switch c.Sessions.Backend {
	case "memory":
	case "redis":
		if c.Sessions.RedisURL == "" {
			return errors.New("the redis session backend needs sessions.redis_url")
		}
	default:
		return fmt.Errorf("unsupported session backend %q", c.Sessions.Backend)
	}
	switch c.Storage.Audio.Backend {
	case "local", "none":
	case "minio":
		if c.Storage.Audio.Endpoint == "" {
			return errors.New("the minio audio backend needs storage.audio.endpoint")
		}
	default:
		return fmt.Errorf("unsupported audio backend %q", c.Storage.Audio.Backend)
	}
	if c.Knowledge.ChunkOverlap >= c.Knowledge.ChunkSize {
		return fmt.Errorf("chunk_overlap (%d) must be smaller than chunk_size (%d)",
			c.Knowledge.ChunkOverlap, c.Knowledge.ChunkSize)
	}
	return nil
}

// LoadConfig reads the YAML file at path, overlays .env and the process
// environment, and fills defaults. A missing default config file is not an
// error; a missing explicitly named one is.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if path == "" {
		path = constants.DefaultConfigFile
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && filepath.Base(path) == constants.DefaultConfigFile:
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

// SaveConfig writes the configuration to a file.
func SaveConfig(filePath string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(filePath, data, constants.DefaultFileMode); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ToYAML converts a configuration to YAML.
func ToYAML(config *Config) (string, error) {
	data, err := yaml.Marshal(config)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	return string(data), nil
}

// IsCapabilityEnabled reports whether the MCP server advertises capability.
func IsCapabilityEnabled(mcp MCPConfig, capability string) bool {
	for _, c := range mcp.Capabilities {
		if strings.EqualFold(c, capability) {
			return true
		}
	}
	return false
}

// MergeEnv merges a base environment with extra values; extra wins.
func MergeEnv(base, extra map[string]string) map[string]string {
	result := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range extra {
		result[k] = v
	}
	return result
}

// ConvertToEnvList converts an environment map to KEY=VALUE form.
func ConvertToEnvList(env map[string]string) []string {
	result := make([]string, 0, len(env))
	for k, v := range env {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	return result
}
