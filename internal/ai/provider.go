package ai

import (
	"context"
	"fmt"
	"time"
)

// Chat roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn sent to a model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamResponse is a single chunk of a streamed completion. The last chunk
// has Finished set; a chunk carrying Error ends the stream.
type StreamResponse struct {
	Content  string `json:"content"`
	Finished bool   `json:"finished"`
	Error    error  `json:"error,omitempty"`
}

// StreamOptions tune one completion. Zero values take the provider defaults.
type StreamOptions struct {
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	Model       string  `json:"model,omitempty"`

	// JSONMode asks the provider to answer with a single JSON object.
	JSONMode bool `json:"json_mode,omitempty"`
}

// Provider is a chat model backend.
type Provider interface {
	Name() string
	StreamChat(ctx context.Context, messages []Message, options StreamOptions) (<-chan StreamResponse, error)

	// Ping reports whether the backend can take requests right now.
	Ping(ctx context.Context) error

	DefaultModel() string
}

// Config selects the chat providers. The intake agent and the guidelines
// knowledge base share one manager built from it.
type Config struct {
	DefaultProvider     string                    `yaml:"default_provider"`
	Providers           map[string]ProviderConfig `yaml:"providers"`
	FallbackProviders   []string                  `yaml:"fallback_providers"`
	HealthCheckInterval time.Duration             `yaml:"health_check_interval"`
}

// ProviderConfig configures one backend.
type ProviderConfig struct {
	APIKey       string        `yaml:"api_key"`
	Endpoint     string        `yaml:"endpoint"`
	DefaultModel string        `yaml:"default_model"`
	MaxTokens    int           `yaml:"max_tokens"`
	Temperature  float64       `yaml:"temperature"`
	Timeout      time.Duration `yaml:"timeout"`
}

type ProviderType string

const (
	ProviderTypeOpenAI ProviderType = "openai"
	ProviderTypeOllama ProviderType = "ollama"
)

// ProviderStatus is what `medic` reports about each configured backend.
type ProviderStatus struct {
	Name      string    `json:"name"`
	Available bool      `json:"available"`
	Current   bool      `json:"current"`
	CheckedAt time.Time `json:"checked_at"`
	Error     string    `json:"error,omitempty"`
	Model     string    `json:"model,omitempty"`
}

// ProviderError describes a failed request to a backend. Code is a short
// machine-readable kind such as "http_error".
type ProviderError struct {
	Provider string
	Message  string
	Code     string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %s", e.Provider, e.Message)
}

func NewProviderError(provider, message, code string) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Message:  message,
		Code:     code,
	}
}

// NewProvider builds the backend named by typ.
func NewProvider(typ string, config ProviderConfig) (Provider, error) {
	switch ProviderType(typ) {
	case ProviderTypeOpenAI:
		return NewOpenAIProvider(config)
	case ProviderTypeOllama:
		return NewOllamaProvider(config)
	default:
		return nil, fmt.Errorf("unknown provider type: %s", typ)
	}
}
