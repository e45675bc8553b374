package ai

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

const (
	defaultOllamaEndpoint = "http://localhost:11434"
	defaultOllamaModel    = "llama3"
)

// OllamaProvider runs the conversation on a local Ollama. Chat goes through
// its OpenAI-compatible endpoint so JSON mode and streaming behave the same
// as OpenAI; health checks use the native API.
type OllamaProvider struct {
	chat   chatClient
	native *api.Client
}

func NewOllamaProvider(config ProviderConfig) (*OllamaProvider, error) {
	if config.Endpoint == "" {
		config.Endpoint = defaultOllamaEndpoint
	}
	config.Endpoint = strings.TrimRight(config.Endpoint, "/")
	if config.DefaultModel == "" {
		config.DefaultModel = defaultOllamaModel
	}

	base, err := url.Parse(config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama endpoint %q: %w", config.Endpoint, err)
	}

	chat := newChatClient(string(ProviderTypeOllama), config.Endpoint+"/v1/chat/completions", config)
	return &OllamaProvider{
		chat:   chat,
		native: api.NewClient(base, &http.Client{Timeout: chat.defaults.Timeout}),
	}, nil
}

func (p *OllamaProvider) Name() string { return string(ProviderTypeOllama) }

func (p *OllamaProvider) StreamChat(ctx context.Context, messages []Message, options StreamOptions) (<-chan StreamResponse, error) {
	return p.chat.stream(ctx, messages, options)
}

// Ping requires the server to be up and the default model to be pulled.
func (p *OllamaProvider) Ping(ctx context.Context) error {
	if err := p.native.Heartbeat(ctx); err != nil {
		return fmt.Errorf("ollama unreachable: %w", err)
	}
	models, err := p.Models(ctx)
	if err != nil {
		return err
	}
	want := p.DefaultModel()
	for _, m := range models {
		if m == want || strings.TrimSuffix(m, ":latest") == want {
			return nil
		}
	}
	return fmt.Errorf("ollama model %s is not pulled", want)
}

// Models lists the models installed locally.
func (p *OllamaProvider) Models(ctx context.Context) ([]string, error) {
	resp, err := p.native.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list ollama models: %w", err)
	}
	names := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

func (p *OllamaProvider) DefaultModel() string { return p.chat.defaults.DefaultModel }
