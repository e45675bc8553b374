package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/phildougherty/medic/internal/constants"
)

const defaultOpenAIEndpoint = "https://api.openai.com/v1"

// OpenAIProvider runs the nurse conversation, profile extraction and
// guidelines answers against the OpenAI API.
type OpenAIProvider struct {
	chat     chatClient
	endpoint string
}

func NewOpenAIProvider(config ProviderConfig) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	if config.Endpoint == "" {
		config.Endpoint = defaultOpenAIEndpoint
	}
	config.Endpoint = strings.TrimRight(config.Endpoint, "/")
	if config.DefaultModel == "" {
		config.DefaultModel = constants.DefaultChatModel
	}

	return &OpenAIProvider{
		chat:     newChatClient(string(ProviderTypeOpenAI), config.Endpoint+"/chat/completions", config),
		endpoint: config.Endpoint,
	}, nil
}

func (p *OpenAIProvider) Name() string { return string(ProviderTypeOpenAI) }

func (p *OpenAIProvider) StreamChat(ctx context.Context, messages []Message, options StreamOptions) (<-chan StreamResponse, error) {
	return p.chat.stream(ctx, messages, options)
}

// Ping lists models, which checks both reachability and the key.
func (p *OpenAIProvider) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.chat.apiKey)

	resp, err := p.chat.http.Do(req)
	if err != nil {
		return fmt.Errorf("openai unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("openai returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func (p *OpenAIProvider) DefaultModel() string { return p.chat.defaults.DefaultModel }
