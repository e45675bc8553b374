package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/phildougherty/medic/internal/constants"
)

// chatClient speaks the OpenAI chat completions wire format. OpenAI serves it
// at /chat/completions and Ollama at /v1/chat/completions.
type chatClient struct {
	provider string
	url      string
	apiKey   string
	defaults ProviderConfig
	http     *http.Client
}

func newChatClient(provider, url string, config ProviderConfig) chatClient {
	if config.MaxTokens == 0 {
		config.MaxTokens = 1024
	}
	// Triage conversations should be steady rather than creative.
	if config.Temperature == 0 {
		config.Temperature = 0.3
	}
	if config.Timeout == 0 {
		config.Timeout = constants.DefaultLLMTimeout
	}
	return chatClient{
		provider: provider,
		url:      url,
		apiKey:   config.APIKey,
		defaults: config,
		http:     &http.Client{Timeout: config.Timeout},
	}
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []Message         `json:"messages"`
	MaxTokens      int               `json:"max_tokens"`
	Temperature    float64           `json:"temperature"`
	Stream         bool              `json:"stream"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

func (c chatClient) request(messages []Message, options StreamOptions) chatRequest {
	req := chatRequest{
		Model:       options.Model,
		Messages:    messages,
		MaxTokens:   options.MaxTokens,
		Temperature: options.Temperature,
		Stream:      true,
	}
	if req.Model == "" {
		req.Model = c.defaults.DefaultModel
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = c.defaults.MaxTokens
	}
	if req.Temperature == 0 {
		req.Temperature = c.defaults.Temperature
	}
	if options.JSONMode {
		req.ResponseFormat = map[string]string{"type": "json_object"}
	}
	return req
}

// stream posts the request and returns the decoded chunks. Transport and
// HTTP failures arrive as a single error chunk so callers read one channel.
func (c chatClient) stream(ctx context.Context, messages []Message, options StreamOptions) (<-chan StreamResponse, error) {
	body, err := json.Marshal(c.request(messages, options))
	if err != nil {
		return nil, NewProviderError(c.provider, "failed to marshal request", "marshal_error")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, NewProviderError(c.provider, "failed to create request", "request_error")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	out := make(chan StreamResponse, 10)
	go func() {
		defer close(out)

		resp, err := c.http.Do(req)
		if err != nil {
			out <- StreamResponse{Error: NewProviderError(c.provider, "request failed: "+err.Error(), "request_failed")}
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			out <- StreamResponse{Error: NewProviderError(c.provider,
				fmt.Sprintf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "http_error")}
			return
		}

		readChatStream(resp.Body, c.provider, out)
	}()
	return out, nil
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// readChatStream decodes server-sent "data:" lines until [DONE], a finish
// reason, or EOF. Lines that are not valid chunks are skipped.
func readChatStream(r io.Reader, provider string, out chan<- StreamResponse) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		if data == "[DONE]" {
			out <- StreamResponse{Finished: true}
			return
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil || len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			out <- StreamResponse{Content: choice.Delta.Content}
		}
		if choice.FinishReason != nil {
			out <- StreamResponse{Finished: true}
			return
		}
	}

	if err := scanner.Err(); err != nil {
		out <- StreamResponse{Error: NewProviderError(provider, "stream read error: "+err.Error(), "stream_error")}
	}
}
