package kb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/ollama/ollama/envconfig"
	"golang.org/x/sync/errgroup"

	"github.com/phildougherty/medic/internal/constants"
)

// Embedder turns texts into vectors. The result has one vector per input,
// in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// OpenAIEmbedder calls the OpenAI embeddings endpoint in batches.
type OpenAIEmbedder struct {
	APIKey     string
	Endpoint   string
	Model      string
	BatchSize  int
	MaxRetries int
	client     *http.Client
}

func NewOpenAIEmbedder(apiKey, endpoint, model string) *OpenAIEmbedder {
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1"
	}
	if model == "" {
		model = constants.DefaultEmbeddingModel
	}
	return &OpenAIEmbedder{
		APIKey:     apiKey,
		Endpoint:   strings.TrimSuffix(endpoint, "/"),
		Model:      model,
		BatchSize:  64,
		MaxRetries: constants.DefaultRetryAttempts,
		client:     &http.Client{Timeout: constants.DefaultEmbeddingTimeout},
	}
}

type openAIEmbeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if e.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required for embeddings")
	}

	out := make([][]float64, 0, len(texts))
	batch := e.BatchSize
	if batch <= 0 {
		batch = len(texts)
	}
	for start := 0; start < len(texts); start += batch {
		end := start + batch
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := e.embedBatchWithRetry(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (e *OpenAIEmbedder) embedBatchWithRetry(ctx context.Context, texts []string) ([][]float64, error) {
	var lastErr error
	for attempt := 0; attempt <= e.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * constants.DefaultRetryDelay):
			}
		}

		vectors, retry, err := e.embedBatch(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return nil, fmt.Errorf("failed to create embeddings: %w", lastErr)
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float64, bool, error) {
	body, err := json.Marshal(openAIEmbeddingRequest{Model: e.Model, Input: texts})
	if err != nil {
		return nil, false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.Endpoint+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.APIKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}
	if resp.StatusCode != http.StatusOK {
		retry := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, retry, fmt.Errorf("embeddings request failed with status %d: %s", resp.StatusCode, string(data))
	}

	var parsed openAIEmbeddingResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, false, fmt.Errorf("failed to decode embeddings response: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, false, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(parsed.Data))
	}

	sort.Slice(parsed.Data, func(i, j int) bool { return parsed.Data[i].Index < parsed.Data[j].Index })
	vectors := make([][]float64, len(parsed.Data))
	for i, d := range parsed.Data {
		vectors[i] = d.Embedding
	}
	return vectors, false, nil
}

// OllamaEmbedder generates embeddings through a local Ollama server, one
// request per text with bounded concurrency.
type OllamaEmbedder struct {
	Client        *api.Client
	Model         string
	MaxRetries    int
	Timeout       time.Duration
	MaxConcurrent int
}

// NewOllamaEmbedder connects to host, or to OLLAMA_HOST when host is empty.
func NewOllamaEmbedder(host, model string) (*OllamaEmbedder, error) {
	hostURL := envconfig.Host()
	if host != "" {
		parsed, err := url.Parse(host)
		if err != nil {
			return nil, fmt.Errorf("invalid ollama host %q: %w", host, err)
		}
		hostURL = parsed
	}
	if model == "" {
		model = constants.DefaultOllamaEmbedModel
	}

	return &OllamaEmbedder{
		Client:        api.NewClient(hostURL, http.DefaultClient),
		Model:         model,
		MaxRetries:    constants.DefaultRetryAttempts,
		Timeout:       constants.DefaultEmbeddingTimeout,
		MaxConcurrent: 3,
	}, nil
}

func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	limit := e.MaxConcurrent
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)

	for i := range texts {
		i := i
		g.Go(func() error {
			vec, err := e.embedText(gctx, texts[i])
			if err != nil {
				return fmt.Errorf("failed to embed chunk %d: %w", i, err)
			}
			out[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *OllamaEmbedder) embedText(ctx context.Context, text string) ([]float64, error) {
	var err error
	for retries := 0; retries <= e.MaxRetries; retries++ {
		if retries > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(retries) * constants.DefaultRetryDelay):
			}
		}

		var embedding []float64
		embedding, err = e.createEmbedding(ctx, text)
		if err == nil {
			return embedding, nil
		}
	}
	return nil, fmt.Errorf("failed to create embedding after %d retries: %w", e.MaxRetries, err)
}

func (e *OllamaEmbedder) createEmbedding(ctx context.Context, text string) ([]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	resp, err := e.Client.Embeddings(ctx, &api.EmbeddingRequest{
		Model:  e.Model,
		Prompt: text,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("ollama returned an empty embedding")
	}
	return resp.Embedding, nil
}
