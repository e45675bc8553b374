// Package speech wraps the ElevenLabs speech-to-text and text-to-speech APIs.
package speech

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/phildougherty/medic/internal/config"
	"github.com/phildougherty/medic/internal/constants"
	"github.com/phildougherty/medic/internal/metrics"
)

const defaultBaseURL = "https://api.elevenlabs.io"

// ErrMissingAPIKey is returned at call time when no key is configured.
var ErrMissingAPIKey = errors.New("missing ELEVENLABS_API_KEY or ELEVEN_API_KEY in environment")

// Client talks to ElevenLabs. Both directions share one rate limiter.
type Client struct {
	apiKey     string
	baseURL    string
	voiceID    string
	sttModel   string
	ttsModel   string
	language   string
	httpClient *http.Client
	limiter    *rate.Limiter
	metrics    *metrics.Collector
}

func NewClient(cfg config.SpeechConfig, timeout time.Duration, collector *metrics.Collector) *Client {
	if timeout <= 0 {
		timeout = constants.DefaultSpeechTimeout
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}

	c := &Client{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		voiceID:    firstNonEmpty(cfg.VoiceID, constants.DefaultVoiceID),
		sttModel:   firstNonEmpty(cfg.STTModel, constants.DefaultSTTModel),
		ttsModel:   firstNonEmpty(cfg.TTSModel, constants.DefaultTTSModel),
		language:   firstNonEmpty(cfg.Language, "en"),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		metrics:    collector,
	}
	return c
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

func (c *Client) observe(kind string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordSpeechRequest(kind, status, time.Since(start))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
