package speech

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/phildougherty/medic/internal/config"
	"github.com/phildougherty/medic/internal/metrics"
)

func TestLanguageCode(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"en", "eng"},
		{"FR", "fra"},
		{"es", "spa"},
		{"ar", "ara"},
		{"de", "deu"},
		{"it", "ita"},
		{"", ""},
		{"auto", ""},
		{"not a language", ""},
	}

	for _, tt := range tests {
		if got := LanguageCode(tt.input); got != tt.want {
			t.Errorf("LanguageCode(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestCleanText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "Hello, how are you feeling?", "Hello, how are you feeling?"},
		{"bold and headings", "## Advice\n**Go to the ED** now.", "Advice\nGo to the emergency department now."},
		{"links and code", "See [the guide](http://x) and `rest`.", "See the guide and rest."},
		{"list markers", "- drink water\n- rest\n1. call your GP", "drink water\nrest\ncall your general practitioner"},
		{"abbreviation with punctuation", "Rest, e.g. sleep, and come back asap.", "Rest, for example sleep, and come back as soon as possible."},
		{"only markup", "```\n```", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanText(tt.input))
		})
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *metrics.Collector) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	collector := metrics.NewCollector("test")
	return NewClient(config.SpeechConfig{APIKey: "xi-test", BaseURL: ts.URL, Language: "en"}, 5*time.Second, collector), collector
}

func TestClient_Transcribe(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/speech-to-text", r.URL.Path)
		assert.Equal(t, "xi-test", r.Header.Get("xi-api-key"))
		require.NoError(t, r.ParseMultipartForm(1<<20))

		assert.Equal(t, "scribe_v1", r.FormValue("model_id"))
		assert.Equal(t, "false", r.FormValue("diarize"))
		assert.Equal(t, "false", r.FormValue("tag_audio_events"))
		assert.Equal(t, "eng", r.FormValue("language_code"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		data, _ := io.ReadAll(file)
		assert.Equal(t, "call.webm", header.Filename)
		assert.Equal(t, "RIFFdata", string(data))

		json.NewEncoder(w).Encode(map[string]interface{}{"text": "  I have a sore throat.  ", "language_code": "eng"})
	})

	text, err := c.Transcribe(context.Background(), strings.NewReader("RIFFdata"), "/tmp/call.webm", "")
	require.NoError(t, err)
	assert.Equal(t, "I have a sore throat.", text)
}

func TestClient_TranscribeAutoLanguage(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		_, present := r.MultipartForm.Value["language_code"]
		assert.False(t, present)
		w.Write([]byte(`{"text":""}`))
	})

	text, err := c.Transcribe(context.Background(), strings.NewReader("x"), "", "auto")
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestClient_TranscribeErrors(t *testing.T) {
	c, collector := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"invalid api key"}`, http.StatusUnauthorized)
	})

	_, err := c.Transcribe(context.Background(), strings.NewReader("x"), "a.wav", "en")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")

	families, err := collector.Registry().Gather()
	require.NoError(t, err)
	var recorded bool
	for _, mf := range families {
		if mf.GetName() == "test_speech_requests_total" {
			recorded = true
			assert.Equal(t, "error", mf.GetMetric()[0].GetLabel()[1].GetValue())
		}
	}
	assert.True(t, recorded, "speech request should be counted")

	noKey := NewClient(config.SpeechConfig{}, 0, nil)
	assert.False(t, noKey.Configured())
	_, err = noKey.Transcribe(context.Background(), strings.NewReader("x"), "a.wav", "en")
	assert.True(t, errors.Is(err, ErrMissingAPIKey))
}

func TestClient_Synthesize(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/text-to-speech/Rachel", r.URL.Path)
		assert.Equal(t, "audio/mpeg", r.Header.Get("Accept"))
		assert.Equal(t, "xi-test", r.Header.Get("xi-api-key"))

		var req ttsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Please rest and drink water.", req.Text)
		assert.Equal(t, "eleven_multilingual_v2", req.ModelID)
		assert.Equal(t, 0.5, req.VoiceSettings.Stability)
		assert.Equal(t, 0.8, req.VoiceSettings.SimilarityBoost)

		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("ID3mp3"))
	})

	audio, err := c.Synthesize(context.Background(), "**Please** rest and drink water.")
	require.NoError(t, err)
	assert.Equal(t, []byte("ID3mp3"), audio)

	audio, err = c.Synthesize(context.Background(), "   ")
	require.NoError(t, err)
	assert.Nil(t, audio)
}

func TestClient_SynthesizeError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	})

	_, err := c.Synthesize(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")

	_, err = NewClient(config.SpeechConfig{}, 0, nil).Synthesize(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestClient_RateLimitHonoursContext(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("mp3"))
	})
	c.limiter = rate.NewLimiter(rate.Every(time.Hour), 1)
	require.True(t, c.limiter.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Synthesize(ctx, "hello")
	assert.Error(t, err)
}
