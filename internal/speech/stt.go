package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/language"
)

// ElevenLabs expects ISO 639-3 codes.
var languageMap = map[string]string{
	"en": "eng",
	"fr": "fra",
	"es": "spa",
	"ar": "ara",
}

// LanguageCode converts a two-letter code to the three-letter form
// ElevenLabs uses. An empty result means auto-detect.
func LanguageCode(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "" || lang == "auto" {
		return ""
	}
	if code, ok := languageMap[lang]; ok {
		return code
	}

	tag, err := language.Parse(lang)
	if err != nil {
		return ""
	}
	base, confidence := tag.Base()
	if confidence == language.No {
		return ""
	}
	return base.ISO3()
}

type transcription struct {
	Text         string  `json:"text"`
	LanguageCode string  `json:"language_code,omitempty"`
	Probability  float64 `json:"language_probability,omitempty"`
}

// Transcribe converts recorded audio to text. lang may be empty to use the
// client default; "auto" lets ElevenLabs detect it.
func (c *Client) Transcribe(ctx context.Context, audio io.Reader, filename, lang string) (text string, err error) {
	start := time.Now()
	defer func() { c.observe("stt", start, err) }()

	if c.apiKey == "" {
		return "", ErrMissingAPIKey
	}
	if lang == "" {
		lang = c.language
	}
	if filename == "" {
		filename = "audio.wav"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return "", fmt.Errorf("failed to read audio: %w", err)
	}
	fields := map[string]string{
		"model_id":         c.sttModel,
		"diarize":          "false",
		"tag_audio_events": "false",
	}
	if code := LanguageCode(lang); code != "" {
		fields["language_code"] = code
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return "", fmt.Errorf("failed to write form field %s: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to finish multipart body: %w", err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/speech-to-text", &body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("xi-api-key", c.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("speech-to-text request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read speech-to-text response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("speech-to-text failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var result transcription
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("unexpected speech-to-text response: %w", err)
	}
	return strings.TrimSpace(result.Text), nil
}
