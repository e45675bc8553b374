package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSONObject is returned when a completion holds no JSON object.
var ErrNoJSONObject = errors.New("no JSON object in model output")

// Collect drains a stream into a single string.
func Collect(ch <-chan StreamResponse) (string, error) {
	var b strings.Builder
	for chunk := range ch {
		if chunk.Error != nil {
			return b.String(), chunk.Error
		}
		b.WriteString(chunk.Content)
		if chunk.Finished {
			break
		}
	}
	return strings.TrimSpace(b.String()), nil
}

// Complete runs a non-streaming completion with provider fallback.
func (m *Manager) Complete(ctx context.Context, messages []Message, options StreamOptions) (string, error) {
	ch, err := m.StreamChat(ctx, messages, options)
	if err != nil {
		return "", err
	}
	text, err := Collect(ch)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", fmt.Errorf("empty completion from %s", m.CurrentModel())
	}
	return text, nil
}

// CompleteJSON asks for a JSON object and decodes it into out.
func (m *Manager) CompleteJSON(ctx context.Context, messages []Message, options StreamOptions, out interface{}) error {
	options.JSONMode = true
	text, err := m.Complete(ctx, messages, options)
	if err != nil {
		return err
	}
	return DecodeJSONObject(text, out)
}

// DecodeJSONObject decodes the first JSON object found in text. Models that
// ignore JSON mode tend to wrap the object in prose or code fences.
func DecodeJSONObject(text string, out interface{}) error {
	raw, err := ExtractJSONObject(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("failed to decode model JSON: %w", err)
	}
	return nil
}

// ExtractJSONObject returns the first balanced {...} block in text.
func ExtractJSONObject(text string) (string, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", ErrNoJSONObject
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return "", ErrNoJSONObject
}
