// Package audiostore keeps patient recordings and synthesized replies so the
// browser can fetch them by key.
package audiostore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/phildougherty/medic/internal/config"
)

// ErrNotFound is returned when no object exists for a key.
var ErrNotFound = errors.New("audio not found")

// ErrInvalidKey is returned for keys that could escape the store.
var ErrInvalidKey = errors.New("invalid audio key")

type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

var validKey = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// NewKey returns a fresh key for a session's audio. ext includes the dot.
func NewKey(sessionID, ext string) string {
	ext = nonSafe.ReplaceAllString(strings.ToLower(ext), "")
	if ext == "" {
		ext = "bin"
	}
	return fmt.Sprintf("%s-%s.%s", sanitize(sessionID), uuid.NewString(), ext)
}

// ValidateKey rejects empty keys and anything containing a path separator or "..".
func ValidateKey(key string) error {
	if !validKey.MatchString(key) || strings.Contains(key, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

var (
	nonSafe   = regexp.MustCompile(`[^a-z0-9]+`)
	nonSafeID = regexp.MustCompile(`[^a-z0-9_-]+`)
)

func sanitize(name string) string {
	name = nonSafeID.ReplaceAllString(strings.ToLower(name), "-")
	name = strings.Trim(name, "-_")
	if name == "" {
		return "audio"
	}
	return name
}

// ContentType guesses the MIME type from the key's extension.
func ContentType(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".webm":
		return "audio/webm"
	case ".ogg", ".oga":
		return "audio/ogg"
	case ".m4a":
		return "audio/mp4"
	default:
		return "application/octet-stream"
	}
}

// New builds the store selected by cfg.Backend ("local" or "minio"). The
// "none" backend returns a nil Store and audio is not kept.
func New(ctx context.Context, cfg config.AudioStorageConfig) (Store, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocalStore(cfg.Dir)
	case "none":
		return nil, nil
	case "minio":
		return NewMinIOStore(ctx, cfg.Endpoint, cfg.AccessKey, cfg.SecretKey, cfg.Bucket, cfg.UseSSL)
	default:
		return nil, fmt.Errorf("unsupported audio backend %q", cfg.Backend)
	}
}
