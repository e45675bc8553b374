package constants

import (
	"os"
	"time"
)

// Timeouts
const (
	DefaultConnectTimeout  = 10 * time.Second
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultHealthTimeout   = 5 * time.Second

	// DefaultLLMTimeout bounds one chat completion round trip.
	DefaultLLMTimeout = 2 * time.Minute

	// DefaultSpeechTimeout matches the ElevenLabs client timeout.
	DefaultSpeechTimeout = 60 * time.Second

	// DefaultToolTimeout bounds a single MCP tool call, including process spawn for stdio.
	DefaultToolTimeout = 90 * time.Second

	DefaultEmbeddingTimeout = 30 * time.Second
	DefaultRetryDelay       = 1 * time.Second
)

// Sessions and websockets
const (
	// DefaultSessionIdleTimeout is how long an intake call may sit idle before it is reaped.
	DefaultSessionIdleTimeout = 30 * time.Minute

	DefaultSessionReapSchedule = "@every 1m"
	DefaultDigestSchedule      = "0 18 * * *"

	WebSocketPingInterval = 30 * time.Second
	WebSocketWriteTimeout = 10 * time.Second
	WebSocketBufferSize   = 1024
	WebSocketChannelSize  = 64

	// MaxRequestBodySize caps JSON bodies and WebSocket messages sent to the tool server.
	MaxRequestBodySize = 1 << 20
)

// Service defaults
const (
	DefaultMCPHost    = "0.0.0.0"
	DefaultMCPPort    = 8090
	DefaultHTTPHost   = "0.0.0.0"
	DefaultHTTPPort   = 8080
	DefaultConfigFile = "medic.yaml"

	DefaultGuidelinesDir = "data"
	DefaultAudioDir      = "recordings"

	DefaultRetryAttempts = 3
	DefaultTopK          = 4
	DefaultChunkSize     = 800
	DefaultChunkOverlap  = 120

	// DefaultRequestsPerSecond limits per-session intake API traffic.
	DefaultRequestsPerSecond = 2
	DefaultRequestBurst      = 5
)

// Model defaults
const (
	DefaultChatModel        = "gpt-4.1-mini"
	DefaultGuidelinesModel  = "gpt-4o-mini"
	DefaultEmbeddingModel   = "text-embedding-3-small"
	DefaultOllamaEmbedModel = "nomic-embed-text"
	DefaultSTTModel         = "scribe_v1"
	DefaultTTSModel         = "eleven_multilingual_v2"
	DefaultVoiceID          = "Rachel"
	DefaultSpeciality       = "general practitioner"
)

// File permissions
const (
	DefaultFileMode os.FileMode = 0644
	DefaultDirMode  os.FileMode = 0755
)

// Summary truncation
const (
	NotificationSummaryLimit = 200
	ReportPreviewLimit       = 120
)
