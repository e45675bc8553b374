package constants

import (
	"testing"
	"time"

	"github.com/robfig/cron/v3"
)

func TestTimeoutConstants(t *testing.T) {
	// Test that timeout constants are positive durations
	timeouts := map[string]time.Duration{
		"DefaultConnectTimeout":     DefaultConnectTimeout,
		"DefaultReadTimeout":        DefaultReadTimeout,
		"DefaultWriteTimeout":       DefaultWriteTimeout,
		"DefaultIdleTimeout":        DefaultIdleTimeout,
		"DefaultShutdownTimeout":    DefaultShutdownTimeout,
		"DefaultHealthTimeout":      DefaultHealthTimeout,
		"DefaultLLMTimeout":         DefaultLLMTimeout,
		"DefaultSpeechTimeout":      DefaultSpeechTimeout,
		"DefaultToolTimeout":        DefaultToolTimeout,
		"DefaultEmbeddingTimeout":   DefaultEmbeddingTimeout,
		"DefaultRetryDelay":         DefaultRetryDelay,
		"DefaultSessionIdleTimeout": DefaultSessionIdleTimeout,
		"WebSocketPingInterval":     WebSocketPingInterval,
		"WebSocketWriteTimeout":     WebSocketWriteTimeout,
	}

	for name, timeout := range timeouts {
		if timeout <= 0 {
			t.Errorf("Timeout constant %s should be positive, got %v", name, timeout)
		}
	}
}

func TestSizeConstants(t *testing.T) {
	sizes := map[string]int{
		"WebSocketBufferSize":      WebSocketBufferSize,
		"WebSocketChannelSize":     WebSocketChannelSize,
		"MaxRequestBodySize":       MaxRequestBodySize,
		"DefaultTopK":              DefaultTopK,
		"DefaultChunkSize":         DefaultChunkSize,
		"NotificationSummaryLimit": NotificationSummaryLimit,
		"DefaultRetryAttempts":     DefaultRetryAttempts,
	}

	for name, size := range sizes {
		if size <= 0 {
			t.Errorf("Size constant %s should be positive, got %d", name, size)
		}
	}

	if DefaultChunkOverlap >= DefaultChunkSize {
		t.Errorf("chunk overlap %d must be smaller than chunk size %d", DefaultChunkOverlap, DefaultChunkSize)
	}
}

func TestScheduleConstantsParse(t *testing.T) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for _, spec := range []string{DefaultSessionReapSchedule, DefaultDigestSchedule} {
		if _, err := parser.Parse(spec); err != nil {
			t.Errorf("schedule %q does not parse: %v", spec, err)
		}
	}
}

func TestFilePermissionConstants(t *testing.T) {
	if DefaultFileMode != 0644 {
		t.Errorf("DefaultFileMode = %o, want 0644", DefaultFileMode)
	}
	if DefaultDirMode != 0755 {
		t.Errorf("DefaultDirMode = %o, want 0755", DefaultDirMode)
	}
}
