//go:build voice

package voice

import (
	"fmt"
	"os/exec"
	"strings"
)

// CheckSystem reports whether capture and playback dependencies are present.
func CheckSystem() string {
	var report strings.Builder
	cfg := NewConfig()

	report.WriteString("Voice System Check\n")
	report.WriteString("==================\n\n")
	report.WriteString("Microphone:\n")
	report.WriteString(fmt.Sprintf("  VOICE_SAMPLE_RATE: %d\n", cfg.SampleRate))
	report.WriteString(fmt.Sprintf("  VOICE_ENERGY_THRESHOLD: %d\n", cfg.EnergyThreshold))
	report.WriteString(fmt.Sprintf("  VOICE_SPEECH_TIMEOUT: %s\n", cfg.SilenceDuration))
	report.WriteString("\nAudio Playback:\n")

	found := false
	for _, player := range []string{"mpg123", "ffplay", "aplay"} {
		if _, err := exec.LookPath(player); err == nil {
			report.WriteString(fmt.Sprintf("  %s: Available\n", player))
			found = true
		} else {
			report.WriteString(fmt.Sprintf("  %s: Not found\n", player))
		}
	}
	if !found {
		report.WriteString("  Install one with: apt install mpg123 (Linux) or brew install mpg123 (macOS)\n")
	}
	return report.String()
}
