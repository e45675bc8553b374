//go:build voice

package voice

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

// Recorder captures one utterance at a time from the default input device.
type Recorder struct {
	config *Config
	mu     sync.Mutex
}

// NewRecorder initializes PortAudio. Call Close when done.
func NewRecorder(config *Config) (*Recorder, error) {
	if config == nil {
		config = NewConfig()
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return &Recorder{config: config}, nil
}

func (r *Recorder) Close() error {
	return portaudio.Terminate()
}

// Record captures until the speaker goes quiet after talking, the maximum
// duration passes or ctx is cancelled.
func (r *Recorder) Record(ctx context.Context) ([]float32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inputDevice, err := portaudio.DefaultInputDevice()
	if err != nil {
		return nil, fmt.Errorf("failed to get input device: %w", err)
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   inputDevice,
			Channels: 1,
			Latency:  inputDevice.DefaultLowInputLatency,
		},
		SampleRate:      float64(r.config.SampleRate),
		FramesPerBuffer: r.config.FrameLength,
	}

	var (
		bufMu          sync.Mutex
		audio          []float32
		lastSpeech     = time.Now()
		speechDetected bool
	)
	threshold := r.config.silenceThreshold()

	stream, err := portaudio.OpenStream(params, func(in []float32) {
		bufMu.Lock()
		defer bufMu.Unlock()
		audio = append(audio, in...)
		if Energy(in) > threshold {
			lastSpeech = time.Now()
			speechDetected = true
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open recording stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return nil, fmt.Errorf("failed to start recording: %w", err)
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	start := time.Now()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			bufMu.Lock()
			quiet := speechDetected && time.Since(lastSpeech) > r.config.SilenceDuration
			bufMu.Unlock()
			if quiet || time.Since(start) > r.config.MaxRecording {
				break loop
			}
		}
	}

	if err := stream.Stop(); err != nil {
		return nil, fmt.Errorf("failed to stop recording: %w", err)
	}

	bufMu.Lock()
	defer bufMu.Unlock()
	result := make([]float32, len(audio))
	copy(result, audio)
	return result, nil
}

// SampleRate is the rate the recorder captures at.
func (r *Recorder) SampleRate() int {
	return r.config.SampleRate
}

// PlayAudio plays MP3 data through the first available command line player.
func PlayAudio(ctx context.Context, audio []byte) error {
	if len(audio) == 0 {
		return nil
	}
	tempFile := filepath.Join(os.TempDir(), fmt.Sprintf("medic_tts_%d.mp3", time.Now().UnixNano()))
	if err := os.WriteFile(tempFile, audio, 0600); err != nil {
		return fmt.Errorf("failed to write audio file: %w", err)
	}
	defer os.Remove(tempFile)

	for _, player := range players(tempFile) {
		cmd := exec.CommandContext(ctx, player[0], player[1:]...)
		if err := cmd.Run(); err == nil {
			return nil
		}
	}
	return fmt.Errorf("no suitable audio player found")
}

func players(file string) [][]string {
	return [][]string{
		{"mpg123", "-q", file},
		{"ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet", file},
		{"aplay", file},
	}
}
