// Package voice records the patient's microphone and plays synthesized
// replies in the terminal chat. Capture needs PortAudio and is only compiled
// with -tags voice; WAV encoding and configuration are always available.
package voice

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

// ErrNotCompiled is returned by capture and playback in builds without the voice tag.
var ErrNotCompiled = errors.New("voice features not compiled in - build with -tags voice")

// Config holds microphone settings. Values come from VOICE_* environment variables.
type Config struct {
	SampleRate      int
	FrameLength     int
	EnergyThreshold int
	SilenceDuration time.Duration
	MaxRecording    time.Duration
}

// NewConfig creates voice configuration from environment variables
func NewConfig() *Config {
	sampleRate, _ := strconv.Atoi(getEnvDefault("VOICE_SAMPLE_RATE", "16000"))
	frameLength, _ := strconv.Atoi(getEnvDefault("VOICE_FRAME_LENGTH", "1024"))
	energyThreshold, _ := strconv.Atoi(getEnvDefault("VOICE_ENERGY_THRESHOLD", "100"))
	silence, _ := strconv.ParseFloat(getEnvDefault("VOICE_SPEECH_TIMEOUT", "1.5"), 64)
	maxRecording, _ := strconv.Atoi(getEnvDefault("VOICE_MAX_RECORDING_SECONDS", "30"))

	cfg := &Config{
		SampleRate:      sampleRate,
		FrameLength:     frameLength,
		EnergyThreshold: energyThreshold,
		SilenceDuration: time.Duration(silence * float64(time.Second)),
		MaxRecording:    time.Duration(maxRecording) * time.Second,
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.FrameLength <= 0 {
		cfg.FrameLength = 1024
	}
	if cfg.SilenceDuration <= 0 {
		cfg.SilenceDuration = 1500 * time.Millisecond
	}
	if cfg.MaxRecording <= 0 {
		cfg.MaxRecording = 30 * time.Second
	}
	return cfg
}

// silenceThreshold is the mean-square energy below which a frame counts as silence.
func (c *Config) silenceThreshold() float32 {
	return float32(c.EnergyThreshold) * 0.1 / 1000
}

// Energy is the mean square of a frame, used for voice activity detection.
func Energy(samples []float32) float32 {
	if len(samples) == 0 {
		return 0
	}
	var sum float32
	for _, s := range samples {
		sum += s * s
	}
	return sum / float32(len(samples))
}

// EncodeWAV writes mono float samples as a 16-bit PCM WAV stream.
func EncodeWAV(w io.Writer, samples []float32, sampleRate int) error {
	const (
		numChannels   = 1
		bitsPerSample = 16
	)
	dataSize := uint32(len(samples)) * bitsPerSample / 8

	header := struct {
		ChunkID       [4]byte
		ChunkSize     uint32
		Format        [4]byte
		Subchunk1ID   [4]byte
		Subchunk1Size uint32
		AudioFormat   uint16
		NumChannels   uint16
		SampleRate    uint32
		ByteRate      uint32
		BlockAlign    uint16
		BitsPerSample uint16
		Subchunk2ID   [4]byte
		Subchunk2Size uint32
	}{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * numChannels * bitsPerSample / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("failed to write WAV header: %w", err)
	}

	pcm := make([]int16, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		pcm[i] = int16(s * 32767)
	}
	if err := binary.Write(w, binary.LittleEndian, pcm); err != nil {
		return fmt.Errorf("failed to write WAV samples: %w", err)
	}
	return nil
}

func getEnvDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
