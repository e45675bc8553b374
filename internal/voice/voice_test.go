package voice

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"
)

func TestNewConfigDefaults(t *testing.T) {
	t.Setenv("VOICE_SAMPLE_RATE", "")
	t.Setenv("VOICE_SPEECH_TIMEOUT", "")

	config := NewConfig()
	if config.SampleRate != 16000 {
		t.Errorf("Expected default sample rate 16000, got %d", config.SampleRate)
	}
	if config.SilenceDuration != 1500*time.Millisecond {
		t.Errorf("Expected default silence 1.5s, got %v", config.SilenceDuration)
	}
	if config.MaxRecording != 30*time.Second {
		t.Errorf("Expected default max recording 30s, got %v", config.MaxRecording)
	}
}

func TestNewConfigFromEnvironment(t *testing.T) {
	t.Setenv("VOICE_SAMPLE_RATE", "44100")
	t.Setenv("VOICE_SPEECH_TIMEOUT", "0.5")
	t.Setenv("VOICE_MAX_RECORDING_SECONDS", "not-a-number")

	config := NewConfig()
	if config.SampleRate != 44100 {
		t.Errorf("SampleRate = %d, want 44100", config.SampleRate)
	}
	if config.SilenceDuration != 500*time.Millisecond {
		t.Errorf("SilenceDuration = %v, want 500ms", config.SilenceDuration)
	}
	if config.MaxRecording != 30*time.Second {
		t.Errorf("invalid max recording should fall back to 30s, got %v", config.MaxRecording)
	}
}

func TestEnergy(t *testing.T) {
	if Energy(nil) != 0 {
		t.Error("empty frame should have zero energy")
	}
	if got := Energy([]float32{0.5, -0.5}); got != 0.25 {
		t.Errorf("Energy() = %v, want 0.25", got)
	}
}

func TestEncodeWAV(t *testing.T) {
	var buf bytes.Buffer
	samples := []float32{0, 1, -1, 2, -2, 0.5}
	if err := EncodeWAV(&buf, samples, 16000); err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}

	data := buf.Bytes()
	if len(data) != 44+len(samples)*2 {
		t.Fatalf("encoded length = %d, want %d", len(data), 44+len(samples)*2)
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" || string(data[36:40]) != "data" {
		t.Errorf("unexpected chunk ids in header %q", data[:44])
	}
	if got := binary.LittleEndian.Uint32(data[4:8]); got != 36+12 {
		t.Errorf("ChunkSize = %d, want 48", got)
	}
	if got := binary.LittleEndian.Uint32(data[24:28]); got != 16000 {
		t.Errorf("SampleRate = %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint32(data[28:32]); got != 32000 {
		t.Errorf("ByteRate = %d, want 32000", got)
	}

	want := []int16{0, 32767, -32767, 32767, -32767, 16383}
	for i, w := range want {
		got := int16(binary.LittleEndian.Uint16(data[44+i*2:]))
		if got != w {
			t.Errorf("sample %d = %d, want %d", i, got, w)
		}
	}
}

func TestCheckSystem(t *testing.T) {
	if report := CheckSystem(); report == "" {
		t.Error("CheckSystem() returned empty report")
	}
}
