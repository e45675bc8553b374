//go:build !voice

package voice

import "context"

// Recorder is unavailable without the voice build tag.
type Recorder struct{}

func NewRecorder(config *Config) (*Recorder, error) {
	return nil, ErrNotCompiled
}

func (r *Recorder) Close() error {
	return nil
}

func (r *Recorder) Record(ctx context.Context) ([]float32, error) {
	return nil, ErrNotCompiled
}

func (r *Recorder) SampleRate() int {
	return 0
}

func PlayAudio(ctx context.Context, audio []byte) error {
	return ErrNotCompiled
}
