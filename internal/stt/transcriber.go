package stt

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-listen/internal/config"
)

// TranscriptResult captures transcriber output.
type TranscriptResult struct {
	Text       string
	Confidence float64
}

// Transcriber abstracts STT backends. final is false for provisional passes
// over an utterance that is still being captured.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int, channels int, language string, final bool) (TranscriptResult, error)
}

// New builds the transcriber selected by cfg.Mode.
func New(cfg config.STTConfig) (Transcriber, error) {
	switch cfg.Mode {
	case "", "mock":
		return NewMockTranscriber(), nil
	case "exec":
		return NewExecTranscriber(cfg)
	default:
		return nil, fmt.Errorf("unknown stt mode %q", cfg.Mode)
	}
}
