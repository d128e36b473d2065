package stt

import (
	"context"
	"fmt"
)

type mockTranscriber struct{}

func NewMockTranscriber() Transcriber {
	return &mockTranscriber{}
}

func (m *mockTranscriber) Transcribe(_ context.Context, pcm []byte, _ int, _ int, _ string, final bool) (TranscriptResult, error) {
	mode := "partial"
	confidence := 0.5
	if final {
		mode = "final"
		confidence = 1
	}
	return TranscriptResult{
		Text:       fmt.Sprintf("[%s transcript length=%d]", mode, len(pcm)),
		Confidence: confidence,
	}, nil
}
