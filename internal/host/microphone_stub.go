//go:build !portaudio
// +build !portaudio

package host

import (
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-listen/internal/protocol"
)

// MicrophoneAvailable reports whether this build can capture local audio.
func MicrophoneAvailable() bool { return false }

// MicrophoneSource stub when portaudio is not available
type MicrophoneSource struct {
	logger *slog.Logger
}

func NewMicrophoneSource(_, _, _ int, logger *slog.Logger) *MicrophoneSource {
	return &MicrophoneSource{logger: logger}
}

func (m *MicrophoneSource) Subscribe(func(protocol.AudioFrame)) (func() error, error) {
	return nil, fmt.Errorf("microphone source not available: rebuild with -tags portaudio")
}
