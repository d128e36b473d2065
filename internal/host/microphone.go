//go:build portaudio
// +build portaudio

package host

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/gordonklaus/portaudio"
	"github.com/loqalabs/loqa-listen/internal/protocol"
)

// MicrophoneAvailable reports whether this build can capture local audio.
func MicrophoneAvailable() bool { return true }

// MicrophoneSource captures the default input device. A run of silent
// frames after speech closes the utterance with a final frame.
type MicrophoneSource struct {
	sampleRate      int
	channels        int
	framesPerBuffer int
	silenceFrames   int
	threshold       int16
	logger          *slog.Logger
}

func NewMicrophoneSource(sampleRate, channels, frameDurationMS int, logger *slog.Logger) *MicrophoneSource {
	framesPerBuffer := sampleRate * frameDurationMS / 1000
	if framesPerBuffer <= 0 {
		framesPerBuffer = 1024
	}
	return &MicrophoneSource{
		sampleRate:      sampleRate,
		channels:        channels,
		framesPerBuffer: framesPerBuffer,
		silenceFrames:   sampleRate / framesPerBuffer,
		threshold:       500,
		logger:          logger,
	}
}

func (m *MicrophoneSource) Subscribe(fn func(protocol.AudioFrame)) (func() error, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initializing portaudio: %w", err)
	}

	buffer := make([]int16, m.framesPerBuffer*m.channels)
	stream, err := portaudio.OpenDefaultStream(m.channels, 0, float64(m.sampleRate), m.framesPerBuffer, buffer)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("opening stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("starting stream: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	go m.capture(ctx, stream, buffer, fn)
	m.logger.Info("microphone started", slog.Int("sample_rate", m.sampleRate))

	// Stopping only signals the capture loop, which may be the caller.
	return func() error {
		cancel()
		return nil
	}, nil
}

func (m *MicrophoneSource) capture(ctx context.Context, stream *portaudio.Stream, buffer []int16, fn func(protocol.AudioFrame)) {
	defer func() {
		stream.Stop()
		stream.Close()
		portaudio.Terminate()
		m.logger.Info("microphone stopped")
	}()

	sequence := 0
	silent := 0
	voiced := false
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := stream.Read(); err != nil {
			m.logger.Warn("reading from microphone failed", slog.String("error", err.Error()))
			return
		}

		loud := false
		for _, sample := range buffer {
			if sample > m.threshold || sample < -m.threshold {
				loud = true
				break
			}
		}
		if loud {
			voiced = true
			silent = 0
		} else {
			silent++
		}
		if !voiced {
			continue
		}

		final := silent >= m.silenceFrames
		fn(protocol.AudioFrame{
			Sequence:   sequence,
			SampleRate: m.sampleRate,
			Channels:   m.channels,
			PCM:        samplesToPCM(buffer),
			Final:      final,
		})
		sequence++
		if final {
			voiced = false
			silent = 0
		}
	}
}

func samplesToPCM(samples []int16) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(sample))
	}
	return pcm
}
