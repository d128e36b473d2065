package host

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-listen/internal/config"
	"github.com/loqalabs/loqa-listen/internal/recognizer"
	"github.com/loqalabs/loqa-listen/internal/stt"
	"github.com/nats-io/nats.go"
)

// Deps are the shared resources host sessions are built from.
type Deps struct {
	Conn        *nats.Conn
	Transcriber stt.Transcriber
	STT         config.STTConfig
	Logger      *slog.Logger
}

// NewFactory resolves the session factory for one recognizer. A nil factory
// means the configured host cannot recognize speech in this process.
func NewFactory(ctx context.Context, rc config.RecognizerConfig, deps Deps) (recognizer.SessionFactory, error) {
	log := deps.Logger.With(slog.String("recognizer", rc.ID))
	switch rc.Mode {
	case "none":
		return nil, nil
	case "remote":
		return NewRemoteFactory(deps.Conn, rc.ID, time.Duration(rc.ProbeTimeoutMS)*time.Millisecond, log), nil
	case "engine":
		if deps.Transcriber == nil {
			return nil, nil
		}
		var source AudioSource
		switch rc.Source {
		case "bus":
			if deps.Conn == nil {
				return nil, nil
			}
			source = NewBusSource(deps.Conn, rc.ID, log)
		case "microphone":
			if !MicrophoneAvailable() {
				return nil, nil
			}
			source = NewMicrophoneSource(deps.STT.SampleRate, deps.STT.Channels, deps.STT.FrameDurationMS, log)
		default:
			return nil, fmt.Errorf("unknown audio source %q", rc.Source)
		}
		return func() (recognizer.Session, error) {
			return NewEngineSession(ctx, source, deps.Transcriber, deps.STT, log), nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown recognizer mode %q", rc.Mode)
	}
}
