package host

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-listen/internal/protocol"
	"github.com/nats-io/nats.go"
)

// AudioSource delivers PCM frames to a recognition engine. Frames are
// delivered sequentially; the returned function stops delivery.
type AudioSource interface {
	Subscribe(fn func(protocol.AudioFrame)) (func() error, error)
}

// BusSource receives frames published on the audio subject of a recognizer.
type BusSource struct {
	conn    *nats.Conn
	subject string
	log     *slog.Logger
}

func NewBusSource(conn *nats.Conn, recognizerID string, log *slog.Logger) *BusSource {
	return &BusSource{
		conn:    conn,
		subject: protocol.AudioFrameSubject(recognizerID),
		log:     log,
	}
}

func (b *BusSource) Subscribe(fn func(protocol.AudioFrame)) (func() error, error) {
	sub, err := b.conn.Subscribe(b.subject, func(msg *nats.Msg) {
		var frame protocol.AudioFrame
		if err := json.Unmarshal(msg.Data, &frame); err != nil {
			b.log.Warn("failed to decode audio frame", slogError(err))
			return
		}
		fn(frame)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe audio frames: %w", err)
	}
	return sub.Unsubscribe, nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
