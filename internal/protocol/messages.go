package protocol

import (
	"time"

	"github.com/loqalabs/loqa-listen/internal/recognizer"
	"github.com/loqalabs/loqa-listen/internal/transcript"
)

// AudioFrame represents PCM audio data streamed from edge devices.
type AudioFrame struct {
	SessionID  string `json:"session_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// RecognizerEvent is a lifecycle event relayed by a recognizer.
type RecognizerEvent struct {
	RecognizerID string                `json:"recognizer_id"`
	SessionID    string                `json:"session_id,omitempty"`
	Type         recognizer.EventType  `json:"type"`
	Listening    bool                  `json:"listening"`
	Fragments    []transcript.Fragment `json:"fragments,omitempty"`
	Error        string                `json:"error,omitempty"`
	Message      string                `json:"message,omitempty"`
	Timestamp    time.Time             `json:"timestamp"`
}

// Transcript is the reduced display text of the latest result event.
type Transcript struct {
	RecognizerID string    `json:"recognizer_id"`
	SessionID    string    `json:"session_id,omitempty"`
	Text         string    `json:"text"`
	Partial      bool      `json:"partial"`
	Confidence   float64   `json:"confidence,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// ToggleResponse answers a toggle request on the bus.
type ToggleResponse struct {
	RecognizerID string `json:"recognizer_id"`
	Listening    bool   `json:"listening"`
	Error        string `json:"error,omitempty"`
}

// HostControl is sent to a remote recognition host.
type HostControl struct {
	Action  string             `json:"action"`
	Options recognizer.Options `json:"options"`
}

// HostProbe answers a capability probe from a remote host.
type HostProbe struct {
	Supported bool   `json:"supported"`
	Engine    string `json:"engine,omitempty"`
}

const (
	HostActionStart = "start"
	HostActionStop  = "stop"
	HostActionClose = "close"
)

const (
	SubjectAudioFramePrefix = "audio.frame"
	SubjectRecognizerPrefix = "speech.recognizer"
	SubjectHostPrefix       = "speech.host"
)

// AudioFrameSubject carries PCM frames for the engine of one recognizer.
func AudioFrameSubject(recognizerID string) string {
	return SubjectAudioFramePrefix + "." + recognizerID
}

func RecognizerEventSubject(recognizerID string) string {
	return SubjectRecognizerPrefix + "." + recognizerID + ".event"
}

func RecognizerTranscriptSubject(recognizerID string) string {
	return SubjectRecognizerPrefix + "." + recognizerID + ".transcript"
}

func RecognizerToggleSubject(recognizerID string) string {
	return SubjectRecognizerPrefix + "." + recognizerID + ".toggle"
}

func HostProbeSubject(hostID string) string {
	return SubjectHostPrefix + "." + hostID + ".probe"
}

func HostControlSubject(hostID string) string {
	return SubjectHostPrefix + "." + hostID + ".control"
}

func HostEventSubject(hostID string) string {
	return SubjectHostPrefix + "." + hostID + ".event"
}
