package recognizer

import (
	"errors"
	"time"
)

var (
	// ErrUnsupported signals that no speech recognition host is available.
	ErrUnsupported = errors.New("speech recognition not supported")
	// ErrInvalidState is reported by hosts asked to start a running session.
	ErrInvalidState = errors.New("recognition session already started")
	// ErrClosed is returned after the recognizer released its session.
	ErrClosed = errors.New("recognizer closed")
)

// EventType names a host lifecycle event.
type EventType string

const (
	EventAudioStart  EventType = "audiostart"
	EventAudioEnd    EventType = "audioend"
	EventStart       EventType = "start"
	EventEnd         EventType = "end"
	EventSoundStart  EventType = "soundstart"
	EventSoundEnd    EventType = "soundend"
	EventSpeechStart EventType = "speechstart"
	EventSpeechEnd   EventType = "speechend"
	EventResult      EventType = "result"
	EventError       EventType = "error"
	EventNoMatch     EventType = "nomatch"
)

// Alternative is one candidate transcription of a result.
type Alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

// Result is a host result entry, ordered by likelihood of its alternatives.
type Result struct {
	Alternatives []Alternative `json:"alternatives"`
	Final        bool          `json:"final"`
}

// Event is delivered by a Session for every lifecycle change. Results and
// ResultIndex are set on result events; Error and Message on error events.
type Event struct {
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	ResultIndex int       `json:"result_index,omitempty"`
	Results     []Result  `json:"results,omitempty"`
	Error       string    `json:"error,omitempty"`
	Message     string    `json:"message,omitempty"`
}

// Options are applied to a Session before it is started.
type Options struct {
	Continuous      bool   `json:"continuous"`
	InterimResults  bool   `json:"interim_results"`
	MaxAlternatives int    `json:"max_alternatives"`
	Language        string `json:"language"`
}

// Session is a host-provided recognition session. Implementations deliver
// events to the listener registered with Listen.
type Session interface {
	Configure(opts Options) error
	Listen(fn func(Event))
	Start() error
	Stop() error
	Close() error
}

// SessionFactory creates a host session. A nil factory means the host has no
// recognition capability.
type SessionFactory func() (Session, error)

// Trigger is the control that toggles recognition and reflects its state
// through class names.
type Trigger interface {
	AddClass(name string)
	RemoveClass(name string)
}

type noopTrigger struct{}

func (noopTrigger) AddClass(string)    {}
func (noopTrigger) RemoveClass(string) {}
