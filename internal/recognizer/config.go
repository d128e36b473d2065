package recognizer

import (
	"time"

	"github.com/loqalabs/loqa-listen/internal/transcript"
)

const (
	DefaultMaxAlternatives  = 1
	DefaultLanguage         = "en"
	DefaultTriggerClass     = "speech-recognizer-trigger"
	DefaultRecognizingClass = "speech-recognizer-trigger--recognizing"
	DefaultStopTimeout      = 2 * time.Second
)

// Handler receives a lifecycle event together with the recognizer that relayed it.
type Handler func(ev Event, r *Recognizer)

// ResultHandler receives the fragments at or after the host's resume index.
type ResultHandler func(fragments []transcript.Fragment, ev Event, r *Recognizer)

// Handlers holds one optional callback per lifecycle event.
type Handlers struct {
	OnAudioStart  Handler
	OnAudioEnd    Handler
	OnStart       Handler
	OnEnd         Handler
	OnSoundStart  Handler
	OnSoundEnd    Handler
	OnSpeechStart Handler
	OnSpeechEnd   Handler
	OnResult      ResultHandler
	OnError       Handler
	OnNoMatch     Handler
}

// Config configures a Recognizer. Nil or zero fields fall back to:
//
//	Continuous       false
//	InterimResults   true
//	MaxAlternatives  1
//	Language         "en"
//	TriggerClass     "speech-recognizer-trigger"
//	RecognizingClass "speech-recognizer-trigger--recognizing"
//	StopTimeout      2s
//
// StopTimeout bounds how long Close waits for the host to report the end
// of a listening session.
type Config struct {
	Continuous       *bool
	InterimResults   *bool
	MaxAlternatives  int
	Language         string
	TriggerClass     string
	RecognizingClass string
	StopTimeout      time.Duration
	Handlers         Handlers
}

type settings struct {
	opts             Options
	triggerClass     string
	recognizingClass string
	stopTimeout      time.Duration
	handlers         Handlers
}

func (c Config) resolve() settings {
	s := settings{
		opts: Options{
			Continuous:      false,
			InterimResults:  true,
			MaxAlternatives: DefaultMaxAlternatives,
			Language:        DefaultLanguage,
		},
		triggerClass:     DefaultTriggerClass,
		recognizingClass: DefaultRecognizingClass,
		stopTimeout:      DefaultStopTimeout,
		handlers:         c.Handlers,
	}
	if c.Continuous != nil {
		s.opts.Continuous = *c.Continuous
	}
	if c.InterimResults != nil {
		s.opts.InterimResults = *c.InterimResults
	}
	if c.MaxAlternatives > 0 {
		s.opts.MaxAlternatives = c.MaxAlternatives
	}
	if c.Language != "" {
		s.opts.Language = c.Language
	}
	if c.TriggerClass != "" {
		s.triggerClass = c.TriggerClass
	}
	if c.RecognizingClass != "" {
		s.recognizingClass = c.RecognizingClass
	}
	if c.StopTimeout > 0 {
		s.stopTimeout = c.StopTimeout
	}
	return s
}

// Bool returns a pointer to v, for the optional Config fields.
func Bool(v bool) *bool { return &v }
