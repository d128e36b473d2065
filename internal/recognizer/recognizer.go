package recognizer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/loqalabs/loqa-listen/internal/transcript"
)

// Recognizer relays the lifecycle of one host recognition session to the
// configured handlers and tracks whether the session is listening.
type Recognizer struct {
	trigger Trigger
	cfg     settings
	session Session

	mu        sync.Mutex
	listening bool
	closed    bool
	ended     chan struct{}
}

// New creates a Recognizer bound to a session built by factory. It returns
// ErrUnsupported when factory is nil or reports the host as unsupported.
func New(trigger Trigger, factory SessionFactory, cfg Config) (*Recognizer, error) {
	if factory == nil {
		return nil, ErrUnsupported
	}
	session, err := factory()
	if err != nil {
		if errors.Is(err, ErrUnsupported) {
			return nil, ErrUnsupported
		}
		return nil, fmt.Errorf("create recognition session: %w", err)
	}
	if session == nil {
		return nil, ErrUnsupported
	}
	if trigger == nil {
		trigger = noopTrigger{}
	}

	r := &Recognizer{
		trigger: trigger,
		cfg:     cfg.resolve(),
		session: session,
	}
	if err := session.Configure(r.cfg.opts); err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("configure recognition session: %w", err)
	}
	session.Listen(r.dispatch)
	trigger.AddClass(r.cfg.triggerClass)
	return r, nil
}

// Options returns the options applied to the host session.
func (r *Recognizer) Options() Options {
	return r.cfg.opts
}

// Listening reports whether the host session is between start and end.
func (r *Recognizer) Listening() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listening
}

// Toggle stops a listening session or starts an idle one.
func (r *Recognizer) Toggle() error {
	if r.Listening() {
		return r.Stop()
	}
	return r.Start()
}

// Start asks the host to begin recognition.
func (r *Recognizer) Start() error {
	if r.isClosed() {
		return ErrClosed
	}
	return r.session.Start()
}

// Stop asks the host to end recognition.
func (r *Recognizer) Stop() error {
	if r.isClosed() {
		return ErrClosed
	}
	return r.session.Stop()
}

// Close stops a listening session, releases the host session and removes
// the trigger classes. Subsequent calls are no-ops. Hosts that report the
// end asynchronously get up to StopTimeout to do so; past that OnEnd is
// invoked on their behalf.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	listening := r.listening
	ended := r.ended
	r.mu.Unlock()

	var errs []error
	if listening {
		if err := r.session.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop session: %w", err))
		} else if ended != nil {
			timer := time.NewTimer(r.cfg.stopTimeout)
			select {
			case <-ended:
			case <-timer.C:
			}
			timer.Stop()
		}
	}

	r.mu.Lock()
	r.closed = true
	pendingEnd := r.listening
	r.listening = false
	r.mu.Unlock()

	if pendingEnd {
		call(r.cfg.handlers.OnEnd, Event{Type: EventEnd, Timestamp: time.Now().UTC()}, r)
	}
	if err := r.session.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close session: %w", err))
	}
	r.trigger.RemoveClass(r.cfg.recognizingClass)
	r.trigger.RemoveClass(r.cfg.triggerClass)
	return errors.Join(errs...)
}

func (r *Recognizer) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Recognizer) dispatch(ev Event) {
	if r.isClosed() {
		return
	}
	h := r.cfg.handlers
	switch ev.Type {
	case EventStart:
		if !r.setListening(true) {
			return
		}
		r.trigger.AddClass(r.cfg.recognizingClass)
		call(h.OnStart, ev, r)
	case EventEnd:
		if !r.setListening(false) {
			return
		}
		r.trigger.RemoveClass(r.cfg.recognizingClass)
		call(h.OnEnd, ev, r)
	case EventResult:
		if h.OnResult != nil {
			h.OnResult(Fragments(ev), ev, r)
		}
	case EventError:
		call(h.OnError, ev, r)
	case EventNoMatch:
		call(h.OnNoMatch, ev, r)
	case EventAudioStart:
		call(h.OnAudioStart, ev, r)
	case EventAudioEnd:
		call(h.OnAudioEnd, ev, r)
	case EventSoundStart:
		call(h.OnSoundStart, ev, r)
	case EventSoundEnd:
		call(h.OnSoundEnd, ev, r)
	case EventSpeechStart:
		call(h.OnSpeechStart, ev, r)
	case EventSpeechEnd:
		call(h.OnSpeechEnd, ev, r)
	}
}

// setListening records a start or end transition. It reports false once the
// recognizer is closed, so an end racing Close is relayed exactly once.
func (r *Recognizer) setListening(v bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.listening = v
	switch {
	case v && r.ended == nil:
		r.ended = make(chan struct{})
	case !v && r.ended != nil:
		close(r.ended)
		r.ended = nil
	}
	return true
}

func call(h Handler, ev Event, r *Recognizer) {
	if h != nil {
		h(ev, r)
	}
}

// Fragments maps the results of a result event, starting at its resume
// index, to fragments built from each result's first alternative. Results
// without alternatives are skipped.
func Fragments(ev Event) []transcript.Fragment {
	start := ev.ResultIndex
	if start < 0 {
		start = 0
	}
	if start > len(ev.Results) {
		start = len(ev.Results)
	}
	fragments := make([]transcript.Fragment, 0, len(ev.Results)-start)
	for _, res := range ev.Results[start:] {
		if len(res.Alternatives) == 0 {
			continue
		}
		best := res.Alternatives[0]
		fragments = append(fragments, transcript.Fragment{
			Text:       best.Transcript,
			Confidence: best.Confidence,
			Final:      res.Final,
		})
	}
	return fragments
}
