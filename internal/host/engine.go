package host

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-listen/internal/config"
	"github.com/loqalabs/loqa-listen/internal/protocol"
	"github.com/loqalabs/loqa-listen/internal/recognizer"
	"github.com/loqalabs/loqa-listen/internal/stt"
)

// EngineErrorCode is reported on error events raised by a failed transcription.
const EngineErrorCode = "engine"

// EngineSession is a local recognition engine fed by an AudioSource. Audio
// up to a final frame forms one utterance; interim passes over the partial
// utterance are throttled by PartialEveryMS.
type EngineSession struct {
	source      AudioSource
	transcriber stt.Transcriber
	cfg         config.STTConfig
	log         *slog.Logger
	clock       func() time.Time
	ctx         context.Context
	cancel      context.CancelFunc

	mu          sync.Mutex
	finalizing  bool
	deferred    *stopTail
	opts        recognizer.Options
	listener    func(recognizer.Event)
	running     bool
	closed      bool
	unsubscribe func() error
	utterance   []byte
	speaking    bool
	lastPartial time.Time
	results     []recognizer.Result
}

func NewEngineSession(parent context.Context, source AudioSource, transcriber stt.Transcriber, cfg config.STTConfig, log *slog.Logger) *EngineSession {
	ctx, cancel := context.WithCancel(parent)
	return &EngineSession{
		source:      source,
		transcriber: transcriber,
		cfg:         cfg,
		log:         log,
		clock:       time.Now,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// stopTail is the capture state left over when a session stops.
type stopTail struct {
	pending  []byte
	speaking bool
}

func (s *EngineSession) Configure(opts recognizer.Options) error {
	if opts.MaxAlternatives < 1 {
		return fmt.Errorf("max alternatives must be >= 1, got %d", opts.MaxAlternatives)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts = opts
	return nil
}

func (s *EngineSession) Listen(fn func(recognizer.Event)) {
	s.mu.Lock()
	s.listener = fn
	s.mu.Unlock()
}

func (s *EngineSession) Start() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return recognizer.ErrClosed
	}
	if s.running || s.deferred != nil {
		s.mu.Unlock()
		return recognizer.ErrInvalidState
	}
	s.running = true
	s.utterance = nil
	s.speaking = false
	s.lastPartial = time.Time{}
	s.results = nil
	s.mu.Unlock()

	unsubscribe, err := s.source.Subscribe(s.handleFrame)
	if err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("open audio source: %w", err)
	}
	s.mu.Lock()
	s.unsubscribe = unsubscribe
	s.mu.Unlock()

	s.emit(s.event(recognizer.EventStart), s.event(recognizer.EventAudioStart))
	return nil
}

// Stop ends capture. Audio buffered since the last final frame is
// transcribed as a final result before the session ends. When an utterance
// is being finalized, its result is emitted first and the session ends as
// soon as it completes.
func (s *EngineSession) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	tail := &stopTail{pending: s.utterance, speaking: s.speaking}
	s.utterance = nil
	s.speaking = false
	if s.finalizing {
		s.deferred = tail
		tail = nil
	}
	s.mu.Unlock()

	var stopErr error
	if unsubscribe != nil {
		if err := unsubscribe(); err != nil {
			stopErr = fmt.Errorf("close audio source: %w", err)
		}
	}
	if tail != nil {
		s.finish(tail)
	}
	return stopErr
}

func (s *EngineSession) finish(tail *stopTail) {
	if len(tail.pending) > 0 {
		s.finalize(tail.pending)
	} else if tail.speaking {
		s.emit(s.event(recognizer.EventSpeechEnd), s.event(recognizer.EventSoundEnd))
	}
	s.emit(s.event(recognizer.EventAudioEnd), s.event(recognizer.EventEnd))
}

func (s *EngineSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	err := s.Stop()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	return err
}

func (s *EngineSession) handleFrame(frame protocol.AudioFrame) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	var events []recognizer.Event
	if !s.speaking && len(frame.PCM) > 0 {
		s.speaking = true
		events = append(events, s.event(recognizer.EventSoundStart), s.event(recognizer.EventSpeechStart))
	}
	s.utterance = append(s.utterance, frame.PCM...)

	var final, partial bool
	var pcm []byte
	switch {
	case frame.Final:
		final = true
		pcm = s.utterance
		s.utterance = nil
		s.speaking = false
		s.finalizing = true
	case s.opts.InterimResults && len(s.utterance) > 0 && s.partialDueLocked():
		partial = true
		pcm = append([]byte(nil), s.utterance...)
	}
	continuous := s.opts.Continuous
	s.mu.Unlock()

	s.emit(events...)

	switch {
	case final:
		ok := true
		if len(pcm) > 0 {
			ok = s.finalize(pcm)
		}
		s.mu.Lock()
		s.finalizing = false
		tail := s.deferred
		s.deferred = nil
		s.mu.Unlock()
		if tail != nil {
			s.finish(tail)
			return
		}
		if !ok || !continuous {
			if err := s.Stop(); err != nil {
				s.log.Warn("failed to stop engine session", slogError(err))
			}
		}
	case partial:
		s.interim(pcm)
	}
}

func (s *EngineSession) partialDueLocked() bool {
	now := s.clock()
	if s.lastPartial.IsZero() {
		s.lastPartial = now
		return true
	}
	interval := time.Duration(s.cfg.PartialEveryMS) * time.Millisecond
	if interval <= 0 {
		return false
	}
	if now.Sub(s.lastPartial) >= interval {
		s.lastPartial = now
		return true
	}
	return false
}

// finalize transcribes a complete utterance and reports whether the engine
// produced a verdict. On failure an error event is emitted and the caller
// ends the session.
func (s *EngineSession) finalize(pcm []byte) bool {
	result, err := s.transcribe(pcm, true)
	if err != nil {
		ev := s.event(recognizer.EventError)
		ev.Error = EngineErrorCode
		ev.Message = err.Error()
		s.emit(ev)
		return false
	}

	var ev recognizer.Event
	if result.Text == "" {
		ev = s.event(recognizer.EventNoMatch)
	} else {
		s.mu.Lock()
		s.results = append(s.results, recognizer.Result{
			Alternatives: []recognizer.Alternative{{Transcript: result.Text, Confidence: result.Confidence}},
			Final:        true,
		})
		ev = s.event(recognizer.EventResult)
		ev.Results = append([]recognizer.Result(nil), s.results...)
		ev.ResultIndex = len(s.results) - 1
		s.lastPartial = time.Time{}
		s.mu.Unlock()
	}
	s.emit(ev, s.event(recognizer.EventSpeechEnd), s.event(recognizer.EventSoundEnd))
	return true
}

func (s *EngineSession) interim(pcm []byte) {
	result, err := s.transcribe(pcm, false)
	if err != nil {
		s.log.Warn("interim transcription failed", slogError(err))
		return
	}
	if result.Text == "" {
		return
	}

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	ev := s.event(recognizer.EventResult)
	ev.Results = append(append([]recognizer.Result(nil), s.results...), recognizer.Result{
		Alternatives: []recognizer.Alternative{{Transcript: result.Text, Confidence: result.Confidence}},
	})
	ev.ResultIndex = len(s.results)
	s.mu.Unlock()

	s.emit(ev)
}

func (s *EngineSession) transcribe(pcm []byte, final bool) (stt.TranscriptResult, error) {
	timeout := time.Duration(s.cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()

	s.mu.Lock()
	language := s.opts.Language
	s.mu.Unlock()
	return s.transcriber.Transcribe(ctx, pcm, s.cfg.SampleRate, s.cfg.Channels, language, final)
}

func (s *EngineSession) event(typ recognizer.EventType) recognizer.Event {
	return recognizer.Event{Type: typ, Timestamp: s.clock().UTC()}
}

func (s *EngineSession) emit(events ...recognizer.Event) {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return
	}
	for _, ev := range events {
		listener(ev)
	}
}
