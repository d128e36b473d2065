package speech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-listen/internal/bus"
	"github.com/loqalabs/loqa-listen/internal/config"
	"github.com/loqalabs/loqa-listen/internal/eventstore"
	"github.com/loqalabs/loqa-listen/internal/host"
	"github.com/loqalabs/loqa-listen/internal/protocol"
	"github.com/loqalabs/loqa-listen/internal/recognizer"
	"github.com/loqalabs/loqa-listen/internal/stt"
	"github.com/loqalabs/loqa-listen/internal/transcript"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ErrUnknownRecognizer is returned for ids that are not configured.
var ErrUnknownRecognizer = errors.New("unknown recognizer")

const instrumentationName = "github.com/loqalabs/loqa-listen/speech"

// Status is a snapshot of one recognizer.
type Status struct {
	ID         string              `json:"id"`
	Supported  bool                `json:"supported"`
	Listening  bool                `json:"listening"`
	SessionID  string              `json:"session_id,omitempty"`
	Classes    []string            `json:"classes"`
	Options    *recognizer.Options `json:"options,omitempty"`
	Transcript string              `json:"transcript,omitempty"`
}

type entry struct {
	id      string
	trigger *trigger
	rec     *recognizer.Recognizer

	mu         sync.Mutex
	sessionID  string
	transcript string
}

// Service owns the configured recognizers and relays their lifecycle onto
// the bus and the event store.
type Service struct {
	cfg         []config.RecognizerConfig
	sttCfg      config.STTConfig
	bus         *bus.Client
	store       *eventstore.Store
	transcriber stt.Transcriber
	logger      *slog.Logger
	tracer      trace.Tracer
	events      metric.Int64Counter

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
	subs    []*nats.Subscription
}

func NewService(parent context.Context, cfg config.Config, busClient *bus.Client, store *eventstore.Store, transcriber stt.Transcriber, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:         cfg.Recognizers,
		sttCfg:      cfg.STT,
		bus:         busClient,
		store:       store,
		transcriber: transcriber,
		logger:      logger.With(slog.String("component", "speech")),
		tracer:      otel.Tracer(instrumentationName),
		ctx:         ctx,
		cancel:      cancel,
		entries:     make(map[string]*entry),
	}
}

// Start builds every configured recognizer. Recognizers whose host is
// unsupported are kept and reported through Status.
func (s *Service) Start() error {
	if err := s.initMetrics(); err != nil {
		s.logger.Warn("failed to initialize metrics", slogError(err))
	}

	deps := host.Deps{
		Transcriber: s.transcriber,
		STT:         s.sttCfg,
		Logger:      s.logger,
	}
	if s.bus != nil {
		deps.Conn = s.bus.Conn()
	}

	for _, rc := range s.cfg {
		e := &entry{id: rc.ID, trigger: newTrigger()}
		factory, err := host.NewFactory(s.ctx, rc, deps)
		if err != nil {
			s.Close()
			return fmt.Errorf("recognizer %s: %w", rc.ID, err)
		}
		rec, err := recognizer.New(e.trigger, factory, s.recognizerConfig(rc, e))
		switch {
		case errors.Is(err, recognizer.ErrUnsupported):
			s.logger.Warn("speech recognition not supported", slog.String("recognizer", rc.ID), slog.String("mode", rc.Mode))
		case err != nil:
			s.Close()
			return fmt.Errorf("recognizer %s: %w", rc.ID, err)
		default:
			e.rec = rec
		}

		s.mu.Lock()
		s.entries[rc.ID] = e
		s.order = append(s.order, rc.ID)
		s.mu.Unlock()

		if s.bus != nil {
			sub, err := s.bus.Conn().Subscribe(protocol.RecognizerToggleSubject(rc.ID), s.handleToggle)
			if err != nil {
				s.Close()
				return fmt.Errorf("subscribe toggle for %s: %w", rc.ID, err)
			}
			s.mu.Lock()
			s.subs = append(s.subs, sub)
			s.mu.Unlock()
		}
		s.logger.Info("recognizer ready", slog.String("recognizer", rc.ID), slog.Bool("supported", e.rec != nil))
	}
	return nil
}

// Close releases every recognizer and its host session.
func (s *Service) Close() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	entries := make([]*entry, 0, len(s.entries))
	for _, id := range s.order {
		entries = append(entries, s.entries[id])
	}
	s.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Drain()
	}
	for _, e := range entries {
		if e.rec == nil {
			continue
		}
		if err := e.rec.Close(); err != nil {
			s.logger.Warn("failed to close recognizer", slog.String("recognizer", e.id), slogError(err))
		}
	}
	s.cancel()
}

// Healthy reports whether at least one configured recognizer is usable.
func (s *Service) Healthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return true
	}
	for _, e := range s.entries {
		if e.rec != nil {
			return true
		}
	}
	return false
}

// Toggle starts an idle recognizer or stops a listening one.
func (s *Service) Toggle(ctx context.Context, id string) (Status, error) {
	_, span := s.tracer.Start(ctx, "speech.toggle", trace.WithAttributes(attribute.String("recognizer", id)))
	defer span.End()

	e, err := s.lookup(id)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Status{}, err
	}
	if e.rec == nil {
		span.SetStatus(codes.Error, recognizer.ErrUnsupported.Error())
		return s.status(e), recognizer.ErrUnsupported
	}
	wasListening := e.rec.Listening()
	if err := e.rec.Toggle(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return s.status(e), err
	}
	span.SetAttributes(attribute.Bool("listening.before", wasListening))
	return s.status(e), nil
}

// Status returns the snapshot of one recognizer.
func (s *Service) Status(id string) (Status, error) {
	e, err := s.lookup(id)
	if err != nil {
		return Status{}, err
	}
	return s.status(e), nil
}

// Statuses returns snapshots of all recognizers in configuration order.
func (s *Service) Statuses() []Status {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.order))
	for _, id := range s.order {
		entries = append(entries, s.entries[id])
	}
	s.mu.RUnlock()

	out := make([]Status, 0, len(entries))
	for _, e := range entries {
		out = append(out, s.status(e))
	}
	return out
}

// Sessions lists journaled recognition sessions of a recognizer.
func (s *Service) Sessions(ctx context.Context, id string, limit int) ([]eventstore.Session, error) {
	if _, err := s.lookup(id); err != nil {
		return nil, err
	}
	if s.store == nil {
		return nil, nil
	}
	return s.store.ListSessions(ctx, id, limit)
}

// SessionEvents returns the journaled lifecycle of one session of a
// recognizer in the order it happened.
func (s *Service) SessionEvents(ctx context.Context, id, sessionID string, limit int) ([]eventstore.Event, error) {
	if _, err := s.lookup(id); err != nil {
		return nil, err
	}
	if s.store == nil {
		return nil, nil
	}
	events, err := s.store.ListSessionEvents(ctx, sessionID, limit)
	if err != nil {
		return nil, err
	}
	out := events[:0]
	for _, evt := range events {
		if evt.RecognizerID == id {
			out = append(out, evt)
		}
	}
	return out, nil
}

func (s *Service) lookup(id string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRecognizer, id)
	}
	return e, nil
}

func (s *Service) status(e *entry) Status {
	st := Status{
		ID:        e.id,
		Supported: e.rec != nil,
		Classes:   e.trigger.Classes(),
	}
	if e.rec != nil {
		opts := e.rec.Options()
		st.Options = &opts
		st.Listening = e.rec.Listening()
	}
	e.mu.Lock()
	st.SessionID = e.sessionID
	st.Transcript = e.transcript
	e.mu.Unlock()
	return st
}

func (s *Service) handleToggle(msg *nats.Msg) {
	id := recognizerFromSubject(msg.Subject)
	st, err := s.Toggle(s.ctx, id)
	resp := protocol.ToggleResponse{RecognizerID: id, Listening: st.Listening}
	if err != nil {
		resp.Error = err.Error()
		s.logger.Warn("toggle failed", slog.String("recognizer", id), slogError(err))
	}
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Warn("failed to marshal toggle response", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("failed to respond to toggle", slogError(err))
	}
}

// recognizerFromSubject extracts <id> from speech.recognizer.<id>.toggle.
func recognizerFromSubject(subject string) string {
	prefix := protocol.SubjectRecognizerPrefix + "."
	const suffix = ".toggle"
	if len(subject) <= len(prefix)+len(suffix) {
		return ""
	}
	return subject[len(prefix) : len(subject)-len(suffix)]
}

func (s *Service) recognizerConfig(rc config.RecognizerConfig, e *entry) recognizer.Config {
	relay := func(ev recognizer.Event, r *recognizer.Recognizer) {
		s.relay(e, ev, r, nil)
	}
	return recognizer.Config{
		Continuous:       rc.Continuous,
		InterimResults:   rc.InterimResults,
		MaxAlternatives:  rc.MaxAlternatives,
		Language:         rc.Language,
		TriggerClass:     rc.TriggerClass,
		RecognizingClass: rc.RecognizingClass,
		Handlers: recognizer.Handlers{
			OnAudioStart:  relay,
			OnAudioEnd:    relay,
			OnSoundStart:  relay,
			OnSoundEnd:    relay,
			OnSpeechStart: relay,
			OnSpeechEnd:   relay,
			OnError:       relay,
			OnNoMatch:     relay,
			OnStart: func(ev recognizer.Event, r *recognizer.Recognizer) {
				s.beginSession(e, r)
				s.relay(e, ev, r, nil)
			},
			OnEnd: func(ev recognizer.Event, r *recognizer.Recognizer) {
				s.relay(e, ev, r, nil)
				e.mu.Lock()
				e.sessionID = ""
				e.mu.Unlock()
			},
			OnResult: func(fragments []transcript.Fragment, ev recognizer.Event, r *recognizer.Recognizer) {
				s.relay(e, ev, r, fragments)
				s.publishTranscript(e, ev)
			},
		},
	}
}

func (s *Service) beginSession(e *entry, r *recognizer.Recognizer) {
	sessionID := uuid.NewString()
	e.mu.Lock()
	e.sessionID = sessionID
	e.transcript = ""
	e.mu.Unlock()

	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	sess := eventstore.Session{ID: sessionID, RecognizerID: e.id, Language: r.Options().Language}
	if err := s.store.AppendSession(ctx, sess); err != nil {
		s.logger.Warn("failed to journal session", slog.String("recognizer", e.id), slogError(err))
	}
}

func (s *Service) relay(e *entry, ev recognizer.Event, r *recognizer.Recognizer, fragments []transcript.Fragment) {
	e.mu.Lock()
	sessionID := e.sessionID
	e.mu.Unlock()

	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	msg := protocol.RecognizerEvent{
		RecognizerID: e.id,
		SessionID:    sessionID,
		Type:         ev.Type,
		Listening:    r.Listening(),
		Fragments:    fragments,
		Error:        ev.Error,
		Message:      ev.Message,
		Timestamp:    ev.Timestamp,
	}
	if ev.Type == recognizer.EventError {
		s.logger.Warn("recognition error", slog.String("recognizer", e.id), slog.String("code", ev.Error), slog.String("message", ev.Message))
	}
	if s.events != nil {
		s.events.Add(s.ctx, 1, metric.WithAttributes(
			attribute.String("recognizer", e.id),
			attribute.String("type", string(ev.Type)),
		))
	}

	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Warn("failed to marshal recognizer event", slogError(err))
		return
	}
	if s.bus != nil {
		if err := s.bus.Conn().Publish(protocol.RecognizerEventSubject(e.id), data); err != nil {
			s.logger.Warn("failed to publish recognizer event", slogError(err))
		}
	}
	if s.store != nil && sessionID != "" {
		ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
		defer cancel()
		evt := eventstore.Event{
			SessionID:    sessionID,
			RecognizerID: e.id,
			Type:         string(ev.Type),
			Payload:      data,
			CreatedAt:    ev.Timestamp,
		}
		if err := s.store.AppendEvent(ctx, evt); err != nil {
			s.logger.Warn("failed to journal recognizer event", slogError(err))
		}
	}
}

// publishTranscript reduces every result of the session so far, not only
// those after the resume index, so earlier final sentences are kept.
func (s *Service) publishTranscript(e *entry, ev recognizer.Event) {
	session := ev
	session.ResultIndex = 0
	fragments := recognizer.Fragments(session)
	text := transcript.Reduce(fragments)
	e.mu.Lock()
	e.transcript = text
	sessionID := e.sessionID
	e.mu.Unlock()

	if s.bus == nil || text == "" {
		return
	}
	var confidence float64
	if n := len(fragments); n > 0 {
		confidence = fragments[n-1].Confidence
	}
	msg := protocol.Transcript{
		RecognizerID: e.id,
		SessionID:    sessionID,
		Text:         text,
		Partial:      transcript.HasPending(fragments),
		Confidence:   confidence,
		Timestamp:    time.Now().UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Warn("failed to marshal transcript", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(protocol.RecognizerTranscriptSubject(e.id), data); err != nil {
		s.logger.Warn("failed to publish transcript", slogError(err))
	}
}

func (s *Service) initMetrics() error {
	meter := otel.Meter(instrumentationName)
	counter, err := meter.Int64Counter("listen.recognizer.events", metric.WithDescription("Recognizer lifecycle events relayed"))
	if err != nil {
		return err
	}
	s.events = counter

	gauge, err := meter.Int64ObservableGauge("listen.recognizer.listening", metric.WithDescription("Recognizers currently listening"))
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		obs.ObserveInt64(gauge, s.listeningCount())
		return nil
	}, gauge)
	return err
}

func (s *Service) listeningCount() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, e := range s.entries {
		if e.rec != nil && e.rec.Listening() {
			n++
		}
	}
	return n
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
