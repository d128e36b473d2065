package host

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-listen/internal/protocol"
	"github.com/loqalabs/loqa-listen/internal/recognizer"
	"github.com/nats-io/nats.go"
)

// RemoteSession drives a recognition engine hosted by another process on
// the bus, typically an edge device with a built-in engine.
type RemoteSession struct {
	conn   *nats.Conn
	hostID string
	log    *slog.Logger

	mu       sync.Mutex
	opts     recognizer.Options
	listener func(recognizer.Event)
	sub      *nats.Subscription
	closed   bool
}

// NewRemoteFactory returns a factory that probes hostID before creating a
// session. Hosts that do not answer the probe, or answer unsupported, make
// the factory report recognizer.ErrUnsupported.
func NewRemoteFactory(conn *nats.Conn, hostID string, probeTimeout time.Duration, log *slog.Logger) recognizer.SessionFactory {
	if conn == nil {
		return nil
	}
	return func() (recognizer.Session, error) {
		if err := probe(conn, hostID, probeTimeout); err != nil {
			return nil, err
		}
		s := &RemoteSession{conn: conn, hostID: hostID, log: log}
		sub, err := conn.Subscribe(protocol.HostEventSubject(hostID), s.handleEvent)
		if err != nil {
			return nil, fmt.Errorf("subscribe host events: %w", err)
		}
		s.sub = sub
		return s, nil
	}
}

func probe(conn *nats.Conn, hostID string, timeout time.Duration) error {
	msg, err := conn.Request(protocol.HostProbeSubject(hostID), nil, timeout)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) || errors.Is(err, nats.ErrTimeout) {
			return recognizer.ErrUnsupported
		}
		return fmt.Errorf("probe recognition host: %w", err)
	}
	var resp protocol.HostProbe
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return fmt.Errorf("decode host probe: %w", err)
	}
	if !resp.Supported {
		return recognizer.ErrUnsupported
	}
	return nil
}

func (s *RemoteSession) Configure(opts recognizer.Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts = opts
	return nil
}

func (s *RemoteSession) Listen(fn func(recognizer.Event)) {
	s.mu.Lock()
	s.listener = fn
	s.mu.Unlock()
}

func (s *RemoteSession) Start() error { return s.send(protocol.HostActionStart) }

func (s *RemoteSession) Stop() error { return s.send(protocol.HostActionStop) }

func (s *RemoteSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	var errs []error
	if err := s.send(protocol.HostActionClose); err != nil {
		errs = append(errs, err)
	}

	s.mu.Lock()
	s.closed = true
	sub := s.sub
	s.mu.Unlock()
	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribe host events: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (s *RemoteSession) send(action string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return recognizer.ErrClosed
	}
	msg := protocol.HostControl{Action: action, Options: s.opts}
	s.mu.Unlock()

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := s.conn.Publish(protocol.HostControlSubject(s.hostID), data); err != nil {
		return fmt.Errorf("publish %s to host: %w", action, err)
	}
	return nil
}

func (s *RemoteSession) handleEvent(msg *nats.Msg) {
	var ev recognizer.Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		s.log.Warn("failed to decode host event", slogError(err))
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	s.mu.Lock()
	listener := s.listener
	closed := s.closed
	s.mu.Unlock()
	if listener != nil && !closed {
		listener(ev)
	}
}
