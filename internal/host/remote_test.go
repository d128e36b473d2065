package host

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-listen/internal/config"
	"github.com/loqalabs/loqa-listen/internal/protocol"
	"github.com/loqalabs/loqa-listen/internal/recognizer"
	"github.com/loqalabs/loqa-listen/internal/stt"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

func startNATS(t *testing.T) *nats.Conn {
	t.Helper()
	ns, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: server.RANDOM_PORT, NoSigs: true, NoLog: true})
	if err != nil {
		t.Fatalf("create nats server: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats server not ready")
	}
	t.Cleanup(ns.Shutdown)

	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(nc.Close)
	return nc
}

// fakeHost answers probes and echoes start/stop controls as lifecycle events.
func fakeHost(t *testing.T, nc *nats.Conn, hostID string, supported bool) <-chan protocol.HostControl {
	t.Helper()
	controls := make(chan protocol.HostControl, 8)
	_, err := nc.Subscribe(protocol.HostProbeSubject(hostID), func(msg *nats.Msg) {
		data, _ := json.Marshal(protocol.HostProbe{Supported: supported, Engine: "fake"})
		_ = msg.Respond(data)
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = nc.Subscribe(protocol.HostControlSubject(hostID), func(msg *nats.Msg) {
		var ctrl protocol.HostControl
		if err := json.Unmarshal(msg.Data, &ctrl); err != nil {
			t.Errorf("decode control: %v", err)
			return
		}
		controls <- ctrl
		var typ recognizer.EventType
		switch ctrl.Action {
		case protocol.HostActionStart:
			typ = recognizer.EventStart
		case protocol.HostActionStop:
			typ = recognizer.EventEnd
		default:
			return
		}
		data, _ := json.Marshal(recognizer.Event{Type: typ})
		_ = nc.Publish(protocol.HostEventSubject(hostID), data)
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := nc.Flush(); err != nil {
		t.Fatal(err)
	}
	return controls
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestRemoteFactoryWithoutResponder(t *testing.T) {
	nc := startNATS(t)
	factory := NewRemoteFactory(nc, "missing", 200*time.Millisecond, newLogger())
	if _, err := recognizer.New(nil, factory, recognizer.Config{}); !errors.Is(err, recognizer.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestRemoteFactoryHostReportsUnsupported(t *testing.T) {
	nc := startNATS(t)
	fakeHost(t, nc, "kiosk", false)
	factory := NewRemoteFactory(nc, "kiosk", time.Second, newLogger())
	if _, err := factory(); !errors.Is(err, recognizer.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestRemoteFactoryNilConn(t *testing.T) {
	if NewRemoteFactory(nil, "x", time.Second, newLogger()) != nil {
		t.Fatal("expected nil factory without a connection")
	}
}

func TestRemoteSessionRoundTrip(t *testing.T) {
	nc := startNATS(t)
	controls := fakeHost(t, nc, "kiosk", true)

	r, err := recognizer.New(nil, NewRemoteFactory(nc, "kiosk", time.Second, newLogger()), recognizer.Config{
		Language: "nl-NL",
	})
	if err != nil {
		t.Fatalf("new recognizer: %v", err)
	}

	if err := r.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	ctrl := <-controls
	if ctrl.Action != protocol.HostActionStart || ctrl.Options.Language != "nl-NL" || !ctrl.Options.InterimResults {
		t.Fatalf("unexpected control %+v", ctrl)
	}
	waitFor(t, r.Listening)

	if err := r.Toggle(); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	<-controls
	waitFor(t, func() bool { return !r.Listening() })

	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if ctrl := <-controls; ctrl.Action != protocol.HostActionClose {
		t.Fatalf("expected close control, got %+v", ctrl)
	}
}

func TestBusSourceDeliversFrames(t *testing.T) {
	nc := startNATS(t)
	src := NewBusSource(nc, "desk", newLogger())
	got := make(chan protocol.AudioFrame, 1)
	stop, err := src.Subscribe(func(f protocol.AudioFrame) { got <- f })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	t.Cleanup(func() { _ = stop() })

	data, _ := json.Marshal(protocol.AudioFrame{Sequence: 3, PCM: frame, Final: true})
	if err := nc.Publish(protocol.AudioFrameSubject("desk"), data); err != nil {
		t.Fatal(err)
	}
	select {
	case f := <-got:
		if f.Sequence != 3 || !f.Final || len(f.PCM) != len(frame) {
			t.Fatalf("unexpected frame %+v", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frame not delivered")
	}
}

func TestNewFactoryModes(t *testing.T) {
	deps := Deps{Transcriber: stt.NewMockTranscriber(), STT: config.STTConfig{SampleRate: 16000, Channels: 1}, Logger: newLogger()}
	ctx := context.Background()

	f, err := NewFactory(ctx, config.RecognizerConfig{ID: "a", Mode: "none"}, deps)
	if err != nil || f != nil {
		t.Fatalf("mode none: expected nil factory, got err=%v", err)
	}
	f, err = NewFactory(ctx, config.RecognizerConfig{ID: "a", Mode: "engine", Source: "bus"}, deps)
	if err != nil || f != nil {
		t.Fatalf("engine without bus: expected nil factory, got err=%v", err)
	}
	if _, err := NewFactory(ctx, config.RecognizerConfig{ID: "a", Mode: "cloud"}, deps); err == nil {
		t.Fatal("expected unknown mode error")
	}

	deps.Conn = startNATS(t)
	f, err = NewFactory(ctx, config.RecognizerConfig{ID: "a", Mode: "engine", Source: "bus"}, deps)
	if err != nil || f == nil {
		t.Fatalf("engine with bus: expected factory, got err=%v", err)
	}
	session, err := f()
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, ok := session.(*EngineSession); !ok {
		t.Fatalf("expected engine session, got %T", session)
	}
	_ = session.Close()

	f, err = NewFactory(ctx, config.RecognizerConfig{ID: "a", Mode: "engine", Source: "microphone"}, deps)
	if err != nil {
		t.Fatalf("microphone: %v", err)
	}
	if (f != nil) != MicrophoneAvailable() {
		t.Fatalf("microphone factory presence should follow build support")
	}
}

func TestRemoteCloseRelaysHostEnd(t *testing.T) {
	nc := startNATS(t)
	controls := fakeHost(t, nc, "kiosk", true)

	var mu sync.Mutex
	var ends int
	r, err := recognizer.New(nil, NewRemoteFactory(nc, "kiosk", time.Second, newLogger()), recognizer.Config{
		Handlers: recognizer.Handlers{
			OnEnd: func(recognizer.Event, *recognizer.Recognizer) {
				mu.Lock()
				ends++
				mu.Unlock()
			},
		},
	})
	if err != nil {
		t.Fatalf("new recognizer: %v", err)
	}
	if err := r.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-controls
	waitFor(t, r.Listening)

	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if ctrl := <-controls; ctrl.Action != protocol.HostActionStop {
		t.Fatalf("expected stop control, got %+v", ctrl)
	}

	mu.Lock()
	defer mu.Unlock()
	if ends != 1 {
		t.Fatalf("expected OnEnd once, got %d", ends)
	}
	if r.Listening() {
		t.Fatal("closed recognizer must not be listening")
	}
}
