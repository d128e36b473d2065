package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if len(cfg.Recognizers) != 1 || cfg.Recognizers[0].ID != "default" {
		t.Fatalf("expected default recognizer, got %+v", cfg.Recognizers)
	}
	if cfg.Recognizers[0].Continuous != nil || cfg.Recognizers[0].InterimResults != nil {
		t.Fatal("recognition options should stay unset")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LISTEN_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("LISTEN_BUS_USERNAME", "alice")
	t.Setenv("LISTEN_BUS_PASSWORD", "secret")
	t.Setenv("LISTEN_BUS_TLS_INSECURE", "true")
	t.Setenv("LISTEN_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("LISTEN_EVENT_STORE_PATH", "./tmp.db")
	t.Setenv("LISTEN_EVENT_STORE_RETENTION_MODE", "persistent")
	t.Setenv("LISTEN_EVENT_STORE_RETENTION_DAYS", "7")
	t.Setenv("LISTEN_EVENT_STORE_MAX_SESSIONS", "123")
	t.Setenv("LISTEN_EVENT_STORE_VACUUM_ON_START", "true")
	t.Setenv("LISTEN_STT_PARTIAL_EVERY_MS", "250")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.EventStore.Path != "./tmp.db" {
		t.Fatalf("expected event store path override")
	}
	if cfg.EventStore.RetentionMode != "persistent" {
		t.Fatalf("expected event store retention mode override")
	}
	if cfg.EventStore.RetentionDays != 7 {
		t.Fatalf("expected event store retention days override")
	}
	if cfg.EventStore.MaxSessions != 123 {
		t.Fatalf("expected event store max sessions override")
	}
	if !cfg.EventStore.VacuumOnStart {
		t.Fatalf("expected event store vacuum flag override")
	}
	if cfg.STT.PartialEveryMS != 250 {
		t.Fatalf("expected partial interval override, got %d", cfg.STT.PartialEveryMS)
	}
}

const recognizersYAML = `runtime_name: kitchen
unknown_section:
  whatever: 1
recognizers:
  - id: kitchen
    language: fr-FR
    continuous: true
    colour: blue
  - id: hallway
    mode: remote
    interim_results: false
`

func TestLoadRecognizersIgnoresUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "listen.yaml")
	if err := os.WriteFile(path, []byte(recognizersYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RuntimeName != "kitchen" {
		t.Fatalf("expected runtime name from file, got %q", cfg.RuntimeName)
	}
	if cfg.HTTP.Port != 8080 {
		t.Fatalf("expected default http port, got %d", cfg.HTTP.Port)
	}
	if len(cfg.Recognizers) != 2 {
		t.Fatalf("expected 2 recognizers, got %d", len(cfg.Recognizers))
	}
	kitchen := cfg.Recognizers[0]
	if kitchen.Mode != "engine" || kitchen.Source != "bus" {
		t.Fatalf("expected engine/bus defaults, got %s/%s", kitchen.Mode, kitchen.Source)
	}
	if kitchen.Continuous == nil || !*kitchen.Continuous || kitchen.Language != "fr-FR" {
		t.Fatalf("unexpected kitchen config %+v", kitchen)
	}
	if kitchen.InterimResults != nil || kitchen.MaxAlternatives != 0 {
		t.Fatal("missing keys should stay unset")
	}
	hallway := cfg.Recognizers[1]
	if hallway.InterimResults == nil || *hallway.InterimResults {
		t.Fatal("expected interim_results=false")
	}
	if hallway.ProbeTimeoutMS != 1000 {
		t.Fatalf("expected default probe timeout, got %d", hallway.ProbeTimeoutMS)
	}
}

func TestValidateRejectsDuplicateRecognizers(t *testing.T) {
	cfg := Default()
	cfg.Recognizers = append(cfg.Recognizers, RecognizerConfig{ID: "default", Mode: "none"})
	if err := validate(cfg); err == nil {
		t.Fatal("expected duplicate id error")
	}
}

func TestValidateRejectsSubjectTokens(t *testing.T) {
	cfg := Default()
	cfg.Recognizers[0].ID = "living.room"
	if err := validate(cfg); err == nil {
		t.Fatal("expected invalid id error")
	}
}

func TestValidateExecRequiresCommand(t *testing.T) {
	cfg := Default()
	cfg.STT.Mode = "exec"
	if err := validate(cfg); err == nil {
		t.Fatal("expected missing command error")
	}
}
