package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string             `yaml:"runtime_name"`
	Environment string             `yaml:"environment"`
	HTTP        HTTPConfig         `yaml:"http"`
	Telemetry   TelemetryConfig    `yaml:"telemetry"`
	Bus         BusConfig          `yaml:"bus"`
	EventStore  EventStoreConfig   `yaml:"event_store"`
	STT         STTConfig          `yaml:"stt"`
	Recognizers []RecognizerConfig `yaml:"recognizers"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// STTConfig configures the transcriber behind engine-mode recognizers.
type STTConfig struct {
	Mode            string `yaml:"mode"` // mock, exec
	Command         string `yaml:"command"`
	ModelPath       string `yaml:"model_path"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	FrameDurationMS int    `yaml:"frame_duration_ms"`
	PartialEveryMS  int    `yaml:"partial_every_ms"`
	TimeoutMS       int    `yaml:"timeout_ms"`
}

// RecognizerConfig describes one recognizer exposed by the service. Unset
// options fall back to the recognizer package defaults.
type RecognizerConfig struct {
	ID               string `yaml:"id"`
	Mode             string `yaml:"mode"`   // engine, remote, none
	Source           string `yaml:"source"` // bus, microphone
	Continuous       *bool  `yaml:"continuous"`
	InterimResults   *bool  `yaml:"interim_results"`
	MaxAlternatives  int    `yaml:"max_alternatives"`
	Language         string `yaml:"language"`
	TriggerClass     string `yaml:"trigger_class"`
	RecognizingClass string `yaml:"recognizing_class"`
	ProbeTimeoutMS   int    `yaml:"probe_timeout_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-listen",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/listen-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		STT: STTConfig{
			Mode:            "mock",
			SampleRate:      16000,
			Channels:        1,
			FrameDurationMS: 20,
			PartialEveryMS:  800,
			TimeoutMS:       45000,
		},
		Recognizers: []RecognizerConfig{
			{ID: "default", Mode: "engine", Source: "bus"},
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	applyRecognizerDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LISTEN_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LISTEN_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LISTEN_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LISTEN_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LISTEN_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LISTEN_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LISTEN_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "LISTEN_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "LISTEN_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LISTEN_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "LISTEN_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LISTEN_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LISTEN_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LISTEN_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LISTEN_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LISTEN_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "LISTEN_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LISTEN_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LISTEN_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "LISTEN_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LISTEN_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.STT.Mode, "LISTEN_STT_MODE")
	overrideString(&cfg.STT.Command, "LISTEN_STT_COMMAND")
	overrideString(&cfg.STT.ModelPath, "LISTEN_STT_MODEL_PATH")
	overrideInt(&cfg.STT.SampleRate, "LISTEN_STT_SAMPLE_RATE")
	overrideInt(&cfg.STT.Channels, "LISTEN_STT_CHANNELS")
	overrideInt(&cfg.STT.FrameDurationMS, "LISTEN_STT_FRAME_DURATION_MS")
	overrideInt(&cfg.STT.PartialEveryMS, "LISTEN_STT_PARTIAL_EVERY_MS")
	overrideInt(&cfg.STT.TimeoutMS, "LISTEN_STT_TIMEOUT_MS")
}

// applyRecognizerDefaults fills transport fields; recognition options stay
// unset so the recognizer package owns their fallbacks.
func applyRecognizerDefaults(cfg *Config) {
	for i := range cfg.Recognizers {
		rc := &cfg.Recognizers[i]
		if rc.Mode == "" {
			rc.Mode = "engine"
		}
		if rc.Mode == "engine" && rc.Source == "" {
			rc.Source = "bus"
		}
		if rc.Mode == "remote" && rc.ProbeTimeoutMS <= 0 {
			rc.ProbeTimeoutMS = 1000
		}
	}
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	switch cfg.STT.Mode {
	case "mock", "exec":
	default:
		return errors.New("stt.mode must be one of mock|exec")
	}
	if cfg.STT.Mode == "exec" && cfg.STT.Command == "" {
		return errors.New("stt.command must be set when mode=exec")
	}
	if cfg.STT.SampleRate <= 0 {
		return errors.New("stt.sample_rate must be positive")
	}
	if cfg.STT.Channels <= 0 {
		return errors.New("stt.channels must be positive")
	}
	seen := make(map[string]bool, len(cfg.Recognizers))
	for i, rc := range cfg.Recognizers {
		if rc.ID == "" {
			return fmt.Errorf("recognizers[%d].id must not be empty", i)
		}
		if strings.ContainsAny(rc.ID, ".*> ") {
			return fmt.Errorf("recognizers[%d].id must not contain '.', '*', '>' or spaces", i)
		}
		if seen[rc.ID] {
			return fmt.Errorf("recognizers[%d].id %q is duplicated", i, rc.ID)
		}
		seen[rc.ID] = true
		switch rc.Mode {
		case "engine":
			switch rc.Source {
			case "bus", "microphone":
			default:
				return fmt.Errorf("recognizers[%d].source must be one of bus|microphone", i)
			}
		case "remote", "none":
		default:
			return fmt.Errorf("recognizers[%d].mode must be one of engine|remote|none", i)
		}
		if rc.MaxAlternatives < 0 {
			return fmt.Errorf("recognizers[%d].max_alternatives must be >= 0", i)
		}
	}
	return nil
}
