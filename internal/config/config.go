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
	RuntimeName string            `yaml:"runtime_name"`
	Environment string            `yaml:"environment"`
	HTTP        HTTPConfig        `yaml:"http"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Bus         BusConfig         `yaml:"bus"`
	Node        NodeConfig        `yaml:"node"`
	EventStore  EventStoreConfig  `yaml:"event_store"`
	Synthesis   SynthesisConfig   `yaml:"synthesis"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Assistant   AssistantConfig   `yaml:"assistant"`
	Surfaces    SurfacesConfig    `yaml:"surfaces"`
	Deck        DeckConfig        `yaml:"deck"`
	Gate        GateConfig        `yaml:"gate"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type NodeConfig struct {
	ID                string `yaml:"id"`
	Role              string `yaml:"role"`
	HeartbeatInterval int    `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int    `yaml:"heartbeat_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type SynthesisConfig struct {
	Mode               string  `yaml:"mode"` // mock, exec
	Command            string  `yaml:"command"`
	VoicesCommand      string  `yaml:"voices_command"`
	Locale             string  `yaml:"locale"`
	VoiceProvider      string  `yaml:"voice_provider"`
	Rate               float64 `yaml:"rate"`
	Pitch              float64 `yaml:"pitch"`
	ReplayDelayMS      int     `yaml:"replay_delay_ms"`
	ResolveTimeoutMS   int     `yaml:"resolve_timeout_ms"`
	MockWordMS         int     `yaml:"mock_word_ms"`
	MockCatalogDelayMS int     `yaml:"mock_catalog_delay_ms"`
}

type RecognitionConfig struct {
	Mode    string `yaml:"mode"` // mock, exec, off
	Command string `yaml:"command"`
	Locale  string `yaml:"locale"`
}

type AssistantConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Mode      string `yaml:"mode"` // mock, http
	Endpoint  string `yaml:"endpoint"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type SurfacesConfig struct {
	Enabled bool `yaml:"enabled"`
}

type DeckConfig struct {
	Path string `yaml:"path"`
}

type GateConfig struct {
	AccessCode string `yaml:"access_code"`
}

func Default() Config {
	return Config{
		RuntimeName: "elexico-runtime",
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
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Node: NodeConfig{
			ID:                "elexico-node-1",
			Role:              "runtime",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/elexico-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Synthesis: SynthesisConfig{
			Mode:               "mock",
			Locale:             "en-IN",
			VoiceProvider:      "Google",
			Rate:               0.92,
			Pitch:              1.0,
			ReplayDelayMS:      70,
			ResolveTimeoutMS:   2000,
			MockWordMS:         180,
			MockCatalogDelayMS: 0,
		},
		Recognition: RecognitionConfig{
			Mode:   "mock",
			Locale: "en-IN",
		},
		Assistant: AssistantConfig{
			Enabled:   true,
			Mode:      "mock",
			Endpoint:  "http://localhost:8000",
			TimeoutMS: 15000,
		},
		Surfaces: SurfacesConfig{
			Enabled: true,
		},
		Deck: DeckConfig{
			Path: "",
		},
		Gate: GateConfig{
			AccessCode: "2468",
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
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate re-checks a configuration after the caller modified it, for
// example when command-line flags override loaded values.
func Validate(cfg Config) error {
	return validate(cfg)
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "ELEXICO_RUNTIME_NAME")
	overrideString(&cfg.Environment, "ELEXICO_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "ELEXICO_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "ELEXICO_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "ELEXICO_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "ELEXICO_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "ELEXICO_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "ELEXICO_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "ELEXICO_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "ELEXICO_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "ELEXICO_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "ELEXICO_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "ELEXICO_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "ELEXICO_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "ELEXICO_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "ELEXICO_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "ELEXICO_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Node.ID, "ELEXICO_NODE_ID")
	overrideString(&cfg.Node.Role, "ELEXICO_NODE_ROLE")
	overrideInt(&cfg.Node.HeartbeatInterval, "ELEXICO_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeout, "ELEXICO_NODE_HEARTBEAT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "ELEXICO_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "ELEXICO_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "ELEXICO_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "ELEXICO_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "ELEXICO_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Synthesis.Mode, "ELEXICO_SYNTHESIS_MODE")
	overrideString(&cfg.Synthesis.Command, "ELEXICO_SYNTHESIS_COMMAND")
	overrideString(&cfg.Synthesis.VoicesCommand, "ELEXICO_SYNTHESIS_VOICES_COMMAND")
	overrideString(&cfg.Synthesis.Locale, "ELEXICO_SYNTHESIS_LOCALE")
	overrideString(&cfg.Synthesis.VoiceProvider, "ELEXICO_SYNTHESIS_VOICE_PROVIDER")
	overrideFloat(&cfg.Synthesis.Rate, "ELEXICO_SYNTHESIS_RATE")
	overrideFloat(&cfg.Synthesis.Pitch, "ELEXICO_SYNTHESIS_PITCH")
	overrideInt(&cfg.Synthesis.ReplayDelayMS, "ELEXICO_SYNTHESIS_REPLAY_DELAY_MS")
	overrideInt(&cfg.Synthesis.ResolveTimeoutMS, "ELEXICO_SYNTHESIS_RESOLVE_TIMEOUT_MS")
	overrideInt(&cfg.Synthesis.MockWordMS, "ELEXICO_SYNTHESIS_MOCK_WORD_MS")
	overrideInt(&cfg.Synthesis.MockCatalogDelayMS, "ELEXICO_SYNTHESIS_MOCK_CATALOG_DELAY_MS")
	overrideString(&cfg.Recognition.Mode, "ELEXICO_RECOGNITION_MODE")
	overrideString(&cfg.Recognition.Command, "ELEXICO_RECOGNITION_COMMAND")
	overrideString(&cfg.Recognition.Locale, "ELEXICO_RECOGNITION_LOCALE")
	overrideBool(&cfg.Assistant.Enabled, "ELEXICO_ASSISTANT_ENABLED")
	overrideString(&cfg.Assistant.Mode, "ELEXICO_ASSISTANT_MODE")
	overrideString(&cfg.Assistant.Endpoint, "ELEXICO_ASSISTANT_ENDPOINT")
	overrideInt(&cfg.Assistant.TimeoutMS, "ELEXICO_ASSISTANT_TIMEOUT_MS")
	overrideBool(&cfg.Surfaces.Enabled, "ELEXICO_SURFACES_ENABLED")
	overrideString(&cfg.Deck.Path, "ELEXICO_DECK_PATH")
	overrideString(&cfg.Gate.AccessCode, "ELEXICO_GATE_ACCESS_CODE")
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

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
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
	if cfg.Node.ID == "" {
		return errors.New("node.id must not be empty")
	}
	if cfg.Node.HeartbeatInterval <= 0 {
		return errors.New("node.heartbeat_interval_ms must be positive")
	}
	if cfg.Node.HeartbeatTimeout <= cfg.Node.HeartbeatInterval {
		return errors.New("node.heartbeat_timeout_ms must be greater than heartbeat interval")
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
	switch cfg.Synthesis.Mode {
	case "mock", "exec":
	default:
		return errors.New("synthesis.mode must be one of mock|exec")
	}
	if cfg.Synthesis.Mode == "exec" && cfg.Synthesis.Command == "" {
		return errors.New("synthesis.command must be set when mode=exec")
	}
	if cfg.Synthesis.Locale == "" {
		return errors.New("synthesis.locale must not be empty")
	}
	if cfg.Synthesis.Rate <= 0 || cfg.Synthesis.Rate > 4 {
		return errors.New("synthesis.rate must be in (0, 4]")
	}
	if cfg.Synthesis.Pitch <= 0 || cfg.Synthesis.Pitch > 2 {
		return errors.New("synthesis.pitch must be in (0, 2]")
	}
	if cfg.Synthesis.ReplayDelayMS < 0 {
		return errors.New("synthesis.replay_delay_ms must be >= 0")
	}
	if cfg.Synthesis.ResolveTimeoutMS <= 0 {
		return errors.New("synthesis.resolve_timeout_ms must be positive")
	}
	switch cfg.Recognition.Mode {
	case "mock", "exec", "off":
	default:
		return errors.New("recognition.mode must be one of mock|exec|off")
	}
	if cfg.Recognition.Mode == "exec" && cfg.Recognition.Command == "" {
		return errors.New("recognition.command must be set when mode=exec")
	}
	if cfg.Assistant.Enabled {
		switch cfg.Assistant.Mode {
		case "mock", "http":
		default:
			return errors.New("assistant.mode must be one of mock|http")
		}
		if cfg.Assistant.Mode == "http" && cfg.Assistant.Endpoint == "" {
			return errors.New("assistant.endpoint must be set when mode=http")
		}
		if cfg.Assistant.TimeoutMS <= 0 {
			return errors.New("assistant.timeout_ms must be positive")
		}
	}
	if len(cfg.Gate.AccessCode) != 4 {
		return errors.New("gate.access_code must be exactly 4 digits")
	}
	for _, r := range cfg.Gate.AccessCode {
		if r < '0' || r > '9' {
			return errors.New("gate.access_code must be exactly 4 digits")
		}
	}
	return nil
}
