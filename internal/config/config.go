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
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Gateway     GatewayConfig    `yaml:"gateway"`
	Session     SessionConfig    `yaml:"session"`
	Audio       AudioConfig      `yaml:"audio"`
	Transcripts TranscriptConfig `yaml:"transcripts"`
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

// GatewayConfig points at the service-desk gateway that proxies the
// realtime speech API and executes ticket tools.
type GatewayConfig struct {
	BaseURL      string `yaml:"base_url"`
	RealtimeURL  string `yaml:"realtime_url"`
	TokenEnabled bool   `yaml:"token_enabled"`
	DialTimeout  int    `yaml:"dial_timeout_ms"`
}

type SessionConfig struct {
	AutoConnect        bool `yaml:"auto_connect"`
	ReconnectEnabled   bool `yaml:"reconnect_enabled"`
	ReconnectBackoffMS int  `yaml:"reconnect_backoff_ms"`
	ReplayTurns        int  `yaml:"replay_turns"`
	PreserveContext    bool `yaml:"preserve_context"`
}

type AudioConfig struct {
	SampleRate       int    `yaml:"sample_rate"`
	FrameSamples     int    `yaml:"frame_samples"`
	SafetyMarginMS   int    `yaml:"safety_margin_ms"`
	PlaybackBufferMS int    `yaml:"playback_buffer_ms"`
	CaptureDevice    string `yaml:"capture_device"`
}

type TranscriptConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

func Default() Config {
	return Config{
		RuntimeName: "rexd",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8090,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9092",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Gateway: GatewayConfig{
			BaseURL:      "http://localhost:8000",
			RealtimeURL:  "ws://localhost:8000/api/ws",
			TokenEnabled: false,
			DialTimeout:  15000,
		},
		Session: SessionConfig{
			AutoConnect:        true,
			ReconnectEnabled:   true,
			ReconnectBackoffMS: 1200,
			ReplayTurns:        30,
			PreserveContext:    true,
		},
		Audio: AudioConfig{
			SampleRate:       24000,
			FrameSamples:     1024,
			SafetyMarginMS:   20,
			PlaybackBufferMS: 100,
		},
		Transcripts: TranscriptConfig{
			Path:          "./data/rex-transcripts.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
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

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "REX_RUNTIME_NAME")
	overrideString(&cfg.Environment, "REX_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "REX_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "REX_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "REX_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "REX_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "REX_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "REX_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "REX_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "REX_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "REX_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "REX_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "REX_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "REX_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "REX_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "REX_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Gateway.BaseURL, "REX_GATEWAY_BASE_URL")
	overrideString(&cfg.Gateway.RealtimeURL, "REX_GATEWAY_REALTIME_URL")
	overrideBool(&cfg.Gateway.TokenEnabled, "REX_GATEWAY_TOKEN_ENABLED")
	overrideInt(&cfg.Gateway.DialTimeout, "REX_GATEWAY_DIAL_TIMEOUT_MS")
	overrideBool(&cfg.Session.AutoConnect, "REX_SESSION_AUTO_CONNECT")
	overrideBool(&cfg.Session.ReconnectEnabled, "REX_SESSION_RECONNECT_ENABLED")
	overrideInt(&cfg.Session.ReconnectBackoffMS, "REX_SESSION_RECONNECT_BACKOFF_MS")
	overrideInt(&cfg.Session.ReplayTurns, "REX_SESSION_REPLAY_TURNS")
	overrideBool(&cfg.Session.PreserveContext, "REX_SESSION_PRESERVE_CONTEXT")
	overrideInt(&cfg.Audio.SampleRate, "REX_AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.FrameSamples, "REX_AUDIO_FRAME_SAMPLES")
	overrideInt(&cfg.Audio.SafetyMarginMS, "REX_AUDIO_SAFETY_MARGIN_MS")
	overrideInt(&cfg.Audio.PlaybackBufferMS, "REX_AUDIO_PLAYBACK_BUFFER_MS")
	overrideString(&cfg.Audio.CaptureDevice, "REX_AUDIO_CAPTURE_DEVICE")
	overrideString(&cfg.Transcripts.Path, "REX_TRANSCRIPTS_PATH")
	overrideString(&cfg.Transcripts.RetentionMode, "REX_TRANSCRIPTS_RETENTION_MODE")
	overrideInt(&cfg.Transcripts.RetentionDays, "REX_TRANSCRIPTS_RETENTION_DAYS")
	overrideInt(&cfg.Transcripts.MaxSessions, "REX_TRANSCRIPTS_MAX_SESSIONS")
	overrideBool(&cfg.Transcripts.VacuumOnStart, "REX_TRANSCRIPTS_VACUUM_ON_START")
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
	if cfg.Gateway.RealtimeURL == "" {
		return errors.New("gateway.realtime_url must not be empty")
	}
	if !strings.HasPrefix(cfg.Gateway.RealtimeURL, "ws://") && !strings.HasPrefix(cfg.Gateway.RealtimeURL, "wss://") {
		return errors.New("gateway.realtime_url must use ws:// or wss://")
	}
	if cfg.Gateway.TokenEnabled && cfg.Gateway.BaseURL == "" {
		return errors.New("gateway.base_url must be set when token_enabled is true")
	}
	if cfg.Gateway.DialTimeout <= 0 {
		return errors.New("gateway.dial_timeout_ms must be positive")
	}
	if cfg.Session.ReconnectBackoffMS <= 0 {
		return errors.New("session.reconnect_backoff_ms must be positive")
	}
	if cfg.Session.ReplayTurns < 0 {
		return errors.New("session.replay_turns must be >= 0")
	}
	if cfg.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if cfg.Audio.FrameSamples <= 0 {
		return errors.New("audio.frame_samples must be positive")
	}
	if cfg.Audio.SafetyMarginMS < 0 {
		return errors.New("audio.safety_margin_ms must be >= 0")
	}
	if cfg.Transcripts.Path == "" {
		return errors.New("transcripts.path must not be empty")
	}
	switch cfg.Transcripts.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("transcripts.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.Transcripts.RetentionDays < 0 {
		return errors.New("transcripts.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	return nil
}
