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
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
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

type CaptureConfig struct {
	Mode            string `yaml:"mode"` // mock, exec
	Command         string `yaml:"command"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	FrameDurationMS int    `yaml:"frame_duration_ms"`
	MaxClipSeconds  int    `yaml:"max_clip_seconds"`
}

type LocalASRConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Mode           string `yaml:"mode"` // mock, exec
	Command        string `yaml:"command"`
	ModelPath      string `yaml:"model_path"`
	Language       string `yaml:"language"`
	PartialEveryMS int    `yaml:"partial_every_ms"`
	PublishInterim bool   `yaml:"publish_interim"`
}

type ExtractorConfig struct {
	BaseURL   string `yaml:"base_url"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type LedgerConfig struct {
	BaseURL       string `yaml:"base_url"`
	TimeoutMS     int    `yaml:"timeout_ms"`
	SessionCookie string `yaml:"session_cookie"`
}

type SessionConfig struct {
	MergePolicy string `yaml:"merge_policy"` // replace, prefer_filled
}

type JournalConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type Config struct {
	ServiceName string          `yaml:"service_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Capture     CaptureConfig   `yaml:"capture"`
	LocalASR    LocalASRConfig  `yaml:"local_asr"`
	Extractor   ExtractorConfig `yaml:"extractor"`
	Ledger      LedgerConfig    `yaml:"ledger"`
	Session     SessionConfig   `yaml:"session"`
	Journal     JournalConfig   `yaml:"journal"`
}

func Default() Config {
	return Config{
		ServiceName: "udhaard",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8090,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Capture: CaptureConfig{
			Mode:            "mock",
			SampleRate:      16000,
			Channels:        1,
			FrameDurationMS: 20,
			MaxClipSeconds:  120,
		},
		LocalASR: LocalASRConfig{
			Enabled:        false,
			Mode:           "mock",
			PartialEveryMS: 800,
			PublishInterim: true,
		},
		Extractor: ExtractorConfig{
			BaseURL:   "http://localhost:5000",
			TimeoutMS: 45000,
		},
		Ledger: LedgerConfig{
			BaseURL:   "http://localhost:5000",
			TimeoutMS: 15000,
		},
		Session: SessionConfig{
			MergePolicy: "replace",
		},
		Journal: JournalConfig{
			Path:          "./data/udhaar-sessions.db",
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
	overrideString(&cfg.ServiceName, "UDHAAR_SERVICE_NAME")
	overrideString(&cfg.Environment, "UDHAAR_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "UDHAAR_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "UDHAAR_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "UDHAAR_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "UDHAAR_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "UDHAAR_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Embedded, "UDHAAR_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "UDHAAR_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "UDHAAR_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "UDHAAR_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "UDHAAR_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "UDHAAR_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "UDHAAR_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "UDHAAR_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Capture.Mode, "UDHAAR_CAPTURE_MODE")
	overrideString(&cfg.Capture.Command, "UDHAAR_CAPTURE_COMMAND")
	overrideInt(&cfg.Capture.SampleRate, "UDHAAR_CAPTURE_SAMPLE_RATE")
	overrideInt(&cfg.Capture.Channels, "UDHAAR_CAPTURE_CHANNELS")
	overrideInt(&cfg.Capture.FrameDurationMS, "UDHAAR_CAPTURE_FRAME_DURATION_MS")
	overrideInt(&cfg.Capture.MaxClipSeconds, "UDHAAR_CAPTURE_MAX_CLIP_SECONDS")
	overrideBool(&cfg.LocalASR.Enabled, "UDHAAR_LOCAL_ASR_ENABLED")
	overrideString(&cfg.LocalASR.Mode, "UDHAAR_LOCAL_ASR_MODE")
	overrideString(&cfg.LocalASR.Command, "UDHAAR_LOCAL_ASR_COMMAND")
	overrideString(&cfg.LocalASR.ModelPath, "UDHAAR_LOCAL_ASR_MODEL_PATH")
	overrideString(&cfg.LocalASR.Language, "UDHAAR_LOCAL_ASR_LANGUAGE")
	overrideInt(&cfg.LocalASR.PartialEveryMS, "UDHAAR_LOCAL_ASR_PARTIAL_EVERY_MS")
	overrideBool(&cfg.LocalASR.PublishInterim, "UDHAAR_LOCAL_ASR_PUBLISH_INTERIM")
	overrideString(&cfg.Extractor.BaseURL, "UDHAAR_EXTRACTOR_BASE_URL")
	overrideInt(&cfg.Extractor.TimeoutMS, "UDHAAR_EXTRACTOR_TIMEOUT_MS")
	overrideString(&cfg.Ledger.BaseURL, "UDHAAR_LEDGER_BASE_URL")
	overrideInt(&cfg.Ledger.TimeoutMS, "UDHAAR_LEDGER_TIMEOUT_MS")
	overrideString(&cfg.Ledger.SessionCookie, "UDHAAR_LEDGER_SESSION_COOKIE")
	overrideString(&cfg.Session.MergePolicy, "UDHAAR_SESSION_MERGE_POLICY")
	overrideString(&cfg.Journal.Path, "UDHAAR_JOURNAL_PATH")
	overrideString(&cfg.Journal.RetentionMode, "UDHAAR_JOURNAL_RETENTION_MODE")
	overrideInt(&cfg.Journal.RetentionDays, "UDHAAR_JOURNAL_RETENTION_DAYS")
	overrideInt(&cfg.Journal.MaxSessions, "UDHAAR_JOURNAL_MAX_SESSIONS")
	overrideBool(&cfg.Journal.VacuumOnStart, "UDHAAR_JOURNAL_VACUUM_ON_START")
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
	if cfg.ServiceName == "" {
		return errors.New("service_name must not be empty")
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
	switch cfg.Capture.Mode {
	case "mock", "exec":
	default:
		return errors.New("capture.mode must be one of mock|exec")
	}
	if cfg.Capture.Mode == "exec" && cfg.Capture.Command == "" {
		return errors.New("capture.command must be set when mode=exec")
	}
	if cfg.Capture.SampleRate <= 0 {
		return errors.New("capture.sample_rate must be positive")
	}
	if cfg.Capture.Channels <= 0 {
		return errors.New("capture.channels must be positive")
	}
	if cfg.Capture.FrameDurationMS <= 0 {
		return errors.New("capture.frame_duration_ms must be positive")
	}
	if cfg.Capture.MaxClipSeconds <= 0 {
		return errors.New("capture.max_clip_seconds must be positive")
	}
	if cfg.LocalASR.Enabled {
		switch cfg.LocalASR.Mode {
		case "mock", "exec":
		default:
			return errors.New("local_asr.mode must be one of mock|exec")
		}
		if cfg.LocalASR.Mode == "exec" && cfg.LocalASR.Command == "" {
			return errors.New("local_asr.command must be set when mode=exec")
		}
	}
	if cfg.Extractor.BaseURL == "" {
		return errors.New("extractor.base_url must not be empty")
	}
	if cfg.Extractor.TimeoutMS <= 0 {
		return errors.New("extractor.timeout_ms must be positive")
	}
	if cfg.Ledger.BaseURL == "" {
		return errors.New("ledger.base_url must not be empty")
	}
	if cfg.Ledger.TimeoutMS <= 0 {
		return errors.New("ledger.timeout_ms must be positive")
	}
	switch cfg.Session.MergePolicy {
	case "replace", "prefer_filled":
	default:
		return errors.New("session.merge_policy must be one of replace|prefer_filled")
	}
	if cfg.Journal.Path == "" {
		return errors.New("journal.path must not be empty")
	}
	switch cfg.Journal.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("journal.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.Journal.RetentionDays < 0 {
		return errors.New("journal.retention_days must be >= 0")
	}
	return nil
}
