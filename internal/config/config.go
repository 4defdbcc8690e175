package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	Traces       bool   `yaml:"traces"`
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
	Bouyomi     BouyomiConfig    `yaml:"bouyomi"`
	Speech      SpeechConfig     `yaml:"speech"`
	Monitor     MonitorConfig    `yaml:"monitor"`
	EventStore  EventStoreConfig `yaml:"event_store"`
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

// BouyomiConfig locates the BouyomiChan instance and the voice used when a
// request does not carry its own.
type BouyomiConfig struct {
	Host             string      `yaml:"host"`
	Port             int         `yaml:"port"`
	ConnectTimeoutMS int         `yaml:"connect_timeout_ms"`
	IOTimeoutMS      int         `yaml:"io_timeout_ms"`
	Voice            VoiceConfig `yaml:"voice"`
}

type VoiceConfig struct {
	Code   int `yaml:"code"`
	Voice  int `yaml:"voice"`
	Volume int `yaml:"volume"`
	Speed  int `yaml:"speed"`
	Tone   int `yaml:"tone"`
}

type SpeechConfig struct {
	Enabled      bool    `yaml:"enabled"`
	RatePerSec   float64 `yaml:"rate_per_sec"`
	Burst        int     `yaml:"burst"`
	MaxTextBytes int     `yaml:"max_text_bytes"`
	WaitLimitSec int     `yaml:"wait_limit_sec"`
}

type MonitorConfig struct {
	Enabled    bool `yaml:"enabled"`
	IntervalMS int  `yaml:"interval_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxCommands   int    `yaml:"max_commands"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-bouyomi",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Bouyomi: BouyomiConfig{
			Host:             "127.0.0.1",
			Port:             50001,
			ConnectTimeoutMS: 3000,
			IOTimeoutMS:      3000,
			Voice: VoiceConfig{
				Code:   0,
				Voice:  0,
				Volume: 80,
				Speed:  100,
				Tone:   100,
			},
		},
		Speech: SpeechConfig{
			Enabled:      true,
			RatePerSec:   5,
			Burst:        10,
			MaxTextBytes: 4096,
			WaitLimitSec: 60,
		},
		Monitor: MonitorConfig{
			Enabled:    true,
			IntervalMS: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/bouyomi-commands.db",
			RetentionMode: "persistent",
			RetentionDays: 30,
			MaxCommands:   100000,
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies LOQA_*
// environment overrides. A .env file in the working directory is loaded
// first when present; variables already set win over it.
func Load(path string) (Config, error) {
	cfg := Default()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("failed to read .env file: %w", err)
	}

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
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.Traces, "LOQA_TELEMETRY_TRACES")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Bouyomi.Host, "LOQA_BOUYOMI_HOST")
	overrideInt(&cfg.Bouyomi.Port, "LOQA_BOUYOMI_PORT")
	overrideInt(&cfg.Bouyomi.ConnectTimeoutMS, "LOQA_BOUYOMI_CONNECT_TIMEOUT_MS")
	overrideInt(&cfg.Bouyomi.IOTimeoutMS, "LOQA_BOUYOMI_IO_TIMEOUT_MS")
	overrideInt(&cfg.Bouyomi.Voice.Code, "LOQA_BOUYOMI_VOICE_CODE")
	overrideInt(&cfg.Bouyomi.Voice.Voice, "LOQA_BOUYOMI_VOICE")
	overrideInt(&cfg.Bouyomi.Voice.Volume, "LOQA_BOUYOMI_VOLUME")
	overrideInt(&cfg.Bouyomi.Voice.Speed, "LOQA_BOUYOMI_SPEED")
	overrideInt(&cfg.Bouyomi.Voice.Tone, "LOQA_BOUYOMI_TONE")
	overrideBool(&cfg.Speech.Enabled, "LOQA_SPEECH_ENABLED")
	overrideFloat(&cfg.Speech.RatePerSec, "LOQA_SPEECH_RATE_PER_SEC")
	overrideInt(&cfg.Speech.Burst, "LOQA_SPEECH_BURST")
	overrideInt(&cfg.Speech.MaxTextBytes, "LOQA_SPEECH_MAX_TEXT_BYTES")
	overrideInt(&cfg.Speech.WaitLimitSec, "LOQA_SPEECH_WAIT_LIMIT_SEC")
	overrideBool(&cfg.Monitor.Enabled, "LOQA_MONITOR_ENABLED")
	overrideInt(&cfg.Monitor.IntervalMS, "LOQA_MONITOR_INTERVAL_MS")
	overrideString(&cfg.EventStore.Path, "LOQA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxCommands, "LOQA_EVENT_STORE_MAX_COMMANDS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_EVENT_STORE_VACUUM_ON_START")
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
	if cfg.Bouyomi.Host == "" {
		return errors.New("bouyomi.host must not be empty")
	}
	if cfg.Bouyomi.Port <= 0 || cfg.Bouyomi.Port > 65535 {
		return errors.New("bouyomi.port must be between 1 and 65535")
	}
	if cfg.Bouyomi.ConnectTimeoutMS < 0 || cfg.Bouyomi.IOTimeoutMS < 0 {
		return errors.New("bouyomi timeouts must be >= 0")
	}
	// Voice values are passed through to BouyomiChan untouched; only the
	// wire width is enforced here.
	v := cfg.Bouyomi.Voice
	if v.Code < 0 || v.Code > 255 {
		return errors.New("bouyomi.voice.code must fit in an unsigned byte")
	}
	for name, value := range map[string]int{"voice": v.Voice, "volume": v.Volume, "speed": v.Speed, "tone": v.Tone} {
		if value < -32768 || value > 32767 {
			return fmt.Errorf("bouyomi.voice.%s must fit in a signed 16-bit integer", name)
		}
	}
	if cfg.Speech.Enabled {
		if cfg.Speech.RatePerSec <= 0 {
			return errors.New("speech.rate_per_sec must be positive")
		}
		if cfg.Speech.Burst <= 0 {
			return errors.New("speech.burst must be >= 1")
		}
		if cfg.Speech.MaxTextBytes < 0 {
			return errors.New("speech.max_text_bytes must be >= 0")
		}
	}
	if cfg.Monitor.Enabled && cfg.Monitor.IntervalMS <= 0 {
		return errors.New("monitor.interval_ms must be positive")
	}
	if cfg.EventStore.Path == "" && cfg.EventStore.RetentionMode != "ephemeral" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	return nil
}
