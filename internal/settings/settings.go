// Package settings loads process configuration for the voicegate binary from
// an optional config file and VOICEGATE_* environment variables using Viper.
package settings

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "VOICEGATE"

// Settings holds everything the server process needs to wire the engine and
// its collaborators. Library tuning stays in voiceGate.Config.
type Settings struct {
	// ListenAddr is the HTTP listen address (e.g. :8080).
	ListenAddr string `mapstructure:"listen_addr"`
	// Env is the deployment environment; "production" forbids dev mode.
	Env string `mapstructure:"env"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	// DBDriver is "sqlite3" or "pgx".
	DBDriver string `mapstructure:"db_driver"`
	DBDSN    string `mapstructure:"db_dsn"`

	// VoiceServiceURL is the base URL exposing /verify and /stt.
	VoiceServiceURL   string        `mapstructure:"voice_service_url"`
	VoiceTimeout      time.Duration `mapstructure:"voice_timeout"`
	TranscribeTimeout time.Duration `mapstructure:"transcribe_timeout"`
	SpoolDir          string        `mapstructure:"spool_dir"`
	MaxAudioBytes     int64         `mapstructure:"max_audio_bytes"`
	AutoCommit        bool          `mapstructure:"auto_commit"`

	// JWTSecret verifies HS256 tokens. JWTPublicKey (PEM, raw, or a path)
	// verifies Ed25519 tokens and wins when both are set.
	JWTSecret    string `mapstructure:"jwt_secret"`
	JWTPublicKey string `mapstructure:"jwt_public_key"`
	JWTIssuer    string `mapstructure:"jwt_issuer"`
	JWTAudience  string `mapstructure:"jwt_audience"`

	// KafkaBrokers is a comma-separated broker list; empty disables the
	// Kafka audit sink.
	KafkaBrokers string `mapstructure:"kafka_brokers"`
	KafkaTopic   string `mapstructure:"kafka_topic"`

	// ConfigPath is the config file actually read, if any.
	ConfigPath string `mapstructure:"-"`
}

var defaults = map[string]any{
	"listen_addr":        ":8080",
	"env":                "",
	"log_level":          "info",
	"redis_addr":         "localhost:6379",
	"redis_password":     "",
	"redis_db":           0,
	"db_driver":          "sqlite3",
	"db_dsn":             "file:voicegate.db?_foreign_keys=on",
	"voice_service_url":  "http://localhost:5001",
	"voice_timeout":      "5s",
	"transcribe_timeout": "10s",
	"spool_dir":          "",
	"max_audio_bytes":    10 << 20,
	"auto_commit":        false,
	"jwt_secret":         "",
	"jwt_public_key":     "",
	"jwt_issuer":         "voicegate",
	"jwt_audience":       "voicegate-api",
	"kafka_brokers":      "",
	"kafka_topic":        "voicegate-audit",
}

// Load reads configFile when set (a missing explicit file is an error), then
// applies VOICEGATE_* environment overrides. Without configFile an optional
// .env in the working directory is read.
func Load(configFile string) (*Settings, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("settings: read %s: %w", configFile, err)
		}
	} else {
		v.SetConfigFile(".env")
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			v.SetConfigFile("")
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("settings: decode: %w", err)
	}
	s.ConfigPath = v.ConfigFileUsed()

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks required fields and combinations.
func (s *Settings) Validate() error {
	if s == nil {
		return errors.New("settings: nil")
	}
	if strings.TrimSpace(s.ListenAddr) == "" {
		return errors.New("settings: listen_addr must be set")
	}
	switch s.DBDriver {
	case "sqlite3", "pgx":
	default:
		return fmt.Errorf("settings: db_driver must be sqlite3 or pgx, got %q", s.DBDriver)
	}
	if strings.TrimSpace(s.DBDSN) == "" {
		return errors.New("settings: db_dsn must be set")
	}
	if s.VoiceTimeout <= 0 || s.TranscribeTimeout <= 0 {
		return errors.New("settings: voice_timeout and transcribe_timeout must be > 0")
	}
	if s.MaxAudioBytes <= 0 {
		return errors.New("settings: max_audio_bytes must be > 0")
	}
	switch strings.ToLower(s.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("settings: unknown log_level %q", s.LogLevel)
	}
	return nil
}

// Production reports whether Env names a production deployment.
func (s *Settings) Production() bool {
	return strings.EqualFold(s.Env, "production")
}

// KafkaBrokerList returns the trimmed, non-empty broker addresses.
func (s *Settings) KafkaBrokerList() []string {
	if s == nil || s.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(s.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// AuthEnabled reports whether any JWT verification key is configured.
func (s *Settings) AuthEnabled() bool {
	return s.JWTSecret != "" || s.JWTPublicKey != ""
}
