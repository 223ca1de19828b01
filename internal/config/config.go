package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix            = "CADENCE"
	defaultHTTPAddress   = "0.0.0.0:8086"
	defaultDatabasePath  = "cadence-memos.db"
	defaultLogLevel      = "info"
	defaultTranscribeURL = "https://api.openai.com/v1/audio/transcriptions"
)

// AppConfig captures runtime configuration for the memo engine and the dev
// durable-store server.
type AppConfig struct {
	HTTPAddress      string
	DatabasePath     string
	LogLevel         string
	RemoteBaseURL    string
	RemoteAPIToken   string
	TranscribeURL    string
	TranscribeAPIKey string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("transcribe.base_url", defaultTranscribeURL)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:      configViper.GetString("http.address"),
		DatabasePath:     configViper.GetString("database.path"),
		LogLevel:         configViper.GetString("log.level"),
		RemoteBaseURL:    configViper.GetString("remote.base_url"),
		RemoteAPIToken:   configViper.GetString("remote.api_token"),
		TranscribeURL:    configViper.GetString("transcribe.base_url"),
		TranscribeAPIKey: configViper.GetString("transcribe.api_key"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	return nil
}
