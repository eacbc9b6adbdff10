package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix = "MOOCHIE"

	defaultHTTPAddress          = "0.0.0.0:8080"
	defaultDatabasePath         = "moochie.db"
	defaultLogLevel             = "info"
	defaultLogFormat            = "json"
	defaultGoogleJWKSURL        = "https://www.googleapis.com/oauth2/v3/certs"
	defaultTokenTTLMinutes      = 60
	defaultOwnPackage           = "com.cute.moochie"
	defaultRemoteConfigInterval = time.Hour
	defaultAMQPExchangeName     = "moochie"
	defaultAMQPExchangeType     = "topic"
	defaultRemoteConfigURL      = ""

	defaultAPIBaseURL       = "http://localhost:8080"
	defaultImageBaseURL     = "http://localhost:3000"
	defaultPreferencesPath  = "moochie-agent.db"
	defaultWidgetOutputPath = "moochie-widget.png"
	defaultSyncInterval     = 15 * time.Minute
	defaultSyncInitialDelay = 5 * time.Minute
	defaultVersionURL       = "https://jonvicbarcenas.github.io/Moochie/version.json"
	defaultKeyringFileDir   = "~/.config/moochie/keyring"
	defaultVersionTimeout   = 5 * time.Second
	minimumSyncInterval     = 15 * time.Minute
)

// ServerConfig captures runtime configuration for the API server.
type ServerConfig struct {
	HTTPAddress          string
	DatabasePath         string
	LogLevel             string
	LogFormat            string
	GoogleClientID       string
	GoogleJWKSURL        string
	SigningSecret        string
	TokenTTL             time.Duration
	OwnPackage           string
	AllowedOrigins       []string
	RemoteConfigURL      string
	RemoteConfigMinFetch time.Duration
	AMQPURI              string
	AMQPExchangeName     string
	AMQPExchangeType     string
	NotificationTimeZone string
	NotificationLocation *time.Location
}

// AgentConfig captures runtime configuration for the device agent.
type AgentConfig struct {
	APIBaseURL       string
	ImageBaseURL     string
	PreferencesPath  string
	KeyringFileDir   string
	KeyringPassword  string
	WidgetOutputPath string
	SyncInterval     time.Duration
	SyncInitialDelay time.Duration
	VersionURL       string
	VersionTimeout   time.Duration
	LogLevel         string
	LogFormat        string
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
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("google.jwks_url", defaultGoogleJWKSURL)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("capture.own_package", defaultOwnPackage)
	configViper.SetDefault("cors.allowed_origins", []string{"*"})
	configViper.SetDefault("remote_config.url", defaultRemoteConfigURL)
	configViper.SetDefault("remote_config.min_fetch_interval", defaultRemoteConfigInterval)
	configViper.SetDefault("amqp.exchange.name", defaultAMQPExchangeName)
	configViper.SetDefault("amqp.exchange.type", defaultAMQPExchangeType)
	configViper.SetDefault("notifications.time_zone", "Local")

	configViper.SetDefault("api.base_url", defaultAPIBaseURL)
	configViper.SetDefault("image.base_url", defaultImageBaseURL)
	configViper.SetDefault("preferences.path", defaultPreferencesPath)
	configViper.SetDefault("keyring.file_dir", defaultKeyringFileDir)
	configViper.SetDefault("widget.output_path", defaultWidgetOutputPath)
	configViper.SetDefault("sync.interval", defaultSyncInterval)
	configViper.SetDefault("sync.initial_delay", defaultSyncInitialDelay)
	configViper.SetDefault("version.url", defaultVersionURL)
	configViper.SetDefault("version.timeout", defaultVersionTimeout)
}

// LoadServer parses server configuration from viper.
func LoadServer(configViper *viper.Viper) (ServerConfig, error) {
	cfg := ServerConfig{
		HTTPAddress:          configViper.GetString("http.address"),
		DatabasePath:         configViper.GetString("database.path"),
		LogLevel:             configViper.GetString("log.level"),
		LogFormat:            configViper.GetString("log.format"),
		GoogleClientID:       configViper.GetString("google.client_id"),
		GoogleJWKSURL:        configViper.GetString("google.jwks_url"),
		SigningSecret:        configViper.GetString("auth.signing_secret"),
		TokenTTL:             time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		OwnPackage:           configViper.GetString("capture.own_package"),
		AllowedOrigins:       configViper.GetStringSlice("cors.allowed_origins"),
		RemoteConfigURL:      configViper.GetString("remote_config.url"),
		RemoteConfigMinFetch: configViper.GetDuration("remote_config.min_fetch_interval"),
		AMQPURI:              configViper.GetString("amqp.uri"),
		AMQPExchangeName:     configViper.GetString("amqp.exchange.name"),
		AMQPExchangeType:     configViper.GetString("amqp.exchange.type"),
		NotificationTimeZone: configViper.GetString("notifications.time_zone"),
	}

	if err := cfg.validate(); err != nil {
		return ServerConfig{}, err
	}

	location, err := time.LoadLocation(cfg.NotificationTimeZone)
	if err != nil {
		return ServerConfig{}, fmt.Errorf("notifications.time_zone: %w", err)
	}
	cfg.NotificationLocation = location

	return cfg, nil
}

func (c ServerConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.GoogleClientID) == "" {
		return fmt.Errorf("google.client_id is required")
	}
	if strings.TrimSpace(c.GoogleJWKSURL) == "" {
		return fmt.Errorf("google.jwks_url is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token.ttl_minutes must be positive")
	}
	if c.RemoteConfigMinFetch <= 0 {
		return fmt.Errorf("remote_config.min_fetch_interval must be positive")
	}
	return nil
}

// LoadAgent parses agent configuration from viper.
func LoadAgent(configViper *viper.Viper) (AgentConfig, error) {
	cfg := AgentConfig{
		APIBaseURL:       configViper.GetString("api.base_url"),
		ImageBaseURL:     configViper.GetString("image.base_url"),
		PreferencesPath:  configViper.GetString("preferences.path"),
		KeyringFileDir:   configViper.GetString("keyring.file_dir"),
		KeyringPassword:  configViper.GetString("keyring.password"),
		WidgetOutputPath: configViper.GetString("widget.output_path"),
		SyncInterval:     configViper.GetDuration("sync.interval"),
		SyncInitialDelay: configViper.GetDuration("sync.initial_delay"),
		VersionURL:       configViper.GetString("version.url"),
		VersionTimeout:   configViper.GetDuration("version.timeout"),
		LogLevel:         configViper.GetString("log.level"),
		LogFormat:        configViper.GetString("log.format"),
	}

	if err := cfg.validate(); err != nil {
		return AgentConfig{}, err
	}
	return cfg, nil
}

func (c AgentConfig) validate() error {
	if strings.TrimSpace(c.APIBaseURL) == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if strings.TrimSpace(c.ImageBaseURL) == "" {
		return fmt.Errorf("image.base_url is required")
	}
	if strings.TrimSpace(c.PreferencesPath) == "" {
		return fmt.Errorf("preferences.path is required")
	}
	if c.SyncInterval < minimumSyncInterval {
		return fmt.Errorf("sync.interval must be at least %s", minimumSyncInterval)
	}
	if c.SyncInitialDelay < 0 {
		return fmt.Errorf("sync.initial_delay must not be negative")
	}
	return nil
}
