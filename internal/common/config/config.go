// Package config provides configuration management for sessiontrail.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for sessiontrail.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	MongoDB MongoDBConfig `mapstructure:"mongodb"`
	Viewer  ViewerConfig  `mapstructure:"viewer"`
	NATS    NATSConfig    `mapstructure:"nats"`
	MCP     MCPConfig     `mapstructure:"mcp"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration for the viewer API.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// MongoDBConfig holds MongoDB connection configuration. When
// ConnectionString is empty, the URI is assembled from SecretJSON.
type MongoDBConfig struct {
	ConnectionString string `mapstructure:"connectionString"`

	// SecretJSON carries {"username","password","host","port"} either
	// inline or as "@/path/to/file" pointing at a file with that JSON,
	// the shape secret managers typically mount.
	SecretJSON string `mapstructure:"secretJson"`

	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`

	MaxPoolSize              uint64 `mapstructure:"maxPoolSize"`
	MinPoolSize              uint64 `mapstructure:"minPoolSize"`
	MaxIdleTimeMS            int    `mapstructure:"maxIdleTimeMS"`
	ServerSelectionTimeoutMS int    `mapstructure:"serverSelectionTimeoutMS"`
	ConnectTimeoutMS         int    `mapstructure:"connectTimeoutMS"`
	TimeoutMS                int    `mapstructure:"timeoutMS"`
}

// ViewerConfig holds the session viewer's access control and query limits.
type ViewerConfig struct {
	// BackendPassword is the plaintext global viewer password. When empty
	// a random one is generated at load time; callers should log it so
	// development instances stay reachable.
	BackendPassword string `mapstructure:"backendPassword"`

	DefaultPageSize int `mapstructure:"defaultPageSize"`
	MaxPageSize     int `mapstructure:"maxPageSize"`

	// EnumFields lists dotted metadata paths offered as enum filters,
	// comma-separated (e.g. "metadata.env,metadata.tier").
	EnumFields    string `mapstructure:"enumFields"`
	EnumMaxValues int    `mapstructure:"enumMaxValues"`

	// MetadataFields is the allow-list of metadata keys agents may write
	// through the metadata tool. Empty means all keys are accepted.
	MetadataFields []string `mapstructure:"metadataFields"`

	ApplicationName string `mapstructure:"applicationName"`

	RateLimitPerMinute int `mapstructure:"rateLimitPerMinute"`
	RateLimitBurst     int `mapstructure:"rateLimitBurst"`

	generatedPassword bool
}

// NATSConfig holds NATS messaging configuration.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// MCPConfig holds the embedded MCP server configuration.
type MCPConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// MaxIdleTimeDuration returns the connection idle ceiling as a time.Duration.
func (m *MongoDBConfig) MaxIdleTimeDuration() time.Duration {
	return time.Duration(m.MaxIdleTimeMS) * time.Millisecond
}

// ServerSelectionTimeoutDuration returns the server selection timeout as a time.Duration.
func (m *MongoDBConfig) ServerSelectionTimeoutDuration() time.Duration {
	return time.Duration(m.ServerSelectionTimeoutMS) * time.Millisecond
}

// ConnectTimeoutDuration returns the connect timeout as a time.Duration.
func (m *MongoDBConfig) ConnectTimeoutDuration() time.Duration {
	return time.Duration(m.ConnectTimeoutMS) * time.Millisecond
}

// TimeoutDuration returns the per-operation timeout as a time.Duration.
func (m *MongoDBConfig) TimeoutDuration() time.Duration {
	return time.Duration(m.TimeoutMS) * time.Millisecond
}

// mongoSecret is the JSON shape carried by MongoDBConfig.SecretJSON.
type mongoSecret struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
}

// ConnectionURI returns the MongoDB connection string, assembling one from
// SecretJSON when ConnectionString is not set directly.
func (m *MongoDBConfig) ConnectionURI() (string, error) {
	if m.ConnectionString != "" {
		return m.ConnectionString, nil
	}
	if m.SecretJSON == "" {
		return "", fmt.Errorf("mongodb connection requires connectionString or secretJson")
	}

	raw := m.SecretJSON
	if path, ok := strings.CutPrefix(raw, "@"); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read mongodb secret file: %w", err)
		}
		raw = string(data)
	}

	var secret mongoSecret
	if err := json.Unmarshal([]byte(raw), &secret); err != nil {
		return "", fmt.Errorf("failed to parse mongodb secret: %w", err)
	}
	if secret.Host == "" {
		return "", fmt.Errorf("mongodb secret is missing host")
	}
	if secret.Port == 0 {
		secret.Port = 27017
	}

	if secret.Username == "" {
		return fmt.Sprintf("mongodb://%s:%d/", secret.Host, secret.Port), nil
	}
	return fmt.Sprintf("mongodb://%s:%s@%s:%d/",
		url.QueryEscape(secret.Username), url.QueryEscape(secret.Password),
		secret.Host, secret.Port), nil
}

// EnumFieldList returns the configured enum fields as a slice.
func (v *ViewerConfig) EnumFieldList() []string {
	if v.EnumFields == "" {
		return nil
	}
	var fields []string
	for _, field := range strings.Split(v.EnumFields, ",") {
		if field = strings.TrimSpace(field); field != "" {
			fields = append(fields, field)
		}
	}
	return fields
}

// BackendPasswordGenerated reports whether the global viewer password was
// auto-generated because none was configured.
func (v *ViewerConfig) BackendPasswordGenerated() bool {
	return v.generatedPassword
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
// Returns "json" if running in Kubernetes or other production environments.
// Returns "console" for terminal/development use (human-readable format).
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("SESSIONTRAIL_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "console"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8882)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// MongoDB defaults
	v.SetDefault("mongodb.connectionString", "")
	v.SetDefault("mongodb.secretJson", "")
	v.SetDefault("mongodb.database", "sessiontrail")
	v.SetDefault("mongodb.collection", "sessions")
	v.SetDefault("mongodb.maxPoolSize", 100)
	v.SetDefault("mongodb.minPoolSize", 10)
	v.SetDefault("mongodb.maxIdleTimeMS", 30000)
	v.SetDefault("mongodb.serverSelectionTimeoutMS", 5000)
	v.SetDefault("mongodb.connectTimeoutMS", 10000)
	v.SetDefault("mongodb.timeoutMS", 30000)

	// Viewer defaults
	v.SetDefault("viewer.backendPassword", "")
	v.SetDefault("viewer.defaultPageSize", 20)
	v.SetDefault("viewer.maxPageSize", 100)
	v.SetDefault("viewer.enumFields", "")
	v.SetDefault("viewer.enumMaxValues", 50)
	v.SetDefault("viewer.metadataFields", []string{})
	v.SetDefault("viewer.applicationName", "sessiontrail")
	v.SetDefault("viewer.rateLimitPerMinute", 300)
	v.SetDefault("viewer.rateLimitBurst", 50)

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.maxReconnects", 10)

	// MCP defaults
	v.SetDefault("mcp.port", 9090)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix SESSIONTRAIL_ with snake_case naming.
// Config file should be named sessiontrail.yaml and placed in the current
// directory or /etc/sessiontrail/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("SESSIONTRAIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys).
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion,
	// so we explicitly bind keys where env var naming differs from config key naming.
	_ = v.BindEnv("mongodb.connectionString", "SESSIONTRAIL_MONGODB_CONNECTION_STRING")
	_ = v.BindEnv("mongodb.secretJson", "SESSIONTRAIL_MONGODB_SECRET_JSON")
	_ = v.BindEnv("mongodb.maxPoolSize", "SESSIONTRAIL_MONGODB_MAX_POOL_SIZE")
	_ = v.BindEnv("mongodb.minPoolSize", "SESSIONTRAIL_MONGODB_MIN_POOL_SIZE")
	_ = v.BindEnv("viewer.backendPassword", "SESSIONTRAIL_VIEWER_BACKEND_PASSWORD")
	_ = v.BindEnv("viewer.defaultPageSize", "SESSIONTRAIL_VIEWER_DEFAULT_PAGE_SIZE")
	_ = v.BindEnv("viewer.maxPageSize", "SESSIONTRAIL_VIEWER_MAX_PAGE_SIZE")
	_ = v.BindEnv("viewer.enumFields", "SESSIONTRAIL_VIEWER_ENUM_FIELDS")
	_ = v.BindEnv("viewer.enumMaxValues", "SESSIONTRAIL_VIEWER_ENUM_MAX_VALUES")
	_ = v.BindEnv("viewer.metadataFields", "SESSIONTRAIL_VIEWER_METADATA_FIELDS")
	_ = v.BindEnv("viewer.applicationName", "SESSIONTRAIL_VIEWER_APPLICATION_NAME")
	_ = v.BindEnv("viewer.rateLimitPerMinute", "SESSIONTRAIL_VIEWER_RATE_LIMIT_PER_MINUTE")
	_ = v.BindEnv("viewer.rateLimitBurst", "SESSIONTRAIL_VIEWER_RATE_LIMIT_BURST")
	_ = v.BindEnv("server.readTimeout", "SESSIONTRAIL_SERVER_READ_TIMEOUT")
	_ = v.BindEnv("server.writeTimeout", "SESSIONTRAIL_SERVER_WRITE_TIMEOUT")
	_ = v.BindEnv("logging.outputPath", "SESSIONTRAIL_LOGGING_OUTPUT_PATH")

	// Configure config file
	v.SetConfigName("sessiontrail")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/sessiontrail/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
// In development mode (default), most fields are optional.
func validate(cfg *Config) error {
	var errs []string

	// Server validation - always required
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	// MongoDB validation - the connection source itself is checked lazily
	// by ConnectionURI so tools that never touch the database still load.
	if cfg.MongoDB.Database == "" {
		errs = append(errs, "mongodb.database is required")
	}
	if cfg.MongoDB.Collection == "" {
		errs = append(errs, "mongodb.collection is required")
	}

	// Viewer validation - generate a random password if not set (dev mode)
	if cfg.Viewer.BackendPassword == "" {
		password, err := generateBackendPassword()
		if err != nil {
			return err
		}
		cfg.Viewer.BackendPassword = password
		cfg.Viewer.generatedPassword = true
	}
	if cfg.Viewer.DefaultPageSize <= 0 {
		errs = append(errs, "viewer.defaultPageSize must be positive")
	}
	if cfg.Viewer.MaxPageSize < cfg.Viewer.DefaultPageSize {
		errs = append(errs, "viewer.maxPageSize must be at least viewer.defaultPageSize")
	}
	if cfg.Viewer.EnumMaxValues <= 0 {
		errs = append(errs, "viewer.enumMaxValues must be positive")
	}
	if cfg.Viewer.RateLimitPerMinute < 0 {
		errs = append(errs, "viewer.rateLimitPerMinute must not be negative")
	}

	// MCP validation
	if cfg.MCP.Port <= 0 || cfg.MCP.Port > 65535 {
		errs = append(errs, "mcp.port must be between 1 and 65535")
	}

	// NATS validation - optional (uses in-memory event bus if not set)

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "console": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, console, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}

// generateBackendPassword generates a random viewer password for development
// mode. In production, users should set SESSIONTRAIL_VIEWER_BACKEND_PASSWORD.
func generateBackendPassword() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate viewer password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
