// ABOUTME: Configuration loading and parsing for assistant-relay
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete assistant-relay configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Session   SessionConfig   `yaml:"session" toml:"session"`
	Assistant AssistantConfig `yaml:"assistant" toml:"assistant"`
	Relay     RelayConfig     `yaml:"relay" toml:"relay"`
	WhatsApp  WhatsAppConfig  `yaml:"whatsapp" toml:"whatsapp"`
	Matrix    MatrixConfig    `yaml:"matrix" toml:"matrix"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Telemetry TelemetryConfig `yaml:"telemetry" toml:"telemetry"`
	Messages  MessagesConfig  `yaml:"messages" toml:"messages"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`

	// DrainTimeout bounds how long shutdown waits for in-flight messages
	DrainTimeout    time.Duration `yaml:"-" toml:"-"`
	DrainTimeoutRaw string        `yaml:"drain_timeout" toml:"drain_timeout"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // Public HTTPS, needed for WhatsApp webhooks
}

// SessionConfig selects and tunes the session store
type SessionConfig struct {
	Backend     string `yaml:"backend" toml:"backend"` // memory, sqlite, postgres, redis
	SlidingTTL  bool   `yaml:"sliding_ttl" toml:"sliding_ttl"`
	KeyPrefix   string `yaml:"key_prefix" toml:"key_prefix"`
	// FrontendNamespaces adds "<frontend>:" after KeyPrefix. Off, keys are
	// KeyPrefix plus the bare user id, as earlier deployments wrote them.
	FrontendNamespaces *bool `yaml:"frontend_namespaces" toml:"frontend_namespaces"`
	MaxEntries  int    `yaml:"max_entries" toml:"max_entries"`
	SQLitePath  string `yaml:"sqlite_path" toml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn" toml:"postgres_dsn"`
	RedisURL    string `yaml:"redis_url" toml:"redis_url"`

	TTL    time.Duration `yaml:"-" toml:"-"`
	TTLRaw string        `yaml:"ttl" toml:"ttl"`
}

// AssistantConfig holds credentials for the hosted assistant backend
type AssistantConfig struct {
	APIKey       string `yaml:"api_key" toml:"api_key"`
	AssistantID  string `yaml:"assistant_id" toml:"assistant_id"`
	Organization string `yaml:"organization" toml:"organization"`
	Project      string `yaml:"project" toml:"project"`
	BaseURL      string `yaml:"base_url" toml:"base_url"`

	CallTimeout    time.Duration `yaml:"-" toml:"-"`
	CallTimeoutRaw string        `yaml:"call_timeout" toml:"call_timeout"`
}

// RelayConfig holds the per-message relay behavior
type RelayConfig struct {
	// SerializeProvisioning guards check-then-create per user. Pointer so an
	// omitted key keeps the default of true.
	SerializeProvisioning *bool         `yaml:"serialize_provisioning" toml:"serialize_provisioning"`
	WelcomeEnabled        *bool         `yaml:"welcome_enabled" toml:"welcome_enabled"`
	Polling               PollingConfig `yaml:"polling" toml:"polling"`

	WelcomeGap    time.Duration `yaml:"-" toml:"-"`
	WelcomeGapRaw string        `yaml:"welcome_gap" toml:"welcome_gap"`
}

// PollingConfig holds the run polling budget
type PollingConfig struct {
	MaxAttempts              int   `yaml:"max_attempts" toml:"max_attempts"`
	RateLimitCountsAsAttempt *bool `yaml:"rate_limit_counts_as_attempt" toml:"rate_limit_counts_as_attempt"`

	InitialDelay      time.Duration `yaml:"-" toml:"-"`
	Interval          time.Duration `yaml:"-" toml:"-"`
	RateLimitCooldown time.Duration `yaml:"-" toml:"-"`
	PollTimeout       time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	InitialDelayRaw      string `yaml:"initial_delay" toml:"initial_delay"`
	IntervalRaw          string `yaml:"interval" toml:"interval"`
	RateLimitCooldownRaw string `yaml:"rate_limit_cooldown" toml:"rate_limit_cooldown"`
	PollTimeoutRaw       string `yaml:"poll_timeout" toml:"poll_timeout"`
}

// WhatsAppConfig holds WhatsApp Cloud API integration configuration
type WhatsAppConfig struct {
	Enabled       bool   `yaml:"enabled" toml:"enabled"`
	VerifyToken   string `yaml:"verify_token" toml:"verify_token"`
	AccessToken   string `yaml:"access_token" toml:"access_token"`
	PhoneNumberID string `yaml:"phone_number_id" toml:"phone_number_id"`
	AppSecret     string `yaml:"app_secret" toml:"app_secret"`
	GraphURL      string `yaml:"graph_url" toml:"graph_url"`
	APIVersion    string `yaml:"api_version" toml:"api_version"`

	SendTimeout    time.Duration `yaml:"-" toml:"-"`
	SendTimeoutRaw string        `yaml:"send_timeout" toml:"send_timeout"`
}

// MatrixConfig holds Matrix integration configuration
type MatrixConfig struct {
	Enabled        bool     `yaml:"enabled" toml:"enabled"`
	Homeserver     string   `yaml:"homeserver" toml:"homeserver"`
	UserID         string   `yaml:"user_id" toml:"user_id"`
	AccessToken    string   `yaml:"access_token" toml:"access_token"`
	AllowedUsers   []string `yaml:"allowed_users" toml:"allowed_users"`
	AllowedRooms   []string `yaml:"allowed_rooms" toml:"allowed_rooms"`
	RenderMarkdown bool     `yaml:"render_markdown" toml:"render_markdown"`
}

// AuthConfig holds admin API authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// TelemetryConfig holds OpenTelemetry exporter configuration
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint" toml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure" toml:"insecure"`
	ServiceName  string `yaml:"service_name" toml:"service_name"`
}

// MessagesConfig overrides user-facing texts. Empty fields keep the built-in text.
type MessagesConfig struct {
	Welcome         string `yaml:"welcome" toml:"welcome"`
	Disclosure      string `yaml:"disclosure" toml:"disclosure"`
	Fallback        string `yaml:"fallback" toml:"fallback"`
	Failed          string `yaml:"failed" toml:"failed"`
	Expired         string `yaml:"expired" toml:"expired"`
	Cancelled       string `yaml:"cancelled" toml:"cancelled"`
	RequiresAction  string `yaml:"requires_action" toml:"requires_action"`
	PollTimeout     string `yaml:"poll_timeout" toml:"poll_timeout"`
	UnexpectedError string `yaml:"unexpected_error" toml:"unexpected_error"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes raw configuration content. ext selects the format (".toml" or YAML otherwise).
func Parse(data []byte, ext string) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(ext, ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// Validate checks that the configuration is internally consistent.
// Returns an error describing the first validation failure encountered.
// Missing assistant credentials are not a validation failure: the relay
// reports them per message so the webhook keeps acknowledging.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	switch c.Session.Backend {
	case "memory":
	case "sqlite":
		if c.Session.SQLitePath == "" {
			return fmt.Errorf("session.sqlite_path is required for the sqlite backend")
		}
	case "postgres":
		if c.Session.PostgresDSN == "" {
			return fmt.Errorf("session.postgres_dsn is required for the postgres backend")
		}
	case "redis":
		if c.Session.RedisURL == "" {
			return fmt.Errorf("session.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("session.backend %q is not one of memory, sqlite, postgres, redis", c.Session.Backend)
	}

	if c.Session.TTL <= 0 {
		return fmt.Errorf("session.ttl must be positive")
	}

	if c.Relay.Polling.MaxAttempts < 1 {
		return fmt.Errorf("relay.polling.max_attempts must be at least 1")
	}

	if c.Matrix.Enabled {
		if c.Matrix.Homeserver == "" || c.Matrix.UserID == "" || c.Matrix.AccessToken == "" {
			return fmt.Errorf("matrix.homeserver, matrix.user_id and matrix.access_token are required when matrix is enabled")
		}
	}

	if c.WhatsApp.Enabled && c.WhatsApp.PhoneNumberID == "" {
		return fmt.Errorf("whatsapp.phone_number_id is required when whatsapp is enabled")
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	return nil
}

// applyDefaults fills in every zero value that has a documented default
func (c *Config) applyDefaults() {
	if c.Server.DrainTimeout == 0 {
		c.Server.DrainTimeout = 60 * time.Second
	}

	if c.Session.Backend == "" {
		c.Session.Backend = "memory"
	}
	if c.Session.TTL == 0 {
		c.Session.TTL = 12 * time.Hour
	}
	if c.Session.MaxEntries == 0 {
		c.Session.MaxEntries = 10000
	}
	if c.Session.FrontendNamespaces == nil {
		c.Session.FrontendNamespaces = boolPtr(true)
	}

	if c.Assistant.CallTimeout == 0 {
		c.Assistant.CallTimeout = 15 * time.Second
	}

	if c.Relay.SerializeProvisioning == nil {
		c.Relay.SerializeProvisioning = boolPtr(true)
	}
	if c.Relay.WelcomeEnabled == nil {
		c.Relay.WelcomeEnabled = boolPtr(true)
	}
	if c.Relay.WelcomeGap == 0 {
		c.Relay.WelcomeGap = 500 * time.Millisecond
	}

	p := &c.Relay.Polling
	if p.InitialDelay == 0 {
		p.InitialDelay = 2 * time.Second
	}
	if p.Interval == 0 {
		p.Interval = 3 * time.Second
	}
	if p.MaxAttempts == 0 {
		p.MaxAttempts = 15
	}
	if p.RateLimitCooldown == 0 {
		p.RateLimitCooldown = 5 * time.Second
	}
	if p.PollTimeout == 0 {
		p.PollTimeout = 10 * time.Second
	}
	if p.RateLimitCountsAsAttempt == nil {
		p.RateLimitCountsAsAttempt = boolPtr(true)
	}

	if c.WhatsApp.GraphURL == "" {
		c.WhatsApp.GraphURL = "https://graph.facebook.com"
	}
	if c.WhatsApp.APIVersion == "" {
		c.WhatsApp.APIVersion = "v18.0"
	}
	if c.WhatsApp.SendTimeout == 0 {
		c.WhatsApp.SendTimeout = 15 * time.Second
	}

	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "assistant-relay"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.drain_timeout", cfg.Server.DrainTimeoutRaw, &cfg.Server.DrainTimeout},
		{"session.ttl", cfg.Session.TTLRaw, &cfg.Session.TTL},
		{"assistant.call_timeout", cfg.Assistant.CallTimeoutRaw, &cfg.Assistant.CallTimeout},
		{"relay.welcome_gap", cfg.Relay.WelcomeGapRaw, &cfg.Relay.WelcomeGap},
		{"relay.polling.initial_delay", cfg.Relay.Polling.InitialDelayRaw, &cfg.Relay.Polling.InitialDelay},
		{"relay.polling.interval", cfg.Relay.Polling.IntervalRaw, &cfg.Relay.Polling.Interval},
		{"relay.polling.rate_limit_cooldown", cfg.Relay.Polling.RateLimitCooldownRaw, &cfg.Relay.Polling.RateLimitCooldown},
		{"relay.polling.poll_timeout", cfg.Relay.Polling.PollTimeoutRaw, &cfg.Relay.Polling.PollTimeout},
		{"whatsapp.send_timeout", cfg.WhatsApp.SendTimeoutRaw, &cfg.WhatsApp.SendTimeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d < 0 {
			return fmt.Errorf("parsing %s %q: must not be negative", f.name, f.raw)
		}
		*f.dst = d
	}

	return nil
}

func boolPtr(b bool) *bool {
	return &b
}
