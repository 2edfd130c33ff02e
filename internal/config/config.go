// Package config provides YAML-based configuration loading for the CRM chat server.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"crmchat/server/internal/channel"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration, loaded from crmchat.yaml.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Database  DatabaseConfig  `yaml:"database"`
	Relay     RelayConfig     `yaml:"relay"`
	Messaging MessagingConfig `yaml:"messaging"`
	Campaign  CampaignConfig  `yaml:"campaign"`
	Policy    PolicyConfig    `yaml:"policy"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Port         string   `yaml:"port"`
	AllowOrigins []string `yaml:"allow_origins"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// DatabaseConfig points at the Postgres document store. An empty URL runs
// the server on the in-memory store.
type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

// RelayConfig addresses the messaging relay. Inbound deliveries must carry
// WebhookSecret in X-Webhook-Secret when it is set.
type RelayConfig struct {
	URL           string        `yaml:"url"`
	Timeout       time.Duration `yaml:"timeout"`
	WebhookSecret string        `yaml:"webhook_secret"`
}

// MessagingConfig holds the business-specific parts of outbound messaging.
type MessagingConfig struct {
	BusinessName string            `yaml:"business_name"`
	Window       time.Duration     `yaml:"window"`
	Sellers      map[string]string `yaml:"sellers"`
	SellerLabel  string            `yaml:"seller_label"`
	Template     channel.Template  `yaml:"template"`
}

type CampaignConfig struct {
	Delay time.Duration `yaml:"delay"`
}

type PolicyConfig struct {
	AdminEmails        []string `yaml:"admin_emails"`
	UnassignedReadable bool     `yaml:"unassigned_readable"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads a YAML config file from path, applies environment overrides
// and returns a validated Config. An empty path skips the file.
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	return parse(data, os.Getenv)
}

// Parse unmarshals YAML bytes into a validated Config without consulting
// the environment.
func Parse(data []byte) (*Config, error) {
	return parse(data, func(string) string { return "" })
}

func parse(data []byte, getenv func(string) string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnv(getenv)
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv lets deployment secrets and addresses override the file.
func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := getenv("RELAY_URL"); v != "" {
		c.Relay.URL = v
	}
	if v := getenv("WEBHOOK_SECRET"); v != "" {
		c.Relay.WebhookSecret = v
	}
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if len(c.Server.AllowOrigins) == 0 {
		c.Server.AllowOrigins = []string{"http://localhost:3000"}
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = 10
	}
	if c.Relay.Timeout == 0 {
		c.Relay.Timeout = 15 * time.Second
	}
	if c.Messaging.Window == 0 {
		c.Messaging.Window = channel.DefaultWindow
	}
	if c.Messaging.SellerLabel == "" {
		c.Messaging.SellerLabel = channel.DefaultSellerLabel
	}
	if c.Messaging.Template.Language == "" {
		c.Messaging.Template.Language = "es"
	}
	if c.Campaign.Delay == 0 {
		c.Campaign.Delay = 800 * time.Millisecond
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Auth.JWTSecret == "" {
		errs = append(errs, "auth.jwt_secret is required (or JWT_SECRET)")
	}
	if n, err := strconv.Atoi(c.Server.Port); err != nil || n <= 0 || n > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %q is not a valid port", c.Server.Port))
	}
	if c.Messaging.Window < 0 {
		errs = append(errs, "messaging.window must be positive")
	}
	if c.Messaging.Template.Name == "" {
		errs = append(errs, "messaging.template.name is required")
	}
	if c.Messaging.BusinessName == "" {
		errs = append(errs, "messaging.business_name is required")
	}
	if c.Campaign.Delay < 0 {
		errs = append(errs, "campaign.delay must not be negative")
	}
	if c.Database.MaxConns < 0 {
		errs = append(errs, "database.max_conns must not be negative")
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		errs = append(errs, fmt.Sprintf("log.format %q must be json or console", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Sellers builds the seller directory from the messaging section
func (c *Config) Sellers() *channel.SellerDirectory {
	return channel.NewSellerDirectory(c.Messaging.Sellers, c.Messaging.SellerLabel)
}

// TemplateBuilder builds the re-engagement template builder
func (c *Config) TemplateBuilder() *channel.Builder {
	return &channel.Builder{
		Template:     c.Messaging.Template,
		BusinessName: c.Messaging.BusinessName,
		Sellers:      c.Sellers(),
	}
}
