package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models workbridge.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`
	Gateway struct {
		BaseURL        string `yaml:"base_url"`
		ClientID       string `yaml:"client_id"`
		ClientSecret   string `yaml:"client_secret"`
		WebhookSecret  string `yaml:"webhook_secret"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
		ReturnURL      string `yaml:"return_url"`
		NotifyURL      string `yaml:"notify_url"`
	} `yaml:"gateway"`
	Fees struct {
		ServiceChargePercent int `yaml:"service_charge_percent"`
		CommissionPercent    int `yaml:"commission_percent"`
	} `yaml:"fees"`
	AdminManagement struct {
		WindowHours int    `yaml:"window_hours"`
		UPIID       string `yaml:"upi_id"`
	} `yaml:"admin_management"`
	Currency      string               `yaml:"currency"`
	Notifications []NotificationConfig `yaml:"notifications"`
}

// NotificationConfig describes one outbound notification sink.
type NotificationConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Fees.ServiceChargePercent < 0 || c.Fees.ServiceChargePercent > 100 {
		return fmt.Errorf("config.fees.service_charge_percent must be 0-100")
	}
	if c.Fees.CommissionPercent < 0 || c.Fees.CommissionPercent > 100 {
		return fmt.Errorf("config.fees.commission_percent must be 0-100")
	}
	if c.AdminManagement.WindowHours <= 0 {
		return fmt.Errorf("config.admin_management.window_hours must be positive")
	}
	if c.Currency == "" {
		return fmt.Errorf("config.currency is required")
	}
	for i, n := range c.Notifications {
		if n.URL == "" {
			return fmt.Errorf("config.notifications[%d].url is required", i)
		}
	}
	return nil
}

// GatewayTimeout returns the bounded timeout for gateway calls.
func (c *Config) GatewayTimeout() time.Duration {
	if c.Gateway.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Gateway.TimeoutSeconds) * time.Second
}

// AdminWindow returns how long after project creation admin management may be
// requested.
func (c *Config) AdminWindow() time.Duration {
	return time.Duration(c.AdminManagement.WindowHours) * time.Hour
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "workbridge.yml")
}

// Load reads and validates config from the workspace, falling back to
// defaults when the file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	cfg.Server.Addr = ":8080"
	cfg.Server.BasePath = "/v1"
	cfg.Gateway.TimeoutSeconds = 10
	cfg.Fees.ServiceChargePercent = 5
	cfg.Fees.CommissionPercent = 10
	cfg.AdminManagement.WindowHours = 48
	cfg.Currency = "INR"
	return &cfg
}

// GenerateDefault returns default config YAML suitable for writing to disk.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `server:
  addr: ":8080"
  base_path: /v1

auth:
  jwt_secret: ""

gateway:
  base_url: https://sandbox.cashfree.com/pg
  client_id: ""
  client_secret: ""
  webhook_secret: ""
  timeout_seconds: 10
  return_url: ""
  notify_url: ""

fees:
  service_charge_percent: 5
  commission_percent: 10

admin_management:
  window_hours: 48
  upi_id: ""

currency: INR

notifications: []
`
