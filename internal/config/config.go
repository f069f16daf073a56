package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models bloompath.yml.
type Config struct {
	Server struct {
		Addr      string `yaml:"addr"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"server"`
	Providers struct {
		Default string       `yaml:"default"`
		Jira    JiraConfig   `yaml:"jira"`
		Linear  LinearConfig `yaml:"linear"`
	} `yaml:"providers"`
	Classifier struct {
		BlockerStatuses []string `yaml:"blocker_statuses"`
	} `yaml:"classifier"`
	Garden   GardenConfig   `yaml:"garden"`
	Forecast ForecastConfig `yaml:"forecast"`
	Dreaming DreamingConfig `yaml:"dreaming"`
}

type JiraConfig struct {
	Domain    string `yaml:"domain"`
	Email     string `yaml:"email"`
	APIToken  string `yaml:"api_token"`
	BoardID   string `yaml:"board_id"`
	EpicField string `yaml:"epic_field"`
}

type LinearConfig struct {
	APIKey        string `yaml:"api_key"`
	WebhookSecret string `yaml:"webhook_secret"`
	TeamID        string `yaml:"team_id"`
}

// GardenConfig points at the visualization host and shapes retry behavior
// for trigger delivery.
type GardenConfig struct {
	BaseURL        string `yaml:"base_url"`
	RetryAttempts  int    `yaml:"retry_attempts"`
	RetryDelayMS   int    `yaml:"retry_delay_ms"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type ForecastConfig struct {
	GeminiAPIKey   string `yaml:"gemini_api_key"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// DreamingConfig holds the default scenario parameters used when a dream
// request omits them.
type DreamingConfig struct {
	RemoveCount        int `yaml:"remove_count"`
	AdditionalIssues   int `yaml:"additional_issues"`
	AdditionalPriority int `yaml:"additional_priority"`
	ShiftPercentage    int `yaml:"shift_percentage"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate one with bloompath config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Providers.Default {
	case "", "jira", "linear":
	default:
		return fmt.Errorf("config.providers.default must be jira or linear, got %q", c.Providers.Default)
	}
	for _, s := range c.Classifier.BlockerStatuses {
		if s == "" {
			return fmt.Errorf("config.classifier.blocker_statuses contains an empty status")
		}
	}
	if c.Garden.RetryAttempts < 0 {
		return fmt.Errorf("config.garden.retry_attempts must not be negative")
	}
	if c.Garden.RetryDelayMS < 0 {
		return fmt.Errorf("config.garden.retry_delay_ms must not be negative")
	}
	if c.Dreaming.RemoveCount < 0 {
		return fmt.Errorf("config.dreaming.remove_count must not be negative")
	}
	if p := c.Dreaming.AdditionalPriority; p != 0 && (p < 1 || p > 5) {
		return fmt.Errorf("config.dreaming.additional_priority must be 1-5, got %d", p)
	}
	if pct := c.Dreaming.ShiftPercentage; pct < 0 || pct > 100 {
		return fmt.Errorf("config.dreaming.shift_percentage must be 0-100, got %d", pct)
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "bloompath.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
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

const defaultTemplate = `server:
  addr: ":5000"
  jwt_secret: ""

providers:
  default: jira

  jira:
    domain: ""
    email: ""
    api_token: ""
    board_id: ""
    epic_field: customfield_10014

  linear:
    api_key: ""
    webhook_secret: ""
    team_id: ""

classifier:
  blocker_statuses: [Blocked, Impediment, On Hold, Waiting]

garden:
  base_url: http://localhost:8766
  retry_attempts: 3
  retry_delay_ms: 500
  timeout_seconds: 5

forecast:
  gemini_api_key: ""
  model: gemini-2.0-flash
  timeout_seconds: 15

dreaming:
  remove_count: 1
  additional_issues: 5
  additional_priority: 3
  shift_percentage: 30
`
