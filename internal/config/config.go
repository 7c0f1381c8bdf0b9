package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	fileName                = "indicatorline.yml"
	DefaultReviewWindowDays = 7
	MaxVerificationLevels   = 2
	DefaultGuidePermission  = "guide"
)

// Config models indicatorline.yml.
type Config struct {
	Workflow struct {
		ReviewWindowDays      int `yaml:"review_window_days" mapstructure:"review_window_days"`
		MaxVerificationLevels int `yaml:"max_verification_levels" mapstructure:"max_verification_levels"`
	} `yaml:"workflow" mapstructure:"workflow"`
	Roles struct {
		GuidePermission string   `yaml:"guide_permission" mapstructure:"guide_permission"`
		Designations    []string `yaml:"designations" mapstructure:"designations"`
	} `yaml:"roles" mapstructure:"roles"`
	Storage struct {
		AttachmentsDir string `yaml:"attachments_dir" mapstructure:"attachments_dir"`
	} `yaml:"storage" mapstructure:"storage"`
	Webhooks []WebhookConfig `yaml:"webhooks" mapstructure:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" mapstructure:"url"`
	Events         []string `yaml:"events" mapstructure:"events"`
	Secret         string   `yaml:"secret" mapstructure:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds" mapstructure:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled" mapstructure:"enabled"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create it with il init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Workflow.ReviewWindowDays < 0 {
		return fmt.Errorf("config.workflow.review_window_days must not be negative")
	}
	if c.Workflow.MaxVerificationLevels != 0 && c.Workflow.MaxVerificationLevels != MaxVerificationLevels {
		return fmt.Errorf("config.workflow.max_verification_levels must be %d", MaxVerificationLevels)
	}
	if strings.TrimSpace(c.Roles.GuidePermission) == "" {
		return fmt.Errorf("config.roles.guide_permission is required")
	}
	for _, d := range c.Roles.Designations {
		if strings.TrimSpace(d) == "" {
			return fmt.Errorf("config.roles.designations contains empty slug")
		}
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhook %d has negative timeout", i)
		}
	}
	return nil
}

// applyDefaults fills zero values that have a documented default.
func (c *Config) applyDefaults() {
	if c.Workflow.ReviewWindowDays == 0 {
		c.Workflow.ReviewWindowDays = DefaultReviewWindowDays
	}
	if c.Workflow.MaxVerificationLevels == 0 {
		c.Workflow.MaxVerificationLevels = MaxVerificationLevels
	}
	if c.Roles.GuidePermission == "" {
		c.Roles.GuidePermission = DefaultGuidePermission
	}
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, fileName)
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
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	cfg.applyDefaults()
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `workflow:
  # days a verifier has to act on a review task
  review_window_days: 7
  max_verification_levels: 2

roles:
  guide_permission: guide
  designations:
    - mentor
    - programme-manager
    - programme-coordinator
    - regional-coordinator
    - regional-manager
    - eso-manager

storage:
  attachments_dir: attachments

webhooks: []
`
