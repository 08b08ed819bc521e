package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models signoff.yml.
type Config struct {
	Site struct {
		ID      string `yaml:"id"`
		Name    string `yaml:"name"`
		BaseURL string `yaml:"base_url"`
	} `yaml:"site"`
	Mailer struct {
		WebhookURL     string `yaml:"webhook_url"`
		Secret         string `yaml:"secret"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"mailer"`
	Groups    []GroupConfig    `yaml:"groups"`
	Workflows []WorkflowConfig `yaml:"workflows"`
}

type GroupConfig struct {
	ID      string   `yaml:"id"`
	Name    string   `yaml:"name"`
	Members []string `yaml:"members"`
}

type WorkflowConfig struct {
	Name    string        `yaml:"name"`
	Default bool          `yaml:"default"`
	Stages  []StageConfig `yaml:"stages"`
}

type StageConfig struct {
	Group    string `yaml:"group"`
	Order    int    `yaml:"order"`
	Optional bool   `yaml:"optional"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with so site config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Site.ID == "" {
		return fmt.Errorf("config.site.id is required")
	}
	groupIDs := map[string]bool{}
	for _, g := range c.Groups {
		if g.ID == "" {
			return fmt.Errorf("config.groups contains empty group id")
		}
		if groupIDs[g.ID] {
			return fmt.Errorf("duplicate group id %s", g.ID)
		}
		groupIDs[g.ID] = true
		for _, m := range g.Members {
			if m == "" {
				return fmt.Errorf("group %s has empty member id", g.ID)
			}
		}
	}
	names := map[string]bool{}
	defaults := 0
	for _, w := range c.Workflows {
		if w.Name == "" {
			return fmt.Errorf("config.workflows contains empty workflow name")
		}
		if names[w.Name] {
			return fmt.Errorf("duplicate workflow name %s", w.Name)
		}
		names[w.Name] = true
		if w.Default {
			defaults++
		}
		seenGroups := map[string]bool{}
		for _, s := range w.Stages {
			if s.Group == "" {
				return fmt.Errorf("workflow %s has stage with empty group", w.Name)
			}
			if seenGroups[s.Group] {
				return fmt.Errorf("workflow %s lists group %s twice", w.Name, s.Group)
			}
			seenGroups[s.Group] = true
			if len(c.Groups) > 0 && !groupIDs[s.Group] {
				return fmt.Errorf("workflow %s references unknown group %s", w.Name, s.Group)
			}
			if s.Order < 0 {
				return fmt.Errorf("workflow %s has stage with negative order", w.Name)
			}
		}
	}
	if defaults > 1 {
		return fmt.Errorf("config.workflows declares %d default workflows, at most one allowed", defaults)
	}
	if c.Mailer.TimeoutSeconds < 0 {
		return fmt.Errorf("config.mailer.timeout_seconds must be >= 0")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "signoff.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(siteID string) string {
	return fmt.Sprintf(defaultTemplate, siteID)
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

// Default returns the default Config struct for a site.
func Default(siteID string) *Config {
	var cfg Config
	cfg.Site.ID = siteID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, siteID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
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

const defaultTemplate = `site:
  id: %s
  name: ""
  base_url: ""

mailer:
  webhook_url: ""
  secret: ""
  timeout_seconds: 5

groups:
  - id: editors
    name: "Editors"
    members: []
  - id: chief-editors
    name: "Chief editors"
    members: []

workflows:
  - name: standard
    default: true
    stages:
      - group: editors
        order: 10
        optional: false
      - group: chief-editors
        order: 20
        optional: false
`
