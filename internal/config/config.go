package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models taskboard.yml. It is imported into the DB per project and
// read back from there; the file is only the import source.
type Config struct {
	Project struct {
		ID    string `yaml:"id"`
		OrgID string `yaml:"org_id"`
		Name  string `yaml:"name"`
	} `yaml:"project"`
	TaskTypes map[string]TaskType `yaml:"task_types"`
	Automation struct {
		Actions  map[string]RuleAction `yaml:"actions"`
		Defaults struct {
			TaskType string `yaml:"task_type"`
			Priority int    `yaml:"priority"`
		} `yaml:"defaults"`
	} `yaml:"automation"`
	Webhooks []Webhook `yaml:"webhooks"`
}

type TaskType struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type RuleAction struct {
	Description string `yaml:"description"`
}

// Webhook configures outbound event delivery for the server. Events is a
// filter on event types; empty means all.
type Webhook struct {
	Name           string   `yaml:"name"`
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

const fileName = "taskboard.yml"

// Path returns the config file location inside a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, fileName)
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with tb project config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates a config document.
func FromYAML(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if len(c.TaskTypes) == 0 {
		return fmt.Errorf("config.task_types must define at least one type")
	}
	for id, tt := range c.TaskTypes {
		if id == "" {
			return fmt.Errorf("config.task_types contains empty type id")
		}
		if tt.Name == "" {
			return fmt.Errorf("task type %s missing name", id)
		}
	}
	if def := c.Automation.Defaults.TaskType; def != "" {
		if _, ok := c.TaskTypes[def]; !ok {
			return fmt.Errorf("default task type %s not defined", def)
		}
	}
	if p := c.Automation.Defaults.Priority; p != 0 && (p < 1 || p > 5) {
		return fmt.Errorf("default priority must be 1-5, got %d", p)
	}
	for id := range c.Automation.Actions {
		if id == "" {
			return fmt.Errorf("config.automation.actions contains empty action id")
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhook %d missing url", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhook %d has negative timeout", i)
		}
	}
	return nil
}

// KnownTaskType reports whether id is in the catalog.
func (c *Config) KnownTaskType(id string) bool {
	_, ok := c.TaskTypes[id]
	return ok
}

// KnownAction reports whether a rule action id is in the catalog. An empty
// catalog accepts any action.
func (c *Config) KnownAction(id string) bool {
	if len(c.Automation.Actions) == 0 {
		return true
	}
	_, ok := c.Automation.Actions[id]
	return ok
}

// DefaultTaskType returns the configured default, or "technical".
func (c *Config) DefaultTaskType() string {
	if c.Automation.Defaults.TaskType != "" {
		return c.Automation.Defaults.TaskType
	}
	return "technical"
}

// DefaultPriority returns the configured default, or 3.
func (c *Config) DefaultPriority() int {
	if c.Automation.Defaults.Priority != 0 {
		return c.Automation.Defaults.Priority
	}
	return 3
}

// Default returns a workable config for a fresh project.
func Default(projectID string) *Config {
	var cfg Config
	cfg.Project.ID = projectID
	cfg.Project.Name = projectID
	cfg.TaskTypes = map[string]TaskType{
		"technical": {Name: "Technical"},
		"design":    {Name: "Design"},
		"review":    {Name: "Review"},
	}
	cfg.Automation.Actions = map[string]RuleAction{
		"notify":       {Description: "Record a notification event"},
		"archive_card": {Description: "Archive the linked card"},
	}
	cfg.Automation.Defaults.TaskType = "technical"
	cfg.Automation.Defaults.Priority = 3
	return &cfg
}

// ToYAML serializes the config for export.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}
