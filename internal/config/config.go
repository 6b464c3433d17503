package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const FileName = "readyline.yml"

// Config models readyline.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr" json:"addr"`
		BasePath string `yaml:"base_path" json:"base_path"`
	} `yaml:"server" json:"server"`
	Logging struct {
		JSON  bool `yaml:"json" json:"json"`
		Debug bool `yaml:"debug" json:"debug"`
	} `yaml:"logging" json:"logging"`
	Scoring struct {
		// Strict turns unmapped part answers into errors instead of
		// dropping them from the aggregate.
		Strict bool `yaml:"strict" json:"strict"`
	} `yaml:"scoring" json:"scoring"`
	Progress struct {
		PersistStatus *bool `yaml:"persist_status" json:"persist_status"`
	} `yaml:"progress" json:"progress"`
	Org struct {
		MaxPathDepth int `yaml:"max_path_depth" json:"max_path_depth"`
	} `yaml:"org" json:"org"`
}

// PersistStatus reports whether derived interview status is written back.
func (c *Config) PersistStatus() bool {
	if c == nil || c.Progress.PersistStatus == nil {
		return true
	}
	return *c.Progress.PersistStatus
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Org.MaxPathDepth < 1 || c.Org.MaxPathDepth > 64 {
		return fmt.Errorf("config.org.max_path_depth must be between 1 and 64")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with rl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses config over the defaults and validates it.
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
  addr: 127.0.0.1:8080
  base_path: /v1

logging:
  json: false
  debug: false

scoring:
  # unmapped part answers are skipped unless strict
  strict: false

progress:
  persist_status: true

org:
  max_path_depth: 16
`
