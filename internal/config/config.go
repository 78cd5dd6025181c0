// Package config is the typed runtime configuration shared by cmd/workshop,
// internal/agentloop, and internal/remoteserver. Loading from disk and
// environment is kept deliberately thin (flag parsing and the rest of the
// CLI surface live in cmd/workshop); this package owns the shape and the
// pure merge semantics.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Config is the full typed runtime configuration.
type Config struct {
	Agent   Agent   `toml:"agent"`
	LLM     LLM     `toml:"llm"`
	Server  Server  `toml:"server"`
	Sandbox Sandbox `toml:"sandbox"`
	Search  Search  `toml:"search"`
}

// Agent controls the agent loop's own bounds.
type Agent struct {
	MaxSteps int `toml:"maxSteps"`
}

// LLM configures the chat provider adapter.
type LLM struct {
	BaseURL string `toml:"baseUrl"`
	APIKey  string `toml:"apiKey"`
	Model   string `toml:"model"`
}

// Server configures the remote session server.
type Server struct {
	Host  string `toml:"host"`
	Port  int    `toml:"port"`
	Token string `toml:"token"`
}

// Sandbox configures the workspace root.
type Sandbox struct {
	BaseDir string `toml:"baseDir"`
}

// Search configures the web search tool. Provider selection
// is by presence of APIKey: non-empty picks the key-authenticated backend,
// empty falls back to the HTML-scraping backend.
type Search struct {
	APIKey string `toml:"apiKey"`
}

// Default returns the built-in defaults, used as the base of every merge.
func Default() Config {
	return Config{
		Agent: Agent{MaxSteps: 12},
		LLM:   LLM{BaseURL: "http://localhost:8080/v1", Model: "default"},
		Server: Server{
			Host: "127.0.0.1",
			Port: 8787,
		},
		Sandbox: Sandbox{BaseDir: "."},
	}
}

// ConfigPath returns ~/.config/workshop/config.toml.
func ConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", "workshop", "config.toml"), nil
}

// Save writes cfg as TOML to path, creating its parent directory if needed.
func Save(cfg Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: create %s: %w", path, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// LoadFile decodes a TOML config file into a Config, applied as one overlay
// on top of whatever base the caller passes to Merge. A missing file is not
// an error: it decodes to a zero-value Config, which Merge treats as "no
// override" for every field.
func LoadFile(path string) (Config, error) {
	var cfg Config
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	return cfg, nil
}

// Merge applies each override on top of base in order, field by field. A
// zero value in an override means "not set" and leaves base's value
// untouched. Later overrides win over earlier ones.
func Merge(base Config, overrides ...Config) Config {
	out := base
	for _, o := range overrides {
		if o.Agent.MaxSteps != 0 {
			out.Agent.MaxSteps = o.Agent.MaxSteps
		}
		if o.LLM.BaseURL != "" {
			out.LLM.BaseURL = o.LLM.BaseURL
		}
		if o.LLM.APIKey != "" {
			out.LLM.APIKey = o.LLM.APIKey
		}
		if o.LLM.Model != "" {
			out.LLM.Model = o.LLM.Model
		}
		if o.Server.Host != "" {
			out.Server.Host = o.Server.Host
		}
		if o.Server.Port != 0 {
			out.Server.Port = o.Server.Port
		}
		if o.Server.Token != "" {
			out.Server.Token = o.Server.Token
		}
		if o.Sandbox.BaseDir != "" {
			out.Sandbox.BaseDir = o.Sandbox.BaseDir
		}
		if o.Search.APIKey != "" {
			out.Search.APIKey = o.Search.APIKey
		}
	}
	return out
}

// Env names the environment variables ApplyEnv reads.
const (
	EnvMaxSteps  = "WORKSHOP_AGENT_MAX_STEPS"
	EnvBaseURL   = "WORKSHOP_LLM_BASE_URL"
	EnvAPIKey    = "WORKSHOP_LLM_API_KEY"
	EnvModel     = "WORKSHOP_LLM_MODEL"
	EnvHost      = "WORKSHOP_SERVER_HOST"
	EnvPort      = "WORKSHOP_SERVER_PORT"
	EnvToken     = "WORKSHOP_SERVER_TOKEN"
	EnvBaseDir   = "WORKSHOP_SANDBOX_BASE_DIR"
	EnvSearchKey = "WORKSHOP_SEARCH_API_KEY"
)

// ApplyEnv overlays cfg with any of the Env* variables present in the
// process environment, taking precedence over both defaults and file
// values.
func ApplyEnv(cfg Config, lookup func(string) (string, bool)) Config {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := lookup(EnvMaxSteps); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Agent.MaxSteps = n
		}
	}
	if v, ok := lookup(EnvBaseURL); ok {
		cfg.LLM.BaseURL = v
	}
	if v, ok := lookup(EnvAPIKey); ok {
		cfg.LLM.APIKey = v
	}
	if v, ok := lookup(EnvModel); ok {
		cfg.LLM.Model = v
	}
	if v, ok := lookup(EnvHost); ok {
		cfg.Server.Host = v
	}
	if v, ok := lookup(EnvPort); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v, ok := lookup(EnvToken); ok {
		cfg.Server.Token = v
	}
	if v, ok := lookup(EnvBaseDir); ok {
		cfg.Sandbox.BaseDir = v
	}
	if v, ok := lookup(EnvSearchKey); ok {
		cfg.Search.APIKey = v
	}
	return cfg
}
