// Package config parses Cleo's on-disk configuration surface:
// config/agents.yaml (the agent roster and subsystem toggles) and the
// optional config/budget.json (spec §6.3).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/cleoai/cleo/internal/router"
	"github.com/cleoai/cleo/internal/usage"
)

// LLMConfig names the provider and the env vars holding its credentials.
type LLMConfig struct {
	Provider   string `yaml:"provider"`
	APIKeyEnv  string `yaml:"api_key_env"`
	BaseURLEnv string `yaml:"base_url_env"`
}

// ToolsConfig is one agent's tool-scoping block (spec §4.4.3).
type ToolsConfig struct {
	Profile router.ToolProfile `yaml:"profile"`
	Allow   []string           `yaml:"allow"`
	Deny    []string           `yaml:"deny"`
}

// AgentEntry is one roster entry under agents.yaml's top-level `agents:` list.
type AgentEntry struct {
	ID             string      `yaml:"id"`
	Role           string      `yaml:"role"`
	Model          string      `yaml:"model"`
	Skills         []string    `yaml:"skills"`
	FallbackModels []string    `yaml:"fallback_models"`
	AutonomyLevel  string      `yaml:"autonomy_level"`
	Reputation     float64     `yaml:"reputation"` // gates claim_next against a task's min_reputation; 0 resolves to the default (spec §4.2)
	LLM            LLMConfig   `yaml:"llm"`
	Tools          ToolsConfig `yaml:"tools"`
}

// A2ARemote is one statically configured A2A peer (spec §4.9.8).
type A2ARemote struct {
	URL         string   `yaml:"url"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Skills      []string `yaml:"skills"`
	TrustLevel  string   `yaml:"trust_level"`
	Auth        string   `yaml:"auth"`
}

// A2AClientConfig is the `a2a.client` block.
type A2AClientConfig struct {
	Enabled    bool        `yaml:"enabled"`
	Remotes    []A2ARemote `yaml:"remotes"`
	Registries []string    `yaml:"registries"`
}

// A2AServerConfig is the `a2a.server` block.
type A2AServerConfig struct {
	Enabled bool `yaml:"enabled"`
}

// A2AConfig is the top-level `a2a:` block.
type A2AConfig struct {
	Server A2AServerConfig `yaml:"server"`
	Client A2AClientConfig `yaml:"client"`
}

// ToolsDefault is the `tools.default_profile` fallback applied to agents
// with no explicit `tools:` block.
type ToolsDefault struct {
	DefaultProfile router.ToolProfile `yaml:"default_profile"`
}

// MemoryConfig selects the memory adapter backend (collaborator; Cleo's
// core only reads the field, it does not implement the chroma/hybrid
// backends — spec §1 Non-goals).
type MemoryConfig struct {
	Backend string `yaml:"backend"`
}

// Config is the fully parsed config/agents.yaml document.
type Config struct {
	LLM    LLMConfig    `yaml:"llm"`
	Memory MemoryConfig `yaml:"memory"`
	Tools  ToolsDefault `yaml:"tools"`
	Agents []AgentEntry `yaml:"agents"`
	A2A    A2AConfig    `yaml:"a2a"`
}

// Load parses an agents.yaml file from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	for i := range cfg.Agents {
		if cfg.Agents[i].Tools.Profile == "" {
			cfg.Agents[i].Tools.Profile = cfg.Tools.DefaultProfile
		}
	}
	return &cfg, nil
}

// LoadBudget parses an optional config/budget.json; a missing file is not
// an error, it yields a disabled Budget.
func LoadBudget(path string) (usage.Budget, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return usage.Budget{}, nil
		}
		return usage.Budget{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var b usage.Budget
	if err := json.Unmarshal(data, &b); err != nil {
		return usage.Budget{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return b, nil
}

// nameValidator guards skill CRUD path segments against traversal (spec
// §4.7's "name validator ^[A-Za-z0-9_-]+$").
var nameValidator = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidName reports whether name is safe to interpolate into a filesystem
// path for skill file CRUD.
func ValidName(name string) bool {
	return name != "" && nameValidator.MatchString(name)
}

// SanitizeForDisplay masks any field whose name matches *api*key* (spec
// §4.7's config sanitization rule), and annotates api_key_env fields with
// "(set)"/"(not set)" based on the environment.
func SanitizeForDisplay(cfg *Config) map[string]any {
	out := map[string]any{
		"llm": map[string]any{
			"provider":      cfg.LLM.Provider,
			"api_key_env":   annotateEnv(cfg.LLM.APIKeyEnv),
			"base_url_env":  cfg.LLM.BaseURLEnv,
		},
		"memory": map[string]any{"backend": cfg.Memory.Backend},
	}
	agents := make([]map[string]any, 0, len(cfg.Agents))
	for _, a := range cfg.Agents {
		agents = append(agents, map[string]any{
			"id":              a.ID,
			"role":            a.Role,
			"model":           a.Model,
			"skills":          a.Skills,
			"fallback_models": a.FallbackModels,
			"autonomy_level":  a.AutonomyLevel,
			"llm": map[string]any{
				"provider":     a.LLM.Provider,
				"api_key_env":  annotateEnv(a.LLM.APIKeyEnv),
				"base_url_env": a.LLM.BaseURLEnv,
			},
			"tools": a.Tools,
		})
	}
	out["agents"] = agents
	return out
}

func annotateEnv(name string) string {
	if name == "" {
		return ""
	}
	if _, ok := os.LookupEnv(name); ok {
		return name + " (set)"
	}
	return name + " (not set)"
}
