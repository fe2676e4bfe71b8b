// Package config provides configuration loading and management.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vinayprograms/agentcore/internal/approval"
	"github.com/vinayprograms/agentcore/internal/executor"
	"github.com/vinayprograms/agentcore/internal/policy"
	"github.com/vinayprograms/agentcore/internal/process"
	"github.com/vinayprograms/agentcore/internal/sandbox"
)

// DefaultFile is read by LoadDefault.
const DefaultFile = "agentcore.toml"

// Config represents the engine configuration.
type Config struct {
	Agent    AgentConfig    `toml:"agent"`
	LLM      LLMConfig      `toml:"llm"`
	Loop     LoopConfig     `toml:"loop"`
	Sandbox  SandboxConfig  `toml:"sandbox"`
	Process  ProcessConfig  `toml:"process"`
	Policy   PolicyConfig   `toml:"policy"`
	Approval ApprovalConfig `toml:"approval"`
	Storage  StorageConfig  `toml:"storage"`
	Events   EventsConfig   `toml:"events"`
}

// AgentConfig contains agent identification settings.
type AgentConfig struct {
	ID        string   `toml:"id"`
	Workspace string   `toml:"workspace"`
	Skills    []string `toml:"skills"` // directories holding SKILL.md skills
}

// LLMConfig contains LLM provider settings.
type LLMConfig struct {
	Provider     string `toml:"provider"`
	Model        string `toml:"model"`
	APIKeyEnv    string `toml:"api_key_env"`
	MaxTokens    int    `toml:"max_tokens"`
	BaseURL      string `toml:"base_url"` // OpenRouter, LiteLLM, Ollama, ...
	Thinking     string `toml:"thinking"` // auto|off|low|medium|high
	MaxRetries   int    `toml:"max_retries"`
	RetryBackoff string `toml:"retry_backoff"` // e.g. "60s"
}

// LoopConfig tunes the decision loop.
type LoopConfig struct {
	BaseIterations int           `toml:"base_iterations"`
	PerErrorType   int           `toml:"per_error_type"`
	MinIterations  int           `toml:"min_iterations"`
	MaxIterations  int           `toml:"max_iterations"`
	WarnTokens     int           `toml:"warn_tokens"`
	TruncateTokens int           `toml:"truncate_tokens"`
	MaxCorrections int           `toml:"max_corrections"`
	TaskTimeout    time.Duration `toml:"task_timeout"`
	Checkpoints    bool          `toml:"checkpoints"`
}

// SandboxConfig contains container settings.
type SandboxConfig struct {
	Enabled          bool          `toml:"enabled"`
	Runtime          string        `toml:"runtime"` // docker or podman
	Image            string        `toml:"image"`
	Network          bool          `toml:"network"`
	Memory           string        `toml:"memory"`
	CPUs             string        `toml:"cpus"`
	Timeout          time.Duration `toml:"timeout"`
	RequireIsolation bool          `toml:"require_isolation"`
	DenyPrefixes     []string      `toml:"deny_prefixes"` // in addition to the built-in ones
}

// ProcessConfig contains process supervisor settings.
type ProcessConfig struct {
	GracePeriod    time.Duration `toml:"grace_period"`
	DefaultTimeout time.Duration `toml:"default_timeout"`
	MaxOutputBytes int           `toml:"max_output_bytes"`
}

// PolicyConfig selects the policy pipeline.
type PolicyConfig struct {
	File  string   `toml:"file"` // .toml or .yaml policy document
	Allow []string `toml:"allow"`
	Deny  []string `toml:"deny"`
	Watch bool     `toml:"watch"` // reload File on change
}

// ApprovalConfig contains approval workflow settings.
type ApprovalConfig struct {
	Enabled             bool          `toml:"enabled"`
	Timeout             time.Duration `toml:"timeout"`
	HistorySize         int           `toml:"history_size"`
	AutoApproveLowRisk  bool          `toml:"auto_approve_low_risk"`
	AutoApprovePatterns []string      `toml:"auto_approve_patterns"`
}

// StorageConfig contains persistent storage settings.
type StorageConfig struct {
	Path        string `toml:"path"`        // base directory
	Database    string `toml:"database"`    // sqlite file, relative to Path
	EventLog    string `toml:"event_log"`   // JSONL file, relative to Path
	Checkpoints string `toml:"checkpoints"` // directory, relative to Path
}

// EventsConfig contains the optional NATS publisher settings.
type EventsConfig struct {
	NATSURL       string `toml:"nats_url"`
	SubjectPrefix string `toml:"subject_prefix"`
}

// New creates a new config with defaults.
func New() *Config {
	loop := executor.DefaultConfig()
	sb := sandbox.DefaultConfig()
	ap := approval.DefaultConfig()
	return &Config{
		LLM: LLMConfig{
			MaxTokens: 4096,
		},
		Loop: LoopConfig{
			BaseIterations: loop.BaseIterations,
			PerErrorType:   loop.PerErrorType,
			MinIterations:  loop.MinIterations,
			MaxIterations:  loop.MaxIterations,
			WarnTokens:     loop.WarnTokens,
			TruncateTokens: loop.TruncateTokens,
			MaxCorrections: loop.MaxCorrections,
			TaskTimeout:    loop.TaskTimeout,
			Checkpoints:    true,
		},
		Sandbox: SandboxConfig{
			Enabled: sb.Enabled,
			Runtime: sb.Runtime,
			Image:   sb.Image,
			Timeout: sb.DefaultTimeout,
		},
		Process: ProcessConfig{
			GracePeriod:    5 * time.Second,
			MaxOutputBytes: 1 << 20,
		},
		Approval: ApprovalConfig{
			Enabled:            ap.Enabled,
			Timeout:            ap.Timeout,
			HistorySize:        ap.HistorySize,
			AutoApproveLowRisk: ap.AutoApproveLowRisk,
		},
		Storage: StorageConfig{
			Path:        "~/.local/agentcore",
			Database:    "agentcore.db",
			EventLog:    "events.jsonl",
			Checkpoints: "checkpoints",
		},
		Events: EventsConfig{
			SubjectPrefix: "agentcore.events",
		},
	}
}

// LoadFile loads configuration from a TOML file.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadDefault loads agentcore.toml from the current directory, falling back
// to defaults when it does not exist.
func LoadDefault() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	path := filepath.Join(cwd, DefaultFile)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return New(), nil
	}
	return LoadFile(path)
}

// Save writes the configuration as TOML. An existing file is only replaced
// when overwrite is set.
func (c *Config) Save(path string, overwrite bool) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if overwrite {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%s already exists", path)
		}
		return fmt.Errorf("failed to create config: %w", err)
	}
	defer f.Close()

	fmt.Fprintln(f, "# agentcore configuration")
	fmt.Fprintln(f)
	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	l := c.Loop
	if l.MinIterations > 0 && l.MaxIterations > 0 && l.MinIterations > l.MaxIterations {
		return fmt.Errorf("loop: min_iterations %d exceeds max_iterations %d", l.MinIterations, l.MaxIterations)
	}
	if l.BaseIterations < 0 || l.PerErrorType < 0 || l.MaxCorrections < 0 {
		return fmt.Errorf("loop: negative iteration settings")
	}
	switch c.Sandbox.Runtime {
	case "", "docker", "podman":
	default:
		return fmt.Errorf("sandbox: unsupported runtime %q", c.Sandbox.Runtime)
	}
	return nil
}

// ExecutorConfig converts the [loop] section.
func (c *Config) ExecutorConfig() executor.Config {
	d := executor.DefaultConfig()
	l := c.Loop
	d.BaseIterations = l.BaseIterations
	d.PerErrorType = l.PerErrorType
	d.MinIterations = l.MinIterations
	d.MaxIterations = l.MaxIterations
	if l.WarnTokens > 0 {
		d.WarnTokens = l.WarnTokens
	}
	if l.TruncateTokens > 0 {
		d.TruncateTokens = l.TruncateTokens
	}
	d.MaxCorrections = l.MaxCorrections
	if l.TaskTimeout > 0 {
		d.TaskTimeout = l.TaskTimeout
	}
	return d
}

// SandboxConfig converts the [sandbox] section.
func (c *Config) SandboxConfig() sandbox.Config {
	d := sandbox.DefaultConfig()
	s := c.Sandbox
	d.Enabled = s.Enabled
	if s.Runtime != "" {
		d.Runtime = s.Runtime
	}
	if s.Image != "" {
		d.Image = s.Image
	}
	d.Network = s.Network
	d.Memory = s.Memory
	d.CPUs = s.CPUs
	if s.Timeout > 0 {
		d.DefaultTimeout = s.Timeout
	}
	d.RequireIsolation = s.RequireIsolation
	d.DenyPrefixes = s.DenyPrefixes
	return d
}

// ProcessConfig converts the [process] section.
func (c *Config) ProcessConfig() process.Config {
	return process.Config{
		GracePeriod:    c.Process.GracePeriod,
		DefaultTimeout: c.Process.DefaultTimeout,
		MaxOutputBytes: c.Process.MaxOutputBytes,
	}
}

// ApprovalConfig converts the [approval] section.
func (c *Config) ApprovalConfig() approval.Config {
	return approval.Config{
		Enabled:             c.Approval.Enabled,
		Timeout:             c.Approval.Timeout,
		HistorySize:         c.Approval.HistorySize,
		AutoApproveLowRisk:  c.Approval.AutoApproveLowRisk,
		AutoApprovePatterns: c.Approval.AutoApprovePatterns,
	}
}

// PolicyPipeline builds the pipeline from [policy]. Inline allow and deny
// lists extend those of the policy file.
func (c *Config) PolicyPipeline(src policy.SchemaSource) (*policy.Pipeline, error) {
	f := &policy.File{}
	if c.Policy.File != "" {
		loaded, err := policy.LoadFile(ExpandHome(c.Policy.File))
		if err != nil {
			return nil, err
		}
		f = loaded
	} else if len(c.Policy.Allow) == 0 && len(c.Policy.Deny) == 0 {
		return policy.Default(src), nil
	}
	f.Allow = append(f.Allow, c.Policy.Allow...)
	f.Deny = append(f.Deny, c.Policy.Deny...)
	return f.Build(src)
}

// StoragePath resolves a storage entry against the base directory.
// Absolute entries are returned unchanged; empty entries stay empty.
func (c *Config) StoragePath(entry string) string {
	if entry == "" {
		return ""
	}
	entry = ExpandHome(entry)
	if filepath.IsAbs(entry) {
		return entry
	}
	return filepath.Join(ExpandHome(c.Storage.Path), entry)
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// GetAPIKey returns the API key from the configured environment variable.
// If api_key_env is not set, uses the default env var for the provider.
func (c *Config) GetAPIKey() string {
	envVar := c.LLM.APIKeyEnv
	if envVar == "" {
		envVar = DefaultAPIKeyEnv(c.LLM.Provider)
	}
	if envVar == "" {
		return ""
	}
	return os.Getenv(envVar)
}

// DefaultAPIKeyEnv returns the default environment variable name for a provider.
func DefaultAPIKeyEnv(provider string) string {
	switch provider {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	case "google":
		return "GOOGLE_API_KEY"
	case "mistral":
		return "MISTRAL_API_KEY"
	case "groq":
		return "GROQ_API_KEY"
	default:
		return ""
	}
}
