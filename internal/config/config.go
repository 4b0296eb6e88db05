package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/guestflow/cottage-agent/internal/checkpoint"
)

// Config is the on-disk configuration for cottage-agent.
//
// NOTE: Always keep it chmod 0600.
type Config struct {
	// WorkspaceRoot is the filesystem root every tool operation is
	// confined to.
	WorkspaceRoot string `json:"workspace_root"`

	// StateDir holds backups, checkpoints, and event logs.
	// If empty, ~/.cottage-agent is used.
	StateDir string `json:"state_dir,omitempty"`

	// VocabularyPath points at an optional YAML trigger-word override for
	// the request decomposer.
	VocabularyPath string `json:"vocabulary_path,omitempty"`

	// TaskTimeoutMs is the per-task execution budget. Zero leaves only the
	// tool-level timeouts in effect.
	TaskTimeoutMs int64 `json:"task_timeout_ms,omitempty"`

	// DevServerPort is probed by the dev-server tool. Zero uses the tool
	// default.
	DevServerPort int `json:"dev_server_port,omitempty"`

	// Rollback controls what happens to applied file changes when a run
	// fails.
	Rollback *checkpoint.Policy `json:"rollback,omitempty"`

	// LogFormat is "json" or "text".
	LogFormat string `json:"log_format,omitempty"`
	// LogLevel is "debug|info|warn|error".
	LogLevel string `json:"log_level,omitempty"`
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	if strings.TrimSpace(c.WorkspaceRoot) == "" {
		return errors.New("missing workspace_root")
	}
	if c.TaskTimeoutMs < 0 {
		return errors.New("negative task_timeout_ms")
	}
	if c.DevServerPort < 0 || c.DevServerPort > 65535 {
		return errors.New("invalid dev_server_port")
	}
	switch strings.TrimSpace(strings.ToLower(c.LogFormat)) {
	case "", "json", "text":
	default:
		return fmt.Errorf("invalid log_format %q", c.LogFormat)
	}
	switch strings.TrimSpace(strings.ToLower(c.LogLevel)) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	return nil
}

// EffectiveStateDir resolves the state directory, defaulting to
// ~/.cottage-agent.
func (c *Config) EffectiveStateDir() string {
	if c != nil && strings.TrimSpace(c.StateDir) != "" {
		return strings.TrimSpace(c.StateDir)
	}
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return ".cottage-agent"
	}
	return filepath.Join(home, ".cottage-agent")
}

// RollbackPolicy resolves the rollback policy, defaulting to automatic
// rollback.
func (c *Config) RollbackPolicy() checkpoint.Policy {
	if c == nil || c.Rollback == nil {
		return checkpoint.DefaultPolicy()
	}
	return *c.Rollback
}

// DefaultConfigPath returns the default config path:
//
//	~/.cottage-agent/config.json
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return "cottage-agent.config.json"
	}
	return filepath.Join(home, ".cottage-agent", "config.json")
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	// Write atomically.
	tmp := path + ".tmp"
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
