// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads warp.yaml and resolves the runtime's settings.
// Precedence: WARP_ environment variables, then the config file, then
// defaults. Secrets never live in the file; they come from the OS
// keyring or the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/teradata-labs/warp/pkg/budget"
	"github.com/teradata-labs/warp/pkg/llm"
	"github.com/teradata-labs/warp/pkg/types"
)

// Config is the full runtime configuration.
type Config struct {
	// DataDir overrides the default data directory. Relative paths in
	// the rest of the config resolve against it.
	DataDir string `mapstructure:"data_dir"`

	LogLevel string `mapstructure:"log_level"`

	Providers []types.ProviderProfile `mapstructure:"providers"`
	Router    llm.Config              `mapstructure:"router"`
	Memory    MemoryConfig            `mapstructure:"memory"`
	Budget    budget.Caps             `mapstructure:"budget"`
	Scheduler SchedulerConfig         `mapstructure:"scheduler"`
	Gateway   GatewayConfig           `mapstructure:"gateway"`
	Tools     ToolsConfig             `mapstructure:"tools"`
}

// ToolsConfig shapes the built-in tools.
type ToolsConfig struct {
	// DBBackends maps backend names to DSNs for the db_query tool
	// (sqlite, mysql, or postgres, chosen by DSN scheme).
	DBBackends map[string]string `mapstructure:"db_backends"`

	// HTTPMaxBytes caps http_fetch response bodies. Zero uses the
	// tool's default.
	HTTPMaxBytes int64 `mapstructure:"http_max_bytes"`
}

// MemoryConfig shapes the short-term buffer and long-term archive.
type MemoryConfig struct {
	// Path is the archive database file, relative to DataDir unless
	// absolute.
	Path string `mapstructure:"path"`

	ShortTermCapacity int `mapstructure:"short_term_capacity"`

	// PromoteMinChars is the shortest evicted turn worth archiving.
	PromoteMinChars int `mapstructure:"promote_min_chars"`

	Embedder EmbedderConfig `mapstructure:"embedder"`
}

// EmbedderConfig selects the embedding backend. An empty endpoint
// disables embeddings; the archive falls back to keyword search.
type EmbedderConfig struct {
	Endpoint   string `mapstructure:"endpoint"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

// SchedulerConfig shapes the worker pool and trigger evaluation.
type SchedulerConfig struct {
	Workers      int           `mapstructure:"workers"`
	Autonomy     string        `mapstructure:"autonomy"`
	DailyCap     int           `mapstructure:"daily_cap"`
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// TriggersDir holds the trigger definition YAML files, relative to
	// DataDir unless absolute.
	TriggersDir string `mapstructure:"triggers_dir"`

	// TaskDB is the task store database file.
	TaskDB string `mapstructure:"task_db"`
}

// GatewayConfig shapes the HTTP surface.
type GatewayConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load reads warp.yaml and merges environment overrides. An explicit
// path must exist; otherwise the file is searched in DataDir, the
// current directory, and /etc/warp/, and a missing file yields pure
// defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WARP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	file, err := locate(path)
	if err != nil {
		return nil, err
	}
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
		v.SetConfigType("yaml")
		if err := v.ReadConfig(strings.NewReader(expandEnvVars(string(data)))); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = DataDir()
	}
	cfg.resolvePaths()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// locate finds the config file. Empty path means search; a missing
// file is only an error when the path was explicit.
func locate(path string) (string, error) {
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("config file %s: %w", path, err)
		}
		return path, nil
	}
	for _, dir := range []string{DataDir(), ".", "/etc/warp"} {
		candidate := filepath.Join(dir, "warp.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("router.tie_break", llm.TieBreakName)
	v.SetDefault("router.attempt_timeout", llm.DefaultAttemptTimeout)
	v.SetDefault("memory.path", "memory.db")
	v.SetDefault("memory.short_term_capacity", 50)
	v.SetDefault("memory.promote_min_chars", 200)
	v.SetDefault("scheduler.workers", 2)
	v.SetDefault("scheduler.autonomy", "ask")
	v.SetDefault("scheduler.poll_interval", 30*time.Second)
	v.SetDefault("scheduler.triggers_dir", "triggers")
	v.SetDefault("scheduler.task_db", "tasks.db")
	v.SetDefault("gateway.addr", "127.0.0.1:8420")
}

// resolvePaths makes file paths absolute relative to DataDir.
func (c *Config) resolvePaths() {
	c.Memory.Path = resolveRelative(c.DataDir, c.Memory.Path)
	c.Scheduler.TriggersDir = resolveRelative(c.DataDir, c.Scheduler.TriggersDir)
	c.Scheduler.TaskDB = resolveRelative(c.DataDir, c.Scheduler.TaskDB)
}

func resolveRelative(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

func (c *Config) validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be: debug, info, warn, error)", c.LogLevel)
	}

	switch c.Scheduler.Autonomy {
	case "full", "ask", "manual":
	default:
		return fmt.Errorf("invalid autonomy mode: %s (must be: full, ask, manual)", c.Scheduler.Autonomy)
	}

	switch c.Router.TieBreak {
	case "", llm.TieBreakName, llm.TieBreakConfigOrder:
	default:
		return fmt.Errorf("invalid router tie_break: %s", c.Router.TieBreak)
	}

	seen := make(map[string]bool, len(c.Providers))
	for i := range c.Providers {
		p := &c.Providers[i]
		if p.Name == "" {
			return fmt.Errorf("providers[%d]: name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate provider name: %s", p.Name)
		}
		seen[p.Name] = true
		switch p.Adapter {
		case "anthropic", "bedrock", "gemini", "ollama", "xai":
		default:
			return fmt.Errorf("provider %s: unknown adapter %q", p.Name, p.Adapter)
		}
	}
	return nil
}

// expandEnvVars expands ${VAR} references in YAML content before
// parsing, so config files can point at environment values.
func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}
