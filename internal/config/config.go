// Package config handles configuration loading and management for herd.
// It supports XDG config paths, project-level overrides, and environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for herd.
type Config struct {
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Workspace    WorkspaceConfig    `mapstructure:"workspace"`
	Monitor      MonitorConfig      `mapstructure:"monitor"`
	Worker       WorkerConfig       `mapstructure:"worker"`
}

// OrchestratorConfig holds coordinator settings.
type OrchestratorConfig struct {
	// MaxParallel is the bounded worker pool size.
	MaxParallel int `mapstructure:"max_parallel"`
	// TaskTimeout is the per-task execution timeout.
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
	// PollInterval is how often task status is polled during dispatch.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// CleanupPolicy selects post-run workspace reclamation
	// (keep, completed, aged).
	CleanupPolicy string `mapstructure:"cleanup_policy"`
	// CleanupMaxAgeDays bounds the aged cleanup policy.
	CleanupMaxAgeDays int `mapstructure:"cleanup_max_age_days"`
}

// WorkspaceConfig holds workspace manager settings.
type WorkspaceConfig struct {
	// BaseDir is where worktrees are created
	// (defaults to ~/.cache/herd/workspaces).
	BaseDir string `mapstructure:"base_dir"`
	// MaxWorkspaces caps the number of live workspaces.
	MaxWorkspaces int `mapstructure:"max_workspaces"`
	// DiskSoftLimitMB is the per-workspace disk usage soft limit.
	DiskSoftLimitMB int64 `mapstructure:"disk_soft_limit_mb"`
	// BaseBranch is the default branch workspaces are created from.
	BaseBranch string `mapstructure:"base_branch"`
}

// MonitorConfig holds process monitor settings.
type MonitorConfig struct {
	// SampleInterval is the resource sampling loop interval.
	SampleInterval time.Duration `mapstructure:"sample_interval"`
	// SnapshotInterval is how often the status snapshot file is written.
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`
	// MaxRestarts caps automatic re-launches of a failed process.
	MaxRestarts int `mapstructure:"max_restarts"`
	// AutoRestart enables re-launching failed processes.
	AutoRestart bool `mapstructure:"auto_restart"`
	// Thresholds are the default alert thresholds for new processes.
	Thresholds ThresholdsConfig `mapstructure:"thresholds"`
}

// ThresholdsConfig holds default alert thresholds.
type ThresholdsConfig struct {
	CPUPercent float64 `mapstructure:"cpu_percent"`
	MemoryMB   float64 `mapstructure:"memory_mb"`
	OpenFiles  int32   `mapstructure:"open_files"`
	Threads    int32   `mapstructure:"threads"`
}

// WorkerConfig holds settings for the external worker process.
type WorkerConfig struct {
	// Command is the worker binary invoked per task.
	Command string `mapstructure:"command"`
	// Args are arguments placed before the instruction artifact path.
	Args []string `mapstructure:"args"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		Orchestrator: OrchestratorConfig{
			MaxParallel:       4,
			TaskTimeout:       30 * time.Minute,
			PollInterval:      2 * time.Second,
			CleanupPolicy:     "keep",
			CleanupMaxAgeDays: 7,
		},
		Workspace: WorkspaceConfig{
			MaxWorkspaces:   16,
			DiskSoftLimitMB: 2048,
			BaseBranch:      "main",
		},
		Monitor: MonitorConfig{
			SampleInterval:   5 * time.Second,
			SnapshotInterval: 15 * time.Second,
			MaxRestarts:      2,
			AutoRestart:      false,
			Thresholds: ThresholdsConfig{
				CPUPercent: 90,
				MemoryMB:   4096,
				OpenFiles:  512,
				Threads:    256,
			},
		},
		Worker: WorkerConfig{
			Command: "claude",
			Args:    []string{"-p", "--dangerously-skip-permissions"},
		},
	}
}

// configDir returns the XDG config directory for herd.
func configDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "herd")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "herd")
}

// Load reads configuration from the XDG config path, an optional
// project-level .herd/config.yaml under projectRoot, and HERD_*
// environment variables, layered over defaults.
func Load(projectRoot string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	setDefaults(v)

	if dir := configDir(); dir != "" {
		v.AddConfigPath(dir)
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	// Project-level override
	if projectRoot != "" {
		projectConfig := filepath.Join(projectRoot, ".herd", "config.yaml")
		if _, err := os.Stat(projectConfig); err == nil {
			v.SetConfigFile(projectConfig)
			if err := v.MergeInConfig(); err != nil {
				return nil, fmt.Errorf("merge project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("HERD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers defaults so viper reports them via AllSettings.
func setDefaults(v *viper.Viper) {
	def := Default()
	v.SetDefault("orchestrator.max_parallel", def.Orchestrator.MaxParallel)
	v.SetDefault("orchestrator.task_timeout", def.Orchestrator.TaskTimeout)
	v.SetDefault("orchestrator.poll_interval", def.Orchestrator.PollInterval)
	v.SetDefault("orchestrator.cleanup_policy", def.Orchestrator.CleanupPolicy)
	v.SetDefault("orchestrator.cleanup_max_age_days", def.Orchestrator.CleanupMaxAgeDays)
	v.SetDefault("workspace.max_workspaces", def.Workspace.MaxWorkspaces)
	v.SetDefault("workspace.disk_soft_limit_mb", def.Workspace.DiskSoftLimitMB)
	v.SetDefault("workspace.base_branch", def.Workspace.BaseBranch)
	v.SetDefault("monitor.sample_interval", def.Monitor.SampleInterval)
	v.SetDefault("monitor.snapshot_interval", def.Monitor.SnapshotInterval)
	v.SetDefault("monitor.max_restarts", def.Monitor.MaxRestarts)
	v.SetDefault("monitor.auto_restart", def.Monitor.AutoRestart)
	v.SetDefault("monitor.thresholds.cpu_percent", def.Monitor.Thresholds.CPUPercent)
	v.SetDefault("monitor.thresholds.memory_mb", def.Monitor.Thresholds.MemoryMB)
	v.SetDefault("monitor.thresholds.open_files", def.Monitor.Thresholds.OpenFiles)
	v.SetDefault("monitor.thresholds.threads", def.Monitor.Thresholds.Threads)
	v.SetDefault("worker.command", def.Worker.Command)
	v.SetDefault("worker.args", def.Worker.Args)
}

// Save writes the configuration to the XDG config path. Durations are
// written in their string form so the file stays hand-editable.
func Save(cfg *Config) error {
	dir := configDir()
	if dir == "" {
		return fmt.Errorf("cannot determine config directory")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	out := map[string]interface{}{
		"orchestrator": map[string]interface{}{
			"max_parallel":         cfg.Orchestrator.MaxParallel,
			"task_timeout":         cfg.Orchestrator.TaskTimeout.String(),
			"poll_interval":        cfg.Orchestrator.PollInterval.String(),
			"cleanup_policy":       cfg.Orchestrator.CleanupPolicy,
			"cleanup_max_age_days": cfg.Orchestrator.CleanupMaxAgeDays,
		},
		"workspace": map[string]interface{}{
			"base_dir":           cfg.Workspace.BaseDir,
			"max_workspaces":     cfg.Workspace.MaxWorkspaces,
			"disk_soft_limit_mb": cfg.Workspace.DiskSoftLimitMB,
			"base_branch":        cfg.Workspace.BaseBranch,
		},
		"monitor": map[string]interface{}{
			"sample_interval":   cfg.Monitor.SampleInterval.String(),
			"snapshot_interval": cfg.Monitor.SnapshotInterval.String(),
			"max_restarts":      cfg.Monitor.MaxRestarts,
			"auto_restart":      cfg.Monitor.AutoRestart,
			"thresholds": map[string]interface{}{
				"cpu_percent": cfg.Monitor.Thresholds.CPUPercent,
				"memory_mb":   cfg.Monitor.Thresholds.MemoryMB,
				"open_files":  cfg.Monitor.Thresholds.OpenFiles,
				"threads":     cfg.Monitor.Thresholds.Threads,
			},
		},
		"worker": map[string]interface{}{
			"command": cfg.Worker.Command,
			"args":    cfg.Worker.Args,
		},
	}

	data, err := yaml.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Orchestrator.MaxParallel < 1 {
		return fmt.Errorf("orchestrator.max_parallel must be positive, got %d", c.Orchestrator.MaxParallel)
	}
	if c.Orchestrator.TaskTimeout <= 0 {
		return fmt.Errorf("orchestrator.task_timeout must be positive, got %s", c.Orchestrator.TaskTimeout)
	}
	if c.Orchestrator.PollInterval <= 0 {
		return fmt.Errorf("orchestrator.poll_interval must be positive, got %s", c.Orchestrator.PollInterval)
	}
	if c.Workspace.MaxWorkspaces < 1 {
		return fmt.Errorf("workspace.max_workspaces must be positive, got %d", c.Workspace.MaxWorkspaces)
	}
	if c.Monitor.SampleInterval <= 0 {
		return fmt.Errorf("monitor.sample_interval must be positive, got %s", c.Monitor.SampleInterval)
	}
	if c.Worker.Command == "" {
		return fmt.Errorf("worker.command must not be empty")
	}
	return nil
}
