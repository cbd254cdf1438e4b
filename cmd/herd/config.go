package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/herd/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify herd configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/herd/config.yaml
Project-specific overrides can be placed in .herd/config.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		cwd, _ := os.Getwd()
		cfg, err := config.Load(cwd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
		case 1:
			displayConfigKey(cfg, args[0])
		default:
			setConfigKey(cfg, args[0], args[1])
		}
	},
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	fmt.Printf("orchestrator.max_parallel: %d\n", cfg.Orchestrator.MaxParallel)
	fmt.Printf("orchestrator.task_timeout: %s\n", cfg.Orchestrator.TaskTimeout)
	fmt.Printf("orchestrator.poll_interval: %s\n", cfg.Orchestrator.PollInterval)
	fmt.Printf("orchestrator.cleanup_policy: %s\n", cfg.Orchestrator.CleanupPolicy)
	fmt.Printf("orchestrator.cleanup_max_age_days: %d\n", cfg.Orchestrator.CleanupMaxAgeDays)
	fmt.Printf("workspace.base_dir: %s\n", displayOrDefault(cfg.Workspace.BaseDir))
	fmt.Printf("workspace.max_workspaces: %d\n", cfg.Workspace.MaxWorkspaces)
	fmt.Printf("workspace.disk_soft_limit_mb: %d\n", cfg.Workspace.DiskSoftLimitMB)
	fmt.Printf("workspace.base_branch: %s\n", cfg.Workspace.BaseBranch)
	fmt.Printf("monitor.sample_interval: %s\n", cfg.Monitor.SampleInterval)
	fmt.Printf("monitor.snapshot_interval: %s\n", cfg.Monitor.SnapshotInterval)
	fmt.Printf("monitor.max_restarts: %d\n", cfg.Monitor.MaxRestarts)
	fmt.Printf("monitor.auto_restart: %t\n", cfg.Monitor.AutoRestart)
	fmt.Printf("monitor.thresholds.cpu_percent: %.0f\n", cfg.Monitor.Thresholds.CPUPercent)
	fmt.Printf("monitor.thresholds.memory_mb: %.0f\n", cfg.Monitor.Thresholds.MemoryMB)
	fmt.Printf("monitor.thresholds.open_files: %d\n", cfg.Monitor.Thresholds.OpenFiles)
	fmt.Printf("monitor.thresholds.threads: %d\n", cfg.Monitor.Thresholds.Threads)
	fmt.Printf("worker.command: %s\n", cfg.Worker.Command)
	fmt.Printf("worker.args: %s\n", strings.Join(cfg.Worker.Args, " "))
}

func displayOrDefault(s string) string {
	if s == "" {
		return "(default)"
	}
	return s
}

// displayConfigKey prints a single configuration value.
func displayConfigKey(cfg *config.Config, key string) {
	value, err := getConfigValue(cfg, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(value)
}

// setConfigKey sets a configuration value and saves the config.
func setConfigKey(cfg *config.Config, key, value string) {
	if err := setConfigValue(cfg, key, value); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Set %s = %s\n", key, value)
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "orchestrator.max_parallel":
		return strconv.Itoa(cfg.Orchestrator.MaxParallel), nil
	case "orchestrator.task_timeout":
		return cfg.Orchestrator.TaskTimeout.String(), nil
	case "orchestrator.poll_interval":
		return cfg.Orchestrator.PollInterval.String(), nil
	case "orchestrator.cleanup_policy":
		return cfg.Orchestrator.CleanupPolicy, nil
	case "orchestrator.cleanup_max_age_days":
		return strconv.Itoa(cfg.Orchestrator.CleanupMaxAgeDays), nil
	case "workspace.base_dir":
		return displayOrDefault(cfg.Workspace.BaseDir), nil
	case "workspace.max_workspaces":
		return strconv.Itoa(cfg.Workspace.MaxWorkspaces), nil
	case "workspace.disk_soft_limit_mb":
		return strconv.FormatInt(cfg.Workspace.DiskSoftLimitMB, 10), nil
	case "workspace.base_branch":
		return cfg.Workspace.BaseBranch, nil
	case "monitor.sample_interval":
		return cfg.Monitor.SampleInterval.String(), nil
	case "monitor.snapshot_interval":
		return cfg.Monitor.SnapshotInterval.String(), nil
	case "monitor.max_restarts":
		return strconv.Itoa(cfg.Monitor.MaxRestarts), nil
	case "monitor.auto_restart":
		return strconv.FormatBool(cfg.Monitor.AutoRestart), nil
	case "worker.command":
		return cfg.Worker.Command, nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	switch strings.ToLower(key) {
	case "orchestrator.max_parallel":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for max_parallel: %w", err)
		}
		cfg.Orchestrator.MaxParallel = n
	case "orchestrator.task_timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for task_timeout: %w", err)
		}
		cfg.Orchestrator.TaskTimeout = d
	case "orchestrator.poll_interval":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for poll_interval: %w", err)
		}
		cfg.Orchestrator.PollInterval = d
	case "orchestrator.cleanup_policy":
		cfg.Orchestrator.CleanupPolicy = value
	case "orchestrator.cleanup_max_age_days":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for cleanup_max_age_days: %w", err)
		}
		cfg.Orchestrator.CleanupMaxAgeDays = n
	case "workspace.base_dir":
		cfg.Workspace.BaseDir = value
	case "workspace.max_workspaces":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for max_workspaces: %w", err)
		}
		cfg.Workspace.MaxWorkspaces = n
	case "workspace.disk_soft_limit_mb":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid value for disk_soft_limit_mb: %w", err)
		}
		cfg.Workspace.DiskSoftLimitMB = n
	case "workspace.base_branch":
		cfg.Workspace.BaseBranch = value
	case "monitor.sample_interval":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for sample_interval: %w", err)
		}
		cfg.Monitor.SampleInterval = d
	case "monitor.snapshot_interval":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for snapshot_interval: %w", err)
		}
		cfg.Monitor.SnapshotInterval = d
	case "monitor.max_restarts":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for max_restarts: %w", err)
		}
		cfg.Monitor.MaxRestarts = n
	case "monitor.auto_restart":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for auto_restart: %w", err)
		}
		cfg.Monitor.AutoRestart = b
	case "worker.command":
		cfg.Worker.Command = value
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return cfg.Validate()
}
