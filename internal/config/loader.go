package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap/zapcore"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config, defaults.
// Files ending in .toml are decoded as TOML, anything else as JSON. Map
// entries replace the entry of the same name; other fields present in a file
// override the value beneath them. Missing files are not errors; malformed
// or invalid configuration returns an error.
func Load(globalPath, projectPath string) (*HiveConfig, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault loads configuration from conventional paths.
// Global: ~/.hive/config.toml (or config.json)
// Project: .hive/config.toml (or config.json), relative to cwd
func LoadDefault() (*HiveConfig, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}

	return Load(locate(filepath.Join(homeDir, ".hive")), locate(".hive"))
}

// locate returns dir/config.toml if it exists, else dir/config.json.
func locate(dir string) string {
	tomlPath := filepath.Join(dir, "config.toml")
	if _, err := os.Stat(tomlPath); err == nil {
		return tomlPath
	}
	return filepath.Join(dir, "config.json")
}

// mergeConfigFile decodes a config file over base.
// Missing files are silently skipped.
func mergeConfigFile(base *HiveConfig, path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	if isTOML(path) {
		if _, err := toml.Decode(string(data), base); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
		return nil
	}

	if err := json.Unmarshal(data, base); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// Validate reports every inconsistency in the configuration.
func (c *HiveConfig) Validate() error {
	var errs []error

	for name, p := range c.Providers {
		switch p.Type {
		case "echo", "":
		case "command":
			if p.Command == "" {
				errs = append(errs, fmt.Errorf("provider %q: command is required", name))
			}
		default:
			errs = append(errs, fmt.Errorf("provider %q: unknown type %q", name, p.Type))
		}
	}

	for name, w := range c.Workers {
		if _, ok := c.Providers[w.Provider]; !ok {
			errs = append(errs, fmt.Errorf("worker %q: unknown provider %q", name, w.Provider))
		}
	}

	n := c.Network
	if n.ActivationThreshold < 0 || n.ActivationThreshold > 1 {
		errs = append(errs, fmt.Errorf("network: activation_threshold %v outside [0, 1]", n.ActivationThreshold))
	}
	if n.SeedMin > n.SeedMax {
		errs = append(errs, fmt.Errorf("network: seed_min %d exceeds seed_max %d", n.SeedMin, n.SeedMax))
	}
	if n.WeightMin > n.WeightMax {
		errs = append(errs, fmt.Errorf("network: weight_min %v exceeds weight_max %v", n.WeightMin, n.WeightMax))
	}
	if sel, ok := strings.CutPrefix(n.Selector, "worker:"); ok {
		if _, known := c.Workers[sel]; !known {
			errs = append(errs, fmt.Errorf("network: selector worker %q is not configured", sel))
		}
	} else if n.Selector != "" && n.Selector != "random" && n.Selector != "keyword" {
		errs = append(errs, fmt.Errorf("network: unknown selector %q", n.Selector))
	}

	if c.Scheduler.MaxParallel < 0 {
		errs = append(errs, fmt.Errorf("scheduler: max_parallel must not be negative"))
	}

	if c.Logging.Level != "" {
		if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
			errs = append(errs, fmt.Errorf("logging: %w", err))
		}
	}

	return errors.Join(errs...)
}
