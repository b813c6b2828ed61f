package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ProjectDirName is the per-project config directory.
const ProjectDirName = ".manicctl"

// ProjectConfig represents the structure of .manicctl/config.toml
type ProjectConfig struct {
	Panel    ProjectPanel    `toml:"panel"`
	Throttle ProjectThrottle `toml:"throttle"`
	Scope    ProjectScope    `toml:"scope"`
	Nudges   ProjectNudges   `toml:"nudges"`
}

// ProjectPanel pins the surface a project is worked on.
type ProjectPanel struct {
	BaseURL string `toml:"base_url"`
}

// ProjectThrottle selects a cadence profile for the project.
type ProjectThrottle struct {
	Profile string `toml:"profile"`
}

// ProjectScope seeds the contract text.
type ProjectScope struct {
	Objective    string `toml:"objective"`
	DoneCriteria string `toml:"done_criteria"`
}

// ProjectNudges points at a YAML nudge script.
type ProjectNudges struct {
	Script string `toml:"script"` // relative to .manicctl/
}

// FindProjectConfig searches for .manicctl/config.toml starting from dir
// and going up. Returns the directory containing .manicctl/ and the loaded
// config, or "" and nil when none is found.
func FindProjectConfig(startDir string) (string, *ProjectConfig, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", nil, err
	}

	for {
		configPath := filepath.Join(dir, ProjectDirName, "config.toml")
		if info, err := os.Stat(configPath); err == nil && !info.IsDir() {
			cfg, err := LoadProjectConfig(configPath)
			return dir, cfg, err
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil, nil
		}
		dir = parent
	}
}

// LoadProjectConfig loads a project configuration from a file
func LoadProjectConfig(path string) (*ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg ProjectConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing project config: %w", err)
	}
	return &cfg, nil
}

const projectTemplate = `# Project-specific manicctl configuration
# Overrides global settings while working inside this directory

[panel]
# base_url = "http://127.0.0.1:8788"

[throttle]
# profile = "stabilize"

[scope]
# objective = ""
# done_criteria = ""

[nudges]
# script = "nudges.yaml"    # Relative to .manicctl/
`

const nudgesTemplate = `name: guarded
pause: 12s
steps:
  - classify blockers only, no writes, suggest minimal next action
  - run smoke checks, fix first blocker, rerun smoke, report concise status
`

// InitProjectConfig scaffolds .manicctl/ in dir and returns the config
// file path.
func InitProjectConfig(dir string) (string, error) {
	root := filepath.Join(dir, ProjectDirName)
	if err := os.MkdirAll(root, 0755); err != nil {
		return "", fmt.Errorf("creating %s directory: %w", ProjectDirName, err)
	}

	configPath := filepath.Join(root, "config.toml")
	if _, err := os.Stat(configPath); err == nil {
		return "", fmt.Errorf("project config already exists at %s", configPath)
	}
	if err := os.WriteFile(configPath, []byte(projectTemplate), 0644); err != nil {
		return "", fmt.Errorf("writing config.toml: %w", err)
	}

	scriptPath := filepath.Join(root, "nudges.yaml")
	if _, err := os.Stat(scriptPath); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(scriptPath, []byte(nudgesTemplate), 0644); err != nil {
			return "", fmt.Errorf("writing nudges.yaml: %w", err)
		}
	}
	return configPath, nil
}
