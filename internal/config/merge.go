package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LoadMerged loads the global config and merges any project-specific
// config found starting from cwd.
func LoadMerged(cwd, globalPath string) (*Config, error) {
	cfg, err := LoadOrDefault(globalPath)
	if err != nil {
		return nil, err
	}

	if cwd == "" {
		cwd, _ = os.Getwd()
	}

	projectDir, projectCfg, err := FindProjectConfig(cwd)
	if err != nil {
		return cfg, fmt.Errorf("loading project config: %w", err)
	}

	if projectCfg != nil {
		if err := MergeConfig(cfg, projectCfg, projectDir); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// MergeConfig merges project config into global config. Environment
// overrides still win over the project base URL.
func MergeConfig(global *Config, project *ProjectConfig, projectDir string) error {
	global.ProjectDir = projectDir

	if project.Panel.BaseURL != "" && os.Getenv(EnvBaseURL) == "" {
		global.Panel.BaseURL = project.Panel.BaseURL
	}
	if project.Throttle.Profile != "" {
		if err := global.ApplyProfile(project.Throttle.Profile); err != nil {
			return fmt.Errorf("project config: %w", err)
		}
	}
	if project.Scope.Objective != "" {
		global.Scope.Objective = project.Scope.Objective
	}
	if project.Scope.DoneCriteria != "" {
		global.Scope.DoneCriteria = project.Scope.DoneCriteria
	}

	if project.Nudges.Script != "" {
		clean := filepath.Clean(project.Nudges.Script)
		if strings.Contains(clean, "..") || filepath.IsAbs(clean) {
			return fmt.Errorf("project config: unsafe nudge script path %q", project.Nudges.Script)
		}
		global.NudgeScript = filepath.Join(projectDir, ProjectDirName, clean)
	}
	return global.Validate()
}
