package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ShayCichocki/hive/internal/config"
	"github.com/ShayCichocki/hive/pkg/models"
)

// resolveProject finds the project the command should operate on: the first
// positional argument is a registry id, otherwise the working directory must
// be a registered project root.
func resolveProject(reg *config.Registry, args []string) (*models.Project, error) {
	if len(args) > 0 {
		project, err := reg.Get(args[0])
		if err != nil {
			if errors.Is(err, config.ErrProjectNotFound) {
				return nil, fmt.Errorf("project %q is not registered; run 'hive init' in its directory or 'hive projects' to list known projects", args[0])
			}
			return nil, err
		}
		return project, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}
	project, err := reg.GetByPath(cwd)
	if err != nil {
		if errors.Is(err, config.ErrProjectNotFound) {
			return nil, fmt.Errorf("%s is not a registered project; run 'hive init' here first", cwd)
		}
		return nil, err
	}
	return project, nil
}

// loadConfig loads the user configuration, falling back to defaults when
// no config file exists yet.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	}
	days := int(d.Hours()) / 24
	return fmt.Sprintf("%dd", days)
}
