package config

import (
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// WorkflowExecutorOverride overrides a role's agent binary, arguments, and
// timeout, layered on top of the YAML-configured default for that role.
type WorkflowExecutorOverride struct {
	Program        string   `toml:"program"`
	Args           []string `toml:"args"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
}

// WorkflowProfile is an optional per-repo TOML document that overrides agent
// executor selection without editing the main YAML config. It lets an
// operator pin one role to a specific binary or timeout for a single repo
// checkout while leaving the shared config untouched.
type WorkflowProfile struct {
	Version   int                                 `toml:"version"`
	Executors map[string]WorkflowExecutorOverride `toml:"executors"`
}

// LoadWorkflowProfile reads and parses path. An empty path is not an error:
// it means no override file was configured, and the caller keeps the YAML
// defaults.
func LoadWorkflowProfile(path string) (WorkflowProfile, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return WorkflowProfile{}, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return WorkflowProfile{}, nil
		}
		return WorkflowProfile{}, err
	}

	var profile WorkflowProfile
	if err := toml.Unmarshal(raw, &profile); err != nil {
		return WorkflowProfile{}, err
	}
	return profile, nil
}

// Apply overlays override onto base, keeping base's fields wherever override
// leaves them at their zero value.
func (override WorkflowExecutorOverride) Apply(program string, timeoutSeconds int) (string, int) {
	if strings.TrimSpace(override.Program) != "" {
		program = override.Program
	}
	if override.TimeoutSeconds > 0 {
		timeoutSeconds = override.TimeoutSeconds
	}
	return program, timeoutSeconds
}
