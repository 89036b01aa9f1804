package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
)

// RuntimeConfig holds the filesystem layout the daemon operates in.
type RuntimeConfig struct {
	// StateDir holds persisted session records, the profile store, and logs.
	StateDir string
	// HomeDir is the user's home directory, where the Claude CLI keeps its
	// own state (~/.claude).
	HomeDir string
	// ProfilesDir is where per-profile config directories are created by
	// default.
	ProfilesDir string
	TempDir     string
}

var (
	// Runtime is the global runtime configuration instance
	Runtime *RuntimeConfig
)

func init() {
	Runtime = DetectRuntime()
}

// DetectRuntime determines the directory layout for the current environment.
// PARLOR_STATE_DIR overrides the default ~/.parlor location.
func DetectRuntime() *RuntimeConfig {
	homeDir, err := homedir.Dir()
	if err != nil {
		homeDir = os.Getenv("HOME")
		if homeDir == "" {
			homeDir = "."
		}
	}

	stateDir := os.Getenv("PARLOR_STATE_DIR")
	if stateDir == "" {
		stateDir = filepath.Join(homeDir, ".parlor")
	}

	config := &RuntimeConfig{
		StateDir:    stateDir,
		HomeDir:     homeDir,
		ProfilesDir: filepath.Join(stateDir, "profiles"),
		TempDir:     os.TempDir(),
	}

	for _, dir := range []string{config.StateDir, config.ProfilesDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			// Degrade: callers treat missing state as empty.
			continue
		}
	}

	return config
}

// ClaudeProjectsDir returns the Claude CLI's record directory for a working
// directory. Claude transforms the path by replacing "/" and "." with "-":
// /workspace/my.app -> ~/.claude/projects/-workspace-my-app
func (c *RuntimeConfig) ClaudeProjectsDir(workDir string) string {
	transformed := strings.ReplaceAll(workDir, "/", "-")
	transformed = strings.ReplaceAll(transformed, ".", "-")
	transformed = strings.TrimPrefix(transformed, "-")
	transformed = "-" + transformed
	return filepath.Join(c.HomeDir, ".claude", "projects", transformed)
}

// LogFile returns the daemon's rotating log file path.
func (c *RuntimeConfig) LogFile() string {
	return filepath.Join(c.StateDir, "logs", "parlor.log")
}

// SessionsDir returns the root of persisted session records.
func (c *RuntimeConfig) SessionsDir() string {
	return filepath.Join(c.StateDir, "sessions")
}

// ProfileStorePath returns the single-file profile store location.
func (c *RuntimeConfig) ProfileStorePath() string {
	return filepath.Join(c.StateDir, "profiles.json")
}
