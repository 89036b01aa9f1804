package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClaudeProjectsDir(t *testing.T) {
	cfg := &RuntimeConfig{HomeDir: "/home/user"}

	tests := []struct {
		workDir string
		want    string
	}{
		{"/workspace/my-project", "-workspace-my-project"},
		{"/workspace/my.app", "-workspace-my-app"},
		{"/home/user/src/parlor", "-home-user-src-parlor"},
	}

	for _, tt := range tests {
		got := cfg.ClaudeProjectsDir(tt.workDir)
		assert.Equal(t, filepath.Join("/home/user", ".claude", "projects", tt.want), got)
	}
}

func TestStatePaths(t *testing.T) {
	cfg := &RuntimeConfig{StateDir: "/tmp/parlor-state"}

	assert.Equal(t, "/tmp/parlor-state/profiles.json", cfg.ProfileStorePath())
	assert.Equal(t, "/tmp/parlor-state/sessions", cfg.SessionsDir())
	assert.Equal(t, "/tmp/parlor-state/logs/parlor.log", cfg.LogFile())
}
