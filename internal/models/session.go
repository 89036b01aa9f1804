package models

import (
	"time"
)

// Session represents one interactive Claude CLI process instance and its
// persisted metadata. Runtime process state lives in the terminal registry;
// this is the durable projection.
type Session struct {
	ID               string `json:"id"`
	Title            string `json:"title,omitempty"`
	WorkingDirectory string `json:"working_directory"`
	// ProjectPath associates the session with a project. Sessions without a
	// project are never persisted.
	ProjectPath string `json:"project_path,omitempty"`
	// ClaudeEnabled marks sessions that talk to the rate-limited Claude CLI
	// (as opposed to plain shell sessions).
	ClaudeEnabled bool `json:"claude_enabled"`
	// CapturedSessionID is the Claude CLI's own session UUID, discovered
	// either inline from the banner output or by polling the projects
	// directory. Write-once: never overwritten after first capture.
	CapturedSessionID string    `json:"captured_session_id,omitempty"`
	ProfileID         string    `json:"profile_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	LastActiveAt      time.Time `json:"last_active_at"`
}

// SessionDate formats the session's creation day, used as the history key.
func (s *Session) SessionDate() string {
	return s.CreatedAt.Format("2006-01-02")
}
