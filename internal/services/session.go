package services

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/parlor-sh/parlor/internal/logger"
	"github.com/parlor-sh/parlor/internal/models"
)

// SessionHandler persists Session records to disk. Records live under two
// trees keyed by project path: "current" for live lookup and "history" for
// date-scoped browsing. Sessions without a project path are never persisted.
type SessionHandler struct {
	stateDir string
	mu       sync.Mutex
}

func NewSessionHandler(stateDir string) *SessionHandler {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		logger.Warnf("⚠️  Failed to create session state directory: %v", err)
	}
	return &SessionHandler{stateDir: stateDir}
}

// sanitizeKey makes a project path usable as a directory name.
func sanitizeKey(projectPath string) string {
	key := strings.ReplaceAll(projectPath, "/", "_")
	key = strings.ReplaceAll(key, ":", "_")
	return strings.Trim(key, "_")
}

func (h *SessionHandler) currentPath(projectPath, sessionID string) string {
	return filepath.Join(h.stateDir, "current", sanitizeKey(projectPath), sessionID+".json")
}

func (h *SessionHandler) historyPath(projectPath, date, sessionID string) string {
	return filepath.Join(h.stateDir, "history", sanitizeKey(projectPath), date, sessionID+".json")
}

// Save persists a session record to both the current and history trees.
// Sessions with no project path are skipped silently. A save is atomic with
// respect to concurrent saves of the same session.
func (h *SessionHandler) Save(session *models.Session) error {
	if session.ID == "" {
		return fmt.Errorf("session ID cannot be empty")
	}
	if session.ProjectPath == "" {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	paths := []string{
		h.currentPath(session.ProjectPath, session.ID),
		h.historyPath(session.ProjectPath, session.SessionDate(), session.ID),
	}
	for _, path := range paths {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("failed to create session directory: %w", err)
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return fmt.Errorf("failed to write session record: %w", err)
		}
	}
	return nil
}

// Remove drops a session from the current tree. History records survive for
// date-scoped browsing.
func (h *SessionHandler) Remove(projectPath, sessionID string) error {
	if projectPath == "" || sessionID == "" {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := os.Remove(h.currentPath(projectPath, sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove session record: %w", err)
	}
	return nil
}

// Get loads one current session record. A missing record is (nil, nil).
func (h *SessionHandler) Get(projectPath, sessionID string) (*models.Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return readSessionFile(h.currentPath(projectPath, sessionID))
}

// ListForProject returns all current sessions recorded for a project.
// Unreadable records are skipped.
func (h *SessionHandler) ListForProject(projectPath string) []*models.Session {
	h.mu.Lock()
	defer h.mu.Unlock()

	dir := filepath.Join(h.stateDir, "current", sanitizeKey(projectPath))
	return readSessionDir(dir)
}

// ListForDate returns all historical sessions for a project on a given day.
// The date uses the same YYYY-MM-DD form SessionDate produces.
func (h *SessionHandler) ListForDate(projectPath, date string) []*models.Session {
	h.mu.Lock()
	defer h.mu.Unlock()

	dir := filepath.Join(h.stateDir, "history", sanitizeKey(projectPath), date)
	return readSessionDir(dir)
}

// ClearProject removes every record, current and historical, for a project.
func (h *SessionHandler) ClearProject(projectPath string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := sanitizeKey(projectPath)
	for _, tree := range []string{"current", "history"} {
		if err := os.RemoveAll(filepath.Join(h.stateDir, tree, key)); err != nil {
			return fmt.Errorf("failed to clear %s sessions: %w", tree, err)
		}
	}
	return nil
}

func readSessionDir(dir string) []*models.Session {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var sessions []*models.Session
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		session, err := readSessionFile(filepath.Join(dir, entry.Name()))
		if err != nil || session == nil {
			continue
		}
		sessions = append(sessions, session)
	}
	return sessions
}

func readSessionFile(path string) (*models.Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read session record: %w", err)
	}

	var session models.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session record: %w", err)
	}
	return &session, nil
}
