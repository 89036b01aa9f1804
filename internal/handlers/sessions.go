package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/parlor-sh/parlor/internal/services"
)

// SessionsHandler exposes live session management and the persisted session
// records over REST.
type SessionsHandler struct {
	registry *services.Registry
	sessions *services.SessionHandler
}

func NewSessionsHandler(registry *services.Registry, sessions *services.SessionHandler) *SessionsHandler {
	return &SessionsHandler{registry: registry, sessions: sessions}
}

// ListSessions returns all live sessions.
// GET /v1/sessions
func (h *SessionsHandler) ListSessions(c *fiber.Ctx) error {
	return c.JSON(h.registry.List())
}

// SpawnSession creates a new terminal session.
// POST /v1/sessions
func (h *SessionsHandler) SpawnSession(c *fiber.Ctx) error {
	var req struct {
		Title            string   `json:"title"`
		WorkingDirectory string   `json:"working_directory"`
		ProjectPath      string   `json:"project_path"`
		ClaudeEnabled    bool     `json:"claude_enabled"`
		Command          []string `json:"command"`
		ProfileID        string   `json:"profile_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.WorkingDirectory == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "working_directory is required"})
	}

	proc, err := h.registry.Spawn(services.SpawnOptions{
		Title:            req.Title,
		WorkingDirectory: req.WorkingDirectory,
		ProjectPath:      req.ProjectPath,
		ClaudeEnabled:    req.ClaudeEnabled,
		Command:          req.Command,
		ProfileID:        req.ProfileID,
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusCreated).JSON(proc.Snapshot())
}

// GetSession returns one live session.
// GET /v1/sessions/:id
func (h *SessionsHandler) GetSession(c *fiber.Ctx) error {
	proc, ok := h.registry.Get(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "session not found"})
	}
	return c.JSON(proc.Snapshot())
}

// DisposeSession detaches a live session and removes its current record.
// DELETE /v1/sessions/:id
func (h *SessionsHandler) DisposeSession(c *fiber.Ctx) error {
	if err := h.registry.Dispose(c.Params("id")); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ListProjectSessions returns persisted session records for a project. With
// a date query parameter it browses history instead of current records.
// GET /v1/projects/sessions?project=/path[&date=2026-03-01]
func (h *SessionsHandler) ListProjectSessions(c *fiber.Ctx) error {
	project := c.Query("project")
	if project == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "project is required"})
	}

	if date := c.Query("date"); date != "" {
		return c.JSON(h.sessions.ListForDate(project, date))
	}
	return c.JSON(h.sessions.ListForProject(project))
}

// ClearProjectSessions removes every record for a project.
// DELETE /v1/projects/sessions?project=/path
func (h *SessionsHandler) ClearProjectSessions(c *fiber.Ctx) error {
	project := c.Query("project")
	if project == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "project is required"})
	}
	if err := h.sessions.ClearProject(project); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.SendStatus(fiber.StatusNoContent)
}
