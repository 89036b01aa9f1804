package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/parlor-sh/parlor/internal/models"
	"github.com/parlor-sh/parlor/internal/services"
)

// ProfilesHandler exposes the profile store over REST.
type ProfilesHandler struct {
	store  *services.ProfileStore
	limits *services.RateLimitManager
}

func NewProfilesHandler(store *services.ProfileStore, limits *services.RateLimitManager) *ProfilesHandler {
	return &ProfilesHandler{store: store, limits: limits}
}

// ProfileResponse is the API view of a profile. The raw OAuth token never
// leaves the daemon; callers only see whether one is set and still valid.
type ProfileResponse struct {
	ID              string                  `json:"id"`
	Name            string                  `json:"name"`
	ConfigDirectory string                  `json:"config_directory,omitempty"`
	IsDefault       bool                    `json:"is_default"`
	Email           string                  `json:"email,omitempty"`
	HasToken        bool                    `json:"has_token"`
	HasValidToken   bool                    `json:"has_valid_token"`
	IsAuthenticated bool                    `json:"is_authenticated"`
	RateLimit       models.RateLimitStatus  `json:"rate_limit"`
	RateLimitEvents []models.RateLimitEvent `json:"rate_limit_events,omitempty"`
	LastUsedAt      *time.Time              `json:"last_used_at,omitempty"`
}

func (h *ProfilesHandler) toResponse(p *models.Profile) ProfileResponse {
	return ProfileResponse{
		ID:              p.ID,
		Name:            p.Name,
		ConfigDirectory: p.ConfigDirectory,
		IsDefault:       p.IsDefault,
		Email:           p.Email,
		HasToken:        p.OAuthToken != "",
		HasValidToken:   h.store.HasValidToken(p),
		IsAuthenticated: h.store.IsAuthenticated(p),
		RateLimit:       h.limits.Status(p.ID, time.Now()),
		RateLimitEvents: p.RateLimitEvents,
		LastUsedAt:      p.LastUsedAt,
	}
}

// ListProfiles returns every profile plus the active profile id.
// GET /v1/profiles
func (h *ProfilesHandler) ListProfiles(c *fiber.Ctx) error {
	profiles := h.store.List()
	out := make([]ProfileResponse, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, h.toResponse(p))
	}
	return c.JSON(fiber.Map{
		"profiles":          out,
		"active_profile_id": h.store.ActiveProfileID(),
	})
}

// CreateProfile creates a new profile from a display name.
// POST /v1/profiles
func (h *ProfilesHandler) CreateProfile(c *fiber.Ctx) error {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.BodyParser(&req); err != nil || req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "name is required"})
	}

	profile, err := h.store.Create(req.Name)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusCreated).JSON(h.toResponse(profile))
}

// RenameProfile changes a profile's display name.
// PATCH /v1/profiles/:id
func (h *ProfilesHandler) RenameProfile(c *fiber.Ctx) error {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.BodyParser(&req); err != nil || req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "name is required"})
	}

	if err := h.store.Rename(c.Params("id"), req.Name); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// DeleteProfile removes a profile.
// DELETE /v1/profiles/:id
func (h *ProfilesHandler) DeleteProfile(c *fiber.Ctx) error {
	if err := h.store.Delete(c.Params("id")); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ActivateProfile marks a profile as the active one.
// POST /v1/profiles/:id/activate
func (h *ProfilesHandler) ActivateProfile(c *fiber.Ctx) error {
	if err := h.store.SetActive(c.Params("id")); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// AssignToken stores an OAuth token on a profile.
// PUT /v1/profiles/:id/token
func (h *ProfilesHandler) AssignToken(c *fiber.Ctx) error {
	var req struct {
		Token string `json:"token"`
		Email string `json:"email"`
	}
	if err := c.BodyParser(&req); err != nil || req.Token == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "token is required"})
	}

	if err := h.store.AssignToken(c.Params("id"), req.Token, req.Email); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// RateLimitStatus reports whether a profile is currently limited.
// GET /v1/profiles/:id/ratelimit
func (h *ProfilesHandler) RateLimitStatus(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, ok := h.store.Get(id); !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "profile not found"})
	}
	return c.JSON(h.limits.Status(id, time.Now()))
}

// ClearRateLimits drops a profile's rate limit history.
// DELETE /v1/profiles/:id/ratelimit
func (h *ProfilesHandler) ClearRateLimits(c *fiber.Ctx) error {
	if err := h.limits.Clear(c.Params("id")); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	return c.SendStatus(fiber.StatusNoContent)
}
