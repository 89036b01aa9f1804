package services

import (
	"time"

	"github.com/parlor-sh/parlor/internal/config"
	"github.com/parlor-sh/parlor/internal/logger"
	"github.com/parlor-sh/parlor/internal/models"
)

// SwitchCoordinator hot-swaps a rate-limited session onto another credential
// profile. The session's process keeps running; only its bound profile and
// credential-context pointer change.
type SwitchCoordinator struct {
	store    *ProfileStore
	limits   *RateLimitManager
	sessions *SessionHandler
	events   EventsEmitter
	cfg      config.Switch

	now func() time.Time
}

func NewSwitchCoordinator(store *ProfileStore, limits *RateLimitManager, sessions *SessionHandler, cfg config.Switch) *SwitchCoordinator {
	return &SwitchCoordinator{
		store:    store,
		limits:   limits,
		sessions: sessions,
		events:   noopEmitter{},
		cfg:      cfg,
		now:      time.Now,
	}
}

// SetEventsHandler attaches the presentation-layer emitter.
func (c *SwitchCoordinator) SetEventsHandler(events EventsEmitter) {
	if events != nil {
		c.events = events
	}
}

// HandleRateLimit reacts to a rate-limit detection on a session's bound
// profile. At most one switch attempt fires per unresolved reset window for
// a given session; repeated notices with the same reset time are ignored.
func (c *SwitchCoordinator) HandleRateLimit(proc *TerminalProcess, event models.RateLimitEvent) {
	sessionID := proc.Session.ID

	proc.mu.Lock()
	if proc.disposed || proc.lastNotifiedReset.Equal(event.ResetAt) {
		proc.mu.Unlock()
		return
	}
	proc.lastNotifiedReset = event.ResetAt
	var currentID string
	if proc.profile != nil {
		currentID = proc.profile.ID
	}
	proc.mu.Unlock()

	if !c.cfg.Auto {
		logger.Infof("⏸️  Automatic switching disabled, session %s stays on limited profile %s", sessionID, currentID)
		return
	}

	replacement := c.selectReplacement(currentID)
	if replacement == nil {
		logger.Warnf("🚫 No eligible profile to replace %s for session %s", currentID, sessionID)
		c.events.EmitNoProfileAvailable(sessionID, currentID)
		return
	}

	proc.mu.Lock()
	if proc.disposed {
		proc.mu.Unlock()
		return
	}
	proc.profile = replacement
	proc.Session.ProfileID = replacement.ID
	session := *proc.Session
	proc.mu.Unlock()

	if err := c.sessions.Save(&session); err != nil {
		logger.Warnf("⚠️  Failed to persist session %s after switch: %v", sessionID, err)
	}
	if err := c.store.SetActive(replacement.ID); err != nil {
		logger.Warnf("⚠️  Failed to persist active profile %s: %v", replacement.ID, err)
	}
	c.store.TouchUsed(replacement.ID)

	logger.Infof("🔄 Switched session %s from profile %s to %s", sessionID, currentID, replacement.ID)
	c.events.EmitProfileSwitched(sessionID, currentID, replacement.ID)
}

// selectReplacement picks an eligible profile: authenticated, not currently
// rate limited, and not the one being replaced. The tie-break among eligible
// profiles is the configured policy; both policies fall back to the other's
// preference rather than failing.
func (c *SwitchCoordinator) selectReplacement(currentID string) *models.Profile {
	now := c.now()

	var eligible []*models.Profile
	for _, p := range c.store.List() {
		if p.ID == currentID {
			continue
		}
		if !c.store.IsAuthenticated(p) {
			continue
		}
		if c.limits.IsLimited(p.ID, now) {
			continue
		}
		eligible = append(eligible, p)
	}
	if len(eligible) == 0 {
		return nil
	}

	if c.cfg.Policy == "default-first" {
		if p := pickDefault(eligible); p != nil {
			return p
		}
		if p := pickMostRecent(eligible); p != nil {
			return p
		}
		return eligible[0]
	}

	if p := pickMostRecent(eligible); p != nil {
		return p
	}
	if p := pickDefault(eligible); p != nil {
		return p
	}
	return eligible[0]
}

func pickDefault(profiles []*models.Profile) *models.Profile {
	for _, p := range profiles {
		if p.IsDefault {
			return p
		}
	}
	return nil
}

// pickMostRecent returns the most recently used profile. Profiles that were
// never used do not qualify here; the default-profile fallback covers them.
func pickMostRecent(profiles []*models.Profile) *models.Profile {
	var best *models.Profile
	for _, p := range profiles {
		if p.LastUsedAt == nil {
			continue
		}
		if best == nil || p.LastUsedAt.After(*best.LastUsedAt) {
			best = p
		}
	}
	return best
}
