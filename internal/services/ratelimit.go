package services

import (
	"time"

	"github.com/parlor-sh/parlor/internal/logger"
	"github.com/parlor-sh/parlor/internal/models"
	"github.com/parlor-sh/parlor/internal/parser"
)

// RateLimitManager records rate limit notices against profiles and answers
// whether a profile is currently limited. Event history lives on the profile
// record itself so it persists with the store.
type RateLimitManager struct {
	store *ProfileStore
}

func NewRateLimitManager(store *ProfileStore) *RateLimitManager {
	return &RateLimitManager{store: store}
}

// Record parses a rate limit notice out of terminal output and, if one is
// found, prepends it to the profile's event history. History is newest first
// and capped at MaxRateLimitEvents. Returns the recorded event, or nil when
// the text carries no notice.
func (m *RateLimitManager) Record(profileID, text string, now time.Time) *models.RateLimitEvent {
	notice := parser.ParseRateLimit(text, now)
	if notice == nil {
		return nil
	}

	event := &models.RateLimitEvent{
		Kind:         notice.Kind,
		HitAt:        now,
		ResetAt:      notice.ResetAt,
		ResetTimeRaw: notice.ResetTimeRaw,
	}

	err := m.store.update(profileID, func(p *models.Profile) {
		p.RateLimitEvents = append([]models.RateLimitEvent{*event}, p.RateLimitEvents...)
		if len(p.RateLimitEvents) > models.MaxRateLimitEvents {
			p.RateLimitEvents = p.RateLimitEvents[:models.MaxRateLimitEvents]
		}
	})
	if err != nil {
		logger.Warnf("⚠️  Failed to record rate limit for profile %s: %v", profileID, err)
		return nil
	}

	logger.Infof("⏳ Profile %s hit %s rate limit, resets at %s", profileID, event.Kind, event.ResetAt.Format(time.RFC3339))
	return event
}

// Status reports whether a profile is limited right now. Only the newest
// event counts: a fresh notice supersedes any older one regardless of how
// far out the older reset was.
func (m *RateLimitManager) Status(profileID string, now time.Time) models.RateLimitStatus {
	p, ok := m.store.Get(profileID)
	if !ok || len(p.RateLimitEvents) == 0 {
		return models.RateLimitStatus{}
	}

	newest := p.RateLimitEvents[0]
	if now.Before(newest.ResetAt) {
		return models.RateLimitStatus{
			Limited: true,
			Kind:    newest.Kind,
			ResetAt: newest.ResetAt,
		}
	}
	return models.RateLimitStatus{}
}

// IsLimited is a convenience wrapper over Status.
func (m *RateLimitManager) IsLimited(profileID string, now time.Time) bool {
	return m.Status(profileID, now).Limited
}

// Clear drops a profile's rate limit history.
func (m *RateLimitManager) Clear(profileID string) error {
	return m.store.update(profileID, func(p *models.Profile) {
		p.RateLimitEvents = nil
	})
}
