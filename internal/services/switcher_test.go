package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlor-sh/parlor/internal/config"
	"github.com/parlor-sh/parlor/internal/models"
)

type switchFixture struct {
	store    *ProfileStore
	limits   *RateLimitManager
	sessions *SessionHandler
	coord    *SwitchCoordinator
	events   *recordingEmitter
}

func newSwitchFixture(t *testing.T, cfg config.Switch) *switchFixture {
	t.Helper()
	store := newTestStore(t)
	limits := NewRateLimitManager(store)
	sessions := NewSessionHandler(t.TempDir())
	coord := NewSwitchCoordinator(store, limits, sessions, cfg)
	events := newRecordingEmitter()
	coord.SetEventsHandler(events)
	return &switchFixture{store: store, limits: limits, sessions: sessions, coord: coord, events: events}
}

// addProfile creates a profile that passes the authentication heuristic via
// a stored token, optionally stamped as used at the given time.
func (f *switchFixture) addProfile(t *testing.T, name string, usedAt *time.Time) *models.Profile {
	t.Helper()
	p, err := f.store.Create(name)
	require.NoError(t, err)
	require.NoError(t, f.store.AssignToken(p.ID, "sk-ant-api03-"+p.ID+"-0123456789", ""))
	if usedAt != nil {
		require.NoError(t, f.store.update(p.ID, func(stored *models.Profile) {
			stored.LastUsedAt = usedAt
		}))
	}
	refreshed, ok := f.store.Get(p.ID)
	require.True(t, ok)
	return refreshed
}

func newLimitedProcess(profile *models.Profile) *TerminalProcess {
	return &TerminalProcess{
		Session: &models.Session{
			ID:            "term-1",
			ProjectPath:   "/home/dev/app",
			ClaudeEnabled: true,
			ProfileID:     profile.ID,
			CreatedAt:     time.Now(),
		},
		profile: profile,
	}
}

func sessionLimitEvent(resetAt time.Time) models.RateLimitEvent {
	return models.RateLimitEvent{
		Kind:         models.RateLimitSession,
		HitAt:        resetAt.Add(-time.Hour),
		ResetAt:      resetAt,
		ResetTimeRaw: "3pm",
	}
}

func TestSwitchCoordinatorSwitches(t *testing.T) {
	t.Run("prefers most recently used eligible profile", func(t *testing.T) {
		f := newSwitchFixture(t, config.Switch{Auto: true, Policy: "recent"})

		current := f.addProfile(t, "work", timePtr(time.Now().Add(-time.Minute)))
		f.addProfile(t, "stale", timePtr(time.Now().Add(-48*time.Hour)))
		fresh := f.addProfile(t, "fresh", timePtr(time.Now().Add(-time.Hour)))

		proc := newLimitedProcess(current)
		f.coord.HandleRateLimit(proc, sessionLimitEvent(time.Now().Add(3*time.Hour)))

		sw, ok := f.events.lastSwitch()
		require.True(t, ok)
		assert.Equal(t, [3]string{"term-1", current.ID, fresh.ID}, sw)

		bound := proc.BoundProfile()
		require.NotNil(t, bound)
		assert.Equal(t, fresh.ID, bound.ID)
		assert.Equal(t, fresh.ID, proc.Session.ProfileID)
		assert.Equal(t, fresh.ID, f.store.ActiveProfileID(), "switch persists the new active profile")
	})

	t.Run("default-first policy prefers the default profile", func(t *testing.T) {
		f := newSwitchFixture(t, config.Switch{Auto: true, Policy: "default-first"})

		def := f.addProfile(t, "main", timePtr(time.Now().Add(-72*time.Hour)))
		current := f.addProfile(t, "work", timePtr(time.Now().Add(-time.Minute)))
		f.addProfile(t, "fresh", timePtr(time.Now().Add(-time.Hour)))

		proc := newLimitedProcess(current)
		f.coord.HandleRateLimit(proc, sessionLimitEvent(time.Now().Add(3*time.Hour)))

		sw, ok := f.events.lastSwitch()
		require.True(t, ok)
		assert.Equal(t, def.ID, sw[2])
	})

	t.Run("persists rebound session record", func(t *testing.T) {
		f := newSwitchFixture(t, config.Switch{Auto: true, Policy: "recent"})

		current := f.addProfile(t, "work", nil)
		other := f.addProfile(t, "backup", timePtr(time.Now()))

		proc := newLimitedProcess(current)
		f.coord.HandleRateLimit(proc, sessionLimitEvent(time.Now().Add(3*time.Hour)))

		saved, err := f.sessions.Get("/home/dev/app", "term-1")
		require.NoError(t, err)
		require.NotNil(t, saved)
		assert.Equal(t, other.ID, saved.ProfileID)
	})
}

func TestSwitchCoordinatorEligibility(t *testing.T) {
	t.Run("skips rate limited profiles", func(t *testing.T) {
		f := newSwitchFixture(t, config.Switch{Auto: true, Policy: "recent"})

		current := f.addProfile(t, "work", nil)
		limited := f.addProfile(t, "limited", timePtr(time.Now()))
		free := f.addProfile(t, "free", timePtr(time.Now().Add(-time.Hour)))

		require.NotNil(t, f.limits.Record(limited.ID, "Usage limit reached. Your limit will reset at 11pm.", time.Now()))

		proc := newLimitedProcess(current)
		f.coord.HandleRateLimit(proc, sessionLimitEvent(time.Now().Add(3*time.Hour)))

		sw, ok := f.events.lastSwitch()
		require.True(t, ok)
		assert.Equal(t, free.ID, sw[2])
	})

	t.Run("skips unauthenticated profiles", func(t *testing.T) {
		f := newSwitchFixture(t, config.Switch{Auto: true, Policy: "recent"})

		current := f.addProfile(t, "work", nil)
		_, err := f.store.Create("bare")
		require.NoError(t, err)

		proc := newLimitedProcess(current)
		f.coord.HandleRateLimit(proc, sessionLimitEvent(time.Now().Add(3*time.Hour)))

		assert.Equal(t, 0, f.events.switchCount())
		assert.Equal(t, 1, f.events.noAvailableCount())
	})

	t.Run("no other profile means no profile available", func(t *testing.T) {
		f := newSwitchFixture(t, config.Switch{Auto: true, Policy: "recent"})

		current := f.addProfile(t, "work", nil)
		proc := newLimitedProcess(current)
		f.coord.HandleRateLimit(proc, sessionLimitEvent(time.Now().Add(3*time.Hour)))

		assert.Equal(t, 0, f.events.switchCount())
		assert.Equal(t, 1, f.events.noAvailableCount())

		bound := proc.BoundProfile()
		require.NotNil(t, bound)
		assert.Equal(t, current.ID, bound.ID, "session stays on its limited profile")
	})
}

func TestSwitchCoordinatorDeduplication(t *testing.T) {
	t.Run("same reset window fires once", func(t *testing.T) {
		f := newSwitchFixture(t, config.Switch{Auto: true, Policy: "recent"})

		current := f.addProfile(t, "work", nil)
		f.addProfile(t, "backup", timePtr(time.Now()))

		proc := newLimitedProcess(current)
		resetAt := time.Now().Add(3 * time.Hour)
		f.coord.HandleRateLimit(proc, sessionLimitEvent(resetAt))
		f.coord.HandleRateLimit(proc, sessionLimitEvent(resetAt))

		assert.Equal(t, 1, f.events.switchCount())
	})

	t.Run("new reset window fires again", func(t *testing.T) {
		f := newSwitchFixture(t, config.Switch{Auto: true, Policy: "recent"})

		current := f.addProfile(t, "work", timePtr(time.Now().Add(-time.Minute)))
		f.addProfile(t, "backup", timePtr(time.Now()))

		proc := newLimitedProcess(current)
		f.coord.HandleRateLimit(proc, sessionLimitEvent(time.Now().Add(3*time.Hour)))
		f.coord.HandleRateLimit(proc, sessionLimitEvent(time.Now().Add(5*time.Hour)))

		assert.Equal(t, 2, f.events.switchCount())
	})
}

func TestSwitchCoordinatorAutoDisabled(t *testing.T) {
	f := newSwitchFixture(t, config.Switch{Auto: false, Policy: "recent"})

	current := f.addProfile(t, "work", nil)
	f.addProfile(t, "backup", timePtr(time.Now()))

	proc := newLimitedProcess(current)
	f.coord.HandleRateLimit(proc, sessionLimitEvent(time.Now().Add(3*time.Hour)))

	assert.Equal(t, 0, f.events.switchCount())
	assert.Equal(t, 0, f.events.noAvailableCount())

	bound := proc.BoundProfile()
	require.NotNil(t, bound)
	assert.Equal(t, current.ID, bound.ID)
}
