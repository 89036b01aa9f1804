package services

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlor-sh/parlor/internal/config"
	"github.com/parlor-sh/parlor/internal/models"
)

type registryFixture struct {
	reg      *Registry
	store    *ProfileStore
	sessions *SessionHandler
	limits   *RateLimitManager
	events   *recordingEmitter
}

func newRegistryFixture(t *testing.T) *registryFixture {
	t.Helper()
	store := newTestStore(t)
	sessions := NewSessionHandler(t.TempDir())
	limits := NewRateLimitManager(store)
	reg := NewRegistry(store, sessions, limits, config.Capture{})
	events := newRecordingEmitter()
	reg.SetEventsHandler(events)
	t.Cleanup(reg.DisposeAll)
	return &registryFixture{reg: reg, store: store, sessions: sessions, limits: limits, events: events}
}

// addProcess registers a synthetic process without spawning a real PTY, for
// exercising the output path directly.
func (f *registryFixture) addProcess(t *testing.T, profile *models.Profile) *TerminalProcess {
	t.Helper()
	proc := &TerminalProcess{
		Session: &models.Session{
			ID:            "term-1",
			ProjectPath:   "/home/dev/app",
			ClaudeEnabled: true,
			CreatedAt:     time.Now(),
		},
		profile: profile,
	}
	if profile != nil {
		proc.Session.ProfileID = profile.ID
	}
	f.reg.mu.Lock()
	f.reg.procs[proc.Session.ID] = proc
	f.reg.mu.Unlock()
	return proc
}

func (f *registryFixture) authedProfile(t *testing.T, name string) *models.Profile {
	t.Helper()
	p, err := f.store.Create(name)
	require.NoError(t, err)
	require.NoError(t, f.store.AssignToken(p.ID, "sk-ant-api03-"+p.ID+"-0123456789", ""))
	refreshed, ok := f.store.Get(p.ID)
	require.True(t, ok)
	return refreshed
}

func TestRegistryInlineCapture(t *testing.T) {
	t.Run("banner session id is captured and persisted", func(t *testing.T) {
		f := newRegistryFixture(t)
		proc := f.addProcess(t, nil)

		f.reg.handleOutput(proc, []byte("Session ID: 0c2f4a1e-9d3b-4a6f-8e21-5b7c9d0a1f23\r\n"))

		assert.Equal(t, "0c2f4a1e-9d3b-4a6f-8e21-5b7c9d0a1f23", f.events.capturedID("term-1"))
		assert.Equal(t, "0c2f4a1e-9d3b-4a6f-8e21-5b7c9d0a1f23", proc.Session.CapturedSessionID)

		saved, err := f.sessions.Get("/home/dev/app", "term-1")
		require.NoError(t, err)
		require.NotNil(t, saved)
		assert.Equal(t, "0c2f4a1e-9d3b-4a6f-8e21-5b7c9d0a1f23", saved.CapturedSessionID)
	})

	t.Run("captured id is write-once", func(t *testing.T) {
		f := newRegistryFixture(t)
		proc := f.addProcess(t, nil)

		f.reg.handleOutput(proc, []byte("Session ID: 0c2f4a1e-9d3b-4a6f-8e21-5b7c9d0a1f23\r\n"))
		f.reg.handleOutput(proc, []byte("Session ID: ffffffff-1111-4222-8333-444444444444\r\n"))

		assert.Equal(t, "0c2f4a1e-9d3b-4a6f-8e21-5b7c9d0a1f23", proc.Session.CapturedSessionID)
		assert.Equal(t, "0c2f4a1e-9d3b-4a6f-8e21-5b7c9d0a1f23", f.events.capturedID("term-1"))
	})

	t.Run("plain shell sessions never capture", func(t *testing.T) {
		f := newRegistryFixture(t)
		proc := f.addProcess(t, nil)
		proc.Session.ClaudeEnabled = false

		f.reg.handleOutput(proc, []byte("Session ID: 0c2f4a1e-9d3b-4a6f-8e21-5b7c9d0a1f23\r\n"))
		assert.Empty(t, proc.Session.CapturedSessionID)
	})
}

func TestRegistryRateLimitPath(t *testing.T) {
	t.Run("notice records against bound profile and triggers switch", func(t *testing.T) {
		f := newRegistryFixture(t)
		work := f.authedProfile(t, "work")
		backup := f.authedProfile(t, "backup")
		f.store.TouchUsed(backup.ID)

		sw := NewSwitchCoordinator(f.store, f.limits, f.sessions, config.Switch{Auto: true, Policy: "recent"})
		sw.SetEventsHandler(f.events)
		f.reg.SetSwitchCoordinator(sw)

		proc := f.addProcess(t, work)
		f.reg.handleOutput(proc, []byte("Usage limit reached. Your limit will reset at 11pm.\r\n"))

		assert.Equal(t, 1, f.events.rateLimitCount())
		assert.True(t, f.limits.IsLimited(work.ID, time.Now()))

		swEvent, ok := f.events.lastSwitch()
		require.True(t, ok)
		assert.Equal(t, work.ID, swEvent[1])
		assert.Equal(t, backup.ID, swEvent[2])
	})

	t.Run("profileless session skips rate limit tracking", func(t *testing.T) {
		f := newRegistryFixture(t)
		proc := f.addProcess(t, nil)

		f.reg.handleOutput(proc, []byte("Usage limit reached. Your limit will reset at 11pm.\r\n"))
		assert.Equal(t, 0, f.events.rateLimitCount())
	})
}

func TestRegistryOAuthURLPath(t *testing.T) {
	f := newRegistryFixture(t)
	proc := f.addProcess(t, nil)
	proc.Session.ClaudeEnabled = false

	f.reg.handleOutput(proc, []byte("Open this link to sign in: https://claude.ai/oauth/authorize?code=abc).\r\n"))

	assert.Equal(t, "https://claude.ai/oauth/authorize?code=abc", f.events.oauthURL("term-1"),
		"OAuth URLs surface even on plain shell sessions")
}

func TestRegistryOutputBuffering(t *testing.T) {
	t.Run("chunks accumulate for replay", func(t *testing.T) {
		f := newRegistryFixture(t)
		proc := f.addProcess(t, nil)

		f.reg.handleOutput(proc, []byte("first "))
		f.reg.handleOutput(proc, []byte("second"))

		assert.Equal(t, []byte("first second"), proc.Buffer())
		assert.Equal(t, []byte("first second"), f.events.output("term-1"))
	})

	t.Run("buffer drops oldest bytes past the cap", func(t *testing.T) {
		f := newRegistryFixture(t)
		proc := f.addProcess(t, nil)

		f.reg.handleOutput(proc, bytes.Repeat([]byte("a"), maxBufferBytes))
		f.reg.handleOutput(proc, []byte("tail"))

		buf := proc.Buffer()
		assert.Len(t, buf, maxBufferBytes)
		assert.True(t, bytes.HasSuffix(buf, []byte("tail")))
	})
}

func TestRegistrySpawnAndDispose(t *testing.T) {
	t.Run("spawned process output and exit are emitted", func(t *testing.T) {
		f := newRegistryFixture(t)

		proc, err := f.reg.Spawn(SpawnOptions{
			Title:            "hello",
			WorkingDirectory: t.TempDir(),
			Command:          []string{"/bin/sh", "-c", "echo hello-parlor"},
		})
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			return bytes.Contains(f.events.output(proc.Session.ID), []byte("hello-parlor"))
		}, 5*time.Second, 10*time.Millisecond)

		require.Eventually(t, func() bool {
			f.events.mu.Lock()
			defer f.events.mu.Unlock()
			_, exited := f.events.exits[proc.Session.ID]
			return exited
		}, 5*time.Second, 10*time.Millisecond)
	})

	t.Run("dispose removes the persisted current record", func(t *testing.T) {
		f := newRegistryFixture(t)
		project := t.TempDir()

		proc, err := f.reg.Spawn(SpawnOptions{
			WorkingDirectory: project,
			ProjectPath:      project,
			Command:          []string{"/bin/sh", "-c", "sleep 30"},
		})
		require.NoError(t, err)

		saved, err := f.sessions.Get(project, proc.Session.ID)
		require.NoError(t, err)
		require.NotNil(t, saved)

		require.NoError(t, f.reg.Dispose(proc.Session.ID))

		_, ok := f.reg.Get(proc.Session.ID)
		assert.False(t, ok)

		saved, err = f.sessions.Get(project, proc.Session.ID)
		require.NoError(t, err)
		assert.Nil(t, saved)
	})

	t.Run("disposing an unknown session errors", func(t *testing.T) {
		f := newRegistryFixture(t)
		assert.Error(t, f.reg.Dispose("ghost"))
	})
}

func TestTerminalProcessSnapshot(t *testing.T) {
	t.Run("snapshot is a detached copy", func(t *testing.T) {
		f := newRegistryFixture(t)
		proc := f.addProcess(t, nil)

		snap := proc.Snapshot()
		f.reg.handleOutput(proc, []byte("Session ID: 0c2f4a1e-9d3b-4a6f-8e21-5b7c9d0a1f23\r\n"))

		assert.Equal(t, "term-1", snap.ID)
		assert.Empty(t, snap.CapturedSessionID)
		assert.Equal(t, "0c2f4a1e-9d3b-4a6f-8e21-5b7c9d0a1f23", proc.Snapshot().CapturedSessionID)
	})

	t.Run("serializes safely while output is flowing", func(t *testing.T) {
		f := newRegistryFixture(t)
		proc := f.addProcess(t, nil)

		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := 0; i < 500; i++ {
				f.reg.handleOutput(proc, []byte("output chunk\r\n"))
			}
		}()
		for i := 0; i < 500; i++ {
			_, err := json.Marshal(proc.Snapshot())
			require.NoError(t, err)
		}
		<-done
	})
}
