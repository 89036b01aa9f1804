package services

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/creack/pty"
	"github.com/google/uuid"

	"github.com/parlor-sh/parlor/internal/config"
	"github.com/parlor-sh/parlor/internal/logger"
	"github.com/parlor-sh/parlor/internal/models"
	"github.com/parlor-sh/parlor/internal/parser"
)

// maxBufferBytes bounds each process's output replay buffer. Older bytes
// fall off the front.
const maxBufferBytes = 256 * 1024

// TerminalProcess is the runtime state of one live session. It is owned by
// the Registry; other components receive only borrowed references. All
// mutable fields are guarded by mu, so different sessions can progress fully
// in parallel while a single session's state has one writer at a time.
type TerminalProcess struct {
	Session *models.Session

	mu      sync.Mutex
	pty     *os.File
	cmd     *exec.Cmd
	profile *models.Profile
	buffer  []byte
	capture *CaptureTask
	// lastNotifiedReset deduplicates switch notifications per unresolved
	// reset window.
	lastNotifiedReset time.Time
	disposed          bool
}

// BoundProfile returns the profile currently backing this session, if any.
func (p *TerminalProcess) BoundProfile() *models.Profile {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.profile == nil {
		return nil
	}
	copied := *p.profile
	return &copied
}

// Snapshot returns a copy of the session's current state. The read loop
// keeps mutating the live Session under mu, so anything that serializes or
// inspects a session takes a snapshot instead of the pointer.
func (p *TerminalProcess) Snapshot() models.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return *p.Session
}

// Buffer returns a copy of the buffered output for reattachment replay.
func (p *TerminalProcess) Buffer() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]byte, len(p.buffer))
	copy(out, p.buffer)
	return out
}

func (p *TerminalProcess) appendBuffer(chunk []byte) {
	p.buffer = append(p.buffer, chunk...)
	if overflow := len(p.buffer) - maxBufferBytes; overflow > 0 {
		p.buffer = p.buffer[overflow:]
	}
}

// SpawnOptions describes one session to create.
type SpawnOptions struct {
	Title            string
	WorkingDirectory string
	ProjectPath      string
	// ClaudeEnabled runs the Claude CLI (with capture and rate-limit
	// tracking); otherwise Command runs as a plain shell session.
	ClaudeEnabled bool
	// Command overrides the spawned program. Defaults to "claude" for
	// Claude sessions and $SHELL otherwise.
	Command []string
	// ProfileID binds the session to a specific profile instead of the
	// store's active one.
	ProfileID string
}

// Registry owns the set of live terminal processes. It spawns and disposes
// sessions, routes their output through the parser, and drives the session
// handler, rate limit manager, and switch coordinator from the results.
type Registry struct {
	mu    sync.RWMutex
	procs map[string]*TerminalProcess

	store    *ProfileStore
	sessions *SessionHandler
	limits   *RateLimitManager
	switcher *SwitchCoordinator
	events   EventsEmitter
	clock    clock.Clock
	capture  config.Capture
}

func NewRegistry(store *ProfileStore, sessions *SessionHandler, limits *RateLimitManager, captureCfg config.Capture) *Registry {
	return &Registry{
		procs:    make(map[string]*TerminalProcess),
		store:    store,
		sessions: sessions,
		limits:   limits,
		events:   noopEmitter{},
		clock:    clock.New(),
		capture:  captureCfg,
	}
}

// SetEventsHandler attaches the presentation-layer emitter.
func (r *Registry) SetEventsHandler(events EventsEmitter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if events != nil {
		r.events = events
	}
}

// SetSwitchCoordinator attaches the profile switch coordinator.
func (r *Registry) SetSwitchCoordinator(sw *SwitchCoordinator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.switcher = sw
}

// Spawn starts a new session process under a PTY and begins routing its
// output. Claude-enabled sessions with a project also start the session id
// capture task.
func (r *Registry) Spawn(opts SpawnOptions) (*TerminalProcess, error) {
	session := &models.Session{
		ID:               uuid.New().String(),
		Title:            opts.Title,
		WorkingDirectory: opts.WorkingDirectory,
		ProjectPath:      opts.ProjectPath,
		ClaudeEnabled:    opts.ClaudeEnabled,
		CreatedAt:        time.Now(),
		LastActiveAt:     time.Now(),
	}

	profile := r.resolveProfile(opts.ProfileID)
	if profile != nil {
		session.ProfileID = profile.ID
	}

	argv := opts.Command
	if len(argv) == 0 {
		if opts.ClaudeEnabled {
			argv = []string{"claude"}
		} else {
			shell := os.Getenv("SHELL")
			if shell == "" {
				shell = "/bin/bash"
			}
			argv = []string{shell}
		}
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = opts.WorkingDirectory
	cmd.Env = os.Environ()
	if profile != nil && profile.ConfigDirectory != "" {
		cmd.Env = append(cmd.Env, "CLAUDE_CONFIG_DIR="+profile.ConfigDirectory)
	}

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to start session process: %w", err)
	}
	_ = pty.Setsize(ptmx, &pty.Winsize{Rows: 24, Cols: 80})

	proc := &TerminalProcess{
		Session: session,
		pty:     ptmx,
		cmd:     cmd,
		profile: profile,
	}

	r.mu.Lock()
	r.procs[session.ID] = proc
	r.mu.Unlock()

	if err := r.sessions.Save(session); err != nil {
		logger.Warnf("⚠️  Failed to persist session %s: %v", session.ID, err)
	}
	if profile != nil {
		r.store.TouchUsed(profile.ID)
	}

	if session.ClaudeEnabled && session.ProjectPath != "" {
		r.startCapture(proc)
	}

	go r.readLoop(proc)

	logger.Infof("🖥️  Spawned session %s (%s) in %s", session.ID, argv[0], opts.WorkingDirectory)
	return proc, nil
}

func (r *Registry) resolveProfile(profileID string) *models.Profile {
	if profileID != "" {
		if p, ok := r.store.Get(profileID); ok {
			return p
		}
		logger.Warnf("⚠️  Requested profile %s not found, using active profile", profileID)
	}
	if p, ok := r.store.ActiveProfile(); ok {
		return p
	}
	return nil
}

// startCapture launches the polling capture task for a session whose id was
// not found inline. The stop condition covers disposal and the race with
// inline extraction.
func (r *Registry) startCapture(proc *TerminalProcess) {
	sessionID := proc.Session.ID
	task := NewCaptureTask(r.clock, CaptureOptions{
		ProjectDir:    config.Runtime.ClaudeProjectsDir(proc.Session.WorkingDirectory),
		StartedAt:     proc.Session.CreatedAt,
		InitialDelay:  r.capture.InitialDelay,
		ProbeInterval: r.capture.ProbeInterval,
		MaxProbes:     r.capture.MaxProbes,
		ShouldStop: func() bool {
			proc.mu.Lock()
			defer proc.mu.Unlock()
			return proc.disposed || proc.Session.CapturedSessionID != ""
		},
		OnCaptured: func(capturedID string) {
			r.setCapturedID(sessionID, capturedID)
		},
	})

	proc.mu.Lock()
	proc.capture = task
	proc.mu.Unlock()
	task.Start()
}

// setCapturedID records a discovered session id. Write-once: a second
// capture, from either the inline or the polling path, is ignored.
func (r *Registry) setCapturedID(sessionID, capturedID string) {
	proc, ok := r.Get(sessionID)
	if !ok {
		return
	}

	proc.mu.Lock()
	if proc.disposed || proc.Session.CapturedSessionID != "" {
		proc.mu.Unlock()
		return
	}
	proc.Session.CapturedSessionID = capturedID
	if proc.capture != nil {
		proc.capture.Cancel()
	}
	session := *proc.Session
	proc.mu.Unlock()

	if err := r.sessions.Save(&session); err != nil {
		logger.Warnf("⚠️  Failed to persist captured id for session %s: %v", sessionID, err)
	}
	r.emitter().EmitSessionIDCaptured(sessionID, capturedID)
}

func (r *Registry) emitter() EventsEmitter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.events
}

// readLoop pumps one session's PTY output. One goroutine per session keeps
// chunks in order; PTY read errors mean the process exited.
func (r *Registry) readLoop(proc *TerminalProcess) {
	buf := make([]byte, 4096)
	for {
		n, err := proc.pty.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			r.handleOutput(proc, chunk)
		}
		if err != nil {
			break
		}
	}

	exitCode := 0
	if err := proc.cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	proc.mu.Lock()
	alreadyDisposed := proc.disposed
	proc.mu.Unlock()
	if !alreadyDisposed {
		logger.Infof("🔚 Session %s exited with code %d", proc.Session.ID, exitCode)
		r.emitter().EmitSessionExited(proc.Session.ID, exitCode)
	}
}

// handleOutput routes one in-order output chunk: inline id extraction,
// rate-limit detection, OAuth URL surfacing, then buffering and fan-out.
func (r *Registry) handleOutput(proc *TerminalProcess, chunk []byte) {
	text := string(chunk)
	sessionID := proc.Session.ID
	now := time.Now()

	proc.mu.Lock()
	proc.appendBuffer(chunk)
	proc.Session.LastActiveAt = now
	claudeEnabled := proc.Session.ClaudeEnabled
	needsID := claudeEnabled && proc.Session.CapturedSessionID == ""
	var profileID string
	if proc.profile != nil {
		profileID = proc.profile.ID
	}
	proc.mu.Unlock()

	if needsID {
		if id := parser.ExtractSessionID(text); id != "" {
			r.setCapturedID(sessionID, id)
		}
	}

	if claudeEnabled && profileID != "" {
		if event := r.limits.Record(profileID, text, now); event != nil {
			r.emitter().EmitRateLimitDetected(sessionID, *event)
			r.mu.RLock()
			sw := r.switcher
			r.mu.RUnlock()
			if sw != nil {
				sw.HandleRateLimit(proc, *event)
			}
		}
	}

	if url := parser.ExtractOAuthURL(text); url != "" {
		r.emitter().EmitOAuthURLFound(sessionID, url)
	}

	r.emitter().EmitOutputArrived(sessionID, chunk)
}

// Get returns the live process for a session id.
func (r *Registry) Get(sessionID string) (*TerminalProcess, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	proc, ok := r.procs[sessionID]
	return proc, ok
}

// List returns the sessions of all live processes.
func (r *Registry) List() []*models.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Session, 0, len(r.procs))
	for _, proc := range r.procs {
		session := proc.Snapshot()
		out = append(out, &session)
	}
	return out
}

// Write sends input bytes to a session's PTY.
func (r *Registry) Write(sessionID string, data []byte) error {
	proc, ok := r.Get(sessionID)
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}
	_, err := proc.pty.Write(data)
	return err
}

// Resize changes a session's terminal dimensions.
func (r *Registry) Resize(sessionID string, cols, rows uint16) error {
	proc, ok := r.Get(sessionID)
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}
	return pty.Setsize(proc.pty, &pty.Winsize{Rows: rows, Cols: cols})
}

// Dispose detaches a session: cancels its capture task, closes the PTY, and
// removes the persisted current record. The underlying process is not
// killed here; closing the PTY lets it wind down on its own.
func (r *Registry) Dispose(sessionID string) error {
	r.mu.Lock()
	proc, ok := r.procs[sessionID]
	if ok {
		delete(r.procs, sessionID)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}

	proc.mu.Lock()
	proc.disposed = true
	if proc.capture != nil {
		proc.capture.Cancel()
	}
	ptmx := proc.pty
	session := *proc.Session
	proc.mu.Unlock()

	if ptmx != nil {
		_ = ptmx.Close()
	}
	if err := r.sessions.Remove(session.ProjectPath, session.ID); err != nil {
		logger.Warnf("⚠️  Failed to remove session record %s: %v", session.ID, err)
	}

	logger.Infof("🗑️  Disposed session %s", session.ID)
	return nil
}

// DisposeAll detaches every live session, used at shutdown.
func (r *Registry) DisposeAll() {
	for _, session := range r.List() {
		_ = r.Dispose(session.ID)
	}
}
