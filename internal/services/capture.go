package services

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/parlor-sh/parlor/internal/logger"
)

const (
	captureInitialDelay  = 2 * time.Second
	captureProbeInterval = time.Second
	captureMaxProbes     = 10
)

// CaptureOptions configures one run of the session id capture protocol.
type CaptureOptions struct {
	// ProjectDir is the record directory scanned on each probe.
	ProjectDir string
	// StartedAt bounds the scan: only records modified after it count.
	StartedAt time.Time
	// ShouldStop is evaluated before every probe. Returning true ends the
	// task silently, covering disposal and races with inline extraction.
	ShouldStop func() bool
	// OnCaptured receives the captured id. Called at most once.
	OnCaptured func(sessionID string)

	InitialDelay  time.Duration
	ProbeInterval time.Duration
	MaxProbes     int
}

// CaptureTask polls a project's record directory for the session id the
// tool writes shortly after startup. It waits an initial grace period, then
// probes up to MaxProbes times, selecting the most recently modified record
// newer than the session start. The task is cancellable at every step so a
// disposed session never gets a late capture.
type CaptureTask struct {
	clock clock.Clock
	opts  CaptureOptions

	cancelOnce sync.Once
	cancelCh   chan struct{}

	mu       sync.Mutex
	attempts int
	done     bool
}

// NewCaptureTask builds a task without starting it. Zero-valued timing
// options fall back to the 2s grace, 1s interval, 10 probe defaults.
func NewCaptureTask(clk clock.Clock, opts CaptureOptions) *CaptureTask {
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = captureInitialDelay
	}
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = captureProbeInterval
	}
	if opts.MaxProbes <= 0 {
		opts.MaxProbes = captureMaxProbes
	}
	if opts.ShouldStop == nil {
		opts.ShouldStop = func() bool { return false }
	}
	return &CaptureTask{
		clock:    clk,
		opts:     opts,
		cancelCh: make(chan struct{}),
	}
}

// Start runs the probe loop in the background.
func (t *CaptureTask) Start() {
	go t.run()
}

// Cancel stops the task. Safe to call more than once and after completion.
func (t *CaptureTask) Cancel() {
	t.cancelOnce.Do(func() { close(t.cancelCh) })
}

// Attempts reports how many probes have run so far.
func (t *CaptureTask) Attempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

// Done reports whether the task has finished, by capture, cancellation, or
// probe exhaustion.
func (t *CaptureTask) Done() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

func (t *CaptureTask) finish() {
	t.mu.Lock()
	t.done = true
	t.mu.Unlock()
}

func (t *CaptureTask) run() {
	defer t.finish()

	timer := t.clock.Timer(t.opts.InitialDelay)
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-timer.C:
		case <-t.cancelCh:
			return
		}

		if t.opts.ShouldStop() {
			return
		}

		t.mu.Lock()
		t.attempts = attempt
		t.mu.Unlock()

		if id := newestRecordSince(t.opts.ProjectDir, t.opts.StartedAt); id != "" {
			logger.Debugf("🎯 Captured session id %s after %d probe(s)", id, attempt)
			if t.opts.OnCaptured != nil {
				t.opts.OnCaptured(id)
			}
			return
		}

		if attempt >= t.opts.MaxProbes {
			logger.Warnf("⚠️  Gave up capturing session id from %s after %d probes", t.opts.ProjectDir, attempt)
			return
		}
		timer.Reset(t.opts.ProbeInterval)
	}
}

// newestRecordSince scans dir for UUID-named .jsonl records modified after
// startedAt and returns the id of the newest one, or "" when none qualify.
// Directory read failures count as no match.
func newestRecordSince(dir string, startedAt time.Time) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}

	var newestID string
	var newestTime time.Time
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".jsonl")
		if _, err := uuid.Parse(id); err != nil {
			continue
		}

		info, err := os.Stat(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		modTime := info.ModTime()
		if modTime.After(startedAt) && modTime.After(newestTime) {
			newestID = id
			newestTime = modTime
		}
	}
	return newestID
}
