package services

import (
	"sync"

	"github.com/parlor-sh/parlor/internal/models"
)

// recordingEmitter captures emitted events for assertions.
type recordingEmitter struct {
	mu sync.Mutex

	outputs     map[string][]byte
	exits       map[string]int
	captured    map[string]string
	rateLimits  []models.RateLimitEvent
	switches    [][3]string
	oauthURLs   map[string]string
	noAvailable []string
}

func newRecordingEmitter() *recordingEmitter {
	return &recordingEmitter{
		outputs:   make(map[string][]byte),
		exits:     make(map[string]int),
		captured:  make(map[string]string),
		oauthURLs: make(map[string]string),
	}
}

func (e *recordingEmitter) EmitOutputArrived(sessionID string, chunk []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.outputs[sessionID] = append(e.outputs[sessionID], chunk...)
}

func (e *recordingEmitter) EmitSessionExited(sessionID string, exitCode int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.exits[sessionID] = exitCode
}

func (e *recordingEmitter) EmitSessionIDCaptured(sessionID, capturedID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.captured[sessionID] = capturedID
}

func (e *recordingEmitter) EmitRateLimitDetected(sessionID string, event models.RateLimitEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rateLimits = append(e.rateLimits, event)
}

func (e *recordingEmitter) EmitProfileSwitched(sessionID, fromProfileID, toProfileID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.switches = append(e.switches, [3]string{sessionID, fromProfileID, toProfileID})
}

func (e *recordingEmitter) EmitOAuthURLFound(sessionID, url string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.oauthURLs[sessionID] = url
}

func (e *recordingEmitter) EmitNoProfileAvailable(sessionID, limitedProfileID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.noAvailable = append(e.noAvailable, sessionID+":"+limitedProfileID)
}

func (e *recordingEmitter) switchCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.switches)
}

func (e *recordingEmitter) lastSwitch() ([3]string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.switches) == 0 {
		return [3]string{}, false
	}
	return e.switches[len(e.switches)-1], true
}

func (e *recordingEmitter) capturedID(sessionID string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.captured[sessionID]
}

func (e *recordingEmitter) oauthURL(sessionID string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.oauthURLs[sessionID]
}

func (e *recordingEmitter) output(sessionID string) []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]byte, len(e.outputs[sessionID]))
	copy(out, e.outputs[sessionID])
	return out
}

func (e *recordingEmitter) noAvailableCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.noAvailable)
}

func (e *recordingEmitter) rateLimitCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.rateLimits)
}
