package services

import (
	"github.com/parlor-sh/parlor/internal/models"
)

// EventsEmitter is implemented by the presentation layer (the SSE handler)
// and fed by the registry, session handler, and switch coordinator. All
// methods must be safe for concurrent use and must never block the caller.
type EventsEmitter interface {
	EmitOutputArrived(sessionID string, chunk []byte)
	EmitSessionExited(sessionID string, exitCode int)
	EmitSessionIDCaptured(sessionID, capturedID string)
	EmitRateLimitDetected(sessionID string, event models.RateLimitEvent)
	EmitProfileSwitched(sessionID, fromProfileID, toProfileID string)
	EmitOAuthURLFound(sessionID, url string)
	EmitNoProfileAvailable(sessionID, limitedProfileID string)
}

// noopEmitter is used until a real emitter is attached, so services never
// have to nil-check.
type noopEmitter struct{}

func (noopEmitter) EmitOutputArrived(string, []byte)                    {}
func (noopEmitter) EmitSessionExited(string, int)                       {}
func (noopEmitter) EmitSessionIDCaptured(string, string)                {}
func (noopEmitter) EmitRateLimitDetected(string, models.RateLimitEvent) {}
func (noopEmitter) EmitProfileSwitched(string, string, string)          {}
func (noopEmitter) EmitOAuthURLFound(string, string)                    {}
func (noopEmitter) EmitNoProfileAvailable(string, string)               {}
