package handlers

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/parlor-sh/parlor/internal/logger"
	"github.com/parlor-sh/parlor/internal/models"
)

// EventType identifies one kind of SSE event.
type EventType string

const (
	SessionOutputEvent      EventType = "session:output"
	SessionExitedEvent      EventType = "session:exited"
	SessionIDCapturedEvent  EventType = "session:id_captured"
	RateLimitDetectedEvent  EventType = "ratelimit:detected"
	ProfileSwitchedEvent    EventType = "profile:switched"
	OAuthURLFoundEvent      EventType = "oauth:url_found"
	NoProfileAvailableEvent EventType = "profile:none_available"
	HeartbeatEvent          EventType = "heartbeat"
)

type AppEvent struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

type SessionOutputPayload struct {
	SessionID string `json:"session_id"`
	// Data is base64 in the JSON encoding.
	Data []byte `json:"data"`
}

type SessionExitedPayload struct {
	SessionID string `json:"session_id"`
	ExitCode  int    `json:"exit_code"`
}

type SessionIDCapturedPayload struct {
	SessionID  string `json:"session_id"`
	CapturedID string `json:"captured_id"`
}

type RateLimitDetectedPayload struct {
	SessionID string                `json:"session_id"`
	Event     models.RateLimitEvent `json:"event"`
}

type ProfileSwitchedPayload struct {
	SessionID     string `json:"session_id"`
	FromProfileID string `json:"from_profile_id"`
	ToProfileID   string `json:"to_profile_id"`
}

type OAuthURLPayload struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

type NoProfileAvailablePayload struct {
	SessionID        string `json:"session_id"`
	LimitedProfileID string `json:"limited_profile_id"`
}

type HeartbeatPayload struct {
	Timestamp int64 `json:"timestamp"`
	Uptime    int64 `json:"uptime"`
}

type SSEMessage struct {
	Event     AppEvent `json:"event"`
	Timestamp int64    `json:"timestamp"`
	ID        string   `json:"id"`
}

// EventsHandler fans service events out to SSE clients and to per-session
// output subscribers (the terminal WebSocket attachments). It implements
// services.EventsEmitter.
type EventsHandler struct {
	clients            map[string]chan SSEMessage
	clientConnectTimes map[string]time.Time
	clientsMux         sync.RWMutex

	outputSubs map[string]map[string]chan []byte
	outputMux  sync.RWMutex

	startTime time.Time
}

func NewEventsHandler() *EventsHandler {
	return &EventsHandler{
		clients:            make(map[string]chan SSEMessage),
		clientConnectTimes: make(map[string]time.Time),
		outputSubs:         make(map[string]map[string]chan []byte),
		startTime:          time.Now(),
	}
}

// HandleSSE streams session, rate-limit, and profile events to the browser.
// GET /v1/events
func (h *EventsHandler) HandleSSE(c *fiber.Ctx) error {
	if ah := c.Get("Accept"); ah != "" && !strings.Contains(ah, "text/event-stream") {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "This endpoint only accepts Server-Sent Events (text/event-stream)",
		})
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	clientID := uuid.New().String()
	ch := make(chan SSEMessage, 100)
	h.addClient(clientID, ch)
	logger.Infof("📡 SSE client connected: %s from %s", clientID, c.IP())

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer h.removeClient(clientID)

		send := func(msg SSEMessage) bool {
			if msg.Event.Type == "" {
				return true
			}
			b, _ := json.Marshal(msg)
			if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
				return false
			}
			return w.Flush() == nil
		}

		if !send(h.makeHeartbeat()) {
			return
		}

		tick := time.NewTicker(30 * time.Second)
		defer tick.Stop()

		for {
			select {
			case msg, ok := <-ch:
				if !ok || !send(msg) {
					return
				}
			case <-tick.C:
				if !send(h.makeHeartbeat()) {
					return
				}
			}
		}
	}))

	return nil
}

func (h *EventsHandler) addClient(id string, ch chan SSEMessage) {
	h.clientsMux.Lock()
	h.clients[id] = ch
	h.clientConnectTimes[id] = time.Now()
	h.clientsMux.Unlock()
}

func (h *EventsHandler) removeClient(id string) {
	h.clientsMux.Lock()
	if ch, ok := h.clients[id]; ok {
		close(ch)
		delete(h.clients, id)
	}
	delete(h.clientConnectTimes, id)
	h.clientsMux.Unlock()
}

func (h *EventsHandler) makeHeartbeat() SSEMessage {
	return SSEMessage{
		Event: AppEvent{
			Type: HeartbeatEvent,
			Payload: HeartbeatPayload{
				Timestamp: time.Now().UnixMilli(),
				Uptime:    time.Since(h.startTime).Milliseconds(),
			},
		},
		Timestamp: time.Now().UnixMilli(),
		ID:        uuid.New().String(),
	}
}

func (h *EventsHandler) broadcastEvent(event AppEvent) {
	message := SSEMessage{
		Event:     event,
		Timestamp: time.Now().UnixMilli(),
		ID:        uuid.New().String(),
	}

	h.clientsMux.RLock()
	var clientsToRemove []string
	for clientID, clientChan := range h.clients {
		select {
		case clientChan <- message:
		default:
			// Slow clients get a short grace period after connecting before
			// a full channel drops them.
			connectTime, exists := h.clientConnectTimes[clientID]
			if !exists || time.Since(connectTime) >= 2*time.Second {
				clientsToRemove = append(clientsToRemove, clientID)
			}
		}
	}
	h.clientsMux.RUnlock()

	for _, clientID := range clientsToRemove {
		logger.Debugf("Dropping slow SSE client %s", clientID)
		h.removeClient(clientID)
	}
}

// SubscribeOutput registers a per-session output listener, used by terminal
// attachments. The returned cancel func must be called on detach.
func (h *EventsHandler) SubscribeOutput(sessionID string) (<-chan []byte, func()) {
	subID := uuid.New().String()
	ch := make(chan []byte, 256)

	h.outputMux.Lock()
	if h.outputSubs[sessionID] == nil {
		h.outputSubs[sessionID] = make(map[string]chan []byte)
	}
	h.outputSubs[sessionID][subID] = ch
	h.outputMux.Unlock()

	cancel := func() {
		h.outputMux.Lock()
		if subs, ok := h.outputSubs[sessionID]; ok {
			if sub, ok := subs[subID]; ok {
				close(sub)
				delete(subs, subID)
			}
			if len(subs) == 0 {
				delete(h.outputSubs, sessionID)
			}
		}
		h.outputMux.Unlock()
	}
	return ch, cancel
}

// EmitOutputArrived forwards a session's output chunk to its attached
// terminals and the SSE stream. Chunks to slow subscribers are dropped, not
// blocked on.
func (h *EventsHandler) EmitOutputArrived(sessionID string, chunk []byte) {
	h.outputMux.RLock()
	for _, sub := range h.outputSubs[sessionID] {
		select {
		case sub <- chunk:
		default:
		}
	}
	h.outputMux.RUnlock()

	h.broadcastEvent(AppEvent{
		Type:    SessionOutputEvent,
		Payload: SessionOutputPayload{SessionID: sessionID, Data: chunk},
	})
}

func (h *EventsHandler) EmitSessionExited(sessionID string, exitCode int) {
	h.broadcastEvent(AppEvent{
		Type:    SessionExitedEvent,
		Payload: SessionExitedPayload{SessionID: sessionID, ExitCode: exitCode},
	})
}

func (h *EventsHandler) EmitSessionIDCaptured(sessionID, capturedID string) {
	h.broadcastEvent(AppEvent{
		Type:    SessionIDCapturedEvent,
		Payload: SessionIDCapturedPayload{SessionID: sessionID, CapturedID: capturedID},
	})
}

func (h *EventsHandler) EmitRateLimitDetected(sessionID string, event models.RateLimitEvent) {
	h.broadcastEvent(AppEvent{
		Type:    RateLimitDetectedEvent,
		Payload: RateLimitDetectedPayload{SessionID: sessionID, Event: event},
	})
}

func (h *EventsHandler) EmitProfileSwitched(sessionID, fromProfileID, toProfileID string) {
	h.broadcastEvent(AppEvent{
		Type: ProfileSwitchedEvent,
		Payload: ProfileSwitchedPayload{
			SessionID:     sessionID,
			FromProfileID: fromProfileID,
			ToProfileID:   toProfileID,
		},
	})
}

func (h *EventsHandler) EmitOAuthURLFound(sessionID, url string) {
	h.broadcastEvent(AppEvent{
		Type:    OAuthURLFoundEvent,
		Payload: OAuthURLPayload{SessionID: sessionID, URL: url},
	})
}

func (h *EventsHandler) EmitNoProfileAvailable(sessionID, limitedProfileID string) {
	h.broadcastEvent(AppEvent{
		Type: NoProfileAvailableEvent,
		Payload: NoProfileAvailablePayload{
			SessionID:        sessionID,
			LimitedProfileID: limitedProfileID,
		},
	})
}
