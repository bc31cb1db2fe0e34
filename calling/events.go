/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import "sync"

// SessionEventKey identifies an event emitted by a negotiator
type SessionEventKey string

const (
	SessionEventState           SessionEventKey = "state"
	SessionEventConnectionState SessionEventKey = "connection_state"
	SessionEventConnected       SessionEventKey = "connected"
	SessionEventDuration        SessionEventKey = "duration"
	SessionEventRemoteTrack     SessionEventKey = "remote_track"
	SessionEventMute            SessionEventKey = "mute"
	SessionEventSpeaker         SessionEventKey = "speaker"
	SessionEventError           SessionEventKey = "error"
	SessionEventEnded           SessionEventKey = "ended"
)

// OrchestratorEventKey identifies an event emitted by a call orchestrator
type OrchestratorEventKey string

const (
	OrchestratorEventRinging          OrchestratorEventKey = "ringing"
	OrchestratorEventCallRejected     OrchestratorEventKey = "call_rejected"
	OrchestratorEventCallCancelled    OrchestratorEventKey = "call_cancelled"
	OrchestratorEventNavigateCall     OrchestratorEventKey = "navigate_call"
	OrchestratorEventNavigateBack     OrchestratorEventKey = "navigate_back"
	OrchestratorEventCallFailed       OrchestratorEventKey = "call_failed"
	OrchestratorEventIncomingCall     OrchestratorEventKey = "incoming_call"
	OrchestratorEventIncomingCleared  OrchestratorEventKey = "incoming_call_cleared"
	OrchestratorEventAutoRejected     OrchestratorEventKey = "incoming_call_auto_rejected"
	OrchestratorEventAvailability     OrchestratorEventKey = "availability"
)

// ---- Event Emitter ----

// EventHandler is a callback function for events
type EventHandler func(data interface{})

// EventEmitter provides a simple event pub/sub system
type EventEmitter struct {
	mu       sync.RWMutex
	handlers map[string][]EventHandler
}

// NewEventEmitter creates a new EventEmitter
func NewEventEmitter() *EventEmitter {
	return &EventEmitter{
		handlers: make(map[string][]EventHandler),
	}
}

// On registers an event handler for a specific event type
func (e *EventEmitter) On(event string, handler EventHandler) {
	if handler == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[event] = append(e.handlers[event], handler)
}

// Off removes all handlers for a specific event type
func (e *EventEmitter) Off(event string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.handlers, event)
}

// Emit fires an event, calling all registered handlers
func (e *EventEmitter) Emit(event string, data interface{}) {
	e.mu.RLock()
	handlers := make([]EventHandler, len(e.handlers[event]))
	copy(handlers, e.handlers[event])
	e.mu.RUnlock()

	for _, handler := range handlers {
		handler(data)
	}
}
