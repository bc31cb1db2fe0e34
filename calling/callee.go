/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// Callee receives routed calls. It shows at most one incoming prompt and
// runs at most one session; a second request meanwhile is rejected.
type Callee struct {
	config        *Config
	self          Identity
	channel       SignalingChannel
	router        CallRouter
	registry      AvailabilityRegistry
	newNegotiator NegotiatorFactory
	log           zerolog.Logger
	events        *EventEmitter

	mu        sync.Mutex
	available bool
	prompt    *IncomingCall
	accepting bool
	active    Negotiator
	connected bool
}

// NewCallee creates a callee orchestrator
func NewCallee(self Identity, channel SignalingChannel, router CallRouter, registry AvailabilityRegistry, factory NegotiatorFactory, config *Config) *Callee {
	config = config.withDefaults()
	return &Callee{
		config:        config,
		self:          self,
		channel:       channel,
		router:        router,
		registry:      registry,
		newNegotiator: factory,
		log:           config.Logger.With().Str("component", "callee").Str("callee", self.ID).Logger(),
		events:        NewEventEmitter(),
	}
}

// On registers a handler for an orchestrator event
func (c *Callee) On(event OrchestratorEventKey, handler EventHandler) {
	c.events.On(string(event), handler)
}

// Connect registers the callee with the relay and loads its availability
// from the registry.
func (c *Callee) Connect(ctx context.Context) error {
	c.mu.Lock()
	first := !c.connected
	c.connected = true
	c.mu.Unlock()

	if first {
		c.channel.On(EventIncomingCall, c.handleIncoming)
		if rn, ok := c.channel.(reconnectNotifier); ok {
			rn.OnReconnect(func() {
				if err := c.channel.Emit(EventTherapistConnect, c.self.ID); err != nil {
					c.log.Warn().Err(err).Msg("Failed to re-register after reconnect")
				}
			})
		}
	}
	if err := c.channel.Emit(EventTherapistConnect, c.self.ID); err != nil {
		return err
	}

	available, err := c.registry.GetAvailability(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.available = available
	c.mu.Unlock()
	return nil
}

// SetAvailability asks the registry to change the flag. The local flag only
// takes the server-confirmed value.
func (c *Callee) SetAvailability(ctx context.Context, available bool) (bool, error) {
	confirmed, err := c.registry.SetAvailability(ctx, available)
	if err != nil {
		c.log.Error().Err(err).Bool("requested", available).Msg("Failed to update availability")
		return c.Availability(), err
	}

	c.mu.Lock()
	c.available = confirmed
	c.mu.Unlock()

	c.log.Info().Bool("available", confirmed).Msg("Availability updated")
	c.events.Emit(string(OrchestratorEventAvailability), confirmed)
	return confirmed, nil
}

// Availability returns the last server-confirmed availability
func (c *Callee) Availability() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.available
}

func (c *Callee) handleIncoming(data json.RawMessage) {
	var call IncomingCall
	if err := json.Unmarshal(data, &call); err != nil {
		c.log.Warn().Err(err).Msg("Malformed incoming-call payload")
		return
	}
	if call.RoomID == "" || call.CallerID == "" {
		c.log.Warn().Msg("Ignoring incoming-call without room or caller")
		return
	}

	c.mu.Lock()
	if c.prompt != nil || c.active != nil {
		c.mu.Unlock()
		c.log.Info().Str("caller", call.CallerID).Str("room", call.RoomID).Msg("Rejecting call while busy")
		c.emitRejected(call)
		c.events.Emit(string(OrchestratorEventAutoRejected), call)
		return
	}
	c.prompt = &call
	c.mu.Unlock()

	c.log.Info().Str("caller", call.CallerID).Str("room", call.RoomID).Msg("Incoming call")
	c.events.Emit(string(OrchestratorEventIncomingCall), call)
}

// Accept answers the pending call: the router confirms the answer, the
// caller is notified and a receiver session is started.
func (c *Callee) Accept(ctx context.Context) (Negotiator, error) {
	c.mu.Lock()
	call := c.prompt
	if call == nil || c.accepting {
		c.mu.Unlock()
		return nil, ErrNoPendingCall
	}
	c.accepting = true
	c.mu.Unlock()

	callID, err := ParseRoomID(call.RoomID)
	if err != nil {
		c.clearPrompt(call)
		return nil, &RoutingError{RoomID: call.RoomID, Reason: "answer call", Err: err}
	}
	if err := c.router.AnswerCall(ctx, callID); err != nil {
		c.mu.Lock()
		c.accepting = false
		c.mu.Unlock()
		if !IsRoutingError(err) {
			err = &RoutingError{RoomID: call.RoomID, Reason: "answer call", Err: err}
		}
		c.log.Error().Err(err).Msg("Failed to answer call")
		return nil, err
	}

	neg, err := c.newNegotiator(RoleReceiver, SessionParams{
		RoomID:        call.RoomID,
		LocalPartyID:  c.self.ID,
		RemotePartyID: call.CallerID,
		EndedBy:       EndedByCallee,
	})
	if err != nil {
		c.clearPrompt(call)
		return nil, err
	}

	c.mu.Lock()
	c.prompt = nil
	c.accepting = false
	c.active = neg
	c.mu.Unlock()

	accepted := CallAcceptedPayload{CallerID: call.CallerID, CalleeID: c.self.ID, RoomID: call.RoomID}
	if err := c.channel.Emit(EventCallAccepted, accepted); err != nil {
		c.log.Warn().Err(err).Msg("Failed to notify caller of acceptance")
	}

	c.log.Info().Str("room", call.RoomID).Msg("Call accepted")
	c.events.Emit(string(OrchestratorEventNavigateCall), neg)
	go c.runSession(neg)
	return neg, nil
}

// Reject declines the pending call without creating a session
func (c *Callee) Reject() error {
	c.mu.Lock()
	call := c.prompt
	if call == nil || c.accepting {
		c.mu.Unlock()
		return ErrNoPendingCall
	}
	c.prompt = nil
	c.mu.Unlock()

	c.log.Info().Str("caller", call.CallerID).Msg("Call rejected")
	err := c.emitRejected(*call)
	c.events.Emit(string(OrchestratorEventIncomingCleared), *call)
	return err
}

func (c *Callee) emitRejected(call IncomingCall) error {
	payload := CallRejectedPayload{CallerID: call.CallerID, CalleeID: c.self.ID}
	if err := c.channel.Emit(EventCallRejected, payload); err != nil {
		c.log.Warn().Err(err).Msg("Failed to send call-rejected")
		return err
	}
	return nil
}

func (c *Callee) clearPrompt(call *IncomingCall) {
	c.mu.Lock()
	if c.prompt == call {
		c.prompt = nil
	}
	c.accepting = false
	c.mu.Unlock()
	c.events.Emit(string(OrchestratorEventIncomingCleared), *call)
}

func (c *Callee) runSession(neg Negotiator) {
	if err := neg.Start(context.Background()); err != nil && !errors.Is(err, ErrSessionEnded) {
		c.log.Error().Err(err).Msg("Session failed to start")
		c.events.Emit(string(OrchestratorEventCallFailed), err)
	}
	<-neg.Done()

	c.mu.Lock()
	if c.active == neg {
		c.active = nil
	}
	c.mu.Unlock()
	c.events.Emit(string(OrchestratorEventNavigateBack), neg.Session())
}

// EndCall ends the active session, if any
func (c *Callee) EndCall(reason EndReason) bool {
	c.mu.Lock()
	neg := c.active
	c.mu.Unlock()
	if neg == nil {
		return false
	}
	neg.End(reason)
	return true
}

// Pending returns the incoming call awaiting a decision, if any
func (c *Callee) Pending() *IncomingCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.prompt == nil {
		return nil
	}
	cp := *c.prompt
	return &cp
}

// Active returns the active session, if any
func (c *Callee) Active() Negotiator {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}
