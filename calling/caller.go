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

// CallerState is the state of the caller orchestrator
type CallerState string

const (
	CallerIdle    CallerState = "idle"
	CallerRinging CallerState = "ringing"
	CallerInCall  CallerState = "in_call"
)

// Caller places routed calls. It holds at most one outstanding request and
// at most one active session.
type Caller struct {
	config        *Config
	self          Identity
	channel       SignalingChannel
	router        CallRouter
	newNegotiator NegotiatorFactory
	log           zerolog.Logger
	events        *EventEmitter

	mu        sync.Mutex
	state     CallerState
	request   *CallRequest
	active    Negotiator
	balance   int
	connected bool
}

// NewCaller creates a caller orchestrator
func NewCaller(self Identity, channel SignalingChannel, router CallRouter, factory NegotiatorFactory, config *Config) *Caller {
	config = config.withDefaults()
	return &Caller{
		config:        config,
		self:          self,
		channel:       channel,
		router:        router,
		newNegotiator: factory,
		log:           config.Logger.With().Str("component", "caller").Str("caller", self.ID).Logger(),
		events:        NewEventEmitter(),
		state:         CallerIdle,
	}
}

// On registers a handler for an orchestrator event
func (c *Caller) On(event OrchestratorEventKey, handler EventHandler) {
	c.events.On(string(event), handler)
}

// Connect registers the caller with the relay and subscribes to routing
// replies. It is re-announced after every reconnect.
func (c *Caller) Connect() error {
	c.mu.Lock()
	first := !c.connected
	c.connected = true
	c.mu.Unlock()

	if first {
		c.channel.On(EventCallAccepted, c.handleAccepted)
		c.channel.On(EventCallRejected, c.handleRejected)
		if rn, ok := c.channel.(reconnectNotifier); ok {
			rn.OnReconnect(func() {
				if err := c.channel.Emit(EventUserConnect, c.self.ID); err != nil {
					c.log.Warn().Err(err).Msg("Failed to re-register after reconnect")
				}
			})
		}
	}
	return c.channel.Emit(EventUserConnect, c.self.ID)
}

// SetBalance records the last-known prepaid balance
func (c *Caller) SetBalance(coins int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balance = coins
}

// Balance returns the last-known prepaid balance
func (c *Caller) Balance() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balance
}

// PlaceCall routes a call to callee. While a request is outstanding or a
// session is active it does nothing and returns the current request.
func (c *Caller) PlaceCall(ctx context.Context, callee Identity) (*CallRequest, error) {
	c.mu.Lock()
	if c.state != CallerIdle {
		var req *CallRequest
		if c.request != nil {
			cp := *c.request
			req = &cp
		}
		c.mu.Unlock()
		c.log.Debug().Str("callee", callee.ID).Msg("Ignoring call request while busy")
		return req, nil
	}
	if c.balance < c.config.MinimumBalance {
		balance := c.balance
		c.mu.Unlock()
		return nil, &InsufficientBalanceError{Balance: balance, Minimum: c.config.MinimumBalance}
	}
	req := &CallRequest{TargetCalleeID: callee.ID, Busy: true}
	c.state = CallerRinging
	c.request = req
	c.mu.Unlock()

	roomID, err := c.router.InitiateCall(ctx, callee.ID)
	if err != nil {
		c.clearRequest(req)
		if !IsRoutingError(err) && !IsInsufficientBalance(err) {
			err = &RoutingError{CalleeID: callee.ID, Reason: "initiate call", Err: err}
		}
		c.log.Error().Err(err).Msg("Failed to initiate call")
		return nil, err
	}

	c.mu.Lock()
	if c.request != req {
		c.mu.Unlock()
		return nil, &RoutingError{CalleeID: callee.ID, RoomID: roomID, Reason: "cancelled"}
	}
	req.RoomID = roomID
	snapshot := *req
	c.mu.Unlock()

	if err := c.channel.Emit(EventJoinRoom, roomID); err != nil {
		c.clearRequest(req)
		return nil, &RoutingError{CalleeID: callee.ID, RoomID: roomID, Reason: "join room", Err: err}
	}
	payload := CallRequestPayload{
		TargetID:   callee.ID,
		CallerID:   c.self.ID,
		CallerName: c.self.Name,
		RoomID:     roomID,
	}
	if err := c.channel.Emit(EventCallRequest, payload); err != nil {
		c.clearRequest(req)
		c.channel.Emit(EventLeaveRoom, roomID)
		return nil, &RoutingError{CalleeID: callee.ID, RoomID: roomID, Reason: "send call request", Err: err}
	}

	c.log.Info().Str("callee", callee.ID).Str("room", roomID).Msg("Ringing")
	c.events.Emit(string(OrchestratorEventRinging), snapshot)
	return &snapshot, nil
}

// clearRequest drops req if it is still the outstanding request
func (c *Caller) clearRequest(req *CallRequest) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.request != req {
		return false
	}
	c.request = nil
	c.state = CallerIdle
	return true
}

// Cancel withdraws the outstanding request. It reports whether there was one.
func (c *Caller) Cancel() bool {
	c.mu.Lock()
	req := c.request
	if c.state != CallerRinging || req == nil {
		c.mu.Unlock()
		return false
	}
	c.request = nil
	c.state = CallerIdle
	c.mu.Unlock()

	if req.RoomID != "" {
		if err := c.channel.Emit(EventLeaveRoom, req.RoomID); err != nil {
			c.log.Warn().Err(err).Msg("Failed to leave room")
		}
	}
	c.log.Info().Str("callee", req.TargetCalleeID).Msg("Call request cancelled")
	c.events.Emit(string(OrchestratorEventCallCancelled), *req)
	return true
}

func (c *Caller) handleAccepted(data json.RawMessage) {
	var p CallAcceptedPayload
	if err := json.Unmarshal(data, &p); err != nil {
		c.log.Warn().Err(err).Msg("Malformed call-accepted payload")
		return
	}

	c.mu.Lock()
	req := c.request
	if c.state != CallerRinging || req == nil || req.RoomID == "" || p.RoomID != req.RoomID {
		c.mu.Unlock()
		c.log.Debug().Str("event_room", p.RoomID).Msg("Ignoring call-accepted")
		return
	}
	neg, err := c.newNegotiator(RoleInitiator, SessionParams{
		RoomID:        req.RoomID,
		LocalPartyID:  c.self.ID,
		RemotePartyID: req.TargetCalleeID,
		EndedBy:       EndedByCaller,
	})
	if err != nil {
		c.request = nil
		c.state = CallerIdle
		c.mu.Unlock()
		c.log.Error().Err(err).Msg("Failed to create negotiator")
		c.events.Emit(string(OrchestratorEventCallFailed), err)
		return
	}
	c.request = nil
	c.state = CallerInCall
	c.active = neg
	c.mu.Unlock()

	c.log.Info().Str("room", p.RoomID).Msg("Call accepted")
	c.events.Emit(string(OrchestratorEventNavigateCall), neg)
	go c.runSession(neg)
}

func (c *Caller) handleRejected(data json.RawMessage) {
	var p CallRejectedPayload
	if err := json.Unmarshal(data, &p); err != nil {
		c.log.Warn().Err(err).Msg("Malformed call-rejected payload")
		return
	}

	c.mu.Lock()
	req := c.request
	if c.state != CallerRinging || req == nil || p.CalleeID != req.TargetCalleeID ||
		(p.CallerID != "" && p.CallerID != c.self.ID) {
		c.mu.Unlock()
		c.log.Debug().Str("callee", p.CalleeID).Msg("Ignoring call-rejected")
		return
	}
	c.request = nil
	c.state = CallerIdle
	c.mu.Unlock()

	if req.RoomID != "" {
		if err := c.channel.Emit(EventLeaveRoom, req.RoomID); err != nil {
			c.log.Warn().Err(err).Msg("Failed to leave room")
		}
	}
	err := &RoutingError{CalleeID: req.TargetCalleeID, RoomID: req.RoomID, Reason: "rejected"}
	c.log.Info().Str("callee", req.TargetCalleeID).Msg("Call rejected")
	c.events.Emit(string(OrchestratorEventCallRejected), err)
}

func (c *Caller) runSession(neg Negotiator) {
	if err := neg.Start(context.Background()); err != nil && !errors.Is(err, ErrSessionEnded) {
		c.log.Error().Err(err).Msg("Session failed to start")
		c.events.Emit(string(OrchestratorEventCallFailed), err)
	}
	<-neg.Done()

	c.mu.Lock()
	if c.active == neg {
		c.active = nil
		c.state = CallerIdle
	}
	c.mu.Unlock()
	c.events.Emit(string(OrchestratorEventNavigateBack), neg.Session())
}

// EndCall ends the active session, if any
func (c *Caller) EndCall(reason EndReason) bool {
	c.mu.Lock()
	neg := c.active
	c.mu.Unlock()
	if neg == nil {
		return false
	}
	neg.End(reason)
	return true
}

// State returns the orchestrator state
func (c *Caller) State() CallerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Request returns a copy of the outstanding request, if any
func (c *Caller) Request() *CallRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.request == nil {
		return nil
	}
	cp := *c.request
	return &cp
}

// Active returns the active session, if any
func (c *Caller) Active() Negotiator {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}
