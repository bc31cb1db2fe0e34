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
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// Negotiator drives one participant's side of a peer-to-peer call: it
// acquires audio, exchanges descriptions and candidates over the signaling
// channel, tracks connection state and tears everything down exactly once.
type Negotiator interface {
	Role() Role
	RoomID() string
	Start(ctx context.Context) error
	End(reason EndReason)
	ToggleMute() bool
	ToggleSpeaker() bool
	State() NegotiatorState
	ConnectionState() ConnectionState
	Session() CallSession
	Duration() string
	Muted() bool
	Speaker() bool
	Err() error
	EndReason() EndReason
	Done() <-chan struct{}
	On(event SessionEventKey, handler EventHandler)
}

// NegotiatorFactory creates negotiators for the orchestrators
type NegotiatorFactory func(role Role, params SessionParams) (Negotiator, error)

// Dependencies are the collaborators a negotiator talks to
type Dependencies struct {
	Channel  SignalingChannel
	Media    MediaSource
	Peers    PeerFactory
	Audio    AudioRouter
	Recorder CallRecorder
}

// roleHandler holds the behavior that differs between initiator and receiver.
// Every method runs on the session's task loop.
type roleHandler interface {
	begin()
	handleOffer(p DescriptionPayload)
	handleAnswer(p DescriptionPayload)
}

// NewNegotiator creates the negotiator variant for role
func NewNegotiator(role Role, params SessionParams, deps Dependencies, config *Config) (Negotiator, error) {
	switch role {
	case RoleInitiator:
		return NewInitiator(params, deps, config), nil
	case RoleReceiver:
		return NewReceiver(params, deps, config), nil
	default:
		return nil, fmt.Errorf("unknown role %q", role)
	}
}

// NewNegotiatorFactory returns a factory that builds negotiators over deps
func NewNegotiatorFactory(deps Dependencies, config *Config) NegotiatorFactory {
	return func(role Role, params SessionParams) (Negotiator, error) {
		return NewNegotiator(role, params, deps, config)
	}
}

// session is the engine shared by both roles. Signaling and peer callbacks
// are posted to a single task loop so offers, answers and candidates are
// processed one at a time in arrival order. Getters read under mu.
type session struct {
	config  *Config
	role    Role
	params  SessionParams
	deps    Dependencies
	log     zerolog.Logger
	clock   clock.Clock
	variant roleHandler
	events  *EventEmitter
	timer   *DurationTimer
	pending *PendingCandidateQueue

	tasks   chan func()
	ready   chan struct{}
	done    chan struct{}
	endOnce sync.Once

	mu         sync.RWMutex
	state      NegotiatorState
	connState  ConnectionState
	started    bool
	pc         PeerConnection
	stream     LocalStream
	localSet   bool
	remoteSet  bool
	muted      bool
	speaker    bool
	err        error
	endReason  EndReason
	setupTimer *clock.Timer
}

func newSession(role Role, params SessionParams, deps Dependencies, config *Config) *session {
	config = config.withDefaults()
	if deps.Audio == nil {
		deps.Audio = nopAudioRouter{}
	}
	s := &session{
		config:    config,
		role:      role,
		params:    params,
		deps:      deps,
		clock:     config.Clock,
		log:       config.Logger.With().Str("room", params.RoomID).Str("role", string(role)).Logger(),
		events:    NewEventEmitter(),
		pending:   NewPendingCandidateQueue(),
		tasks:     make(chan func(), 128),
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
		state:     StateIdle,
		connState: ConnectionStateNew,
	}
	s.timer = NewDurationTimer(s.clock, func(seconds int) {
		s.events.Emit(string(SessionEventDuration), FormatDuration(seconds))
	})
	return s
}

func (s *session) Role() Role { return s.role }

func (s *session) RoomID() string { return s.params.RoomID }

// On registers a handler for a session event
func (s *session) On(event SessionEventKey, handler EventHandler) {
	s.events.On(string(event), handler)
}

// Start acquires audio, builds the peer connection and hands control to the
// role variant. It returns once the session is ready to negotiate; the rest
// of the call proceeds asynchronously until Done is closed.
func (s *session) Start(ctx context.Context) error {
	if s.deps.Channel == nil || s.deps.Media == nil || s.deps.Peers == nil {
		return errors.New("calling: negotiator requires a channel, media source and peer factory")
	}

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrSessionEnded
	}
	s.started = true
	s.mu.Unlock()

	go s.run()
	s.advance(StateAcquiringMedia)
	s.registerListeners()
	s.emit(EventJoinRoom, s.params.RoomID)
	s.armSetupTimeout()

	stream, err := s.deps.Media.AcquireAudio(ctx, s.config.Audio)
	if err != nil {
		merr := &MediaAcquisitionError{Err: err}
		s.fail(merr, EndReasonMediaFailure)
		return merr
	}

	s.mu.Lock()
	if s.closingLocked() {
		s.mu.Unlock()
		stream.Stop()
		return ErrSessionEnded
	}
	s.stream = stream
	muted := s.muted
	s.mu.Unlock()
	if muted {
		for _, t := range stream.Tracks() {
			t.SetEnabled(false)
		}
	}

	pc, err := s.deps.Peers.NewPeerConnection(s.config.ICEServers)
	if err != nil {
		perr := &PeerConnectionFailure{RoomID: s.params.RoomID, Stage: "create", Err: err}
		s.fail(perr, EndReasonConnectionFailed)
		return perr
	}
	for _, t := range stream.Tracks() {
		if err := pc.AddTrack(t); err != nil {
			pc.Close()
			perr := &PeerConnectionFailure{RoomID: s.params.RoomID, Stage: "add track", Err: err}
			s.fail(perr, EndReasonConnectionFailed)
			return perr
		}
	}
	s.bindPeer(pc)

	s.mu.Lock()
	if s.closingLocked() {
		s.mu.Unlock()
		pc.Close()
		return ErrSessionEnded
	}
	s.pc = pc
	s.mu.Unlock()

	if err := s.deps.Audio.Start(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to start audio routing")
	}

	close(s.ready)
	s.post(s.variant.begin)
	return nil
}

// run executes posted tasks until the session is done
func (s *session) run() {
	for {
		select {
		case <-s.done:
			return
		case fn := <-s.tasks:
			s.runTask(fn)
		}
	}
}

func (s *session) runTask(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("Recovered from panic in session task")
		}
	}()
	fn()
}

func (s *session) post(fn func()) {
	select {
	case <-s.done:
	case s.tasks <- fn:
	}
}

// awaitReady blocks until the peer connection exists. It returns false if the
// session ends first.
func (s *session) awaitReady() bool {
	select {
	case <-s.ready:
		return true
	case <-s.done:
		return false
	}
}

func (s *session) registerListeners() {
	ch := s.deps.Channel
	ch.On(EventOffer, func(data json.RawMessage) {
		var p DescriptionPayload
		if !s.decodeRoomEvent(EventOffer, data, &p) {
			return
		}
		s.post(func() { s.variant.handleOffer(p) })
	})
	ch.On(EventAnswer, func(data json.RawMessage) {
		var p DescriptionPayload
		if !s.decodeRoomEvent(EventAnswer, data, &p) {
			return
		}
		s.post(func() { s.variant.handleAnswer(p) })
	})
	ch.On(EventICECandidate, func(data json.RawMessage) {
		var p CandidatePayload
		if !s.decodeRoomEvent(EventICECandidate, data, &p) {
			return
		}
		s.post(func() { s.handleRemoteCandidate(p.Candidate) })
	})
	ch.On(EventCallEnded, func(data json.RawMessage) {
		var p EndCallPayload
		if len(data) > 0 {
			if err := json.Unmarshal(data, &p); err != nil {
				s.log.Warn().Err(err).Msg("Malformed call-ended payload")
				return
			}
		}
		// The relay already scopes call-ended to the room, so an empty
		// room id is accepted.
		if p.RoomID != "" && p.RoomID != s.params.RoomID {
			s.log.Debug().Str("event_room", p.RoomID).Msg("Ignoring call-ended for another room")
			return
		}
		s.log.Info().Str("ended_by", string(p.EndedBy)).Msg("Remote party ended the call")
		go s.End(EndReasonRemoteEnded)
	})
}

type roomScoped interface {
	roomID() string
}

func (p *DescriptionPayload) roomID() string { return p.RoomID }

func (p *CandidatePayload) roomID() string { return p.RoomID }

// decodeRoomEvent decodes data into v and reports whether it belongs to this room.
func (s *session) decodeRoomEvent(event string, data json.RawMessage, v roomScoped) bool {
	if err := json.Unmarshal(data, v); err != nil {
		s.log.Warn().Err(err).Str("event", event).Msg("Malformed signaling payload")
		return false
	}
	if got := v.roomID(); got != s.params.RoomID {
		s.log.Debug().Str("event", event).Str("event_room", got).Msg("Ignoring event for another room")
		return false
	}
	return true
}

// bindPeer wires peer callbacks into the task loop
func (s *session) bindPeer(pc PeerConnection) {
	pc.OnICECandidate(func(c *webrtc.ICECandidateInit) {
		if c == nil {
			s.log.Debug().Msg("Local candidate gathering complete")
			return
		}
		candidate := *c
		s.post(func() {
			s.emit(EventICECandidate, CandidatePayload{RoomID: s.params.RoomID, Candidate: candidate})
		})
	})
	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		s.post(func() { s.handleConnectionState(st) })
	})
	pc.OnICEConnectionStateChange(func(st webrtc.ICEConnectionState) {
		s.log.Debug().Str("ice_state", st.String()).Msg("ICE connection state changed")
	})
	pc.OnICEGatheringStateChange(func(st webrtc.ICEGatheringState) {
		s.log.Debug().Str("gathering_state", st.String()).Msg("ICE gathering state changed")
	})
	pc.OnTrack(func(track RemoteTrack) {
		s.log.Info().Str("track", track.ID).Str("codec", track.MimeType).Msg("Remote track received")
		s.events.Emit(string(SessionEventRemoteTrack), track)
	})
}

// handleRemoteCandidate queues the candidate until the remote description is
// applied, then applies it directly.
func (s *session) handleRemoteCandidate(c webrtc.ICECandidateInit) {
	s.mu.RLock()
	remoteSet := s.remoteSet
	pc := s.pc
	s.mu.RUnlock()

	if !remoteSet && s.pending.Push(c) {
		s.log.Debug().Int("queued", s.pending.Len()).Msg("Queued remote candidate")
		return
	}
	if pc == nil {
		return
	}
	if err := pc.AddICECandidate(c); err != nil {
		s.log.Warn().Err(err).Msg("Failed to add remote candidate")
	}
}

// applyRemoteDescription sets the remote description and drains the pending
// candidates in arrival order.
func (s *session) applyRemoteDescription(desc webrtc.SessionDescription) error {
	s.mu.RLock()
	pc := s.pc
	s.mu.RUnlock()
	if pc == nil {
		return ErrSessionEnded
	}
	if err := pc.SetRemoteDescription(desc); err != nil {
		return err
	}

	s.mu.Lock()
	s.remoteSet = true
	s.mu.Unlock()

	queued := s.pending.Drain()
	for _, c := range queued {
		if err := pc.AddICECandidate(c); err != nil {
			s.log.Warn().Err(err).Msg("Failed to add queued candidate")
		}
	}
	if len(queued) > 0 {
		s.log.Debug().Int("count", len(queued)).Msg("Applied queued candidates")
	}
	return nil
}

func (s *session) handleConnectionState(raw webrtc.PeerConnectionState) {
	next := connectionStateFromPeer(raw)

	s.mu.Lock()
	cur := s.connState
	if s.closingLocked() || !connectionTransitionAllowed(cur, next) {
		s.mu.Unlock()
		s.log.Debug().Str("from", string(cur)).Str("to", string(next)).Msg("Ignoring connection state change")
		return
	}
	s.connState = next
	s.mu.Unlock()

	s.log.Info().Str("from", string(cur)).Str("to", string(next)).Msg("Connection state changed")
	s.events.Emit(string(SessionEventConnectionState), next)

	switch next {
	case ConnectionStateConnecting:
		s.advance(StateConnecting)
	case ConnectionStateConnected:
		s.advance(StateConnected)
		s.mu.Lock()
		if s.setupTimer != nil {
			s.setupTimer.Stop()
			s.setupTimer = nil
		}
		s.mu.Unlock()
		if s.timer.Start() {
			s.events.Emit(string(SessionEventConnected), s.Session())
		}
	case ConnectionStateDisconnected:
		s.log.Warn().Msg("Peer connection disconnected")
	case ConnectionStateFailed:
		s.fail(&PeerConnectionFailure{RoomID: s.params.RoomID, Stage: "connection"}, EndReasonConnectionFailed)
	}
}

func (s *session) armSetupTimeout() {
	d := s.config.SetupTimeout
	if d <= 0 {
		return
	}
	t := s.clock.AfterFunc(d, func() {
		s.post(func() {
			if s.ConnectionState() == ConnectionStateConnected {
				return
			}
			s.fail(&PeerConnectionFailure{
				RoomID: s.params.RoomID,
				Stage:  "setup",
				Err:    fmt.Errorf("not connected after %s", d),
			}, EndReasonSetupTimeout)
		})
	})
	s.mu.Lock()
	s.setupTimer = t
	s.mu.Unlock()
}

// advance moves the negotiator state forward. Backward moves are ignored.
func (s *session) advance(next NegotiatorState) bool {
	s.mu.Lock()
	if s.closingLocked() || s.state == StateFailed || stateRank[next] <= stateRank[s.state] {
		s.mu.Unlock()
		return false
	}
	s.state = next
	s.mu.Unlock()

	s.log.Debug().Str("state", string(next)).Msg("Negotiator state changed")
	s.events.Emit(string(SessionEventState), next)
	return true
}

// closingLocked reports whether teardown has begun. Callers hold mu.
func (s *session) closingLocked() bool {
	return s.state == StateEnding || s.state == StateClosed
}

// fail records err, moves to Failed and ends the session with reason.
func (s *session) fail(err error, reason EndReason) {
	s.mu.Lock()
	if s.closingLocked() {
		s.mu.Unlock()
		return
	}
	if s.err == nil {
		s.err = err
	}
	s.state = StateFailed
	s.mu.Unlock()

	s.log.Error().Err(err).Msg("Session failed")
	s.events.Emit(string(SessionEventState), StateFailed)
	s.events.Emit(string(SessionEventError), err)
	s.End(reason)
}

// violation logs a protocol violation. The session continues.
func (s *session) violation(event, reason string, err error) {
	v := &SignalingProtocolViolation{RoomID: s.params.RoomID, Event: event, Reason: reason, Err: err}
	s.log.Warn().Err(v).Msg("Ignoring signaling message")
}

func (s *session) emit(event string, payload interface{}) error {
	if err := s.deps.Channel.Emit(event, payload); err != nil {
		s.log.Warn().Err(err).Str("event", event).Msg("Failed to emit signaling event")
		return err
	}
	return nil
}

// ToggleMute flips the local audio enable flag and returns the muted state.
func (s *session) ToggleMute() bool {
	s.mu.Lock()
	s.muted = !s.muted
	muted := s.muted
	stream := s.stream
	s.mu.Unlock()

	if stream != nil {
		for _, t := range stream.Tracks() {
			t.SetEnabled(!muted)
		}
	}
	s.events.Emit(string(SessionEventMute), muted)
	return muted
}

// ToggleSpeaker flips the audio output route and returns the speaker state.
// The flag is left unchanged if the router rejects the switch.
func (s *session) ToggleSpeaker() bool {
	s.mu.Lock()
	next := !s.speaker
	s.mu.Unlock()

	if err := s.deps.Audio.SetSpeaker(next); err != nil {
		s.log.Warn().Err(err).Bool("speaker", next).Msg("Failed to switch audio route")
		return !next
	}

	s.mu.Lock()
	s.speaker = next
	s.mu.Unlock()
	s.events.Emit(string(SessionEventSpeaker), next)
	return next
}

// End tears the session down. Only the first call has any effect; concurrent
// callers block until teardown completes.
func (s *session) End(reason EndReason) {
	s.endOnce.Do(func() { s.teardown(reason) })
}

func (s *session) teardown(reason EndReason) {
	s.mu.Lock()
	s.endReason = reason
	s.state = StateEnding
	started := s.started
	pc, stream := s.pc, s.stream
	setupTimer := s.setupTimer
	s.setupTimer = nil
	s.mu.Unlock()

	s.timer.Freeze()

	s.log.Info().Str("reason", string(reason)).Msg("Ending session")
	s.events.Emit(string(SessionEventState), StateEnding)
	if setupTimer != nil {
		setupTimer.Stop()
	}

	if started {
		s.cleanupStep("signal end", func() error {
			var errs []error
			if reason.notifiesRemote() {
				if err := s.emit(EventEndCall, EndCallPayload{RoomID: s.params.RoomID, EndedBy: s.params.EndedBy}); err != nil {
					errs = append(errs, err)
				}
			}
			if err := s.emit(EventLeaveRoom, s.params.RoomID); err != nil {
				errs = append(errs, err)
			}
			return errors.Join(errs...)
		})
	}
	s.cleanupStep("stop local tracks", func() error {
		if stream == nil {
			return nil
		}
		return stream.Stop()
	})
	s.cleanupStep("close peer connection", func() error {
		if pc == nil {
			return nil
		}
		return pc.Close()
	})
	if started {
		s.cleanupStep("stop audio routing", s.deps.Audio.Stop)
	}
	s.cleanupStep("stop duration timer", func() error {
		s.timer.Stop()
		return nil
	})
	if started {
		s.cleanupStep("remove room listeners", func() error {
			for _, event := range roomEvents {
				s.deps.Channel.Off(event)
			}
			return nil
		})
	}
	if started && reason.notifiesRemote() && s.deps.Recorder != nil {
		s.cleanupStep("record call end", s.recordEnd)
	}

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	close(s.done)

	s.log.Info().Str("duration", s.timer.String()).Msg("Session closed")
	s.events.Emit(string(SessionEventState), StateClosed)
	s.events.Emit(string(SessionEventEnded), reason)
}

func (s *session) recordEnd() error {
	callID, err := ParseRoomID(s.params.RoomID)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.config.RecordTimeout)
	defer cancel()
	_, err = s.deps.Recorder.EndCall(ctx, callID, s.params.EndedBy)
	return err
}

// cleanupStep runs one teardown step. Failures and panics are logged and
// never stop the remaining steps.
func (s *session) cleanupStep(step string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Err(&CleanupError{Step: step, Err: fmt.Errorf("panic: %v", r)}).Msg("Cleanup step panicked")
		}
	}()
	if err := fn(); err != nil {
		s.log.Warn().Err(&CleanupError{Step: step, Err: err}).Msg("Cleanup step failed")
	}
}

// ---- Getters ----

func (s *session) State() NegotiatorState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *session) ConnectionState() ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connState
}

// Session returns a snapshot of the call
func (s *session) Session() CallSession {
	cs := CallSession{
		RoomID:          s.params.RoomID,
		LocalRole:       s.role,
		RemotePartyID:   s.params.RemotePartyID,
		DurationSeconds: s.timer.Seconds(),
	}
	if at, ok := s.timer.StartedAt(); ok {
		cs.StartedAt = &at
	}
	return cs
}

// Duration returns the elapsed connected time as mm:ss
func (s *session) Duration() string { return s.timer.String() }

func (s *session) Muted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.muted
}

func (s *session) Speaker() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.speaker
}

// Err returns the failure that ended the session, if any
func (s *session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

func (s *session) EndReason() EndReason {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.endReason
}

// Done is closed when teardown completes
func (s *session) Done() <-chan struct{} { return s.done }
