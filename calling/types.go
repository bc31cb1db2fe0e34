/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"time"

	"github.com/pion/webrtc/v4"
)

// ---- Enums / Constants ----

// Role is the part a participant plays in session negotiation
type Role string

const (
	// RoleInitiator creates the offer. The caller is always the initiator.
	RoleInitiator Role = "initiator"
	// RoleReceiver answers the offer. The callee is always the receiver.
	RoleReceiver Role = "receiver"
)

// ConnectionState mirrors the peer connection lifecycle
type ConnectionState string

const (
	ConnectionStateNew          ConnectionState = "new"
	ConnectionStateConnecting   ConnectionState = "connecting"
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateFailed       ConnectionState = "failed"
	ConnectionStateClosed       ConnectionState = "closed"
)

// connectionStateFromPeer maps the pion connection state onto ConnectionState.
func connectionStateFromPeer(s webrtc.PeerConnectionState) ConnectionState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return ConnectionStateConnecting
	case webrtc.PeerConnectionStateConnected:
		return ConnectionStateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return ConnectionStateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return ConnectionStateFailed
	case webrtc.PeerConnectionStateClosed:
		return ConnectionStateClosed
	default:
		return ConnectionStateNew
	}
}

// connectionTransitionAllowed reports whether the connection state may move
// from cur to next. Duplicate callbacks are dropped and Connected never falls
// back to New or Connecting; only Connecting and Disconnected may flap.
func connectionTransitionAllowed(cur, next ConnectionState) bool {
	if cur == next {
		return false
	}
	switch cur {
	case ConnectionStateFailed, ConnectionStateClosed:
		return false
	}
	switch next {
	case ConnectionStateNew:
		return false
	case ConnectionStateConnecting:
		return cur == ConnectionStateNew || cur == ConnectionStateDisconnected
	case ConnectionStateDisconnected:
		return cur == ConnectionStateConnecting || cur == ConnectionStateConnected
	default:
		return true
	}
}

// NegotiatorState is the state of one participant's session negotiator
type NegotiatorState string

const (
	StateIdle                      NegotiatorState = "idle"
	StateAcquiringMedia            NegotiatorState = "acquiring_media"
	StateAwaitingRemoteDescription NegotiatorState = "awaiting_remote_description"
	StateCreatingOffer             NegotiatorState = "creating_offer"
	StateDescriptionExchanged      NegotiatorState = "description_exchanged"
	StateConnecting                NegotiatorState = "connecting"
	StateConnected                 NegotiatorState = "connected"
	StateEnding                    NegotiatorState = "ending"
	StateClosed                    NegotiatorState = "closed"
	StateFailed                    NegotiatorState = "failed"
)

// stateRank orders the forward path of the negotiator state machine.
var stateRank = map[NegotiatorState]int{
	StateIdle:                      0,
	StateAcquiringMedia:            1,
	StateAwaitingRemoteDescription: 2,
	StateCreatingOffer:             2,
	StateDescriptionExchanged:      3,
	StateConnecting:                4,
	StateConnected:                 5,
}

// EndReason identifies why a session was torn down
type EndReason string

const (
	EndReasonHangup           EndReason = "hangup"
	EndReasonRemoteEnded      EndReason = "remote_ended"
	EndReasonNavigatedAway    EndReason = "navigated_away"
	EndReasonMediaFailure     EndReason = "media_failure"
	EndReasonConnectionFailed EndReason = "connection_failed"
	EndReasonSetupTimeout     EndReason = "setup_timeout"
)

// notifiesRemote reports whether the local side must announce the end.
// A remote end has already been announced by the other party.
func (r EndReason) notifiesRemote() bool {
	return r != EndReasonRemoteEnded
}

// EndedBy names the party that ended a call, as recorded by the router
type EndedBy string

const (
	EndedByCaller EndedBy = "user"
	EndedByCallee EndedBy = "therapist"
)

// ---- Signaling Events ----

const (
	EventJoinRoom         = "join-room"
	EventLeaveRoom        = "leave-room"
	EventUserConnect      = "user-connect"
	EventTherapistConnect = "therapist-connect"
	EventCallRequest      = "call-therapist"
	EventIncomingCall     = "incoming-call"
	EventCallAccepted     = "call-accepted"
	EventCallRejected     = "call-rejected"
	EventOffer            = "offer"
	EventAnswer           = "answer"
	EventICECandidate     = "ice-candidate"
	EventEndCall          = "end-call"
	EventCallEnded        = "call-ended"
)

// roomEvents are the events a negotiator listens to while its room is active.
var roomEvents = []string{EventOffer, EventAnswer, EventICECandidate, EventCallEnded}

// ---- Signaling Payloads ----

// CallRequestPayload asks the relay to ring a callee
type CallRequestPayload struct {
	TargetID   string `json:"targetId"`
	CallerID   string `json:"callerId"`
	CallerName string `json:"callerName"`
	RoomID     string `json:"roomId"`
}

// IncomingCall is a routed call request delivered to a callee
type IncomingCall struct {
	CallerID   string `json:"callerId"`
	CallerName string `json:"callerName"`
	RoomID     string `json:"roomId"`
}

// CallAcceptedPayload is sent by the callee when it accepts
type CallAcceptedPayload struct {
	CallerID string `json:"callerId"`
	CalleeID string `json:"calleeId"`
	RoomID   string `json:"roomId"`
}

// CallRejectedPayload is sent by the callee when it rejects
type CallRejectedPayload struct {
	CallerID string `json:"callerId"`
	CalleeID string `json:"calleeId"`
}

// DescriptionPayload carries an offer or an answer
type DescriptionPayload struct {
	RoomID string                    `json:"roomId"`
	SDP    webrtc.SessionDescription `json:"sdp"`
}

// CandidatePayload carries one network candidate
type CandidatePayload struct {
	RoomID    string                  `json:"roomId"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

// EndCallPayload announces the end of a call to the room
type EndCallPayload struct {
	RoomID  string  `json:"roomId"`
	EndedBy EndedBy `json:"endedBy,omitempty"`
}

// ---- Session Types ----

// Identity identifies the local party to the relay and the router
type Identity struct {
	ID   string
	Name string
}

// SessionParams are fixed when a negotiator is constructed
type SessionParams struct {
	RoomID        string
	LocalPartyID  string
	RemotePartyID string
	EndedBy       EndedBy
}

// CallSession is a snapshot of one negotiated call
type CallSession struct {
	RoomID          string
	LocalRole       Role
	RemotePartyID   string
	StartedAt       *time.Time
	DurationSeconds int
}

// CallRequest is the caller's single outstanding routed call
type CallRequest struct {
	TargetCalleeID string
	RoomID         string
	Busy           bool
}
