/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import "github.com/pion/webrtc/v4"

// Receiver is the callee-side negotiator. It waits for one offer, answers it
// and ignores any later offer.
type Receiver struct {
	*session
}

// NewReceiver creates a receiver for the room in params
func NewReceiver(params SessionParams, deps Dependencies, config *Config) *Receiver {
	r := &Receiver{}
	r.session = newSession(RoleReceiver, params, deps, config)
	r.session.variant = r
	return r
}

func (r *Receiver) begin() {
	r.advance(StateAwaitingRemoteDescription)
}

func (r *Receiver) handleOffer(p DescriptionPayload) {
	if p.SDP.Type != webrtc.SDPTypeOffer {
		r.violation(EventOffer, "has description type "+p.SDP.Type.String(), nil)
		return
	}
	if !r.awaitReady() {
		return
	}

	r.mu.RLock()
	remoteSet := r.remoteSet
	pc := r.pc
	r.mu.RUnlock()
	if remoteSet {
		r.violation(EventOffer, "received after remote description was set", nil)
		return
	}

	if err := r.applyRemoteDescription(p.SDP); err != nil {
		r.fail(&SignalingProtocolViolation{
			RoomID: r.params.RoomID,
			Event:  EventOffer,
			Reason: "could not be applied",
			Err:    err,
		}, EndReasonConnectionFailed)
		return
	}

	answer, err := pc.CreateAnswer()
	if err != nil {
		r.fail(&PeerConnectionFailure{RoomID: r.params.RoomID, Stage: "create answer", Err: err}, EndReasonConnectionFailed)
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		r.fail(&PeerConnectionFailure{RoomID: r.params.RoomID, Stage: "set local description", Err: err}, EndReasonConnectionFailed)
		return
	}

	r.mu.Lock()
	r.localSet = true
	r.mu.Unlock()

	r.log.Info().Msg("Sending answer")
	r.emit(EventAnswer, DescriptionPayload{RoomID: r.params.RoomID, SDP: answer})
	r.advance(StateDescriptionExchanged)
}

func (r *Receiver) handleAnswer(DescriptionPayload) {
	r.violation(EventAnswer, "received by receiver", nil)
}
