/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import "github.com/pion/webrtc/v4"

// Initiator is the caller-side negotiator. It creates the offer after
// Config.OfferDelay and applies exactly one answer.
type Initiator struct {
	*session
}

// NewInitiator creates an initiator for the room in params
func NewInitiator(params SessionParams, deps Dependencies, config *Config) *Initiator {
	i := &Initiator{}
	i.session = newSession(RoleInitiator, params, deps, config)
	i.session.variant = i
	return i
}

func (i *Initiator) begin() {
	if !i.awaitReady() {
		return
	}
	i.advance(StateCreatingOffer)

	if delay := i.config.OfferDelay; delay > 0 {
		select {
		case <-i.clock.After(delay):
		case <-i.done:
			return
		}
	}

	i.mu.RLock()
	pc := i.pc
	i.mu.RUnlock()

	offer, err := pc.CreateOffer()
	if err != nil {
		i.fail(&PeerConnectionFailure{RoomID: i.params.RoomID, Stage: "create offer", Err: err}, EndReasonConnectionFailed)
		return
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		i.fail(&PeerConnectionFailure{RoomID: i.params.RoomID, Stage: "set local description", Err: err}, EndReasonConnectionFailed)
		return
	}

	i.mu.Lock()
	i.localSet = true
	i.mu.Unlock()

	i.log.Info().Msg("Sending offer")
	i.emit(EventOffer, DescriptionPayload{RoomID: i.params.RoomID, SDP: offer})
}

func (i *Initiator) handleOffer(DescriptionPayload) {
	i.violation(EventOffer, "received by initiator", nil)
}

func (i *Initiator) handleAnswer(p DescriptionPayload) {
	if p.SDP.Type != webrtc.SDPTypeAnswer {
		i.violation(EventAnswer, "has description type "+p.SDP.Type.String(), nil)
		return
	}

	i.mu.RLock()
	localSet, remoteSet := i.localSet, i.remoteSet
	i.mu.RUnlock()
	if remoteSet {
		i.violation(EventAnswer, "received after remote description was set", nil)
		return
	}
	if !localSet {
		i.violation(EventAnswer, "received before the offer was sent", nil)
		return
	}

	if err := i.applyRemoteDescription(p.SDP); err != nil {
		i.fail(&SignalingProtocolViolation{
			RoomID: i.params.RoomID,
			Event:  EventAnswer,
			Reason: "could not be applied",
			Err:    err,
		}, EndReasonConnectionFailed)
		return
	}
	i.log.Info().Msg("Answer applied")
	i.advance(StateDescriptionExchanged)
}
