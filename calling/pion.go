/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"fmt"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// PionPeerFactory creates pion peer connections that negotiate Opus audio
type PionPeerFactory struct {
	api    *webrtc.API
	logger zerolog.Logger
}

// NewPionPeerFactory builds the media engine, interceptors and settings
// shared by every peer connection it creates.
func NewPionPeerFactory(logger zerolog.Logger) (*PionPeerFactory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("failed to register opus: %w", err)
	}

	// Default interceptors handle RTCP reports, NACK and TWCC.
	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("failed to register default interceptors: %w", err)
	}

	settings := webrtc.SettingEngine{}
	settings.SetICETimeouts(10*time.Second, 30*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithSettingEngine(settings),
		webrtc.WithInterceptorRegistry(i),
	)
	return &PionPeerFactory{api: api, logger: logger}, nil
}

// NewPeerConnection creates a peer connection using the given ICE servers
func (f *PionPeerFactory) NewPeerConnection(iceServers []webrtc.ICEServer) (PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	return &pionPeer{pc: pc, logger: f.logger}, nil
}

type pionPeer struct {
	pc     *webrtc.PeerConnection
	logger zerolog.Logger
}

func (p *pionPeer) AddTrack(track LocalTrack) error {
	sender, err := p.pc.AddTrack(track.Track())
	if err != nil {
		return fmt.Errorf("failed to add track %s: %w", track.ID(), err)
	}
	go p.readRTCP(sender, track.ID())
	return nil
}

// readRTCP drains the sender's RTCP so interceptors keep running and logs
// the loss the remote side reports.
func (p *pionPeer) readRTCP(sender *webrtc.RTPSender, trackID string) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range packets {
			rr, ok := pkt.(*rtcp.ReceiverReport)
			if !ok {
				continue
			}
			for _, report := range rr.Reports {
				p.logger.Debug().
					Str("track", trackID).
					Uint32("ssrc", report.SSRC).
					Uint8("fraction_lost", report.FractionLost).
					Uint32("total_lost", report.TotalLost).
					Uint32("jitter", report.Jitter).
					Msg("Receiver report")
			}
		}
	}
}

func (p *pionPeer) CreateOffer() (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(nil)
}

func (p *pionPeer) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

func (p *pionPeer) SetLocalDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(desc)
}

func (p *pionPeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(desc)
}

func (p *pionPeer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(candidate)
}

func (p *pionPeer) OnTrack(handler func(RemoteTrack)) {
	p.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		handler(RemoteTrack{
			ID:       track.ID(),
			StreamID: track.StreamID(),
			MimeType: track.Codec().MimeType,
			Track:    track,
		})
	})
}

func (p *pionPeer) OnConnectionStateChange(handler func(webrtc.PeerConnectionState)) {
	p.pc.OnConnectionStateChange(handler)
}

func (p *pionPeer) OnICEConnectionStateChange(handler func(webrtc.ICEConnectionState)) {
	p.pc.OnICEConnectionStateChange(handler)
}

func (p *pionPeer) OnICEGatheringStateChange(handler func(webrtc.ICEGatheringState)) {
	p.pc.OnICEGatheringStateChange(handler)
}

func (p *pionPeer) OnICECandidate(handler func(*webrtc.ICECandidateInit)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			handler(nil)
			return
		}
		cand := c.ToJSON()
		handler(&cand)
	})
}

func (p *pionPeer) Close() error {
	return p.pc.Close()
}
