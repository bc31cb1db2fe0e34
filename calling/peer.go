/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/tejzpr/haven-go-sdk/signaling"
)

// SignalingChannel is the subset of the signaling client a negotiator and the
// orchestrators depend on. *signaling.Client satisfies it.
type SignalingChannel interface {
	Emit(event string, payload interface{}) error
	On(event string, handler signaling.Handler)
	Off(event string)
}

// reconnectNotifier is implemented by channels that can report a reconnect.
type reconnectNotifier interface {
	OnReconnect(hook func())
}

// RemoteTrack describes a track received from the remote party
type RemoteTrack struct {
	ID       string
	StreamID string
	MimeType string
	Track    *webrtc.TrackRemote
}

// PeerConnection is the peer-to-peer media session used by a negotiator
type PeerConnection interface {
	AddTrack(track LocalTrack) error
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	OnTrack(handler func(RemoteTrack))
	OnConnectionStateChange(handler func(webrtc.PeerConnectionState))
	OnICEConnectionStateChange(handler func(webrtc.ICEConnectionState))
	OnICEGatheringStateChange(handler func(webrtc.ICEGatheringState))
	// OnICECandidate is called with nil when gathering completes
	OnICECandidate(handler func(*webrtc.ICECandidateInit))
	Close() error
}

// PeerFactory creates peer connections
type PeerFactory interface {
	NewPeerConnection(iceServers []webrtc.ICEServer) (PeerConnection, error)
}

// LocalTrack is a captured local track that can be muted without renegotiation
type LocalTrack interface {
	ID() string
	Track() webrtc.TrackLocal
	SetEnabled(enabled bool)
	Enabled() bool
	Stop() error
}

// LocalStream is the set of tracks acquired for one call
type LocalStream interface {
	Tracks() []LocalTrack
	Stop() error
}

// MediaSource acquires local audio input
type MediaSource interface {
	AcquireAudio(ctx context.Context, constraints AudioConstraints) (LocalStream, error)
}

// AudioRouter controls the platform audio output for the duration of a call
type AudioRouter interface {
	Start() error
	SetSpeaker(on bool) error
	Stop() error
}

type nopAudioRouter struct{}

func (nopAudioRouter) Start() error          { return nil }
func (nopAudioRouter) SetSpeaker(bool) error { return nil }
func (nopAudioRouter) Stop() error           { return nil }

// ---- Local Audio Track ----

// LocalAudioTrack is an Opus sample track whose samples are dropped while
// disabled, which is how mute is applied.
type LocalAudioTrack struct {
	track   *webrtc.TrackLocalStaticSample
	enabled atomic.Bool
	stopped atomic.Bool

	mu     sync.Mutex
	onStop []func() error
}

// NewLocalAudioTrack creates an enabled Opus track
func NewLocalAudioTrack(id, streamID string) (*LocalAudioTrack, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		id, streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio track: %w", err)
	}
	t := &LocalAudioTrack{track: track}
	t.enabled.Store(true)
	return t, nil
}

func (t *LocalAudioTrack) ID() string { return t.track.ID() }

// Track returns the underlying pion track for AddTrack
func (t *LocalAudioTrack) Track() webrtc.TrackLocal { return t.track }

func (t *LocalAudioTrack) SetEnabled(enabled bool) { t.enabled.Store(enabled) }

func (t *LocalAudioTrack) Enabled() bool { return t.enabled.Load() }

// WriteSample forwards an encoded sample unless the track is disabled or stopped.
func (t *LocalAudioTrack) WriteSample(sample media.Sample) error {
	if t.stopped.Load() || !t.enabled.Load() {
		return nil
	}
	return t.track.WriteSample(sample)
}

// OnStop registers a function run once when the track stops, such as
// closing the capture device feeding it.
func (t *LocalAudioTrack) OnStop(fn func() error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onStop = append(t.onStop, fn)
}

// Stop ends the track. Later calls are no-ops.
func (t *LocalAudioTrack) Stop() error {
	if !t.stopped.CompareAndSwap(false, true) {
		return nil
	}
	t.mu.Lock()
	fns := t.onStop
	t.onStop = nil
	t.mu.Unlock()

	var firstErr error
	for _, fn := range fns {
		if err := fn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Stopped reports whether Stop has been called
func (t *LocalAudioTrack) Stopped() bool { return t.stopped.Load() }

// AudioStream is a LocalStream over a fixed set of tracks
type AudioStream struct {
	tracks []LocalTrack
}

// NewAudioStream groups tracks into a stream
func NewAudioStream(tracks ...LocalTrack) *AudioStream {
	return &AudioStream{tracks: tracks}
}

func (s *AudioStream) Tracks() []LocalTrack { return s.tracks }

// Stop stops every track and returns the first error.
func (s *AudioStream) Stop() error {
	var firstErr error
	for _, t := range s.tracks {
		if err := t.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
