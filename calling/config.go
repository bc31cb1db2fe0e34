/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// AudioConstraints describe the local audio capture
type AudioConstraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
	SampleRate       int
	ChannelCount     int
}

// Config holds configuration for the calling client, its orchestrators
// and every negotiator they create.
type Config struct {
	// ICEServers is the list of ICE servers (STUN/TURN) to use
	ICEServers []webrtc.ICEServer

	// Audio holds the capture constraints for the local stream
	Audio AudioConstraints

	// OfferDelay is how long the initiator waits before creating its offer,
	// giving the receiver time to join the room.
	OfferDelay time.Duration

	// SetupTimeout ends a session that is not connected this long after
	// Start. Zero disables it.
	SetupTimeout time.Duration

	// RecordTimeout bounds the end-of-call request to the router
	RecordTimeout time.Duration

	// MinimumBalance is the per-call minimum prepaid balance in coins
	MinimumBalance int

	// Clock drives the duration timer, offer delay and setup timeout
	Clock clock.Clock

	Logger zerolog.Logger
}

// DefaultICEServers returns the public STUN servers used by default
func DefaultICEServers() []webrtc.ICEServer {
	return []webrtc.ICEServer{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
		{URLs: []string{"stun:stun1.l.google.com:19302"}},
		{URLs: []string{"stun:stun2.l.google.com:19302"}},
	}
}

// DefaultAudioConstraints returns the voice-call capture constraints
func DefaultAudioConstraints() AudioConstraints {
	return AudioConstraints{
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
		SampleRate:       44100,
		ChannelCount:     1,
	}
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		ICEServers:     DefaultICEServers(),
		Audio:          DefaultAudioConstraints(),
		OfferDelay:     1 * time.Second,
		SetupTimeout:   30 * time.Second,
		RecordTimeout:  10 * time.Second,
		MinimumBalance: 5,
		Clock:          clock.New(),
		Logger:         zerolog.Nop(),
	}
}

// withDefaults fills zero-valued fields that would panic or disable a check
func (c *Config) withDefaults() *Config {
	if c == nil {
		return DefaultConfig()
	}
	cfg := *c
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.RecordTimeout <= 0 {
		cfg.RecordTimeout = 10 * time.Second
	}
	if cfg.MinimumBalance <= 0 {
		cfg.MinimumBalance = 5
	}
	return &cfg
}
