/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package mediadev provides local audio devices for calls: microphone capture
// feeding an Opus track, and a sink that records remote audio to Ogg.
package mediadev

import (
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/tejzpr/haven-go-sdk/calling"
)

var (
	// ErrNoMicrophone is returned when capture succeeds without an audio track.
	ErrNoMicrophone = errors.New("mediadev: no microphone track")

	// ErrUnsupported is returned on platforms without a capture driver.
	ErrUnsupported = errors.New("mediadev: microphone capture is not supported on this platform")
)

// opusClockRate is the RTP clock rate of Opus
const opusClockRate = 48000

// Microphone acquires the default audio input. It implements calling.MediaSource.
type Microphone struct {
	logger   zerolog.Logger
	streamID string
}

var _ calling.MediaSource = (*Microphone)(nil)

// NewMicrophone creates a microphone source whose tracks share streamID
func NewMicrophone(streamID string, logger zerolog.Logger) *Microphone {
	if streamID == "" {
		streamID = "haven"
	}
	return &Microphone{logger: logger.With().Str("component", "microphone").Logger(), streamID: streamID}
}

// opusSampleRate returns rate if Opus can encode it, otherwise 48 kHz.
func opusSampleRate(rate int) int {
	switch rate {
	case 8000, 12000, 16000, 24000, 48000:
		return rate
	default:
		return opusClockRate
	}
}

func channelCount(c calling.AudioConstraints) int {
	if c.ChannelCount == 2 {
		return 2
	}
	return 1
}

// sampleDuration converts an encoded frame's sample count to its play time
func sampleDuration(samples uint32) time.Duration {
	if samples == 0 {
		return 20 * time.Millisecond
	}
	return time.Duration(samples) * time.Second / opusClockRate
}
