//go:build linux

/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package mediadev

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/tejzpr/haven-go-sdk/calling"
)

// AcquireAudio opens the default microphone and pumps its Opus frames into a
// calling.LocalAudioTrack, so muting drops frames without renegotiation.
func (m *Microphone) AcquireAudio(ctx context.Context, c calling.AudioConstraints) (calling.LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("failed to create opus params: %w", err)
	}
	selector := mediadevices.NewCodecSelector(mediadevices.WithAudioEncoders(&opusParams))

	if devices := mediadevices.EnumerateDevices(); len(devices) == 0 {
		m.logger.Warn().Msg("No media devices found")
	} else {
		for _, d := range devices {
			m.logger.Debug().Str("kind", fmt.Sprint(d.Kind)).Str("label", d.Label).Msg("Media device")
		}
	}
	if c.EchoCancellation || c.NoiseSuppression || c.AutoGainControl {
		m.logger.Debug().
			Bool("echo_cancellation", c.EchoCancellation).
			Bool("noise_suppression", c.NoiseSuppression).
			Bool("auto_gain_control", c.AutoGainControl).
			Msg("Voice processing is left to the capture device")
	}

	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(mc *mediadevices.MediaTrackConstraints) {
			mc.ChannelCount = prop.Int(channelCount(c))
			mc.SampleRate = prop.Int(opusSampleRate(c.SampleRate))
		},
		Codec: selector,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open microphone: %w", err)
	}

	tracks := stream.GetAudioTracks()
	if len(tracks) == 0 {
		return nil, ErrNoMicrophone
	}
	for _, extra := range tracks[1:] {
		extra.Close()
	}
	src := tracks[0]
	src.OnEnded(func(err error) {
		if err != nil {
			m.logger.Warn().Err(err).Msg("Microphone track ended")
		}
	})

	reader, err := src.NewEncodedReader(webrtc.MimeTypeOpus)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("failed to create opus reader: %w", err)
	}

	out, err := calling.NewLocalAudioTrack("audio-"+uuid.NewString(), m.streamID)
	if err != nil {
		reader.Close()
		src.Close()
		return nil, err
	}
	out.OnStop(func() error {
		reader.Close()
		return src.Close()
	})

	go m.pump(reader, out)
	m.logger.Info().Str("track", out.ID()).Msg("Microphone captured")
	return calling.NewAudioStream(out), nil
}

func (m *Microphone) pump(reader mediadevices.EncodedReadCloser, out *calling.LocalAudioTrack) {
	for {
		buf, release, err := reader.Read()
		if err != nil {
			if !out.Stopped() {
				m.logger.Warn().Err(err).Msg("Microphone read failed")
			}
			return
		}
		err = out.WriteSample(media.Sample{Data: buf.Data, Duration: sampleDuration(buf.Samples)})
		release()
		if err != nil {
			m.logger.Debug().Err(err).Msg("Dropped audio sample")
		}
	}
}
