/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package mediadev

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/rs/zerolog"
	"github.com/tejzpr/haven-go-sdk/calling"
)

// RTPReader is the read side of a remote track
type RTPReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// RemoteSink consumes remote audio tracks. With a directory set it records
// each Opus track to <dir>/<room>-<track>.ogg; otherwise it only drains them.
type RemoteSink struct {
	dir    string
	logger zerolog.Logger
}

// NewRemoteSink creates a sink. An empty dir disables recording.
func NewRemoteSink(dir string, logger zerolog.Logger) *RemoteSink {
	return &RemoteSink{dir: dir, logger: logger.With().Str("component", "remote_sink").Logger()}
}

// Attach starts consuming track in the background
func (s *RemoteSink) Attach(roomID string, track calling.RemoteTrack) {
	if track.Track == nil {
		return
	}
	go func() {
		n, err := s.Consume(roomID, track.ID, track.MimeType, track.Track)
		if err != nil {
			s.logger.Warn().Err(err).Str("track", track.ID).Msg("Remote track sink failed")
			return
		}
		s.logger.Info().Str("track", track.ID).Int("packets", n).Msg("Remote track ended")
	}()
}

// Consume reads r until it ends and returns the number of packets read.
func (s *RemoteSink) Consume(roomID, trackID, mimeType string, r RTPReader) (int, error) {
	if s.dir == "" || !strings.EqualFold(mimeType, webrtc.MimeTypeOpus) {
		return drain(r)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create recording directory: %w", err)
	}
	path := filepath.Join(s.dir, fmt.Sprintf("%s-%s.ogg", roomID, trackID))
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create recording: %w", err)
	}
	defer f.Close()

	s.logger.Info().Str("path", path).Msg("Recording remote audio")
	return recordOgg(r, f)
}

func recordOgg(r RTPReader, w io.Writer) (int, error) {
	ogg, err := oggwriter.NewWith(w, 48000, 2)
	if err != nil {
		return 0, fmt.Errorf("failed to create ogg writer: %w", err)
	}
	n := 0
	for {
		pkt, _, err := r.ReadRTP()
		if err != nil {
			closeErr := ogg.Close()
			if errors.Is(err, io.EOF) {
				return n, closeErr
			}
			return n, err
		}
		if err := ogg.WriteRTP(pkt); err != nil {
			ogg.Close()
			return n, fmt.Errorf("failed to write ogg page: %w", err)
		}
		n++
	}
}

func drain(r RTPReader) (int, error) {
	n := 0
	for {
		if _, _, err := r.ReadRTP(); err != nil {
			if errors.Is(err, io.EOF) {
				return n, nil
			}
			return n, err
		}
		n++
	}
}
