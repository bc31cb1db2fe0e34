//go:build !linux

/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package mediadev

import (
	"context"

	"github.com/tejzpr/haven-go-sdk/calling"
)

// AcquireAudio always fails: capture drivers are only wired up on Linux.
func (m *Microphone) AcquireAudio(ctx context.Context, _ calling.AudioConstraints) (calling.LocalStream, error) {
	m.logger.Warn().Msg("Microphone capture is not available on this platform")
	return nil, ErrUnsupported
}
