/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"fmt"
	"strings"
)

// ParseRoomID returns the call id of a room identifier of the form
// <prefix>-<callId>.
func ParseRoomID(roomID string) (string, error) {
	prefix, callID, ok := strings.Cut(roomID, "-")
	if !ok || prefix == "" || callID == "" {
		return "", fmt.Errorf("invalid room id %q", roomID)
	}
	return callID, nil
}
