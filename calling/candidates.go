/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// PendingCandidateQueue holds remote candidates that arrive before the
// remote description. It is drained exactly once; afterwards it stays
// empty and Push refuses new candidates so they are applied directly.
type PendingCandidateQueue struct {
	mu      sync.Mutex
	items   []webrtc.ICECandidateInit
	drained bool
}

// NewPendingCandidateQueue creates an empty, open queue
func NewPendingCandidateQueue() *PendingCandidateQueue {
	return &PendingCandidateQueue{}
}

// Push appends a candidate. It returns false once the queue has been drained.
func (q *PendingCandidateQueue) Push(c webrtc.ICECandidateInit) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.drained {
		return false
	}
	q.items = append(q.items, c)
	return true
}

// Drain returns the queued candidates in arrival order and closes the queue.
// Later calls return nil.
func (q *PendingCandidateQueue) Drain() []webrtc.ICECandidateInit {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	q.drained = true
	return items
}

// Len returns the number of queued candidates
func (q *PendingCandidateQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drained reports whether Drain has been called
func (q *PendingCandidateQueue) Drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.drained
}
