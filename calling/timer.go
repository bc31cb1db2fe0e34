/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// DurationTimer counts whole seconds from the first connection of a call.
// It starts at most once; after Freeze or Stop it keeps its final value.
type DurationTimer struct {
	clock  clock.Clock
	onTick func(seconds int)

	mu        sync.Mutex
	startedAt time.Time
	stoppedAt time.Time
	started   bool
	frozen    bool
	stopped   bool
	stopCh    chan struct{}
}

// NewDurationTimer creates a timer. onTick, if set, is called once per second
// while running with the elapsed seconds.
func NewDurationTimer(clk clock.Clock, onTick func(seconds int)) *DurationTimer {
	if clk == nil {
		clk = clock.New()
	}
	return &DurationTimer{clock: clk, onTick: onTick}
}

// Start begins counting. It returns false if the timer was already started
// or has been frozen or stopped.
func (t *DurationTimer) Start() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started || t.frozen || t.stopped {
		return false
	}
	t.started = true
	t.startedAt = t.clock.Now()
	t.stopCh = make(chan struct{})

	ticker := t.clock.Ticker(time.Second)
	go t.tick(ticker, t.stopCh)
	return true
}

func (t *DurationTimer) tick(ticker *clock.Ticker, stopCh chan struct{}) {
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if t.onTick != nil {
				t.onTick(t.Seconds())
			}
		}
	}
}

// Freeze fixes the elapsed time at its current value without stopping the
// ticker; ticks after Freeze report the frozen value.
func (t *DurationTimer) Freeze() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.freezeLocked()
}

func (t *DurationTimer) freezeLocked() {
	if t.frozen || t.stopped {
		return
	}
	t.frozen = true
	if t.started {
		t.stoppedAt = t.clock.Now()
	}
}

// Stop freezes the timer and ends its ticker. It is safe to call more than once.
func (t *DurationTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.freezeLocked()
	t.stopped = true
	if t.started {
		close(t.stopCh)
	}
}

// Seconds returns the elapsed whole seconds
func (t *DurationTimer) Seconds() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return 0
	}
	end := t.clock.Now()
	if t.frozen {
		end = t.stoppedAt
	}
	return int(end.Sub(t.startedAt) / time.Second)
}

// StartedAt returns when the timer started, if it has
func (t *DurationTimer) StartedAt() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.startedAt, t.started
}

// Running reports whether the timer is counting
func (t *DurationTimer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started && !t.frozen
}

func (t *DurationTimer) String() string {
	return FormatDuration(t.Seconds())
}

// FormatDuration renders seconds as zero-padded mm:ss
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
