/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

type calleeFixture struct {
	channel *fakeChannel
	router  *fakeRouter
	factory *fakeFactory
	events  *collector
	callee  *Callee
}

func newCalleeFixture(t *testing.T) *calleeFixture {
	t.Helper()
	f := &calleeFixture{
		channel: newFakeChannel(nil),
		router:  &fakeRouter{available: true},
		factory: &fakeFactory{},
		events:  newCollector(),
	}
	config := DefaultConfig()
	config.Logger = zerolog.Nop()
	f.callee = NewCallee(Identity{ID: "therapist-9", Name: "Dr. Grey"}, f.channel, f.router, f.router, f.factory.build, config)
	for _, ev := range []OrchestratorEventKey{
		OrchestratorEventIncomingCall,
		OrchestratorEventIncomingCleared,
		OrchestratorEventAutoRejected,
		OrchestratorEventAvailability,
		OrchestratorEventNavigateCall,
		OrchestratorEventNavigateBack,
		OrchestratorEventCallFailed,
	} {
		f.callee.On(ev, f.events.handler(ev))
	}
	if err := f.callee.Connect(context.Background()); err != nil {
		t.Fatalf("Failed to connect callee: %v", err)
	}
	return f
}

func (f *calleeFixture) ring(t *testing.T, callerID, room string) {
	t.Helper()
	f.channel.deliver(t, EventIncomingCall, IncomingCall{CallerID: callerID, CallerName: "Caller " + callerID, RoomID: room})
}

func TestCalleeConnect(t *testing.T) {
	f := newCalleeFixture(t)

	if got := f.channel.count(EventTherapistConnect); got != 1 {
		t.Fatalf("Expected 1 therapist-connect, got %d", got)
	}
	if id := f.channel.payloads(EventTherapistConnect)[0]; id != "therapist-9" {
		t.Errorf("Expected therapist-connect with therapist-9, got %v", id)
	}
	if !f.callee.Availability() {
		t.Error("Expected availability loaded from the registry")
	}

	f.channel.reconnect()
	if got := f.channel.count(EventTherapistConnect); got != 2 {
		t.Errorf("Expected therapist-connect to be re-sent after reconnect, got %d", got)
	}
}

func TestCalleeConnectAvailabilityFailure(t *testing.T) {
	channel := newFakeChannel(nil)
	router := &fakeRouter{availableErr: errors.New("unauthorized")}
	callee := NewCallee(Identity{ID: "therapist-9"}, channel, router, router, (&fakeFactory{}).build, nil)

	if err := callee.Connect(context.Background()); err == nil {
		t.Error("Expected error when availability cannot be loaded")
	}
}

func TestCalleeSetAvailability(t *testing.T) {
	t.Run("takes the confirmed value", func(t *testing.T) {
		f := newCalleeFixture(t)
		confirmed := true
		f.router.confirmed = &confirmed

		got, err := f.callee.SetAvailability(context.Background(), false)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if !got || !f.callee.Availability() {
			t.Errorf("Expected server-confirmed availability true, got %v", got)
		}
		if events := f.events.get(OrchestratorEventAvailability); len(events) != 1 || events[0] != true {
			t.Errorf("Expected availability event true, got %v", events)
		}
	})

	t.Run("keeps the previous value on error", func(t *testing.T) {
		f := newCalleeFixture(t)
		f.router.availableErr = errors.New("server down")

		got, err := f.callee.SetAvailability(context.Background(), false)
		if err == nil {
			t.Fatal("Expected error, got nil")
		}
		if !got || !f.callee.Availability() {
			t.Error("Expected availability to stay true")
		}
	})
}

func TestCalleeAccept(t *testing.T) {
	f := newCalleeFixture(t)
	f.ring(t, "user-1", "room-abc")

	pending := f.callee.Pending()
	if pending == nil || pending.CallerID != "user-1" || pending.RoomID != "room-abc" {
		t.Fatalf("Expected pending call from user-1 in room-abc, got %+v", pending)
	}
	if got := len(f.events.get(OrchestratorEventIncomingCall)); got != 1 {
		t.Errorf("Expected 1 incoming_call event, got %d", got)
	}

	neg, err := f.callee.Accept(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if ids := f.router.answeredIDs(); len(ids) != 1 || ids[0] != "abc" {
		t.Errorf("Expected answer for call abc, got %v", ids)
	}
	accepted := f.channel.payloads(EventCallAccepted)
	if len(accepted) != 1 {
		t.Fatalf("Expected 1 call-accepted, got %d", len(accepted))
	}
	want := CallAcceptedPayload{CallerID: "user-1", CalleeID: "therapist-9", RoomID: "room-abc"}
	if accepted[0].(CallAcceptedPayload) != want {
		t.Errorf("Expected %+v, got %+v", want, accepted[0])
	}
	if neg.Role() != RoleReceiver {
		t.Errorf("Expected receiver role, got %q", neg.Role())
	}
	fake := f.factory.negotiators()[0]
	if fake.params.EndedBy != EndedByCallee || fake.params.RemotePartyID != "user-1" {
		t.Errorf("Unexpected session params %+v", fake.params)
	}
	if f.callee.Pending() != nil {
		t.Error("Expected prompt to be cleared")
	}
	waitFor(t, "session start", func() bool { return fake.started.Load() == 1 })

	if !f.callee.EndCall(EndReasonHangup) {
		t.Fatal("Expected EndCall to end the active session")
	}
	waitFor(t, "navigate back", func() bool { return len(f.events.get(OrchestratorEventNavigateBack)) == 1 })
	if f.callee.Active() != nil {
		t.Error("Expected no active session")
	}
}

func TestCalleeAcceptAnswerFailure(t *testing.T) {
	f := newCalleeFixture(t)
	f.router.answerErr = errors.New("call expired")
	f.ring(t, "user-1", "room-abc")

	_, err := f.callee.Accept(context.Background())
	if !IsRoutingError(err) {
		t.Fatalf("Expected RoutingError, got %v", err)
	}
	if got := f.channel.count(EventCallAccepted); got != 0 {
		t.Errorf("Expected no call-accepted, got %d", got)
	}
	if got := len(f.factory.negotiators()); got != 0 {
		t.Errorf("Expected no session, got %d", got)
	}
	if f.callee.Pending() == nil {
		t.Error("Expected prompt to remain after a failed answer")
	}
}

func TestCalleeReject(t *testing.T) {
	f := newCalleeFixture(t)

	if err := f.callee.Reject(); !errors.Is(err, ErrNoPendingCall) {
		t.Errorf("Expected ErrNoPendingCall, got %v", err)
	}

	f.ring(t, "user-1", "room-abc")
	if err := f.callee.Reject(); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	rejected := f.channel.payloads(EventCallRejected)
	if len(rejected) != 1 {
		t.Fatalf("Expected 1 call-rejected, got %d", len(rejected))
	}
	want := CallRejectedPayload{CallerID: "user-1", CalleeID: "therapist-9"}
	if rejected[0].(CallRejectedPayload) != want {
		t.Errorf("Expected %+v, got %+v", want, rejected[0])
	}
	if got := len(f.factory.negotiators()); got != 0 {
		t.Errorf("Expected no session, got %d", got)
	}
	if len(f.router.answeredIDs()) != 0 {
		t.Error("Expected no answer request")
	}
	if f.callee.Pending() != nil {
		t.Error("Expected prompt to be cleared")
	}
}

func TestCalleeAutoRejectsSecondCall(t *testing.T) {
	t.Run("while prompting", func(t *testing.T) {
		f := newCalleeFixture(t)
		f.ring(t, "user-1", "room-abc")
		f.ring(t, "user-2", "room-def")

		pending := f.callee.Pending()
		if pending == nil || pending.CallerID != "user-1" {
			t.Fatalf("Expected first call to stay pending, got %+v", pending)
		}
		rejected := f.channel.payloads(EventCallRejected)
		if len(rejected) != 1 || rejected[0].(CallRejectedPayload).CallerID != "user-2" {
			t.Errorf("Expected user-2 to be rejected, got %v", rejected)
		}
		if got := len(f.events.get(OrchestratorEventAutoRejected)); got != 1 {
			t.Errorf("Expected 1 auto-reject event, got %d", got)
		}
	})

	t.Run("while in a call", func(t *testing.T) {
		f := newCalleeFixture(t)
		f.ring(t, "user-1", "room-abc")
		if _, err := f.callee.Accept(context.Background()); err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		f.ring(t, "user-2", "room-def")

		if f.callee.Pending() != nil {
			t.Error("Expected no prompt while in a call")
		}
		if got := f.channel.count(EventCallRejected); got != 1 {
			t.Errorf("Expected 1 call-rejected, got %d", got)
		}
		f.callee.EndCall(EndReasonHangup)
	})
}

func TestCalleeAcceptWithoutCall(t *testing.T) {
	f := newCalleeFixture(t)
	if _, err := f.callee.Accept(context.Background()); !errors.Is(err, ErrNoPendingCall) {
		t.Errorf("Expected ErrNoPendingCall, got %v", err)
	}
}

func TestCalleeIgnoresMalformedIncoming(t *testing.T) {
	f := newCalleeFixture(t)
	f.channel.deliver(t, EventIncomingCall, map[string]string{"callerId": "user-1"})

	if f.callee.Pending() != nil {
		t.Error("Expected incoming call without room to be ignored")
	}
}
