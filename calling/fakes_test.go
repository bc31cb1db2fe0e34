/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/tejzpr/haven-go-sdk/signaling"
)

// opLog records side effects across fakes so tests can assert their order
type opLog struct {
	mu  sync.Mutex
	ops []string
}

func (l *opLog) add(op string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = append(l.ops, op)
}

func (l *opLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ops...)
}

func (l *opLog) index(op string) int {
	for i, o := range l.list() {
		if o == op {
			return i
		}
	}
	return -1
}

// ---- Signaling ----

type emittedEvent struct {
	Event   string
	Payload interface{}
}

type fakeChannel struct {
	log *opLog

	mu             sync.Mutex
	handlers       map[string][]signaling.Handler
	emitted        []emittedEvent
	emitErr        map[string]error
	reconnectHooks []func()
}

func newFakeChannel(log *opLog) *fakeChannel {
	return &fakeChannel{
		log:      log,
		handlers: make(map[string][]signaling.Handler),
		emitErr:  make(map[string]error),
	}
}

func (f *fakeChannel) Emit(event string, payload interface{}) error {
	f.mu.Lock()
	err := f.emitErr[event]
	f.emitted = append(f.emitted, emittedEvent{Event: event, Payload: payload})
	f.mu.Unlock()
	f.log.add("emit:" + event)
	return err
}

func (f *fakeChannel) On(event string, handler signaling.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[event] = append(f.handlers[event], handler)
}

func (f *fakeChannel) Off(event string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, event)
}

func (f *fakeChannel) OnReconnect(hook func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnectHooks = append(f.reconnectHooks, hook)
}

func (f *fakeChannel) reconnect() {
	f.mu.Lock()
	hooks := append([]func(){}, f.reconnectHooks...)
	f.mu.Unlock()
	for _, h := range hooks {
		h()
	}
}

// deliver dispatches an inbound event the way the signaling client does
func (f *fakeChannel) deliver(t *testing.T, event string, payload interface{}) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Failed to marshal %s payload: %v", event, err)
	}
	f.mu.Lock()
	handlers := append([]signaling.Handler(nil), f.handlers[event]...)
	f.mu.Unlock()
	for _, h := range handlers {
		h(json.RawMessage(data))
	}
}

func (f *fakeChannel) count(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.emitted {
		if e.Event == event {
			n++
		}
	}
	return n
}

func (f *fakeChannel) payloads(event string) []interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []interface{}
	for _, e := range f.emitted {
		if e.Event == event {
			out = append(out, e.Payload)
		}
	}
	return out
}

func (f *fakeChannel) handlerCount(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers[event])
}

// ---- Media ----

type fakeTrack struct {
	id      string
	log     *opLog
	enabled atomic.Bool
	stops   atomic.Int32
}

func newFakeTrack(id string, log *opLog) *fakeTrack {
	t := &fakeTrack{id: id, log: log}
	t.enabled.Store(true)
	return t
}

func (t *fakeTrack) ID() string               { return t.id }
func (t *fakeTrack) Track() webrtc.TrackLocal { return nil }
func (t *fakeTrack) SetEnabled(enabled bool)  { t.enabled.Store(enabled) }
func (t *fakeTrack) Enabled() bool            { return t.enabled.Load() }
func (t *fakeTrack) Stop() error {
	t.stops.Add(1)
	t.log.add("track:stop")
	return nil
}

type fakeMedia struct {
	err   error
	track *fakeTrack
	calls atomic.Int32
	// release, when set, blocks AcquireAudio until closed
	release chan struct{}
}

func (m *fakeMedia) AcquireAudio(ctx context.Context, _ AudioConstraints) (LocalStream, error) {
	m.calls.Add(1)
	if m.release != nil {
		<-m.release
	}
	if m.err != nil {
		return nil, m.err
	}
	return NewAudioStream(m.track), nil
}

// ---- Peer ----

type fakePeer struct {
	log *opLog

	mu              sync.Mutex
	tracks          []LocalTrack
	local           *webrtc.SessionDescription
	remote          *webrtc.SessionDescription
	remoteSets      int
	candidates      []webrtc.ICECandidateInit
	earlyCandidates int
	closes          int
	setRemoteErr    error

	onConn  func(webrtc.PeerConnectionState)
	onCand  func(*webrtc.ICECandidateInit)
	onTrack func(RemoteTrack)
}

func (p *fakePeer) AddTrack(track LocalTrack) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks = append(p.tracks, track)
	return nil
}

func (p *fakePeer) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-sdp"}, nil
}

func (p *fakePeer) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-sdp"}, nil
}

func (p *fakePeer) SetLocalDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.local = &desc
	return nil
}

func (p *fakePeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.setRemoteErr != nil {
		return p.setRemoteErr
	}
	p.remote = &desc
	p.remoteSets++
	return nil
}

func (p *fakePeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		p.earlyCandidates++
		return errors.New("remote description not set")
	}
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *fakePeer) OnTrack(h func(RemoteTrack)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTrack = h
}

func (p *fakePeer) OnConnectionStateChange(h func(webrtc.PeerConnectionState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onConn = h
}

func (p *fakePeer) OnICEConnectionStateChange(func(webrtc.ICEConnectionState)) {}

func (p *fakePeer) OnICEGatheringStateChange(func(webrtc.ICEGatheringState)) {}

func (p *fakePeer) OnICECandidate(h func(*webrtc.ICECandidateInit)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onCand = h
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	p.closes++
	p.mu.Unlock()
	p.log.add("peer:close")
	return nil
}

func (p *fakePeer) setState(st webrtc.PeerConnectionState) {
	p.mu.Lock()
	h := p.onConn
	p.mu.Unlock()
	if h != nil {
		h(st)
	}
}

func (p *fakePeer) gather(c webrtc.ICECandidateInit) {
	p.mu.Lock()
	h := p.onCand
	p.mu.Unlock()
	if h != nil {
		h(&c)
	}
}

func (p *fakePeer) appliedCandidates() []webrtc.ICECandidateInit {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), p.candidates...)
}

func (p *fakePeer) remoteSDP() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return ""
	}
	return p.remote.SDP
}

func (p *fakePeer) early() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.earlyCandidates
}

func (p *fakePeer) remoteSetCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remoteSets
}

func (p *fakePeer) closeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

type fakePeerFactory struct {
	peer    *fakePeer
	err     error
	created atomic.Int32
}

func (f *fakePeerFactory) NewPeerConnection([]webrtc.ICEServer) (PeerConnection, error) {
	f.created.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.peer, nil
}

// ---- Audio routing / recording ----

type fakeAudioRouter struct {
	log      *opLog
	speaker  atomic.Bool
	starts   atomic.Int32
	stops    atomic.Int32
	speakErr error
}

func (a *fakeAudioRouter) Start() error {
	a.starts.Add(1)
	return nil
}

func (a *fakeAudioRouter) SetSpeaker(on bool) error {
	if a.speakErr != nil {
		return a.speakErr
	}
	a.speaker.Store(on)
	return nil
}

func (a *fakeAudioRouter) Stop() error {
	a.stops.Add(1)
	a.log.add("audio:stop")
	return nil
}

type recordedEnd struct {
	CallID  string
	EndedBy EndedBy
}

type fakeRecorder struct {
	log *opLog

	mu    sync.Mutex
	calls []recordedEnd
}

func (r *fakeRecorder) EndCall(_ context.Context, callID string, endedBy EndedBy) (*CallRecord, error) {
	r.mu.Lock()
	r.calls = append(r.calls, recordedEnd{CallID: callID, EndedBy: endedBy})
	r.mu.Unlock()
	r.log.add("record:end")
	return &CallRecord{ID: callID, EndedBy: endedBy}, nil
}

func (r *fakeRecorder) recorded() []recordedEnd {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedEnd(nil), r.calls...)
}

// ---- Harness ----

type harness struct {
	log      *opLog
	channel  *fakeChannel
	media    *fakeMedia
	track    *fakeTrack
	peer     *fakePeer
	peers    *fakePeerFactory
	audio    *fakeAudioRouter
	recorder *fakeRecorder
	clock    *clock.Mock
	config   *Config
}

func newHarness() *harness {
	log := &opLog{}
	track := newFakeTrack("audio-0", log)
	peer := &fakePeer{log: log}
	h := &harness{
		log:      log,
		channel:  newFakeChannel(log),
		media:    &fakeMedia{track: track},
		track:    track,
		peer:     peer,
		peers:    &fakePeerFactory{peer: peer},
		audio:    &fakeAudioRouter{log: log},
		recorder: &fakeRecorder{log: log},
		clock:    clock.NewMock(),
	}
	h.config = &Config{
		Audio:          DefaultAudioConstraints(),
		RecordTimeout:  time.Second,
		MinimumBalance: 5,
		Clock:          h.clock,
		Logger:         zerolog.Nop(),
	}
	return h
}

func (h *harness) deps() Dependencies {
	return Dependencies{
		Channel:  h.channel,
		Media:    h.media,
		Peers:    h.peers,
		Audio:    h.audio,
		Recorder: h.recorder,
	}
}

func (h *harness) params(room string, endedBy EndedBy) SessionParams {
	return SessionParams{RoomID: room, LocalPartyID: "local", RemotePartyID: "remote", EndedBy: endedBy}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func waitDone(t *testing.T, n Negotiator) {
	t.Helper()
	select {
	case <-n.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("Timed out waiting for session to end, state %s", n.State())
	}
}

// ---- Orchestrator fakes ----

type fakeRouter struct {
	roomID       string
	initiateErr  error
	answerErr    error
	available    bool
	confirmed    *bool
	availableErr error

	mu        sync.Mutex
	initiated []string
	answered  []string
}

func (r *fakeRouter) InitiateCall(_ context.Context, calleeID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.initiated = append(r.initiated, calleeID)
	if r.initiateErr != nil {
		return "", r.initiateErr
	}
	return r.roomID, nil
}

func (r *fakeRouter) AnswerCall(_ context.Context, callID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answered = append(r.answered, callID)
	return r.answerErr
}

func (r *fakeRouter) GetAvailability(context.Context) (bool, error) {
	return r.available, r.availableErr
}

func (r *fakeRouter) SetAvailability(_ context.Context, available bool) (bool, error) {
	if r.availableErr != nil {
		return false, r.availableErr
	}
	if r.confirmed != nil {
		return *r.confirmed, nil
	}
	return available, nil
}

func (r *fakeRouter) initiatedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.initiated)
}

func (r *fakeRouter) answeredIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.answered...)
}

// fakeNegotiator stands in for a real session in orchestrator tests
type fakeNegotiator struct {
	role   Role
	params SessionParams

	started  atomic.Int32
	startErr error
	endOnce  sync.Once
	done     chan struct{}
	reason   atomic.Value
}

func newFakeNegotiator(role Role, params SessionParams) *fakeNegotiator {
	return &fakeNegotiator{role: role, params: params, done: make(chan struct{})}
}

func (n *fakeNegotiator) Role() Role     { return n.role }
func (n *fakeNegotiator) RoomID() string { return n.params.RoomID }
func (n *fakeNegotiator) Start(context.Context) error {
	n.started.Add(1)
	if n.startErr != nil {
		n.End(EndReasonMediaFailure)
	}
	return n.startErr
}
func (n *fakeNegotiator) End(reason EndReason) {
	n.endOnce.Do(func() {
		n.reason.Store(reason)
		close(n.done)
	})
}
func (n *fakeNegotiator) ToggleMute() bool                 { return false }
func (n *fakeNegotiator) ToggleSpeaker() bool              { return false }
func (n *fakeNegotiator) State() NegotiatorState           { return StateIdle }
func (n *fakeNegotiator) ConnectionState() ConnectionState { return ConnectionStateNew }
func (n *fakeNegotiator) Session() CallSession             { return CallSession{RoomID: n.params.RoomID, LocalRole: n.role} }
func (n *fakeNegotiator) Duration() string                 { return "00:00" }
func (n *fakeNegotiator) Muted() bool                      { return false }
func (n *fakeNegotiator) Speaker() bool                    { return false }
func (n *fakeNegotiator) Err() error                       { return n.startErr }
func (n *fakeNegotiator) Done() <-chan struct{}            { return n.done }
func (n *fakeNegotiator) On(SessionEventKey, EventHandler) {}
func (n *fakeNegotiator) EndReason() EndReason {
	if r, ok := n.reason.Load().(EndReason); ok {
		return r
	}
	return ""
}

type fakeFactory struct {
	mu       sync.Mutex
	created  []*fakeNegotiator
	startErr error
}

func (f *fakeFactory) build(role Role, params SessionParams) (Negotiator, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := newFakeNegotiator(role, params)
	n.startErr = f.startErr
	f.created = append(f.created, n)
	return n, nil
}

func (f *fakeFactory) negotiators() []*fakeNegotiator {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeNegotiator(nil), f.created...)
}

// collector gathers orchestrator events
type collector struct {
	mu     sync.Mutex
	events map[string][]interface{}
}

func newCollector() *collector {
	return &collector{events: make(map[string][]interface{})}
}

func (c *collector) handler(event OrchestratorEventKey) EventHandler {
	return func(data interface{}) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.events[string(event)] = append(c.events[string(event)], data)
	}
}

func (c *collector) get(event OrchestratorEventKey) []interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]interface{}(nil), c.events[string(event)]...)
}
