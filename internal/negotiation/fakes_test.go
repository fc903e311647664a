package negotiation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/peercall/internal/signaling"
)

const testSDP = "v=0\r\n" +
	"o=- 4611731400430051336 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"a=group:BUNDLE 0\r\n" +
	"a=extmap-allow-mixed\r\n" +
	"a=msid-semantic: WMS\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=rtcp:9 IN IP4 0.0.0.0\r\n" +
	"a=ice-ufrag:Fn3b\r\n" +
	"a=ice-pwd:q9Jk2kZ8mT0sWvXyA1bC3dE4\r\n" +
	"a=ice-options:trickle\r\n" +
	"a=fingerprint:sha-256 4A:AD:B9:B1:3F:82:18:3B:54:02:12:DF:3E:5D:49:6B:19:E5:7C:AB:3F:9C:50:6E:12:C1:AA:3D:1A:2B:4C:5D\r\n" +
	"a=setup:actpass\r\n" +
	"a=mid:0\r\n" +
	"a=extmap:1 urn:ietf:params:rtp-hdrext:ssrc-audio-level\r\n" +
	"a=sendrecv\r\n" +
	"a=rtcp-mux\r\n" +
	"a=rtpmap:111 opus/48000/2\r\n" +
	"a=fmtp:111 minptime=10;useinbandfec=1\r\n"

// fakePeer records every call the engine makes.
type fakePeer struct {
	mu sync.Mutex

	events     PeerEvents
	state      webrtc.SignalingState
	tracks     int
	offers     []bool
	answers    int
	local      []webrtc.SessionDescription
	remote     []webrtc.SessionDescription
	candidates []string
	channels   []string
	calls      []string

	unregistered bool
	closed       int
}

func newFakePeer(events PeerEvents) *fakePeer {
	return &fakePeer{events: events, state: webrtc.SignalingStateStable}
}

func (p *fakePeer) record(call string) {
	p.calls = append(p.calls, call)
}

func (p *fakePeer) AddTrack(webrtc.TrackLocal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks++
	return nil
}

func (p *fakePeer) CreateOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offers = append(p.offers, iceRestart)
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: testSDP}, nil
}

func (p *fakePeer) CreateAnswer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.answers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: testSDP}, nil
}

func (p *fakePeer) SetLocalDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.local = append(p.local, desc)
	p.record("set-local:" + desc.Type.String())
	if desc.Type == webrtc.SDPTypeOffer {
		p.state = webrtc.SignalingStateHaveLocalOffer
	} else {
		p.state = webrtc.SignalingStateStable
	}
	return nil
}

func (p *fakePeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remote = append(p.remote, desc)
	p.record("set-remote:" + desc.Type.String())
	if desc.Type == webrtc.SDPTypeOffer {
		p.state = webrtc.SignalingStateHaveRemoteOffer
	} else {
		p.state = webrtc.SignalingStateStable
	}
	return nil
}

func (p *fakePeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candidates = append(p.candidates, c.Candidate)
	p.record("candidate:" + c.Candidate)
	return nil
}

func (p *fakePeer) CreateDataChannel(label string) (DataChannel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels = append(p.channels, label)
	return &fakeChannel{label: label}, nil
}

func (p *fakePeer) SignalingState() webrtc.SignalingState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *fakePeer) Unregister() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unregistered = true
	p.record("unregister")
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	p.state = webrtc.SignalingStateClosed
	p.record("close")
	return nil
}

func (p *fakePeer) appliedCandidates() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.candidates...)
}

func (p *fakePeer) callLog() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

type fakeChannel struct {
	mu     sync.Mutex
	label  string
	closed bool
}

func (c *fakeChannel) Label() string { return c.label }

func (c *fakeChannel) ReadyState() webrtc.DataChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return webrtc.DataChannelStateClosed
	}
	return webrtc.DataChannelStateConnecting
}

func (c *fakeChannel) SendText(string) error { return nil }

func (c *fakeChannel) OnOpen(func()) {}

func (c *fakeChannel) OnClose(func()) {}

func (c *fakeChannel) OnMessage(func(msg webrtc.DataChannelMessage)) {}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// peerFactory hands out fakePeers and counts how many were built.
type peerFactory struct {
	mu    sync.Mutex
	peers []*fakePeer
}

func (f *peerFactory) New(events PeerEvents) (PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := newFakePeer(events)
	f.peers = append(f.peers, p)
	return p, nil
}

func (f *peerFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.peers)
}

func (f *peerFactory) last() *fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.peers) == 0 {
		return nil
	}
	return f.peers[len(f.peers)-1]
}

// recordingTransport captures sent envelopes synchronously. Inbound
// envelopes are injected with deliver.
type recordingTransport struct {
	mu      sync.Mutex
	sent    []signaling.Envelope
	handler func(signaling.Envelope)
	closed  bool
}

func (t *recordingTransport) Send(env signaling.Envelope) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return signaling.ErrTransportClosed
	}
	t.sent = append(t.sent, env)
	return nil
}

func (t *recordingTransport) OnEnvelope(fn func(signaling.Envelope)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = fn
	return func() {
		t.mu.Lock()
		t.handler = nil
		t.mu.Unlock()
	}
}

func (t *recordingTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *recordingTransport) deliver(env signaling.Envelope) {
	t.mu.Lock()
	fn := t.handler
	t.mu.Unlock()
	if fn != nil {
		fn(env)
	}
}

func (t *recordingTransport) sentOfType(typ signaling.Type) []signaling.Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []signaling.Envelope
	for _, env := range t.sent {
		if env.Type == typ {
			out = append(out, env)
		}
	}
	return out
}

// fakeMedia satisfies LocalMedia. When gate is non-nil Start blocks until it
// is closed.
type fakeMedia struct {
	mu       sync.Mutex
	gate     chan struct{}
	err      error
	starts   int
	cleanups int
}

func (m *fakeMedia) Start(ctx context.Context) ([]webrtc.TrackLocal, error) {
	m.mu.Lock()
	m.starts++
	gate, err := m.gate, m.err
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return nil, nil
}

func (m *fakeMedia) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanups++
}

var errNoCamera = errors.New("no camera")

type harness struct {
	engine    *Engine
	transport *recordingTransport
	factory   *peerFactory
	media     *fakeMedia
	logs      *lockedWriter

	mu         sync.Mutex
	statuses   []Status
	terminated []bool
}

func newHarness(t *testing.T, role Role, local string) *harness {
	t.Helper()
	h := &harness{
		transport: &recordingTransport{},
		factory:   &peerFactory{},
		media:     &fakeMedia{},
		logs:      &lockedWriter{w: &bytes.Buffer{}},
	}
	logger := slog.New(slog.NewTextHandler(h.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h.engine = New(Config{
		Session:   Session{RoomCode: "ABC123", LocalUserID: local, Role: role},
		Transport: h.transport,
		NewPeer:   h.factory.New,
		Logger:    logger,
		OnStatus: func(s Status) {
			h.mu.Lock()
			h.statuses = append(h.statuses, s)
			h.mu.Unlock()
		},
		OnTerminated: func(remote bool) {
			h.mu.Lock()
			h.terminated = append(h.terminated, remote)
			h.mu.Unlock()
		},
	})
	return h
}

func (h *harness) terminations() []bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]bool(nil), h.terminated...)
}

func (h *harness) logOutput() string {
	h.logs.mu.Lock()
	defer h.logs.mu.Unlock()
	return h.logs.w.String()
}

type lockedWriter struct {
	mu sync.Mutex
	w  *bytes.Buffer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func offerFrom(t *testing.T, from, to, sdp string) signaling.Envelope {
	t.Helper()
	env, err := signaling.NewOffer(from, to, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp})
	if err != nil {
		t.Fatalf("encode offer: %v", err)
	}
	return env
}

func answerFrom(t *testing.T, from, to string) signaling.Envelope {
	t.Helper()
	env, err := signaling.NewAnswer(from, to, webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: testSDP})
	if err != nil {
		t.Fatalf("encode answer: %v", err)
	}
	return env
}

func candidateFrom(t *testing.T, from, to string, n int) signaling.Envelope {
	t.Helper()
	c := fmt.Sprintf("candidate:%d 1 udp 2130706431 192.0.2.%d 5000%d typ host", n, n, n)
	mid := "0"
	env, err := signaling.NewCandidate(from, to, webrtc.ICECandidateInit{Candidate: c, SDPMid: &mid})
	if err != nil {
		t.Fatalf("encode candidate: %v", err)
	}
	return env
}

func candidateText(env signaling.Envelope) string {
	c, err := env.Candidate()
	if err != nil {
		return ""
	}
	return c.Candidate
}

func containsLine(sdp, prefix string) bool {
	for _, line := range strings.Split(sdp, "\r\n") {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}
