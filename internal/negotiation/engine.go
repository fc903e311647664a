package negotiation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/peercall/internal/signaling"
)

// ChatLabel is the label of the data channel the initiator opens for chat.
const ChatLabel = "chat"

// LocalMedia is the capture side handed to Initialize. Start acquires local
// tracks (it may block on permission prompts or devices); Cleanup releases
// them and must tolerate repeated calls.
type LocalMedia interface {
	Start(ctx context.Context) ([]webrtc.TrackLocal, error)
	Cleanup()
}

// Config wires an Engine to its collaborators. Callbacks run outside the
// engine's lock and may call back into the Engine.
type Config struct {
	Session   Session
	Transport signaling.Transport
	NewPeer   PeerFactory
	Sanitizer *Sanitizer // Defaults to NewSanitizer()
	Logger    *slog.Logger

	OnStatus      func(Status)
	OnDataChannel func(DataChannel)
	OnRemoteTrack func(*webrtc.TrackRemote)
	OnTerminated  func(remote bool)
}

type initAttempt struct {
	done chan struct{}
	err  error
}

// Engine drives exactly one peer connection through exactly one signaling
// session. All state is guarded by mu; envelope handlers and connection
// callbacks are serialized through it.
type Engine struct {
	cfg       Config
	logger    *slog.Logger
	sanitizer *Sanitizer
	observer  *Observer

	mu     sync.Mutex
	notify []func()

	phase    Phase
	inFlight *initAttempt
	media    LocalMedia
	pc       PeerConnection
	channel  DataChannel
	queue    candidateQueue

	localDescriptionSet  bool
	remoteDescriptionSet bool
	peerReady            bool
	selfReady            bool
	appliedCandidates    int

	remoteUserID     string
	offerSent        bool
	awaitingAnswer   bool
	offerReceived    bool
	lastOfferSDP     string
	pendingOffer     *webrtc.SessionDescription
	readyReannounced bool

	unsubscribe func()
}

// New creates an engine in the Idle phase and subscribes it to the
// transport, so readiness announced before Initialize is not lost.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sanitizer := cfg.Sanitizer
	if sanitizer == nil {
		sanitizer = NewSanitizer()
	}

	e := &Engine{
		cfg:       cfg,
		sanitizer: sanitizer,
		logger: logger.With(
			"room", cfg.Session.RoomCode,
			"user", cfg.Session.LocalUserID,
			"role", string(cfg.Session.Role),
		),
		phase: PhaseIdle,
	}
	e.observer = NewObserver(e.onStatusChange)
	if cfg.Transport != nil {
		e.unsubscribe = cfg.Transport.OnEnvelope(e.HandleEnvelope)
	}
	return e
}

// unlockAndNotify releases mu and then runs callbacks queued while it was
// held.
func (e *Engine) unlockAndNotify() {
	fns := e.notify
	e.notify = nil
	e.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (e *Engine) queueNotify(fn func()) {
	e.notify = append(e.notify, fn)
}

func (e *Engine) fire(ev phaseEvent) {
	next, ok := transition(e.phase, ev)
	if !ok {
		return
	}
	if next != e.phase {
		e.logger.Debug("negotiation phase changed", "from", e.phase.String(), "to", next.String())
	}
	e.phase = next
}

// Phase returns the current lifecycle phase.
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// Status returns the connection summary.
func (e *Engine) Status() Status {
	return e.observer.Status()
}

// State returns a snapshot of the negotiation state.
func (e *Engine) State() PeerConnectionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return PeerConnectionState{
		LocalDescriptionSet:  e.localDescriptionSet,
		RemoteDescriptionSet: e.remoteDescriptionSet,
		PendingICE:           e.queue.snapshot(),
		AppliedCandidates:    e.appliedCandidates,
		ConnectionStatus:     e.observer.Status(),
		PeerReady:            e.peerReady,
		SelfReady:            e.selfReady,
	}
}

// Initialize acquires local media, creates the peer connection and starts
// role-specific negotiation. A call made while another is in flight waits
// for that one and returns its result; a second connection is never created.
// If media cannot be acquired the engine returns to Idle and the error wraps
// ErrCapability.
func (e *Engine) Initialize(ctx context.Context, media LocalMedia) error {
	e.mu.Lock()
	if e.phase == PhaseClosed {
		e.mu.Unlock()
		return ErrClosed
	}
	if attempt := e.inFlight; attempt != nil {
		e.mu.Unlock()
		select {
		case <-attempt.done:
			return attempt.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	attempt := &initAttempt{done: make(chan struct{})}
	e.inFlight = attempt
	e.media = media
	e.fire(evInitStart)
	e.mu.Unlock()

	err := e.initialize(ctx, media)

	e.mu.Lock()
	attempt.err = err
	if err != nil && !errors.Is(err, ErrClosed) {
		// Failed attempts may be retried by the caller.
		e.inFlight = nil
	}
	e.mu.Unlock()
	close(attempt.done)
	return err
}

func (e *Engine) initialize(ctx context.Context, media LocalMedia) error {
	// Envelopes may be handled while media acquisition is pending.
	tracks, err := media.Start(ctx)
	if err != nil {
		e.mu.Lock()
		closed := e.phase == PhaseClosed
		e.fire(evInitFailed)
		e.mu.Unlock()
		if closed {
			return ErrClosed
		}
		e.logger.Warn("local media unavailable", "error", err)
		return fmt.Errorf("%w: %w", ErrCapability, err)
	}

	e.mu.Lock()
	defer e.unlockAndNotify()

	if e.phase == PhaseClosed {
		return ErrClosed
	}

	pc, err := e.cfg.NewPeer(e.peerEvents())
	if err != nil {
		e.fire(evInitFailed)
		e.logger.Error("failed to create peer connection", "error", err)
		return fmt.Errorf("failed to create peer connection: %w", err)
	}
	e.pc = pc
	e.logger.Info("peer connection created", "tracks", len(tracks))

	for _, track := range tracks {
		if err := pc.AddTrack(track); err != nil {
			e.logger.Warn("failed to attach local track", "track", track.ID(), "error", err)
		}
	}

	if e.cfg.Session.Role == RoleInitiator {
		dc, err := pc.CreateDataChannel(ChatLabel)
		if err != nil {
			e.logger.Warn("failed to create chat channel", "error", err)
		} else {
			e.attachChannel(dc)
		}
	}

	e.fire(evMediaReady)

	if e.cfg.Session.Role == RoleResponder && e.pendingOffer != nil {
		offer := *e.pendingOffer
		e.pendingOffer = nil
		e.applyOffer(offer)
	}

	e.sendReady()
	e.maybeOffer()
	return nil
}

func (e *Engine) peerEvents() PeerEvents {
	return PeerEvents{
		OnICECandidate: e.onLocalCandidate,
		OnConnectionStateChange: func(s webrtc.PeerConnectionState) {
			e.logger.Info("peer connection state changed", "state", s.String())
			e.observer.ConnectionStateChanged(s)
		},
		OnICEConnectionStateChange: func(s webrtc.ICEConnectionState) {
			e.logger.Info("ICE connection state changed", "state", s.String())
			e.observer.ICEStateChanged(s)
		},
		OnDataChannel: e.onRemoteDataChannel,
		OnTrack:       e.onRemoteTrack,
	}
}

// HandleEnvelope dispatches one inbound envelope. Envelopes from ourselves
// or addressed to another user are ignored without a trace.
func (e *Engine) HandleEnvelope(env signaling.Envelope) {
	local := e.cfg.Session.LocalUserID
	if env.FromUserID == local || !env.IsFor(local) {
		return
	}
	if err := env.Validate(); err != nil {
		e.logger.Warn("dropping invalid envelope", "error", err)
		return
	}

	e.mu.Lock()
	defer e.unlockAndNotify()

	if e.phase == PhaseClosed {
		return
	}
	if e.remoteUserID == "" {
		e.remoteUserID = env.FromUserID
	}

	e.logger.Debug("processing envelope", "type", env.Type, "from", env.FromUserID)

	switch env.Type {
	case signaling.TypeReady:
		e.handleReady()
	case signaling.TypeOffer:
		e.handleOffer(env)
	case signaling.TypeAnswer:
		e.handleAnswer(env)
	case signaling.TypeICECandidate:
		e.handleCandidate(env)
	case signaling.TypeTerminated:
		e.logger.Info("peer terminated the call")
		e.release()
		e.queueNotify(func() { e.terminated(true) })
	}
}

func (e *Engine) handleReady() {
	e.peerReady = true

	switch e.cfg.Session.Role {
	case RoleInitiator:
		e.maybeOffer()
	case RoleResponder:
		// The initiator started after us and may have missed our ready.
		if e.selfReady && !e.offerReceived && !e.readyReannounced {
			e.readyReannounced = true
			e.sendReady()
		}
	}
}

func (e *Engine) handleOffer(env signaling.Envelope) {
	if e.cfg.Session.Role == RoleInitiator {
		e.logger.Warn("ignoring offer received by initiator")
		return
	}

	desc, err := env.SessionDescription()
	if err != nil {
		e.logger.Warn("dropping offer", "error", fmt.Errorf("%w: %w", ErrProtocol, err))
		return
	}

	if e.pc == nil {
		e.logger.Debug("holding offer until peer connection exists")
		e.pendingOffer = &desc
		return
	}
	e.applyOffer(desc)
}

func (e *Engine) applyOffer(desc webrtc.SessionDescription) {
	if desc.SDP == e.lastOfferSDP {
		e.logger.Debug("ignoring duplicate offer")
		return
	}
	if state := e.pc.SignalingState(); state != webrtc.SignalingStateStable {
		e.logger.Warn("ignoring offer in unexpected signaling state", "state", state.String())
		return
	}

	clean, err := e.sanitizer.Sanitize(desc.SDP)
	if err != nil {
		e.logger.Warn("dropping offer", "error", err)
		return
	}
	if err := e.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: clean}); err != nil {
		e.logger.Warn("failed to set remote description", "type", "offer", "error", err)
		return
	}
	e.lastOfferSDP = desc.SDP
	e.offerReceived = true
	e.remoteDescriptionApplied()

	answer, err := e.pc.CreateAnswer()
	if err != nil {
		e.logger.Error("failed to create answer", "error", err)
		return
	}
	if err := e.pc.SetLocalDescription(answer); err != nil {
		e.logger.Error("failed to set local description", "type", "answer", "error", err)
		return
	}
	e.localDescriptionSet = true

	env, err := signaling.NewAnswer(e.cfg.Session.LocalUserID, e.remoteUserID, answer)
	if err != nil {
		e.logger.Error("failed to encode answer", "error", err)
		return
	}
	e.send(env)
}

func (e *Engine) handleAnswer(env signaling.Envelope) {
	if e.cfg.Session.Role == RoleResponder {
		e.logger.Warn("ignoring answer received by responder")
		return
	}
	if !e.awaitingAnswer {
		e.logger.Debug("ignoring answer without outstanding offer")
		return
	}

	desc, err := env.SessionDescription()
	if err != nil {
		e.logger.Warn("dropping answer", "error", fmt.Errorf("%w: %w", ErrProtocol, err))
		return
	}
	clean, err := e.sanitizer.Sanitize(desc.SDP)
	if err != nil {
		e.logger.Warn("dropping answer", "error", err)
		return
	}
	if err := e.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: clean}); err != nil {
		e.logger.Warn("failed to set remote description", "type", "answer", "error", err)
		return
	}
	e.awaitingAnswer = false
	e.remoteDescriptionApplied()
}

func (e *Engine) handleCandidate(env signaling.Envelope) {
	candidate, err := env.Candidate()
	if err != nil {
		e.logger.Warn("dropping ICE candidate", "error", fmt.Errorf("%w: %w", ErrProtocol, err))
		return
	}

	if e.pc == nil || !e.remoteDescriptionSet {
		e.queue.push(candidate)
		e.logger.Debug("queued ICE candidate until remote description is set", "pending", e.queue.len())
		return
	}
	e.applyCandidate(candidate)
}

func (e *Engine) applyCandidate(candidate webrtc.ICECandidateInit) {
	if err := e.pc.AddICECandidate(candidate); err != nil {
		e.logger.Warn("failed to add ICE candidate", "error", err)
		return
	}
	e.appliedCandidates++
}

// remoteDescriptionApplied marks the remote description as set and drains
// candidates that arrived before it, in arrival order.
func (e *Engine) remoteDescriptionApplied() {
	e.remoteDescriptionSet = true
	pending := e.queue.drain()
	if len(pending) > 0 {
		e.logger.Debug("draining queued ICE candidates", "count", len(pending))
	}
	for _, c := range pending {
		e.applyCandidate(c)
	}
}

func (e *Engine) maybeOffer() {
	if e.cfg.Session.Role != RoleInitiator || e.offerSent || !e.peerReady {
		return
	}
	if e.phase != PhaseNegotiating || e.pc == nil {
		return
	}
	if err := e.createOffer(false); err != nil {
		e.logger.Error("failed to create offer", "error", err)
		return
	}
	e.offerSent = true
}

func (e *Engine) createOffer(iceRestart bool) error {
	if e.pc.SignalingState() == webrtc.SignalingStateClosed {
		return ErrClosed
	}
	offer, err := e.pc.CreateOffer(iceRestart)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := e.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	e.localDescriptionSet = true
	e.awaitingAnswer = true

	env, err := signaling.NewOffer(e.cfg.Session.LocalUserID, e.remoteUserID, offer)
	if err != nil {
		return err
	}
	e.send(env)
	e.logger.Info("sent offer", "iceRestart", iceRestart)
	return nil
}

// CreateOffer starts a new offer/answer round. It is the explicit
// renegotiation path after a connection failure; the engine never retries
// on its own. Only the initiator may offer.
func (e *Engine) CreateOffer() error {
	e.mu.Lock()
	defer e.unlockAndNotify()

	if e.cfg.Session.Role != RoleInitiator {
		return ErrWrongRole
	}
	if e.phase == PhaseClosed {
		return ErrClosed
	}
	if e.pc == nil {
		return ErrNotInitialized
	}

	iceRestart := e.observer.Status() == StatusDisconnected
	if err := e.createOffer(iceRestart); err != nil {
		return err
	}
	e.offerSent = true
	e.fire(evRenegotiate)
	return nil
}

// SendReady announces readiness to the peer.
func (e *Engine) SendReady() {
	e.mu.Lock()
	defer e.unlockAndNotify()
	if e.phase == PhaseClosed {
		return
	}
	e.sendReady()
}

func (e *Engine) sendReady() {
	e.selfReady = true
	e.send(signaling.NewReady(e.cfg.Session.LocalUserID, e.remoteUserID))
}

func (e *Engine) send(env signaling.Envelope) {
	if e.cfg.Transport == nil {
		return
	}
	if err := e.cfg.Transport.Send(env); err != nil {
		e.logger.Warn("failed to send envelope", "type", env.Type, "error", err)
	}
}

func (e *Engine) onLocalCandidate(c webrtc.ICECandidateInit) {
	e.mu.Lock()
	defer e.unlockAndNotify()
	if e.phase == PhaseClosed {
		return
	}

	env, err := signaling.NewCandidate(e.cfg.Session.LocalUserID, e.remoteUserID, c)
	if err != nil {
		e.logger.Error("failed to encode ICE candidate", "error", err)
		return
	}
	e.send(env)
}

func (e *Engine) onRemoteDataChannel(dc DataChannel) {
	e.mu.Lock()
	defer e.unlockAndNotify()

	if e.phase == PhaseClosed {
		dc.Close()
		return
	}
	if e.channel != nil {
		e.logger.Warn("ignoring additional data channel", "label", dc.Label())
		return
	}
	e.attachChannel(dc)
}

func (e *Engine) attachChannel(dc DataChannel) {
	e.channel = dc
	e.logger.Debug("data channel attached", "label", dc.Label())
	if cb := e.cfg.OnDataChannel; cb != nil {
		e.queueNotify(func() { cb(dc) })
	}
}

func (e *Engine) onRemoteTrack(track *webrtc.TrackRemote) {
	e.logger.Info("remote track received", "kind", track.Kind().String(), "codec", track.Codec().MimeType)
	if cb := e.cfg.OnRemoteTrack; cb != nil {
		cb(track)
	}
}

func (e *Engine) onStatusChange(status Status) {
	e.mu.Lock()
	defer e.unlockAndNotify()
	if e.phase == PhaseClosed {
		return
	}

	switch status {
	case StatusConnected:
		e.fire(evConnected)
	case StatusDisconnected:
		e.fire(evDisconnected)
	}
	if cb := e.cfg.OnStatus; cb != nil {
		e.queueNotify(func() { cb(status) })
	}
}

// Terminate ends the call locally, tells the peer, and releases the
// connection, data channel and local media. It is safe to call any number
// of times, before Initialize, or after the peer already terminated.
func (e *Engine) Terminate() {
	e.mu.Lock()
	defer e.unlockAndNotify()

	if e.phase == PhaseClosed {
		return
	}
	e.send(signaling.NewTerminated(e.cfg.Session.LocalUserID, e.remoteUserID))
	e.release()
	e.queueNotify(func() { e.terminated(false) })
}

// release moves to Closed. Observers are unregistered before any resource
// is released; every resource may be missing.
func (e *Engine) release() {
	e.fire(evTerminate)

	if e.unsubscribe != nil {
		e.unsubscribe()
		e.unsubscribe = nil
	}
	if e.pc != nil {
		e.pc.Unregister()
	}

	if e.channel != nil {
		if err := e.channel.Close(); err != nil {
			e.logger.Debug("failed to close data channel", "error", err)
		}
		e.channel = nil
	}
	if e.media != nil {
		e.media.Cleanup()
	}
	if e.pc != nil {
		if err := e.pc.Close(); err != nil {
			e.logger.Debug("failed to close peer connection", "error", err)
		}
		e.pc = nil
	}

	e.queue.drain()
	e.pendingOffer = nil
	e.awaitingAnswer = false
	e.logger.Info("negotiation closed")
}

func (e *Engine) terminated(remote bool) {
	if cb := e.cfg.OnTerminated; cb != nil {
		cb(remote)
	}
}
