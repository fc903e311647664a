// Package call ties one negotiation engine, one media controller and the
// chat channel into a single call a client can start and leave.
package call

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mossy-p/peercall/internal/chat"
	"github.com/mossy-p/peercall/internal/media"
	"github.com/mossy-p/peercall/internal/negotiation"
	"github.com/mossy-p/peercall/internal/signaling"
)

// Options configures a Call. Transport stays owned by the caller and should
// be closed after Done.
type Options struct {
	Session     negotiation.Session
	Transport   signaling.Transport
	NewPeer     negotiation.PeerFactory
	Source      media.Source
	Constraints media.Constraints
	Sink        media.Sink
	Sanitizer   *negotiation.Sanitizer
	Logger      *slog.Logger

	OnStatus    func(negotiation.Status)
	OnChatReady func()
	OnMessage   func(chat.Message)
}

type Call struct {
	opts   Options
	logger *slog.Logger
	engine *negotiation.Engine
	media  *media.Controller

	mu          sync.Mutex
	chat        *chat.Chat
	remoteEnded bool

	done     chan struct{}
	doneOnce sync.Once
}

// New wires a call. Nothing is acquired until Start.
func New(opts Options) *Call {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Call{
		opts:   opts,
		logger: logger,
		done:   make(chan struct{}),
	}
	c.media = media.NewController(opts.Source, media.ControllerOptions{
		Constraints: opts.Constraints,
		Sink:        opts.Sink,
		Logger:      logger,
	})
	c.engine = negotiation.New(negotiation.Config{
		Session:       opts.Session,
		Transport:     opts.Transport,
		NewPeer:       opts.NewPeer,
		Sanitizer:     opts.Sanitizer,
		Logger:        logger,
		OnStatus:      c.onStatus,
		OnDataChannel: c.onDataChannel,
		OnRemoteTrack: c.media.AttachRemote,
		OnTerminated:  c.onTerminated,
	})
	return c
}

// Start acquires local media and begins negotiating. A media failure wraps
// negotiation.ErrCapability and leaves the call startable again.
func (c *Call) Start(ctx context.Context) error {
	return c.engine.Initialize(ctx, c.media)
}

func (c *Call) onStatus(status negotiation.Status) {
	c.logger.Info("call status changed", "status", string(status))
	if c.opts.OnStatus != nil {
		c.opts.OnStatus(status)
	}
}

func (c *Call) onDataChannel(dc negotiation.DataChannel) {
	ch := chat.New(dc, chat.Options{
		Logger:    c.logger,
		OnOpen:    c.opts.OnChatReady,
		OnMessage: c.opts.OnMessage,
	})

	c.mu.Lock()
	c.chat = ch
	c.mu.Unlock()
}

func (c *Call) onTerminated(remote bool) {
	c.mu.Lock()
	c.remoteEnded = remote
	c.mu.Unlock()

	if remote {
		c.logger.Info("call ended by peer")
	} else {
		c.logger.Info("call ended")
	}
	c.doneOnce.Do(func() { close(c.done) })
}

// SendChat sends text as the local user. It returns false when no chat
// channel is open.
func (c *Call) SendChat(text string) bool {
	c.mu.Lock()
	ch := c.chat
	c.mu.Unlock()
	if ch == nil {
		return false
	}
	return ch.Send(text, c.opts.Session.LocalUserID)
}

// Messages returns the chat log, oldest first.
func (c *Call) Messages() []chat.Message {
	c.mu.Lock()
	ch := c.chat
	c.mu.Unlock()
	if ch == nil {
		return nil
	}
	return ch.Messages()
}

// ToggleAudio mutes or unmutes the microphone and returns whether it is now
// enabled.
func (c *Call) ToggleAudio() bool {
	return c.media.ToggleAudio()
}

// ToggleVideo turns the camera off or on and returns whether it is now
// enabled.
func (c *Call) ToggleVideo() bool {
	return c.media.ToggleVideo()
}

// MediaState returns the local capture snapshot.
func (c *Call) MediaState() media.MediaState {
	return c.media.State()
}

// Renegotiate sends a fresh offer. Only the initiator may renegotiate.
func (c *Call) Renegotiate() error {
	return c.engine.CreateOffer()
}

// Leave ends the call and notifies the peer. Safe to call repeatedly.
func (c *Call) Leave() {
	c.engine.Terminate()
}

func (c *Call) Status() negotiation.Status {
	return c.engine.Status()
}

func (c *Call) Phase() negotiation.Phase {
	return c.engine.Phase()
}

// Done is closed once the call has ended, locally or remotely.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// RemoteEnded reports whether the peer ended the call.
func (c *Call) RemoteEnded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteEnded
}
