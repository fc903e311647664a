// Package chat carries text messages over the call's data channel.
package chat

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// RemoteAuthor labels inbound messages whose author is unknown.
const RemoteAuthor = "remote"

// Channel is the part of *webrtc.DataChannel chat needs.
type Channel interface {
	Label() string
	ReadyState() webrtc.DataChannelState
	SendText(s string) error
	OnOpen(f func())
	OnClose(f func())
	OnMessage(f func(msg webrtc.DataChannelMessage))
	Close() error
}

type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// Message is one chat line, in either direction.
type Message struct {
	ID        uuid.UUID
	Author    string
	Text      string
	Direction Direction
	At        time.Time
}

type wireMessage struct {
	Text   string `json:"text"`
	Author string `json:"author"`
}

// Options configures a Chat. Callbacks run on the channel's goroutine.
type Options struct {
	Logger    *slog.Logger
	OnMessage func(Message)
	OnOpen    func()
	OnClose   func()
}

// Chat is a message log bound to one data channel.
type Chat struct {
	ch     Channel
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	messages []Message
}

// New binds a chat to ch and registers its callbacks.
func New(ch Channel, opts Options) *Chat {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Chat{
		ch:     ch,
		opts:   opts,
		logger: logger.With("channel", ch.Label()),
	}

	ch.OnOpen(func() {
		c.logger.Info("chat channel open")
		if opts.OnOpen != nil {
			opts.OnOpen()
		}
	})
	ch.OnClose(func() {
		c.logger.Info("chat channel closed")
		if opts.OnClose != nil {
			opts.OnClose()
		}
	})
	ch.OnMessage(c.receive)
	return c
}

// Ready reports whether the channel is open.
func (c *Chat) Ready() bool {
	return c.ch.ReadyState() == webrtc.DataChannelStateOpen
}

// Send delivers text when the channel is open and records it. It returns
// false, doing nothing, when the channel is not open or text is blank.
func (c *Chat) Send(text, author string) bool {
	if strings.TrimSpace(text) == "" || !c.Ready() {
		return false
	}

	payload, err := json.Marshal(wireMessage{Text: text, Author: author})
	if err != nil {
		c.logger.Error("failed to encode chat message", "error", err)
		return false
	}
	if err := c.ch.SendText(string(payload)); err != nil {
		c.logger.Warn("failed to send chat message", "error", err)
		return false
	}

	c.record(Message{Author: author, Text: text, Direction: DirectionSent})
	return true
}

func (c *Chat) receive(msg webrtc.DataChannelMessage) {
	m := Message{Direction: DirectionReceived}

	var wire wireMessage
	if err := json.Unmarshal(msg.Data, &wire); err != nil || wire.Text == "" {
		c.logger.Debug("chat payload is not structured, using raw text")
		m.Text = string(msg.Data)
		m.Author = RemoteAuthor
	} else {
		m.Text = wire.Text
		m.Author = wire.Author
		if m.Author == "" {
			m.Author = RemoteAuthor
		}
	}

	m = c.record(m)
	if c.opts.OnMessage != nil {
		c.opts.OnMessage(m)
	}
}

func (c *Chat) record(m Message) Message {
	m.ID = uuid.New()
	m.At = time.Now()

	c.mu.Lock()
	c.messages = append(c.messages, m)
	c.mu.Unlock()
	return m
}

// Messages returns the log in arrival order.
func (c *Chat) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.messages...)
}

// Close closes the underlying channel.
func (c *Chat) Close() error {
	return c.ch.Close()
}
