package signaling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Compile-time interface check.
var _ Transport = (*Client)(nil)

const (
	sendQueueSize  = 256
	postTimeout    = 10 * time.Second
	flushTimeout   = 2 * time.Second
	readDeadline   = 60 * time.Second
	writeDeadline  = 10 * time.Second
	handshakeLimit = 10 * time.Second
)

// ClientConfig holds the relay binding configuration
type ClientConfig struct {
	BaseURL    string       // Relay base URL, e.g. http://localhost:8080
	RoomID     string       // Room ID or code
	Token      string       // JWT issued by /api/auth/login
	UserID     string       // Local user, used to drop our own echoes
	HTTPClient *http.Client // Optional; defaults to a client with postTimeout
	Logger     *slog.Logger
}

// Client is the relay-backed Transport: envelopes go out as HTTP POSTs and
// come back in over the relay's websocket push channel.
type Client struct {
	cfg      ClientConfig
	http     *http.Client
	logger   *slog.Logger
	handlers handlers

	mu   sync.Mutex
	conn *websocket.Conn

	outbox    chan Envelope
	closed    chan struct{}
	closeOnce sync.Once
	writeDone chan struct{}
}

// NewClient creates a relay client. Call Connect before expecting inbound
// envelopes; Send may be used immediately.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: postTimeout}
	}
	c := &Client{
		cfg:       cfg,
		http:      httpClient,
		logger:    cfg.Logger.With("room", cfg.RoomID, "user", cfg.UserID),
		outbox:    make(chan Envelope, sendQueueSize),
		closed:    make(chan struct{}),
		writeDone: make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

// Connect opens the push channel and starts delivering inbound envelopes.
func (c *Client) Connect(ctx context.Context) error {
	wsURL, err := c.pushURL()
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeLimit}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		c.logger.Error("failed to connect to relay", "error", err)
		return fmt.Errorf("failed to connect to relay: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.logger.Info("connected to relay")
	go c.readLoop(conn)
	return nil
}

func (c *Client) pushURL() (string, error) {
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid relay url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/signal/" + url.PathEscape(c.cfg.RoomID)
	u.RawQuery = url.Values{"token": {c.cfg.Token}}.Encode()
	return u.String(), nil
}

func (c *Client) signalURL() string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/api/rooms/" + url.PathEscape(c.cfg.RoomID) + "/signal"
}

// Send enqueues env for delivery and returns immediately.
func (c *Client) Send(env Envelope) error {
	select {
	case <-c.closed:
		return ErrTransportClosed
	default:
	}

	select {
	case c.outbox <- env:
		return nil
	default:
		return ErrQueueFull
	}
}

// OnEnvelope registers fn for inbound envelopes.
func (c *Client) OnEnvelope(fn func(Envelope)) func() {
	return c.handlers.add(fn)
}

// writeLoop posts envelopes one at a time so the relay sees them in the
// order they were queued.
func (c *Client) writeLoop() {
	defer close(c.writeDone)

	for {
		select {
		case env := <-c.outbox:
			c.post(context.Background(), env)
		case <-c.closed:
			c.flush()
			return
		}
	}
}

// flush delivers whatever is still queued at close, bounded by flushTimeout.
func (c *Client) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	for {
		select {
		case env := <-c.outbox:
			c.post(ctx, env)
		default:
			return
		}
	}
}

func (c *Client) post(ctx context.Context, env Envelope) {
	body, err := json.Marshal(env)
	if err != nil {
		c.logger.Error("failed to encode envelope", "type", env.Type, "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.signalURL(), bytes.NewReader(body))
	if err != nil {
		c.logger.Error("failed to build signal request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("signal delivery failed", "type", env.Type, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		c.logger.Warn("relay rejected envelope", "type", env.Type, "status", resp.StatusCode)
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeDeadline))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
			default:
				c.logger.Error("relay read error", "error", err)
			}
			return
		}

		env, err := Decode(data)
		if err != nil {
			c.logger.Warn("dropping malformed envelope", "error", err)
			continue
		}
		if env.FromUserID == c.cfg.UserID {
			continue
		}
		c.handlers.dispatch(env)
	}
}

// Close flushes pending envelopes and closes the push channel. Safe to call
// more than once, including from inside an envelope handler.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.handlers.clear()
	})
	<-c.writeDone

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeDeadline))
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}
