package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mossy-p/peercall/internal/metrics"
	"github.com/mossy-p/peercall/internal/middleware"
	"github.com/mossy-p/peercall/internal/redis"
	"github.com/mossy-p/peercall/internal/signaling"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
	sendBuffer = 256
)

// peer is one websocket connection on the push channel.
type peer struct {
	userID string
	roomID string
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
}

// HandleSignaling upgrades an authenticated request to the room's push
// channel. Envelopes published to the room are forwarded when they are
// addressed to this user (or broadcast) and were not sent by them.
// Envelopes written by the client are published like POSTed ones.
func (s *Server) HandleSignaling(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)
	ctx := c.Request.Context()

	room, err := s.joinableRoom(ctx, c.Param("roomId"), userID)
	if err != nil {
		s.writeRoomError(c, err)
		return
	}

	// Subscribe before upgrading so nothing published after the handshake
	// is missed.
	sub, err := s.store.Subscribe(ctx, room.ID)
	if err != nil {
		s.logger.Error("failed to subscribe to room", "room", room.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to join room"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("failed to upgrade connection", "error", err)
		sub.Close()
		return
	}

	// The request context ends once the handler returns.
	bg := context.WithoutCancel(ctx)
	s.openConn(room.ID, userID)
	if err := s.store.AddPeer(bg, room.ID, userID); err != nil {
		s.logger.Warn("failed to record peer", "room", room.ID, "user", userID, "error", err)
	}

	p := &peer{
		userID: userID,
		roomID: room.ID,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}
	metrics.PeerConnected()
	s.logger.Info("peer joined room", "room", room.ID, "code", room.Code, "user", userID,
		"players", room.PlayerCount+1, "maxPlayers", room.MaxPlayers)

	go s.forward(p, sub)
	go s.writePump(p)
	go s.readPump(bg, p, sub)
}

// forward filters the room's stream for p.
func (s *Server) forward(p *peer, sub redis.Subscription) {
	for {
		select {
		case <-p.done:
			return
		case payload, ok := <-sub.Messages():
			if !ok {
				return
			}
			env, err := signaling.Decode(payload)
			if err != nil {
				s.logger.Warn("dropping malformed published envelope", "room", p.roomID, "error", err)
				continue
			}
			if env.FromUserID == p.userID || !env.IsFor(p.userID) {
				continue
			}
			select {
			case p.send <- payload:
			default:
				s.logger.Warn("peer send buffer full, dropping envelope", "room", p.roomID, "user", p.userID, "type", env.Type)
			}
		}
	}
}

func (s *Server) readPump(ctx context.Context, p *peer, sub redis.Subscription) {
	defer func() {
		close(p.done)
		sub.Close()
		p.conn.Close()
		metrics.PeerDisconnected()

		// A newer socket from the same user keeps them in the room.
		if !s.closeConn(p.roomID, p.userID) {
			s.logger.Debug("peer socket replaced", "room", p.roomID, "user", p.userID)
			return
		}
		if err := s.store.RemovePeer(ctx, p.roomID, p.userID); err != nil {
			s.logger.Warn("failed to remove peer", "room", p.roomID, "user", p.userID, "error", err)
		}
		s.logger.Info("peer left room", "room", p.roomID, "user", p.userID)
	}()

	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		p.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket error", "room", p.roomID, "user", p.userID, "error", err)
			}
			return
		}

		env, err := signaling.Decode(message)
		if err != nil {
			s.logger.Warn("failed to parse message", "user", p.userID, "error", err)
			continue
		}
		if err := s.publish(ctx, p.roomID, p.userID, env); err != nil {
			s.logger.Warn("failed to relay websocket envelope", "user", p.userID, "error", err)
		}
	}
}

func connKey(roomID, userID string) string {
	return roomID + "\x00" + userID
}

func (s *Server) openConn(roomID, userID string) {
	s.mu.Lock()
	s.conns[connKey(roomID, userID)]++
	s.mu.Unlock()
}

// closeConn reports whether the user's last socket in the room closed.
func (s *Server) closeConn(roomID, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := connKey(roomID, userID)
	s.conns[key]--
	if s.conns[key] > 0 {
		return false
	}
	delete(s.conns, key)
	return true
}

func (s *Server) writePump(p *peer) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case <-p.done:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			p.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.logger.Warn("failed to write message", "user", p.userID, "error", err)
				return
			}

		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
