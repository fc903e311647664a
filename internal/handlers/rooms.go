package handlers

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mossy-p/peercall/internal/metrics"
	"github.com/mossy-p/peercall/internal/middleware"
	"github.com/mossy-p/peercall/internal/models"
	"github.com/mossy-p/peercall/internal/redis"
)

const (
	defaultMaxPlayers = 2
	codeChars         = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789" // Removed ambiguous chars
)

var (
	ErrRoomFull  = errors.New("room is full")
	ErrNotMember = errors.New("not a member of this room")
)

// CreateRoom creates a new room (requires authentication). The creator
// becomes the call's initiator.
func (s *Server) CreateRoom(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var req models.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.MaxPlayers == 0 {
		req.MaxPlayers = defaultMaxPlayers
	}

	room := &models.RoomMetadata{
		ID:         uuid.New().String(),
		Code:       generateRoomCode(),
		CreatorID:  userID,
		CreatedAt:  time.Now(),
		MaxPlayers: req.MaxPlayers,
	}

	if err := s.store.SaveRoom(c.Request.Context(), room); err != nil {
		s.logger.Error("failed to create room", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room"})
		return
	}

	metrics.RoomCreated()
	s.logger.Info("room created", "room", room.ID, "code", room.Code, "creator", userID)
	c.JSON(http.StatusCreated, models.CreateRoomResponse{
		RoomID:    room.ID,
		Code:      room.Code,
		CreatorID: userID,
	})
}

// GetRoom gets room information by code or ID (public)
func (s *Server) GetRoom(c *gin.Context) {
	room, err := s.lookupRoom(c.Request.Context(), c.Param("roomId"))
	if err != nil {
		s.writeRoomError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

// DeleteRoom deletes a room (requires authentication and creator)
func (s *Server) DeleteRoom(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	room, err := s.lookupRoom(c.Request.Context(), c.Param("roomId"))
	if err != nil {
		s.writeRoomError(c, err)
		return
	}

	if room.CreatorID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the room creator can delete the room"})
		return
	}

	if err := s.store.DeleteRoom(c.Request.Context(), room); err != nil {
		s.logger.Error("failed to delete room", "room", room.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete room"})
		return
	}

	metrics.RoomDeleted()
	s.logger.Info("room deleted", "room", room.ID, "user", userID)
	c.JSON(http.StatusOK, gin.H{"message": "Room deleted"})
}

// lookupRoom finds a room by code or ID.
func (s *Server) lookupRoom(ctx context.Context, identifier string) (*models.RoomMetadata, error) {
	roomID, err := s.store.ResolveRoomID(ctx, identifier)
	if err != nil {
		return nil, err
	}
	return s.store.GetRoom(ctx, roomID)
}

// joinableRoom finds a room that still has space for userID. A user already
// counted in the room may rejoin.
func (s *Server) joinableRoom(ctx context.Context, identifier, userID string) (*models.RoomMetadata, error) {
	room, err := s.lookupRoom(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if !room.IsFull() {
		return room, nil
	}
	present, err := s.store.HasPeer(ctx, room.ID, userID)
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, ErrRoomFull
	}
	return room, nil
}

// memberRoom finds a room that userID has joined.
func (s *Server) memberRoom(ctx context.Context, identifier, userID string) (*models.RoomMetadata, error) {
	room, err := s.lookupRoom(ctx, identifier)
	if err != nil {
		return nil, err
	}
	present, err := s.store.HasPeer(ctx, room.ID, userID)
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, ErrNotMember
	}
	return room, nil
}

func (s *Server) writeRoomError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, redis.ErrRoomNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
	case errors.Is(err, ErrRoomFull):
		c.JSON(http.StatusConflict, gin.H{"error": "Room is full"})
	case errors.Is(err, ErrNotMember):
		c.JSON(http.StatusForbidden, gin.H{"error": "Not a member of this room"})
	default:
		s.logger.Error("room lookup failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load room"})
	}
}

// generateRoomCode generates a random room code
func generateRoomCode() string {
	code := make([]byte, redis.RoomCodeLength)
	for i := range code {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(codeChars))))
		code[i] = codeChars[n.Int64()]
	}
	return string(code)
}
