package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/peercall/internal/metrics"
	"github.com/mossy-p/peercall/internal/middleware"
	"github.com/mossy-p/peercall/internal/signaling"
)

// PostSignal accepts one envelope from a peer that has joined the room and
// publishes it. The sender is always the authenticated user, whatever the
// body claims.
func (s *Server) PostSignal(c *gin.Context) {
	userID := c.GetString(middleware.UserIDKey)

	room, err := s.memberRoom(c.Request.Context(), c.Param("roomId"), userID)
	if err != nil {
		s.writeRoomError(c, err)
		return
	}

	var env signaling.Envelope
	if err := c.ShouldBindJSON(&env); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid envelope"})
		return
	}

	if err := s.publish(c.Request.Context(), room.ID, userID, env); err != nil {
		if isEnvelopeError(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to relay envelope"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// envelopeError marks a publish failure caused by the envelope itself.
type envelopeError struct{ err error }

func (e envelopeError) Error() string { return e.err.Error() }
func (e envelopeError) Unwrap() error { return e.err }

func isEnvelopeError(err error) bool {
	_, ok := err.(envelopeError)
	return ok
}

// publish stamps the sender, validates and fans the envelope out.
func (s *Server) publish(ctx context.Context, roomID, userID string, env signaling.Envelope) error {
	env.FromUserID = userID
	if err := env.Validate(); err != nil {
		metrics.Envelope(env.Type, metrics.Rejected)
		return envelopeError{err}
	}

	payload, err := json.Marshal(env)
	if err != nil {
		metrics.Envelope(env.Type, metrics.Rejected)
		return envelopeError{err}
	}
	if err := s.store.Publish(ctx, roomID, payload); err != nil {
		metrics.Envelope(env.Type, metrics.Failed)
		s.logger.Error("failed to publish envelope", "room", roomID, "type", env.Type, "error", err)
		return err
	}
	metrics.Envelope(env.Type, metrics.Relayed)

	s.logger.Debug("envelope relayed", "room", roomID, "from", userID, "to", env.ToUserID, "type", env.Type)
	return nil
}
