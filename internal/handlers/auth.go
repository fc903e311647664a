package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/peercall/internal/middleware"
	"github.com/mossy-p/peercall/internal/models"
)

const tokenTTL = 24 * time.Hour

// Login handles user login and JWT generation.
// For demo purposes, accepts any username/password combination and uses the
// username as the user ID.
func (s *Server) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	userID := req.Username
	token, err := middleware.NewToken(s.jwtSecret, userID, tokenTTL)
	if err != nil {
		s.logger.Error("failed to sign token", "user", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to generate token",
		})
		return
	}

	s.logger.Info("user logged in", "user", userID)
	c.JSON(http.StatusOK, models.LoginResponse{
		Token:  token,
		UserID: userID,
	})
}
