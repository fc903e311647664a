package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mossy-p/peercall/internal/metrics"
	"github.com/mossy-p/peercall/internal/middleware"
	"github.com/mossy-p/peercall/internal/models"
	"github.com/mossy-p/peercall/internal/redis"
)

// Store is the relay's persistence and fan-out. *redis.Client implements it.
type Store interface {
	SaveRoom(ctx context.Context, room *models.RoomMetadata) error
	ResolveRoomID(ctx context.Context, identifier string) (string, error)
	GetRoom(ctx context.Context, roomID string) (*models.RoomMetadata, error)
	DeleteRoom(ctx context.Context, room *models.RoomMetadata) error

	AddPeer(ctx context.Context, roomID, userID string) error
	RemovePeer(ctx context.Context, roomID, userID string) error
	HasPeer(ctx context.Context, roomID, userID string) (bool, error)

	Publish(ctx context.Context, roomID string, payload []byte) error
	Subscribe(ctx context.Context, roomID string) (redis.Subscription, error)
}

var _ Store = (*redis.Client)(nil)

// Server holds the relay's HTTP and websocket handlers.
type Server struct {
	store     Store
	jwtSecret string
	logger    *slog.Logger
	upgrader  websocket.Upgrader

	mu    sync.Mutex
	conns map[string]int // open push channels per room and user
}

func NewServer(store Store, jwtSecret string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:     store,
		jwtSecret: jwtSecret,
		logger:    logger,
		conns:     make(map[string]int),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Origin checking is handled by middleware
				return true
			},
		},
	}
}

// Router builds the relay's routes behind the origin filter.
func (s *Server) Router(allowedOrigins []string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	// Global CORS middleware (runs before routing)
	router.Use(OriginFilter(allowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	auth := middleware.JWTAuth(s.jwtSecret)
	apiGroup := router.Group("/api")
	{
		apiGroup.POST("/auth/login", s.Login)

		apiGroup.POST("/rooms", auth, s.CreateRoom)
		apiGroup.GET("/rooms/:roomId", s.GetRoom)
		apiGroup.DELETE("/rooms/:roomId", auth, s.DeleteRoom)

		// Envelope ingress; delivery happens over the websocket push channel.
		apiGroup.POST("/rooms/:roomId/signal", auth, s.PostSignal)
	}

	wsGroup := router.Group("/ws")
	{
		wsGroup.GET("/signal/:roomId", middleware.QueryTokenAuth(s.jwtSecret), s.HandleSignaling)
	}

	return router
}

// requestLogger replaces gin's default text logger with slog.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
		)
	}
}
