package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomrelay/internal/auth"
	"github.com/vovakirdan/roomrelay/internal/config"
	"github.com/vovakirdan/roomrelay/internal/core"
)

// NewServer builds the HTTP server: the chat socket plus the room admin surface.
func NewServer(hub *core.Hub, authService *auth.Service, jwtConfig *auth.JWTConfig, cfg *config.Config, logger *zerolog.Logger) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))
	router.Use(CORSMiddleware(cfg.CORS.AllowOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	apiHandlers := NewAPIHandlers(authService, logger)
	router.POST("/login", apiHandlers.Login)

	roomHandlers := NewRoomHandlers(authService, logger)
	router.GET("/rooms", roomHandlers.ListRooms)
	router.POST("/rooms", AdminMiddleware(jwtConfig, logger), roomHandlers.CreateRoom)

	// gin cannot hijack a response its middleware has already touched, so the
	// socket is served beside the engine.
	mux := http.NewServeMux()
	mux.Handle("/ws", NewWSHandler(hub, cfg.Chat, logger))
	mux.Handle("/", router)

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
