package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomrelay/internal/auth"
)

// APIHandlers provides the token endpoint used before opening a socket.
type APIHandlers struct {
	authService *auth.Service
	log         *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(authService *auth.Service, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{
		authService: authService,
		log:         logger,
	}
}

// LoginRequest represents the login request body.
type LoginRequest struct {
	RoomName string  `json:"room_name" binding:"required"`
	Password *string `json:"password"`
}

// AuthResponse represents the authentication response body.
type AuthResponse struct {
	Token string `json:"token"`
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Login issues a single-use room token.
// POST /login
func (h *APIHandlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid login request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	token, err := h.authService.IssueToken(c.Request.Context(), req.RoomName, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrPasswordRequired):
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "password required"})
		case errors.Is(err, auth.ErrForbidden):
			h.log.Debug().Str("room", req.RoomName).Msg("room login refused")
			c.JSON(http.StatusForbidden, ErrorResponse{Error: "forbidden"})
		default:
			h.log.Error().Err(err).Str("room", req.RoomName).Msg("failed to issue token")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		}
		return
	}

	h.log.Info().Str("room", req.RoomName).Msg("room token issued")
	c.JSON(http.StatusOK, AuthResponse{Token: token})
}
