package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/vovakirdan/roomrelay/internal/auth"
	"github.com/vovakirdan/roomrelay/internal/store"
)

// RoomHandlers provides HTTP handlers for room management endpoints.
type RoomHandlers struct {
	authService *auth.Service
	log         *zerolog.Logger
}

// NewRoomHandlers creates a new room handlers instance.
func NewRoomHandlers(authService *auth.Service, logger *zerolog.Logger) *RoomHandlers {
	return &RoomHandlers{
		authService: authService,
		log:         logger,
	}
}

// CreateRoomRequest represents the create room request body.
type CreateRoomRequest struct {
	Name        string   `json:"name" binding:"required,min=1,max=64"`
	Password    *string  `json:"password"`
	Keywords    []string `json:"keywords"`
	Description string   `json:"description"`
}

// RoomResponse represents a room in API responses. The password hash never leaves the server.
type RoomResponse struct {
	Name        string   `json:"name"`
	Password    bool     `json:"password"`
	Keywords    []string `json:"keywords"`
	Description string   `json:"description"`
	CreatedAt   string   `json:"created_at"`
}

// RoomListResponse wraps a list of rooms.
type RoomListResponse struct {
	Data []RoomResponse `json:"data"`
}

func toRoomResponse(r *store.Room) RoomResponse {
	keywords := r.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	return RoomResponse{
		Name:        r.Name,
		Password:    r.Protected(),
		Keywords:    keywords,
		Description: r.Description,
		CreatedAt:   r.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

// CreateRoom handles room creation.
// POST /rooms
func (h *RoomHandlers) CreateRoom(c *gin.Context) {
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create room request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	room, err := h.authService.CreateRoom(c.Request.Context(), req.Name, req.Password, req.Keywords, req.Description)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidRoomName):
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid room name"})
		case errors.Is(err, store.ErrRoomExists):
			c.JSON(http.StatusConflict, ErrorResponse{Error: "room already exists"})
		default:
			h.log.Error().Err(err).Str("room", req.Name).Msg("failed to create room")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		}
		return
	}

	h.log.Info().
		Str("room", room.Name).
		Bool("protected", room.Protected()).
		Str("admin", c.GetString(ContextKeyAdmin)).
		Msg("room created")
	c.JSON(http.StatusCreated, toRoomResponse(room))
}

// ListRooms lists rooms, optionally filtered by comma separated keywords.
// GET /rooms?keywords=a,b
func (h *RoomHandlers) ListRooms(c *gin.Context) {
	var keywords []string
	if raw := c.Query("keywords"); raw != "" {
		keywords = strings.Split(raw, ",")
	}

	rooms, err := h.authService.FindRooms(c.Request.Context(), keywords)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list rooms")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, RoomListResponse{Data: lo.Map(rooms, func(r *store.Room, _ int) RoomResponse {
		return toRoomResponse(r)
	})})
}
