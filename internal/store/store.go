package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/samber/lo"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrRoomExists is returned when creating a room whose name is taken.
	ErrRoomExists = errors.New("room already exists")
)

// Room is an externally provisioned chat room.
type Room struct {
	Name         string
	PasswordHash string // empty when the room is open
	Keywords     []string
	Description  string
	CreatedAt    time.Time
}

// Protected reports whether joining the room requires a password.
func (r *Room) Protected() bool {
	return r.PasswordHash != ""
}

// Message represents a persisted chat message.
type Message struct {
	Room      string
	User      string
	Text      string
	CreatedAt time.Time
}

// Token is a single-use credential scoping a login to one room.
type Token struct {
	Value     string
	Room      string
	ValidTill time.Time
}

// MessageStore handles message persistence.
type MessageStore interface {
	// InsertMessage persists a chat message.
	InsertMessage(ctx context.Context, room, user, text string) error

	// ListMessages returns one page of room history, most recent first.
	ListMessages(ctx context.Context, room string, page, pageSize int) ([]*Message, error)
}

// TokenStore handles login token persistence.
type TokenStore interface {
	// InsertToken stores a token bound to a room.
	InsertToken(ctx context.Context, token *Token) error

	// IsTokenValid reports whether the token exists for the room and has not expired.
	IsTokenValid(ctx context.Context, token, room string) (bool, error)

	// DeleteToken removes the token. Deleting a missing token is not an error.
	DeleteToken(ctx context.Context, token, room string) error
}

// RoomStore handles room persistence.
type RoomStore interface {
	// CreateRoom inserts a new room, returning ErrRoomExists on name collision.
	CreateRoom(ctx context.Context, room *Room) error

	// GetRoomByName retrieves a room by name, returning ErrNotFound if missing.
	GetRoomByName(ctx context.Context, name string) (*Room, error)

	// FindRooms lists rooms tagged with any of the keywords, or all rooms if none given.
	FindRooms(ctx context.Context, keywords []string) ([]*Room, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	MessageStore
	TokenStore
	RoomStore

	// Close closes the underlying database.
	Close() error
}

// NormalizeKeywords trims, drops empty entries and removes duplicates.
func NormalizeKeywords(keywords []string) []string {
	trimmed := lo.Map(keywords, func(k string, _ int) string { return strings.TrimSpace(k) })
	return lo.Uniq(lo.Compact(trimmed))
}
