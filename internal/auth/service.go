package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/vovakirdan/roomrelay/internal/store"
)

var (
	// ErrForbidden is returned when the room is unknown or the password is wrong.
	ErrForbidden = errors.New("forbidden")
	// ErrPasswordRequired is returned when a protected room is requested without a password.
	ErrPasswordRequired = errors.New("password required")
	// ErrInvalidRoomName is returned when a room name doesn't meet constraints.
	ErrInvalidRoomName = errors.New("invalid room name")
)

// RoomTokenStore is the storage the token service needs.
type RoomTokenStore interface {
	store.RoomStore
	store.TokenStore
}

// Service issues room tokens and provisions rooms.
type Service struct {
	store    RoomTokenStore
	tokenTTL time.Duration
	now      func() time.Time
}

// NewService creates a new room authorization service.
func NewService(st RoomTokenStore, tokenTTL time.Duration) *Service {
	return &Service{
		store:    st,
		tokenTTL: tokenTTL,
		now:      time.Now,
	}
}

// IssueToken authorizes access to a room and returns a single-use login token.
// A nil password means the caller supplied none.
func (s *Service) IssueToken(ctx context.Context, roomName string, password *string) (string, error) {
	room, err := s.store.GetRoomByName(ctx, roomName)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrForbidden
		}
		return "", fmt.Errorf("get room: %w", err)
	}

	if room.Protected() {
		if password == nil {
			return "", ErrPasswordRequired
		}
		if err := ComparePassword(room.PasswordHash, *password); err != nil {
			if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
				return "", ErrForbidden
			}
			return "", fmt.Errorf("compare password: %w", err)
		}
	}

	token := &store.Token{
		Value:     uuid.NewString(),
		Room:      room.Name,
		ValidTill: s.now().Add(s.tokenTTL),
	}
	if err := s.store.InsertToken(ctx, token); err != nil {
		return "", fmt.Errorf("insert token: %w", err)
	}
	return token.Value, nil
}

// CreateRoom provisions a room, hashing its password when one is given.
func (s *Service) CreateRoom(ctx context.Context, name string, password *string, keywords []string, description string) (*store.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 64 {
		return nil, ErrInvalidRoomName
	}

	room := &store.Room{
		Name:        name,
		Keywords:    store.NormalizeKeywords(keywords),
		Description: description,
	}
	if password != nil && *password != "" {
		hash, err := HashPassword(*password)
		if err != nil {
			return nil, err
		}
		room.PasswordHash = hash
	}

	if err := s.store.CreateRoom(ctx, room); err != nil {
		return nil, err
	}
	return room, nil
}

// FindRooms lists rooms matching any of the keywords.
func (s *Service) FindRooms(ctx context.Context, keywords []string) ([]*store.Room, error) {
	return s.store.FindRooms(ctx, keywords)
}
