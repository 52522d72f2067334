package proto

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrUnknownFrame is returned when a frame matches neither inbound shape.
	ErrUnknownFrame = errors.New("unknown frame shape")
	// ErrIncompleteLogin is returned when a login frame misses a required field.
	ErrIncompleteLogin = errors.New("login requires room_name, token and name")
)

// InboundKind distinguishes the two client frame shapes.
type InboundKind int

const (
	// InboundChat is a chat message: {"msg": "..."}.
	InboundChat InboundKind = iota + 1
	// InboundLogin is a login request: {"room_name": "...", "token": "...", "name": "..."}.
	InboundLogin
)

// ChatData is a chat message from the client.
type ChatData struct {
	Msg string `json:"msg"`
}

// LoginData requests to join a room with a token obtained from the admin surface.
type LoginData struct {
	RoomName string `json:"room_name"`
	Token    string `json:"token"`
	Name     string `json:"name"`
}

// Inbound is a decoded client frame. Exactly one of Chat or Login is meaningful.
type Inbound struct {
	Kind  InboundKind
	Chat  ChatData
	Login LoginData
}

// Outbound is the only frame the server sends, both for live broadcasts and history replay.
type Outbound struct {
	UserName string `json:"user_name"`
	Msg      string `json:"msg"`
}

// rawInbound accepts the flat shapes as well as the tagged envelope
// {"Message": {...}} / {"Login": {...}} older clients send.
type rawInbound struct {
	Msg      *string `json:"msg"`
	RoomName *string `json:"room_name"`
	Token    *string `json:"token"`
	Name     *string `json:"name"`

	Message *ChatData  `json:"Message"`
	Login   *LoginData `json:"Login"`
}

// DecodeInbound parses a text frame into one of the inbound shapes.
// The presence of room_name or token marks a login; otherwise msg marks a chat message.
func DecodeInbound(data []byte) (Inbound, error) {
	var raw rawInbound
	if err := json.Unmarshal(data, &raw); err != nil {
		return Inbound{}, fmt.Errorf("decode frame: %w", err)
	}

	switch {
	case raw.Login != nil:
		return loginInbound(*raw.Login)
	case raw.Message != nil:
		return Inbound{Kind: InboundChat, Chat: *raw.Message}, nil
	case raw.RoomName != nil || raw.Token != nil:
		return loginInbound(LoginData{
			RoomName: deref(raw.RoomName),
			Token:    deref(raw.Token),
			Name:     deref(raw.Name),
		})
	case raw.Msg != nil:
		return Inbound{Kind: InboundChat, Chat: ChatData{Msg: *raw.Msg}}, nil
	default:
		return Inbound{}, ErrUnknownFrame
	}
}

// EncodeOutbound serializes a frame for the wire.
func EncodeOutbound(userName, msg string) ([]byte, error) {
	return json.Marshal(Outbound{UserName: userName, Msg: msg})
}

func loginInbound(login LoginData) (Inbound, error) {
	if login.RoomName == "" || login.Token == "" || login.Name == "" {
		return Inbound{}, ErrIncompleteLogin
	}
	return Inbound{Kind: InboundLogin, Login: login}, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
