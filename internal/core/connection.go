package core

import "time"

// UnassignedRoom is the room name of a connection that has not logged in yet.
const UnassignedRoom = "unassigned"

// CloseReason tells the transport which status to close a socket with.
type CloseReason int

const (
	// CloseNormal is used when a login is rejected.
	CloseNormal CloseReason = iota
	// CloseGoingAway is used when the server shuts down.
	CloseGoingAway
)

// Frame is one outbound text payload. The writer pauses for Delay after sending it.
type Frame struct {
	Payload []byte
	Delay   time.Duration
}

// Sender is the outbound half of a socket.
// Implementations must be safe for concurrent use and must not block on Send.
type Sender interface {
	Send(frame Frame) error
	Close(reason CloseReason) error
}

// Connection is one live client session as seen by the core.
type Connection struct {
	ID   uint64
	Addr string

	// room is guarded by the Registry lock.
	room   string
	sender Sender
}

// NewConnection wraps a transport sender. The connection starts unassigned.
func NewConnection(id uint64, addr string, sender Sender) *Connection {
	return &Connection{
		ID:     id,
		Addr:   addr,
		room:   UnassignedRoom,
		sender: sender,
	}
}

// Send queues a frame for the remote peer.
func (c *Connection) Send(frame Frame) error {
	return c.sender.Send(frame)
}

// Close asks the transport to close the socket.
func (c *Connection) Close(reason CloseReason) error {
	return c.sender.Close(reason)
}
