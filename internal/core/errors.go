package core

import "errors"

var (
	// ErrInboxClosed is returned when submitting to a hub that has shut down.
	ErrInboxClosed = errors.New("hub inbox closed")
	// ErrInboxFull is returned when the event inbox has no room for a droppable event.
	ErrInboxFull = errors.New("hub inbox full")
	// ErrConnectionClosed is returned when sending on a closed connection.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrSlowConsumer is returned when a connection's outbound queue is full.
	ErrSlowConsumer = errors.New("slow consumer: outbound queue full")
	// ErrDuplicateConnection is returned when a connection id is registered twice.
	ErrDuplicateConnection = errors.New("duplicate connection id")
)
