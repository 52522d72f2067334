package core

// EventKind tags the variants flowing into the Dispatcher.
type EventKind int

const (
	// EventChatMessage carries a chat message from a connection.
	EventChatMessage EventKind = iota
	// EventLoginAttempt asks to move a pending connection into a room.
	EventLoginAttempt
	// EventTerminate reports that a connection's socket is gone.
	EventTerminate
)

func (k EventKind) String() string {
	switch k {
	case EventChatMessage:
		return "chat_message"
	case EventLoginAttempt:
		return "login_attempt"
	case EventTerminate:
		return "terminate"
	default:
		return "unknown"
	}
}

// Event is produced by a Connection Handler and consumed by the Dispatcher.
type Event struct {
	Kind   EventKind
	ConnID uint64
	Room   string

	Text  string // EventChatMessage
	Token string // EventLoginAttempt
	Name  string // EventLoginAttempt
}

// ChatMessage builds an EventChatMessage.
func ChatMessage(connID uint64, room, text string) Event {
	return Event{Kind: EventChatMessage, ConnID: connID, Room: room, Text: text}
}

// LoginAttempt builds an EventLoginAttempt.
func LoginAttempt(connID uint64, room, token, name string) Event {
	return Event{Kind: EventLoginAttempt, ConnID: connID, Room: room, Token: token, Name: name}
}

// Terminate builds an EventTerminate.
func Terminate(connID uint64, room string) Event {
	return Event{Kind: EventTerminate, ConnID: connID, Room: room}
}
