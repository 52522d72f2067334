package core

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomrelay/internal/proto"
	"github.com/vovakirdan/roomrelay/internal/store"
)

// historyPage is the page index replayed on login; page 0 is the most recent.
const historyPage = 0

// MessageStore is the slice of message persistence the Dispatcher needs.
type MessageStore interface {
	InsertMessage(ctx context.Context, room, user, text string) error
	ListMessages(ctx context.Context, room string, page, pageSize int) ([]*store.Message, error)
}

// TokenStore is the slice of token persistence the Dispatcher needs.
type TokenStore interface {
	IsTokenValid(ctx context.Context, token, room string) (bool, error)
	DeleteToken(ctx context.Context, token, room string) error
}

// Dispatcher applies events to the registry in arrival order.
// It is the only writer of room membership and display names.
type Dispatcher struct {
	registry *Registry
	messages MessageStore
	tokens   TokenStore
	inbox    <-chan Event
	opts     Options
	log      *zerolog.Logger
}

func newDispatcher(registry *Registry, messages MessageStore, tokens TokenStore, inbox <-chan Event, opts Options, logger *zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		messages: messages,
		tokens:   tokens,
		inbox:    inbox,
		opts:     opts,
		log:      logger,
	}
}

// Run drains the inbox until it is closed.
func (d *Dispatcher) Run() {
	for ev := range d.inbox {
		d.handle(ev)
	}
}

func (d *Dispatcher) handle(ev Event) {
	switch ev.Kind {
	case EventChatMessage:
		d.handleChat(ev)
	case EventLoginAttempt:
		d.handleLogin(ev)
	case EventTerminate:
		d.handleTerminate(ev)
	default:
		d.log.Error().Int("kind", int(ev.Kind)).Uint64("conn_id", ev.ConnID).Msg("unknown event kind")
	}
}

func (d *Dispatcher) storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d.opts.StoreTimeout)
}

func (d *Dispatcher) handleChat(ev Event) {
	logger := d.log.With().Uint64("conn_id", ev.ConnID).Str("room", ev.Room).Logger()

	name, ok := d.registry.Name(ev.ConnID)
	if !ok {
		logger.Error().Msg("message from connection without display name, dropping")
		return
	}
	if room, joined := d.registry.RoomOf(ev.ConnID); !joined || room != ev.Room {
		logger.Error().Str("joined_room", room).Msg("message for a room the connection has not joined, dropping")
		return
	}

	ctx, cancel := d.storeContext()
	err := d.messages.InsertMessage(ctx, ev.Room, name, ev.Text)
	cancel()
	if err != nil {
		// Live delivery goes ahead without durability.
		logger.Error().Err(err).Msg("failed to persist message")
	}

	payload, err := proto.EncodeOutbound(name, ev.Text)
	if err != nil {
		logger.Error().Err(err).Msg("failed to encode message")
		return
	}

	recipients := d.registry.Recipients(ev.Room, ev.ConnID)
	for _, c := range recipients {
		if err := c.Send(Frame{Payload: payload}); err != nil {
			logger.Warn().Err(err).Uint64("recipient_id", c.ID).Str("addr", c.Addr).Msg("failed to deliver message")
		}
	}
	logger.Debug().Str("user", name).Int("recipients", len(recipients)).Msg("message broadcast")
}

func (d *Dispatcher) handleLogin(ev Event) {
	logger := d.log.With().Uint64("conn_id", ev.ConnID).Str("room", ev.Room).Str("user", ev.Name).Logger()

	// Tokens are single use whatever the outcome.
	defer d.deleteToken(ev, &logger)

	ctx, cancel := d.storeContext()
	valid, err := d.tokens.IsTokenValid(ctx, ev.Token, ev.Room)
	cancel()
	if err != nil {
		logger.Error().Err(err).Msg("token validation failed, leaving connection pending")
		return
	}

	if !valid {
		conn, ok := d.registry.TakePending(ev.ConnID)
		if !ok {
			// A member retrying login into another room; its Terminate cleans up membership.
			conn, ok = d.registry.Joined(ev.ConnID)
		}
		if !ok {
			logger.Error().Msg("rejected login for unknown connection")
			return
		}
		logger.Info().Msg("invalid token, closing connection")
		if err := conn.Close(CloseNormal); err != nil {
			logger.Warn().Err(err).Msg("failed to close connection")
		}
		return
	}

	conn, ok := d.registry.TakePending(ev.ConnID)
	if !ok {
		logger.Error().Msg("connection missing from pending pool, aborting login")
		return
	}
	d.registry.SetName(ev.ConnID, ev.Name)

	d.replayHistory(conn, ev.Room, &logger)

	d.registry.Join(ev.Room, conn)
	logger.Info().Int("members", len(d.registry.Members(ev.Room))).Msg("client joined room")
}

// replayHistory queues the most recent page of room history, in store order.
// Each frame carries the pacing delay so the connection writer spaces them out.
func (d *Dispatcher) replayHistory(conn *Connection, room string, logger *zerolog.Logger) {
	ctx, cancel := d.storeContext()
	history, err := d.messages.ListMessages(ctx, room, historyPage, d.opts.HistoryPageSize)
	cancel()
	if err != nil {
		logger.Error().Err(err).Msg("failed to load room history")
		return
	}

	for _, m := range history {
		payload, err := proto.EncodeOutbound(m.User, m.Text)
		if err != nil {
			logger.Error().Err(err).Msg("failed to encode history message")
			continue
		}
		if err := conn.Send(Frame{Payload: payload, Delay: d.opts.HistoryDelay}); err != nil {
			logger.Warn().Err(err).Msg("failed to deliver history message")
		}
	}
	logger.Debug().Int("messages", len(history)).Msg("history replayed")
}

func (d *Dispatcher) deleteToken(ev Event, logger *zerolog.Logger) {
	ctx, cancel := d.storeContext()
	defer cancel()

	if err := d.tokens.DeleteToken(ctx, ev.Token, ev.Room); err != nil {
		logger.Warn().Err(err).Msg("failed to delete token after login")
	}
}

func (d *Dispatcher) handleTerminate(ev Event) {
	logger := d.log.With().Uint64("conn_id", ev.ConnID).Str("room", ev.Room).Logger()

	_, removed := d.registry.Leave(ev.Room, ev.ConnID)
	if !removed {
		// The handler's room name may be ahead of the registry after a rejected second login.
		if actual, joined := d.registry.RoomOf(ev.ConnID); joined {
			d.registry.Leave(actual, ev.ConnID)
			logger.Warn().Str("joined_room", actual).Msg("terminated connection was in another room")
			removed = true
		}
	}

	if removed {
		logger.Debug().Msg("removed connection from room")
	} else {
		logger.Warn().Msg("could not find connection in room")
	}

	if _, wasPending := d.registry.TakePending(ev.ConnID); wasPending {
		logger.Debug().Msg("removed connection from pending pool")
	}
	d.registry.DropName(ev.ConnID)
}

// Options tunes the Dispatcher and Hub.
type Options struct {
	HistoryPageSize int
	HistoryDelay    time.Duration
	InboxSize       int
	StoreTimeout    time.Duration
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		HistoryPageSize: 30,
		HistoryDelay:    100 * time.Millisecond,
		InboxSize:       1024,
		StoreTimeout:    5 * time.Second,
	}
}
