package core

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Hub owns the inboxes, the Registrar, the Dispatcher and the shared Registry.
type Hub struct {
	registry   *Registry
	registrar  *Registrar
	dispatcher *Dispatcher

	nextID atomic.Uint64

	// mu guards closing the inboxes against concurrent sends.
	mu      sync.RWMutex
	closed  bool
	clients chan registration
	events  chan Event

	done chan struct{}
	log  *zerolog.Logger
}

// NewHub creates a hub backed by the given collaborators.
func NewHub(messages MessageStore, tokens TokenStore, opts Options, logger *zerolog.Logger) *Hub {
	if opts.InboxSize <= 0 {
		opts.InboxSize = DefaultOptions().InboxSize
	}
	if opts.HistoryPageSize <= 0 {
		opts.HistoryPageSize = DefaultOptions().HistoryPageSize
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = DefaultOptions().StoreTimeout
	}

	registry := NewRegistry()
	clients := make(chan registration, opts.InboxSize)
	events := make(chan Event, opts.InboxSize)

	return &Hub{
		registry:   registry,
		registrar:  newRegistrar(registry, clients, logger),
		dispatcher: newDispatcher(registry, messages, tokens, events, opts, logger),
		clients:    clients,
		events:     events,
		done:       make(chan struct{}),
		log:        logger,
	}
}

// Registry exposes the shared room state for inspection.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// NextConnectionID allocates a unique, strictly increasing connection id.
func (h *Hub) NextConnectionID() uint64 {
	return h.nextID.Add(1)
}

// Done is closed once the hub has drained and stopped.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Open hands a new connection to the Registrar. The returned channel is closed
// once the connection sits in the pending pool.
func (h *Hub) Open(c *Connection) (<-chan struct{}, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return nil, ErrInboxClosed
	}

	reg := registration{conn: c, ready: make(chan struct{})}
	select {
	case h.clients <- reg:
		return reg.ready, nil
	default:
		return nil, ErrInboxFull
	}
}

// Submit enqueues an event for the Dispatcher without waiting for it to be handled.
// Chat and login events are dropped when the inbox is full; Terminate waits for space
// because it is the only cleanup path for a connection.
func (h *Hub) Submit(ev Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return ErrInboxClosed
	}

	select {
	case h.events <- ev:
		return nil
	default:
	}

	if ev.Kind != EventTerminate {
		return ErrInboxFull
	}
	h.events <- ev
	return nil
}

// Run starts the Registrar and Dispatcher and blocks until ctx is cancelled and
// every in-flight event has been handled.
func (h *Hub) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		h.registrar.Run()
	}()
	go func() {
		defer wg.Done()
		h.dispatcher.Run()
	}()

	<-ctx.Done()
	h.shutdown()
	wg.Wait()

	h.log.Info().Msg("hub stopped")
	close(h.done)
}

// shutdown terminates every known connection the same way a socket close would,
// then closes the inboxes so the actors drain and exit.
func (h *Hub) shutdown() {
	members := h.registry.Connections()
	h.log.Info().Int("connections", len(members)).Msg("shutting down hub")

	for _, m := range members {
		if err := h.Submit(Terminate(m.Conn.ID, m.Room)); err != nil {
			h.log.Error().Err(err).Uint64("conn_id", m.Conn.ID).Msg("failed to submit terminate")
		}
		if err := m.Conn.Close(CloseGoingAway); err != nil {
			h.log.Debug().Err(err).Uint64("conn_id", m.Conn.ID).Msg("failed to close connection")
		}
	}

	h.mu.Lock()
	h.closed = true
	close(h.clients)
	close(h.events)
	h.mu.Unlock()
}
