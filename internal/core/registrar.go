package core

import "github.com/rs/zerolog"

// registration is a new connection waiting to enter the pending pool.
// ready is closed once the Registrar has handled it.
type registration struct {
	conn  *Connection
	ready chan struct{}
}

// Registrar moves newly opened connections into the pending pool.
type Registrar struct {
	registry *Registry
	inbox    <-chan registration
	log      *zerolog.Logger
}

func newRegistrar(registry *Registry, inbox <-chan registration, logger *zerolog.Logger) *Registrar {
	return &Registrar{registry: registry, inbox: inbox, log: logger}
}

// Run drains the inbox until it is closed.
func (r *Registrar) Run() {
	for reg := range r.inbox {
		r.register(reg)
	}
}

func (r *Registrar) register(reg registration) {
	defer close(reg.ready)

	if err := r.registry.AddPending(reg.conn); err != nil {
		r.log.Error().Err(err).Uint64("conn_id", reg.conn.ID).Msg("failed to register connection")
		if closeErr := reg.conn.Close(CloseGoingAway); closeErr != nil {
			r.log.Warn().Err(closeErr).Uint64("conn_id", reg.conn.ID).Msg("failed to close connection")
		}
		return
	}
	r.log.Info().Uint64("conn_id", reg.conn.ID).Str("addr", reg.conn.Addr).Msg("client connected")
}
