package http

import (
	"context"
	"errors"
	"io"
	stdhttp "net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomrelay/internal/config"
	"github.com/vovakirdan/roomrelay/internal/core"
	"github.com/vovakirdan/roomrelay/internal/proto"
)

var errServerClose = errors.New("closed by server")

// WSHandler upgrades HTTP connections and bridges each socket to the hub.
type WSHandler struct {
	hub    *core.Hub
	cfg    config.ChatConfig
	log    *zerolog.Logger
	active atomic.Int64
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *core.Hub, cfg config.ChatConfig, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{hub: hub, cfg: cfg, log: logger}
}

// Active reports the number of sockets currently being served.
func (h *WSHandler) Active() int64 {
	return h.active.Load()
}

func (h *WSHandler) admit() bool {
	n := h.active.Add(1)
	if h.cfg.MaxConnections > 0 && n > int64(h.cfg.MaxConnections) {
		h.active.Add(-1)
		return false
	}
	return true
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	if !h.admit() {
		h.log.Warn().Str("addr", r.RemoteAddr).Int("max_connections", h.cfg.MaxConnections).Msg("connection limit reached")
		stdhttp.Error(w, "too many connections", stdhttp.StatusServiceUnavailable)
		return
	}
	defer h.active.Add(-1)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	if h.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.cfg.MaxMessageBytes)
	}

	id := h.hub.NextConnectionID()
	logger := h.log.With().Uint64("conn_id", id).Str("addr", r.RemoteAddr).Logger()

	sender := newWSSender(h.cfg.OutboundBuffer)
	ready, err := h.hub.Open(core.NewConnection(id, r.RemoteAddr, sender))
	if err != nil {
		if errors.Is(err, core.ErrInboxClosed) {
			logger.Info().Msg("connection refused during shutdown")
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		}
		logger.Error().Err(err).Msg("failed to register connection")
		conn.Close(websocket.StatusTryAgainLater, "server busy")
		return
	}
	select {
	case <-ready:
	case <-h.hub.Done():
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		select {
		case <-h.hub.Done():
			_ = sender.Close(core.CloseGoingAway)
		case <-ctx.Done():
		}
	}()

	s := &session{
		id:      id,
		conn:    conn,
		sender:  sender,
		hub:     h.hub,
		cfg:     h.cfg,
		log:     &logger,
		room:    core.UnassignedRoom,
		limiter: newRateLimiter(h.cfg.MessagesPerMinute),
	}

	errCh := make(chan error, 2)
	go func() {
		errCh <- s.readLoop(ctx)
	}()
	go func() {
		errCh <- s.writeLoop(ctx)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	sender.markGone()
	if termErr := h.hub.Submit(core.Terminate(id, s.room)); termErr != nil && !errors.Is(termErr, core.ErrInboxClosed) {
		logger.Warn().Err(termErr).Msg("failed to submit terminate")
	}

	if reason, byServer := sender.closeRequested(); byServer {
		logger.Info().Str("room", s.room).Msg("connection closed by server")
		// No-op when the write loop already completed the handshake.
		status, text := serverCloseStatus(reason)
		conn.Close(status, text)
		return
	}

	status, reason := closeStatus(err)
	if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
		logger.Info().Str("room", s.room).Msg("client disconnected")
	} else {
		logger.Warn().Err(err).Str("room", s.room).Msg("ws connection closed with error")
	}
	conn.Close(status, reason)
}

// closeStatus maps the error that ended a session to a close frame.
func closeStatus(err error) (websocket.StatusCode, string) {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return websocket.StatusNormalClosure, "closing"
	}
	if s := websocket.CloseStatus(err); s != -1 {
		return s, ""
	}
	return websocket.StatusInternalError, "internal error"
}

func serverCloseStatus(reason core.CloseReason) (websocket.StatusCode, string) {
	if reason == core.CloseGoingAway {
		return websocket.StatusGoingAway, "server shutting down"
	}
	return websocket.StatusNormalClosure, "login rejected"
}

// session holds the per-socket state shared by the read and write loops.
type session struct {
	id      uint64
	conn    *websocket.Conn
	sender  *wsSender
	hub     *core.Hub
	cfg     config.ChatConfig
	log     *zerolog.Logger
	limiter *rateLimiter

	// room is written by the read loop only.
	room string
}

func (s *session) readLoop(ctx context.Context) error {
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			s.log.Warn().Msg("dropping non-text frame")
			continue
		}
		if !s.limiter.allow() {
			s.log.Warn().Msg("rate limit exceeded, dropping frame")
			continue
		}

		in, err := proto.DecodeInbound(data)
		if err != nil {
			s.log.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}

		var ev core.Event
		switch in.Kind {
		case proto.InboundChat:
			ev = core.ChatMessage(s.id, s.room, in.Chat.Msg)
		case proto.InboundLogin:
			s.room = in.Login.RoomName
			ev = core.LoginAttempt(s.id, in.Login.RoomName, in.Login.Token, in.Login.Name)
		default:
			continue
		}

		if err := s.hub.Submit(ev); err != nil {
			s.log.Error().Err(err).Stringer("kind", ev.Kind).Msg("failed to submit event")
		}
	}
}

func (s *session) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.sender.closed:
			return s.closeFromServer()
		case frame := <-s.sender.queue:
			if err := s.write(ctx, frame.Payload); err != nil {
				s.log.Error().Err(err).Msg("write ws frame")
				return err
			}
			if frame.Delay <= 0 {
				continue
			}
			timer := time.NewTimer(frame.Delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-s.sender.closed:
				timer.Stop()
				return s.closeFromServer()
			}
		}
	}
}

func (s *session) write(ctx context.Context, payload []byte) error {
	if s.cfg.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.WriteTimeout)
		defer cancel()
	}
	return s.conn.Write(ctx, websocket.MessageText, payload)
}

// closeFromServer performs the close handshake the core asked for. A sender
// closed by markGone never reaches this point because both loops have exited.
func (s *session) closeFromServer() error {
	reason, _ := s.sender.closeRequested()
	status, text := serverCloseStatus(reason)
	if err := s.conn.Close(status, text); err != nil {
		s.log.Debug().Err(err).Msg("close handshake")
	}
	return errServerClose
}
