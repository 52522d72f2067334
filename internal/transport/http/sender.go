package http

import (
	"sync"
	"sync/atomic"

	"github.com/vovakirdan/roomrelay/internal/core"
)

// wsSender is the outbound capability handed to the core. Frames go through a
// bounded FIFO drained by the connection's write loop, so Send never blocks.
type wsSender struct {
	queue chan core.Frame

	closeOnce sync.Once
	closed    chan struct{}
	requested atomic.Bool
	reason    atomic.Int32
}

func newWSSender(buffer int) *wsSender {
	return &wsSender{
		queue:  make(chan core.Frame, buffer),
		closed: make(chan struct{}),
	}
}

// Send queues a frame or fails fast when the peer is not keeping up.
func (s *wsSender) Send(frame core.Frame) error {
	select {
	case <-s.closed:
		return core.ErrConnectionClosed
	default:
	}

	select {
	case s.queue <- frame:
		return nil
	default:
		return core.ErrSlowConsumer
	}
}

// Close asks the write loop to close the socket with the given reason.
func (s *wsSender) Close(reason core.CloseReason) error {
	fired := false
	s.closeOnce.Do(func() {
		s.reason.Store(int32(reason))
		s.requested.Store(true)
		close(s.closed)
		fired = true
	})
	if !fired {
		return core.ErrConnectionClosed
	}
	return nil
}

// markGone stops accepting frames once the socket is torn down.
func (s *wsSender) markGone() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// closeRequested reports whether the core asked for the close, and why.
func (s *wsSender) closeRequested() (core.CloseReason, bool) {
	return core.CloseReason(s.reason.Load()), s.requested.Load()
}
