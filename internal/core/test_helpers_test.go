package core

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/roomrelay/internal/log"
	"github.com/vovakirdan/roomrelay/internal/proto"
	"github.com/vovakirdan/roomrelay/internal/store"
)

var errStoreDown = errors.New("store down")

// fakeSender records outbound frames and close requests.
type fakeSender struct {
	mu     sync.Mutex
	frames []Frame
	closed []CloseReason
	failOn error
	out    chan Frame
}

func newFakeSender() *fakeSender {
	return &fakeSender{out: make(chan Frame, 64)}
}

func (s *fakeSender) Send(frame Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failOn != nil {
		return s.failOn
	}
	if len(s.closed) > 0 {
		return ErrConnectionClosed
	}
	s.frames = append(s.frames, frame)
	select {
	case s.out <- frame:
	default:
	}
	return nil
}

func (s *fakeSender) Close(reason CloseReason) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = append(s.closed, reason)
	return nil
}

func (s *fakeSender) Frames() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Frame(nil), s.frames...)
}

func (s *fakeSender) Closed() []CloseReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CloseReason(nil), s.closed...)
}

// memStore is an in-memory MessageStore and TokenStore with switchable failures.
type memStore struct {
	mu        sync.Mutex
	messages  []store.Message
	tokens    map[string]string // token -> room
	deleted   []string
	inserts   int
	failValid bool
	failWrite bool
}

func newMemStore() *memStore {
	return &memStore{tokens: make(map[string]string)}
}

func (m *memStore) addToken(token, room string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token] = room
}

func (m *memStore) InsertMessage(_ context.Context, room, user, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.inserts++
	if m.failWrite {
		return errStoreDown
	}
	m.messages = append(m.messages, store.Message{Room: room, User: user, Text: text})
	return nil
}

func (m *memStore) ListMessages(_ context.Context, room string, page, pageSize int) ([]*store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*store.Message
	skip := page * pageSize
	for i := len(m.messages) - 1; i >= 0 && len(out) < pageSize; i-- {
		if m.messages[i].Room != room {
			continue
		}
		if skip > 0 {
			skip--
			continue
		}
		msg := m.messages[i]
		out = append(out, &msg)
	}
	return out, nil
}

func (m *memStore) IsTokenValid(_ context.Context, token, room string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failValid {
		return false, errStoreDown
	}
	r, ok := m.tokens[token]
	return ok && r == room, nil
}

func (m *memStore) DeleteToken(_ context.Context, token, room string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deleted = append(m.deleted, token)
	if r, ok := m.tokens[token]; ok && r == room {
		delete(m.tokens, token)
	}
	return nil
}

func (m *memStore) Inserts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inserts
}

func (m *memStore) Deleted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deleted...)
}

// startHub runs a hub until the test ends.
func startHub(t *testing.T, st *memStore) (*Hub, context.CancelFunc) {
	t.Helper()

	opts := DefaultOptions()
	opts.HistoryDelay = time.Millisecond
	hub := NewHub(st, st, opts, log.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-hub.Done()
	})
	return hub, cancel
}

// openConn registers a connection and waits until it sits in the pending pool.
func openConn(t *testing.T, hub *Hub) (*Connection, *fakeSender) {
	t.Helper()

	sender := newFakeSender()
	conn := NewConnection(hub.NextConnectionID(), "127.0.0.1:0", sender)
	ready, err := hub.Open(conn)
	if err != nil {
		t.Fatalf("open connection: %v", err)
	}
	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatalf("connection %d was never registered", conn.ID)
	}
	return conn, sender
}

func submit(t *testing.T, hub *Hub, ev Event) {
	t.Helper()
	if err := hub.Submit(ev); err != nil {
		t.Fatalf("submit %s: %v", ev.Kind, err)
	}
}

// login submits a login and waits until the connection has joined the room.
func login(t *testing.T, hub *Hub, conn *Connection, room, token, name string) {
	t.Helper()
	submit(t, hub, LoginAttempt(conn.ID, room, token, name))
	waitFor(t, func() bool {
		r, ok := hub.Registry().RoomOf(conn.ID)
		return ok && r == room
	}, "connection %d to join %q", conn.ID, room)
}

func waitFor(t *testing.T, cond func() bool, format string, args ...any) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for "+format, args...)
}

// mustFrame waits for the next outbound frame and decodes it.
func mustFrame(t *testing.T, s *fakeSender) proto.Outbound {
	t.Helper()

	select {
	case f := <-s.out:
		var out proto.Outbound
		if err := json.Unmarshal(f.Payload, &out); err != nil {
			t.Fatalf("decode frame %q: %v", f.Payload, err)
		}
		return out
	case <-time.After(2 * time.Second):
		t.Fatalf("expected outbound frame not received")
		return proto.Outbound{}
	}
}

// drain waits for the Dispatcher to handle everything submitted so far by
// pushing a terminate for an unknown id through the same FIFO inbox.
func drain(t *testing.T, hub *Hub) {
	t.Helper()
	sentinel := hub.NextConnectionID()
	hub.Registry().SetName(sentinel, "sentinel")
	submit(t, hub, Terminate(sentinel, UnassignedRoom))
	waitFor(t, func() bool {
		_, ok := hub.Registry().Name(sentinel)
		return !ok
	}, "dispatcher to drain")
}
