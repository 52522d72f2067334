package http

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/roomrelay/internal/auth"
	"github.com/vovakirdan/roomrelay/internal/config"
	"github.com/vovakirdan/roomrelay/internal/core"
	"github.com/vovakirdan/roomrelay/internal/log"
	"github.com/vovakirdan/roomrelay/internal/proto"
	"github.com/vovakirdan/roomrelay/internal/store/sqlite"
)

type testEnv struct {
	ts      *httptest.Server
	hub     *core.Hub
	store   *sqlite.SQLiteStore
	auth    *auth.Service
	jwt     *auth.JWTConfig
	stopHub context.CancelFunc
}

// startTestServer runs a hub on an in-memory SQLite store behind an httptest server.
func startTestServer(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.Chat.HistoryDelay = time.Millisecond
	cfg.Admin.JWTSecret = "test-secret"
	if mutate != nil {
		mutate(&cfg)
	}

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := log.Nop()
	hub := core.NewHub(st, st, core.Options{
		HistoryPageSize: cfg.Chat.HistoryPageSize,
		HistoryDelay:    cfg.Chat.HistoryDelay,
		InboxSize:       cfg.Chat.InboxSize,
		StoreTimeout:    cfg.Chat.StoreTimeout,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-hub.Done()
	})

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.Admin.JWTSecret),
		Issuer:   cfg.Admin.JWTIssuer,
		Audience: cfg.Admin.JWTAudience,
		TTL:      cfg.Admin.TokenTTL,
	}
	svc := auth.NewService(st, cfg.Chat.TokenTTL)

	server := NewServer(hub, svc, jwtConfig, &cfg, logger)
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, hub: hub, store: st, auth: svc, jwt: jwtConfig, stopHub: cancel}
}

func (e *testEnv) wsURL() string {
	return strings.Replace(e.ts.URL, "http", "ws", 1) + "/ws"
}

func (e *testEnv) createRoom(t *testing.T, name string) {
	t.Helper()
	if _, err := e.auth.CreateRoom(context.Background(), name, nil, nil, ""); err != nil {
		t.Fatalf("create room %q: %v", name, err)
	}
}

func (e *testEnv) issueToken(t *testing.T, room string) string {
	t.Helper()
	token, err := e.auth.IssueToken(context.Background(), room, nil)
	if err != nil {
		t.Fatalf("issue token for %q: %v", room, err)
	}
	return token
}

func dial(t *testing.T, ctx context.Context, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

// joinRoom logs a socket in and waits until the hub has placed it in the room.
func (e *testEnv) joinRoom(t *testing.T, ctx context.Context, conn *websocket.Conn, room, name string) {
	t.Helper()

	before := len(e.hub.Registry().Members(room))
	login := map[string]string{"room_name": room, "token": e.issueToken(t, room), "name": name}
	if err := wsjson.Write(ctx, conn, login); err != nil {
		t.Fatalf("write login: %v", err)
	}
	waitFor(t, func() bool {
		return len(e.hub.Registry().Members(room)) > before
	}, "%s never joined %s", name, room)
}

func readOutbound(t *testing.T, ctx context.Context, conn *websocket.Conn) proto.Outbound {
	t.Helper()
	var out proto.Outbound
	if err := wsjson.Read(ctx, conn, &out); err != nil {
		t.Fatalf("read outbound: %v", err)
	}
	return out
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
	t.Fatalf(format, args...)
}
