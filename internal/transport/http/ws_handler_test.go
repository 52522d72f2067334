package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/roomrelay/internal/config"
)

func TestHealthEndpoint(t *testing.T) {
	env := startTestServer(t, nil)

	resp, err := env.ts.Client().Get(env.ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestWebSocketRoomChat(t *testing.T) {
	env := startTestServer(t, nil)
	env.createRoom(t, "lobby")
	env.createRoom(t, "kitchen")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice := dial(t, ctx, env.wsURL())
	bob := dial(t, ctx, env.wsURL())
	carol := dial(t, ctx, env.wsURL())
	dave := dial(t, ctx, env.wsURL())

	env.joinRoom(t, ctx, bob, "lobby", "bob")
	env.joinRoom(t, ctx, alice, "lobby", "alice")
	env.joinRoom(t, ctx, carol, "kitchen", "carol")
	env.joinRoom(t, ctx, dave, "kitchen", "dave")

	if err := wsjson.Write(ctx, alice, map[string]string{"msg": "hi"}); err != nil {
		t.Fatalf("alice write: %v", err)
	}
	got := readOutbound(t, ctx, bob)
	if got.UserName != "alice" || got.Msg != "hi" {
		t.Fatalf("bob got %+v", got)
	}

	// The first frame dave sees must come from his own room.
	if err := wsjson.Write(ctx, carol, map[string]string{"msg": "soup"}); err != nil {
		t.Fatalf("carol write: %v", err)
	}
	if got := readOutbound(t, ctx, dave); got.UserName != "carol" || got.Msg != "soup" {
		t.Fatalf("dave got %+v", got)
	}

	// Alice never receives her own message, so bob's reply is her first frame.
	if err := wsjson.Write(ctx, bob, map[string]string{"msg": "hey"}); err != nil {
		t.Fatalf("bob write: %v", err)
	}
	if got := readOutbound(t, ctx, alice); got.UserName != "bob" || got.Msg != "hey" {
		t.Fatalf("alice got %+v", got)
	}

	history, err := env.store.ListMessages(ctx, "lobby", 0, 30)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 persisted lobby messages, got %d", len(history))
	}
}

func TestWebSocketTaggedFrames(t *testing.T) {
	env := startTestServer(t, nil)
	env.createRoom(t, "lobby")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice := dial(t, ctx, env.wsURL())
	bob := dial(t, ctx, env.wsURL())
	env.joinRoom(t, ctx, bob, "lobby", "bob")

	login := map[string]any{"Login": map[string]string{
		"room_name": "lobby",
		"token":     env.issueToken(t, "lobby"),
		"name":      "alice",
	}}
	if err := wsjson.Write(ctx, alice, login); err != nil {
		t.Fatalf("write login: %v", err)
	}
	waitFor(t, func() bool { return len(env.hub.Registry().Members("lobby")) == 2 }, "alice never joined")

	if err := wsjson.Write(ctx, alice, map[string]any{"Message": map[string]string{"msg": "tagged"}}); err != nil {
		t.Fatalf("write message: %v", err)
	}
	if got := readOutbound(t, ctx, bob); got.UserName != "alice" || got.Msg != "tagged" {
		t.Fatalf("bob got %+v", got)
	}
}

func TestWebSocketHistoryReplay(t *testing.T) {
	env := startTestServer(t, nil)
	env.createRoom(t, "lobby")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := range 3 {
		if err := env.store.InsertMessage(ctx, "lobby", "bob", fmt.Sprintf("old-%d", i)); err != nil {
			t.Fatalf("seed message: %v", err)
		}
	}

	alice := dial(t, ctx, env.wsURL())
	env.joinRoom(t, ctx, alice, "lobby", "alice")

	for i := range 3 {
		got := readOutbound(t, ctx, alice)
		want := fmt.Sprintf("old-%d", 2-i)
		if got.UserName != "bob" || got.Msg != want {
			t.Fatalf("history frame %d: got %+v want %q", i, got, want)
		}
	}
}

func TestWebSocketInvalidTokenClosesSocket(t *testing.T) {
	env := startTestServer(t, nil)
	env.createRoom(t, "lobby")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, env.wsURL())
	login := map[string]string{"room_name": "lobby", "token": "not-a-token", "name": "mallory"}
	if err := wsjson.Write(ctx, conn, login); err != nil {
		t.Fatalf("write login: %v", err)
	}

	_, _, err := conn.Read(ctx)
	if err == nil {
		t.Fatal("expected the server to close the socket")
	}
	if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure {
		t.Fatalf("expected normal closure, got %v (%v)", status, err)
	}
	if members := env.hub.Registry().Members("lobby"); len(members) != 0 {
		t.Fatalf("rejected connection should not be a member, got %v", members)
	}
}

func TestWebSocketMalformedFrameIsDropped(t *testing.T) {
	env := startTestServer(t, nil)
	env.createRoom(t, "lobby")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice := dial(t, ctx, env.wsURL())
	bob := dial(t, ctx, env.wsURL())

	if err := alice.Write(ctx, websocket.MessageText, []byte("not json")); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	if err := alice.Write(ctx, websocket.MessageBinary, []byte{0x1, 0x2}); err != nil {
		t.Fatalf("write binary: %v", err)
	}

	env.joinRoom(t, ctx, bob, "lobby", "bob")
	env.joinRoom(t, ctx, alice, "lobby", "alice")

	if err := wsjson.Write(ctx, alice, map[string]string{"msg": "still here"}); err != nil {
		t.Fatalf("alice write: %v", err)
	}
	if got := readOutbound(t, ctx, bob); got.Msg != "still here" {
		t.Fatalf("bob got %+v", got)
	}
}

func TestWebSocketDisconnectLeavesRoom(t *testing.T) {
	env := startTestServer(t, nil)
	env.createRoom(t, "lobby")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice := dial(t, ctx, env.wsURL())
	bob := dial(t, ctx, env.wsURL())
	env.joinRoom(t, ctx, alice, "lobby", "alice")
	env.joinRoom(t, ctx, bob, "lobby", "bob")

	alice.Close(websocket.StatusNormalClosure, "bye")
	waitFor(t, func() bool { return len(env.hub.Registry().Members("lobby")) == 1 }, "alice still a member")
}

func TestWebSocketConnectionLimit(t *testing.T) {
	env := startTestServer(t, func(cfg *config.Config) {
		cfg.Chat.MaxConnections = 1
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dial(t, ctx, env.wsURL())

	conn, resp, err := websocket.Dial(ctx, env.wsURL(), nil)
	if err == nil {
		conn.Close(websocket.StatusNormalClosure, "")
		t.Fatal("expected the second dial to be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %v (%v)", resp, err)
	}
}

func TestWebSocketShutdownClosesSockets(t *testing.T) {
	env := startTestServer(t, nil)
	env.createRoom(t, "lobby")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice := dial(t, ctx, env.wsURL())
	env.joinRoom(t, ctx, alice, "lobby", "alice")

	env.stopHub()

	_, _, err := alice.Read(ctx)
	if err == nil {
		t.Fatal("expected the socket to close on shutdown")
	}
	if status := websocket.CloseStatus(err); status != websocket.StatusGoingAway && !errors.Is(err, context.Canceled) {
		t.Fatalf("expected going away, got %v (%v)", status, err)
	}
}

func TestWebSocketHistoryIsPaced(t *testing.T) {
	const delay = 50 * time.Millisecond
	env := startTestServer(t, func(cfg *config.Config) {
		cfg.Chat.HistoryDelay = delay
	})
	env.createRoom(t, "lobby")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := range 3 {
		if err := env.store.InsertMessage(ctx, "lobby", "bob", fmt.Sprintf("old-%d", i)); err != nil {
			t.Fatalf("seed message: %v", err)
		}
	}

	alice := dial(t, ctx, env.wsURL())
	env.joinRoom(t, ctx, alice, "lobby", "alice")

	readOutbound(t, ctx, alice)
	first := time.Now()
	readOutbound(t, ctx, alice)
	readOutbound(t, ctx, alice)

	// Two pauses sit between the first and the third frame.
	if gap := time.Since(first); gap < 2*delay-10*time.Millisecond {
		t.Fatalf("history frames arrived %v apart, want at least %v", gap, 2*delay)
	}
}

func TestWebSocketRateLimitDropsExcessFrames(t *testing.T) {
	env := startTestServer(t, func(cfg *config.Config) {
		// The login frame counts towards the window.
		cfg.Chat.MessagesPerMinute = 2
	})
	env.createRoom(t, "lobby")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	alice := dial(t, ctx, env.wsURL())
	bob := dial(t, ctx, env.wsURL())
	carol := dial(t, ctx, env.wsURL())
	env.joinRoom(t, ctx, bob, "lobby", "bob")
	env.joinRoom(t, ctx, carol, "lobby", "carol")
	env.joinRoom(t, ctx, alice, "lobby", "alice")

	for _, text := range []string{"one", "two"} {
		if err := wsjson.Write(ctx, alice, map[string]string{"msg": text}); err != nil {
			t.Fatalf("alice write %q: %v", text, err)
		}
	}
	if got := readOutbound(t, ctx, bob); got.UserName != "alice" || got.Msg != "one" {
		t.Fatalf("bob got %+v", got)
	}

	time.Sleep(50 * time.Millisecond)
	if err := wsjson.Write(ctx, carol, map[string]string{"msg": "three"}); err != nil {
		t.Fatalf("carol write: %v", err)
	}
	if got := readOutbound(t, ctx, bob); got.UserName != "carol" || got.Msg != "three" {
		t.Fatalf("frame over the limit was broadcast: bob got %+v", got)
	}

	if members := env.hub.Registry().Members("lobby"); len(members) != 3 {
		t.Fatalf("rate limited connection should stay in the room, members %v", members)
	}
}

func TestWebSocketRefusedDuringShutdown(t *testing.T) {
	env := startTestServer(t, nil)

	env.stopHub()
	<-env.hub.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, env.wsURL())
	_, _, err := conn.Read(ctx)
	if status := websocket.CloseStatus(err); status != websocket.StatusGoingAway {
		t.Fatalf("expected going away, got %v (%v)", status, err)
	}
}
