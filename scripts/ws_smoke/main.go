package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/roomrelay/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

// run joins a listener and a speaker to one room and checks the listener
// receives the speaker's message.
func run() error {
	base := flag.String("base", "http://localhost:8080", "server base URL")
	room := flag.String("room", "general", "room name")
	password := flag.String("password", "", "room password, if the room is protected")
	text := flag.String("text", "hello from smoke test", "message text to send")
	settle := flag.Duration("settle", 200*time.Millisecond, "pause after logins before sending")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	listener, err := join(ctx, *base, *room, *password, "smoke-listener")
	if err != nil {
		return err
	}
	defer listener.Close(websocket.StatusNormalClosure, "bye")

	speaker, err := join(ctx, *base, *room, *password, "smoke-speaker")
	if err != nil {
		return err
	}
	defer speaker.Close(websocket.StatusNormalClosure, "bye")

	time.Sleep(*settle)
	if err := wsjson.Write(ctx, speaker, proto.ChatData{Msg: *text}); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	// History from earlier runs may arrive first.
	for {
		var outbound proto.Outbound
		if err := wsjson.Read(ctx, listener, &outbound); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		fmt.Printf("Received: user=%s msg=%q\n", outbound.UserName, outbound.Msg)
		if outbound.UserName == "smoke-speaker" && outbound.Msg == *text {
			return nil
		}
	}
}

func join(ctx context.Context, base, room, password, name string) (*websocket.Conn, error) {
	token, err := fetchToken(ctx, base, room, password)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.Dial(ctx, strings.Replace(base, "http", "ws", 1)+"/ws", nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	if err := wsjson.Write(ctx, conn, proto.LoginData{RoomName: room, Token: token, Name: name}); err != nil {
		conn.Close(websocket.StatusInternalError, "login failed")
		return nil, fmt.Errorf("send login: %w", err)
	}
	return conn, nil
}

func fetchToken(ctx context.Context, base, room, password string) (string, error) {
	body := map[string]any{"room_name": room}
	if password != "" {
		body["password"] = password
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/login", bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("login request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login refused: %s", resp.Status)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode login response: %w", err)
	}
	return out.Token, nil
}
