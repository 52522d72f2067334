package proto

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeInbound(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		want    Inbound
		wantErr error
	}{
		{
			name:  "flat chat",
			frame: `{"msg":"hi"}`,
			want:  Inbound{Kind: InboundChat, Chat: ChatData{Msg: "hi"}},
		},
		{
			name:  "flat login",
			frame: `{"room_name":"lobby","token":"T1","name":"alice"}`,
			want:  Inbound{Kind: InboundLogin, Login: LoginData{RoomName: "lobby", Token: "T1", Name: "alice"}},
		},
		{
			name:  "tagged chat",
			frame: `{"Message":{"msg":"yo"}}`,
			want:  Inbound{Kind: InboundChat, Chat: ChatData{Msg: "yo"}},
		},
		{
			name:  "tagged login",
			frame: `{"Login":{"room_name":"lobby","token":"T1","name":"bob"}}`,
			want:  Inbound{Kind: InboundLogin, Login: LoginData{RoomName: "lobby", Token: "T1", Name: "bob"}},
		},
		{
			name:  "empty chat text is still a chat",
			frame: `{"msg":""}`,
			want:  Inbound{Kind: InboundChat},
		},
		{
			name:    "login missing token",
			frame:   `{"room_name":"lobby","name":"alice"}`,
			wantErr: ErrIncompleteLogin,
		},
		{
			name:    "unknown shape",
			frame:   `{"hello":"world"}`,
			wantErr: ErrUnknownFrame,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeInbound([]byte(tt.frame))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDecodeInboundRejectsGarbage(t *testing.T) {
	if _, err := DecodeInbound([]byte("not json")); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestEncodeOutboundShape(t *testing.T) {
	data, err := EncodeOutbound("alice", "hi")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var fields map[string]string
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(fields) != 2 || fields["user_name"] != "alice" || fields["msg"] != "hi" {
		t.Fatalf("unexpected outbound frame: %s", data)
	}
}
