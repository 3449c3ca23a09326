package connect

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/voicemode/voicemode/pkg/mailbox"
)

func staticToken(ctx context.Context) (string, bool, error) {
	return "tok-123", true, nil
}

func TestClientHandshakeAndCapabilitiesUpdate(t *testing.T) {
	dir := t.TempDir()
	users := mailbox.NewUserManager("local", filepath.Join(dir, "users"), filepath.Join(dir, "teams"), nil)
	if _, err := users.Add("cora", "Cora 7", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	gotCapabilities := make(chan map[string]interface{}, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "closing")
		ctx := r.Context()

		wsjson.Write(ctx, conn, map[string]interface{}{"type": "connected", "sessionId": "session-abcdefghijklmnop"})

		var ready map[string]interface{}
		if err := wsjson.Read(ctx, conn, &ready); err != nil {
			return
		}
		if ready["type"] != "ready" {
			t.Errorf("expected ready frame, got %v", ready["type"])
		}

		var caps map[string]interface{}
		if err := wsjson.Read(ctx, conn, &caps); err == nil {
			gotCapabilities <- caps
		}

		// Keep the connection open briefly so the client's receive loop has
		// something to read without immediately erroring.
		wsjson.Read(ctx, conn, &caps)
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"

	client := NewClient(Config{WSURL: wsURL, Device: DeviceInfo{Platform: "mcp-server", Name: "test"}}, users, staticToken, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go client.Run(ctx)

	deadline := time.After(1500 * time.Millisecond)
	for !client.IsConnected() {
		select {
		case <-deadline:
			t.Fatal("client never reached connected state")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if err := client.SendCapabilitiesUpdate(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case caps := <-gotCapabilities:
		if caps["type"] != "capabilities_update" {
			t.Errorf("expected capabilities_update, got %v", caps["type"])
		}
		usersField, ok := caps["users"].([]interface{})
		if !ok || len(usersField) != 1 {
			t.Fatalf("expected 1 user in capabilities_update, got %v", caps["users"])
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for capabilities_update")
	}
}

func TestDeviceInfoHelpers(t *testing.T) {
	d := RemoteDevice{Platform: "ios", Capabilities: map[string]bool{"tts": true, "mic": true}}
	if d.DisplayName() != "Ios" {
		t.Errorf("expected capitalized platform fallback, got %s", d.DisplayName())
	}
	if d.CapabilitiesStr() != "TTS+Mic" {
		t.Errorf("expected TTS+Mic, got %s", d.CapabilitiesStr())
	}
	if d.ActivityAgo() != "unknown" {
		t.Errorf("expected unknown for zero LastActivity, got %s", d.ActivityAgo())
	}

	recent := RemoteDevice{LastActivity: time.Now().UnixMilli()}
	if recent.ActivityAgo() != "just now" {
		t.Errorf("expected just now, got %s", recent.ActivityAgo())
	}
}
