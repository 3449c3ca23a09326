package mailbox

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDeliverMessagePersistentInbox(t *testing.T) {
	dir := t.TempDir()

	msg, err := DeliverMessage(dir, "hello", "user", "dashboard", "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Delivered {
		t.Error("expected delivered=false with no inbox-live symlink")
	}

	data, err := os.ReadFile(filepath.Join(dir, "inbox"))
	if err != nil {
		t.Fatalf("expected inbox file to exist: %v", err)
	}

	var got Message
	if err := json.Unmarshal(data[:len(data)-1], &got); err != nil {
		t.Fatalf("unexpected unmarshal error: %v", err)
	}
	if got.Text != "hello" || got.ID != msg.ID {
		t.Errorf("unexpected persisted message: %+v", got)
	}
}

func TestDeliverMessageLiveInboxAtomicWrite(t *testing.T) {
	dir := t.TempDir()
	targetDir := filepath.Join(dir, "team-inboxes")
	os.MkdirAll(targetDir, 0o755)
	target := filepath.Join(targetDir, "team-lead.json")

	link := filepath.Join(dir, "inbox-live")
	if err := os.Symlink(target, link); err != nil {
		t.Fatalf("unexpected error creating symlink: %v", err)
	}

	msg, err := DeliverMessage(dir, "live hello", "user", "dashboard", "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !msg.Delivered {
		t.Fatal("expected delivered=true with valid inbox-live symlink")
	}

	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("expected live inbox file written: %v", err)
	}
	var entries []claudeInboxMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("unexpected unmarshal error: %v", err)
	}
	if len(entries) != 1 || entries[0].Text != "live hello" {
		t.Fatalf("unexpected live inbox contents: %+v", entries)
	}

	if _, err := os.Stat(target + ".tmp"); !os.IsNotExist(err) {
		t.Fatal("expected temp file to be renamed away, not left behind")
	}
}

func TestDeliverMessageAppendsDeliveryConfirmationWhenDelivered(t *testing.T) {
	dir := t.TempDir()
	targetDir := filepath.Join(dir, "team-inboxes")
	os.MkdirAll(targetDir, 0o755)
	target := filepath.Join(targetDir, "team-lead.json")
	link := filepath.Join(dir, "inbox-live")
	if err := os.Symlink(target, link); err != nil {
		t.Fatalf("unexpected error creating symlink: %v", err)
	}

	msg, err := DeliverMessage(dir, "live hello", "user", "dashboard", "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !msg.Delivered {
		t.Fatal("expected delivered=true with valid inbox-live symlink")
	}

	data, err := os.ReadFile(filepath.Join(dir, "inbox"))
	if err != nil {
		t.Fatalf("expected persistent inbox file to exist: %v", err)
	}
	lines := splitLines(string(data))
	if len(lines) != 2 {
		t.Fatalf("expected 2 persistent-inbox lines after delivery, got %d: %q", len(lines), lines)
	}

	var confirmation deliveryConfirmation
	if err := json.Unmarshal([]byte(lines[1]), &confirmation); err != nil {
		t.Fatalf("unexpected unmarshal error: %v", err)
	}
	if confirmation.Type != "delivery_confirmation" || confirmation.MessageID != msg.ID || !confirmation.Delivered {
		t.Errorf("unexpected delivery confirmation: %+v", confirmation)
	}
}

func TestDeliverMessageSkipsDeliveryConfirmationWhenNotDelivered(t *testing.T) {
	dir := t.TempDir()

	msg, err := DeliverMessage(dir, "hello", "user", "dashboard", "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Delivered {
		t.Fatal("expected delivered=false with no inbox-live symlink")
	}

	data, err := os.ReadFile(filepath.Join(dir, "inbox"))
	if err != nil {
		t.Fatalf("expected persistent inbox file to exist: %v", err)
	}
	lines := splitLines(string(data))
	if len(lines) != 1 {
		t.Fatalf("expected exactly 1 persistent-inbox line when not delivered, got %d: %q", len(lines), lines)
	}
}

func TestReadInboxSkipsDeliveryConfirmationsAndMalformed(t *testing.T) {
	dir := t.TempDir()
	inbox := filepath.Join(dir, "inbox")

	lines := []string{
		`{"id":"1","from":"user","text":"hi","timestamp":"2026-01-01T00:00:00Z","source":"dashboard"}`,
		`not json`,
		`{"type":"delivery_confirmation","message_id":"1"}`,
		`{"id":"2","from":"user","text":"bye","timestamp":"2026-01-01T00:01:00Z","source":"dashboard"}`,
	}
	os.WriteFile(inbox, []byte(joinLines(lines)), 0o644)

	messages, err := ReadInbox(dir, nil, 100, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d: %+v", len(messages), messages)
	}
	if messages[0].Text != "hi" || messages[1].Text != "bye" {
		t.Errorf("unexpected message order/content: %+v", messages)
	}
}

func TestReadInboxRespectsLimit(t *testing.T) {
	dir := t.TempDir()
	inbox := filepath.Join(dir, "inbox")
	lines := []string{
		`{"id":"1","from":"user","text":"a","timestamp":"2026-01-01T00:00:00Z"}`,
		`{"id":"2","from":"user","text":"b","timestamp":"2026-01-01T00:01:00Z"}`,
		`{"id":"3","from":"user","text":"c","timestamp":"2026-01-01T00:02:00Z"}`,
	}
	os.WriteFile(inbox, []byte(joinLines(lines)), 0o644)

	messages, err := ReadInbox(dir, nil, 2, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(messages) != 2 || messages[0].Text != "b" || messages[1].Text != "c" {
		t.Fatalf("expected last 2 messages [b,c], got %+v", messages)
	}
}

func joinLines(lines []string) string {
	out := ""
	for _, l := range lines {
		out += l + "\n"
	}
	return out
}

func splitLines(s string) []string {
	var out []string
	for _, l := range strings.Split(strings.TrimRight(s, "\n"), "\n") {
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}
