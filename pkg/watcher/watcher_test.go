package watcher

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/voicemode/voicemode/pkg/mailbox"
)

func TestDiffSnapshotsEmptyWhenEqual(t *testing.T) {
	s := map[string]mailbox.SnapshotEntry{
		"cora": {DisplayName: "Cora", Subscribed: true},
	}
	if changes := DiffSnapshots(s, s); len(changes) != 0 {
		t.Fatalf("expected no changes for identical snapshots, got %+v", changes)
	}
}

func TestDiffSnapshotsDetectsAddedRemovedSubscribed(t *testing.T) {
	prev := map[string]mailbox.SnapshotEntry{
		"cora": {DisplayName: "Cora", Subscribed: false},
		"dex":  {DisplayName: "Dex", Subscribed: true},
	}
	curr := map[string]mailbox.SnapshotEntry{
		"cora": {DisplayName: "Cora", Subscribed: true},
		"finn": {DisplayName: "Finn", Subscribed: false},
	}

	changes := DiffSnapshots(prev, curr)

	want := []Change{
		{Type: Added, Name: "finn"},
		{Type: Removed, Name: "dex"},
		{Type: Subscribed, Name: "cora"},
	}
	if len(changes) != len(want) {
		t.Fatalf("expected %d changes, got %d: %+v", len(want), len(changes), changes)
	}
	for i, c := range changes {
		if c != want[i] {
			t.Errorf("change %d: got %+v, want %+v", i, c, want[i])
		}
	}
}

func TestDiffSnapshotsDetectsUnsubscribedAndChanged(t *testing.T) {
	prev := map[string]mailbox.SnapshotEntry{
		"cora": {DisplayName: "Cora", Subscribed: true},
		"dex":  {DisplayName: "Dex", SymlinkTarget: "/a", Subscribed: true},
	}
	curr := map[string]mailbox.SnapshotEntry{
		"cora": {DisplayName: "Cora", Subscribed: false},
		"dex":  {DisplayName: "Dex", SymlinkTarget: "/b", Subscribed: true},
	}

	changes := DiffSnapshots(prev, curr)
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %+v", changes)
	}
	if changes[0].Type != Unsubscribed || changes[0].Name != "cora" {
		t.Errorf("unexpected first change: %+v", changes[0])
	}
	if changes[1].Type != Changed || changes[1].Name != "dex" {
		t.Errorf("unexpected second change: %+v", changes[1])
	}
}

type fakeGateway struct {
	connected   bool
	updateCalls int
	updateErr   error
}

func (f *fakeGateway) IsConnected() bool { return f.connected }
func (f *fakeGateway) SendCapabilitiesUpdate(ctx context.Context) error {
	f.updateCalls++
	return f.updateErr
}

func TestWatchAnnouncesOnChange(t *testing.T) {
	dir := t.TempDir()
	m := mailbox.NewUserManager("local", filepath.Join(dir, "users"), filepath.Join(dir, "teams"), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw := &fakeGateway{connected: true}

	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, gw, m, 5*time.Millisecond, nil, nil)
	}()

	time.Sleep(10 * time.Millisecond)
	if _, err := m.Add("cora", "Cora", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.After(200 * time.Millisecond)
	for gw.updateCalls == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for capabilities update")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done
}
