package mailbox

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAddGetListRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := NewUserManager("local", filepath.Join(dir, "users"), filepath.Join(dir, "teams"), nil)

	if _, err := m.Add("cora", "Cora 7", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := m.Get("cora")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.Name != "cora" || got.DisplayName != "Cora 7" {
		t.Fatalf("unexpected user: %+v", got)
	}

	users, err := m.List()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(users) != 1 || users[0].Name != "cora" {
		t.Fatalf("expected one user 'cora', got %+v", users)
	}

	if got.Presence != Offline {
		t.Errorf("expected Presence zero value Offline, got %s", got.Presence)
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	dir := t.TempDir()
	m := NewUserManager("local", filepath.Join(dir, "users"), filepath.Join(dir, "teams"), nil)
	if _, err := m.Add("cora", "", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	link, err := m.Subscribe("cora", "myteam")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Lstat(link); err != nil {
		t.Fatalf("expected symlink to exist: %v", err)
	}

	if m.GetPresence("cora") != Available {
		t.Errorf("expected Available presence after subscribe, got %s", m.GetPresence("cora"))
	}

	ok, err := m.Unsubscribe("cora")
	if err != nil || !ok {
		t.Fatalf("expected successful unsubscribe, got ok=%v err=%v", ok, err)
	}
	if _, err := os.Lstat(link); !os.IsNotExist(err) {
		t.Fatalf("expected symlink removed, got err=%v", err)
	}
}

func TestRemoveNonexistentReturnsFalse(t *testing.T) {
	dir := t.TempDir()
	m := NewUserManager("local", filepath.Join(dir, "users"), filepath.Join(dir, "teams"), nil)

	ok, err := m.Remove("ghost")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected Remove of nonexistent user to return false")
	}
}

func TestSnapshotReflectsSubscription(t *testing.T) {
	dir := t.TempDir()
	m := NewUserManager("local", filepath.Join(dir, "users"), filepath.Join(dir, "teams"), nil)
	m.Add("cora", "Cora", "")

	before, err := m.Snapshot()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if before["cora"].Subscribed {
		t.Fatal("expected cora not subscribed before Subscribe")
	}

	m.Subscribe("cora", "myteam")
	after, err := m.Snapshot()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !after["cora"].Subscribed {
		t.Fatal("expected cora subscribed after Subscribe")
	}
}
