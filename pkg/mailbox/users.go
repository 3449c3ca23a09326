package mailbox

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/voicemode/voicemode/pkg/errs"
	"github.com/voicemode/voicemode/pkg/vmlog"
)

type meta struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Created     string `json:"created"`
	LastSeen    string `json:"last_seen"`
	Host        string `json:"host"`
}

// UserManager manages Connect mailboxes on the local filesystem, grounded
// on original_source's UserManager (users.py).
type UserManager struct {
	host     string
	usersDir string
	teamsDir string // where subscribe() symlinks point, e.g. ~/.claude/teams
	logger   vmlog.Logger
}

// NewUserManager builds a manager rooted at usersDir ($BASE_DIR/connect/users)
// with team symlinks resolved under teamsDir.
func NewUserManager(host, usersDir, teamsDir string, logger vmlog.Logger) *UserManager {
	return &UserManager{host: host, usersDir: usersDir, teamsDir: teamsDir, logger: vmlog.OrDefault(logger)}
}

func (m *UserManager) userDir(name string) string {
	return filepath.Join(m.usersDir, name)
}

// UserDir returns the filesystem directory backing a mailbox, for callers
// (e.g. pkg/connect) that need to read or write inbox files directly.
func (m *UserManager) UserDir(name string) string {
	return m.userDir(name)
}

// Add registers a mailbox, creating its directory, meta.json, and an empty
// inbox file. If subscribeTeam is non-empty it also subscribes the user.
func (m *UserManager) Add(name, displayName, subscribeTeam string) (User, error) {
	dir := m.userDir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return User{}, &errs.MailboxError{Kind: errs.MailboxKindIO, Err: err}
	}

	now := time.Now().UTC()
	md := meta{Name: name, DisplayName: displayName, Created: now.Format(time.RFC3339), LastSeen: now.Format(time.RFC3339), Host: m.host}
	if err := writeMetaFile(dir, md); err != nil {
		return User{}, err
	}

	inboxPath := filepath.Join(dir, "inbox")
	if _, err := os.Stat(inboxPath); os.IsNotExist(err) {
		if err := os.WriteFile(inboxPath, nil, 0o644); err != nil {
			return User{}, &errs.MailboxError{Kind: errs.MailboxKindIO, Err: err}
		}
	}

	user := User{Name: name, DisplayName: displayName, Host: m.host, Presence: Offline, Created: now, LastSeen: now}

	if subscribeTeam != "" {
		if _, err := m.Subscribe(name, subscribeTeam); err != nil {
			return user, err
		}
		user.SubscribedTeam = subscribeTeam
	}

	m.logger.Info("mailbox: added user", "name", name, "host", m.host)
	return user, nil
}

func writeMetaFile(dir string, md meta) error {
	enc, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return &errs.MailboxError{Kind: errs.MailboxKindParse, Err: err}
	}
	if err := os.WriteFile(filepath.Join(dir, "meta.json"), append(enc, '\n'), 0o644); err != nil {
		return &errs.MailboxError{Kind: errs.MailboxKindIO, Err: err}
	}
	return nil
}

// Remove deletes a mailbox's directory (after unsubscribing it). Returns
// false if the mailbox did not exist.
func (m *UserManager) Remove(name string) (bool, error) {
	dir := m.userDir(name)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return false, nil
	}

	m.Unsubscribe(name)

	if err := os.RemoveAll(dir); err != nil {
		return false, &errs.MailboxError{Kind: errs.MailboxKindIO, Err: err}
	}
	m.logger.Info("mailbox: removed user", "name", name)
	return true, nil
}

// List returns every registered mailbox, sorted by name.
func (m *UserManager) List() ([]User, error) {
	entries, err := os.ReadDir(m.usersDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &errs.MailboxError{Kind: errs.MailboxKindIO, Err: err}
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var users []User
	for _, name := range names {
		u, err := m.Get(name)
		if err != nil {
			return nil, err
		}
		if u != nil {
			users = append(users, *u)
		}
	}
	return users, nil
}

// Get returns a mailbox's info, or nil if it isn't registered.
func (m *UserManager) Get(name string) (*User, error) {
	dir := m.userDir(name)
	data, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &errs.MailboxError{Kind: errs.MailboxKindIO, Err: err}
	}

	var md meta
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, &errs.MailboxError{Kind: errs.MailboxKindParse, Err: err}
	}

	user := User{Name: md.Name, DisplayName: md.DisplayName, Host: md.Host, Presence: Offline}
	if md.Created != "" {
		if t, err := time.Parse(time.RFC3339, md.Created); err == nil {
			user.Created = t
		}
	}
	if md.LastSeen != "" {
		if t, err := time.Parse(time.RFC3339, md.LastSeen); err == nil {
			user.LastSeen = t
		}
	}

	if target, ok := m.symlinkTarget(name); ok {
		user.SubscribedTeam = teamFromTarget(target)
	}
	return &user, nil
}

func teamFromTarget(target string) string {
	parts := strings.Split(filepath.ToSlash(target), "/")
	for i, p := range parts {
		if p == "teams" && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}

func (m *UserManager) symlinkPath(name string) string {
	return filepath.Join(m.userDir(name), "inbox-live")
}

func (m *UserManager) symlinkTarget(name string) (string, bool) {
	link := m.symlinkPath(name)
	fi, err := os.Lstat(link)
	if err != nil || fi.Mode()&os.ModeSymlink == 0 {
		return "", false
	}
	target, err := os.Readlink(link)
	if err != nil {
		return "", false
	}
	return target, true
}

// Subscribe creates (or repairs) the inbox-live symlink pointing at the
// team's Claude inbox file. Handles a stale symlink by replacing it and an
// unexpected non-symlink file by renaming it aside, matching
// original_source's rename-to-stale pattern.
func (m *UserManager) Subscribe(name, teamName string) (string, error) {
	dir := m.userDir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &errs.MailboxError{Kind: errs.MailboxKindIO, Err: err}
	}

	link := filepath.Join(dir, "inbox-live")
	target := filepath.Join(m.teamsDir, teamName, "inboxes", "team-lead.json")
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", &errs.MailboxError{Kind: errs.MailboxKindIO, Err: err}
	}

	if fi, err := os.Lstat(link); err == nil {
		if fi.Mode()&os.ModeSymlink != 0 {
			current, _ := os.Readlink(link)
			if current == target {
				return link, nil
			}
			m.logger.Info("mailbox: updating stale inbox-live symlink", "name", name)
			if err := os.Remove(link); err != nil {
				return "", &errs.MailboxError{Kind: errs.MailboxKindSymlink, Err: err}
			}
		} else {
			stale := filepath.Join(dir, fmt.Sprintf("inbox-live.stale-%d", time.Now().Unix()))
			m.logger.Warn("mailbox: unexpected file at inbox-live, renaming aside", "name", name, "renamed_to", stale)
			if err := os.Rename(link, stale); err != nil {
				return "", &errs.MailboxError{Kind: errs.MailboxKindSymlink, Err: err}
			}
		}
	}

	if err := os.Symlink(target, link); err != nil {
		return "", &errs.MailboxError{Kind: errs.MailboxKindSymlink, Err: err}
	}
	m.logger.Info("mailbox: subscribed user to team", "name", name, "team", teamName)
	return link, nil
}

// Unsubscribe removes the inbox-live symlink, if present.
func (m *UserManager) Unsubscribe(name string) (bool, error) {
	link := m.symlinkPath(name)
	fi, err := os.Lstat(link)
	if err != nil {
		return false, nil
	}
	if fi.Mode()&os.ModeSymlink == 0 {
		return false, nil
	}
	if err := os.Remove(link); err != nil {
		return false, &errs.MailboxError{Kind: errs.MailboxKindSymlink, Err: err}
	}
	m.logger.Info("mailbox: unsubscribed user", "name", name)
	return true, nil
}

// IsSubscribed reports whether name has an active (non-stale) inbox-live
// symlink: the symlink must exist and its target's parent directory must
// exist.
func (m *UserManager) IsSubscribed(name string) bool {
	target, ok := m.symlinkTarget(name)
	if !ok {
		return false
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(m.symlinkPath(name)), target)
	}
	_, err := os.Stat(filepath.Dir(target))
	return err == nil
}

// GetPresence computes a mailbox's presence: Offline if unregistered,
// Available if subscribed, Online otherwise.
func (m *UserManager) GetPresence(name string) Presence {
	if _, err := os.Stat(m.userDir(name)); err != nil {
		return Offline
	}
	if m.IsSubscribed(name) {
		return Available
	}
	return Online
}

// SnapshotEntry is one mailbox's watched state, used by pkg/watcher to
// detect changes between polls.
type SnapshotEntry struct {
	DisplayName   string
	SymlinkTarget string
	Subscribed    bool
}

// Snapshot captures every mailbox's display name, symlink target, and
// subscription state for diffing by the watcher.
func (m *UserManager) Snapshot() (map[string]SnapshotEntry, error) {
	users, err := m.List()
	if err != nil {
		return nil, err
	}

	state := make(map[string]SnapshotEntry, len(users))
	for _, u := range users {
		target, _ := m.symlinkTarget(u.Name)
		state[u.Name] = SnapshotEntry{
			DisplayName:   u.DisplayName,
			SymlinkTarget: target,
			Subscribed:    u.SubscribedTeam != "",
		}
	}
	return state, nil
}
