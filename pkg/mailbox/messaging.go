package mailbox

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/voicemode/voicemode/pkg/errs"
	"github.com/voicemode/voicemode/pkg/vmlog"
)

// DeliverMessage appends text to userDir's persistent inbox (must succeed;
// failure is returned, never swallowed) and, if an inbox-live symlink
// exists, best-effort mirrors it into the live Claude-team inbox. Unlike
// original_source's messaging.py (which reads-modifies-writes the live
// inbox file directly), the live write here goes through a temp-file+rename
// so a crash mid-write can never leave a half-written JSON array, per
// spec.md §4.9/§7's stricter atomicity requirement for the live path.
func DeliverMessage(userDir, text, sender, source, messageID string, logger vmlog.Logger) (Message, error) {
	logger = vmlog.OrDefault(logger)

	if messageID == "" {
		messageID = "msg_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	}
	now := time.Now().UTC()
	msg := Message{ID: messageID, From: sender, Text: text, Timestamp: now, Source: source}

	if err := appendPersistentInbox(filepath.Join(userDir, "inbox"), msg); err != nil {
		return msg, err
	}

	delivered := false
	link := filepath.Join(userDir, "inbox-live")
	if fi, err := os.Lstat(link); err == nil && fi.Mode()&os.ModeSymlink != 0 {
		ok, err := writeLiveInboxAtomic(link, text, sender, now)
		if err != nil {
			logger.Warn("mailbox: live inbox delivery failed", "error", err)
		}
		delivered = ok
	}

	if delivered {
		if err := appendDeliveryConfirmation(filepath.Join(userDir, "inbox"), messageID); err != nil {
			logger.Warn("mailbox: failed to append delivery confirmation", "error", err)
		}
	}

	msg.Delivered = delivered
	return msg, nil
}

// deliveryConfirmation is the second JSONL line appended to the persistent
// inbox once a message is actually delivered into the live inbox, per
// spec.md §4.9 step 5. ReadInbox filters these back out by "type".
type deliveryConfirmation struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	Delivered bool   `json:"delivered"`
}

func appendDeliveryConfirmation(inboxPath, messageID string) error {
	f, err := os.OpenFile(inboxPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return &errs.MailboxError{Kind: errs.MailboxKindIO, Err: err}
	}
	defer f.Close()

	enc, err := json.Marshal(deliveryConfirmation{Type: "delivery_confirmation", MessageID: messageID, Delivered: true})
	if err != nil {
		return &errs.MailboxError{Kind: errs.MailboxKindParse, Err: err}
	}
	if _, err := f.Write(append(enc, '\n')); err != nil {
		return &errs.MailboxError{Kind: errs.MailboxKindIO, Err: err}
	}
	return nil
}

func appendPersistentInbox(inboxPath string, msg Message) error {
	if err := os.MkdirAll(filepath.Dir(inboxPath), 0o755); err != nil {
		return &errs.MailboxError{Kind: errs.MailboxKindIO, Err: err}
	}

	f, err := os.OpenFile(inboxPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return &errs.MailboxError{Kind: errs.MailboxKindIO, Err: err}
	}
	defer f.Close()

	enc, err := json.Marshal(msg)
	if err != nil {
		return &errs.MailboxError{Kind: errs.MailboxKindParse, Err: err}
	}
	if _, err := f.Write(append(enc, '\n')); err != nil {
		return &errs.MailboxError{Kind: errs.MailboxKindIO, Err: err}
	}
	return nil
}

type claudeInboxMessage struct {
	From      string `json:"from"`
	Text      string `json:"text"`
	Summary   string `json:"summary"`
	Timestamp string `json:"timestamp"`
	Read      bool   `json:"read"`
}

// writeLiveInboxAtomic resolves the inbox-live symlink, reads the existing
// JSON array of Claude-team-inbox messages (tolerating a missing or
// malformed file), appends the new message, and writes the result back via
// a temp file + rename so readers never observe a partially written file.
func writeLiveInboxAtomic(symlinkPath, text, sender string, timestamp time.Time) (bool, error) {
	target, err := filepath.EvalSymlinks(symlinkPath)
	if err != nil {
		// Symlink may point at a not-yet-existing file; fall back to the raw target.
		raw, readErr := os.Readlink(symlinkPath)
		if readErr != nil {
			return false, nil
		}
		if !filepath.IsAbs(raw) {
			raw = filepath.Join(filepath.Dir(symlinkPath), raw)
		}
		target = raw
	}

	if _, err := os.Stat(filepath.Dir(target)); err != nil {
		return false, nil
	}

	var existing []claudeInboxMessage
	if data, err := os.ReadFile(target); err == nil && len(strings.TrimSpace(string(data))) > 0 {
		_ = json.Unmarshal(data, &existing) // malformed file -> start fresh, matches original's tolerance
	}

	summary := text
	if len(summary) > 50 {
		summary = summary[:50]
	}
	existing = append(existing, claudeInboxMessage{From: sender, Text: text, Summary: summary, Timestamp: timestamp.Format(time.RFC3339), Read: false})

	enc, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		return false, err
	}
	enc = append(enc, '\n')

	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, enc, 0o644); err != nil {
		return false, err
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return false, err
	}
	return true, nil
}

// ReadInbox reads a mailbox's persistent inbox, skipping malformed lines and
// delivery_confirmation entries, optionally filtering by since, and
// returning at most limit messages in chronological order.
func ReadInbox(userDir string, since *time.Time, limit int, logger vmlog.Logger) ([]Message, error) {
	logger = vmlog.OrDefault(logger)
	inboxPath := filepath.Join(userDir, "inbox")

	f, err := os.Open(inboxPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &errs.MailboxError{Kind: errs.MailboxKindIO, Err: err}
	}
	defer f.Close()

	var messages []Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var raw map[string]interface{}
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			logger.Warn("mailbox: skipping malformed inbox line", "line", truncate(line, 80))
			continue
		}
		if t, _ := raw["type"].(string); t == "delivery_confirmation" {
			continue
		}

		var msg Message
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			logger.Warn("mailbox: skipping malformed inbox line", "line", truncate(line, 80))
			continue
		}
		if since != nil && !msg.Timestamp.After(*since) {
			continue
		}
		messages = append(messages, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, &errs.MailboxError{Kind: errs.MailboxKindIO, Err: err}
	}

	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return messages, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
