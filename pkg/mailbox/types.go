// Package mailbox implements Connect's user/mailbox model: registering a
// named mailbox on the local filesystem, subscribing it to a live inbox,
// and delivering/reading messages. Ported from original_source's
// voice_mode/connect/{types,users,messaging}.py.
package mailbox

import "time"

// Presence is a mailbox's reachability state.
type Presence string

const (
	Available Presence = "available"
	Online    Presence = "online"
	Offline   Presence = "offline"
)

// User is a registered Connect mailbox.
type User struct {
	Name           string
	DisplayName    string
	Host           string
	Presence       Presence
	SubscribedTeam string // empty if not subscribed
	Created        time.Time
	LastSeen       time.Time
}

// Address returns the full mailbox@host address.
func (u User) Address() string {
	if u.Host == "" {
		return u.Name
	}
	return u.Name + "@" + u.Host
}

// Message is one delivered or stored inbox entry.
type Message struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Delivered bool      `json:"delivered"`
	Type      string    `json:"type,omitempty"`
}
