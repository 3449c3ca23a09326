// Package connect implements the WebSocket client for the VoiceMode Connect
// gateway: persistent connection with auto-reconnect, heartbeat, and message
// routing into user mailboxes. Ported from original_source's
// voice_mode/connect/client.py.
package connect

import (
	"fmt"
	"strings"
	"time"
)

// State is the client's WebSocket connection state.
type State string

const (
	Disconnected State = "disconnected"
	Connecting   State = "connecting"
	Connected    State = "connected"
	Reconnecting State = "reconnecting"
)

// DeviceInfo is this process's own device registration, sent in the "ready"
// frame.
type DeviceInfo struct {
	Platform     string
	AppVersion   string
	DeviceID     string
	Name         string
	Capabilities map[string]bool
}

// RemoteDevice is another device connected to the gateway, received in
// "devices" frames. Maps voicemode-connect's ConnectionInfo.
type RemoteDevice struct {
	SessionID    string
	DeviceID     string
	Platform     string
	Name         string
	Capabilities map[string]bool
	Ready        bool
	ConnectedAt  int64 // ms since epoch
	LastActivity int64 // ms since epoch
}

// DisplayName returns a human-readable device name.
func (d RemoteDevice) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	if d.Platform != "" {
		return capitalize(d.Platform)
	}
	id := d.SessionID
	if len(id) > 8 {
		id = id[:8]
	}
	return "Device " + id
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// CapabilitiesStr returns a short summary like "TTS+STT".
func (d RemoteDevice) CapabilitiesStr() string {
	var parts []string
	if d.Capabilities["tts"] {
		parts = append(parts, "TTS")
	}
	if d.Capabilities["stt"] {
		parts = append(parts, "STT")
	}
	if d.Capabilities["mic"] {
		parts = append(parts, "Mic")
	}
	if d.Capabilities["speaker"] {
		parts = append(parts, "Speaker")
	}
	if len(parts) == 0 {
		return "none"
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out += "+" + p
	}
	return out
}

// ActivityAgo reports how long ago the device was last active.
func (d RemoteDevice) ActivityAgo() string {
	if d.LastActivity == 0 {
		return "unknown"
	}
	since := time.Since(time.UnixMilli(d.LastActivity))
	if since < time.Minute {
		return "just now"
	}
	if since < time.Hour {
		return fmt.Sprintf("%dm ago", int(since/time.Minute))
	}
	if since < 24*time.Hour {
		return fmt.Sprintf("%dh ago", int(since/time.Hour))
	}
	return fmt.Sprintf("%dd ago", int(since/(24*time.Hour)))
}
