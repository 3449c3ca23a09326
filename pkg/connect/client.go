package connect

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/voicemode/voicemode/pkg/errs"
	"github.com/voicemode/voicemode/pkg/mailbox"
	"github.com/voicemode/voicemode/pkg/vmlog"
)

// TokenFunc returns a fresh access token for each connection attempt,
// refreshing stored credentials as needed. Returns ok=false (no error) when
// no credentials are configured at all.
type TokenFunc func(ctx context.Context) (token string, ok bool, err error)

// Config configures a Client's gateway connection and identity.
type Config struct {
	WSURL              string
	Device             DeviceInfo
	PreconfiguredUsers []string
	HeartbeatInterval  time.Duration
	MinRetryDelay      time.Duration
	MaxRetryDelay      time.Duration
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.MinRetryDelay == 0 {
		c.MinRetryDelay = time.Second
	}
	if c.MaxRetryDelay == 0 {
		c.MaxRetryDelay = 60 * time.Second
	}
	return c
}

// Client is a persistent WebSocket client for the VoiceMode Connect gateway:
// auth, connect, heartbeat, receive, with auto-reconnect and exponential
// backoff. Ported from original_source's ConnectClient.
type Client struct {
	cfg    Config
	users  *mailbox.UserManager
	token  TokenFunc
	logger vmlog.Logger

	mu             sync.Mutex
	state          State
	conn           *websocket.Conn
	sessionID      string
	devices        []RemoteDevice
	statusMessage  string
	reconnectCount int
	primaryUser    string // name of the user registered by this process, "" if none

	writeMu sync.Mutex // serializes writes to conn; coder/websocket forbids concurrent writers
}

// writeJSON serializes a write to conn behind writeMu; heartbeat,
// capabilities_update, and delivery_confirmation can all fire concurrently
// on the same connection.
func (c *Client) writeJSON(ctx context.Context, conn *websocket.Conn, v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsjson.Write(ctx, conn, v)
}

// NewClient builds a Client. token is called fresh on every connection
// attempt so a refreshed credential is always used.
func NewClient(cfg Config, users *mailbox.UserManager, token TokenFunc, logger vmlog.Logger) *Client {
	return &Client{
		cfg:    cfg.withDefaults(),
		users:  users,
		token:  token,
		logger: vmlog.OrDefault(logger),
		state:  Disconnected,
	}
}

// IsConnected reports whether the client currently holds a live connection.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == Connected
}

// IsConnecting reports whether a connection attempt is in progress.
func (c *Client) IsConnecting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == Connecting
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Devices returns a snapshot of remote devices currently connected.
func (c *Client) Devices() []RemoteDevice {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]RemoteDevice, len(c.devices))
	copy(out, c.devices)
	return out
}

// StatusMessage returns a human-readable connection status.
func (c *Client) StatusMessage() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.statusMessage != "" {
		return c.statusMessage
	}
	if c.state == Connected {
		return "Connected"
	}
	return "Not initialized"
}

// RegisterUser scopes this process's capabilities_update to name and sends
// an immediate update if already connected.
func (c *Client) RegisterUser(ctx context.Context, name string) error {
	c.mu.Lock()
	c.primaryUser = name
	connected := c.state == Connected
	c.mu.Unlock()

	if connected {
		return c.SendCapabilitiesUpdate(ctx)
	}
	c.logger.Info("connect: user registration queued, will send on connect", "name", name)
	return nil
}

// SendCapabilitiesUpdate announces this process's users to the gateway,
// scoped to the primary user if set, else preconfigured users, else every
// registered mailbox.
func (c *Client) SendCapabilitiesUpdate(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == Connected
	primary := c.primaryUser
	c.mu.Unlock()

	if conn == nil || !connected {
		return nil
	}

	var names []string
	switch {
	case primary != "":
		names = []string{primary}
	case len(c.cfg.PreconfiguredUsers) > 0:
		names = c.cfg.PreconfiguredUsers
	default:
		users, err := c.users.List()
		if err != nil {
			return &errs.ConnectError{Kind: errs.ConnectKindProtocol, Err: err}
		}
		for _, u := range users {
			names = append(names, u.Name)
		}
	}

	entries := make([]map[string]string, 0, len(names))
	for _, name := range names {
		u, err := c.users.Get(name)
		if err != nil || u == nil {
			continue
		}
		entries = append(entries, map[string]string{
			"name":         u.Name,
			"host":         u.Host,
			"display_name": u.DisplayName,
			"presence":     string(c.users.GetPresence(u.Name)),
		})
	}

	msg := map[string]interface{}{
		"type":     "capabilities_update",
		"users":    entries,
		"platform": "claude-code",
	}

	if err := c.writeJSON(ctx, conn, msg); err != nil {
		c.logger.Warn("connect: failed to send capabilities_update", "error", err)
		return &errs.ConnectError{Kind: errs.ConnectKindTransport, Err: err}
	}
	c.logger.Info("connect: capabilities_update sent", "user_count", len(entries))
	return nil
}

// Run drives the connection loop: dial, handshake, heartbeat, receive,
// reconnecting with exponential backoff on any failure. Blocks until ctx is
// cancelled, at which point it returns ctx.Err() after closing the socket.
func (c *Client) Run(ctx context.Context) error {
	retryDelay := c.cfg.MinRetryDelay

	for {
		if ctx.Err() != nil {
			c.setState(Disconnected, "Shut down")
			return ctx.Err()
		}

		c.setState(Connecting, "Connecting...")

		conn, err := c.dial(ctx)
		if err != nil {
			c.mu.Lock()
			c.reconnectCount++
			attempt := c.reconnectCount
			c.mu.Unlock()
			c.setState(Reconnecting, fmt.Sprintf("Reconnecting (attempt %d)", attempt))
			c.logger.Debug("connect: connection error, retrying", "error", err, "delay", retryDelay)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryDelay):
			}
			retryDelay = backoff(retryDelay, c.cfg.MaxRetryDelay)
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.state = Connected
		c.statusMessage = "Connected"
		c.reconnectCount = 0
		c.mu.Unlock()
		retryDelay = c.cfg.MinRetryDelay

		err = c.runSession(ctx, conn)

		c.mu.Lock()
		c.conn = nil
		c.devices = nil
		c.mu.Unlock()

		if ctx.Err() != nil {
			c.setState(Disconnected, "Shut down")
			return ctx.Err()
		}

		c.mu.Lock()
		c.reconnectCount++
		attempt := c.reconnectCount
		c.mu.Unlock()
		c.setState(Reconnecting, fmt.Sprintf("Reconnecting (attempt %d)", attempt))
		c.logger.Debug("connect: session ended, retrying", "error", err, "delay", retryDelay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryDelay):
		}
		retryDelay = backoff(retryDelay, c.cfg.MaxRetryDelay)
	}
}

func backoff(current, maxDelay time.Duration) time.Duration {
	next := current * 2
	if next > maxDelay {
		return maxDelay
	}
	return next
}

func (c *Client) setState(s State, msg string) {
	c.mu.Lock()
	c.state = s
	c.statusMessage = msg
	c.mu.Unlock()
}

// dial authenticates, opens the socket, and completes the handshake
// (connected frame, ready frame). Existing users are re-registered by
// runSession once dial returns.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	token, ok, err := c.token(ctx)
	if err != nil {
		return nil, &errs.ConnectError{Kind: errs.ConnectKindAuth, Err: err}
	}
	if !ok {
		return nil, &errs.ConnectError{Kind: errs.ConnectKindAuth, Err: fmt.Errorf("no credentials available")}
	}

	wsURL := c.cfg.WSURL
	sep := "?"
	if strings.Contains(wsURL, "?") {
		sep = "&"
	}
	wsURL = wsURL + sep + "token=" + url.QueryEscape(token)

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, &errs.ConnectError{Kind: errs.ConnectKindTransport, Err: err}
	}

	var first map[string]interface{}
	if err := wsjson.Read(ctx, conn, &first); err != nil {
		conn.Close(websocket.StatusAbnormalClosure, "handshake failed")
		return nil, &errs.ConnectError{Kind: errs.ConnectKindProtocol, Err: err}
	}
	if t, _ := first["type"].(string); t == "connected" {
		sid, _ := first["sessionId"].(string)
		if len(sid) > 12 {
			sid = sid[:12]
		}
		c.mu.Lock()
		c.sessionID = sid
		c.mu.Unlock()
		c.logger.Info("connect: connected", "session", sid)
	} else {
		c.logger.Warn("connect: unexpected first message", "type", first["type"])
	}

	ready := map[string]interface{}{
		"type": "ready",
		"device": map[string]interface{}{
			"platform":   c.cfg.Device.Platform,
			"appVersion": c.cfg.Device.AppVersion,
			"deviceId":   c.cfg.Device.DeviceID,
			"name":       c.cfg.Device.Name,
		},
		"capabilities": map[string]bool{"tts": true, "stt": true},
	}
	if err := wsjson.Write(ctx, conn, ready); err != nil {
		conn.Close(websocket.StatusAbnormalClosure, "ready send failed")
		return nil, &errs.ConnectError{Kind: errs.ConnectKindTransport, Err: err}
	}

	return conn, nil
}

// runSession re-registers users, starts the heartbeat, and runs the receive
// loop until the connection drops or ctx is cancelled.
func (c *Client) runSession(ctx context.Context, conn *websocket.Conn) error {
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if users, err := c.users.List(); err == nil && len(users) > 0 {
		if err := c.SendCapabilitiesUpdate(ctx); err != nil {
			c.logger.Debug("connect: re-registration failed (non-fatal)", "error", err)
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.heartbeatLoop(sessionCtx, conn)
	}()
	defer wg.Wait()

	for {
		var raw map[string]interface{}
		if err := wsjson.Read(ctx, conn, &raw); err != nil {
			return err
		}
		c.handleMessage(ctx, raw)
	}
}

func (c *Client) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			msg := map[string]interface{}{
				"type":      "heartbeat",
				"timestamp": time.Now().UnixMilli(),
			}
			if err := c.writeJSON(ctx, conn, msg); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(ctx context.Context, msg map[string]interface{}) {
	msgType, _ := msg["type"].(string)

	switch msgType {
	case "devices":
		c.handleDevices(msg)
	case "heartbeat_ack", "heartbeat", "ack":
		// no-op
	case "error":
		errMsg, _ := msg["message"].(string)
		errCode, _ := msg["code"].(string)
		c.logger.Warn("connect: server error", "message", errMsg, "code", errCode)
	case "user_message_delivery":
		c.handleUserMessageDelivery(ctx, msg)
	default:
		c.logger.Debug("connect: unhandled message type", "type", msgType)
	}
}

func (c *Client) handleDevices(msg map[string]interface{}) {
	raw, _ := msg["devices"].([]interface{})
	devices := make([]RemoteDevice, 0, len(raw))
	for _, item := range raw {
		d, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		devices = append(devices, deviceFromConnectionInfo(d))
	}
	c.mu.Lock()
	c.devices = devices
	c.mu.Unlock()
	c.logger.Debug("connect: devices updated", "count", len(devices))
}

func deviceFromConnectionInfo(d map[string]interface{}) RemoteDevice {
	caps := map[string]bool{}
	if raw, ok := d["capabilities"].(map[string]interface{}); ok {
		for k, v := range raw {
			if b, ok := v.(bool); ok {
				caps[k] = b
			}
		}
	}
	return RemoteDevice{
		SessionID:    strField(d, "sessionId"),
		DeviceID:     strField(d, "deviceId"),
		Platform:     strField(d, "platform"),
		Name:         strField(d, "name"),
		Capabilities: caps,
		Ready:        boolField(d, "ready"),
		ConnectedAt:  int64Field(d, "connectedAt"),
		LastActivity: int64Field(d, "lastActivity"),
	}
}

func strField(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

func boolField(m map[string]interface{}, key string) bool {
	b, _ := m[key].(bool)
	return b
}

func int64Field(m map[string]interface{}, key string) int64 {
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	default:
		return 0
	}
}

// handleUserMessageDelivery routes an incoming gateway message into the
// target mailbox: by exact name, then display_name, then the first
// registered mailbox, logging and dropping if none match.
func (c *Client) handleUserMessageDelivery(ctx context.Context, data map[string]interface{}) {
	text := strField(data, "text")
	sender := strField(data, "from")
	if sender == "" {
		sender = "user"
	}
	targetUser := strField(data, "target_user")

	if strings.TrimSpace(text) == "" {
		c.logger.Warn("connect: received empty user_message_delivery, ignoring")
		return
	}

	var target *mailbox.User
	if targetUser != "" {
		target, _ = c.users.Get(targetUser)
		if target == nil {
			if all, err := c.users.List(); err == nil {
				for i := range all {
					if all[i].DisplayName == targetUser {
						target = &all[i]
						break
					}
				}
			}
		}
	}
	if target == nil {
		if all, err := c.users.List(); err == nil && len(all) > 0 {
			target = &all[0]
		}
	}
	if target == nil {
		c.logger.Warn("connect: no user found for message target", "target_user", targetUser)
		return
	}

	dir := c.users.UserDir(target.Name)
	msg, err := mailbox.DeliverMessage(dir, text, sender, "gateway", "", c.logger)
	if err != nil {
		c.logger.Warn("connect: failed to deliver message", "user", target.Name, "error", err)
		return
	}
	c.logger.Info("connect: delivered message", "user", target.Name, "from", sender)

	if !msg.Delivered {
		return
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}

	confirmation := map[string]interface{}{
		"type":        "delivery_confirmation",
		"message_id":  msg.ID,
		"target_user": sender,
		"delivered":   true,
	}
	if err := c.writeJSON(ctx, conn, confirmation); err != nil {
		c.logger.Warn("connect: failed to send delivery confirmation", "error", err)
	}
}

// GetStatusText builds a formatted, multi-line status report for CLI/service
// surfaces.
func (c *Client) GetStatusText() string {
	var b strings.Builder
	b.WriteString("VoiceMode Connect:\n")
	b.WriteString("  Status: " + c.StatusMessage() + "\n")

	connected := c.IsConnected()
	devices := c.Devices()
	if connected {
		var remote []RemoteDevice
		for _, d := range devices {
			if d.Platform != "mcp-server" {
				remote = append(remote, d)
			}
		}
		if len(remote) == 0 {
			b.WriteString("  Remote Devices: none\n")
		} else {
			b.WriteString("  Remote Devices:\n")
			for _, d := range remote {
				ready := "not ready"
				if d.Ready {
					ready = "ready"
				}
				platformStr := ""
				if d.Platform != "" {
					platformStr = " (" + d.Platform + ")"
				}
				b.WriteString(fmt.Sprintf("    %s%s - %s, %s - %s\n", d.DisplayName(), platformStr, ready, d.CapabilitiesStr(), d.ActivityAgo()))
			}
		}
	}

	if users, err := c.users.List(); err == nil {
		for _, u := range users {
			name := u.DisplayName
			if name == "" {
				name = u.Name
			}
			b.WriteString(fmt.Sprintf("  User: %s (%s)\n", name, c.users.GetPresence(u.Name)))
		}
	}

	return strings.TrimRight(b.String(), "\n")
}
