// Package auth persists VoiceMode Connect OAuth credentials and generates
// PKCE parameters. The browser-driven login flow itself (local callback
// server, Auth0 token exchange) is a non-goal here — callers outside the
// core supply it through pkg/hostagent.OAuthLogin; this package only owns
// the storage format and the PKCE primitive spec.md §8 puts invariant laws
// on. Ported from original_source's voice_mode/auth.py.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Credentials are the stored OAuth tokens for the Connect gateway.
type Credentials struct {
	AccessToken  string                 `json:"access_token"`
	RefreshToken string                 `json:"refresh_token,omitempty"`
	ExpiresAt    float64                `json:"expires_at"` // unix seconds
	TokenType    string                 `json:"token_type"`
	UserInfo     map[string]interface{} `json:"user_info,omitempty"`
}

// IsExpired reports whether the access token is expired or will expire
// within bufferSeconds.
func (c Credentials) IsExpired(bufferSeconds int) bool {
	return float64(time.Now().Unix()) >= c.ExpiresAt-float64(bufferSeconds)
}

// DefaultPath returns ~/.voicemode/credentials.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".voicemode", "credentials")
	}
	return filepath.Join(home, ".voicemode", "credentials")
}

// SaveCredentials writes c to path as JSON with mode 0600, creating parent
// directories as needed.
func SaveCredentials(path string, c Credentials) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("auth: creating credentials dir: %w", err)
	}
	enc, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("auth: encoding credentials: %w", err)
	}
	if err := os.WriteFile(path, enc, 0o600); err != nil {
		return fmt.Errorf("auth: writing credentials: %w", err)
	}
	return os.Chmod(path, 0o600)
}

// LoadCredentials reads credentials from path. A missing or malformed file
// returns (nil, nil) — matching original_source's tolerant load.
func LoadCredentials(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("auth: reading credentials: %w", err)
	}

	var c Credentials
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, nil
	}
	if c.AccessToken == "" {
		return nil, nil
	}
	return &c, nil
}

// ClearCredentials removes the credentials file. Returns false if it didn't
// exist.
func ClearCredentials(path string) (bool, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false, nil
	}
	if err := os.Remove(path); err != nil {
		return false, fmt.Errorf("auth: removing credentials: %w", err)
	}
	return true, nil
}

// RefreshFunc exchanges a refresh token for a new access token. The actual
// HTTP exchange is supplied by the caller (part of the OAuth login surface
// this package does not implement).
type RefreshFunc func(refreshToken string) (Credentials, error)

// GetValidCredentials loads stored credentials and, if expired, refreshes
// them via refresh (when non-nil and a refresh token is present), saving the
// refreshed result. Returns nil if no usable credentials are available.
func GetValidCredentials(path string, refresh RefreshFunc) (*Credentials, error) {
	creds, err := LoadCredentials(path)
	if err != nil || creds == nil {
		return nil, err
	}
	if !creds.IsExpired(60) {
		return creds, nil
	}
	if refresh == nil || creds.RefreshToken == "" {
		return nil, nil
	}

	refreshed, err := refresh(creds.RefreshToken)
	if err != nil {
		return nil, nil
	}
	if refreshed.UserInfo == nil {
		refreshed.UserInfo = creds.UserInfo
	}
	if err := SaveCredentials(path, refreshed); err != nil {
		return nil, err
	}
	return &refreshed, nil
}

// PKCEParams are the verifier/challenge pair for an OAuth authorization-code
// flow with PKCE.
type PKCEParams struct {
	CodeVerifier        string
	CodeChallenge       string
	CodeChallengeMethod string
}

// GeneratePKCE produces a cryptographically random code verifier in
// [A-Za-z0-9-._~] (43-128 chars, per RFC 7636) and its S256 code challenge.
func GeneratePKCE() (PKCEParams, error) {
	verifier, err := randomURLSafeString(32) // 32 raw bytes -> 43 base64url chars
	if err != nil {
		return PKCEParams{}, fmt.Errorf("auth: generating pkce verifier: %w", err)
	}

	digest := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(digest[:])

	return PKCEParams{CodeVerifier: verifier, CodeChallenge: challenge, CodeChallengeMethod: "S256"}, nil
}

func randomURLSafeString(numBytes int) (string, error) {
	buf := make([]byte, numBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// FormatExpiry renders a unix-seconds expiry as a short human string, e.g.
// "in 2h 14m" or "expired".
func FormatExpiry(expiresAt float64) string {
	dt := time.Unix(int64(expiresAt), 0).UTC()
	now := time.Now().UTC()

	if !dt.After(now) {
		return "expired"
	}

	delta := dt.Sub(now)
	days := int(delta.Hours() / 24)
	if days > 0 {
		if days != 1 {
			return fmt.Sprintf("in %d days", days)
		}
		return "in 1 day"
	}
	hours := int(delta.Hours())
	minutes := int(delta.Minutes()) % 60
	if hours > 0 {
		return fmt.Sprintf("in %dh %dm", hours, minutes)
	}
	if minutes > 0 {
		if minutes != 1 {
			return fmt.Sprintf("in %d minutes", minutes)
		}
		return "in 1 minute"
	}
	seconds := int(delta.Seconds())
	if seconds != 1 {
		return fmt.Sprintf("in %d seconds", seconds)
	}
	return "in 1 second"
}
