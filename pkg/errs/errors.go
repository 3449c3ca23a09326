// Package errs defines the error taxonomy shared across VoiceMode components,
// extending the teacher's sentinel-error style (errors.New, wrapped with %w)
// with the typed kinds the specification names.
package errs

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyTranscription = errors.New("transcription returned empty text")
	ErrNilProvider         = errors.New("required provider is nil")
	ErrContextCancelled    = errors.New("operation cancelled by context")
)

// ConfigError is invalid or missing required configuration. Surfaced, never retried.
type ConfigError struct {
	Field   string
	Problem string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s: %s", e.Field, e.Problem)
}

// AudioDeviceError means an audio device could not be acquired. Fatal for the
// current conversation.
type AudioDeviceError struct {
	Op  string
	Err error
}

func (e *AudioDeviceError) Error() string {
	return fmt.Sprintf("audio device error during %s: %v", e.Op, e.Err)
}

func (e *AudioDeviceError) Unwrap() error { return e.Err }

// ProviderErrorKind classifies why a single provider call failed.
type ProviderErrorKind string

const (
	KindConnect    ProviderErrorKind = "connect"
	KindTimeout    ProviderErrorKind = "timeout"
	KindHTTPStatus ProviderErrorKind = "http_status"
	KindDecode     ProviderErrorKind = "decode"
	KindNoSpeech   ProviderErrorKind = "no_speech"
	KindCancelled  ProviderErrorKind = "cancelled"
	KindOther      ProviderErrorKind = "other"
)

// ProviderError wraps a single endpoint's failure. Recovered locally by
// Failover unless Kind is no_speech or cancelled.
type ProviderError struct {
	Kind       ProviderErrorKind
	EndpointID string
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error [%s] on %s: %s", e.Kind, e.EndpointID, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// AllProvidersFailed aggregates every attempted ProviderError for a failed
// failover pass.
type AllProvidersFailed struct {
	Role     string
	Attempts []*ProviderError
}

func (e *AllProvidersFailed) Error() string {
	return fmt.Sprintf("all %s providers failed across %d endpoint(s)", e.Role, len(e.Attempts))
}

// PlaybackError is a stream-level playback failure. Surfaced; the conversation ends.
type PlaybackError struct {
	Err error
}

func (e *PlaybackError) Error() string { return fmt.Sprintf("playback error: %v", e.Err) }
func (e *PlaybackError) Unwrap() error { return e.Err }

// ErrBargeInUnavailable means VAD support is missing; recovered by falling
// back to silence-terminated recording.
var ErrBargeInUnavailable = errors.New("barge-in unavailable: no VAD support")

// MailboxErrorKind classifies mailbox failures.
type MailboxErrorKind string

const (
	MailboxKindIO      MailboxErrorKind = "io"
	MailboxKindParse   MailboxErrorKind = "parse"
	MailboxKindSymlink MailboxErrorKind = "symlink"
)

// MailboxError is returned for persistent-inbox failures; those must never
// fail silently. Live-inbox failures instead just set delivered=false.
type MailboxError struct {
	Kind MailboxErrorKind
	Err  error
}

func (e *MailboxError) Error() string {
	return fmt.Sprintf("mailbox error [%s]: %v", e.Kind, e.Err)
}

func (e *MailboxError) Unwrap() error { return e.Err }

// ConnectErrorKind classifies Connect transport failures.
type ConnectErrorKind string

const (
	ConnectKindAuth      ConnectErrorKind = "auth"
	ConnectKindTransport ConnectErrorKind = "transport"
	ConnectKindProtocol  ConnectErrorKind = "protocol"
)

// ConnectError is always recovered by the reconnect loop; it is logged, never
// propagated outward.
type ConnectError struct {
	Kind ConnectErrorKind
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect error [%s]: %v", e.Kind, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }
