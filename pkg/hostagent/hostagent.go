// Package hostagent defines the seams between the voice core and the
// surrounding host application: service install/enable, OAuth login,
// pronunciation rewriting, a local HTTP bridge for remote watches,
// sound-effect hooks, and resource/prompt endpoints for a host agent
// framework. The core only consumes them as interfaces. The CLI surface,
// config file parsing and telemetry have no interface in this package.
// Default implementations here are either no-ops or the minimal in-scope
// piece (e.g. the pronunciation-rule parser in pkg/pronounce).
package hostagent

import (
	"context"
	"strings"

	"github.com/voicemode/voicemode/pkg/pronounce"
)

// ServiceManager installs, enables, and controls the voice agent as an
// OS-level background service (systemd, launchd, Windows service, ...).
// The core never manages its own lifecycle this way.
type ServiceManager interface {
	Install(ctx context.Context) error
	Enable(ctx context.Context) error
	Disable(ctx context.Context) error
	Status(ctx context.Context) (string, error)
}

// OAuthLogin drives the interactive browser-based OAuth/PKCE login flow
// (local callback server, authorize URL, code exchange) that produces the
// credentials pkg/auth persists. The core never opens a browser or runs an
// HTTP server itself.
type OAuthLogin interface {
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
}

// HTTPBridge exposes a local HTTP surface so a remote watch or companion
// device can reach the running agent without going through Connect.
type HTTPBridge interface {
	Start(ctx context.Context, addr string) error
	Stop(ctx context.Context) error
}

// SoundEffectHookReceiver lets a host application register chimes or other
// sound effects to play around conversation lifecycle events. The core
// calls these opportunistically and swallows any error they return.
type SoundEffectHookReceiver interface {
	OnRecordingStart()
	OnRecordingEnd()
	OnListeningStart()
	OnBargeIn()
}

// HostResourcePromptProvider serves the MCP resource/prompt endpoints a
// host agent framework expects (e.g. exposing saved exchanges as
// resources). The core has no resource/prompt server of its own.
type HostResourcePromptProvider interface {
	ListResources(ctx context.Context) ([]string, error)
	ReadResource(ctx context.Context, uri string) ([]byte, error)
	ListPrompts(ctx context.Context) ([]string, error)
}

// PronunciationRewriter rewrites text before TTS synthesis and after STT
// transcription according to a loaded rule set. pkg/conversation applies
// RewriteForSTT to each transcript; it does not call RewriteForTTS. The
// compact rule format lives in pkg/pronounce (ParseCompact/Serialize).
// DefaultPronunciationRewriter below is a ready-to-use implementation a
// host can wire in without writing its own rule engine.
type PronunciationRewriter interface {
	RewriteForTTS(text string) string
	RewriteForSTT(text string) string
}

// NoOpPronunciationRewriter returns text unmodified. It's the rewriter the
// core falls back to when a host doesn't configure one.
type NoOpPronunciationRewriter struct{}

func (NoOpPronunciationRewriter) RewriteForTTS(text string) string { return text }
func (NoOpPronunciationRewriter) RewriteForSTT(text string) string { return text }

// DefaultPronunciationRewriter applies a parsed pronounce.RuleSet as plain
// literal substring replacement, in rule order. It does not implement
// regex or word-boundary matching — a host wanting that wraps its own
// PronunciationRewriter around a richer engine.
type DefaultPronunciationRewriter struct {
	Rules pronounce.RuleSet
}

// NewDefaultPronunciationRewriter parses compact-format rule text and
// returns a rewriter over it.
func NewDefaultPronunciationRewriter(compactRules string) (*DefaultPronunciationRewriter, error) {
	rs, err := pronounce.ParseCompact(compactRules)
	if err != nil {
		return nil, err
	}
	return &DefaultPronunciationRewriter{Rules: rs}, nil
}

func (r *DefaultPronunciationRewriter) RewriteForTTS(text string) string {
	return applyRules(text, r.Rules.TTS)
}

func (r *DefaultPronunciationRewriter) RewriteForSTT(text string) string {
	return applyRules(text, r.Rules.STT)
}

func applyRules(text string, rules []pronounce.Rule) string {
	for _, rule := range rules {
		if rule.Pattern == "" {
			continue
		}
		text = strings.ReplaceAll(text, rule.Pattern, rule.Replacement)
	}
	return text
}
