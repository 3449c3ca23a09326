// Package provider implements EndpointDescriptor, ProviderRegistry, and
// Failover: ordered STT/TTS endpoint tracking with health updates and
// structured per-endpoint retry. New relative to the teacher (which wires
// exactly one STT/LLM/TTS provider picked by a switch statement in main());
// grounded on the *shape* of the teacher's STTProvider/TTSProvider interfaces
// (Name() string, context-aware calls) generalized to an ordered list.
package provider

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voicemode/voicemode/pkg/errs"
)

// Role distinguishes STT from TTS endpoints.
type Role string

const (
	RoleSTT Role = "stt"
	RoleTTS Role = "tts"
)

// Locality classifies an endpoint as local or remote based on its host.
type Locality string

const (
	Local  Locality = "local"
	Remote Locality = "remote"
)

var localHosts = map[string]bool{
	"127.0.0.1": true,
	"localhost": true,
	"::1":       true,
}

// ClassifyLocality inspects a URL's host and returns Local for
// 127.0.0.1/localhost/::1, Remote otherwise.
func ClassifyLocality(rawURL string) Locality {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Remote
	}
	host := u.Hostname()
	if localHosts[strings.ToLower(host)] {
		return Local
	}
	return Remote
}

// EndpointDescriptor describes one STT or TTS endpoint and its health.
// Health fields are updated via atomics so reads never need a lock, per
// spec.md's design note that ProviderRegistry is the only place with mutable
// global-ish state and it stays internal.
type EndpointDescriptor struct {
	ID       string
	URL      string
	Role     Role
	Locality Locality
	Priority int

	lastSeenHealthy atomic.Int64 // unix nanos, 0 if never healthy
	lastError       atomic.Value // string
}

// NewEndpointDescriptor builds a descriptor, deriving ID from (role, url) and locality from the URL's host.
func NewEndpointDescriptor(role Role, rawURL string, priority int) *EndpointDescriptor {
	return &EndpointDescriptor{
		ID:       string(role) + ":" + rawURL,
		URL:      rawURL,
		Role:     role,
		Locality: ClassifyLocality(rawURL),
		Priority: priority,
	}
}

func (e *EndpointDescriptor) markHealthy() {
	e.lastSeenHealthy.Store(time.Now().UnixNano())
}

func (e *EndpointDescriptor) markFailed(msg string) {
	e.lastError.Store(msg)
}

// LastSeenHealthy returns the last successful-call timestamp, or the zero time.
func (e *EndpointDescriptor) LastSeenHealthy() time.Time {
	ns := e.lastSeenHealthy.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// LastError returns the most recent failure message, if any.
func (e *EndpointDescriptor) LastError() string {
	v, _ := e.lastError.Load().(string)
	return v
}

// ErrorKind classifies why one attempt_fn invocation failed.
type ErrorKind = errs.ProviderErrorKind

const (
	KindConnect    = errs.KindConnect
	KindTimeout    = errs.KindTimeout
	KindHTTPStatus = errs.KindHTTPStatus
	KindDecode     = errs.KindDecode
	KindNoSpeech   = errs.KindNoSpeech
	KindCancelled  = errs.KindCancelled
	KindOther      = errs.KindOther
)

// Outcome is the tagged-union result of one provider call.
type Outcome struct {
	Success    bool
	Payload    interface{}
	EndpointID string
	Elapsed    time.Duration

	ErrorKind ErrorKind
	Message   string
}

// Failure is one endpoint's failed attempt, recorded for AllFailed reporting.
type Failure struct {
	EndpointID string
	ErrorKind  ErrorKind
	Message    string
	Elapsed    time.Duration
}

// AllFailed aggregates every attempted endpoint's Failure.
type AllFailed struct {
	Role     Role
	Attempts []Failure
}

func (a *AllFailed) Error() string {
	agg := &errs.AllProvidersFailed{Role: string(a.Role)}
	for _, f := range a.Attempts {
		agg.Attempts = append(agg.Attempts, &errs.ProviderError{Kind: f.ErrorKind, EndpointID: f.EndpointID, Message: f.Message})
	}
	return agg.Error()
}

// Registry holds ordered lists of STT and TTS endpoints.
type Registry struct {
	mu  sync.RWMutex
	stt []*EndpointDescriptor
	tts []*EndpointDescriptor
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// AddSTT appends an STT endpoint, preserving priority order as given.
func (r *Registry) AddSTT(e *EndpointDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt = append(r.stt, e)
}

// AddTTS appends a TTS endpoint.
func (r *Registry) AddTTS(e *EndpointDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts = append(r.tts, e)
}

// Endpoints returns a snapshot of the ordered list for role.
func (r *Registry) Endpoints(role Role) []*EndpointDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch role {
	case RoleSTT:
		return append([]*EndpointDescriptor(nil), r.stt...)
	case RoleTTS:
		return append([]*EndpointDescriptor(nil), r.tts...)
	default:
		return nil
	}
}

// FirstLocal reports whether the highest-priority endpoint for role is local,
// used by TranscribePipeline's STT_COMPRESS=auto decision.
func (r *Registry) FirstLocal(role Role) bool {
	eps := r.Endpoints(role)
	if len(eps) == 0 {
		return false
	}
	return eps[0].Locality == Local
}

// AttemptFunc performs one call against a specific endpoint.
type AttemptFunc func(ctx context.Context, e *EndpointDescriptor) Outcome

// Failover walks endpoints in priority order, calling attempt for each, per
// spec.md §4.4. A Failure with kind no_speech or cancelled returns
// immediately (not a real failover condition); other failures are recorded
// and attempted continues. After all endpoints it returns AllFailed.
func Failover(ctx context.Context, registry *Registry, role Role, attempt AttemptFunc) (Outcome, *AllFailed) {
	endpoints := registry.Endpoints(role)
	var attempts []Failure

	for _, ep := range endpoints {
		select {
		case <-ctx.Done():
			return Outcome{ErrorKind: KindCancelled, Message: ctx.Err().Error()}, &AllFailed{Role: role, Attempts: attempts}
		default:
		}

		outcome := attemptWithRetry(ctx, ep, attempt)
		if outcome.Success {
			ep.markHealthy()
			return outcome, nil
		}

		if outcome.ErrorKind == KindNoSpeech || outcome.ErrorKind == KindCancelled {
			return outcome, nil
		}

		ep.markFailed(outcome.Message)
		attempts = append(attempts, Failure{
			EndpointID: ep.ID,
			ErrorKind:  outcome.ErrorKind,
			Message:    outcome.Message,
			Elapsed:    outcome.Elapsed,
		})
	}

	return Outcome{}, &AllFailed{Role: role, Attempts: attempts}
}

// attemptWithRetry applies the retry policy: local endpoints get zero
// retries; remote endpoints get up to two retries with exponential backoff.
func attemptWithRetry(ctx context.Context, ep *EndpointDescriptor, attempt AttemptFunc) Outcome {
	maxRetries := 0
	if ep.Locality == Remote {
		maxRetries = 2
	}

	var last Outcome
	backoff := 250 * time.Millisecond
	for try := 0; try <= maxRetries; try++ {
		start := time.Now()
		last = attempt(ctx, ep)
		last.Elapsed = time.Since(start)
		if last.Success {
			return last
		}
		if last.ErrorKind == KindNoSpeech || last.ErrorKind == KindCancelled {
			return last
		}
		if try < maxRetries {
			select {
			case <-ctx.Done():
				return Outcome{ErrorKind: KindCancelled, Message: ctx.Err().Error()}
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return last
}
