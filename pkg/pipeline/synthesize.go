package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/voicemode/voicemode/pkg/audio"
	"github.com/voicemode/voicemode/pkg/bargein"
	"github.com/voicemode/voicemode/pkg/errs"
	"github.com/voicemode/voicemode/pkg/player"
	"github.com/voicemode/voicemode/pkg/provider"
	"github.com/voicemode/voicemode/pkg/tts"
	"github.com/voicemode/voicemode/pkg/vmlog"
)

// PlaybackMode selects how SynthesizePipeline delivers audio to the player.
type PlaybackMode string

const (
	PlaybackBlocking    PlaybackMode = "blocking"
	PlaybackNonBlocking PlaybackMode = "non_blocking"
	PlaybackStreaming   PlaybackMode = "streaming"
)

// TTSRequest mirrors spec.md §3's TTSRequest tuple.
type TTSRequest struct {
	Text         string
	Voice        provider.Voice
	Model        string
	ResponseFormat audio.Format
	Speed        float64
	Instructions string
}

// Validate enforces the non-empty-text and speed-range constraints spec.md
// §4.6/§8 name, returning a ConfigError (not a provider call) on violation.
func (r TTSRequest) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return &errs.ConfigError{Field: "text", Problem: "must be non-empty after trimming"}
	}
	if r.Speed != 0 && (r.Speed < 0.25 || r.Speed > 4.0) {
		return &errs.ConfigError{Field: "speed", Problem: "must be in [0.25, 4.0]"}
	}
	return nil
}

// SynthesizeResult carries playback outcome plus StreamMetrics for callers
// that need latency/interruption detail (Conversation does).
type SynthesizeResult struct {
	Metrics  *player.StreamMetrics
	Endpoint string

	ErrorType string // "config_error" | "connection_failed" | ""
}

// SynthesizePipeline requests audio from TTS via Failover and drives
// NonBlockingPlayer in blocking, non-blocking, or streaming mode.
type SynthesizePipeline struct {
	registry *provider.Registry
	clients  map[string]provider.TTSProvider
	openAI   map[string]bool // endpoint ID -> is an OpenAI-model endpoint
	logger   vmlog.Logger
}

func NewSynthesizePipeline(registry *provider.Registry, clients map[string]provider.TTSProvider, openAI map[string]bool, logger vmlog.Logger) *SynthesizePipeline {
	return &SynthesizePipeline{registry: registry, clients: clients, openAI: openAI, logger: vmlog.OrDefault(logger)}
}

// Synthesize requests audio and plays it per mode. monitor may be nil.
func (p *SynthesizePipeline) Synthesize(ctx context.Context, req TTSRequest, mode PlaybackMode, pl *player.Player, monitor *bargein.Monitor) SynthesizeResult {
	if err := req.Validate(); err != nil {
		p.logger.Warn("synthesize: invalid request", "error", err)
		return SynthesizeResult{ErrorType: "config_error"}
	}

	switch mode {
	case PlaybackStreaming:
		return p.synthesizeStreaming(ctx, req, pl, monitor)
	default:
		return p.synthesizeBuffered(ctx, req, mode == PlaybackBlocking, pl, monitor)
	}
}

func (p *SynthesizePipeline) voiceFor(ep *provider.EndpointDescriptor, req TTSRequest) provider.Voice {
	if p.openAI[ep.ID] {
		return tts.RemapVoiceForOpenAI(req.Voice)
	}
	return req.Voice
}

func (p *SynthesizePipeline) synthesizeBuffered(ctx context.Context, req TTSRequest, blocking bool, pl *player.Player, monitor *bargein.Monitor) SynthesizeResult {
	var endpoint string

	outcome, failed := provider.Failover(ctx, p.registry, provider.RoleTTS, func(ctx context.Context, ep *provider.EndpointDescriptor) provider.Outcome {
		client, ok := p.clients[ep.ID]
		if !ok {
			return provider.Outcome{ErrorKind: errs.KindOther, Message: "no client configured for endpoint " + ep.ID}
		}
		voice := p.voiceFor(ep, req)
		data, err := client.Synthesize(ctx, req.Text, voice, "")
		if err != nil {
			return provider.Outcome{ErrorKind: classifyErr(ctx, err), Message: err.Error()}
		}
		return provider.Outcome{Success: true, Payload: data, EndpointID: ep.ID}
	})

	if failed != nil {
		return SynthesizeResult{ErrorType: "connection_failed"}
	}
	endpoint = outcome.EndpointID

	raw, _ := outcome.Payload.([]byte)
	pcm, err := decodeByFormat(raw, req.ResponseFormat)
	if err != nil {
		p.logger.Error("synthesize: decode failed", "error", err)
		return SynthesizeResult{ErrorType: "connection_failed", Endpoint: endpoint}
	}

	buf := audio.NewPCMBuffer(24000, 1)
	buf.Append(audio.AudioFrame{SampleRate: 24000, Channels: 1, Data: pcm})

	// Arm the monitor before queuing playback so a barge-in firing mid-play
	// can still reach pl.Interrupt, matching core.py's
	// start_monitoring(...)/play(..., blocking=False) pairing: the monitor
	// must be running for the whole buffered play, not just streaming mode.
	if monitor != nil {
		pl.AttachBargeIn(monitor)
		if err := monitor.StartMonitoring(pl.Interrupt); err != nil {
			p.logger.Warn("synthesize: barge-in monitor unavailable", "error", err)
			monitor = nil
		}
	}

	pl.Play(buf, blocking, func() {
		if monitor != nil {
			// The monitor calls pl.Interrupt on its own goroutine, and
			// StopMonitoring waits for that goroutine to exit, so stop it
			// from a separate goroutine.
			go monitor.StopMonitoring()
		}
	})

	if monitor != nil {
		if blocking {
			monitor.StopMonitoring()
		} else {
			go func() {
				pl.Wait(5 * time.Minute)
				monitor.StopMonitoring()
			}()
		}
	}

	return SynthesizeResult{Endpoint: endpoint, Metrics: &player.StreamMetrics{TotalBytes: len(pcm), Interrupted: pl.WasInterrupted()}}
}

func (p *SynthesizePipeline) synthesizeStreaming(ctx context.Context, req TTSRequest, pl *player.Player, monitor *bargein.Monitor) SynthesizeResult {
	var endpoint string
	chunks := make(chan []byte, 32)
	errCh := make(chan error, 1)

	outcomeCh := make(chan provider.Outcome, 1)
	failedCh := make(chan *provider.AllFailed, 1)

	go func() {
		outcome, failed := provider.Failover(ctx, p.registry, provider.RoleTTS, func(ctx context.Context, ep *provider.EndpointDescriptor) provider.Outcome {
			client, ok := p.clients[ep.ID]
			if !ok {
				return provider.Outcome{ErrorKind: errs.KindOther, Message: "no client configured for endpoint " + ep.ID}
			}
			voice := p.voiceFor(ep, req)
			err := client.StreamSynthesize(ctx, req.Text, voice, "", func(chunk []byte) error {
				select {
				case chunks <- chunk:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})
			if err != nil {
				return provider.Outcome{ErrorKind: classifyErr(ctx, err), Message: err.Error()}
			}
			return provider.Outcome{Success: true, EndpointID: ep.ID}
		})
		close(chunks)
		outcomeCh <- outcome
		failedCh <- failed
	}()

	if monitor != nil {
		pl.AttachBargeIn(monitor)
	}

	metrics := pl.PlayStream(
		func() ([]byte, bool, error) {
			select {
			case c, ok := <-chunks:
				if !ok {
					return nil, false, nil
				}
				return c, true, nil
			case err := <-errCh:
				return nil, false, err
			}
		},
		func(onVoice func()) bool {
			if monitor == nil {
				return false
			}
			return monitor.StartMonitoring(onVoice) == nil
		},
		func() {
			if monitor != nil {
				monitor.StopMonitoring()
			}
		},
	)

	failed := <-failedCh
	outcome := <-outcomeCh
	endpoint = outcome.EndpointID
	if failed != nil {
		return SynthesizeResult{ErrorType: "connection_failed", Metrics: metrics}
	}

	return SynthesizeResult{Endpoint: endpoint, Metrics: metrics}
}

func decodeByFormat(data []byte, format audio.Format) ([]byte, error) {
	ab := audio.AudioBytes{Format: format, Data: data}
	if format == "" {
		ab.Format = audio.FormatPCM
	}
	return ab.ToPCM()
}
