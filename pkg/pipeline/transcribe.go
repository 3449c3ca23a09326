// Package pipeline implements TranscribePipeline and SynthesizePipeline,
// generalized from the teacher's Orchestrator.ProcessAudio/
// ProcessAudioStream/SynthesizeStream, split into the two named pipelines and
// given the compression/voice-remap policy spec.md §4.5/§4.6 add.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/voicemode/voicemode/pkg/audio"
	"github.com/voicemode/voicemode/pkg/errs"
	"github.com/voicemode/voicemode/pkg/provider"
	"github.com/voicemode/voicemode/pkg/vmlog"
)

// CompressMode is VOICEMODE_STT_COMPRESS's value space.
type CompressMode string

const (
	CompressAuto   CompressMode = "auto"
	CompressAlways CompressMode = "always"
	CompressNever  CompressMode = "never"
)

const sttNormalizedSampleRate = 16000

// TranscribeOptions configures one TranscribePipeline call.
type TranscribeOptions struct {
	Compress    CompressMode
	SaveAudio   bool
	AudioDir    string
	ConvID      string
	Transport   string
	Language    provider.Language
	Model       string
}

// TranscribeResult is the pipeline's structured outcome per spec.md §4.5.
type TranscribeResult struct {
	Text     string
	Provider string
	Endpoint string

	ErrorType          string // "connection_failed" | "no_speech" | ""
	AttemptedEndpoints []provider.Failure
}

// TranscribePipeline prepares audio (format, sample rate, optional
// compression) and invokes STT through Failover.
type TranscribePipeline struct {
	registry *provider.Registry
	logger   vmlog.Logger
	clients  map[string]provider.STTProvider // endpoint ID -> client
}

// NewTranscribePipeline builds a pipeline against registry; clients maps each
// STT endpoint's ID to the concrete client that talks to it.
func NewTranscribePipeline(registry *provider.Registry, clients map[string]provider.STTProvider, logger vmlog.Logger) *TranscribePipeline {
	return &TranscribePipeline{registry: registry, clients: clients, logger: vmlog.OrDefault(logger)}
}

// decideFormat implements the STT_COMPRESS decision from spec.md §4.5.
func (p *TranscribePipeline) decideFormat(mode CompressMode) audio.Format {
	switch mode {
	case CompressAlways:
		return audio.FormatMP3
	case CompressNever:
		return audio.FormatWAV
	default: // auto
		if p.registry.FirstLocal(provider.RoleSTT) {
			return audio.FormatWAV
		}
		return audio.FormatMP3
	}
}

// Transcribe runs the full pipeline: normalize sample rate, decide
// compression, optionally save full-quality WAV, then call STT via Failover.
func (p *TranscribePipeline) Transcribe(ctx context.Context, pcm []byte, srcSampleRate int, opts TranscribeOptions) TranscribeResult {
	if len(pcm)/2 < 100 {
		return TranscribeResult{ErrorType: "no_speech"}
	}

	normalized := audio.Resample16(pcm, srcSampleRate, sttNormalizedSampleRate)

	if opts.SaveAudio && opts.AudioDir != "" {
		if err := p.saveWAV(normalized, opts); err != nil {
			p.logger.Warn("transcribe: failed to save audio", "error", err)
		}
	}

	format := p.decideFormat(opts.Compress)
	wireBytes := normalized
	if format == audio.FormatMP3 {
		if encoded, err := audio.EncodeMP3(normalized, sttNormalizedSampleRate); err == nil {
			wireBytes = encoded
		} else {
			p.logger.Warn("transcribe: mp3 encode failed, falling back to wav", "error", err)
			format = audio.FormatWAV
			wireBytes = audio.EncodeWAV(normalized, sttNormalizedSampleRate)
		}
	} else {
		wireBytes = audio.EncodeWAV(normalized, sttNormalizedSampleRate)
	}

	req := provider.STTRequest{
		Audio: audio.AudioBytes{
			Format:     format,
			SampleRate: sttNormalizedSampleRate,
			Channels:   1,
			Data:       wireBytes,
		},
		Language: opts.Language,
		Model:    opts.Model,
	}

	outcome, failed := provider.Failover(ctx, p.registry, provider.RoleSTT, func(ctx context.Context, ep *provider.EndpointDescriptor) provider.Outcome {
		client, ok := p.clients[ep.ID]
		if !ok {
			return provider.Outcome{ErrorKind: errs.KindOther, Message: "no client configured for endpoint " + ep.ID}
		}
		text, err := client.Transcribe(ctx, req)
		if err != nil {
			return provider.Outcome{ErrorKind: classifyErr(ctx, err), Message: err.Error()}
		}
		return provider.Outcome{Success: true, Payload: text, EndpointID: ep.ID}
	})

	if failed != nil {
		return TranscribeResult{ErrorType: "connection_failed", AttemptedEndpoints: failed.Attempts}
	}

	if outcome.ErrorKind == provider.KindNoSpeech {
		return TranscribeResult{ErrorType: "no_speech"}
	}

	text, _ := outcome.Payload.(string)
	if text == "" {
		return TranscribeResult{ErrorType: "no_speech", Provider: outcome.EndpointID}
	}

	return TranscribeResult{Text: text, Endpoint: outcome.EndpointID}
}

func (p *TranscribePipeline) saveWAV(pcm []byte, opts TranscribeOptions) error {
	now := time.Now().UTC()
	dir := filepath.Join(opts.AudioDir, now.Format("2006"), now.Format("01"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &errs.MailboxError{Kind: errs.MailboxKindIO, Err: err}
	}
	name := fmt.Sprintf("%s_%s_%s_stt.wav", now.Format("20060102_150405"), now.Format("000"), opts.ConvID)
	path := filepath.Join(dir, name)
	return os.WriteFile(path, audio.EncodeWAV(pcm, sttNormalizedSampleRate), 0o644)
}

// classifyErr maps a raw error into a provider.ErrorKind, preferring context
// cancellation/deadline over a generic "other".
func classifyErr(ctx context.Context, err error) provider.ErrorKind {
	if ctx.Err() != nil {
		return provider.KindCancelled
	}
	return provider.KindOther
}
