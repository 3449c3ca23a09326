package provider

import (
	"context"

	"github.com/voicemode/voicemode/pkg/audio"
)

// Voice names a TTS voice preset.
type Voice string

// Language is a BCP-47-ish language hint passed to STT/TTS calls.
type Language string

// STTRequest bundles the audio (format-tagged per spec.md's tagged-variant
// design note) with transcription options.
type STTRequest struct {
	Audio    audio.AudioBytes
	Language Language
	Model    string
}

// STTProvider transcribes audio to text.
type STTProvider interface {
	Transcribe(ctx context.Context, req STTRequest) (string, error)
	Name() string
}

// TTSProvider synthesizes text to audio, buffered or streamed.
//
// Abort is declared here (the teacher's TTSProvider interface omitted it even
// though ManagedStream.internalInterrupt calls tts.Abort() directly — a
// retrieval-time inconsistency in the teacher's code). Every adapted client
// below implements it, matching the mock implementations the teacher's own
// tests already provide.
type TTSProvider interface {
	Synthesize(ctx context.Context, text string, voice Voice, lang Language) ([]byte, error)
	StreamSynthesize(ctx context.Context, text string, voice Voice, lang Language, onChunk func([]byte) error) error
	Abort() error
	Name() string
}
