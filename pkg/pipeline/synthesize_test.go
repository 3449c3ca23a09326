package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/voicemode/voicemode/pkg/audio"
	"github.com/voicemode/voicemode/pkg/bargein"
	"github.com/voicemode/voicemode/pkg/player"
	"github.com/voicemode/voicemode/pkg/provider"
	"github.com/voicemode/voicemode/pkg/vad"
)

type fakeTTS struct {
	name  string
	audio []byte
	err   error
}

func (f *fakeTTS) Name() string { return f.name }
func (f *fakeTTS) Synthesize(ctx context.Context, text string, voice provider.Voice, lang provider.Language) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.audio, nil
}
func (f *fakeTTS) StreamSynthesize(ctx context.Context, text string, voice provider.Voice, lang provider.Language, onChunk func([]byte) error) error {
	if f.err != nil {
		return f.err
	}
	return onChunk(f.audio)
}
func (f *fakeTTS) Abort() error { return nil }

type fakeSink struct {
	mu      sync.Mutex
	pending int
}

func (s *fakeSink) QueueOutput(pcm []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending += len(pcm)
	go func() {
		time.Sleep(5 * time.Millisecond)
		s.mu.Lock()
		s.pending -= len(pcm)
		s.mu.Unlock()
	}()
}
func (s *fakeSink) ClearOutput() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = 0
}
func (s *fakeSink) PendingOutput() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

func TestSynthesizeRejectsEmptyText(t *testing.T) {
	reg := provider.NewRegistry()
	p := NewSynthesizePipeline(reg, nil, nil, nil)
	pl := player.New(&fakeSink{}, nil)

	result := p.Synthesize(context.Background(), TTSRequest{Text: "   "}, PlaybackBlocking, pl, nil)
	if result.ErrorType != "config_error" {
		t.Fatalf("expected config_error, got %+v", result)
	}
}

func TestSynthesizeBufferedPlaysPCM(t *testing.T) {
	reg := provider.NewRegistry()
	ep := provider.NewEndpointDescriptor(provider.RoleTTS, "http://127.0.0.1:8000", 0)
	reg.AddTTS(ep)

	pcm := make([]byte, 400)
	clients := map[string]provider.TTSProvider{ep.ID: &fakeTTS{name: "local", audio: pcm}}
	p := NewSynthesizePipeline(reg, clients, nil, nil)
	pl := player.New(&fakeSink{}, nil)

	result := p.Synthesize(context.Background(), TTSRequest{Text: "hello", ResponseFormat: "pcm"}, PlaybackBlocking, pl, nil)
	if result.ErrorType != "" {
		t.Fatalf("unexpected error: %+v", result)
	}
	if result.Endpoint != ep.ID {
		t.Fatalf("expected endpoint %s, got %s", ep.ID, result.Endpoint)
	}
}

func TestSynthesizeAllEndpointsFail(t *testing.T) {
	reg := provider.NewRegistry()
	ep := provider.NewEndpointDescriptor(provider.RoleTTS, "http://127.0.0.1:8000", 0)
	reg.AddTTS(ep)

	clients := map[string]provider.TTSProvider{ep.ID: &fakeTTS{name: "local", err: errors.New("down")}}
	p := NewSynthesizePipeline(reg, clients, nil, nil)
	pl := player.New(&fakeSink{}, nil)

	result := p.Synthesize(context.Background(), TTSRequest{Text: "hello"}, PlaybackBlocking, pl, nil)
	if result.ErrorType != "connection_failed" {
		t.Fatalf("expected connection_failed, got %+v", result)
	}
}

func TestVoiceForRemapsOpenAIEndpoints(t *testing.T) {
	reg := provider.NewRegistry()
	ep := provider.NewEndpointDescriptor(provider.RoleTTS, "https://api.openai.com", 0)
	p := NewSynthesizePipeline(reg, nil, map[string]bool{ep.ID: true}, nil)

	got := p.voiceFor(ep, TTSRequest{Voice: "af_sky"})
	if got != "nova" {
		t.Errorf("expected nova, got %s", got)
	}
}

// fakeVAD classifies a frame as voiced whenever its first data byte is
// non-zero, letting tests drive barge-in deterministically.
type fakeVAD struct{}

func (fakeVAD) Process(chunk []byte) (*vad.Event, error) { return nil, nil }
func (fakeVAD) Classify(chunk []byte) bool                { return len(chunk) > 0 && chunk[0] != 0 }
func (fakeVAD) Reset()                                     {}
func (fakeVAD) Clone() vad.Provider                         { return fakeVAD{} }
func (fakeVAD) Name() string                                { return "fake" }
func (fakeVAD) IsAvailable() bool                           { return true }

func voicedFrame(samples int) audio.AudioFrame {
	data := make([]byte, samples*2)
	for i := range data {
		data[i] = 0x7f
	}
	return audio.AudioFrame{SampleRate: 16000, Channels: 1, Data: data}
}

func TestSynthesizeBufferedArmsBargeInMonitor(t *testing.T) {
	reg := provider.NewRegistry()
	ep := provider.NewEndpointDescriptor(provider.RoleTTS, "http://127.0.0.1:8000", 0)
	reg.AddTTS(ep)

	clients := map[string]provider.TTSProvider{ep.ID: &fakeTTS{name: "local", audio: make([]byte, 400)}}
	p := NewSynthesizePipeline(reg, clients, nil, nil)

	// Nothing else in this test interrupts the player, so the voiced frame
	// sent right after Synthesize returns can only set WasInterrupted if
	// Synthesize started the monitor (the regression this guards against).
	sink := &fakeSink{}
	pl := player.New(sink, nil)

	monitor := bargein.New(fakeVAD{}, 20, 500, nil)
	source := make(chan audio.AudioFrame, 4)
	monitor.SetCaptureSource(source)

	result := p.Synthesize(context.Background(), TTSRequest{Text: "hello"}, PlaybackNonBlocking, pl, monitor)
	if result.ErrorType != "" {
		t.Fatalf("unexpected error: %+v", result)
	}

	source <- voicedFrame(320)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if pl.WasInterrupted() {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if !pl.WasInterrupted() {
		t.Fatal("expected the barge-in monitor to interrupt buffered playback, but it never fired")
	}
}

func TestSynthesizeStreamingDeliversMetrics(t *testing.T) {
	reg := provider.NewRegistry()
	ep := provider.NewEndpointDescriptor(provider.RoleTTS, "http://127.0.0.1:8000", 0)
	reg.AddTTS(ep)

	clients := map[string]provider.TTSProvider{ep.ID: &fakeTTS{name: "local", audio: make([]byte, 100)}}
	p := NewSynthesizePipeline(reg, clients, nil, nil)
	pl := player.New(&fakeSink{}, nil)

	result := p.Synthesize(context.Background(), TTSRequest{Text: "hello"}, PlaybackStreaming, pl, nil)
	if result.ErrorType != "" {
		t.Fatalf("unexpected error: %+v", result)
	}
	if result.Metrics == nil || result.Metrics.ChunksReceived == 0 {
		t.Fatalf("expected at least one chunk received, got %+v", result.Metrics)
	}
}
