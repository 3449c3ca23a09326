package conversation

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/voicemode/voicemode/pkg/audio"
	"github.com/voicemode/voicemode/pkg/eventlog"
	"github.com/voicemode/voicemode/pkg/pipeline"
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

type fakeSTT struct {
	name string
	text string
	err  error
}

func (f *fakeSTT) Name() string { return f.name }
func (f *fakeSTT) Transcribe(ctx context.Context, req provider.STTRequest) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

type fakeSink struct {
	mu      sync.Mutex
	pending int
	calls   int
}

func (s *fakeSink) QueueOutput(pcm []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending += len(pcm)
	s.calls++
	go func() {
		time.Sleep(2 * time.Millisecond)
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

// fakeCapture feeds a fixed sequence of frames once, then blocks until the
// test is done, mimicking a microphone with a finite amount of speech
// followed by silence.
type fakeCapture struct {
	ch chan audio.AudioFrame
}

func newFakeCapture(frames []audio.AudioFrame) *fakeCapture {
	fc := &fakeCapture{ch: make(chan audio.AudioFrame, len(frames)+1)}
	for _, f := range frames {
		fc.ch <- f
	}
	return fc
}

func (fc *fakeCapture) Capture() <-chan audio.AudioFrame { return fc.ch }

// alwaysSilentVAD reports SpeechEnd on the very first frame processed after
// min_listen_duration, so recording tests terminate quickly.
type alwaysSilentVAD struct{}

func (alwaysSilentVAD) Process(chunk []byte) (*vad.Event, error) {
	return &vad.Event{Type: vad.SpeechEnd}, nil
}
func (alwaysSilentVAD) Classify(chunk []byte) bool { return false }
func (alwaysSilentVAD) Reset()                     {}
func (alwaysSilentVAD) Clone() vad.Provider        { return alwaysSilentVAD{} }
func (alwaysSilentVAD) Name() string               { return "always_silent" }
func (alwaysSilentVAD) IsAvailable() bool          { return true }

func voicedFrame(samples int) audio.AudioFrame {
	data := make([]byte, samples*2)
	for i := 0; i < len(data); i += 2 {
		data[i+1] = 0x7f // large positive sample -> high RMS
	}
	return audio.AudioFrame{SampleRate: 16000, Channels: 1, Data: data}
}

func newTestPipelines(ttsText string, ttsErr error, sttText string, sttErr error) (*pipeline.SynthesizePipeline, *pipeline.TranscribePipeline, *player.Player) {
	ttsReg := provider.NewRegistry()
	ttsEP := provider.NewEndpointDescriptor(provider.RoleTTS, "http://127.0.0.1:8880", 0)
	ttsReg.AddTTS(ttsEP)
	ttsClients := map[string]provider.TTSProvider{ttsEP.ID: &fakeTTS{name: "local", audio: make([]byte, 400), err: ttsErr}}
	synth := pipeline.NewSynthesizePipeline(ttsReg, ttsClients, nil, nil)

	sttReg := provider.NewRegistry()
	sttEP := provider.NewEndpointDescriptor(provider.RoleSTT, "http://127.0.0.1:8080", 0)
	sttReg.AddSTT(sttEP)
	sttClients := map[string]provider.STTProvider{sttEP.ID: &fakeSTT{name: "local", text: sttText, err: sttErr}}
	transcribe := pipeline.NewTranscribePipeline(sttReg, sttClients, nil)

	pl := player.New(&fakeSink{}, nil)
	return synth, transcribe, pl
}

func TestConverseNotWaitingForResponseReturnsSpoken(t *testing.T) {
	synth, transcribe, pl := newTestPipelines("", nil, "", nil)
	conv := New(Config{Synthesize: synth, Transcribe: transcribe, Player: pl})

	got := conv.Converse(context.Background(), Options{Message: "hello", WaitForResponse: false})
	if got != "spoken" {
		t.Fatalf("expected spoken, got %q", got)
	}
}

func TestConverseTTSFailureReturnsErrorString(t *testing.T) {
	synth, transcribe, pl := newTestPipelines("", errors.New("down"), "", nil)
	conv := New(Config{Synthesize: synth, Transcribe: transcribe, Player: pl})

	got := conv.Converse(context.Background(), Options{Message: "hello", WaitForResponse: false})
	if got == "spoken" {
		t.Fatalf("expected an error string, got %q", got)
	}
}

func TestConverseHappyPathReturnsTranscript(t *testing.T) {
	synth, transcribe, pl := newTestPipelines("", nil, "hello there", nil)
	capture := newFakeCapture([]audio.AudioFrame{voicedFrame(320), voicedFrame(320)})

	conv := New(Config{
		Synthesize:       synth,
		Transcribe:       transcribe,
		Player:           pl,
		IO:               capture,
		VADTemplate:      alwaysSilentVAD{},
		ListenSampleRate: 16000,
	})

	got := conv.Converse(context.Background(), Options{
		Message:           "hi",
		WaitForResponse:   true,
		MaxListenDuration: time.Second,
	})
	if got != "hello there" {
		t.Fatalf("expected transcript, got %q", got)
	}
}

func TestConverseNoSpeechWhenCaptureEmpty(t *testing.T) {
	synth, transcribe, pl := newTestPipelines("", nil, "hello", nil)
	capture := newFakeCapture(nil)
	close(capture.ch)

	conv := New(Config{
		Synthesize:       synth,
		Transcribe:       transcribe,
		Player:           pl,
		IO:               capture,
		ListenSampleRate: 16000,
	})

	got := conv.Converse(context.Background(), Options{
		Message:           "hi",
		WaitForResponse:   true,
		MaxListenDuration: 50 * time.Millisecond,
	})
	if got != "error: no speech detected" {
		t.Fatalf("expected no speech error, got %q", got)
	}
}

func TestConverseSTTFailureDescribesAttemptedEndpoints(t *testing.T) {
	synth, transcribe, pl := newTestPipelines("", nil, "", errors.New("down"))
	capture := newFakeCapture([]audio.AudioFrame{voicedFrame(320), voicedFrame(320)})

	conv := New(Config{
		Synthesize:       synth,
		Transcribe:       transcribe,
		Player:           pl,
		IO:               capture,
		VADTemplate:      alwaysSilentVAD{},
		ListenSampleRate: 16000,
	})

	got := conv.Converse(context.Background(), Options{
		Message:           "hi",
		WaitForResponse:   true,
		MaxListenDuration: time.Second,
	})
	if got == "hello there" {
		t.Fatalf("expected a failure string, got %q", got)
	}
	if !strings.Contains(got, "attempted endpoints: stt:http://127.0.0.1:8080") {
		t.Fatalf("expected the failure string to name the attempted STT endpoint, got %q", got)
	}
}

func TestClassifyControlPhraseDetectsWaitAndRepeat(t *testing.T) {
	cases := map[string]controlPhrase{
		"Can you wait":             controlWait,
		"hold on":                  controlWait,
		"please repeat":            controlRepeat,
		"what did you say":         controlRepeat,
		"I am happy with this":     controlNone,
		"this waits for something": controlNone,
	}
	for text, want := range cases {
		if got := classifyControlPhrase(text); got != want {
			t.Errorf("classifyControlPhrase(%q) = %q, want %q", text, got, want)
		}
	}
}

func TestConversePlaysChimesWhenEnabled(t *testing.T) {
	synth, transcribe, _ := newTestPipelines("", nil, "", nil)
	sink := &fakeSink{}
	pl := player.New(sink, nil)
	start := audio.NewPCMBuffer(16000, 1)
	start.Append(audio.AudioFrame{SampleRate: 16000, Channels: 1, Data: make([]byte, 64)})

	conv := New(Config{
		Synthesize: synth,
		Transcribe: transcribe,
		Player:     pl,
		Chimes:     Chimes{Start: start},
	})

	got := conv.Converse(context.Background(), Options{Message: "hi", WaitForResponse: false, ChimeEnabled: true})
	if got != "spoken" {
		t.Fatalf("expected spoken, got %q", got)
	}
	sink.mu.Lock()
	calls := sink.calls
	sink.mu.Unlock()
	if calls != 2 {
		t.Fatalf("expected the start chime and the spoken message to be queued (2 calls), got %d", calls)
	}
}

func TestConverseEmitsEventLogRecords(t *testing.T) {
	synth, transcribe, pl := newTestPipelines("", nil, "", nil)
	dir := t.TempDir()
	log, err := eventlog.New(dir+"/events.jsonl", 64, nil)
	if err != nil {
		t.Fatalf("unexpected error building event log: %v", err)
	}
	defer log.Close()

	conv := New(Config{Synthesize: synth, Transcribe: transcribe, Player: pl, Events: log})
	got := conv.Converse(context.Background(), Options{Message: "hi", WaitForResponse: false})
	if got != "spoken" {
		t.Fatalf("expected spoken, got %q", got)
	}

	log.Close()
	data, err := os.ReadFile(dir + "/events.jsonl")
	if err != nil {
		t.Fatalf("unexpected error reading event log: %v", err)
	}
	for _, want := range []string{`"TOOL_REQUEST_START"`, `"TTS_START"`, `"TOOL_REQUEST_END"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("expected event %s in log, got %s", want, data)
		}
	}
}
