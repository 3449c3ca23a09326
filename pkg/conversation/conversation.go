// Package conversation implements the converse() algorithm: the single
// entry point a host agent calls to speak a message and, optionally, wait
// for and transcribe a spoken reply. Restructured from the teacher's
// top-level Conversation wrapper (NewConversation/Chat/ProcessAudio) around
// the nine-step algorithm spec.md §4.7 describes, wiring together the
// synthesize/transcribe pipelines, the player, barge-in, chimes, exchange
// logging, and pronunciation rewriting.
package conversation

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/voicemode/voicemode/pkg/audio"
	"github.com/voicemode/voicemode/pkg/bargein"
	"github.com/voicemode/voicemode/pkg/conch"
	"github.com/voicemode/voicemode/pkg/eventlog"
	"github.com/voicemode/voicemode/pkg/exchange"
	"github.com/voicemode/voicemode/pkg/hostagent"
	"github.com/voicemode/voicemode/pkg/pipeline"
	"github.com/voicemode/voicemode/pkg/player"
	"github.com/voicemode/voicemode/pkg/provider"
	"github.com/voicemode/voicemode/pkg/vad"
	"github.com/voicemode/voicemode/pkg/vmlog"
)

// maxControlRounds bounds how many times "wait"/"repeat" control phrases can
// reopen the listening window before converse gives up, so a misheard
// transcript can't spin the conversation forever.
const maxControlRounds = 3

// Chimes holds short PCM clips played around the conversation lifecycle.
// Any field left nil means "no chime configured" and is silently skipped,
// extending spec.md §4.7 step 2/6/9's "swallow the error" policy to "there
// is nothing to play".
type Chimes struct {
	Start       *audio.PCMBuffer
	Listening   *audio.PCMBuffer
	Finished    *audio.PCMBuffer
	Reassurance *audio.PCMBuffer
}

// Options configures one Converse call, mirroring spec.md §4.7's signature.
type Options struct {
	Message                 string
	WaitForResponse         bool
	ChimeEnabled            bool
	MinListenDuration       time.Duration
	MaxListenDuration       time.Duration
	DisableSilenceDetection bool
	Voice                   provider.Voice
	Model                   string
	Language                provider.Language
	PlaybackMode            pipeline.PlaybackMode
	STTCompress             pipeline.CompressMode
	SaveAudio               bool
	AudioDir                string
}

// AudioCapture is the capture-side surface Conversation needs from an audio
// device; *audio.IO satisfies it directly. Kept as an interface (rather than
// depending on *audio.IO concretely) so tests can drive recording from a
// synthetic frame source without a real device.
type AudioCapture interface {
	Capture() <-chan audio.AudioFrame
}

// Conversation wires together the synthesize/transcribe pipelines, player,
// barge-in, chimes, exchange/event logging, pronunciation rewriting, and the
// advisory Conch lock into one converse() call.
type Conversation struct {
	synth      *pipeline.SynthesizePipeline
	transcribe *pipeline.TranscribePipeline
	io         AudioCapture
	player     *player.Player

	vadTemplate         vad.Provider
	bargeInEnabled      bool
	bargeInMinSpeechMS  int
	bargeInBufferWindow int

	events    *eventlog.Log
	exchanges *exchange.Writer
	rewriter  hostagent.PronunciationRewriter
	lock      *conch.Conch
	chimes    Chimes

	listenSampleRate int
	logger           vmlog.Logger
}

// Config bundles Conversation's constructor dependencies.
type Config struct {
	Synthesize *pipeline.SynthesizePipeline
	Transcribe *pipeline.TranscribePipeline
	IO         AudioCapture
	Player     *player.Player

	VADTemplate         vad.Provider // cloned per call when barge-in is armed; nil disables barge-in
	BargeInEnabled      bool
	BargeInMinSpeechMS  int
	BargeInBufferWindow int // ms of pre-roll retained before the trigger

	Events    *eventlog.Log
	Exchanges *exchange.Writer
	Rewriter  hostagent.PronunciationRewriter
	Lock      *conch.Conch
	Chimes    Chimes

	ListenSampleRate int
	Logger           vmlog.Logger
}

// New builds a Conversation. Rewriter defaults to a no-op if nil.
func New(cfg Config) *Conversation {
	rewriter := cfg.Rewriter
	if rewriter == nil {
		rewriter = hostagent.NoOpPronunciationRewriter{}
	}
	rate := cfg.ListenSampleRate
	if rate == 0 {
		rate = 16000
	}
	return &Conversation{
		synth:               cfg.Synthesize,
		transcribe:          cfg.Transcribe,
		io:                  cfg.IO,
		player:              cfg.Player,
		vadTemplate:         cfg.VADTemplate,
		bargeInEnabled:      cfg.BargeInEnabled,
		bargeInMinSpeechMS:  cfg.BargeInMinSpeechMS,
		bargeInBufferWindow: cfg.BargeInBufferWindow,
		events:              cfg.Events,
		exchanges:           cfg.Exchanges,
		rewriter:            rewriter,
		lock:                cfg.Lock,
		chimes:              cfg.Chimes,
		listenSampleRate:    rate,
		logger:              vmlog.OrDefault(cfg.Logger),
	}
}

type controlPhrase string

const (
	controlNone   controlPhrase = ""
	controlWait   controlPhrase = "wait"
	controlRepeat controlPhrase = "repeat"
)

var waitPhrases = []string{"wait", "hold on", "give me a second", "give me a minute"}
var repeatPhrases = []string{"repeat", "say that again", "what did you say", "come again"}

// Converse runs the full nine-step algorithm and returns either the
// transcribed reply, the TTS status text (when not waiting for a response),
// or a structured error string. It never panics outward: any uncaught
// failure is caught, logged to EventLog, and reported as a generic error
// string, per spec.md §7's propagation policy.
func (c *Conversation) Converse(ctx context.Context, opts Options) (result string) {
	convID := "conv_" + uuid.NewString()

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("converse: recovered from panic", "recover", r, "conversation_id", convID)
			c.emit(convID, eventlog.ToolRequestEnd, map[string]interface{}{"error": "panic"})
			result = "error: internal failure during conversation"
		}
	}()

	if c.lock != nil {
		ok, err := c.lock.TryAcquire()
		if err != nil {
			c.logger.Warn("converse: conch acquire failed, proceeding without lock", "error", err)
		} else if !ok {
			return "error: another conversation is already active"
		} else {
			defer c.lock.Release()
		}
	}

	c.emit(convID, eventlog.ToolRequestStart, map[string]interface{}{"message": opts.Message})

	if opts.ChimeEnabled {
		c.playChime(c.chimes.Start)
	}

	mode := opts.PlaybackMode
	if mode == "" {
		mode = pipeline.PlaybackBlocking
	}
	if mode == pipeline.PlaybackStreaming && c.bargeInEnabled {
		c.logger.Warn("converse: streaming TTS with barge-in enabled; interruption may lag behind chunk boundaries", "conversation_id", convID)
	}

	armBargeIn := c.bargeInEnabled && c.vadTemplate != nil && c.vadTemplate.IsAvailable() && opts.WaitForResponse
	monitor := c.armMonitor(convID, armBargeIn)

	c.emit(convID, eventlog.TTSStart, map[string]interface{}{"text": opts.Message})
	synthResult := c.synth.Synthesize(ctx, pipeline.TTSRequest{
		Text:  opts.Message,
		Voice: opts.Voice,
		Model: opts.Model,
	}, mode, c.player, monitor)
	c.recordTTSExchange(convID, opts, synthResult)

	if synthResult.Metrics != nil && synthResult.Metrics.Interrupted {
		c.emit(convID, eventlog.BargeInDetected, map[string]interface{}{})
	}

	if synthResult.ErrorType != "" {
		c.emit(convID, eventlog.ToolRequestEnd, map[string]interface{}{"error": synthResult.ErrorType})
		return "error: TTS failed on all configured endpoints (" + synthResult.ErrorType + ")"
	}

	if !opts.WaitForResponse {
		c.emit(convID, eventlog.ToolRequestEnd, map[string]interface{}{})
		return "spoken"
	}

	firstRoundMetrics := synthResult.Metrics
	for round := 0; round <= maxControlRounds; round++ {
		recording, fellThrough := c.obtainRecording(ctx, convID, opts, firstRoundMetrics)
		firstRoundMetrics = nil // interrupt-captured audio is only reusable immediately after TTS

		if !fellThrough && opts.ChimeEnabled {
			// captured-audio path: no listening chime per step 6.
		} else if opts.ChimeEnabled {
			c.playChime(c.chimes.Listening)
		}

		if recording == nil || recording.Samples() < 100 {
			c.emit(convID, eventlog.ToolRequestEnd, map[string]interface{}{"error": "no_speech"})
			return "error: no speech detected"
		}

		c.emit(convID, eventlog.STTStart, map[string]interface{}{})
		transcribeResult := c.transcribe.Transcribe(ctx, recording.Bytes(), c.listenSampleRate, pipeline.TranscribeOptions{
			Compress:  opts.STTCompress,
			SaveAudio: opts.SaveAudio,
			AudioDir:  opts.AudioDir,
			ConvID:    convID,
			Language:  opts.Language,
			Model:     opts.Model,
		})
		c.recordSTTExchange(convID, transcribeResult)

		if transcribeResult.ErrorType == "no_speech" {
			c.emit(convID, eventlog.ToolRequestEnd, map[string]interface{}{"error": "no_speech"})
			return "error: no speech detected"
		}
		if transcribeResult.ErrorType != "" {
			c.emit(convID, eventlog.ToolRequestEnd, map[string]interface{}{"error": transcribeResult.ErrorType})
			return describeSTTFailure(transcribeResult)
		}
		c.emit(convID, eventlog.STTComplete, map[string]interface{}{"text": transcribeResult.Text})

		text := c.rewriter.RewriteForSTT(transcribeResult.Text)

		if round < maxControlRounds {
			switch classifyControlPhrase(text) {
			case controlWait:
				c.logger.Debug("converse: wait phrase detected, reopening listening window", "conversation_id", convID)
				c.playChime(c.chimes.Reassurance)
				continue
			case controlRepeat:
				c.logger.Debug("converse: repeat phrase detected, replaying message", "conversation_id", convID)
				c.synth.Synthesize(ctx, pipeline.TTSRequest{Text: opts.Message, Voice: opts.Voice, Model: opts.Model}, pipeline.PlaybackBlocking, c.player, nil)
				continue
			}
		}

		if opts.ChimeEnabled {
			c.playChime(c.chimes.Finished)
		}
		c.emit(convID, eventlog.ToolRequestEnd, map[string]interface{}{})
		return text
	}

	c.emit(convID, eventlog.ToolRequestEnd, map[string]interface{}{"error": "control_phrase_limit"})
	return "error: conversation exceeded the control-phrase retry limit"
}

// armMonitor builds and wires a fresh BargeInMonitor for this call when
// barge-in is available and requested, per spec.md §4.7 step 3. Each
// Converse call gets its own monitor cloned from the shared VAD template so
// state from a previous call never leaks in.
func (c *Conversation) armMonitor(convID string, arm bool) *bargein.Monitor {
	if !arm {
		return nil
	}
	monitor := bargein.New(c.vadTemplate.Clone(), c.bargeInMinSpeechMS, c.bargeInBufferWindow, c.logger)
	if c.io != nil {
		monitor.SetCaptureSource(c.io.Capture())
	}
	c.emit(convID, eventlog.BargeInStart, map[string]interface{}{})
	return monitor
}

// obtainRecording implements step 6: reuse barge-in-captured audio when
// usable, else record fresh audio with silence detection. firstRoundMetrics
// is nil for every round after the first, since interrupt-captured audio is
// only available immediately following the initial TTS playback. The second
// return value reports whether a fresh recording was made, which the caller
// uses to decide whether the listening chime should play.
func (c *Conversation) obtainRecording(ctx context.Context, convID string, opts Options, firstRoundMetrics *player.StreamMetrics) (*audio.PCMBuffer, bool) {
	if firstRoundMetrics != nil && firstRoundMetrics.Interrupted {
		if buf := firstRoundMetrics.CapturedAudio; buf != nil && buf.Samples() >= 100 {
			return buf, false
		}
		c.emit(convID, eventlog.BargeInFalsePositive, map[string]interface{}{})
	}

	c.emit(convID, eventlog.RecordingStart, map[string]interface{}{})
	buf := c.recordWithSilenceDetection(ctx, opts)
	c.emit(convID, eventlog.RecordingEnd, map[string]interface{}{"samples": sampleCount(buf)})
	return buf, true
}

func sampleCount(buf *audio.PCMBuffer) int {
	if buf == nil {
		return 0
	}
	return buf.Samples()
}

// recordWithSilenceDetection reads from the audio device until the VAD
// reports sustained silence, bounded by [min_listen_duration,
// max_listen_duration]. When DisableSilenceDetection is set, it always
// records the full max_listen_duration.
func (c *Conversation) recordWithSilenceDetection(ctx context.Context, opts Options) *audio.PCMBuffer {
	if c.io == nil {
		return nil
	}

	maxDur := opts.MaxListenDuration
	if maxDur <= 0 {
		maxDur = 30 * time.Second
	}

	detector := c.newListenVAD()
	buf := audio.NewPCMBuffer(c.listenSampleRate, 1)

	deadline := time.Now().Add(maxDur)
	start := time.Now()

	for {
		select {
		case <-ctx.Done():
			return buf
		case frame, ok := <-c.io.Capture():
			if !ok {
				return buf
			}
			buf.Append(frame)

			if time.Now().After(deadline) {
				return buf
			}
			if opts.DisableSilenceDetection || detector == nil {
				continue
			}
			if time.Since(start) < opts.MinListenDuration {
				continue
			}
			event, err := detector.Process(frame.Data)
			if err != nil || event == nil {
				continue
			}
			if event.Type == vad.SpeechEnd {
				return buf
			}
		}
	}
}

func (c *Conversation) newListenVAD() vad.Provider {
	if c.vadTemplate == nil {
		return nil
	}
	v := c.vadTemplate.Clone()
	if !v.IsAvailable() {
		return nil
	}
	return v
}

func classifyControlPhrase(text string) controlPhrase {
	trimmed := strings.TrimRight(strings.TrimSpace(text), ".!?")
	lower := strings.ToLower(trimmed)
	if endsWithAny(lower, waitPhrases) {
		return controlWait
	}
	if endsWithAny(lower, repeatPhrases) {
		return controlRepeat
	}
	return controlNone
}

func endsWithAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if text == p || strings.HasSuffix(text, " "+p) {
			return true
		}
	}
	return false
}

func describeSTTFailure(r pipeline.TranscribeResult) string {
	if len(r.AttemptedEndpoints) == 0 {
		return "error: speech recognition failed on all configured endpoints"
	}
	var b strings.Builder
	b.WriteString("error: speech recognition failed; attempted endpoints: ")
	for i, a := range r.AttemptedEndpoints {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(a.EndpointID)
		b.WriteString(" (")
		b.WriteString(string(a.ErrorKind))
		b.WriteString(")")
	}
	return b.String()
}

func (c *Conversation) playChime(chime *audio.PCMBuffer) {
	if chime == nil || c.player == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("converse: chime playback panicked, swallowing", "recover", r)
		}
	}()
	c.player.Play(chime, true, nil)
}

func (c *Conversation) emit(convID string, eventType eventlog.EventType, data map[string]interface{}) {
	if c.events == nil {
		return
	}
	c.events.Emit(eventType, convID, data)
}

func (c *Conversation) recordTTSExchange(convID string, opts Options, r pipeline.SynthesizeResult) {
	if c.exchanges == nil {
		return
	}
	rec := exchange.Record{
		ConversationID: convID,
		Kind:           exchange.KindTTS,
		Text:           opts.Message,
		Provider:       r.Endpoint,
		VoiceOrModel:   string(opts.Voice),
	}
	if r.Metrics != nil {
		rec.TTFA = r.Metrics.TTFA
	}
	if err := c.exchanges.Append(rec); err != nil {
		c.logger.Warn("converse: failed to append TTS exchange record", "error", err)
	}
}

func (c *Conversation) recordSTTExchange(convID string, r pipeline.TranscribeResult) {
	if c.exchanges == nil {
		return
	}
	rec := exchange.Record{
		ConversationID: convID,
		Kind:           exchange.KindSTT,
		Text:           r.Text,
		Provider:       r.Endpoint,
	}
	if err := c.exchanges.Append(rec); err != nil {
		c.logger.Warn("converse: failed to append STT exchange record", "error", err)
	}
}
